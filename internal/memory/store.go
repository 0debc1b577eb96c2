package memory

import (
	"sync"

	log "github.com/sirupsen/logrus"
)

// Store keeps one Slot per session. Slots live until the session is
// discarded, which the lobby does on disconnect.
type Store struct {
	mu    sync.Mutex
	slots map[string]*Slot
}

func NewStore() *Store {
	return &Store{slots: make(map[string]*Slot)}
}

// Slot returns the session's slot, creating it on first use.
func (s *Store) Slot(sessionID string) *Slot {
	s.mu.Lock()
	defer s.mu.Unlock()

	slot, ok := s.slots[sessionID]
	if !ok {
		slot = &Slot{}
		s.slots[sessionID] = slot
	}
	return slot
}

// Discard drops the session's memory.
func (s *Store) Discard(sessionID string) {
	s.mu.Lock()
	_, existed := s.slots[sessionID]
	delete(s.slots, sessionID)
	s.mu.Unlock()

	if existed {
		log.WithField("session", sessionID).Debug("[Memory] slot discarded")
	}
}

// Len returns the number of sessions holding a slot.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.slots)
}

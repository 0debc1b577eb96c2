package memory

import (
	"fmt"
	"strconv"
	"sync"
)

// Record is the key-value shape a memory slot takes once fields are set.
type Record map[string]any

// Key normalizes a string or number key to its record form.
func Key(key any) (string, error) {
	switch k := key.(type) {
	case string:
		return k, nil
	case int:
		return strconv.Itoa(k), nil
	case int64:
		return strconv.FormatInt(k, 10), nil
	case uint64:
		return strconv.FormatUint(k, 10), nil
	case float64:
		return strconv.FormatFloat(k, 'f', -1, 64), nil
	}
	return "", fmt.Errorf("memory key must be a string or number, got %T", key)
}

// Slot is the single memory location of one session. It holds any value;
// field writes turn it into a Record.
type Slot struct {
	mu    sync.Mutex
	value any
}

// Get returns the whole value, nil if nothing was memorized.
func (s *Slot) Get() any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.value
}

// SetWhole replaces the value, dropping any fields held before.
func (s *Slot) SetWhole(value any) {
	s.mu.Lock()
	s.value = value
	s.mu.Unlock()
}

// SetField sets key inside the slot's record. A slot holding anything
// other than a Record starts over with an empty one.
func (s *Slot) SetField(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := asRecord(s.value)
	if !ok {
		record = Record{}
		s.value = record
	}
	record[key] = value
}

// GetField reads key from the slot's record.
func (s *Slot) GetField(key string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := asRecord(s.value)
	if !ok {
		return nil, false
	}
	value, ok := record[key]
	return value, ok
}

// Clear forgets the value.
func (s *Slot) Clear() {
	s.SetWhole(nil)
}

func asRecord(value any) (Record, bool) {
	switch v := value.(type) {
	case Record:
		return v, v != nil
	case map[string]any:
		return Record(v), v != nil
	}
	return nil, false
}

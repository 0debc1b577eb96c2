package memory

import (
	"sort"
	"sync"

	log "github.com/sirupsen/logrus"
)

// Namespace is a named, shared, mutable object. Every caller asking the
// same Registry for the same name gets this very value.
//
// Top-level reads and writes are serialized. Records stored inside a
// namespace are handed out as-is, so concurrent writers to a nested
// record still race the way the scripting API always has.
type Namespace struct {
	name   string
	mu     sync.RWMutex
	fields Record
}

func (n *Namespace) Name() string {
	return n.name
}

func (n *Namespace) Get(key string) (any, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	value, ok := n.fields[key]
	return value, ok
}

func (n *Namespace) Set(key string, value any) {
	n.mu.Lock()
	n.fields[key] = value
	n.mu.Unlock()
}

func (n *Namespace) Delete(key string) {
	n.mu.Lock()
	delete(n.fields, key)
	n.mu.Unlock()
}

func (n *Namespace) Len() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.fields)
}

// Keys returns the top-level keys in sorted order.
func (n *Namespace) Keys() []string {
	n.mu.RLock()
	keys := make([]string, 0, len(n.fields))
	for key := range n.fields {
		keys = append(keys, key)
	}
	n.mu.RUnlock()

	sort.Strings(keys)
	return keys
}

// Snapshot copies the top level. Nested values are shared.
func (n *Namespace) Snapshot() Record {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make(Record, len(n.fields))
	for key, value := range n.fields {
		out[key] = value
	}
	return out
}

// Registry owns the namespaces of one process. Namespaces are created on
// first use and never replaced.
type Registry struct {
	mu         sync.Mutex
	namespaces map[string]*Namespace
}

func NewRegistry() *Registry {
	return &Registry{namespaces: make(map[string]*Namespace)}
}

// Global returns the namespace called name, creating an empty one first
// if needed.
func (r *Registry) Global(name string) *Namespace {
	r.mu.Lock()
	defer r.mu.Unlock()

	ns, ok := r.namespaces[name]
	if !ok {
		ns = &Namespace{name: name, fields: Record{}}
		r.namespaces[name] = ns
		log.WithField("namespace", name).Info("[Memory] namespace created")
	}
	return ns
}

// Names lists existing namespaces in sorted order.
func (r *Registry) Names() []string {
	r.mu.Lock()
	names := make([]string, 0, len(r.namespaces))
	for name := range r.namespaces {
		names = append(names, name)
	}
	r.mu.Unlock()

	sort.Strings(names)
	return names
}

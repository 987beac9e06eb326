package source

import "sync"

// Registry holds the registered source adapters keyed by type.
type Registry struct {
	mu       sync.RWMutex
	adapters map[Type]Adapter
}

// NewRegistry creates an empty adapter registry.
func NewRegistry() *Registry {
	return &Registry{
		adapters: make(map[Type]Adapter),
	}
}

// Register adds an adapter, replacing any previous adapter of the same type.
func (r *Registry) Register(a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[a.Type()] = a
}

// Get returns the adapter for t, or nil if none is registered.
func (r *Registry) Get(t Type) Adapter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.adapters[t]
}

// All returns the registered adapters in the stable order
// web search, messaging, torrent.
func (r *Registry) All() []Adapter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var result []Adapter
	for _, t := range AllTypes() {
		if a, ok := r.adapters[t]; ok {
			result = append(result, a)
		}
	}
	return result
}

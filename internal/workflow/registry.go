package workflow

import (
	"sync"
)

// Registry is an in-memory index of workflow definitions, kept current
// by the Watcher. Reads are lock-free copies.
type Registry struct {
	mu          sync.RWMutex
	definitions map[string]*Definition
}

func NewRegistry() *Registry {
	return &Registry{
		definitions: make(map[string]*Definition),
	}
}

func (r *Registry) Put(d *Definition) {
	r.mu.Lock()
	r.definitions[d.ID] = d
	r.mu.Unlock()
}

func (r *Registry) Remove(id string) {
	r.mu.Lock()
	delete(r.definitions, id)
	r.mu.Unlock()
}

func (r *Registry) Get(id string) (*Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.definitions[id]
	return d, ok
}

func (r *Registry) All() []*Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Definition, 0, len(r.definitions))
	for _, d := range r.definitions {
		out = append(out, d)
	}
	return out
}

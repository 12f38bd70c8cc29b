package providers

import (
	"fmt"
	"sync"
)

// Registry holds the set of constructed providers keyed by name, following
// the teacher's pkg/llms/registry.go Client (register-by-name, pick a
// default) generalized from "LLM client" to "any translation provider".
type Registry struct {
	mu       sync.RWMutex
	byName   map[string]Provider
	def      string
}

func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]Provider)}
}

func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byName[p.Name()] = p
	if r.def == "" {
		r.def = p.Name()
	}
}

func (r *Registry) SetDefault(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byName[name]; !ok {
		return fmt.Errorf("provider %q is not registered", name)
	}
	r.def = name
	return nil
}

func (r *Registry) Get(name string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if name == "" {
		name = r.def
	}
	p, ok := r.byName[name]
	return p, ok
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.byName))
	for n := range r.byName {
		names = append(names, n)
	}
	return names
}

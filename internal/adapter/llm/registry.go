package llm

import (
	"fmt"
	"sort"
	"sync"

	"pokedex-ai/internal/domain"
)

// Registry holds named model event sources.
type Registry struct {
	mu      sync.RWMutex
	sources map[string]domain.ModelEventSource
}

// NewRegistry creates an empty source registry.
func NewRegistry() *Registry {
	return &Registry{
		sources: make(map[string]domain.ModelEventSource),
	}
}

// Register adds a source. Returns error if name already registered.
func (r *Registry) Register(source domain.ModelEventSource) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := source.Name()
	if _, exists := r.sources[name]; exists {
		return fmt.Errorf("model source %q already registered", name)
	}
	r.sources[name] = source
	return nil
}

// Get retrieves a source by name.
func (r *Registry) Get(name string) (domain.ModelEventSource, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sources[name]
	if !ok {
		return nil, domain.NewDomainError("Registry.Get", domain.ErrProviderNotFound, name)
	}
	return s, nil
}

// List returns all registered source names, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.sources))
	for name := range r.sources {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

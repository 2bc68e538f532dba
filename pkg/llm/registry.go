package llm

import (
	"fmt"
	"sort"
	"sync"

	"github.com/killallgit/stak/pkg/config"
)

// Factory builds a Model from configuration
type Factory func(cfg *config.Config) (Model, error)

// Registry maps provider names to model factories
type Registry struct {
	factories       map[string]Factory
	defaultProvider string
	mu              sync.RWMutex
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
	}
}

// DefaultRegistry knows the built-in providers
func DefaultRegistry() *Registry {
	r := NewRegistry()
	_ = r.Register("ollama", func(cfg *config.Config) (Model, error) {
		return NewOllamaModel(cfg.Ollama)
	})
	return r
}

// Register adds a provider. The first one registered becomes the default.
func (r *Registry) Register(name string, factory Factory) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[name]; exists {
		return fmt.Errorf("provider %s already registered", name)
	}
	r.factories[name] = factory

	if len(r.factories) == 1 {
		r.defaultProvider = name
	}
	return nil
}

// List returns the registered provider names, sorted
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SetDefault selects the provider used when configuration names none
func (r *Registry) SetDefault(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[name]; !exists {
		return fmt.Errorf("provider %s not found", name)
	}
	r.defaultProvider = name
	return nil
}

// New builds the model for cfg.Provider, falling back to the default provider
func (r *Registry) New(cfg *config.Config) (Model, error) {
	r.mu.RLock()
	name := cfg.Provider
	if name == "" {
		name = r.defaultProvider
	}
	factory, exists := r.factories[name]
	r.mu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("provider %s not found", name)
	}
	return factory(cfg)
}

package venue

import (
	"fmt"

	"github.com/arbiterlabs/flasharb/internal/domain"
)

// Registry holds the configured exchange adapters, keyed by venue name.
// Iteration order is the configuration order, kept stable so poll cycles and
// detector output are deterministic.
type Registry struct {
	adapters map[string]domain.ExchangeAdapter
	order    []string
}

// NewRegistry creates a registry from the given adapters. Duplicate names
// are rejected.
func NewRegistry(adapters ...domain.ExchangeAdapter) (*Registry, error) {
	r := &Registry{adapters: make(map[string]domain.ExchangeAdapter, len(adapters))}
	for _, a := range adapters {
		name := a.Name()
		if _, exists := r.adapters[name]; exists {
			return nil, fmt.Errorf("venue: duplicate adapter %q", name)
		}
		r.adapters[name] = a
		r.order = append(r.order, name)
	}
	return r, nil
}

// Get returns the adapter for the named venue.
func (r *Registry) Get(name string) (domain.ExchangeAdapter, error) {
	a, ok := r.adapters[name]
	if !ok {
		return nil, fmt.Errorf("venue: unknown venue %q: %w", name, domain.ErrNotFound)
	}
	return a, nil
}

// All returns the adapters in configuration order.
func (r *Registry) All() []domain.ExchangeAdapter {
	out := make([]domain.ExchangeAdapter, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.adapters[name])
	}
	return out
}

// Names returns the venue names in configuration order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Len returns the number of registered venues.
func (r *Registry) Len() int { return len(r.order) }

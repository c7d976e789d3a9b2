package provider

import (
	"context"
	"fmt"

	"github.com/bankline-io/bankline-worker/internal/models"
)

// Registry is the static provider kind → adapter table. It is built once at
// startup and read-only afterwards.
type Registry struct {
	adapters map[models.ProviderKind]Adapter
}

func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[models.ProviderKind]Adapter, len(adapters))}
	for _, a := range adapters {
		r.adapters[a.Kind()] = a
	}
	return r
}

// Get returns the adapter for the given provider kind
func (r *Registry) Get(kind models.ProviderKind) (Adapter, error) {
	a, ok := r.adapters[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedProvider, kind)
	}
	return a, nil
}

// Kinds returns all registered provider kinds
func (r *Registry) Kinds() []models.ProviderKind {
	kinds := make([]models.ProviderKind, 0, len(r.adapters))
	for k := range r.adapters {
		kinds = append(kinds, k)
	}
	return kinds
}

// Healthchecks probes every registered adapter and reports the result per
// provider kind. A nil entry means the provider is reachable.
func (r *Registry) Healthchecks(ctx context.Context) map[models.ProviderKind]error {
	results := make(map[models.ProviderKind]error, len(r.adapters))
	for kind, a := range r.adapters {
		results[kind] = a.Healthcheck(ctx)
	}
	return results
}

// Validate checks that every given provider kind has a registered adapter.
// Run at startup against the kinds of all persisted connections; a miss is a
// configuration error and fatal.
func (r *Registry) Validate(kinds []models.ProviderKind) error {
	for _, k := range kinds {
		if _, ok := r.adapters[k]; !ok {
			return fmt.Errorf("%w: persisted connection references %s", ErrUnsupportedProvider, k)
		}
	}
	return nil
}

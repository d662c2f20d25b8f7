package strategy

import "fmt"

// Registry holds the strategies configured for one bucket, keyed by id.
// It is populated once at startup; lookups after that are read-only.
type Registry struct {
	strategies map[string]Strategy
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		strategies: make(map[string]Strategy),
	}
}

// Register adds a strategy. Duplicate ids are a wiring bug and fail.
func (r *Registry) Register(s Strategy) error {
	if _, exists := r.strategies[s.ID()]; exists {
		return fmt.Errorf("strategy %q already registered", s.ID())
	}
	r.strategies[s.ID()] = s
	return nil
}

// Get returns the strategy with the given id
func (r *Registry) Get(id string) (Strategy, error) {
	s, ok := r.strategies[id]
	if !ok {
		return nil, fmt.Errorf("strategy %q not registered", id)
	}
	return s, nil
}

// Len returns the number of registered strategies
func (r *Registry) Len() int {
	return len(r.strategies)
}

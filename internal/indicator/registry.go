package indicator

import (
	"sync"

	"github.com/Schwaller/tradery/internal/types"
	"github.com/Schwaller/tradery/pkg/errors"
)

// Registry manages all available series indicators.
type Registry struct {
	mu         sync.RWMutex
	indicators map[types.IndicatorType]Series
}

// NewRegistry creates a registry pre-populated with the built-in indicators.
func NewRegistry() *Registry {
	r := &Registry{indicators: make(map[types.IndicatorType]Series)}

	for _, s := range []Series{NewMA(), NewEMA(), NewRSI(), NewVolumeDelta()} {
		// Built-ins have unique names; Register cannot fail here.
		_ = r.Register(s)
	}

	return r
}

// Register adds an indicator to the registry.
func (r *Registry) Register(s Series) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := s.Name()
	if _, exists := r.indicators[name]; exists {
		return errors.Newf(errors.ErrCodeIndicatorAlreadyExists, "indicator %s already registered", name)
	}

	r.indicators[name] = s

	return nil
}

// Get retrieves an indicator by name.
func (r *Registry) Get(name types.IndicatorType) (Series, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, exists := r.indicators[name]
	if !exists {
		return nil, errors.Newf(errors.ErrCodeIndicatorNotFound, "indicator %s not found", name)
	}

	return s, nil
}

// List returns the names of all registered indicators.
func (r *Registry) List() []types.IndicatorType {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]types.IndicatorType, 0, len(r.indicators))
	for name := range r.indicators {
		names = append(names, name)
	}

	return names
}

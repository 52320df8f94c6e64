// Package capability defines the consumed interface to external credential
// validator modules, plus the registry and transport clients used to reach
// them. The recovery core only ever invokes two capabilities: uninstall the
// current credential state and install new credential data. Either may fail,
// and a failure aborts the whole completing operation.
package capability

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrUnknownValidator is returned when no capability is registered for the
// requested validator identifier.
var ErrUnknownValidator = errors.New("unknown validator")

// Validator is the external credential module being recovered.
type Validator interface {
	// Uninstall removes the validator's current credential state. The
	// recovery core always passes empty data.
	Uninstall(ctx context.Context, data []byte) error
	// Install installs new credential data, the recovery payload captured
	// at trigger time.
	Install(ctx context.Context, data []byte) error
}

// Registry maps validator identifiers to their capability endpoints.
type Registry struct {
	mu         sync.RWMutex
	validators map[string]Validator
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{validators: make(map[string]Validator)}
}

// Register binds a validator identifier to a capability implementation,
// replacing any previous binding.
func (r *Registry) Register(id string, v Validator) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.validators[id] = v
}

// Lookup resolves the capability for a validator identifier.
func (r *Registry) Lookup(id string) (Validator, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.validators[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownValidator, id)
	}
	return v, nil
}

// IDs returns the registered validator identifiers.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.validators))
	for id := range r.validators {
		ids = append(ids, id)
	}
	return ids
}

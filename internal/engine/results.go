package engine

import (
	"maps"
	"sync"

	"github.com/rendis/stepwise/pkg/schema"
)

// Results is the shared, write-once map from step name to the value its body
// returned. A key appears only after the step that owns it has completed.
type Results struct {
	mu     sync.RWMutex
	values map[string]any
}

// NewResults returns an empty Results.
func NewResults() *Results {
	return &Results{values: make(map[string]any)}
}

// Get returns the result of a completed step.
func (r *Results) Get(name string) (any, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.values[name]
	return v, ok
}

// Has reports whether name has a stored result.
func (r *Results) Has(name string) bool {
	_, ok := r.Get(name)
	return ok
}

// Len returns the number of stored results.
func (r *Results) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.values)
}

// Snapshot returns a shallow copy of all stored results.
func (r *Results) Snapshot() map[string]any {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return maps.Clone(r.values)
}

func (r *Results) set(name string, v any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.values[name]; exists {
		return schema.NewErrorf(schema.ErrCodeConflict, "result for %q already written", name).WithStep(name)
	}
	r.values[name] = v
	return nil
}

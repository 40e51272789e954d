package wardmatch

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
)

var ErrStateNotFound = errors.New("no canonical wards for state")

// Registry provides canonical ward candidates per state.
type Registry interface {
	// WardsForState returns the canonical wards of one state. The slice is
	// owned by the caller.
	WardsForState(ctx context.Context, state string) ([]CanonicalWard, error)
	// States lists the states the registry covers, sorted.
	States(ctx context.Context) ([]string, error)
	// Load replaces the registry contents for the wards' states.
	Load(ctx context.Context, wards []CanonicalWard) error
}

// MemoryRegistry is an in-memory Registry keyed by state.
type MemoryRegistry struct {
	mu      sync.RWMutex
	byState map[string][]CanonicalWard
}

var _ Registry = (*MemoryRegistry)(nil)

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{byState: make(map[string][]CanonicalWard)}
}

func (r *MemoryRegistry) WardsForState(ctx context.Context, state string) ([]CanonicalWard, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	wards, ok := r.byState[stateKey(state)]
	if !ok || len(wards) == 0 {
		return nil, ErrStateNotFound
	}
	out := make([]CanonicalWard, len(wards))
	copy(out, wards)
	return out, nil
}

func (r *MemoryRegistry) States(ctx context.Context) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	states := make([]string, 0, len(r.byState))
	for s := range r.byState {
		states = append(states, s)
	}
	sort.Strings(states)
	return states, nil
}

func (r *MemoryRegistry) Load(ctx context.Context, wards []CanonicalWard) error {
	grouped := make(map[string][]CanonicalWard)
	for _, w := range wards {
		key := stateKey(w.State)
		grouped[key] = append(grouped[key], w)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for state, ws := range grouped {
		r.byState[state] = ws
	}
	return nil
}

func stateKey(state string) string {
	return strings.ToUpper(strings.TrimSpace(state))
}

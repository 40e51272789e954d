package dataset

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is an in-memory dataset store for demo/development mode.
type MemoryStore struct {
	datasets map[string]*Dataset
	mu       sync.RWMutex
}

// NewMemoryStore creates a new in-memory dataset store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{datasets: make(map[string]*Dataset)}
}

func (m *MemoryStore) Create(_ context.Context, d *Dataset) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.datasets[d.Handle] = d
	return nil
}

func (m *MemoryStore) Get(_ context.Context, handle string) (*Dataset, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.datasets[handle]
	if !ok {
		return nil, ErrNotFound
	}
	// Datasets are immutable after ingest, so sharing the pointer is safe;
	// Records() already copies on read.
	return d, nil
}

func (m *MemoryStore) List(_ context.Context, limit int) ([]*Dataset, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*Dataset, 0, len(m.datasets))
	for _, d := range m.datasets {
		result = append(result, d)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (m *MemoryStore) Delete(_ context.Context, handle string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.datasets[handle]; !ok {
		return ErrNotFound
	}
	delete(m.datasets, handle)
	return nil
}

// Compile-time assertion that MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)

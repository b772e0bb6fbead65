package reputation

import (
	"context"
	"sync"
)

// LatestStore keeps the most recent report. History is not retained.
type LatestStore interface {
	Save(ctx context.Context, r *Report) error
	Latest(ctx context.Context) (*Report, bool)
}

// MemoryStore is an in-memory LatestStore.
type MemoryStore struct {
	mu     sync.RWMutex
	report *Report
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Save replaces the stored report.
func (m *MemoryStore) Save(_ context.Context, r *Report) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.report = r
	return nil
}

// Latest returns the stored report, if any run has completed.
func (m *MemoryStore) Latest(_ context.Context) (*Report, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.report, m.report != nil
}

// ABOUTME: In-memory queue store for tests and ephemeral sessions
// ABOUTME: Copies state on every read and write so callers never share slices
package queue

import (
	"context"
	"sync"

	"github.com/harperreed/fieldsync/models"
)

// MemoryStore keeps the queue in process memory.
type MemoryStore struct {
	mu      sync.Mutex
	actions []models.Action
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Load(_ context.Context) ([]models.Action, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return clone(m.actions), nil
}

func (m *MemoryStore) Update(_ context.Context, fn func([]models.Action) ([]models.Action, error)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	next, err := fn(clone(m.actions))
	if err != nil {
		return err
	}
	m.actions = clone(next)
	return nil
}

func clone(in []models.Action) []models.Action {
	if in == nil {
		return nil
	}
	out := make([]models.Action, len(in))
	copy(out, in)
	return out
}

package scheduler

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory execution store for demo/development mode.
type MemoryStore struct {
	executions map[string]*Execution
	mu         sync.RWMutex
}

// NewMemoryStore creates a new in-memory execution store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{executions: make(map[string]*Execution)}
}

func (m *MemoryStore) Create(ctx context.Context, e *Execution) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := copyExecution(e)
	m.executions[e.ID] = cp
	return nil
}

func (m *MemoryStore) Update(ctx context.Context, e *Execution) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.executions[e.ID]; !ok {
		return ErrExecutionNotFound
	}
	m.executions[e.ID] = copyExecution(e)
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*Execution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.executions[id]
	if !ok {
		return nil, ErrExecutionNotFound
	}
	return copyExecution(e), nil
}

func (m *MemoryStore) Recent(ctx context.Context, days int) ([]*Execution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if days <= 0 || days > retentionDays {
		days = retentionDays
	}
	cutoff := time.Now().AddDate(0, 0, -days)

	var result []*Execution
	for _, e := range m.executions {
		if e.CreatedAt.After(cutoff) {
			result = append(result, copyExecution(e))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}

func (m *MemoryStore) Running(ctx context.Context) ([]*Execution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Execution
	for _, e := range m.executions {
		if e.Active() {
			result = append(result, copyExecution(e))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}

func (m *MemoryStore) Prune(ctx context.Context, cutoff time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, e := range m.executions {
		if e.CreatedAt.Before(cutoff) && e.Terminal() {
			delete(m.executions, id)
		}
	}
	return nil
}

func copyExecution(e *Execution) *Execution {
	cp := *e
	cp.Steps = append([]Step(nil), e.Steps...)
	return &cp
}

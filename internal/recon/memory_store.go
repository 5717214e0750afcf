package recon

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is an in-memory outcome store for demo/development mode.
// Each platform keeps a bounded rolling history; the oldest date is
// evicted once the bound is exceeded.
type MemoryStore struct {
	byPlatform map[string][]*Outcome // sorted by date ascending
	mu         sync.RWMutex
}

// NewMemoryStore creates a new in-memory outcome store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byPlatform: make(map[string][]*Outcome)}
}

func (m *MemoryStore) Save(ctx context.Context, o *Outcome) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *o
	list := m.byPlatform[o.Platform]

	idx := sort.Search(len(list), func(i int) bool { return list[i].Date >= o.Date })
	if idx < len(list) && list[idx].Date == o.Date {
		list[idx] = &cp
	} else {
		list = append(list, nil)
		copy(list[idx+1:], list[idx:])
		list[idx] = &cp
	}

	if len(list) > historyLimit {
		list = list[len(list)-historyLimit:]
	}
	m.byPlatform[o.Platform] = list
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, platform, date string) (*Outcome, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, o := range m.byPlatform[platform] {
		if o.Date == date {
			cp := *o
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) History(ctx context.Context, platform string, limit int) ([]*Outcome, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	list := m.byPlatform[platform]
	var result []*Outcome
	for i := len(list) - 1; i >= 0 && len(result) < limit; i-- {
		cp := *list[i]
		result = append(result, &cp)
	}
	return result, nil
}

func (m *MemoryStore) ByDate(ctx context.Context, date string) ([]*Outcome, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Outcome
	for _, list := range m.byPlatform {
		for _, o := range list {
			if o.Date == date {
				cp := *o
				result = append(result, &cp)
			}
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Platform < result[j].Platform })
	return result, nil
}

package cache

import (
	"context"
	"sync"
	"time"
)

// MemoryDeduper is an in-process Deduper for tests and single-node runs without Redis.
type MemoryDeduper struct {
	mu   sync.Mutex
	data map[string]time.Time
	ttl  time.Duration
	now  func() time.Time
}

var _ Deduper = (*MemoryDeduper)(nil)

func NewMemoryDeduper(ttl time.Duration) *MemoryDeduper {
	return &MemoryDeduper{
		data: make(map[string]time.Time),
		ttl:  ttl,
		now:  time.Now,
	}
}

func (m *MemoryDeduper) IsProcessed(ctx context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	expires, ok := m.data[key]
	if !ok {
		return false, nil
	}
	if m.ttl > 0 && !m.now().Before(expires) {
		delete(m.data, key)
		return false, nil
	}
	return true, nil
}

func (m *MemoryDeduper) MarkProcessed(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = m.now().Add(m.ttl)
	return nil
}

func (m *MemoryDeduper) Clear(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.data)
	m.data = make(map[string]time.Time)
	return n, nil
}

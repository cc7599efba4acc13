// internal/common/storage/memory.go
package storage

import (
	"context"
	"strings"
	"sync"
	"time"

	"reminder-orchestrator/internal/common/clock"
)

// MemoryRepository is an in-process Repository used in tests and as the
// fallback when no Redis is configured.
type MemoryRepository struct {
	mu    sync.RWMutex
	items map[string]memoryItem
	clk   clock.Clock
}

type memoryItem struct {
	value     []byte
	expiresAt time.Time // zero means no expiry
}

// NewMemory creates an empty in-memory repository.
func NewMemory(clk clock.Clock) *MemoryRepository {
	if clk == nil {
		clk = clock.New()
	}
	return &MemoryRepository{
		items: make(map[string]memoryItem),
		clk:   clk,
	}
}

func (m *MemoryRepository) expired(item memoryItem) bool {
	return !item.expiresAt.IsZero() && !item.expiresAt.After(m.clk.Now())
}

func (m *MemoryRepository) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	item, ok := m.items[key]
	if !ok || m.expired(item) {
		return nil, ErrNotFound
	}
	out := make([]byte, len(item.value))
	copy(out, item.value)
	return out, nil
}

func (m *MemoryRepository) Put(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.items[key] = m.newItem(value, ttl)
	return nil
}

func (m *MemoryRepository) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.items, key)
	return nil
}

func (m *MemoryRepository) PutIfAbsent(_ context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if item, ok := m.items[key]; ok && !m.expired(item) {
		return false, nil
	}
	m.items[key] = m.newItem(value, ttl)
	return true, nil
}

func (m *MemoryRepository) List(_ context.Context, prefix string) (map[string][]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string][]byte)
	for k, item := range m.items {
		if strings.HasPrefix(k, prefix) && !m.expired(item) {
			v := make([]byte, len(item.value))
			copy(v, item.value)
			out[k] = v
		}
	}
	return out, nil
}

func (m *MemoryRepository) newItem(value []byte, ttl time.Duration) memoryItem {
	v := make([]byte, len(value))
	copy(v, value)

	item := memoryItem{value: v}
	if ttl > 0 {
		item.expiresAt = m.clk.Now().Add(ttl)
	}
	return item
}

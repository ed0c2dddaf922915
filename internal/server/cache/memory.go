package cache

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"
)

type memoryItem struct {
	value    string
	deadline time.Time
}

// MemoryStore keeps entries in a process-local map. Expired entries are
// dropped lazily on access and by Sweep. Safe for concurrent use.
//
// State is not shared between replicas, so revocations and rate counters are
// only correct for a single process.
type MemoryStore struct {
	mu    sync.Mutex
	items map[string]memoryItem
	now   func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return NewMemoryStoreWithClock(time.Now)
}

func NewMemoryStoreWithClock(now func() time.Time) *MemoryStore {
	return &MemoryStore{items: make(map[string]memoryItem), now: now}
}

// live returns the item under key if it has not expired. Callers hold mu.
func (m *MemoryStore) live(key string) (memoryItem, bool) {
	it, ok := m.items[key]
	if !ok {
		return memoryItem{}, false
	}
	if !m.now().Before(it.deadline) {
		delete(m.items, key)
		return memoryItem{}, false
	}
	return it, true
}

func (m *MemoryStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if ttl <= 0 {
		return fmt.Errorf("cache set %s: non-positive ttl %s", key, ttl)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[key] = memoryItem{value: value, deadline: m.now().Add(ttl)}
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, key string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.live(key)
	if !ok {
		return "", ErrMiss
	}
	return it.value, nil
}

func (m *MemoryStore) Replace(ctx context.Context, key, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.live(key)
	if !ok {
		return ErrMiss
	}
	it.value = value
	m.items[key] = it
	return nil
}

func (m *MemoryStore) IncrUntil(ctx context.Context, key string, expireAt time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	if it, ok := m.live(key); ok {
		parsed, err := strconv.ParseInt(it.value, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("cache incr %s: value is not an integer", key)
		}
		n = parsed
	}
	n++
	m.items[key] = memoryItem{value: strconv.FormatInt(n, 10), deadline: expireAt}
	return n, nil
}

func (m *MemoryStore) Delete(ctx context.Context, keys ...string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.items, k)
	}
	return nil
}

func (m *MemoryStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

// Sweep drops every expired entry and reports how many were removed.
func (m *MemoryStore) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	removed := 0
	for k, it := range m.items {
		if !now.Before(it.deadline) {
			delete(m.items, k)
			removed++
		}
	}
	return removed
}

// Len reports the number of stored entries, expired ones included.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

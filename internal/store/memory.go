package store

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"
)

// entry holds either a string value or a set, with an optional expiry.
type entry struct {
	value     string
	set       map[string]struct{}
	expiresAt time.Time // zero = never
}

func (e *entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// MemoryStore is an in-memory, thread-safe Store. Expired keys are removed
// lazily on access and by Evict.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*entry
	now     func() time.Time
}

// NewMemoryStore creates an empty MemoryStore using the wall clock.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]*entry),
		now:     time.Now,
	}
}

// SetClock replaces the time source. Intended for tests.
func (m *MemoryStore) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// lookup returns the live entry for key. Callers must hold m.mu.
func (m *MemoryStore) lookup(key string) (*entry, bool) {
	e, ok := m.entries[key]
	if !ok {
		return nil, false
	}
	if e.expired(m.now()) {
		delete(m.entries, key)
		return nil, false
	}
	return e, true
}

// Get implements Store.
func (m *MemoryStore) Get(ctx context.Context, key string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.lookup(key)
	if !ok || e.set != nil {
		return "", ErrNotFound
	}
	return e.value, nil
}

// Set implements Store.
func (m *MemoryStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	e := &entry{value: value}
	if ttl > 0 {
		e.expiresAt = m.now().Add(ttl)
	}
	m.entries[key] = e
	return nil
}

// Incr implements Store.
func (m *MemoryStore) Incr(ctx context.Context, key string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.lookup(key)
	if !ok {
		m.entries[key] = &entry{value: "1"}
		return 1, nil
	}
	if e.set != nil {
		return 0, fmt.Errorf("incr %s: key holds a set", key)
	}
	n, err := strconv.ParseInt(e.value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("incr %s: value is not an integer", key)
	}
	n++
	e.value = strconv.FormatInt(n, 10)
	return n, nil
}

// Expire implements Store. Expiring a missing key is a no-op, as in Redis.
func (m *MemoryStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.lookup(key)
	if !ok {
		return nil
	}
	if ttl <= 0 {
		delete(m.entries, key)
		return nil
	}
	e.expiresAt = m.now().Add(ttl)
	return nil
}

// TTL implements Store.
func (m *MemoryStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.lookup(key)
	if !ok {
		return 0, ErrNotFound
	}
	if e.expiresAt.IsZero() {
		return NoExpiry, nil
	}
	return e.expiresAt.Sub(m.now()), nil
}

// Del implements Store.
func (m *MemoryStore) Del(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	return nil
}

// SAdd implements Store.
func (m *MemoryStore) SAdd(ctx context.Context, key, member string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.lookup(key)
	if !ok {
		e = &entry{set: make(map[string]struct{})}
		m.entries[key] = e
	}
	if e.set == nil {
		return false, fmt.Errorf("sadd %s: key holds a string", key)
	}
	if _, exists := e.set[member]; exists {
		return false, nil
	}
	e.set[member] = struct{}{}
	return true, nil
}

// SCard implements Store.
func (m *MemoryStore) SCard(ctx context.Context, key string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.lookup(key)
	if !ok || e.set == nil {
		return 0, nil
	}
	return int64(len(e.set)), nil
}

// Ping implements Store.
func (m *MemoryStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

// Evict removes all expired entries and returns how many were dropped.
func (m *MemoryStore) Evict() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	n := 0
	for k, e := range m.entries {
		if e.expired(now) {
			delete(m.entries, k)
			n++
		}
	}
	return n
}

// StartEviction runs Evict every interval until ctx is cancelled.
func (m *MemoryStore) StartEviction(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.Evict()
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Len returns the number of stored keys, including expired ones not yet evicted.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

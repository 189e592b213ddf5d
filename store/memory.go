// Package store provides CounterStore implementations for quotaguard.
//
// The in-memory store lives here; Redis, PostgreSQL and SQLite backed stores
// live in the redis, postgres and sqlite subpackages.
package store

import (
	"context"
	"sync"
	"time"

	"github.com/ineyio/quotaguard"
)

// MemoryStore is an in-memory CounterStore with lazy TTL expiry.
// A single process-local mutex makes every operation atomic.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*entry
	now     func() time.Time
}

type entry struct {
	value     int64
	text      string
	expiresAt time.Time // zero = no expiry
}

var _ quotaguard.CounterStore = (*MemoryStore)(nil)

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithClock sets the time source used for expiry.
func WithClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) { s.now = now }
}

// NewMemoryStore creates a new in-memory counter store.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		entries: make(map[string]*entry),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get returns the counter at key.
func (s *MemoryStore) Get(_ context.Context, key string) (quotaguard.Counter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.live(key)
	if e == nil {
		return quotaguard.Counter{}, nil
	}
	return quotaguard.Counter{Value: e.value, ExpiresAt: e.expiresAt}, nil
}

// Increment atomically adds delta to the counter at key.
func (s *MemoryStore) Increment(_ context.Context, key string, delta int64, ttl time.Duration) (quotaguard.Counter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.live(key)
	if e == nil {
		e = &entry{expiresAt: s.expiry(ttl)}
		s.entries[key] = e
	}
	e.value += delta
	return quotaguard.Counter{Value: e.value, ExpiresAt: e.expiresAt}, nil
}

// Set overwrites the counter at key.
func (s *MemoryStore) Set(_ context.Context, key string, value int64, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[key] = &entry{value: value, expiresAt: s.expiry(ttl)}
	return nil
}

// SetIfAbsent writes the counter only when key is missing or expired.
func (s *MemoryStore) SetIfAbsent(_ context.Context, key string, value int64, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.live(key) != nil {
		return false, nil
	}
	s.entries[key] = &entry{value: value, expiresAt: s.expiry(ttl)}
	return true, nil
}

// Exists reports whether key is present.
func (s *MemoryStore) Exists(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.live(key) != nil, nil
}

// Delete removes keys.
func (s *MemoryStore) Delete(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, k := range keys {
		delete(s.entries, k)
	}
	return nil
}

// GetString returns the string stored at key.
func (s *MemoryStore) GetString(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.live(key)
	if e == nil {
		return "", nil
	}
	return e.text, nil
}

// SetString stores a string at key.
func (s *MemoryStore) SetString(_ context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[key] = &entry{text: value, expiresAt: s.expiry(ttl)}
	return nil
}

// Len returns the number of live keys.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for k := range s.entries {
		if s.live(k) != nil {
			n++
		}
	}
	return n
}

// live returns the entry at key, dropping it if expired. Must be called with lock held.
func (s *MemoryStore) live(key string) *entry {
	e, ok := s.entries[key]
	if !ok {
		return nil
	}
	if !e.expiresAt.IsZero() && !s.now().Before(e.expiresAt) {
		delete(s.entries, key)
		return nil
	}
	return e
}

func (s *MemoryStore) expiry(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return s.now().Add(ttl)
}

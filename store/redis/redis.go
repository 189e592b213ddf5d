// Package redis provides a Redis-backed CounterStore for quotaguard.
//
// Increments run as a Lua script (INCRBY plus PEXPIRE on first write) so the
// counter and its window are updated atomically. This makes it safe for
// multi-instance deployments.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/ineyio/quotaguard"
)

// Store is a Redis-backed CounterStore.
type Store struct {
	client    goredis.Cmdable
	keyPrefix string
	now       func() time.Time
}

var _ quotaguard.CounterStore = (*Store)(nil)

// Option configures Store.
type Option func(*Store)

// WithKeyPrefix sets a Redis key prefix prepended to every key (default none;
// the engines already namespace their keys).
func WithKeyPrefix(prefix string) Option {
	return func(s *Store) { s.keyPrefix = prefix }
}

// New creates a new Redis-backed CounterStore.
// The client must be a connected *goredis.Client or *goredis.ClusterClient.
func New(client goredis.Cmdable, opts ...Option) *Store {
	s := &Store{
		client: client,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) key(k string) string {
	return s.keyPrefix + k
}

// incrementScript atomically increments a counter and starts its window.
// KEYS[1] = counter key
// ARGV[1] = delta
// ARGV[2] = ttl in milliseconds (0 = no expiry)
//
// Returns {value, pttl}; pttl is -1 when the key has no expiry.
var incrementScript = goredis.NewScript(`
local value = redis.call("INCRBY", KEYS[1], ARGV[1])
local ttl = tonumber(ARGV[2])
local pttl = redis.call("PTTL", KEYS[1])
if pttl < 0 and ttl > 0 then
    redis.call("PEXPIRE", KEYS[1], ttl)
    pttl = ttl
end
return {value, pttl}
`)

// Get returns the counter at key.
func (s *Store) Get(ctx context.Context, key string) (quotaguard.Counter, error) {
	k := s.key(key)
	pipe := s.client.Pipeline()
	get := pipe.Get(ctx, k)
	pttl := pipe.PTTL(ctx, k)
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, goredis.Nil) {
		return quotaguard.Counter{}, fmt.Errorf("quotaguard/redis: get: %w", err)
	}

	raw, err := get.Result()
	if errors.Is(err, goredis.Nil) {
		return quotaguard.Counter{}, nil
	}
	if err != nil {
		return quotaguard.Counter{}, fmt.Errorf("quotaguard/redis: get: %w", err)
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return quotaguard.Counter{}, fmt.Errorf("quotaguard/redis: get %q: not a counter: %w", key, err)
	}
	return quotaguard.Counter{Value: value, ExpiresAt: s.expiresAt(pttl.Val())}, nil
}

// Increment atomically adds delta to the counter at key.
func (s *Store) Increment(ctx context.Context, key string, delta int64, ttl time.Duration) (quotaguard.Counter, error) {
	res, err := incrementScript.Run(ctx, s.client, []string{s.key(key)}, delta, ttl.Milliseconds()).Int64Slice()
	if err != nil {
		return quotaguard.Counter{}, fmt.Errorf("quotaguard/redis: increment: %w", err)
	}
	if len(res) != 2 {
		return quotaguard.Counter{}, fmt.Errorf("quotaguard/redis: unexpected increment result: %v", res)
	}
	return quotaguard.Counter{
		Value:     res[0],
		ExpiresAt: s.expiresAt(time.Duration(res[1]) * time.Millisecond),
	}, nil
}

// Set overwrites the counter at key.
func (s *Store) Set(ctx context.Context, key string, value int64, ttl time.Duration) error {
	if err := s.client.Set(ctx, s.key(key), value, ttl).Err(); err != nil {
		return fmt.Errorf("quotaguard/redis: set: %w", err)
	}
	return nil
}

// SetIfAbsent writes the counter only if key does not exist.
func (s *Store) SetIfAbsent(ctx context.Context, key string, value int64, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, s.key(key), value, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("quotaguard/redis: setnx: %w", err)
	}
	return ok, nil
}

// Exists reports whether key is present.
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Exists(ctx, s.key(key)).Result()
	if err != nil {
		return false, fmt.Errorf("quotaguard/redis: exists: %w", err)
	}
	return n > 0, nil
}

// Delete removes keys.
func (s *Store) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	ks := make([]string, len(keys))
	for i, k := range keys {
		ks[i] = s.key(k)
	}
	if err := s.client.Del(ctx, ks...).Err(); err != nil {
		return fmt.Errorf("quotaguard/redis: del: %w", err)
	}
	return nil
}

// GetString returns the string stored at key, or "" if absent.
func (s *Store) GetString(ctx context.Context, key string) (string, error) {
	v, err := s.client.Get(ctx, s.key(key)).Result()
	if errors.Is(err, goredis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("quotaguard/redis: get: %w", err)
	}
	return v, nil
}

// SetString stores a string at key.
func (s *Store) SetString(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := s.client.Set(ctx, s.key(key), value, ttl).Err(); err != nil {
		return fmt.Errorf("quotaguard/redis: set: %w", err)
	}
	return nil
}

func (s *Store) expiresAt(pttl time.Duration) time.Time {
	if pttl <= 0 {
		return time.Time{}
	}
	return s.now().Add(pttl)
}

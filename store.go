package quotaguard

import (
	"context"
	"time"
)

// CounterStore is a durable, TTL-capable key to integer store shared by
// every engine instance.
//
// Implementations must be safe for concurrent use. Increment must be a single
// atomic store-side operation.
type CounterStore interface {
	// Get returns the counter stored at key. An absent or expired key yields a
	// zero Counter and no error.
	Get(ctx context.Context, key string) (Counter, error)

	// Increment atomically adds delta to the counter and returns the new value.
	// ttl is applied only when the increment creates the key, so the window of
	// an existing counter is never extended. A ttl of zero means no expiry.
	Increment(ctx context.Context, key string, delta int64, ttl time.Duration) (Counter, error)

	// Set overwrites the counter at key.
	Set(ctx context.Context, key string, value int64, ttl time.Duration) error

	// SetIfAbsent writes the counter only if key does not exist. It reports
	// whether the write happened.
	SetIfAbsent(ctx context.Context, key string, value int64, ttl time.Duration) (bool, error)

	// Exists reports whether key is present and not expired.
	Exists(ctx context.Context, key string) (bool, error)

	// Delete removes the given keys. Missing keys are ignored.
	Delete(ctx context.Context, keys ...string) error

	// GetString returns a string value stored with SetString, or "" if absent.
	GetString(ctx context.Context, key string) (string, error)

	// SetString stores a diagnostic string value.
	SetString(ctx context.Context, key, value string, ttl time.Duration) error
}

// Counter is an integer value with its expiry.
type Counter struct {
	Value int64

	// ExpiresAt is zero when the key is absent or never expires.
	ExpiresAt time.Time
}

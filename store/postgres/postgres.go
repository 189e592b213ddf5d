// Package postgres provides a PostgreSQL-backed CounterStore for quotaguard.
//
// Counters are rows in a single table. Increments are a single
// INSERT ... ON CONFLICT DO UPDATE ... RETURNING statement evaluated against
// the database clock, which makes them atomic across instances.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ineyio/quotaguard"
)

// Store is a PostgreSQL-backed CounterStore.
type Store struct {
	pool        *pgxpool.Pool
	tablePrefix string
}

var _ quotaguard.CounterStore = (*Store)(nil)

// Option configures Store.
type Option func(*Store)

// WithTablePrefix sets the table name prefix (default "quotaguard_").
func WithTablePrefix(prefix string) Option {
	return func(s *Store) { s.tablePrefix = prefix }
}

// New creates a new PostgreSQL-backed CounterStore.
func New(pool *pgxpool.Pool, opts ...Option) *Store {
	s := &Store{
		pool:        pool,
		tablePrefix: "quotaguard_",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) table() string { return s.tablePrefix + "counters" }

// EnsureSchema creates the required table if it doesn't exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	q := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %[1]s (
			counter_key TEXT PRIMARY KEY,
			value BIGINT NOT NULL DEFAULT 0,
			text_value TEXT NOT NULL DEFAULT '',
			expires_at TIMESTAMPTZ
		);
		CREATE INDEX IF NOT EXISTS %[1]s_expires_at_idx ON %[1]s (expires_at);
	`, s.table())
	if _, err := s.pool.Exec(ctx, q); err != nil {
		return fmt.Errorf("quotaguard/postgres: ensure schema: %w", err)
	}
	return nil
}

// live is the predicate for a row that has not expired.
const live = "(expires_at IS NULL OR expires_at > now())"

// expiresExpr turns a millisecond TTL parameter into an expiry timestamp.
func expiresExpr(param string) string {
	return fmt.Sprintf("CASE WHEN %[1]s::bigint > 0 THEN now() + %[1]s::bigint * interval '1 millisecond' END", param)
}

func scanCounter(row pgx.Row) (quotaguard.Counter, error) {
	var (
		value     int64
		expiresAt *time.Time
	)
	if err := row.Scan(&value, &expiresAt); err != nil {
		return quotaguard.Counter{}, err
	}
	c := quotaguard.Counter{Value: value}
	if expiresAt != nil {
		c.ExpiresAt = *expiresAt
	}
	return c, nil
}

// Get returns the counter at key.
func (s *Store) Get(ctx context.Context, key string) (quotaguard.Counter, error) {
	q := fmt.Sprintf(`SELECT value, expires_at FROM %s WHERE counter_key = $1 AND %s`, s.table(), live)
	c, err := scanCounter(s.pool.QueryRow(ctx, q, key))
	if errors.Is(err, pgx.ErrNoRows) {
		return quotaguard.Counter{}, nil
	}
	if err != nil {
		return quotaguard.Counter{}, fmt.Errorf("quotaguard/postgres: get: %w", err)
	}
	return c, nil
}

// Increment atomically adds delta to the counter at key.
func (s *Store) Increment(ctx context.Context, key string, delta int64, ttl time.Duration) (quotaguard.Counter, error) {
	t := s.table()
	expired := fmt.Sprintf("(%[1]s.expires_at IS NOT NULL AND %[1]s.expires_at <= now())", t)
	q := fmt.Sprintf(`
		INSERT INTO %[1]s (counter_key, value, expires_at) VALUES ($1, $2, %[3]s)
		ON CONFLICT (counter_key) DO UPDATE SET
			value = CASE WHEN %[2]s THEN EXCLUDED.value ELSE %[1]s.value + EXCLUDED.value END,
			text_value = CASE WHEN %[2]s THEN '' ELSE %[1]s.text_value END,
			expires_at = CASE WHEN %[2]s THEN EXCLUDED.expires_at ELSE %[1]s.expires_at END
		RETURNING value, expires_at`, t, expired, expiresExpr("$3"))

	c, err := scanCounter(s.pool.QueryRow(ctx, q, key, delta, ttl.Milliseconds()))
	if err != nil {
		return quotaguard.Counter{}, fmt.Errorf("quotaguard/postgres: increment: %w", err)
	}
	return c, nil
}

// Set overwrites the counter at key.
func (s *Store) Set(ctx context.Context, key string, value int64, ttl time.Duration) error {
	return s.put(ctx, key, value, "", ttl)
}

// SetString stores a string at key.
func (s *Store) SetString(ctx context.Context, key, value string, ttl time.Duration) error {
	return s.put(ctx, key, 0, value, ttl)
}

func (s *Store) put(ctx context.Context, key string, value int64, text string, ttl time.Duration) error {
	q := fmt.Sprintf(`
		INSERT INTO %s (counter_key, value, text_value, expires_at) VALUES ($1, $2, $3, %s)
		ON CONFLICT (counter_key) DO UPDATE SET
			value = EXCLUDED.value, text_value = EXCLUDED.text_value, expires_at = EXCLUDED.expires_at`,
		s.table(), expiresExpr("$4"))
	if _, err := s.pool.Exec(ctx, q, key, value, text, ttl.Milliseconds()); err != nil {
		return fmt.Errorf("quotaguard/postgres: set: %w", err)
	}
	return nil
}

// SetIfAbsent writes the counter only if key is missing or expired.
func (s *Store) SetIfAbsent(ctx context.Context, key string, value int64, ttl time.Duration) (bool, error) {
	t := s.table()
	q := fmt.Sprintf(`
		INSERT INTO %[1]s (counter_key, value, expires_at) VALUES ($1, $2, %[2]s)
		ON CONFLICT (counter_key) DO UPDATE SET
			value = EXCLUDED.value, text_value = '', expires_at = EXCLUDED.expires_at
		WHERE %[1]s.expires_at IS NOT NULL AND %[1]s.expires_at <= now()`, t, expiresExpr("$3"))

	tag, err := s.pool.Exec(ctx, q, key, value, ttl.Milliseconds())
	if err != nil {
		return false, fmt.Errorf("quotaguard/postgres: set if absent: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// Exists reports whether key is present and not expired.
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	q := fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM %s WHERE counter_key = $1 AND %s)`, s.table(), live)
	var ok bool
	if err := s.pool.QueryRow(ctx, q, key).Scan(&ok); err != nil {
		return false, fmt.Errorf("quotaguard/postgres: exists: %w", err)
	}
	return ok, nil
}

// Delete removes keys.
func (s *Store) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	q := fmt.Sprintf(`DELETE FROM %s WHERE counter_key = ANY($1)`, s.table())
	if _, err := s.pool.Exec(ctx, q, keys); err != nil {
		return fmt.Errorf("quotaguard/postgres: delete: %w", err)
	}
	return nil
}

// GetString returns the string stored at key, or "" if absent.
func (s *Store) GetString(ctx context.Context, key string) (string, error) {
	q := fmt.Sprintf(`SELECT text_value FROM %s WHERE counter_key = $1 AND %s`, s.table(), live)
	var text string
	err := s.pool.QueryRow(ctx, q, key).Scan(&text)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("quotaguard/postgres: get string: %w", err)
	}
	return text, nil
}

// PurgeExpired deletes expired rows and returns how many were removed.
func (s *Store) PurgeExpired(ctx context.Context) (int64, error) {
	q := fmt.Sprintf(`DELETE FROM %s WHERE expires_at IS NOT NULL AND expires_at <= now()`, s.table())
	tag, err := s.pool.Exec(ctx, q)
	if err != nil {
		return 0, fmt.Errorf("quotaguard/postgres: purge: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Package sqlite provides a SQLite-backed CounterStore for quotaguard.
//
// Counters live in a single table. Every write is one INSERT ... ON CONFLICT
// DO UPDATE statement, so increments are atomic without any read-then-write
// from Go. Suitable for single-instance deployments that need counters to
// survive restarts.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/ineyio/quotaguard"
)

// Store is a SQLite-backed CounterStore.
type Store struct {
	db          *sql.DB
	tablePrefix string
	now         func() time.Time
}

var _ quotaguard.CounterStore = (*Store)(nil)

// Option configures Store.
type Option func(*Store)

// WithTablePrefix sets the table name prefix (default "quotaguard_").
func WithTablePrefix(prefix string) Option {
	return func(s *Store) { s.tablePrefix = prefix }
}

// WithClock sets the time source used for expiry.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Open opens the database at path and ensures the schema exists.
func Open(ctx context.Context, path string, opts ...Option) (*Store, error) {
	dsn := path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("quotaguard/sqlite: open: %w", err)
	}
	// SQLite serialises writers; a single connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	s := New(db, opts...)
	if err := s.EnsureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an open database. Call EnsureSchema before use.
func New(db *sql.DB, opts ...Option) *Store {
	s := &Store{
		db:          db,
		tablePrefix: "quotaguard_",
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) table() string { return s.tablePrefix + "counters" }

// EnsureSchema creates the counters table if it doesn't exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	q := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			counter_key TEXT PRIMARY KEY,
			value INTEGER NOT NULL DEFAULT 0,
			text_value TEXT NOT NULL DEFAULT '',
			expires_at INTEGER NOT NULL DEFAULT 0
		)`, s.table())
	if _, err := s.db.ExecContext(ctx, q); err != nil {
		return fmt.Errorf("quotaguard/sqlite: ensure schema: %w", err)
	}
	return nil
}

// expires_at holds unix milliseconds; 0 means no expiry.
func (s *Store) nowMillis() int64 { return s.now().UnixMilli() }

func (s *Store) expiry(ttl time.Duration) int64 {
	if ttl <= 0 {
		return 0
	}
	return s.now().Add(ttl).UnixMilli()
}

func toTime(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

// Get returns the counter at key.
func (s *Store) Get(ctx context.Context, key string) (quotaguard.Counter, error) {
	q := fmt.Sprintf(`SELECT value, expires_at FROM %s
		WHERE counter_key = ?1 AND (expires_at = 0 OR expires_at > ?2)`, s.table())

	var value, expiresAt int64
	err := s.db.QueryRowContext(ctx, q, key, s.nowMillis()).Scan(&value, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return quotaguard.Counter{}, nil
	}
	if err != nil {
		return quotaguard.Counter{}, fmt.Errorf("quotaguard/sqlite: get: %w", err)
	}
	return quotaguard.Counter{Value: value, ExpiresAt: toTime(expiresAt)}, nil
}

// Increment atomically adds delta to the counter at key. An expired row is
// restarted as if it were absent.
func (s *Store) Increment(ctx context.Context, key string, delta int64, ttl time.Duration) (quotaguard.Counter, error) {
	t := s.table()
	expired := fmt.Sprintf("%s.expires_at > 0 AND %s.expires_at <= ?4", t, t)
	q := fmt.Sprintf(`INSERT INTO %[1]s (counter_key, value, text_value, expires_at) VALUES (?1, ?2, '', ?3)
		ON CONFLICT(counter_key) DO UPDATE SET
			value = CASE WHEN %[2]s THEN excluded.value ELSE %[1]s.value + excluded.value END,
			expires_at = CASE WHEN %[2]s THEN excluded.expires_at ELSE %[1]s.expires_at END
		RETURNING value, expires_at`, t, expired)

	var value, expiresAt int64
	err := s.db.QueryRowContext(ctx, q, key, delta, s.expiry(ttl), s.nowMillis()).Scan(&value, &expiresAt)
	if err != nil {
		return quotaguard.Counter{}, fmt.Errorf("quotaguard/sqlite: increment: %w", err)
	}
	return quotaguard.Counter{Value: value, ExpiresAt: toTime(expiresAt)}, nil
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
	q := fmt.Sprintf(`INSERT INTO %s (counter_key, value, text_value, expires_at) VALUES (?1, ?2, ?3, ?4)
		ON CONFLICT(counter_key) DO UPDATE SET
			value = excluded.value, text_value = excluded.text_value, expires_at = excluded.expires_at`, s.table())
	if _, err := s.db.ExecContext(ctx, q, key, value, text, s.expiry(ttl)); err != nil {
		return fmt.Errorf("quotaguard/sqlite: set: %w", err)
	}
	return nil
}

// SetIfAbsent writes the counter only if key is missing or expired.
func (s *Store) SetIfAbsent(ctx context.Context, key string, value int64, ttl time.Duration) (bool, error) {
	t := s.table()
	q := fmt.Sprintf(`INSERT INTO %[1]s (counter_key, value, text_value, expires_at) VALUES (?1, ?2, '', ?3)
		ON CONFLICT(counter_key) DO UPDATE SET
			value = excluded.value, text_value = '', expires_at = excluded.expires_at
		WHERE %[1]s.expires_at > 0 AND %[1]s.expires_at <= ?4`, t)

	res, err := s.db.ExecContext(ctx, q, key, value, s.expiry(ttl), s.nowMillis())
	if err != nil {
		return false, fmt.Errorf("quotaguard/sqlite: set if absent: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("quotaguard/sqlite: set if absent: %w", err)
	}
	return n > 0, nil
}

// Exists reports whether key is present and not expired.
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	q := fmt.Sprintf(`SELECT 1 FROM %s WHERE counter_key = ?1 AND (expires_at = 0 OR expires_at > ?2)`, s.table())
	var one int
	err := s.db.QueryRowContext(ctx, q, key, s.nowMillis()).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("quotaguard/sqlite: exists: %w", err)
	}
	return true, nil
}

// Delete removes keys.
func (s *Store) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	args := make([]any, len(keys))
	for i, k := range keys {
		args[i] = k
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(keys)), ",")
	q := fmt.Sprintf(`DELETE FROM %s WHERE counter_key IN (%s)`, s.table(), placeholders)
	if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
		return fmt.Errorf("quotaguard/sqlite: delete: %w", err)
	}
	return nil
}

// GetString returns the string stored at key, or "" if absent.
func (s *Store) GetString(ctx context.Context, key string) (string, error) {
	q := fmt.Sprintf(`SELECT text_value FROM %s WHERE counter_key = ?1 AND (expires_at = 0 OR expires_at > ?2)`, s.table())
	var text string
	err := s.db.QueryRowContext(ctx, q, key, s.nowMillis()).Scan(&text)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("quotaguard/sqlite: get string: %w", err)
	}
	return text, nil
}

// PurgeExpired deletes expired rows and returns how many were removed.
func (s *Store) PurgeExpired(ctx context.Context) (int64, error) {
	q := fmt.Sprintf(`DELETE FROM %s WHERE expires_at > 0 AND expires_at <= ?1`, s.table())
	res, err := s.db.ExecContext(ctx, q, s.nowMillis())
	if err != nil {
		return 0, fmt.Errorf("quotaguard/sqlite: purge: %w", err)
	}
	return res.RowsAffected()
}

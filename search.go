package quotaguard

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// searchTTL outlives the longest calendar month.
const searchTTL = 32 * 24 * time.Hour

// SearchGate enforces the monthly free quota of the shared search capability.
// Unlike backend limits, the full quota is usable; no safety buffer applies.
type SearchGate struct {
	quota  int64
	store  CounterStore
	prefix string
	logger *slog.Logger
	now    func() time.Time
}

// SearchOption configures a SearchGate.
type SearchOption func(*SearchGate)

// WithSearchClock sets the time source used to pick the current month.
func WithSearchClock(now func() time.Time) SearchOption {
	return func(g *SearchGate) { g.now = now }
}

// WithSearchKeyPrefix sets the key prefix (default "quotaguard:").
func WithSearchKeyPrefix(prefix string) SearchOption {
	return func(g *SearchGate) { g.prefix = prefix }
}

// WithSearchLogger sets the logger. Defaults to slog.Default().
func WithSearchLogger(l *slog.Logger) SearchOption {
	return func(g *SearchGate) { g.logger = l }
}

// NewSearchGate creates a gate over store.
func NewSearchGate(cfg SearchConfig, store CounterStore, opts ...SearchOption) (*SearchGate, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: counter store is required", ErrInvalidConfig)
	}
	if cfg.MonthlyFreeQuota < 0 {
		return nil, fmt.Errorf("%w: search.monthly_free_quota must not be negative", ErrInvalidConfig)
	}
	g := &SearchGate{
		quota:  cfg.MonthlyFreeQuota,
		store:  store,
		prefix: DefaultKeyPrefix,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.logger == nil {
		g.logger = slog.Default()
	}
	return g, nil
}

// Quota returns the configured monthly free quota.
func (g *SearchGate) Quota() int64 { return g.quota }

func (g *SearchGate) month() string {
	return g.now().UTC().Format("2006-01")
}

func (g *SearchGate) key() string {
	return g.prefix + "search:" + g.month()
}

// Usage returns the number of searches recorded this month. On store
// failure it returns 0 together with the error.
func (g *SearchGate) Usage(ctx context.Context) (int64, error) {
	key := g.key()
	c, err := g.store.Get(ctx, key)
	if err != nil {
		return 0, storeErr("get", key, err)
	}
	return c.Value, nil
}

// IsAvailable reports whether another search fits in this month's quota.
// It fails closed: a store failure reports unavailable.
func (g *SearchGate) IsAvailable(ctx context.Context) bool {
	used, err := g.Usage(ctx)
	if err != nil {
		g.logger.Warn("search usage read failed, failing closed", "error", err)
		return false
	}
	return used < g.quota
}

// RecordUsage counts one search against the current month and returns the
// new total.
func (g *SearchGate) RecordUsage(ctx context.Context) (int64, error) {
	key := g.key()
	c, err := g.store.Increment(ctx, key, 1, searchTTL)
	if err != nil {
		return 0, storeErr("increment", key, err)
	}
	if c.Value == g.quota {
		g.logger.Info("monthly search quota exhausted", "month", g.month(), "quota", g.quota)
	}
	return c.Value, nil
}

// Reset deletes the current month's counter.
func (g *SearchGate) Reset(ctx context.Context) error {
	key := g.key()
	if err := g.store.Delete(ctx, key); err != nil {
		return storeErr("delete", key, err)
	}
	return nil
}

// Status returns the quota state of the current month.
func (g *SearchGate) Status(ctx context.Context) (SearchStatus, error) {
	now := g.now().UTC()
	used, err := g.Usage(ctx)
	if err != nil {
		return SearchStatus{}, err
	}
	return SearchStatus{
		Month:     now.Format("2006-01"),
		Used:      used,
		Quota:     g.quota,
		Remaining: max(0, g.quota-used),
		Available: used < g.quota,
		ResetAt:   time.Date(now.Year(), now.Month()+1, 1, 0, 0, 0, 0, time.UTC),
	}, nil
}

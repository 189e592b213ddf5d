package quotaguard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"
)

const lastUsedTTL = 24 * time.Hour

// Limiter is the rate limit engine. It owns the per-backend counters and
// decides which backend may serve the next request.
//
// A Limiter holds no lock across store calls; all consistency comes from the
// store's atomic Increment.
type Limiter struct {
	store  CounterStore
	buffer float64
	order  []BackendID // priority order followed by the remaining configured backends
	prio   []BackendID
	limits map[BackendID]StaticLimits
	keys   map[BackendID]map[Metric]string
	used   map[BackendID]string // last-used diagnostic keys

	prefix string
	logger *slog.Logger
	now    func() time.Time
}

// LimiterOption configures a Limiter.
type LimiterOption func(*Limiter)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) LimiterOption {
	return func(lim *Limiter) { lim.logger = l }
}

// WithClock sets the time source used for diagnostics and reset times.
func WithClock(now func() time.Time) LimiterOption {
	return func(lim *Limiter) { lim.now = now }
}

// WithKeyPrefix overrides the counter key prefix from the config.
func WithKeyPrefix(prefix string) LimiterOption {
	return func(lim *Limiter) { lim.prefix = prefix }
}

// NewLimiter validates cfg and builds a Limiter over store.
func NewLimiter(cfg Config, store CounterStore, opts ...LimiterOption) (*Limiter, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: counter store is required", ErrInvalidConfig)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	l := &Limiter{
		store:  store,
		buffer: cfg.SafetyBuffer,
		prio:   append([]BackendID(nil), cfg.Priority...),
		limits: make(map[BackendID]StaticLimits, len(cfg.Backends)),
		prefix: cfg.Store.KeyPrefix,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.logger == nil {
		l.logger = slog.Default()
	}

	for _, b := range cfg.Backends {
		l.limits[b.ID] = b.Limits
	}
	l.order = append(l.order, l.prio...)
	for _, b := range cfg.Backends {
		if !slices.Contains(l.prio, b.ID) {
			l.order = append(l.order, b.ID)
		}
	}

	l.keys = make(map[BackendID]map[Metric]string, len(l.limits))
	l.used = make(map[BackendID]string, len(l.limits))
	for id := range l.limits {
		km := make(map[Metric]string, len(allMetrics))
		for _, m := range allMetrics {
			km[m] = l.prefix + string(id) + ":" + m.String()
		}
		l.keys[id] = km
		l.used[id] = l.prefix + string(id) + ":last_used"
	}

	return l, nil
}

// Backends returns every configured backend, priority order first.
func (l *Limiter) Backends() []BackendID {
	return append([]BackendID(nil), l.order...)
}

// Priority returns the configured priority order.
func (l *Limiter) Priority() []BackendID {
	return append([]BackendID(nil), l.prio...)
}

// Key returns the counter key of a backend metric.
func (l *Limiter) Key(id BackendID, m Metric) (string, bool) {
	km, ok := l.keys[id]
	if !ok {
		return "", false
	}
	return km[m], true
}

// Initialize ensures a zero counter exists for every backend and metric.
// Existing counters are left untouched.
func (l *Limiter) Initialize(ctx context.Context) error {
	for _, id := range l.order {
		for _, m := range allMetrics {
			key := l.keys[id][m]
			if _, err := l.store.SetIfAbsent(ctx, key, 0, m.Window()); err != nil {
				return storeErr("initialize", key, err)
			}
		}
	}
	return nil
}

// SelectOption tunes a single Select call.
type SelectOption func(*selectOptions)

type selectOptions struct {
	projected Usage
	skip      func(BackendID) bool
}

// WithProjected makes admission account for the expected cost of the request.
func WithProjected(u Usage) SelectOption {
	return func(o *selectOptions) { o.projected = u }
}

// WithSkip excludes backends for which skip returns true.
func WithSkip(skip func(BackendID) bool) SelectOption {
	return func(o *selectOptions) { o.skip = skip }
}

// Select returns the first admissible backend in priority order, with
// preferred (if configured) tried first.
//
// It returns ErrNoBackendAvailable when every candidate is exhausted, and a
// *SelectionError when nothing was admissible and at least one candidate
// could not be evaluated because of a store failure.
func (l *Limiter) Select(ctx context.Context, preferred BackendID, opts ...SelectOption) (BackendID, error) {
	var o selectOptions
	for _, opt := range opts {
		opt(&o)
	}

	var failures map[BackendID]error
	for _, id := range l.candidates(preferred) {
		if o.skip != nil && o.skip(id) {
			continue
		}
		ok, err := l.Admit(ctx, id, o.projected)
		if err != nil {
			l.logger.Warn("capacity read failed, treating backend as exhausted",
				"backend", id, "error", err)
			if failures == nil {
				failures = make(map[BackendID]error)
			}
			failures[id] = err
			continue
		}
		if ok {
			return id, nil
		}
	}

	if failures != nil {
		return "", &SelectionError{Failures: failures}
	}
	return "", ErrNoBackendAvailable
}

func (l *Limiter) candidates(preferred BackendID) []BackendID {
	if _, ok := l.limits[preferred]; !ok {
		return l.prio
	}
	out := make([]BackendID, 0, len(l.prio)+1)
	out = append(out, preferred)
	for _, id := range l.prio {
		if id != preferred {
			out = append(out, id)
		}
	}
	return out
}

// CanAdmit reports whether the backend may serve a request now. Unknown
// backends and store failures both yield false.
func (l *Limiter) CanAdmit(ctx context.Context, id BackendID) bool {
	ok, err := l.Admit(ctx, id, Usage{})
	if err != nil {
		if !errors.Is(err, ErrUnknownBackend) {
			l.logger.Warn("capacity read failed, failing closed", "backend", id, "error", err)
		}
		return false
	}
	return ok
}

// Admit reports whether the backend can take a request expected to consume
// projected. A zero projection applies the plain backward-looking rule.
func (l *Limiter) Admit(ctx context.Context, id BackendID, projected Usage) (bool, error) {
	snap, err := l.Capacity(ctx, id)
	if err != nil {
		return false, err
	}
	return snap.AdmitsProjected(projected), nil
}

// Capacity reads the backend's counters and returns its capacity snapshot.
func (l *Limiter) Capacity(ctx context.Context, id BackendID) (CapacitySnapshot, error) {
	limits, ok := l.limits[id]
	if !ok {
		return CapacitySnapshot{}, fmt.Errorf("%w: %q", ErrUnknownBackend, id)
	}

	counters := make(map[Metric]Counter, len(allMetrics))
	for _, m := range allMetrics {
		key := l.keys[id][m]
		c, err := l.store.Get(ctx, key)
		if err != nil {
			return CapacitySnapshot{}, storeErr("get", key, err)
		}
		counters[m] = c
	}

	snap := ComputeCapacity(id, limits, counters, l.buffer, l.now())
	if s, err := l.store.GetString(ctx, l.used[id]); err == nil && s != "" {
		if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
			snap.LastUsedAt = t
		}
	}
	return snap, nil
}

// RecordUsage adds consumed usage to the backend's counters. It must be
// called exactly once per successful backend call; a zero Usage counts as a
// single request with no tokens.
func (l *Limiter) RecordUsage(ctx context.Context, id BackendID, u Usage) error {
	km, ok := l.keys[id]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownBackend, id)
	}
	if u.Requests < 0 || u.Tokens < 0 {
		return fmt.Errorf("%w: negative usage %+v", ErrInvalidUsage, u)
	}
	if u == (Usage{}) {
		u.Requests = 1
	}

	for _, m := range allMetrics {
		delta := u.of(m)
		if delta == 0 {
			continue
		}
		if _, err := l.store.Increment(ctx, km[m], delta, m.Window()); err != nil {
			return storeErr("increment", km[m], err)
		}
	}

	stamp := l.now().UTC().Format(time.RFC3339Nano)
	if err := l.store.SetString(ctx, l.used[id], stamp, lastUsedTTL); err != nil {
		l.logger.Debug("last-used stamp not written", "backend", id, "error", err)
	}
	return nil
}

// StatusAll returns a snapshot for every configured backend. Backends whose
// counters cannot be read are left out and reported in the joined error.
func (l *Limiter) StatusAll(ctx context.Context) ([]CapacitySnapshot, error) {
	out := make([]CapacitySnapshot, 0, len(l.order))
	var errs []error
	for _, id := range l.order {
		snap, err := l.Capacity(ctx, id)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		out = append(out, snap)
	}
	return out, errors.Join(errs...)
}

// Reset deletes the counters of the given backends, or of all backends when
// none are given.
func (l *Limiter) Reset(ctx context.Context, ids ...BackendID) error {
	if len(ids) == 0 {
		ids = l.order
	}

	keys := make([]string, 0, len(ids)*(len(allMetrics)+1))
	for _, id := range ids {
		km, ok := l.keys[id]
		if !ok {
			return fmt.Errorf("%w: %q", ErrUnknownBackend, id)
		}
		for _, m := range allMetrics {
			keys = append(keys, km[m])
		}
		keys = append(keys, l.used[id])
	}

	if err := l.store.Delete(ctx, keys...); err != nil {
		return storeErr("delete", keys[0], err)
	}
	l.logger.Info("counters reset", "backends", ids)
	return nil
}

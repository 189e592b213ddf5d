package quotaguard_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	qg "github.com/ineyio/quotaguard"
	"github.com/ineyio/quotaguard/store"
)

var errStoreDown = errors.New("connection refused")

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 10, 14, 9, 30, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// failingStore fails every read of keys containing failOn.
type failingStore struct {
	qg.CounterStore
	failOn string
}

func (s *failingStore) Get(ctx context.Context, key string) (qg.Counter, error) {
	if strings.Contains(key, s.failOn) {
		return qg.Counter{}, errStoreDown
	}
	return s.CounterStore.Get(ctx, key)
}

func testConfig() qg.Config {
	return qg.Config{
		Priority: []qg.BackendID{"primary", "fallback"},
		Backends: []qg.BackendConfig{
			{ID: "primary", Limits: qg.StaticLimits{RPM: 15, TPM: 1_000_000, RPD: 1500}},
			{ID: "fallback", Limits: qg.StaticLimits{RPM: 10, TPM: 250_000, RPD: 500}},
			{ID: "spare", Limits: qg.StaticLimits{RPM: 5, TPM: 10_000, RPD: 50}},
		},
		SafetyBuffer:     0.8,
		MaxMessageLength: 2000,
		Search:           qg.SearchConfig{MonthlyFreeQuota: 3},
	}
}

func newTestLimiter(t *testing.T, cfg qg.Config, cs qg.CounterStore, clock *fakeClock) *qg.Limiter {
	t.Helper()
	lim, err := qg.NewLimiter(cfg, cs, qg.WithClock(clock.Now))
	require.NoError(t, err)
	return lim
}

func newMemoryStore(clock *fakeClock) *store.MemoryStore {
	return store.NewMemoryStore(store.WithClock(clock.Now))
}

// exhaust records requests until the backend can no longer admit.
func exhaust(t *testing.T, lim *qg.Limiter, id qg.BackendID) {
	t.Helper()
	ctx := context.Background()
	for i := 0; lim.CanAdmit(ctx, id); i++ {
		require.Less(t, i, 10_000, "backend never exhausted")
		require.NoError(t, lim.RecordUsage(ctx, id, qg.Usage{Requests: 1}))
	}
}

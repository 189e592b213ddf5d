package quotaguard_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	qg "github.com/ineyio/quotaguard"
)

func newTestGate(t *testing.T, quota int64, cs qg.CounterStore, clock *fakeClock) *qg.SearchGate {
	t.Helper()
	g, err := qg.NewSearchGate(qg.SearchConfig{MonthlyFreeQuota: quota}, cs, qg.WithSearchClock(clock.Now))
	require.NoError(t, err)
	return g
}

func TestSearchGate_AvailabilityFlipsOnce(t *testing.T) {
	clock := newFakeClock()
	g := newTestGate(t, 3, newMemoryStore(clock), clock)
	ctx := context.Background()

	var flips int
	prev := g.IsAvailable(ctx)
	require.True(t, prev)

	for i := 0; i < 5; i++ {
		_, err := g.RecordUsage(ctx)
		require.NoError(t, err)
		cur := g.IsAvailable(ctx)
		if cur != prev {
			flips++
		}
		prev = cur
	}
	assert.Equal(t, 1, flips)
	assert.False(t, prev)
}

func TestSearchGate_Boundary(t *testing.T) {
	clock := newFakeClock()
	g := newTestGate(t, 3, newMemoryStore(clock), clock)
	ctx := context.Background()

	for want := int64(1); want <= 2; want++ {
		used, err := g.RecordUsage(ctx)
		require.NoError(t, err)
		assert.Equal(t, want, used)
	}
	assert.True(t, g.IsAvailable(ctx), "2 of 3 used")

	used, err := g.RecordUsage(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), used)
	assert.False(t, g.IsAvailable(ctx), "the full quota is usable, but no more")
}

func TestSearchGate_ZeroQuotaDisablesSearch(t *testing.T) {
	clock := newFakeClock()
	g := newTestGate(t, 0, newMemoryStore(clock), clock)

	assert.False(t, g.IsAvailable(context.Background()))
}

func TestSearchGate_StoreFailure(t *testing.T) {
	clock := newFakeClock()
	g := newTestGate(t, 3, &failingStore{CounterStore: newMemoryStore(clock), failOn: "search"}, clock)
	ctx := context.Background()

	assert.False(t, g.IsAvailable(ctx))

	used, err := g.Usage(ctx)
	assert.ErrorIs(t, err, qg.ErrStore)
	assert.Equal(t, int64(0), used, "a failed read never reports the quota as consumed")

	_, err = g.Status(ctx)
	assert.ErrorIs(t, err, qg.ErrStore)
}

func TestSearchGate_MonthRollover(t *testing.T) {
	clock := newFakeClock()
	mem := newMemoryStore(clock)
	g := newTestGate(t, 3, mem, clock)
	ctx := context.Background()

	clock.Set(time.Date(2026, 10, 31, 23, 59, 0, 0, time.UTC))
	for i := 0; i < 3; i++ {
		_, err := g.RecordUsage(ctx)
		require.NoError(t, err)
	}
	assert.False(t, g.IsAvailable(ctx))

	clock.Set(time.Date(2026, 11, 1, 0, 0, 1, 0, time.UTC))
	assert.True(t, g.IsAvailable(ctx))
	used, err := g.Usage(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), used)

	ok, err := mem.Exists(ctx, "quotaguard:search:2026-10")
	require.NoError(t, err)
	assert.True(t, ok, "previous month's key is left to expire on its own")
}

func TestSearchGate_Status(t *testing.T) {
	clock := newFakeClock()
	g := newTestGate(t, 3, newMemoryStore(clock), clock)
	ctx := context.Background()

	_, err := g.RecordUsage(ctx)
	require.NoError(t, err)

	st, err := g.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, "2026-10", st.Month)
	assert.Equal(t, int64(1), st.Used)
	assert.Equal(t, int64(3), st.Quota)
	assert.Equal(t, int64(2), st.Remaining)
	assert.True(t, st.Available)
	assert.Equal(t, time.Date(2026, 11, 1, 0, 0, 0, 0, time.UTC), st.ResetAt)
}

func TestSearchGate_StatusDecemberRollsYear(t *testing.T) {
	clock := newFakeClock()
	clock.Set(time.Date(2026, 12, 20, 8, 0, 0, 0, time.UTC))
	g := newTestGate(t, 3, newMemoryStore(clock), clock)

	st, err := g.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC), st.ResetAt)
}

func TestSearchGate_Reset(t *testing.T) {
	clock := newFakeClock()
	g := newTestGate(t, 3, newMemoryStore(clock), clock)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := g.RecordUsage(ctx)
		require.NoError(t, err)
	}
	require.False(t, g.IsAvailable(ctx))

	require.NoError(t, g.Reset(ctx))
	assert.True(t, g.IsAvailable(ctx))
}

func TestNewSearchGate_Invalid(t *testing.T) {
	clock := newFakeClock()

	_, err := qg.NewSearchGate(qg.SearchConfig{MonthlyFreeQuota: -1}, newMemoryStore(clock))
	assert.ErrorIs(t, err, qg.ErrInvalidConfig)

	_, err = qg.NewSearchGate(qg.SearchConfig{MonthlyFreeQuota: 1}, nil)
	assert.ErrorIs(t, err, qg.ErrInvalidConfig)
}

package meter

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ineyio/quotaguard"
	"github.com/ineyio/quotaguard/store"
)

func TestPrometheusMeter(t *testing.T) {
	m := NewPrometheusMeter(prometheus.NewRegistry())

	m.OnAdmission(quotaguard.AdmissionEvent{Backend: "primary", Outcome: quotaguard.AdmissionAdmitted})
	m.OnAdmission(quotaguard.AdmissionEvent{Outcome: quotaguard.AdmissionNoneAvailable})
	m.OnResult(quotaguard.ResultEvent{
		Backend:  "primary",
		Success:  true,
		Duration: 120 * time.Millisecond,
		Usage:    quotaguard.TokenUsage{PromptTokens: 10, CompletionTokens: 20, TotalTokens: 30},
		Chunks:   2,
	})
	m.OnResult(quotaguard.ResultEvent{Backend: "fallback", Success: false})
	m.OnSearch(quotaguard.SearchEvent{Available: true})
	m.OnSearch(quotaguard.SearchEvent{Available: true, Recorded: true, Used: 1})
	m.OnSearch(quotaguard.SearchEvent{})

	assert.Equal(t, 1.0, testutil.ToFloat64(m.admissions.WithLabelValues("primary", "admitted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.admissions.WithLabelValues("", "none_available")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.results.WithLabelValues("primary", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.results.WithLabelValues("fallback", "error")))
	assert.Equal(t, 10.0, testutil.ToFloat64(m.tokens.WithLabelValues("primary", "prompt")))
	assert.Equal(t, 20.0, testutil.ToFloat64(m.tokens.WithLabelValues("primary", "completion")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.searches.WithLabelValues("available")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.searches.WithLabelValues("recorded")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.searches.WithLabelValues("unavailable")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.chunks))
}

func TestPrometheusMeter_DuplicateRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewPrometheusMeter(reg)
	assert.Panics(t, func() { NewPrometheusMeter(reg) })
}

func TestCapacityCollector(t *testing.T) {
	ctx := context.Background()
	cfg := quotaguard.Config{
		Priority: []quotaguard.BackendID{"primary", "fallback"},
		Backends: []quotaguard.BackendConfig{
			{ID: "primary", Limits: quotaguard.StaticLimits{RPM: 2, TPM: 1000, RPD: 100}},
			{ID: "fallback", Limits: quotaguard.StaticLimits{RPM: 10, TPM: 1000, RPD: 100}},
		},
		Search: quotaguard.SearchConfig{MonthlyFreeQuota: 3},
	}
	cs := store.NewMemoryStore()
	lim, err := quotaguard.NewLimiter(cfg, cs)
	require.NoError(t, err)
	gate, err := quotaguard.NewSearchGate(cfg.Search, cs)
	require.NoError(t, err)

	require.NoError(t, lim.RecordUsage(ctx, "primary", quotaguard.Usage{Requests: 2, Tokens: 50}))
	_, err = gate.RecordUsage(ctx)
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	c := NewCapacityCollector(lim, gate)
	require.NoError(t, reg.Register(c))

	assert.Equal(t, 6, testutil.CollectAndCount(c, "quotaguard_backend_usage"))

	expected := `
# HELP quotaguard_backend_admissible 1 if the backend can admit a request
# TYPE quotaguard_backend_admissible gauge
quotaguard_backend_admissible{backend="fallback"} 1
quotaguard_backend_admissible{backend="primary"} 0
# HELP quotaguard_search_quota Monthly free search quota
# TYPE quotaguard_search_quota gauge
quotaguard_search_quota 3
# HELP quotaguard_search_used Searches recorded this month
# TYPE quotaguard_search_used gauge
quotaguard_search_used 1
`
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"quotaguard_backend_admissible", "quotaguard_search_quota", "quotaguard_search_used"))
}

func TestCapacityCollector_WithoutSearch(t *testing.T) {
	cfg := quotaguard.Config{
		Priority: []quotaguard.BackendID{"only"},
		Backends: []quotaguard.BackendConfig{
			{ID: "only", Limits: quotaguard.StaticLimits{RPM: 10, TPM: 1000, RPD: 100}},
		},
	}
	lim, err := quotaguard.NewLimiter(cfg, store.NewMemoryStore())
	require.NoError(t, err)

	c := NewCapacityCollector(lim, nil)
	assert.Equal(t, 0, testutil.CollectAndCount(c, "quotaguard_search_used"))
	assert.Equal(t, 3, testutil.CollectAndCount(c, "quotaguard_backend_limit"))
}

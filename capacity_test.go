package quotaguard_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	qg "github.com/ineyio/quotaguard"
)

func TestComputeCapacity_FloatThreshold(t *testing.T) {
	now := time.Date(2026, 10, 14, 9, 30, 0, 0, time.UTC)
	limits := qg.StaticLimits{RPM: 15, TPM: 1000, RPD: 100}

	snap := qg.ComputeCapacity("m", limits, map[qg.Metric]qg.Counter{
		qg.MetricRPM: {Value: 11},
	}, 0.8, now)
	assert.True(t, snap.CanAdmit)
	assert.Equal(t, 12.0, snap.Metrics[qg.MetricRPM].Threshold)

	snap = qg.ComputeCapacity("m", limits, map[qg.Metric]qg.Counter{
		qg.MetricRPM: {Value: 12},
	}, 0.8, now)
	assert.False(t, snap.CanAdmit)
	assert.False(t, snap.Metrics[qg.MetricRPM].Admissible)
	assert.True(t, snap.Metrics[qg.MetricTPM].Admissible)
}

func TestComputeCapacity_FractionalThreshold(t *testing.T) {
	now := time.Date(2026, 10, 14, 9, 30, 0, 0, time.UTC)
	// 10 * 0.75 = 7.5: 7 admits, 8 does not.
	limits := qg.StaticLimits{RPM: 10, TPM: 1000, RPD: 100}

	snap := qg.ComputeCapacity("m", limits, map[qg.Metric]qg.Counter{qg.MetricRPM: {Value: 7}}, 0.75, now)
	assert.True(t, snap.CanAdmit)

	snap = qg.ComputeCapacity("m", limits, map[qg.Metric]qg.Counter{qg.MetricRPM: {Value: 8}}, 0.75, now)
	assert.False(t, snap.CanAdmit)
}

func TestComputeCapacity_ResetAt(t *testing.T) {
	now := time.Date(2026, 10, 14, 9, 30, 0, 0, time.UTC)
	expires := now.Add(17 * time.Second)
	limits := qg.StaticLimits{RPM: 10, TPM: 1000, RPD: 100}

	snap := qg.ComputeCapacity("m", limits, map[qg.Metric]qg.Counter{
		qg.MetricRPM: {Value: 3, ExpiresAt: expires},
	}, 0.8, now)

	assert.Equal(t, expires, snap.ResetAt(qg.MetricRPM))
	assert.Equal(t, now.Add(time.Minute), snap.ResetAt(qg.MetricTPM), "missing counter resets one window from now")
	assert.Equal(t, now.Add(24*time.Hour), snap.ResetAt(qg.MetricRPD))
}

func TestComputeCapacity_Utilization(t *testing.T) {
	now := time.Date(2026, 10, 14, 9, 30, 0, 0, time.UTC)
	limits := qg.StaticLimits{RPM: 10, TPM: 1000, RPD: 100}

	snap := qg.ComputeCapacity("m", limits, map[qg.Metric]qg.Counter{
		qg.MetricRPM: {Value: 2},
		qg.MetricTPM: {Value: 600},
		qg.MetricRPD: {Value: 2},
	}, 0.8, now)

	assert.InDelta(t, 60.0, snap.Utilization, 1e-9)
	assert.Equal(t, int64(400), snap.Remaining(qg.MetricTPM))
}

func TestAdmitsProjected(t *testing.T) {
	now := time.Date(2026, 10, 14, 9, 30, 0, 0, time.UTC)
	limits := qg.StaticLimits{RPM: 10, TPM: 1000, RPD: 100}
	snap := qg.ComputeCapacity("m", limits, map[qg.Metric]qg.Counter{
		qg.MetricTPM: {Value: 500},
	}, 0.8, now)

	tests := []struct {
		name      string
		projected qg.Usage
		want      bool
	}{
		{"zero falls back to plain rule", qg.Usage{}, true},
		{"fits", qg.Usage{Requests: 1, Tokens: 300}, true},
		{"last token lands on threshold", qg.Usage{Requests: 1, Tokens: 301}, false},
		{"too many requests", qg.Usage{Requests: 9, Tokens: 1}, false},
		{"requests up to threshold", qg.Usage{Requests: 8, Tokens: 1}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, snap.AdmitsProjected(tt.projected))
		})
	}
}

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, int64(3), qg.EstimateTokens(nil))
	// "hello" → 3, +4 overhead, +3 base
	assert.Equal(t, int64(10), qg.EstimateTokens([]qg.Message{{Role: "user", Content: "hello"}}))
	// four runes of Japanese count by rune, not byte
	assert.Equal(t, int64(9), qg.EstimateTokens([]qg.Message{{Role: "user", Content: "こんにちは"[:12]}}))
}

package quotaguard

import (
	"math"
	"time"
)

// ComputeCapacity turns raw counters and static limits into a snapshot.
//
// A metric is admissible while current < limit*buffer. Counters absent from
// the map count as zero with a window starting at now.
func ComputeCapacity(backend BackendID, limits StaticLimits, counters map[Metric]Counter, buffer float64, now time.Time) CapacitySnapshot {
	snap := CapacitySnapshot{
		Backend:  backend,
		Limits:   limits,
		Metrics:  make(map[Metric]MetricCapacity, len(allMetrics)),
		CanAdmit: true,
	}

	for _, m := range allMetrics {
		c := counters[m]
		limit := limits.Of(m)
		threshold := scaledLimit(limit, buffer)

		resetAt := c.ExpiresAt
		if resetAt.IsZero() {
			resetAt = now.Add(m.Window())
		}

		mc := MetricCapacity{
			Limit:      limit,
			Threshold:  threshold,
			Current:    c.Value,
			Remaining:  max(0, limit-c.Value),
			ResetAt:    resetAt,
			Admissible: admits(c.Value, 0, threshold),
		}
		snap.Metrics[m] = mc

		if !mc.Admissible {
			snap.CanAdmit = false
		}
		if limit > 0 {
			snap.Utilization = max(snap.Utilization, float64(c.Value)/float64(limit)*100)
		}
	}

	return snap
}

// AdmitsProjected reports whether the snapshot admits a request expected to
// consume the given usage. Each unit of the projection must itself fall under
// the threshold, so a zero or single-unit projection is the plain rule.
func (s CapacitySnapshot) AdmitsProjected(projected Usage) bool {
	for _, m := range allMetrics {
		mc, ok := s.Metrics[m]
		if !ok || !admits(mc.Current, projected.of(m), mc.Threshold) {
			return false
		}
	}
	return true
}

func admits(current, projected int64, threshold float64) bool {
	return float64(current+max(projected, 1)-1) < threshold
}

// scaledLimit returns limit*buffer, snapping float noise to the nearest
// integer so that e.g. 15*0.8 compares as exactly 12.
func scaledLimit(limit int64, buffer float64) float64 {
	t := float64(limit) * buffer
	if r := math.Round(t); math.Abs(t-r) < 1e-9 {
		return r
	}
	return t
}

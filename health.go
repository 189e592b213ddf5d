package quotaguard

import (
	"sync"
	"time"
)

const (
	healthFailureThreshold = 3
	healthFailureWindow    = 5 * time.Minute
	healthUnhealthyPeriod  = 30 * time.Second
)

// HealthState describes the health of a backend.
type HealthState int

const (
	HealthHealthy HealthState = iota
	HealthUnhealthy
	HealthHalfOpen
)

func (h HealthState) String() string {
	switch h {
	case HealthHealthy:
		return "healthy"
	case HealthUnhealthy:
		return "unhealthy"
	case HealthHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// HealthTracker tracks per-backend health using a circuit breaker pattern.
// It is independent of quota: a backend with capacity left can still be
// skipped after repeated call failures.
type HealthTracker struct {
	mu       sync.Mutex
	backends map[BackendID]*backendHealth
	now      func() time.Time
}

type backendHealth struct {
	state       HealthState
	failures    []time.Time // sliding window of failure timestamps
	unhealthyAt time.Time
}

// NewHealthTracker creates a new HealthTracker.
func NewHealthTracker() *HealthTracker {
	return &HealthTracker{
		backends: make(map[BackendID]*backendHealth),
		now:      time.Now,
	}
}

// GetHealth returns the current health state for a backend.
func (h *HealthTracker) GetHealth(id BackendID) HealthState {
	h.mu.Lock()
	defer h.mu.Unlock()

	bh, ok := h.backends[id]
	if !ok {
		return HealthHealthy
	}

	// Unhealthy period elapsed → half-open.
	if bh.state == HealthUnhealthy && h.now().Sub(bh.unhealthyAt) >= healthUnhealthyPeriod {
		bh.state = HealthHalfOpen
	}
	return bh.state
}

// RecordSuccess records a successful call.
func (h *HealthTracker) RecordSuccess(id BackendID) {
	h.mu.Lock()
	defer h.mu.Unlock()

	bh := h.getOrCreate(id)
	bh.state = HealthHealthy
	bh.failures = bh.failures[:0]
}

// RecordFailure records a failed call.
func (h *HealthTracker) RecordFailure(id BackendID) {
	h.mu.Lock()
	defer h.mu.Unlock()

	bh := h.getOrCreate(id)
	if bh.state == HealthUnhealthy {
		return
	}

	now := h.now()

	// A half-open backend that fails again trips immediately.
	if bh.state == HealthHalfOpen {
		bh.state = HealthUnhealthy
		bh.unhealthyAt = now
		return
	}

	cutoff := now.Add(-healthFailureWindow)
	valid := bh.failures[:0]
	for _, t := range bh.failures {
		if t.After(cutoff) {
			valid = append(valid, t)
		}
	}
	bh.failures = append(valid, now)

	if len(bh.failures) >= healthFailureThreshold {
		bh.state = HealthUnhealthy
		bh.unhealthyAt = now
	}
}

func (h *HealthTracker) getOrCreate(id BackendID) *backendHealth {
	bh, ok := h.backends[id]
	if !ok {
		bh = &backendHealth{state: HealthHealthy}
		h.backends[id] = bh
	}
	return bh
}

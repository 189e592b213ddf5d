package quotaguard

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ineyio/quotaguard/chunk"
)

// Router answers requests with the first admissible backend, records the
// consumed quota and splits the answer for delivery.
type Router struct {
	cfg       Config
	limiter   *Limiter
	search    *SearchGate
	backends  map[BackendID]Backend
	meter     Meter
	health    *HealthTracker
	projected bool
}

// Option configures a Router.
type Option func(*Router)

// WithMeter sets the meter.
func WithMeter(m Meter) Option {
	return func(r *Router) { r.meter = m }
}

// WithHealthTracker sets the health tracker.
func WithHealthTracker(h *HealthTracker) Option {
	return func(r *Router) { r.health = h }
}

// WithProjectedAdmission makes admission count the estimated cost of the
// incoming request and not only already-consumed quota.
func WithProjectedAdmission(enabled bool) Option {
	return func(r *Router) { r.projected = enabled }
}

// Request is one incoming chat request.
type Request struct {
	Messages []Message

	// Preferred is tried before the configured priority order.
	Preferred BackendID

	// Search asks for web-search grounding when the monthly quota allows it.
	Search bool
}

// Answer is a delivered answer.
type Answer struct {
	RequestID  string
	Backend    BackendID
	Chunks     []string
	Usage      TokenUsage
	Attempts   int
	SearchUsed bool
}

// NewRouter creates a Router. search may be nil when no search capability is
// configured.
func NewRouter(cfg Config, limiter *Limiter, search *SearchGate, backends []Backend, opts ...Option) (*Router, error) {
	if limiter == nil {
		return nil, fmt.Errorf("%w: limiter is required", ErrInvalidConfig)
	}
	if len(backends) == 0 {
		return nil, fmt.Errorf("%w: at least one backend is required", ErrInvalidConfig)
	}
	cfg.ApplyDefaults()

	bm := make(map[BackendID]Backend, len(backends))
	for _, b := range backends {
		if _, ok := limiter.limits[b.ID()]; !ok {
			return nil, fmt.Errorf("%w: backend %q has no limits configured", ErrInvalidConfig, b.ID())
		}
		bm[b.ID()] = b
	}

	r := &Router{
		cfg:      cfg,
		limiter:  limiter,
		search:   search,
		backends: bm,
		health:   NewHealthTracker(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.meter == nil {
		r.meter = noopMeter{}
	}
	return r, nil
}

// Answer routes the request, falling back through the priority order on
// retryable backend failures.
func (r *Router) Answer(ctx context.Context, req Request) (Answer, error) {
	requestID := uuid.NewString()

	search := false
	if req.Search && r.search != nil {
		search = r.search.IsAvailable(ctx)
		r.meter.OnSearch(SearchEvent{RequestID: requestID, Available: search})
	}

	var projected Usage
	if r.projected {
		projected = Usage{Requests: 1, Tokens: EstimateTokens(req.Messages)}
	}

	tried := make(map[BackendID]bool)
	skip := func(id BackendID) bool {
		if tried[id] {
			return true
		}
		if _, ok := r.backends[id]; !ok {
			return true
		}
		return r.health.GetHealth(id) == HealthUnhealthy
	}

	var lastErr error
	for attempt := 1; ; attempt++ {
		id, err := r.limiter.Select(ctx, req.Preferred, WithSkip(skip), WithProjected(projected))
		if err != nil {
			outcome := AdmissionNoneAvailable
			if errors.Is(err, ErrSelectionFailed) {
				outcome = AdmissionSelectionFailed
			}
			r.meter.OnAdmission(AdmissionEvent{
				RequestID: requestID,
				Preferred: req.Preferred,
				Outcome:   outcome,
				Attempt:   attempt,
				Projected: projected,
			})
			if lastErr != nil {
				return Answer{}, &RouterError{
					Err:       errors.Join(ErrAllFailed, lastErr),
					RequestID: requestID,
					Attempts:  attempt - 1,
				}
			}
			return Answer{}, err
		}

		tried[id] = true
		r.meter.OnAdmission(AdmissionEvent{
			RequestID: requestID,
			Backend:   id,
			Preferred: req.Preferred,
			Outcome:   AdmissionAdmitted,
			Attempt:   attempt,
			Projected: projected,
		})

		start := time.Now()
		resp, err := r.backends[id].Generate(ctx, GenerateRequest{Messages: req.Messages, Search: search})
		duration := time.Since(start)

		if err != nil {
			r.health.RecordFailure(id)
			r.meter.OnResult(ResultEvent{
				RequestID: requestID,
				Backend:   id,
				Success:   false,
				Duration:  duration,
				Error:     err,
			})
			if IsFatal(err) {
				return Answer{}, &RouterError{
					Err:       err,
					RequestID: requestID,
					Backend:   id,
					Attempts:  attempt,
				}
			}
			lastErr = err
			continue
		}

		r.health.RecordSuccess(id)
		if err := r.limiter.RecordUsage(ctx, id, Usage{Requests: 1, Tokens: resp.Usage.TotalTokens}); err != nil {
			r.limiter.logger.Error("usage not recorded", "request_id", requestID, "backend", id, "error", err)
		}

		searchUsed := search && resp.SearchUsed
		if searchUsed {
			used, err := r.search.RecordUsage(ctx)
			if err != nil {
				r.search.logger.Error("search usage not recorded", "request_id", requestID, "error", err)
			}
			r.meter.OnSearch(SearchEvent{RequestID: requestID, Available: true, Recorded: err == nil, Used: used})
		}

		chunks := chunk.Paginate(resp.Content, r.cfg.MaxMessageLength)
		r.meter.OnResult(ResultEvent{
			RequestID: requestID,
			Backend:   id,
			Success:   true,
			Duration:  duration,
			Usage:     resp.Usage,
			Chunks:    len(chunks),
		})

		return Answer{
			RequestID:  requestID,
			Backend:    id,
			Chunks:     chunks,
			Usage:      resp.Usage,
			Attempts:   attempt,
			SearchUsed: searchUsed,
		}, nil
	}
}

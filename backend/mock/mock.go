// Package mock provides an in-process Backend for tests and examples.
package mock

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/ineyio/quotaguard"
)

// Backend is a mock AI backend.
type Backend struct {
	id           quotaguard.BackendID
	content      string
	latency      time.Duration
	failAfter    int
	searchUsed   bool
	callCount    atomic.Int64
	staticErr    error
	usage        quotaguard.TokenUsage
	responseFunc func(quotaguard.GenerateRequest) (quotaguard.GenerateResponse, error)
}

var _ quotaguard.Backend = (*Backend)(nil)

// Option configures a mock Backend.
type Option func(*Backend)

// New creates a mock backend with the given id and options.
func New(id quotaguard.BackendID, opts ...Option) *Backend {
	b := &Backend{
		id:      id,
		content: "Hello from mock backend",
		usage: quotaguard.TokenUsage{
			PromptTokens:     10,
			CompletionTokens: 20,
			TotalTokens:      30,
		},
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// WithContent sets the answer text.
func WithContent(s string) Option {
	return func(b *Backend) { b.content = s }
}

// WithLatency adds simulated latency to each call.
func WithLatency(d time.Duration) Option {
	return func(b *Backend) { b.latency = d }
}

// WithFailAfter makes the backend fail after N successful calls.
func WithFailAfter(n int) Option {
	return func(b *Backend) { b.failAfter = n }
}

// WithError makes the backend always return this error.
func WithError(err error) Option {
	return func(b *Backend) { b.staticErr = err }
}

// WithUsage sets the token usage returned by the mock.
func WithUsage(u quotaguard.TokenUsage) Option {
	return func(b *Backend) { b.usage = u }
}

// WithSearch makes the backend report that it used search whenever the
// request allowed it.
func WithSearch() Option {
	return func(b *Backend) { b.searchUsed = true }
}

// WithResponseFunc sets a custom response function.
func WithResponseFunc(fn func(quotaguard.GenerateRequest) (quotaguard.GenerateResponse, error)) Option {
	return func(b *Backend) { b.responseFunc = fn }
}

func (b *Backend) ID() quotaguard.BackendID { return b.id }

func (b *Backend) Generate(ctx context.Context, req quotaguard.GenerateRequest) (quotaguard.GenerateResponse, error) {
	if b.latency > 0 {
		select {
		case <-time.After(b.latency):
		case <-ctx.Done():
			return quotaguard.GenerateResponse{}, ctx.Err()
		}
	}

	count := b.callCount.Add(1)

	if b.staticErr != nil {
		return quotaguard.GenerateResponse{}, b.staticErr
	}

	if b.failAfter > 0 && int(count) > b.failAfter {
		return quotaguard.GenerateResponse{}, quotaguard.ErrBackendUnavailable
	}

	if b.responseFunc != nil {
		return b.responseFunc(req)
	}

	return quotaguard.GenerateResponse{
		Content:    b.content,
		Usage:      b.usage,
		SearchUsed: req.Search && b.searchUsed,
	}, nil
}

// CallCount returns the number of calls made to the backend.
func (b *Backend) CallCount() int64 { return b.callCount.Load() }

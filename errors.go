package quotaguard

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
)

// Sentinel errors.
var (
	ErrUnknownBackend     = errors.New("quotaguard: unknown backend")
	ErrStore              = errors.New("quotaguard: counter store failure")
	ErrNoBackendAvailable = errors.New("quotaguard: no backend available")
	ErrSelectionFailed    = errors.New("quotaguard: backend selection failed")
	ErrInvalidConfig      = errors.New("quotaguard: invalid config")
	ErrInvalidUsage       = errors.New("quotaguard: invalid usage")

	ErrRateLimited        = errors.New("quotaguard: rate limited by backend")
	ErrAuthFailed         = errors.New("quotaguard: authentication failed")
	ErrInvalidRequest     = errors.New("quotaguard: invalid request")
	ErrBackendUnavailable = errors.New("quotaguard: backend unavailable")
	ErrAllFailed          = errors.New("quotaguard: all backends failed")
)

// StoreError wraps a counter store failure with the operation and key involved.
type StoreError struct {
	Op  string
	Key string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("quotaguard: store %s %q: %v", e.Op, e.Key, e.Err)
}

func (e *StoreError) Unwrap() []error {
	return []error{ErrStore, e.Err}
}

func storeErr(op, key string, err error) error {
	return &StoreError{Op: op, Key: key, Err: err}
}

// SelectionError reports a selection that found no admissible backend
// while at least one candidate could not be evaluated.
type SelectionError struct {
	Failures map[BackendID]error
}

func (e *SelectionError) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for _, id := range slices.Sorted(maps.Keys(e.Failures)) {
		parts = append(parts, fmt.Sprintf("%s: %v", id, e.Failures[id]))
	}
	return fmt.Sprintf("%v: %s", ErrSelectionFailed, strings.Join(parts, "; "))
}

func (e *SelectionError) Unwrap() error {
	return ErrSelectionFailed
}

// RouterError wraps an error with routing context.
type RouterError struct {
	Err       error
	RequestID string
	Backend   BackendID
	Attempts  int
}

func (e *RouterError) Error() string {
	return fmt.Sprintf("quotaguard: request=%s backend=%s attempts=%d: %v",
		e.RequestID, e.Backend, e.Attempts, e.Err)
}

func (e *RouterError) Unwrap() error {
	return e.Err
}

// IsFatal returns true if the error should not be retried with another backend.
func IsFatal(err error) bool {
	return errors.Is(err, ErrAuthFailed) || errors.Is(err, ErrInvalidRequest)
}

// IsRetryable returns true if the error can be retried with another backend.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrRateLimited) ||
		errors.Is(err, ErrBackendUnavailable)
}

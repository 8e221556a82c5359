package engine

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrStopped  = errors.New("runner stopped")
	ErrStopping = errors.New("runner stopping")
	// ErrOverrun is returned by Enqueue when the queue is saturated; the fire is skipped.
	ErrOverrun = errors.New("runner queue saturated")
)

// retryHint wraps an action error with instructions for the retry loop.
type retryHint struct {
	err   error
	stop  bool
	after time.Duration
}

func (h *retryHint) Error() string {
	if h.stop {
		return "permanent: " + h.err.Error()
	}
	return fmt.Sprintf("retry after %s: %v", h.after, h.err)
}

func (h *retryHint) Unwrap() error { return h.err }

// NoRetry marks err as permanent: the runner reports it without retrying.
// Retry wrappers are stripped from Result.Err.
func NoRetry(err error) error {
	if err == nil {
		return nil
	}
	return &retryHint{err: err, stop: true}
}

// IsNoRetry reports whether err was wrapped with NoRetry.
func IsNoRetry(err error) bool {
	var h *retryHint
	return errors.As(err, &h) && h.stop
}

// RetryAfter asks for the next attempt after d instead of the exponential
// backoff. The delay is still capped by RetryMaxDelay and jittered.
func RetryAfter(err error, d time.Duration) error {
	if err == nil {
		return nil
	}
	return &retryHint{err: err, after: max(d, 0)}
}

// hintOf unpacks a retryHint if err carries one.
func hintOf(err error) (*retryHint, bool) {
	var h *retryHint
	if err == nil || !errors.As(err, &h) {
		return nil, false
	}
	return h, true
}

// PanicError is returned for an action that panicked.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string { return fmt.Sprintf("panic: %v", e.Value) }

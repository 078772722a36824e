package rate_limiter

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// DefaultKeyPrefix namespaces every counter kept in a remote store.
const DefaultKeyPrefix = "ratelimit:"

// ErrRateLimited is returned at the HTTP boundary when admission is denied.
var ErrRateLimited = errors.New("rate limit exceeded")

// CounterBackend is a place where admission counters live.
// Check records the attempt and reports whether it is within maxRequests for window.
type CounterBackend interface {
	Name() string
	Check(ctx context.Context, key string, maxRequests int64, window time.Duration) (bool, error)
}

// BackendError reports that a remote counter store could not answer.
// The Limiter recovers from it; it is never returned by Allow.
type BackendError struct {
	Backend string
	Err     error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("%s backend: %v", e.Backend, e.Err)
}

func (e *BackendError) Unwrap() error {
	return e.Err
}

func newBackendError(backend string, err error) error {
	return &BackendError{Backend: backend, Err: err}
}

// IsBackendError reports whether err is, or wraps, a *BackendError.
func IsBackendError(err error) bool {
	var be *BackendError
	return errors.As(err, &be)
}

// Observer receives admission outcomes, e.g. for metrics.
type Observer interface {
	Decision(backend string, allowed bool)
	Fallback(backend string, err error)
}

type nopObserver struct{}

func (nopObserver) Decision(string, bool) {}
func (nopObserver) Fallback(string, error) {}

// Key builds the "{feature}-{principalId}" key used to scope a limit.
func Key(feature, principalID string) string {
	return feature + "-" + principalID
}

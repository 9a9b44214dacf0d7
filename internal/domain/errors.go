// internal/domain/errors.go
package domain

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for the service-wide error taxonomy. Callers match with
// errors.Is; layers annotate with pkg/errors Wrap without breaking the chain.
var (
	// ErrInvalidInput marks caller mistakes. Never retried internally.
	ErrInvalidInput = errors.New("invalid input")

	// ErrDataNotReady is returned while the data manager snapshots are still
	// loading. Transient; callers retry after a short backoff.
	ErrDataNotReady = errors.New("data not ready")

	// ErrNoRecommendations is returned by supervision load when nothing has
	// been generated for the (route, date) key.
	ErrNoRecommendations = errors.New("no recommendations")

	// ErrInsufficientData marks an engine run with an empty roster or a
	// missing forecast.
	ErrInsufficientData = errors.New("insufficient data")

	// ErrBackendUnavailable marks warehouse connection exhaustion or outage.
	ErrBackendUnavailable = errors.New("backend unavailable")

	// ErrStorageError marks a failed persistence operation after rollback.
	ErrStorageError = errors.New("storage error")

	// ErrBusy is returned on overlapping concurrent writes to one session.
	ErrBusy = errors.New("session busy")

	// ErrVersionConflict is the optimistic-locking failure on session save.
	ErrVersionConflict = errors.New("version conflict")

	// ErrRateLimited is returned while a narrative cooldown has not elapsed.
	ErrRateLimited = errors.New("rate limited")

	// ErrUpstreamBusy marks a narrative timeout or provider overload.
	ErrUpstreamBusy = errors.New("upstream busy")

	// ErrSaveFailed is the catch-all for save-path failures after rollback.
	ErrSaveFailed = errors.New("save failed")

	// ErrReadOnlySession marks a write against a completed (historical) session.
	ErrReadOnlySession = errors.New("session is read-only")

	// ErrNotVisited is returned when an operation references a customer that
	// has not been visited in the session.
	ErrNotVisited = errors.New("customer not visited")
)

// RateLimitError wraps ErrRateLimited with the seconds a caller must wait.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited, retry after %.0fs", e.RetryAfter.Seconds())
}

// Unwrap makes errors.Is(err, ErrRateLimited) hold.
func (e *RateLimitError) Unwrap() error { return ErrRateLimited }

// Invalidf builds an ErrInvalidInput with a formatted reason.
func Invalidf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

// IsRetryable reports whether the error kind is transient and worth a
// client-side retry after backoff.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrDataNotReady) ||
		errors.Is(err, ErrBusy) ||
		errors.Is(err, ErrBackendUnavailable) ||
		errors.Is(err, ErrRateLimited) ||
		errors.Is(err, ErrUpstreamBusy)
}

// internal/narrative/breaker.go
package narrative

import (
	"sync"
	"time"
)

// breakerState represents the current state of the upstream circuit breaker.
type breakerState int

const (
	// stateClosed - normal operation, requests pass through
	stateClosed breakerState = iota
	// stateOpen - circuit is open, requests fail fast
	stateOpen
	// stateHalfOpen - testing if the upstream has recovered
	stateHalfOpen
)

// breaker protects the narrative upstream against cascading failures. After
// maxFailures consecutive failures the circuit opens and calls fail fast as
// UpstreamBusy until the reset timeout elapses; the first probe through the
// half-open circuit decides whether it closes again.
type breaker struct {
	mu sync.Mutex

	maxFailures  int
	resetTimeout time.Duration

	state       breakerState
	failures    int
	openedAt    time.Time
	halfOpenOut bool
}

func newBreaker(maxFailures int, resetTimeout time.Duration) *breaker {
	if maxFailures <= 0 {
		maxFailures = 3
	}
	if resetTimeout <= 0 {
		resetTimeout = 30 * time.Second
	}
	return &breaker{maxFailures: maxFailures, resetTimeout: resetTimeout}
}

// allow reports whether a request may proceed right now.
func (b *breaker) allow(now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case stateClosed:
		return true
	case stateOpen:
		if now.Sub(b.openedAt) >= b.resetTimeout {
			b.state = stateHalfOpen
			b.halfOpenOut = true
			return true
		}
		return false
	default: // half-open: one probe at a time
		if b.halfOpenOut {
			return false
		}
		b.halfOpenOut = true
		return true
	}
}

// record reports the outcome of a permitted request.
func (b *breaker) record(success bool, now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if success {
		b.state = stateClosed
		b.failures = 0
		b.halfOpenOut = false
		return
	}

	b.halfOpenOut = false
	b.failures++
	if b.state == stateHalfOpen || b.failures >= b.maxFailures {
		b.state = stateOpen
		b.openedAt = now
	}
}

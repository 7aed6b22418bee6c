package connectivity

import (
	"context"
	"errors"
	"sync"
	"time"
)

// BreakerState is what State reports about a CircuitBreaker.
type BreakerState int

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	return [...]string{"closed", "open", "half_open"}[s]
}

// CircuitBreaker fails OCR calls fast after repeated errors. Once the
// cooldown elapses a single probe call goes through; its outcome either
// closes the breaker or restarts the cooldown.
type CircuitBreaker struct {
	threshold int
	cooldown  time.Duration
	now       func() time.Time

	mu        sync.Mutex
	failures  int
	openUntil time.Time // zero while closed
	probing   bool
}

// BreakerOption configures a CircuitBreaker.
type BreakerOption func(*CircuitBreaker)

// WithBreakerThreshold sets how many consecutive failures open the breaker.
func WithBreakerThreshold(n int) BreakerOption {
	return func(cb *CircuitBreaker) { cb.threshold = n }
}

// WithBreakerResetTimeout sets the cooldown before a probe is allowed.
func WithBreakerResetTimeout(d time.Duration) BreakerOption {
	return func(cb *CircuitBreaker) { cb.cooldown = d }
}

// WithBreakerClock replaces time.Now.
func WithBreakerClock(fn func() time.Time) BreakerOption {
	return func(cb *CircuitBreaker) { cb.now = fn }
}

// NewCircuitBreaker opens after 5 consecutive failures and probes after 30s.
func NewCircuitBreaker(opts ...BreakerOption) *CircuitBreaker {
	cb := &CircuitBreaker{threshold: 5, cooldown: 30 * time.Second, now: time.Now}
	for _, o := range opts {
		o(cb)
	}
	return cb
}

// State reports the breaker state without reserving the probe.
func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	switch {
	case cb.openUntil.IsZero():
		return BreakerClosed
	case cb.probing || cb.now().Before(cb.openUntil):
		return BreakerOpen
	default:
		return BreakerHalfOpen
	}
}

// Allow reports whether a call may proceed. In half-open state the first
// caller takes the probe and everyone else is refused until it records.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.openUntil.IsZero() {
		return true
	}
	if cb.probing || cb.now().Before(cb.openUntil) {
		return false
	}
	cb.probing = true
	return true
}

// Record feeds the outcome of an allowed call back into the breaker.
func (cb *CircuitBreaker) Record(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if err == nil {
		cb.failures, cb.openUntil, cb.probing = 0, time.Time{}, false
		return
	}
	cb.failures++
	if cb.probing || cb.failures >= cb.threshold {
		cb.openUntil = cb.now().Add(cb.cooldown)
		cb.probing = false
	}
}

// WithCircuitBreaker refuses calls with ErrCircuitOpen while cb is open.
// A call abandoned by its caller says nothing about the service and is not
// recorded, but it releases a held probe.
func WithCircuitBreaker(cb *CircuitBreaker, service string) HandlerMiddleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, payload []byte) ([]byte, error) {
			if !cb.Allow() {
				return nil, &ErrCircuitOpen{Service: service}
			}
			resp, err := next(ctx, payload)
			if err != nil && errors.Is(ctx.Err(), context.Canceled) {
				cb.releaseProbe()
				return resp, err
			}
			cb.Record(err)
			return resp, err
		}
	}
}

func (cb *CircuitBreaker) releaseProbe() {
	cb.mu.Lock()
	cb.probing = false
	cb.mu.Unlock()
}

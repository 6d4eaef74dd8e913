package policy

import (
	"fmt"
	"sync"
	"time"
)

// PolicyTypeCircuitBreaker identifies the breaker primitive.
const PolicyTypeCircuitBreaker = "circuit_breaker"

// BreakerState is the breaker's failure-detection state.
type BreakerState string

const (
	BreakerClosed   BreakerState = "CLOSED"
	BreakerOpen     BreakerState = "OPEN"
	BreakerHalfOpen BreakerState = "HALF_OPEN"
)

// CircuitBreaker trips after a streak of consecutive failures and, once
// the recovery timeout has elapsed, admits a single half-open probe
// across all concurrent callers. All transitions happen under one lock;
// the probe slot is released only by RecordSuccess or RecordFailure.
//
// A breaker may be bound to at most one chain; binding it to a second
// chain id is an ErrInvalidState.
type CircuitBreaker struct {
	mu              sync.Mutex
	threshold       int
	recoveryTimeout time.Duration

	state        BreakerState
	failureCount int
	lastFailure  time.Time
	probeInFlight bool
	boundChainID string
	now          func() time.Time
}

// NewCircuitBreaker creates a closed breaker.
func NewCircuitBreaker(threshold int, recoveryTimeout time.Duration) *CircuitBreaker {
	if threshold <= 0 {
		threshold = 1
	}
	return &CircuitBreaker{
		threshold:       threshold,
		recoveryTimeout: recoveryTimeout,
		state:           BreakerClosed,
		now:             time.Now,
	}
}

func (cb *CircuitBreaker) PolicyType() string { return PolicyTypeCircuitBreaker }

// WithClock overrides the clock for tests.
func (cb *CircuitBreaker) WithClock(now func() time.Time) *CircuitBreaker {
	cb.now = now
	return cb
}

// Bind attaches the breaker to one chain. Rebinding to a different
// chain id fails; rebinding to the same id is a no-op.
func (cb *CircuitBreaker) Bind(chainID string) error {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.boundChainID != "" && cb.boundChainID != chainID {
		return fmt.Errorf("%w: breaker already bound to chain %s", ErrInvalidState, cb.boundChainID)
	}
	cb.boundChainID = chainID
	return nil
}

// Check admits or denies one call. In HALF_OPEN exactly one caller is
// admitted as the probe until the next RecordSuccess or RecordFailure.
func (cb *CircuitBreaker) Check(ctx Context) Decision {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == BreakerOpen && cb.now().Sub(cb.lastFailure) >= cb.recoveryTimeout {
		cb.state = BreakerHalfOpen
		cb.probeInFlight = false
	}

	switch cb.state {
	case BreakerOpen:
		return Denyf(PolicyTypeCircuitBreaker, "circuit open")
	case BreakerHalfOpen:
		if cb.probeInFlight {
			return Denyf(PolicyTypeCircuitBreaker, "half-open probe already in flight")
		}
		cb.probeInFlight = true
		return Allowf(PolicyTypeCircuitBreaker, "half-open probe admitted")
	default:
		return Allowf(PolicyTypeCircuitBreaker, "circuit closed")
	}
}

// RecordSuccess clears the failure streak. A half-open probe success
// closes the circuit and releases the probe slot.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failureCount = 0
	cb.probeInFlight = false
	if cb.state == BreakerHalfOpen {
		cb.state = BreakerClosed
	}
}

// RecordFailure extends the failure streak. Reaching the threshold, or
// failing the half-open probe, opens the circuit and releases the
// probe slot.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failureCount++
	cb.lastFailure = cb.now()
	cb.probeInFlight = false
	if cb.state == BreakerHalfOpen || cb.failureCount >= cb.threshold {
		cb.state = BreakerOpen
	}
}

// State returns the current state, applying the recovery transition.
func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == BreakerOpen && cb.now().Sub(cb.lastFailure) >= cb.recoveryTimeout {
		cb.state = BreakerHalfOpen
		cb.probeInFlight = false
	}
	return cb.state
}

// BoundChainID returns the chain the breaker is bound to, if any.
func (cb *CircuitBreaker) BoundChainID() string {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.boundChainID
}

// Reset closes the circuit and clears all counters. The chain binding
// survives a reset.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = BreakerClosed
	cb.failureCount = 0
	cb.probeInFlight = false
	cb.lastFailure = time.Time{}
}

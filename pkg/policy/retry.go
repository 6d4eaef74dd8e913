package policy

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"
)

// PolicyTypeRetryBudget identifies the retry container primitive.
const PolicyTypeRetryBudget = "retry_budget"

// RetryConfig tunes the backoff schedule.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	// Jitter is the fractional spread applied to each delay,
	// delay * (1 ± Jitter). Non-zero by default so that a fleet of
	// retrying agents does not stampede in lockstep.
	Jitter float64
}

// DefaultRetryConfig returns the standard schedule.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		BaseDelay:   100 * time.Millisecond,
		MaxDelay:    5 * time.Second,
		Jitter:      0.2,
	}
}

// RetryContainer executes a callable under an exponential backoff
// schedule with a hard attempt budget. Execute is serialised: two
// callers cannot interleave inside one container. After a terminal
// failure Check denies until Reset.
type RetryContainer struct {
	execMu sync.Mutex // serialises Execute
	mu     sync.Mutex // guards counters
	cfg    RetryConfig

	attemptCount int
	totalRetries int
	exhausted    bool
	sleep        func(time.Duration)
	rng          *rand.Rand
}

// NewRetryContainer validates the config and builds a container.
func NewRetryContainer(cfg RetryConfig) (*RetryContainer, error) {
	if cfg.BaseDelay < 0 || cfg.MaxDelay < 0 {
		return nil, fmt.Errorf("%w: negative backoff delay", ErrInvalidArgument)
	}
	if cfg.Jitter < 0 || cfg.Jitter >= 1 {
		return nil, fmt.Errorf("%w: jitter must be in [0, 1)", ErrInvalidArgument)
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	return &RetryContainer{
		cfg:   cfg,
		sleep: time.Sleep,
		rng:   rand.New(rand.NewSource(time.Now().UnixNano())),
	}, nil
}

func (r *RetryContainer) PolicyType() string { return PolicyTypeRetryBudget }

// WithSleep overrides the backoff sleep for tests.
func (r *RetryContainer) WithSleep(fn func(time.Duration)) *RetryContainer {
	r.sleep = fn
	return r
}

// Delay returns the backoff for attempt i: min(base * 2^i, max) spread
// by the jitter fraction.
func (r *RetryContainer) Delay(attempt int) time.Duration {
	factor := int64(1)
	if attempt > 0 {
		if attempt > 30 {
			factor = 1 << 30
		} else {
			factor = 1 << attempt
		}
	}
	d := time.Duration(int64(r.cfg.BaseDelay) * factor)
	if d > r.cfg.MaxDelay {
		d = r.cfg.MaxDelay
	}
	if r.cfg.Jitter > 0 && d > 0 {
		r.mu.Lock()
		spread := 1 - r.cfg.Jitter + 2*r.cfg.Jitter*r.rng.Float64()
		r.mu.Unlock()
		d = time.Duration(float64(d) * spread)
	}
	return d
}

// Execute runs fn until it succeeds or the attempt budget is spent.
// The context cancels between attempts; an in-flight fn is not
// interrupted.
func (r *RetryContainer) Execute(ctx context.Context, fn func() error) error {
	r.execMu.Lock()
	defer r.execMu.Unlock()

	r.mu.Lock()
	r.attemptCount = 0
	r.mu.Unlock()

	var lastErr error
	for attempt := 0; attempt < r.cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			r.markExhausted()
			return fmt.Errorf("retry aborted: %w", err)
		}

		r.mu.Lock()
		r.attemptCount++
		if attempt > 0 {
			r.totalRetries++
		}
		r.mu.Unlock()

		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if attempt < r.cfg.MaxAttempts-1 {
			r.sleep(r.Delay(attempt))
		}
	}

	r.markExhausted()
	return fmt.Errorf("retry budget exhausted after %d attempts: %w", r.cfg.MaxAttempts, lastErr)
}

func (r *RetryContainer) markExhausted() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.exhausted = true
}

// Check denies after a terminal failure until Reset.
func (r *RetryContainer) Check(ctx Context) Decision {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.exhausted {
		return Denyf(PolicyTypeRetryBudget, "retry budget exhausted")
	}
	return Allowf(PolicyTypeRetryBudget, "retry budget available")
}

// AttemptCount returns the attempts used by the last Execute.
func (r *RetryContainer) AttemptCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.attemptCount
}

// TotalRetries returns cumulative retries across all Executes.
func (r *RetryContainer) TotalRetries() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.totalRetries
}

// Reset clears the exhausted flag and counters.
func (r *RetryContainer) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attemptCount = 0
	r.totalRetries = 0
	r.exhausted = false
}

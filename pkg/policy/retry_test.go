package policy_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veronica-labs/veronica/pkg/policy"
)

func newTestContainer(t *testing.T, cfg policy.RetryConfig) *policy.RetryContainer {
	t.Helper()
	r, err := policy.NewRetryContainer(cfg)
	require.NoError(t, err)
	return r.WithSleep(func(time.Duration) {})
}

func TestRetrySucceedsAfterTransientFailures(t *testing.T) {
	r := newTestContainer(t, policy.RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: time.Second})

	calls := 0
	err := r.Execute(context.Background(), func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, r.AttemptCount())
	assert.Equal(t, 2, r.TotalRetries())
	assert.True(t, r.Check(policy.Context{}).Allowed)
}

func TestRetryTerminalFailureDeniesUntilReset(t *testing.T) {
	r := newTestContainer(t, policy.RetryConfig{MaxAttempts: 2, BaseDelay: time.Millisecond, MaxDelay: time.Second})

	err := r.Execute(context.Background(), func() error { return errors.New("down") })
	require.Error(t, err)

	d := r.Check(policy.Context{})
	assert.False(t, d.Allowed)
	assert.Equal(t, policy.PolicyTypeRetryBudget, d.PolicyType)

	r.Reset()
	assert.True(t, r.Check(policy.Context{}).Allowed)
	assert.Zero(t, r.TotalRetries())
}

func TestRetryDelaySchedule(t *testing.T) {
	r, err := policy.NewRetryContainer(policy.RetryConfig{
		MaxAttempts: 5,
		BaseDelay:   100 * time.Millisecond,
		MaxDelay:    500 * time.Millisecond,
		Jitter:      0, // deterministic for the schedule assertion
	})
	require.NoError(t, err)

	assert.Equal(t, 100*time.Millisecond, r.Delay(0))
	assert.Equal(t, 200*time.Millisecond, r.Delay(1))
	assert.Equal(t, 400*time.Millisecond, r.Delay(2))
	assert.Equal(t, 500*time.Millisecond, r.Delay(3), "capped at max")
}

func TestRetryJitterBounds(t *testing.T) {
	r, err := policy.NewRetryContainer(policy.RetryConfig{
		MaxAttempts: 2,
		BaseDelay:   100 * time.Millisecond,
		MaxDelay:    time.Second,
		Jitter:      0.2,
	})
	require.NoError(t, err)

	for i := 0; i < 200; i++ {
		d := r.Delay(0)
		assert.GreaterOrEqual(t, d, 80*time.Millisecond)
		assert.LessOrEqual(t, d, 120*time.Millisecond)
	}
}

func TestRetryInvalidConfig(t *testing.T) {
	_, err := policy.NewRetryContainer(policy.RetryConfig{BaseDelay: -time.Second})
	assert.True(t, errors.Is(err, policy.ErrInvalidArgument))

	_, err = policy.NewRetryContainer(policy.RetryConfig{Jitter: 1.5})
	assert.True(t, errors.Is(err, policy.ErrInvalidArgument))
}

func TestRetryHonoursContextCancellation(t *testing.T) {
	r := newTestContainer(t, policy.RetryConfig{MaxAttempts: 5, BaseDelay: time.Millisecond, MaxDelay: time.Second})

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := r.Execute(ctx, func() error {
		calls++
		cancel()
		return errors.New("fail then cancel")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls, "no attempt after cancellation")
}

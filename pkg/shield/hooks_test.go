package shield_test

import (
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veronica-labs/veronica/pkg/decision"
	"github.com/veronica-labs/veronica/pkg/policy"
	"github.com/veronica-labs/veronica/pkg/shield"
)

func TestSafeModeDisabledHasNoOpinion(t *testing.T) {
	sm := shield.NewSafeMode(false)
	assert.Nil(t, sm.BeforeLLMCall(callCtx(t, decision.WithToolName("search"))))
	assert.Nil(t, sm.BeforeToolCall(callCtx(t)))
	assert.Nil(t, sm.OnError(callCtx(t), assert.AnError))
}

func TestSafeModeEnabled(t *testing.T) {
	sm := shield.NewSafeMode(true)

	// LLM calls without a tool name still pass.
	assert.Nil(t, sm.BeforeLLMCall(callCtx(t)))

	r := sm.BeforeLLMCall(callCtx(t, decision.WithToolName("search")))
	require.NotNil(t, r)
	assert.Equal(t, decision.Halt, r.Decision)

	r = sm.BeforeToolCall(callCtx(t))
	require.NotNil(t, r)
	assert.Equal(t, decision.Halt, r.Decision)

	r = sm.OnError(callCtx(t), assert.AnError)
	require.NotNil(t, r)
	assert.Equal(t, decision.Halt, r.Decision)

	sm.Disable()
	assert.Nil(t, sm.BeforeToolCall(callCtx(t)))
}

// Six consecutive calls against max_calls=5 / degrade 0.8 must read
// ALLOW x4, DEGRADE, HALT.
func TestBudgetWindowSequence(t *testing.T) {
	now := time.Now()
	h := shield.NewBudgetWindowHook(5, time.Minute, 0.8).WithClock(func() time.Time { return now })

	var got []string
	for i := 0; i < 6; i++ {
		r := h.BeforeLLMCall(callCtx(t))
		switch {
		case r == nil:
			got = append(got, "ALLOW")
		default:
			got = append(got, string(r.Decision))
		}
	}
	assert.Equal(t, []string{"ALLOW", "ALLOW", "ALLOW", "ALLOW", "DEGRADE", "HALT"}, got)
}

func TestBudgetWindowPrunesExpired(t *testing.T) {
	now := time.Now()
	h := shield.NewBudgetWindowHook(2, time.Minute, 0.5).WithClock(func() time.Time { return now })

	require.Nil(t, h.BeforeLLMCall(callCtx(t)))
	// Second call counts 1 of 2, at the 0.5 degrade fraction.
	r := h.BeforeLLMCall(callCtx(t))
	require.NotNil(t, r)
	assert.Equal(t, decision.Degrade, r.Decision)

	now = now.Add(2 * time.Minute)
	assert.Zero(t, h.WindowCount())
	assert.Nil(t, h.BeforeLLMCall(callCtx(t)), "expired entries free the window")
}

func TestTokenBudgetHaltAndDegrade(t *testing.T) {
	h := shield.NewTokenBudgetHook(shield.TokenBudgetConfig{
		MaxOutputTokens:  1000,
		DegradeThreshold: 0.8,
	})

	// 700 committed.
	require.Nil(t, h.BeforeLLMCall(callCtx(t, decision.WithTokensOut(700))))
	require.NoError(t, h.RecordUsage(700, 0, 700, 0))

	// Projection 800 hits the degrade band.
	r := h.BeforeLLMCall(callCtx(t, decision.WithTokensOut(100)))
	require.NotNil(t, r)
	assert.Equal(t, decision.Degrade, r.Decision)
	require.NoError(t, h.RecordUsage(100, 0, 100, 0))

	// Projection 1000 halts and reserves nothing.
	r = h.BeforeLLMCall(callCtx(t, decision.WithTokensOut(200)))
	require.NotNil(t, r)
	assert.Equal(t, decision.Halt, r.Decision)
	pendingOut, _ := h.Pending()
	assert.Zero(t, pendingOut)
}

func TestTokenBudgetReservationsBlockConcurrentBrink(t *testing.T) {
	h := shield.NewTokenBudgetHook(shield.TokenBudgetConfig{
		MaxOutputTokens:  1000,
		DegradeThreshold: 0.99,
	})

	const callers = 10
	const estimate = 150
	admitted := make([]bool, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r := h.BeforeLLMCall(callCtx(t, decision.WithTokensOut(estimate)))
			admitted[i] = r == nil || r.Decision != decision.Halt
		}(i)
	}
	wg.Wait()

	n := 0
	for _, ok := range admitted {
		if ok {
			n++
		}
	}
	// 6*150=900 projects below 1000; a seventh projects 1050.
	assert.Equal(t, 6, n)
}

func TestTokenBudgetReleaseWithoutCommit(t *testing.T) {
	h := shield.NewTokenBudgetHook(shield.TokenBudgetConfig{MaxOutputTokens: 100, DegradeThreshold: 0.99})
	require.Nil(t, h.BeforeLLMCall(callCtx(t, decision.WithTokensOut(50))))
	h.ReleaseReservation(50, 0)
	pendingOut, _ := h.Pending()
	assert.Zero(t, pendingOut)
	assert.Zero(t, h.CommittedOutput())
}

func TestTokenBudgetNegativeUsage(t *testing.T) {
	h := shield.NewTokenBudgetHook(shield.TokenBudgetConfig{MaxOutputTokens: 100})
	err := h.RecordUsage(0, 0, -1, 0)
	assert.True(t, errors.Is(err, policy.ErrInvalidArgument))
}

func TestInputCompressionTiers(t *testing.T) {
	h := shield.NewInputCompressionHook(10, 100, nil)

	assert.Nil(t, h.Inspect("short"))

	mid := strings.Repeat("a", 60) // estimated 15 tokens
	r := h.Inspect(mid)
	require.NotNil(t, r)
	assert.Equal(t, decision.Degrade, r.Decision)
	assert.Equal(t, 15, r.Metadata["estimated_tokens"])
	digest, _ := r.Metadata["input_sha256"].(string)
	assert.Len(t, digest, 16, "only a hash prefix may leak into metadata")
	assert.NotContains(t, r.Reason, mid)

	big := strings.Repeat("b", 500)
	r = h.Inspect(big)
	require.NotNil(t, r)
	assert.Equal(t, decision.Halt, r.Decision)
}

func TestInputCompressionCustomEstimator(t *testing.T) {
	h := shield.NewInputCompressionHook(5, 50, func(string) int { return 7 })
	r := h.Inspect("x")
	require.NotNil(t, r)
	assert.Equal(t, decision.Degrade, r.Decision)
}

func TestDegradationLadderTiers(t *testing.T) {
	l := shield.NewDegradationLadder(shield.DefaultLadderThresholds(),
		map[string]string{"gpt-4o": "gpt-4o-mini"}, 250*time.Millisecond)

	r, step := l.Evaluate(0.50, 1.0, "gpt-4o")
	assert.Nil(t, r)
	assert.Nil(t, step)

	r, step = l.Evaluate(0.81, 1.0, "gpt-4o")
	require.NotNil(t, step)
	assert.Equal(t, shield.ActionModelDowngrade, step.Action)
	assert.Equal(t, "gpt-4o-mini", step.FallbackModel)
	assert.Equal(t, decision.Degrade, r.Decision)

	_, step = l.Evaluate(0.86, 1.0, "gpt-4o")
	require.NotNil(t, step)
	assert.Equal(t, shield.ActionContextTrim, step.Action)

	r, step = l.Evaluate(0.95, 1.0, "gpt-4o")
	require.NotNil(t, step)
	assert.Equal(t, shield.ActionRateLimit, step.Action)
	assert.Equal(t, 250*time.Millisecond, step.Delay)
	assert.EqualValues(t, 250, r.Metadata["delay_ms"])
}

// End-to-end containment scenarios: runaway spend, window exhaustion,
// hanging tools and breaker lockout.
package execution_test

import (
	stdcontext "context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veronica-labs/veronica/pkg/decision"
	"github.com/veronica-labs/veronica/pkg/events"
	"github.com/veronica-labs/veronica/pkg/execution"
	"github.com/veronica-labs/veronica/pkg/policy"
	"github.com/veronica-labs/veronica/pkg/shield"
)

func eventTypes(snap execution.Snapshot) map[string]int {
	counts := make(map[string]int)
	for _, ev := range snap.Events {
		counts[ev.EventType]++
	}
	return counts
}

// Runaway retry: a driver spending $0.01 per wrap against a $0.05 cap
// is stopped on the sixth call with the budget fully, exactly, spent.
func TestScenarioRunawayBudget(t *testing.T) {
	c, err := execution.New(execution.Config{MaxCostUSD: 0.05, MaxSteps: 100})
	require.NoError(t, err)
	defer c.Close()

	var decisions []decision.Decision
	for i := 0; i < 6; i++ {
		out, err := c.WrapLLMCall(callCtx(t, decision.WithCostUSD(0.01)), echo("spend"))
		require.NoError(t, err)
		decisions = append(decisions, out.Decision)
	}

	assert.Equal(t, []decision.Decision{
		decision.Allow, decision.Allow, decision.Allow,
		decision.Allow, decision.Allow, decision.Halt,
	}, decisions)

	snap := c.Snapshot()
	assert.InDelta(t, 0.05, snap.CostUSDAccumulated, 1e-9)
	assert.GreaterOrEqual(t, eventTypes(snap)[events.TypeBudgetExceeded], 1)
}

// Budget window: six wraps against max_calls=5 / degrade 0.8 read
// ALLOW x4, DEGRADE, HALT with one window event per non-allow.
func TestScenarioBudgetWindow(t *testing.T) {
	window := shield.NewBudgetWindowHook(5, time.Minute, 0.8)
	c, err := execution.New(execution.Config{MaxCostUSD: 10, MaxSteps: 100},
		execution.WithShield(shield.NewPipeline(shield.WithPreDispatch(window))))
	require.NoError(t, err)
	defer c.Close()

	var decisions []decision.Decision
	for i := 0; i < 6; i++ {
		out, err := c.WrapLLMCall(callCtx(t), echo("ok"))
		require.NoError(t, err)
		decisions = append(decisions, out.Decision)
	}

	assert.Equal(t, []decision.Decision{
		decision.Allow, decision.Allow, decision.Allow,
		decision.Allow, decision.Degrade, decision.Halt,
	}, decisions)

	snap := c.Snapshot()
	assert.Equal(t, 2, eventTypes(snap)[events.TypeBudgetWindowExceeded])

	var got []decision.Decision
	for _, ev := range snap.Events {
		if ev.EventType == events.TypeBudgetWindowExceeded {
			got = append(got, ev.Decision)
		}
	}
	assert.Equal(t, []decision.Decision{decision.Degrade, decision.Halt}, got)
}

// Tool hang: three failing tool calls under the fail-closed default
// open the breaker; a later LLM wrap on the same context is locked out.
func TestScenarioToolHangOpensBreaker(t *testing.T) {
	cb := policy.NewCircuitBreaker(3, time.Minute)
	c, err := execution.New(execution.Config{MaxCostUSD: 10, MaxSteps: 100, MaxRetriesTotal: 10},
		execution.WithCircuitBreaker(cb))
	require.NoError(t, err)
	defer c.Close()

	for i := 0; i < 3; i++ {
		out, err := c.WrapToolCall(callCtx(t, decision.WithToolName("scraper")), fail("simulated timeout"))
		require.NoError(t, err)
		assert.Equal(t, decision.Halt, out.Decision)
	}
	assert.Equal(t, policy.BreakerOpen, cb.State())

	out, err := c.WrapLLMCall(callCtx(t), echo("never"))
	require.NoError(t, err)
	assert.Equal(t, decision.Halt, out.Decision)
	assert.Contains(t, out.Reason, "circuit open")

	counts := eventTypes(c.Snapshot())
	assert.Equal(t, 3, counts[events.TypeToolCallFailed])
	assert.Equal(t, 1, counts[events.TypeBreakerOpened])
	assert.GreaterOrEqual(t, counts[events.TypeChainCircuitOpen], 1)
}

// Retry routing: a RETRY verdict from the hook re-invokes until the
// chain retry budget runs dry, then halts.
func TestScenarioRetryBudgetExhaustion(t *testing.T) {
	retryAlways := retryVerdict{verdict: decision.Retry}
	c, err := execution.New(execution.Config{MaxCostUSD: 10, MaxSteps: 100, MaxRetriesTotal: 2},
		execution.WithShield(shield.NewPipeline(shield.WithRetry(retryAlways))))
	require.NoError(t, err)
	defer c.Close()

	calls := 0
	out, err := c.WrapLLMCall(callCtx(t), func(stdcontext.Context) (string, error) {
		calls++
		return "", errors.New("always down")
	})
	require.NoError(t, err)
	assert.Equal(t, decision.Halt, out.Decision)
	assert.Equal(t, "retry budget exhausted", out.Reason)
	assert.Equal(t, 3, calls, "initial call plus two retries")

	snap := c.Snapshot()
	assert.Equal(t, 2, snap.RetriesUsed)
	assert.Equal(t, 3, eventTypes(snap)[events.TypeLLMCallFailed])
}

// A DEGRADE verdict from the retry hook stops retrying and surfaces
// the degradation.
func TestScenarioDegradeOnError(t *testing.T) {
	c, err := execution.New(execution.Config{MaxCostUSD: 10, MaxSteps: 100},
		execution.WithShield(shield.NewPipeline(shield.WithRetry(retryVerdict{verdict: decision.Degrade}))))
	require.NoError(t, err)
	defer c.Close()

	out, err := c.WrapLLMCall(callCtx(t), fail("quota hit"))
	require.NoError(t, err)
	assert.Equal(t, decision.Degrade, out.Decision)
	assert.Error(t, out.Err)
}

// Semantic loop: an agent repeating the same sentence is halted on the
// second occurrence.
func TestScenarioSemanticLoop(t *testing.T) {
	guard := policy.NewSemanticLoopGuard(3, 0.92, 10)
	c, err := execution.New(execution.Config{MaxCostUSD: 10, MaxSteps: 100},
		execution.WithSemanticLoopGuard(guard))
	require.NoError(t, err)
	defer c.Close()

	sentence := "I will search the web again for the same thing as before"

	out, err := c.WrapLLMCall(callCtx(t), echo(sentence))
	require.NoError(t, err)
	assert.Equal(t, decision.Allow, out.Decision)

	out, err = c.WrapLLMCall(callCtx(t), echo(sentence))
	require.NoError(t, err)
	assert.Equal(t, decision.Halt, out.Decision)
	assert.Contains(t, out.Reason, "exact repetition")
}

// Tool calls never fire the charge boundary hook.
func TestToolCallsSkipBeforeCharge(t *testing.T) {
	charges := &chargeRecorder{}
	c, err := execution.New(execution.Config{MaxCostUSD: 10, MaxSteps: 100},
		execution.WithShield(shield.NewPipeline(shield.WithBudgetBoundary(charges))))
	require.NoError(t, err)
	defer c.Close()

	_, err = c.WrapToolCall(callCtx(t, decision.WithToolName("calc"), decision.WithCostUSD(0.01)), echo("4"))
	require.NoError(t, err)
	assert.Zero(t, charges.calls, "tool wrap must skip before_charge")

	_, err = c.WrapLLMCall(callCtx(t, decision.WithCostUSD(0.01)), echo("4"))
	require.NoError(t, err)
	assert.Equal(t, 1, charges.calls)
}

type retryVerdict struct{ verdict decision.Decision }

func (r retryVerdict) OnError(*decision.ToolCallContext, error) *shield.Result {
	return &shield.Result{Decision: r.verdict, Reason: "scripted"}
}

type chargeRecorder struct{ calls int }

func (c *chargeRecorder) BeforeCharge(*decision.ToolCallContext, float64) *shield.Result {
	c.calls++
	return nil
}

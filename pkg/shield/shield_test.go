package shield_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veronica-labs/veronica/pkg/decision"
	"github.com/veronica-labs/veronica/pkg/shield"
)

func callCtx(t *testing.T, opts ...decision.CallOption) *decision.ToolCallContext {
	t.Helper()
	ctx, err := decision.NewToolCallContext("req-1", opts...)
	require.NoError(t, err)
	return ctx
}

type haltEverything struct{}

func (haltEverything) BeforeLLMCall(*decision.ToolCallContext) *shield.Result {
	return &shield.Result{Decision: decision.Halt, Reason: "scripted"}
}

type retryOnError struct{ verdict decision.Decision }

func (h retryOnError) OnError(*decision.ToolCallContext, error) *shield.Result {
	if h.verdict == "" {
		return nil
	}
	return &shield.Result{Decision: h.verdict, Reason: "scripted retry hook"}
}

func TestEmptyPipelineHasNoOpinion(t *testing.T) {
	p := shield.NewPipeline()
	assert.True(t, p.PreDispatch(callCtx(t)).Allowed())
	assert.True(t, p.ToolDispatch(callCtx(t)).Allowed())
	assert.True(t, p.Egress(callCtx(t), "https://api.example.com", "POST").Allowed())
	assert.True(t, p.BeforeCharge(callCtx(t), 0.01).Allowed())
}

func TestDefaultOnErrorIsFailClosed(t *testing.T) {
	p := shield.NewPipeline()
	r := p.OnError(callCtx(t), errors.New("upstream 500"))
	require.NotNil(t, r)
	assert.Equal(t, decision.Halt, r.Decision)
}

func TestLegacyAllowOnErrorIsExplicitOptIn(t *testing.T) {
	p := shield.NewPipeline(shield.WithLegacyAllowOnError())
	r := p.OnError(callCtx(t), errors.New("upstream 500"))
	assert.Equal(t, decision.Allow, r.Decision)
}

func TestRetryHookOpinionWins(t *testing.T) {
	p := shield.NewPipeline(shield.WithRetry(retryOnError{verdict: decision.Retry}))
	r := p.OnError(callCtx(t), errors.New("429"))
	assert.Equal(t, decision.Retry, r.Decision)
}

func TestRetryHookNoOpinionFallsBack(t *testing.T) {
	p := shield.NewPipeline(shield.WithRetry(retryOnError{}))
	r := p.OnError(callCtx(t), errors.New("429"))
	assert.Equal(t, decision.Halt, r.Decision)
}

func TestPreDispatchHookFires(t *testing.T) {
	p := shield.NewPipeline(shield.WithPreDispatch(haltEverything{}))
	r := p.PreDispatch(callCtx(t))
	require.NotNil(t, r)
	assert.Equal(t, decision.Halt, r.Decision)
}

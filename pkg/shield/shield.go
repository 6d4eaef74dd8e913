// Package shield defines the boundary hooks evaluated around every
// dispatch and the pipeline that composes them. A hook returning nil
// has no opinion; the pipeline treats that as ALLOW.
package shield

import (
	"github.com/veronica-labs/veronica/pkg/decision"
)

// Hook names used in safety events.
const (
	HookPreDispatch    = "pre_dispatch"
	HookToolDispatch   = "tool_dispatch"
	HookEgress         = "egress"
	HookRetry          = "retry"
	HookBudgetBoundary = "budget_boundary"
)

// Result is one hook's verdict plus the evidence it carries.
type Result struct {
	Decision decision.Decision
	Reason   string
	// EventType overrides the generic event category when set.
	EventType string
	Metadata  map[string]any
}

// Allowed reports whether the result lets the call proceed unchanged.
func (r *Result) Allowed() bool {
	return r == nil || r.Decision == decision.Allow
}

// PreDispatchHook fires before an LLM dispatch.
type PreDispatchHook interface {
	BeforeLLMCall(ctx *decision.ToolCallContext) *Result
}

// ToolDispatchHook fires before a tool dispatch.
type ToolDispatchHook interface {
	BeforeToolCall(ctx *decision.ToolCallContext) *Result
}

// EgressHook fires before outbound HTTP.
type EgressHook interface {
	BeforeEgress(ctx *decision.ToolCallContext, url, method string) *Result
}

// RetryHook fires on an exception from dispatch. A DEGRADE result lets
// the retry continue while marking the call degraded; HALT and
// QUARANTINE abort; RETRY re-invokes while budget remains.
type RetryHook interface {
	OnError(ctx *decision.ToolCallContext, err error) *Result
}

// BudgetBoundaryHook fires before cost is committed.
type BudgetBoundaryHook interface {
	BeforeCharge(ctx *decision.ToolCallContext, costUSD float64) *Result
}

// Pipeline holds at most one hook of each kind. When no retry hook is
// registered, errors resolve to the default-on-error policy, which is
// HALT (fail-closed) unless the caller explicitly opts in to ALLOW.
type Pipeline struct {
	preDispatch    PreDispatchHook
	toolDispatch   ToolDispatchHook
	egress         EgressHook
	retry          RetryHook
	budgetBoundary BudgetBoundaryHook
	defaultOnError decision.Decision
}

// PipelineOption configures the pipeline.
type PipelineOption func(*Pipeline)

func WithPreDispatch(h PreDispatchHook) PipelineOption {
	return func(p *Pipeline) { p.preDispatch = h }
}
func WithToolDispatch(h ToolDispatchHook) PipelineOption {
	return func(p *Pipeline) { p.toolDispatch = h }
}
func WithEgress(h EgressHook) PipelineOption {
	return func(p *Pipeline) { p.egress = h }
}
func WithRetry(h RetryHook) PipelineOption {
	return func(p *Pipeline) { p.retry = h }
}
func WithBudgetBoundary(h BudgetBoundaryHook) PipelineOption {
	return func(p *Pipeline) { p.budgetBoundary = h }
}

// WithLegacyAllowOnError opts in to the permissive default-on-error
// policy. Without it, an error with no retry hook registered halts.
func WithLegacyAllowOnError() PipelineOption {
	return func(p *Pipeline) { p.defaultOnError = decision.Allow }
}

// NewPipeline builds a pipeline. Hooks are all optional.
func NewPipeline(opts ...PipelineOption) *Pipeline {
	p := &Pipeline{defaultOnError: decision.Halt}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// PreDispatch runs the LLM pre-dispatch hook.
func (p *Pipeline) PreDispatch(ctx *decision.ToolCallContext) *Result {
	if p.preDispatch == nil {
		return nil
	}
	return p.preDispatch.BeforeLLMCall(ctx)
}

// ToolDispatch runs the tool pre-dispatch hook.
func (p *Pipeline) ToolDispatch(ctx *decision.ToolCallContext) *Result {
	if p.toolDispatch == nil {
		return nil
	}
	return p.toolDispatch.BeforeToolCall(ctx)
}

// Egress runs the outbound-HTTP hook.
func (p *Pipeline) Egress(ctx *decision.ToolCallContext, url, method string) *Result {
	if p.egress == nil {
		return nil
	}
	return p.egress.BeforeEgress(ctx, url, method)
}

// OnError resolves a dispatch error to a decision. With no retry hook,
// or when the hook has no opinion, the default-on-error policy applies.
func (p *Pipeline) OnError(ctx *decision.ToolCallContext, err error) *Result {
	if p.retry != nil {
		if r := p.retry.OnError(ctx, err); r != nil {
			return r
		}
	}
	return &Result{
		Decision: p.defaultOnError,
		Reason:   "no retry hook opinion; applying default-on-error policy",
	}
}

// BeforeCharge runs the budget boundary hook.
func (p *Pipeline) BeforeCharge(ctx *decision.ToolCallContext, costUSD float64) *Result {
	if p.budgetBoundary == nil {
		return nil
	}
	return p.budgetBoundary.BeforeCharge(ctx, costUSD)
}

// DefaultOnError exposes the configured fail policy.
func (p *Pipeline) DefaultOnError() decision.Decision { return p.defaultOnError }

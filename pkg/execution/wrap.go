package execution

import (
	stdcontext "context"
	"time"

	"github.com/google/uuid"

	"github.com/veronica-labs/veronica/pkg/decision"
	"github.com/veronica-labs/veronica/pkg/events"
	"github.com/veronica-labs/veronica/pkg/policy"
	"github.com/veronica-labs/veronica/pkg/shield"
)

// CallFunc is the wrapped invocation. The supplied context is cancelled
// when the chain token fires; cancellation is cooperative.
type CallFunc func(ctx stdcontext.Context) (string, error)

// Outcome is the result of one wrap. Callers must check Decision
// before using Output.
type Outcome struct {
	Decision decision.Decision
	Output   string
	Reason   string
	NodeID   string
	Err      error
}

// WrapLLMCall guards one LLM dispatch with the policy pipeline, the
// pre-dispatch shield hook, retry, cost charging and the timeout token.
func (c *Context) WrapLLMCall(callCtx *decision.ToolCallContext, fn CallFunc) (Outcome, error) {
	return c.wrap(NodeKindLLM, callCtx, fn)
}

// WrapToolCall is identical except it fires the tool-dispatch hook and
// skips the budget boundary charge hook.
func (c *Context) WrapToolCall(callCtx *decision.ToolCallContext, fn CallFunc) (Outcome, error) {
	return c.wrap(NodeKindTool, callCtx, fn)
}

func (c *Context) wrap(kind NodeKind, callCtx *decision.ToolCallContext, fn CallFunc) (Outcome, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return Outcome{Decision: decision.Halt, Reason: "context closed"}, ErrClosed
	}
	c.mu.Unlock()

	// Deadline already passed: fn is never invoked.
	if c.token.IsSet() {
		c.record(events.NewSafetyEvent(events.TypeTimeout, decision.Halt,
			"chain deadline reached before dispatch", shield.HookPreDispatch, callCtx.RequestID(), nil))
		return Outcome{Decision: decision.Halt, Reason: "chain timeout"}, nil
	}

	pctx := c.policyContext(callCtx)

	// Breaker gate.
	if c.breaker != nil {
		if d := c.breaker.Check(pctx); !d.Allowed {
			c.record(events.NewSafetyEvent(events.TypeChainCircuitOpen, decision.Halt,
				d.Reason, c.dispatchHookName(kind), callCtx.RequestID(), nil))
			return Outcome{Decision: decision.Halt, Reason: d.Reason}, nil
		}
	}

	// Policy pipeline; first denial wins.
	if d := c.pipeline.Evaluate(pctx); !d.Allowed {
		c.record(events.NewSafetyEvent(eventTypeForPolicy(d.PolicyType), decision.Halt,
			d.Reason, c.dispatchHookName(kind), callCtx.RequestID(),
			map[string]any{"policy_type": d.PolicyType}))
		return Outcome{Decision: decision.Halt, Reason: d.Reason}, nil
	}

	// Shield dispatch hook. DEGRADE proceeds with the obligation
	// attached; anything more severe stops here.
	degraded := false
	degradeReason := ""
	pre := c.dispatchHook(kind, callCtx)
	if !pre.Allowed() {
		c.recordResult(pre, c.dispatchHookName(kind), callCtx.RequestID())
		if pre.Decision != decision.Degrade {
			return Outcome{Decision: pre.Decision, Reason: pre.Reason}, nil
		}
		degraded = true
		degradeReason = pre.Reason
	}

	nodeID := c.openNode(kind, callCtx)

	out, finalErr, verdict, reason := c.invoke(kind, callCtx, fn)
	if verdict != decision.Allow && verdict != decision.Degrade {
		c.closeNode(nodeID, statusFor(verdict), 0)
		if verdict == decision.Halt || verdict == decision.Quarantine {
			c.abort(reason)
		}
		return Outcome{Decision: verdict, Reason: reason, NodeID: nodeID, Err: finalErr}, nil
	}
	if verdict == decision.Degrade {
		degraded = true
		degradeReason = reason
	}
	if finalErr != nil {
		// Error tolerated by the hook contract (legacy allow or
		// degrade): the node records the failure.
		c.closeNode(nodeID, NodeError, callCtx.CostUSD())
		c.addCost(callCtx.CostUSD())
		d := decision.Allow
		if degraded {
			d = decision.Degrade
		}
		return Outcome{Decision: d, Reason: reason, NodeID: nodeID, Err: finalErr}, nil
	}

	// Success path: charge boundary (LLM only), then commit cost.
	if kind == NodeKindLLM {
		if charge := c.shield.BeforeCharge(callCtx, callCtx.CostUSD()); !charge.Allowed() {
			c.recordResult(charge, shield.HookBudgetBoundary, callCtx.RequestID())
			if charge.Decision != decision.Degrade {
				c.closeNode(nodeID, NodeHalted, 0)
				return Outcome{Decision: charge.Decision, Reason: charge.Reason, NodeID: nodeID}, nil
			}
			degraded = true
			degradeReason = charge.Reason
		}
	}

	ok, err := c.budget.Spend(callCtx.CostUSD())
	if err != nil {
		c.closeNode(nodeID, NodeHalted, 0)
		return Outcome{Decision: decision.Halt, Reason: err.Error(), NodeID: nodeID}, err
	}
	if !ok {
		c.record(events.NewSafetyEvent(events.TypeBudgetExceeded, decision.Halt,
			"budget exhausted at charge time", shield.HookBudgetBoundary, callCtx.RequestID(), nil))
		c.closeNode(nodeID, NodeHalted, 0)
		c.abort("budget exhausted")
		return Outcome{Decision: decision.Halt, Reason: "budget exhausted", NodeID: nodeID}, nil
	}

	if stepErr := c.steps.Step(out); stepErr != nil {
		// Partial buffer overflow is a signal, not a failure of the call.
		c.record(events.NewSafetyEvent("PARTIAL_BUFFER_OVERFLOW", decision.Degrade,
			stepErr.Error(), c.dispatchHookName(kind), callCtx.RequestID(), nil))
	}
	if c.breaker != nil {
		c.breaker.RecordSuccess()
	}

	if kind == NodeKindLLM && c.loop != nil {
		if d := c.loop.Feed(out); !d.Allowed {
			c.record(events.NewSafetyEvent("SEMANTIC_LOOP", decision.Halt,
				d.Reason, c.dispatchHookName(kind), callCtx.RequestID(), nil))
			c.closeNode(nodeID, NodeSuccess, callCtx.CostUSD())
			c.addCost(callCtx.CostUSD())
			c.abort(d.Reason)
			return Outcome{Decision: decision.Halt, Reason: d.Reason, Output: out, NodeID: nodeID}, nil
		}
	}

	c.closeNode(nodeID, NodeSuccess, callCtx.CostUSD())
	c.addCost(callCtx.CostUSD())

	// Re-check the deadline after fn: a result past the deadline is
	// never observed as ALLOW. The node keeps its success status and
	// cost so the accumulated total still equals the sum over success
	// and error nodes.
	if c.token.IsSet() {
		c.record(events.NewSafetyEvent(events.TypeChainTimeout, decision.Halt,
			"chain deadline reached during dispatch", c.dispatchHookName(kind), callCtx.RequestID(), nil))
		return Outcome{Decision: decision.Halt, Reason: "chain timeout", Output: out, NodeID: nodeID}, nil
	}

	if degraded {
		return Outcome{Decision: decision.Degrade, Reason: degradeReason, Output: out, NodeID: nodeID}, nil
	}
	return Outcome{Decision: decision.Allow, Output: out, NodeID: nodeID}, nil
}

// invoke runs fn with error routing through the retry hook. It returns
// the output, the last error, the final verdict and its reason.
func (c *Context) invoke(kind NodeKind, callCtx *decision.ToolCallContext, fn CallFunc) (string, error, decision.Decision, string) {
	attempt := 0
	for {
		out, err := fn(c.stdCtx)
		if err == nil {
			return out, nil, decision.Allow, ""
		}

		res := c.shield.OnError(callCtx, err)
		c.record(events.NewSafetyEvent(failureEventType(kind), res.Decision,
			err.Error(), shield.HookRetry, callCtx.RequestID(), nil))
		c.recordBreakerFailure(callCtx.RequestID())

		switch res.Decision {
		case decision.Retry:
			if !c.consumeRetry() {
				return out, err, decision.Halt, "retry budget exhausted"
			}
			c.sleepBackoff(attempt)
			attempt++
			continue
		case decision.Degrade:
			return out, err, decision.Degrade, res.Reason
		case decision.Allow:
			return out, err, decision.Allow, res.Reason
		default:
			return out, err, res.Decision, res.Reason
		}
	}
}

// recordBreakerFailure records the failure and emits breaker.opened on
// the closed-to-open transition.
func (c *Context) recordBreakerFailure(requestID string) {
	if c.breaker == nil {
		return
	}
	wasOpen := c.breaker.State() == policy.BreakerOpen
	c.breaker.RecordFailure()
	if !wasOpen && c.breaker.State() == policy.BreakerOpen {
		c.record(events.NewSafetyEvent(events.TypeBreakerOpened, decision.Halt,
			"consecutive failure threshold reached", shield.HookRetry, requestID, nil))
	}
}

// consumeRetry spends one unit of the chain-wide retry budget.
func (c *Context) consumeRetry() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.retriesUsed >= c.cfg.MaxRetriesTotal {
		return false
	}
	c.retriesUsed++
	return true
}

func (c *Context) sleepBackoff(attempt int) {
	if c.retrier != nil {
		delay := c.retrier.Delay(attempt)
		select {
		case <-time.After(delay):
		case <-c.token.Done():
		}
		return
	}
	select {
	case <-time.After(50 * time.Millisecond):
	case <-c.token.Done():
	}
}

func (c *Context) policyContext(callCtx *decision.ToolCallContext) policy.Context {
	return policy.Context{
		CostUSD:   callCtx.CostUSD(),
		StepCount: c.steps.Steps(),
		EntityID:  callCtx.UserID(),
		ChainID:   c.chainID,
		Timestamp: time.Now().UTC(),
		Metadata:  callCtx.Metadata(),
	}
}

func (c *Context) dispatchHook(kind NodeKind, callCtx *decision.ToolCallContext) *shield.Result {
	if kind == NodeKindTool {
		return c.shield.ToolDispatch(callCtx)
	}
	return c.shield.PreDispatch(callCtx)
}

func (c *Context) dispatchHookName(kind NodeKind) string {
	if kind == NodeKindTool {
		return shield.HookToolDispatch
	}
	return shield.HookPreDispatch
}

func (c *Context) recordResult(r *shield.Result, hook, requestID string) {
	eventType := r.EventType
	if eventType == "" {
		eventType = events.TypePolicyDenied
	}
	c.record(events.NewSafetyEvent(eventType, r.Decision, r.Reason, hook, requestID, r.Metadata))
}

func (c *Context) openNode(kind NodeKind, callCtx *decision.ToolCallContext) string {
	c.mu.Lock()
	defer c.mu.Unlock()

	node := NodeRecord{
		NodeID:        uuid.New().String(),
		ParentID:      c.lastNodeID,
		Kind:          kind,
		OperationName: operationName(kind, callCtx),
		StartTS:       time.Now().UTC(),
		Status:        NodeRunning,
	}
	c.nodes = append(c.nodes, node)
	c.lastNodeID = node.NodeID
	return node.NodeID
}

func (c *Context) closeNode(nodeID string, status NodeStatus, costUSD float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.nodes {
		if c.nodes[i].NodeID == nodeID {
			now := time.Now().UTC()
			c.nodes[i].EndTS = &now
			c.nodes[i].Status = status
			c.nodes[i].CostUSD = costUSD
			return
		}
	}
}

func (c *Context) addCost(costUSD float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.costUSD += costUSD
}

func (c *Context) abort(reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.aborted {
		c.aborted = true
		c.abortReason = reason
	}
}

func statusFor(d decision.Decision) NodeStatus {
	switch d {
	case decision.Halt, decision.Quarantine:
		return NodeHalted
	default:
		return NodeError
	}
}

func operationName(kind NodeKind, callCtx *decision.ToolCallContext) string {
	if kind == NodeKindTool && callCtx.ToolName() != "" {
		return callCtx.ToolName()
	}
	if callCtx.Model() != "" {
		return callCtx.Model()
	}
	return string(kind)
}

func failureEventType(kind NodeKind) string {
	if kind == NodeKindTool {
		return events.TypeToolCallFailed
	}
	return events.TypeLLMCallFailed
}

func eventTypeForPolicy(policyType string) string {
	switch policyType {
	case policy.PolicyTypeBudget:
		return events.TypeBudgetExceeded
	case policy.PolicyTypeStepLimit:
		return "STEP_LIMIT_EXCEEDED"
	case policy.PolicyTypeSemanticLoop:
		return "SEMANTIC_LOOP"
	case policy.PolicyTypeRetryBudget:
		return "RETRY_BUDGET_EXHAUSTED"
	case policy.PolicyTypeCircuitBreaker:
		return events.TypeChainCircuitOpen
	default:
		return events.TypePolicyDenied
	}
}

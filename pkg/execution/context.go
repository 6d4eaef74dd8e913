package execution

import (
	stdcontext "context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/veronica-labs/veronica/pkg/decision"
	"github.com/veronica-labs/veronica/pkg/events"
	"github.com/veronica-labs/veronica/pkg/policy"
	"github.com/veronica-labs/veronica/pkg/shield"
)

// Context is the per-chain lifespan object. It owns its policy
// primitives, the shield pipeline, the event list, the node DAG and the
// cancellation token. Safe for use from multiple goroutines.
type Context struct {
	mu sync.Mutex

	chainID   string
	requestID string
	cfg       Config
	meta      ChainMetadata
	startedAt time.Time

	budget   *policy.BudgetEnforcer
	steps    *policy.AgentStepGuard
	pipeline *policy.Pipeline
	breaker  *policy.CircuitBreaker
	retrier  *policy.RetryContainer
	loop     *policy.SemanticLoopGuard
	shield   *shield.Pipeline

	bus    *events.EventBus
	labels events.Labels

	token       *CancelToken
	watcherStop chan struct{}
	watcherDone chan struct{}
	stdCtx      stdcontext.Context
	stdCancel   stdcontext.CancelFunc

	closed      bool
	aborted     bool
	abortReason string
	retriesUsed int
	costUSD     float64
	nodes       []NodeRecord
	events      []events.SafetyEvent
	lastNodeID  string
}

// Option configures a Context at creation.
type Option func(*Context) error

// WithChainMetadata labels the chain.
func WithChainMetadata(meta ChainMetadata) Option {
	return func(c *Context) error { c.meta = meta; return nil }
}

// WithRequestID sets the chain-level request id. Defaults to a UUID.
func WithRequestID(id string) Option {
	return func(c *Context) error { c.requestID = id; return nil }
}

// WithShield attaches the boundary hook pipeline.
func WithShield(p *shield.Pipeline) Option {
	return func(c *Context) error { c.shield = p; return nil }
}

// WithCircuitBreaker binds a breaker to this chain. A breaker already
// bound to another chain is rejected.
func WithCircuitBreaker(cb *policy.CircuitBreaker) Option {
	return func(c *Context) error {
		if err := cb.Bind(c.chainID); err != nil {
			return err
		}
		c.breaker = cb
		return nil
	}
}

// WithRetryContainer attaches a retry container for dispatch errors.
func WithRetryContainer(r *policy.RetryContainer) Option {
	return func(c *Context) error { c.retrier = r; return nil }
}

// WithSemanticLoopGuard attaches a loop guard fed with every
// successful LLM output.
func WithSemanticLoopGuard(g *policy.SemanticLoopGuard) Option {
	return func(c *Context) error { c.loop = g; return nil }
}

// WithEventBus mirrors the context's events onto a bus.
func WithEventBus(bus *events.EventBus, labels events.Labels) Option {
	return func(c *Context) error { c.bus = bus; c.labels = labels; return nil }
}

// WithPrimitive appends a custom primitive to the policy pipeline.
func WithPrimitive(p policy.Primitive) Option {
	return func(c *Context) error { c.pipeline.Add(p); return nil }
}

// New creates a chain context and, when the config carries a timeout,
// starts the watcher that sets the cancellation token at the deadline.
func New(cfg Config, opts ...Option) (*Context, error) {
	c := &Context{
		chainID:   uuid.New().String(),
		requestID: uuid.New().String(),
		cfg:       cfg,
		startedAt: time.Now().UTC(),
		budget:    policy.NewBudgetEnforcer(cfg.MaxCostUSD),
		steps:     policy.NewAgentStepGuard(cfg.MaxSteps),
		shield:    shield.NewPipeline(),
		token:     NewCancelToken(),
	}
	c.pipeline = policy.NewPipeline(c.budget, c.steps)

	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}

	c.stdCtx, c.stdCancel = stdcontext.WithCancel(stdcontext.Background())
	go func() {
		<-c.token.Done()
		c.stdCancel()
	}()

	if cfg.Timeout > 0 {
		c.watcherStop = make(chan struct{})
		c.watcherDone = make(chan struct{})
		go c.watch(cfg.Timeout)
	}

	c.record(events.NewSafetyEvent(events.TypeChainStarted, decision.Allow, "chain started", "", c.requestID, nil))
	return c, nil
}

// watch sets the token once at the deadline unless stopped first.
func (c *Context) watch(timeout time.Duration) {
	defer close(c.watcherDone)
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-timer.C:
		c.token.Set()
	case <-c.watcherStop:
	}
}

// ChainID returns the chain identifier.
func (c *Context) ChainID() string { return c.chainID }

// RequestID returns the chain-level request id.
func (c *Context) RequestID() string { return c.requestID }

// Budget exposes the chain budget for inspection.
func (c *Context) Budget() *policy.BudgetEnforcer { return c.budget }

// StepGuard exposes the step guard, including preserved partials.
func (c *Context) StepGuard() *policy.AgentStepGuard { return c.steps }

// Token exposes the cancellation token.
func (c *Context) Token() *CancelToken { return c.token }

// Cancel sets the cancellation token. Idempotent.
func (c *Context) Cancel() { c.token.Set() }

// record appends an event under the context lock, preserving decision
// order, then mirrors it to the bus outside the lock.
func (c *Context) record(ev events.SafetyEvent) {
	c.mu.Lock()
	if c.closed && ev.EventType != events.TypeChainClosed {
		c.mu.Unlock()
		return
	}
	c.events = append(c.events, ev)
	bus := c.bus
	labels := c.labels
	chainID := c.chainID
	c.mu.Unlock()

	if bus != nil {
		bus.Emit(events.Wrap(ev, chainID, "", "", "", labels))
	}
}

// Close exits the chain: the token is permanently set, the watcher is
// joined, the closed flag blocks further wraps and event appends.
// Safe to call more than once.
func (c *Context) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	c.record(events.NewSafetyEvent(events.TypeChainClosed, decision.Allow, "chain closed", "", c.requestID, nil))

	c.token.Set()
	if c.watcherStop != nil {
		close(c.watcherStop)
		<-c.watcherDone
	}
	c.stdCancel()
}

// Closed reports whether the context has exited.
func (c *Context) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

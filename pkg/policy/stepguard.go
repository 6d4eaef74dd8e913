package policy

import (
	"fmt"
	"sync"

	"github.com/veronica-labs/veronica/pkg/partial"
)

// PolicyTypeStepLimit identifies the step guard primitive.
const PolicyTypeStepLimit = "step_limit"

// AgentStepGuard bounds the number of agent iterations in a chain. The
// last non-nil step result is preserved across halts so callers can
// extract partial output after a denial.
type AgentStepGuard struct {
	mu         sync.Mutex
	maxSteps   int
	steps      int
	lastResult any
	buffer     *partial.Buffer
}

// NewAgentStepGuard creates a guard with the given step ceiling. String
// step results are additionally retained in a bounded partial buffer.
func NewAgentStepGuard(maxSteps int) *AgentStepGuard {
	return &AgentStepGuard{
		maxSteps: maxSteps,
		buffer:   partial.NewBuffer(0, 0),
	}
}

func (g *AgentStepGuard) PolicyType() string { return PolicyTypeStepLimit }

// Step increments the counter and records result as the last partial
// result when non-nil. Buffer overflow is reported but the result still
// replaces the previous one.
func (g *AgentStepGuard) Step(result any) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.steps++
	if result == nil {
		return nil
	}
	g.lastResult = result
	if s, ok := result.(string); ok {
		return g.buffer.Append(s)
	}
	return nil
}

// Check denies once the counter has reached the ceiling.
func (g *AgentStepGuard) Check(ctx Context) Decision {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.steps >= g.maxSteps {
		return Decision{
			Allowed:       false,
			PolicyType:    PolicyTypeStepLimit,
			Reason:        fmt.Sprintf("step limit reached: %d of %d", g.steps, g.maxSteps),
			PartialResult: g.lastResult,
		}
	}
	return Allowf(PolicyTypeStepLimit, "under step limit")
}

// Steps returns the current counter.
func (g *AgentStepGuard) Steps() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.steps
}

// LastResult returns the most recent non-nil step result. It survives
// halts; only Reset clears it.
func (g *AgentStepGuard) LastResult() any {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.lastResult
}

// PartialChunks returns the retained string results in order.
func (g *AgentStepGuard) PartialChunks() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.buffer.Chunks()
}

// Reset clears the counter, the last result and the buffer.
func (g *AgentStepGuard) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.steps = 0
	g.lastResult = nil
	g.buffer.Reset()
}

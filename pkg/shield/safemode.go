package shield

import (
	"sync"

	"github.com/veronica-labs/veronica/pkg/decision"
)

// SafeMode is the emergency kill-switch. While enabled it halts every
// tool dispatch and every error path unconditionally; disabled it has
// no opinion anywhere.
type SafeMode struct {
	mu      sync.Mutex
	enabled bool
}

// NewSafeMode creates the switch in the given state.
func NewSafeMode(enabled bool) *SafeMode {
	return &SafeMode{enabled: enabled}
}

// Enable flips the switch on.
func (s *SafeMode) Enable() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enabled = true
}

// Disable flips the switch off.
func (s *SafeMode) Disable() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enabled = false
}

// Enabled reports the current state.
func (s *SafeMode) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enabled
}

// BeforeLLMCall halts any call carrying a tool name while enabled.
func (s *SafeMode) BeforeLLMCall(ctx *decision.ToolCallContext) *Result {
	if !s.Enabled() || ctx.ToolName() == "" {
		return nil
	}
	return &Result{
		Decision:  decision.Halt,
		Reason:    "safe mode active: tool dispatch blocked",
		EventType: "SAFE_MODE",
	}
}

// BeforeToolCall halts every tool dispatch while enabled.
func (s *SafeMode) BeforeToolCall(ctx *decision.ToolCallContext) *Result {
	if !s.Enabled() {
		return nil
	}
	return &Result{
		Decision:  decision.Halt,
		Reason:    "safe mode active: tool dispatch blocked",
		EventType: "SAFE_MODE",
	}
}

// OnError halts unconditionally while enabled.
func (s *SafeMode) OnError(ctx *decision.ToolCallContext, err error) *Result {
	if !s.Enabled() {
		return nil
	}
	return &Result{
		Decision:  decision.Halt,
		Reason:    "safe mode active: error path halted",
		EventType: "SAFE_MODE",
	}
}

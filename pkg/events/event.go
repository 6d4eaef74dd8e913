// Package events carries the append-only safety event stream: immutable
// event records, a fan-out bus, and the standard sinks.
package events

import (
	"time"

	"github.com/veronica-labs/veronica/pkg/decision"
)

// Common event type categories produced by the containment engine.
const (
	TypeBudgetExceeded       = "BUDGET_EXCEEDED"
	TypeBudgetWindowExceeded = "BUDGET_WINDOW_EXCEEDED"
	TypeTokenBudgetExceeded  = "TOKEN_BUDGET_EXCEEDED"
	TypeTimeout              = "TIMEOUT"
	TypeChainTimeout         = "CHAIN_TIMEOUT"
	TypeChainCircuitOpen     = "CHAIN_CIRCUIT_OPEN"
	TypeBreakerOpened        = "breaker.opened"
	TypeToolCallFailed       = "tool.call.failed"
	TypeLLMCallFailed        = "llm.call.failed"
	TypePolicyDenied         = "POLICY_DENIED"
	TypeSafeMode             = "SAFE_MODE"
	TypeDegraded             = "DEGRADED"
	TypeChainStarted         = "CHAIN_STARTED"
	TypeChainClosed          = "CHAIN_CLOSED"
)

// SafetyEvent is the immutable record of a non-ALLOW decision or a
// lifecycle milestone. Once emitted it is never mutated or deleted.
type SafetyEvent struct {
	EventType string            `json:"event_type"`
	Decision  decision.Decision `json:"decision"`
	Reason    string            `json:"reason"`
	Hook      string            `json:"hook"`
	RequestID string            `json:"request_id,omitempty"`
	TS        time.Time         `json:"ts"`
	Metadata  map[string]any    `json:"metadata,omitempty"`
}

// NewSafetyEvent stamps a UTC timestamp and copies the metadata map so
// callers cannot mutate the record after emission.
func NewSafetyEvent(eventType string, d decision.Decision, reason, hook, requestID string, metadata map[string]any) SafetyEvent {
	var meta map[string]any
	if len(metadata) > 0 {
		meta = make(map[string]any, len(metadata))
		for k, v := range metadata {
			meta[k] = v
		}
	}
	return SafetyEvent{
		EventType: eventType,
		Decision:  d,
		Reason:    reason,
		Hook:      hook,
		RequestID: requestID,
		TS:        time.Now().UTC(),
		Metadata:  meta,
	}
}

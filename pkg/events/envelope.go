package events

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/veronica-labs/veronica/pkg/decision"
)

// Severity levels for the wire envelope.
const (
	SeverityDebug    = "debug"
	SeverityInfo     = "info"
	SeverityWarn     = "warn"
	SeverityError    = "error"
	SeverityCritical = "critical"
)

// Labels identify the emitting stream for filtering and routing.
type Labels struct {
	Org          string `json:"org,omitempty"`
	Team         string `json:"team,omitempty"`
	Service      string `json:"service,omitempty"`
	User         string `json:"user,omitempty"`
	Env          string `json:"env,omitempty"`
	ModelDefault string `json:"model_default,omitempty"`
}

// Envelope is one JSONL event line. EventID is a ULID so lines sort by
// emission time even after interleaving across files.
type Envelope struct {
	EventID      string         `json:"event_id"`
	TS           string         `json:"ts"`
	RunID        string         `json:"run_id"`
	SessionID    string         `json:"session_id,omitempty"`
	StepID       string         `json:"step_id,omitempty"`
	ParentStepID string         `json:"parent_step_id,omitempty"`
	Severity     string         `json:"severity"`
	Type         string         `json:"type"`
	Labels       Labels         `json:"labels"`
	Payload      map[string]any `json:"payload,omitempty"`
}

var entropyMu sync.Mutex
var entropy = ulid.Monotonic(rand.Reader, 0)

func newEventID(ts time.Time) string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(ts), entropy).String()
}

// severityFor maps a decision onto an envelope severity.
func severityFor(d decision.Decision) string {
	switch d {
	case decision.Allow:
		return SeverityInfo
	case decision.Degrade, decision.Retry, decision.Queue:
		return SeverityWarn
	case decision.Quarantine:
		return SeverityError
	case decision.Halt:
		return SeverityCritical
	default:
		return SeverityCritical
	}
}

// Wrap builds the wire envelope for a safety event. The step identity
// is optional; run id is the chain the event belongs to.
func Wrap(ev SafetyEvent, runID, sessionID, stepID, parentStepID string, labels Labels) Envelope {
	payload := map[string]any{
		"decision": string(ev.Decision),
		"reason":   ev.Reason,
		"hook":     ev.Hook,
	}
	if ev.RequestID != "" {
		payload["request_id"] = ev.RequestID
	}
	for k, v := range ev.Metadata {
		payload[k] = v
	}
	return Envelope{
		EventID:      newEventID(ev.TS),
		TS:           ev.TS.UTC().Format(time.RFC3339Nano),
		RunID:        runID,
		SessionID:    sessionID,
		StepID:       stepID,
		ParentStepID: parentStepID,
		Severity:     severityFor(ev.Decision),
		Type:         ev.EventType,
		Labels:       labels,
		Payload:      payload,
	}
}

var severityRank = map[string]int{
	SeverityDebug:    0,
	SeverityInfo:     1,
	SeverityWarn:     2,
	SeverityError:    3,
	SeverityCritical: 4,
}

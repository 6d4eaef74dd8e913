// Package state models the Run/Session/Step lifecycle for long-running
// orchestrations and the snapshot persistence contract around it.
package state

import (
	"fmt"
	"time"
)

// Entity names the state-machine kind a transition applies to.
type Entity string

const (
	EntityRun     Entity = "run"
	EntitySession Entity = "session"
	EntityStep    Entity = "step"
)

// Status is a lifecycle state. The zero value is invalid.
type Status string

const (
	StatusRunning     Status = "RUNNING"
	StatusStarted     Status = "STARTED"
	StatusDegraded    Status = "DEGRADED"
	StatusHalted      Status = "HALTED"
	StatusQuarantined Status = "QUARANTINED"
	StatusSucceeded   Status = "SUCCEEDED"
	StatusFailed      Status = "FAILED"
	StatusCanceled    Status = "CANCELED"
)

// Terminal reports whether no further transition can leave s.
func (s Status) Terminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusCanceled:
		return true
	}
	return false
}

// InvalidTransitionError reports a move the transition table forbids.
type InvalidTransitionError struct {
	Entity Entity
	From   Status
	To     Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid %s transition: %s -> %s", e.Entity, e.From, e.To)
}

// Allowed transitions per entity. Anything absent is forbidden,
// including every move out of a terminal state and out of QUARANTINED.
var (
	runTransitions = map[Status][]Status{
		StatusRunning: {StatusDegraded, StatusHalted, StatusQuarantined,
			StatusSucceeded, StatusFailed, StatusCanceled},
		StatusDegraded: {StatusRunning},
		StatusHalted:   {StatusFailed, StatusCanceled},
	}
	sessionTransitions = map[Status][]Status{
		StatusRunning: {StatusHalted, StatusSucceeded, StatusFailed, StatusCanceled},
		StatusHalted:  {StatusFailed, StatusCanceled},
	}
	stepTransitions = map[Status][]Status{
		StatusStarted: {StatusSucceeded, StatusFailed, StatusCanceled},
	}
)

func tableFor(entity Entity) map[Status][]Status {
	switch entity {
	case EntityRun:
		return runTransitions
	case EntitySession:
		return sessionTransitions
	case EntityStep:
		return stepTransitions
	}
	return nil
}

// CanTransition reports whether the entity's table allows from -> to.
func CanTransition(entity Entity, from, to Status) bool {
	for _, next := range tableFor(entity)[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Run is one long-running orchestration.
type Run struct {
	ID           string     `json:"id"`
	Status       Status     `json:"status"`
	Reason       string     `json:"reason,omitempty"`
	ErrorSummary string     `json:"error_summary,omitempty"`
	StartedAt    time.Time  `json:"started_at"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
}

// Session is one conversational segment within a run.
type Session struct {
	ID           string     `json:"id"`
	RunID        string     `json:"run_id"`
	Status       Status     `json:"status"`
	Reason       string     `json:"reason,omitempty"`
	ErrorSummary string     `json:"error_summary,omitempty"`
	StartedAt    time.Time  `json:"started_at"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
}

// Step is one unit of work within a session.
type Step struct {
	ID           string     `json:"id"`
	SessionID    string     `json:"session_id"`
	Status       Status     `json:"status"`
	Reason       string     `json:"reason,omitempty"`
	ErrorSummary string     `json:"error_summary,omitempty"`
	StartedAt    time.Time  `json:"started_at"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
}

// NewRun starts a run in RUNNING.
func NewRun(id string) *Run {
	return &Run{ID: id, Status: StatusRunning, StartedAt: time.Now().UTC()}
}

// NewSession starts a session in RUNNING.
func NewSession(id, runID string) *Session {
	return &Session{ID: id, RunID: runID, Status: StatusRunning, StartedAt: time.Now().UTC()}
}

// NewStep starts a step in STARTED.
func NewStep(id, sessionID string) *Step {
	return &Step{ID: id, SessionID: sessionID, Status: StatusStarted, StartedAt: time.Now().UTC()}
}

func transition(entity Entity, status *Status, reason, errorSummary *string,
	finishedAt **time.Time, to Status, why string, now func() time.Time) error {
	if !CanTransition(entity, *status, to) {
		return &InvalidTransitionError{Entity: entity, From: *status, To: to}
	}
	*status = to
	*reason = why
	if to == StatusFailed {
		*errorSummary = why
	}
	if to.Terminal() {
		t := now().UTC()
		*finishedAt = &t
	}
	return nil
}

// TransitionRun moves the run to a new status, in place. An invalid
// move returns *InvalidTransitionError and mutates nothing. Terminal
// moves stamp FinishedAt; FAILED copies reason into ErrorSummary.
func TransitionRun(r *Run, to Status, reason string) error {
	return transition(EntityRun, &r.Status, &r.Reason, &r.ErrorSummary, &r.FinishedAt, to, reason, time.Now)
}

// TransitionSession moves the session to a new status, in place.
func TransitionSession(s *Session, to Status, reason string) error {
	return transition(EntitySession, &s.Status, &s.Reason, &s.ErrorSummary, &s.FinishedAt, to, reason, time.Now)
}

// TransitionStep moves the step to a new status, in place.
func TransitionStep(s *Step, to Status, reason string) error {
	return transition(EntityStep, &s.Status, &s.Reason, &s.ErrorSummary, &s.FinishedAt, to, reason, time.Now)
}

package state

import (
	"fmt"
	"time"
)

// Snapshot serialises the run to a plain mapping with the enum string
// values, suitable for any persistence backend.
func (r *Run) Snapshot() map[string]any {
	return entitySnapshot(r.ID, string(r.Status), r.Reason, r.ErrorSummary, r.StartedAt, r.FinishedAt)
}

// Snapshot serialises the session to a plain mapping.
func (s *Session) Snapshot() map[string]any {
	m := entitySnapshot(s.ID, string(s.Status), s.Reason, s.ErrorSummary, s.StartedAt, s.FinishedAt)
	m["run_id"] = s.RunID
	return m
}

// Snapshot serialises the step to a plain mapping.
func (s *Step) Snapshot() map[string]any {
	m := entitySnapshot(s.ID, string(s.Status), s.Reason, s.ErrorSummary, s.StartedAt, s.FinishedAt)
	m["session_id"] = s.SessionID
	return m
}

func entitySnapshot(id, status, reason, errorSummary string, startedAt time.Time, finishedAt *time.Time) map[string]any {
	m := map[string]any{
		"id":         id,
		"status":     status,
		"started_at": startedAt.UTC().Format(time.RFC3339Nano),
	}
	if reason != "" {
		m["reason"] = reason
	}
	if errorSummary != "" {
		m["error_summary"] = errorSummary
	}
	if finishedAt != nil {
		m["finished_at"] = finishedAt.UTC().Format(time.RFC3339Nano)
	}
	return m
}

type snapshotFields struct {
	id           string
	status       Status
	reason       string
	errorSummary string
	startedAt    time.Time
	finishedAt   *time.Time
}

func parseSnapshot(entity Entity, data map[string]any) (snapshotFields, error) {
	var f snapshotFields
	var err error
	if f.id, err = requireString(data, "id"); err != nil {
		return f, fmt.Errorf("%s snapshot: %w", entity, err)
	}
	status, err := requireString(data, "status")
	if err != nil {
		return f, fmt.Errorf("%s snapshot: %w", entity, err)
	}
	f.status = Status(status)
	// QUARANTINED has no outgoing transitions so it never keys the
	// table, but only runs can reach it; for sessions and steps it is
	// as unknown as any garbage status.
	quarantinedRun := entity == EntityRun && f.status == StatusQuarantined
	if _, known := tableFor(entity)[f.status]; !known && !f.status.Terminal() && !quarantinedRun {
		return f, fmt.Errorf("%s snapshot: unknown status %q", entity, status)
	}
	f.reason, _ = data["reason"].(string)
	f.errorSummary, _ = data["error_summary"].(string)
	if raw, ok := data["started_at"].(string); ok {
		if f.startedAt, err = time.Parse(time.RFC3339Nano, raw); err != nil {
			return f, fmt.Errorf("%s snapshot: started_at: %w", entity, err)
		}
	}
	if raw, ok := data["finished_at"].(string); ok {
		t, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return f, fmt.Errorf("%s snapshot: finished_at: %w", entity, err)
		}
		f.finishedAt = &t
	}
	return f, nil
}

func requireString(data map[string]any, key string) (string, error) {
	v, ok := data[key].(string)
	if !ok || v == "" {
		return "", fmt.Errorf("missing %q", key)
	}
	return v, nil
}

// RunFromSnapshot rebuilds a run from its snapshot mapping.
func RunFromSnapshot(data map[string]any) (*Run, error) {
	f, err := parseSnapshot(EntityRun, data)
	if err != nil {
		return nil, err
	}
	return &Run{ID: f.id, Status: f.status, Reason: f.reason,
		ErrorSummary: f.errorSummary, StartedAt: f.startedAt, FinishedAt: f.finishedAt}, nil
}

// SessionFromSnapshot rebuilds a session from its snapshot mapping.
func SessionFromSnapshot(data map[string]any) (*Session, error) {
	f, err := parseSnapshot(EntitySession, data)
	if err != nil {
		return nil, err
	}
	runID, _ := data["run_id"].(string)
	return &Session{ID: f.id, RunID: runID, Status: f.status, Reason: f.reason,
		ErrorSummary: f.errorSummary, StartedAt: f.startedAt, FinishedAt: f.finishedAt}, nil
}

// StepFromSnapshot rebuilds a step from its snapshot mapping.
func StepFromSnapshot(data map[string]any) (*Step, error) {
	f, err := parseSnapshot(EntityStep, data)
	if err != nil {
		return nil, err
	}
	sessionID, _ := data["session_id"].(string)
	return &Step{ID: f.id, SessionID: sessionID, Status: f.status, Reason: f.reason,
		ErrorSummary: f.errorSummary, StartedAt: f.startedAt, FinishedAt: f.finishedAt}, nil
}

package events

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
)

// StdoutSink serialises each envelope to one JSON line. Lines below the
// minimum severity are dropped.
type StdoutSink struct {
	mu          sync.Mutex
	writer      io.Writer
	minSeverity string
}

// NewStdoutSink writes to os.Stdout at the given minimum severity.
// An empty severity means emit everything.
func NewStdoutSink(minSeverity string) *StdoutSink {
	return NewStdoutSinkWithWriter(os.Stdout, minSeverity)
}

// NewStdoutSinkWithWriter allows writer injection for testing.
func NewStdoutSinkWithWriter(w io.Writer, minSeverity string) *StdoutSink {
	if w == nil {
		w = os.Stdout
	}
	return &StdoutSink{writer: w, minSeverity: minSeverity}
}

func (s *StdoutSink) Emit(env Envelope) error {
	if s.minSeverity != "" && severityRank[env.Severity] < severityRank[s.minSeverity] {
		return nil
	}
	line, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal event %s: %w", env.EventID, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.writer.Write(append(line, '\n'))
	return err
}

// JSONLSink appends one JSON object per line to a file. Each emit is a
// single locked write so concurrent emitters never interleave bytes.
type JSONLSink struct {
	mu   sync.Mutex
	path string
}

// NewJSONLSink creates (or reuses) the file at path.
func NewJSONLSink(path string) *JSONLSink {
	return &JSONLSink{path: path}
}

func (s *JSONLSink) Emit(env Envelope) error {
	line, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal event %s: %w", env.EventID, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open event log: %w", err)
	}
	defer f.Close()

	_, err = f.Write(append(line, '\n'))
	return err
}

// QueryByRunID scans the file and returns every event line whose run_id
// matches. Lines that fail to parse are skipped.
func (s *JSONLSink) QueryByRunID(runID string) ([]map[string]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read event log: %w", err)
	}

	var out []map[string]any
	for _, line := range splitLines(data) {
		var rec map[string]any
		if err := json.Unmarshal(line, &rec); err != nil {
			continue
		}
		if rec["run_id"] == runID {
			out = append(out, rec)
		}
	}
	return out, nil
}

func splitLines(data []byte) [][]byte {
	var lines [][]byte
	start := 0
	for i, b := range data {
		if b == '\n' {
			if i > start {
				lines = append(lines, data[start:i])
			}
			start = i + 1
		}
	}
	if start < len(data) {
		lines = append(lines, data[start:])
	}
	return lines
}

// CompositeSink fans out to children and contains per-child failures.
type CompositeSink struct {
	children []Sink
	logger   *slog.Logger
}

func NewCompositeSink(logger *slog.Logger, children ...Sink) *CompositeSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &CompositeSink{children: children, logger: logger}
}

func (s *CompositeSink) Emit(env Envelope) error {
	for _, c := range s.children {
		func() {
			defer func() {
				if r := recover(); r != nil {
					s.logger.Error("composite child panicked", "panic", r)
				}
			}()
			if err := c.Emit(env); err != nil {
				s.logger.Error("composite child failed", "error", err)
			}
		}()
	}
	return nil
}

// NullSink discards everything. Installed when EVENTS_DISABLED is set.
type NullSink struct{}

func (NullSink) Emit(Envelope) error { return nil }

package events

import (
	"log/slog"
	"sync"
)

// Sink consumes event envelopes. Implementations must serialise their
// own writes; the bus serialises per sink but sinks may also be shared.
type Sink interface {
	Emit(env Envelope) error
}

// RunQuerier is optionally implemented by sinks that can retrieve
// previously emitted events for one run.
type RunQuerier interface {
	QueryByRunID(runID string) ([]map[string]any, error)
}

// EventBus fans envelopes out to its sinks. A failing sink is logged
// and skipped; emission never propagates a sink error to the caller.
type EventBus struct {
	mu     sync.Mutex
	sinks  []Sink
	logger *slog.Logger
}

// NewEventBus creates a bus over the given sinks.
func NewEventBus(logger *slog.Logger, sinks ...Sink) *EventBus {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventBus{sinks: sinks, logger: logger}
}

// AddSink registers an additional sink.
func (b *EventBus) AddSink(s Sink) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sinks = append(b.sinks, s)
}

// Emit broadcasts env to every sink. Sink panics are contained.
func (b *EventBus) Emit(env Envelope) {
	b.mu.Lock()
	sinks := make([]Sink, len(b.sinks))
	copy(sinks, b.sinks)
	b.mu.Unlock()

	for _, s := range sinks {
		b.emitOne(s, env)
	}
}

func (b *EventBus) emitOne(s Sink, env Envelope) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event sink panicked", "type", env.Type, "panic", r)
		}
	}()
	if err := s.Emit(env); err != nil {
		b.logger.Error("event sink failed", "type", env.Type, "error", err)
	}
}

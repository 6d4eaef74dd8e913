package observability

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/veronica-labs/veronica/pkg/events"
)

// TelemetrySink feeds the event stream into OpenTelemetry: each
// envelope becomes a span event on the active span and a decision
// counter increment. It implements events.Sink.
type TelemetrySink struct {
	provider *Provider
}

// NewTelemetrySink wraps a provider.
func NewTelemetrySink(p *Provider) *TelemetrySink {
	return &TelemetrySink{provider: p}
}

func (s *TelemetrySink) Emit(env events.Envelope) error {
	ctx := context.Background()
	attrs := []attribute.KeyValue{
		attribute.String("event.type", env.Type),
		attribute.String("event.severity", env.Severity),
		attribute.String("run.id", env.RunID),
	}
	if env.Labels.Team != "" {
		attrs = append(attrs, attribute.String("team", env.Labels.Team))
	}
	if env.Labels.Service != "" {
		attrs = append(attrs, attribute.String("service", env.Labels.Service))
	}

	if s.provider.decisionCounter != nil {
		s.provider.decisionCounter.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
	if s.provider.haltCounter != nil && env.Severity == events.SeverityCritical {
		s.provider.haltCounter.Add(ctx, 1, metric.WithAttributes(attrs...))
	}

	if span := trace.SpanFromContext(ctx); span.IsRecording() {
		span.AddEvent(env.Type, trace.WithAttributes(attrs...))
	}
	return nil
}

// EmitOn is like Emit but attaches the span event to the span carried
// by ctx, so callers holding the chain's span get events in place.
func (s *TelemetrySink) EmitOn(ctx context.Context, env events.Envelope) error {
	if span := trace.SpanFromContext(ctx); span.IsRecording() {
		span.AddEvent(env.Type, trace.WithAttributes(
			attribute.String("event.severity", env.Severity),
			attribute.String("run.id", env.RunID),
		))
	}
	return s.Emit(env)
}

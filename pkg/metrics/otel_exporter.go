package metrics

import (
	"context"

	"go.opentelemetry.io/otel/sdk/trace"
)

// SpanExporter adapts the Sink to the OpenTelemetry
// trace.SpanExporter interface, so request tracing rides the same
// JSONL sink instead of standing up a parallel observability
// pipeline: every finished span becomes one "otel.span" metrics line
// carrying its name, duration and status.
type SpanExporter struct {
	sink *Sink
}

// NewSpanExporter wraps an existing Sink for use as an OTel exporter.
func NewSpanExporter(sink *Sink) *SpanExporter {
	return &SpanExporter{sink: sink}
}

// ExportSpans implements trace.SpanExporter.
func (e *SpanExporter) ExportSpans(_ context.Context, spans []trace.ReadOnlySpan) error {
	for _, span := range spans {
		attrs := map[string]any{
			"name":        span.Name(),
			"trace_id":    span.SpanContext().TraceID().String(),
			"span_id":     span.SpanContext().SpanID().String(),
			"duration_ms": span.EndTime().Sub(span.StartTime()).Milliseconds(),
			"status":      span.Status().Code.String(),
		}
		if err := e.sink.Record("otel.span", attrs); err != nil {
			return err
		}
	}
	return nil
}

// Shutdown implements trace.SpanExporter.
func (e *SpanExporter) Shutdown(_ context.Context) error {
	return e.sink.Close()
}

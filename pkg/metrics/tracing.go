package metrics

import (
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// NewTracerProvider builds a TracerProvider whose batch span processor
// drains into sink via SpanExporter, so request tracing rides the
// same daily-rotated JSONL file as every other recorded metric instead
// of standing up a second, parallel observability pipeline.
func NewTracerProvider(sink *Sink) *sdktrace.TracerProvider {
	return sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(NewSpanExporter(sink)),
	)
}

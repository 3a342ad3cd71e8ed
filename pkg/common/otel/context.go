package otel

import (
	"context"

	"go.opentelemetry.io/otel/trace"
)

// zeroTraceID is what log lines carry when no span is recording, so the
// trace_id field is always present and grep-able.
const zeroTraceID = "00000000000000000000000000000000"

// GetTraceID returns the trace id of the active span, or the zero id when the
// context carries no valid span.
func GetTraceID(ctx context.Context) string {
	if span := trace.SpanFromContext(ctx); span.SpanContext().IsValid() {
		return span.SpanContext().TraceID().String()
	}
	return zeroTraceID
}

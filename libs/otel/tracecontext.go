package otelx

import (
	"context"

	"go.opentelemetry.io/otel/trace"
)

// TraceContextStrings returns the trace and span ids of the current span,
// or empty strings when the context carries no recorded span.
func TraceContextStrings(ctx context.Context) (traceID, spanID string) {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return "", ""
	}
	return sc.TraceID().String(), sc.SpanID().String()
}

// ContextWithTraceContext rebuilds a remote span context from string ids.
// Used by async consumers to continue traces across the broker.
func ContextWithTraceContext(ctx context.Context, traceID, spanID string) context.Context {
	tid, err := trace.TraceIDFromHex(traceID)
	if err != nil {
		return ctx
	}
	sid, err := trace.SpanIDFromHex(spanID)
	if err != nil {
		return ctx
	}
	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    tid,
		SpanID:     sid,
		TraceFlags: trace.FlagsSampled,
		Remote:     true,
	})
	return trace.ContextWithSpanContext(ctx, sc)
}

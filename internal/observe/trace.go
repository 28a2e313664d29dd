package observe

import (
	"context"
	"errors"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/MrWong99/parley"

// Span names. Each turn gets one root span; the stages are its children.
const (
	SpanTurn       = "orchestrator.turn"
	SpanTranscribe = "stt.transcribe"
	SpanGenerate   = "llm.generate"
	SpanSpeak      = "tts.speak"
)

// StartSpan starts a span from the global tracer provider. The caller must
// end it, normally through [EndSpan].
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, name, opts...)
}

// StartTurn starts the root span of turn id.
func StartTurn(ctx context.Context, id uint64) (context.Context, trace.Span) {
	return StartSpan(ctx, SpanTurn, trace.WithAttributes(attribute.Int64("turn", int64(id))))
}

// EndSpan ends span and marks it failed when err is non-nil. Cancelled work
// is recorded as an event instead, since barge-in and shutdown cancel stages
// routinely.
func EndSpan(span trace.Span, err error) {
	switch {
	case err == nil:
	case errors.Is(err, context.Canceled):
		span.AddEvent("cancelled")
	default:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// CorrelationID returns the trace ID of the span in ctx, or "" when there is
// none. The status server echoes it in X-Correlation-ID.
func CorrelationID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// Logger returns the default logger with trace_id and span_id attached when
// ctx carries a span.
func Logger(ctx context.Context) *slog.Logger {
	l := slog.Default()
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		l = l.With(
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	return l
}

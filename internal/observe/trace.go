package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/MrWong99/intervox"

// Tracer returns the intervox tracer from the global [trace.TracerProvider].
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan starts a span named name. When ctx carries an evaluation (see
// [WithEvaluation]) the span is tagged with its session and question IDs.
// The caller must call span.End.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	if ev, ok := ctx.Value(evaluationKey{}).(evaluation); ok {
		opts = append(opts, trace.WithAttributes(
			attribute.String("session_id", ev.sessionID),
			attribute.String("question_id", ev.questionID),
		))
	}
	return Tracer().Start(ctx, name, opts...)
}

type evaluationKey struct{}

type evaluation struct {
	sessionID  string
	questionID string
}

// WithEvaluation marks ctx as belonging to the evaluation of one answer.
// Spans started and loggers derived from the returned context carry the
// session and question IDs.
func WithEvaluation(ctx context.Context, sessionID, questionID string) context.Context {
	return context.WithValue(ctx, evaluationKey{}, evaluation{sessionID: sessionID, questionID: questionID})
}

// CorrelationID returns the trace ID of the active span in ctx, or "".
// HTTP clients receive it as X-Correlation-ID.
func CorrelationID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// Logger returns the default logger enriched with the trace and span IDs of
// the active span and the evaluation IDs set by [WithEvaluation].
func Logger(ctx context.Context) *slog.Logger {
	var attrs []any
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		attrs = append(attrs,
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	if ev, ok := ctx.Value(evaluationKey{}).(evaluation); ok {
		attrs = append(attrs,
			slog.String("session_id", ev.sessionID),
			slog.String("question_id", ev.questionID),
		)
	}
	if len(attrs) == 0 {
		return slog.Default()
	}
	return slog.Default().With(attrs...)
}

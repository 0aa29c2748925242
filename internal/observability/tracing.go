package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TracerName is the instrumentation scope for relay spans.
const TracerName = "llmrelay"

// Tracer returns the relay tracer from the globally configured provider.
// Without a configured SDK this is a no-op tracer, so the router can always
// create spans unconditionally.
func Tracer() trace.Tracer {
	return otel.Tracer(TracerName)
}

// StartChatSpan starts a span for a chat request against a provider.
func StartChatSpan(ctx context.Context, operation, provider, model string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, operation,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("llm.provider", provider),
			attribute.String("llm.model", model),
		),
	)
}

// EndSpan records the outcome and ends the span.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

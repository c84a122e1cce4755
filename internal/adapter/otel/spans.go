package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "anne"

// StartRouteSpan starts a span for one routed request.
func StartRouteSpan(ctx context.Context, traceID, workspaceID string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "route",
		trace.WithAttributes(
			attribute.String("anne.trace_id", traceID),
			attribute.String("workspace.id", workspaceID),
		),
	)
}

// StartChatSpan starts a span for a provider call. No message content is recorded.
func StartChatSpan(ctx context.Context, provider, model, role, domain string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "llm.chat",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("llm.provider", provider),
			attribute.String("llm.model", model),
			attribute.String("llm.role", role),
			attribute.String("llm.domain", domain),
		),
	)
}

// StartDelegationSpan starts a span for delegation resolution.
func StartDelegationSpan(ctx context.Context, operatorID string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "delegation.resolve",
		trace.WithAttributes(attribute.String("operator.id", operatorID)),
	)
}

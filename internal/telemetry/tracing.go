// Package telemetry configures OpenTelemetry tracing for the
// verification service.
//
// Custom span attributes use the `verifier.` prefix. Unlike the
// reference operator's telemetry package, spans here carry no GenAI
// semantic-convention attributes (gen_ai.*) — this service does not call
// an LLM provider directly, so those conventions have no analogue.
package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "agentverify/core"

// Tracer returns the package-level tracer.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// InitTraceProvider initialises the OTel trace provider with an OTLP
// gRPC exporter. If endpoint is empty, tracing is disabled (the noop
// provider otel defaults to is left in place). Returns a shutdown
// function that must be called on application exit.
func InitTraceProvider(ctx context.Context, endpoint string, version string) (func(context.Context) error, error) {
	if endpoint == "" {
		return func(context.Context) error { return nil }, nil
	}

	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("create OTLP exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithHost(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String("agentverify"),
			semconv.ServiceVersionKey.String(version),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)

	otel.SetTracerProvider(tp)

	return tp.Shutdown, nil
}

// StartBurstDispatchSpan creates the parent span for one burst dispatch.
func StartBurstDispatchSpan(ctx context.Context, sessionID, agentID string, burstSize int) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "verifier.burst.dispatch",
		trace.WithAttributes(
			attribute.String("verifier.session_id", sessionID),
			attribute.String("verifier.agent_id", agentID),
			attribute.Int("verifier.burst_size", burstSize),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// StartWebhookDeliverySpan creates a child span for a single webhook
// delivery attempt.
func StartWebhookDeliverySpan(ctx context.Context, agentID, challengeID string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "verifier.webhook.deliver",
		trace.WithAttributes(
			attribute.String("verifier.agent_id", agentID),
			attribute.String("verifier.challenge_id", challengeID),
		),
		trace.WithSpanKind(trace.SpanKindClient),
	)
}

// EndWebhookDeliverySpan enriches the delivery span with its outcome.
func EndWebhookDeliverySpan(span trace.Span, status string, responseTimeMS int64) {
	span.SetAttributes(
		attribute.String("verifier.outcome", status),
		attribute.Int64("verifier.response_time_ms", responseTimeMS),
	)
	span.End()
}

// StartFinalizeSpan creates the span wrapping a session's Finalize call.
func StartFinalizeSpan(ctx context.Context, sessionID, agentID string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "verifier.session.finalize",
		trace.WithAttributes(
			attribute.String("verifier.session_id", sessionID),
			attribute.String("verifier.agent_id", agentID),
		),
	)
}

// EndFinalizeSpan enriches the finalize span with its verdict.
func EndFinalizeSpan(span trace.Span, passed bool, failureReason string) {
	span.SetAttributes(attribute.Bool("verifier.passed", passed))
	if failureReason != "" {
		span.SetAttributes(attribute.String("verifier.failure_reason", failureReason))
	}
	span.End()
}

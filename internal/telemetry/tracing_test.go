package telemetry

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestInitTraceProviderWithEmptyEndpointIsANoop(t *testing.T) {
	shutdown, err := InitTraceProvider(context.Background(), "", "test")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("expected the noop shutdown to succeed, got %v", err)
	}
}

func TestBurstDispatchSpanCarriesExpectedAttributes(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	defer otel.SetTracerProvider(prev)

	_, span := StartBurstDispatchSpan(context.Background(), "sess-1", "agent-1", 3)
	span.End()

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("expected 1 recorded span, got %d", len(spans))
	}
	if spans[0].Name != "verifier.burst.dispatch" {
		t.Fatalf("expected span name verifier.burst.dispatch, got %q", spans[0].Name)
	}

	found := map[string]bool{}
	for _, attr := range spans[0].Attributes {
		found[string(attr.Key)] = true
	}
	for _, want := range []string{"verifier.session_id", "verifier.agent_id", "verifier.burst_size"} {
		if !found[want] {
			t.Fatalf("expected span to carry attribute %q", want)
		}
	}
}

func TestWebhookDeliverySpanRecordsOutcome(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	defer otel.SetTracerProvider(prev)

	_, span := StartWebhookDeliverySpan(context.Background(), "agent-1", "chal-1")
	EndWebhookDeliverySpan(span, "passed", 120)

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("expected 1 recorded span, got %d", len(spans))
	}
	found := map[string]bool{}
	for _, attr := range spans[0].Attributes {
		found[string(attr.Key)] = true
	}
	if !found["verifier.outcome"] || !found["verifier.response_time_ms"] {
		t.Fatalf("expected the ended span to carry outcome and response-time attributes")
	}
}

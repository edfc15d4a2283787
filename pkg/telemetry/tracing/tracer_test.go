package tracing

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

func newTestTracer(t *testing.T) (*Tracer, *tracetest.InMemoryExporter) {
	t.Helper()
	exporter := tracetest.NewInMemoryExporter()
	tracer, err := New(Config{Enabled: true, Exporter: exporter, ServiceName: "gatekeeper-test"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = tracer.Shutdown(context.Background()) })
	return tracer, exporter
}

func TestNew_Disabled(t *testing.T) {
	tracer, err := New(Config{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if tracer.Enabled() {
		t.Error("expected disabled tracer")
	}

	ctx, span := tracer.Start(context.Background(), "noop")
	span.End()
	if TraceID(ctx) != "" {
		t.Error("expected no trace id from noop tracer")
	}
	if err := tracer.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown: %v", err)
	}
}

func TestNew_RequiresEndpoint(t *testing.T) {
	if _, err := New(Config{Enabled: true}); err == nil {
		t.Fatal("expected error without endpoint")
	}
}

func TestCreateSampler(t *testing.T) {
	tests := []struct {
		strategy string
		ratio    float64
		wantErr  bool
	}{
		{SamplerAlways, 0, false},
		{"", 0, false},
		{SamplerNever, 0, false},
		{SamplerRatio, 0.25, false},
		{SamplerRatio, 1.5, true},
		{"sometimes", 0, true},
	}

	for _, tt := range tests {
		_, err := createSampler(tt.strategy, tt.ratio)
		if (err != nil) != tt.wantErr {
			t.Errorf("createSampler(%q, %v) error = %v, wantErr %v", tt.strategy, tt.ratio, err, tt.wantErr)
		}
	}
}

func TestTracer_SpansAndAttributes(t *testing.T) {
	tracer, exporter := newTestTracer(t)

	ctx, span := tracer.Start(context.Background(), "limits.Admit",
		trace.WithAttributes(AdmissionAttributes("user-42", "run-comparison", "production")...))
	if TraceID(ctx) == "" {
		t.Error("expected trace id")
	}
	SetDecision(span, "rate_limited", false, "")
	SetStatus(span, nil)
	span.End()

	if err := tracer.provider.ForceFlush(context.Background()); err != nil {
		t.Fatalf("ForceFlush: %v", err)
	}

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	attrs := map[string]string{}
	for _, kv := range spans[0].Attributes {
		attrs[string(kv.Key)] = kv.Value.Emit()
	}
	if attrs["gatekeeper.user_id"] != "user-42" || attrs["gatekeeper.decision.kind"] != "rate_limited" {
		t.Errorf("unexpected attributes: %v", attrs)
	}
	if attrs["gatekeeper.decision.allowed"] != "false" {
		t.Errorf("expected allowed=false, got %q", attrs["gatekeeper.decision.allowed"])
	}
}

func TestMiddleware_ContinuesIncomingTrace(t *testing.T) {
	tracer, exporter := newTestTracer(t)

	handler := tracer.Middleware(func(*http.Request) string { return "/v1/admission" })(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if TraceID(r.Context()) != "4bf92f3577b34da6a3ce929d0e0e4736" {
				t.Errorf("expected incoming trace id, got %q", TraceID(r.Context()))
			}
		}))

	req := httptest.NewRequest(http.MethodPost, "/v1/admission", nil)
	req.Header.Set("traceparent", "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if err := tracer.provider.ForceFlush(context.Background()); err != nil {
		t.Fatalf("ForceFlush: %v", err)
	}
	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	if spans[0].Name != "POST /v1/admission" {
		t.Errorf("unexpected span name %q", spans[0].Name)
	}
	if spans[0].Parent.SpanID().String() != "00f067aa0ba902b7" {
		t.Errorf("expected remote parent, got %s", spans[0].Parent.SpanID())
	}
}

package tracing

import (
	"context"
	"testing"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Enabled() {
		t.Error("expected tracing disabled by default")
	}
	if cfg.ServiceName != "devreload" {
		t.Errorf("expected default service name devreload, got %s", cfg.ServiceName)
	}
	if cfg.SampleRate != 1.0 {
		t.Errorf("expected default sample rate 1.0, got %f", cfg.SampleRate)
	}
}

func TestNewProvider_Disabled(t *testing.T) {
	p, err := NewProvider(context.Background(), DefaultConfig())
	if err != nil {
		t.Fatalf("NewProvider: %v", err)
	}
	if p.Tracer() == nil {
		t.Fatal("expected non-nil tracer")
	}
	_, span := p.Tracer().Start(context.Background(), "noop")
	if span.SpanContext().IsValid() {
		t.Error("expected no-op span when tracing is disabled")
	}
	span.End()
	if err := p.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown of disabled provider should not error: %v", err)
	}
}

func TestProvider_Shutdown(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	p := &Provider{tp: tp, tracer: tp.Tracer("test")}

	_, span := p.Tracer().Start(context.Background(), "cycle")
	span.End()
	if err := p.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown failed: %v", err)
	}
	if len(exporter.GetSpans()) != 1 {
		t.Errorf("expected 1 exported span, got %d", len(exporter.GetSpans()))
	}
}

func TestSampler(t *testing.T) {
	if got := sampler(0).Description(); got != sdktrace.AlwaysSample().Description() {
		t.Errorf("rate 0: expected always-on sampler, got %s", got)
	}
	if got := sampler(1.5).Description(); got != sdktrace.AlwaysSample().Description() {
		t.Errorf("rate 1.5: expected always-on sampler, got %s", got)
	}
	if got := sampler(0.25).Description(); got == sdktrace.AlwaysSample().Description() {
		t.Error("rate 0.25: expected ratio sampler")
	}
}

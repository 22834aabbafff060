package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Phase names a step of a scan cycle.
type Phase string

const (
	PhaseScan     Phase = "scan"
	PhaseCompile  Phase = "compile"
	PhaseConfig   Phase = "config"
	PhaseRedefine Phase = "redefine"
	PhaseRestart  Phase = "restart"
)

// ReloadTracer creates spans around scan cycles and their phases.
type ReloadTracer struct {
	tracer trace.Tracer
}

// NewReloadTracer creates a ReloadTracer. If tracer is nil, the global
// tracer provider is used.
func NewReloadTracer(tracer trace.Tracer) *ReloadTracer {
	if tracer == nil {
		tracer = otel.GetTracerProvider().Tracer("devreload.reload")
	}
	return &ReloadTracer{tracer: tracer}
}

// StartCycle begins the root span of a scan cycle. trigger is "request" or
// "forced".
func (r *ReloadTracer) StartCycle(ctx context.Context, trigger string) (context.Context, trace.Span) {
	return r.tracer.Start(ctx, "devreload.cycle",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attribute.String("devreload.trigger", trigger)),
	)
}

// StartPhase begins a child span for one phase of the cycle.
func (r *ReloadTracer) StartPhase(ctx context.Context, phase Phase, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return r.tracer.Start(ctx, "devreload."+string(phase),
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attrs...),
	)
}

// RecordError records err on span and marks it failed. Nil errors are ignored.
func (r *ReloadTracer) RecordError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// SetSuccess marks a span as successful.
func (r *ReloadTracer) SetSuccess(span trace.Span) {
	span.SetStatus(codes.Ok, "")
}

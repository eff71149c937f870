package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type TelemetryTracer struct {
	tracer     trace.Tracer
	span       trace.Span
	tracerCtx  context.Context // parent context for child spans
	spanName   string
	attributes *SpanAttributes

	started bool
}

func NewTelemetryTracer(ctx context.Context, tracer trace.Tracer, spanName string) *TelemetryTracer {
	return &TelemetryTracer{
		tracer:     tracer,
		tracerCtx:  ctx,
		spanName:   spanName,
		attributes: EmptySpanAttributes(),
	}
}

func (t *TelemetryTracer) Start() {
	attributes := t.attributes.Attributes()
	attributes = append(attributes, attribute.String("hybrid.action.name", t.spanName))
	t.tracerCtx, t.span = t.tracer.Start(t.tracerCtx, t.spanName, trace.WithAttributes(attributes...))
	t.started = true
}

func (t *TelemetryTracer) SetStatus(code codes.Code, message string) {
	if t.started {
		t.span.SetStatus(code, message)
	}
}

func (t *TelemetryTracer) WithAttributes(attributes *SpanAttributes) Tracer {
	t.attributes.Merge(attributes)
	if t.started {
		t.span.SetAttributes(t.attributes.Attributes()...)
	}
	return t
}

func (t *TelemetryTracer) AddEvent(name string, e EventAttributes) {
	if t.started {
		t.span.AddEvent(name, trace.WithAttributes(e...))
	}
}

func (t *TelemetryTracer) Spawn(spanName string) Tracer {
	child := NewTelemetryTracer(t.tracerCtx, t.tracer, spanName)
	return child.WithAttributes(t.attributes)
}

func (t *TelemetryTracer) End() {
	if !t.started {
		return // do not end if the span was never started
	}
	t.span.End()
}

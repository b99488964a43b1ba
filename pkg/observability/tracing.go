package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TracerName is the name of the tracer for pipeline operations.
const TracerName = "mailroute"

// Span attribute keys
const (
	AttrUserID      = "user_id"
	AttrRunID       = "run_id"
	AttrSource      = "source"
	AttrStage       = "stage"
	AttrCategory    = "category"
	AttrIntegration = "integration"
	AttrTable       = "table"
	AttrRecords     = "records"
	AttrModel       = "model"
	AttrDurationMs  = "duration_ms"
	AttrErrorCode   = "error_code"
)

// Span names
const (
	SpanProcessEvent    = "mailroute.process_event"
	SpanStageTriage     = "mailroute.stage.triage"
	SpanStageExtraction = "mailroute.stage.extraction"
	SpanStageRouting    = "mailroute.stage.routing"
	SpanStageWrite      = "mailroute.stage.write"
	SpanReasoningCall   = "mailroute.reasoning_call"
	SpanSchemaDiscovery = "mailroute.schema_discovery"
)

// Tracer wraps the otel tracer for pipeline operations.
type Tracer struct {
	tracer trace.Tracer
}

// NewTracer creates a pipeline tracer.
func NewTracer() *Tracer {
	return &Tracer{
		tracer: otel.Tracer(TracerName),
	}
}

// StartEventSpan starts a root span for processing an inbound event.
func (t *Tracer) StartEventSpan(ctx context.Context, userID, runID, source string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, SpanProcessEvent,
		trace.WithAttributes(
			attribute.String(AttrUserID, userID),
			attribute.String(AttrRunID, runID),
			attribute.String(AttrSource, source),
		),
	)
}

// StartStageSpan starts a span for a pipeline stage.
func (t *Tracer) StartStageSpan(ctx context.Context, stage string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, fmt.Sprintf("mailroute.stage.%s", stage),
		trace.WithAttributes(
			attribute.String(AttrStage, stage),
		),
	)
}

// StartReasoningSpan starts a span for a reasoning call.
func (t *Tracer) StartReasoningSpan(ctx context.Context, model string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, SpanReasoningCall,
		trace.WithAttributes(
			attribute.String(AttrModel, model),
		),
	)
}

// StartDiscoverySpan starts a span for a schema discovery call.
func (t *Tracer) StartDiscoverySpan(ctx context.Context, integration string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, SpanSchemaDiscovery,
		trace.WithAttributes(
			attribute.String(AttrIntegration, integration),
		),
	)
}

// RecordError records an error with its classification code on a span.
func RecordError(span trace.Span, err error, code string) {
	span.SetStatus(codes.Error, err.Error())
	span.SetAttributes(attribute.String(AttrErrorCode, code))
	span.RecordError(err)
}

// RecordSuccess marks a span as successful.
func RecordSuccess(span trace.Span) {
	span.SetStatus(codes.Ok, "")
}

// SetWriteResult records write attributes on a span.
func SetWriteResult(span trace.Span, integration, table string, records int) {
	span.SetAttributes(
		attribute.String(AttrIntegration, integration),
		attribute.String(AttrTable, table),
		attribute.Int(AttrRecords, records),
	)
}

// TraceID returns the trace ID from the context, or "" when not traced.
func TraceID(ctx context.Context) string {
	span := trace.SpanFromContext(ctx)
	if span.SpanContext().HasTraceID() {
		return span.SpanContext().TraceID().String()
	}
	return ""
}

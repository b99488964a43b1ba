package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/mailroute/mailroute/pkg/reasoning"
)

// instrumentedProvider wraps a reasoning provider so every call is traced
// and measured under one operation label.
type instrumentedProvider struct {
	inner     reasoning.Provider
	operation string
	metrics   *PipelineMetrics
	tracer    *Tracer
}

// InstrumentProvider decorates provider with reasoning-call metrics and
// spans. The operation label tells the stages apart on the shared metric
// families. metrics may be nil; calls then only produce spans.
func InstrumentProvider(provider reasoning.Provider, operation string, metrics *PipelineMetrics) reasoning.Provider {
	return &instrumentedProvider{
		inner:     provider,
		operation: operation,
		metrics:   metrics,
		tracer:    NewTracer(),
	}
}

func (p *instrumentedProvider) Name() string {
	return p.inner.Name()
}

func (p *instrumentedProvider) Complete(ctx context.Context, req reasoning.CompletionRequest) (*reasoning.CompletionResponse, error) {
	ctx, span := p.tracer.StartReasoningSpan(ctx, p.inner.Name())
	defer span.End()

	start := time.Now()
	resp, err := p.inner.Complete(ctx, req)
	tokens := 0
	if resp != nil {
		tokens = resp.TokensUsed.Total
	}
	p.record(span, err, time.Since(start), tokens)
	return resp, err
}

func (p *instrumentedProvider) CompleteStructured(ctx context.Context, req reasoning.CompletionRequest, target interface{}) error {
	ctx, span := p.tracer.StartReasoningSpan(ctx, p.inner.Name())
	defer span.End()

	start := time.Now()
	err := p.inner.CompleteStructured(ctx, req, target)
	p.record(span, err, time.Since(start), 0)
	return err
}

func (p *instrumentedProvider) IsAvailable(ctx context.Context) bool {
	return p.inner.IsAvailable(ctx)
}

func (p *instrumentedProvider) Close() error {
	return p.inner.Close()
}

func (p *instrumentedProvider) record(span trace.Span, err error, elapsed time.Duration, tokens int) {
	status := "success"
	if err != nil {
		status = "error"
		RecordError(span, err, "reasoning_failure")
	} else {
		RecordSuccess(span)
	}
	if p.metrics != nil {
		p.metrics.RecordReasoningCall(p.operation, p.inner.Name(), status, elapsed.Seconds(), tokens)
	}
}

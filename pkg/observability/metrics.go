// Package observability holds the Prometheus metrics and OpenTelemetry
// tracing used across the ingestion pipeline.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PipelineMetrics holds all Prometheus metrics for the ingestion pipeline.
type PipelineMetrics struct {
	// Ingestion boundary
	EventsReceivedTotal *prometheus.CounterVec
	EventsDedupedTotal  prometheus.Counter

	// Stage metrics
	StageRunsTotal  *prometheus.CounterVec
	StageSeconds    *prometheus.HistogramVec
	RunsTotal       *prometheus.CounterVec
	TriageDecisions *prometheus.CounterVec

	// Reasoning service
	ReasoningCallsTotal  *prometheus.CounterVec
	ReasoningLatencySecs *prometheus.HistogramVec
	ReasoningTokensTotal *prometheus.CounterVec

	// Destination writes
	RecordsWrittenTotal  *prometheus.CounterVec
	RecordsRejectedTotal *prometheus.CounterVec
}

// DefaultPipelineMetrics creates metrics on the default registry.
func DefaultPipelineMetrics() *PipelineMetrics {
	return NewPipelineMetrics(prometheus.DefaultRegisterer)
}

// NewPipelineMetrics creates a new set of pipeline metrics.
func NewPipelineMetrics(reg prometheus.Registerer) *PipelineMetrics {
	factory := promauto.With(reg)

	return &PipelineMetrics{
		EventsReceivedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailroute_events_received_total",
				Help: "Total inbound events by source",
			},
			[]string{"source"},
		),
		EventsDedupedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "mailroute_events_deduped_total",
				Help: "Total redelivered events dropped by the dedup check",
			},
		),
		StageRunsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailroute_stage_runs_total",
				Help: "Total stage executions by outcome",
			},
			[]string{"stage", "status"},
		),
		StageSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mailroute_stage_seconds",
				Help:    "Stage latency",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"stage"},
		),
		RunsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailroute_runs_total",
				Help: "Total pipeline runs by terminal status",
			},
			[]string{"status"},
		),
		TriageDecisions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailroute_triage_decisions_total",
				Help: "Total triage decisions by category and outcome",
			},
			[]string{"category", "should_process"},
		),
		ReasoningCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailroute_reasoning_calls_total",
				Help: "Total reasoning service calls",
			},
			[]string{"operation", "model", "status"},
		),
		ReasoningLatencySecs: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mailroute_reasoning_latency_seconds",
				Help:    "Reasoning call latency",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 15, 30},
			},
			[]string{"operation", "model"},
		),
		ReasoningTokensTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailroute_reasoning_tokens_total",
				Help: "Total tokens consumed by reasoning calls",
			},
			[]string{"model"},
		),
		RecordsWrittenTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailroute_records_written_total",
				Help: "Total records written to destinations",
			},
			[]string{"integration", "table"},
		),
		RecordsRejectedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailroute_records_rejected_total",
				Help: "Total records rejected during a write",
			},
			[]string{"integration", "reason"},
		),
	}
}

// RecordEventReceived records an inbound event.
func (m *PipelineMetrics) RecordEventReceived(source string) {
	m.EventsReceivedTotal.WithLabelValues(source).Inc()
}

// RecordDedup records a redelivered event being dropped.
func (m *PipelineMetrics) RecordDedup() {
	m.EventsDedupedTotal.Inc()
}

// RecordStage records a stage execution.
func (m *PipelineMetrics) RecordStage(stage, status string, seconds float64) {
	m.StageRunsTotal.WithLabelValues(stage, status).Inc()
	m.StageSeconds.WithLabelValues(stage).Observe(seconds)
}

// RecordRun records a terminal run status.
func (m *PipelineMetrics) RecordRun(status string) {
	m.RunsTotal.WithLabelValues(status).Inc()
}

// RecordTriage records a triage decision.
func (m *PipelineMetrics) RecordTriage(category string, shouldProcess bool) {
	processed := "false"
	if shouldProcess {
		processed = "true"
	}
	m.TriageDecisions.WithLabelValues(category, processed).Inc()
}

// RecordReasoningCall records a reasoning service call.
func (m *PipelineMetrics) RecordReasoningCall(operation, model, status string, latencySeconds float64, tokens int) {
	m.ReasoningCallsTotal.WithLabelValues(operation, model, status).Inc()
	m.ReasoningLatencySecs.WithLabelValues(operation, model).Observe(latencySeconds)
	if tokens > 0 {
		m.ReasoningTokensTotal.WithLabelValues(model).Add(float64(tokens))
	}
}

// RecordWrite records the outcome of a destination write.
func (m *PipelineMetrics) RecordWrite(integration, table string, written int, rejected []string) {
	if written > 0 {
		m.RecordsWrittenTotal.WithLabelValues(integration, table).Add(float64(written))
	}
	for _, reason := range rejected {
		m.RecordsRejectedTotal.WithLabelValues(integration, reason).Inc()
	}
}

package observability

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestPipelineMetricsRecord(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewPipelineMetrics(reg)

	m.RecordEventReceived("Email")
	m.RecordEventReceived("Email")
	m.RecordStage("triage", "ok", 0.3)
	m.RecordRun("Processed")
	m.RecordTriage("sales_lead", true)
	m.RecordWrite("crm", "Leads", 2, []string{"invalid_choice_option"})

	if got := testutil.ToFloat64(m.EventsReceivedTotal.WithLabelValues("Email")); got != 2 {
		t.Errorf("events received = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.StageRunsTotal.WithLabelValues("triage", "ok")); got != 1 {
		t.Errorf("stage runs = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.RecordsWrittenTotal.WithLabelValues("crm", "Leads")); got != 2 {
		t.Errorf("records written = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.RecordsRejectedTotal.WithLabelValues("crm", "invalid_choice_option")); got != 1 {
		t.Errorf("records rejected = %v, want 1", got)
	}
}

func TestPipelineMetricsSeparateRegistries(t *testing.T) {
	// Two instances on separate registries must not collide.
	m1 := NewPipelineMetrics(prometheus.NewRegistry())
	m2 := NewPipelineMetrics(prometheus.NewRegistry())

	m1.RecordDedup()
	if got := testutil.ToFloat64(m2.EventsDedupedTotal); got != 0 {
		t.Errorf("registries not isolated: %v", got)
	}
}

func TestTraceIDWithoutSpan(t *testing.T) {
	if got := TraceID(context.Background()); got != "" {
		t.Errorf("TraceID on empty context = %q, want empty", got)
	}
}

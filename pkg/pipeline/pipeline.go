// Package pipeline sequences triage, extraction, routing and the destination
// write for one inbound event, and records exactly one run per event.
package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mailroute/mailroute/pkg/destination"
	mrerrors "github.com/mailroute/mailroute/pkg/errors"
	"github.com/mailroute/mailroute/pkg/event"
	"github.com/mailroute/mailroute/pkg/extraction"
	"github.com/mailroute/mailroute/pkg/logging"
	"github.com/mailroute/mailroute/pkg/observability"
	"github.com/mailroute/mailroute/pkg/routing"
	"github.com/mailroute/mailroute/pkg/runlog"
	"github.com/mailroute/mailroute/pkg/triage"
)

// DefaultTimeout bounds one pipeline run end to end.
const DefaultTimeout = 30 * time.Second

// State is the orchestrator's position in the run.
type State string

const (
	StateReceived   State = "Received"
	StateTriaged    State = "Triaged"
	StateSkipped    State = "Skipped"
	StateExtracting State = "Extracting"
	StateRouted     State = "Routed"
	StateWriting    State = "Writing"
	StateLogged     State = "Logged"
)

// Triager classifies an inbound event. Implementations never fail; they
// degrade to a safe skip decision.
type Triager interface {
	Classify(ctx context.Context, ev *event.InboundEvent) *triage.Decision
}

// Extractor normalizes raw text plus attachments into a document.
type Extractor interface {
	Extract(ctx context.Context, rawText string, attachments []event.Attachment) (*extraction.ExtractedDocument, error)
}

// ContentRouter maps extracted content onto a connected destination.
type ContentRouter interface {
	Route(ctx context.Context, content string, creds []destination.Credentials) (*routing.Decision, []routing.Candidate, error)
}

// RecordWriter writes field-mapped records to a destination table.
type RecordWriter interface {
	Write(ctx context.Context, creds destination.Credentials, tableName string, records []destination.FieldMap) (*destination.WriteResult, error)
}

// Result describes the outcome of one run. The ingestion boundary reports
// this in-band; errors are carried as a code and message, never as a raw
// failure.
type Result struct {
	RunID     uuid.UUID                `json:"runId"`
	State     State                    `json:"state"`
	Status    runlog.Status            `json:"status"`
	Triage    *triage.Decision         `json:"triage,omitempty"`
	Routing   *routing.Decision        `json:"routing,omitempty"`
	Write     *destination.WriteResult `json:"write,omitempty"`
	ErrorCode mrerrors.ErrorCode       `json:"errorCode,omitempty"`
	Message   string                   `json:"message,omitempty"`
}

// Pipeline orchestrates the run state machine
// Received → Triaged → (Skipped | Extracting → Routed → Writing → Logged).
type Pipeline struct {
	triage    Triager
	extractor Extractor
	router    ContentRouter
	writer    RecordWriter
	runs      runlog.Store
	metrics   *observability.PipelineMetrics
	tracer    *observability.Tracer
	logger    logging.Logger
	timeout   time.Duration
}

// Option configures the pipeline.
type Option func(*Pipeline)

// WithTimeout overrides the per-run budget.
func WithTimeout(d time.Duration) Option {
	return func(p *Pipeline) {
		p.timeout = d
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger logging.Logger) Option {
	return func(p *Pipeline) {
		p.logger = logger
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *observability.PipelineMetrics) Option {
	return func(p *Pipeline) {
		p.metrics = m
	}
}

// New creates a pipeline.
func New(t Triager, e Extractor, r ContentRouter, w RecordWriter, runs runlog.Store, opts ...Option) *Pipeline {
	p := &Pipeline{
		triage:    t,
		extractor: e,
		router:    r,
		writer:    w,
		runs:      runs,
		tracer:    observability.NewTracer(),
		logger:    logging.MustGlobal(),
		timeout:   DefaultTimeout,
	}

	for _, opt := range opts {
		opt(p)
	}

	p.logger = p.logger.With(logging.F("component", "pipeline"))
	return p
}

// Process runs one inbound event through the pipeline. It never returns an
// error: every failure is converted to a Failed result, and exactly one run
// record is appended whatever the outcome.
func (p *Pipeline) Process(ctx context.Context, userID string, ev *event.InboundEvent, creds []destination.Credentials) *Result {
	runID := uuid.New()
	ctx = context.WithValue(ctx, logging.RunIDKey, runID.String())
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	ctx, span := p.tracer.StartEventSpan(ctx, userID, runID.String(), string(ev.Source))
	defer span.End()

	if p.metrics != nil {
		p.metrics.RecordEventReceived(string(ev.Source))
	}

	result := &Result{RunID: runID, State: StateReceived}

	p.logger.Info("Starting pipeline run",
		logging.F("run_id", runID.String()),
		logging.F("user_id", userID),
		logging.F("source", string(ev.Source)),
		logging.F("subject", ev.Subject))

	decision := p.runTriage(ctx, ev)
	result.Triage = decision
	result.State = StateTriaged

	if !decision.ShouldProcess {
		result.State = StateSkipped
		result.Status = runlog.StatusSkip
		result.Message = decision.Reasoning
		return p.finish(ctx, userID, ev, result)
	}

	content := p.runExtraction(ctx, ev, decision, result)

	routed, candidates, err := p.runRouting(ctx, content, creds)
	if err != nil {
		return p.fail(ctx, userID, ev, result, "routing", err)
	}
	result.Routing = routed
	result.State = StateRouted

	if routed.Status != routing.StatusSuccess {
		// Routed → Logged, skipping the write.
		err := fmt.Errorf("no destination fits the content: %s", routed.Explanation)
		return p.fail(ctx, userID, ev, result, "routing", err)
	}

	result.State = StateWriting
	writeResult, err := p.runWrite(ctx, routed, candidates)
	if err != nil {
		return p.fail(ctx, userID, ev, result, "write", err)
	}
	result.Write = writeResult

	if writeResult.InsertedCount > 0 {
		result.Status = runlog.StatusProcessed
		if len(writeResult.Errors) > 0 {
			result.Message = fmt.Sprintf("%d of %d records rejected",
				len(writeResult.Errors), len(routed.MappedRecords))
		}
	} else {
		result.Status = runlog.StatusFailed
		result.ErrorCode = mrerrors.CodeWriteRejected
		result.Message = fmt.Sprintf("all %d records rejected", len(routed.MappedRecords))
	}

	return p.finish(ctx, userID, ev, result)
}

func (p *Pipeline) runTriage(ctx context.Context, ev *event.InboundEvent) *triage.Decision {
	ctx, span := p.tracer.StartStageSpan(ctx, "triage")
	defer span.End()

	start := time.Now()
	decision := p.triage.Classify(ctx, ev)

	if p.metrics != nil {
		p.metrics.RecordStage("triage", "ok", time.Since(start).Seconds())
		p.metrics.RecordTriage(string(decision.Category), decision.ShouldProcess)
	}
	observability.RecordSuccess(span)
	return decision
}

// runExtraction builds the content block handed to routing. With no
// attachments the relay is never invoked; the triage summary seeds routing
// directly. Relay failures degrade to routing on the original event text.
func (p *Pipeline) runExtraction(ctx context.Context, ev *event.InboundEvent, decision *triage.Decision, result *Result) string {
	if !ev.HasAttachments() {
		return buildContent(ev, decision, "")
	}

	result.State = StateExtracting
	ctx, span := p.tracer.StartStageSpan(ctx, "extraction")
	defer span.End()

	start := time.Now()
	doc, err := p.extractor.Extract(ctx, ev.Body, ev.Attachments)
	if err != nil {
		classified := mrerrors.ClassifyError(err, "extraction")
		p.logger.Warn("Extraction relay failed, routing on event text",
			logging.Err(err),
			logging.F("code", string(classified.Code)))
		if p.metrics != nil {
			p.metrics.RecordStage("extraction", "degraded", time.Since(start).Seconds())
		}
		observability.RecordError(span, err, string(classified.Code))
		return buildContent(ev, decision, "")
	}

	if p.metrics != nil {
		p.metrics.RecordStage("extraction", "ok", time.Since(start).Seconds())
	}
	observability.RecordSuccess(span)
	return buildContent(ev, decision, doc.Text)
}

func (p *Pipeline) runRouting(ctx context.Context, content string, creds []destination.Credentials) (*routing.Decision, []routing.Candidate, error) {
	ctx, span := p.tracer.StartStageSpan(ctx, "routing")
	defer span.End()

	start := time.Now()
	decision, candidates, err := p.router.Route(ctx, content, creds)
	if err != nil {
		if p.metrics != nil {
			p.metrics.RecordStage("routing", "failed", time.Since(start).Seconds())
		}
		observability.RecordError(span, err, string(mrerrors.ClassifyError(err, "routing").Code))
		return nil, nil, err
	}

	if p.metrics != nil {
		p.metrics.RecordStage("routing", string(decision.Status), time.Since(start).Seconds())
	}
	observability.RecordSuccess(span)
	return decision, candidates, nil
}

func (p *Pipeline) runWrite(ctx context.Context, decision *routing.Decision, candidates []routing.Candidate) (*destination.WriteResult, error) {
	ctx, span := p.tracer.StartStageSpan(ctx, "write")
	defer span.End()

	var creds destination.Credentials
	found := false
	for _, cand := range candidates {
		if cand.Credentials.Integration == decision.SelectedIntegration {
			creds = cand.Credentials
			found = true
			break
		}
	}
	if !found {
		err := fmt.Errorf("no credentials for integration %q: %w",
			decision.SelectedIntegration, mrerrors.ErrSchemaMismatch)
		observability.RecordError(span, err, string(mrerrors.CodeSchemaMismatch))
		return nil, err
	}

	start := time.Now()
	writeResult, err := p.writer.Write(ctx, creds, decision.TableName, decision.MappedRecords)
	if err != nil {
		if p.metrics != nil {
			p.metrics.RecordStage("write", "failed", time.Since(start).Seconds())
		}
		observability.RecordError(span, err, string(mrerrors.ClassifyError(err, "write").Code))
		return nil, err
	}

	if p.metrics != nil {
		p.metrics.RecordStage("write", "ok", time.Since(start).Seconds())
		reasons := make([]string, 0, len(writeResult.Errors))
		for _, re := range writeResult.Errors {
			reasons = append(reasons, re.Reason)
		}
		p.metrics.RecordWrite(decision.SelectedIntegration, decision.TableName, writeResult.InsertedCount, reasons)
	}
	observability.SetWriteResult(span, decision.SelectedIntegration, decision.TableName, writeResult.InsertedCount)
	observability.RecordSuccess(span)
	return writeResult, nil
}

// fail converts a stage error into a Failed result.
func (p *Pipeline) fail(ctx context.Context, userID string, ev *event.InboundEvent, result *Result, stage string, err error) *Result {
	classified := mrerrors.ClassifyError(err, stage)

	result.Status = runlog.StatusFailed
	result.ErrorCode = classified.Code
	result.Message = classified.Error()

	p.logger.Error("Pipeline run failed",
		logging.Err(err),
		logging.F("run_id", result.RunID.String()),
		logging.F("stage", stage),
		logging.F("code", string(classified.Code)))

	return p.finish(ctx, userID, ev, result)
}

// finish records the terminal status and appends the single run record for
// this event. Audit persistence is best-effort and cannot change the outcome.
func (p *Pipeline) finish(ctx context.Context, userID string, ev *event.InboundEvent, result *Result) *Result {
	if result.State != StateSkipped {
		result.State = StateLogged
	}

	if p.metrics != nil {
		p.metrics.RecordRun(string(result.Status))
	}

	rec := &runlog.RunRecord{
		UserID:      userID,
		RunTime:     time.Now().UTC(),
		DataType:    dataType(result),
		Source:      string(ev.Source),
		Destination: destinationName(result),
		Status:      result.Status,
	}
	// The run budget may already be spent; the audit write gets its own.
	logCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	runlog.Log(logCtx, p.runs, p.logger, rec)

	p.logger.Info("Pipeline run finished",
		logging.F("run_id", result.RunID.String()),
		logging.F("status", string(result.Status)),
		logging.F("state", string(result.State)))

	return result
}

func dataType(result *Result) string {
	if result.Routing != nil && result.Routing.TableName != "" {
		return result.Routing.TableName
	}
	if result.Triage != nil {
		return string(result.Triage.Category)
	}
	return "unknown"
}

func destinationName(result *Result) string {
	if result.State == StateSkipped {
		return "Skipped"
	}
	if result.Routing != nil && result.Routing.SelectedIntegration != "" {
		return result.Routing.SelectedIntegration
	}
	return "none"
}

// buildContent assembles the text block handed to the routing stage from the
// event, the triage summary and any extracted attachment text.
func buildContent(ev *event.InboundEvent, decision *triage.Decision, extracted string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\n", ev.Sender)
	fmt.Fprintf(&b, "Subject: %s\n", ev.Subject)
	fmt.Fprintf(&b, "Category: %s\n", decision.Category)
	if len(decision.Extracted.KeyTopics) > 0 {
		fmt.Fprintf(&b, "Topics: %s\n", strings.Join(decision.Extracted.KeyTopics, ", "))
	}
	b.WriteString("\n")
	b.WriteString(ev.Body)
	if extracted != "" {
		b.WriteString("\n\nAttachment content:\n")
		b.WriteString(extracted)
	}
	return b.String()
}

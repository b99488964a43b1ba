package routing

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/mailroute/mailroute/pkg/destination"
	mrerrors "github.com/mailroute/mailroute/pkg/errors"
	"github.com/mailroute/mailroute/pkg/logging"
	"github.com/mailroute/mailroute/pkg/observability"
	"github.com/mailroute/mailroute/pkg/reasoning"
)

// SchemaDiscoverer is the slice of the destination client routing needs.
type SchemaDiscoverer interface {
	Discover(ctx context.Context, creds destination.Credentials) (*destination.Schema, error)
}

// Router performs the routing stage: discover schemas, ask the reasoning
// service for a mapping, then validate that mapping hard against the
// discovered schemas before anything is written.
type Router struct {
	schemas  SchemaDiscoverer
	provider reasoning.Provider
	logger   logging.Logger
	tracer   *observability.Tracer
}

// Option configures the router.
type Option func(*Router)

// WithLogger sets a custom logger.
func WithLogger(logger logging.Logger) Option {
	return func(r *Router) {
		r.logger = logger
	}
}

// NewRouter creates a routing stage.
func NewRouter(schemas SchemaDiscoverer, provider reasoning.Provider, opts ...Option) *Router {
	r := &Router{
		schemas:  schemas,
		provider: provider,
		logger:   logging.MustGlobal(),
		tracer:   observability.NewTracer(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With(logging.F("component", "routing"))
	return r
}

// Route selects one destination table for the extracted content and maps the
// content onto it. Schema discovery runs first, fresh, for every connected
// destination; discovery failures on ALL destinations abort the stage with
// the discovery error. Reasoning call failures surface as reasoning-failure
// errors so the run record carries the right code. A mapping that does not
// conform to the discovered schema is rejected with a schema mismatch before
// any write can happen.
func (r *Router) Route(ctx context.Context, content string, creds []destination.Credentials) (*Decision, []Candidate, error) {
	if len(creds) == 0 {
		return nil, nil, fmt.Errorf("no connected destinations: %w", mrerrors.ErrValidation)
	}

	candidates, discoveryErr := r.discoverAll(ctx, creds)
	if len(candidates) == 0 {
		return nil, nil, fmt.Errorf("schema discovery failed for all destinations: %w", discoveryErr)
	}

	decision, err := r.routeWithReasoning(ctx, content, candidates)
	if err != nil {
		r.logger.Warn("Routing reasoning failed", logging.Err(err))
		if !errors.Is(err, mrerrors.ErrReasoningFailure) {
			err = fmt.Errorf("%w: %v", mrerrors.ErrReasoningFailure, err)
		}
		return nil, candidates, fmt.Errorf("routing reasoning: %w", err)
	}

	if decision.Status == StatusError {
		r.logger.Info("Routing declined to map content",
			logging.F("explanation", decision.Explanation))
		return decision, candidates, nil
	}

	if err := ValidateDecision(decision, candidates); err != nil {
		return nil, candidates, err
	}

	r.logger.Info("Routing selected destination",
		logging.F("integration", decision.SelectedIntegration),
		logging.F("table", decision.TableName),
		logging.F("records", len(decision.MappedRecords)),
		logging.F("confidence", decision.Confidence))

	return decision, candidates, nil
}

func (r *Router) discoverAll(ctx context.Context, creds []destination.Credentials) ([]Candidate, error) {
	var candidates []Candidate
	var lastErr error
	for _, c := range creds {
		schema, err := r.discoverOne(ctx, c)
		if err != nil {
			lastErr = err
			r.logger.Warn("Schema discovery failed for destination",
				logging.Err(err),
				logging.F("integration", c.Integration))
			continue
		}
		candidates = append(candidates, Candidate{Credentials: c, Schema: schema})
	}
	return candidates, lastErr
}

func (r *Router) discoverOne(ctx context.Context, creds destination.Credentials) (*destination.Schema, error) {
	ctx, span := r.tracer.StartDiscoverySpan(ctx, creds.Integration)
	defer span.End()

	schema, err := r.schemas.Discover(ctx, creds)
	if err != nil {
		observability.RecordError(span, err, string(mrerrors.ClassifyError(err, "discovery").Code))
		return nil, err
	}
	observability.RecordSuccess(span)
	return schema, nil
}

// routingOutput mirrors the JSON contract the model is asked to produce.
type routingOutput struct {
	SelectedIntegration string                   `json:"selectedIntegration"`
	TableName           string                   `json:"tableName"`
	MappedRecords       []map[string]interface{} `json:"mappedRecords"`
	Confidence          float64                  `json:"confidence"`
	Reasoning           string                   `json:"reasoning"`
	Status              string                   `json:"status"`
	Explanation         string                   `json:"explanation"`
}

func (r *Router) routeWithReasoning(ctx context.Context, content string, candidates []Candidate) (*Decision, error) {
	var out routingOutput
	req := reasoning.CompletionRequest{
		SystemPrompt: routingSystemPrompt,
		Prompt:       buildRoutingPrompt(content, candidates),
	}
	if err := r.provider.CompleteStructured(ctx, req, &out); err != nil {
		return nil, err
	}

	decision := &Decision{
		SelectedIntegration: out.SelectedIntegration,
		TableName:           out.TableName,
		Confidence:          out.Confidence,
		Reasoning:           out.Reasoning,
		Status:              DecisionStatus(out.Status),
		Explanation:         out.Explanation,
	}
	for _, rec := range out.MappedRecords {
		decision.MappedRecords = append(decision.MappedRecords, destination.FieldMap(rec))
	}

	if decision.Status != StatusSuccess && decision.Status != StatusError {
		return nil, fmt.Errorf("routing output has unknown status %q", decision.Status)
	}
	if decision.Status == StatusSuccess && len(decision.MappedRecords) == 0 {
		return nil, fmt.Errorf("routing output claims success with no records")
	}

	return decision, nil
}

const routingSystemPrompt = `You route extracted business content into the user's connected tabular stores. Given the content and the live schemas of every connected destination, select exactly one destination and table whose required fields you can populate, and map the content onto its fields. Respond with JSON matching exactly:
{
  "selectedIntegration": string,
  "tableName": string,
  "mappedRecords": [{"<field name>": <value>, ...}],
  "confidence": number between 0 and 1,
  "reasoning": string,
  "status": "success"|"error",
  "explanation": string
}
Rules:
- Use ONLY field names that appear in the chosen table's schema.
- For choice fields, use ONLY one of the listed options.
- Format dates as YYYY-MM-DD.
- If no destination table reasonably fits the content, set status to "error" and explain why in "explanation" instead of forcing a mapping.`

func buildRoutingPrompt(content string, candidates []Candidate) string {
	var b strings.Builder
	b.WriteString("Connected destinations and their schemas:\n\n")
	for _, cand := range candidates {
		fmt.Fprintf(&b, "Integration %q:\n", cand.Credentials.Integration)
		tableNames := cand.Schema.TableNames()
		sort.Strings(tableNames)
		for _, tableName := range tableNames {
			table := cand.Schema.Tables[tableName]
			fmt.Fprintf(&b, "  Table %q:\n", tableName)
			fieldNames := make([]string, 0, len(table.Fields))
			for name := range table.Fields {
				fieldNames = append(fieldNames, name)
			}
			sort.Strings(fieldNames)
			for _, name := range fieldNames {
				field := table.Fields[name]
				fmt.Fprintf(&b, "    - %s (%s", name, field.Type)
				if field.Required {
					b.WriteString(", required")
				}
				if len(field.Options) > 0 {
					fmt.Fprintf(&b, ", options: %s", strings.Join(field.Options, ", "))
				}
				b.WriteString(")\n")
			}
		}
		b.WriteString("\n")
	}
	b.WriteString("Content to route:\n")
	b.WriteString(content)
	return b.String()
}

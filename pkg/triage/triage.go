package triage

import (
	"context"
	"fmt"
	"strings"

	"github.com/mailroute/mailroute/pkg/event"
	"github.com/mailroute/mailroute/pkg/logging"
	"github.com/mailroute/mailroute/pkg/reasoning"
)

// Stage performs triage classification against the reasoning service.
type Stage struct {
	provider reasoning.Provider
	logger   logging.Logger
}

// Option configures the stage.
type Option func(*Stage)

// WithLogger sets a custom logger.
func WithLogger(logger logging.Logger) Option {
	return func(s *Stage) {
		s.logger = logger
	}
}

// NewStage creates a triage stage backed by the given reasoning provider.
func NewStage(provider reasoning.Provider, opts ...Option) *Stage {
	s := &Stage{
		provider: provider,
		logger:   logging.MustGlobal(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(logging.F("component", "triage"))
	return s
}

// Classify produces a triage decision for an inbound event. On any failure of
// the reasoning call the pipeline must not crash: the stage degrades to a
// safe default (skip, low confidence, category other).
func (s *Stage) Classify(ctx context.Context, ev *event.InboundEvent) *Decision {
	// Obvious machine-generated mail is decided locally; spending a
	// reasoning call to name a newsletter a newsletter is waste.
	if d, ok := classifyByHeuristics(ev); ok {
		s.logger.Debug("Triage decided by heuristic",
			logging.F("category", string(d.Category)),
			logging.F("sender", ev.Sender))
		return d
	}

	decision, err := s.classifyWithReasoning(ctx, ev)
	if err != nil {
		s.logger.Warn("Triage reasoning failed, degrading to safe default",
			logging.Err(err),
			logging.F("subject", ev.Subject))
		return safeDefault(ev, err)
	}

	s.logger.Debug("Triage complete",
		logging.F("category", string(decision.Category)),
		logging.F("should_process", decision.ShouldProcess),
		logging.F("confidence", decision.Confidence))

	return decision
}

// triageOutput mirrors the JSON contract the model is asked to produce.
type triageOutput struct {
	ShouldProcess bool    `json:"shouldProcess"`
	Confidence    float64 `json:"confidence"`
	Category      string  `json:"category"`
	Priority      string  `json:"priority"`
	Reasoning     string  `json:"reasoning"`
	Extracted     struct {
		Sender            string   `json:"sender"`
		Subject           string   `json:"subject"`
		KeyTopics         []string `json:"keyTopics"`
		Sentiment         string   `json:"sentiment"`
		HasAttachments    bool     `json:"hasAttachments"`
		UrgencyIndicators []string `json:"urgencyIndicators"`
	} `json:"extracted"`
}

func (s *Stage) classifyWithReasoning(ctx context.Context, ev *event.InboundEvent) (*Decision, error) {
	var out triageOutput
	req := reasoning.CompletionRequest{
		SystemPrompt: triageSystemPrompt,
		Prompt:       buildTriagePrompt(ev),
	}
	if err := s.provider.CompleteStructured(ctx, req, &out); err != nil {
		return nil, err
	}

	decision := &Decision{
		ShouldProcess: out.ShouldProcess,
		Confidence:    out.Confidence,
		Category:      Category(out.Category),
		Priority:      Priority(out.Priority),
		Reasoning:     out.Reasoning,
		Extracted: Extracted{
			Sender:            out.Extracted.Sender,
			Subject:           out.Extracted.Subject,
			KeyTopics:         out.Extracted.KeyTopics,
			Sentiment:         Sentiment(out.Extracted.Sentiment),
			HasAttachments:    out.Extracted.HasAttachments,
			UrgencyIndicators: out.Extracted.UrgencyIndicators,
		},
	}
	// Fill in the fields the model tends to leave empty.
	if decision.Extracted.Sender == "" {
		decision.Extracted.Sender = ev.Sender
	}
	if decision.Extracted.Subject == "" {
		decision.Extracted.Subject = ev.Subject
	}
	decision.Extracted.HasAttachments = ev.HasAttachments()

	if err := decision.Validate(); err != nil {
		return nil, fmt.Errorf("triage output violates contract: %w", err)
	}
	return decision, nil
}

// safeDefault is the decision used when the reasoning call fails: skip and
// log rather than crash.
func safeDefault(ev *event.InboundEvent, cause error) *Decision {
	return &Decision{
		ShouldProcess: false,
		Confidence:    0.1,
		Category:      CategoryOther,
		Priority:      PriorityLow,
		Reasoning:     fmt.Sprintf("triage degraded to safe default: %v", cause),
		Extracted: Extracted{
			Sender:         ev.Sender,
			Subject:        ev.Subject,
			Sentiment:      SentimentNeutral,
			HasAttachments: ev.HasAttachments(),
		},
	}
}

const triageSystemPrompt = `You are an email triage assistant. Classify the inbound email and decide whether it is business-relevant and should be processed into the user's systems. Respond with JSON matching exactly:
{
  "shouldProcess": bool,
  "confidence": number between 0 and 1,
  "category": one of "business_inquiry"|"customer_support"|"sales_lead"|"partnership"|"spam"|"newsletter"|"automated"|"personal"|"other",
  "priority": "high"|"medium"|"low",
  "reasoning": string,
  "extracted": {
    "sender": string,
    "subject": string,
    "keyTopics": [string],
    "sentiment": "positive"|"neutral"|"negative",
    "hasAttachments": bool,
    "urgencyIndicators": [string]
  }
}
Business inquiries, sales leads, customer support requests and partnership offers should be processed. Spam, newsletters and automated notifications should not.`

func buildTriagePrompt(ev *event.InboundEvent) string {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\n", ev.Sender)
	fmt.Fprintf(&b, "Subject: %s\n", ev.Subject)
	fmt.Fprintf(&b, "Attachments: %d\n", len(ev.Attachments))
	for _, att := range ev.Attachments {
		fmt.Fprintf(&b, "- %s (%s)\n", att.Name, att.ContentType)
	}
	b.WriteString("\nBody:\n")
	b.WriteString(truncate(ev.Body, 8000))
	return b.String()
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "\n[truncated]"
}

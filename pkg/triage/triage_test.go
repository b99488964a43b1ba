package triage

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/mailroute/mailroute/pkg/event"
	"github.com/mailroute/mailroute/pkg/logging"
	"github.com/mailroute/mailroute/pkg/reasoning"
)

type fakeProvider struct {
	response string
	err      error
	calls    int
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) Complete(ctx context.Context, req reasoning.CompletionRequest) (*reasoning.CompletionResponse, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &reasoning.CompletionResponse{Content: f.response}, nil
}

func (f *fakeProvider) CompleteStructured(ctx context.Context, req reasoning.CompletionRequest, target interface{}) error {
	f.calls++
	if f.err != nil {
		return f.err
	}
	return json.Unmarshal([]byte(f.response), target)
}

func (f *fakeProvider) IsAvailable(ctx context.Context) bool { return f.err == nil }
func (f *fakeProvider) Close() error                         { return nil }

func testEvent() *event.InboundEvent {
	return &event.InboundEvent{
		Source:     event.SourceEmail,
		Sender:     "jane@acme.example",
		Recipient:  "inbox@mailroute.example",
		Subject:    "Quote request for 500 units",
		Body:       "Hi, we would like a quote for 500 units of your product.",
		ReceivedAt: time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC),
	}
}

func TestClassifyValidDecision(t *testing.T) {
	provider := &fakeProvider{response: `{
		"shouldProcess": true,
		"confidence": 0.92,
		"category": "sales_lead",
		"priority": "high",
		"reasoning": "explicit quote request",
		"extracted": {
			"sender": "jane@acme.example",
			"subject": "Quote request for 500 units",
			"keyTopics": ["quote", "purchase"],
			"sentiment": "positive",
			"hasAttachments": false,
			"urgencyIndicators": []
		}
	}`}

	stage := NewStage(provider, WithLogger(logging.NewNopLogger()))
	decision := stage.Classify(context.Background(), testEvent())

	if !decision.ShouldProcess {
		t.Error("expected shouldProcess=true")
	}
	if decision.Category != CategorySalesLead {
		t.Errorf("category = %q, want sales_lead", decision.Category)
	}
	if decision.Priority != PriorityHigh {
		t.Errorf("priority = %q, want high", decision.Priority)
	}
	if decision.Confidence != 0.92 {
		t.Errorf("confidence = %v, want 0.92", decision.Confidence)
	}
}

func TestClassifyProviderFailureDegradesToSafeDefault(t *testing.T) {
	provider := &fakeProvider{err: errors.New("connection refused")}

	stage := NewStage(provider, WithLogger(logging.NewNopLogger()))
	decision := stage.Classify(context.Background(), testEvent())

	if decision.ShouldProcess {
		t.Error("safe default must not process")
	}
	if decision.Category != CategoryOther {
		t.Errorf("category = %q, want other", decision.Category)
	}
	if decision.Confidence >= 0.5 {
		t.Errorf("confidence = %v, want low", decision.Confidence)
	}
	if decision.Extracted.Sender != "jane@acme.example" {
		t.Errorf("extracted sender = %q", decision.Extracted.Sender)
	}
}

func TestClassifyInvalidEnumDegradesToSafeDefault(t *testing.T) {
	provider := &fakeProvider{response: `{
		"shouldProcess": true,
		"confidence": 0.9,
		"category": "made_up_category",
		"priority": "high",
		"reasoning": "x",
		"extracted": {"sentiment": "positive"}
	}`}

	stage := NewStage(provider, WithLogger(logging.NewNopLogger()))
	decision := stage.Classify(context.Background(), testEvent())

	if decision.ShouldProcess {
		t.Error("invalid output must degrade to skip")
	}
	if decision.Category != CategoryOther {
		t.Errorf("category = %q, want other", decision.Category)
	}
}

func TestClassifyHeuristicShortCircuit(t *testing.T) {
	tests := []struct {
		name         string
		sender       string
		subject      string
		body         string
		wantCategory Category
	}{
		{
			name:         "noreply sender",
			sender:       "no-reply@github.example",
			subject:      "Build passed",
			body:         "Your build succeeded.",
			wantCategory: CategoryAutomated,
		},
		{
			name:         "unsubscribe footer",
			sender:       "news@vendor.example",
			subject:      "June product update",
			body:         "Lots of news. Click here to unsubscribe.",
			wantCategory: CategoryNewsletter,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider := &fakeProvider{err: errors.New("must not be called")}
			stage := NewStage(provider, WithLogger(logging.NewNopLogger()))

			ev := testEvent()
			ev.Sender = tt.sender
			ev.Subject = tt.subject
			ev.Body = tt.body

			decision := stage.Classify(context.Background(), ev)

			if provider.calls != 0 {
				t.Errorf("reasoning called %d times, want 0", provider.calls)
			}
			if decision.ShouldProcess {
				t.Error("heuristic skip must not process")
			}
			if decision.Category != tt.wantCategory {
				t.Errorf("category = %q, want %q", decision.Category, tt.wantCategory)
			}
		})
	}
}

func TestClassifyFillsMissingExtractedFields(t *testing.T) {
	provider := &fakeProvider{response: `{
		"shouldProcess": true,
		"confidence": 0.8,
		"category": "business_inquiry",
		"priority": "medium",
		"reasoning": "inquiry",
		"extracted": {"sentiment": "neutral"}
	}`}

	stage := NewStage(provider, WithLogger(logging.NewNopLogger()))
	ev := testEvent()
	ev.Attachments = []event.Attachment{{Name: "rfp.pdf", ContentType: "application/pdf"}}
	decision := stage.Classify(context.Background(), ev)

	if decision.Extracted.Sender != ev.Sender {
		t.Errorf("sender not backfilled: %q", decision.Extracted.Sender)
	}
	if decision.Extracted.Subject != ev.Subject {
		t.Errorf("subject not backfilled: %q", decision.Extracted.Subject)
	}
	if !decision.Extracted.HasAttachments {
		t.Error("hasAttachments not backfilled")
	}
}

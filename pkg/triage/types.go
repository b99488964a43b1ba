// Package triage classifies inbound events and decides whether they merit
// further processing.
package triage

import (
	"fmt"
)

// Category is the closed set of business categories an event can fall into.
type Category string

const (
	CategoryBusinessInquiry Category = "business_inquiry"
	CategoryCustomerSupport Category = "customer_support"
	CategorySalesLead       Category = "sales_lead"
	CategoryPartnership     Category = "partnership"
	CategorySpam            Category = "spam"
	CategoryNewsletter      Category = "newsletter"
	CategoryAutomated       Category = "automated"
	CategoryPersonal        Category = "personal"
	CategoryOther           Category = "other"
)

// validCategories is the closed enum the decode boundary enforces.
var validCategories = map[Category]bool{
	CategoryBusinessInquiry: true,
	CategoryCustomerSupport: true,
	CategorySalesLead:       true,
	CategoryPartnership:     true,
	CategorySpam:            true,
	CategoryNewsletter:      true,
	CategoryAutomated:       true,
	CategoryPersonal:        true,
	CategoryOther:           true,
}

// Priority ranks how urgently an event should be handled.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// Sentiment is the perceived tone of the event.
type Sentiment string

const (
	SentimentPositive Sentiment = "positive"
	SentimentNeutral  Sentiment = "neutral"
	SentimentNegative Sentiment = "negative"
)

// Extracted is the first-pass structured summary pulled during triage.
type Extracted struct {
	Sender            string    `json:"sender"`
	Subject           string    `json:"subject"`
	KeyTopics         []string  `json:"key_topics"`
	Sentiment         Sentiment `json:"sentiment"`
	HasAttachments    bool      `json:"has_attachments"`
	UrgencyIndicators []string  `json:"urgency_indicators"`
}

// Decision is the output of the triage stage. Created once per event, never
// mutated; consumed by the orchestrator to decide branching.
type Decision struct {
	ShouldProcess bool      `json:"should_process"`
	Confidence    float64   `json:"confidence"`
	Category      Category  `json:"category"`
	Priority      Priority  `json:"priority"`
	Reasoning     string    `json:"reasoning"`
	Extracted     Extracted `json:"extracted"`
}

// Validate enforces the output contract on a model-generated decision.
// Out-of-enum values are rejected rather than trusted.
func (d *Decision) Validate() error {
	if !validCategories[d.Category] {
		return fmt.Errorf("category %q outside closed enum", d.Category)
	}
	switch d.Priority {
	case PriorityHigh, PriorityMedium, PriorityLow:
	default:
		return fmt.Errorf("priority %q outside closed enum", d.Priority)
	}
	if d.Confidence < 0 || d.Confidence > 1 {
		return fmt.Errorf("confidence %v outside [0,1]", d.Confidence)
	}
	switch d.Extracted.Sentiment {
	case SentimentPositive, SentimentNeutral, SentimentNegative, "":
	default:
		return fmt.Errorf("sentiment %q outside closed enum", d.Extracted.Sentiment)
	}
	return nil
}

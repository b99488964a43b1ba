// Package event defines the inbound event model that the pipeline consumes.
// Events arrive as email-delivery notifications from an external relay; they
// are immutable once received and are never persisted themselves, only their
// run outcome is.
package event

import (
	"time"
)

// Source identifies where an inbound event originated.
type Source string

const (
	SourceEmail Source = "Email"
	SourceChat  Source = "Chat"
	SourceFile  Source = "File"
)

// Attachment represents one attachment on an inbound event.
type Attachment struct {
	Name        string `json:"name"`
	ContentType string `json:"content_type"`

	// ExtractedText is pre-extracted text supplied by the relay, if any.
	ExtractedText string `json:"extracted_text,omitempty"`

	// ExternalURL points at the stored attachment body when the relay
	// uploaded it instead of inlining text.
	ExternalURL string `json:"external_url,omitempty"`

	// Error carries a relay-reported failure for this attachment.
	Error string `json:"error,omitempty"`
}

// InboundEvent is one external notification entering the pipeline.
type InboundEvent struct {
	Source      Source       `json:"source"`
	Sender      string       `json:"sender"`
	Recipient   string       `json:"recipient,omitempty"`
	Subject     string       `json:"subject"`
	Body        string       `json:"body"`
	Attachments []Attachment `json:"attachments,omitempty"`
	ReceivedAt  time.Time    `json:"received_at"`

	// DeliveryID is the relay's identifier for this delivery, used to
	// suppress redelivered duplicates at the ingestion boundary.
	DeliveryID string `json:"delivery_id,omitempty"`
}

// HasAttachments returns true if the event carries any attachments.
func (e *InboundEvent) HasAttachments() bool {
	return len(e.Attachments) > 0
}

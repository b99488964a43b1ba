package event

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrNoEvents is returned for a well-formed envelope carrying no emails.
var ErrNoEvents = errors.New("relay envelope has no emails")

// Envelope is the well-known relay batch shape: a source discriminator plus a
// nested list of per-email objects. Relays differ in field casing, so the
// per-email object accepts the common aliases.
type Envelope struct {
	Source string          `json:"source"`
	Emails []EnvelopeEmail `json:"emails"`
}

// EnvelopeEmail is one email inside a relay batch.
type EnvelopeEmail struct {
	Subject     string               `json:"subject"`
	From        string               `json:"from"`
	Sender      string               `json:"sender"`
	To          string               `json:"to"`
	Recipient   string               `json:"recipient"`
	Body        string               `json:"body"`
	Text        string               `json:"text"`
	Charset     string               `json:"charset,omitempty"`
	DeliveryID  string               `json:"delivery_id,omitempty"`
	MessageID   string               `json:"message_id,omitempty"`
	ReceivedAt  string               `json:"received_at,omitempty"`
	Attachments []EnvelopeAttachment `json:"attachments,omitempty"`
}

// EnvelopeAttachment is one attachment inside a relay batch email.
type EnvelopeAttachment struct {
	Name          string `json:"name"`
	Filename      string `json:"filename"`
	ContentType   string `json:"content_type"`
	MimeType      string `json:"mime_type"`
	ExtractedText string `json:"extracted_text,omitempty"`
	Text          string `json:"text,omitempty"`
	URL           string `json:"url,omitempty"`
	ExternalURL   string `json:"external_url,omitempty"`
	Error         string `json:"error,omitempty"`
}

// DecodeEnvelope parses a relay batch payload into inbound events.
// Returns an error only when the body is not the expected envelope shape;
// per-email oddities (missing dates, unknown charsets) are normalized, not
// rejected.
func DecodeEnvelope(body []byte, now time.Time) ([]InboundEvent, error) {
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("decoding relay envelope: %w", err)
	}
	if len(env.Emails) == 0 {
		return nil, ErrNoEvents
	}

	source := SourceEmail
	switch strings.ToLower(env.Source) {
	case "chat":
		source = SourceChat
	case "file":
		source = SourceFile
	}

	events := make([]InboundEvent, 0, len(env.Emails))
	for _, em := range env.Emails {
		events = append(events, em.toEvent(source, now))
	}
	return events, nil
}

// toEvent normalizes one envelope email into an InboundEvent.
func (em EnvelopeEmail) toEvent(source Source, now time.Time) InboundEvent {
	sender := em.Sender
	if sender == "" {
		sender = em.From
	}
	recipient := em.Recipient
	if recipient == "" {
		recipient = em.To
	}
	body := em.Body
	if body == "" {
		body = em.Text
	}
	body = NormalizeText(body, em.Charset)

	receivedAt := now
	if em.ReceivedAt != "" {
		if t, err := time.Parse(time.RFC3339, em.ReceivedAt); err == nil {
			receivedAt = t
		}
	}

	deliveryID := em.DeliveryID
	if deliveryID == "" {
		deliveryID = em.MessageID
	}

	attachments := make([]Attachment, 0, len(em.Attachments))
	for _, a := range em.Attachments {
		attachments = append(attachments, a.toAttachment(em.Charset))
	}

	return InboundEvent{
		Source:      source,
		Sender:      sender,
		Recipient:   recipient,
		Subject:     em.Subject,
		Body:        body,
		Attachments: attachments,
		ReceivedAt:  receivedAt,
		DeliveryID:  deliveryID,
	}
}

func (a EnvelopeAttachment) toAttachment(charset string) Attachment {
	name := a.Name
	if name == "" {
		name = a.Filename
	}
	contentType := a.ContentType
	if contentType == "" {
		contentType = a.MimeType
	}
	text := a.ExtractedText
	if text == "" {
		text = a.Text
	}
	url := a.ExternalURL
	if url == "" {
		url = a.URL
	}
	return Attachment{
		Name:          name,
		ContentType:   contentType,
		ExtractedText: NormalizeText(text, charset),
		ExternalURL:   url,
		Error:         a.Error,
	}
}

package event

import (
	"errors"
	"testing"
	"time"
)

var fixedNow = time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

func TestDecodeEnvelope(t *testing.T) {
	body := []byte(`{
		"source": "email",
		"emails": [
			{
				"subject": "Partnership Opportunity",
				"from": "alice@partnerco.example",
				"to": "deals@ourco.example",
				"body": "We are interested in integrating with your platform.",
				"delivery_id": "dlv-001",
				"received_at": "2026-03-14T08:00:00Z",
				"attachments": [
					{"name": "deck.pdf", "content_type": "application/pdf", "extracted_text": "Q1 roadmap"}
				]
			}
		]
	}`)

	events, err := DecodeEnvelope(body, fixedNow)
	if err != nil {
		t.Fatalf("DecodeEnvelope: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("len(events) = %d, want 1", len(events))
	}

	ev := events[0]
	if ev.Source != SourceEmail {
		t.Errorf("Source = %v, want Email", ev.Source)
	}
	if ev.Sender != "alice@partnerco.example" {
		t.Errorf("Sender = %q", ev.Sender)
	}
	if ev.Recipient != "deals@ourco.example" {
		t.Errorf("Recipient = %q", ev.Recipient)
	}
	if ev.DeliveryID != "dlv-001" {
		t.Errorf("DeliveryID = %q", ev.DeliveryID)
	}
	if !ev.ReceivedAt.Equal(time.Date(2026, 3, 14, 8, 0, 0, 0, time.UTC)) {
		t.Errorf("ReceivedAt = %v", ev.ReceivedAt)
	}
	if len(ev.Attachments) != 1 || ev.Attachments[0].ExtractedText != "Q1 roadmap" {
		t.Errorf("attachments = %+v", ev.Attachments)
	}
}

func TestDecodeEnvelopeAliases(t *testing.T) {
	body := []byte(`{
		"source": "email",
		"emails": [
			{
				"subject": "Hi",
				"sender": "bob@x.example",
				"recipient": "in@y.example",
				"text": "alias body field",
				"message_id": "<msg-7@x.example>",
				"attachments": [
					{"filename": "scan.png", "mime_type": "image/png", "url": "https://files.example/scan.png"}
				]
			}
		]
	}`)

	events, err := DecodeEnvelope(body, fixedNow)
	if err != nil {
		t.Fatalf("DecodeEnvelope: %v", err)
	}

	ev := events[0]
	if ev.Body != "alias body field" {
		t.Errorf("Body = %q", ev.Body)
	}
	if ev.DeliveryID != "<msg-7@x.example>" {
		t.Errorf("DeliveryID should fall back to message_id, got %q", ev.DeliveryID)
	}
	if !ev.ReceivedAt.Equal(fixedNow) {
		t.Errorf("missing received_at should default to now, got %v", ev.ReceivedAt)
	}
	att := ev.Attachments[0]
	if att.Name != "scan.png" || att.ContentType != "image/png" || att.ExternalURL != "https://files.example/scan.png" {
		t.Errorf("attachment aliases not normalized: %+v", att)
	}
}

func TestDecodeEnvelopeErrors(t *testing.T) {
	if _, err := DecodeEnvelope([]byte(`{"source":"email","emails":[]}`), fixedNow); !errors.Is(err, ErrNoEvents) {
		t.Errorf("empty emails list: err = %v, want ErrNoEvents", err)
	}
	if _, err := DecodeEnvelope([]byte(`not json`), fixedNow); err == nil {
		t.Error("malformed JSON should be rejected")
	}
}

func TestNormalizeText(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		charset string
		want    string
	}{
		{"utf8 passthrough", "héllo", "utf-8", "héllo"},
		{"empty charset", "plain", "", "plain"},
		{"latin1", "caf\xe9", "iso-8859-1", "café"},
		{"windows-1252", "90\x25 OFF \x97 today", "windows-1252", "90% OFF — today"},
		{"unknown charset passthrough", "data", "x-weird", "data"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NormalizeText(tt.input, tt.charset); got != tt.want {
				t.Errorf("NormalizeText(%q, %q) = %q, want %q", tt.input, tt.charset, got, tt.want)
			}
		})
	}
}

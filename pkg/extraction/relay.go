// Package extraction forwards raw event content to the external
// document-extraction service and returns normalized structured text.
package extraction

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	mrerrors "github.com/mailroute/mailroute/pkg/errors"
	"github.com/mailroute/mailroute/pkg/event"
	"github.com/mailroute/mailroute/pkg/logging"
)

// DefaultTimeout bounds the extraction service call.
const DefaultTimeout = 30 * time.Second

// maxFetchBytes caps how much of an external attachment body is downloaded.
const maxFetchBytes = 10 << 20

// ExtractedDocument is the normalized output of the extraction service.
type ExtractedDocument struct {
	// Text is the combined extracted text across all submitted parts.
	Text string `json:"text"`

	// Pages holds per-page/per-file extracted content when the service
	// reports it.
	Pages []ExtractedPage `json:"pages,omitempty"`
}

// ExtractedPage is one page or file worth of extracted content.
type ExtractedPage struct {
	Name    string `json:"name,omitempty"`
	Content string `json:"content"`
}

// Relay submits content to the extraction service.
type Relay struct {
	serviceURL string
	httpClient *http.Client
	logger     logging.Logger
}

// Option configures the relay.
type Option func(*Relay)

// WithTimeout sets a custom HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(r *Relay) {
		r.httpClient.Timeout = d
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger logging.Logger) Option {
	return func(r *Relay) {
		r.logger = logger
	}
}

// NewRelay creates an extraction relay for the given service URL.
func NewRelay(serviceURL string, opts ...Option) *Relay {
	r := &Relay{
		serviceURL: strings.TrimSuffix(serviceURL, "/"),
		httpClient: &http.Client{Timeout: DefaultTimeout},
		logger:     logging.MustGlobal(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With(logging.F("component", "extraction_relay"))
	return r
}

// Extract builds a multipart submission from the raw text and attachments and
// returns the service's normalized output. The raw text always becomes one
// part, so the submission is non-empty even with zero attachments. Per-
// attachment failures degrade to placeholder parts; only an unreachable or
// non-success service fails the call.
func (r *Relay) Extract(ctx context.Context, rawText string, attachments []event.Attachment) (*ExtractedDocument, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	if err := writer.WriteField("text", rawText); err != nil {
		return nil, fmt.Errorf("writing text part: %w", err)
	}

	for i, att := range attachments {
		content := r.resolveAttachment(ctx, att)
		part, err := writer.CreateFormFile("file", partName(att, i))
		if err != nil {
			return nil, fmt.Errorf("creating file part for %q: %w", att.Name, err)
		}
		if _, err := part.Write([]byte(content)); err != nil {
			return nil, fmt.Errorf("writing file part for %q: %w", att.Name, err)
		}
	}

	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("finalizing multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.serviceURL+"/extract", &buf)
	if err != nil {
		return nil, fmt.Errorf("creating extraction request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: extraction service: %v", mrerrors.ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading extraction response: %v", mrerrors.ErrUpstreamUnavailable, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: extraction service HTTP %d: %s", mrerrors.ErrUpstreamUnavailable, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var doc ExtractedDocument
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("decoding extraction response: %w", err)
	}
	if doc.Text == "" && len(doc.Pages) > 0 {
		parts := make([]string, 0, len(doc.Pages))
		for _, p := range doc.Pages {
			parts = append(parts, p.Content)
		}
		doc.Text = strings.Join(parts, "\n\n")
	}

	return &doc, nil
}

// resolveAttachment runs the fallback strategies in order and returns the
// first usable text. Failures at any tier degrade to the next, ending at a
// placeholder describing the attachment.
func (r *Relay) resolveAttachment(ctx context.Context, att event.Attachment) string {
	for _, strategy := range r.strategies() {
		if text, ok := strategy.resolve(ctx, att); ok {
			return text
		}
	}
	return placeholderText(att)
}

// attachmentStrategy is one tier of the attachment fallback.
type attachmentStrategy struct {
	name    string
	resolve func(ctx context.Context, att event.Attachment) (string, bool)
}

// strategies returns the fallback tiers in precedence order: pre-extracted
// text, then fetching the external URL, then a placeholder (handled by the
// caller when every tier declines).
func (r *Relay) strategies() []attachmentStrategy {
	return []attachmentStrategy{
		{
			name: "pre_extracted",
			resolve: func(_ context.Context, att event.Attachment) (string, bool) {
				if att.ExtractedText == "" {
					return "", false
				}
				return att.ExtractedText, true
			},
		},
		{
			name: "external_url",
			resolve: func(ctx context.Context, att event.Attachment) (string, bool) {
				if att.ExternalURL == "" {
					return "", false
				}
				text, err := r.fetchExternal(ctx, att.ExternalURL)
				if err != nil {
					r.logger.Warn("Attachment fetch failed, degrading to placeholder",
						logging.Err(err),
						logging.F("attachment", att.Name),
						logging.F("url", att.ExternalURL))
					return "", false
				}
				return text, true
			},
		},
	}
}

// fetchExternal downloads an attachment body from its storage URL.
func (r *Relay) fetchExternal(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	resp, err := r.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("HTTP %d fetching attachment", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBytes))
	if err != nil {
		return "", err
	}
	return string(body), nil
}

// placeholderText describes an attachment whose content could not be
// obtained, so the extraction service still sees that it existed.
func placeholderText(att event.Attachment) string {
	desc := fmt.Sprintf("[attachment %q (%s): content unavailable", att.Name, att.ContentType)
	if att.Error != "" {
		desc += ": " + att.Error
	}
	return desc + "]"
}

func partName(att event.Attachment, index int) string {
	if att.Name != "" {
		return att.Name
	}
	return fmt.Sprintf("attachment-%d", index)
}

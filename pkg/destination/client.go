package destination

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	mrerrors "github.com/mailroute/mailroute/pkg/errors"
	"github.com/mailroute/mailroute/pkg/logging"
)

// DefaultTimeout bounds each destination API call.
const DefaultTimeout = 30 * time.Second

// Client talks to one destination API. It is safe for concurrent use.
type Client struct {
	httpClient *http.Client
	logger     logging.Logger
}

// Option configures the client.
type Option func(*Client)

// WithTimeout sets a custom HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger logging.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithHTTPClient replaces the underlying HTTP client (used in tests).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// NewClient creates a destination client.
func NewClient(opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{Timeout: DefaultTimeout},
		logger:     logging.MustGlobal(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With(logging.F("component", "destination_client"))
	return c
}

// doJSON performs one API call and decodes the response into out.
// Transport failures and 5xx map to ErrUpstreamUnavailable, 401 to
// ErrAuthRejected; other non-2xx statuses are classified into *APIError.
func (c *Client) doJSON(ctx context.Context, creds Credentials, method, path string, query url.Values, body interface{}, out interface{}) error {
	u := strings.TrimSuffix(creds.BaseURL, "/") + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reqBody)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+creds.APIKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("%w: destination call cancelled: %v", mrerrors.ErrUpstreamUnavailable, err)
		}
		return fmt.Errorf("%w: %v", mrerrors.ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: reading response: %v", mrerrors.ErrUpstreamUnavailable, err)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out == nil {
			return nil
		}
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
		return nil
	}

	return classifyStatus(resp.StatusCode, respBody)
}

// apiErrorBody is the destination's error envelope.
type apiErrorBody struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// classifyStatus maps a non-2xx response onto the error taxonomy.
func classifyStatus(status int, body []byte) error {
	var envelope apiErrorBody
	_ = json.Unmarshal(body, &envelope)

	message := envelope.Error.Message
	if message == "" {
		message = strings.TrimSpace(string(body))
	}

	switch {
	case status == http.StatusUnauthorized:
		return fmt.Errorf("%w: %s", mrerrors.ErrAuthRejected, message)
	case status >= 500:
		return fmt.Errorf("%w: HTTP %d: %s", mrerrors.ErrUpstreamUnavailable, status, message)
	}

	apiErr := &APIError{
		Class:      classifyErrorType(envelope.Error.Type, message),
		StatusCode: status,
		Message:    message,
	}
	if apiErr.Class == ClassPermission {
		// 403s on a valid key mean the credential lacks scope; treat the
		// same as a rejected credential for surfacing purposes.
		return fmt.Errorf("%w: %s", mrerrors.ErrAuthRejected, apiErr.Error())
	}
	return apiErr
}

// classifyErrorType distinguishes the destination error classes.
func classifyErrorType(errType, message string) ErrorClass {
	t := strings.ToUpper(errType)
	m := strings.ToLower(message)

	switch {
	case strings.Contains(t, "PERMISSION") || strings.Contains(m, "permission"):
		return ClassPermission
	case strings.Contains(t, "TABLE_NOT_FOUND") || strings.Contains(m, "table not found") || strings.Contains(m, "could not find table"):
		return ClassTableNotFound
	case strings.Contains(t, "UNKNOWN_FIELD_NAME") || strings.Contains(m, "unknown field"):
		return ClassUnknownField
	case strings.Contains(t, "INVALID_MULTIPLE_CHOICE") || strings.Contains(m, "invalid choice") || strings.Contains(m, "select option"):
		return ClassInvalidChoice
	case strings.Contains(t, "INVALID_VALUE") || strings.Contains(m, "invalid value") || strings.Contains(m, "cannot parse"):
		return ClassInvalidValue
	default:
		return ClassOther
	}
}

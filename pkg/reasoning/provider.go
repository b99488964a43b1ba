// Package reasoning provides the boundary to the external reasoning service
// used by the triage and routing stages. Providers return model-generated
// structured data; callers are expected to decode and validate against a
// typed output contract immediately after the call returns.
package reasoning

import (
	"context"

	mrerrors "github.com/mailroute/mailroute/pkg/errors"
)

// Provider defines the interface for reasoning-service backends.
type Provider interface {
	// Name returns the provider identifier (e.g. "openai-gpt-4o-mini").
	Name() string

	// Complete sends a completion request and returns the raw response.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// CompleteStructured sends a request expecting JSON output and decodes
	// it into target. Markdown fences around the JSON are tolerated.
	CompleteStructured(ctx context.Context, req CompletionRequest, target interface{}) error

	// IsAvailable checks if the provider is currently reachable.
	IsAvailable(ctx context.Context) bool

	// Close releases provider resources.
	Close() error
}

// CompletionRequest represents a request to the reasoning service.
type CompletionRequest struct {
	// Prompt is the full prompt text to send.
	Prompt string `json:"prompt"`

	// SystemPrompt is an optional system-level instruction.
	SystemPrompt string `json:"system_prompt,omitempty"`

	// MaxTokens limits response length (0 = provider default).
	MaxTokens int `json:"max_tokens,omitempty"`

	// Temperature controls randomness (0.0-1.0, 0 = provider default).
	Temperature float32 `json:"temperature,omitempty"`

	// RunID is attached for tracing.
	RunID string `json:"run_id,omitempty"`
}

// CompletionResponse represents a response from the reasoning service.
type CompletionResponse struct {
	// Content is the raw text response.
	Content string `json:"content"`

	// TokensUsed tracks token consumption.
	TokensUsed TokenUsage `json:"tokens_used"`

	// LatencyMs is the response time in milliseconds.
	LatencyMs int `json:"latency_ms"`

	// Model is the actual model used (may differ from requested).
	Model string `json:"model"`

	// FinishReason indicates why the model stopped generating.
	// "stop" = natural end, "length" = hit max_tokens limit.
	FinishReason string `json:"finish_reason,omitempty"`
}

// TokenUsage tracks token consumption.
type TokenUsage struct {
	Prompt     int `json:"prompt"`
	Completion int `json:"completion"`
	Total      int `json:"total"`
}

// Error represents a failure from the reasoning provider.
type Error struct {
	Code    ErrorCode   `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

func (e *Error) Error() string {
	return e.Message
}

// Unwrap ties every provider failure to the reasoning-failure sentinel so
// callers classify with errors.Is instead of sniffing messages.
func (e *Error) Unwrap() error {
	return mrerrors.ErrReasoningFailure
}

// ErrorCode identifies the type of reasoning failure.
type ErrorCode string

const (
	ErrTimeout      ErrorCode = "timeout"
	ErrUnavailable  ErrorCode = "unavailable"
	ErrRateLimit    ErrorCode = "rate_limit"
	ErrParseFailure ErrorCode = "parse_failure"
	ErrTokenLimit   ErrorCode = "token_limit"
)

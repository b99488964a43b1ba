package reasoning

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Config holds settings for an OpenAI-compatible reasoning backend.
type Config struct {
	// BaseURL is the service root (e.g. "http://localhost:8000").
	BaseURL string `yaml:"base_url"`

	// APIKey is sent as a bearer token when set.
	APIKey string `yaml:"api_key"`

	// Model is the model identifier to request.
	Model string `yaml:"model"`

	// Timeout bounds each HTTP call.
	Timeout time.Duration `yaml:"timeout"`

	// MaxRetries applies to structured-output parse failures only; transport
	// failures are never retried here (the pipeline has no auto-retry).
	MaxRetries int `yaml:"max_retries"`
}

// OpenAIProvider implements Provider against an OpenAI-compatible chat API.
type OpenAIProvider struct {
	config     Config
	httpClient *http.Client
	name       string
}

// NewOpenAIProvider creates a provider for an OpenAI-compatible endpoint.
func NewOpenAIProvider(config Config) *OpenAIProvider {
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	return &OpenAIProvider{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		name: fmt.Sprintf("openai-%s", config.Model),
	}
}

// Name returns the provider identifier.
func (p *OpenAIProvider) Name() string {
	return p.name
}

// chatMessage represents a message in the chat conversation.
type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// chatRequest is the OpenAI-compatible chat completion request.
type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float32       `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatChoice struct {
	Index        int         `json:"index"`
	Message      chatMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

type chatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type chatResponse struct {
	ID      string       `json:"id"`
	Model   string       `json:"model"`
	Choices []chatChoice `json:"choices"`
	Usage   chatUsage    `json:"usage"`
}

// Complete sends a completion request and returns the raw response.
func (p *OpenAIProvider) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	start := time.Now()

	var messages []chatMessage
	if req.SystemPrompt != "" {
		messages = append(messages, chatMessage{Role: "system", Content: req.SystemPrompt})
	}
	messages = append(messages, chatMessage{Role: "user", Content: req.Prompt})

	chatReq := chatRequest{
		Model:    p.config.Model,
		Messages: messages,
	}
	if req.Temperature > 0 {
		chatReq.Temperature = req.Temperature
	} else {
		chatReq.Temperature = 0.1 // low temperature for structured extraction
	}
	if req.MaxTokens > 0 {
		chatReq.MaxTokens = req.MaxTokens
	} else {
		chatReq.MaxTokens = 4096
	}

	body, err := json.Marshal(chatReq)
	if err != nil {
		return nil, &Error{Code: ErrParseFailure, Message: fmt.Sprintf("marshal request: %v", err)}
	}

	url := fmt.Sprintf("%s/v1/chat/completions", strings.TrimSuffix(p.config.BaseURL, "/"))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, &Error{Code: ErrUnavailable, Message: fmt.Sprintf("create request: %v", err)}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.config.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.config.APIKey)
	}

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, &Error{Code: ErrTimeout, Message: "request timeout"}
		}
		return nil, &Error{Code: ErrUnavailable, Message: fmt.Sprintf("request failed: %v", err)}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{Code: ErrParseFailure, Message: fmt.Sprintf("read response: %v", err)}
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, &Error{Code: ErrRateLimit, Message: fmt.Sprintf("HTTP 429: %s", string(respBody))}
	case resp.StatusCode != http.StatusOK:
		return nil, &Error{Code: ErrUnavailable, Message: fmt.Sprintf("HTTP %d: %s", resp.StatusCode, string(respBody))}
	}

	var chatResp chatResponse
	if err := json.Unmarshal(respBody, &chatResp); err != nil {
		return nil, &Error{Code: ErrParseFailure, Message: fmt.Sprintf("parse response: %v", err)}
	}
	if len(chatResp.Choices) == 0 {
		return nil, &Error{Code: ErrParseFailure, Message: "no choices in response"}
	}

	latency := time.Since(start)
	return &CompletionResponse{
		Content:      chatResp.Choices[0].Message.Content,
		FinishReason: chatResp.Choices[0].FinishReason,
		LatencyMs:    int(latency.Milliseconds()),
		Model:        chatResp.Model,
		TokensUsed: TokenUsage{
			Prompt:     chatResp.Usage.PromptTokens,
			Completion: chatResp.Usage.CompletionTokens,
			Total:      chatResp.Usage.TotalTokens,
		},
	}, nil
}

// CompleteStructured sends a request expecting JSON output and parses it.
func (p *OpenAIProvider) CompleteStructured(ctx context.Context, req CompletionRequest, target interface{}) error {
	if !strings.Contains(req.Prompt, "JSON") && !strings.Contains(req.Prompt, "json") {
		req.Prompt = req.Prompt + "\n\nRespond with valid JSON only."
	}

	var lastErr error
	for attempt := 0; attempt <= p.config.MaxRetries; attempt++ {
		resp, err := p.Complete(ctx, req)
		if err != nil {
			// Transport and timeout failures are terminal; only re-ask the
			// model when it answered with something we could not parse.
			return err
		}

		if resp.FinishReason == "length" {
			return &Error{
				Code:    ErrTokenLimit,
				Message: fmt.Sprintf("response truncated: hit max_tokens limit (%d completion tokens used)", resp.TokensUsed.Completion),
				Details: resp.Content,
			}
		}

		content := StripFences(resp.Content)
		if err := json.Unmarshal([]byte(content), target); err != nil {
			lastErr = &Error{
				Code:    ErrParseFailure,
				Message: fmt.Sprintf("parse JSON: %v", err),
				Details: resp.Content,
			}
			if attempt < p.config.MaxRetries {
				req.Prompt = fmt.Sprintf("%s\n\nIMPORTANT: Respond with valid JSON only. No markdown, no explanations.", req.Prompt)
			}
			continue
		}

		return nil
	}

	return lastErr
}

// IsAvailable checks if the provider is currently reachable.
func (p *OpenAIProvider) IsAvailable(ctx context.Context) bool {
	url := fmt.Sprintf("%s/health", strings.TrimSuffix(p.config.BaseURL, "/"))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	return resp.StatusCode == http.StatusOK
}

// Close releases provider resources.
func (p *OpenAIProvider) Close() error {
	p.httpClient.CloseIdleConnections()
	return nil
}

// StripFences removes a markdown code fence wrapping, which some models add
// around JSON despite instructions.
func StripFences(content string) string {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	return strings.TrimSpace(content)
}

var _ Provider = (*OpenAIProvider)(nil)

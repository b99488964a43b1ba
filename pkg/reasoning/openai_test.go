package reasoning

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func chatServer(t *testing.T, handler http.HandlerFunc) (*httptest.Server, *OpenAIProvider) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	provider := NewOpenAIProvider(Config{
		BaseURL: srv.URL,
		Model:   "test-model",
	})
	return srv, provider
}

func chatReply(content, finishReason string) []byte {
	resp := chatResponse{
		Model: "test-model",
		Choices: []chatChoice{
			{Message: chatMessage{Role: "assistant", Content: content}, FinishReason: finishReason},
		},
		Usage: chatUsage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
	}
	b, _ := json.Marshal(resp)
	return b
}

func TestComplete(t *testing.T) {
	_, provider := chatServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.Model != "test-model" {
			t.Errorf("model = %s", req.Model)
		}
		w.Write(chatReply("hello back", "stop"))
	})

	resp, err := provider.Complete(context.Background(), CompletionRequest{Prompt: "hello"})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Content != "hello back" {
		t.Errorf("content = %q", resp.Content)
	}
	if resp.TokensUsed.Total != 15 {
		t.Errorf("tokens = %d", resp.TokensUsed.Total)
	}
}

func TestCompleteStructured(t *testing.T) {
	_, provider := chatServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write(chatReply("```json\n{\"category\": \"spam\", \"confidence\": 0.9}\n```", "stop"))
	})

	var out struct {
		Category   string  `json:"category"`
		Confidence float64 `json:"confidence"`
	}
	if err := provider.CompleteStructured(context.Background(), CompletionRequest{Prompt: "classify"}, &out); err != nil {
		t.Fatalf("CompleteStructured: %v", err)
	}
	if out.Category != "spam" || out.Confidence != 0.9 {
		t.Errorf("decoded = %+v", out)
	}
}

func TestCompleteStructuredRetriesOnParseFailure(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.Write(chatReply("sorry, I cannot do that", "stop"))
			return
		}
		w.Write(chatReply(`{"ok": true}`, "stop"))
	}))
	defer srv.Close()

	provider := NewOpenAIProvider(Config{BaseURL: srv.URL, Model: "m", MaxRetries: 1})

	var out struct {
		OK bool `json:"ok"`
	}
	if err := provider.CompleteStructured(context.Background(), CompletionRequest{Prompt: "go"}, &out); err != nil {
		t.Fatalf("CompleteStructured: %v", err)
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
	if !out.OK {
		t.Error("expected decoded ok=true")
	}
}

func TestCompleteStructuredTruncation(t *testing.T) {
	_, provider := chatServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write(chatReply(`{"partial":`, "length"))
	})

	var out map[string]interface{}
	err := provider.CompleteStructured(context.Background(), CompletionRequest{Prompt: "go"}, &out)
	rerr, ok := err.(*Error)
	if !ok || rerr.Code != ErrTokenLimit {
		t.Fatalf("err = %v, want token_limit", err)
	}
}

func TestCompleteErrors(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		wantCode ErrorCode
	}{
		{"rate limited", http.StatusTooManyRequests, ErrRateLimit},
		{"server error", http.StatusInternalServerError, ErrUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, provider := chatServer(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			})
			_, err := provider.Complete(context.Background(), CompletionRequest{Prompt: "x"})
			rerr, ok := err.(*Error)
			if !ok || rerr.Code != tt.wantCode {
				t.Fatalf("err = %v, want code %s", err, tt.wantCode)
			}
		})
	}
}

func TestStripFences(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"{\"a\":1}", "{\"a\":1}"},
		{"```json\n{\"a\":1}\n```", "{\"a\":1}"},
		{"```\n{\"a\":1}\n```", "{\"a\":1}"},
		{"  {\"a\":1}  ", "{\"a\":1}"},
	}
	for _, tt := range tests {
		if got := StripFences(tt.in); got != tt.want {
			t.Errorf("StripFences(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/mailroute/mailroute/pkg/chat"
	"github.com/mailroute/mailroute/pkg/destination"
	"github.com/mailroute/mailroute/pkg/event"
	"github.com/mailroute/mailroute/pkg/logging"
	"github.com/mailroute/mailroute/pkg/pipeline"
	"github.com/mailroute/mailroute/pkg/reasoning"
	"github.com/mailroute/mailroute/pkg/runlog"
)

type fakeProcessor struct {
	calls   []string
	userIDs []string
}

func (f *fakeProcessor) Process(ctx context.Context, userID string, ev *event.InboundEvent, creds []destination.Credentials) *pipeline.Result {
	f.calls = append(f.calls, ev.Subject)
	f.userIDs = append(f.userIDs, userID)
	return &pipeline.Result{
		RunID:  uuid.New(),
		State:  pipeline.StateLogged,
		Status: runlog.StatusSuccess,
	}
}

type fakeCreds struct {
	creds []destination.Credentials
	err   error
}

func (f *fakeCreds) All() ([]destination.Credentials, error) {
	return f.creds, f.err
}

type fakeDeduper struct {
	seen map[string]bool
	err  error
}

func (f *fakeDeduper) Seen(ctx context.Context, deliveryID string) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	return f.seen[deliveryID], nil
}

func newTestIngestHandler(p *fakeProcessor, d Deduper) *IngestHandler {
	return NewIngestHandler(p, &fakeCreds{}, d, nil, logging.NewNopLogger())
}

func TestIngestChallengeEcho(t *testing.T) {
	h := newTestIngestHandler(&fakeProcessor{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/ingest?challenge=abc123", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if got := rec.Body.String(); got != "abc123" {
		t.Errorf("body = %q, want challenge echoed verbatim", got)
	}
}

func TestIngestGetWithoutChallenge(t *testing.T) {
	h := newTestIngestHandler(&fakeProcessor{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/ingest", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var doc map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &doc); err != nil {
		t.Fatalf("capability doc is not JSON: %v", err)
	}
	if doc["service"] != "mailroute" {
		t.Errorf("service = %v, want mailroute", doc["service"])
	}
}

func TestIngestUnparsableBody(t *testing.T) {
	h := newTestIngestHandler(&fakeProcessor{}, nil)

	req := httptest.NewRequest(http.MethodPost, "/ingest", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500 for unparsable JSON", rec.Code)
	}
	var resp errorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("error body is not JSON: %v", err)
	}
	if resp.Error == "" {
		t.Error("expected an error message in the body")
	}
}

func TestIngestAcknowledgesEmptyEnvelope(t *testing.T) {
	proc := &fakeProcessor{}
	h := newTestIngestHandler(proc, nil)

	req := httptest.NewRequest(http.MethodPost, "/ingest", strings.NewReader(`{"source":"Email","emails":[]}`))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 for a valid but empty envelope", rec.Code)
	}
	if len(proc.calls) != 0 {
		t.Error("no events should be processed")
	}
}

func TestIngestProcessesEvents(t *testing.T) {
	proc := &fakeProcessor{}
	h := newTestIngestHandler(proc, nil)

	body := `{"source":"Email","emails":[{"subject":"Invoice 42","from":"a@b.com","body":"hi"},{"subject":"Receipt","from":"c@d.com","body":"ok"}]}`
	req := httptest.NewRequest(http.MethodPost, "/ingest?userId=u-1", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if len(proc.calls) != 2 {
		t.Fatalf("processed %d events, want 2", len(proc.calls))
	}
	if proc.userIDs[0] != "u-1" {
		t.Errorf("userID = %q, want u-1", proc.userIDs[0])
	}

	var resp ingestResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp.Received != 2 || len(resp.Results) != 2 {
		t.Errorf("received=%d results=%d, want 2 and 2", resp.Received, len(resp.Results))
	}
	if resp.Results[0].Run == nil || resp.Results[0].Run.Status != runlog.StatusSuccess {
		t.Error("expected a successful run result for the first event")
	}
}

func TestIngestPutAndPatchAliasPost(t *testing.T) {
	for _, method := range []string{http.MethodPut, http.MethodPatch} {
		proc := &fakeProcessor{}
		h := newTestIngestHandler(proc, nil)

		body := `{"source":"Email","emails":[{"subject":"s","from":"a@b.com","body":"x"}]}`
		req := httptest.NewRequest(method, "/ingest", strings.NewReader(body))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Errorf("%s: status = %d, want 200", method, rec.Code)
		}
		if len(proc.calls) != 1 {
			t.Errorf("%s: processed %d events, want 1", method, len(proc.calls))
		}
	}
}

func TestIngestSkipsDuplicateDeliveries(t *testing.T) {
	proc := &fakeProcessor{}
	dedup := &fakeDeduper{seen: map[string]bool{"dup-1": true}}
	h := newTestIngestHandler(proc, dedup)

	body := `{"source":"Email","emails":[{"subject":"old","from":"a@b.com","body":"x","delivery_id":"dup-1"},{"subject":"new","from":"a@b.com","body":"y","delivery_id":"fresh-2"}]}`
	req := httptest.NewRequest(http.MethodPost, "/ingest", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if len(proc.calls) != 1 || proc.calls[0] != "new" {
		t.Fatalf("processed %v, want only the fresh delivery", proc.calls)
	}

	var resp ingestResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if !resp.Results[0].Duplicate {
		t.Error("first result should be flagged as duplicate")
	}
	if resp.Results[1].Duplicate {
		t.Error("second result should not be flagged as duplicate")
	}
}

func TestIngestDedupOutageDoesNotBlock(t *testing.T) {
	proc := &fakeProcessor{}
	dedup := &fakeDeduper{err: errors.New("redis down")}
	h := newTestIngestHandler(proc, dedup)

	body := `{"source":"Email","emails":[{"subject":"s","from":"a@b.com","body":"x","delivery_id":"d-1"}]}`
	req := httptest.NewRequest(http.MethodPost, "/ingest", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if len(proc.calls) != 1 {
		t.Error("event should be processed when dedup is unavailable")
	}
}

func TestIngestRejectsUnknownMethod(t *testing.T) {
	h := newTestIngestHandler(&fakeProcessor{}, nil)

	req := httptest.NewRequest(http.MethodDelete, "/ingest", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", rec.Code)
	}
}

// scriptedProvider returns canned structured outputs in order, repeating the
// last one when the script runs out.
type scriptedProvider struct {
	outputs []string
	calls   int
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) Complete(ctx context.Context, req reasoning.CompletionRequest) (*reasoning.CompletionResponse, error) {
	return nil, errors.New("not implemented")
}

func (p *scriptedProvider) CompleteStructured(ctx context.Context, req reasoning.CompletionRequest, target interface{}) error {
	idx := p.calls
	if idx >= len(p.outputs) {
		idx = len(p.outputs) - 1
	}
	p.calls++
	return json.Unmarshal([]byte(p.outputs[idx]), target)
}

func (p *scriptedProvider) IsAvailable(ctx context.Context) bool { return true }

func (p *scriptedProvider) Close() error { return nil }

func TestChatStreamsFragments(t *testing.T) {
	provider := &scriptedProvider{outputs: []string{
		`{"message":"All done.","done":true}`,
	}}
	factory := func(userID string) (*chat.Session, error) {
		return chat.NewSession(provider, nil, nil, nil, chat.WithLogger(logging.NewNopLogger())), nil
	}
	h := NewChatHandler(factory, logging.NewNopLogger())

	body := `{"messages":[{"role":"user","content":"hello"}]}`
	req := httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/x-ndjson" {
		t.Errorf("Content-Type = %q, want application/x-ndjson", ct)
	}

	var fragments []chat.Fragment
	scanner := bufio.NewScanner(rec.Body)
	for scanner.Scan() {
		var f chat.Fragment
		if err := json.Unmarshal(scanner.Bytes(), &f); err != nil {
			t.Fatalf("fragment is not JSON: %v", err)
		}
		fragments = append(fragments, f)
	}
	if len(fragments) == 0 {
		t.Fatal("expected at least one fragment")
	}
	last := fragments[len(fragments)-1]
	if last.Type != chat.FragmentFinal {
		t.Errorf("last fragment type = %q, want final", last.Type)
	}
	if last.Content != "All done." {
		t.Errorf("final content = %q, want the assistant message", last.Content)
	}
}

type countingWriter struct {
	calls int
}

func (w *countingWriter) Write(ctx context.Context, creds destination.Credentials, tableName string, records []destination.FieldMap) (*destination.WriteResult, error) {
	w.calls++
	return &destination.WriteResult{InsertedCount: len(records)}, nil
}

func chatFragments(t *testing.T, h *ChatHandler, body string) []chat.Fragment {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var fragments []chat.Fragment
	scanner := bufio.NewScanner(rec.Body)
	for scanner.Scan() {
		var f chat.Fragment
		if err := json.Unmarshal(scanner.Bytes(), &f); err != nil {
			t.Fatalf("fragment is not JSON: %v", err)
		}
		fragments = append(fragments, f)
	}
	if len(fragments) == 0 {
		t.Fatal("expected at least one fragment")
	}
	return fragments
}

func TestChatConfirmSpansRequests(t *testing.T) {
	provider := &scriptedProvider{outputs: []string{
		`{"message":"Writing the lead.","action":"write_records","args":{"integration":"crm","tableName":"Leads","records":[{"Name":"Jane"}]}}`,
	}}
	writer := &countingWriter{}
	creds := []destination.Credentials{{Integration: "crm", BaseURL: "http://crm.example", APIKey: "k"}}
	factory := func(userID string) (*chat.Session, error) {
		return chat.NewSession(provider, nil, writer, creds,
			chat.WithLogger(logging.NewNopLogger())), nil
	}
	h := NewChatHandler(factory, logging.NewNopLogger())

	first := chatFragments(t, h, `{"messages":[{"role":"user","content":"add jane to the crm"}]}`)
	if got := first[len(first)-1].Type; got != chat.FragmentConfirm {
		t.Fatalf("first request ends with %q, want confirm", got)
	}
	if writer.calls != 0 {
		t.Fatal("write must wait for confirmation")
	}

	// The follow-up lands on the held session and releases the write.
	second := chatFragments(t, h, `{"messages":[{"role":"user","content":"confirm"}]}`)
	last := second[len(second)-1]
	if last.Type != chat.FragmentFinal {
		t.Errorf("second request ends with %q, want final", last.Type)
	}
	if writer.calls != 1 {
		t.Errorf("writer calls = %d, want 1", writer.calls)
	}
}

func TestChatSessionReleasedAfterConfirm(t *testing.T) {
	provider := &scriptedProvider{outputs: []string{
		`{"message":"Writing the lead.","action":"write_records","args":{"integration":"crm","tableName":"Leads","records":[{"Name":"Jane"}]}}`,
	}}
	writer := &countingWriter{}
	creds := []destination.Credentials{{Integration: "crm", BaseURL: "http://crm.example", APIKey: "k"}}
	built := 0
	factory := func(userID string) (*chat.Session, error) {
		built++
		return chat.NewSession(provider, nil, writer, creds,
			chat.WithLogger(logging.NewNopLogger())), nil
	}
	h := NewChatHandler(factory, logging.NewNopLogger())

	chatFragments(t, h, `{"messages":[{"role":"user","content":"add jane"}]}`)
	chatFragments(t, h, `{"messages":[{"role":"user","content":"confirm"}]}`)
	chatFragments(t, h, `{"messages":[{"role":"user","content":"add jane"}]}`)

	// Only the confirm request reuses a held session.
	if built != 2 {
		t.Errorf("sessions built = %d, want 2", built)
	}
}

func TestChatRejectsEmptyMessages(t *testing.T) {
	factory := func(userID string) (*chat.Session, error) {
		t.Fatal("session factory should not be called")
		return nil, nil
	}
	h := NewChatHandler(factory, logging.NewNopLogger())

	req := httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(`{"messages":[]}`))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestChatRejectsGet(t *testing.T) {
	h := NewChatHandler(nil, logging.NewNopLogger())

	req := httptest.NewRequest(http.MethodGet, "/chat", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", rec.Code)
	}
}

type okChecker struct{}

func (okChecker) Ping(ctx context.Context) error { return nil }

type failChecker struct{}

func (failChecker) Ping(ctx context.Context) error { return errors.New("dependency down") }

func TestHealthEndpoint(t *testing.T) {
	ingest := newTestIngestHandler(&fakeProcessor{}, nil)
	chatH := NewChatHandler(nil, logging.NewNopLogger())

	tests := []struct {
		name     string
		checks   []HealthChecker
		wantCode int
	}{
		{name: "healthy", checks: []HealthChecker{okChecker{}}, wantCode: http.StatusOK},
		{name: "no checks", checks: nil, wantCode: http.StatusOK},
		{name: "unhealthy", checks: []HealthChecker{okChecker{}, failChecker{}}, wantCode: http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := New(0, ingest, chatH, nil,
				WithLogger(logging.NewNopLogger()),
				WithHealthChecks(tt.checks...))

			req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
			rec := httptest.NewRecorder()
			srv.httpServer.Handler.ServeHTTP(rec, req)

			if rec.Code != tt.wantCode {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantCode)
			}
		})
	}
}

package chat

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/mailroute/mailroute/pkg/destination"
	"github.com/mailroute/mailroute/pkg/logging"
	"github.com/mailroute/mailroute/pkg/reasoning"
)

// scriptedProvider returns canned responses in order, repeating the last one.
type scriptedProvider struct {
	responses []string
	err       error
	calls     int
}

func (f *scriptedProvider) Name() string { return "scripted" }

func (f *scriptedProvider) Complete(ctx context.Context, req reasoning.CompletionRequest) (*reasoning.CompletionResponse, error) {
	return nil, errors.New("not used")
}

func (f *scriptedProvider) CompleteStructured(ctx context.Context, req reasoning.CompletionRequest, target interface{}) error {
	if f.err != nil {
		return f.err
	}
	i := f.calls
	if i >= len(f.responses) {
		i = len(f.responses) - 1
	}
	f.calls++
	return json.Unmarshal([]byte(f.responses[i]), target)
}

func (f *scriptedProvider) IsAvailable(ctx context.Context) bool { return true }
func (f *scriptedProvider) Close() error                         { return nil }

type fakeDiscoverer struct {
	schema *destination.Schema
	err    error
	calls  int
}

func (f *fakeDiscoverer) Discover(ctx context.Context, creds destination.Credentials) (*destination.Schema, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.schema, nil
}

type fakeWriter struct {
	result *destination.WriteResult
	err    error
	calls  int
}

func (f *fakeWriter) Write(ctx context.Context, creds destination.Credentials, tableName string, records []destination.FieldMap) (*destination.WriteResult, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func testCreds() []destination.Credentials {
	return []destination.Credentials{{Integration: "crm", BaseURL: "http://crm.example", APIKey: "k"}}
}

func testSchema() *destination.Schema {
	return &destination.Schema{
		Integration: "crm",
		Tables: map[string]destination.Table{
			"Leads": {Fields: map[string]destination.Field{"Name": {Type: "singleLineText", Required: true}}},
		},
	}
}

func collect() (Emit, *[]Fragment) {
	var fragments []Fragment
	return func(f Fragment) { fragments = append(fragments, f) }, &fragments
}

func TestRunPlainAnswer(t *testing.T) {
	provider := &scriptedProvider{responses: []string{
		`{"message": "You have one destination: crm.", "done": true}`,
	}}
	session := NewSession(provider, &fakeDiscoverer{}, &fakeWriter{}, testCreds(), WithLogger(logging.NewNopLogger()))

	emit, fragments := collect()
	final, err := session.Run(context.Background(), []Message{{Role: RoleUser, Content: "what is connected?"}}, emit)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if final.Type != FragmentFinal {
		t.Errorf("final type = %q", final.Type)
	}
	if !strings.Contains(final.Content, "crm") {
		t.Errorf("final content = %q", final.Content)
	}
	// Last streamed fragment is the authoritative one.
	if last := (*fragments)[len(*fragments)-1]; last.Type != FragmentFinal {
		t.Errorf("last streamed fragment = %q", last.Type)
	}
}

func TestRunTrustedDiscoverThenWrite(t *testing.T) {
	provider := &scriptedProvider{responses: []string{
		`{"action": "discover_schema", "args": {"integration": "crm"}}`,
		`{"message": "Writing the lead.", "action": "write_records", "args": {"integration": "crm", "tableName": "Leads", "records": [{"Name": "Jane"}]}}`,
	}}
	disc := &fakeDiscoverer{schema: testSchema()}
	writer := &fakeWriter{result: &destination.WriteResult{InsertedCount: 1}}
	session := NewSession(provider, disc, writer, testCreds(),
		WithTrusted(true), WithLogger(logging.NewNopLogger()))

	emit, _ := collect()
	final, err := session.Run(context.Background(), []Message{{Role: RoleUser, Content: "add Jane as a lead"}}, emit)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if disc.calls != 1 {
		t.Errorf("discover calls = %d", disc.calls)
	}
	if writer.calls != 1 {
		t.Errorf("write calls = %d", writer.calls)
	}
	if final.Write == nil || final.Write.InsertedCount != 1 {
		t.Errorf("final write = %+v", final.Write)
	}
}

func TestRunUntrustedWriteWaitsForConfirmation(t *testing.T) {
	provider := &scriptedProvider{responses: []string{
		`{"action": "write_records", "args": {"integration": "crm", "tableName": "Leads", "records": [{"Name": "Jane"}]}}`,
	}}
	writer := &fakeWriter{result: &destination.WriteResult{InsertedCount: 1}}
	session := NewSession(provider, &fakeDiscoverer{}, writer, testCreds(), WithLogger(logging.NewNopLogger()))

	emit, _ := collect()
	final, err := session.Run(context.Background(), []Message{{Role: RoleUser, Content: "add Jane"}}, emit)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if final.Type != FragmentConfirm {
		t.Fatalf("final type = %q, want confirm", final.Type)
	}
	if writer.calls != 0 {
		t.Error("writer must not run before confirmation")
	}
	if !session.HasPending() {
		t.Fatal("session should hold the pending write")
	}

	// User confirms in the next turn.
	confirmFinal, err := session.Run(context.Background(),
		[]Message{{Role: RoleUser, Content: "confirm"}}, emit)
	if err != nil {
		t.Fatalf("confirm Run: %v", err)
	}
	if writer.calls != 1 {
		t.Errorf("write calls = %d after confirm", writer.calls)
	}
	if confirmFinal.Write == nil || confirmFinal.Write.InsertedCount != 1 {
		t.Errorf("confirm final = %+v", confirmFinal)
	}
	if session.HasPending() {
		t.Error("pending write should be cleared")
	}
}

func TestRunNonConfirmDropsPendingWrite(t *testing.T) {
	provider := &scriptedProvider{responses: []string{
		`{"action": "write_records", "args": {"integration": "crm", "tableName": "Leads", "records": [{"Name": "Jane"}]}}`,
		`{"message": "Dropped it.", "done": true}`,
	}}
	writer := &fakeWriter{result: &destination.WriteResult{InsertedCount: 1}}
	session := NewSession(provider, &fakeDiscoverer{}, writer, testCreds(), WithLogger(logging.NewNopLogger()))

	emit, _ := collect()
	if _, err := session.Run(context.Background(), []Message{{Role: RoleUser, Content: "add Jane"}}, emit); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if _, err := session.Run(context.Background(), []Message{{Role: RoleUser, Content: "actually never mind"}}, emit); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if writer.calls != 0 {
		t.Error("declined write must not execute")
	}
	if session.HasPending() {
		t.Error("pending write should be dropped")
	}
}

func TestRunReasoningFailure(t *testing.T) {
	provider := &scriptedProvider{err: errors.New("model down")}
	session := NewSession(provider, &fakeDiscoverer{}, &fakeWriter{}, testCreds(), WithLogger(logging.NewNopLogger()))

	final, err := session.Run(context.Background(), []Message{{Role: RoleUser, Content: "hi"}}, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if final.Error == "" {
		t.Error("final fragment should carry the error")
	}
}

func TestRunTurnLimit(t *testing.T) {
	provider := &scriptedProvider{responses: []string{
		`{"action": "list_destinations", "args": {}}`,
	}}
	session := NewSession(provider, &fakeDiscoverer{}, &fakeWriter{}, testCreds(), WithLogger(logging.NewNopLogger()))

	final, err := session.Run(context.Background(), []Message{{Role: RoleUser, Content: "loop"}}, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !strings.Contains(final.Error, "turn limit") {
		t.Errorf("final error = %q", final.Error)
	}
	if provider.calls != maxTurns {
		t.Errorf("provider calls = %d, want %d", provider.calls, maxTurns)
	}
}

func TestConfirmPendingWithoutPending(t *testing.T) {
	session := NewSession(&scriptedProvider{}, &fakeDiscoverer{}, &fakeWriter{}, testCreds(), WithLogger(logging.NewNopLogger()))
	if _, err := session.ConfirmPending(context.Background(), nil); err == nil {
		t.Error("expected error with no pending write")
	}
}

package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mailroute/mailroute/pkg/destination"
	"github.com/mailroute/mailroute/pkg/logging"
	"github.com/mailroute/mailroute/pkg/reasoning"
	"github.com/mailroute/mailroute/pkg/routing"
)

// maxTurns bounds the tool loop so a confused model cannot spin forever.
const maxTurns = 8

// RecordWriter matches the pipeline's writer contract.
type RecordWriter interface {
	Write(ctx context.Context, creds destination.Credentials, tableName string, records []destination.FieldMap) (*destination.WriteResult, error)
}

// Emit receives fragments as the session produces them.
type Emit func(Fragment)

// Session is one conversational run over the tool loop.
type Session struct {
	provider reasoning.Provider
	schemas  routing.SchemaDiscoverer
	writer   RecordWriter
	creds    []destination.Credentials
	trusted  bool
	logger   logging.Logger

	pending *WriteRequest
}

// Option configures the session.
type Option func(*Session)

// WithTrusted allows the loop to chain discovery, mapping and write without
// pausing for confirmation.
func WithTrusted(trusted bool) Option {
	return func(s *Session) {
		s.trusted = trusted
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger logging.Logger) Option {
	return func(s *Session) {
		s.logger = logger
	}
}

// NewSession creates a session over the given destinations.
func NewSession(provider reasoning.Provider, schemas routing.SchemaDiscoverer, writer RecordWriter, creds []destination.Credentials, opts ...Option) *Session {
	s := &Session{
		provider: provider,
		schemas:  schemas,
		writer:   writer,
		creds:    creds,
		logger:   logging.MustGlobal(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(logging.F("component", "chat"))
	return s
}

// assistantTurn mirrors the JSON contract the model produces each turn:
// either prose for the user, or an action invocation, or both done=true with
// a closing message.
type assistantTurn struct {
	Message string          `json:"message,omitempty"`
	Action  string          `json:"action,omitempty"`
	Args    json.RawMessage `json:"args,omitempty"`
	Done    bool            `json:"done,omitempty"`
}

// Run drives the tool loop for one user request. Fragments stream through
// emit; the returned fragment is the authoritative final one. A pending
// write left unconfirmed survives on the session for ConfirmPending.
func (s *Session) Run(ctx context.Context, messages []Message, emit Emit) (*Fragment, error) {
	if emit == nil {
		emit = func(Fragment) {}
	}

	// A bare "confirm" resolves a write held over from the previous run.
	if s.pending != nil && len(messages) > 0 {
		last := strings.ToLower(strings.TrimSpace(messages[len(messages)-1].Content))
		if last == "confirm" || last == "yes" {
			return s.executePending(ctx, emit)
		}
		s.pending = nil
	}

	transcript := make([]Message, len(messages))
	copy(transcript, messages)

	for turn := 0; turn < maxTurns; turn++ {
		var out assistantTurn
		req := reasoning.CompletionRequest{
			SystemPrompt: s.systemPrompt(),
			Prompt:       renderTranscript(transcript),
		}
		if err := s.provider.CompleteStructured(ctx, req, &out); err != nil {
			final := Fragment{Type: FragmentFinal, Error: fmt.Sprintf("reasoning failed: %v", err)}
			emit(final)
			return &final, nil
		}

		if out.Message != "" {
			emit(Fragment{Type: FragmentMessage, Content: out.Message})
		}

		if out.Action == "" || out.Done {
			final := Fragment{Type: FragmentFinal, Content: out.Message}
			emit(final)
			return &final, nil
		}

		result, final := s.invoke(ctx, out.Action, out.Args, emit)
		if final != nil {
			emit(*final)
			return final, nil
		}

		transcript = append(transcript,
			Message{Role: RoleAssistant, Content: fmt.Sprintf("action: %s", out.Action)},
			Message{Role: RoleTool, Content: result},
		)
	}

	final := Fragment{Type: FragmentFinal, Error: "conversation exceeded the turn limit"}
	emit(final)
	return &final, nil
}

// invoke runs one action. It returns the tool output to feed back to the
// model, or a final fragment when the loop must stop (confirmation pause or
// completed write).
func (s *Session) invoke(ctx context.Context, action string, args json.RawMessage, emit Emit) (string, *Fragment) {
	emit(Fragment{Type: FragmentAction, Action: action})

	switch action {
	case ActionListDestinations:
		names := make([]string, 0, len(s.creds))
		for _, c := range s.creds {
			names = append(names, c.Integration)
		}
		emit(Fragment{Type: FragmentResult, Action: action, Data: names})
		return fmt.Sprintf("connected destinations: %s", strings.Join(names, ", ")), nil

	case ActionDiscoverSchema:
		var params struct {
			Integration string `json:"integration"`
		}
		if err := json.Unmarshal(args, &params); err != nil {
			return fmt.Sprintf("error: invalid discover_schema args: %v", err), nil
		}
		creds, ok := s.findCreds(params.Integration)
		if !ok {
			return fmt.Sprintf("error: %q is not a connected destination", params.Integration), nil
		}
		schema, err := s.schemas.Discover(ctx, creds)
		if err != nil {
			return fmt.Sprintf("error: schema discovery failed: %v", err), nil
		}
		emit(Fragment{Type: FragmentResult, Action: action, Data: schema})
		data, _ := json.Marshal(schema)
		return string(data), nil

	case ActionWriteRecords:
		var req WriteRequest
		if err := json.Unmarshal(args, &req); err != nil {
			return fmt.Sprintf("error: invalid write_records args: %v", err), nil
		}
		if len(req.Records) == 0 {
			return "error: write_records needs at least one record", nil
		}
		if _, ok := s.findCreds(req.Integration); !ok {
			return fmt.Sprintf("error: %q is not a connected destination", req.Integration), nil
		}

		if !s.trusted {
			s.pending = &req
			final := Fragment{
				Type:    FragmentConfirm,
				Action:  ActionWriteRecords,
				Data:    req,
				Content: fmt.Sprintf("about to write %d record(s) to %s/%s, reply \"confirm\" to proceed", len(req.Records), req.Integration, req.TableName),
			}
			return "", &final
		}

		final := s.write(ctx, &req, emit)
		return "", final

	default:
		return fmt.Sprintf("error: unknown action %q", action), nil
	}
}

// ConfirmPending executes a write held for confirmation. It is the
// programmatic equivalent of replying "confirm".
func (s *Session) ConfirmPending(ctx context.Context, emit Emit) (*Fragment, error) {
	if emit == nil {
		emit = func(Fragment) {}
	}
	if s.pending == nil {
		return nil, fmt.Errorf("no pending write")
	}
	return s.executePending(ctx, emit)
}

// HasPending reports whether a write awaits confirmation.
func (s *Session) HasPending() bool {
	return s.pending != nil
}

func (s *Session) executePending(ctx context.Context, emit Emit) (*Fragment, error) {
	req := s.pending
	s.pending = nil
	final := s.write(ctx, req, emit)
	emit(*final)
	return final, nil
}

func (s *Session) write(ctx context.Context, req *WriteRequest, emit Emit) *Fragment {
	creds, ok := s.findCreds(req.Integration)
	if !ok {
		return &Fragment{Type: FragmentFinal, Error: fmt.Sprintf("%q is not a connected destination", req.Integration)}
	}

	result, err := s.writer.Write(ctx, creds, req.TableName, req.Records)
	if err != nil {
		s.logger.Error("Chat write failed", logging.Err(err),
			logging.F("integration", req.Integration),
			logging.F("table", req.TableName))
		return &Fragment{Type: FragmentFinal, Error: fmt.Sprintf("write failed: %v", err)}
	}

	s.logger.Info("Chat write completed",
		logging.F("integration", req.Integration),
		logging.F("table", req.TableName),
		logging.F("inserted", result.InsertedCount))

	return &Fragment{
		Type:    FragmentFinal,
		Action:  ActionWriteRecords,
		Write:   result,
		Content: fmt.Sprintf("wrote %d record(s) to %s/%s", result.InsertedCount, req.Integration, req.TableName),
	}
}

func (s *Session) findCreds(integration string) (destination.Credentials, bool) {
	for _, c := range s.creds {
		if c.Integration == integration {
			return c, true
		}
	}
	return destination.Credentials{}, false
}

func (s *Session) systemPrompt() string {
	names := make([]string, 0, len(s.creds))
	for _, c := range s.creds {
		names = append(names, c.Integration)
	}
	return fmt.Sprintf(`You help the user inspect and update their connected tabular stores (%s). Each turn respond with JSON matching exactly:
{"message": string, "action": string, "args": object, "done": bool}
Available actions:
- "list_destinations", args {}
- "discover_schema", args {"integration": string}
- "write_records", args {"integration": string, "tableName": string, "records": [{"<field>": <value>}]}
Discover a schema before writing so field names and choice options match it. Omit "action" and set "done" to true when the conversation is complete.`,
		strings.Join(names, ", "))
}

func renderTranscript(messages []Message) string {
	var b strings.Builder
	for _, m := range messages {
		fmt.Fprintf(&b, "[%s] %s\n", m.Role, m.Content)
	}
	return b.String()
}

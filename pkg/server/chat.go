package server

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/mailroute/mailroute/pkg/chat"
	"github.com/mailroute/mailroute/pkg/logging"
)

// SessionFactory builds a fresh chat session. Fresh sessions pick up the
// destination credential set at call time.
type SessionFactory func(userID string) (*chat.Session, error)

// ChatHandler streams a chat tool loop as newline-delimited JSON fragments.
// The client treats the fragment with type "final" (or "confirm", "error") as
// authoritative; intermediate fragments are progress only.
//
// A session that paused for write confirmation is held per user so the
// follow-up "confirm" request lands on the same session and can release the
// pending write. All other requests get a fresh session.
type ChatHandler struct {
	sessions SessionFactory
	logger   logging.Logger

	mu      sync.Mutex
	pending map[string]*chat.Session
}

// NewChatHandler creates the chat endpoint handler.
func NewChatHandler(sessions SessionFactory, logger logging.Logger) *ChatHandler {
	if logger == nil {
		logger = logging.MustGlobal()
	}
	return &ChatHandler{
		sessions: sessions,
		logger:   logger.With(logging.F("component", "chat_handler")),
		pending:  make(map[string]*chat.Session),
	}
}

// sessionFor reuses the user's held session while it still has a pending
// confirmation, otherwise builds a fresh one.
func (h *ChatHandler) sessionFor(userID string) (*chat.Session, error) {
	h.mu.Lock()
	held := h.pending[userID]
	h.mu.Unlock()
	if held != nil && held.HasPending() {
		return held, nil
	}
	return h.sessions(userID)
}

// retain holds or releases the user's session based on whether a write is
// still awaiting confirmation.
func (h *ChatHandler) retain(userID string, session *chat.Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if session.HasPending() {
		h.pending[userID] = session
	} else {
		delete(h.pending, userID)
	}
}

type chatRequest struct {
	Messages []chat.Message `json:"messages"`
	UserID   string         `json:"userId"`
}

func (h *ChatHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "decoding request: " + err.Error()})
		return
	}
	if len(req.Messages) == 0 {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "messages must not be empty"})
		return
	}
	if req.UserID == "" {
		req.UserID = "default"
	}

	session, err := h.sessionFor(req.UserID)
	if err != nil {
		h.logger.Error("Failed to build chat session", logging.Err(err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)

	flusher, _ := w.(http.Flusher)
	enc := json.NewEncoder(w)
	emit := func(f chat.Fragment) {
		enc.Encode(f)
		if flusher != nil {
			flusher.Flush()
		}
	}

	// The session emits every fragment itself, the final one included.
	if _, err := session.Run(r.Context(), req.Messages, emit); err != nil {
		// The stream is already committed; the error travels as the final
		// fragment rather than as an HTTP status.
		emit(chat.Fragment{Type: chat.FragmentFinal, Error: err.Error()})
	}
	h.retain(req.UserID, session)
}

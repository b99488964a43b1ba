// Package server exposes the ingestion and chat HTTP surface.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/mailroute/mailroute/pkg/destination"
	"github.com/mailroute/mailroute/pkg/event"
	"github.com/mailroute/mailroute/pkg/logging"
	"github.com/mailroute/mailroute/pkg/observability"
	"github.com/mailroute/mailroute/pkg/pipeline"
)

// maxBodyBytes bounds an ingestion request body.
const maxBodyBytes = 10 << 20

// Processor runs one inbound event through the pipeline.
type Processor interface {
	Process(ctx context.Context, userID string, ev *event.InboundEvent, creds []destination.Credentials) *pipeline.Result
}

// CredentialSource supplies the caller's connected destinations.
type CredentialSource interface {
	All() ([]destination.Credentials, error)
}

// IngestHandler is the inbound event boundary. It always acknowledges with
// 200 and reports outcomes in the body; the relay on the other end is
// fire-and-forget and cannot act on HTTP error codes. The only exception is
// an unparsable JSON body, which gets a 500.
type IngestHandler struct {
	processor Processor
	creds     CredentialSource
	dedup     Deduper
	metrics   *observability.PipelineMetrics
	logger    logging.Logger
}

// NewIngestHandler creates the ingestion handler.
func NewIngestHandler(processor Processor, creds CredentialSource, dedup Deduper, metrics *observability.PipelineMetrics, logger logging.Logger) *IngestHandler {
	if dedup == nil {
		dedup = NopDeduper{}
	}
	if logger == nil {
		logger = logging.MustGlobal()
	}
	return &IngestHandler{
		processor: processor,
		creds:     creds,
		dedup:     dedup,
		metrics:   metrics,
		logger:    logger.With(logging.F("component", "ingest_handler")),
	}
}

// ingestResponse is the structured acknowledgment body.
type ingestResponse struct {
	Received int           `json:"received"`
	Results  []eventResult `json:"results"`
}

type eventResult struct {
	Subject   string           `json:"subject"`
	Duplicate bool             `json:"duplicate,omitempty"`
	Run       *pipeline.Result `json:"run,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (h *IngestHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.handleVerification(w, r)
	case http.MethodPost, http.MethodPut, http.MethodPatch:
		h.handleIngest(w, r)
	default:
		w.Header().Set("Allow", "GET, POST, PUT, PATCH")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleVerification answers the relay's challenge/echo handshake, or
// describes the endpoint when no challenge is present.
func (h *IngestHandler) handleVerification(w http.ResponseWriter, r *http.Request) {
	if challenge := r.URL.Query().Get("challenge"); challenge != "" {
		w.Header().Set("Content-Type", "text/plain")
		io.WriteString(w, challenge)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"service": "mailroute",
		"accepts": []string{"POST", "PUT", "PATCH"},
		"envelope": map[string]string{
			"source": "email|chat|file",
			"emails": "list of {subject, from, to, body, attachments}",
		},
	})
}

func (h *IngestHandler) handleIngest(w http.ResponseWriter, r *http.Request) {
	requestID := uuid.NewString()
	ctx := context.WithValue(r.Context(), logging.RequestIDKey, requestID)

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "reading request body: " + err.Error()})
		return
	}

	events, err := event.DecodeEnvelope(body, time.Now().UTC())
	if err != nil {
		// An empty batch is still a valid delivery to acknowledge; only
		// unparsable JSON gets the 500.
		if errors.Is(err, event.ErrNoEvents) {
			writeJSON(w, http.StatusOK, ingestResponse{Received: 0, Results: []eventResult{}})
			return
		}
		h.logger.Warn("Rejected unparsable envelope",
			logging.Err(err),
			logging.F("request_id", requestID))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}

	userID := r.URL.Query().Get("userId")
	if userID == "" {
		userID = "default"
	}

	creds, err := h.creds.All()
	if err != nil {
		// Processing continues; routing will fail per event and each run
		// still gets its audit record.
		h.logger.Error("Failed to load destination credentials", logging.Err(err))
	}

	resp := ingestResponse{Received: len(events)}
	for i := range events {
		ev := &events[i]
		result := eventResult{Subject: ev.Subject}

		if seen := h.checkDuplicate(ctx, ev.DeliveryID); seen {
			result.Duplicate = true
			resp.Results = append(resp.Results, result)
			continue
		}

		result.Run = h.processor.Process(ctx, userID, ev, creds)
		resp.Results = append(resp.Results, result)
	}

	writeJSON(w, http.StatusOK, resp)
}

func (h *IngestHandler) checkDuplicate(ctx context.Context, deliveryID string) bool {
	if deliveryID == "" {
		return false
	}
	seen, err := h.dedup.Seen(ctx, deliveryID)
	if err != nil {
		// Dedup is advisory; a Redis outage must not block ingestion.
		h.logger.Warn("Dedup check failed, processing anyway", logging.Err(err))
		return false
	}
	if seen {
		h.logger.Info("Dropping redelivered event",
			logging.F("delivery_id", deliveryID))
		if h.metrics != nil {
			h.metrics.RecordDedup()
		}
	}
	return seen
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

package api

import (
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/pixelvault/pixelvault-api/internal/api/shared"
	"github.com/pixelvault/pixelvault-api/internal/ingest"
	"github.com/pixelvault/pixelvault-api/internal/redact"
)

// WorkerHandler receives worker monitor events.
type WorkerHandler struct {
	ingestor *ingest.Ingestor
	logger   *slog.Logger
}

// NewWorkerHandler creates a new WorkerHandler.
// If logger is nil, a default logger will be used.
func NewWorkerHandler(ingestor *ingest.Ingestor, logger *slog.Logger) *WorkerHandler {
	if logger == nil {
		logger = slog.Default()
	}

	return &WorkerHandler{
		ingestor: ingestor,
		logger:   logger.With("component", "worker_handler"),
	}
}

// HandleEvent handles POST /api/worker/events.
// Malformed payloads get a 400; everything else is acknowledged with 202
// regardless of how ingestion resolved, so the monitor never retries events
// the service chose to drop.
func (h *WorkerHandler) HandleEvent(w http.ResponseWriter, r *http.Request) {
	var req WorkerEventRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid request format")
		return
	}
	if err := shared.ValidateRequest(req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, SanitizeValidationError(err))
		return
	}

	event := ingest.Event{
		Kind:             req.Kind,
		ExternalJobID:    req.ExternalJobID,
		CorrelationToken: req.CorrelationToken,
		QueueRemaining:   req.QueueRemaining,
		ProgressPercent:  req.ProgressPercent,
		Payload:          req.Payload,
		Reason:           req.Reason,
		Timestamp:        req.Timestamp,
	}
	if req.QueueID != "" {
		// Validated as a UUID by the request tags.
		event.QueueID = uuid.MustParse(req.QueueID)
	}

	if err := h.ingestor.HandleEvent(r.Context(), event); err != nil {
		// Ingestion errors are operational, not the publisher's problem.
		h.logger.Error("worker event processing failed",
			"kind", req.Kind,
			"external_job_id", req.ExternalJobID,
			"error", redact.Error(err))
	}

	shared.RespondWithJSON(w, r, http.StatusAccepted, map[string]string{"status": "accepted"})
}

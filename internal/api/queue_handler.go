package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/pixelvault/pixelvault-api/internal/api/middleware"
	"github.com/pixelvault/pixelvault-api/internal/api/shared"
	"github.com/pixelvault/pixelvault-api/internal/metrics"
	"github.com/pixelvault/pixelvault-api/internal/queue"
)

// Subscriber upgrades a request into a push channel for one queue entry.
// Implemented by the WebSocket hub.
type Subscriber interface {
	Subscribe(w http.ResponseWriter, r *http.Request, queueID uuid.UUID) error
}

// QueueHandler serves the client-facing queue endpoints.
type QueueHandler struct {
	coordinator *queue.Coordinator
	subscriber  Subscriber
	recorder    metrics.Recorder
	logger      *slog.Logger
}

// NewQueueHandler creates a new QueueHandler.
// If logger is nil, a default logger will be used.
func NewQueueHandler(
	coordinator *queue.Coordinator,
	subscriber Subscriber,
	recorder metrics.Recorder,
	logger *slog.Logger,
) *QueueHandler {
	if recorder == nil {
		recorder = metrics.Noop()
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &QueueHandler{
		coordinator: coordinator,
		subscriber:  subscriber,
		recorder:    recorder,
		logger:      logger.With("component", "queue_handler"),
	}
}

// Submit handles POST /api/queue.
// Returns 202 with the created entry, or 429 when the caller already has
// too many queued requests.
func (h *QueueHandler) Submit(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r)
	if !ok {
		shared.RespondWithError(w, r, http.StatusUnauthorized, "Authentication required")
		return
	}

	// An empty body is a valid submission with no correlation token.
	var req SubmitRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := shared.DecodeJSON(r, &req); err != nil {
			shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid request format")
			return
		}
		if err := shared.ValidateRequest(req); err != nil {
			shared.RespondWithError(w, r, http.StatusBadRequest, SanitizeValidationError(err))
			return
		}
	}

	entry, err := h.coordinator.Submit(r.Context(), userID, req.CorrelationToken)
	if err != nil {
		h.recorder.RecordSubmission("rejected")
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	h.recorder.RecordSubmission("accepted")
	shared.RespondWithJSON(w, r, http.StatusAccepted, entryToResponse(entry, h.coordinator.EstimateWait))
}

// GetStatus handles GET /api/queue/{id}.
// Entries are visible only to the user who submitted them.
func (h *QueueHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r)
	if !ok {
		shared.RespondWithError(w, r, http.StatusUnauthorized, "Authentication required")
		return
	}

	queueID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid queue entry ID")
		return
	}

	entry, err := h.coordinator.Get(r.Context(), queueID)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	if entry.UserID != userID {
		// Report not-found rather than confirming the entry exists.
		shared.RespondWithError(w, r, http.StatusNotFound, "Queue entry not found")
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, entryToResponse(entry, h.coordinator.EstimateWait))
}

// Subscribe handles GET /api/queue/{id}/ws.
// On success the connection is handed to the hub and the handler returns
// without writing a response body.
func (h *QueueHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r)
	if !ok {
		shared.RespondWithError(w, r, http.StatusUnauthorized, "Authentication required")
		return
	}

	queueID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid queue entry ID")
		return
	}

	entry, err := h.coordinator.Get(r.Context(), queueID)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	if entry.UserID != userID {
		shared.RespondWithError(w, r, http.StatusNotFound, "Queue entry not found")
		return
	}

	if err := h.subscriber.Subscribe(w, r, queueID); err != nil {
		// The upgrader has already written its own error response.
		h.logger.Warn("subscription upgrade failed",
			"queue_id", queueID,
			"error", err)
	}
}

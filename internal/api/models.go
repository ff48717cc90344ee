package api

import (
	"encoding/json"
	"time"

	"github.com/pixelvault/pixelvault-api/internal/domain"
)

// SubmitRequest is the body of a queue submission. The correlation token is
// optional; when omitted the coordinator generates one.
type SubmitRequest struct {
	CorrelationToken string `json:"correlation_token,omitempty" validate:"omitempty,min=8,max=128"`
}

// QueueEntryResponse is the client-facing view of a queue entry.
type QueueEntryResponse struct {
	ID                   string          `json:"id"`
	Status               string          `json:"status"`
	Position             int             `json:"position,omitempty"`
	EstimatedWaitSeconds int             `json:"estimated_wait_seconds,omitempty"`
	CorrelationToken     string          `json:"correlation_token"`
	ExternalJobID        string          `json:"external_job_id,omitempty"`
	Result               json.RawMessage `json:"result,omitempty"`
	FailureReason        string          `json:"failure_reason,omitempty"`
	SubmittedAt          time.Time       `json:"submitted_at"`
	StartedAt            *time.Time      `json:"started_at,omitempty"`
	CompletedAt          *time.Time      `json:"completed_at,omitempty"`
}

// WorkerEventRequest is one event published by the worker monitor.
type WorkerEventRequest struct {
	Kind             string          `json:"kind"              validate:"required"`
	ExternalJobID    string          `json:"external_job_id,omitempty"`
	CorrelationToken string          `json:"correlation_token,omitempty"`
	QueueID          string          `json:"queue_id,omitempty" validate:"omitempty,uuid"`
	QueueRemaining   *int            `json:"queue_remaining,omitempty"`
	ProgressPercent  *int            `json:"progress_percent,omitempty"`
	Payload          json.RawMessage `json:"payload,omitempty"`
	Reason           string          `json:"reason,omitempty"`
	Timestamp        time.Time       `json:"timestamp,omitempty"`
}

// entryToResponse converts a domain entry into the wire representation.
// The estimate callback lets the handler attach the coordinator's wait
// projection without the model package knowing queue policy.
func entryToResponse(entry *domain.QueueEntry, estimateWait func(position int) time.Duration) QueueEntryResponse {
	resp := QueueEntryResponse{
		ID:               entry.ID.String(),
		Status:           string(entry.Status),
		CorrelationToken: entry.CorrelationToken,
		ExternalJobID:    entry.ExternalJobID,
		Result:           entry.Result,
		FailureReason:    entry.FailureReason,
		SubmittedAt:      entry.SubmittedAt,
		StartedAt:        entry.StartedAt,
		CompletedAt:      entry.CompletedAt,
	}

	if entry.Status == domain.EntryStatusQueued {
		resp.Position = entry.Position
		if estimateWait != nil {
			resp.EstimatedWaitSeconds = int(estimateWait(entry.Position).Seconds())
		}
	}

	return resp
}

// Package notify delivers best-effort push notifications reflecting queue
// state to connected clients. Delivery never blocks the coordinator or the
// ingestion path on outcome: failures are isolated per channel and the
// status query endpoint remains the authoritative source of truth.
package notify

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/pixelvault/pixelvault-api/internal/domain"
)

// Notification kinds pushed to clients.
const (
	KindPositionUpdate = "position_update"
	KindJobStarted     = "job_started"
	KindJobProgress    = "job_progress"
	KindJobCompleted   = "job_completed"
	KindJobFailed      = "job_failed"
)

// Notification is the payload pushed over a live channel. Position and
// estimate are meaningful only while the entry is queued; QueueBacklog is
// the aggregate external-worker backlog, populated only for broadcasts
// triggered by a global load signal.
type Notification struct {
	QueueID              uuid.UUID          `json:"queue_id"`
	Kind                 string             `json:"kind"`
	Status               domain.EntryStatus `json:"status"`
	Position             int                `json:"position,omitempty"`
	EstimatedWaitSeconds int                `json:"estimated_wait_seconds,omitempty"`
	QueueBacklog         *int               `json:"queue_backlog,omitempty"`
	ProgressPercent      *int               `json:"progress_percent,omitempty"`
	Result               json.RawMessage    `json:"result,omitempty"`
	FailureReason        string             `json:"failure_reason,omitempty"`
	Timestamp            time.Time          `json:"timestamp"`
}

// Package ingest translates the external worker's at-least-once, possibly
// out-of-order lifecycle events into queue coordinator calls. Every handler
// is safe to invoke twice for the same underlying event.
package ingest

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Normalized worker event kinds.
const (
	// KindQueueStatus is the periodic global load signal. It carries only
	// the aggregate outstanding-work count, no per-job identity.
	KindQueueStatus = "queue_status"

	// KindJobStarted signals that the worker accepted a job. It carries the
	// worker-assigned job ID plus the correlation token echoed from
	// submission time.
	KindJobStarted = "job_started"

	// KindJobProgress carries a progress percentage for a running job.
	KindJobProgress = "job_progress"

	// KindJobCompleted is the terminal success event, carrying the result
	// payload (artifact references).
	KindJobCompleted = "job_completed"

	// KindJobFailed is the terminal failure event with a reason.
	KindJobFailed = "job_failed"

	// KindJobTimedOut is a synthetic event emitted by the housekeeping
	// sweeper for entries that never received a start event. It carries the
	// queue ID directly.
	KindJobTimedOut = "job_timed_out"
)

// ErrUnknownKind is returned for event kinds the ingestor does not handle.
var ErrUnknownKind = errors.New("unknown event kind")

// Event is a normalized external worker lifecycle event.
type Event struct {
	Kind             string          `json:"kind"`
	ExternalJobID    string          `json:"external_job_id,omitempty"`
	CorrelationToken string          `json:"correlation_token,omitempty"`
	QueueID          uuid.UUID       `json:"queue_id,omitempty"`
	QueueRemaining   *int            `json:"queue_remaining,omitempty"`
	ProgressPercent  *int            `json:"progress_percent,omitempty"`
	Payload          json.RawMessage `json:"payload,omitempty"`
	Reason           string          `json:"reason,omitempty"`
	Timestamp        time.Time       `json:"timestamp,omitempty"`
}

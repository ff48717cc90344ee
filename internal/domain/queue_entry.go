package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EntryStatus represents the lifecycle state of a generation queue entry.
type EntryStatus string

// Possible entry status values. The lifecycle is forward-only:
// queued -> processing -> {completed, failed}, with a direct
// queued -> {completed, failed} shortcut for entries that terminate
// before the worker ever reports a start.
const (
	EntryStatusQueued     EntryStatus = "queued"
	EntryStatusProcessing EntryStatus = "processing"
	EntryStatusCompleted  EntryStatus = "completed"
	EntryStatusFailed     EntryStatus = "failed"
)

// QueueEntry-specific validation errors
var (
	// ErrEntryIDEmpty is returned when an entry ID is empty or nil.
	ErrEntryIDEmpty = errors.New("entry ID cannot be empty")

	// ErrEntryUserIDEmpty is returned when an entry's user ID is empty or nil.
	ErrEntryUserIDEmpty = errors.New("entry user ID cannot be empty")

	// ErrEntryCorrelationEmpty is returned when an entry has no correlation
	// token. The token is the only handle the worker can echo back before an
	// external job ID exists, so it is mandatory at submission time.
	ErrEntryCorrelationEmpty = errors.New("entry correlation token cannot be empty")
)

// QueueEntry represents one tracked generation request from submission to
// terminal outcome. The external job ID is foreign and late-binding: it is
// unknown at submission time and populated only once the worker accepts the
// job, so it is modeled as an optional field rather than a key.
type QueueEntry struct {
	ID               uuid.UUID       `json:"id"`
	UserID           uuid.UUID       `json:"user_id"`
	CorrelationToken string          `json:"correlation_token"`
	ExternalJobID    string          `json:"external_job_id,omitempty"`
	Status           EntryStatus     `json:"status"`
	Position         int             `json:"position"`
	Result           json.RawMessage `json:"result,omitempty"`
	FailureReason    string          `json:"failure_reason,omitempty"`
	RetryCount       int             `json:"retry_count"`
	Version          int64           `json:"version"`
	SubmittedAt      time.Time       `json:"submitted_at"`
	StartedAt        *time.Time      `json:"started_at,omitempty"`
	CompletedAt      *time.Time      `json:"completed_at,omitempty"`
}

// NewQueueEntry creates a new QueueEntry in the queued state for the given
// user. It generates a new UUID for the entry ID and sets the submission
// timestamp. Returns an error if validation fails.
func NewQueueEntry(userID uuid.UUID, correlationToken string) (*QueueEntry, error) {
	entry := &QueueEntry{
		ID:               uuid.New(),
		UserID:           userID,
		CorrelationToken: correlationToken,
		Status:           EntryStatusQueued,
		Version:          1,
		SubmittedAt:      time.Now().UTC(),
	}

	if err := entry.Validate(); err != nil {
		return nil, err
	}

	return entry, nil
}

// Validate checks if the QueueEntry has valid data.
// Returns an error if any field fails validation.
func (e *QueueEntry) Validate() error {
	if e.ID == uuid.Nil {
		return ErrEntryIDEmpty
	}

	if e.UserID == uuid.Nil {
		return ErrEntryUserIDEmpty
	}

	if e.CorrelationToken == "" {
		return ErrEntryCorrelationEmpty
	}

	if !isValidEntryStatus(e.Status) {
		return ErrInvalidStatus
	}

	return nil
}

// IsTerminal reports whether the entry has reached a terminal state.
// Terminal entries accept no further transitions.
func (e *QueueEntry) IsTerminal() bool {
	return e.Status == EntryStatusCompleted || e.Status == EntryStatusFailed
}

// CanTransitionTo reports whether the lifecycle state machine permits a
// change from the entry's current status to the target status.
func (e *QueueEntry) CanTransitionTo(target EntryStatus) bool {
	switch e.Status {
	case EntryStatusQueued:
		// Direct queued -> terminal is legal: a terminal event may arrive
		// before any start event and the entry must not get stuck.
		return target == EntryStatusProcessing ||
			target == EntryStatusCompleted ||
			target == EntryStatusFailed
	case EntryStatusProcessing:
		return target == EntryStatusCompleted || target == EntryStatusFailed
	default:
		return false
	}
}

// ApplyTransition moves the entry to the target status, stamping StartedAt
// on entry into processing and CompletedAt on entry into a terminal state.
// Each timestamp is set exactly once. Returns ErrInvalidTransition if the
// state machine does not permit the change.
func (e *QueueEntry) ApplyTransition(target EntryStatus) error {
	if !isValidEntryStatus(target) {
		return ErrInvalidStatus
	}

	if !e.CanTransitionTo(target) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, e.Status, target)
	}

	now := time.Now().UTC()
	switch target {
	case EntryStatusProcessing:
		if e.StartedAt == nil {
			e.StartedAt = &now
		}
	case EntryStatusCompleted, EntryStatusFailed:
		if e.CompletedAt == nil {
			e.CompletedAt = &now
		}
	}

	e.Status = target
	return nil
}

// isValidEntryStatus checks if the given status is a valid EntryStatus.
func isValidEntryStatus(status EntryStatus) bool {
	switch status {
	case EntryStatusQueued, EntryStatusProcessing, EntryStatusCompleted, EntryStatusFailed:
		return true
	default:
		return false
	}
}

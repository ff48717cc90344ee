// Package store defines the persistence interfaces consumed by the queue
// coordinator. The EntryStore is the single source of truth for queue
// entries; concurrency correctness is achieved through its conditional
// update primitive rather than in-memory locks.
package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/pixelvault/pixelvault-api/internal/domain"
)

// EntryPatch describes a partial update to a queue entry. Nil fields are
// left untouched. A successful ConditionalUpdate increments the entry
// version by one.
type EntryPatch struct {
	Status        *domain.EntryStatus
	Position      *int
	ExternalJobID *string // empty string clears the binding
	Result        []byte
	FailureReason *string
	RetryCount    *int
	StartedAt     *time.Time
	CompletedAt   *time.Time
}

// EntryStore defines the interface for queue entry persistence.
// Version: 1.0
type EntryStore interface {
	// Create saves a new queue entry to the store.
	// Returns validation errors from the domain QueueEntry if data is invalid.
	Create(ctx context.Context, entry *domain.QueueEntry) error

	// GetByID retrieves an entry by its unique ID.
	// Returns ErrEntryNotFound if the entry does not exist.
	GetByID(ctx context.Context, id uuid.UUID) (*domain.QueueEntry, error)

	// GetByExternalJobID retrieves the entry currently bound to the given
	// worker-assigned job ID. At most one entry holds a given external job
	// ID at any time. Returns ErrEntryNotFound if no entry is bound to it.
	GetByExternalJobID(ctx context.Context, externalJobID string) (*domain.QueueEntry, error)

	// GetByCorrelationToken retrieves the most recently submitted
	// non-terminal entry carrying the given correlation token. Used to
	// resolve job-start events, which arrive before any external job ID
	// has been bound. Returns ErrEntryNotFound if no entry matches.
	GetByCorrelationToken(ctx context.Context, token string) (*domain.QueueEntry, error)

	// ConditionalUpdate applies the patch to the entry identified by id if
	// and only if its stored version equals expectedVersion, incrementing
	// the version on success. Returns ErrVersionConflict when the version
	// does not match, ErrEntryNotFound when the entry does not exist, and
	// ErrExternalJobTaken when the patch would bind an external job ID that
	// is already held by a different entry.
	ConditionalUpdate(ctx context.Context, id uuid.UUID, expectedVersion int64, patch EntryPatch) (*domain.QueueEntry, error)

	// ListQueued returns all entries in the queued state ordered by
	// submission time, ties broken by entry ID for determinism.
	ListQueued(ctx context.Context) ([]*domain.QueueEntry, error)

	// CountQueuedByUser returns the number of queued entries the given user
	// currently has outstanding. Used to enforce the per-user capacity
	// policy at submission time.
	CountQueuedByUser(ctx context.Context, userID uuid.UUID) (int, error)
}

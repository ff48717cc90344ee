// Package queue implements the generation job queue coordinator: the sole
// writer of queue entry lifecycle state, position bookkeeping, external-job
// binding and the per-entry channel registry. Per-entry transitions are
// serialized through the entry store's conditional-update primitive; there
// is no owning goroutine and no in-memory locking of entry state.
package queue

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/pixelvault/pixelvault-api/internal/domain"
	"github.com/pixelvault/pixelvault-api/internal/store"
)

// Config holds the coordinator's policy knobs.
type Config struct {
	// MaxQueuedPerUser caps outstanding queued entries per user. Submissions
	// beyond the cap fail with ErrCapacityExceeded.
	MaxQueuedPerUser int

	// MeanJobDuration is the assumed per-job processing time used for wait
	// estimates.
	MeanJobDuration time.Duration
}

// DefaultConfig returns a Config with reasonable defaults.
func DefaultConfig() Config {
	return Config{
		MaxQueuedPerUser: 3,
		MeanJobDuration:  45 * time.Second,
	}
}

// PositionUpdate describes a position change produced by a recompute pass.
// Consumed by the notification broadcaster.
type PositionUpdate struct {
	EntryID       uuid.UUID
	Position      int
	EstimatedWait time.Duration
}

// TransitionFields carries the optional payload of a lifecycle transition.
type TransitionFields struct {
	// Result is the terminal result payload (artifact references) recorded
	// on completion.
	Result []byte

	// FailureReason is recorded on entry into the failed state.
	FailureReason string

	// DetachExternalJob clears the external-job binding as part of the
	// transition, releasing the worker job ID for reuse.
	DetachExternalJob bool
}

// Coordinator owns the QueueEntry lifecycle and position/wait-time
// computation. It is the ordering authority for the queued set.
type Coordinator struct {
	entries  store.EntryStore
	registry *channelRegistry
	cfg      Config
	logger   *slog.Logger
}

// NewCoordinator creates a new Coordinator.
// If logger is nil, a default logger will be used.
func NewCoordinator(entries store.EntryStore, cfg Config, logger *slog.Logger) (*Coordinator, error) {
	if entries == nil {
		return nil, &CoordinatorError{
			Operation: "create_coordinator",
			Message:   "entry store cannot be nil",
		}
	}

	if cfg.MaxQueuedPerUser <= 0 {
		cfg.MaxQueuedPerUser = DefaultConfig().MaxQueuedPerUser
	}
	if cfg.MeanJobDuration <= 0 {
		cfg.MeanJobDuration = DefaultConfig().MeanJobDuration
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Coordinator{
		entries:  entries,
		registry: newChannelRegistry(),
		cfg:      cfg,
		logger:   logger.With("component", "queue_coordinator"),
	}, nil
}

// Submit creates a new queued entry for the user and computes its initial
// position. The correlation token is the client-chosen handle the worker
// echoes back on job start; when empty a random token is generated.
// Fails with ErrCapacityExceeded when the user's outstanding queued entries
// reach the configured cap.
func (c *Coordinator) Submit(ctx context.Context, userID uuid.UUID, correlationToken string) (*domain.QueueEntry, error) {
	outstanding, err := c.entries.CountQueuedByUser(ctx, userID)
	if err != nil {
		return nil, newCoordinatorError("submit", "failed to count outstanding entries", err)
	}
	if outstanding >= c.cfg.MaxQueuedPerUser {
		c.logger.Warn("submission rejected, user at capacity",
			"user_id", userID,
			"outstanding", outstanding,
			"max_queued_per_user", c.cfg.MaxQueuedPerUser)
		return nil, ErrCapacityExceeded
	}

	if correlationToken == "" {
		correlationToken = uuid.NewString()
	}

	entry, err := domain.NewQueueEntry(userID, correlationToken)
	if err != nil {
		return nil, newCoordinatorError("submit", "failed to create entry", err)
	}

	queued, err := c.entries.ListQueued(ctx)
	if err != nil {
		return nil, newCoordinatorError("submit", "failed to list queued entries", err)
	}
	entry.Position = len(queued) + 1

	if err := c.entries.Create(ctx, entry); err != nil {
		return nil, newCoordinatorError("submit", "failed to save entry", err)
	}

	c.logger.Info("entry submitted",
		"queue_id", entry.ID,
		"user_id", userID,
		"position", entry.Position)

	return entry, nil
}

// Get retrieves an entry by its queue ID.
func (c *Coordinator) Get(ctx context.Context, queueID uuid.UUID) (*domain.QueueEntry, error) {
	entry, err := c.entries.GetByID(ctx, queueID)
	if err != nil {
		return nil, newCoordinatorError("get", "failed to retrieve entry", err)
	}
	return entry, nil
}

// FindByExternalJobID resolves a worker-originated event back to an entry.
// Absence is a normal, loggable condition: the event may reference a job
// that already terminated or was cleaned up.
func (c *Coordinator) FindByExternalJobID(ctx context.Context, externalJobID string) (*domain.QueueEntry, error) {
	entry, err := c.entries.GetByExternalJobID(ctx, externalJobID)
	if err != nil {
		return nil, newCoordinatorError("find_by_external_job", "failed to resolve external job", err)
	}
	return entry, nil
}

// FindByCorrelationToken resolves a job-start event, which arrives before
// any external job ID has been bound, via the submission-time token.
func (c *Coordinator) FindByCorrelationToken(ctx context.Context, token string) (*domain.QueueEntry, error) {
	entry, err := c.entries.GetByCorrelationToken(ctx, token)
	if err != nil {
		return nil, newCoordinatorError("find_by_correlation", "failed to resolve correlation token", err)
	}
	return entry, nil
}

// QueuedEntries returns the current queued set ordered by submission time.
func (c *Coordinator) QueuedEntries(ctx context.Context) ([]*domain.QueueEntry, error) {
	queued, err := c.entries.ListQueued(ctx)
	if err != nil {
		return nil, newCoordinatorError("list_queued", "failed to list queued entries", err)
	}
	return queued, nil
}

// EstimateWait derives the estimated wait for a queue position. The
// estimate is non-negative and non-increasing as the position decreases.
func (c *Coordinator) EstimateWait(position int) time.Duration {
	if position < 0 {
		position = 0
	}
	return time.Duration(position) * c.cfg.MeanJobDuration
}

// RecomputePositions re-ranks all queued entries by submission time (ties
// broken by entry ID) and persists every changed position. Idempotent: a
// second pass over an unchanged queued set produces no updates. Returns the
// delta set for the broadcaster.
//
// Recompute is not globally serialized against concurrent transitions: a
// position written here may be stale by the time it is broadcast. Version
// conflicts on individual entries are skipped, not retried: the next
// periodic load signal recomputes from scratch and converges.
func (c *Coordinator) RecomputePositions(ctx context.Context) ([]PositionUpdate, error) {
	queued, err := c.entries.ListQueued(ctx)
	if err != nil {
		return nil, newCoordinatorError("recompute_positions", "failed to list queued entries", err)
	}

	var updates []PositionUpdate
	for i, entry := range queued {
		rank := i + 1
		if entry.Position == rank {
			continue
		}

		if _, err := c.entries.ConditionalUpdate(ctx, entry.ID, entry.Version, store.EntryPatch{
			Position: &rank,
		}); err != nil {
			if errors.Is(err, store.ErrVersionConflict) || errors.Is(err, store.ErrEntryNotFound) {
				// The entry raced a concurrent transition; it either left
				// the queued set or will be re-ranked on the next pass.
				c.logger.Debug("skipping position update for contended entry",
					"queue_id", entry.ID,
					"rank", rank)
				continue
			}
			return updates, newCoordinatorError("recompute_positions", "failed to update position", err)
		}

		updates = append(updates, PositionUpdate{
			EntryID:       entry.ID,
			Position:      rank,
			EstimatedWait: c.EstimateWait(rank),
		})
	}

	if len(updates) > 0 {
		c.logger.Debug("recomputed queue positions",
			"queued_count", len(queued),
			"changed", len(updates))
	}

	return updates, nil
}

// Transition applies a guarded lifecycle change using optimistic
// concurrency. A version conflict is retried once against the re-read
// entry; a second collision surfaces ErrTransientConflict. Returns
// ErrEntryNotFound for unknown IDs and ErrInvalidTransition when the target
// is not reachable from the entry's current status.
func (c *Coordinator) Transition(
	ctx context.Context,
	queueID uuid.UUID,
	target domain.EntryStatus,
	fields TransitionFields,
) (*domain.QueueEntry, error) {
	entry, err := c.entries.GetByID(ctx, queueID)
	if err != nil {
		return nil, newCoordinatorError("transition", "failed to retrieve entry", err)
	}

	updated, err := c.applyTransition(ctx, entry, target, fields)
	if err == nil {
		return updated, nil
	}
	if !errors.Is(err, store.ErrVersionConflict) {
		return nil, err
	}

	// One retry against the fresh version; a start event and a stale queue
	// event racing on the same entry resolve here.
	entry, err = c.entries.GetByID(ctx, queueID)
	if err != nil {
		return nil, newCoordinatorError("transition", "failed to re-read entry after conflict", err)
	}

	updated, err = c.applyTransition(ctx, entry, target, fields)
	if err == nil {
		return updated, nil
	}
	if errors.Is(err, store.ErrVersionConflict) {
		c.logger.Warn("transition retry collided",
			"queue_id", queueID,
			"target_status", target)
		return nil, ErrTransientConflict
	}
	return nil, err
}

// applyTransition validates the state machine against the observed entry
// and writes the change conditioned on its version.
func (c *Coordinator) applyTransition(
	ctx context.Context,
	entry *domain.QueueEntry,
	target domain.EntryStatus,
	fields TransitionFields,
) (*domain.QueueEntry, error) {
	staged := *entry
	if err := staged.ApplyTransition(target); err != nil {
		return nil, newCoordinatorError("transition", "illegal state change", err)
	}

	patch := store.EntryPatch{
		Status:      &staged.Status,
		StartedAt:   staged.StartedAt,
		CompletedAt: staged.CompletedAt,
	}
	if fields.Result != nil {
		patch.Result = fields.Result
	}
	if fields.FailureReason != "" {
		patch.FailureReason = &fields.FailureReason
	}
	if fields.DetachExternalJob {
		empty := ""
		patch.ExternalJobID = &empty
	}

	updated, err := c.entries.ConditionalUpdate(ctx, entry.ID, entry.Version, patch)
	if err != nil {
		if errors.Is(err, store.ErrVersionConflict) {
			return nil, err
		}
		return nil, newCoordinatorError("transition", "failed to persist transition", err)
	}

	c.logger.Info("entry transitioned",
		"queue_id", entry.ID,
		"from_status", entry.Status,
		"to_status", target)

	return updated, nil
}

// BindExternalJob records the worker-assigned job ID on the entry. Binding
// the same ID to the same entry again is an idempotent no-op. Fails with
// ErrAlreadyBound if the entry holds a different ID and ErrExternalJobTaken
// if the ID is held by a different entry.
func (c *Coordinator) BindExternalJob(ctx context.Context, queueID uuid.UUID, externalJobID string) (*domain.QueueEntry, error) {
	if externalJobID == "" {
		return nil, &CoordinatorError{
			Operation: "bind_external_job",
			Message:   "external job ID cannot be empty",
		}
	}

	entry, err := c.entries.GetByID(ctx, queueID)
	if err != nil {
		return nil, newCoordinatorError("bind_external_job", "failed to retrieve entry", err)
	}

	if entry.ExternalJobID == externalJobID {
		return entry, nil
	}
	if entry.ExternalJobID != "" {
		return nil, ErrAlreadyBound
	}

	updated, err := c.entries.ConditionalUpdate(ctx, queueID, entry.Version, store.EntryPatch{
		ExternalJobID: &externalJobID,
	})
	if err != nil {
		if errors.Is(err, store.ErrVersionConflict) {
			// Re-read once: the race was most likely a replayed start event
			// that already performed the same binding.
			entry, readErr := c.entries.GetByID(ctx, queueID)
			if readErr == nil && entry.ExternalJobID == externalJobID {
				return entry, nil
			}
			return nil, ErrTransientConflict
		}
		return nil, newCoordinatorError("bind_external_job", "failed to record binding", err)
	}

	c.logger.Info("external job bound",
		"queue_id", queueID,
		"external_job_id", externalJobID)

	return updated, nil
}

// IncrementRetryCount bumps the entry's ingestion retry counter. Used for
// diagnostics only; failures are logged and swallowed because the counter
// never affects ordering or lifecycle.
func (c *Coordinator) IncrementRetryCount(ctx context.Context, queueID uuid.UUID) {
	entry, err := c.entries.GetByID(ctx, queueID)
	if err != nil {
		return
	}

	next := entry.RetryCount + 1
	if _, err := c.entries.ConditionalUpdate(ctx, queueID, entry.Version, store.EntryPatch{
		RetryCount: &next,
	}); err != nil {
		c.logger.Debug("failed to bump retry count",
			"queue_id", queueID,
			"error", err)
	}
}

// AttachChannel associates a live push channel with the entry, replacing
// any previous channel for that entry.
func (c *Coordinator) AttachChannel(queueID uuid.UUID, ch Channel) {
	c.registry.attach(queueID, ch)
	c.logger.Debug("channel attached", "queue_id", queueID)
}

// DetachChannel clears the entry's channel reference if it still refers to
// ch. Called by the transport on disconnect and by the broadcaster when a
// push proves the reference stale.
func (c *Coordinator) DetachChannel(queueID uuid.UUID, ch Channel) {
	if c.registry.detach(queueID, ch) {
		c.logger.Debug("channel detached", "queue_id", queueID)
	}
}

// ChannelFor returns the entry's current push channel, if any. Absence is a
// normal state: the client is simply not connected.
func (c *Coordinator) ChannelFor(queueID uuid.UUID) (Channel, bool) {
	return c.registry.get(queueID)
}

package ingest

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/pixelvault/pixelvault-api/internal/domain"
	"github.com/pixelvault/pixelvault-api/internal/metrics"
	"github.com/pixelvault/pixelvault-api/internal/notify"
	"github.com/pixelvault/pixelvault-api/internal/queue"
)

// Ingestion outcomes recorded per event.
const (
	outcomeApplied   = "applied"
	outcomeDuplicate = "duplicate"
	outcomeDropped   = "dropped"
	outcomeError     = "error"
)

// Ingestor normalizes inbound worker events into coordinator transitions
// and broadcaster pushes.
type Ingestor struct {
	coordinator *queue.Coordinator
	broadcaster *notify.Broadcaster
	metrics     metrics.Recorder
	logger      *slog.Logger
}

// NewIngestor creates a new Ingestor.
// It returns an error if any of the required dependencies are nil.
func NewIngestor(
	coordinator *queue.Coordinator,
	broadcaster *notify.Broadcaster,
	rec metrics.Recorder,
	logger *slog.Logger,
) (*Ingestor, error) {
	if coordinator == nil {
		return nil, errors.New("coordinator cannot be nil")
	}
	if broadcaster == nil {
		return nil, errors.New("broadcaster cannot be nil")
	}
	if rec == nil {
		rec = metrics.Noop()
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Ingestor{
		coordinator: coordinator,
		broadcaster: broadcaster,
		metrics:     rec,
		logger:      logger.With("component", "event_ingestor"),
	}, nil
}

// HandleEvent routes a normalized event to its handler. Re-delivery of the
// same underlying event is harmless: duplicates resolve to no-ops. The
// returned error is for logging and tests; the worker entry point never
// surfaces it synchronously.
func (in *Ingestor) HandleEvent(ctx context.Context, event Event) error {
	switch event.Kind {
	case KindQueueStatus:
		return in.handleQueueStatus(ctx, event)
	case KindJobStarted:
		return in.handleJobStarted(ctx, event)
	case KindJobProgress:
		return in.handleJobProgress(ctx, event)
	case KindJobCompleted:
		return in.handleTerminal(ctx, event, domain.EntryStatusCompleted)
	case KindJobFailed:
		return in.handleTerminal(ctx, event, domain.EntryStatusFailed)
	case KindJobTimedOut:
		return in.handleTimeout(ctx, event)
	default:
		in.logger.Debug("ignoring unknown event kind", "kind", event.Kind)
		in.metrics.RecordWorkerEvent(event.Kind, outcomeDropped)
		return ErrUnknownKind
	}
}

// handleQueueStatus processes the periodic global load signal: recompute
// all queued positions, then push the freshest position and estimate plus
// the aggregate backlog to every live-connected queued entry. Re-delivery
// is harmless because the recompute is deterministic.
func (in *Ingestor) handleQueueStatus(ctx context.Context, event Event) error {
	if _, err := in.coordinator.RecomputePositions(ctx); err != nil {
		in.metrics.RecordWorkerEvent(event.Kind, outcomeError)
		return err
	}

	queued, err := in.coordinator.QueuedEntries(ctx)
	if err != nil {
		in.metrics.RecordWorkerEvent(event.Kind, outcomeError)
		return err
	}
	in.metrics.SetQueueDepth(len(queued))

	notifications := make([]notify.Notification, 0, len(queued))
	for _, entry := range queued {
		notifications = append(notifications, notify.Notification{
			QueueID:              entry.ID,
			Kind:                 notify.KindPositionUpdate,
			Status:               entry.Status,
			Position:             entry.Position,
			EstimatedWaitSeconds: int(in.coordinator.EstimateWait(entry.Position).Seconds()),
			QueueBacklog:         event.QueueRemaining,
			Timestamp:            time.Now().UTC(),
		})
	}
	in.broadcaster.NotifyMany(ctx, notifications)

	in.metrics.RecordWorkerEvent(event.Kind, outcomeApplied)
	return nil
}

// handleJobStarted resolves the entry through the submission-time
// correlation token (the external job ID is not bound yet), records the
// binding and moves the entry into processing. A replayed start event
// resolves to a no-op.
func (in *Ingestor) handleJobStarted(ctx context.Context, event Event) error {
	if event.ExternalJobID == "" || event.CorrelationToken == "" {
		in.logger.Warn("job-start event missing identifiers, dropping",
			"external_job_id", event.ExternalJobID)
		in.metrics.RecordWorkerEvent(event.Kind, outcomeDropped)
		return nil
	}

	entry, err := in.coordinator.FindByCorrelationToken(ctx, event.CorrelationToken)
	if err != nil {
		if errors.Is(err, queue.ErrEntryNotFound) {
			// Late or duplicate event after the entry terminated or was
			// cleaned up. Log and drop.
			in.logger.Info("job-start event for unknown correlation token, dropping",
				"correlation_token", event.CorrelationToken,
				"external_job_id", event.ExternalJobID)
			in.metrics.RecordWorkerEvent(event.Kind, outcomeDropped)
			return nil
		}
		in.metrics.RecordWorkerEvent(event.Kind, outcomeError)
		return err
	}

	if _, err := in.coordinator.BindExternalJob(ctx, entry.ID, event.ExternalJobID); err != nil {
		if errors.Is(err, queue.ErrExternalJobTaken) || errors.Is(err, queue.ErrAlreadyBound) {
			// Duplicate or replayed start event: the binding already exists.
			// Not an error to the caller.
			in.logger.Info("duplicate external job binding, treating as no-op",
				"queue_id", entry.ID,
				"external_job_id", event.ExternalJobID)
			in.coordinator.IncrementRetryCount(ctx, entry.ID)
			in.metrics.RecordWorkerEvent(event.Kind, outcomeDuplicate)
			return nil
		}
		in.metrics.RecordWorkerEvent(event.Kind, outcomeError)
		return err
	}

	updated, err := in.coordinator.Transition(ctx, entry.ID, domain.EntryStatusProcessing, queue.TransitionFields{})
	if err != nil {
		if errors.Is(err, queue.ErrInvalidTransition) {
			// The entry already left the queued state: a replayed start
			// event, or a terminal event overtook this one. Already applied.
			in.logger.Info("start transition already applied, treating as no-op",
				"queue_id", entry.ID)
			in.coordinator.IncrementRetryCount(ctx, entry.ID)
			in.metrics.RecordWorkerEvent(event.Kind, outcomeDuplicate)
			return nil
		}
		in.metrics.RecordWorkerEvent(event.Kind, outcomeError)
		return err
	}

	// Tell this entry's client the job started, then refresh positions for
	// everyone still waiting behind it.
	in.broadcaster.Notify(ctx, notify.Notification{
		QueueID:   updated.ID,
		Kind:      notify.KindJobStarted,
		Status:    updated.Status,
		Timestamp: time.Now().UTC(),
	})
	in.broadcastPositionDeltas(ctx)

	in.metrics.RecordWorkerEvent(event.Kind, outcomeApplied)
	return nil
}

// handleJobProgress pushes a progress percentage through to the entry's
// channel. No state transition: progress is display state, not lifecycle.
func (in *Ingestor) handleJobProgress(ctx context.Context, event Event) error {
	if event.ExternalJobID == "" {
		in.metrics.RecordWorkerEvent(event.Kind, outcomeDropped)
		return nil
	}

	entry, err := in.coordinator.FindByExternalJobID(ctx, event.ExternalJobID)
	if err != nil {
		if errors.Is(err, queue.ErrEntryNotFound) {
			in.logger.Debug("progress event for unknown external job, dropping",
				"external_job_id", event.ExternalJobID)
			in.metrics.RecordWorkerEvent(event.Kind, outcomeDropped)
			return nil
		}
		in.metrics.RecordWorkerEvent(event.Kind, outcomeError)
		return err
	}

	in.broadcaster.Notify(ctx, notify.Notification{
		QueueID:         entry.ID,
		Kind:            notify.KindJobProgress,
		Status:          entry.Status,
		ProgressPercent: event.ProgressPercent,
		Timestamp:       time.Now().UTC(),
	})

	in.metrics.RecordWorkerEvent(event.Kind, outcomeApplied)
	return nil
}

// handleTerminal resolves the entry through the external job ID, applies
// the terminal transition and detaches the binding. A terminal event
// arriving before any start event still drives the entry to its terminal
// state directly from queued, so entries never get stuck waiting for a start
// that was lost.
func (in *Ingestor) handleTerminal(ctx context.Context, event Event, target domain.EntryStatus) error {
	if event.ExternalJobID == "" {
		in.metrics.RecordWorkerEvent(event.Kind, outcomeDropped)
		return nil
	}

	entry, err := in.resolveTerminal(ctx, event)
	if err != nil {
		in.metrics.RecordWorkerEvent(event.Kind, outcomeError)
		return err
	}
	if entry == nil {
		// Duplicate terminal event (the binding is detached on the first
		// application) or the entry was already cleaned up.
		in.logger.Warn("terminal event for unknown external job, dropping",
			"external_job_id", event.ExternalJobID,
			"kind", event.Kind)
		in.metrics.RecordWorkerEvent(event.Kind, outcomeDropped)
		return nil
	}

	wasQueued := entry.Status == domain.EntryStatusQueued

	fields := queue.TransitionFields{DetachExternalJob: true}
	if target == domain.EntryStatusCompleted {
		fields.Result = event.Payload
	} else {
		reason := event.Reason
		if reason == "" {
			reason = "generation failed"
		}
		fields.FailureReason = reason
	}

	updated, err := in.coordinator.Transition(ctx, entry.ID, target, fields)
	if err != nil {
		if errors.Is(err, queue.ErrInvalidTransition) && entry.IsTerminal() {
			// Idempotence law: replaying a terminal event after the entry
			// is already terminal is a no-op.
			in.coordinator.IncrementRetryCount(ctx, entry.ID)
			in.metrics.RecordWorkerEvent(event.Kind, outcomeDuplicate)
			return nil
		}
		in.metrics.RecordWorkerEvent(event.Kind, outcomeError)
		return err
	}

	notification := notify.Notification{
		QueueID:   updated.ID,
		Kind:      notify.KindJobCompleted,
		Status:    updated.Status,
		Result:    updated.Result,
		Timestamp: time.Now().UTC(),
	}
	if target == domain.EntryStatusFailed {
		notification.Kind = notify.KindJobFailed
		notification.FailureReason = updated.FailureReason
	}
	in.broadcaster.Notify(ctx, notification)

	if wasQueued {
		// The entry left the queued set without ever starting, so everyone
		// behind it moves up.
		in.broadcastPositionDeltas(ctx)
	}

	in.metrics.RecordWorkerEvent(event.Kind, outcomeApplied)
	return nil
}

// resolveTerminal finds the entry a terminal event refers to. The primary
// path is the external job binding; when the terminal event overtook the
// start event (network retries reorder freely) no binding exists yet, so
// resolution falls back to the correlation token the worker echoes on every
// event. Returns (nil, nil) when neither path matches.
func (in *Ingestor) resolveTerminal(ctx context.Context, event Event) (*domain.QueueEntry, error) {
	entry, err := in.coordinator.FindByExternalJobID(ctx, event.ExternalJobID)
	if err == nil {
		return entry, nil
	}
	if !errors.Is(err, queue.ErrEntryNotFound) {
		return nil, err
	}

	if event.CorrelationToken == "" {
		return nil, nil
	}

	entry, err = in.coordinator.FindByCorrelationToken(ctx, event.CorrelationToken)
	if err != nil {
		if errors.Is(err, queue.ErrEntryNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return entry, nil
}

// handleTimeout processes the sweeper's synthetic timeout event, failing
// entries that never received a start signal.
func (in *Ingestor) handleTimeout(ctx context.Context, event Event) error {
	entry, err := in.coordinator.Get(ctx, event.QueueID)
	if err != nil {
		if errors.Is(err, queue.ErrEntryNotFound) {
			in.metrics.RecordWorkerEvent(event.Kind, outcomeDropped)
			return nil
		}
		in.metrics.RecordWorkerEvent(event.Kind, outcomeError)
		return err
	}

	if entry.Status != domain.EntryStatusQueued {
		// The start event won the race with the sweeper. Nothing to do.
		in.metrics.RecordWorkerEvent(event.Kind, outcomeDropped)
		return nil
	}

	reason := event.Reason
	if reason == "" {
		reason = "timed out waiting for worker"
	}

	updated, err := in.coordinator.Transition(ctx, entry.ID, domain.EntryStatusFailed, queue.TransitionFields{
		FailureReason:     reason,
		DetachExternalJob: true,
	})
	if err != nil {
		if errors.Is(err, queue.ErrInvalidTransition) {
			in.metrics.RecordWorkerEvent(event.Kind, outcomeDuplicate)
			return nil
		}
		in.metrics.RecordWorkerEvent(event.Kind, outcomeError)
		return err
	}

	in.broadcaster.Notify(ctx, notify.Notification{
		QueueID:       updated.ID,
		Kind:          notify.KindJobFailed,
		Status:        updated.Status,
		FailureReason: updated.FailureReason,
		Timestamp:     time.Now().UTC(),
	})
	in.broadcastPositionDeltas(ctx)

	in.metrics.RecordWorkerEvent(event.Kind, outcomeApplied)
	return nil
}

// broadcastPositionDeltas recomputes the queued ranking and pushes the
// changed positions. Best effort: a recompute failure here is logged and
// left for the next periodic load signal to self-heal.
func (in *Ingestor) broadcastPositionDeltas(ctx context.Context) {
	updates, err := in.coordinator.RecomputePositions(ctx)
	if err != nil {
		in.logger.Warn("position recompute failed, deferring to next load signal",
			"error", err)
		return
	}

	notifications := make([]notify.Notification, 0, len(updates))
	for _, update := range updates {
		notifications = append(notifications, notify.Notification{
			QueueID:              update.EntryID,
			Kind:                 notify.KindPositionUpdate,
			Status:               domain.EntryStatusQueued,
			Position:             update.Position,
			EstimatedWaitSeconds: int(update.EstimatedWait.Seconds()),
			Timestamp:            time.Now().UTC(),
		})
	}
	in.broadcaster.NotifyMany(ctx, notifications)
}

package queue_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pixelvault/pixelvault-api/internal/domain"
	"github.com/pixelvault/pixelvault-api/internal/queue"
	"github.com/pixelvault/pixelvault-api/internal/store"
	"github.com/pixelvault/pixelvault-api/internal/store/memstore"
)

func newTestCoordinator(t *testing.T, cfg queue.Config) (*queue.Coordinator, *memstore.EntryStore) {
	t.Helper()

	entries := memstore.New()
	coordinator, err := queue.NewCoordinator(entries, cfg, nil)
	require.NoError(t, err)
	return coordinator, entries
}

// conflictingStore wraps the in-memory store and reports a version conflict
// for the first N conditional updates, then delegates.
type conflictingStore struct {
	store.EntryStore
	conflicts int
}

func (s *conflictingStore) ConditionalUpdate(
	ctx context.Context,
	id uuid.UUID,
	expectedVersion int64,
	patch store.EntryPatch,
) (*domain.QueueEntry, error) {
	if s.conflicts > 0 {
		s.conflicts--
		return nil, store.ErrVersionConflict
	}
	return s.EntryStore.ConditionalUpdate(ctx, id, expectedVersion, patch)
}

func TestNewCoordinator_NilStore(t *testing.T) {
	_, err := queue.NewCoordinator(nil, queue.DefaultConfig(), nil)
	assert.Error(t, err)
}

func TestSubmit_AssignsSequentialPositions(t *testing.T) {
	coordinator, _ := newTestCoordinator(t, queue.DefaultConfig())
	ctx := context.Background()

	first, err := coordinator.Submit(ctx, uuid.New(), "")
	require.NoError(t, err)
	second, err := coordinator.Submit(ctx, uuid.New(), "")
	require.NoError(t, err)
	third, err := coordinator.Submit(ctx, uuid.New(), "")
	require.NoError(t, err)

	assert.Equal(t, 1, first.Position)
	assert.Equal(t, 2, second.Position)
	assert.Equal(t, 3, third.Position)
	assert.Equal(t, domain.EntryStatusQueued, first.Status)
}

func TestSubmit_GeneratesCorrelationToken(t *testing.T) {
	coordinator, _ := newTestCoordinator(t, queue.DefaultConfig())

	entry, err := coordinator.Submit(context.Background(), uuid.New(), "")
	require.NoError(t, err)
	assert.NotEmpty(t, entry.CorrelationToken)

	withToken, err := coordinator.Submit(context.Background(), uuid.New(), "client-chosen-token")
	require.NoError(t, err)
	assert.Equal(t, "client-chosen-token", withToken.CorrelationToken)
}

func TestSubmit_CapacityExceeded(t *testing.T) {
	coordinator, _ := newTestCoordinator(t, queue.Config{MaxQueuedPerUser: 2})
	ctx := context.Background()
	userID := uuid.New()

	_, err := coordinator.Submit(ctx, userID, "")
	require.NoError(t, err)
	_, err = coordinator.Submit(ctx, userID, "")
	require.NoError(t, err)

	_, err = coordinator.Submit(ctx, userID, "")
	assert.ErrorIs(t, err, queue.ErrCapacityExceeded)

	// A different user is unaffected by the cap.
	_, err = coordinator.Submit(ctx, uuid.New(), "")
	assert.NoError(t, err)
}

func TestSubmit_CapacityFreedByTerminal(t *testing.T) {
	coordinator, _ := newTestCoordinator(t, queue.Config{MaxQueuedPerUser: 1})
	ctx := context.Background()
	userID := uuid.New()

	entry, err := coordinator.Submit(ctx, userID, "")
	require.NoError(t, err)

	_, err = coordinator.Submit(ctx, userID, "")
	require.ErrorIs(t, err, queue.ErrCapacityExceeded)

	_, err = coordinator.Transition(ctx, entry.ID, domain.EntryStatusFailed, queue.TransitionFields{
		FailureReason: "canceled",
	})
	require.NoError(t, err)

	_, err = coordinator.Submit(ctx, userID, "")
	assert.NoError(t, err)
}

func TestGet_NotFound(t *testing.T) {
	coordinator, _ := newTestCoordinator(t, queue.DefaultConfig())

	_, err := coordinator.Get(context.Background(), uuid.New())
	assert.ErrorIs(t, err, queue.ErrEntryNotFound)
}

func TestEstimateWait(t *testing.T) {
	coordinator, _ := newTestCoordinator(t, queue.Config{MeanJobDuration: 30 * time.Second})

	assert.Equal(t, time.Duration(0), coordinator.EstimateWait(0))
	assert.Equal(t, 30*time.Second, coordinator.EstimateWait(1))
	assert.Equal(t, 150*time.Second, coordinator.EstimateWait(5))
	assert.Equal(t, time.Duration(0), coordinator.EstimateWait(-3))
}

func TestRecomputePositions_ContiguousAfterDeparture(t *testing.T) {
	coordinator, _ := newTestCoordinator(t, queue.DefaultConfig())
	ctx := context.Background()

	first, err := coordinator.Submit(ctx, uuid.New(), "")
	require.NoError(t, err)
	second, err := coordinator.Submit(ctx, uuid.New(), "")
	require.NoError(t, err)
	third, err := coordinator.Submit(ctx, uuid.New(), "")
	require.NoError(t, err)

	// The middle entry leaves the queued set.
	_, err = coordinator.Transition(ctx, second.ID, domain.EntryStatusFailed, queue.TransitionFields{
		FailureReason: "canceled",
	})
	require.NoError(t, err)

	updates, err := coordinator.RecomputePositions(ctx)
	require.NoError(t, err)

	// Only the third entry moved.
	require.Len(t, updates, 1)
	assert.Equal(t, third.ID, updates[0].EntryID)
	assert.Equal(t, 2, updates[0].Position)

	queued, err := coordinator.QueuedEntries(ctx)
	require.NoError(t, err)
	require.Len(t, queued, 2)
	assert.Equal(t, first.ID, queued[0].ID)
	assert.Equal(t, 1, queued[0].Position)
	assert.Equal(t, third.ID, queued[1].ID)
	assert.Equal(t, 2, queued[1].Position)
}

func TestRecomputePositions_Idempotent(t *testing.T) {
	coordinator, _ := newTestCoordinator(t, queue.DefaultConfig())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := coordinator.Submit(ctx, uuid.New(), "")
		require.NoError(t, err)
	}

	updates, err := coordinator.RecomputePositions(ctx)
	require.NoError(t, err)
	assert.Empty(t, updates)

	updates, err = coordinator.RecomputePositions(ctx)
	require.NoError(t, err)
	assert.Empty(t, updates)
}

func TestTransition_FullLifecycle(t *testing.T) {
	coordinator, _ := newTestCoordinator(t, queue.DefaultConfig())
	ctx := context.Background()

	entry, err := coordinator.Submit(ctx, uuid.New(), "")
	require.NoError(t, err)

	processing, err := coordinator.Transition(ctx, entry.ID, domain.EntryStatusProcessing, queue.TransitionFields{})
	require.NoError(t, err)
	assert.Equal(t, domain.EntryStatusProcessing, processing.Status)
	require.NotNil(t, processing.StartedAt)
	assert.Nil(t, processing.CompletedAt)

	result := []byte(`{"images":["https://cdn.example/a.png"]}`)
	completed, err := coordinator.Transition(ctx, entry.ID, domain.EntryStatusCompleted, queue.TransitionFields{
		Result: result,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.EntryStatusCompleted, completed.Status)
	assert.JSONEq(t, string(result), string(completed.Result))
	require.NotNil(t, completed.CompletedAt)
}

func TestTransition_DirectQueuedToFailed(t *testing.T) {
	coordinator, _ := newTestCoordinator(t, queue.DefaultConfig())
	ctx := context.Background()

	entry, err := coordinator.Submit(ctx, uuid.New(), "")
	require.NoError(t, err)

	failed, err := coordinator.Transition(ctx, entry.ID, domain.EntryStatusFailed, queue.TransitionFields{
		FailureReason: "worker rejected job",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.EntryStatusFailed, failed.Status)
	assert.Equal(t, "worker rejected job", failed.FailureReason)
	assert.Nil(t, failed.StartedAt)
	require.NotNil(t, failed.CompletedAt)
}

func TestTransition_InvalidFromTerminal(t *testing.T) {
	coordinator, _ := newTestCoordinator(t, queue.DefaultConfig())
	ctx := context.Background()

	entry, err := coordinator.Submit(ctx, uuid.New(), "")
	require.NoError(t, err)

	_, err = coordinator.Transition(ctx, entry.ID, domain.EntryStatusCompleted, queue.TransitionFields{})
	require.NoError(t, err)

	_, err = coordinator.Transition(ctx, entry.ID, domain.EntryStatusProcessing, queue.TransitionFields{})
	assert.ErrorIs(t, err, queue.ErrInvalidTransition)
}

func TestTransition_NotFound(t *testing.T) {
	coordinator, _ := newTestCoordinator(t, queue.DefaultConfig())

	_, err := coordinator.Transition(context.Background(), uuid.New(), domain.EntryStatusProcessing, queue.TransitionFields{})
	assert.ErrorIs(t, err, queue.ErrEntryNotFound)
}

func TestTransition_RetriesOnceOnVersionConflict(t *testing.T) {
	entries := &conflictingStore{EntryStore: memstore.New(), conflicts: 1}
	coordinator, err := queue.NewCoordinator(entries, queue.DefaultConfig(), nil)
	require.NoError(t, err)
	ctx := context.Background()

	entry, err := coordinator.Submit(ctx, uuid.New(), "")
	require.NoError(t, err)

	updated, err := coordinator.Transition(ctx, entry.ID, domain.EntryStatusProcessing, queue.TransitionFields{})
	require.NoError(t, err)
	assert.Equal(t, domain.EntryStatusProcessing, updated.Status)
}

func TestTransition_TransientConflictAfterRetry(t *testing.T) {
	entries := &conflictingStore{EntryStore: memstore.New(), conflicts: 2}
	coordinator, err := queue.NewCoordinator(entries, queue.DefaultConfig(), nil)
	require.NoError(t, err)
	ctx := context.Background()

	entry, err := coordinator.Submit(ctx, uuid.New(), "")
	require.NoError(t, err)

	_, err = coordinator.Transition(ctx, entry.ID, domain.EntryStatusProcessing, queue.TransitionFields{})
	assert.ErrorIs(t, err, queue.ErrTransientConflict)

	// The entry is untouched and a later attempt succeeds.
	current, err := coordinator.Get(ctx, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.EntryStatusQueued, current.Status)

	_, err = coordinator.Transition(ctx, entry.ID, domain.EntryStatusProcessing, queue.TransitionFields{})
	assert.NoError(t, err)
}

func TestTransition_DetachExternalJob(t *testing.T) {
	coordinator, _ := newTestCoordinator(t, queue.DefaultConfig())
	ctx := context.Background()

	entry, err := coordinator.Submit(ctx, uuid.New(), "")
	require.NoError(t, err)

	_, err = coordinator.BindExternalJob(ctx, entry.ID, "prompt-77")
	require.NoError(t, err)

	completed, err := coordinator.Transition(ctx, entry.ID, domain.EntryStatusCompleted, queue.TransitionFields{
		DetachExternalJob: true,
	})
	require.NoError(t, err)
	assert.Empty(t, completed.ExternalJobID)

	// The binding is released: lookups by the job ID now miss.
	_, err = coordinator.FindByExternalJobID(ctx, "prompt-77")
	assert.ErrorIs(t, err, queue.ErrEntryNotFound)
}

func TestBindExternalJob(t *testing.T) {
	coordinator, _ := newTestCoordinator(t, queue.DefaultConfig())
	ctx := context.Background()

	entry, err := coordinator.Submit(ctx, uuid.New(), "")
	require.NoError(t, err)

	bound, err := coordinator.BindExternalJob(ctx, entry.ID, "prompt-1")
	require.NoError(t, err)
	assert.Equal(t, "prompt-1", bound.ExternalJobID)

	// Same binding again is an idempotent no-op.
	again, err := coordinator.BindExternalJob(ctx, entry.ID, "prompt-1")
	require.NoError(t, err)
	assert.Equal(t, bound.Version, again.Version)

	// A different job ID on an already-bound entry is rejected.
	_, err = coordinator.BindExternalJob(ctx, entry.ID, "prompt-2")
	assert.ErrorIs(t, err, queue.ErrAlreadyBound)
}

func TestBindExternalJob_TakenByOtherEntry(t *testing.T) {
	coordinator, _ := newTestCoordinator(t, queue.DefaultConfig())
	ctx := context.Background()

	first, err := coordinator.Submit(ctx, uuid.New(), "")
	require.NoError(t, err)
	second, err := coordinator.Submit(ctx, uuid.New(), "")
	require.NoError(t, err)

	_, err = coordinator.BindExternalJob(ctx, first.ID, "prompt-1")
	require.NoError(t, err)

	_, err = coordinator.BindExternalJob(ctx, second.ID, "prompt-1")
	assert.ErrorIs(t, err, queue.ErrExternalJobTaken)
}

func TestBindExternalJob_EmptyID(t *testing.T) {
	coordinator, _ := newTestCoordinator(t, queue.DefaultConfig())

	_, err := coordinator.BindExternalJob(context.Background(), uuid.New(), "")
	assert.Error(t, err)
	assert.False(t, errors.Is(err, queue.ErrEntryNotFound))
}

func TestFindByCorrelationToken(t *testing.T) {
	coordinator, _ := newTestCoordinator(t, queue.DefaultConfig())
	ctx := context.Background()

	entry, err := coordinator.Submit(ctx, uuid.New(), "monitor-client-42")
	require.NoError(t, err)

	found, err := coordinator.FindByCorrelationToken(ctx, "monitor-client-42")
	require.NoError(t, err)
	assert.Equal(t, entry.ID, found.ID)

	// Terminal entries no longer resolve through the token.
	_, err = coordinator.Transition(ctx, entry.ID, domain.EntryStatusFailed, queue.TransitionFields{})
	require.NoError(t, err)

	_, err = coordinator.FindByCorrelationToken(ctx, "monitor-client-42")
	assert.ErrorIs(t, err, queue.ErrEntryNotFound)
}

type recordingChannel struct {
	sent []any
}

func (c *recordingChannel) Send(ctx context.Context, payload any) error {
	c.sent = append(c.sent, payload)
	return nil
}

func TestChannelRegistry_AttachDetach(t *testing.T) {
	coordinator, _ := newTestCoordinator(t, queue.DefaultConfig())
	queueID := uuid.New()

	_, ok := coordinator.ChannelFor(queueID)
	assert.False(t, ok)

	first := &recordingChannel{}
	coordinator.AttachChannel(queueID, first)

	got, ok := coordinator.ChannelFor(queueID)
	require.True(t, ok)
	assert.Same(t, first, got.(*recordingChannel))

	// A reconnect replaces the channel.
	second := &recordingChannel{}
	coordinator.AttachChannel(queueID, second)

	// Detaching the stale reference must not clobber the new connection.
	coordinator.DetachChannel(queueID, first)
	got, ok = coordinator.ChannelFor(queueID)
	require.True(t, ok)
	assert.Same(t, second, got.(*recordingChannel))

	coordinator.DetachChannel(queueID, second)
	_, ok = coordinator.ChannelFor(queueID)
	assert.False(t, ok)
}

func TestIncrementRetryCount(t *testing.T) {
	coordinator, _ := newTestCoordinator(t, queue.DefaultConfig())
	ctx := context.Background()

	entry, err := coordinator.Submit(ctx, uuid.New(), "")
	require.NoError(t, err)

	coordinator.IncrementRetryCount(ctx, entry.ID)
	coordinator.IncrementRetryCount(ctx, entry.ID)

	current, err := coordinator.Get(ctx, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, current.RetryCount)

	// Unknown IDs are swallowed.
	coordinator.IncrementRetryCount(ctx, uuid.New())
}

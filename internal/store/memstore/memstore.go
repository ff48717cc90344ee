// Package memstore provides an in-memory EntryStore implementation with the
// same conditional-update semantics as the PostgreSQL store. It backs unit
// tests and local development runs where no database is available.
package memstore

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/pixelvault/pixelvault-api/internal/domain"
	"github.com/pixelvault/pixelvault-api/internal/store"
)

// EntryStore is a mutex-guarded in-memory implementation of store.EntryStore.
// The mutex only protects the maps; optimistic concurrency is still enforced
// through the version check so callers exercise the same code paths as they
// would against PostgreSQL.
type EntryStore struct {
	mu         sync.RWMutex
	entries    map[uuid.UUID]*domain.QueueEntry
	byExternal map[string]uuid.UUID
}

// New creates an empty in-memory EntryStore.
func New() *EntryStore {
	return &EntryStore{
		entries:    make(map[uuid.UUID]*domain.QueueEntry),
		byExternal: make(map[string]uuid.UUID),
	}
}

// Ensure EntryStore implements store.EntryStore.
var _ store.EntryStore = (*EntryStore)(nil)

// Create saves a new queue entry.
func (s *EntryStore) Create(ctx context.Context, entry *domain.QueueEntry) error {
	if err := entry.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[entry.ID]; ok {
		return store.ErrDuplicate
	}

	s.entries[entry.ID] = cloneEntry(entry)
	return nil
}

// GetByID retrieves an entry by its unique ID.
func (s *EntryStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.QueueEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.entries[id]
	if !ok {
		return nil, store.ErrEntryNotFound
	}
	return cloneEntry(entry), nil
}

// GetByExternalJobID retrieves the entry currently bound to the given
// worker-assigned job ID.
func (s *EntryStore) GetByExternalJobID(ctx context.Context, externalJobID string) (*domain.QueueEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byExternal[externalJobID]
	if !ok {
		return nil, store.ErrEntryNotFound
	}
	return cloneEntry(s.entries[id]), nil
}

// GetByCorrelationToken retrieves the most recently submitted non-terminal
// entry carrying the given correlation token.
func (s *EntryStore) GetByCorrelationToken(ctx context.Context, token string) (*domain.QueueEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var match *domain.QueueEntry
	for _, entry := range s.entries {
		if entry.CorrelationToken != token || entry.IsTerminal() {
			continue
		}
		if match == nil || entry.SubmittedAt.After(match.SubmittedAt) {
			match = entry
		}
	}
	if match == nil {
		return nil, store.ErrEntryNotFound
	}
	return cloneEntry(match), nil
}

// ConditionalUpdate applies the patch if the stored version matches
// expectedVersion, incrementing the version on success.
func (s *EntryStore) ConditionalUpdate(
	ctx context.Context,
	id uuid.UUID,
	expectedVersion int64,
	patch store.EntryPatch,
) (*domain.QueueEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[id]
	if !ok {
		return nil, store.ErrEntryNotFound
	}

	if entry.Version != expectedVersion {
		return nil, store.ErrVersionConflict
	}

	if patch.ExternalJobID != nil && *patch.ExternalJobID != "" {
		if bound, taken := s.byExternal[*patch.ExternalJobID]; taken && bound != id {
			return nil, store.ErrExternalJobTaken
		}
	}

	updated := cloneEntry(entry)
	if patch.Status != nil {
		updated.Status = *patch.Status
	}
	if patch.Position != nil {
		updated.Position = *patch.Position
	}
	if patch.ExternalJobID != nil {
		if entry.ExternalJobID != "" {
			delete(s.byExternal, entry.ExternalJobID)
		}
		updated.ExternalJobID = *patch.ExternalJobID
		if updated.ExternalJobID != "" {
			s.byExternal[updated.ExternalJobID] = id
		}
	}
	if patch.Result != nil {
		updated.Result = append([]byte(nil), patch.Result...)
	}
	if patch.FailureReason != nil {
		updated.FailureReason = *patch.FailureReason
	}
	if patch.RetryCount != nil {
		updated.RetryCount = *patch.RetryCount
	}
	if patch.StartedAt != nil {
		t := *patch.StartedAt
		updated.StartedAt = &t
	}
	if patch.CompletedAt != nil {
		t := *patch.CompletedAt
		updated.CompletedAt = &t
	}
	updated.Version++

	s.entries[id] = updated
	return cloneEntry(updated), nil
}

// ListQueued returns all queued entries ordered by submission time, ties
// broken by entry ID.
func (s *EntryStore) ListQueued(ctx context.Context) ([]*domain.QueueEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var queued []*domain.QueueEntry
	for _, entry := range s.entries {
		if entry.Status == domain.EntryStatusQueued {
			queued = append(queued, cloneEntry(entry))
		}
	}

	sort.Slice(queued, func(i, j int) bool {
		if queued[i].SubmittedAt.Equal(queued[j].SubmittedAt) {
			return queued[i].ID.String() < queued[j].ID.String()
		}
		return queued[i].SubmittedAt.Before(queued[j].SubmittedAt)
	})

	return queued, nil
}

// CountQueuedByUser returns the number of queued entries the user has outstanding.
func (s *EntryStore) CountQueuedByUser(ctx context.Context, userID uuid.UUID) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, entry := range s.entries {
		if entry.UserID == userID && entry.Status == domain.EntryStatusQueued {
			count++
		}
	}
	return count, nil
}

// cloneEntry returns a deep copy so callers never share mutable state with
// the store's internal map.
func cloneEntry(entry *domain.QueueEntry) *domain.QueueEntry {
	clone := *entry
	if entry.Result != nil {
		clone.Result = append([]byte(nil), entry.Result...)
	}
	if entry.StartedAt != nil {
		t := *entry.StartedAt
		clone.StartedAt = &t
	}
	if entry.CompletedAt != nil {
		t := *entry.CompletedAt
		clone.CompletedAt = &t
	}
	return &clone
}

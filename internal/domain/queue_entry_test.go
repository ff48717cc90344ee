package domain

import (
	"errors"
	"testing"

	"github.com/google/uuid"
)

func TestNewQueueEntry(t *testing.T) {
	t.Parallel() // Enable parallel execution
	userID := uuid.New()
	token := "client-7f3a"

	entry, err := NewQueueEntry(userID, token)

	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	if entry.ID == uuid.Nil {
		t.Error("Expected non-nil UUID, got nil UUID")
	}

	if entry.UserID != userID {
		t.Errorf("Expected user ID %s, got %s", userID, entry.UserID)
	}

	if entry.CorrelationToken != token {
		t.Errorf("Expected correlation token %s, got %s", token, entry.CorrelationToken)
	}

	if entry.Status != EntryStatusQueued {
		t.Errorf("Expected status %s, got %s", EntryStatusQueued, entry.Status)
	}

	if entry.Version != 1 {
		t.Errorf("Expected initial version 1, got %d", entry.Version)
	}

	if entry.SubmittedAt.IsZero() {
		t.Error("Expected non-zero SubmittedAt time")
	}

	if entry.StartedAt != nil || entry.CompletedAt != nil {
		t.Error("Expected no start/completion timestamps on a fresh entry")
	}

	// Test invalid userID
	_, err = NewQueueEntry(uuid.Nil, token)
	if err != ErrEntryUserIDEmpty {
		t.Errorf("Expected error %v, got %v", ErrEntryUserIDEmpty, err)
	}

	// Test missing correlation token
	_, err = NewQueueEntry(userID, "")
	if err != ErrEntryCorrelationEmpty {
		t.Errorf("Expected error %v, got %v", ErrEntryCorrelationEmpty, err)
	}
}

func TestQueueEntryValidate(t *testing.T) {
	t.Parallel() // Enable parallel execution
	validEntry := QueueEntry{
		ID:               uuid.New(),
		UserID:           uuid.New(),
		CorrelationToken: "client-1",
		Status:           EntryStatusQueued,
	}

	if err := validEntry.Validate(); err != nil {
		t.Errorf("Expected no error, got %v", err)
	}

	invalidEntry := validEntry
	invalidEntry.ID = uuid.Nil
	if err := invalidEntry.Validate(); err != ErrEntryIDEmpty {
		t.Errorf("Expected error %v, got %v", ErrEntryIDEmpty, err)
	}

	invalidEntry = validEntry
	invalidEntry.Status = EntryStatus("archived")
	if err := invalidEntry.Validate(); err != ErrInvalidStatus {
		t.Errorf("Expected error %v, got %v", ErrInvalidStatus, err)
	}
}

func TestCanTransitionTo(t *testing.T) {
	t.Parallel() // Enable parallel execution
	cases := []struct {
		from    EntryStatus
		to      EntryStatus
		allowed bool
	}{
		{EntryStatusQueued, EntryStatusProcessing, true},
		{EntryStatusQueued, EntryStatusCompleted, true},
		{EntryStatusQueued, EntryStatusFailed, true},
		{EntryStatusQueued, EntryStatusQueued, false},
		{EntryStatusProcessing, EntryStatusCompleted, true},
		{EntryStatusProcessing, EntryStatusFailed, true},
		{EntryStatusProcessing, EntryStatusQueued, false},
		{EntryStatusCompleted, EntryStatusFailed, false},
		{EntryStatusCompleted, EntryStatusProcessing, false},
		{EntryStatusFailed, EntryStatusCompleted, false},
		{EntryStatusFailed, EntryStatusQueued, false},
	}

	for _, tc := range cases {
		entry := QueueEntry{Status: tc.from}
		if got := entry.CanTransitionTo(tc.to); got != tc.allowed {
			t.Errorf("CanTransitionTo(%s -> %s) = %v, want %v", tc.from, tc.to, got, tc.allowed)
		}
	}
}

func TestApplyTransition(t *testing.T) {
	t.Parallel() // Enable parallel execution
	entry, err := NewQueueEntry(uuid.New(), "client-2")
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	if err := entry.ApplyTransition(EntryStatusProcessing); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if entry.StartedAt == nil {
		t.Fatal("Expected StartedAt to be set on entry into processing")
	}
	startedAt := *entry.StartedAt

	if err := entry.ApplyTransition(EntryStatusCompleted); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if entry.CompletedAt == nil {
		t.Fatal("Expected CompletedAt to be set on entry into a terminal state")
	}
	if !entry.StartedAt.Equal(startedAt) {
		t.Error("Expected StartedAt to be set exactly once")
	}

	// No transition out of a terminal state.
	err = entry.ApplyTransition(EntryStatusFailed)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Expected ErrInvalidTransition, got %v", err)
	}
}

func TestApplyTransitionDirectTerminal(t *testing.T) {
	t.Parallel() // Enable parallel execution
	entry, err := NewQueueEntry(uuid.New(), "client-3")
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	// A terminal event arriving before any start event drives the entry
	// straight to failed without passing through processing.
	if err := entry.ApplyTransition(EntryStatusFailed); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if entry.StartedAt != nil {
		t.Error("Expected StartedAt to remain unset for a direct queued -> failed transition")
	}
	if entry.CompletedAt == nil {
		t.Error("Expected CompletedAt to be set")
	}
}

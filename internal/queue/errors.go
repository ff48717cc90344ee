package queue

import (
	"errors"
	"fmt"

	"github.com/pixelvault/pixelvault-api/internal/domain"
	"github.com/pixelvault/pixelvault-api/internal/store"
)

// Common sentinel errors for the queue coordinator.
var (
	// ErrEntryNotFound indicates that the queue entry does not exist.
	ErrEntryNotFound = errors.New("queue entry not found")

	// ErrInvalidTransition indicates an illegal lifecycle state change.
	// Callers that recognize the change as a duplicate of one already
	// applied recover it locally as a no-op.
	ErrInvalidTransition = domain.ErrInvalidTransition

	// ErrCapacityExceeded indicates the user already has the maximum number
	// of outstanding queued entries. Surfaced to the submitter.
	ErrCapacityExceeded = errors.New("queue capacity exceeded for user")

	// ErrAlreadyBound indicates the entry already holds a different
	// external job ID.
	ErrAlreadyBound = errors.New("entry already bound to another external job")

	// ErrExternalJobTaken indicates the external job ID is already bound to
	// a different queue entry. Ingestion treats this as a replayed start
	// event and recovers it as a no-op.
	ErrExternalJobTaken = errors.New("external job already bound to another entry")

	// ErrTransientConflict indicates that an optimistic-concurrency retry
	// also collided. The operation may be retried by the caller.
	ErrTransientConflict = errors.New("transient version conflict")
)

// CoordinatorError wraps errors from the queue coordinator with context.
type CoordinatorError struct {
	// Operation is the operation that failed (e.g., "submit", "transition")
	Operation string
	// Message is a human-readable description of the error
	Message string
	// Err is the underlying error that caused the failure
	Err error
}

// Error implements the error interface for CoordinatorError.
func (e *CoordinatorError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("queue coordinator %s failed: %s: %v", e.Operation, e.Message, e.Err)
	}
	return fmt.Sprintf("queue coordinator %s failed: %s", e.Operation, e.Message)
}

// Unwrap returns the wrapped error to support errors.Is/errors.As.
func (e *CoordinatorError) Unwrap() error {
	return e.Err
}

// newCoordinatorError wraps err with operation context. Known sentinel
// errors pass through unwrapped so callers can match them directly.
func newCoordinatorError(operation, message string, err error) error {
	if err == nil {
		return nil
	}

	switch {
	case errors.Is(err, ErrEntryNotFound),
		errors.Is(err, ErrCapacityExceeded),
		errors.Is(err, ErrAlreadyBound),
		errors.Is(err, ErrExternalJobTaken),
		errors.Is(err, ErrInvalidTransition),
		errors.Is(err, ErrTransientConflict):
		return err
	case errors.Is(err, store.ErrEntryNotFound):
		return ErrEntryNotFound
	case errors.Is(err, store.ErrExternalJobTaken):
		return ErrExternalJobTaken
	}

	return &CoordinatorError{
		Operation: operation,
		Message:   message,
		Err:       err,
	}
}

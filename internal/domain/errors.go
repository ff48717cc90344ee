// Package domain defines the core business entities and errors.
package domain

import "errors"

// Common domain errors used across the application.
var (
	// ErrValidation is returned when a domain entity fails validation.
	// This is often wrapped with a more specific error message.
	ErrValidation = errors.New("validation failed")

	// ErrInvalidID is returned when an ID is malformed or invalid.
	ErrInvalidID = errors.New("invalid ID")

	// ErrInvalidStatus is returned when an entry status is not one of the
	// recognized lifecycle states.
	ErrInvalidStatus = errors.New("invalid entry status")

	// ErrInvalidTransition is returned when a requested status change is not
	// permitted by the entry lifecycle state machine.
	ErrInvalidTransition = errors.New("invalid status transition")
)

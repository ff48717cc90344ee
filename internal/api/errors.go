package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/pixelvault/pixelvault-api/internal/auth"
	"github.com/pixelvault/pixelvault-api/internal/queue"
	"github.com/pixelvault/pixelvault-api/internal/store"
)

// MapErrorToStatusCode maps internal errors to appropriate HTTP status codes
// based on the error type. This prevents leaking internal error types or
// messages to clients.
func MapErrorToStatusCode(err error) int {
	switch {
	// Authentication errors
	case errors.Is(err, auth.ErrInvalidToken),
		errors.Is(err, auth.ErrExpiredToken),
		errors.Is(err, auth.ErrTokenNotYetValid),
		errors.Is(err, auth.ErrMissingToken):
		return http.StatusUnauthorized

	// Not found errors
	case errors.Is(err, queue.ErrEntryNotFound),
		errors.Is(err, store.ErrEntryNotFound):
		return http.StatusNotFound

	// Capacity errors surface as rate limiting
	case errors.Is(err, queue.ErrCapacityExceeded):
		return http.StatusTooManyRequests

	// Conflict errors
	case errors.Is(err, queue.ErrAlreadyBound),
		errors.Is(err, queue.ErrExternalJobTaken),
		errors.Is(err, queue.ErrTransientConflict),
		errors.Is(err, queue.ErrInvalidTransition):
		return http.StatusConflict

	// Bad request errors
	case errors.Is(err, store.ErrInvalidEntity):
		return http.StatusBadRequest

	// Default: internal server error
	default:
		return http.StatusInternalServerError
	}
}

// GetSafeErrorMessage returns a sanitized, user-friendly error message
// based on the error type. This prevents leaking sensitive internal details.
func GetSafeErrorMessage(err error) string {
	if err == nil {
		return "An unexpected error occurred"
	}

	switch {
	case errors.Is(err, auth.ErrInvalidToken),
		errors.Is(err, auth.ErrExpiredToken),
		errors.Is(err, auth.ErrTokenNotYetValid),
		errors.Is(err, auth.ErrMissingToken):
		return "Invalid token"

	case errors.Is(err, queue.ErrEntryNotFound),
		errors.Is(err, store.ErrEntryNotFound):
		return "Queue entry not found"

	case errors.Is(err, queue.ErrCapacityExceeded):
		return "Too many queued requests, try again after one finishes"

	case errors.Is(err, queue.ErrAlreadyBound),
		errors.Is(err, queue.ErrExternalJobTaken):
		return "Queue entry already bound to a job"

	case errors.Is(err, queue.ErrTransientConflict):
		return "Queue entry was modified concurrently, retry the request"

	case errors.Is(err, queue.ErrInvalidTransition):
		return "Queue entry is not in a state that allows this operation"

	case errors.Is(err, store.ErrInvalidEntity):
		return "Invalid entity data"

	default:
		return "An unexpected error occurred"
	}
}

// SanitizeValidationError removes sensitive details from validation errors
// and returns a user-friendly message.
func SanitizeValidationError(err error) string {
	errMsg := err.Error()

	if strings.Contains(errMsg, "Field validation") {
		// Example format: "Key: 'SubmitRequest.CorrelationToken' Error:Field
		// validation for 'CorrelationToken' failed on the 'max' tag"
		parts := strings.Split(errMsg, "Error:")
		if len(parts) >= 2 {
			fieldParts := strings.Split(parts[1], "'")
			if len(fieldParts) >= 3 {
				field := fieldParts[1]
				var tag string
				if len(fieldParts) >= 5 {
					tag = fieldParts[3]
				}

				if tag != "" {
					return fmt.Sprintf("Invalid %s: %s", field, getValidationTagMessage(tag))
				}
				return fmt.Sprintf("Invalid %s", field)
			}
		}
	}

	return "Validation error"
}

// getValidationTagMessage maps validation tags to user-friendly error messages
func getValidationTagMessage(tag string) string {
	switch tag {
	case "required":
		return "required field"
	case "min":
		return "too short"
	case "max":
		return "too long"
	case "oneof":
		return "invalid value"
	case "uuid":
		return "invalid identifier"
	default:
		return "validation failed"
	}
}

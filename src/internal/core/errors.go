// FILE: chatwisp/src/internal/core/errors.go
package core

import (
	"errors"
	"fmt"
)

var (
	// Missing or mismatched credential
	ErrUnauthorized = errors.New("unauthorized")

	// Durable backend failed to read or write
	ErrStoreUnavailable = errors.New("store unavailable")

	// Forwarding target rejected or could not be reached
	ErrForward = errors.New("forward failed")
)

// Reports a malformed or incomplete submission
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "invalid submission: " + e.Reason
}

// Creates a validation error with a formatted reason
func NewValidationError(format string, args ...any) error {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// Reports whether err is, or wraps, a ValidationError
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// Wraps err as a store failure while preserving the cause
func StoreError(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrStoreUnavailable, op, err)
}

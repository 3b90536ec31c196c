// ABOUTME: Error taxonomy for conversation operations
// ABOUTME: Transports map these sentinels to HTTP statuses and gRPC codes

package conversation

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when the conversation does not exist.
	ErrNotFound = errors.New("conversation not found")

	// ErrAccessDenied is returned when the actor may not see or change the conversation.
	ErrAccessDenied = errors.New("access denied")

	// ErrInvalidTransition is returned for any mutation of a closed conversation.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrValidation matches every *ValidationError.
	ErrValidation = errors.New("validation failed")

	// ErrConflict is returned when a concurrent writer won repeatedly and the
	// operation could not converge.
	ErrConflict = errors.New("concurrent modification, retry")
)

// ValidationError describes a rejected input field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Is lets errors.Is(err, ErrValidation) match any ValidationError.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

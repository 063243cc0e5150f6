package task

import (
	"errors"
	"fmt"
)

// Domain errors shared by the queue and worker.
var (
	// ErrNotFound indicates the requested task does not exist.
	ErrNotFound = errors.New("task not found")

	// ErrValidation indicates a malformed submission. Fatal, never retried.
	ErrValidation = errors.New("validation error")

	// ErrInvalidTransition indicates a status transition that the lifecycle
	// does not permit. This is an ordering bug and must never be swallowed.
	ErrInvalidTransition = errors.New("invalid status transition")
)

// NotFoundError wraps ErrNotFound with the missing ID.
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("task not found: %s", e.ID)
}

func (e *NotFoundError) Unwrap() error {
	return ErrNotFound
}

// NewNotFoundError creates a typed not found error.
func NewNotFoundError(id string) error {
	return &NotFoundError{ID: id}
}

// ValidationError wraps ErrValidation with field details.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// NewValidationError creates a typed validation error.
func NewValidationError(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// InvalidTransitionError wraps ErrInvalidTransition with transition details.
type InvalidTransitionError struct {
	ID   string
	From Status
	To   Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("task %s: cannot transition %s -> %s", e.ID, e.From, e.To)
}

func (e *InvalidTransitionError) Unwrap() error {
	return ErrInvalidTransition
}

// NewInvalidTransitionError creates a typed transition error.
func NewInvalidTransitionError(id string, from, to Status) error {
	return &InvalidTransitionError{ID: id, From: from, To: to}
}

// IsNotFound checks if an error is a not found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsValidation checks if an error is a validation error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}

// IsInvalidTransition checks if an error is a transition error.
func IsInvalidTransition(err error) bool {
	return errors.Is(err, ErrInvalidTransition)
}

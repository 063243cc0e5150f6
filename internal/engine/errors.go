package engine

import (
	"errors"
	"fmt"

	"github.com/joss/converge/internal/task"
)

// ErrCancelled is returned when a cooperative cancellation is observed at a
// state transition boundary.
var ErrCancelled = errors.New("task cancelled")

// Failure is an engine-level fault. Retryable failures are retried at the
// task level up to the configured attempt budget; fatal ones terminate the
// task immediately.
type Failure struct {
	Retryable bool
	Err       error
}

func (e *Failure) Error() string {
	kind := "fatal"
	if e.Retryable {
		kind = "retryable"
	}
	return fmt.Sprintf("engine failure (%s): %v", kind, e.Err)
}

func (e *Failure) Unwrap() error {
	return e.Err
}

// NewFailure creates an engine failure.
func NewFailure(retryable bool, err error) error {
	return &Failure{Retryable: retryable, Err: err}
}

// Retryable classifies an error for the worker loop. Validation errors are
// fatal; engine failures carry their own flag; anything else (including
// timeouts surfaced by providers) defaults to retryable.
func Retryable(err error) bool {
	if task.IsValidation(err) || task.IsInvalidTransition(err) {
		return false
	}
	var f *Failure
	if errors.As(err, &f) {
		return f.Retryable
	}
	return true
}

package logging

import (
	"encoding/json"
	"fmt"
	"os"
	"runtime/debug"
	"time"
)

// RecoveryHandler converts panics into logged errors so a misbehaving task
// cannot bring down the worker loop.
type RecoveryHandler struct {
	Component string
	OnPanic   func(err interface{}, stack string)
}

// NewRecoveryHandler creates a recovery handler for a component
func NewRecoveryHandler(component string) *RecoveryHandler {
	return &RecoveryHandler{Component: component}
}

// WrapError executes fn with panic recovery, returning error on panic
func (r *RecoveryHandler) WrapError(fn func() error) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			stack := string(debug.Stack())
			err = r.handlePanic(rec, stack)
		}
	}()
	return fn()
}

// handlePanic logs the panic and invokes the custom handler
func (r *RecoveryHandler) handlePanic(rec interface{}, stack string) error {
	errMsg := fmt.Sprintf("panic in %s: %v", r.Component, rec)

	event := Event{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Level:     LevelError,
		Component: r.Component,
		Event:     "panic_recovered",
		Error:     errMsg,
		Extra: map[string]interface{}{
			"stack": stack,
		},
	}
	data, _ := json.Marshal(event)
	fmt.Fprintln(os.Stderr, string(data))

	if r.OnPanic != nil {
		r.OnPanic(rec, stack)
	}

	return fmt.Errorf("%s", errMsg)
}

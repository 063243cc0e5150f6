// Package provider defines the pluggable Proposer and Planner capabilities
// the round engine invokes, plus the built-in implementations. Capability
// selection is configuration, never engine logic.
package provider

import (
	"context"
	"errors"
	"fmt"

	"github.com/joss/converge/internal/contract"
	"github.com/joss/converge/internal/inspect"
)

// Split is a proposed responsibility split across repositories.
type Split struct {
	Assignments   map[string][]string `json:"assignments"`
	Rationale     string              `json:"rationale,omitempty"`
	Risks         []string            `json:"risks,omitempty"`
	OpenQuestions []string            `json:"open_questions,omitempty"`
}

// PlanStatus is the per-repo planning outcome.
type PlanStatus string

const (
	PlanOK           PlanStatus = "OK"
	PlanHitlRequired PlanStatus = "HITL_REQUIRED"
)

// RepoPlan is the plan produced for a single repository. Blockers are the
// questions that must reach a human; Questions are advisory and only
// escalate under the strict HITL trigger mode.
type RepoPlan struct {
	Repo        string                `json:"repo"`
	Status      PlanStatus            `json:"status"`
	Summary     string                `json:"summary,omitempty"`
	Steps       []string              `json:"steps,omitempty"`
	Touchpoints []contract.Touchpoint `json:"touchpoints,omitempty"`
	Questions   []string              `json:"questions,omitempty"`
	Blockers    []string              `json:"blockers,omitempty"`
}

// PlanRequest carries everything a Planner needs for one repository.
type PlanRequest struct {
	Repo               string
	Goal               string
	Constraints        inspect.Constraints
	Assignments        []string
	CustomInstructions string
	Resolution         map[string]any
}

// Proposer produces a responsibility split from collected constraints.
type Proposer interface {
	Name() string
	Propose(ctx context.Context, goal string, constraints []inspect.Constraints) (*Split, error)
}

// Planner produces a per-repository plan.
type Planner interface {
	Name() string
	Plan(ctx context.Context, req PlanRequest) (*RepoPlan, error)
}

// ErrProvider marks a transient capability failure. The engine recovers
// locally by falling back to the deterministic heuristic; provider failures
// never promote to task failure on their own.
var ErrProvider = errors.New("provider error")

// Error wraps ErrProvider with provider and operation details.
type Error struct {
	Provider string
	Op       string
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("provider %s: %s: %v", e.Provider, e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return ErrProvider
}

// NewError creates a typed provider error.
func NewError(provider, op string, err error) error {
	return &Error{Provider: provider, Op: op, Err: err}
}

// IsProviderError checks whether an error is a transient capability failure.
func IsProviderError(err error) bool {
	return errors.Is(err, ErrProvider)
}

// Package engine executes one task's orchestration rounds as an explicit
// bounded state machine: collect constraints, propose a split, plan per
// repo, check contract alignment, then decide to retry, interrupt, or
// finalize.
package engine

import (
	"time"

	"github.com/joss/converge/internal/contract"
	"github.com/joss/converge/internal/inspect"
	"github.com/joss/converge/internal/provider"
	"github.com/joss/converge/internal/task"
)

// node names the engine's states. Terminal nodes are nodeFinalize and
// nodeInterrupt.
type node string

const (
	nodeCollectConstraints node = "collect_constraints"
	nodeProposeSplit       node = "propose_split"
	nodeAgentPlan          node = "agent_plan"
	nodeContractAlignment  node = "contract_alignment"
	nodeDecide             node = "decide"
	nodeInterrupt          node = "interrupt"
	nodeFinalize           node = "finalize"
)

// Event is one entry in the run's append-only lifecycle log. Events within a
// run are strictly ordered by emission.
type Event struct {
	Type      string         `json:"type"`
	Node      string         `json:"node"`
	Timestamp time.Time      `json:"ts"`
	Detail    map[string]any `json:"detail,omitempty"`
}

// RunState is the transient per-attempt state threaded through the engine.
// It is exclusively owned by the single engine invocation processing the
// task and is never shared across workers.
type RunState struct {
	TaskID     string         `json:"task_id"`
	Goal       string         `json:"goal"`
	Repos      []string       `json:"repos"`
	Round      int            `json:"round"` // 1-indexed, never exceeds MaxRounds
	MaxRounds  int            `json:"max_rounds"`
	Resolution map[string]any `json:"resolution,omitempty"`

	Constraints    []inspect.Constraints `json:"constraints,omitempty"`
	Proposal       *provider.Split       `json:"proposal,omitempty"`
	RepoPlans      []provider.RepoPlan   `json:"repo_plans,omitempty"`
	ContractIssues []contract.Issue      `json:"contract_issues,omitempty"`

	Events []Event `json:"events"`
}

// NewRunState initializes state for the first round of a task attempt.
func NewRunState(t *task.Task) *RunState {
	return &RunState{
		TaskID:     t.ID,
		Goal:       t.Goal,
		Repos:      t.Repos,
		Round:      1,
		MaxRounds:  t.MaxRounds,
		Resolution: t.Resolution,
	}
}

// AddEvent appends to the run log. Events are append-only; nothing removes
// or reorders them.
func (s *RunState) AddEvent(eventType string, at node, detail map[string]any) {
	s.Events = append(s.Events, Event{
		Type:      eventType,
		Node:      string(at),
		Timestamp: time.Now().UTC(),
		Detail:    detail,
	})
}

// Outcome is the engine's terminal result for one attempt.
type Outcome struct {
	Status    task.Status // SUCCEEDED or HITL_REQUIRED
	Reason    string
	Questions []task.Question
	State     *RunState
}

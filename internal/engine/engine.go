package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/joss/converge/internal/contract"
	"github.com/joss/converge/internal/inspect"
	"github.com/joss/converge/internal/logging"
	"github.com/joss/converge/internal/metrics"
	"github.com/joss/converge/internal/provider"
	"github.com/joss/converge/internal/task"
)

// HilMode selects when escalation interrupts the round loop.
type HilMode string

const (
	// HilConditional retries the round loop before interrupting.
	HilConditional HilMode = "conditional"
	// HilInterrupt escalates on the first round that needs a decision.
	HilInterrupt HilMode = "interrupt"
)

// CancelCheck reports whether the task was cancelled externally. The engine
// consults it at every state transition boundary; cancellation is
// cooperative, never preemptive.
type CancelCheck func(ctx context.Context) (bool, error)

// Engine drives one task through its bounded round loop.
type Engine struct {
	inspector *inspect.Inspector
	caps      provider.Capabilities
	fallback  provider.Capabilities
	checker   contract.Checker
	log       *logging.Logger

	hilMode     HilMode
	triggerMode task.HitlTriggerMode
	cancelCheck CancelCheck
}

// Options configure an Engine.
type Options struct {
	Capabilities provider.Capabilities
	Fallback     provider.Capabilities
	Checker      contract.Checker
	Inspector    *inspect.Inspector
	HilMode      HilMode
	TriggerMode  task.HitlTriggerMode
	CancelCheck  CancelCheck
	Logger       *logging.Logger
}

// New creates an Engine. Zero-value options get deterministic defaults.
func New(opts Options) *Engine {
	e := &Engine{
		inspector:   opts.Inspector,
		caps:        opts.Capabilities,
		fallback:    opts.Fallback,
		checker:     opts.Checker,
		log:         opts.Logger,
		hilMode:     opts.HilMode,
		triggerMode: opts.TriggerMode,
		cancelCheck: opts.CancelCheck,
	}
	if e.inspector == nil {
		e.inspector = inspect.New()
	}
	if e.fallback.Proposer == nil {
		e.fallback.Proposer = &provider.HeuristicProposer{}
	}
	if e.fallback.Planner == nil {
		e.fallback.Planner = &provider.HeuristicPlanner{}
	}
	if e.caps.Proposer == nil {
		e.caps.Proposer = e.fallback.Proposer
	}
	if e.caps.Planner == nil {
		e.caps.Planner = e.fallback.Planner
	}
	if e.checker == nil {
		e.checker = contract.NewDiffChecker()
	}
	if e.hilMode == "" {
		e.hilMode = HilConditional
	}
	if e.triggerMode == "" {
		e.triggerMode = task.HitlBlockersOnly
	}
	if e.log == nil {
		e.log = logging.New("engine")
	}
	return e
}

// Run executes the round loop for a task. resume, when non-nil, is a
// checkpointed RunState restored by the HITL coordinator; execution keeps
// the checkpointed round, attaches the human resolution, and re-runs the
// round from constraint collection.
func (e *Engine) Run(ctx context.Context, t *task.Task, resume *RunState) (*Outcome, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}

	state := resume
	current := nodeCollectConstraints
	if state == nil {
		state = NewRunState(t)
	} else {
		state.Resolution = t.Resolution
		state.AddEvent("resumed", nodeCollectConstraints, map[string]any{"round": state.Round})
	}
	log := e.log.WithTask(t.ID)

	// Each full pass visits at most five nodes; anything beyond this bound
	// is a programming error, not a long round.
	maxSteps := state.MaxRounds*5 + 2

	// Resume keeps the checkpointed round but always re-collects
	// constraints: the environment may have changed while the task waited
	// on a human, and stale signals would reproduce the blocker forever.

	for steps := 0; ; steps++ {
		if steps > maxSteps {
			return nil, NewFailure(false, fmt.Errorf("state machine exceeded %d steps at %s", maxSteps, current))
		}
		if err := e.checkCancelled(ctx, state, current); err != nil {
			return nil, err
		}

		switch current {
		case nodeCollectConstraints:
			state.Constraints = e.inspector.InspectAll(ctx, state.Repos)
			state.AddEvent("constraints_collected", nodeCollectConstraints, map[string]any{
				"repos": len(state.Constraints),
			})
			current = nodeProposeSplit

		case nodeProposeSplit:
			split, err := e.caps.Proposer.Propose(ctx, state.Goal, state.Constraints)
			if err != nil {
				if retErr := e.classifyProviderErr(err); retErr != nil {
					return nil, retErr
				}
				metrics.Global().ProviderFallbacks.Add(1)
				log.Warn("proposer_fallback", map[string]any{"provider": e.caps.Proposer.Name()}, err)
				state.AddEvent("provider_fallback", nodeProposeSplit, map[string]any{
					"provider": e.caps.Proposer.Name(),
					"error":    err.Error(),
				})
				split, _ = e.fallback.Proposer.Propose(ctx, state.Goal, state.Constraints)
			}
			state.Proposal = split
			state.AddEvent("split_proposed", nodeProposeSplit, map[string]any{
				"round": state.Round,
			})
			current = nodeAgentPlan

		case nodeAgentPlan:
			state.RepoPlans = state.RepoPlans[:0]
			for idx, c := range state.Constraints {
				if err := e.checkCancelled(ctx, state, current); err != nil {
					return nil, err
				}
				req := provider.PlanRequest{
					Repo:               state.Repos[idx],
					Goal:               state.Goal,
					Constraints:        c,
					Assignments:        state.Proposal.Assignments[state.Repos[idx]],
					CustomInstructions: t.CustomInstructions,
					Resolution:         state.Resolution,
				}
				plan, err := e.caps.Planner.Plan(ctx, req)
				if err != nil {
					if retErr := e.classifyProviderErr(err); retErr != nil {
						return nil, retErr
					}
					metrics.Global().ProviderFallbacks.Add(1)
					log.Warn("planner_fallback", map[string]any{
						"provider": e.caps.Planner.Name(),
						"repo":     req.Repo,
					}, err)
					state.AddEvent("provider_fallback", nodeAgentPlan, map[string]any{
						"provider": e.caps.Planner.Name(),
						"repo":     req.Repo,
						"error":    err.Error(),
					})
					plan, _ = e.fallback.Planner.Plan(ctx, req)
				}
				state.RepoPlans = append(state.RepoPlans, *plan)
			}
			state.AddEvent("plans_generated", nodeAgentPlan, map[string]any{
				"round": state.Round,
				"plans": len(state.RepoPlans),
			})
			current = nodeContractAlignment

		case nodeContractAlignment:
			declared := make(map[string][]contract.Touchpoint, len(state.RepoPlans))
			for _, plan := range state.RepoPlans {
				if len(plan.Touchpoints) > 0 {
					declared[plan.Repo] = plan.Touchpoints
				}
			}
			issues, err := e.checker.Check(ctx, declared)
			if err != nil {
				if retErr := e.classifyProviderErr(err); retErr != nil {
					return nil, retErr
				}
				log.Warn("contract_check_failed", nil, err)
				state.AddEvent("provider_fallback", nodeContractAlignment, map[string]any{
					"error": err.Error(),
				})
				issues = nil
			}
			state.ContractIssues = issues
			state.AddEvent("contracts_checked", nodeContractAlignment, map[string]any{
				"issues":   len(issues),
				"blocking": contract.Blocking(issues),
			})
			current = nodeDecide

		case nodeDecide:
			needsHitl := e.needsHitl(state)
			switch {
			case needsHitl && e.hilMode == HilConditional && state.Round < state.MaxRounds:
				state.Round++
				state.AddEvent("round_retry", nodeDecide, map[string]any{"round": state.Round})
				current = nodeProposeSplit
			case needsHitl:
				state.AddEvent("escalated", nodeDecide, map[string]any{
					"round": state.Round,
					"mode":  string(e.hilMode),
				})
				current = nodeInterrupt
			default:
				state.AddEvent("converged", nodeDecide, map[string]any{"round": state.Round})
				current = nodeFinalize
			}

		case nodeInterrupt:
			questions := e.collectQuestions(state)
			return &Outcome{
				Status:    task.StatusHitlRequired,
				Reason:    e.escalationReason(state),
				Questions: questions,
				State:     state,
			}, nil

		case nodeFinalize:
			return &Outcome{
				Status: task.StatusSucceeded,
				State:  state,
			}, nil
		}
	}
}

// needsHitl is the Decide predicate: any escalated repo plan or blocking
// contract issue needs a human; under strict triggering advisory questions
// do too.
func (e *Engine) needsHitl(state *RunState) bool {
	for _, plan := range state.RepoPlans {
		if plan.Status == provider.PlanHitlRequired {
			return true
		}
		if e.triggerMode == task.HitlStrict && len(plan.Questions) > 0 {
			return true
		}
	}
	if contract.Blocking(state.ContractIssues) {
		return true
	}
	if e.triggerMode == task.HitlStrict && state.Proposal != nil && len(state.Proposal.OpenQuestions) > 0 {
		return true
	}
	return false
}

// collectQuestions gathers escalation questions in deterministic order:
// blockers first in repo order, then contract issues, then (strict mode
// only) advisory questions.
func (e *Engine) collectQuestions(state *RunState) []task.Question {
	var out []task.Question
	add := func(text string) {
		out = append(out, task.Question{ID: uuid.NewString(), Text: text})
	}

	for _, plan := range state.RepoPlans {
		for _, blocker := range plan.Blockers {
			add(blocker)
		}
	}
	for _, issue := range state.ContractIssues {
		if issue.Severity == contract.SeverityBlocking {
			add(fmt.Sprintf("contract issue on %s: %s", issue.Endpoint, issue.Description))
		}
	}
	if e.triggerMode == task.HitlStrict {
		for _, plan := range state.RepoPlans {
			for _, q := range plan.Questions {
				add(q)
			}
		}
		if state.Proposal != nil {
			for _, q := range state.Proposal.OpenQuestions {
				add(q)
			}
		}
	}
	return out
}

func (e *Engine) escalationReason(state *RunState) string {
	for _, plan := range state.RepoPlans {
		if plan.Status == provider.PlanHitlRequired {
			return fmt.Sprintf("repository plan for %s needs a decision", plan.Repo)
		}
	}
	if contract.Blocking(state.ContractIssues) {
		return "blocking cross-repo contract issues"
	}
	return "open planning questions under strict escalation"
}

// classifyProviderErr maps provider failures. Timeouts become retryable
// engine failures; everything else returns nil so the caller falls back to
// the heuristic within the same round.
func (e *Engine) classifyProviderErr(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return NewFailure(true, err)
	}
	if errors.Is(err, context.Canceled) {
		return NewFailure(true, err)
	}
	return nil
}

// checkCancelled observes cooperative cancellation between states.
func (e *Engine) checkCancelled(ctx context.Context, state *RunState, at node) error {
	if err := ctx.Err(); err != nil {
		return NewFailure(true, err)
	}
	if e.cancelCheck == nil {
		return nil
	}
	cancelled, err := e.cancelCheck(ctx)
	if err != nil {
		// A failed status read must not kill the run.
		return nil
	}
	if cancelled {
		state.AddEvent("cancelled", at, nil)
		return ErrCancelled
	}
	return nil
}

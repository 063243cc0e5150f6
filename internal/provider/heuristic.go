package provider

import (
	"context"
	"fmt"

	"github.com/joss/converge/internal/inspect"
)

// HeuristicProposer is the deterministic fallback split: each repo owns
// changes within its own path root, and shared or ambiguous concerns default
// to the first listed repo with an explicit open question. This rule is part
// of the engine's contract and must stay reproducible.
type HeuristicProposer struct{}

// Name implements Proposer.
func (p *HeuristicProposer) Name() string { return "heuristic" }

// Propose implements Proposer. It never fails.
func (p *HeuristicProposer) Propose(_ context.Context, goal string, constraints []inspect.Constraints) (*Split, error) {
	split := &Split{
		Assignments: make(map[string][]string, len(constraints)),
		Rationale:   "path-ownership heuristic: each repository owns changes under its own root",
	}

	for _, c := range constraints {
		split.Assignments[c.Repo] = []string{
			fmt.Sprintf("apply %q to files under %s", goal, c.Repo),
		}
		if !c.Exists {
			split.Risks = append(split.Risks, fmt.Sprintf("repository %s is not accessible", c.Repo))
		}
	}

	if len(constraints) > 1 {
		first := constraints[0].Repo
		split.Assignments[first] = append(split.Assignments[first],
			"own shared and cross-cutting concerns")
		split.OpenQuestions = append(split.OpenQuestions,
			fmt.Sprintf("shared concerns defaulted to %s; confirm ownership", first))
	}
	return split, nil
}

// HeuristicPlanner derives a plan from collected constraints without any
// external call. Used directly as a capability and as the degradation path
// when an LLM-backed planner fails.
type HeuristicPlanner struct{}

// Name implements Planner.
func (p *HeuristicPlanner) Name() string { return "heuristic" }

// Plan implements Planner. It never fails; unknowns become questions.
func (p *HeuristicPlanner) Plan(_ context.Context, req PlanRequest) (*RepoPlan, error) {
	plan := &RepoPlan{
		Repo:    req.Repo,
		Status:  PlanOK,
		Summary: fmt.Sprintf("heuristic plan for %s", req.Repo),
	}

	if !req.Constraints.Exists {
		plan.Status = PlanHitlRequired
		plan.Blockers = append(plan.Blockers,
			fmt.Sprintf("repository path %s does not exist; provide a valid checkout", req.Repo))
		return plan, nil
	}

	plan.Steps = append(plan.Steps,
		fmt.Sprintf("review existing %s code paths relevant to: %s", req.Constraints.RepoType, req.Goal))
	for _, assignment := range req.Assignments {
		plan.Steps = append(plan.Steps, assignment)
	}
	plan.Steps = append(plan.Steps, "add or update tests for the changed behavior")

	for _, signal := range req.Constraints.Signals {
		plan.Steps = append(plan.Steps, "keep consistent with: "+signal)
	}
	if req.Constraints.RepoType == "unknown" {
		plan.Questions = append(plan.Questions,
			fmt.Sprintf("repository type of %s could not be detected; confirm the build system", req.Repo))
	}
	if req.CustomInstructions != "" {
		plan.Steps = append(plan.Steps, "honor custom instructions: "+req.CustomInstructions)
	}
	return plan, nil
}

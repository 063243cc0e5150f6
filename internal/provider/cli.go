package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"

	"github.com/joss/converge/internal/exec"
	"github.com/joss/converge/internal/inspect"
)

// CLIPlanner shells out to an agent CLI (codex, copilot) that accepts a JSON
// planning request on stdin and prints a JSON plan on stdout. Any failure is
// a transient provider error; the engine degrades to the heuristic planner.
type CLIPlanner struct {
	name   string
	bin    string
	args   []string
	runner exec.Runner
}

// NewCLIPlanner creates a planner backed by an external agent CLI.
func NewCLIPlanner(name, bin string, args []string, runner exec.Runner) *CLIPlanner {
	return &CLIPlanner{name: name, bin: bin, args: args, runner: runner}
}

// Name implements Planner.
func (p *CLIPlanner) Name() string { return p.name }

type cliPlanRequest struct {
	Repo               string   `json:"repo"`
	Goal               string   `json:"goal"`
	RepoType           string   `json:"repo_type"`
	Signals            []string `json:"signals,omitempty"`
	Assignments        []string `json:"assignments,omitempty"`
	CustomInstructions string   `json:"custom_instructions,omitempty"`
	Resolution         any      `json:"resolution,omitempty"`
}

// Plan implements Planner.
func (p *CLIPlanner) Plan(ctx context.Context, req PlanRequest) (*RepoPlan, error) {
	payload, err := json.Marshal(cliPlanRequest{
		Repo:               req.Repo,
		Goal:               req.Goal,
		RepoType:           req.Constraints.RepoType,
		Signals:            req.Constraints.Signals,
		Assignments:        req.Assignments,
		CustomInstructions: req.CustomInstructions,
		Resolution:         req.Resolution,
	})
	if err != nil {
		return nil, NewError(p.name, "marshal request", err)
	}

	out, err := p.runner.RunWithStdin(ctx, bytes.NewReader(payload), p.bin, p.args...)
	if err != nil {
		return nil, NewError(p.name, "invoke cli", err)
	}

	var plan RepoPlan
	if err := json.Unmarshal(extractJSON(out), &plan); err != nil {
		return nil, NewError(p.name, "parse plan", err)
	}
	plan.Repo = req.Repo
	if plan.Status == "" {
		plan.Status = PlanOK
	}
	if len(plan.Blockers) > 0 {
		plan.Status = PlanHitlRequired
	}
	return &plan, nil
}

// CLIProposer shells out to an agent CLI for the responsibility split.
type CLIProposer struct {
	name   string
	bin    string
	args   []string
	runner exec.Runner
}

// NewCLIProposer creates a proposer backed by an external agent CLI.
func NewCLIProposer(name, bin string, args []string, runner exec.Runner) *CLIProposer {
	return &CLIProposer{name: name, bin: bin, args: args, runner: runner}
}

// Name implements Proposer.
func (p *CLIProposer) Name() string { return p.name }

// Propose implements Proposer.
func (p *CLIProposer) Propose(ctx context.Context, goal string, constraints []inspect.Constraints) (*Split, error) {
	payload, err := json.Marshal(map[string]any{
		"goal":        goal,
		"constraints": constraints,
	})
	if err != nil {
		return nil, NewError(p.name, "marshal request", err)
	}

	out, err := p.runner.RunWithStdin(ctx, bytes.NewReader(payload), p.bin, p.args...)
	if err != nil {
		return nil, NewError(p.name, "invoke cli", err)
	}

	var split Split
	if err := json.Unmarshal(extractJSON(out), &split); err != nil {
		return nil, NewError(p.name, "parse split", err)
	}
	if len(split.Assignments) == 0 {
		return nil, NewError(p.name, "parse split", errEmptySplit)
	}
	return &split, nil
}

var errEmptySplit = jsonError("split has no assignments")

type jsonError string

func (e jsonError) Error() string { return string(e) }

// extractJSON returns the first top-level JSON object in CLI output, which
// may be surrounded by log noise.
func extractJSON(out []byte) []byte {
	s := string(out)
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start >= 0 && end > start {
		return []byte(s[start : end+1])
	}
	return out
}

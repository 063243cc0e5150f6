// Package artifacts writes the finalized run state to durable per-run
// directories. Writes are fire-and-forget from the engine's perspective:
// the worker records the directory path but only checks a boolean outcome.
package artifacts

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/oklog/ulid/v2"

	"github.com/joss/converge/internal/engine"
	"github.com/joss/converge/internal/logging"
)

// Sink receives a finalized run state and a target directory.
type Sink interface {
	Write(ctx context.Context, state *engine.RunState, dir string) error
}

// FileSink renders run.json, summary.md, responsibility-matrix.md, and
// constraints.json under a run directory.
type FileSink struct {
	log *logging.Logger
}

// NewFileSink creates a FileSink.
func NewFileSink() *FileSink {
	return &FileSink{log: logging.New("artifacts")}
}

// NewRunDir creates a fresh run directory under base. ULIDs keep run dirs
// lexically sorted by creation time.
func NewRunDir(base string) (string, error) {
	id := ulid.Make()
	dir := filepath.Join(base, strings.ToLower(id.String()))
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create run dir: %w", err)
	}
	return dir, nil
}

// Write implements Sink.
func (s *FileSink) Write(_ context.Context, state *engine.RunState, dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create run dir: %w", err)
	}

	runJSON, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal run state: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "run.json"), runJSON, 0644); err != nil {
		return fmt.Errorf("write run.json: %w", err)
	}

	constraintsJSON, err := json.MarshalIndent(state.Constraints, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal constraints: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "constraints.json"), constraintsJSON, 0644); err != nil {
		return fmt.Errorf("write constraints.json: %w", err)
	}

	if err := os.WriteFile(filepath.Join(dir, "summary.md"), []byte(renderSummary(state)), 0644); err != nil {
		return fmt.Errorf("write summary.md: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "responsibility-matrix.md"), []byte(renderMatrix(state)), 0644); err != nil {
		return fmt.Errorf("write responsibility-matrix.md: %w", err)
	}

	s.log.Info("artifacts_written", map[string]any{"dir": dir, "task": state.TaskID})
	return nil
}

func renderSummary(state *engine.RunState) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Coordination Summary\n\n")
	fmt.Fprintf(&b, "**Goal:** %s\n\n", state.Goal)
	fmt.Fprintf(&b, "**Rounds:** %d of %d\n\n", state.Round, state.MaxRounds)

	b.WriteString("## Repositories\n\n")
	for _, c := range state.Constraints {
		fmt.Fprintf(&b, "- `%s` (%s)\n", c.Repo, c.RepoType)
	}

	if len(state.RepoPlans) > 0 {
		b.WriteString("\n## Plans\n\n")
		for _, plan := range state.RepoPlans {
			fmt.Fprintf(&b, "### %s — %s\n\n", plan.Repo, plan.Status)
			for _, step := range plan.Steps {
				fmt.Fprintf(&b, "1. %s\n", step)
			}
			b.WriteString("\n")
		}
	}

	if len(state.ContractIssues) > 0 {
		b.WriteString("## Contract Issues\n\n")
		for _, issue := range state.ContractIssues {
			fmt.Fprintf(&b, "- **%s** `%s`: %s\n", issue.Severity, issue.Endpoint, issue.Description)
		}
	}
	return b.String()
}

func renderMatrix(state *engine.RunState) string {
	var b strings.Builder
	b.WriteString("# Responsibility Matrix\n\n")
	if state.Proposal == nil {
		b.WriteString("No proposal was produced.\n")
		return b.String()
	}

	fmt.Fprintf(&b, "%s\n\n", state.Proposal.Rationale)
	b.WriteString("| Repository | Responsibilities |\n|---|---|\n")
	for _, repo := range state.Repos {
		fmt.Fprintf(&b, "| `%s` | %s |\n", repo, strings.Join(state.Proposal.Assignments[repo], "; "))
	}

	if len(state.Proposal.OpenQuestions) > 0 {
		b.WriteString("\n## Open Questions\n\n")
		for _, q := range state.Proposal.OpenQuestions {
			fmt.Fprintf(&b, "- %s\n", q)
		}
	}
	return b.String()
}

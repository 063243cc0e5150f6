package artifacts

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joss/converge/internal/engine"
	"github.com/joss/converge/internal/inspect"
	"github.com/joss/converge/internal/provider"
	"github.com/joss/converge/internal/task"
)

func testState(t *testing.T) *engine.RunState {
	t.Helper()
	tk := task.New("add rate limiting", []string{"./api", "./gateway"})
	state := engine.NewRunState(tk)
	state.Constraints = []inspect.Constraints{
		{Repo: "./api", Exists: true, RepoType: "go"},
		{Repo: "./gateway", Exists: true, RepoType: "node"},
	}
	state.Proposal = &provider.Split{
		Assignments: map[string][]string{
			"./api":     {"own the limiter middleware"},
			"./gateway": {"forward rate headers"},
		},
		Rationale:     "path-ownership heuristic",
		OpenQuestions: []string{"confirm shared ownership"},
	}
	state.RepoPlans = []provider.RepoPlan{
		{Repo: "./api", Status: provider.PlanOK, Steps: []string{"add middleware"}},
	}
	return state
}

func TestNewRunDir(t *testing.T) {
	base := t.TempDir()

	first, err := NewRunDir(base)
	require.NoError(t, err)
	second, err := NewRunDir(base)
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
	info, err := os.Stat(first)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
	// ULID dirs sort by creation time.
	assert.Less(t, filepath.Base(first), filepath.Base(second))
}

func TestWriteRendersAllFiles(t *testing.T) {
	dir := t.TempDir()
	state := testState(t)

	require.NoError(t, NewFileSink().Write(context.Background(), state, dir))

	for _, name := range []string{"run.json", "constraints.json", "summary.md", "responsibility-matrix.md"} {
		_, err := os.Stat(filepath.Join(dir, name))
		assert.NoError(t, err, name)
	}

	raw, err := os.ReadFile(filepath.Join(dir, "run.json"))
	require.NoError(t, err)
	var restored engine.RunState
	require.NoError(t, json.Unmarshal(raw, &restored))
	assert.Equal(t, state.TaskID, restored.TaskID)
	assert.Equal(t, state.Goal, restored.Goal)

	summary, err := os.ReadFile(filepath.Join(dir, "summary.md"))
	require.NoError(t, err)
	assert.Contains(t, string(summary), "add rate limiting")
	assert.Contains(t, string(summary), "./api")

	matrix, err := os.ReadFile(filepath.Join(dir, "responsibility-matrix.md"))
	require.NoError(t, err)
	assert.Contains(t, string(matrix), "own the limiter middleware")
	assert.Contains(t, string(matrix), "confirm shared ownership")
}

func TestWriteWithoutProposal(t *testing.T) {
	dir := t.TempDir()
	tk := task.New("bare goal", []string{"./api"})

	require.NoError(t, NewFileSink().Write(context.Background(), engine.NewRunState(tk), dir))

	matrix, err := os.ReadFile(filepath.Join(dir, "responsibility-matrix.md"))
	require.NoError(t, err)
	assert.Contains(t, string(matrix), "No proposal was produced.")
}

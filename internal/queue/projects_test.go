package queue

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joss/converge/internal/task"
)

func TestProjectRoundTrip(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	p := task.NewProject("payments")
	p.DefaultRepos = []string{"./api", "./ledger"}
	require.NoError(t, q.CreateProject(ctx, p))

	got, err := q.GetProject(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "payments", got.Name)
	assert.Equal(t, []string{"./api", "./ledger"}, got.DefaultRepos)
	assert.Equal(t, task.HitlBlockersOnly, got.Preferences.HitlTriggerMode)

	byName, err := q.GetProjectByName(ctx, "payments")
	require.NoError(t, err)
	assert.Equal(t, p.ID, byName.ID)
}

func TestProjectNotFound(t *testing.T) {
	q := newTestQueue(t)

	_, err := q.GetProject(context.Background(), "missing")
	assert.True(t, task.IsNotFound(err))
}

func TestUpdateProjectPreferences(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	p := task.NewProject("strict-shop")
	require.NoError(t, q.CreateProject(ctx, p))

	prefs := task.DefaultPreferences()
	prefs.HitlTriggerMode = task.HitlStrict
	prefs.MaxHitlQuestions = 5
	require.NoError(t, q.UpdateProjectPreferences(ctx, p.ID, prefs))

	got, err := q.GetProject(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, task.HitlStrict, got.Preferences.HitlTriggerMode)
	assert.Equal(t, 5, got.Preferences.MaxHitlQuestions)
}

func TestListProjects(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	require.NoError(t, q.CreateProject(ctx, task.NewProject("alpha")))
	require.NoError(t, q.CreateProject(ctx, task.NewProject("beta")))

	projects, err := q.ListProjects(ctx)
	require.NoError(t, err)
	assert.Len(t, projects, 2)
}

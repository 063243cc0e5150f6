package queue

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joss/converge/internal/task"
)

func newTestQueue(t *testing.T, opts ...Option) *Queue {
	t.Helper()
	q, err := New(filepath.Join(t.TempDir(), "converge.db"), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { q.Close() })
	return q
}

func enqueueOne(t *testing.T, q *Queue, goal string) string {
	t.Helper()
	id, err := q.Enqueue(context.Background(), task.New(goal, []string{"./api"}))
	require.NoError(t, err)
	return id
}

func claimOne(t *testing.T, q *Queue) *task.Task {
	t.Helper()
	tasks, err := q.ClaimBatch(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	return tasks[0]
}

func TestEnqueueGet(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	tk := task.New("add rate limiting", []string{"./api", "./gateway"})
	tk.Metadata = map[string]string{"origin": "test"}
	id, err := q.Enqueue(ctx, tk)
	require.NoError(t, err)

	got, err := q.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, task.StatusPending, got.Status)
	assert.Equal(t, "add rate limiting", got.Goal)
	assert.Equal(t, []string{"./api", "./gateway"}, got.Repos)
	assert.Equal(t, map[string]string{"origin": "test"}, got.Metadata)
	assert.Equal(t, 0, got.Attempts)
}

func TestEnqueueInvalid(t *testing.T) {
	q := newTestQueue(t)

	_, err := q.Enqueue(context.Background(), task.New("", []string{"./api"}))
	assert.True(t, task.IsValidation(err))

	_, err = q.Enqueue(context.Background(), task.New("goal", nil))
	assert.True(t, task.IsValidation(err))
}

func TestGetNotFound(t *testing.T) {
	q := newTestQueue(t)

	_, err := q.Get(context.Background(), "missing")
	assert.True(t, task.IsNotFound(err))
}

func TestClaimOrder(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	first := enqueueOne(t, q, "first")
	// created_at ordering needs distinct timestamps
	time.Sleep(5 * time.Millisecond)
	second := enqueueOne(t, q, "second")

	claimed, err := q.ClaimBatch(ctx, 2)
	require.NoError(t, err)
	require.Len(t, claimed, 2)
	assert.Equal(t, first, claimed[0].ID)
	assert.Equal(t, second, claimed[1].ID)
	assert.Equal(t, task.StatusClaimed, claimed[0].Status)

	// Nothing left to claim.
	more, err := q.ClaimBatch(ctx, 2)
	require.NoError(t, err)
	assert.Empty(t, more)
}

func TestClaimExclusivity(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	const total = 5
	for i := 0; i < total; i++ {
		enqueueOne(t, q, "concurrent")
	}

	var mu sync.Mutex
	seen := make(map[string]int)
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tasks, err := q.ClaimBatch(ctx, 1)
			if err != nil {
				return
			}
			mu.Lock()
			for _, tk := range tasks {
				seen[tk.ID]++
			}
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Len(t, seen, total)
	for id, count := range seen {
		assert.Equal(t, 1, count, "task %s claimed more than once", id)
	}
}

func TestGuardedTransitions(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	id := enqueueOne(t, q, "guarded")

	// RUNNING requires CLAIMED first.
	err := q.MarkRunning(ctx, id)
	assert.True(t, task.IsInvalidTransition(err))

	claimOne(t, q)
	require.NoError(t, q.MarkRunning(ctx, id))
	require.NoError(t, q.MarkSucceeded(ctx, id, "/tmp/run"))

	got, err := q.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, task.StatusSucceeded, got.Status)
	assert.Equal(t, "/tmp/run", got.ArtifactsDir)

	// Terminal state rejects every further transition.
	assert.True(t, task.IsInvalidTransition(q.MarkRunning(ctx, id)))
	assert.True(t, task.IsInvalidTransition(q.MarkSucceeded(ctx, id, "")))
	assert.True(t, task.IsInvalidTransition(q.MarkFailed(ctx, id, "late", true)))
	assert.True(t, task.IsInvalidTransition(q.Cancel(ctx, id)))
}

func TestMarkFailedRetries(t *testing.T) {
	q := newTestQueue(t, WithMaxAttempts(3))
	ctx := context.Background()

	id := enqueueOne(t, q, "flaky")

	// Two retryable failures requeue; the third goes terminal.
	for attempt := 1; attempt <= 3; attempt++ {
		claimOne(t, q)
		require.NoError(t, q.MarkRunning(ctx, id))
		require.NoError(t, q.MarkFailed(ctx, id, "provider timeout", true))

		got, err := q.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, attempt, got.Attempts)
		if attempt < 3 {
			assert.Equal(t, task.StatusPending, got.Status)
		} else {
			assert.Equal(t, task.StatusFailed, got.Status)
			assert.Equal(t, "provider timeout", got.LastError)
		}
	}
}

func TestMarkFailedFatal(t *testing.T) {
	q := newTestQueue(t, WithMaxAttempts(3))
	ctx := context.Background()

	id := enqueueOne(t, q, "fatal")
	claimOne(t, q)
	require.NoError(t, q.MarkRunning(ctx, id))
	require.NoError(t, q.MarkFailed(ctx, id, "invalid goal", false))

	got, err := q.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, task.StatusFailed, got.Status)
	assert.Equal(t, 1, got.Attempts)
}

func TestMarkFailedTruncatesError(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	id := enqueueOne(t, q, "noisy")
	claimOne(t, q)
	require.NoError(t, q.MarkRunning(ctx, id))

	long := strings.Repeat("x", 2000)
	require.NoError(t, q.MarkFailed(ctx, id, long, false))

	got, err := q.Get(ctx, id)
	require.NoError(t, err)
	assert.Len(t, got.LastError, maxErrorLength)
}

func TestHitlRoundTrip(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	id := enqueueOne(t, q, "needs human")
	claimOne(t, q)
	require.NoError(t, q.MarkRunning(ctx, id))

	questions := []task.Question{
		{ID: "q1", Text: "Which endpoint wins?", Options: []string{"v1", "v2"}},
	}
	require.NoError(t, q.MarkHitlRequired(ctx, id, questions, "blocking contract issue"))

	got, err := q.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, task.StatusHitlRequired, got.Status)
	assert.Equal(t, "blocking contract issue", got.StatusReason)
	require.Len(t, got.Questions, 1)
	assert.Equal(t, "q1", got.Questions[0].ID)

	resolved, err := q.Resolve(ctx, id, map[string]any{"q1": "v2"})
	require.NoError(t, err)
	assert.Equal(t, task.StatusPending, resolved.Status)
	assert.Equal(t, "v2", resolved.Resolution["q1"])
	// Questions are kept for audit.
	assert.Len(t, resolved.Questions, 1)
}

func TestResolveRequiresHitl(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	id := enqueueOne(t, q, "not paused")
	claimOne(t, q)
	require.NoError(t, q.MarkRunning(ctx, id))

	_, err := q.Resolve(ctx, id, map[string]any{"q1": "yes"})
	assert.True(t, task.IsInvalidTransition(err))
}

func TestCancel(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	// Cancel is legal from any non-terminal state.
	pending := enqueueOne(t, q, "pending")
	require.NoError(t, q.Cancel(ctx, pending))

	running := enqueueOne(t, q, "running")
	claimOne(t, q)
	require.NoError(t, q.MarkRunning(ctx, running))
	require.NoError(t, q.Cancel(ctx, running))

	got, err := q.Get(ctx, running)
	require.NoError(t, err)
	assert.Equal(t, task.StatusCancelled, got.Status)
	assert.Equal(t, "cancelled by operator", got.StatusReason)

	// A cancelled task cannot be claimed or marked.
	more, err := q.ClaimBatch(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, more)
	assert.True(t, task.IsInvalidTransition(q.MarkRunning(ctx, running)))
}

func TestReapStale(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	id := enqueueOne(t, q, "orphaned")
	claimOne(t, q)
	require.NoError(t, q.MarkRunning(ctx, id))

	// Fresh claim survives the sweep.
	n, err := q.ReapStale(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	// Zero timeout makes every claim stale.
	time.Sleep(5 * time.Millisecond)
	n, err = q.ReapStale(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := q.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, task.StatusPending, got.Status)
	assert.Equal(t, "lease expired, requeued", got.StatusReason)

	// Requeued task is claimable again.
	claimOne(t, q)
}

func TestEnqueueWithDedupe(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	first, deduped, err := q.EnqueueWithDedupe(ctx, task.New("ingest", []string{"./api"}), "github", "issue-42")
	require.NoError(t, err)
	assert.False(t, deduped)

	replay, deduped, err := q.EnqueueWithDedupe(ctx, task.New("ingest", []string{"./api"}), "github", "issue-42")
	require.NoError(t, err)
	assert.True(t, deduped)
	assert.Equal(t, first.ID, replay.ID)

	// Different key creates a new task.
	other, deduped, err := q.EnqueueWithDedupe(ctx, task.New("ingest", []string{"./api"}), "github", "issue-43")
	require.NoError(t, err)
	assert.False(t, deduped)
	assert.NotEqual(t, first.ID, other.ID)
}

func TestListFilter(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	enqueueOne(t, q, "a")
	id := enqueueOne(t, q, "b")
	require.NoError(t, q.Cancel(ctx, id))

	all, err := q.List(ctx, "", 10)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	pending, err := q.List(ctx, task.StatusPending, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "a", pending[0].Goal)
}

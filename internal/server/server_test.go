package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joss/converge/internal/queue"
	"github.com/joss/converge/internal/task"
)

func newTestServer(t *testing.T) (*httptest.Server, *queue.Queue) {
	t.Helper()
	q, err := queue.New(filepath.Join(t.TempDir(), "converge.db"))
	require.NoError(t, err)
	t.Cleanup(func() { q.Close() })

	ts := httptest.NewServer(New(q, "").Handler())
	t.Cleanup(ts.Close)
	return ts, q
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(raw))
	require.NoError(t, err)
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestHealthz(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
	resp.Body.Close()
}

func TestCreateAndGetTask(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := postJSON(t, ts.URL+"/api/tasks", CreateTaskRequest{
		Goal:  "add rate limiting",
		Repos: []string{"./api"},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decode[task.Task](t, resp)
	assert.Equal(t, task.StatusPending, created.Status)

	resp2, err := http.Get(ts.URL + "/api/tasks/" + created.ID)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp2.StatusCode)
	got := decode[task.Task](t, resp2)
	assert.Equal(t, created.ID, got.ID)
	assert.Equal(t, "add rate limiting", got.Goal)
}

func TestCreateTaskValidation(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := postJSON(t, ts.URL+"/api/tasks", CreateTaskRequest{Goal: "", Repos: nil})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	body := decode[map[string]string](t, resp)
	assert.NotEmpty(t, body["error"])
}

func TestGetTaskNotFound(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/api/tasks/missing")
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestCreateTaskIdempotent(t *testing.T) {
	ts, _ := newTestServer(t)

	req := CreateTaskRequest{
		Goal:           "ingest",
		Repos:          []string{"./api"},
		Source:         "github",
		IdempotencyKey: "issue-42",
	}

	resp := postJSON(t, ts.URL+"/api/tasks", req)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	first := decode[task.Task](t, resp)

	// Replaying the webhook returns the existing task, not a duplicate.
	resp = postJSON(t, ts.URL+"/api/tasks", req)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	replay := decode[task.Task](t, resp)
	assert.Equal(t, first.ID, replay.ID)
}

func TestListTasksFilter(t *testing.T) {
	ts, q := newTestServer(t)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, task.New("a", []string{"./api"}))
	require.NoError(t, err)
	id, err := q.Enqueue(ctx, task.New("b", []string{"./api"}))
	require.NoError(t, err)
	require.NoError(t, q.Cancel(ctx, id))

	resp, err := http.Get(ts.URL + "/api/tasks?status=PENDING")
	require.NoError(t, err)
	tasks := decode[[]task.Task](t, resp)
	require.Len(t, tasks, 1)
	assert.Equal(t, "a", tasks[0].Goal)

	resp, err = http.Get(ts.URL + "/api/tasks")
	require.NoError(t, err)
	assert.Len(t, decode[[]task.Task](t, resp), 2)
}

func TestResolveTask(t *testing.T) {
	ts, q := newTestServer(t)
	ctx := context.Background()

	id, err := q.Enqueue(ctx, task.New("needs human", []string{"./api"}))
	require.NoError(t, err)
	claimed, err := q.ClaimBatch(ctx, 1)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	require.NoError(t, q.MarkRunning(ctx, id))
	require.NoError(t, q.MarkHitlRequired(ctx, id,
		[]task.Question{{ID: "q1", Text: "pick one"}}, "blocked"))

	resp := postJSON(t, ts.URL+"/api/tasks/"+id+"/resolve", ResolveRequest{
		Resolution: map[string]any{"q1": "the first"},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resolved := decode[task.Task](t, resp)
	assert.Equal(t, task.StatusPending, resolved.Status)
}

func TestResolveConflicts(t *testing.T) {
	ts, q := newTestServer(t)

	id, err := q.Enqueue(context.Background(), task.New("still pending", []string{"./api"}))
	require.NoError(t, err)

	// Resolving a task that is not paused is a conflict.
	resp := postJSON(t, ts.URL+"/api/tasks/"+id+"/resolve", ResolveRequest{
		Resolution: map[string]any{"q1": "answer"},
	})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	resp.Body.Close()

	// An empty resolution is a client error.
	resp = postJSON(t, ts.URL+"/api/tasks/"+id+"/resolve", ResolveRequest{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func TestCancelTask(t *testing.T) {
	ts, q := newTestServer(t)

	id, err := q.Enqueue(context.Background(), task.New("doomed", []string{"./api"}))
	require.NoError(t, err)

	resp := postJSON(t, ts.URL+"/api/tasks/"+id+"/cancel", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	cancelled := decode[task.Task](t, resp)
	assert.Equal(t, task.StatusCancelled, cancelled.Status)

	// Cancelling twice conflicts.
	resp = postJSON(t, ts.URL+"/api/tasks/"+id+"/cancel", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	resp.Body.Close()
}

func TestProjectEndpoints(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := postJSON(t, ts.URL+"/api/projects", CreateProjectRequest{Name: "payments"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decode[task.Project](t, resp)
	assert.Equal(t, "payments", created.Name)

	prefs := task.DefaultPreferences()
	prefs.HitlTriggerMode = task.HitlStrict
	raw, err := json.Marshal(prefs)
	require.NoError(t, err)
	putReq, err := http.NewRequest(http.MethodPut,
		ts.URL+"/api/projects/"+created.ID+"/preferences", bytes.NewReader(raw))
	require.NoError(t, err)
	putResp, err := http.DefaultClient.Do(putReq)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, putResp.StatusCode)
	updated := decode[task.Project](t, putResp)
	assert.Equal(t, task.HitlStrict, updated.Preferences.HitlTriggerMode)

	listResp, err := http.Get(ts.URL + "/api/projects")
	require.NoError(t, err)
	assert.Len(t, decode[[]task.Project](t, listResp), 1)
}

func TestProjectPreferenceBounds(t *testing.T) {
	ts, _ := newTestServer(t)

	bad := task.DefaultPreferences()
	bad.MaxHitlQuestions = 99
	resp := postJSON(t, ts.URL+"/api/projects", CreateProjectRequest{
		Name:        "unbounded",
		Preferences: &bad,
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func TestMetricsEndpoint(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
}

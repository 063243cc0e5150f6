// Package queue implements the durable task store and the atomic
// claim/release operations over it. All task row writes go through the
// guarded transitions defined here; no other component touches the table.
package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/joss/converge/internal/task"
)

// maxErrorLength caps last_error so oversized provider output cannot bloat
// the task table.
const maxErrorLength = 500

// Queue is the SQLite-backed task store.
type Queue struct {
	db          *sql.DB
	path        string
	maxAttempts int
}

// Option configures a Queue.
type Option func(*Queue)

// WithMaxAttempts overrides the retry budget applied by MarkFailed.
func WithMaxAttempts(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.maxAttempts = n
		}
	}
}

// New opens (or creates) the task database at dbPath.
func New(dbPath string, opts ...Option) (*Queue, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal=WAL&_timeout=5000&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	q := &Queue{db: db, path: dbPath, maxAttempts: 3}
	for _, opt := range opts {
		opt(q)
	}

	if err := q.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return q, nil
}

func (q *Queue) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS tasks (
		id TEXT PRIMARY KEY,
		project_id TEXT,
		goal TEXT NOT NULL,
		repos_json TEXT NOT NULL,
		max_rounds INTEGER NOT NULL,
		agent_provider TEXT,
		custom_instructions TEXT,
		metadata_json TEXT,
		status TEXT NOT NULL,
		attempts INTEGER NOT NULL DEFAULT 0,
		last_error TEXT,
		status_reason TEXT,
		artifacts_dir TEXT,
		questions_json TEXT,
		resolution_json TEXT,
		source TEXT,
		idempotency_key TEXT,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		claimed_at DATETIME
	);

	CREATE INDEX IF NOT EXISTS idx_tasks_status_created ON tasks(status, created_at);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_tasks_source_idem ON tasks(source, idempotency_key)
		WHERE source IS NOT NULL AND idempotency_key IS NOT NULL;

	CREATE TABLE IF NOT EXISTS projects (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL UNIQUE,
		description TEXT,
		default_repos_json TEXT,
		default_instructions TEXT,
		preferences_json TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);
	`
	_, err := q.db.Exec(schema)
	return err
}

// Ping verifies the connection is alive.
func (q *Queue) Ping(ctx context.Context) error {
	return q.db.PingContext(ctx)
}

// Close releases the database handle.
func (q *Queue) Close() error {
	return q.db.Close()
}

// MaxAttempts returns the configured retry budget.
func (q *Queue) MaxAttempts() int {
	return q.maxAttempts
}

// Enqueue validates and inserts a PENDING task, returning its ID.
func (q *Queue) Enqueue(ctx context.Context, t *task.Task) (string, error) {
	if err := t.Validate(); err != nil {
		return "", err
	}
	now := time.Now().UTC()
	t.Status = task.StatusPending
	t.CreatedAt = now
	t.UpdatedAt = now

	reposJSON, _ := json.Marshal(t.Repos)
	metadataJSON, _ := json.Marshal(t.Metadata)
	questionsJSON, _ := json.Marshal(t.Questions)

	_, err := q.db.ExecContext(ctx, `
		INSERT INTO tasks (id, project_id, goal, repos_json, max_rounds, agent_provider,
			custom_instructions, metadata_json, status, attempts, last_error, status_reason,
			artifacts_dir, questions_json, resolution_json, source, idempotency_key,
			created_at, updated_at, claimed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 0, NULL, NULL, NULL, ?, NULL, ?, ?, ?, ?, NULL)
	`, t.ID, nullable(t.ProjectID), t.Goal, string(reposJSON), t.MaxRounds,
		nullable(t.AgentProvider), nullable(t.CustomInstructions), string(metadataJSON),
		task.StatusPending, string(questionsJSON), nullable(t.Source),
		nullable(t.IdempotencyKey), t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return "", fmt.Errorf("enqueue: %w", err)
	}
	return t.ID, nil
}

// EnqueueWithDedupe enqueues a task unless a task with the same source and
// idempotency key already exists, in which case the existing task is
// returned with deduped=true.
func (q *Queue) EnqueueWithDedupe(ctx context.Context, t *task.Task, source, idempotencyKey string) (*task.Task, bool, error) {
	if source != "" && idempotencyKey != "" {
		existing, err := q.FindBySourceKey(ctx, source, idempotencyKey)
		if err != nil && !task.IsNotFound(err) {
			return nil, false, err
		}
		if existing != nil {
			return existing, true, nil
		}
		t.Source = source
		t.IdempotencyKey = idempotencyKey
	}
	id, err := q.Enqueue(ctx, t)
	if err != nil {
		return nil, false, err
	}
	created, err := q.Get(ctx, id)
	return created, false, err
}

// FindBySourceKey looks up a task by its source/idempotency key pair.
func (q *Queue) FindBySourceKey(ctx context.Context, source, idempotencyKey string) (*task.Task, error) {
	row := q.db.QueryRowContext(ctx, selectTask+` WHERE source = ? AND idempotency_key = ?`,
		source, idempotencyKey)
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, task.NewNotFoundError(source + "/" + idempotencyKey)
	}
	return t, err
}

// ClaimBatch atomically transitions up to limit PENDING tasks to CLAIMED and
// returns them oldest first. Claim exclusivity comes from the per-row
// compare-and-swap on status inside one immediate transaction.
func (q *Queue) ClaimBatch(ctx context.Context, limit int) ([]*task.Task, error) {
	if limit <= 0 {
		return nil, nil
	}

	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin claim: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
		SELECT id FROM tasks WHERE status = ? ORDER BY created_at ASC LIMIT ?
	`, task.StatusPending, limit)
	if err != nil {
		return nil, fmt.Errorf("poll pending: %w", err)
	}
	var candidates []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		candidates = append(candidates, id)
	}
	rows.Close()

	now := time.Now().UTC()
	var claimed []string
	for _, id := range candidates {
		res, err := tx.ExecContext(ctx, `
			UPDATE tasks SET status = ?, claimed_at = ?, updated_at = ?
			WHERE id = ? AND status = ?
		`, task.StatusClaimed, now, now, id, task.StatusPending)
		if err != nil {
			return nil, fmt.Errorf("claim %s: %w", id, err)
		}
		if n, _ := res.RowsAffected(); n == 1 {
			claimed = append(claimed, id)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit claim: %w", err)
	}

	out := make([]*task.Task, 0, len(claimed))
	for _, id := range claimed {
		t, err := q.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// MarkRunning transitions a claimed task to RUNNING.
func (q *Queue) MarkRunning(ctx context.Context, id string) error {
	return q.transition(ctx, id, task.StatusRunning,
		[]task.Status{task.StatusClaimed},
		"status = ?, updated_at = ?", task.StatusRunning, time.Now().UTC())
}

// MarkSucceeded finalizes a running task, recording its artifacts directory.
func (q *Queue) MarkSucceeded(ctx context.Context, id, artifactsDir string) error {
	return q.transition(ctx, id, task.StatusSucceeded,
		[]task.Status{task.StatusRunning},
		"status = ?, artifacts_dir = ?, last_error = NULL, updated_at = ?",
		task.StatusSucceeded, nullable(artifactsDir), time.Now().UTC())
}

// MarkHitlRequired pauses a running task pending a human decision.
func (q *Queue) MarkHitlRequired(ctx context.Context, id string, questions []task.Question, reason string) error {
	questionsJSON, _ := json.Marshal(questions)
	return q.transition(ctx, id, task.StatusHitlRequired,
		[]task.Status{task.StatusRunning},
		"status = ?, questions_json = ?, status_reason = ?, updated_at = ?",
		task.StatusHitlRequired, string(questionsJSON), nullable(reason), time.Now().UTC())
}

// MarkFailed records a failure. Retryable failures requeue to PENDING while
// attempts remain; otherwise the task goes terminal FAILED.
func (q *Queue) MarkFailed(ctx context.Context, id, errMsg string, retryable bool) error {
	if len(errMsg) > maxErrorLength {
		errMsg = errMsg[:maxErrorLength]
	}

	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin fail: %w", err)
	}
	defer tx.Rollback()

	var status task.Status
	var attempts int
	err = tx.QueryRowContext(ctx, `SELECT status, attempts FROM tasks WHERE id = ?`, id).
		Scan(&status, &attempts)
	if err == sql.ErrNoRows {
		return task.NewNotFoundError(id)
	}
	if err != nil {
		return fmt.Errorf("read task: %w", err)
	}
	if status.Terminal() {
		return task.NewInvalidTransitionError(id, status, task.StatusFailed)
	}

	attempts++
	next := task.StatusFailed
	if retryable && attempts < q.maxAttempts {
		next = task.StatusPending
	}

	now := time.Now().UTC()
	_, err = tx.ExecContext(ctx, `
		UPDATE tasks SET attempts = ?, last_error = ?, status = ?, claimed_at = NULL, updated_at = ?
		WHERE id = ?
	`, attempts, errMsg, next, now, id)
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	return tx.Commit()
}

// Resolve attaches a human resolution to a HITL_REQUIRED task and requeues
// it to PENDING. Questions are kept for audit.
func (q *Queue) Resolve(ctx context.Context, id string, resolution map[string]any) (*task.Task, error) {
	resolutionJSON, err := json.Marshal(resolution)
	if err != nil {
		return nil, task.NewValidationError("resolution", "must be a valid structured object")
	}
	err = q.transition(ctx, id, task.StatusPending,
		[]task.Status{task.StatusHitlRequired},
		"status = ?, resolution_json = ?, claimed_at = NULL, updated_at = ?",
		task.StatusPending, string(resolutionJSON), time.Now().UTC())
	if err != nil {
		return nil, err
	}
	return q.Get(ctx, id)
}

// Cancel transitions any non-terminal task to CANCELLED. The worker honors
// a cancellation observed mid-run at its next checkpoint.
func (q *Queue) Cancel(ctx context.Context, id string) error {
	return q.transition(ctx, id, task.StatusCancelled,
		[]task.Status{task.StatusPending, task.StatusClaimed, task.StatusRunning, task.StatusHitlRequired},
		"status = ?, status_reason = ?, updated_at = ?",
		task.StatusCancelled, "cancelled by operator", time.Now().UTC())
}

// ReapStale requeues CLAIMED or RUNNING tasks whose updated_at exceeds the
// lease timeout, recovering tasks orphaned by a worker crash. Returns the
// number of tasks requeued.
func (q *Queue) ReapStale(ctx context.Context, leaseTimeout time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-leaseTimeout)
	res, err := q.db.ExecContext(ctx, `
		UPDATE tasks SET status = ?, status_reason = ?, claimed_at = NULL, updated_at = ?
		WHERE status IN (?, ?) AND updated_at < ?
	`, task.StatusPending, "lease expired, requeued", time.Now().UTC(),
		task.StatusClaimed, task.StatusRunning, cutoff)
	if err != nil {
		return 0, fmt.Errorf("reap stale: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// Get returns the latest task record by ID.
func (q *Queue) Get(ctx context.Context, id string) (*task.Task, error) {
	row := q.db.QueryRowContext(ctx, selectTask+` WHERE id = ?`, id)
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, task.NewNotFoundError(id)
	}
	return t, err
}

// List returns tasks newest first, optionally filtered by status.
func (q *Queue) List(ctx context.Context, status task.Status, limit int) ([]*task.Task, error) {
	if limit <= 0 {
		limit = 100
	}

	query := selectTask
	args := []any{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*task.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// transition performs a single guarded status update. A zero-row update is
// disambiguated into NotFoundError or InvalidTransitionError.
func (q *Queue) transition(ctx context.Context, id string, to task.Status, allowedFrom []task.Status, setClause string, args ...any) error {
	query := `UPDATE tasks SET ` + setClause + ` WHERE id = ? AND status IN (`
	for i := range allowedFrom {
		if i > 0 {
			query += ", "
		}
		query += "?"
	}
	query += `)`

	args = append(args, id)
	for _, s := range allowedFrom {
		args = append(args, s)
	}

	res, err := q.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("transition to %s: %w", to, err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return nil
	}

	var current task.Status
	err = q.db.QueryRowContext(ctx, `SELECT status FROM tasks WHERE id = ?`, id).Scan(&current)
	if err == sql.ErrNoRows {
		return task.NewNotFoundError(id)
	}
	if err != nil {
		return fmt.Errorf("read status: %w", err)
	}
	return task.NewInvalidTransitionError(id, current, to)
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

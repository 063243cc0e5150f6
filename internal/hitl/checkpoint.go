// Package hitl implements the human-in-the-loop pause/resume protocol:
// checkpoint persistence, question normalization, and the project escalation
// policy.
package hitl

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/joss/converge/internal/task"
)

// Store persists checkpoint snapshots keyed by task ID. Backends are
// interchangeable; the coordinator only needs Save/Load/Delete.
type Store interface {
	Save(ctx context.Context, id string, blob []byte) error
	Load(ctx context.Context, id string) ([]byte, error)
	Delete(ctx context.Context, id string) error
	Close() error
}

// SQLiteStore keeps checkpoints in a SQLite table. Each interrupt overwrites
// the previous snapshot for the task.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the checkpoint database at dbPath.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	db, err := sql.Open("sqlite3", dbPath+"?_journal=WAL&_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS checkpoints (
		task_id TEXT PRIMARY KEY,
		state_blob BLOB NOT NULL,
		updated_at DATETIME NOT NULL
	);
	`)
	return err
}

// Save implements Store.
func (s *SQLiteStore) Save(ctx context.Context, id string, blob []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO checkpoints (task_id, state_blob, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(task_id) DO UPDATE SET
			state_blob = excluded.state_blob,
			updated_at = excluded.updated_at
	`, id, blob, time.Now().UTC())
	return err
}

// Load implements Store.
func (s *SQLiteStore) Load(ctx context.Context, id string) ([]byte, error) {
	var blob []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT state_blob FROM checkpoints WHERE task_id = ?`, id).Scan(&blob)
	if err == sql.ErrNoRows {
		return nil, task.NewNotFoundError(id)
	}
	return blob, err
}

// Delete implements Store. Deleting a missing checkpoint is not an error.
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM checkpoints WHERE task_id = ?`, id)
	return err
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// MemoryStore is an in-memory Store for tests and single-process setups.
type MemoryStore struct {
	mu    sync.Mutex
	blobs map[string][]byte
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{blobs: make(map[string][]byte)}
}

// Save implements Store.
func (s *MemoryStore) Save(_ context.Context, id string, blob []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]byte, len(blob))
	copy(cp, blob)
	s.blobs[id] = cp
	return nil
}

// Load implements Store.
func (s *MemoryStore) Load(_ context.Context, id string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	blob, ok := s.blobs[id]
	if !ok {
		return nil, task.NewNotFoundError(id)
	}
	return blob, nil
}

// Delete implements Store.
func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.blobs, id)
	return nil
}

// Close implements Store.
func (s *MemoryStore) Close() error {
	return nil
}

package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/joss/converge/internal/task"
)

// CreateProject persists a new project record.
func (q *Queue) CreateProject(ctx context.Context, p *task.Project) error {
	if p.Name == "" {
		return task.NewValidationError("name", "must not be blank")
	}
	if err := p.Preferences.Validate(); err != nil {
		return err
	}

	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now

	reposJSON, _ := json.Marshal(p.DefaultRepos)
	prefsJSON, _ := json.Marshal(p.Preferences)

	_, err := q.db.ExecContext(ctx, `
		INSERT INTO projects (id, name, description, default_repos_json,
			default_instructions, preferences_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, p.ID, p.Name, nullable(p.Description), string(reposJSON),
		nullable(p.DefaultInstructions), string(prefsJSON), p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create project: %w", err)
	}
	return nil
}

// GetProject returns a project by ID.
func (q *Queue) GetProject(ctx context.Context, id string) (*task.Project, error) {
	row := q.db.QueryRowContext(ctx, selectProject+` WHERE id = ?`, id)
	p, err := scanProject(row)
	if err == sql.ErrNoRows {
		return nil, task.NewNotFoundError(id)
	}
	return p, err
}

// GetProjectByName returns a project by its unique name.
func (q *Queue) GetProjectByName(ctx context.Context, name string) (*task.Project, error) {
	row := q.db.QueryRowContext(ctx, selectProject+` WHERE name = ?`, name)
	p, err := scanProject(row)
	if err == sql.ErrNoRows {
		return nil, task.NewNotFoundError(name)
	}
	return p, err
}

// ListProjects returns all projects ordered by creation time.
func (q *Queue) ListProjects(ctx context.Context) ([]*task.Project, error) {
	rows, err := q.db.QueryContext(ctx, selectProject+` ORDER BY created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*task.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// UpdateProjectPreferences replaces a project's preferences.
func (q *Queue) UpdateProjectPreferences(ctx context.Context, id string, prefs task.Preferences) error {
	if err := prefs.Validate(); err != nil {
		return err
	}
	prefsJSON, _ := json.Marshal(prefs)
	res, err := q.db.ExecContext(ctx, `
		UPDATE projects SET preferences_json = ?, updated_at = ? WHERE id = ?
	`, string(prefsJSON), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("update project: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return task.NewNotFoundError(id)
	}
	return nil
}

const selectProject = `
	SELECT id, name, description, default_repos_json, default_instructions,
		preferences_json, created_at, updated_at
	FROM projects`

func scanProject(row rowScanner) (*task.Project, error) {
	var p task.Project
	var description, reposJSON, instructions sql.NullString
	var prefsJSON string

	err := row.Scan(&p.ID, &p.Name, &description, &reposJSON, &instructions,
		&prefsJSON, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}

	p.Description = description.String
	p.DefaultInstructions = instructions.String
	if reposJSON.Valid {
		json.Unmarshal([]byte(reposJSON.String), &p.DefaultRepos)
	}
	p.Preferences = task.DefaultPreferences()
	json.Unmarshal([]byte(prefsJSON), &p.Preferences)
	return &p, nil
}

package queue

import (
	"database/sql"
	"encoding/json"

	"github.com/joss/converge/internal/task"
)

const selectTask = `
	SELECT id, project_id, goal, repos_json, max_rounds, agent_provider,
		custom_instructions, metadata_json, status, attempts, last_error,
		status_reason, artifacts_dir, questions_json, resolution_json,
		source, idempotency_key, created_at, updated_at
	FROM tasks`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*task.Task, error) {
	var t task.Task
	var projectID, agentProvider, instructions, lastError, statusReason sql.NullString
	var artifactsDir, source, idempotencyKey sql.NullString
	var reposJSON, metadataJSON string
	var questionsJSON, resolutionJSON sql.NullString

	err := row.Scan(&t.ID, &projectID, &t.Goal, &reposJSON, &t.MaxRounds, &agentProvider,
		&instructions, &metadataJSON, &t.Status, &t.Attempts, &lastError,
		&statusReason, &artifactsDir, &questionsJSON, &resolutionJSON,
		&source, &idempotencyKey, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}

	t.ProjectID = projectID.String
	t.AgentProvider = agentProvider.String
	t.CustomInstructions = instructions.String
	t.LastError = lastError.String
	t.StatusReason = statusReason.String
	t.ArtifactsDir = artifactsDir.String
	t.Source = source.String
	t.IdempotencyKey = idempotencyKey.String

	json.Unmarshal([]byte(reposJSON), &t.Repos)
	if metadataJSON != "" {
		json.Unmarshal([]byte(metadataJSON), &t.Metadata)
	}
	if questionsJSON.Valid {
		json.Unmarshal([]byte(questionsJSON.String), &t.Questions)
	}
	if resolutionJSON.Valid && resolutionJSON.String != "" {
		json.Unmarshal([]byte(resolutionJSON.String), &t.Resolution)
	}
	return &t, nil
}

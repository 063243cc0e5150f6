// Package task defines the task lifecycle domain model shared by the queue,
// worker, and engine.
package task

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Status represents a task lifecycle state. The string values are the wire
// contract exposed to the API and CLI layers.
type Status string

const (
	StatusPending      Status = "PENDING"
	StatusClaimed      Status = "CLAIMED"
	StatusRunning      Status = "RUNNING"
	StatusSucceeded    Status = "SUCCEEDED"
	StatusFailed       Status = "FAILED"
	StatusHitlRequired Status = "HITL_REQUIRED"
	StatusCancelled    Status = "CANCELLED"
)

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// DefaultMaxRounds is applied when a submission omits max_rounds.
const DefaultMaxRounds = 2

// Question is a normalized HITL question attached to an escalated task.
type Question struct {
	ID      string   `json:"id"`
	Text    string   `json:"text"`
	Options []string `json:"options,omitempty"`
	Default string   `json:"default,omitempty"`
}

// Task is the unit of coordination work persisted by the queue.
type Task struct {
	ID                 string            `json:"id"`
	ProjectID          string            `json:"project_id,omitempty"`
	Goal               string            `json:"goal"`
	Repos              []string          `json:"repos"`
	MaxRounds          int               `json:"max_rounds"`
	AgentProvider      string            `json:"agent_provider,omitempty"`
	CustomInstructions string            `json:"custom_instructions,omitempty"`
	Metadata           map[string]string `json:"metadata,omitempty"`

	Status       Status         `json:"status"`
	Attempts     int            `json:"attempts"`
	LastError    string         `json:"last_error,omitempty"`
	StatusReason string         `json:"status_reason,omitempty"`
	ArtifactsDir string         `json:"artifacts_dir,omitempty"`
	Questions    []Question     `json:"hitl_questions,omitempty"`
	Resolution   map[string]any `json:"hitl_resolution,omitempty"`

	Source         string `json:"source,omitempty"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// New creates a PENDING task with a fresh ID and defaulted max_rounds.
func New(goal string, repos []string) *Task {
	now := time.Now().UTC()
	return &Task{
		ID:        uuid.NewString(),
		Goal:      goal,
		Repos:     repos,
		MaxRounds: DefaultMaxRounds,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Validate checks submission invariants. Called by the queue on Enqueue.
func (t *Task) Validate() error {
	if strings.TrimSpace(t.Goal) == "" {
		return NewValidationError("goal", "must not be blank")
	}
	if len(t.Repos) == 0 {
		return NewValidationError("repos", "must not be empty")
	}
	for _, r := range t.Repos {
		if strings.TrimSpace(r) == "" {
			return NewValidationError("repos", "entries must not be blank")
		}
	}
	if t.MaxRounds < 1 {
		return NewValidationError("max_rounds", "must be at least 1")
	}
	return nil
}

// NormalizeQuestion collapses whitespace and lowercases question text.
// Deduplication is exact-text only; semantically overlapping questions from
// different repos are both kept.
func NormalizeQuestion(text string) string {
	return strings.Join(strings.Fields(strings.ToLower(text)), " ")
}

// DedupeQuestions removes questions whose normalized text already appeared,
// preserving insertion order.
func DedupeQuestions(questions []Question) []Question {
	seen := make(map[string]bool, len(questions))
	out := make([]Question, 0, len(questions))
	for _, q := range questions {
		key := NormalizeQuestion(q.Text)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, q)
	}
	return out
}

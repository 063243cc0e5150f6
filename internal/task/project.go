package task

import (
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// HitlTriggerMode controls which plan questions escalate to a human.
type HitlTriggerMode string

const (
	// HitlBlockersOnly escalates only blocking questions.
	HitlBlockersOnly HitlTriggerMode = "blockers_only"
	// HitlStrict escalates every open question.
	HitlStrict HitlTriggerMode = "strict"
)

// Preferences are project-level defaults that shape planning and HITL
// behavior.
type Preferences struct {
	PlanningStrategy string          `json:"planning_strategy" yaml:"planning_strategy"`
	HitlTriggerMode  HitlTriggerMode `json:"hitl_trigger_mode" yaml:"hitl_trigger_mode"`
	MaxHitlQuestions int             `json:"max_hitl_questions" yaml:"max_hitl_questions"`
	PromptPreamble   string          `json:"prompt_preamble,omitempty" yaml:"prompt_preamble,omitempty"`
}

// DefaultPreferences returns the preferences applied when a project defines
// none.
func DefaultPreferences() Preferences {
	return Preferences{
		PlanningStrategy: "extend_existing",
		HitlTriggerMode:  HitlBlockersOnly,
		MaxHitlQuestions: 2,
	}
}

// Validate checks preference bounds.
func (p Preferences) Validate() error {
	if p.MaxHitlQuestions < 0 || p.MaxHitlQuestions > 10 {
		return NewValidationError("max_hitl_questions", "must be between 0 and 10")
	}
	switch p.HitlTriggerMode {
	case HitlBlockersOnly, HitlStrict:
	default:
		return NewValidationError("hitl_trigger_mode", "must be blockers_only or strict")
	}
	return nil
}

// Project groups tasks and supplies submission defaults.
type Project struct {
	ID                  string      `json:"id"`
	Name                string      `json:"name"`
	Description         string      `json:"description,omitempty"`
	DefaultRepos        []string    `json:"default_repos,omitempty"`
	DefaultInstructions string      `json:"default_instructions,omitempty"`
	Preferences         Preferences `json:"preferences"`
	CreatedAt           time.Time   `json:"created_at"`
	UpdatedAt           time.Time   `json:"updated_at"`
}

// NewProject creates a project with default preferences.
func NewProject(name string) *Project {
	now := time.Now().UTC()
	return &Project{
		ID:          uuid.NewString(),
		Name:        name,
		Preferences: DefaultPreferences(),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// LoadPreferencesFile reads preferences from a converge.yaml file. Fields the
// file omits keep their defaults.
func LoadPreferencesFile(path string) (Preferences, error) {
	prefs := DefaultPreferences()
	data, err := os.ReadFile(path)
	if err != nil {
		return prefs, fmt.Errorf("read preferences: %w", err)
	}
	if err := yaml.Unmarshal(data, &prefs); err != nil {
		return prefs, fmt.Errorf("parse preferences: %w", err)
	}
	if err := prefs.Validate(); err != nil {
		return prefs, err
	}
	return prefs, nil
}

// ApplyDefaults merges project defaults into a submission that omitted them.
func (p *Project) ApplyDefaults(t *Task) {
	if t.ProjectID == "" {
		t.ProjectID = p.ID
	}
	if len(t.Repos) == 0 {
		t.Repos = append(t.Repos, p.DefaultRepos...)
	}
	if t.CustomInstructions == "" {
		t.CustomInstructions = p.DefaultInstructions
	} else if p.DefaultInstructions != "" {
		t.CustomInstructions = p.DefaultInstructions + "\n\n" + t.CustomInstructions
	}
}

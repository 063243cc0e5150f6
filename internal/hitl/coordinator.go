package hitl

import (
	"context"
	"encoding/json"

	"github.com/joss/converge/internal/engine"
	"github.com/joss/converge/internal/logging"
	"github.com/joss/converge/internal/metrics"
	"github.com/joss/converge/internal/task"
)

// Policy is the project escalation policy applied on interrupt.
type Policy struct {
	TriggerMode  task.HitlTriggerMode
	MaxQuestions int
}

// PolicyFromPreferences derives the interrupt policy from project
// preferences.
func PolicyFromPreferences(prefs task.Preferences) Policy {
	return Policy{
		TriggerMode:  prefs.HitlTriggerMode,
		MaxQuestions: prefs.MaxHitlQuestions,
	}
}

// Coordinator owns the interrupt/resume protocol and checkpoint lifecycle.
type Coordinator struct {
	store Store
	log   *logging.Logger
}

// NewCoordinator creates a Coordinator over a checkpoint store.
func NewCoordinator(store Store) *Coordinator {
	return &Coordinator{
		store: store,
		log:   logging.New("hitl"),
	}
}

// Interrupt snapshots the run state and returns the normalized, deduplicated
// question set, truncated to the policy cap (first N in insertion order;
// truncation is recorded as a run event). A checkpoint persistence failure
// is non-fatal: the task still escalates, with a degraded-resume warning.
func (c *Coordinator) Interrupt(ctx context.Context, state *engine.RunState, questions []task.Question, policy Policy) []task.Question {
	deduped := task.DedupeQuestions(questions)

	if policy.MaxQuestions > 0 && len(deduped) > policy.MaxQuestions {
		dropped := len(deduped) - policy.MaxQuestions
		deduped = deduped[:policy.MaxQuestions]
		state.AddEvent("questions_truncated", "interrupt", map[string]any{
			"kept":    policy.MaxQuestions,
			"dropped": dropped,
		})
	}

	blob, err := json.Marshal(state)
	if err == nil {
		err = c.store.Save(ctx, state.TaskID, blob)
	}
	if err != nil {
		metrics.Global().CheckpointFailures.Add(1)
		c.log.Warn("checkpoint_save_failed", map[string]any{
			"task": state.TaskID,
			"risk": "degraded resume",
		}, err)
	} else {
		c.log.Info("checkpoint_saved", map[string]any{
			"task":  state.TaskID,
			"round": state.Round,
		})
	}
	return deduped
}

// Resume restores the checkpointed run state for a resolved task. When no
// checkpoint is available the resume degrades to a fresh round-1 state with
// the resolution attached, surfaced as a warning event, never an error.
func (c *Coordinator) Resume(ctx context.Context, t *task.Task) (*engine.RunState, bool) {
	blob, err := c.store.Load(ctx, t.ID)
	if err == nil {
		var state engine.RunState
		if jsonErr := json.Unmarshal(blob, &state); jsonErr == nil {
			state.Resolution = t.Resolution
			return &state, false
		} else {
			err = jsonErr
		}
	}

	if !task.IsNotFound(err) {
		c.log.Warn("checkpoint_load_failed", map[string]any{"task": t.ID}, err)
	}

	state := engine.NewRunState(t)
	state.AddEvent("degraded_resume", "propose_split", map[string]any{
		"reason": "checkpoint unavailable, rerunning from round 1",
	})
	c.log.Warn("degraded_resume", map[string]any{"task": t.ID}, err)
	return state, true
}

// Discard deletes the checkpoint once a task finalizes.
func (c *Coordinator) Discard(ctx context.Context, id string) {
	if err := c.store.Delete(ctx, id); err != nil {
		c.log.Warn("checkpoint_delete_failed", map[string]any{"task": id}, err)
	}
}

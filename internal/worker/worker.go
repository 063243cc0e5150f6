// Package worker implements the polling loop that claims tasks and drives
// the round engine. Workers hold no cross-process state; horizontal scaling
// relies entirely on the queue's claim exclusivity.
package worker

import (
	"context"
	"errors"
	"time"

	"github.com/joss/converge/internal/artifacts"
	"github.com/joss/converge/internal/engine"
	"github.com/joss/converge/internal/hitl"
	"github.com/joss/converge/internal/logging"
	"github.com/joss/converge/internal/metrics"
	"github.com/joss/converge/internal/provider"
	"github.com/joss/converge/internal/queue"
	"github.com/joss/converge/internal/task"
)

// Config holds worker loop settings.
type Config struct {
	ID              string
	PollInterval    time.Duration
	BatchSize       int
	LeaseTimeout    time.Duration
	HilMode         engine.HilMode
	OutputDir       string
	DefaultProvider string
}

// Worker polls the queue and processes claimed tasks sequentially.
type Worker struct {
	queue       *queue.Queue
	registry    *provider.Registry
	coordinator *hitl.Coordinator
	sink        artifacts.Sink
	cfg         Config

	log      *logging.Logger
	recovery *logging.RecoveryHandler
	stats    *metrics.Metrics
}

// New creates a Worker.
func New(q *queue.Queue, registry *provider.Registry, coordinator *hitl.Coordinator, sink artifacts.Sink, cfg Config) *Worker {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 1
	}
	if cfg.LeaseTimeout <= 0 {
		cfg.LeaseTimeout = 15 * time.Minute
	}
	if cfg.HilMode == "" {
		cfg.HilMode = engine.HilConditional
	}
	return &Worker{
		queue:       q,
		registry:    registry,
		coordinator: coordinator,
		sink:        sink,
		cfg:         cfg,
		log:         logging.New("worker").WithWorker(cfg.ID),
		recovery:    logging.NewRecoveryHandler("worker"),
		stats:       metrics.Global(),
	}
}

// Run polls until the context is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	w.log.Info("worker_started", map[string]any{
		"poll_interval": w.cfg.PollInterval.String(),
		"batch_size":    w.cfg.BatchSize,
	})
	for {
		if _, err := w.RunOnce(ctx); err != nil {
			w.log.Error("poll_cycle_failed", nil, err)
		}
		select {
		case <-ctx.Done():
			w.log.Info("worker_stopped", nil)
			return ctx.Err()
		case <-time.After(w.cfg.PollInterval):
		}
	}
}

// RunOnce performs one poll cycle and returns the number of tasks processed.
// The stale-claim sweep runs first so tasks orphaned by a crashed worker
// become claimable again.
func (w *Worker) RunOnce(ctx context.Context) (int, error) {
	reaped, err := w.queue.ReapStale(ctx, w.cfg.LeaseTimeout)
	if err != nil {
		w.log.Warn("lease_sweep_failed", nil, err)
	} else if reaped > 0 {
		w.stats.LeaseRequeues.Add(int64(reaped))
		w.log.Info("lease_requeued", map[string]any{"count": reaped})
	}

	tasks, err := w.queue.ClaimBatch(ctx, w.cfg.BatchSize)
	if err != nil {
		return 0, err
	}
	w.stats.TasksClaimed.Add(int64(len(tasks)))

	for _, t := range tasks {
		w.process(ctx, t)
	}
	return len(tasks), nil
}

func (w *Worker) process(ctx context.Context, t *task.Task) {
	log := w.log.WithTask(t.ID)
	start := time.Now()

	if err := w.queue.MarkRunning(ctx, t.ID); err != nil {
		// A cancel can land between claim and run; that is not a fault.
		log.Warn("mark_running_failed", nil, err)
		return
	}

	policy := w.policyFor(ctx, t)

	var resume *engine.RunState
	if t.Resolution != nil {
		var degraded bool
		resume, degraded = w.coordinator.Resume(ctx, t)
		if degraded {
			log.Warn("degraded_resume", map[string]any{"round": resume.Round}, nil)
		}
	}

	providerName := t.AgentProvider
	if providerName == "" {
		providerName = w.cfg.DefaultProvider
	}
	eng := engine.New(engine.Options{
		Capabilities: w.registry.Resolve(providerName),
		Fallback:     w.registry.Fallback(),
		HilMode:      w.cfg.HilMode,
		TriggerMode:  policy.TriggerMode,
		Logger:       log,
		CancelCheck: func(ctx context.Context) (bool, error) {
			current, err := w.queue.Get(ctx, t.ID)
			if err != nil {
				return false, err
			}
			return current.Status == task.StatusCancelled, nil
		},
	})

	var outcome *engine.Outcome
	err := w.recovery.WrapError(func() error {
		var runErr error
		outcome, runErr = eng.Run(ctx, t, resume)
		return runErr
	})

	switch {
	case errors.Is(err, engine.ErrCancelled):
		// Status is already CANCELLED; just drop the checkpoint.
		w.coordinator.Discard(ctx, t.ID)
		log.Info("task_cancelled", nil)

	case err != nil:
		retryable := engine.Retryable(err)
		if markErr := w.queue.MarkFailed(ctx, t.ID, err.Error(), retryable); markErr != nil {
			log.Error("mark_failed_error", nil, markErr)
			return
		}
		if retryable {
			w.stats.TaskRetries.Add(1)
		}
		current, getErr := w.queue.Get(ctx, t.ID)
		if getErr == nil && current.Status == task.StatusFailed {
			w.stats.TasksFailed.Add(1)
			w.coordinator.Discard(ctx, t.ID)
		}
		log.Error("task_failed", map[string]any{"retryable": retryable}, err)

	case outcome.Status == task.StatusHitlRequired:
		questions := w.coordinator.Interrupt(ctx, outcome.State, outcome.Questions, policy)
		if markErr := w.queue.MarkHitlRequired(ctx, t.ID, questions, outcome.Reason); markErr != nil {
			log.Error("mark_hitl_error", nil, markErr)
			return
		}
		w.stats.TasksEscalated.Add(1)
		w.stats.RoundsExecuted.Add(int64(outcome.State.Round))
		log.TimedEvent("task_escalated", start, map[string]any{
			"round":     outcome.State.Round,
			"questions": len(questions),
		})

	default:
		dir := w.writeArtifacts(ctx, outcome.State)
		if markErr := w.queue.MarkSucceeded(ctx, t.ID, dir); markErr != nil {
			log.Error("mark_succeeded_error", nil, markErr)
			return
		}
		w.coordinator.Discard(ctx, t.ID)
		w.stats.TasksSucceeded.Add(1)
		w.stats.RoundsExecuted.Add(int64(outcome.State.Round))
		log.TimedEvent("task_succeeded", start, map[string]any{
			"round":     outcome.State.Round,
			"artifacts": dir,
		})
	}
}

// policyFor loads the project escalation policy, defaulting when the task
// has no project or the lookup fails.
func (w *Worker) policyFor(ctx context.Context, t *task.Task) hitl.Policy {
	prefs := task.DefaultPreferences()
	if t.ProjectID != "" {
		if project, err := w.queue.GetProject(ctx, t.ProjectID); err == nil {
			prefs = project.Preferences
		}
	}
	return hitl.PolicyFromPreferences(prefs)
}

// writeArtifacts renders run output. Failures are logged, never fatal: the
// task still succeeds with the directory recorded.
func (w *Worker) writeArtifacts(ctx context.Context, state *engine.RunState) string {
	dir, err := artifacts.NewRunDir(w.cfg.OutputDir)
	if err != nil {
		w.log.Warn("run_dir_failed", nil, err)
		return ""
	}
	if err := w.sink.Write(ctx, state, dir); err != nil {
		w.log.Warn("artifact_write_failed", map[string]any{"dir": dir}, err)
	}
	return dir
}

// Package metrics provides a simple Prometheus-compatible metrics endpoint.
package metrics

import (
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

// Metrics holds runtime counters for the task lifecycle engine.
type Metrics struct {
	// Queue operations
	TasksEnqueued atomic.Int64
	TasksClaimed  atomic.Int64
	LeaseRequeues atomic.Int64

	// Task outcomes
	TasksSucceeded atomic.Int64
	TasksFailed    atomic.Int64
	TasksEscalated atomic.Int64
	TaskRetries    atomic.Int64

	// Engine activity
	RoundsExecuted    atomic.Int64
	ProviderFallbacks atomic.Int64

	// Checkpointing
	CheckpointFailures atomic.Int64

	startTime time.Time
}

var (
	global     *Metrics
	globalOnce sync.Once
)

// Global returns the global metrics instance
func Global() *Metrics {
	globalOnce.Do(func() {
		global = &Metrics{startTime: time.Now()}
	})
	return global
}

// Handler returns an HTTP handler serving Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")

		write := func(name, help string, value int64) {
			fmt.Fprintf(w, "# HELP %s %s\n", name, help)
			fmt.Fprintf(w, "# TYPE %s counter\n", name)
			fmt.Fprintf(w, "%s %d\n", name, value)
		}

		write("converge_tasks_enqueued_total", "Tasks enqueued", m.TasksEnqueued.Load())
		write("converge_tasks_claimed_total", "Tasks claimed by workers", m.TasksClaimed.Load())
		write("converge_lease_requeues_total", "Stale claims requeued", m.LeaseRequeues.Load())
		write("converge_tasks_succeeded_total", "Tasks finalized SUCCEEDED", m.TasksSucceeded.Load())
		write("converge_tasks_failed_total", "Tasks finalized FAILED", m.TasksFailed.Load())
		write("converge_tasks_escalated_total", "Tasks escalated to HITL", m.TasksEscalated.Load())
		write("converge_task_retries_total", "Retryable task failures requeued", m.TaskRetries.Load())
		write("converge_rounds_executed_total", "Orchestration rounds executed", m.RoundsExecuted.Load())
		write("converge_provider_fallbacks_total", "Capability calls degraded to heuristic", m.ProviderFallbacks.Load())
		write("converge_checkpoint_failures_total", "Checkpoint persistence failures", m.CheckpointFailures.Load())

		fmt.Fprintf(w, "# HELP converge_uptime_seconds Process uptime\n")
		fmt.Fprintf(w, "# TYPE converge_uptime_seconds gauge\n")
		fmt.Fprintf(w, "converge_uptime_seconds %d\n", int64(time.Since(m.startTime).Seconds()))
	})
}

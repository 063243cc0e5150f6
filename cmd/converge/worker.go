// Package main worker commands.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/joss/converge/internal/artifacts"
	"github.com/joss/converge/internal/config"
	"github.com/joss/converge/internal/engine"
	"github.com/joss/converge/internal/exec"
	"github.com/joss/converge/internal/hitl"
	"github.com/joss/converge/internal/provider"
	"github.com/joss/converge/internal/worker"
)

func workerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Worker commands",
		Long:  "Run and inspect task workers",
	}

	var (
		pollInterval time.Duration
		batchSize    int
		once         bool
	)

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run a worker loop",
		Long: `Start a worker that polls the queue, claims tasks, and drives the
round engine. Multiple workers may share one queue; claim exclusivity is
enforced by the queue itself.

Stop with SIGINT or SIGTERM; the worker finishes the task in flight and
exits.`,
		Run: func(cmd *cobra.Command, args []string) {
			env := config.Env()

			q, err := openQueue()
			if err != nil {
				exitErr(err)
			}
			defer q.Close()

			store, err := hitl.NewSQLiteStore(env.DBPath)
			if err != nil {
				exitErr(err)
			}
			defer store.Close()

			workerID := env.WorkerID
			if workerID == "" {
				hostname, _ := os.Hostname()
				workerID = fmt.Sprintf("%s-%d", hostname, os.Getpid())
			}

			if pollInterval <= 0 {
				pollInterval = env.PollInterval
			}
			if batchSize <= 0 {
				batchSize = env.BatchSize
			}

			registry := provider.NewDefaultRegistry(exec.NewOSRunner(), env.NoLLM)
			w := worker.New(q, registry, hitl.NewCoordinator(store), artifacts.NewFileSink(), worker.Config{
				ID:              workerID,
				PollInterval:    pollInterval,
				BatchSize:       batchSize,
				LeaseTimeout:    env.LeaseTimeout,
				HilMode:         engine.HilMode(env.HilMode),
				OutputDir:       env.OutputDir,
				DefaultProvider: env.AgentProvider,
			})

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if once {
				n, err := w.RunOnce(ctx)
				if err != nil {
					exitErr(err)
				}
				fmt.Printf("Processed %d task(s)\n", n)
				return
			}

			fmt.Printf("Worker %s polling every %s (Ctrl-C to stop)\n", workerID, pollInterval)
			if err := w.Run(ctx); err != nil && err != context.Canceled {
				exitErr(err)
			}
		},
	}

	runCmd.Flags().DurationVar(&pollInterval, "poll", 0, "Poll interval (default from CONVERGE_POLL_INTERVAL)")
	runCmd.Flags().IntVar(&batchSize, "batch", 0, "Tasks claimed per cycle (default from CONVERGE_BATCH_SIZE)")
	runCmd.Flags().BoolVar(&once, "once", false, "Run one poll cycle and exit")

	cmd.AddCommand(runCmd)
	return cmd
}

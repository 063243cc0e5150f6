// Package main HTTP server command.
package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/joss/converge/internal/config"
	"github.com/joss/converge/internal/server"
)

func serveCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		Long: `Expose the task queue over HTTP for external planners and review UIs.

Endpoints:
  POST /api/tasks                       submit a task
  GET  /api/tasks                       list tasks
  GET  /api/tasks/{id}                  task details
  POST /api/tasks/{id}/resolve          answer escalated questions
  POST /api/tasks/{id}/cancel           cancel a task
  GET  /healthz                         liveness check
  GET  /metrics                         Prometheus metrics`,
		Run: func(cmd *cobra.Command, args []string) {
			if addr == "" {
				addr = config.Env().ServerAddr
			}

			q, err := openQueue()
			if err != nil {
				exitErr(err)
			}
			defer q.Close()

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			fmt.Printf("Serving API on %s (Ctrl-C to stop)\n", addr)
			if err := server.New(q, addr).Serve(ctx); err != nil {
				exitErr(err)
			}
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (default from CONVERGE_SERVER_ADDR)")
	return cmd
}

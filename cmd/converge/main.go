// Package main provides the converge CLI entrypoint.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/joss/converge/internal/config"
	"github.com/joss/converge/internal/queue"
)

var version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:   "converge",
		Short: "Converge - bounded multi-repo task orchestration",
		Long: `Converge: a persistent task queue and round-based orchestration engine
for goals that span multiple repositories.

Submit a goal with 'converge task submit', run one or more workers with
'converge worker run', and answer escalated questions with
'converge task resolve'.`,
	}

	rootCmd.AddGroup(
		&cobra.Group{ID: "tasks", Title: "Tasks:"},
		&cobra.Group{ID: "runtime", Title: "Runtime:"},
	)

	taskC := taskCmd()
	taskC.GroupID = "tasks"
	rootCmd.AddCommand(taskC)

	projectC := projectCmd()
	projectC.GroupID = "tasks"
	rootCmd.AddCommand(projectC)

	workerC := workerCmd()
	workerC.GroupID = "runtime"
	rootCmd.AddCommand(workerC)

	serveC := serveCmd()
	serveC.GroupID = "runtime"
	rootCmd.AddCommand(serveC)

	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show converge version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("converge version %s\n", version)
		},
	}
}

// openQueue opens the task queue at the configured path, creating the data
// directory on first use.
func openQueue() (*queue.Queue, error) {
	env := config.Env()
	if err := config.EnsureDir(filepath.Dir(env.DBPath)); err != nil {
		return nil, err
	}
	return queue.New(env.DBPath, queue.WithMaxAttempts(env.MaxAttempts))
}

func exitErr(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}

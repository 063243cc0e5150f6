// Package main task lifecycle commands.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/joss/converge/internal/config"
	"github.com/joss/converge/internal/metrics"
	"github.com/joss/converge/internal/task"
)

func taskCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "task",
		Short: "Task lifecycle commands",
		Long:  "Submit, inspect, resolve, and cancel orchestration tasks",
	}
	cmd.AddCommand(taskSubmitCmd(), taskListCmd(), taskGetCmd(), taskResolveCmd(), taskCancelCmd())
	return cmd
}

func taskSubmitCmd() *cobra.Command {
	var (
		repos        []string
		projectID    string
		maxRounds    int
		provider     string
		instructions string
		asJSON       bool
	)

	cmd := &cobra.Command{
		Use:   "submit <goal>",
		Short: "Submit a goal for orchestration",
		Long: `Submit a goal spanning one or more repositories.

Examples:
  converge task submit "add rate limiting" -r ./api -r ./gateway
  converge task submit "migrate auth" -r ./api --max-rounds 3 --provider codex`,
		Args: cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			q, err := openQueue()
			if err != nil {
				exitErr(err)
			}
			defer q.Close()

			t := task.New(args[0], repos)
			t.ProjectID = projectID
			t.CustomInstructions = instructions
			if maxRounds > 0 {
				t.MaxRounds = maxRounds
			}
			if provider != "" {
				t.AgentProvider = provider
			} else {
				t.AgentProvider = config.Env().AgentProvider
			}

			ctx := context.Background()
			if projectID != "" {
				project, err := q.GetProject(ctx, projectID)
				if err != nil {
					exitErr(err)
				}
				project.ApplyDefaults(t)
			}

			id, err := q.Enqueue(ctx, t)
			if err != nil {
				exitErr(err)
			}
			metrics.Global().TasksEnqueued.Add(1)

			if asJSON {
				created, _ := q.Get(ctx, id)
				json.NewEncoder(os.Stdout).Encode(created)
				return
			}
			fmt.Printf("%s Task submitted: %s\n", color.GreenString("✓"), id)
			fmt.Printf("  Goal:  %s\n", t.Goal)
			fmt.Printf("  Repos: %s\n", strings.Join(t.Repos, ", "))
			fmt.Printf("\nWatch with: converge task get %s\n", id)
		},
	}

	cmd.Flags().StringArrayVarP(&repos, "repo", "r", nil, "Repository path (repeatable)")
	cmd.Flags().StringVarP(&projectID, "project", "p", "", "Project ID for escalation preferences")
	cmd.Flags().IntVar(&maxRounds, "max-rounds", 0, "Round budget before escalation")
	cmd.Flags().StringVar(&provider, "provider", "", "Agent provider (heuristic, codex, copilot)")
	cmd.Flags().StringVar(&instructions, "instructions", "", "Custom instructions passed to planners")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	cmd.MarkFlagRequired("repo")

	return cmd
}

func taskListCmd() *cobra.Command {
	var (
		status string
		limit  int
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		Run: func(cmd *cobra.Command, args []string) {
			q, err := openQueue()
			if err != nil {
				exitErr(err)
			}
			defer q.Close()

			tasks, err := q.List(context.Background(), task.Status(strings.ToUpper(status)), limit)
			if err != nil {
				exitErr(err)
			}

			if asJSON {
				json.NewEncoder(os.Stdout).Encode(tasks)
				return
			}
			if len(tasks) == 0 {
				fmt.Println("No tasks")
				return
			}

			fmt.Printf("TASKS: %d\n\n", len(tasks))
			for _, t := range tasks {
				fmt.Printf("  %s %s  %s\n", statusBadge(t.Status), t.ID, truncateStr(t.Goal, 60))
				if t.Status == task.StatusHitlRequired {
					fmt.Printf("      %d question(s) pending. Answer with: converge task resolve %s\n",
						len(t.Questions), t.ID)
				}
			}
		},
	}

	cmd.Flags().StringVarP(&status, "status", "s", "", "Filter by status (pending, running, hitl_required, ...)")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Max tasks to show")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")

	return cmd
}

func taskGetCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "get <task_id>",
		Short: "Show task details",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			q, err := openQueue()
			if err != nil {
				exitErr(err)
			}
			defer q.Close()

			t, err := q.Get(context.Background(), args[0])
			if err != nil {
				exitErr(err)
			}

			if asJSON {
				json.NewEncoder(os.Stdout).Encode(t)
				return
			}
			printTask(t)
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func taskResolveCmd() *cobra.Command {
	var answers []string

	cmd := &cobra.Command{
		Use:   "resolve <task_id>",
		Short: "Answer escalated questions and requeue the task",
		Long: `Answer the questions of a task waiting on human input.

Each --answer pairs a question ID with its answer. Use 'converge task get'
to see the pending question IDs.

Example:
  converge task resolve 3f1a... -a 9c2b...="keep the v1 endpoint"`,
		Args: cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			resolution := make(map[string]any, len(answers))
			for _, raw := range answers {
				key, value, ok := strings.Cut(raw, "=")
				if !ok {
					exitErr(fmt.Errorf("invalid answer %q, expected <question_id>=<answer>", raw))
				}
				resolution[key] = value
			}
			if len(resolution) == 0 {
				exitErr(fmt.Errorf("at least one --answer is required"))
			}

			q, err := openQueue()
			if err != nil {
				exitErr(err)
			}
			defer q.Close()

			t, err := q.Resolve(context.Background(), args[0], resolution)
			if err != nil {
				exitErr(err)
			}

			fmt.Printf("%s Task requeued: %s\n", color.GreenString("✓"), t.ID)
			fmt.Println("  A worker will resume it from the saved checkpoint.")
		},
	}

	cmd.Flags().StringArrayVarP(&answers, "answer", "a", nil, "Answer as <question_id>=<answer> (repeatable)")
	cmd.MarkFlagRequired("answer")

	return cmd
}

func taskCancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <task_id>",
		Short: "Cancel a task",
		Long:  "Cancel a task. Running tasks stop at the next round boundary.",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			q, err := openQueue()
			if err != nil {
				exitErr(err)
			}
			defer q.Close()

			if err := q.Cancel(context.Background(), args[0]); err != nil {
				exitErr(err)
			}
			fmt.Printf("%s Task cancelled: %s\n", color.YellowString("✓"), args[0])
		},
	}
}

func printTask(t *task.Task) {
	fmt.Printf("TASK: %s\n", t.ID)
	fmt.Printf("  Status:   %s\n", statusBadge(t.Status))
	fmt.Printf("  Goal:     %s\n", t.Goal)
	fmt.Printf("  Repos:    %s\n", strings.Join(t.Repos, ", "))
	fmt.Printf("  Rounds:   max %d\n", t.MaxRounds)
	fmt.Printf("  Attempts: %d\n", t.Attempts)
	if t.ProjectID != "" {
		fmt.Printf("  Project:  %s\n", t.ProjectID)
	}
	if t.AgentProvider != "" {
		fmt.Printf("  Provider: %s\n", t.AgentProvider)
	}
	if t.StatusReason != "" {
		fmt.Printf("  Reason:   %s\n", t.StatusReason)
	}
	if t.LastError != "" {
		fmt.Printf("  Error:    %s\n", color.RedString(t.LastError))
	}
	if t.ArtifactsDir != "" {
		fmt.Printf("  Output:   %s\n", t.ArtifactsDir)
	}

	if len(t.Questions) > 0 {
		fmt.Printf("\nQUESTIONS: %d\n", len(t.Questions))
		for i, qn := range t.Questions {
			fmt.Printf("  %d. [%s] %s\n", i+1, qn.ID, qn.Text)
			for _, opt := range qn.Options {
				fmt.Printf("       - %s\n", opt)
			}
		}
		fmt.Printf("\nAnswer with: converge task resolve %s -a <question_id>=<answer>\n", t.ID)
	}
}

func statusBadge(s task.Status) string {
	switch s {
	case task.StatusSucceeded:
		return color.GreenString(string(s))
	case task.StatusFailed:
		return color.RedString(string(s))
	case task.StatusHitlRequired:
		return color.YellowString(string(s))
	case task.StatusRunning, task.StatusClaimed:
		return color.CyanString(string(s))
	case task.StatusCancelled:
		return color.HiBlackString(string(s))
	default:
		return string(s)
	}
}

func truncateStr(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}

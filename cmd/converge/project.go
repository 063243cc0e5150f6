// Package main project management commands.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/joss/converge/internal/task"
)

func projectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "project",
		Short: "Project management",
		Long:  "Projects group tasks and carry escalation preferences",
	}
	cmd.AddCommand(projectCreateCmd(), projectListCmd(), projectShowCmd())
	return cmd
}

func projectCreateCmd() *cobra.Command {
	var prefsFile string

	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a project",
		Long: `Create a project, optionally loading preferences from a YAML file:

  planning_strategy: conservative
  hitl_trigger_mode: strict
  max_hitl_questions: 5
  prompt_preamble: "Prefer additive changes."`,
		Args: cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			project := task.NewProject(args[0])
			if prefsFile != "" {
				prefs, err := task.LoadPreferencesFile(prefsFile)
				if err != nil {
					exitErr(err)
				}
				project.Preferences = prefs
			}

			q, err := openQueue()
			if err != nil {
				exitErr(err)
			}
			defer q.Close()

			if err := q.CreateProject(context.Background(), project); err != nil {
				exitErr(err)
			}
			fmt.Printf("%s Project created: %s (%s)\n", color.GreenString("✓"), project.Name, project.ID)
		},
	}

	cmd.Flags().StringVarP(&prefsFile, "preferences", "f", "", "YAML preferences file")
	return cmd
}

func projectListCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List projects",
		Run: func(cmd *cobra.Command, args []string) {
			q, err := openQueue()
			if err != nil {
				exitErr(err)
			}
			defer q.Close()

			projects, err := q.ListProjects(context.Background())
			if err != nil {
				exitErr(err)
			}

			if asJSON {
				json.NewEncoder(os.Stdout).Encode(projects)
				return
			}
			if len(projects) == 0 {
				fmt.Println("No projects")
				return
			}

			fmt.Printf("PROJECTS: %d\n\n", len(projects))
			for _, p := range projects {
				fmt.Printf("  %s  %s (%s, max %d questions)\n",
					p.ID, p.Name, p.Preferences.HitlTriggerMode, p.Preferences.MaxHitlQuestions)
			}
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func projectShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <project_id>",
		Short: "Show project details",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			q, err := openQueue()
			if err != nil {
				exitErr(err)
			}
			defer q.Close()

			project, err := q.GetProject(context.Background(), args[0])
			if err != nil {
				exitErr(err)
			}

			fmt.Printf("PROJECT: %s\n", project.ID)
			fmt.Printf("  Name:       %s\n", project.Name)
			fmt.Printf("  Strategy:   %s\n", project.Preferences.PlanningStrategy)
			fmt.Printf("  Escalation: %s\n", project.Preferences.HitlTriggerMode)
			fmt.Printf("  Questions:  max %d\n", project.Preferences.MaxHitlQuestions)
			if project.Preferences.PromptPreamble != "" {
				fmt.Printf("  Preamble:   %s\n", project.Preferences.PromptPreamble)
			}
		},
	}
}

package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/autocode-hq/autocode/internal/config"
	"github.com/autocode-hq/autocode/internal/meta"
	"github.com/autocode-hq/autocode/internal/types"
)

var (
	initProjectName string
	initTeamID      string
)

var initCmd = &cobra.Command{
	Use:   "init [NAME]",
	Short: "Initialize audit-gated tracking in this project",
	Long: `Creates the local config and state files, ensures the workflow
labels exist in the tracker, creates the project and META issue, and
records everything in .task_project.json.`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		e, err := setup(true)
		if err != nil {
			fatal(err)
		}
		defer e.close()

		if e.state.Initialized {
			fatal(fmt.Errorf("project already initialized (state in %s)", e.state.Path()))
		}

		if err := e.tracker.Ping(rootCtx); err != nil {
			fatal(fmt.Errorf("tracker not reachable: %w", err))
		}

		for _, label := range types.WorkflowLabels {
			if err := e.tracker.EnsureLabel(rootCtx, label, "autocode workflow label"); err != nil {
				fatal(fmt.Errorf("failed to ensure label %s: %w", label, err))
			}
		}

		name := initProjectName
		if len(args) == 1 {
			name = args[0]
		}
		if name == "" {
			name = "autocode"
		}
		var teamIDs []string
		if initTeamID != "" {
			teamIDs = []string{initTeamID}
		}
		project, err := e.tracker.CreateProject(rootCtx, name, "Managed by autocode", teamIDs)
		if err != nil {
			fatal(fmt.Errorf("failed to create project: %w", err))
		}

		e.state.Initialized = true
		e.state.AdapterType = e.cfg.Adapter
		e.state.ProjectID = project.ID
		e.state.TeamID = initTeamID
		e.state.AddNote("project initialized")
		if err := e.state.Save(); err != nil {
			fatal(err)
		}

		metaIssue, err := meta.Ensure(rootCtx, e.tracker, e.state)
		if err != nil {
			fatal(err)
		}

		if err := config.Save(e.dir, e.cfg); err != nil {
			fatal(err)
		}

		if jsonOutput {
			emitJSON(map[string]string{
				"project_id":    project.ID,
				"meta_issue_id": metaIssue.ID,
				"adapter":       e.cfg.Adapter,
			})
			return
		}
		green := color.New(color.FgGreen).SprintFunc()
		fmt.Printf("%s Initialized %s project %q\n", green("✓"), e.cfg.Adapter, project.Name)
		fmt.Printf("  META issue: %s\n", metaIssue.ID)
		fmt.Printf("  State file: %s\n", e.state.Path())
	},
}

func init() {
	initCmd.Flags().StringVar(&initProjectName, "name", "", "project name")
	initCmd.Flags().StringVar(&initTeamID, "team", "", "team ID (linear only)")
	rootCmd.AddCommand(initCmd)
}

package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/autocode-hq/autocode/internal/audit"
	"github.com/autocode-hq/autocode/internal/types"
)

var (
	createDescription string
	createPriority    int
	createLabels      []string
)

var createCmd = &cobra.Command{
	Use:   "create TITLE",
	Short: "Create a new issue",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		e, err := setup(true)
		if err != nil {
			fatal(err)
		}
		defer e.close()

		if audit.ShouldTrigger(e.state, e.cfg.AuditThreshold) {
			fatal(fmt.Errorf("audit required: %d issue(s) pending audit (threshold %d); run 'autocode audit' first",
				e.state.PendingAudits(), e.cfg.AuditThreshold))
		}

		issue, err := e.controller.Create(rootCtx, &types.Issue{
			Title:       args[0],
			Description: createDescription,
			Status:      types.StatusTodo,
			Priority:    types.Priority(createPriority),
			ProjectID:   e.state.ProjectID,
			Labels:      createLabels,
		})
		if err != nil {
			fatal(err)
		}

		if jsonOutput {
			emitJSON(issue)
			return
		}
		green := color.New(color.FgGreen).SprintFunc()
		fmt.Printf("%s Created %s: %s [%s]\n", green("✓"), issue.ID, issue.Title, issue.Priority)
	},
}

func init() {
	createCmd.Flags().StringVar(&createDescription, "description", "", "issue description")
	createCmd.Flags().IntVarP(&createPriority, "priority", "p", int(types.PriorityMedium), "priority 1 (urgent) to 4 (low)")
	createCmd.Flags().StringSliceVarP(&createLabels, "label", "l", nil, "label (repeatable)")
	rootCmd.AddCommand(createCmd)
}

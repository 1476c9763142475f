package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/autocode-hq/autocode/internal/audit"
	"github.com/autocode-hq/autocode/internal/types"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show project progress and audit state",
	Run: func(cmd *cobra.Command, args []string) {
		e, err := setup(true)
		if err != nil {
			fatal(err)
		}
		defer e.close()

		var open, inProgress, done int
		issues, err := e.tracker.ListIssues(rootCtx, types.IssueFilter{ProjectID: e.state.ProjectID})
		if err != nil {
			fatal(err)
		}
		for _, issue := range issues {
			if issue.IsMeta() {
				continue
			}
			switch issue.Status {
			case types.StatusTodo:
				open++
			case types.StatusInProgress:
				inProgress++
			case types.StatusDone:
				done++
			}
		}

		if jsonOutput {
			emitJSON(map[string]any{
				"adapter":          e.state.AdapterType,
				"todo":             open,
				"in_progress":      inProgress,
				"done":             done,
				"pending_audits":   e.state.PendingAudits(),
				"audits_completed": e.state.AuditsCompleted,
				"last_audit_date":  e.state.LastAuditDate,
				"audit_required":   audit.ShouldTrigger(e.state, e.cfg.AuditThreshold),
				"active_claims":    len(e.registry.AllClaims()),
			})
			return
		}

		cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
		yellow := color.New(color.FgYellow).SprintFunc()
		gray := color.New(color.FgHiBlack).SprintFunc()

		fmt.Printf("\n%s\n\n", cyan("=== Project Status ==="))
		fmt.Printf("Adapter: %s\n", e.state.AdapterType)
		fmt.Printf("Issues:  %d todo, %d in progress, %d done\n", open, inProgress, done)
		fmt.Println()
		fmt.Printf("Audits completed: %d", e.state.AuditsCompleted)
		if e.state.LastAuditDate != "" {
			fmt.Printf(" %s", gray("(last "+e.state.LastAuditDate+")"))
		}
		fmt.Println()
		fmt.Printf("Pending audits:   %d (threshold %d)\n", e.state.PendingAudits(), e.cfg.AuditThreshold)
		if audit.ShouldTrigger(e.state, e.cfg.AuditThreshold) {
			fmt.Printf("%s Audit required before new feature work.\n", yellow("⚠"))
		}

		if claims := e.registry.AllClaims(); len(claims) > 0 {
			fmt.Println()
			fmt.Printf("Active claims:\n")
			for issueID, claim := range claims {
				fmt.Printf("  %s  worker %s\n", issueID, claim.WorkerID)
			}
		}
		fmt.Println()
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/autocode-hq/autocode/internal/audit"
	"github.com/autocode-hq/autocode/internal/meta"
)

var completeEvidence string

var completeCmd = &cobra.Command{
	Use:   "complete ISSUE_ID",
	Short: "Mark a claimed issue done with evidence",
	Long: `Moves an in-progress issue to done with the awaiting-audit label,
records the evidence as a comment, releases the claim, and bumps the
pending-audit counter. Evidence (--evidence) is mandatory.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		e, err := setup(true)
		if err != nil {
			fatal(err)
		}
		defer e.close()

		issue, err := e.controller.Complete(rootCtx, args[0], completeEvidence)
		if err != nil {
			fatal(err)
		}

		_ = meta.AppendSummary(rootCtx, e.tracker, e.state, &meta.SessionSummary{
			Worker:    e.actor,
			Completed: []string{issue.ID},
		})

		if jsonOutput {
			emitJSON(issue)
			return
		}
		green := color.New(color.FgGreen).SprintFunc()
		fmt.Printf("%s Completed %s: %s\n", green("✓"), issue.ID, issue.Title)
		fmt.Printf("  Pending audits: %d\n", e.state.PendingAudits())
		if audit.ShouldTrigger(e.state, e.cfg.AuditThreshold) {
			yellow := color.New(color.FgYellow).SprintFunc()
			fmt.Printf("  %s Audit threshold reached; the next session must be an audit.\n", yellow("⚠"))
		} else if audit.Approaching(e.state, e.cfg.AuditThreshold) {
			fmt.Printf("  Approaching audit threshold (%d/%d)\n",
				e.state.PendingAudits(), e.cfg.AuditThreshold)
		}
	},
}

func init() {
	completeCmd.Flags().StringVarP(&completeEvidence, "evidence", "e", "", "what was done and how it was verified (required)")
	_ = completeCmd.MarkFlagRequired("evidence")
	rootCmd.AddCommand(completeCmd)
}

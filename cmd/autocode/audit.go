package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/autocode-hq/autocode/internal/audit"
	"github.com/autocode-hq/autocode/internal/lifecycle"
	"github.com/autocode-hq/autocode/internal/meta"
)

var (
	auditCheck    bool
	auditVerdict  string
	auditPass     string
	auditFail     string
	auditFindings string
	auditCritical bool
)

var auditCmd = &cobra.Command{
	Use:   "audit [ISSUE_ID]",
	Short: "Run or inspect the audit queue",
	Long: `With no arguments, prints the audit worklist (done issues awaiting
audit, plus legacy done issues with no audit state).

  ISSUE_ID --verdict pass|fail   record an audit verdict; fail requires
                                 --findings and files a linked fix issue
                                 (--critical makes it urgent)
  --check                        only report whether an audit is required
                                 (exit code 1 when one is)`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		e, err := setup(true)
		if err != nil {
			fatal(err)
		}
		defer e.close()

		if len(args) == 1 {
			switch auditVerdict {
			case "pass":
				auditPass = args[0]
			case "fail":
				auditFail = args[0]
			default:
				fatal(fmt.Errorf("audit %s requires --verdict pass|fail", args[0]))
			}
		}

		switch {
		case auditCheck:
			runAuditCheck(e)
		case auditPass != "":
			runAuditVerdict(e, &lifecycle.AuditResult{IssueID: auditPass, Passed: true})
		case auditFail != "":
			runAuditVerdict(e, &lifecycle.AuditResult{
				IssueID:  auditFail,
				Passed:   false,
				Findings: auditFindings,
				Critical: auditCritical,
			})
		default:
			runAuditList(e)
		}
	},
}

// runAuditCheck exits 1 when an audit is required, so scripts can gate on
// the exit code alone.
func runAuditCheck(e *env) {
	required := audit.ShouldTrigger(e.state, e.cfg.AuditThreshold)
	if jsonOutput {
		emitJSON(map[string]any{
			"audit_required": required,
			"pending":        e.state.PendingAudits(),
			"threshold":      e.cfg.AuditThreshold,
		})
	} else if required {
		yellow := color.New(color.FgYellow).SprintFunc()
		fmt.Printf("%s Audit required: %d pending (threshold %d)\n",
			yellow("⚠"), e.state.PendingAudits(), e.cfg.AuditThreshold)
	} else {
		fmt.Printf("No audit required: %d pending (threshold %d)\n",
			e.state.PendingAudits(), e.cfg.AuditThreshold)
	}
	if required {
		e.close()
		os.Exit(1)
	}
}

func runAuditList(e *env) {
	session, err := audit.BuildSession(rootCtx, e.tracker, e.state.ProjectID)
	if err != nil {
		fatal(err)
	}
	if jsonOutput {
		emitJSON(session)
		return
	}
	fmt.Print(audit.Report(session, e.cfg.AuditThreshold))
}

func runAuditVerdict(e *env, result *lifecycle.AuditResult) {
	issue, err := e.controller.Audit(rootCtx, result)
	if err != nil {
		fatal(err)
	}

	_ = meta.AppendSummary(rootCtx, e.tracker, e.state, &meta.SessionSummary{
		Worker:  e.actor,
		Audited: []string{result.IssueID},
	})

	if jsonOutput {
		emitJSON(map[string]any{"issue": issue, "fix_issue": result.FixIssue})
		return
	}
	if result.Passed {
		green := color.New(color.FgGreen).SprintFunc()
		fmt.Printf("%s Audit passed: %s\n", green("✓"), issue.ID)
		return
	}
	red := color.New(color.FgRed).SprintFunc()
	fmt.Printf("%s Audit failed: %s reopened with has-bugs\n", red("✗"), issue.ID)
	fmt.Printf("  Fix tracked in %s [%s]\n", result.FixIssue.ID, result.FixIssue.Priority)
}

var backfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Pull legacy done issues into the audit queue",
	Long: `Labels every done issue that has no audit state with
awaiting-audit, so work completed before audit tracking existed gets
verified too.`,
	Run: func(cmd *cobra.Command, args []string) {
		e, err := setup(true)
		if err != nil {
			fatal(err)
		}
		defer e.close()

		backfilled, err := e.controller.Backfill(rootCtx)
		if err != nil {
			fatal(err)
		}
		if jsonOutput {
			emitJSON(backfilled)
			return
		}
		if len(backfilled) == 0 {
			fmt.Println("Nothing to backfill.")
			return
		}
		for _, issue := range backfilled {
			fmt.Printf("  %s: %s\n", issue.ID, issue.Title)
		}
		fmt.Printf("Backfilled %d issue(s) into the audit queue.\n", len(backfilled))
	},
}

func init() {
	auditCmd.Flags().BoolVar(&auditCheck, "check", false, "only report whether an audit is required")
	auditCmd.Flags().StringVar(&auditVerdict, "verdict", "", "audit verdict for the named issue: pass or fail")
	auditCmd.Flags().StringVar(&auditPass, "pass", "", "record a passing audit for the issue")
	auditCmd.Flags().StringVar(&auditFail, "fail", "", "record a failing audit for the issue")
	auditCmd.Flags().StringVar(&auditFindings, "findings", "", "audit findings (required with --fail)")
	auditCmd.Flags().BoolVar(&auditCritical, "critical", false, "findings are critical; fix issue becomes urgent")
	auditCmd.AddCommand(backfillCmd)
	rootCmd.AddCommand(auditCmd)
}

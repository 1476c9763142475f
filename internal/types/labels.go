package types

// Workflow label vocabulary. Membership in this set drives the audit-gating
// sub-state of done issues and the categorization of audit output.
const (
	// LabelAwaitingAudit marks a done issue that has not yet been reviewed
	// by an audit session.
	LabelAwaitingAudit = "awaiting-audit"

	// LabelAudited marks a done issue whose implementation passed audit.
	// This is the terminal state of the audit sub-machine.
	LabelAudited = "audited"

	// LabelHasBugs marks an issue whose audit failed. The issue's status
	// reverts to in_progress until the rework lands.
	LabelHasBugs = "has-bugs"

	// LabelFix marks issues created to repair a failed audit.
	LabelFix = "fix"

	// LabelAuditFinding marks issues filed directly from audit findings.
	LabelAuditFinding = "audit-finding"

	// LabelCriticalFixApplied marks issues where an urgent fix was applied
	// in-session rather than deferred to a fix issue.
	LabelCriticalFixApplied = "critical-fix-applied"

	// LabelRefactor marks cleanup work discovered during audits.
	LabelRefactor = "refactor"

	// LabelSystemic marks findings that recur across features and point at
	// a shared root cause.
	LabelSystemic = "systemic"
)

// WorkflowLabels lists every label in the fixed vocabulary, in the order the
// initializer seeds them into a fresh tracker.
var WorkflowLabels = []string{
	LabelAwaitingAudit,
	LabelAudited,
	LabelFix,
	LabelAuditFinding,
	LabelCriticalFixApplied,
	LabelHasBugs,
	LabelRefactor,
	LabelSystemic,
}

// MetaIssueTitle is the fixed title of the META issue used as a cross-session
// log. The META issue is created once by the initializer, never transitions
// status, and is never deleted.
const MetaIssueTitle = "[META] Project Progress Tracker"

// AuditStateLabels are the labels that form the audit sub-state machine on
// done issues. An issue carries at most one of these at a time.
var AuditStateLabels = []string{LabelAwaitingAudit, LabelAudited, LabelHasBugs}

// AuditStateLabel returns the current audit sub-state label of an issue, or
// empty string for a legacy done issue that was closed before audit gating
// existed (a compatibility case: it must be backfilled with awaiting-audit
// before it becomes eligible for audit).
func AuditStateLabel(issue *Issue) string {
	for _, state := range AuditStateLabels {
		if issue.HasLabel(state) {
			return state
		}
	}
	return ""
}

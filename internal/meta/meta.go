// Package meta manages the project's META progress issue: a pinned issue
// in the tracker that accumulates session summaries so progress survives
// outside any one machine's local state.
package meta

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/autocode-hq/autocode/internal/state"
	"github.com/autocode-hq/autocode/internal/tracker"
	"github.com/autocode-hq/autocode/internal/types"
)

const description = `Tracks overall project progress. Do not work on this issue.

Each work session appends a summary comment. The local .task_project.json
holds the counters; this issue is the cross-machine record.`

// Ensure finds or creates the META issue and records its ID in the
// project state. Idempotent: an existing issue (matched by state ID, then
// by title) is reused.
func Ensure(ctx context.Context, tr tracker.Tracker, st *state.ProjectState) (*types.Issue, error) {
	if st.MetaIssueID != "" {
		issue, err := tr.GetIssue(ctx, st.MetaIssueID)
		if err == nil {
			return issue, nil
		}
		// Stale ID: fall through and search by title.
	}

	issues, err := tr.ListIssues(ctx, types.IssueFilter{ProjectID: st.ProjectID})
	if err != nil {
		return nil, fmt.Errorf("failed to search for meta issue: %w", err)
	}
	for _, issue := range issues {
		if issue.IsMeta() {
			st.MetaIssueID = issue.ID
			return issue, st.Save()
		}
	}

	issue, err := tr.CreateIssue(ctx, &types.Issue{
		Title:       types.MetaIssueTitle,
		Description: description,
		Status:      types.StatusTodo,
		Priority:    types.PriorityLow,
		ProjectID:   st.ProjectID,
	}, "system")
	if err != nil {
		return nil, fmt.Errorf("failed to create meta issue: %w", err)
	}
	st.MetaIssueID = issue.ID
	return issue, st.Save()
}

// SessionSummary is one session's record for the META issue.
type SessionSummary struct {
	Worker    string
	Completed []string // issue IDs completed this session
	Audited   []string // issue IDs audited this session
	Notes     string
}

// AppendSummary posts a session summary comment to the META issue,
// ensuring the issue exists first.
func AppendSummary(ctx context.Context, tr tracker.Tracker, st *state.ProjectState, summary *SessionSummary) error {
	issue, err := Ensure(ctx, tr, st)
	if err != nil {
		return err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "## Session %s\n\n", time.Now().Format("2006-01-02 15:04"))
	if summary.Worker != "" {
		fmt.Fprintf(&b, "Worker: %s\n", summary.Worker)
	}
	if len(summary.Completed) > 0 {
		fmt.Fprintf(&b, "Completed: %s\n", strings.Join(summary.Completed, ", "))
	}
	if len(summary.Audited) > 0 {
		fmt.Fprintf(&b, "Audited: %s\n", strings.Join(summary.Audited, ", "))
	}
	fmt.Fprintf(&b, "\nCounters: %d total, %d awaiting audit, %d legacy, %d audits completed\n",
		st.TotalIssues, st.FeaturesAwaitingAudit, st.LegacyDoneWithoutAudit, st.AuditsCompleted)
	if summary.Notes != "" {
		fmt.Fprintf(&b, "\n%s\n", summary.Notes)
	}

	if _, err := tr.CreateComment(ctx, issue.ID, summary.Worker, b.String()); err != nil {
		return fmt.Errorf("failed to append session summary: %w", err)
	}
	return nil
}

// History returns the META issue's session summary comments, oldest first.
func History(ctx context.Context, tr tracker.Tracker, st *state.ProjectState) ([]*types.Comment, error) {
	issue, err := Ensure(ctx, tr, st)
	if err != nil {
		return nil, err
	}
	return tr.ListComments(ctx, issue.ID)
}

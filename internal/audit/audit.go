// Package audit decides when work must pause for verification and builds
// the worklist for an audit session.
//
// Completed issues accumulate the awaiting-audit label. Once the pending
// count (awaiting-audit plus legacy done-without-audit) reaches the
// threshold, no new feature work should start until an audit session has
// verified the backlog. The threshold default of 10 keeps audit sessions
// small enough to review each issue properly.
package audit

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/sync/semaphore"

	"github.com/autocode-hq/autocode/internal/state"
	"github.com/autocode-hq/autocode/internal/tracker"
	"github.com/autocode-hq/autocode/internal/types"
)

// DefaultThreshold is the pending-audit count that forces an audit session.
const DefaultThreshold = 10

// maxConcurrentUpdates bounds parallel tracker writes during batch audit
// updates, mostly for CLI-backed adapters where each update is a process.
const maxConcurrentUpdates = 4

// SessionKind is the kind of work the next session should do.
type SessionKind int

const (
	// SessionInitializer sets up the project before any work happens.
	SessionInitializer SessionKind = iota
	// SessionAudit verifies the completed backlog before new work starts.
	SessionAudit
	// SessionCoding is regular feature work.
	SessionCoding
)

func (k SessionKind) String() string {
	switch k {
	case SessionInitializer:
		return "initializer"
	case SessionAudit:
		return "audit"
	default:
		return "coding"
	}
}

// NextSession decides what the next session must be: initialization for an
// uninitialized project, an audit session once the pending count reaches
// the threshold, and ordinary coding work otherwise.
func NextSession(s *state.ProjectState, threshold int) SessionKind {
	if !s.Initialized {
		return SessionInitializer
	}
	if ShouldTrigger(s, threshold) {
		return SessionAudit
	}
	return SessionCoding
}

// ShouldTrigger reports whether the next session must be an audit session.
// A threshold of 0 uses DefaultThreshold.
func ShouldTrigger(s *state.ProjectState, threshold int) bool {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return s.PendingAudits() >= threshold
}

// Approaching reports whether the pending count is within 2 of the
// threshold, for warning output.
func Approaching(s *state.ProjectState, threshold int) bool {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	pending := s.PendingAudits()
	return pending < threshold && pending >= threshold-2
}

// Session is the worklist for one audit session.
type Session struct {
	// Awaiting are done issues carrying the awaiting-audit label,
	// highest priority first.
	Awaiting []*types.Issue

	// Legacy are done issues with no audit-state label at all, completed
	// before audit tracking existed.
	Legacy []*types.Issue
}

// Size is the total number of issues the session must cover.
func (s *Session) Size() int {
	return len(s.Awaiting) + len(s.Legacy)
}

// All returns the full worklist, awaiting-audit issues first.
func (s *Session) All() []*types.Issue {
	all := make([]*types.Issue, 0, s.Size())
	all = append(all, s.Awaiting...)
	all = append(all, s.Legacy...)
	return all
}

// BuildSession builds the audit worklist from the tracker.
func BuildSession(ctx context.Context, tr tracker.Tracker, projectID string) (*Session, error) {
	done := types.StatusDone
	issues, err := tr.ListIssues(ctx, types.IssueFilter{ProjectID: projectID, Status: &done})
	if err != nil {
		return nil, fmt.Errorf("failed to list done issues: %w", err)
	}

	session := &Session{}
	for _, issue := range issues {
		if issue.IsMeta() {
			continue
		}
		switch types.AuditStateLabel(issue) {
		case types.LabelAwaitingAudit:
			session.Awaiting = append(session.Awaiting, issue)
		case "":
			session.Legacy = append(session.Legacy, issue)
		}
	}

	for _, batch := range [][]*types.Issue{session.Awaiting, session.Legacy} {
		sort.SliceStable(batch, func(i, j int) bool {
			return batch[i].Priority < batch[j].Priority
		})
	}
	return session, nil
}

// MarkAudited swaps awaiting-audit for audited on every issue, fanning
// writes out under a concurrency cap. Failures are collected per issue;
// successful swaps are kept.
func MarkAudited(ctx context.Context, tr tracker.Tracker, issueIDs []string, actor string) error {
	return fanOut(ctx, issueIDs, func(ctx context.Context, issueID string) error {
		_, err := tr.UpdateIssue(ctx, &types.IssueUpdate{
			IssueID:      issueID,
			AddLabels:    []string{types.LabelAudited},
			RemoveLabels: []string{types.LabelAwaitingAudit},
		}, actor)
		return err
	})
}

// MarkAwaitingAudit adds the awaiting-audit label to every issue. Used by
// backfill to pull legacy done issues into the audit protocol.
func MarkAwaitingAudit(ctx context.Context, tr tracker.Tracker, issueIDs []string, actor string) error {
	return fanOut(ctx, issueIDs, func(ctx context.Context, issueID string) error {
		_, err := tr.UpdateIssue(ctx, &types.IssueUpdate{
			IssueID:   issueID,
			AddLabels: []string{types.LabelAwaitingAudit},
		}, actor)
		return err
	})
}

func fanOut(ctx context.Context, issueIDs []string, fn func(context.Context, string) error) error {
	sem := semaphore.NewWeighted(maxConcurrentUpdates)
	batchErr := &types.BatchError{Failed: make(map[string]error)}
	results := make(chan struct {
		id  string
		err error
	}, len(issueIDs))

	for _, issueID := range issueIDs {
		if err := sem.Acquire(ctx, 1); err != nil {
			return err
		}
		go func(id string) {
			defer sem.Release(1)
			results <- struct {
				id  string
				err error
			}{id, fn(ctx, id)}
		}(issueID)
	}

	for range issueIDs {
		r := <-results
		if r.err != nil {
			batchErr.Failed[r.id] = r.err
		}
	}
	if len(batchErr.Failed) > 0 {
		return batchErr
	}
	return nil
}

// Report renders a human-readable audit session summary.
func Report(session *Session, threshold int) string {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Audit session: %d issue(s) to verify (threshold %d)\n", session.Size(), threshold)
	if len(session.Awaiting) > 0 {
		fmt.Fprintf(&b, "\nAwaiting audit (%d):\n", len(session.Awaiting))
		for _, issue := range session.Awaiting {
			fmt.Fprintf(&b, "  [%s] %s: %s\n", issue.Priority, issue.ID, issue.Title)
		}
	}
	if len(session.Legacy) > 0 {
		fmt.Fprintf(&b, "\nLegacy done without audit (%d):\n", len(session.Legacy))
		for _, issue := range session.Legacy {
			fmt.Fprintf(&b, "  [%s] %s: %s\n", issue.Priority, issue.ID, issue.Title)
		}
	}
	return b.String()
}

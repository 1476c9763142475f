// Package lifecycle drives issues through the claim, complete, and audit
// protocol, keeping the tracker, the claim registry, and the local project
// state in step.
//
// The invariants it maintains:
//
//   - An issue is only worked by a claim holder; claiming checks the
//     registry before touching the tracker, so a lost race costs nothing.
//   - Completion always attaches the awaiting-audit label and evidence;
//     an issue can never become done without entering the audit queue.
//   - A failed audit never silently reopens work: it files a linked fix
//     issue and labels the original has-bugs.
package lifecycle

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/autocode-hq/autocode/internal/claims"
	"github.com/autocode-hq/autocode/internal/state"
	"github.com/autocode-hq/autocode/internal/tracker"
	"github.com/autocode-hq/autocode/internal/types"
)

// Controller coordinates lifecycle transitions for one worker.
type Controller struct {
	tracker  tracker.Tracker
	registry *claims.Registry
	state    *state.ProjectState
	actor    string
}

// New wires a controller over the given tracker, claim registry, and
// project state. The registry must already be registered.
func New(tr tracker.Tracker, registry *claims.Registry, st *state.ProjectState, actor string) *Controller {
	return &Controller{tracker: tr, registry: registry, state: st, actor: actor}
}

// Claim takes exclusive ownership of an issue and moves it to in_progress.
// The registry claim happens first: if another worker holds the issue or
// any of the declared files, the tracker is never touched and the caller
// should pick different work.
func (c *Controller) Claim(ctx context.Context, issueID string, files ...string) (*types.Issue, error) {
	// Guard before TryClaim: re-claiming our own issue must not reach the
	// rollback path, which would drop the live claim.
	if holder := c.registry.Holder(issueID); holder != "" && holder == c.registry.WorkerID() {
		return nil, fmt.Errorf("issue %s is already claimed by this worker", issueID)
	}
	if err := c.registry.TryClaim(issueID, files...); err != nil {
		return nil, err
	}

	issue, err := c.tracker.GetIssue(ctx, issueID)
	if err != nil {
		c.rollbackClaim(issueID)
		return nil, err
	}
	if issue.IsMeta() {
		c.rollbackClaim(issueID)
		return nil, fmt.Errorf("the meta issue cannot be claimed for work")
	}
	if issue.Status == types.StatusInProgress {
		c.rollbackClaim(issueID)
		return nil, fmt.Errorf("issue %s is already in_progress", issueID)
	}
	if !issue.Status.CanTransitionTo(types.StatusInProgress) {
		c.rollbackClaim(issueID)
		return nil, fmt.Errorf("issue %s is %s and cannot move to %s",
			issueID, issue.Status, types.StatusInProgress)
	}

	inProgress := types.StatusInProgress
	updated, err := c.tracker.UpdateIssue(ctx, &types.IssueUpdate{
		IssueID: issueID,
		Status:  &inProgress,
	}, c.actor)
	if err != nil {
		c.rollbackClaim(issueID)
		return nil, err
	}

	_, _ = c.tracker.CreateComment(ctx, issueID, c.actor,
		fmt.Sprintf("Claimed by worker %s", c.registry.WorkerID()))
	return updated, nil
}

func (c *Controller) rollbackClaim(issueID string) {
	_ = c.registry.Release(issueID)
}

// Complete finishes a claimed issue: records the evidence as a comment,
// moves it to done with the awaiting-audit label, bumps the pending-audit
// counter, and releases the claim. Evidence is mandatory; an unverifiable
// completion is not a completion.
func (c *Controller) Complete(ctx context.Context, issueID, evidence string) (*types.Issue, error) {
	if strings.TrimSpace(evidence) == "" {
		return nil, fmt.Errorf("completion requires evidence (what was done and how it was verified)")
	}
	if holder := c.registry.Holder(issueID); holder != "" && holder != c.registry.WorkerID() {
		return nil, fmt.Errorf("issue %s is claimed by worker %s", issueID, holder)
	}

	issue, err := c.tracker.GetIssue(ctx, issueID)
	if err != nil {
		return nil, err
	}
	if !issue.Status.CanTransitionTo(types.StatusDone) {
		return nil, fmt.Errorf("issue %s is %s and cannot move to %s; claim it first",
			issueID, issue.Status, types.StatusDone)
	}

	done := types.StatusDone
	updated, err := c.tracker.UpdateIssue(ctx, &types.IssueUpdate{
		IssueID:   issueID,
		Status:    &done,
		AddLabels: []string{types.LabelAwaitingAudit},
	}, c.actor)
	if err != nil {
		return nil, err
	}

	if _, err := c.tracker.CreateComment(ctx, issueID, c.actor,
		"Completed.\n\nEvidence:\n"+evidence); err != nil {
		return nil, fmt.Errorf("issue marked done but evidence comment failed: %w", err)
	}

	c.state.FeaturesAwaitingAudit++
	if err := c.state.Save(); err != nil {
		return nil, err
	}
	_ = c.registry.Release(issueID)
	return updated, nil
}

// AuditResult is the outcome of auditing one issue.
type AuditResult struct {
	IssueID  string
	Passed   bool
	Findings string // required on failure
	Critical bool   // failed audit found a severe defect

	// FixIssue is the linked issue created for a failed audit.
	FixIssue *types.Issue
}

// Audit records an audit verdict. The issue must be done and labeled
// awaiting-audit; legacy done issues enter the queue through Backfill.
//
// Pass: awaiting-audit is swapped for audited and the audit counters
// advance. Fail: the issue goes back to in_progress with has-bugs, and a
// fix issue is created carrying the findings (urgent when critical).
func (c *Controller) Audit(ctx context.Context, result *AuditResult) (*types.Issue, error) {
	issue, err := c.tracker.GetIssue(ctx, result.IssueID)
	if err != nil {
		return nil, err
	}
	if issue.Status != types.StatusDone {
		return nil, fmt.Errorf("issue %s is %s; only done issues can be audited", result.IssueID, issue.Status)
	}
	if types.AuditStateLabel(issue) != types.LabelAwaitingAudit {
		return nil, fmt.Errorf("issue %s is not awaiting audit; run backfill to enroll legacy done issues", result.IssueID)
	}

	if result.Passed {
		updated, err := c.tracker.UpdateIssue(ctx, &types.IssueUpdate{
			IssueID:      result.IssueID,
			AddLabels:    []string{types.LabelAudited},
			RemoveLabels: []string{types.LabelAwaitingAudit},
		}, c.actor)
		if err != nil {
			return nil, err
		}
		_, _ = c.tracker.CreateComment(ctx, result.IssueID, c.actor, "Audit passed.")

		c.state.FeaturesAwaitingAudit--
		if c.state.FeaturesAwaitingAudit < 0 {
			c.state.FeaturesAwaitingAudit = 0
		}
		c.state.AuditsCompleted++
		c.state.LastAuditDate = time.Now().Format("2006-01-02")
		if err := c.state.Save(); err != nil {
			return nil, err
		}
		return updated, nil
	}

	if strings.TrimSpace(result.Findings) == "" {
		return nil, fmt.Errorf("a failed audit requires findings")
	}

	// File the fix issue first: if it cannot be created, the original
	// stays untouched in the audit queue.
	priority := types.PriorityHigh
	if result.Critical {
		priority = types.PriorityUrgent
	}
	fixIssue, err := c.tracker.CreateIssue(ctx, &types.Issue{
		Title:       fmt.Sprintf("Fix audit findings in %s: %s", issue.ID, issue.Title),
		Description: fmt.Sprintf("Audit of %s found defects.\n\nFindings:\n%s", issue.ID, result.Findings),
		Status:      types.StatusTodo,
		Priority:    priority,
		ProjectID:   issue.ProjectID,
		Labels:      []string{types.LabelFix, types.LabelAuditFinding},
	}, c.actor)
	if err != nil {
		return nil, fmt.Errorf("failed to create fix issue: %w", err)
	}
	result.FixIssue = fixIssue

	inProgress := types.StatusInProgress
	updated, err := c.tracker.UpdateIssue(ctx, &types.IssueUpdate{
		IssueID:      result.IssueID,
		Status:       &inProgress,
		AddLabels:    []string{types.LabelHasBugs},
		RemoveLabels: []string{types.LabelAwaitingAudit},
	}, c.actor)
	if err != nil {
		return nil, err
	}
	_, _ = c.tracker.CreateComment(ctx, result.IssueID, c.actor,
		fmt.Sprintf("Audit failed; fix tracked in %s.\n\nFindings:\n%s", fixIssue.ID, result.Findings))

	c.state.FeaturesAwaitingAudit--
	if c.state.FeaturesAwaitingAudit < 0 {
		c.state.FeaturesAwaitingAudit = 0
	}
	c.state.AuditsCompleted++
	c.state.LastAuditDate = time.Now().Format("2006-01-02")
	c.state.TotalIssues++ // the fix issue
	if err := c.state.Save(); err != nil {
		return nil, err
	}
	return updated, nil
}

// Backfill pulls legacy done issues (no audit-state label) into the audit
// protocol by labeling them awaiting-audit. Returns the issues labeled.
func (c *Controller) Backfill(ctx context.Context) ([]*types.Issue, error) {
	done := types.StatusDone
	issues, err := c.tracker.ListIssues(ctx, types.IssueFilter{
		ProjectID: c.state.ProjectID,
		Status:    &done,
	})
	if err != nil {
		return nil, err
	}

	var backfilled []*types.Issue
	for _, issue := range issues {
		if issue.IsMeta() || types.AuditStateLabel(issue) != "" {
			continue
		}
		updated, err := c.tracker.UpdateIssue(ctx, &types.IssueUpdate{
			IssueID:   issue.ID,
			AddLabels: []string{types.LabelAwaitingAudit},
		}, c.actor)
		if err != nil {
			return backfilled, err
		}
		backfilled = append(backfilled, updated)
		c.state.FeaturesAwaitingAudit++
		if c.state.LegacyDoneWithoutAudit > 0 {
			c.state.LegacyDoneWithoutAudit--
		}
	}

	if len(backfilled) > 0 {
		if err := c.state.Save(); err != nil {
			return backfilled, err
		}
	}
	return backfilled, nil
}

// Create files a new issue in the tracker and bumps the local total.
func (c *Controller) Create(ctx context.Context, issue *types.Issue) (*types.Issue, error) {
	created, err := c.tracker.CreateIssue(ctx, issue, c.actor)
	if err != nil {
		return nil, err
	}
	c.state.TotalIssues++
	if err := c.state.Save(); err != nil {
		return created, err
	}
	return created, nil
}

// Release drops this worker's claim on an issue without changing its
// status. Used when abandoning work.
func (c *Controller) Release(issueID string) error {
	return c.registry.Release(issueID)
}

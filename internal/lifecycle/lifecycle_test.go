package lifecycle

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autocode-hq/autocode/internal/claims"
	"github.com/autocode-hq/autocode/internal/state"
	"github.com/autocode-hq/autocode/internal/tracker/sqlite"
	"github.com/autocode-hq/autocode/internal/types"
)

type fixture struct {
	ctx        context.Context
	dir        string
	store      *sqlite.Store
	registry   *claims.Registry
	state      *state.ProjectState
	controller *Controller
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()

	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	registry := claims.NewRegistry(dir)
	require.NoError(t, registry.Register())
	t.Cleanup(registry.Cleanup)

	st, err := state.Load(dir)
	require.NoError(t, err)
	st.Initialized = true

	return &fixture{
		ctx:        context.Background(),
		dir:        dir,
		store:      store,
		registry:   registry,
		state:      st,
		controller: New(store, registry, st, "worker-a"),
	}
}

func (f *fixture) createIssue(t *testing.T, title string) *types.Issue {
	t.Helper()
	issue, err := f.controller.Create(f.ctx, &types.Issue{
		Title:    title,
		Status:   types.StatusTodo,
		Priority: types.PriorityMedium,
	})
	require.NoError(t, err)
	return issue
}

func TestClaimMovesIssueToInProgress(t *testing.T) {
	f := newFixture(t)
	issue := f.createIssue(t, "build the thing")

	claimed, err := f.controller.Claim(f.ctx, issue.ID, "internal/thing.go")
	require.NoError(t, err)
	assert.Equal(t, types.StatusInProgress, claimed.Status)
	assert.Equal(t, f.registry.WorkerID(), f.registry.Holder(issue.ID))

	comments, err := f.store.ListComments(f.ctx, issue.ID)
	require.NoError(t, err)
	require.Len(t, comments, 1)
	assert.Contains(t, comments[0].Body, "Claimed by worker")
}

func TestClaimConflictLeavesTrackerUntouched(t *testing.T) {
	f := newFixture(t)
	issue := f.createIssue(t, "contested work")

	// A second worker in the same project dir claims first.
	second := claims.NewRegistry(f.dir)
	require.NoError(t, second.Register())
	defer second.Cleanup()
	require.NoError(t, second.TryClaim(issue.ID))

	_, err := f.controller.Claim(f.ctx, issue.ID)
	var conflict *claims.ErrConflict
	require.ErrorAs(t, err, &conflict)

	// The issue never left todo.
	got, err := f.store.GetIssue(f.ctx, issue.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusTodo, got.Status)
}

func TestClaimRollsBackOnMissingIssue(t *testing.T) {
	f := newFixture(t)
	_, err := f.controller.Claim(f.ctx, "ac-999")
	require.ErrorIs(t, err, types.ErrNotFound)
	assert.Empty(t, f.registry.Holder("ac-999"))
}

func TestCompleteRequiresEvidence(t *testing.T) {
	f := newFixture(t)
	issue := f.createIssue(t, "needs proof")
	_, err := f.controller.Claim(f.ctx, issue.ID)
	require.NoError(t, err)

	_, err = f.controller.Complete(f.ctx, issue.ID, "   ")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "evidence")
}

func TestCompleteFullFlow(t *testing.T) {
	f := newFixture(t)
	issue := f.createIssue(t, "shippable work")
	_, err := f.controller.Claim(f.ctx, issue.ID)
	require.NoError(t, err)

	completed, err := f.controller.Complete(f.ctx, issue.ID, "tests pass, manually verified output")
	require.NoError(t, err)

	assert.Equal(t, types.StatusDone, completed.Status)
	assert.True(t, completed.HasLabel(types.LabelAwaitingAudit))
	assert.Equal(t, 1, f.state.FeaturesAwaitingAudit)
	assert.Empty(t, f.registry.Holder(issue.ID), "claim released on completion")

	comments, err := f.store.ListComments(f.ctx, issue.ID)
	require.NoError(t, err)
	require.Len(t, comments, 2)
	assert.Contains(t, comments[1].Body, "Evidence")
}

func TestCompleteRejectsTodoIssue(t *testing.T) {
	f := newFixture(t)
	issue := f.createIssue(t, "unclaimed")

	_, err := f.controller.Complete(f.ctx, issue.ID, "some evidence")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "claim it first")
}

func TestAuditPass(t *testing.T) {
	f := newFixture(t)
	issue := f.createIssue(t, "good work")
	_, err := f.controller.Claim(f.ctx, issue.ID)
	require.NoError(t, err)
	_, err = f.controller.Complete(f.ctx, issue.ID, "verified")
	require.NoError(t, err)

	audited, err := f.controller.Audit(f.ctx, &AuditResult{IssueID: issue.ID, Passed: true})
	require.NoError(t, err)

	assert.True(t, audited.HasLabel(types.LabelAudited))
	assert.False(t, audited.HasLabel(types.LabelAwaitingAudit))
	assert.Equal(t, 0, f.state.FeaturesAwaitingAudit)
	assert.Equal(t, 1, f.state.AuditsCompleted)
	assert.NotEmpty(t, f.state.LastAuditDate)
}

func TestAuditFailCreatesFixIssue(t *testing.T) {
	f := newFixture(t)
	issue := f.createIssue(t, "buggy work")
	_, err := f.controller.Claim(f.ctx, issue.ID)
	require.NoError(t, err)
	_, err = f.controller.Complete(f.ctx, issue.ID, "verified")
	require.NoError(t, err)

	result := &AuditResult{
		IssueID:  issue.ID,
		Passed:   false,
		Findings: "error handling drops the wrapped cause",
		Critical: true,
	}
	reopened, err := f.controller.Audit(f.ctx, result)
	require.NoError(t, err)

	assert.Equal(t, types.StatusInProgress, reopened.Status)
	assert.True(t, reopened.HasLabel(types.LabelHasBugs))
	assert.False(t, reopened.HasLabel(types.LabelAwaitingAudit))

	require.NotNil(t, result.FixIssue)
	assert.Equal(t, types.StatusTodo, result.FixIssue.Status)
	assert.Equal(t, types.PriorityUrgent, result.FixIssue.Priority)
	assert.True(t, result.FixIssue.HasLabel(types.LabelFix))
	assert.True(t, result.FixIssue.HasLabel(types.LabelAuditFinding))
	assert.Contains(t, result.FixIssue.Description, "error handling drops")
}

func TestAuditFailRequiresFindings(t *testing.T) {
	f := newFixture(t)
	issue := f.createIssue(t, "work")
	_, err := f.controller.Claim(f.ctx, issue.ID)
	require.NoError(t, err)
	_, err = f.controller.Complete(f.ctx, issue.ID, "verified")
	require.NoError(t, err)

	_, err = f.controller.Audit(f.ctx, &AuditResult{IssueID: issue.ID, Passed: false})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "findings")
}

func TestAuditRejectsUnenrolledDoneIssue(t *testing.T) {
	f := newFixture(t)
	issue := f.createIssue(t, "shipped before audits existed")
	done := types.StatusDone
	_, err := f.store.UpdateIssue(f.ctx, &types.IssueUpdate{IssueID: issue.ID, Status: &done}, "worker")
	require.NoError(t, err)

	_, err = f.controller.Audit(f.ctx, &AuditResult{IssueID: issue.ID, Passed: true})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not awaiting audit")
}

func TestReclaimingOwnIssueKeepsClaim(t *testing.T) {
	f := newFixture(t)
	issue := f.createIssue(t, "work")
	_, err := f.controller.Claim(f.ctx, issue.ID)
	require.NoError(t, err)

	_, err = f.controller.Claim(f.ctx, issue.ID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already claimed by this worker")
	// The live claim must not be dropped by the failed re-claim.
	assert.Equal(t, f.registry.WorkerID(), f.registry.Holder(issue.ID))
}

func TestClaimRejectsInProgressIssue(t *testing.T) {
	f := newFixture(t)
	issue := f.createIssue(t, "someone else's work")
	inProgress := types.StatusInProgress
	_, err := f.store.UpdateIssue(f.ctx, &types.IssueUpdate{IssueID: issue.ID, Status: &inProgress}, "worker")
	require.NoError(t, err)

	_, err = f.controller.Claim(f.ctx, issue.ID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already in_progress")
	// The failed claim must not leave a lock behind.
	assert.Empty(t, f.registry.Holder(issue.ID))
}

func TestAuditRejectsNonDoneIssue(t *testing.T) {
	f := newFixture(t)
	issue := f.createIssue(t, "still open")

	_, err := f.controller.Audit(f.ctx, &AuditResult{IssueID: issue.ID, Passed: true})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "only done issues")
}

func TestBackfillLabelsLegacyIssues(t *testing.T) {
	f := newFixture(t)

	// A legacy done issue: done, no audit-state label.
	legacy := f.createIssue(t, "old done work")
	inProgress := types.StatusInProgress
	_, err := f.store.UpdateIssue(f.ctx, &types.IssueUpdate{IssueID: legacy.ID, Status: &inProgress}, "x")
	require.NoError(t, err)
	done := types.StatusDone
	_, err = f.store.UpdateIssue(f.ctx, &types.IssueUpdate{IssueID: legacy.ID, Status: &done}, "x")
	require.NoError(t, err)

	// A properly completed issue is not touched again.
	proper := f.createIssue(t, "proper work")
	_, err = f.controller.Claim(f.ctx, proper.ID)
	require.NoError(t, err)
	_, err = f.controller.Complete(f.ctx, proper.ID, "verified")
	require.NoError(t, err)

	f.state.LegacyDoneWithoutAudit = 1
	backfilled, err := f.controller.Backfill(f.ctx)
	require.NoError(t, err)

	require.Len(t, backfilled, 1)
	assert.Equal(t, legacy.ID, backfilled[0].ID)
	assert.True(t, backfilled[0].HasLabel(types.LabelAwaitingAudit))
	assert.Equal(t, 0, f.state.LegacyDoneWithoutAudit)
	assert.Equal(t, 2, f.state.FeaturesAwaitingAudit)
}

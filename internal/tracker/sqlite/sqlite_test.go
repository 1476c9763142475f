package sqlite

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autocode-hq/autocode/internal/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func ptr[T any](v T) *T { return &v }

func TestCreateAndGetIssue(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	issue := &types.Issue{
		Title:       "Implement login form",
		Description: "Email + password, client-side validation",
		Status:      types.StatusTodo,
		Priority:    types.PriorityHigh,
		Labels:      []string{"functional"},
	}

	created, err := store.CreateIssue(ctx, issue, "initializer")
	require.NoError(t, err)
	assert.Equal(t, "ac-1", created.ID)

	got, err := store.GetIssue(ctx, "ac-1")
	require.NoError(t, err)
	assert.Equal(t, "Implement login form", got.Title)
	assert.Equal(t, types.StatusTodo, got.Status)
	assert.Equal(t, types.PriorityHigh, got.Priority)
	assert.Equal(t, []string{"functional"}, got.Labels)
	assert.False(t, got.CreatedAt.IsZero())
}

func TestIssueIDsAreSequential(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for i, want := range []string{"ac-1", "ac-2", "ac-3"} {
		issue := &types.Issue{
			Title:    "Issue number " + want,
			Status:   types.StatusTodo,
			Priority: types.PriorityMedium,
		}
		created, err := store.CreateIssue(ctx, issue, "test")
		require.NoError(t, err, "issue %d", i)
		assert.Equal(t, want, created.ID)
	}
}

func TestGetIssueNotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.GetIssue(context.Background(), "ac-999")
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestUpdateIssueStatusAndLabels(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	created, err := store.CreateIssue(ctx, &types.Issue{
		Title:    "Add pagination",
		Status:   types.StatusInProgress,
		Priority: types.PriorityMedium,
	}, "worker-1")
	require.NoError(t, err)

	updated, err := store.UpdateIssue(ctx, &types.IssueUpdate{
		IssueID:   created.ID,
		Status:    ptr(types.StatusDone),
		AddLabels: []string{types.LabelAwaitingAudit},
	}, "worker-1")
	require.NoError(t, err)
	assert.Equal(t, types.StatusDone, updated.Status)
	assert.True(t, updated.HasLabel(types.LabelAwaitingAudit))

	// pass verdict: swap awaiting-audit for audited
	updated, err = store.UpdateIssue(ctx, &types.IssueUpdate{
		IssueID:      created.ID,
		AddLabels:    []string{types.LabelAudited},
		RemoveLabels: []string{types.LabelAwaitingAudit},
	}, "auditor")
	require.NoError(t, err)
	assert.True(t, updated.HasLabel(types.LabelAudited))
	assert.False(t, updated.HasLabel(types.LabelAwaitingAudit))
}

func TestUpdateIssueNotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.UpdateIssue(context.Background(), &types.IssueUpdate{
		IssueID: "ac-404",
		Status:  ptr(types.StatusDone),
	}, "worker-1")
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestListIssuesFilters(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	seed := []struct {
		title  string
		status types.Status
		labels []string
	}{
		{"feature A", types.StatusDone, []string{types.LabelAwaitingAudit}},
		{"feature B", types.StatusDone, []string{types.LabelAudited}},
		{"feature C", types.StatusTodo, nil},
		{"feature D", types.StatusDone, []string{types.LabelAwaitingAudit, "functional"}},
	}
	for _, s := range seed {
		_, err := store.CreateIssue(ctx, &types.Issue{
			Title:    s.title,
			Status:   s.status,
			Priority: types.PriorityMedium,
			Labels:   s.labels,
		}, "test")
		require.NoError(t, err)
	}

	done := types.StatusDone
	awaiting, err := store.ListIssues(ctx, types.IssueFilter{
		Status: &done,
		Labels: []string{types.LabelAwaitingAudit},
	})
	require.NoError(t, err)
	require.Len(t, awaiting, 2)

	// ALL labels must match
	both, err := store.ListIssues(ctx, types.IssueFilter{
		Labels: []string{types.LabelAwaitingAudit, "functional"},
	})
	require.NoError(t, err)
	require.Len(t, both, 1)
	assert.Equal(t, "feature D", both[0].Title)

	limited, err := store.ListIssues(ctx, types.IssueFilter{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestUpdateIssuesBatchPartialFailure(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	created, err := store.CreateIssue(ctx, &types.Issue{
		Title:    "real issue",
		Status:   types.StatusDone,
		Priority: types.PriorityMedium,
	}, "test")
	require.NoError(t, err)

	updates := []*types.IssueUpdate{
		{IssueID: created.ID, AddLabels: []string{types.LabelAudited}},
		{IssueID: "ac-404", AddLabels: []string{types.LabelAudited}},
	}

	results, err := store.UpdateIssuesBatch(ctx, updates, "auditor")
	require.Error(t, err)

	var batchErr *types.BatchError
	require.True(t, errors.As(err, &batchErr))
	assert.Contains(t, batchErr.Failed, "ac-404")

	// The successful update is not rolled back.
	require.Len(t, results, 1)
	assert.True(t, results[0].HasLabel(types.LabelAudited))
}

func TestComments(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	created, err := store.CreateIssue(ctx, &types.Issue{
		Title:    "commented issue",
		Status:   types.StatusTodo,
		Priority: types.PriorityLow,
	}, "test")
	require.NoError(t, err)

	_, err = store.CreateComment(ctx, created.ID, "worker-1", "Claimed, starting work")
	require.NoError(t, err)
	_, err = store.CreateComment(ctx, created.ID, "worker-1", "Implementation complete, tests pass")
	require.NoError(t, err)

	comments, err := store.ListComments(ctx, created.ID)
	require.NoError(t, err)
	require.Len(t, comments, 2)
	assert.Equal(t, "Claimed, starting work", comments[0].Body)
	assert.Equal(t, "Implementation complete, tests pass", comments[1].Body)
	assert.Equal(t, "worker-1", comments[0].Author)

	_, err = store.CreateComment(ctx, "ac-404", "worker-1", "nope")
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestLabelVocabulary(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, label := range types.WorkflowLabels {
		require.NoError(t, store.EnsureLabel(ctx, label, ""))
	}
	// Idempotent
	require.NoError(t, store.EnsureLabel(ctx, types.LabelAudited, "passed audit"))

	labels, err := store.ListLabels(ctx)
	require.NoError(t, err)
	assert.Len(t, labels, len(types.WorkflowLabels))
	assert.Contains(t, labels, types.LabelAwaitingAudit)
}

func TestProjects(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	teams, err := store.ListTeams(ctx)
	require.NoError(t, err)
	require.Len(t, teams, 1)

	project, err := store.CreateProject(ctx, "webapp", "Demo app build", []string{teams[0].ID})
	require.NoError(t, err)
	require.NotEmpty(t, project.ID)

	got, err := store.GetProject(ctx, project.ID)
	require.NoError(t, err)
	assert.Equal(t, "webapp", got.Name)
	assert.Equal(t, []string{"local"}, got.TeamIDs)

	all, err := store.ListProjects(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	_, err = store.GetProject(ctx, "missing")
	assert.ErrorIs(t, err, types.ErrNotFound)
}

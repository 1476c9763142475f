package meta

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autocode-hq/autocode/internal/state"
	"github.com/autocode-hq/autocode/internal/tracker/sqlite"
	"github.com/autocode-hq/autocode/internal/types"
)

func newFixture(t *testing.T) (*sqlite.Store, *state.ProjectState) {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	st, err := state.Load(t.TempDir())
	require.NoError(t, err)
	return store, st
}

func TestEnsureCreatesOnce(t *testing.T) {
	ctx := context.Background()
	store, st := newFixture(t)

	issue, err := Ensure(ctx, store, st)
	require.NoError(t, err)
	assert.Equal(t, types.MetaIssueTitle, issue.Title)
	assert.Equal(t, issue.ID, st.MetaIssueID)

	again, err := Ensure(ctx, store, st)
	require.NoError(t, err)
	assert.Equal(t, issue.ID, again.ID)

	issues, err := store.ListIssues(ctx, types.IssueFilter{})
	require.NoError(t, err)
	assert.Len(t, issues, 1)
}

func TestEnsureAdoptsExistingByTitle(t *testing.T) {
	ctx := context.Background()
	store, st := newFixture(t)

	existing, err := store.CreateIssue(ctx, &types.Issue{
		Title:    types.MetaIssueTitle,
		Status:   types.StatusTodo,
		Priority: types.PriorityLow,
	}, "someone")
	require.NoError(t, err)

	issue, err := Ensure(ctx, store, st)
	require.NoError(t, err)
	assert.Equal(t, existing.ID, issue.ID)
	assert.Equal(t, existing.ID, st.MetaIssueID)
}

func TestAppendSummaryAndHistory(t *testing.T) {
	ctx := context.Background()
	store, st := newFixture(t)
	st.TotalIssues = 5
	st.FeaturesAwaitingAudit = 2

	err := AppendSummary(ctx, store, st, &SessionSummary{
		Worker:    "worker-a",
		Completed: []string{"ac-3", "ac-4"},
		Notes:     "refactored the claim sweep",
	})
	require.NoError(t, err)

	history, err := History(ctx, store, st)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Contains(t, history[0].Body, "Completed: ac-3, ac-4")
	assert.Contains(t, history[0].Body, "2 awaiting audit")
	assert.Contains(t, history[0].Body, "refactored the claim sweep")
}

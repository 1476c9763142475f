package audit

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autocode-hq/autocode/internal/state"
	"github.com/autocode-hq/autocode/internal/tracker/sqlite"
	"github.com/autocode-hq/autocode/internal/types"
)

func TestShouldTrigger(t *testing.T) {
	tests := []struct {
		name      string
		awaiting  int
		legacy    int
		threshold int
		want      bool
	}{
		{"below threshold", 5, 0, 10, false},
		{"at threshold", 10, 0, 10, true},
		{"legacy counts toward threshold", 6, 4, 10, true},
		{"zero threshold uses default", 10, 0, 0, true},
		{"custom threshold", 5, 0, 5, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &state.ProjectState{
				FeaturesAwaitingAudit:  tt.awaiting,
				LegacyDoneWithoutAudit: tt.legacy,
			}
			assert.Equal(t, tt.want, ShouldTrigger(s, tt.threshold))
		})
	}
}

func TestApproaching(t *testing.T) {
	assert.False(t, Approaching(&state.ProjectState{FeaturesAwaitingAudit: 5}, 10))
	assert.True(t, Approaching(&state.ProjectState{FeaturesAwaitingAudit: 8}, 10))
	assert.True(t, Approaching(&state.ProjectState{FeaturesAwaitingAudit: 9}, 10))
	// At the threshold it has already triggered.
	assert.False(t, Approaching(&state.ProjectState{FeaturesAwaitingAudit: 10}, 10))
}

func newSeededStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func seedDone(t *testing.T, store *sqlite.Store, title string, priority types.Priority, labels []string) *types.Issue {
	t.Helper()
	ctx := context.Background()
	issue, err := store.CreateIssue(ctx, &types.Issue{
		Title:    title,
		Status:   types.StatusTodo,
		Priority: priority,
	}, "test")
	require.NoError(t, err)

	done := types.StatusDone
	issue, err = store.UpdateIssue(ctx, &types.IssueUpdate{
		IssueID:   issue.ID,
		Status:    &done,
		AddLabels: labels,
	}, "test")
	require.NoError(t, err)
	return issue
}

func TestNextSessionKind(t *testing.T) {
	s := &state.ProjectState{}
	assert.Equal(t, SessionInitializer, NextSession(s, 0))

	s.Initialized = true
	assert.Equal(t, SessionCoding, NextSession(s, 0))

	s.FeaturesAwaitingAudit = 7
	s.LegacyDoneWithoutAudit = 3
	assert.Equal(t, SessionAudit, NextSession(s, 0))
	assert.Equal(t, "audit", NextSession(s, 0).String())
}

func TestBuildSession(t *testing.T) {
	ctx := context.Background()
	store := newSeededStore(t)

	seedDone(t, store, "low awaiting", types.PriorityLow, []string{types.LabelAwaitingAudit})
	urgent := seedDone(t, store, "urgent awaiting", types.PriorityUrgent, []string{types.LabelAwaitingAudit})
	seedDone(t, store, "already audited", types.PriorityMedium, []string{types.LabelAudited})
	legacy := seedDone(t, store, "legacy done", types.PriorityMedium, nil)

	session, err := BuildSession(ctx, store, "")
	require.NoError(t, err)

	require.Len(t, session.Awaiting, 2)
	assert.Equal(t, urgent.ID, session.Awaiting[0].ID, "urgent issues audited first")
	require.Len(t, session.Legacy, 1)
	assert.Equal(t, legacy.ID, session.Legacy[0].ID)
	assert.Equal(t, 3, session.Size())
}

func TestMarkAudited(t *testing.T) {
	ctx := context.Background()
	store := newSeededStore(t)

	a := seedDone(t, store, "one", types.PriorityMedium, []string{types.LabelAwaitingAudit})
	b := seedDone(t, store, "two", types.PriorityMedium, []string{types.LabelAwaitingAudit})

	require.NoError(t, MarkAudited(ctx, store, []string{a.ID, b.ID}, "auditor"))

	for _, id := range []string{a.ID, b.ID} {
		issue, err := store.GetIssue(ctx, id)
		require.NoError(t, err)
		assert.True(t, issue.HasLabel(types.LabelAudited))
		assert.False(t, issue.HasLabel(types.LabelAwaitingAudit))
	}
}

func TestMarkAuditedPartialFailure(t *testing.T) {
	ctx := context.Background()
	store := newSeededStore(t)
	a := seedDone(t, store, "real", types.PriorityMedium, []string{types.LabelAwaitingAudit})

	err := MarkAudited(ctx, store, []string{a.ID, "ac-999"}, "auditor")
	var batchErr *types.BatchError
	require.True(t, errors.As(err, &batchErr))
	assert.Contains(t, batchErr.Failed, "ac-999")

	// The real issue was still swapped.
	issue, err := store.GetIssue(ctx, a.ID)
	require.NoError(t, err)
	assert.True(t, issue.HasLabel(types.LabelAudited))
}

func TestReport(t *testing.T) {
	session := &Session{
		Awaiting: []*types.Issue{{ID: "ac-1", Title: "thing", Priority: types.PriorityHigh}},
	}
	out := Report(session, 10)
	assert.Contains(t, out, "1 issue(s) to verify")
	assert.Contains(t, out, "ac-1")
}

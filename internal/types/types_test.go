package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueValidate(t *testing.T) {
	tests := []struct {
		name    string
		issue   Issue
		wantErr string
	}{
		{
			name:  "valid issue",
			issue: Issue{Title: "Add pagination", Status: StatusTodo, Priority: PriorityMedium},
		},
		{
			name:    "missing title",
			issue:   Issue{Title: "   ", Status: StatusTodo, Priority: PriorityMedium},
			wantErr: "title is required",
		},
		{
			name:    "invalid status",
			issue:   Issue{Title: "x", Status: Status("archived"), Priority: PriorityMedium},
			wantErr: "invalid status",
		},
		{
			name:    "invalid priority",
			issue:   Issue{Title: "x", Status: StatusTodo, Priority: Priority(0)},
			wantErr: "invalid priority",
		},
		{
			name: "duplicate labels",
			issue: Issue{
				Title: "x", Status: StatusTodo, Priority: PriorityLow,
				Labels: []string{LabelFix, LabelFix},
			},
			wantErr: "duplicate label",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.issue.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestStatusTransitions(t *testing.T) {
	// Forward edges only, plus the single audit-failure back edge.
	assert.True(t, StatusTodo.CanTransitionTo(StatusInProgress))
	assert.True(t, StatusInProgress.CanTransitionTo(StatusDone))
	assert.True(t, StatusDone.CanTransitionTo(StatusInProgress))

	assert.False(t, StatusTodo.CanTransitionTo(StatusDone))
	assert.False(t, StatusDone.CanTransitionTo(StatusTodo))
	assert.False(t, StatusInProgress.CanTransitionTo(StatusTodo))
	assert.False(t, StatusTodo.CanTransitionTo(StatusTodo))
}

func TestAuditStateLabel(t *testing.T) {
	issue := &Issue{Title: "x", Status: StatusDone, Priority: PriorityMedium}
	assert.Equal(t, "", AuditStateLabel(issue), "legacy done issue has no audit state")

	issue.Labels = []string{"functional", LabelAwaitingAudit}
	assert.Equal(t, LabelAwaitingAudit, AuditStateLabel(issue))

	issue.Labels = []string{LabelAudited}
	assert.Equal(t, LabelAudited, AuditStateLabel(issue))

	issue.Labels = []string{LabelHasBugs}
	assert.Equal(t, LabelHasBugs, AuditStateLabel(issue))
}

func TestIssueUpdateValidate(t *testing.T) {
	st := StatusDone
	upd := IssueUpdate{IssueID: "ac-1", Status: &st, AddLabels: []string{LabelAwaitingAudit}}
	require.NoError(t, upd.Validate())

	upd = IssueUpdate{Status: &st}
	require.Error(t, upd.Validate())

	upd = IssueUpdate{
		IssueID:   "ac-1",
		Labels:    []string{LabelAudited},
		AddLabels: []string{LabelFix},
	}
	require.Error(t, upd.Validate(), "replace-all and add are mutually exclusive")
}

func TestIsMeta(t *testing.T) {
	meta := &Issue{Title: MetaIssueTitle, Status: StatusTodo, Priority: PriorityLow}
	assert.True(t, meta.IsMeta())
	assert.False(t, (&Issue{Title: "regular"}).IsMeta())
}

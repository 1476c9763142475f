package github

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/autocode-hq/autocode/internal/types"
)

func mkGhIssue(state string, labels ...string) *ghIssue {
	gi := &ghIssue{
		Number:    42,
		Title:     "Add retry logic",
		Body:      "details",
		State:     state,
		CreatedAt: time.Now(),
	}
	for _, l := range labels {
		gi.Labels = append(gi.Labels, struct {
			Name string `json:"name"`
		}{Name: l})
	}
	return gi
}

func TestStatusFromStateAndLabels(t *testing.T) {
	assert.Equal(t, types.StatusTodo, mkGhIssue("OPEN").toIssue().Status)
	assert.Equal(t, types.StatusInProgress, mkGhIssue("OPEN", statusInProgressLabel).toIssue().Status)
	assert.Equal(t, types.StatusDone, mkGhIssue("CLOSED").toIssue().Status)

	// Closed wins over a stale in-progress label.
	assert.Equal(t, types.StatusDone, mkGhIssue("CLOSED", statusInProgressLabel).toIssue().Status)
}

func TestPriorityFromLabels(t *testing.T) {
	assert.Equal(t, types.PriorityUrgent, mkGhIssue("OPEN", "priority:urgent").toIssue().Priority)
	assert.Equal(t, types.PriorityLow, mkGhIssue("OPEN", "priority:low").toIssue().Priority)
	// No priority label defaults to medium.
	assert.Equal(t, types.PriorityMedium, mkGhIssue("OPEN").toIssue().Priority)
}

func TestSyntheticLabelsStripped(t *testing.T) {
	issue := mkGhIssue("OPEN", statusInProgressLabel, "priority:high", "awaiting-audit").toIssue()
	assert.Equal(t, []string{"awaiting-audit"}, issue.Labels)
	assert.Equal(t, "42", issue.ID)
}

func TestLabelDiffKeepsOverlapOutOfBothLists(t *testing.T) {
	add, remove := labelDiff(
		[]string{"awaiting-audit", "fix"},
		[]string{"fix", "audited"},
	)
	assert.Equal(t, []string{"audited"}, add)
	assert.Equal(t, []string{"awaiting-audit"}, remove)
	assert.NotContains(t, add, "fix")
	assert.NotContains(t, remove, "fix")
}

func TestNewRequiresOwnerAndRepo(t *testing.T) {
	_, err := New(nil, "", "repo")
	assert.Error(t, err)
	_, err = New(nil, "owner", "")
	assert.Error(t, err)
}

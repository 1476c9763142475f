package beads

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/autocode-hq/autocode/internal/types"
)

func TestLabelDiff(t *testing.T) {
	add, remove := labelDiff(
		[]string{"awaiting-audit", "backend"},
		[]string{"audited", "backend"},
	)
	assert.Equal(t, []string{"audited"}, add)
	assert.Equal(t, []string{"awaiting-audit"}, remove)

	add, remove = labelDiff(nil, []string{"fix"})
	assert.Equal(t, []string{"fix"}, add)
	assert.Empty(t, remove)

	add, remove = labelDiff([]string{"fix"}, nil)
	assert.Empty(t, add)
	assert.Equal(t, []string{"fix"}, remove)
}

func TestIssueMapping(t *testing.T) {
	bi := beadsIssue{
		ID:       "bd-a1b2",
		Title:    "Fix crash",
		Status:   "blocked",
		Priority: 0,
		Labels:   []string{"fix"},
	}
	issue := bi.toIssue()
	assert.Equal(t, types.StatusInProgress, issue.Status)
	assert.Equal(t, types.PriorityUrgent, issue.Priority)

	// Unknown values fall back to safe defaults.
	bi.Status = "weird"
	bi.Priority = 9
	issue = bi.toIssue()
	assert.Equal(t, types.StatusTodo, issue.Status)
	assert.Equal(t, types.PriorityMedium, issue.Priority)
}

func TestStatusMappingRoundTrip(t *testing.T) {
	for generic, bd := range statusToBeads {
		assert.Equal(t, generic, beadsToStatus[bd], "status %s", bd)
	}
}

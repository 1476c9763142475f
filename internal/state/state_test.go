package state

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autocode-hq/autocode/internal/tracker/sqlite"
	"github.com/autocode-hq/autocode/internal/types"
)

func TestLoadMissingFileYieldsZeroState(t *testing.T) {
	dir := t.TempDir()
	s, err := Load(dir)
	require.NoError(t, err)
	assert.False(t, s.Initialized)
	assert.Equal(t, filepath.Join(dir, FileName), s.Path())
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s, err := Load(dir)
	require.NoError(t, err)

	s.Initialized = true
	s.AdapterType = "sqlite"
	s.TotalIssues = 12
	s.FeaturesAwaitingAudit = 3
	s.AddNote("project initialized")
	require.NoError(t, s.Save())

	// File permissions stay private.
	info, err := os.Stat(s.Path())
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	loaded, err := Load(dir)
	require.NoError(t, err)
	assert.True(t, loaded.Initialized)
	assert.Equal(t, 12, loaded.TotalIssues)
	assert.Equal(t, 3, loaded.FeaturesAwaitingAudit)
	require.Len(t, loaded.Notes, 1)
	assert.Contains(t, loaded.Notes[0], "project initialized")
}

func TestLegacyFileFallback(t *testing.T) {
	dir := t.TempDir()
	legacy := ProjectState{Initialized: true, AdapterType: "linear", TotalIssues: 7}
	data, err := json.Marshal(legacy)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, legacyFileName), data, 0600))

	s, err := Load(dir)
	require.NoError(t, err)
	assert.True(t, s.Initialized)
	assert.Equal(t, 7, s.TotalIssues)

	// Save writes the new file name; the legacy file stops mattering.
	require.NoError(t, s.Save())
	_, err = os.Stat(filepath.Join(dir, FileName))
	require.NoError(t, err)
}

func TestPendingAudits(t *testing.T) {
	s := &ProjectState{FeaturesAwaitingAudit: 4, LegacyDoneWithoutAudit: 3}
	assert.Equal(t, 7, s.PendingAudits())
}

func TestReconcileAdoptsRemoteCounts(t *testing.T) {
	ctx := context.Background()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	defer store.Close()

	mk := func(title string, labels ...string) *types.Issue {
		issue, err := store.CreateIssue(ctx, &types.Issue{
			Title:    title,
			Status:   types.StatusTodo,
			Priority: types.PriorityMedium,
			Labels:   labels,
		}, "test")
		require.NoError(t, err)
		return issue
	}
	done := func(issue *types.Issue, labels []string) {
		st := types.StatusDone
		_, err := store.UpdateIssue(ctx, &types.IssueUpdate{
			IssueID:   issue.ID,
			Status:    &st,
			AddLabels: labels,
		}, "test")
		require.NoError(t, err)
	}

	mk("open work")
	done(mk("finished, unaudited"), []string{types.LabelAwaitingAudit})
	done(mk("finished, audited"), []string{types.LabelAudited})
	done(mk("legacy done"), nil)
	mk(types.MetaIssueTitle) // excluded from counts

	dir := t.TempDir()
	s, err := Load(dir)
	require.NoError(t, err)
	s.TotalIssues = 99
	s.FeaturesAwaitingAudit = 0

	drift, err := s.Reconcile(ctx, store)
	require.NoError(t, err)

	assert.Equal(t, 4, s.TotalIssues)
	assert.Equal(t, 1, s.FeaturesAwaitingAudit)
	assert.Equal(t, 1, s.LegacyDoneWithoutAudit)
	assert.Len(t, drift, 3)

	// No drift on a second pass.
	drift, err = s.Reconcile(ctx, store)
	require.NoError(t, err)
	assert.Empty(t, drift)
}

// Package state persists per-project progress tracking to a JSON file in
// the project root. The file is a convenience cache: the tracker is the
// source of truth, and Reconcile rebuilds the counters from it.
package state

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/autocode-hq/autocode/internal/tracker"
	"github.com/autocode-hq/autocode/internal/types"
)

const (
	// FileName is the state file, relative to the project root.
	FileName = ".task_project.json"

	// legacyFileName is read (never written) for projects created by
	// older tooling.
	legacyFileName = ".linear_project.json"
)

// ProjectState is the on-disk project record.
type ProjectState struct {
	Initialized bool   `json:"initialized"`
	AdapterType string `json:"adapter_type,omitempty"`
	TeamID      string `json:"team_id,omitempty"`
	ProjectID   string `json:"project_id,omitempty"`
	MetaIssueID string `json:"meta_issue_id,omitempty"`

	TotalIssues            int `json:"total_issues"`
	AuditsCompleted        int `json:"audits_completed"`
	FeaturesAwaitingAudit  int `json:"features_awaiting_audit"`
	LegacyDoneWithoutAudit int `json:"legacy_done_without_audit"`

	LastAuditDate string   `json:"last_audit_date,omitempty"`
	Notes         []string `json:"notes,omitempty"`

	path string
}

// PendingAudits is the total count of issues that an audit session must
// still cover.
func (s *ProjectState) PendingAudits() int {
	return s.FeaturesAwaitingAudit + s.LegacyDoneWithoutAudit
}

// Path returns the file the state was loaded from (or will be saved to).
func (s *ProjectState) Path() string {
	return s.path
}

// Load reads the project state from projectDir. A missing file yields a
// zero state bound to the default path, not an error; the legacy file name
// is consulted before giving up.
func Load(projectDir string) (*ProjectState, error) {
	path := filepath.Join(projectDir, FileName)
	state, err := loadFile(path)
	if err == nil {
		return state, nil
	}
	if !os.IsNotExist(err) {
		return nil, err
	}

	// Migrating projects keep their legacy file until the next Save.
	if legacy, lerr := loadFile(filepath.Join(projectDir, legacyFileName)); lerr == nil {
		legacy.path = path
		return legacy, nil
	}

	return &ProjectState{path: path}, nil
}

func loadFile(path string) (*ProjectState, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var state ProjectState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	state.path = path
	return &state, nil
}

// Save writes the state atomically (temp file then rename) with 0600
// permissions, matching the treatment of other local credential-adjacent
// files.
func (s *ProjectState) Save() error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal project state: %w", err)
	}
	data = append(data, '\n')

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("failed to write project state: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("failed to replace project state: %w", err)
	}
	return nil
}

// AddNote appends a timestamped note, keeping the most recent 50.
func (s *ProjectState) AddNote(note string) {
	stamped := fmt.Sprintf("[%s] %s", time.Now().Format("2006-01-02"), note)
	s.Notes = append(s.Notes, stamped)
	if len(s.Notes) > 50 {
		s.Notes = s.Notes[len(s.Notes)-50:]
	}
}

// Drift describes the difference between the persisted counters and the
// counters recomputed from the tracker.
type Drift struct {
	Field  string
	Local  int
	Remote int
}

func (d Drift) String() string {
	return fmt.Sprintf("%s: local=%d remote=%d", d.Field, d.Local, d.Remote)
}

// Reconcile recomputes every derived counter from the tracker and adopts
// the remote values. It returns the drift that was corrected. Local-only
// fields (adapter type, IDs, notes) are untouched.
func (s *ProjectState) Reconcile(ctx context.Context, tr tracker.Tracker) ([]Drift, error) {
	issues, err := tr.ListIssues(ctx, types.IssueFilter{ProjectID: s.ProjectID})
	if err != nil {
		return nil, fmt.Errorf("failed to list issues for reconcile: %w", err)
	}

	var total, awaiting, legacy int
	for _, issue := range issues {
		if issue.IsMeta() {
			continue
		}
		total++
		if issue.Status != types.StatusDone {
			continue
		}
		switch types.AuditStateLabel(issue) {
		case types.LabelAwaitingAudit:
			awaiting++
		case "":
			// Done before auditing existed.
			legacy++
		}
	}

	var drift []Drift
	if s.TotalIssues != total {
		drift = append(drift, Drift{Field: "total_issues", Local: s.TotalIssues, Remote: total})
		s.TotalIssues = total
	}
	if s.FeaturesAwaitingAudit != awaiting {
		drift = append(drift, Drift{Field: "features_awaiting_audit", Local: s.FeaturesAwaitingAudit, Remote: awaiting})
		s.FeaturesAwaitingAudit = awaiting
	}
	if s.LegacyDoneWithoutAudit != legacy {
		drift = append(drift, Drift{Field: "legacy_done_without_audit", Local: s.LegacyDoneWithoutAudit, Remote: legacy})
		s.LegacyDoneWithoutAudit = legacy
	}

	if len(drift) > 0 {
		if err := s.Save(); err != nil {
			return drift, err
		}
	}
	return drift, nil
}

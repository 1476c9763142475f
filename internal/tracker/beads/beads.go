// Package beads adapts the bd CLI (git-backed issue tracker) to the
// tracker interface. Every operation shells out to bd with --json and
// parses the output; the database itself is project-local, so there are no
// teams and a single synthetic project.
package beads

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/autocode-hq/autocode/internal/types"
)

// Status mapping. bd's "blocked" has no counterpart here and reads back as
// in_progress.
var statusToBeads = map[types.Status]string{
	types.StatusTodo:       "open",
	types.StatusInProgress: "in_progress",
	types.StatusDone:       "closed",
}

var beadsToStatus = map[string]types.Status{
	"open":        types.StatusTodo,
	"in_progress": types.StatusInProgress,
	"blocked":     types.StatusInProgress,
	"closed":      types.StatusDone,
}

// Priority mapping: bd uses 0 (critical) through 4 (backlog).
var priorityToBeads = map[types.Priority]int{
	types.PriorityUrgent: 0,
	types.PriorityHigh:   1,
	types.PriorityMedium: 2,
	types.PriorityLow:    3,
}

var beadsToPriority = map[int]types.Priority{
	0: types.PriorityUrgent,
	1: types.PriorityHigh,
	2: types.PriorityMedium,
	3: types.PriorityLow,
	4: types.PriorityLow,
}

// Store drives a project-local bd database through its CLI.
type Store struct {
	workspace string
}

// New verifies the bd CLI is reachable and returns an adapter rooted at
// workspace.
func New(ctx context.Context, workspace string) (*Store, error) {
	s := &Store{workspace: workspace}
	if _, err := s.run(ctx, "version"); err != nil {
		return nil, fmt.Errorf("bd CLI not available (install from github.com/steveyegge/beads): %w", err)
	}
	return s, nil
}

// run executes bd with --json appended and returns raw stdout.
func (s *Store) run(ctx context.Context, args ...string) ([]byte, error) {
	hasJSON := false
	for _, a := range args {
		if a == "--json" {
			hasJSON = true
			break
		}
	}
	if !hasJSON {
		args = append(args, "--json")
	}

	cmd := exec.CommandContext(ctx, "bd", args...)
	cmd.Dir = s.workspace
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if strings.Contains(msg, "not found") || strings.Contains(msg, "no such issue") {
			return nil, types.ErrNotFound
		}
		if msg == "" {
			msg = err.Error()
		}
		return nil, fmt.Errorf("bd %s: %s", args[0], msg)
	}
	return stdout.Bytes(), nil
}

// beadsIssue is the bd JSON issue shape (subset we consume).
type beadsIssue struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Status      string   `json:"status"`
	Priority    int      `json:"priority"`
	Labels      []string `json:"labels"`
	CreatedAt   string   `json:"created_at"`
	UpdatedAt   string   `json:"updated_at"`
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func (bi *beadsIssue) toIssue() *types.Issue {
	status, ok := beadsToStatus[strings.ToLower(bi.Status)]
	if !ok {
		status = types.StatusTodo
	}
	priority, ok := beadsToPriority[bi.Priority]
	if !ok {
		priority = types.PriorityMedium
	}
	return &types.Issue{
		ID:          bi.ID,
		Title:       bi.Title,
		Description: bi.Description,
		Status:      status,
		Priority:    priority,
		Labels:      bi.Labels,
		CreatedAt:   parseTime(bi.CreatedAt),
		UpdatedAt:   parseTime(bi.UpdatedAt),
	}
}

// ListTeams returns nothing: bd databases are project-local.
func (s *Store) ListTeams(ctx context.Context) ([]*types.Team, error) {
	return nil, nil
}

// CreateProject returns a synthetic project. The real database is created
// by running bd init in the workspace, which happens out of band.
func (s *Store) CreateProject(ctx context.Context, name, description string, teamIDs []string) (*types.Project, error) {
	return &types.Project{ID: name, Name: name, Description: description, CreatedAt: time.Now()}, nil
}

func (s *Store) GetProject(ctx context.Context, projectID string) (*types.Project, error) {
	out, err := s.run(ctx, "info")
	if err != nil {
		return nil, err
	}
	var info struct {
		DatabasePath string `json:"database_path"`
	}
	if err := json.Unmarshal(out, &info); err != nil || info.DatabasePath == "" {
		return nil, types.ErrNotFound
	}
	return &types.Project{ID: projectID, Name: projectID, Description: "local bd database"}, nil
}

func (s *Store) ListProjects(ctx context.Context) ([]*types.Project, error) {
	project, err := s.GetProject(ctx, "current")
	if err != nil {
		return nil, nil
	}
	return []*types.Project{project}, nil
}

// EnsureLabel is a no-op: bd labels exist only through use on issues.
func (s *Store) EnsureLabel(ctx context.Context, name, description string) error {
	return nil
}

func (s *Store) ListLabels(ctx context.Context) ([]string, error) {
	out, err := s.run(ctx, "label", "list-all")
	if err != nil {
		return nil, err
	}
	var result struct {
		Labels []struct {
			Name string `json:"name"`
		} `json:"labels"`
	}
	if err := json.Unmarshal(out, &result); err != nil {
		return nil, fmt.Errorf("failed to parse bd labels: %w", err)
	}
	names := make([]string, 0, len(result.Labels))
	for _, l := range result.Labels {
		names = append(names, l.Name)
	}
	return names, nil
}

func (s *Store) CreateIssue(ctx context.Context, issue *types.Issue, actor string) (*types.Issue, error) {
	if err := issue.Validate(); err != nil {
		return nil, err
	}

	args := []string{"create", issue.Title, "--type", "task",
		"--priority", strconv.Itoa(priorityToBeads[issue.Priority])}
	if issue.Description != "" {
		args = append(args, "--description", issue.Description)
	}
	if len(issue.Labels) > 0 {
		args = append(args, "--labels", strings.Join(issue.Labels, ","))
	}

	out, err := s.run(ctx, args...)
	if err != nil {
		return nil, err
	}
	var created beadsIssue
	if err := json.Unmarshal(out, &created); err != nil {
		return nil, fmt.Errorf("failed to parse bd create output: %w", err)
	}

	// bd always creates issues open; apply a non-default status after.
	if issue.Status != "" && issue.Status != types.StatusTodo {
		if _, err := s.run(ctx, "update", created.ID, "--status", statusToBeads[issue.Status]); err != nil {
			return nil, err
		}
	}
	return s.GetIssue(ctx, created.ID)
}

func (s *Store) GetIssue(ctx context.Context, issueID string) (*types.Issue, error) {
	out, err := s.run(ctx, "show", issueID)
	if err != nil {
		return nil, err
	}
	var bi beadsIssue
	if err := json.Unmarshal(out, &bi); err != nil {
		return nil, fmt.Errorf("failed to parse bd show output: %w", err)
	}
	if bi.ID == "" {
		return nil, types.ErrNotFound
	}
	return bi.toIssue(), nil
}

func (s *Store) UpdateIssue(ctx context.Context, update *types.IssueUpdate, actor string) (*types.Issue, error) {
	if err := update.Validate(); err != nil {
		return nil, err
	}

	current, err := s.GetIssue(ctx, update.IssueID)
	if err != nil {
		return nil, err
	}

	args := []string{"update", update.IssueID}
	changed := false
	if update.Title != nil {
		args = append(args, "--title", *update.Title)
		changed = true
	}
	if update.Status != nil {
		args = append(args, "--status", statusToBeads[*update.Status])
		changed = true
	}
	if update.Priority != nil {
		args = append(args, "--priority", strconv.Itoa(priorityToBeads[*update.Priority]))
		changed = true
	}
	if changed {
		if _, err := s.run(ctx, args...); err != nil {
			return nil, err
		}
	}

	add, remove := update.AddLabels, update.RemoveLabels
	if update.Labels != nil {
		add, remove = labelDiff(current.Labels, update.Labels)
	}
	// A label already present (or already absent) is not an error.
	for _, label := range add {
		_, _ = s.run(ctx, "label", "add", update.IssueID, label)
	}
	for _, label := range remove {
		_, _ = s.run(ctx, "label", "remove", update.IssueID, label)
	}

	return s.GetIssue(ctx, update.IssueID)
}

// labelDiff computes the add/remove sets to turn current into want.
func labelDiff(current, want []string) (add, remove []string) {
	has := make(map[string]bool, len(current))
	for _, l := range current {
		has[l] = true
	}
	wanted := make(map[string]bool, len(want))
	for _, l := range want {
		wanted[l] = true
		if !has[l] {
			add = append(add, l)
		}
	}
	for _, l := range current {
		if !wanted[l] {
			remove = append(remove, l)
		}
	}
	return add, remove
}

func (s *Store) UpdateIssuesBatch(ctx context.Context, updates []*types.IssueUpdate, actor string) ([]*types.Issue, error) {
	var updated []*types.Issue
	batchErr := &types.BatchError{Failed: make(map[string]error)}
	for _, update := range updates {
		issue, err := s.UpdateIssue(ctx, update, actor)
		if err != nil {
			batchErr.Failed[update.IssueID] = err
			continue
		}
		updated = append(updated, issue)
	}
	if len(batchErr.Failed) > 0 {
		return updated, batchErr
	}
	return updated, nil
}

func (s *Store) ListIssues(ctx context.Context, filter types.IssueFilter) ([]*types.Issue, error) {
	args := []string{"list"}
	if filter.Status != nil {
		args = append(args, "--status", statusToBeads[*filter.Status])
	}
	if len(filter.Labels) > 0 {
		// bd's --label flag is all-of semantics, matching the filter contract.
		args = append(args, "--label", strings.Join(filter.Labels, ","))
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 250
	}
	args = append(args, "--limit", strconv.Itoa(limit))

	out, err := s.run(ctx, args...)
	if err != nil {
		return nil, err
	}

	var list []beadsIssue
	if err := json.Unmarshal(out, &list); err != nil {
		// Some bd versions wrap the array.
		var wrapped struct {
			Issues []beadsIssue `json:"issues"`
		}
		if werr := json.Unmarshal(out, &wrapped); werr != nil {
			return nil, fmt.Errorf("failed to parse bd list output: %w", err)
		}
		list = wrapped.Issues
	}

	issues := make([]*types.Issue, 0, len(list))
	for i := range list {
		issues = append(issues, list[i].toIssue())
	}
	return issues, nil
}

func (s *Store) CreateComment(ctx context.Context, issueID, actor, body string) (*types.Comment, error) {
	if _, err := s.run(ctx, "comments", "add", issueID, body, "--author", actor); err != nil {
		return nil, err
	}
	return &types.Comment{
		ID:        fmt.Sprintf("%s-%d", issueID, time.Now().UnixNano()),
		IssueID:   issueID,
		Author:    actor,
		Body:      body,
		CreatedAt: time.Now(),
	}, nil
}

func (s *Store) ListComments(ctx context.Context, issueID string) ([]*types.Comment, error) {
	out, err := s.run(ctx, "comments", issueID)
	if err != nil {
		return nil, err
	}
	var raw []struct {
		ID        string `json:"id"`
		Author    string `json:"author"`
		Text      string `json:"text"`
		CreatedAt string `json:"created_at"`
	}
	if err := json.Unmarshal(out, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse bd comments output: %w", err)
	}
	comments := make([]*types.Comment, 0, len(raw))
	for _, c := range raw {
		comments = append(comments, &types.Comment{
			ID:        c.ID,
			IssueID:   issueID,
			Author:    c.Author,
			Body:      c.Text,
			CreatedAt: parseTime(c.CreatedAt),
		})
	}
	return comments, nil
}

func (s *Store) Ping(ctx context.Context) error {
	_, err := s.GetProject(ctx, "current")
	return err
}

func (s *Store) Close() error {
	return nil
}

// Package github adapts GitHub Issues to the tracker interface by shelling
// out to the gh CLI. GitHub only knows open/closed, so the three-state
// status and priorities are encoded in synthetic labels:
//
//	status:in-progress   open issue being worked on
//	priority:urgent .. priority:low
//
// The synthetic labels are stripped from the Labels slice on read; callers
// only ever see their own workflow labels.
package github

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

const statusInProgressLabel = "status:in-progress"

var priorityLabels = map[types.Priority]string{
	types.PriorityUrgent: "priority:urgent",
	types.PriorityHigh:   "priority:high",
	types.PriorityMedium: "priority:medium",
	types.PriorityLow:    "priority:low",
}

var labelToPriority = map[string]types.Priority{
	"priority:urgent": types.PriorityUrgent,
	"priority:high":   types.PriorityHigh,
	"priority:medium": types.PriorityMedium,
	"priority:low":    types.PriorityLow,
}

// Store drives issues in a single GitHub repository through the gh CLI.
type Store struct {
	repo string // owner/name
}

// New verifies the gh CLI is reachable and returns an adapter bound to
// owner/repo.
func New(ctx context.Context, owner, repo string) (*Store, error) {
	if owner == "" || repo == "" {
		return nil, fmt.Errorf("github adapter requires owner and repo")
	}
	s := &Store{repo: owner + "/" + repo}
	if _, err := s.run(ctx, "--version"); err != nil {
		return nil, fmt.Errorf("gh CLI not available: %w", err)
	}
	return s, nil
}

func (s *Store) run(ctx context.Context, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, "gh", args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		switch {
		case strings.Contains(msg, "Could not resolve"), strings.Contains(msg, "not found"):
			return nil, types.ErrNotFound
		case strings.Contains(msg, "API rate limit"):
			return nil, types.ErrRateLimited
		}
		if msg == "" {
			msg = err.Error()
		}
		return nil, fmt.Errorf("gh %s: %s", args[0], msg)
	}
	return stdout.Bytes(), nil
}

// ghIssue is the gh --json issue shape (fields we request).
type ghIssue struct {
	Number int    `json:"number"`
	Title  string `json:"title"`
	Body   string `json:"body"`
	State  string `json:"state"`
	Labels []struct {
		Name string `json:"name"`
	} `json:"labels"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (gi *ghIssue) toIssue() *types.Issue {
	status := types.StatusTodo
	if strings.EqualFold(gi.State, "closed") {
		status = types.StatusDone
	}
	priority := types.PriorityMedium

	var labels []string
	for _, l := range gi.Labels {
		if l.Name == statusInProgressLabel {
			if status == types.StatusTodo {
				status = types.StatusInProgress
			}
			continue
		}
		if p, ok := labelToPriority[l.Name]; ok {
			priority = p
			continue
		}
		labels = append(labels, l.Name)
	}

	return &types.Issue{
		ID:          strconv.Itoa(gi.Number),
		Title:       gi.Title,
		Description: gi.Body,
		Status:      status,
		Priority:    priority,
		Labels:      labels,
		CreatedAt:   gi.CreatedAt,
		UpdatedAt:   gi.UpdatedAt,
	}
}

// ListTeams returns nothing: the repo itself is the scope.
func (s *Store) ListTeams(ctx context.Context) ([]*types.Team, error) {
	return nil, nil
}

// CreateProject returns a synthetic project; the repository is the real
// container and already exists.
func (s *Store) CreateProject(ctx context.Context, name, description string, teamIDs []string) (*types.Project, error) {
	return &types.Project{ID: s.repo, Name: name, Description: description, CreatedAt: time.Now()}, nil
}

func (s *Store) GetProject(ctx context.Context, projectID string) (*types.Project, error) {
	out, err := s.run(ctx, "repo", "view", s.repo, "--json", "name,description")
	if err != nil {
		return nil, err
	}
	var repo struct {
		Name        string `json:"name"`
		Description string `json:"description"`
	}
	if err := json.Unmarshal(out, &repo); err != nil {
		return nil, fmt.Errorf("failed to parse gh repo view output: %w", err)
	}
	return &types.Project{ID: s.repo, Name: repo.Name, Description: repo.Description}, nil
}

func (s *Store) ListProjects(ctx context.Context) ([]*types.Project, error) {
	project, err := s.GetProject(ctx, s.repo)
	if err != nil {
		return nil, err
	}
	return []*types.Project{project}, nil
}

// EnsureLabel creates the label in the repository if it is missing.
func (s *Store) EnsureLabel(ctx context.Context, name, description string) error {
	_, err := s.run(ctx, "label", "create", name,
		"--repo", s.repo, "--description", description, "--force")
	return err
}

func (s *Store) ListLabels(ctx context.Context) ([]string, error) {
	out, err := s.run(ctx, "label", "list", "--repo", s.repo, "--json", "name", "--limit", "200")
	if err != nil {
		return nil, err
	}
	var raw []struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(out, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse gh label list output: %w", err)
	}
	names := make([]string, 0, len(raw))
	for _, l := range raw {
		names = append(names, l.Name)
	}
	return names, nil
}

func (s *Store) CreateIssue(ctx context.Context, issue *types.Issue, actor string) (*types.Issue, error) {
	if err := issue.Validate(); err != nil {
		return nil, err
	}

	labels := append([]string(nil), issue.Labels...)
	labels = append(labels, priorityLabels[issue.Priority])
	if issue.Status == types.StatusInProgress {
		labels = append(labels, statusInProgressLabel)
	}

	args := []string{"issue", "create", "--repo", s.repo,
		"--title", issue.Title, "--body", issue.Description,
		"--label", strings.Join(labels, ",")}

	out, err := s.run(ctx, args...)
	if err != nil {
		return nil, err
	}

	// gh issue create prints the issue URL; the number is its last segment.
	url := strings.TrimSpace(string(out))
	number := url[strings.LastIndex(url, "/")+1:]
	if _, err := strconv.Atoi(number); err != nil {
		return nil, fmt.Errorf("unexpected gh issue create output %q", url)
	}

	if issue.Status == types.StatusDone {
		if _, err := s.run(ctx, "issue", "close", number, "--repo", s.repo); err != nil {
			return nil, err
		}
	}
	return s.GetIssue(ctx, number)
}

func (s *Store) GetIssue(ctx context.Context, issueID string) (*types.Issue, error) {
	out, err := s.run(ctx, "issue", "view", issueID, "--repo", s.repo,
		"--json", "number,title,body,state,labels,createdAt,updatedAt")
	if err != nil {
		return nil, err
	}
	var gi ghIssue
	if err := json.Unmarshal(out, &gi); err != nil {
		return nil, fmt.Errorf("failed to parse gh issue view output: %w", err)
	}
	return gi.toIssue(), nil
}

func (s *Store) UpdateIssue(ctx context.Context, update *types.IssueUpdate, actor string) (*types.Issue, error) {
	if err := update.Validate(); err != nil {
		return nil, err
	}

	current, err := s.GetIssue(ctx, update.IssueID)
	if err != nil {
		return nil, err
	}

	var addLabels, removeLabels []string

	if update.Status != nil {
		switch *update.Status {
		case types.StatusDone:
			if current.Status != types.StatusDone {
				if _, err := s.run(ctx, "issue", "close", update.IssueID, "--repo", s.repo); err != nil {
					return nil, err
				}
			}
			removeLabels = append(removeLabels, statusInProgressLabel)
		case types.StatusInProgress:
			if current.Status == types.StatusDone {
				if _, err := s.run(ctx, "issue", "reopen", update.IssueID, "--repo", s.repo); err != nil {
					return nil, err
				}
			}
			addLabels = append(addLabels, statusInProgressLabel)
		case types.StatusTodo:
			if current.Status == types.StatusDone {
				if _, err := s.run(ctx, "issue", "reopen", update.IssueID, "--repo", s.repo); err != nil {
					return nil, err
				}
			}
			removeLabels = append(removeLabels, statusInProgressLabel)
		}
	}

	if update.Priority != nil {
		for _, label := range priorityLabels {
			if label != priorityLabels[*update.Priority] {
				removeLabels = append(removeLabels, label)
			}
		}
		addLabels = append(addLabels, priorityLabels[*update.Priority])
	}

	if update.Labels != nil {
		// Diff against the current set so a kept label never appears in
		// both --add-label and --remove-label.
		add, remove := labelDiff(current.Labels, update.Labels)
		addLabels = append(addLabels, add...)
		removeLabels = append(removeLabels, remove...)
	} else {
		addLabels = append(addLabels, update.AddLabels...)
		removeLabels = append(removeLabels, update.RemoveLabels...)
	}

	args := []string{"issue", "edit", update.IssueID, "--repo", s.repo}
	if update.Title != nil {
		args = append(args, "--title", *update.Title)
	}
	if len(addLabels) > 0 {
		args = append(args, "--add-label", strings.Join(addLabels, ","))
	}
	if len(removeLabels) > 0 {
		args = append(args, "--remove-label", strings.Join(removeLabels, ","))
	}
	if len(args) > 5 {
		if _, err := s.run(ctx, args...); err != nil {
			return nil, err
		}
	}

	return s.GetIssue(ctx, update.IssueID)
}

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
	limit := filter.Limit
	if limit <= 0 {
		limit = 250
	}
	args := []string{"issue", "list", "--repo", s.repo,
		"--json", "number,title,body,state,labels,createdAt,updatedAt",
		"--limit", strconv.Itoa(limit)}

	// Coarse open/closed filter; the in-progress refinement happens below.
	switch {
	case filter.Status == nil:
		args = append(args, "--state", "all")
	case *filter.Status == types.StatusDone:
		args = append(args, "--state", "closed")
	default:
		args = append(args, "--state", "open")
	}
	if len(filter.Labels) > 0 {
		args = append(args, "--label", strings.Join(filter.Labels, ","))
	}

	out, err := s.run(ctx, args...)
	if err != nil {
		return nil, err
	}
	var raw []ghIssue
	if err := json.Unmarshal(out, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse gh issue list output: %w", err)
	}

	issues := make([]*types.Issue, 0, len(raw))
	for i := range raw {
		issue := raw[i].toIssue()
		if filter.Status != nil && issue.Status != *filter.Status {
			continue
		}
		issues = append(issues, issue)
	}
	return issues, nil
}

func (s *Store) CreateComment(ctx context.Context, issueID, actor, body string) (*types.Comment, error) {
	attributed := fmt.Sprintf("**%s:** %s", actor, body)
	if _, err := s.run(ctx, "issue", "comment", issueID, "--repo", s.repo, "--body", attributed); err != nil {
		return nil, err
	}
	comments, err := s.ListComments(ctx, issueID)
	if err != nil || len(comments) == 0 {
		return &types.Comment{IssueID: issueID, Author: actor, Body: body, CreatedAt: time.Now()}, nil
	}
	return comments[len(comments)-1], nil
}

func (s *Store) ListComments(ctx context.Context, issueID string) ([]*types.Comment, error) {
	out, err := s.run(ctx, "issue", "view", issueID, "--repo", s.repo, "--json", "comments")
	if err != nil {
		return nil, err
	}
	var raw struct {
		Comments []struct {
			ID     string `json:"id"`
			Body   string `json:"body"`
			Author struct {
				Login string `json:"login"`
			} `json:"author"`
			CreatedAt time.Time `json:"createdAt"`
		} `json:"comments"`
	}
	if err := json.Unmarshal(out, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse gh comments output: %w", err)
	}
	comments := make([]*types.Comment, 0, len(raw.Comments))
	for _, c := range raw.Comments {
		comments = append(comments, &types.Comment{
			ID:        c.ID,
			IssueID:   issueID,
			Author:    c.Author.Login,
			Body:      c.Body,
			CreatedAt: c.CreatedAt,
		})
	}
	return comments, nil
}

func (s *Store) Ping(ctx context.Context) error {
	_, err := s.run(ctx, "auth", "status")
	return err
}

func (s *Store) Close() error {
	return nil
}

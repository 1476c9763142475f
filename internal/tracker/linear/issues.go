package linear

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/autocode-hq/autocode/internal/cache"
	"github.com/autocode-hq/autocode/internal/types"
)

// stateIDs resolves the workflow state UUID for each status on a team.
// Linear issues change status by moving between workflow states, so every
// status write needs these. Resolved once per team per process.
func (s *Store) stateIDs(ctx context.Context, teamID string) (map[types.Status]string, error) {
	if ids, ok := s.states[teamID]; ok {
		return ids, nil
	}

	var result struct {
		Team struct {
			States struct {
				Nodes []struct {
					ID   string `json:"id"`
					Type string `json:"type"`
				} `json:"nodes"`
			} `json:"states"`
		} `json:"team"`
	}
	query := `query TeamStates($teamId: String!) {
	  team(id: $teamId) {
	    states { nodes { id type } }
	  }
	}`
	if err := s.do(ctx, "TeamStates", query, map[string]any{"teamId": teamID}, &result); err != nil {
		return nil, err
	}

	ids := make(map[types.Status]string)
	for _, node := range result.Team.States.Nodes {
		status := stateTypeToStatus(node.Type)
		// Prefer completed over canceled for done, unstarted over
		// backlog for todo: first match of the preferred type wins.
		if _, taken := ids[status]; !taken || node.Type == "completed" || node.Type == "unstarted" {
			ids[status] = node.ID
		}
	}
	if len(ids) < 3 {
		return nil, fmt.Errorf("team %s is missing workflow states for some statuses", teamID)
	}
	s.states[teamID] = ids
	return ids, nil
}

// issueTeam resolves the owning team of an issue, needed for state moves.
func (s *Store) issueTeam(ctx context.Context, issueID string) (string, error) {
	var result struct {
		Issue struct {
			Team struct {
				ID string `json:"id"`
			} `json:"team"`
		} `json:"issue"`
	}
	query := `query IssueTeam($id: String!) { issue(id: $id) { team { id } } }`
	if err := s.do(ctx, "IssueTeam", query, map[string]any{"id": issueID}, &result); err != nil {
		return "", err
	}
	return result.Issue.Team.ID, nil
}

// labelIDs resolves (creating if needed) the UUIDs for label names. Linear
// attaches labels by ID, not name.
func (s *Store) labelIDs(ctx context.Context, teamID string, names []string) ([]string, error) {
	if len(names) == 0 {
		return nil, nil
	}

	var result struct {
		IssueLabels struct {
			Nodes []struct {
				ID   string `json:"id"`
				Name string `json:"name"`
			} `json:"nodes"`
		} `json:"issueLabels"`
	}
	query := `query Labels { issueLabels(first: 250) { nodes { id name } } }`
	if err := s.do(ctx, "Labels", query, nil, &result); err != nil {
		return nil, err
	}
	byName := make(map[string]string, len(result.IssueLabels.Nodes))
	for _, node := range result.IssueLabels.Nodes {
		byName[node.Name] = node.ID
	}

	ids := make([]string, 0, len(names))
	for _, name := range names {
		id, ok := byName[name]
		if !ok {
			created, err := s.createLabel(ctx, teamID, name, "")
			if err != nil {
				return nil, err
			}
			id = created
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (s *Store) createLabel(ctx context.Context, teamID, name, description string) (string, error) {
	var result struct {
		IssueLabelCreate struct {
			IssueLabel struct {
				ID string `json:"id"`
			} `json:"issueLabel"`
		} `json:"issueLabelCreate"`
	}
	mutation := `mutation CreateLabel($input: IssueLabelCreateInput!) {
	  issueLabelCreate(input: $input) { issueLabel { id } }
	}`
	input := map[string]any{"name": name}
	if teamID != "" {
		input["teamId"] = teamID
	}
	if description != "" {
		input["description"] = description
	}
	err := s.do(ctx, "CreateLabel", mutation, map[string]any{"input": input}, &result)
	if err != nil {
		return "", err
	}
	return result.IssueLabelCreate.IssueLabel.ID, nil
}

func (s *Store) EnsureLabel(ctx context.Context, name, description string) error {
	existing, err := s.ListLabels(ctx)
	if err != nil {
		return err
	}
	for _, l := range existing {
		if l == name {
			return nil
		}
	}
	_, err = s.createLabel(ctx, "", name, description)
	return err
}

func (s *Store) ListLabels(ctx context.Context) ([]string, error) {
	var names []string
	if s.cache.Get("labels", &names) {
		return names, nil
	}

	var result struct {
		IssueLabels struct {
			Nodes []wireLabel `json:"nodes"`
		} `json:"issueLabels"`
	}
	query := `query Labels { issueLabels(first: 250) { nodes { name } } }`
	if err := s.do(ctx, "Labels", query, nil, &result); err != nil {
		return nil, err
	}
	for _, node := range result.IssueLabels.Nodes {
		names = append(names, node.Name)
	}
	_ = s.cache.Set("labels", names, cache.TTLProjects)
	return names, nil
}

func (s *Store) CreateIssue(ctx context.Context, issue *types.Issue, actor string) (*types.Issue, error) {
	if err := issue.Validate(); err != nil {
		return nil, err
	}

	teamID, err := s.defaultTeamID(ctx)
	if err != nil {
		return nil, err
	}
	input := map[string]any{
		"title":    issue.Title,
		"priority": int(issue.Priority),
	}
	if teamID != "" {
		input["teamId"] = teamID
	}
	if issue.Description != "" {
		input["description"] = issue.Description
	}
	if issue.ProjectID != "" {
		input["projectId"] = issue.ProjectID
	}
	if len(issue.Labels) > 0 {
		ids, err := s.labelIDs(ctx, teamID, issue.Labels)
		if err != nil {
			return nil, err
		}
		input["labelIds"] = ids
	}

	var result struct {
		IssueCreate struct {
			Issue wireIssue `json:"issue"`
		} `json:"issueCreate"`
	}
	mutation := `mutation CreateIssue($input: IssueCreateInput!) {
	  issueCreate(input: $input) { issue {` + issueFields + ` } }
	}`
	if err := s.do(ctx, "CreateIssue", mutation, map[string]any{"input": input}, &result); err != nil {
		return nil, err
	}
	created := result.IssueCreate.Issue.toIssue()

	if issue.Status != "" && issue.Status != types.StatusTodo {
		st := issue.Status
		return s.UpdateIssue(ctx, &types.IssueUpdate{IssueID: created.ID, Status: &st}, actor)
	}

	s.invalidateIssueCaches(created.ID)
	return created, nil
}

func (s *Store) GetIssue(ctx context.Context, issueID string) (*types.Issue, error) {
	cacheKey := "issue:" + issueID
	var cached types.Issue
	if s.cache.Get(cacheKey, &cached) {
		return &cached, nil
	}

	var result struct {
		Issue wireIssue `json:"issue"`
	}
	query := `query GetIssue($id: String!) { issue(id: $id) {` + issueFields + ` } }`
	if err := s.do(ctx, "GetIssue", query, map[string]any{"id": issueID}, &result); err != nil {
		return nil, err
	}
	if result.Issue.ID == "" {
		return nil, types.ErrNotFound
	}
	issue := result.Issue.toIssue()
	_ = s.cache.Set(cacheKey, issue, cache.TTLIssue)
	return issue, nil
}

func (s *Store) UpdateIssue(ctx context.Context, update *types.IssueUpdate, actor string) (*types.Issue, error) {
	if err := update.Validate(); err != nil {
		return nil, err
	}

	current, err := s.GetIssue(ctx, update.IssueID)
	if err != nil {
		return nil, err
	}

	input := map[string]any{}
	if update.Title != nil {
		input["title"] = *update.Title
	}
	if update.Priority != nil {
		input["priority"] = int(*update.Priority)
	}
	if update.Status != nil && *update.Status != current.Status {
		teamID, err := s.issueTeam(ctx, update.IssueID)
		if err != nil {
			return nil, err
		}
		states, err := s.stateIDs(ctx, teamID)
		if err != nil {
			return nil, err
		}
		input["stateId"] = states[*update.Status]
	}

	want := update.Labels
	if want == nil && (len(update.AddLabels) > 0 || len(update.RemoveLabels) > 0) {
		want = applyLabelOps(current.Labels, update.AddLabels, update.RemoveLabels)
	}
	if want != nil {
		teamID, err := s.issueTeam(ctx, update.IssueID)
		if err != nil {
			return nil, err
		}
		ids, err := s.labelIDs(ctx, teamID, want)
		if err != nil {
			return nil, err
		}
		input["labelIds"] = ids
	}

	if len(input) == 0 {
		return current, nil
	}

	var result struct {
		IssueUpdate struct {
			Issue wireIssue `json:"issue"`
		} `json:"issueUpdate"`
	}
	mutation := `mutation UpdateIssue($id: String!, $input: IssueUpdateInput!) {
	  issueUpdate(id: $id, input: $input) { issue {` + issueFields + ` } }
	}`
	vars := map[string]any{"id": update.IssueID, "input": input}
	if err := s.do(ctx, "UpdateIssue", mutation, vars, &result); err != nil {
		return nil, err
	}

	s.invalidateIssueCaches(update.IssueID)
	return result.IssueUpdate.Issue.toIssue(), nil
}

// applyLabelOps merges add/remove operations into a full label set.
func applyLabelOps(current, add, remove []string) []string {
	drop := make(map[string]bool, len(remove))
	for _, l := range remove {
		drop[l] = true
	}
	result := make([]string, 0, len(current)+len(add))
	seen := make(map[string]bool)
	for _, l := range current {
		if !drop[l] && !seen[l] {
			result = append(result, l)
			seen[l] = true
		}
	}
	for _, l := range add {
		if !drop[l] && !seen[l] {
			result = append(result, l)
			seen[l] = true
		}
	}
	return result
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
	cacheKey := listCacheKey(filter)
	var cached []*types.Issue
	if s.cache.Get(cacheKey, &cached) {
		return cached, nil
	}

	where := map[string]any{}
	if filter.ProjectID != "" {
		where["project"] = map[string]any{"id": map[string]any{"eq": filter.ProjectID}}
	}
	if filter.Status != nil {
		var stateTypes []string
		switch *filter.Status {
		case types.StatusTodo:
			stateTypes = []string{"backlog", "unstarted", "triage"}
		case types.StatusInProgress:
			stateTypes = []string{"started"}
		case types.StatusDone:
			stateTypes = []string{"completed", "canceled"}
		}
		where["state"] = map[string]any{"type": map[string]any{"in": stateTypes}}
	}
	if len(filter.Labels) > 0 {
		// every() gives all-of semantics, matching the filter contract
		conds := make([]map[string]any, 0, len(filter.Labels))
		for _, l := range filter.Labels {
			conds = append(conds, map[string]any{
				"labels": map[string]any{"some": map[string]any{"name": map[string]any{"eq": l}}},
			})
		}
		where["and"] = conds
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 250
	}

	var result struct {
		Issues struct {
			Nodes []wireIssue `json:"nodes"`
		} `json:"issues"`
	}
	query := `query ListIssues($filter: IssueFilter, $first: Int!) {
	  issues(filter: $filter, first: $first) { nodes {` + issueFields + ` } }
	}`
	vars := map[string]any{"filter": where, "first": limit}
	if err := s.do(ctx, "ListIssues", query, vars, &result); err != nil {
		return nil, err
	}

	issues := make([]*types.Issue, 0, len(result.Issues.Nodes))
	for i := range result.Issues.Nodes {
		issues = append(issues, result.Issues.Nodes[i].toIssue())
	}
	_ = s.cache.Set(cacheKey, issues, cache.TTLIssues)
	return issues, nil
}

func listCacheKey(filter types.IssueFilter) string {
	status := "any"
	if filter.Status != nil {
		status = string(*filter.Status)
	}
	return fmt.Sprintf("issues:%s:%s:%s:%d",
		filter.ProjectID, status, strings.Join(filter.Labels, "+"), filter.Limit)
}

// invalidateIssueCaches drops the issue entry and every cached list after
// a write: lists may contain the stale issue.
func (s *Store) invalidateIssueCaches(issueID string) {
	_ = s.cache.Invalidate("issue:" + issueID)
	_, _ = s.cache.InvalidatePattern(`^issues:`)
}

func (s *Store) CreateComment(ctx context.Context, issueID, actor, body string) (*types.Comment, error) {
	// Resolve the identifier to the internal UUID the mutation needs.
	var lookup struct {
		Issue struct {
			ID string `json:"id"`
		} `json:"issue"`
	}
	query := `query IssueUUID($id: String!) { issue(id: $id) { id } }`
	if err := s.do(ctx, "IssueUUID", query, map[string]any{"id": issueID}, &lookup); err != nil {
		return nil, err
	}
	if lookup.Issue.ID == "" {
		return nil, types.ErrNotFound
	}

	var result struct {
		CommentCreate struct {
			Comment struct {
				ID        string    `json:"id"`
				Body      string    `json:"body"`
				CreatedAt time.Time `json:"createdAt"`
			} `json:"comment"`
		} `json:"commentCreate"`
	}
	mutation := `mutation CreateComment($input: CommentCreateInput!) {
	  commentCreate(input: $input) { comment { id body createdAt } }
	}`
	attributed := fmt.Sprintf("**%s:** %s", actor, body)
	vars := map[string]any{"input": map[string]any{"issueId": lookup.Issue.ID, "body": attributed}}
	if err := s.do(ctx, "CreateComment", mutation, vars, &result); err != nil {
		return nil, err
	}

	c := result.CommentCreate.Comment
	return &types.Comment{
		ID:        c.ID,
		IssueID:   issueID,
		Author:    actor,
		Body:      body,
		CreatedAt: c.CreatedAt,
	}, nil
}

func (s *Store) ListComments(ctx context.Context, issueID string) ([]*types.Comment, error) {
	var result struct {
		Issue struct {
			Comments struct {
				Nodes []struct {
					ID        string    `json:"id"`
					Body      string    `json:"body"`
					CreatedAt time.Time `json:"createdAt"`
					User      *struct {
						Name string `json:"name"`
					} `json:"user"`
				} `json:"nodes"`
			} `json:"comments"`
		} `json:"issue"`
	}
	query := `query IssueComments($id: String!) {
	  issue(id: $id) {
	    comments(first: 100, orderBy: createdAt) {
	      nodes { id body createdAt user { name } }
	    }
	  }
	}`
	if err := s.do(ctx, "IssueComments", query, map[string]any{"id": issueID}, &result); err != nil {
		return nil, err
	}

	comments := make([]*types.Comment, 0, len(result.Issue.Comments.Nodes))
	for _, node := range result.Issue.Comments.Nodes {
		author := ""
		if node.User != nil {
			author = node.User.Name
		}
		comments = append(comments, &types.Comment{
			ID:        node.ID,
			IssueID:   issueID,
			Author:    author,
			Body:      node.Body,
			CreatedAt: node.CreatedAt,
		})
	}
	return comments, nil
}

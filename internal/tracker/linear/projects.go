package linear

import (
	"context"
	"fmt"
	"time"

	"github.com/autocode-hq/autocode/internal/cache"
	"github.com/autocode-hq/autocode/internal/types"
)

func (s *Store) ListTeams(ctx context.Context) ([]*types.Team, error) {
	var cached []*types.Team
	if s.cache.Get("teams", &cached) {
		return cached, nil
	}

	var result struct {
		Teams struct {
			Nodes []struct {
				ID   string `json:"id"`
				Name string `json:"name"`
				Key  string `json:"key"`
			} `json:"nodes"`
		} `json:"teams"`
	}
	query := `query Teams { teams { nodes { id name key } } }`
	if err := s.do(ctx, "Teams", query, nil, &result); err != nil {
		return nil, err
	}

	teams := make([]*types.Team, 0, len(result.Teams.Nodes))
	for _, node := range result.Teams.Nodes {
		teams = append(teams, &types.Team{ID: node.ID, Name: node.Name, Key: node.Key})
	}
	_ = s.cache.Set("teams", teams, cache.TTLTeams)
	return teams, nil
}

// defaultTeamID picks the workspace's first team for operations that need
// one but were not given one (issue creation in particular).
func (s *Store) defaultTeamID(ctx context.Context) (string, error) {
	teams, err := s.ListTeams(ctx)
	if err != nil {
		return "", err
	}
	if len(teams) == 0 {
		return "", fmt.Errorf("linear workspace has no teams")
	}
	return teams[0].ID, nil
}

func (s *Store) CreateProject(ctx context.Context, name, description string, teamIDs []string) (*types.Project, error) {
	if len(teamIDs) == 0 {
		teamID, err := s.defaultTeamID(ctx)
		if err != nil {
			return nil, err
		}
		teamIDs = []string{teamID}
	}

	var result struct {
		ProjectCreate struct {
			Project struct {
				ID        string    `json:"id"`
				Name      string    `json:"name"`
				CreatedAt time.Time `json:"createdAt"`
			} `json:"project"`
		} `json:"projectCreate"`
	}
	mutation := `mutation CreateProject($input: ProjectCreateInput!) {
	  projectCreate(input: $input) { project { id name createdAt } }
	}`
	input := map[string]any{"name": name, "teamIds": teamIDs}
	if description != "" {
		input["description"] = description
	}
	if err := s.do(ctx, "CreateProject", mutation, map[string]any{"input": input}, &result); err != nil {
		return nil, err
	}

	_ = s.cache.Invalidate("projects")
	p := result.ProjectCreate.Project
	return &types.Project{
		ID:          p.ID,
		Name:        p.Name,
		Description: description,
		TeamIDs:     teamIDs,
		CreatedAt:   p.CreatedAt,
	}, nil
}

func (s *Store) GetProject(ctx context.Context, projectID string) (*types.Project, error) {
	var result struct {
		Project struct {
			ID          string    `json:"id"`
			Name        string    `json:"name"`
			Description string    `json:"description"`
			CreatedAt   time.Time `json:"createdAt"`
		} `json:"project"`
	}
	query := `query GetProject($id: String!) {
	  project(id: $id) { id name description createdAt }
	}`
	if err := s.do(ctx, "GetProject", query, map[string]any{"id": projectID}, &result); err != nil {
		return nil, err
	}
	if result.Project.ID == "" {
		return nil, types.ErrNotFound
	}
	return &types.Project{
		ID:          result.Project.ID,
		Name:        result.Project.Name,
		Description: result.Project.Description,
		CreatedAt:   result.Project.CreatedAt,
	}, nil
}

func (s *Store) ListProjects(ctx context.Context) ([]*types.Project, error) {
	var cached []*types.Project
	if s.cache.Get("projects", &cached) {
		return cached, nil
	}

	var result struct {
		Projects struct {
			Nodes []struct {
				ID          string    `json:"id"`
				Name        string    `json:"name"`
				Description string    `json:"description"`
				CreatedAt   time.Time `json:"createdAt"`
			} `json:"nodes"`
		} `json:"projects"`
	}
	query := `query Projects { projects(first: 100) { nodes { id name description createdAt } } }`
	if err := s.do(ctx, "Projects", query, nil, &result); err != nil {
		return nil, err
	}

	projects := make([]*types.Project, 0, len(result.Projects.Nodes))
	for _, node := range result.Projects.Nodes {
		projects = append(projects, &types.Project{
			ID:          node.ID,
			Name:        node.Name,
			Description: node.Description,
			CreatedAt:   node.CreatedAt,
		})
	}
	_ = s.cache.Set("projects", projects, cache.TTLProjects)
	return projects, nil
}

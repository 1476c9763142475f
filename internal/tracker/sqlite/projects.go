package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/autocode-hq/autocode/internal/types"
)

// ListTeams returns the single implicit local team. A local database has no
// team concept; the fixed team keeps the initializer flow uniform across
// adapters.
func (s *Store) ListTeams(ctx context.Context) ([]*types.Team, error) {
	return []*types.Team{
		{ID: "local", Name: "Local", Description: "Implicit team for local SQLite projects"},
	}, nil
}

// CreateProject creates a new project record.
func (s *Store) CreateProject(ctx context.Context, name, description string, teamIDs []string) (*types.Project, error) {
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("project name is required")
	}

	project := &types.Project{
		ID:          uuid.NewString(),
		Name:        name,
		Description: description,
		TeamIDs:     teamIDs,
		CreatedAt:   time.Now().UTC(),
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO projects (id, name, description, team_ids, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, project.ID, project.Name, project.Description, strings.Join(teamIDs, ","), project.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create project: %w", err)
	}

	return project, nil
}

// GetProject returns a project by ID.
func (s *Store) GetProject(ctx context.Context, projectID string) (*types.Project, error) {
	project := &types.Project{}
	var teamIDs string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, description, team_ids, created_at FROM projects WHERE id = ?
	`, projectID).Scan(&project.ID, &project.Name, &project.Description, &teamIDs, &project.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("project %s: %w", projectID, types.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get project: %w", err)
	}
	if teamIDs != "" {
		project.TeamIDs = strings.Split(teamIDs, ",")
	}
	return project, nil
}

// ListProjects returns all projects.
func (s *Store) ListProjects(ctx context.Context) ([]*types.Project, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, description, team_ids, created_at FROM projects ORDER BY created_at
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	defer rows.Close()

	var projects []*types.Project
	for rows.Next() {
		project := &types.Project{}
		var teamIDs string
		if err := rows.Scan(&project.ID, &project.Name, &project.Description, &teamIDs, &project.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan project: %w", err)
		}
		if teamIDs != "" {
			project.TeamIDs = strings.Split(teamIDs, ",")
		}
		projects = append(projects, project)
	}
	return projects, rows.Err()
}

// EnsureLabel registers a label in the vocabulary. Idempotent.
func (s *Store) EnsureLabel(ctx context.Context, name, description string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("label name is required")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO label_defs (name, description) VALUES (?, ?)
		ON CONFLICT(name) DO NOTHING
	`, name, description)
	if err != nil {
		return fmt.Errorf("failed to ensure label %s: %w", name, err)
	}
	return nil
}

// ListLabels returns the registered label vocabulary.
func (s *Store) ListLabels(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM label_defs ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list labels: %w", err)
	}
	defer rows.Close()

	var labels []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan label: %w", err)
		}
		labels = append(labels, name)
	}
	return labels, rows.Err()
}

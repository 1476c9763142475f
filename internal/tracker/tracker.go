// Package tracker abstracts over the task-management backends that autocode
// sessions coordinate through: a local SQLite store, the bd CLI (BEADS), the
// gh CLI (GitHub Issues), and the Linear GraphQL API.
//
// All coordination between agent sessions happens through the tracker (and
// the claim registry); it is the single source of truth. Adapters translate
// the generic vocabulary here into backend-specific terms.
package tracker

import (
	"context"

	"github.com/autocode-hq/autocode/internal/types"
)

// Sentinel errors, aliased from types so adapter packages can wrap them
// without importing this package. Match with errors.Is.
var (
	ErrNotFound             = types.ErrNotFound
	ErrRateLimited          = types.ErrRateLimited
	ErrReadOnly             = types.ErrReadOnly
	ErrImmutableDescription = types.ErrImmutableDescription
)

// Tracker is the interface all task-management adapters implement.
type Tracker interface {
	// Teams & projects
	ListTeams(ctx context.Context) ([]*types.Team, error)
	CreateProject(ctx context.Context, name, description string, teamIDs []string) (*types.Project, error)
	GetProject(ctx context.Context, projectID string) (*types.Project, error)
	ListProjects(ctx context.Context) ([]*types.Project, error)

	// Labels. EnsureLabel is idempotent: it creates the label if the backend
	// tracks labels as first-class objects and is a no-op otherwise.
	EnsureLabel(ctx context.Context, name, description string) error
	ListLabels(ctx context.Context) ([]string, error)

	// Issues
	CreateIssue(ctx context.Context, issue *types.Issue, actor string) (*types.Issue, error)
	GetIssue(ctx context.Context, issueID string) (*types.Issue, error)
	UpdateIssue(ctx context.Context, update *types.IssueUpdate, actor string) (*types.Issue, error)
	UpdateIssuesBatch(ctx context.Context, updates []*types.IssueUpdate, actor string) ([]*types.Issue, error)
	ListIssues(ctx context.Context, filter types.IssueFilter) ([]*types.Issue, error)

	// Comments (append-only)
	CreateComment(ctx context.Context, issueID, actor, body string) (*types.Comment, error)
	ListComments(ctx context.Context, issueID string) ([]*types.Comment, error)

	// Ping verifies the backend is reachable and initialized.
	Ping(ctx context.Context) error

	Close() error
}

// BatchError is aliased from types; see types.BatchError for the partial
// failure semantics of batch updates.
type BatchError = types.BatchError

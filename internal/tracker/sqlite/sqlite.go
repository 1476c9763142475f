// Package sqlite implements a local SQLite-backed tracker. It is the default
// backend: zero external services, suitable for single-repo projects and for
// tests (use ":memory:").
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/autocode-hq/autocode/internal/types"
)

// Store implements the tracker interface using SQLite
type Store struct {
	db          *sql.DB
	issuePrefix string // Prefix for issue IDs (e.g., "ac-")
}

// New creates a new SQLite tracker backend
func New(path string) (*Store, error) {
	issuePrefix := "ac-"

	dsn := "file::memory:"
	if path != ":memory:" {
		// Ensure directory exists
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}

		// Derive the ID prefix from the database filename,
		// e.g. ".autocode/autocode.db" → "autocode-"
		filename := filepath.Base(path)
		if prefix := strings.TrimSuffix(filename, filepath.Ext(filename)); prefix != "" {
			issuePrefix = prefix + "-"
		}

		dsn = "file:" + path
	}

	// WAL mode for better concurrency between agent processes
	db, err := sql.Open("sqlite3", dsn+"?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if path == ":memory:" {
		// Each pooled connection would otherwise see its own private
		// in-memory database.
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	// Config table value takes precedence over the filename-based prefix
	var configPrefix string
	err = db.QueryRow("SELECT value FROM config WHERE key = ?", "issue_prefix").Scan(&configPrefix)
	if err == nil && configPrefix != "" {
		issuePrefix = configPrefix + "-"
	} else if err != nil && err != sql.ErrNoRows {
		return nil, fmt.Errorf("failed to read issue_prefix from config: %w", err)
	}

	return &Store{
		db:          db,
		issuePrefix: issuePrefix,
	}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies the database is reachable
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// CreateIssue creates a new issue, generating an ID when none is set.
func (s *Store) CreateIssue(ctx context.Context, issue *types.Issue, actor string) (*types.Issue, error) {
	if err := issue.Validate(); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	now := time.Now().UTC()
	issue.CreatedAt = now
	issue.UpdatedAt = now

	// Acquire a dedicated connection: we issue raw "BEGIN IMMEDIATE"/"COMMIT"
	// and database/sql's pool would otherwise spread them over connections.
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire connection: %w", err)
	}
	defer conn.Close()

	// IMMEDIATE acquires the write lock up front, serializing ID generation
	// across concurrent writers. database/sql's BeginTx only does DEFERRED.
	if _, err := conn.ExecContext(ctx, "BEGIN IMMEDIATE"); err != nil {
		return nil, fmt.Errorf("failed to begin immediate transaction: %w", err)
	}

	committed := false
	defer func() {
		if !committed {
			_, _ = conn.ExecContext(context.Background(), "ROLLBACK")
		}
	}()

	if issue.ID == "" {
		prefix := strings.TrimSuffix(s.issuePrefix, "-")

		var nextID int
		err = conn.QueryRowContext(ctx, `
			INSERT INTO issue_counters (prefix, last_id)
			VALUES (?, 1)
			ON CONFLICT(prefix) DO UPDATE SET last_id = last_id + 1
			RETURNING last_id
		`, prefix).Scan(&nextID)
		if err != nil {
			return nil, fmt.Errorf("failed to generate next ID for prefix %s: %w", prefix, err)
		}

		issue.ID = fmt.Sprintf("%s-%d", prefix, nextID)
	}

	_, err = conn.ExecContext(ctx, `
		INSERT INTO issues (id, title, description, status, priority, project_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, NULLIF(?, ''), ?, ?)
	`, issue.ID, issue.Title, issue.Description, issue.Status, int(issue.Priority),
		issue.ProjectID, issue.CreatedAt, issue.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert issue: %w", err)
	}

	for _, label := range issue.Labels {
		if _, err := conn.ExecContext(ctx, `
			INSERT OR IGNORE INTO labels (issue_id, label) VALUES (?, ?)
		`, issue.ID, label); err != nil {
			return nil, fmt.Errorf("failed to add label %s: %w", label, err)
		}
	}

	if _, err := conn.ExecContext(ctx, "COMMIT"); err != nil {
		return nil, fmt.Errorf("failed to commit: %w", err)
	}
	committed = true

	return issue, nil
}

// GetIssue returns an issue by ID, including its labels.
func (s *Store) GetIssue(ctx context.Context, issueID string) (*types.Issue, error) {
	issue := &types.Issue{}
	var priority int
	var projectID sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, title, description, status, priority, project_id, created_at, updated_at
		FROM issues WHERE id = ?
	`, issueID).Scan(&issue.ID, &issue.Title, &issue.Description, &issue.Status,
		&priority, &projectID, &issue.CreatedAt, &issue.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("issue %s: %w", issueID, types.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get issue: %w", err)
	}
	issue.Priority = types.Priority(priority)
	issue.ProjectID = projectID.String

	labels, err := s.issueLabels(ctx, issueID)
	if err != nil {
		return nil, err
	}
	issue.Labels = labels

	return issue, nil
}

func (s *Store) issueLabels(ctx context.Context, issueID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT label FROM labels WHERE issue_id = ? ORDER BY label
	`, issueID)
	if err != nil {
		return nil, fmt.Errorf("failed to get labels: %w", err)
	}
	defer rows.Close()

	var labels []string
	for rows.Next() {
		var label string
		if err := rows.Scan(&label); err != nil {
			return nil, fmt.Errorf("failed to scan label: %w", err)
		}
		labels = append(labels, label)
	}
	return labels, rows.Err()
}

// UpdateIssue applies an update. Descriptions cannot be changed: IssueUpdate
// carries no description field, so immutability is structural.
func (s *Store) UpdateIssue(ctx context.Context, update *types.IssueUpdate, actor string) (*types.Issue, error) {
	if err := update.Validate(); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	// Existence check so updates to missing issues surface ErrNotFound
	// rather than silently affecting zero rows.
	var exists int
	if err := tx.QueryRowContext(ctx, `SELECT 1 FROM issues WHERE id = ?`, update.IssueID).Scan(&exists); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("issue %s: %w", update.IssueID, types.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to check issue: %w", err)
	}

	setClauses := []string{"updated_at = ?"}
	args := []interface{}{time.Now().UTC()}
	if update.Title != nil {
		setClauses = append(setClauses, "title = ?")
		args = append(args, *update.Title)
	}
	if update.Status != nil {
		setClauses = append(setClauses, "status = ?")
		args = append(args, *update.Status)
	}
	if update.Priority != nil {
		setClauses = append(setClauses, "priority = ?")
		args = append(args, int(*update.Priority))
	}
	args = append(args, update.IssueID)

	query := fmt.Sprintf("UPDATE issues SET %s WHERE id = ?", strings.Join(setClauses, ", "))
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return nil, fmt.Errorf("failed to update issue: %w", err)
	}

	if update.Labels != nil {
		if _, err := tx.ExecContext(ctx, `DELETE FROM labels WHERE issue_id = ?`, update.IssueID); err != nil {
			return nil, fmt.Errorf("failed to clear labels: %w", err)
		}
		for _, label := range update.Labels {
			if _, err := tx.ExecContext(ctx, `
				INSERT OR IGNORE INTO labels (issue_id, label) VALUES (?, ?)
			`, update.IssueID, label); err != nil {
				return nil, fmt.Errorf("failed to set label %s: %w", label, err)
			}
		}
	}
	for _, label := range update.AddLabels {
		if _, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO labels (issue_id, label) VALUES (?, ?)
		`, update.IssueID, label); err != nil {
			return nil, fmt.Errorf("failed to add label %s: %w", label, err)
		}
	}
	for _, label := range update.RemoveLabels {
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM labels WHERE issue_id = ? AND label = ?
		`, update.IssueID, label); err != nil {
			return nil, fmt.Errorf("failed to remove label %s: %w", label, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit: %w", err)
	}

	return s.GetIssue(ctx, update.IssueID)
}

// UpdateIssuesBatch applies updates one at a time. SQLite has no network
// round-trips to amortize, so there is no native batch path; failures are
// collected per issue and successful updates stay applied.
func (s *Store) UpdateIssuesBatch(ctx context.Context, updates []*types.IssueUpdate, actor string) ([]*types.Issue, error) {
	results := make([]*types.Issue, 0, len(updates))
	failed := make(map[string]error)
	for _, upd := range updates {
		issue, err := s.UpdateIssue(ctx, upd, actor)
		if err != nil {
			failed[upd.IssueID] = err
			continue
		}
		results = append(results, issue)
	}
	if len(failed) > 0 {
		return results, &types.BatchError{Failed: failed}
	}
	return results, nil
}

// ListIssues returns issues matching the filter. Label filtering requires
// ALL listed labels to be present.
func (s *Store) ListIssues(ctx context.Context, filter types.IssueFilter) ([]*types.Issue, error) {
	where := []string{"1=1"}
	args := []interface{}{}
	if filter.Status != nil {
		where = append(where, "status = ?")
		args = append(args, *filter.Status)
	}
	if filter.ProjectID != "" {
		where = append(where, "project_id = ?")
		args = append(args, filter.ProjectID)
	}
	for range filter.Labels {
		where = append(where, "id IN (SELECT issue_id FROM labels WHERE label = ?)")
	}
	for _, label := range filter.Labels {
		args = append(args, label)
	}

	query := fmt.Sprintf(`
		SELECT id, title, description, status, priority, project_id, created_at, updated_at
		FROM issues WHERE %s ORDER BY priority ASC, created_at ASC
	`, strings.Join(where, " AND "))
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list issues: %w", err)
	}
	defer rows.Close()

	var issues []*types.Issue
	for rows.Next() {
		issue := &types.Issue{}
		var priority int
		var projectID sql.NullString
		if err := rows.Scan(&issue.ID, &issue.Title, &issue.Description, &issue.Status,
			&priority, &projectID, &issue.CreatedAt, &issue.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan issue: %w", err)
		}
		issue.Priority = types.Priority(priority)
		issue.ProjectID = projectID.String
		issues = append(issues, issue)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, issue := range issues {
		labels, err := s.issueLabels(ctx, issue.ID)
		if err != nil {
			return nil, err
		}
		issue.Labels = labels
	}

	return issues, nil
}

// CreateComment appends a comment to an issue's log.
func (s *Store) CreateComment(ctx context.Context, issueID, actor, body string) (*types.Comment, error) {
	if _, err := s.GetIssue(ctx, issueID); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO comments (issue_id, author, body, created_at) VALUES (?, ?, ?, ?)
	`, issueID, actor, body, now)
	if err != nil {
		return nil, fmt.Errorf("failed to create comment: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get comment id: %w", err)
	}

	return &types.Comment{
		ID:        fmt.Sprintf("%d", id),
		IssueID:   issueID,
		Author:    actor,
		Body:      body,
		CreatedAt: now,
	}, nil
}

// ListComments returns an issue's comments, oldest first.
func (s *Store) ListComments(ctx context.Context, issueID string) ([]*types.Comment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, issue_id, author, body, created_at
		FROM comments WHERE issue_id = ? ORDER BY id ASC
	`, issueID)
	if err != nil {
		return nil, fmt.Errorf("failed to list comments: %w", err)
	}
	defer rows.Close()

	var comments []*types.Comment
	for rows.Next() {
		c := &types.Comment{}
		var id int64
		if err := rows.Scan(&id, &c.IssueID, &c.Author, &c.Body, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan comment: %w", err)
		}
		c.ID = fmt.Sprintf("%d", id)
		comments = append(comments, c)
	}
	return comments, rows.Err()
}

package tracker

import (
	"context"
	"fmt"

	"github.com/autocode-hq/autocode/internal/tracker/beads"
	"github.com/autocode-hq/autocode/internal/tracker/github"
	"github.com/autocode-hq/autocode/internal/tracker/linear"
	"github.com/autocode-hq/autocode/internal/tracker/sqlite"
)

var (
	_ Tracker = (*sqlite.Store)(nil)
	_ Tracker = (*beads.Store)(nil)
	_ Tracker = (*github.Store)(nil)
	_ Tracker = (*linear.Store)(nil)
)

// Adapter identifies a tracker backend.
type Adapter string

const (
	AdapterSQLite Adapter = "sqlite"
	AdapterBeads  Adapter = "beads"
	AdapterGitHub Adapter = "github"
	AdapterLinear Adapter = "linear"
)

// IsValid checks if the adapter value is supported
func (a Adapter) IsValid() bool {
	switch a {
	case AdapterSQLite, AdapterBeads, AdapterGitHub, AdapterLinear:
		return true
	}
	return false
}

// Config selects and configures a tracker backend.
type Config struct {
	// Adapter names the backend. Default: sqlite.
	Adapter Adapter

	// Path is the SQLite database file path (sqlite adapter).
	// Special value ":memory:" creates an in-memory database (useful for tests).
	Path string

	// Workspace is the project directory for CLI-backed adapters (bd, gh)
	// and for the cache and call-tracking files of the Linear adapter.
	Workspace string

	// Owner and Repo identify the repository (github adapter).
	Owner string
	Repo  string

	// APIKey authenticates against the Linear API (linear adapter).
	APIKey string
}

// DefaultConfig returns a config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Adapter: AdapterSQLite,
		Path:    ".autocode/autocode.db",
	}
}

// Open creates a tracker for the configured backend.
func Open(ctx context.Context, cfg *Config) (Tracker, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	switch cfg.Adapter {
	case AdapterSQLite, "":
		path := cfg.Path
		if path == "" {
			path = ".autocode/autocode.db"
		}
		return sqlite.New(path)
	case AdapterBeads:
		return beads.New(ctx, cfg.Workspace)
	case AdapterGitHub:
		return github.New(ctx, cfg.Owner, cfg.Repo)
	case AdapterLinear:
		return linear.New(ctx, linear.Options{
			APIKey:    cfg.APIKey,
			Workspace: cfg.Workspace,
		})
	default:
		return nil, fmt.Errorf("unsupported tracker adapter: %q (valid: sqlite, beads, github, linear)", cfg.Adapter)
	}
}

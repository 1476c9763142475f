// Package linear adapts the Linear GraphQL API to the tracker interface.
//
// All traffic goes through a single client that enforces Linear's hourly
// API budget with a token-bucket limiter, records every call in a
// persisted log so the budget survives across CLI invocations, retries
// transient failures with exponential backoff, and serves reads through a
// file-backed TTL cache.
package linear

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"

	"github.com/autocode-hq/autocode/internal/apitrack"
	"github.com/autocode-hq/autocode/internal/cache"
	"github.com/autocode-hq/autocode/internal/types"
)

const (
	endpoint = "https://api.linear.app/graphql"

	// hourlyLimit is Linear's documented budget; safetyBuffer keeps
	// headroom for other tooling sharing the key.
	hourlyLimit  = 1500
	safetyBuffer = 50
)

// Options configures the Linear adapter.
type Options struct {
	APIKey    string
	Workspace string // project dir for the cache and call-log files

	// HTTPClient overrides the default client, for tests.
	HTTPClient *http.Client
}

// Store is a Linear-backed tracker.
type Store struct {
	apiKey  string
	http    *http.Client
	limiter *rate.Limiter
	cache   *cache.Cache
	calls   *apitrack.Tracker

	// workflow state IDs per team, resolved lazily
	states map[string]map[types.Status]string
}

// New validates the options and returns a Linear adapter. The API is not
// contacted until the first call.
func New(ctx context.Context, opts Options) (*Store, error) {
	if opts.APIKey == "" {
		return nil, fmt.Errorf("linear adapter requires an API key (set LINEAR_API_KEY)")
	}
	workspace := opts.Workspace
	if workspace == "" {
		workspace = "."
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Store{
		apiKey:  opts.APIKey,
		http:    httpClient,
		limiter: rate.NewLimiter(rate.Limit(float64(hourlyLimit)/3600.0), 10),
		cache:   cache.New(filepath.Join(workspace, cache.FileName)),
		calls:   apitrack.New(filepath.Join(workspace, apitrack.FileName), hourlyLimit),
		states:  make(map[string]map[types.Status]string),
	}, nil
}

type gqlError struct {
	Message string `json:"message"`
}

type gqlResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []gqlError      `json:"errors"`
}

// do executes one GraphQL operation: budget check, limiter wait, request
// with retry on 429/5xx, call-log record.
func (s *Store) do(ctx context.Context, operation, query string, variables map[string]any, out any) error {
	if !s.calls.SafeToCall(1, safetyBuffer) {
		return fmt.Errorf("%w: %d calls remaining this hour", types.ErrRateLimited, s.calls.Remaining())
	}
	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}

	body, err := json.Marshal(map[string]any{"query": query, "variables": variables})
	if err != nil {
		return fmt.Errorf("failed to marshal graphql request: %w", err)
	}

	var data json.RawMessage
	attempt := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Authorization", s.apiKey)
		req.Header.Set("Content-Type", "application/json")

		resp, err := s.http.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		raw, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return fmt.Errorf("linear API returned %d", resp.StatusCode)
		}
		if resp.StatusCode != http.StatusOK {
			return backoff.Permanent(fmt.Errorf("linear API returned %d: %s", resp.StatusCode, raw))
		}

		var gr gqlResponse
		if err := json.Unmarshal(raw, &gr); err != nil {
			return backoff.Permanent(fmt.Errorf("failed to parse graphql response: %w", err))
		}
		if len(gr.Errors) > 0 {
			msg := gr.Errors[0].Message
			if strings.Contains(strings.ToLower(msg), "not found") {
				return backoff.Permanent(types.ErrNotFound)
			}
			return backoff.Permanent(fmt.Errorf("graphql error in %s: %s", operation, msg))
		}
		data = gr.Data
		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 4), ctx)
	if err := backoff.Retry(attempt, policy); err != nil {
		return err
	}

	if err := s.calls.Track(operation); err != nil {
		return err
	}
	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("failed to decode %s result: %w", operation, err)
		}
	}
	return nil
}

// Wire shapes shared by the queries below.

type wireState struct {
	Name string `json:"name"`
	Type string `json:"type"` // backlog, unstarted, started, completed, canceled
}

type wireLabel struct {
	Name string `json:"name"`
}

type wireIssue struct {
	ID          string    `json:"id"`
	Identifier  string    `json:"identifier"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Priority    int       `json:"priority"`
	State       wireState `json:"state"`
	Labels      struct {
		Nodes []wireLabel `json:"nodes"`
	} `json:"labels"`
	Project *struct {
		ID string `json:"id"`
	} `json:"project"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

const issueFields = `
  id
  identifier
  title
  description
  priority
  state { name type }
  labels { nodes { name } }
  project { id }
  createdAt
  updatedAt`

func stateTypeToStatus(stateType string) types.Status {
	switch stateType {
	case "started":
		return types.StatusInProgress
	case "completed", "canceled":
		return types.StatusDone
	default: // backlog, unstarted, triage
		return types.StatusTodo
	}
}

func (w *wireIssue) toIssue() *types.Issue {
	// Linear priority 0 means unset; treat it as medium.
	priority := types.Priority(w.Priority)
	if priority < types.PriorityUrgent || priority > types.PriorityLow {
		priority = types.PriorityMedium
	}
	labels := make([]string, 0, len(w.Labels.Nodes))
	for _, l := range w.Labels.Nodes {
		labels = append(labels, l.Name)
	}
	projectID := ""
	if w.Project != nil {
		projectID = w.Project.ID
	}
	return &types.Issue{
		ID:          w.Identifier,
		Title:       w.Title,
		Description: w.Description,
		Status:      stateTypeToStatus(w.State.Type),
		Priority:    priority,
		ProjectID:   projectID,
		Labels:      labels,
		CreatedAt:   w.CreatedAt,
		UpdatedAt:   w.UpdatedAt,
	}
}

// Cache returns the adapter's read cache, for CLI status output.
func (s *Store) Cache() *cache.Cache {
	return s.cache
}

// Calls returns the adapter's persisted call tracker.
func (s *Store) Calls() *apitrack.Tracker {
	return s.calls
}

func (s *Store) Ping(ctx context.Context) error {
	var result struct {
		Viewer struct {
			ID string `json:"id"`
		} `json:"viewer"`
	}
	return s.do(ctx, "Ping", `query { viewer { id } }`, nil, &result)
}

func (s *Store) Close() error {
	return nil
}

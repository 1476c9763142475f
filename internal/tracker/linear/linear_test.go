package linear

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autocode-hq/autocode/internal/types"
)

type roundTripperFunc func(*http.Request) (*http.Response, error)

func (f roundTripperFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

// newStubStore returns a Store whose HTTP layer answers every GraphQL
// operation from the handler.
func newStubStore(t *testing.T, handler func(query string, variables map[string]any) (string, int)) *Store {
	t.Helper()
	client := &http.Client{Transport: roundTripperFunc(func(req *http.Request) (*http.Response, error) {
		body, err := io.ReadAll(req.Body)
		require.NoError(t, err)
		var payload struct {
			Query     string         `json:"query"`
			Variables map[string]any `json:"variables"`
		}
		require.NoError(t, json.Unmarshal(body, &payload))

		resp, status := handler(payload.Query, payload.Variables)
		return &http.Response{
			StatusCode: status,
			Body:       io.NopCloser(strings.NewReader(resp)),
			Header:     http.Header{"Content-Type": []string{"application/json"}},
		}, nil
	})}

	store, err := New(context.Background(), Options{
		APIKey:     "lin_api_test",
		Workspace:  t.TempDir(),
		HTTPClient: client,
	})
	require.NoError(t, err)
	return store
}

func TestNewRequiresAPIKey(t *testing.T) {
	_, err := New(context.Background(), Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "LINEAR_API_KEY")
}

func TestGetIssueParsesWireFormat(t *testing.T) {
	store := newStubStore(t, func(query string, vars map[string]any) (string, int) {
		require.Contains(t, query, "GetIssue")
		assert.Equal(t, "ENG-42", vars["id"])
		return `{"data":{"issue":{
			"id":"uuid-1","identifier":"ENG-42","title":"Fix login",
			"description":"details","priority":1,
			"state":{"name":"In Progress","type":"started"},
			"labels":{"nodes":[{"name":"awaiting-audit"}]},
			"project":{"id":"proj-1"},
			"createdAt":"2026-01-10T10:00:00Z","updatedAt":"2026-01-10T11:00:00Z"
		}}}`, http.StatusOK
	})

	issue, err := store.GetIssue(context.Background(), "ENG-42")
	require.NoError(t, err)
	assert.Equal(t, "ENG-42", issue.ID)
	assert.Equal(t, types.StatusInProgress, issue.Status)
	assert.Equal(t, types.PriorityUrgent, issue.Priority)
	assert.Equal(t, []string{"awaiting-audit"}, issue.Labels)
	assert.Equal(t, "proj-1", issue.ProjectID)
}

func TestGetIssueServedFromCache(t *testing.T) {
	calls := 0
	store := newStubStore(t, func(query string, vars map[string]any) (string, int) {
		calls++
		return `{"data":{"issue":{"id":"u","identifier":"ENG-1","title":"t",
			"state":{"name":"Todo","type":"unstarted"},
			"labels":{"nodes":[]}}}}`, http.StatusOK
	})

	ctx := context.Background()
	_, err := store.GetIssue(ctx, "ENG-1")
	require.NoError(t, err)
	_, err = store.GetIssue(ctx, "ENG-1")
	require.NoError(t, err)
	assert.Equal(t, 1, calls, "second read should come from the cache")
}

func TestGraphQLErrorSurfacesAsError(t *testing.T) {
	store := newStubStore(t, func(query string, vars map[string]any) (string, int) {
		return `{"errors":[{"message":"Entity not found"}]}`, http.StatusOK
	})

	_, err := store.GetIssue(context.Background(), "ENG-404")
	require.ErrorIs(t, err, types.ErrNotFound)
}

func TestRetryOnServerError(t *testing.T) {
	attempts := 0
	store := newStubStore(t, func(query string, vars map[string]any) (string, int) {
		attempts++
		if attempts < 3 {
			return `{}`, http.StatusBadGateway
		}
		return `{"data":{"viewer":{"id":"me"}}}`, http.StatusOK
	})

	require.NoError(t, store.Ping(context.Background()))
	assert.Equal(t, 3, attempts)
}

func TestStateTypeMapping(t *testing.T) {
	assert.Equal(t, types.StatusTodo, stateTypeToStatus("backlog"))
	assert.Equal(t, types.StatusTodo, stateTypeToStatus("unstarted"))
	assert.Equal(t, types.StatusInProgress, stateTypeToStatus("started"))
	assert.Equal(t, types.StatusDone, stateTypeToStatus("completed"))
	assert.Equal(t, types.StatusDone, stateTypeToStatus("canceled"))
}

func TestApplyLabelOps(t *testing.T) {
	got := applyLabelOps(
		[]string{"awaiting-audit", "backend"},
		[]string{"audited"},
		[]string{"awaiting-audit"},
	)
	assert.Equal(t, []string{"backend", "audited"}, got)
}

func TestCallBudgetRecorded(t *testing.T) {
	store := newStubStore(t, func(query string, vars map[string]any) (string, int) {
		return `{"data":{"viewer":{"id":"me"}}}`, http.StatusOK
	})

	require.NoError(t, store.Ping(context.Background()))
	assert.Equal(t, 1, store.Calls().CallsInWindow(time.Hour))
}

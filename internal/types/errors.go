package types

import (
	"errors"
	"fmt"
	"strings"
)

// Domain errors shared by every tracker backend. Adapters wrap these with %w
// so callers can match with errors.Is regardless of backend.
var (
	// ErrNotFound indicates the referenced issue, project, or team does not
	// exist in the backend.
	ErrNotFound = errors.New("not found")

	// ErrRateLimited indicates the backend rejected the call for quota
	// reasons. Adapters retry transient occurrences before surfacing this.
	ErrRateLimited = errors.New("rate limited")

	// ErrReadOnly indicates a write was attempted through a read-only handle.
	ErrReadOnly = errors.New("tracker is read-only")

	// ErrImmutableDescription indicates an attempt to rewrite an issue
	// description after creation.
	ErrImmutableDescription = errors.New("issue descriptions are immutable after creation")
)

// BatchError reports the per-issue failures of a batch update. Batch updates
// are best-effort fan-outs, not transactions: successful updates are not
// rolled back when siblings fail. The caller reconciles afterwards, treating
// remote state as authoritative.
type BatchError struct {
	Failed map[string]error // issue ID -> failure
}

func (e *BatchError) Error() string {
	ids := make([]string, 0, len(e.Failed))
	for id := range e.Failed {
		ids = append(ids, id)
	}
	return fmt.Sprintf("batch update failed for %d issue(s): %s", len(e.Failed), strings.Join(ids, ", "))
}

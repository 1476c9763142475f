// Package apitrack records remote API calls in a JSON file so that rate
// limit budgets survive across short-lived CLI processes.
package apitrack

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"
)

// FileName is the default call log, relative to the project root.
const FileName = ".linear_api_calls.json"

const (
	// DefaultHourlyLimit mirrors Linear's documented API budget.
	DefaultHourlyLimit = 1500

	// retention bounds the log file; anything older is useless for any
	// rate window we care about.
	retention = 7 * 24 * time.Hour
)

type call struct {
	At        time.Time `json:"at"`
	Operation string    `json:"operation"`
}

// Tracker is a persisted sliding-window call counter.
type Tracker struct {
	mu    sync.Mutex
	path  string
	limit int
	calls []call
}

// New loads (or creates) a tracker backed by the given file, with limit
// calls allowed per hour. A limit of 0 uses DefaultHourlyLimit.
func New(path string, limit int) *Tracker {
	if limit <= 0 {
		limit = DefaultHourlyLimit
	}
	t := &Tracker{path: path, limit: limit}
	if data, err := os.ReadFile(path); err == nil {
		_ = json.Unmarshal(data, &t.calls)
	}
	t.prune()
	return t
}

// Track records one call under the given operation name and flushes the
// log to disk.
func (t *Tracker) Track(operation string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.calls = append(t.calls, call{At: time.Now(), Operation: operation})
	t.prune()
	return t.flushLocked()
}

// CallsInWindow counts calls made within the trailing window.
func (t *Tracker) CallsInWindow(window time.Duration) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.countSinceLocked(time.Now().Add(-window))
}

// SafeToCall reports whether another n calls would stay under the hourly
// limit minus the given safety buffer.
func (t *Tracker) SafeToCall(n, buffer int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	used := t.countSinceLocked(time.Now().Add(-time.Hour))
	return used+n <= t.limit-buffer
}

// Remaining returns how many calls are left in the current hour.
func (t *Tracker) Remaining() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	left := t.limit - t.countSinceLocked(time.Now().Add(-time.Hour))
	if left < 0 {
		return 0
	}
	return left
}

// Breakdown returns per-operation call counts within the trailing window,
// most frequent first.
func (t *Tracker) Breakdown(window time.Duration) []OperationCount {
	t.mu.Lock()
	defer t.mu.Unlock()

	cutoff := time.Now().Add(-window)
	counts := make(map[string]int)
	for _, c := range t.calls {
		if c.At.After(cutoff) {
			counts[c.Operation]++
		}
	}

	result := make([]OperationCount, 0, len(counts))
	for op, n := range counts {
		result = append(result, OperationCount{Operation: op, Count: n})
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Count != result[j].Count {
			return result[i].Count > result[j].Count
		}
		return result[i].Operation < result[j].Operation
	})
	return result
}

// OperationCount pairs an operation name with its call count.
type OperationCount struct {
	Operation string `json:"operation"`
	Count     int    `json:"count"`
}

func (t *Tracker) countSinceLocked(cutoff time.Time) int {
	n := 0
	for _, c := range t.calls {
		if c.At.After(cutoff) {
			n++
		}
	}
	return n
}

// prune drops calls past retention. Caller holds the lock (or the tracker
// is not yet shared).
func (t *Tracker) prune() {
	cutoff := time.Now().Add(-retention)
	kept := t.calls[:0]
	for _, c := range t.calls {
		if c.At.After(cutoff) {
			kept = append(kept, c)
		}
	}
	t.calls = kept
}

func (t *Tracker) flushLocked() error {
	data, err := json.Marshal(t.calls)
	if err != nil {
		return fmt.Errorf("failed to marshal call log: %w", err)
	}
	tmp := t.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("failed to write call log: %w", err)
	}
	if err := os.Rename(tmp, t.path); err != nil {
		return fmt.Errorf("failed to replace call log: %w", err)
	}
	return nil
}

// Package cache is a small persisted TTL cache for remote tracker reads.
// Entries live in a single JSON file so repeated CLI invocations share the
// cache across processes.
package cache

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"sync"
	"time"
)

// FileName is the default cache file, relative to the project root.
const FileName = ".linear_cache.json"

// Per-category TTLs. Issue lists churn fast, team membership barely moves.
const (
	TTLIssues   = 5 * time.Minute
	TTLIssue    = 3 * time.Minute
	TTLProjects = time.Hour
	TTLTeams    = 24 * time.Hour
)

type entry struct {
	Value     json.RawMessage `json:"value"`
	ExpiresAt time.Time       `json:"expires_at"`
}

// Cache is a thread-safe, file-backed TTL cache. Every mutation is flushed
// to disk immediately; the file is reloaded on construction.
type Cache struct {
	mu      sync.Mutex
	path    string
	entries map[string]entry

	hits   int
	misses int
}

// New loads (or creates) a cache backed by the given file. A corrupt or
// missing file starts empty rather than failing.
func New(path string) *Cache {
	c := &Cache{path: path, entries: make(map[string]entry)}
	if data, err := os.ReadFile(path); err == nil {
		// Best effort: a bad file is equivalent to a cold cache.
		_ = json.Unmarshal(data, &c.entries)
	}
	return c
}

// Get unmarshals the cached value for key into out. It reports false when
// the key is absent or expired.
func (c *Cache) Get(key string, out any) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok || time.Now().After(e.ExpiresAt) {
		c.misses++
		return false
	}
	if err := json.Unmarshal(e.Value, out); err != nil {
		c.misses++
		delete(c.entries, key)
		return false
	}
	c.hits++
	return true
}

// Set stores value under key with the given TTL and flushes to disk.
func (c *Cache) Set(key string, value any, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal cache value: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = entry{Value: raw, ExpiresAt: time.Now().Add(ttl)}
	return c.flushLocked()
}

// Invalidate removes a single key.
func (c *Cache) Invalidate(key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[key]; !ok {
		return nil
	}
	delete(c.entries, key)
	return c.flushLocked()
}

// InvalidatePattern removes every key matching the regular expression and
// returns how many were dropped. Used after writes: an issue update
// invalidates both the issue entry and any list entries containing it.
func (c *Cache) InvalidatePattern(pattern string) (int, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return 0, fmt.Errorf("invalid cache pattern %q: %w", pattern, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for key := range c.entries {
		if re.MatchString(key) {
			delete(c.entries, key)
			removed++
		}
	}
	if removed == 0 {
		return 0, nil
	}
	return removed, c.flushLocked()
}

// ClearExpired drops expired entries and returns how many were removed.
func (c *Cache) ClearExpired() (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	removed := 0
	for key, e := range c.entries {
		if now.After(e.ExpiresAt) {
			delete(c.entries, key)
			removed++
		}
	}
	if removed == 0 {
		return 0, nil
	}
	return removed, c.flushLocked()
}

// Stats describes the cache's current effectiveness.
type Stats struct {
	Entries int
	Expired int
	Hits    int
	Misses  int
}

// HitRate is hits / (hits + misses), or 0 with no traffic.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// Stats returns counters for this process's cache usage.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	expired := 0
	for _, e := range c.entries {
		if now.After(e.ExpiresAt) {
			expired++
		}
	}
	return Stats{Entries: len(c.entries), Expired: expired, Hits: c.hits, Misses: c.misses}
}

func (c *Cache) flushLocked() error {
	data, err := json.MarshalIndent(c.entries, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal cache: %w", err)
	}
	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("failed to write cache: %w", err)
	}
	if err := os.Rename(tmp, c.path); err != nil {
		return fmt.Errorf("failed to replace cache: %w", err)
	}
	return nil
}

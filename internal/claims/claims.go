// Package claims provides advisory, file-based coordination between agent
// processes working against the same issue store.
//
// Architecture:
//
//	.autocode-workers/
//	    worker-<id>.lock   # worker registration with heartbeat
//	    claims/
//	        <issue-id>.claim   # one claim record per issue
//
// Claims are created with O_CREAT|O_EXCL so exactly one worker wins a race.
// Mutual exclusion is advisory: the issue store itself enforces nothing, so
// every agent must check the registry before transitioning an issue. A claim
// also locks the files the issue declares; overlapping file sets conflict.
//
// There is no queue and no automatic retry: a conflicting claim is rejected
// and the caller is expected to pick different work. Stale claims from dead
// workers are swept on registration.
package claims

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	// WorkersDirName is the registry directory, relative to the project root.
	WorkersDirName = ".autocode-workers"

	// HeartbeatInterval is how often a registered worker refreshes its lock.
	HeartbeatInterval = 30 * time.Second

	// HeartbeatTimeout is how long without a heartbeat before a worker is
	// considered dead.
	HeartbeatTimeout = 90 * time.Second

	// ClaimStaleTimeout is how long a claim from a dead worker survives
	// before it is reaped.
	ClaimStaleTimeout = 120 * time.Second
)

// workerRecord is the on-disk format of worker-<id>.lock.
type workerRecord struct {
	WorkerID      string    `json:"worker_id"`
	PID           int       `json:"pid"`
	Hostname      string    `json:"hostname"`
	StartedAt     time.Time `json:"started_at"`
	Heartbeat     time.Time `json:"heartbeat"`
	ClaimedIssues []string  `json:"claimed_issues"`
}

// Claim is the on-disk format of claims/<issue-id>.claim.
type Claim struct {
	WorkerID  string    `json:"worker_id"`
	IssueID   string    `json:"issue_id"`
	Files     []string  `json:"files,omitempty"`
	ClaimedAt time.Time `json:"claimed_at"`
	PID       int       `json:"pid"`
}

// ErrNotClaimed is returned by Release when no claim exists to release.
var ErrNotClaimed = errors.New("issue is not claimed")

// ErrConflict is returned when an issue or one of its declared files is
// already claimed by another active worker.
type ErrConflict struct {
	IssueID string
	Holder  string   // worker ID holding the conflicting claim
	Files   []string // conflicting files, empty for an issue-level conflict
}

func (e *ErrConflict) Error() string {
	if len(e.Files) > 0 {
		return fmt.Sprintf("files locked by worker %s: %s", e.Holder, strings.Join(e.Files, ", "))
	}
	return fmt.Sprintf("issue %s is claimed by worker %s", e.IssueID, e.Holder)
}

// Registry coordinates claims for one worker within a project directory.
type Registry struct {
	projectDir string
	workersDir string
	claimsDir  string
	lockFile   string

	workerID   string
	startedAt  time.Time
	claimed    []string
	registered bool
}

// NewRegistry creates a registry with a fresh worker identity, rooted at
// projectDir. Call Register before claiming.
func NewRegistry(projectDir string) *Registry {
	return NewRegistryWithID(projectDir, uuid.NewString()[:8])
}

// NewRegistryWithID creates a registry bound to an existing worker
// identity, typically one from PersistentWorkerID. Claims taken under the
// same identity by an earlier process can be released here.
func NewRegistryWithID(projectDir, workerID string) *Registry {
	workersDir := filepath.Join(projectDir, WorkersDirName)
	return &Registry{
		projectDir: projectDir,
		workersDir: workersDir,
		claimsDir:  filepath.Join(workersDir, "claims"),
		lockFile:   filepath.Join(workersDir, fmt.Sprintf("worker-%s.lock", workerID)),
		workerID:   workerID,
		startedAt:  time.Now(),
	}
}

// PersistentWorkerID returns a stable worker identity for this host and
// actor, minting and storing one under the registry directory on first
// use. Short-lived processes share it so a claim taken by one invocation
// can be renewed and released by a later one.
func PersistentWorkerID(projectDir, actor string) (string, error) {
	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "localhost"
	}
	key := strings.NewReplacer("/", "_", "\\", "_", " ", "_").Replace(hostname + "-" + actor)
	dir := filepath.Join(projectDir, WorkersDirName)
	path := filepath.Join(dir, "identity-"+key)

	if data, err := os.ReadFile(path); err == nil {
		if id := strings.TrimSpace(string(data)); id != "" {
			return id, nil
		}
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create workers directory: %w", err)
	}
	id := uuid.NewString()[:8]
	if err := os.WriteFile(path, []byte(id+"\n"), 0644); err != nil {
		return "", fmt.Errorf("failed to store worker identity: %w", err)
	}
	return id, nil
}

// WorkerID returns this worker's unique ID.
func (r *Registry) WorkerID() string {
	return r.workerID
}

// Register creates the registry directories, writes this worker's lock file,
// and sweeps stale workers and claims.
func (r *Registry) Register() error {
	if err := os.MkdirAll(r.claimsDir, 0755); err != nil {
		return fmt.Errorf("failed to create claims directory: %w", err)
	}
	if err := r.writeHeartbeat(); err != nil {
		return err
	}
	r.registered = true

	r.sweepStaleWorkers()
	r.sweepStaleClaims()
	return nil
}

// writeHeartbeat atomically rewrites the worker lock file with a fresh
// heartbeat timestamp (write to temp, then rename), and renews every claim
// this worker holds so a live worker's long-running work is never reaped
// as stale.
func (r *Registry) writeHeartbeat() error {
	own := r.ownClaims()
	issueIDs := make([]string, 0, len(own))
	for issueID := range own {
		issueIDs = append(issueIDs, issueID)
	}
	sort.Strings(issueIDs)

	hostname, _ := os.Hostname()
	rec := workerRecord{
		WorkerID:      r.workerID,
		PID:           os.Getpid(),
		Hostname:      hostname,
		StartedAt:     r.startedAt,
		Heartbeat:     time.Now(),
		ClaimedIssues: issueIDs,
	}

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal worker record: %w", err)
	}

	tmp := r.lockFile + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write heartbeat: %w", err)
	}
	if err := os.Rename(tmp, r.lockFile); err != nil {
		return fmt.Errorf("failed to publish heartbeat: %w", err)
	}

	now := time.Now()
	for _, path := range own {
		claim, err := readClaim(path)
		if err != nil || claim.WorkerID != r.workerID {
			continue
		}
		claim.ClaimedAt = now
		renewed, err := json.MarshalIndent(claim, "", "  ")
		if err != nil {
			continue
		}
		tmp := path + ".tmp"
		if os.WriteFile(tmp, renewed, 0644) == nil {
			_ = os.Rename(tmp, path)
		}
	}
	return nil
}

// ownClaims returns the claim files held by this worker identity, keyed by
// issue ID. Includes claims taken by earlier processes under the same ID.
func (r *Registry) ownClaims() map[string]string {
	own := make(map[string]string)
	entries, err := os.ReadDir(r.claimsDir)
	if err != nil {
		return own
	}
	for _, entry := range entries {
		if !strings.HasSuffix(entry.Name(), ".claim") {
			continue
		}
		path := filepath.Join(r.claimsDir, entry.Name())
		claim, err := readClaim(path)
		if err != nil || claim.WorkerID != r.workerID {
			continue
		}
		own[claim.IssueID] = path
	}
	return own
}

// HeartbeatLoop refreshes the worker's heartbeat until ctx is canceled.
// Run it in a goroutine for the lifetime of the session.
func (r *Registry) HeartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = r.writeHeartbeat()
		}
	}
}

// ActiveWorkers returns the IDs of workers with a recent heartbeat.
func (r *Registry) ActiveWorkers() map[string]bool {
	active := make(map[string]bool)
	entries, err := os.ReadDir(r.workersDir)
	if err != nil {
		return active
	}

	now := time.Now()
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasPrefix(name, "worker-") || !strings.HasSuffix(name, ".lock") {
			continue
		}
		rec, err := readWorkerRecord(filepath.Join(r.workersDir, name))
		if err != nil {
			continue
		}
		if now.Sub(rec.Heartbeat) < HeartbeatTimeout {
			active[rec.WorkerID] = true
		}
	}
	return active
}

func readWorkerRecord(path string) (*workerRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var rec workerRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *Registry) claimPath(issueID string) string {
	safe := strings.NewReplacer("/", "_", "\\", "_").Replace(issueID)
	return filepath.Join(r.claimsDir, safe+".claim")
}

func readClaim(path string) (*Claim, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var c Claim
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// TryClaim claims an issue and its declared files for this worker. It fails
// fast with *ErrConflict when another active worker holds the issue or any
// of the files; the caller should move on to different work, not retry.
func (r *Registry) TryClaim(issueID string, files ...string) error {
	if !r.registered {
		return fmt.Errorf("worker not registered: call Register first")
	}

	// Already ours
	for _, id := range r.claimed {
		if id == issueID {
			return nil
		}
	}

	active := r.ActiveWorkers()

	// File conflicts against every live claim
	if len(files) > 0 {
		if conflicts, holder := r.fileConflicts(files, active); len(conflicts) > 0 {
			return &ErrConflict{IssueID: issueID, Holder: holder, Files: conflicts}
		}
	}

	claimPath := r.claimPath(issueID)
	if existing, err := readClaim(claimPath); err == nil {
		if existing.WorkerID == r.workerID {
			r.claimed = append(r.claimed, issueID)
			return nil
		}
		if active[existing.WorkerID] && time.Since(existing.ClaimedAt) < ClaimStaleTimeout {
			return &ErrConflict{IssueID: issueID, Holder: existing.WorkerID}
		}
		// Stale or corrupt claim: reap and fall through to the atomic create.
		_ = os.Remove(claimPath)
	}

	// O_EXCL makes the create atomic; the loser of a race gets EEXIST.
	fd, err := os.OpenFile(claimPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		if os.IsExist(err) {
			holder := "unknown"
			if c, rerr := readClaim(claimPath); rerr == nil {
				holder = c.WorkerID
			}
			return &ErrConflict{IssueID: issueID, Holder: holder}
		}
		return fmt.Errorf("failed to create claim: %w", err)
	}

	claim := Claim{
		WorkerID:  r.workerID,
		IssueID:   issueID,
		Files:     files,
		ClaimedAt: time.Now(),
		PID:       os.Getpid(),
	}
	data, err := json.MarshalIndent(claim, "", "  ")
	if err != nil {
		fd.Close()
		_ = os.Remove(claimPath)
		return fmt.Errorf("failed to marshal claim: %w", err)
	}
	if _, err := fd.Write(data); err != nil {
		fd.Close()
		_ = os.Remove(claimPath)
		return fmt.Errorf("failed to write claim: %w", err)
	}
	if err := fd.Close(); err != nil {
		_ = os.Remove(claimPath)
		return fmt.Errorf("failed to close claim: %w", err)
	}

	r.claimed = append(r.claimed, issueID)
	_ = r.writeHeartbeat()
	return nil
}

// fileConflicts returns the subset of files locked by another active
// worker's claim, plus the holding worker ID.
func (r *Registry) fileConflicts(files []string, active map[string]bool) ([]string, string) {
	want := make(map[string]bool, len(files))
	for _, f := range files {
		want[filepath.Clean(f)] = true
	}

	entries, err := os.ReadDir(r.claimsDir)
	if err != nil {
		return nil, ""
	}

	for _, entry := range entries {
		if !strings.HasSuffix(entry.Name(), ".claim") {
			continue
		}
		claim, err := readClaim(filepath.Join(r.claimsDir, entry.Name()))
		if err != nil {
			continue
		}
		if claim.WorkerID == r.workerID {
			continue
		}
		if !active[claim.WorkerID] || time.Since(claim.ClaimedAt) >= ClaimStaleTimeout {
			continue
		}
		var conflicts []string
		for _, f := range claim.Files {
			if want[filepath.Clean(f)] {
				conflicts = append(conflicts, f)
			}
		}
		if len(conflicts) > 0 {
			return conflicts, claim.WorkerID
		}
	}
	return nil, ""
}

// Release drops this worker's claim on an issue. Ownership is verified
// first: a claim held by another worker returns *ErrConflict, and a
// missing claim returns ErrNotClaimed, so callers can tell when nothing
// was actually released.
func (r *Registry) Release(issueID string) error {
	claimPath := r.claimPath(issueID)
	claim, err := readClaim(claimPath)
	if err != nil {
		if os.IsNotExist(err) {
			return ErrNotClaimed
		}
		return fmt.Errorf("failed to read claim: %w", err)
	}
	if claim.WorkerID != r.workerID {
		return &ErrConflict{IssueID: issueID, Holder: claim.WorkerID}
	}
	if err := os.Remove(claimPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove claim: %w", err)
	}

	for i, id := range r.claimed {
		if id == issueID {
			r.claimed = append(r.claimed[:i], r.claimed[i+1:]...)
			break
		}
	}
	return r.writeHeartbeat()
}

// Holder returns the worker ID holding an active claim on the issue, or
// empty string if the issue is unclaimed (or the claim is stale).
func (r *Registry) Holder(issueID string) string {
	claim, err := readClaim(r.claimPath(issueID))
	if err != nil {
		return ""
	}
	if !r.ActiveWorkers()[claim.WorkerID] || time.Since(claim.ClaimedAt) >= ClaimStaleTimeout {
		return ""
	}
	return claim.WorkerID
}

// LockedFiles returns the files locked by the active claim on issueID.
func (r *Registry) LockedFiles(issueID string) []string {
	if r.Holder(issueID) == "" {
		return nil
	}
	claim, err := readClaim(r.claimPath(issueID))
	if err != nil {
		return nil
	}
	return claim.Files
}

// AllClaims returns every active claim in the registry, keyed by issue ID.
func (r *Registry) AllClaims() map[string]*Claim {
	result := make(map[string]*Claim)
	entries, err := os.ReadDir(r.claimsDir)
	if err != nil {
		return result
	}

	active := r.ActiveWorkers()
	for _, entry := range entries {
		if !strings.HasSuffix(entry.Name(), ".claim") {
			continue
		}
		claim, err := readClaim(filepath.Join(r.claimsDir, entry.Name()))
		if err != nil {
			continue
		}
		if active[claim.WorkerID] && time.Since(claim.ClaimedAt) < ClaimStaleTimeout {
			result[claim.IssueID] = claim
		}
	}
	return result
}

// sweepStaleWorkers removes lock files whose heartbeat has expired.
func (r *Registry) sweepStaleWorkers() {
	entries, err := os.ReadDir(r.workersDir)
	if err != nil {
		return
	}
	now := time.Now()
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasPrefix(name, "worker-") || !strings.HasSuffix(name, ".lock") {
			continue
		}
		path := filepath.Join(r.workersDir, name)
		if path == r.lockFile {
			continue
		}
		rec, err := readWorkerRecord(path)
		if err != nil || now.Sub(rec.Heartbeat) > HeartbeatTimeout {
			_ = os.Remove(path)
		}
	}
}

// sweepStaleClaims removes claims held by dead workers or older than the
// stale timeout.
func (r *Registry) sweepStaleClaims() {
	entries, err := os.ReadDir(r.claimsDir)
	if err != nil {
		return
	}
	active := r.ActiveWorkers()
	for _, entry := range entries {
		if !strings.HasSuffix(entry.Name(), ".claim") {
			continue
		}
		path := filepath.Join(r.claimsDir, entry.Name())
		claim, err := readClaim(path)
		if err != nil || !active[claim.WorkerID] || time.Since(claim.ClaimedAt) > ClaimStaleTimeout {
			_ = os.Remove(path)
		}
	}
}

// Cleanup releases every claim taken by this process and, once no claims
// remain under this worker identity, removes the lock file. Claims taken
// by earlier processes under the same identity stay live; releasing those
// is Release's job.
func (r *Registry) Cleanup() {
	for _, issueID := range append([]string(nil), r.claimed...) {
		_ = r.Release(issueID)
	}
	if len(r.ownClaims()) == 0 {
		_ = os.Remove(r.lockFile)
	}
	r.registered = false
}

// FindProjectDir walks upward from start looking for a project marker
// (.autocode-workers, .autocode, .task_project.json, or .git). Falls back
// to start when no marker is found.
func FindProjectDir(start string) string {
	markers := []string{WorkersDirName, ".autocode", ".task_project.json", ".git"}
	dir := start
	for {
		for _, marker := range markers {
			if _, err := os.Stat(filepath.Join(dir, marker)); err == nil {
				return dir
			}
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return start
		}
		dir = parent
	}
}

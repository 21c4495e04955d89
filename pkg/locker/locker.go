// Package locker provides per-repository mutual exclusion for fallback runs.
//
// Coordination must span independent process invocations that share a state
// directory, so the lock is a filesystem entity with create-or-fail
// semantics, not an in-memory mutex. A lock whose heartbeat has gone stale
// is reclaimable, and every reclaim is recorded in a recovery log before the
// old lock is removed.
package locker

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/Dicklesworthstone/doodlestein-self-releaser-sub001/pkg/interfaces"
	"github.com/Dicklesworthstone/doodlestein-self-releaser-sub001/pkg/logger"
	"github.com/Dicklesworthstone/doodlestein-self-releaser-sub001/pkg/process"
)

// Sentinel errors for lock operations
var (
	// ErrConflict indicates a live lock is already held for the repository
	ErrConflict = errors.New("repository lock already held")
)

// errReclaimLost indicates a concurrent reclaimer took the stale record
// first. The loser falls back to competing for a fresh claim.
var errReclaimLost = errors.New("stale lock taken by a concurrent reclaim")

// Lock is the on-disk record of one active claim
type Lock struct {
	Repo       string    `json:"repo"`
	RunID      string    `json:"runId"`
	PID        int       `json:"pid"`
	Hostname   string    `json:"hostname"`
	AcquiredAt time.Time `json:"acquiredAt"`
	Heartbeat  time.Time `json:"heartbeat"`
}

// reclaimRecord is one line in the recovery log
type reclaimRecord struct {
	Repo        string    `json:"repo"`
	StaleRunID  string    `json:"staleRunId"`
	StalePID    int       `json:"stalePid"`
	NewRunID    string    `json:"newRunId"`
	ReclaimedAt time.Time `json:"reclaimedAt"`
	Reason      string    `json:"reason"`
}

// Manager handles lock files in the shared state directory
type Manager struct {
	stateDir         string
	heartbeatTimeout time.Duration
	logger           logger.Logger
	mu               sync.Mutex
	reclaimMu        sync.Mutex
}

// NewManager creates a lock manager rooted at the state directory
func NewManager(stateDir string, heartbeatTimeout time.Duration, log logger.Logger) (*Manager, error) {
	for _, dir := range []string{locksDir(stateDir), runsDir(stateDir), archiveDir(stateDir)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create state directory: %w", err)
		}
	}
	return &Manager{
		stateDir:         stateDir,
		heartbeatTimeout: heartbeatTimeout,
		logger:           log,
	}, nil
}

// StateDir returns the root of the shared state directory
func (m *Manager) StateDir() string { return m.stateDir }

// Acquire claims the repository lock for the given run. If a live,
// non-stale lock exists it fails with ErrConflict. A stale lock is
// force-reclaimed, never silently: the reclaim is appended to the recovery
// log before the new claim is written.
func (m *Manager) Acquire(repo, runID string) (interfaces.LockHandle, error) {
	path := m.lockPath(repo)

	lock := &Lock{
		Repo:       repo,
		RunID:      runID,
		PID:        os.Getpid(),
		Hostname:   hostname(),
		AcquiredAt: time.Now(),
		Heartbeat:  time.Now(),
	}

	if err := m.createExclusive(path, lock); err == nil {
		return &handle{mgr: m, lock: lock, path: path}, nil
	} else if !os.IsExist(err) {
		return nil, fmt.Errorf("failed to write lock for %s: %w", repo, err)
	}

	existing, err := m.readLock(path)
	if err != nil {
		// A partially written or unreadable lock record is never treated
		// as a valid claim.
		if reclaimErr := m.reclaim(path, &Lock{Repo: repo}, runID, "unreadable lock record"); reclaimErr != nil && !errors.Is(reclaimErr, errReclaimLost) {
			return nil, reclaimErr
		}
	} else {
		reason, stale := m.staleness(existing)
		if !stale {
			return nil, fmt.Errorf("%w: repo %s is locked by run %s (pid %d)", ErrConflict, repo, existing.RunID, existing.PID)
		}
		// Losing the reclaim race falls through to the retry below, which
		// competes for a fresh claim against the winner.
		if err := m.reclaim(path, existing, runID, reason); err != nil && !errors.Is(err, errReclaimLost) {
			return nil, err
		}
	}

	// One retry after the reclaim. Losing the race to another acquirer is
	// a plain conflict.
	if err := m.createExclusive(path, lock); err != nil {
		if os.IsExist(err) {
			return nil, fmt.Errorf("%w: repo %s was reclaimed by a concurrent run", ErrConflict, repo)
		}
		return nil, fmt.Errorf("failed to write lock for %s: %w", repo, err)
	}
	return &handle{mgr: m, lock: lock, path: path}, nil
}

// Release removes the lock if it is still held by the handle's run.
// It is idempotent and always succeeds once the lock no longer exists.
func (m *Manager) Release(h interfaces.LockHandle) error {
	hh, ok := h.(*handle)
	if !ok || hh == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, err := m.readLock(hh.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		// Unreadable record under our own path: remove it anyway.
		return removeQuiet(hh.path)
	}
	if existing.RunID != hh.lock.RunID {
		// Someone reclaimed the lock from us; leave their claim alone.
		return nil
	}
	return removeQuiet(hh.path)
}

// Inspect returns the diagnostic state of a repository lock
func (m *Manager) Inspect(repo string) (*interfaces.LockState, error) {
	lock, err := m.readLock(m.lockPath(repo))
	if err != nil {
		if os.IsNotExist(err) {
			return &interfaces.LockState{}, nil
		}
		return nil, err
	}
	_, stale := m.staleness(lock)
	return &interfaces.LockState{
		Held:       true,
		Stale:      stale,
		RunID:      lock.RunID,
		PID:        lock.PID,
		AcquiredAt: lock.AcquiredAt,
		Heartbeat:  lock.Heartbeat,
	}, nil
}

// SweepStale reclaims every stale lock in the state directory, recording
// each reclaim. Run at coordinator startup so locks left by crashed
// processes do not linger until someone tries to acquire them.
func (m *Manager) SweepStale() ([]string, error) {
	entries, err := os.ReadDir(locksDir(m.stateDir))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var reclaimed []string
	for _, entry := range entries {
		if !strings.HasSuffix(entry.Name(), ".lock") {
			continue
		}
		path := filepath.Join(locksDir(m.stateDir), entry.Name())
		lock, err := m.readLock(path)
		if err != nil {
			// Unreadable records are handled at acquire time.
			continue
		}
		reason, stale := m.staleness(lock)
		if !stale {
			continue
		}
		if err := m.reclaim(path, lock, "", reason); err != nil {
			if errors.Is(err, errReclaimLost) {
				continue
			}
			return reclaimed, err
		}
		reclaimed = append(reclaimed, lock.Repo)
	}
	return reclaimed, nil
}

// ForceRelease reclaims a repository lock regardless of holder, recording
// the reclaim. Used by the unlock command for operator intervention.
func (m *Manager) ForceRelease(repo, reason string) error {
	path := m.lockPath(repo)
	existing, err := m.readLock(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		existing = &Lock{Repo: repo}
	}
	if err := m.reclaim(path, existing, "", reason); err != nil && !errors.Is(err, errReclaimLost) {
		return err
	}
	return nil
}

// handle implements interfaces.LockHandle
type handle struct {
	mgr  *Manager
	lock *Lock
	path string
	mu   sync.Mutex
}

func (h *handle) Repo() string  { return h.lock.Repo }
func (h *handle) RunID() string { return h.lock.RunID }

// Heartbeat refreshes the lock's liveness timestamp in place
func (h *handle) Heartbeat() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lock.Heartbeat = time.Now()
	return writeAtomic(h.path, h.lock)
}

// Private methods

func (m *Manager) staleness(lock *Lock) (string, bool) {
	if time.Since(lock.Heartbeat) > m.heartbeatTimeout {
		return "heartbeat timeout exceeded", true
	}
	// PID liveness only means anything on the machine that wrote the lock.
	if lock.Hostname == hostname() && lock.PID > 0 && !process.Alive(lock.PID) {
		return "holder process no longer running", true
	}
	return "", false
}

// reclaim takes exclusive ownership of a stale lock record. Reclaimers in
// this process serialize on reclaimMu and re-validate the record under it;
// across processes the rename to a unique quarantine path is the arbiter:
// exactly one renamer gets the record, the rest see ENOENT and lose. The
// reclaim is journaled before the quarantined record is deleted.
func (m *Manager) reclaim(path string, stale *Lock, newRunID, reason string) error {
	m.reclaimMu.Lock()
	defer m.reclaimMu.Unlock()

	// The record the caller judged stale may already be gone or replaced
	// by a winner's fresh claim.
	current, err := m.readLock(path)
	switch {
	case os.IsNotExist(err):
		return errReclaimLost
	case err == nil && current.RunID != stale.RunID:
		return errReclaimLost
	}

	quarantine := fmt.Sprintf("%s.reclaimed-%d-%d", path, os.Getpid(), time.Now().UnixNano())
	if err := os.Rename(path, quarantine); err != nil {
		if os.IsNotExist(err) {
			return errReclaimLost
		}
		return fmt.Errorf("failed to quarantine stale lock: %w", err)
	}

	// A winner in another process may have reclaimed and re-created the
	// lock between the re-validation and the rename, in which case the
	// rename grabbed their fresh claim. Hand it back.
	if grabbed, err := m.readLock(quarantine); err == nil && grabbed.RunID != stale.RunID {
		if err := os.Link(quarantine, path); err != nil {
			return fmt.Errorf("failed to restore lock after racing reclaim: %w", err)
		}
		if err := removeQuiet(quarantine); err != nil {
			return err
		}
		return errReclaimLost
	}

	record := reclaimRecord{
		Repo:        stale.Repo,
		StaleRunID:  stale.RunID,
		StalePID:    stale.PID,
		NewRunID:    newRunID,
		ReclaimedAt: time.Now(),
		Reason:      reason,
	}
	if err := m.appendRecovery(record); err != nil {
		return fmt.Errorf("failed to record lock reclaim: %w", err)
	}
	if m.logger != nil {
		m.logger.Warn("Reclaimed stale lock",
			logger.WithField("repo", stale.Repo),
			logger.WithField("staleRun", stale.RunID),
			logger.WithField("reason", reason))
	}
	return removeQuiet(quarantine)
}

func (m *Manager) appendRecovery(record reclaimRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, err := json.Marshal(record)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(m.RecoveryLogPath(), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.Write(append(data, '\n'))
	return err
}

// RecoveryLogPath returns the path of the reclaim journal
func (m *Manager) RecoveryLogPath() string {
	return filepath.Join(m.stateDir, "recovery.log")
}

func (m *Manager) lockPath(repo string) string {
	return filepath.Join(locksDir(m.stateDir), sanitize(repo)+".lock")
}

// createExclusive publishes a fully written lock record, failing with
// EEXIST if a lock already exists. The record is staged in a temp file and
// linked into place so a concurrent reader never sees a partial record.
func (m *Manager) createExclusive(path string, lock *Lock) error {
	data, err := json.MarshalIndent(lock, "", "  ")
	if err != nil {
		return err
	}
	f, err := os.CreateTemp(filepath.Dir(path), ".claim-*")
	if err != nil {
		return err
	}
	tmp := f.Name()
	defer removeQuiet(tmp)
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Link(tmp, path)
}

func (m *Manager) readLock(path string) (*Lock, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var lock Lock
	if err := json.Unmarshal(data, &lock); err != nil {
		return nil, fmt.Errorf("failed to parse lock record: %w", err)
	}
	return &lock, nil
}

func locksDir(stateDir string) string   { return filepath.Join(stateDir, "locks") }
func runsDir(stateDir string) string    { return filepath.Join(stateDir, "runs") }
func archiveDir(stateDir string) string { return filepath.Join(stateDir, "archive") }

func sanitize(repo string) string {
	return strings.ReplaceAll(repo, "/", "__")
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil {
		return ""
	}
	return h
}

func removeQuiet(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func writeAtomic(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}
	tempFile := path + ".tmp"
	if err := os.WriteFile(tempFile, data, 0o644); err != nil {
		return fmt.Errorf("failed to write record: %w", err)
	}
	if err := os.Rename(tempFile, path); err != nil {
		removeQuiet(tempFile)
		return fmt.Errorf("failed to rename record: %w", err)
	}
	return nil
}

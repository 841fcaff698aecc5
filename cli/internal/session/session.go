// Package session records the run in progress: the run record
// (stagecheck-run.json in the git directory) names the backup snapshot and
// patch of an active lifecycle, and an advisory lock (stagecheck.lock) keeps
// a second run out of the same repository until the first finishes.
package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"stagecheck/cli/internal/erruser"
)

// ErrLocked indicates another stagecheck process holds the repository lock.
var ErrLocked = errors.New("another stagecheck process is running")

const (
	recordFilename = "stagecheck-run.json"
	lockFilename   = "stagecheck.lock"
)

// Record describes an active run. It is written before the first git
// mutation and removed when the run finishes, so a leftover record means the
// run was interrupted.
type Record struct {
	RunID     string    `json:"run_id"`
	Label     string    `json:"label"`
	PatchPath string    `json:"patch_path,omitempty"`
	StartedAt time.Time `json:"started_at"`
	PID       int       `json:"pid"`
}

// Load reads the record from gitDir. If none exists, returns nil and nil error.
func Load(gitDir string) (*Record, error) {
	data, err := os.ReadFile(filepath.Join(gitDir, recordFilename))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, erruser.New("Could not read run record.", err)
	}
	var r Record
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, erruser.New("Run record is invalid or corrupted.", err)
	}
	return &r, nil
}

// Save writes r to gitDir atomically (temp file then rename).
func Save(gitDir string, r *Record) error {
	if r == nil {
		return erruser.New("Cannot save nil run record.", nil)
	}
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return erruser.New("Could not save run record.", err)
	}
	f, err := os.CreateTemp(gitDir, "stagecheck-run.*.tmp")
	if err != nil {
		return erruser.New("Could not save run record.", err)
	}
	tmpPath := f.Name()
	defer func() { _ = os.Remove(tmpPath) }()
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return erruser.New("Could not save run record.", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return erruser.New("Could not save run record.", err)
	}
	if err := f.Close(); err != nil {
		return erruser.New("Could not save run record.", err)
	}
	if err := os.Rename(tmpPath, filepath.Join(gitDir, recordFilename)); err != nil {
		return erruser.New("Could not save run record.", err)
	}
	return nil
}

// Remove deletes the record. A missing record is not an error.
func Remove(gitDir string) error {
	err := os.Remove(filepath.Join(gitDir, recordFilename))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// AcquireLock takes the repository lock in gitDir without blocking. Returns
// ErrLocked if another process holds it. The caller must call release.
func AcquireLock(gitDir string) (release func(), err error) {
	path := filepath.Join(gitDir, lockFilename)
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return nil, fmt.Errorf("run lock: open %s: %w", path, err)
	}
	if err := lockFile(f); err != nil {
		_ = f.Close()
		return nil, err
	}
	return func() {
		unlockFile(f)
		_ = f.Close()
	}, nil
}

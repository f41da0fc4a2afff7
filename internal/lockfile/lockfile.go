// Package lockfile guards the daemon's data directory with an exclusive
// advisory lock, so two notebookd processes never share one database.
package lockfile

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// ErrLockBusy is returned when another live process holds the lock.
var ErrLockBusy = errors.New("lock already held by another process")

const lockFileName = "notebookd.lock"

// LockInfo is the JSON payload written into the lock file, used for
// diagnostics ("who holds this lock") and stale-lock detection.
type LockInfo struct {
	PID       int       `json:"pid"`
	Database  string    `json:"database"`
	Version   string    `json:"version"`
	StartedAt time.Time `json:"started_at"`
}

// Lock is a held daemon lock. Release it on shutdown.
type Lock struct {
	file *os.File
	path string
}

// Acquire takes the exclusive daemon lock under dir, writing LockInfo
// for diagnostics. Returns ErrLockBusy (with holder detail when
// readable) if a live process already holds it.
func Acquire(dir, database, version string) (*Lock, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create lock dir: %w", err)
	}
	path := filepath.Join(dir, lockFileName)
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644) // #nosec G304 -- path derived from configured data dir
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}
	if err := flockExclusive(f); err != nil {
		_ = f.Close()
		if errors.Is(err, ErrLockBusy) {
			if info, rerr := ReadLockInfo(dir); rerr == nil && info.PID > 0 {
				return nil, fmt.Errorf("%w (pid %d since %s)", ErrLockBusy, info.PID, info.StartedAt.Format(time.RFC3339))
			}
		}
		return nil, err
	}

	info := LockInfo{PID: os.Getpid(), Database: database, Version: version, StartedAt: time.Now().UTC()}
	data, err := json.Marshal(info)
	if err != nil {
		_ = flockUnlock(f)
		_ = f.Close()
		return nil, fmt.Errorf("marshal lock info: %w", err)
	}
	if err := f.Truncate(0); err == nil {
		if _, err := f.WriteAt(data, 0); err == nil {
			_ = f.Sync()
		}
	}
	return &Lock{file: f, path: path}, nil
}

// Release drops the lock and removes the lock file.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	err := flockUnlock(l.file)
	cerr := l.file.Close()
	l.file = nil
	_ = os.Remove(l.path)
	if err != nil {
		return err
	}
	return cerr
}

// ReadLockInfo reads the lock file under dir. Accepts both the JSON
// format and a bare PID left by older builds.
func ReadLockInfo(dir string) (*LockInfo, error) {
	data, err := os.ReadFile(filepath.Join(dir, lockFileName)) // #nosec G304 -- path derived from configured data dir
	if err != nil {
		return nil, err
	}
	var info LockInfo
	if err := json.Unmarshal(data, &info); err == nil && info.PID != 0 {
		return &info, nil
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return nil, fmt.Errorf("unrecognized lock file format")
	}
	return &LockInfo{PID: pid}, nil
}

// IsStale reports whether the lock file under dir names a process that
// no longer runs. Missing lock file reads as stale.
func IsStale(dir string) bool {
	info, err := ReadLockInfo(dir)
	if err != nil {
		return true
	}
	return !isProcessRunning(info.PID)
}

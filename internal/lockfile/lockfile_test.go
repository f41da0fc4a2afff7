package lockfile

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestAcquireRelease(t *testing.T) {
	dir := t.TempDir()

	lock, err := Acquire(dir, "/data/notebook.db", "1.0.0")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	info, err := ReadLockInfo(dir)
	if err != nil {
		t.Fatalf("ReadLockInfo: %v", err)
	}
	if info.PID != os.Getpid() {
		t.Errorf("PID = %d, want %d", info.PID, os.Getpid())
	}
	if info.Database != "/data/notebook.db" {
		t.Errorf("Database = %q", info.Database)
	}

	// flock is per open-file-description: a second open in the same
	// process must still be refused
	if _, err := Acquire(dir, "/data/notebook.db", "1.0.0"); !errors.Is(err, ErrLockBusy) {
		t.Errorf("second Acquire = %v, want ErrLockBusy", err)
	}

	if err := lock.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "notebookd.lock")); !os.IsNotExist(err) {
		t.Error("lock file should be removed after release")
	}

	relock, err := Acquire(dir, "/data/notebook.db", "1.0.0")
	if err != nil {
		t.Fatalf("re-Acquire after release: %v", err)
	}
	_ = relock.Release()
}

func TestReadLockInfoFormats(t *testing.T) {
	t.Run("JSON format", func(t *testing.T) {
		dir := t.TempDir()
		want := &LockInfo{PID: 12345, Database: "/path/to/db", Version: "1.0.0", StartedAt: time.Now().UTC()}
		data, err := json.Marshal(want)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		if err := os.WriteFile(filepath.Join(dir, "notebookd.lock"), data, 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}

		got, err := ReadLockInfo(dir)
		if err != nil {
			t.Fatalf("ReadLockInfo: %v", err)
		}
		if got.PID != want.PID || got.Database != want.Database {
			t.Errorf("got %+v, want %+v", got, want)
		}
	})

	t.Run("bare PID format", func(t *testing.T) {
		dir := t.TempDir()
		if err := os.WriteFile(filepath.Join(dir, "notebookd.lock"), []byte("98765\n"), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
		got, err := ReadLockInfo(dir)
		if err != nil {
			t.Fatalf("ReadLockInfo: %v", err)
		}
		if got.PID != 98765 {
			t.Errorf("PID = %d, want 98765", got.PID)
		}
	})

	t.Run("garbage", func(t *testing.T) {
		dir := t.TempDir()
		if err := os.WriteFile(filepath.Join(dir, "notebookd.lock"), []byte("not a lock"), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
		if _, err := ReadLockInfo(dir); err == nil {
			t.Error("expected error for unrecognized format")
		}
	})
}

func TestIsStale(t *testing.T) {
	dir := t.TempDir()
	if !IsStale(dir) {
		t.Error("missing lock file should read as stale")
	}

	lock, err := Acquire(dir, "db", "v")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer lock.Release()
	if IsStale(dir) {
		t.Error("live lock reported stale")
	}
}

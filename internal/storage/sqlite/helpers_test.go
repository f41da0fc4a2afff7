package sqlite

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/thinktank-hq/notebook/internal/types"
)

// setupTestDB opens a file-backed store in a temp dir. File DBs exercise
// the WAL + connection-pool path that production uses.
func setupTestDB(t *testing.T) (*Store, func()) {
	t.Helper()
	dir := t.TempDir()
	store, err := New(context.Background(), filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return store, func() { _ = store.Close() }
}

// testAuthor builds a deterministic 64-hex author id from one byte.
func testAuthor(n byte) types.AuthorID {
	return types.AuthorID(strings.Repeat(fmt.Sprintf("%02x", n), 32))
}

func mustCreateNotebook(t *testing.T, store *Store, id string, owner types.AuthorID) *types.Notebook {
	t.Helper()
	nb := &types.Notebook{
		ID:              id,
		Name:            "notebook " + id,
		OwnerAuthor:     owner,
		Classification:  types.Label{Level: types.LevelPublic},
		ReviewThreshold: 0.75,
	}
	if err := store.CreateNotebook(context.Background(), nb); err != nil {
		t.Fatalf("CreateNotebook(%s) failed: %v", id, err)
	}
	return nb
}

func mustInsertEntry(t *testing.T, store *Store, notebookID string, author types.AuthorID, id, content string) *types.Entry {
	t.Helper()
	e := &types.Entry{
		ID:      id,
		Content: []byte(content),
		Author:  author,
	}
	if err := store.InsertEntries(context.Background(), notebookID, []*types.Entry{e}); err != nil {
		t.Fatalf("InsertEntries(%s) failed: %v", id, err)
	}
	return e
}

func mustEnqueueJob(t *testing.T, store *Store, notebookID string, jt types.JobType) *types.Job {
	t.Helper()
	job := &types.Job{NotebookID: notebookID, Type: jt}
	if err := store.EnqueueJob(context.Background(), job); err != nil {
		t.Fatalf("EnqueueJob(%s) failed: %v", jt, err)
	}
	return job
}

// backdateClaim rewinds a claimed job's claim time so reclaim tests need
// no real sleeping.
func backdateClaim(t *testing.T, store *Store, jobID string, by time.Duration) {
	t.Helper()
	_, err := store.db.ExecContext(context.Background(),
		`UPDATE jobs SET claimed_at = ? WHERE id = ?`, time.Now().UTC().Add(-by), jobID)
	if err != nil {
		t.Fatalf("backdate claim failed: %v", err)
	}
}

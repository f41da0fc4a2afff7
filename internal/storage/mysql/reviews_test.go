package mysql

import (
	"context"
	"errors"
	"testing"

	"github.com/thinktank-hq/notebook/internal/storage"
	"github.com/thinktank-hq/notebook/internal/types"
)

func openReview(t *testing.T, store *Store, notebookID, entryID string, submitter types.AuthorID) {
	t.Helper()
	ctx := context.Background()
	if err := store.EnsureAuthor(ctx, submitter, nil); err != nil {
		t.Fatalf("EnsureAuthor failed: %v", err)
	}
	e := &types.Entry{ID: entryID, Content: []byte("held for review"), Author: submitter,
		ReviewStatus: types.ReviewPending}
	if err := store.InsertEntries(ctx, notebookID, []*types.Entry{e}); err != nil {
		t.Fatalf("InsertEntries(%s) failed: %v", entryID, err)
	}
	rec := &types.ReviewRecord{EntryID: entryID, NotebookID: notebookID, SubmittedBy: submitter}
	if err := store.CreateReview(ctx, rec); err != nil {
		t.Fatalf("CreateReview(%s) failed: %v", entryID, err)
	}
}

func TestDecideReviewApprove(t *testing.T) {
	ctx := context.Background()
	store, cleanup := setupTestDB(t)
	defer cleanup()

	owner := testAuthor(1)
	submitter := testAuthor(2)
	mustCreateNotebook(t, store, "nb-rev", owner)
	openReview(t, store, "nb-rev", "rev-1", submitter)

	rec, err := store.DecideReview(ctx, "nb-rev", "rev-1", owner, true, "looks right")
	if err != nil {
		t.Fatalf("DecideReview failed: %v", err)
	}
	if rec.Status != types.ReviewApproved || rec.DecidedBy != owner || rec.DecidedAt == nil {
		t.Errorf("record = %+v", rec)
	}
	if rec.Reason != "looks right" {
		t.Errorf("reason = %q", rec.Reason)
	}

	e, err := store.GetEntry(ctx, "nb-rev", "rev-1")
	if err != nil {
		t.Fatalf("GetEntry failed: %v", err)
	}
	if e.ReviewStatus != types.ReviewApproved {
		t.Errorf("entry review_status = %s, want approved", e.ReviewStatus)
	}
}

func TestDecideReviewReject(t *testing.T) {
	ctx := context.Background()
	store, cleanup := setupTestDB(t)
	defer cleanup()

	owner := testAuthor(1)
	mustCreateNotebook(t, store, "nb-rej", owner)
	openReview(t, store, "nb-rej", "rej-1", testAuthor(2))

	rec, err := store.DecideReview(ctx, "nb-rej", "rej-1", owner, false, "contradicts ledger")
	if err != nil {
		t.Fatalf("DecideReview failed: %v", err)
	}
	if rec.Status != types.ReviewRejected {
		t.Errorf("status = %s, want rejected", rec.Status)
	}
	e, _ := store.GetEntry(ctx, "nb-rej", "rej-1")
	if e.ReviewStatus != types.ReviewRejected {
		t.Errorf("entry review_status = %s", e.ReviewStatus)
	}
}

func TestDecideReviewOnce(t *testing.T) {
	ctx := context.Background()
	store, cleanup := setupTestDB(t)
	defer cleanup()

	owner := testAuthor(1)
	mustCreateNotebook(t, store, "nb-once", owner)
	openReview(t, store, "nb-once", "once-1", testAuthor(2))

	if _, err := store.DecideReview(ctx, "nb-once", "once-1", owner, true, ""); err != nil {
		t.Fatalf("first decision failed: %v", err)
	}
	if _, err := store.DecideReview(ctx, "nb-once", "once-1", owner, false, "changed my mind"); !errors.Is(err, storage.ErrConflict) {
		t.Errorf("second decision: expected ErrConflict, got %v", err)
	}
	if _, err := store.DecideReview(ctx, "nb-once", "no-such", owner, true, ""); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("missing review: expected ErrNotFound, got %v", err)
	}
}

func TestListPendingReviews(t *testing.T) {
	ctx := context.Background()
	store, cleanup := setupTestDB(t)
	defer cleanup()

	owner := testAuthor(1)
	mustCreateNotebook(t, store, "nb-queue", owner)
	openReview(t, store, "nb-queue", "q-1", testAuthor(2))
	openReview(t, store, "nb-queue", "q-2", testAuthor(3))
	openReview(t, store, "nb-queue", "q-3", testAuthor(2))

	if _, err := store.DecideReview(ctx, "nb-queue", "q-2", owner, true, ""); err != nil {
		t.Fatalf("DecideReview failed: %v", err)
	}

	pending, err := store.ListPendingReviews(ctx, "nb-queue")
	if err != nil {
		t.Fatalf("ListPendingReviews failed: %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("got %d pending, want 2", len(pending))
	}
	if pending[0].EntryID != "q-1" || pending[1].EntryID != "q-3" {
		t.Errorf("queue order = %s, %s", pending[0].EntryID, pending[1].EntryID)
	}
	for _, rec := range pending {
		if rec.Status != types.ReviewPending {
			t.Errorf("%s status = %s", rec.EntryID, rec.Status)
		}
	}
}

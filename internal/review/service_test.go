package review

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/thinktank-hq/notebook/internal/access"
	"github.com/thinktank-hq/notebook/internal/pipeline"
	"github.com/thinktank-hq/notebook/internal/storage"
	"github.com/thinktank-hq/notebook/internal/storage/sqlite"
	"github.com/thinktank-hq/notebook/internal/types"
	"github.com/thinktank-hq/notebook/internal/writer"
)

func setupReview(t *testing.T, cfg writer.Config) (*Service, *writer.Writer, storage.Storage, func()) {
	t.Helper()
	store, err := sqlite.New(context.Background(), filepath.Join(t.TempDir(), "review.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	gate := access.NewGate(store)
	w, err := writer.New(store, gate, cfg)
	if err != nil {
		t.Fatalf("new writer: %v", err)
	}
	return NewService(store, gate, 0), w, store, func() { _ = store.Close() }
}

func author(n byte) types.AuthorID {
	return types.AuthorID(strings.Repeat(fmt.Sprintf("%02x", n), 32))
}

func newNotebook(t *testing.T, store storage.Storage, id string, owner types.AuthorID) {
	t.Helper()
	nb := &types.Notebook{
		ID: id, Name: "review test " + id, OwnerAuthor: owner,
		Classification: types.Label{Level: types.LevelPublic}, ReviewThreshold: 0.75,
	}
	if err := store.CreateNotebook(context.Background(), nb); err != nil {
		t.Fatalf("CreateNotebook(%s): %v", id, err)
	}
}

func grantTier(t *testing.T, store storage.Storage, notebookID string, a types.AuthorID, tier types.Tier, trusted bool) {
	t.Helper()
	err := store.UpsertGrant(context.Background(), &types.AccessGrant{
		NotebookID: notebookID, Author: a, Tier: tier, Trusted: trusted,
	})
	if err != nil {
		t.Fatalf("UpsertGrant: %v", err)
	}
}

func pendingWrite(t *testing.T, w *writer.Writer, notebookID string, a types.AuthorID, content string) *writer.WriteResult {
	t.Helper()
	res, err := w.Write(context.Background(), &writer.WriteRequest{
		NotebookID: notebookID, Author: a, Content: []byte(content),
	})
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if res.Review == nil {
		t.Fatalf("untrusted write produced no review record")
	}
	return res
}

func distillJobs(t *testing.T, store storage.Storage, notebookID string) []*types.Job {
	t.Helper()
	jobs, err := store.ListJobs(context.Background(), notebookID,
		storage.JobFilter{Type: types.JobDistillClaims, Status: types.JobPending})
	if err != nil {
		t.Fatalf("ListJobs: %v", err)
	}
	return jobs
}

type captureNotifier struct {
	changes []storage.Change
}

func (n *captureNotifier) Publish(_ string, ch storage.Change) {
	n.changes = append(n.changes, ch)
}

func TestApproveSeedsDistill(t *testing.T) {
	ctx := context.Background()
	svc, w, store, cleanup := setupReview(t, writer.Config{})
	defer cleanup()
	owner, guest, peer := author(1), author(2), author(3)
	newNotebook(t, store, "nb", owner)
	grantTier(t, store, "nb", guest, types.TierReadWrite, false)
	grantTier(t, store, "nb", peer, types.TierRead, false)
	notify := &captureNotifier{}
	svc.SetNotifier(notify)

	res := pendingWrite(t, w, "nb", guest, "the moon has no atmosphere")
	if n := len(distillJobs(t, store, "nb")); n != 0 {
		t.Fatalf("pending write seeded %d distill jobs", n)
	}

	// Peers cannot see the held entry.
	visible, err := store.BrowseEntries(ctx, "nb", storage.BrowseFilter{Viewer: storage.Viewer{Author: peer}})
	if err != nil {
		t.Fatalf("BrowseEntries: %v", err)
	}
	if len(visible) != 0 {
		t.Fatalf("pending entry visible to peer")
	}

	rec, err := svc.Approve(ctx, "nb", res.Entry.ID, owner, "looks right")
	if err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if rec.Status != types.ReviewApproved || rec.DecidedBy != owner {
		t.Errorf("record = %s by %s", rec.Status, rec.DecidedBy)
	}

	jobs := distillJobs(t, store, "nb")
	if len(jobs) != 1 {
		t.Fatalf("distill jobs after approval = %d, want exactly 1", len(jobs))
	}
	payload, err := pipeline.DecodeDistillPayload(jobs[0].Payload)
	if err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload.EntryID != res.Entry.ID || payload.MaxClaims != writer.DefaultMaxClaims {
		t.Errorf("payload = entry %s max %d", payload.EntryID, payload.MaxClaims)
	}

	got, err := store.GetEntry(ctx, "nb", res.Entry.ID)
	if err != nil {
		t.Fatalf("GetEntry: %v", err)
	}
	if got.ReviewStatus != types.ReviewApproved {
		t.Errorf("entry review status = %s", got.ReviewStatus)
	}
	if len(notify.changes) != 1 || notify.changes[0].EntryID != res.Entry.ID {
		t.Errorf("announcements = %d", len(notify.changes))
	}

	recs, err := store.QueryAudit(ctx, "nb", storage.AuditFilter{Action: "review.approve"})
	if err != nil {
		t.Fatalf("QueryAudit: %v", err)
	}
	if len(recs) != 1 {
		t.Errorf("audit records = %d", len(recs))
	}

	if _, err := svc.Approve(ctx, "nb", res.Entry.ID, owner, "again"); !errors.Is(err, storage.ErrConflict) {
		t.Fatalf("double approve: err = %v, want ErrConflict", err)
	}
}

func TestApproveFragmentedEntrySeedsPerFragment(t *testing.T) {
	ctx := context.Background()
	svc, w, store, cleanup := setupReview(t, writer.Config{TokenBudget: 10})
	defer cleanup()
	owner, guest := author(1), author(2)
	newNotebook(t, store, "nb", owner)
	grantTier(t, store, "nb", guest, types.TierReadWrite, false)
	notify := &captureNotifier{}
	svc.SetNotifier(notify)

	content := "granite is an igneous rock formed slowly\n\n" +
		"basalt cools quickly at the surface\n\n" +
		"marble is metamorphosed limestone"
	res := pendingWrite(t, w, "nb", guest, content)
	if len(res.Fragments) < 2 {
		t.Fatalf("write split into %d fragments, want at least 2", len(res.Fragments))
	}

	if _, err := svc.Approve(ctx, "nb", res.Entry.ID, owner, ""); err != nil {
		t.Fatalf("Approve: %v", err)
	}

	jobs := distillJobs(t, store, "nb")
	if len(jobs) != len(res.Fragments) {
		t.Fatalf("distill jobs = %d, want one per fragment (%d)", len(jobs), len(res.Fragments))
	}
	seeded := map[string]bool{}
	for _, job := range jobs {
		payload, err := pipeline.DecodeDistillPayload(job.Payload)
		if err != nil {
			t.Fatalf("decode payload: %v", err)
		}
		seeded[payload.EntryID] = true
	}
	for _, frag := range res.Fragments {
		if !seeded[frag.ID] {
			t.Errorf("fragment %s not seeded", frag.ID)
		}
		got, err := store.GetEntry(ctx, "nb", frag.ID)
		if err != nil {
			t.Fatalf("GetEntry(%s): %v", frag.ID, err)
		}
		if got.ReviewStatus != types.ReviewApproved {
			t.Errorf("fragment %s review status = %s", frag.ID, got.ReviewStatus)
		}
	}
	if seeded[res.Entry.ID] {
		t.Error("container parent seeded for distill")
	}
	if len(notify.changes) != 1+len(res.Fragments) {
		t.Errorf("announcements = %d, want parent plus fragments", len(notify.changes))
	}
}

func TestApproveExplicitFragmentCarriesSiblingContext(t *testing.T) {
	ctx := context.Background()
	svc, w, store, cleanup := setupReview(t, writer.Config{})
	defer cleanup()
	owner, guest := author(1), author(2)
	newNotebook(t, store, "nb", owner)
	grantTier(t, store, "nb", guest, types.TierReadWrite, false)

	parent, err := w.Write(ctx, &writer.WriteRequest{
		NotebookID: "nb", Author: owner, Content: []byte("field notes, day one"),
	})
	if err != nil {
		t.Fatalf("parent write: %v", err)
	}
	first, err := w.Write(ctx, &writer.WriteRequest{
		NotebookID: "nb", Author: owner, Content: []byte("yesterday it rained"),
		FragmentOf: parent.Entry.ID,
	})
	if err != nil {
		t.Fatalf("first fragment: %v", err)
	}
	err = store.UpdateEntryClaims(ctx, "nb", first.Entry.ID,
		[]types.Claim{{Text: "rain fell on day one", Confidence: 0.9}}, types.ClaimsDistilled)
	if err != nil {
		t.Fatalf("UpdateEntryClaims: %v", err)
	}

	second := func() *writer.WriteResult {
		res, err := w.Write(ctx, &writer.WriteRequest{
			NotebookID: "nb", Author: guest, Content: []byte("today the river rose"),
			FragmentOf: parent.Entry.ID,
		})
		if err != nil {
			t.Fatalf("second fragment: %v", err)
		}
		if res.Review == nil {
			t.Fatal("untrusted fragment skipped review")
		}
		return res
	}()

	if _, err := svc.Approve(ctx, "nb", second.Entry.ID, owner, ""); err != nil {
		t.Fatalf("Approve: %v", err)
	}

	jobs := distillJobs(t, store, "nb")
	var payload *pipeline.DistillPayload
	for _, job := range jobs {
		p, err := pipeline.DecodeDistillPayload(job.Payload)
		if err != nil {
			t.Fatalf("decode payload: %v", err)
		}
		if p.EntryID == second.Entry.ID {
			payload = p
		}
	}
	if payload == nil {
		t.Fatal("approved fragment not seeded")
	}
	if len(payload.ContextClaims) != 1 || payload.ContextClaims[0].Text != "rain fell on day one" {
		t.Errorf("context claims = %+v, want the sibling's claim", payload.ContextClaims)
	}
}

func TestRejectLeavesEntryInert(t *testing.T) {
	ctx := context.Background()
	svc, w, store, cleanup := setupReview(t, writer.Config{})
	defer cleanup()
	owner, guest := author(1), author(2)
	newNotebook(t, store, "nb", owner)
	grantTier(t, store, "nb", guest, types.TierReadWrite, false)
	notify := &captureNotifier{}
	svc.SetNotifier(notify)

	res := pendingWrite(t, w, "nb", guest, "the sun is cold")

	rec, err := svc.Reject(ctx, "nb", res.Entry.ID, owner, "nonsense")
	if err != nil {
		t.Fatalf("Reject: %v", err)
	}
	if rec.Status != types.ReviewRejected || rec.Reason != "nonsense" {
		t.Errorf("record = %s %q", rec.Status, rec.Reason)
	}

	if n := len(distillJobs(t, store, "nb")); n != 0 {
		t.Errorf("rejected entry seeded %d distill jobs", n)
	}
	got, err := store.GetEntry(ctx, "nb", res.Entry.ID)
	if err != nil {
		t.Fatalf("GetEntry: %v", err)
	}
	if got.ReviewStatus != types.ReviewRejected {
		t.Errorf("entry review status = %s", got.ReviewStatus)
	}
	if len(notify.changes) != 0 {
		t.Errorf("rejected entry announced")
	}

	if _, err := svc.Approve(ctx, "nb", res.Entry.ID, owner, "changed my mind"); !errors.Is(err, storage.ErrConflict) {
		t.Fatalf("approve after reject: err = %v, want ErrConflict", err)
	}
}

func TestReviewDecisionsRequireAdmin(t *testing.T) {
	ctx := context.Background()
	svc, w, store, cleanup := setupReview(t, writer.Config{})
	defer cleanup()
	owner, guest, rw := author(1), author(2), author(3)
	newNotebook(t, store, "nb", owner)
	grantTier(t, store, "nb", guest, types.TierReadWrite, false)
	grantTier(t, store, "nb", rw, types.TierReadWrite, true)

	res := pendingWrite(t, w, "nb", guest, "contested entry")

	if _, err := svc.Approve(ctx, "nb", res.Entry.ID, rw, ""); !errors.Is(err, access.ErrForbidden) {
		t.Fatalf("read-write approver: err = %v, want ErrForbidden", err)
	}
	if _, err := svc.Reject(ctx, "nb", res.Entry.ID, author(4), ""); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("stranger rejecter: err = %v, want ErrNotFound", err)
	}
	if _, err := svc.Pending(ctx, "nb", rw); !errors.Is(err, access.ErrForbidden) {
		t.Fatalf("read-write queue reader: err = %v, want ErrForbidden", err)
	}
}

func TestPendingQueue(t *testing.T) {
	ctx := context.Background()
	svc, w, store, cleanup := setupReview(t, writer.Config{})
	defer cleanup()
	owner, guest := author(1), author(2)
	newNotebook(t, store, "nb", owner)
	grantTier(t, store, "nb", guest, types.TierReadWrite, false)

	first := pendingWrite(t, w, "nb", guest, "first submission")
	second := pendingWrite(t, w, "nb", guest, "second submission")

	queue, err := svc.Pending(ctx, "nb", owner)
	if err != nil {
		t.Fatalf("Pending: %v", err)
	}
	if len(queue) != 2 {
		t.Fatalf("queue = %d, want 2", len(queue))
	}

	if _, err := svc.Approve(ctx, "nb", first.Entry.ID, owner, ""); err != nil {
		t.Fatalf("Approve: %v", err)
	}
	queue, err = svc.Pending(ctx, "nb", owner)
	if err != nil {
		t.Fatalf("Pending: %v", err)
	}
	if len(queue) != 1 || queue[0].EntryID != second.Entry.ID {
		t.Fatalf("queue after approval = %d", len(queue))
	}
}

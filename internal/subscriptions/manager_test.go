package subscriptions

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/thinktank-hq/notebook/internal/access"
	"github.com/thinktank-hq/notebook/internal/storage"
	"github.com/thinktank-hq/notebook/internal/storage/sqlite"
	"github.com/thinktank-hq/notebook/internal/types"
)

func setupManager(t *testing.T) (*Manager, storage.Storage, func()) {
	t.Helper()
	store, err := sqlite.New(context.Background(), filepath.Join(t.TempDir(), "subs.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	mgr := NewManager(store, access.NewGate(store))
	return mgr, store, func() { _ = store.Close() }
}

func author(n byte) types.AuthorID {
	return types.AuthorID(strings.Repeat(fmt.Sprintf("%02x", n), 32))
}

func newNotebook(t *testing.T, store storage.Storage, id string, owner types.AuthorID, label types.Label) {
	t.Helper()
	if label.Level == "" {
		label.Level = types.LevelPublic
	}
	nb := &types.Notebook{
		ID: id, Name: "subs test " + id, OwnerAuthor: owner,
		Classification: label, ReviewThreshold: 0.75,
	}
	if err := store.CreateNotebook(context.Background(), nb); err != nil {
		t.Fatalf("CreateNotebook(%s): %v", id, err)
	}
}

func grantTier(t *testing.T, store storage.Storage, notebookID string, a types.AuthorID, tier types.Tier) {
	t.Helper()
	err := store.UpsertGrant(context.Background(), &types.AccessGrant{
		NotebookID: notebookID, Author: a, Tier: tier,
	})
	if err != nil {
		t.Fatalf("UpsertGrant: %v", err)
	}
}

func TestCreateSubscriptionDefaultsAndAudit(t *testing.T) {
	ctx := context.Background()
	mgr, store, cleanup := setupManager(t)
	defer cleanup()
	owner := author(1)
	newNotebook(t, store, "src", owner, types.Label{})
	newNotebook(t, store, "dst", owner, types.Label{})

	sub, err := mgr.Create(ctx, "dst", owner, &types.Subscription{SourceNotebook: "src"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if sub.ID == "" {
		t.Fatal("subscription id not assigned")
	}
	if sub.Scope != types.ScopeClaims || sub.DiscountFactor != 1.0 ||
		sub.PollIntervalSeconds != types.MinPollIntervalSeconds {
		t.Errorf("defaults = scope %s discount %v interval %d",
			sub.Scope, sub.DiscountFactor, sub.PollIntervalSeconds)
	}
	if sub.SyncStatus != types.SyncActive {
		t.Errorf("sync status = %s, want active", sub.SyncStatus)
	}
	if sub.ApprovedBy != owner {
		t.Errorf("approved_by = %s, want creator", sub.ApprovedBy)
	}

	got, err := store.GetSubscription(ctx, sub.ID)
	if err != nil {
		t.Fatalf("GetSubscription: %v", err)
	}
	if got.SubscriberNotebook != "dst" || got.SourceNotebook != "src" {
		t.Errorf("edge = %s -> %s", got.SubscriberNotebook, got.SourceNotebook)
	}

	recs, err := store.QueryAudit(ctx, "dst", storage.AuditFilter{Action: "subscription.create"})
	if err != nil {
		t.Fatalf("QueryAudit: %v", err)
	}
	if len(recs) != 1 || recs[0].TargetID != sub.ID {
		t.Errorf("audit records = %d", len(recs))
	}
}

func TestCreateRequiresAdminOnSubscriber(t *testing.T) {
	ctx := context.Background()
	mgr, store, cleanup := setupManager(t)
	defer cleanup()
	owner, writer := author(1), author(2)
	newNotebook(t, store, "src", owner, types.Label{})
	newNotebook(t, store, "dst", owner, types.Label{})
	grantTier(t, store, "dst", writer, types.TierReadWrite)
	grantTier(t, store, "src", writer, types.TierRead)

	_, err := mgr.Create(ctx, "dst", writer, &types.Subscription{SourceNotebook: "src"})
	if !errors.Is(err, access.ErrForbidden) {
		t.Fatalf("read-write creator: err = %v, want ErrForbidden", err)
	}

	stranger := author(3)
	_, err = mgr.Create(ctx, "dst", stranger, &types.Subscription{SourceNotebook: "src"})
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("stranger: err = %v, want ErrNotFound", err)
	}
}

func TestCreateRequiresSourceAccess(t *testing.T) {
	ctx := context.Background()
	mgr, store, cleanup := setupManager(t)
	defer cleanup()
	srcOwner, dstOwner := author(1), author(2)
	newNotebook(t, store, "src", srcOwner, types.Label{})
	newNotebook(t, store, "dst", dstOwner, types.Label{})

	// No grant on the source: its existence stays hidden.
	_, err := mgr.Create(ctx, "dst", dstOwner, &types.Subscription{SourceNotebook: "src"})
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("no source grant: err = %v, want ErrNotFound", err)
	}

	grantTier(t, store, "src", dstOwner, types.TierExistence)
	_, err = mgr.Create(ctx, "dst", dstOwner, &types.Subscription{SourceNotebook: "src"})
	if !errors.Is(err, access.ErrForbidden) {
		t.Fatalf("existence-only source grant: err = %v, want ErrForbidden", err)
	}

	grantTier(t, store, "src", dstOwner, types.TierRead)
	if _, err := mgr.Create(ctx, "dst", dstOwner, &types.Subscription{SourceNotebook: "src"}); err != nil {
		t.Fatalf("read grant on source: %v", err)
	}
}

func TestCreateHonorsLabelDominance(t *testing.T) {
	ctx := context.Background()
	mgr, store, cleanup := setupManager(t)
	defer cleanup()
	owner := author(1)
	newNotebook(t, store, "src", owner, types.NewLabel(types.LevelInternal, "metallurgy"))
	newNotebook(t, store, "dst", owner, types.Label{Level: types.LevelPublic})

	_, err := mgr.Create(ctx, "dst", owner, &types.Subscription{SourceNotebook: "src"})
	if !errors.Is(err, access.ErrForbidden) {
		t.Fatalf("public subscriber, internal source: err = %v, want ErrForbidden", err)
	}

	newNotebook(t, store, "vault", owner, types.NewLabel(types.LevelSecret, "metallurgy"))
	if _, err := mgr.Create(ctx, "vault", owner, &types.Subscription{SourceNotebook: "src"}); err != nil {
		t.Fatalf("dominating subscriber: %v", err)
	}
}

func TestSubscriptionCycleRefused(t *testing.T) {
	ctx := context.Background()
	mgr, store, cleanup := setupManager(t)
	defer cleanup()
	owner := author(1)
	for _, id := range []string{"nb-a", "nb-b", "nb-c"} {
		newNotebook(t, store, id, owner, types.Label{})
	}

	if _, err := mgr.Create(ctx, "nb-b", owner, &types.Subscription{SourceNotebook: "nb-a"}); err != nil {
		t.Fatalf("create b->a: %v", err)
	}

	_, err := mgr.Create(ctx, "nb-a", owner, &types.Subscription{SourceNotebook: "nb-b"})
	if !errors.Is(err, storage.ErrConflict) {
		t.Fatalf("a->b: err = %v, want ErrConflict", err)
	}
	if !strings.Contains(err.Error(), "nb-a -> nb-b -> nb-a") {
		t.Errorf("error does not name the cycle: %v", err)
	}

	// Transitive closure is refused too: with c->b and b->a in place,
	// a->c would loop through all three.
	if _, err := mgr.Create(ctx, "nb-c", owner, &types.Subscription{SourceNotebook: "nb-b"}); err != nil {
		t.Fatalf("create c->b: %v", err)
	}
	_, err = mgr.Create(ctx, "nb-a", owner, &types.Subscription{SourceNotebook: "nb-c"})
	if !errors.Is(err, storage.ErrConflict) {
		t.Fatalf("a->c: err = %v, want ErrConflict", err)
	}
	if !strings.Contains(err.Error(), "nb-a -> nb-c -> nb-b -> nb-a") {
		t.Errorf("error does not name the transitive cycle: %v", err)
	}
}

func TestCreateDuplicateEdgeConflicts(t *testing.T) {
	ctx := context.Background()
	mgr, store, cleanup := setupManager(t)
	defer cleanup()
	owner := author(1)
	newNotebook(t, store, "src", owner, types.Label{})
	newNotebook(t, store, "dst", owner, types.Label{})

	if _, err := mgr.Create(ctx, "dst", owner, &types.Subscription{SourceNotebook: "src"}); err != nil {
		t.Fatalf("first create: %v", err)
	}
	_, err := mgr.Create(ctx, "dst", owner, &types.Subscription{SourceNotebook: "src"})
	if !errors.Is(err, storage.ErrConflict) {
		t.Fatalf("duplicate edge: err = %v, want ErrConflict", err)
	}
}

func TestCreateRejectsInvalidSubscription(t *testing.T) {
	ctx := context.Background()
	mgr, store, cleanup := setupManager(t)
	defer cleanup()
	owner := author(1)
	newNotebook(t, store, "dst", owner, types.Label{})
	newNotebook(t, store, "src", owner, types.Label{})

	_, err := mgr.Create(ctx, "dst", owner, &types.Subscription{SourceNotebook: "dst"})
	if !errors.Is(err, storage.ErrInvalid) {
		t.Fatalf("self-subscribe: err = %v, want ErrInvalid", err)
	}

	_, err = mgr.Create(ctx, "dst", owner, &types.Subscription{SourceNotebook: "src", DiscountFactor: 1.5})
	if !errors.Is(err, storage.ErrInvalid) {
		t.Fatalf("discount 1.5: err = %v, want ErrInvalid", err)
	}
}

func TestDeleteSubscriptionScopedAndCascades(t *testing.T) {
	ctx := context.Background()
	mgr, store, cleanup := setupManager(t)
	defer cleanup()
	owner := author(1)
	newNotebook(t, store, "src", owner, types.Label{})
	newNotebook(t, store, "dst", owner, types.Label{})
	newNotebook(t, store, "other", owner, types.Label{})

	sub, err := mgr.Create(ctx, "dst", owner, &types.Subscription{SourceNotebook: "src"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	err = store.ApplyMirrorBatch(ctx, &storage.MirrorBatch{
		SubscriptionID: sub.ID,
		Upserts: []*types.MirroredClaim{{
			SubscriptionID: sub.ID, SourceEntryID: "e1", SourceNotebook: "src",
			NotebookID: "dst", Claims: []types.Claim{{Text: "iron rusts", Confidence: 0.9}},
			DiscountFactor: 1.0, SourceSequence: 1,
		}},
		Watermark: 1,
	})
	if err != nil {
		t.Fatalf("ApplyMirrorBatch: %v", err)
	}

	if err := mgr.Delete(ctx, "other", sub.ID, owner); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("delete via foreign notebook: err = %v, want ErrNotFound", err)
	}

	if err := mgr.Delete(ctx, "dst", sub.ID, owner); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := store.GetSubscription(ctx, sub.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("subscription survived delete: %v", err)
	}
	mirrors, err := store.ListMirroredClaims(ctx, "dst")
	if err != nil {
		t.Fatalf("ListMirroredClaims: %v", err)
	}
	if len(mirrors) != 0 {
		t.Errorf("mirrored rows survived delete: %d", len(mirrors))
	}
}

func TestPauseAndResume(t *testing.T) {
	ctx := context.Background()
	mgr, store, cleanup := setupManager(t)
	defer cleanup()
	owner := author(1)
	newNotebook(t, store, "src", owner, types.Label{})
	newNotebook(t, store, "dst", owner, types.Label{})

	sub, err := mgr.Create(ctx, "dst", owner, &types.Subscription{SourceNotebook: "src"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := mgr.SetPaused(ctx, "dst", sub.ID, owner, true); err != nil {
		t.Fatalf("pause: %v", err)
	}
	due, err := store.DueSubscriptions(ctx, time.Now().UTC().Add(time.Hour))
	if err != nil {
		t.Fatalf("DueSubscriptions: %v", err)
	}
	if len(due) != 0 {
		t.Errorf("paused subscription still due")
	}

	// Resume clears a sticky sync error along with the pause.
	if err := store.SetSubscriptionStatus(ctx, sub.ID, types.SyncError, "source flapped"); err != nil {
		t.Fatalf("SetSubscriptionStatus: %v", err)
	}
	if err := mgr.SetPaused(ctx, "dst", sub.ID, owner, false); err != nil {
		t.Fatalf("resume: %v", err)
	}
	got, err := store.GetSubscription(ctx, sub.ID)
	if err != nil {
		t.Fatalf("GetSubscription: %v", err)
	}
	if got.SyncStatus != types.SyncActive || got.SyncError != "" {
		t.Errorf("after resume: status %s error %q", got.SyncStatus, got.SyncError)
	}
}

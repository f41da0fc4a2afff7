package mysql

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/thinktank-hq/notebook/internal/storage"
	"github.com/thinktank-hq/notebook/internal/types"
)

func TestSubscriptionRoundtrip(t *testing.T) {
	ctx := context.Background()
	store, cleanup := setupTestDB(t)
	defer cleanup()

	owner := testAuthor(1)
	mustCreateNotebook(t, store, "nb-sub", owner)
	mustCreateNotebook(t, store, "nb-srcA", owner)

	sub := &types.Subscription{
		SubscriberNotebook:  "nb-sub",
		SourceNotebook:      "nb-srcA",
		TopicFilter:         "science/",
		DiscountFactor:      0.5,
		PollIntervalSeconds: 30,
		ApprovedBy:          owner,
	}
	if err := store.CreateSubscription(ctx, sub); err != nil {
		t.Fatalf("CreateSubscription failed: %v", err)
	}
	if sub.ID == "" {
		t.Fatal("subscription id not assigned")
	}

	got, err := store.GetSubscription(ctx, sub.ID)
	if err != nil {
		t.Fatalf("GetSubscription failed: %v", err)
	}
	if got.Scope != types.ScopeClaims {
		t.Errorf("scope = %s, want defaulted claims", got.Scope)
	}
	if got.DiscountFactor != 0.5 || got.TopicFilter != "science/" {
		t.Errorf("subscription = %+v", got)
	}
	if got.SyncStatus != types.SyncActive || got.Watermark != 0 {
		t.Errorf("fresh subscription state = %s wm=%d", got.SyncStatus, got.Watermark)
	}

	// One subscription per (subscriber, source) pair.
	dup := &types.Subscription{SubscriberNotebook: "nb-sub", SourceNotebook: "nb-srcA"}
	if err := store.CreateSubscription(ctx, dup); !errors.Is(err, storage.ErrConflict) {
		t.Errorf("duplicate subscription: expected ErrConflict, got %v", err)
	}
}

func TestDueSubscriptions(t *testing.T) {
	ctx := context.Background()
	store, cleanup := setupTestDB(t)
	defer cleanup()

	owner := testAuthor(1)
	mustCreateNotebook(t, store, "nb-due", owner)
	mustCreateNotebook(t, store, "nb-src1", owner)
	mustCreateNotebook(t, store, "nb-src2", owner)

	fresh := &types.Subscription{SubscriberNotebook: "nb-due", SourceNotebook: "nb-src1"}
	if err := store.CreateSubscription(ctx, fresh); err != nil {
		t.Fatalf("CreateSubscription failed: %v", err)
	}
	synced := &types.Subscription{SubscriberNotebook: "nb-due", SourceNotebook: "nb-src2", PollIntervalSeconds: 3600}
	if err := store.CreateSubscription(ctx, synced); err != nil {
		t.Fatalf("CreateSubscription failed: %v", err)
	}
	if err := store.ApplyMirrorBatch(ctx, &storage.MirrorBatch{
		SubscriptionID: synced.ID, Watermark: 0, SyncedAt: time.Now().UTC(),
	}); err != nil {
		t.Fatalf("ApplyMirrorBatch failed: %v", err)
	}

	due, err := store.DueSubscriptions(ctx, time.Now().UTC())
	if err != nil {
		t.Fatalf("DueSubscriptions failed: %v", err)
	}
	if len(due) != 1 || due[0].ID != fresh.ID {
		t.Fatalf("due = %v, want just the never-synced subscription", due)
	}

	// Paused subscriptions never come due.
	if err := store.SetSubscriptionStatus(ctx, fresh.ID, types.SyncPaused, ""); err != nil {
		t.Fatalf("SetSubscriptionStatus failed: %v", err)
	}
	due, err = store.DueSubscriptions(ctx, time.Now().UTC())
	if err != nil {
		t.Fatalf("DueSubscriptions failed: %v", err)
	}
	if len(due) != 0 {
		t.Errorf("paused subscription came due: %v", due)
	}
}

// TestApplyMirrorBatchWatermark verifies the core sync invariant: the
// watermark, the upserts and the tombstones land in one transaction, and
// a re-synced entry refreshes in place.
func TestApplyMirrorBatchWatermark(t *testing.T) {
	ctx := context.Background()
	store, cleanup := setupTestDB(t)
	defer cleanup()

	owner := testAuthor(1)
	mustCreateNotebook(t, store, "nb-wm", owner)
	mustCreateNotebook(t, store, "nb-wsrc", owner)
	sub := &types.Subscription{SubscriberNotebook: "nb-wm", SourceNotebook: "nb-wsrc"}
	if err := store.CreateSubscription(ctx, sub); err != nil {
		t.Fatalf("CreateSubscription failed: %v", err)
	}

	first := &storage.MirrorBatch{
		SubscriptionID: sub.ID,
		Upserts: []*types.MirroredClaim{
			{SourceEntryID: "r1", SourceNotebook: "nb-wsrc", NotebookID: "nb-wm",
				Claims: []types.Claim{{Text: "v1", Confidence: 0.9}}, DiscountFactor: 1, SourceSequence: 1},
			{SourceEntryID: "r2", SourceNotebook: "nb-wsrc", NotebookID: "nb-wm",
				Claims: []types.Claim{{Text: "other", Confidence: 0.8}}, DiscountFactor: 1, SourceSequence: 2},
		},
		Watermark: 2,
	}
	if err := store.ApplyMirrorBatch(ctx, first); err != nil {
		t.Fatalf("first batch failed: %v", err)
	}

	got, err := store.GetSubscription(ctx, sub.ID)
	if err != nil {
		t.Fatalf("GetSubscription failed: %v", err)
	}
	if got.Watermark != 2 || got.MirroredCount != 2 || got.LastSyncAt == nil {
		t.Errorf("after first sync: wm=%d count=%d last=%v", got.Watermark, got.MirroredCount, got.LastSyncAt)
	}

	// Second sync: r1 revised upstream, r2 deleted upstream.
	second := &storage.MirrorBatch{
		SubscriptionID: sub.ID,
		Upserts: []*types.MirroredClaim{
			{SourceEntryID: "r1", SourceNotebook: "nb-wsrc", NotebookID: "nb-wm",
				Claims: []types.Claim{{Text: "v2", Confidence: 0.95}}, DiscountFactor: 1, SourceSequence: 3},
		},
		Tombstones: []string{"r2"},
		Watermark:  3,
	}
	if err := store.ApplyMirrorBatch(ctx, second); err != nil {
		t.Fatalf("second batch failed: %v", err)
	}

	got, err = store.GetSubscription(ctx, sub.ID)
	if err != nil {
		t.Fatalf("GetSubscription failed: %v", err)
	}
	if got.Watermark != 3 || got.MirroredCount != 1 {
		t.Errorf("after second sync: wm=%d count=%d, want 3/1", got.Watermark, got.MirroredCount)
	}

	mirrors, err := store.ListMirroredClaims(ctx, "nb-wm")
	if err != nil {
		t.Fatalf("ListMirroredClaims failed: %v", err)
	}
	if len(mirrors) != 2 {
		t.Fatalf("got %d mirror rows, want 2", len(mirrors))
	}
	byID := map[string]*types.MirroredClaim{}
	for _, m := range mirrors {
		byID[m.SourceEntryID] = m
	}
	r1 := byID["r1"]
	if r1 == nil || r1.Claims[0].Text != "v2" || r1.Tombstoned {
		t.Errorf("r1 = %+v, want refreshed v2", r1)
	}
	if r1.SourceSequence != 3 {
		t.Errorf("r1 source_sequence = %d, want 3", r1.SourceSequence)
	}
	r2 := byID["r2"]
	if r2 == nil || !r2.Tombstoned {
		t.Errorf("r2 = %+v, want tombstoned", r2)
	}
}

func TestMirroredEmbeddingLifecycle(t *testing.T) {
	ctx := context.Background()
	store, cleanup := setupTestDB(t)
	defer cleanup()

	owner := testAuthor(1)
	mustCreateNotebook(t, store, "nb-me", owner)
	mustCreateNotebook(t, store, "nb-mesrc", owner)
	sub := &types.Subscription{SubscriberNotebook: "nb-me", SourceNotebook: "nb-mesrc"}
	if err := store.CreateSubscription(ctx, sub); err != nil {
		t.Fatalf("CreateSubscription failed: %v", err)
	}

	if err := store.ApplyMirrorBatch(ctx, &storage.MirrorBatch{
		SubscriptionID: sub.ID,
		Upserts: []*types.MirroredClaim{{SourceEntryID: "m1", SourceNotebook: "nb-mesrc",
			NotebookID: "nb-me", DiscountFactor: 0.6, SourceSequence: 1}},
		Watermark: 1,
	}); err != nil {
		t.Fatalf("batch failed: %v", err)
	}

	mirrors, _ := store.ListMirroredClaims(ctx, "nb-me")
	if len(mirrors) != 1 {
		t.Fatal("mirror missing")
	}
	id := mirrors[0].ID

	if err := store.UpdateMirroredEmbedding(ctx, id, []float32{0.5, 0.5}); err != nil {
		t.Fatalf("UpdateMirroredEmbedding failed: %v", err)
	}
	m, err := store.GetMirroredClaim(ctx, id)
	if err != nil {
		t.Fatalf("GetMirroredClaim failed: %v", err)
	}
	if len(m.Embedding) != 2 {
		t.Errorf("embedding = %v", m.Embedding)
	}

	// A second sync of the same source entry clears the embedding so the
	// pipeline re-embeds the refreshed claims.
	if err := store.ApplyMirrorBatch(ctx, &storage.MirrorBatch{
		SubscriptionID: sub.ID,
		Upserts: []*types.MirroredClaim{{SourceEntryID: "m1", SourceNotebook: "nb-mesrc",
			NotebookID: "nb-me", Claims: []types.Claim{{Text: "new", Confidence: 1}},
			DiscountFactor: 0.6, SourceSequence: 2}},
		Watermark: 2,
	}); err != nil {
		t.Fatalf("resync failed: %v", err)
	}
	m, err = store.GetMirroredClaim(ctx, id)
	if err != nil {
		t.Fatalf("GetMirroredClaim after resync failed: %v", err)
	}
	if len(m.Embedding) != 0 {
		t.Errorf("embedding should be cleared on resync, got %v", m.Embedding)
	}
}

func TestDeleteSubscriptionCascades(t *testing.T) {
	ctx := context.Background()
	store, cleanup := setupTestDB(t)
	defer cleanup()

	owner := testAuthor(1)
	mustCreateNotebook(t, store, "nb-ds", owner)
	mustCreateNotebook(t, store, "nb-dsrc", owner)
	sub := &types.Subscription{SubscriberNotebook: "nb-ds", SourceNotebook: "nb-dsrc"}
	if err := store.CreateSubscription(ctx, sub); err != nil {
		t.Fatalf("CreateSubscription failed: %v", err)
	}
	if err := store.ApplyMirrorBatch(ctx, &storage.MirrorBatch{
		SubscriptionID: sub.ID,
		Upserts: []*types.MirroredClaim{{SourceEntryID: "d1", SourceNotebook: "nb-dsrc",
			NotebookID: "nb-ds", DiscountFactor: 1, SourceSequence: 1}},
		Watermark: 1,
	}); err != nil {
		t.Fatalf("batch failed: %v", err)
	}

	if err := store.DeleteSubscription(ctx, sub.ID); err != nil {
		t.Fatalf("DeleteSubscription failed: %v", err)
	}
	if _, err := store.GetSubscription(ctx, sub.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("subscription still present: %v", err)
	}
	mirrors, err := store.ListMirroredClaims(ctx, "nb-ds")
	if err != nil {
		t.Fatalf("ListMirroredClaims failed: %v", err)
	}
	if len(mirrors) != 0 {
		t.Errorf("mirrors survived unsubscribe: %v", mirrors)
	}
}

func TestListSubscriptionEdges(t *testing.T) {
	ctx := context.Background()
	store, cleanup := setupTestDB(t)
	defer cleanup()

	owner := testAuthor(1)
	mustCreateNotebook(t, store, "nb-e1", owner)
	mustCreateNotebook(t, store, "nb-e2", owner)
	mustCreateNotebook(t, store, "nb-e3", owner)

	for _, pair := range [][2]string{{"nb-e1", "nb-e2"}, {"nb-e2", "nb-e3"}} {
		sub := &types.Subscription{SubscriberNotebook: pair[0], SourceNotebook: pair[1]}
		if err := store.CreateSubscription(ctx, sub); err != nil {
			t.Fatalf("CreateSubscription(%v) failed: %v", pair, err)
		}
	}

	edges, err := store.ListSubscriptionEdges(ctx)
	if err != nil {
		t.Fatalf("ListSubscriptionEdges failed: %v", err)
	}
	if len(edges) != 2 {
		t.Fatalf("got %d edges, want 2", len(edges))
	}
	found := map[string]bool{}
	for _, e := range edges {
		found[e.Subscriber+"->"+e.Source] = true
	}
	if !found["nb-e1->nb-e2"] || !found["nb-e2->nb-e3"] {
		t.Errorf("edges = %v", found)
	}
}

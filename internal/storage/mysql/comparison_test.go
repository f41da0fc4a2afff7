package mysql

import (
	"context"
	"testing"

	"github.com/thinktank-hq/notebook/internal/storage"
	"github.com/thinktank-hq/notebook/internal/types"
)

var testThresholds = storage.GradeThresholds{Integrate: 0.80, Low: 0.50, Friction: 0.60}

func TestApplyComparisonBasic(t *testing.T) {
	ctx := context.Background()
	store, cleanup := setupTestDB(t)
	defer cleanup()

	owner := testAuthor(1)
	mustCreateNotebook(t, store, "nb-cmp", owner)
	mustInsertEntry(t, store, "nb-cmp", owner, "e1", "subject")
	mustInsertEntry(t, store, "nb-cmp", owner, "peer", "peer entry")

	cmp := types.Comparison{
		ComparedAgainst: "peer",
		Similarity:      0.91,
		Entropy:         0.33333333,
		Friction:        0.1,
		Contradictions:  nil,
	}
	got, err := store.ApplyComparison(ctx, "nb-cmp", "e1", cmp, testThresholds)
	if err != nil {
		t.Fatalf("ApplyComparison failed: %v", err)
	}

	if got.CompletedComparisons != 1 {
		t.Errorf("completed_comparisons = %d, want 1", got.CompletedComparisons)
	}
	if len(got.Comparisons) != 1 {
		t.Fatalf("comparisons = %v", got.Comparisons)
	}
	if got.Comparisons[0].Entropy != 0.3333 {
		t.Errorf("entropy = %v, want rounded 0.3333", got.Comparisons[0].Entropy)
	}
	if got.MaxFriction == nil || *got.MaxFriction != 0.1 {
		t.Errorf("max_friction = %v, want 0.1", got.MaxFriction)
	}
	if got.NeedsReview {
		t.Error("needs_review should stay false below the notebook threshold")
	}
	if got.IntegrationStatus != types.IntegrationIntegrated {
		t.Errorf("integration_status = %s, want integrated (sim 0.91, friction 0.1)", got.IntegrationStatus)
	}

	// Persisted, not just returned.
	reread, err := store.GetEntry(ctx, "nb-cmp", "e1")
	if err != nil {
		t.Fatalf("GetEntry failed: %v", err)
	}
	if reread.CompletedComparisons != 1 || len(reread.Comparisons) != 1 {
		t.Errorf("persisted state = %+v", reread)
	}
}

// TestApplyComparisonIdempotent re-applies a comparison for the same
// peer: the record is replaced, the completed count is not advanced.
// This is what makes retried COMPARE jobs safe under at-least-once.
func TestApplyComparisonIdempotent(t *testing.T) {
	ctx := context.Background()
	store, cleanup := setupTestDB(t)
	defer cleanup()

	owner := testAuthor(1)
	mustCreateNotebook(t, store, "nb-idem", owner)
	mustInsertEntry(t, store, "nb-idem", owner, "e1", "subject")

	first := types.Comparison{ComparedAgainst: "peer-1", Similarity: 0.85, Entropy: 0.5, Friction: 0.2}
	if _, err := store.ApplyComparison(ctx, "nb-idem", "e1", first, testThresholds); err != nil {
		t.Fatalf("first apply failed: %v", err)
	}

	second := types.Comparison{ComparedAgainst: "peer-1", Similarity: 0.85, Entropy: 0.5, Friction: 0.25}
	got, err := store.ApplyComparison(ctx, "nb-idem", "e1", second, testThresholds)
	if err != nil {
		t.Fatalf("second apply failed: %v", err)
	}
	if got.CompletedComparisons != 1 {
		t.Errorf("completed_comparisons = %d after duplicate peer, want 1", got.CompletedComparisons)
	}
	if len(got.Comparisons) != 1 || got.Comparisons[0].Friction != 0.25 {
		t.Errorf("comparison not replaced: %+v", got.Comparisons)
	}
}

func TestApplyComparisonVerifiesClaims(t *testing.T) {
	ctx := context.Background()
	store, cleanup := setupTestDB(t)
	defer cleanup()

	owner := testAuthor(1)
	mustCreateNotebook(t, store, "nb-ver", owner)
	mustInsertEntry(t, store, "nb-ver", owner, "e1", "subject")

	claims := []types.Claim{{Text: "claim", Confidence: 0.9}}
	if err := store.UpdateEntryClaims(ctx, "nb-ver", "e1", claims, types.ClaimsDistilled); err != nil {
		t.Fatalf("UpdateEntryClaims failed: %v", err)
	}
	if err := store.SetExpectedComparisons(ctx, "nb-ver", "e1", 2); err != nil {
		t.Fatalf("SetExpectedComparisons failed: %v", err)
	}

	got, err := store.ApplyComparison(ctx, "nb-ver", "e1",
		types.Comparison{ComparedAgainst: "p1", Similarity: 0.9, Entropy: 0.2, Friction: 0.1}, testThresholds)
	if err != nil {
		t.Fatalf("apply 1 failed: %v", err)
	}
	if got.ClaimsStatus != types.ClaimsDistilled {
		t.Errorf("claims_status = %s after 1/2 comparisons, want distilled", got.ClaimsStatus)
	}

	got, err = store.ApplyComparison(ctx, "nb-ver", "e1",
		types.Comparison{ComparedAgainst: "p2", Similarity: 0.88, Entropy: 0.1, Friction: 0.05}, testThresholds)
	if err != nil {
		t.Fatalf("apply 2 failed: %v", err)
	}
	if got.ClaimsStatus != types.ClaimsVerified {
		t.Errorf("claims_status = %s after 2/2 comparisons, want verified", got.ClaimsStatus)
	}
}

func TestApplyComparisonNeedsReview(t *testing.T) {
	ctx := context.Background()
	store, cleanup := setupTestDB(t)
	defer cleanup()

	owner := testAuthor(1)
	// mustCreateNotebook sets review_threshold 0.75
	mustCreateNotebook(t, store, "nb-nr", owner)
	mustInsertEntry(t, store, "nb-nr", owner, "e1", "contested")

	got, err := store.ApplyComparison(ctx, "nb-nr", "e1",
		types.Comparison{
			ComparedAgainst: "p1",
			Similarity:      0.7,
			Entropy:         0.5,
			Friction:        0.75,
			Contradictions:  []types.Contradiction{{ClaimA: "a", ClaimB: "not a", Severity: 0.9}},
		}, testThresholds)
	if err != nil {
		t.Fatalf("ApplyComparison failed: %v", err)
	}
	if !got.NeedsReview {
		t.Error("friction at the threshold must set needs_review")
	}
	if got.IntegrationStatus != types.IntegrationProbation {
		t.Errorf("integration_status = %s, want probation on high friction", got.IntegrationStatus)
	}
	if len(got.Comparisons[0].Contradictions) != 1 {
		t.Errorf("contradictions not persisted: %+v", got.Comparisons[0])
	}
}

func TestApplyComparisonGradesOrphan(t *testing.T) {
	ctx := context.Background()
	store, cleanup := setupTestDB(t)
	defer cleanup()

	owner := testAuthor(1)
	mustCreateNotebook(t, store, "nb-orph", owner)
	mustInsertEntry(t, store, "nb-orph", owner, "e1", "off-topic")

	got, err := store.ApplyComparison(ctx, "nb-orph", "e1",
		types.Comparison{ComparedAgainst: "p1", Similarity: 0.3, Entropy: 1.0, Friction: 0}, testThresholds)
	if err != nil {
		t.Fatalf("ApplyComparison failed: %v", err)
	}
	if got.IntegrationStatus != types.IntegrationOrphan {
		t.Errorf("integration_status = %s, want orphan (no peer above 0.50)", got.IntegrationStatus)
	}

	// A later strong peer pulls it back out of orphanhood.
	got, err = store.ApplyComparison(ctx, "nb-orph", "e1",
		types.Comparison{ComparedAgainst: "p2", Similarity: 0.95, Entropy: 0.1, Friction: 0}, testThresholds)
	if err != nil {
		t.Fatalf("second apply failed: %v", err)
	}
	if got.IntegrationStatus != types.IntegrationProbation {
		t.Errorf("integration_status = %s, want probation (min sim 0.3 below integrate)", got.IntegrationStatus)
	}
}

func TestRecomputeMaxFrictionInbound(t *testing.T) {
	ctx := context.Background()
	store, cleanup := setupTestDB(t)
	defer cleanup()

	owner := testAuthor(1)
	mustCreateNotebook(t, store, "nb-rmf", owner)
	mustInsertEntry(t, store, "nb-rmf", owner, "old", "established claim")
	mustInsertEntry(t, store, "nb-rmf", owner, "new", "contradicting claim")

	// The new entry records high friction against the old one; the old
	// entry's own comparison list is empty.
	if _, err := store.ApplyComparison(ctx, "nb-rmf", "new",
		types.Comparison{ComparedAgainst: "old", Similarity: 0.85, Entropy: 0.2, Friction: 0.9}, testThresholds); err != nil {
		t.Fatalf("ApplyComparison failed: %v", err)
	}

	max, err := store.RecomputeMaxFriction(ctx, "nb-rmf", "old")
	if err != nil {
		t.Fatalf("RecomputeMaxFriction failed: %v", err)
	}
	if max != 0.9 {
		t.Errorf("recomputed max friction = %v, want 0.9 from inbound comparison", max)
	}

	old, err := store.GetEntry(ctx, "nb-rmf", "old")
	if err != nil {
		t.Fatalf("GetEntry failed: %v", err)
	}
	if old.MaxFriction == nil || *old.MaxFriction != 0.9 {
		t.Errorf("old.max_friction = %v, want 0.9", old.MaxFriction)
	}
	if !old.NeedsReview {
		t.Error("inbound friction above threshold must flag review")
	}
}

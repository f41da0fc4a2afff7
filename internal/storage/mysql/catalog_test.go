package mysql

import (
	"context"
	"testing"

	"github.com/thinktank-hq/notebook/internal/types"
)

func TestTopicSummaries(t *testing.T) {
	ctx := context.Background()
	store, cleanup := setupTestDB(t)
	defer cleanup()

	owner := testAuthor(1)
	mustCreateNotebook(t, store, "nb-cat", owner)

	entries := []*types.Entry{
		{ID: "cat-1", Content: []byte("newton on motion"), Author: owner, Topic: "science/physics"},
		{ID: "cat-2", Content: []byte("einstein on gravity"), Author: owner, Topic: "science/physics"},
		{ID: "cat-3", Content: []byte("hidden draft"), Author: owner, Topic: "science/physics",
			ReviewStatus: types.ReviewPending},
		{ID: "cat-4", Content: []byte("fall of the republic"), Author: owner, Topic: "history/rome"},
	}
	if err := store.InsertEntries(ctx, "nb-cat", entries); err != nil {
		t.Fatalf("InsertEntries failed: %v", err)
	}

	if err := store.UpdateEntryClaims(ctx, "nb-cat", "cat-1",
		[]types.Claim{{Text: "objects persist in motion", Confidence: 0.9},
			{Text: "force equals mass times acceleration", Confidence: 0.95}},
		types.ClaimsDistilled); err != nil {
		t.Fatalf("UpdateEntryClaims failed: %v", err)
	}
	if err := store.UpdateEntryClaims(ctx, "nb-cat", "cat-2",
		[]types.Claim{{Text: "mass curves spacetime", Confidence: 0.9},
			{Text: "light bends near mass", Confidence: 0.85}},
		types.ClaimsDistilled); err != nil {
		t.Fatalf("UpdateEntryClaims failed: %v", err)
	}

	if _, err := store.ApplyComparison(ctx, "nb-cat", "cat-1", types.Comparison{
		ComparedAgainst: "cat-2", Similarity: 0.9, Entropy: 0.5, Friction: 0.3,
	}, testThresholds); err != nil {
		t.Fatalf("ApplyComparison failed: %v", err)
	}
	if _, err := store.ApplyComparison(ctx, "nb-cat", "cat-2", types.Comparison{
		ComparedAgainst: "cat-1", Similarity: 0.9, Entropy: 0.25, Friction: 0.1,
	}, testThresholds); err != nil {
		t.Fatalf("ApplyComparison failed: %v", err)
	}

	summaries, err := store.TopicSummaries(ctx, "nb-cat")
	if err != nil {
		t.Fatalf("TopicSummaries failed: %v", err)
	}
	if len(summaries) != 2 {
		t.Fatalf("got %d topics, want 2: %v", len(summaries), summaries)
	}

	// Sorted by topic.
	rome, physics := summaries[0], summaries[1]
	if rome.Topic != "history/rome" || physics.Topic != "science/physics" {
		t.Fatalf("topics = %s, %s", rome.Topic, physics.Topic)
	}

	if rome.EntryCount != 1 || rome.LatestSequence != 4 || rome.MeanEntropy != 0 {
		t.Errorf("rome = %+v", rome)
	}

	// Pending cat-3 is excluded from the approved count.
	if physics.EntryCount != 2 {
		t.Errorf("physics entries = %d, want 2", physics.EntryCount)
	}
	if physics.LatestSequence != 2 {
		t.Errorf("physics latest sequence = %d, want 2", physics.LatestSequence)
	}
	if physics.MeanEntropy != 0.375 {
		t.Errorf("physics mean entropy = %v, want 0.375", physics.MeanEntropy)
	}
	if physics.MaxFriction != 0.3 {
		t.Errorf("physics max friction = %v, want 0.3", physics.MaxFriction)
	}
	if len(physics.SampleClaims) != 3 {
		t.Fatalf("sample claims = %v, want 3", physics.SampleClaims)
	}
	known := map[string]bool{
		"objects persist in motion":            true,
		"force equals mass times acceleration": true,
		"mass curves spacetime":                true,
		"light bends near mass":                true,
	}
	for _, c := range physics.SampleClaims {
		if !known[c] {
			t.Errorf("unexpected sample claim %q", c)
		}
	}
}

func TestNotebookEntropy(t *testing.T) {
	ctx := context.Background()
	store, cleanup := setupTestDB(t)
	defer cleanup()

	owner := testAuthor(1)
	mustCreateNotebook(t, store, "nb-ent", owner)

	got, err := store.NotebookEntropy(ctx, "nb-ent")
	if err != nil {
		t.Fatalf("NotebookEntropy failed: %v", err)
	}
	if got != 0 {
		t.Errorf("empty notebook entropy = %v, want 0", got)
	}

	mustInsertEntry(t, store, "nb-ent", owner, "ent-1", "first")
	mustInsertEntry(t, store, "nb-ent", owner, "ent-2", "second")
	if _, err := store.ApplyComparison(ctx, "nb-ent", "ent-1", types.Comparison{
		ComparedAgainst: "ent-2", Similarity: 0.9, Entropy: 0.4, Friction: 0,
	}, testThresholds); err != nil {
		t.Fatalf("ApplyComparison failed: %v", err)
	}
	if _, err := store.ApplyComparison(ctx, "nb-ent", "ent-2", types.Comparison{
		ComparedAgainst: "ent-1", Similarity: 0.9, Entropy: 0.1, Friction: 0,
	}, testThresholds); err != nil {
		t.Fatalf("ApplyComparison failed: %v", err)
	}

	got, err = store.NotebookEntropy(ctx, "nb-ent")
	if err != nil {
		t.Fatalf("NotebookEntropy failed: %v", err)
	}
	if got != 0.25 {
		t.Errorf("entropy = %v, want 0.25", got)
	}
}

package embed

import (
	"math"
	"testing"

	"github.com/thinktank-hq/notebook/internal/types"
)

func cosine(a, b []float32) float64 {
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot
}

func TestEmbedDeterministic(t *testing.T) {
	e := NewTokenHash(0)
	if e.Dim() != DefaultDim {
		t.Fatalf("dim = %d", e.Dim())
	}
	a := e.Embed("granite is an igneous rock")
	b := e.Embed("granite is an igneous rock")
	if len(a) != DefaultDim {
		t.Fatalf("vector length = %d", len(a))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("vectors differ at %d: %v vs %v", i, a[i], b[i])
		}
	}
}

func TestEmbedNormalized(t *testing.T) {
	vec := NewTokenHash(64).Embed("basalt cools quickly at the surface")
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if math.Abs(sum-1.0) > 1e-5 {
		t.Fatalf("norm^2 = %v, want 1", sum)
	}
}

func TestEmbedTracksTokenOverlap(t *testing.T) {
	e := NewTokenHash(0)
	base := e.Embed("granite igneous rock quartz feldspar")
	near := e.Embed("granite igneous rock quartz mica")
	far := e.Embed("river watershed salmon migration autumn")

	if nearSim, farSim := cosine(base, near), cosine(base, far); nearSim <= farSim {
		t.Fatalf("overlap ordering broken: near %v <= far %v", nearSim, farSim)
	}
}

func TestEmbedEmptyText(t *testing.T) {
	vec := NewTokenHash(0).Embed("  .,!? a ")
	for i, v := range vec {
		if v != 0 {
			t.Fatalf("vec[%d] = %v, want zero vector", i, v)
		}
	}
}

func TestClaimsJoinsTexts(t *testing.T) {
	e := NewTokenHash(0)
	claims := []types.Claim{
		{Text: "granite forms slowly", Confidence: 0.9},
		{Text: "basalt forms quickly", Confidence: 0.8},
	}
	got := Claims(e, claims)
	want := e.Embed("granite forms slowly\nbasalt forms quickly")
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("claims embedding differs at %d", i)
		}
	}
}

// Package embed produces claim-set embeddings when no external model is
// wired in. The token-hash embedder is deterministic across processes,
// so vectors written by workers and query vectors built by the server
// land in the same space.
package embed

import (
	"encoding/binary"
	"math"
	"strings"
	"unicode"

	"lukechampine.com/blake3"

	"github.com/thinktank-hq/notebook/internal/types"
)

// DefaultDim is the vector width used when none is configured.
const DefaultDim = 256

// Embedder turns text into a fixed-width vector.
type Embedder interface {
	Embed(text string) []float32
	Dim() int
}

// TokenHash is the feature-hashing embedder: each token is hashed into
// a bucket with a hash-derived sign, then the vector is L2 normalized.
// Dev-grade; cosine over these vectors tracks token overlap, nothing
// deeper.
type TokenHash struct {
	dim int
}

// NewTokenHash returns an embedder of the given width; non-positive
// means DefaultDim.
func NewTokenHash(dim int) *TokenHash {
	if dim <= 0 {
		dim = DefaultDim
	}
	return &TokenHash{dim: dim}
}

func (t *TokenHash) Dim() int { return t.dim }

// Embed hashes the text's tokens into the vector. Empty or tokenless
// text produces the zero vector, which no neighbor matches.
func (t *TokenHash) Embed(text string) []float32 {
	vec := make([]float32, t.dim)
	for _, tok := range tokenize(text) {
		sum := blake3.Sum256([]byte(tok))
		bucket := binary.BigEndian.Uint32(sum[0:4]) % uint32(t.dim)
		if sum[4]&1 == 0 {
			vec[bucket]++
		} else {
			vec[bucket]--
		}
	}
	normalize(vec)
	return vec
}

// Claims embeds a claim set as one vector, the granularity entries and
// mirrored rows are stored at.
func Claims(e Embedder, claims []types.Claim) []float32 {
	texts := make([]string, 0, len(claims))
	for _, c := range claims {
		texts = append(texts, c.Text)
	}
	return e.Embed(strings.Join(texts, "\n"))
}

func tokenize(text string) []string {
	var tokens []string
	var cur strings.Builder
	flush := func() {
		if cur.Len() >= 2 {
			tokens = append(tokens, cur.String())
		}
		cur.Reset()
	}
	for _, r := range strings.ToLower(text) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			cur.WriteRune(r)
			continue
		}
		flush()
	}
	flush()
	return tokens
}

func normalize(vec []float32) {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return
	}
	norm := math.Sqrt(sum)
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / norm)
	}
}

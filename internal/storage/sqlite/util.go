package sqlite

import (
	"encoding/binary"
	"encoding/json"
	"math"
)

// marshalJSON formats a value as JSON for TEXT column storage. Nil and
// empty slices store as the given zero literal ("[]" or "{}") so CHECK
// and default semantics stay uniform.
func marshalJSON(v any, zero string) string {
	if v == nil {
		return zero
	}
	data, err := json.Marshal(v)
	if err != nil {
		return zero
	}
	s := string(data)
	if s == "null" {
		return zero
	}
	return s
}

// unmarshalJSON decodes a TEXT column into out, tolerating empty strings.
func unmarshalJSON(s string, out any) {
	if s == "" {
		return
	}
	_ = json.Unmarshal([]byte(s), out)
}

// encodeEmbedding packs a float32 vector as a little-endian BLOB.
// Returns nil for empty vectors so the column stays NULL.
func encodeEmbedding(vec []float32) []byte {
	if len(vec) == 0 {
		return nil
	}
	buf := make([]byte, 4*len(vec))
	for i, f := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// decodeEmbedding unpacks a little-endian BLOB into a float32 vector.
func decodeEmbedding(buf []byte) []float32 {
	if len(buf) < 4 {
		return nil
	}
	vec := make([]float32, len(buf)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return vec
}

// cosineSimilarity computes the cosine of the angle between two vectors.
// Mismatched dimensions or zero vectors yield 0.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

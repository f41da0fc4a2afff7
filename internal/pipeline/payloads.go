package pipeline

import (
	"encoding/json"
	"fmt"

	"github.com/thinktank-hq/notebook/internal/types"
)

// Wire shapes exchanged with external workers. The queue treats payload
// and result as opaque JSON; these types are the one place their schema
// is written down, shared by the orchestrator, the writer, and the
// reference robot.

// DistillPayload asks a worker to extract claims from entry content.
// ContextClaims carry already-distilled sibling claims when the entry is
// one fragment of a larger document, so the worker adds to the
// collection instead of restating it.
type DistillPayload struct {
	EntryID       string        `json:"entry_id"`
	Content       string        `json:"content"`
	MaxClaims     int           `json:"max_claims"`
	ContextClaims []types.Claim `json:"context_claims,omitempty"`
}

// DistillResult is the worker's extracted claim list, ordered most
// central first.
type DistillResult struct {
	Claims []types.Claim `json:"claims"`
}

// EmbedPayload asks for one dense vector over an entry's claim set.
type EmbedPayload struct {
	EntryID string        `json:"entry_id"`
	Claims  []types.Claim `json:"claims"`
}

// EmbedResult carries the embedding for EMBED_CLAIMS and EMBED_MIRRORED.
type EmbedResult struct {
	Embedding []float32 `json:"embedding"`
}

// ComparePayload asks how entry's claims (B) relate to a peer's (A).
// DiscountFactor is set when the peer is a mirrored claim set; the
// orchestrator scales the resulting friction by it. Similarity and
// Mirrored ride along from peer selection so the completion handler can
// record the full comparison; workers ignore them.
type ComparePayload struct {
	EntryID          string        `json:"entry_id"`
	CompareAgainstID string        `json:"compare_against_id"`
	ClaimsA          []types.Claim `json:"claims_a"`
	ClaimsB          []types.Claim `json:"claims_b"`
	DiscountFactor   float64       `json:"discount_factor,omitempty"`
	Similarity       float64       `json:"similarity,omitempty"`
	Mirrored         bool          `json:"mirrored,omitempty"`
}

// CompareResult scores novelty and contradiction: entropy = NOVEL claims
// over len(claims_b), friction = CONTRADICTS over len(claims_b), both
// rounded to 4 decimals by the worker.
type CompareResult struct {
	Entropy         float64               `json:"entropy"`
	Friction        float64               `json:"friction"`
	Contradictions  []types.Contradiction `json:"contradictions,omitempty"`
	ComparedAgainst string                `json:"compared_against,omitempty"`
}

// ClassifyPayload asks which known topic an entry's claims belong to.
type ClassifyPayload struct {
	EntryID         string        `json:"entry_id"`
	Claims          []types.Claim `json:"claims"`
	AvailableTopics []string      `json:"available_topics"`
}

// ClassifyResult names the chosen topic. NewTopic is a suggested topic
// name when nothing available fits; it wins over PrimaryTopic.
type ClassifyResult struct {
	PrimaryTopic    string   `json:"primary_topic"`
	SecondaryTopics []string `json:"secondary_topics,omitempty"`
	NewTopic        string   `json:"new_topic,omitempty"`
}

// EmbedMirroredPayload asks for a vector over a mirrored claim row.
type EmbedMirroredPayload struct {
	MirroredClaimID string        `json:"mirrored_claim_id"`
	Claims          []types.Claim `json:"claims"`
}

func mustMarshal(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		// All payload types are plain structs; this cannot fail.
		panic(fmt.Sprintf("pipeline: marshal payload: %v", err))
	}
	return b
}

func decode[T any](raw json.RawMessage, what string) (*T, error) {
	var v T
	if len(raw) == 0 {
		return nil, fmt.Errorf("%s: empty", what)
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("%s: %w", what, err)
	}
	return &v, nil
}

// NewDistillJob builds the pipeline's entry stage.
func NewDistillJob(notebookID string, p DistillPayload) *types.Job {
	return &types.Job{NotebookID: notebookID, Type: types.JobDistillClaims, Payload: mustMarshal(p)}
}

// NewEmbedJob builds the embedding stage for a distilled entry.
func NewEmbedJob(notebookID string, p EmbedPayload) *types.Job {
	return &types.Job{NotebookID: notebookID, Type: types.JobEmbedClaims, Payload: mustMarshal(p)}
}

// NewCompareJob builds one entry-versus-peer comparison.
func NewCompareJob(notebookID string, p ComparePayload) *types.Job {
	return &types.Job{NotebookID: notebookID, Type: types.JobCompareClaims, Payload: mustMarshal(p)}
}

// NewClassifyJob builds the topic classification stage.
func NewClassifyJob(notebookID string, p ClassifyPayload) *types.Job {
	return &types.Job{NotebookID: notebookID, Type: types.JobClassifyTopic, Payload: mustMarshal(p)}
}

// NewEmbedMirroredJob builds the embedding stage for a mirrored claim.
func NewEmbedMirroredJob(notebookID string, p EmbedMirroredPayload) *types.Job {
	return &types.Job{NotebookID: notebookID, Type: types.JobEmbedMirrored, Payload: mustMarshal(p)}
}

// DecodeDistillPayload parses a DISTILL_CLAIMS payload.
func DecodeDistillPayload(raw json.RawMessage) (*DistillPayload, error) {
	return decode[DistillPayload](raw, "distill payload")
}

// DecodeDistillResult parses a DISTILL_CLAIMS result.
func DecodeDistillResult(raw json.RawMessage) (*DistillResult, error) {
	return decode[DistillResult](raw, "distill result")
}

// DecodeEmbedPayload parses an EMBED_CLAIMS payload.
func DecodeEmbedPayload(raw json.RawMessage) (*EmbedPayload, error) {
	return decode[EmbedPayload](raw, "embed payload")
}

// DecodeEmbedResult parses an EMBED_CLAIMS or EMBED_MIRRORED result.
func DecodeEmbedResult(raw json.RawMessage) (*EmbedResult, error) {
	return decode[EmbedResult](raw, "embed result")
}

// DecodeComparePayload parses a COMPARE_CLAIMS payload.
func DecodeComparePayload(raw json.RawMessage) (*ComparePayload, error) {
	return decode[ComparePayload](raw, "compare payload")
}

// DecodeCompareResult parses a COMPARE_CLAIMS result.
func DecodeCompareResult(raw json.RawMessage) (*CompareResult, error) {
	return decode[CompareResult](raw, "compare result")
}

// DecodeClassifyPayload parses a CLASSIFY_TOPIC payload.
func DecodeClassifyPayload(raw json.RawMessage) (*ClassifyPayload, error) {
	return decode[ClassifyPayload](raw, "classify payload")
}

// DecodeClassifyResult parses a CLASSIFY_TOPIC result.
func DecodeClassifyResult(raw json.RawMessage) (*ClassifyResult, error) {
	return decode[ClassifyResult](raw, "classify result")
}

// DecodeEmbedMirroredPayload parses an EMBED_MIRRORED payload.
func DecodeEmbedMirroredPayload(raw json.RawMessage) (*EmbedMirroredPayload, error) {
	return decode[EmbedMirroredPayload](raw, "embed mirrored payload")
}

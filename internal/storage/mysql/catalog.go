package mysql

import (
	"context"
	"database/sql"
	"sort"

	"github.com/thinktank-hq/notebook/internal/storage"
	"github.com/thinktank-hq/notebook/internal/types"
)

const maxSampleClaims = 3

// TopicSummaries aggregates approved entries per topic for the catalog.
// Entropy and friction come out of the comparison JSON, so the rows are
// folded in process rather than in SQL; both backends share this shape.
func (s *Store) TopicSummaries(ctx context.Context, notebookID string) ([]*storage.TopicSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT topic, sequence, claims, comparisons, max_friction
		FROM entries WHERE notebook_id = ? AND review_status = 'approved'
	`, notebookID)
	if err != nil {
		return nil, wrapDBError("topic summaries", err)
	}
	defer func() { _ = rows.Close() }()

	type acc struct {
		summary      *storage.TopicSummary
		entropySum   float64
		entropyCount int64
	}
	byTopic := make(map[string]*acc)

	for rows.Next() {
		var topic, claimsRaw, comparisonsRaw string
		var sequence int64
		var maxFriction sql.NullFloat64
		if err := rows.Scan(&topic, &sequence, &claimsRaw, &comparisonsRaw, &maxFriction); err != nil {
			return nil, wrapDBError("scan topic row", err)
		}

		a := byTopic[topic]
		if a == nil {
			a = &acc{summary: &storage.TopicSummary{Topic: topic}}
			byTopic[topic] = a
		}
		a.summary.EntryCount++
		if sequence > a.summary.LatestSequence {
			a.summary.LatestSequence = sequence
		}
		if maxFriction.Valid && maxFriction.Float64 > a.summary.MaxFriction {
			a.summary.MaxFriction = maxFriction.Float64
		}

		var comparisons []types.Comparison
		unmarshalJSON(comparisonsRaw, &comparisons)
		for _, c := range comparisons {
			a.entropySum += c.Entropy
			a.entropyCount++
		}

		if len(a.summary.SampleClaims) < maxSampleClaims {
			var claims []types.Claim
			unmarshalJSON(claimsRaw, &claims)
			for _, c := range claims {
				if len(a.summary.SampleClaims) >= maxSampleClaims {
					break
				}
				a.summary.SampleClaims = append(a.summary.SampleClaims, c.Text)
			}
		}
	}
	if err := rows.Err(); err != nil {
		return nil, wrapDBError("topic summaries", err)
	}

	out := make([]*storage.TopicSummary, 0, len(byTopic))
	for _, a := range byTopic {
		if a.entropyCount > 0 {
			a.summary.MeanEntropy = types.RoundScore(a.entropySum / float64(a.entropyCount))
		}
		out = append(out, a.summary)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Topic < out[j].Topic })
	return out, nil
}

// NotebookEntropy is the mean entropy across every comparison recorded
// on approved entries, zero when nothing has been compared yet.
func (s *Store) NotebookEntropy(ctx context.Context, notebookID string) (float64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT comparisons FROM entries
		WHERE notebook_id = ? AND review_status = 'approved' AND JSON_LENGTH(comparisons) > 0
	`, notebookID)
	if err != nil {
		return 0, wrapDBError("notebook entropy", err)
	}
	defer func() { _ = rows.Close() }()

	var sum float64
	var count int64
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return 0, wrapDBError("scan comparisons", err)
		}
		var comparisons []types.Comparison
		unmarshalJSON(raw, &comparisons)
		for _, c := range comparisons {
			sum += c.Entropy
			count++
		}
	}
	if err := rows.Err(); err != nil {
		return 0, wrapDBError("notebook entropy", err)
	}
	if count == 0 {
		return 0, nil
	}
	return types.RoundScore(sum / float64(count)), nil
}

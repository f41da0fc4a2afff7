package mysql

import (
	"context"
	"sort"
	"strings"

	"github.com/thinktank-hq/notebook/internal/storage"
	"github.com/thinktank-hq/notebook/internal/types"
)

// ftsQuery phrase-quotes user text so boolean-mode operators inside it
// stay literal. Embedded double quotes would end the phrase early, so
// they degrade to spaces.
func ftsQuery(q string) string {
	return `"` + strings.ReplaceAll(q, `"`, " ") + `"`
}

// prefixColumns qualifies each column in a comma-separated list with a
// table alias for use in joins.
func prefixColumns(alias, list string) string {
	parts := strings.Split(list, ",")
	for i, p := range parts {
		parts[i] = alias + "." + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}

const snippetTokens = 12

// buildSnippet renders a short excerpt around the first occurrence of
// needle in text, bracketing the match and marking elided context with
// '…'. Falls back to the leading words when the needle does not occur
// verbatim, which happens for multi-word queries matched out of order.
func buildSnippet(text, needle string) string {
	idx := -1
	if needle != "" {
		idx = strings.Index(strings.ToLower(text), strings.ToLower(needle))
	}
	if idx < 0 {
		fields := strings.Fields(text)
		if len(fields) <= snippetTokens {
			return strings.Join(fields, " ")
		}
		return strings.Join(fields[:snippetTokens], " ") + "…"
	}

	marked := text[:idx] + "[" + text[idx:idx+len(needle)] + "]" + text[idx+len(needle):]
	fields := strings.Fields(marked)
	center := 0
	for i, f := range fields {
		if strings.Contains(f, "[") {
			center = i
			break
		}
	}
	start := center - snippetTokens/2
	if start < 0 {
		start = 0
	}
	stop := start + snippetTokens
	if stop > len(fields) {
		stop = len(fields)
	}
	out := strings.Join(fields[start:stop], " ")
	if start > 0 {
		out = "…" + out
	}
	if stop < len(fields) {
		out += "…"
	}
	return out
}

// SearchLexical runs natural-language full-text search over entry
// content and topic, best matches first. Snippets bracket the matched
// region.
func (s *Store) SearchLexical(ctx context.Context, notebookID string, q storage.LexicalQuery) ([]*storage.SearchHit, error) {
	match := ftsQuery(q.Query)
	query := `
		SELECT ` + prefixColumns("e", entryColumns) + `,
			es.content_text,
			MATCH(es.content_text, es.topic) AGAINST (? IN BOOLEAN MODE) AS relevance
		FROM entries_search es
		JOIN entries e ON e.id = es.id
		WHERE MATCH(es.content_text, es.topic) AGAINST (? IN BOOLEAN MODE)
		  AND e.notebook_id = ?`
	args := []any{match, match, notebookID}

	if !q.Viewer.Admin {
		query += ` AND (e.review_status = 'approved' OR e.author = ?)`
		args = append(args, string(q.Viewer.Author))
	}
	if q.TopicPrefix != "" {
		query += ` AND e.topic LIKE CONCAT(?, '%')`
		args = append(args, q.TopicPrefix)
	}

	limit := q.Limit
	if limit <= 0 || limit > storage.MaxBrowseLimit {
		limit = storage.MaxBrowseLimit
	}
	query += ` ORDER BY relevance DESC, e.sequence DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapDBError("lexical search", err)
	}
	defer func() { _ = rows.Close() }()

	var hits []*storage.SearchHit
	for rows.Next() {
		var e types.Entry
		var st entryScanState
		var contentText string
		var rank float64
		dest := append(entryScanDest(&e, &st), &contentText, &rank)
		if err := rows.Scan(dest...); err != nil {
			return nil, wrapDBError("scan search hit", err)
		}
		st.finish(&e)
		hits = append(hits, &storage.SearchHit{
			Entry:   &e,
			Snippet: buildSnippet(contentText, q.Query),
			Rank:    rank,
		})
	}
	return hits, wrapDBError("lexical search", rows.Err())
}

// SemanticNeighbors returns the K nearest entries (and, when requested,
// mirrored claims) by embedding cosine similarity. Vectors are compared
// in process; the candidate set is narrowed in SQL first.
func (s *Store) SemanticNeighbors(ctx context.Context, notebookID string, q storage.SemanticQuery) ([]*storage.SemanticNeighbor, error) {
	if len(q.Embedding) == 0 {
		return nil, storage.ErrInvalid
	}

	query := `SELECT id, topic, claims, embedding FROM entries
		WHERE notebook_id = ? AND embedding IS NOT NULL`
	args := []any{notebookID}
	if !q.Viewer.Admin {
		query += ` AND (review_status = 'approved' OR author = ?)`
		args = append(args, string(q.Viewer.Author))
	}
	if q.ExcludeEntry != "" {
		query += ` AND id <> ?`
		args = append(args, q.ExcludeEntry)
	}
	if q.TopicPrefix != "" {
		query += ` AND topic LIKE CONCAT(?, '%')`
		args = append(args, q.TopicPrefix)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapDBError("semantic candidates", err)
	}
	defer func() { _ = rows.Close() }()

	var neighbors []*storage.SemanticNeighbor
	for rows.Next() {
		var id, topic, claims string
		var blob []byte
		if err := rows.Scan(&id, &topic, &claims, &blob); err != nil {
			return nil, wrapDBError("scan semantic candidate", err)
		}
		sim := cosineSimilarity(q.Embedding, decodeEmbedding(blob))
		if sim < q.MinSimilarity {
			continue
		}
		n := &storage.SemanticNeighbor{EntryID: id, Topic: topic, Similarity: sim}
		unmarshalJSON(claims, &n.Claims)
		neighbors = append(neighbors, n)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapDBError("semantic candidates", err)
	}

	if q.IncludeMirrored {
		mq := `SELECT id, topic, claims, embedding, discount_factor FROM mirrored_claims
			WHERE notebook_id = ? AND tombstoned = 0 AND embedding IS NOT NULL`
		margs := []any{notebookID}
		if q.TopicPrefix != "" {
			mq += ` AND topic LIKE CONCAT(?, '%')`
			margs = append(margs, q.TopicPrefix)
		}
		mrows, err := s.db.QueryContext(ctx, mq, margs...)
		if err != nil {
			return nil, wrapDBError("semantic mirrored candidates", err)
		}
		defer func() { _ = mrows.Close() }()
		for mrows.Next() {
			var id, topic, claims string
			var blob []byte
			var discount float64
			if err := mrows.Scan(&id, &topic, &claims, &blob, &discount); err != nil {
				return nil, wrapDBError("scan mirrored candidate", err)
			}
			sim := cosineSimilarity(q.Embedding, decodeEmbedding(blob))
			if sim < q.MinSimilarity {
				continue
			}
			n := &storage.SemanticNeighbor{
				MirroredClaimID: id,
				Topic:           topic,
				Similarity:      sim,
				Mirrored:        true,
				DiscountFactor:  discount,
			}
			unmarshalJSON(claims, &n.Claims)
			neighbors = append(neighbors, n)
		}
		if err := mrows.Err(); err != nil {
			return nil, wrapDBError("semantic mirrored candidates", err)
		}
	}

	sort.Slice(neighbors, func(i, j int) bool {
		if neighbors[i].Similarity != neighbors[j].Similarity {
			return neighbors[i].Similarity > neighbors[j].Similarity
		}
		return neighbors[i].EntryID+neighbors[i].MirroredClaimID <
			neighbors[j].EntryID+neighbors[j].MirroredClaimID
	})
	if q.K > 0 && len(neighbors) > q.K {
		neighbors = neighbors[:q.K]
	}
	return neighbors, nil
}

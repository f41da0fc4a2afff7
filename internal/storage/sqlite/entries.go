package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/thinktank-hq/notebook/internal/storage"
	"github.com/thinktank-hq/notebook/internal/types"
)

// entryColumns is the canonical SELECT column list, matched by scanEntry.
const entryColumns = `id, notebook_id, sequence, content, content_type, original_content_type,
	topic, author, signature, revision_of, refs, fragment_of, fragment_index,
	claims, claims_status, comparisons, max_friction, needs_review, embedding,
	expected_comparisons, completed_comparisons, integration_status, review_status, created`

const insertEntrySQL = `
	INSERT INTO entries (
		id, notebook_id, sequence, content, content_type, original_content_type,
		topic, author, signature, revision_of, refs, fragment_of, fragment_index,
		claims, claims_status, comparisons, max_friction, needs_review, embedding,
		expected_comparisons, completed_comparisons, integration_status, review_status, created
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// entryScanState holds the nullable and encoded columns of one entry
// scan until finish converts them onto the entry.
type entryScanState struct {
	revisionOf    sql.NullString
	fragmentOf    sql.NullString
	fragmentIndex sql.NullInt64
	maxFriction   sql.NullFloat64
	refs          string
	claims        string
	comparisons   string
	needsReview   int
	embedding     []byte
}

// entryScanDest returns scan targets matching entryColumns, in order.
func entryScanDest(e *types.Entry, st *entryScanState) []any {
	return []any{
		&e.ID, &e.NotebookID, &e.Sequence, &e.Content, &e.ContentType, &e.OriginalContentType,
		&e.Topic, &e.Author, &e.Signature, &st.revisionOf, &st.refs, &st.fragmentOf, &st.fragmentIndex,
		&st.claims, &e.ClaimsStatus, &st.comparisons, &st.maxFriction, &st.needsReview, &st.embedding,
		&e.ExpectedComparisons, &e.CompletedComparisons, &e.IntegrationStatus, &e.ReviewStatus, &e.Created,
	}
}

func (st *entryScanState) finish(e *types.Entry) {
	if st.revisionOf.Valid {
		e.RevisionOf = &st.revisionOf.String
	}
	if st.fragmentOf.Valid {
		e.FragmentOf = &st.fragmentOf.String
		idx := int(st.fragmentIndex.Int64)
		e.FragmentIndex = &idx
	}
	if st.maxFriction.Valid {
		e.MaxFriction = &st.maxFriction.Float64
	}
	e.NeedsReview = st.needsReview != 0
	unmarshalJSON(st.refs, &e.References)
	unmarshalJSON(st.claims, &e.Claims)
	unmarshalJSON(st.comparisons, &e.Comparisons)
	e.Embedding = decodeEmbedding(st.embedding)
}

func scanEntry(row rowScanner) (*types.Entry, error) {
	var e types.Entry
	var st entryScanState
	if err := row.Scan(entryScanDest(&e, &st)...); err != nil {
		return nil, err
	}
	st.finish(&e)
	return &e, nil
}

func entryArgs(e *types.Entry) []any {
	needsReview := 0
	if e.NeedsReview {
		needsReview = 1
	}
	return []any{
		e.ID, e.NotebookID, e.Sequence, e.Content, e.ContentType, e.OriginalContentType,
		e.Topic, e.Author, e.Signature, e.RevisionOf, marshalJSON(e.References, "[]"),
		e.FragmentOf, e.FragmentIndex, marshalJSON(e.Claims, "[]"), e.ClaimsStatus,
		marshalJSON(e.Comparisons, "[]"), e.MaxFriction, needsReview, encodeEmbedding(e.Embedding),
		e.ExpectedComparisons, e.CompletedComparisons, e.IntegrationStatus, e.ReviewStatus, e.Created,
	}
}

// insertEntries reserves a contiguous sequence block on the notebook and
// writes the entries in order. Callers pass fragment parents before their
// fragments so the self-referential foreign key resolves. Must run inside
// a transaction: the reservation and the inserts have to commit together.
func insertEntries(ctx context.Context, q querier, notebookID string, entries []*types.Entry) error {
	if len(entries) == 0 {
		return nil
	}

	res, err := q.ExecContext(ctx,
		`UPDATE notebooks SET current_sequence = current_sequence + ? WHERE id = ?`,
		len(entries), notebookID)
	if err != nil {
		return wrapDBError("reserve sequences", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return storage.ErrNotFound
	}
	var end int64
	if err := q.QueryRowContext(ctx,
		`SELECT current_sequence FROM notebooks WHERE id = ?`, notebookID).Scan(&end); err != nil {
		return wrapDBError("read sequence", err)
	}
	start := end - int64(len(entries)) + 1

	stmt, err := q.PrepareContext(ctx, insertEntrySQL)
	if err != nil {
		return wrapDBError("prepare entry insert", err)
	}
	defer func() { _ = stmt.Close() }()

	now := time.Now().UTC()
	for i, e := range entries {
		e.NotebookID = notebookID
		e.Sequence = start + int64(i)
		e.SetDefaults()
		if e.Created.IsZero() {
			e.Created = now
		}
		if err := e.Validate(); err != nil {
			return fmt.Errorf("%w: %v", storage.ErrInvalid, err)
		}
		if _, err := stmt.ExecContext(ctx, entryArgs(e)...); err != nil {
			return wrapDBError("insert entry", err)
		}
	}
	return nil
}

// InsertEntries appends entries to a notebook atomically, assigning
// consecutive sequence numbers.
func (s *Store) InsertEntries(ctx context.Context, notebookID string, entries []*types.Entry) error {
	return s.withTx(ctx, func(conn *sql.Conn) error {
		return insertEntries(ctx, conn, notebookID, entries)
	})
}

func getEntry(ctx context.Context, q querier, notebookID, entryID string) (*types.Entry, error) {
	e, err := scanEntry(q.QueryRowContext(ctx,
		`SELECT `+entryColumns+` FROM entries WHERE notebook_id = ? AND id = ?`,
		notebookID, entryID))
	if err != nil {
		return nil, wrapDBError("get entry", err)
	}
	return e, nil
}

// GetEntry loads one entry. Review visibility is enforced by callers.
func (s *Store) GetEntry(ctx context.Context, notebookID, entryID string) (*types.Entry, error) {
	return getEntry(ctx, s.db, notebookID, entryID)
}

// GetEntries loads the given entry ids, skipping ids that do not exist.
func (s *Store) GetEntries(ctx context.Context, notebookID string, entryIDs []string) ([]*types.Entry, error) {
	out := make([]*types.Entry, 0, len(entryIDs))
	for _, id := range entryIDs {
		e, err := getEntry(ctx, s.db, notebookID, id)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// GetRevisions returns the entries that declare entryID as their
// revision target, newest first.
func (s *Store) GetRevisions(ctx context.Context, notebookID, entryID string) ([]*types.Entry, error) {
	return s.queryEntries(ctx,
		`SELECT `+entryColumns+` FROM entries
		 WHERE notebook_id = ? AND revision_of = ? ORDER BY sequence DESC`,
		notebookID, entryID)
}

func getFragments(ctx context.Context, q querier, notebookID, entryID string) ([]*types.Entry, error) {
	return queryEntriesOn(ctx, q,
		`SELECT `+entryColumns+` FROM entries
		 WHERE notebook_id = ? AND fragment_of = ? ORDER BY fragment_index ASC`,
		notebookID, entryID)
}

// GetFragments returns the fragments of a parent entry in index order.
func (s *Store) GetFragments(ctx context.Context, notebookID, entryID string) ([]*types.Entry, error) {
	return getFragments(ctx, s.db, notebookID, entryID)
}

func countFragments(ctx context.Context, q querier, notebookID, parentID string) (int, error) {
	var n int
	err := q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM entries WHERE notebook_id = ? AND fragment_of = ?`,
		notebookID, parentID).Scan(&n)
	if err != nil {
		return 0, wrapDBError("count fragments", err)
	}
	return n, nil
}

func (s *Store) queryEntries(ctx context.Context, query string, args ...any) ([]*types.Entry, error) {
	return queryEntriesOn(ctx, s.db, query, args...)
}

func queryEntriesOn(ctx context.Context, q querier, query string, args ...any) ([]*types.Entry, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapDBError("query entries", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*types.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, wrapDBError("scan entry", err)
		}
		out = append(out, e)
	}
	return out, wrapDBError("query entries", rows.Err())
}

// updateEntry runs a targeted UPDATE and maps zero affected rows to
// ErrNotFound.
func (s *Store) updateEntry(ctx context.Context, op, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return wrapDBError(op, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// UpdateEntryClaims stores distilled claims and the new claims status.
func (s *Store) UpdateEntryClaims(ctx context.Context, notebookID, entryID string, claims []types.Claim, status types.ClaimsStatus) error {
	if !status.IsValid() {
		return storage.ErrInvalid
	}
	return s.updateEntry(ctx, "update claims",
		`UPDATE entries SET claims = ?, claims_status = ? WHERE notebook_id = ? AND id = ?`,
		marshalJSON(claims, "[]"), status, notebookID, entryID)
}

// UpdateEntryEmbedding stores the claim-set embedding vector.
func (s *Store) UpdateEntryEmbedding(ctx context.Context, notebookID, entryID string, embedding []float32) error {
	return s.updateEntry(ctx, "update embedding",
		`UPDATE entries SET embedding = ? WHERE notebook_id = ? AND id = ?`,
		encodeEmbedding(embedding), notebookID, entryID)
}

// SetExpectedComparisons fixes how many peer comparisons the pipeline
// scheduled for the entry.
func (s *Store) SetExpectedComparisons(ctx context.Context, notebookID, entryID string, n int) error {
	return s.updateEntry(ctx, "set expected comparisons",
		`UPDATE entries SET expected_comparisons = ? WHERE notebook_id = ? AND id = ?`,
		n, notebookID, entryID)
}

// UpdateEntryTopic stores the classified topic path.
func (s *Store) UpdateEntryTopic(ctx context.Context, notebookID, entryID, topic string) error {
	return s.updateEntry(ctx, "update topic",
		`UPDATE entries SET topic = ? WHERE notebook_id = ? AND id = ?`,
		topic, notebookID, entryID)
}

// SetReviewStatus flips the entry's review status.
func (s *Store) SetReviewStatus(ctx context.Context, notebookID, entryID string, status types.ReviewStatus) error {
	if !status.IsValid() {
		return storage.ErrInvalid
	}
	return s.updateEntry(ctx, "set review status",
		`UPDATE entries SET review_status = ? WHERE notebook_id = ? AND id = ?`,
		status, notebookID, entryID)
}

// ApplyComparison records one comparison result against an entry and
// refreshes every derived field in the same transaction: completed
// count, max friction, needs_review against the notebook threshold,
// claims verification, and the integration grade. A repeat comparison
// against the same peer replaces the earlier record without advancing
// the completed count, keeping retried COMPARE jobs idempotent.
func (s *Store) ApplyComparison(ctx context.Context, notebookID, entryID string, cmp types.Comparison, t storage.GradeThresholds) (*types.Entry, error) {
	var out *types.Entry
	err := s.withTx(ctx, func(conn *sql.Conn) error {
		e, err := getEntry(ctx, conn, notebookID, entryID)
		if err != nil {
			return err
		}
		var threshold float64
		if err := conn.QueryRowContext(ctx,
			`SELECT review_threshold FROM notebooks WHERE id = ?`, notebookID).Scan(&threshold); err != nil {
			return wrapDBError("read review threshold", err)
		}

		if cmp.RecordedAt.IsZero() {
			cmp.RecordedAt = time.Now().UTC()
		}
		cmp.Entropy = types.RoundScore(cmp.Entropy)
		cmp.Friction = types.RoundScore(cmp.Friction)

		replaced := false
		for i := range e.Comparisons {
			if e.Comparisons[i].ComparedAgainst == cmp.ComparedAgainst {
				e.Comparisons[i] = cmp
				replaced = true
				break
			}
		}
		if !replaced {
			e.Comparisons = append(e.Comparisons, cmp)
			e.CompletedComparisons++
		}

		maxFriction := 0.0
		sims := make([]float64, 0, len(e.Comparisons))
		for _, c := range e.Comparisons {
			if c.Friction > maxFriction {
				maxFriction = c.Friction
			}
			sims = append(sims, c.Similarity)
		}
		e.MaxFriction = &maxFriction
		e.NeedsReview = maxFriction >= threshold
		if e.ExpectedComparisons > 0 && e.CompletedComparisons >= e.ExpectedComparisons &&
			e.ClaimsStatus == types.ClaimsDistilled {
			e.ClaimsStatus = types.ClaimsVerified
		}
		e.IntegrationStatus = storage.GradeIntegration(sims, maxFriction, t)

		needsReview := 0
		if e.NeedsReview {
			needsReview = 1
		}
		_, err = conn.ExecContext(ctx, `
			UPDATE entries SET comparisons = ?, completed_comparisons = ?, max_friction = ?,
				needs_review = ?, claims_status = ?, integration_status = ?
			WHERE notebook_id = ? AND id = ?
		`, marshalJSON(e.Comparisons, "[]"), e.CompletedComparisons, maxFriction,
			needsReview, e.ClaimsStatus, e.IntegrationStatus, notebookID, entryID)
		if err != nil {
			return wrapDBError("apply comparison", err)
		}
		out = e
		return nil
	})
	return out, err
}

// RecomputeMaxFriction re-derives max friction for an entry from its own
// comparisons plus any comparison on a peer that points back at it, then
// refreshes needs_review. Used when retroactive propagation is enabled.
func (s *Store) RecomputeMaxFriction(ctx context.Context, notebookID, entryID string) (float64, error) {
	var max float64
	err := s.withTx(ctx, func(conn *sql.Conn) error {
		e, err := getEntry(ctx, conn, notebookID, entryID)
		if err != nil {
			return err
		}
		var threshold float64
		if err := conn.QueryRowContext(ctx,
			`SELECT review_threshold FROM notebooks WHERE id = ?`, notebookID).Scan(&threshold); err != nil {
			return wrapDBError("read review threshold", err)
		}

		for _, c := range e.Comparisons {
			if c.Friction > max {
				max = c.Friction
			}
		}

		// Inbound comparisons live inside peers' JSON; the LIKE narrows
		// the scan before decoding.
		rows, err := conn.QueryContext(ctx, `
			SELECT comparisons FROM entries
			WHERE notebook_id = ? AND id <> ? AND comparisons LIKE ?
		`, notebookID, entryID, `%`+entryID+`%`)
		if err != nil {
			return wrapDBError("scan inbound comparisons", err)
		}
		defer func() { _ = rows.Close() }()
		for rows.Next() {
			var raw string
			if err := rows.Scan(&raw); err != nil {
				return wrapDBError("scan inbound comparisons", err)
			}
			var cmps []types.Comparison
			unmarshalJSON(raw, &cmps)
			for _, c := range cmps {
				if c.ComparedAgainst == entryID && c.Friction > max {
					max = c.Friction
				}
			}
		}
		if err := rows.Err(); err != nil {
			return wrapDBError("scan inbound comparisons", err)
		}

		needsReview := 0
		if max >= threshold {
			needsReview = 1
		}
		_, err = conn.ExecContext(ctx,
			`UPDATE entries SET max_friction = ?, needs_review = ? WHERE notebook_id = ? AND id = ?`,
			max, needsReview, notebookID, entryID)
		return wrapDBError("recompute max friction", err)
	})
	return max, err
}

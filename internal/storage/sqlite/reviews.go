package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/thinktank-hq/notebook/internal/storage"
	"github.com/thinktank-hq/notebook/internal/types"
)

const reviewColumns = `entry_id, notebook_id, submitted_by, status, reason, decided_by, decided_at, created`

func scanReview(row rowScanner) (*types.ReviewRecord, error) {
	var r types.ReviewRecord
	var decidedAt sql.NullTime
	err := row.Scan(&r.EntryID, &r.NotebookID, &r.SubmittedBy, &r.Status, &r.Reason,
		&r.DecidedBy, &decidedAt, &r.Created)
	if err != nil {
		return nil, err
	}
	if decidedAt.Valid {
		t := decidedAt.Time
		r.DecidedAt = &t
	}
	return &r, nil
}

func createReview(ctx context.Context, q querier, rec *types.ReviewRecord) error {
	if rec.EntryID == "" || rec.NotebookID == "" {
		return storage.ErrInvalid
	}
	if rec.Status == "" {
		rec.Status = types.ReviewPending
	}
	if rec.Created.IsZero() {
		rec.Created = time.Now().UTC()
	}
	_, err := q.ExecContext(ctx, `
		INSERT INTO entry_reviews (entry_id, notebook_id, submitted_by, status, reason, created)
		VALUES (?, ?, ?, ?, ?, ?)
	`, rec.EntryID, rec.NotebookID, rec.SubmittedBy, rec.Status, rec.Reason, rec.Created)
	return wrapDBError("create review", err)
}

// CreateReview opens a review record for an entry held at the gate.
func (s *Store) CreateReview(ctx context.Context, rec *types.ReviewRecord) error {
	return createReview(ctx, s.db, rec)
}

func decideReview(ctx context.Context, q querier, notebookID, entryID string, decidedBy types.AuthorID, approve bool, reason string) (*types.ReviewRecord, error) {
	var current types.ReviewStatus
	err := q.QueryRowContext(ctx,
		`SELECT status FROM entry_reviews WHERE entry_id = ? AND notebook_id = ?`,
		entryID, notebookID).Scan(&current)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, wrapDBError("inspect review", err)
	}
	if current != types.ReviewPending {
		return nil, storage.ErrConflict
	}

	status := types.ReviewRejected
	if approve {
		status = types.ReviewApproved
	}
	now := time.Now().UTC()
	res, err := q.ExecContext(ctx, `
		UPDATE entry_reviews SET status = ?, reason = ?, decided_by = ?, decided_at = ?
		WHERE entry_id = ? AND status = 'pending'
	`, status, reason, decidedBy, now, entryID)
	if err != nil {
		return nil, wrapDBError("decide review", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, storage.ErrConflict
	}
	if _, err := q.ExecContext(ctx,
		`UPDATE entries SET review_status = ? WHERE notebook_id = ? AND (id = ? OR fragment_of = ?)`,
		status, notebookID, entryID, entryID); err != nil {
		return nil, wrapDBError("update entry review status", err)
	}

	rec, err := scanReview(q.QueryRowContext(ctx,
		`SELECT `+reviewColumns+` FROM entry_reviews WHERE entry_id = ?`, entryID))
	if err != nil {
		return nil, wrapDBError("reload review", err)
	}
	return rec, nil
}

// DecideReview settles a pending review and flips the review status of
// the entry and its fragments in the same transaction. A review that
// was already decided returns ErrConflict so racing admins cannot
// double-decide.
func (s *Store) DecideReview(ctx context.Context, notebookID, entryID string, decidedBy types.AuthorID, approve bool, reason string) (*types.ReviewRecord, error) {
	var out *types.ReviewRecord
	err := s.withTx(ctx, func(conn *sql.Conn) error {
		rec, err := decideReview(ctx, conn, notebookID, entryID, decidedBy, approve, reason)
		if err != nil {
			return err
		}
		out = rec
		return nil
	})
	return out, err
}

// ListPendingReviews returns the open review queue, oldest first.
func (s *Store) ListPendingReviews(ctx context.Context, notebookID string) ([]*types.ReviewRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+reviewColumns+` FROM entry_reviews
		WHERE notebook_id = ? AND status = 'pending' ORDER BY created, entry_id
	`, notebookID)
	if err != nil {
		return nil, wrapDBError("list pending reviews", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*types.ReviewRecord
	for rows.Next() {
		rec, err := scanReview(rows)
		if err != nil {
			return nil, wrapDBError("scan review", err)
		}
		out = append(out, rec)
	}
	return out, wrapDBError("list pending reviews", rows.Err())
}

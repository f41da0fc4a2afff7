package sqlite

import (
	"context"

	"github.com/thinktank-hq/notebook/internal/storage"
	"github.com/thinktank-hq/notebook/internal/types"
)

// visibilityClause hides review-pending and rejected entries from
// everyone except their submitter. Admins see everything.
func visibilityClause(v storage.Viewer, args *[]any) string {
	if v.Admin {
		return ""
	}
	*args = append(*args, string(v.Author))
	return ` AND (review_status = 'approved' OR author = ?)`
}

// BrowseEntries lists entries matching the AND-combined filter in
// sequence order. The limit is clamped to MaxBrowseLimit.
func (s *Store) BrowseEntries(ctx context.Context, notebookID string, f storage.BrowseFilter) ([]*types.Entry, error) {
	query := `SELECT ` + entryColumns + ` FROM entries WHERE notebook_id = ?`
	args := []any{notebookID}

	query += visibilityClause(f.Viewer, &args)

	if f.TopicPrefix != "" {
		query += ` AND topic LIKE ? || '%'`
		args = append(args, f.TopicPrefix)
	}
	if f.ClaimsStatus != nil {
		query += ` AND claims_status = ?`
		args = append(args, *f.ClaimsStatus)
	}
	if f.IntegrationStatus != nil {
		query += ` AND integration_status = ?`
		args = append(args, *f.IntegrationStatus)
	}
	if f.Author != nil {
		query += ` AND author = ?`
		args = append(args, *f.Author)
	}
	if f.SequenceMin != nil {
		query += ` AND sequence >= ?`
		args = append(args, *f.SequenceMin)
	}
	if f.SequenceMax != nil {
		query += ` AND sequence <= ?`
		args = append(args, *f.SequenceMax)
	}
	if f.HasFrictionAbove != nil {
		query += ` AND max_friction IS NOT NULL AND max_friction > ?`
		args = append(args, *f.HasFrictionAbove)
	}
	if f.NeedsReview != nil {
		if *f.NeedsReview {
			query += ` AND needs_review = 1`
		} else {
			query += ` AND needs_review = 0`
		}
	}
	if f.FragmentOf != nil {
		// Empty string selects top-level entries only.
		if *f.FragmentOf == "" {
			query += ` AND fragment_of IS NULL`
		} else {
			query += ` AND fragment_of = ?`
			args = append(args, *f.FragmentOf)
		}
	}
	if f.Query != "" {
		query += ` AND id IN (SELECT id FROM entries_fts WHERE entries_fts MATCH ?)`
		args = append(args, ftsQuery(f.Query))
	}

	if f.Descending {
		query += ` ORDER BY sequence DESC`
	} else {
		query += ` ORDER BY sequence ASC`
	}

	limit := f.Limit
	if limit <= 0 || limit > storage.MaxBrowseLimit {
		limit = storage.MaxBrowseLimit
	}
	query += ` LIMIT ?`
	args = append(args, limit)
	if f.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, f.Offset)
	}

	return s.queryEntries(ctx, query, args...)
}

// Observe returns the change feed strictly after the since cursor in
// ascending sequence order, plus the notebook's current sequence so the
// caller can tell whether it has caught up.
func (s *Store) Observe(ctx context.Context, notebookID string, f storage.ObserveFilter) ([]*storage.Change, int64, error) {
	var current int64
	err := s.db.QueryRowContext(ctx,
		`SELECT current_sequence FROM notebooks WHERE id = ?`, notebookID).Scan(&current)
	if err != nil {
		return nil, 0, wrapDBError("observe notebook", err)
	}

	query := `SELECT id, author, topic, sequence, created, revision_of IS NOT NULL
		FROM entries WHERE notebook_id = ? AND sequence > ?`
	args := []any{notebookID, f.Since}

	query += visibilityClause(f.Viewer, &args)

	if f.TopicPrefix != "" {
		query += ` AND topic LIKE ? || '%'`
		args = append(args, f.TopicPrefix)
	}

	limit := f.Limit
	if limit <= 0 || limit > storage.MaxBrowseLimit {
		limit = storage.MaxBrowseLimit
	}
	query += ` ORDER BY sequence ASC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, wrapDBError("observe", err)
	}
	defer func() { _ = rows.Close() }()

	var changes []*storage.Change
	for rows.Next() {
		var c storage.Change
		var isRevision int
		if err := rows.Scan(&c.EntryID, &c.Author, &c.Topic, &c.Sequence, &c.Created, &isRevision); err != nil {
			return nil, 0, wrapDBError("scan change", err)
		}
		if isRevision != 0 {
			c.Operation = storage.OpRevise
		} else {
			c.Operation = storage.OpWrite
		}
		changes = append(changes, &c)
	}
	return changes, current, wrapDBError("observe", rows.Err())
}

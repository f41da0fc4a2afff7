package sqlite

import (
	"context"
	"database/sql"

	"github.com/thinktank-hq/notebook/internal/storage"
	"github.com/thinktank-hq/notebook/internal/types"
)

// GetQuota returns the author's quota row, or nil when none is set.
// No row means unlimited.
func (s *Store) GetQuota(ctx context.Context, author types.AuthorID) (*types.Quota, error) {
	var q types.Quota
	err := s.db.QueryRowContext(ctx, `
		SELECT author_id, max_entries_per_notebook, max_entry_size_bytes, max_jobs_inflight
		FROM author_quotas WHERE author_id = ?
	`, author).Scan(&q.Author, &q.MaxEntriesPerNotebook, &q.MaxEntrySizeBytes, &q.MaxJobsInflight)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, wrapDBError("get quota", err)
	}
	return &q, nil
}

// SetQuota creates or replaces an author's quota row.
func (s *Store) SetQuota(ctx context.Context, q *types.Quota) error {
	if err := q.Author.Validate(); err != nil {
		return storage.ErrInvalid
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO author_quotas (author_id, max_entries_per_notebook, max_entry_size_bytes, max_jobs_inflight)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(author_id) DO UPDATE SET
			max_entries_per_notebook = excluded.max_entries_per_notebook,
			max_entry_size_bytes = excluded.max_entry_size_bytes,
			max_jobs_inflight = excluded.max_jobs_inflight
	`, q.Author, q.MaxEntriesPerNotebook, q.MaxEntrySizeBytes, q.MaxJobsInflight)
	return wrapDBError("set quota", err)
}

// CountAuthorEntries counts every entry row an author holds in one
// notebook, fragments included.
func (s *Store) CountAuthorEntries(ctx context.Context, notebookID string, author types.AuthorID) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM entries WHERE notebook_id = ? AND author = ?`,
		notebookID, author).Scan(&n)
	if err != nil {
		return 0, wrapDBError("count author entries", err)
	}
	return n, nil
}

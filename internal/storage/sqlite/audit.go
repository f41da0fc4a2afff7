package sqlite

import (
	"context"
	"time"

	"github.com/thinktank-hq/notebook/internal/storage"
	"github.com/thinktank-hq/notebook/internal/types"
)

func appendAudit(ctx context.Context, q querier, rec *types.AuditRecord) error {
	if rec.Action == "" {
		return storage.ErrInvalid
	}
	if rec.Time.IsZero() {
		rec.Time = time.Now().UTC()
	}
	res, err := q.ExecContext(ctx, `
		INSERT INTO audit_log (time, notebook_id, author, action, target_type, target_id, detail, ip, user_agent)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.Time, rec.NotebookID, rec.Author, rec.Action, rec.TargetType, rec.TargetID,
		marshalJSON(rec.Detail, "{}"), rec.IP, rec.UserAgent)
	if err != nil {
		return wrapDBError("append audit", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		rec.ID = id
	}
	return nil
}

// AppendAudit writes one audit record. The log is append-only; there is
// no update or delete path.
func (s *Store) AppendAudit(ctx context.Context, rec *types.AuditRecord) error {
	return appendAudit(ctx, s.db, rec)
}

// QueryAudit returns audit records for a notebook, newest first.
func (s *Store) QueryAudit(ctx context.Context, notebookID string, f storage.AuditFilter) ([]*types.AuditRecord, error) {
	query := `SELECT id, time, notebook_id, author, action, target_type, target_id, detail, ip, user_agent
		FROM audit_log WHERE notebook_id = ?`
	args := []any{notebookID}
	if !f.Since.IsZero() {
		query += ` AND time >= ?`
		args = append(args, f.Since)
	}
	if f.Action != "" {
		query += ` AND action = ?`
		args = append(args, f.Action)
	}
	if f.Author != "" {
		query += ` AND author = ?`
		args = append(args, f.Author)
	}
	limit := f.Limit
	if limit <= 0 || limit > storage.MaxBrowseLimit {
		limit = storage.MaxBrowseLimit
	}
	query += ` ORDER BY time DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapDBError("query audit", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*types.AuditRecord
	for rows.Next() {
		var rec types.AuditRecord
		var detail string
		if err := rows.Scan(&rec.ID, &rec.Time, &rec.NotebookID, &rec.Author, &rec.Action,
			&rec.TargetType, &rec.TargetID, &detail, &rec.IP, &rec.UserAgent); err != nil {
			return nil, wrapDBError("scan audit record", err)
		}
		unmarshalJSON(detail, &rec.Detail)
		out = append(out, &rec)
	}
	return out, wrapDBError("query audit", rows.Err())
}

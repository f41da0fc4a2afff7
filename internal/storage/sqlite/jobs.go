package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/thinktank-hq/notebook/internal/debug"
	"github.com/thinktank-hq/notebook/internal/storage"
	"github.com/thinktank-hq/notebook/internal/types"
)

const jobColumns = `id, notebook_id, type, status, payload, result, error, created,
	claimed_at, claimed_by, completed_at, timeout_seconds, retry_count, max_retries, priority`

func scanJob(row rowScanner) (*types.Job, error) {
	var j types.Job
	var payload string
	var result sql.NullString
	var claimedAt, completedAt sql.NullTime
	err := row.Scan(&j.ID, &j.NotebookID, &j.Type, &j.Status, &payload, &result, &j.Error, &j.Created,
		&claimedAt, &j.ClaimedBy, &completedAt, &j.TimeoutSeconds, &j.RetryCount, &j.MaxRetries, &j.Priority)
	if err != nil {
		return nil, err
	}
	j.Payload = json.RawMessage(payload)
	if result.Valid {
		j.Result = json.RawMessage(result.String)
	}
	if claimedAt.Valid {
		t := claimedAt.Time
		j.ClaimedAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time
		j.CompletedAt = &t
	}
	return &j, nil
}

func enqueueJob(ctx context.Context, q querier, job *types.Job) error {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	job.SetDefaults()
	if job.Created.IsZero() {
		job.Created = time.Now().UTC()
	}
	if err := job.Validate(); err != nil {
		return fmt.Errorf("%w: %v", storage.ErrInvalid, err)
	}
	payload := string(job.Payload)
	if payload == "" {
		payload = "{}"
	}
	_, err := q.ExecContext(ctx, `
		INSERT INTO jobs (id, notebook_id, type, status, payload, created, timeout_seconds, retry_count, max_retries, priority)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, job.ID, job.NotebookID, job.Type, job.Status, payload, job.Created,
		job.TimeoutSeconds, job.RetryCount, job.MaxRetries, job.Priority)
	if err != nil {
		return wrapDBError("enqueue job", err)
	}
	debug.Jobf("enqueue", job.ID, "", "type=%s notebook=%s priority=%d", job.Type, job.NotebookID, job.Priority)
	return nil
}

// EnqueueJob inserts one pending job.
func (s *Store) EnqueueJob(ctx context.Context, job *types.Job) error {
	return enqueueJob(ctx, s.db, job)
}

// EnqueueJobs inserts a batch of jobs in one transaction.
func (s *Store) EnqueueJobs(ctx context.Context, jobs []*types.Job) error {
	if len(jobs) == 0 {
		return nil
	}
	return s.withTx(ctx, func(conn *sql.Conn) error {
		for _, job := range jobs {
			if err := enqueueJob(ctx, conn, job); err != nil {
				return err
			}
		}
		return nil
	})
}

// ClaimNextJob atomically moves the highest-priority pending job of the
// notebook to in_progress under the given worker id. Ties break oldest
// first so the queue drains depth-first but fairly within a stage.
// Returns (nil, nil) when no work is available.
func (s *Store) ClaimNextJob(ctx context.Context, notebookID, workerID string, typeFilter []types.JobType) (*types.Job, error) {
	var claimed *types.Job
	err := s.withTx(ctx, func(conn *sql.Conn) error {
		query := `SELECT id FROM jobs WHERE notebook_id = ? AND status = 'pending'`
		args := []any{notebookID}
		if len(typeFilter) > 0 {
			placeholders := make([]string, len(typeFilter))
			for i, t := range typeFilter {
				if !t.IsValid() {
					return storage.ErrInvalid
				}
				placeholders[i] = "?"
				args = append(args, t)
			}
			query += ` AND type IN (` + strings.Join(placeholders, ", ") + `)`
		}
		query += ` ORDER BY priority DESC, created ASC, id ASC LIMIT 1`

		var jobID string
		err := conn.QueryRowContext(ctx, query, args...).Scan(&jobID)
		if err == sql.ErrNoRows {
			return nil
		}
		if err != nil {
			return wrapDBError("select claimable job", err)
		}

		now := time.Now().UTC()
		res, err := conn.ExecContext(ctx, `
			UPDATE jobs SET status = 'in_progress', claimed_at = ?, claimed_by = ?
			WHERE id = ? AND status = 'pending'
		`, now, workerID, jobID)
		if err != nil {
			return wrapDBError("claim job", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			// Lost to a concurrent claimer between SELECT and UPDATE.
			return nil
		}

		job, err := scanJob(conn.QueryRowContext(ctx,
			`SELECT `+jobColumns+` FROM jobs WHERE id = ?`, jobID))
		if err != nil {
			return wrapDBError("reload claimed job", err)
		}
		claimed = job
		return nil
	})
	if claimed != nil {
		debug.Jobf("claim", claimed.ID, workerID, "type=%s priority=%d retry=%d",
			claimed.Type, claimed.Priority, claimed.RetryCount)
	}
	return claimed, err
}

// claimError discriminates a failed conditional update: the job either
// does not exist (ErrNotFound) or is held by someone else / already
// terminal (ErrStaleClaim).
func claimError(ctx context.Context, conn *sql.Conn, jobID, notebookID string) error {
	var status string
	err := conn.QueryRowContext(ctx,
		`SELECT status FROM jobs WHERE id = ? AND notebook_id = ?`, jobID, notebookID).Scan(&status)
	if err == sql.ErrNoRows {
		return storage.ErrNotFound
	}
	if err != nil {
		return wrapDBError("inspect job", err)
	}
	return storage.ErrStaleClaim
}

// CompleteJob finishes a job the worker still holds. The state check in
// the WHERE clause makes duplicate completions after a reclaim no-ops:
// the late worker gets ErrStaleClaim and must discard its result.
func (s *Store) CompleteJob(ctx context.Context, notebookID, jobID, workerID string, result json.RawMessage) (*types.Job, error) {
	var out *types.Job
	err := s.withTx(ctx, func(conn *sql.Conn) error {
		now := time.Now().UTC()
		res, err := conn.ExecContext(ctx, `
			UPDATE jobs SET status = 'completed', result = ?, completed_at = ?, error = ''
			WHERE id = ? AND notebook_id = ? AND status = 'in_progress' AND claimed_by = ?
		`, string(result), now, jobID, notebookID, workerID)
		if err != nil {
			return wrapDBError("complete job", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return claimError(ctx, conn, jobID, notebookID)
		}
		job, err := scanJob(conn.QueryRowContext(ctx,
			`SELECT `+jobColumns+` FROM jobs WHERE id = ?`, jobID))
		if err != nil {
			return wrapDBError("reload completed job", err)
		}
		out = job
		return nil
	})
	if out != nil {
		debug.Jobf("complete", jobID, workerID, "type=%s", out.Type)
	}
	return out, err
}

// FailJob records a worker failure. The job returns to pending while the
// retry budget lasts; once the next attempt would exceed max_retries it
// fails terminally. Same stale-claim protection as CompleteJob.
func (s *Store) FailJob(ctx context.Context, notebookID, jobID, workerID, errMsg string) (*types.Job, error) {
	var out *types.Job
	err := s.withTx(ctx, func(conn *sql.Conn) error {
		var retryCount, maxRetries int
		err := conn.QueryRowContext(ctx, `
			SELECT retry_count, max_retries FROM jobs
			WHERE id = ? AND notebook_id = ? AND status = 'in_progress' AND claimed_by = ?
		`, jobID, notebookID, workerID).Scan(&retryCount, &maxRetries)
		if err == sql.ErrNoRows {
			return claimError(ctx, conn, jobID, notebookID)
		}
		if err != nil {
			return wrapDBError("inspect failing job", err)
		}

		newCount := retryCount + 1
		if newCount < maxRetries {
			_, err = conn.ExecContext(ctx, `
				UPDATE jobs SET status = 'pending', retry_count = ?, error = ?, claimed_at = NULL, claimed_by = ''
				WHERE id = ?
			`, newCount, errMsg, jobID)
		} else {
			now := time.Now().UTC()
			_, err = conn.ExecContext(ctx, `
				UPDATE jobs SET status = 'failed', retry_count = ?, error = ?, completed_at = ?
				WHERE id = ?
			`, newCount, errMsg, now, jobID)
		}
		if err != nil {
			return wrapDBError("fail job", err)
		}
		job, err := scanJob(conn.QueryRowContext(ctx,
			`SELECT `+jobColumns+` FROM jobs WHERE id = ?`, jobID))
		if err != nil {
			return wrapDBError("reload failed job", err)
		}
		out = job
		return nil
	})
	if out != nil {
		debug.Jobf("fail", jobID, workerID, "status=%s retry=%d err=%s", out.Status, out.RetryCount, errMsg)
	}
	return out, err
}

// ReclaimTimedOutJobs requeues in_progress jobs whose claim deadline has
// passed. Jobs out of retry budget fail terminally instead. Pass an
// empty notebookID to sweep every notebook. Returns how many rows moved.
func (s *Store) ReclaimTimedOutJobs(ctx context.Context, notebookID string, now time.Time) (int, error) {
	var moved int64
	err := s.withTx(ctx, func(conn *sql.Conn) error {
		scope := ""
		requeueArgs := []any{now}
		if notebookID != "" {
			scope = ` AND notebook_id = ?`
			requeueArgs = append(requeueArgs, notebookID)
		}

		res, err := conn.ExecContext(ctx, `
			UPDATE jobs SET status = 'pending', retry_count = retry_count + 1, claimed_at = NULL, claimed_by = ''
			WHERE status = 'in_progress'
			  AND datetime(claimed_at, '+' || timeout_seconds || ' seconds') <= datetime(?)
			  AND retry_count + 1 < max_retries`+scope, requeueArgs...)
		if err != nil {
			return wrapDBError("requeue timed-out jobs", err)
		}
		n, _ := res.RowsAffected()
		moved += n

		exhaustArgs := []any{now, now}
		if notebookID != "" {
			exhaustArgs = append(exhaustArgs, notebookID)
		}
		res, err = conn.ExecContext(ctx, `
			UPDATE jobs SET status = 'failed', retry_count = retry_count + 1,
				error = 'worker timed out', completed_at = ?
			WHERE status = 'in_progress'
			  AND datetime(claimed_at, '+' || timeout_seconds || ' seconds') <= datetime(?)
			  AND retry_count + 1 >= max_retries`+scope, exhaustArgs...)
		if err != nil {
			return wrapDBError("fail exhausted jobs", err)
		}
		n, _ = res.RowsAffected()
		moved += n
		return nil
	})
	return int(moved), err
}

// GetJob loads one job.
func (s *Store) GetJob(ctx context.Context, notebookID, jobID string) (*types.Job, error) {
	job, err := scanJob(s.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE notebook_id = ? AND id = ?`, notebookID, jobID))
	if err != nil {
		return nil, wrapDBError("get job", err)
	}
	return job, nil
}

// ListJobs returns jobs for a notebook, newest first.
func (s *Store) ListJobs(ctx context.Context, notebookID string, f storage.JobFilter) ([]*types.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE notebook_id = ?`
	args := []any{notebookID}
	if f.Status != "" {
		if !f.Status.IsValid() {
			return nil, storage.ErrInvalid
		}
		query += ` AND status = ?`
		args = append(args, f.Status)
	}
	if f.Type != "" {
		if !f.Type.IsValid() {
			return nil, storage.ErrInvalid
		}
		query += ` AND type = ?`
		args = append(args, f.Type)
	}
	limit := f.Limit
	if limit <= 0 || limit > storage.MaxBrowseLimit {
		limit = storage.MaxBrowseLimit
	}
	query += ` ORDER BY created DESC, id LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapDBError("list jobs", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*types.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, wrapDBError("scan job", err)
		}
		out = append(out, job)
	}
	return out, wrapDBError("list jobs", rows.Err())
}

// JobStats aggregates queue counts per (type, status) for one notebook.
func (s *Store) JobStats(ctx context.Context, notebookID string) (*types.JobStats, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT type, status, COUNT(*) FROM jobs WHERE notebook_id = ? GROUP BY type, status
	`, notebookID)
	if err != nil {
		return nil, wrapDBError("job stats", err)
	}
	defer func() { _ = rows.Close() }()

	stats := &types.JobStats{NotebookID: notebookID, Counts: make(map[types.JobType]types.StatusCounts)}
	for rows.Next() {
		var jt types.JobType
		var status types.JobStatus
		var n int64
		if err := rows.Scan(&jt, &status, &n); err != nil {
			return nil, wrapDBError("scan job stats", err)
		}
		c := stats.Counts[jt]
		switch status {
		case types.JobPending:
			c.Pending = n
		case types.JobInProgress:
			c.InProgress = n
		case types.JobCompleted:
			c.Completed = n
		case types.JobFailed:
			c.Failed = n
		}
		stats.Counts[jt] = c
	}
	return stats, wrapDBError("job stats", rows.Err())
}

// RetryFailedJobs resets terminally failed jobs to pending with a fresh
// retry budget. Returns how many jobs were requeued.
func (s *Store) RetryFailedJobs(ctx context.Context, notebookID string) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET status = 'pending', retry_count = 0, error = '', result = NULL,
			claimed_at = NULL, claimed_by = '', completed_at = NULL
		WHERE notebook_id = ? AND status = 'failed'
	`, notebookID)
	if err != nil {
		return 0, wrapDBError("retry failed jobs", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

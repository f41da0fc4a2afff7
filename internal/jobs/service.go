// Package jobs fronts the per-notebook work queues: admission-checked
// claim/complete/fail for workers, stats and retry for admins, and a
// background reclaimer that requeues timed-out claims.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/thinktank-hq/notebook/internal/access"
	"github.com/thinktank-hq/notebook/internal/debug"
	"github.com/thinktank-hq/notebook/internal/storage"
	"github.com/thinktank-hq/notebook/internal/types"
)

// ErrInflightLimit is returned when a worker already holds its quota of
// in_progress jobs. The HTTP layer maps it to 429.
var ErrInflightLimit = errors.New("inflight job limit reached")

// Dispatcher reacts to successfully completed jobs. The pipeline
// orchestrator implements it; without one, completions are terminal and
// nothing downstream gets scheduled.
type Dispatcher interface {
	OnCompleted(ctx context.Context, job *types.Job) error
}

// Service wraps the storage queue with access checks, worker quotas and
// pipeline dispatch.
type Service struct {
	store    storage.Storage
	gate     *access.Gate
	dispatch Dispatcher
}

// NewService returns a queue service over store admitted through gate.
func NewService(store storage.Storage, gate *access.Gate) *Service {
	return &Service{store: store, gate: gate}
}

// SetDispatcher registers the completion hook.
func (s *Service) SetDispatcher(d Dispatcher) { s.dispatch = d }

// Enqueue inserts a pending job. Priority defaults by job type; a
// non-nil override replaces it.
func (s *Service) Enqueue(ctx context.Context, notebookID string, jobType types.JobType, payload json.RawMessage, priorityOverride *int) (*types.Job, error) {
	job := &types.Job{NotebookID: notebookID, Type: jobType, Payload: payload}
	if priorityOverride != nil {
		job.Priority = *priorityOverride
	}
	if err := s.store.EnqueueJob(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

// Claim hands the worker the highest-priority pending job, oldest first
// within a priority. The agent label, when asserted, must dominate the
// notebook's classification. Returns (nil, nil) when the queue is empty.
func (s *Service) Claim(ctx context.Context, notebookID string, worker types.AuthorID, agentLabel *types.Label, typeFilter []types.JobType) (*types.Job, error) {
	if _, err := s.gate.RequireClaim(ctx, notebookID, worker, agentLabel); err != nil {
		return nil, err
	}
	if err := s.checkInflight(ctx, notebookID, worker); err != nil {
		return nil, err
	}
	return s.store.ClaimNextJob(ctx, notebookID, string(worker), typeFilter)
}

// Complete records the worker's result. The storage update is state
// checked: a reclaimed or re-claimed job rejects the result with
// ErrStaleClaim. On success the pipeline dispatch for the job's type
// runs; a dispatch failure leaves the completion in place and is
// surfaced to the caller and the audit log.
func (s *Service) Complete(ctx context.Context, notebookID, jobID string, worker types.AuthorID, result json.RawMessage) (*types.Job, error) {
	if _, err := s.gate.Require(ctx, notebookID, worker, types.TierReadWrite); err != nil {
		return nil, err
	}
	job, err := s.store.CompleteJob(ctx, notebookID, jobID, string(worker), result)
	if err != nil {
		return nil, err
	}
	if s.dispatch != nil {
		if err := s.dispatch.OnCompleted(ctx, job); err != nil {
			s.auditDispatchFailure(ctx, job, worker, err)
			return job, fmt.Errorf("dispatch %s: %w", job.Type, err)
		}
	}
	return job, nil
}

// Fail records a worker failure. The job returns to pending while the
// retry budget lasts, then fails terminally.
func (s *Service) Fail(ctx context.Context, notebookID, jobID string, worker types.AuthorID, errMsg string) (*types.Job, error) {
	if _, err := s.gate.Require(ctx, notebookID, worker, types.TierReadWrite); err != nil {
		return nil, err
	}
	return s.store.FailJob(ctx, notebookID, jobID, string(worker), errMsg)
}

// Get loads one job for a reader.
func (s *Service) Get(ctx context.Context, notebookID, jobID string, viewer types.AuthorID) (*types.Job, error) {
	if _, err := s.gate.Require(ctx, notebookID, viewer, types.TierRead); err != nil {
		return nil, err
	}
	return s.store.GetJob(ctx, notebookID, jobID)
}

// List returns the notebook's jobs, newest first.
func (s *Service) List(ctx context.Context, notebookID string, viewer types.AuthorID, f storage.JobFilter) ([]*types.Job, error) {
	if _, err := s.gate.Require(ctx, notebookID, viewer, types.TierRead); err != nil {
		return nil, err
	}
	return s.store.ListJobs(ctx, notebookID, f)
}

// Stats aggregates queue counts per (type, status).
func (s *Service) Stats(ctx context.Context, notebookID string, viewer types.AuthorID) (*types.JobStats, error) {
	if _, err := s.gate.Require(ctx, notebookID, viewer, types.TierRead); err != nil {
		return nil, err
	}
	return s.store.JobStats(ctx, notebookID)
}

// RetryFailed resets every terminally failed job to pending with a
// fresh retry budget. Admin only.
func (s *Service) RetryFailed(ctx context.Context, notebookID string, admin types.AuthorID) (int, error) {
	if _, err := s.gate.Require(ctx, notebookID, admin, types.TierAdmin); err != nil {
		return 0, err
	}
	n, err := s.store.RetryFailedJobs(ctx, notebookID)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.audit(ctx, &types.AuditRecord{
			NotebookID: notebookID,
			Author:     admin,
			Action:     "jobs.retry_failed",
			TargetType: "notebook",
			TargetID:   notebookID,
			Detail:     map[string]any{"count": n},
		})
	}
	return n, nil
}

// checkInflight enforces the worker's max_jobs_inflight quota against
// the jobs it currently holds in this notebook.
func (s *Service) checkInflight(ctx context.Context, notebookID string, worker types.AuthorID) error {
	quota, err := s.store.GetQuota(ctx, worker)
	if err != nil || quota == nil || quota.MaxJobsInflight <= 0 {
		return err
	}
	held, err := s.store.ListJobs(ctx, notebookID, storage.JobFilter{Status: types.JobInProgress})
	if err != nil {
		return err
	}
	var n int64
	for _, j := range held {
		if j.ClaimedBy == string(worker) {
			n++
		}
	}
	if n >= quota.MaxJobsInflight {
		return fmt.Errorf("worker holds %d of %d jobs: %w", n, quota.MaxJobsInflight, ErrInflightLimit)
	}
	return nil
}

func (s *Service) auditDispatchFailure(ctx context.Context, job *types.Job, worker types.AuthorID, dispatchErr error) {
	s.audit(ctx, &types.AuditRecord{
		NotebookID: job.NotebookID,
		Author:     worker,
		Action:     "job.dispatch_failed",
		TargetType: "job",
		TargetID:   job.ID,
		Detail:     map[string]any{"type": string(job.Type), "error": dispatchErr.Error()},
	})
}

func (s *Service) audit(ctx context.Context, rec *types.AuditRecord) {
	if err := s.store.AppendAudit(ctx, rec); err != nil {
		debug.Logf("jobs: audit %s: %v", rec.Action, err)
	}
}

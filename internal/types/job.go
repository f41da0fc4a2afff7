package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// JobType identifies one stage of the claim pipeline.
type JobType string

// Pipeline job types.
const (
	JobDistillClaims JobType = "DISTILL_CLAIMS"
	JobEmbedClaims   JobType = "EMBED_CLAIMS"
	JobEmbedMirrored JobType = "EMBED_MIRRORED"
	JobCompareClaims JobType = "COMPARE_CLAIMS"
	JobClassifyTopic JobType = "CLASSIFY_TOPIC"
)

// IsValid checks the job type value.
func (t JobType) IsValid() bool {
	switch t {
	case JobDistillClaims, JobEmbedClaims, JobEmbedMirrored, JobCompareClaims, JobClassifyTopic:
		return true
	}
	return false
}

// BasePriority returns the dispatch priority for a job type. Downstream
// stages outrank upstream ones so an entry drains its whole pipeline
// before workers pick up fresh DISTILL work (depth-first scheduling).
func (t JobType) BasePriority() int {
	switch t {
	case JobEmbedClaims:
		return 30
	case JobEmbedMirrored:
		return 25
	case JobCompareClaims:
		return 20
	case JobClassifyTopic:
		return 10
	case JobDistillClaims:
		return 0
	}
	return 0
}

// JobStatus is the queue state of a job.
type JobStatus string

// Job statuses. in_progress returns to pending on timeout or retryable
// failure; completed and failed (retries exhausted) are terminal.
const (
	JobPending    JobStatus = "pending"
	JobInProgress JobStatus = "in_progress"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
)

// IsValid checks the job status value.
func (s JobStatus) IsValid() bool {
	switch s {
	case JobPending, JobInProgress, JobCompleted, JobFailed:
		return true
	}
	return false
}

// Job queue defaults. Vars so the daemon can apply the configured
// values once at startup, before any queue traffic.
var (
	DefaultJobTimeoutSeconds = 120
	DefaultJobMaxRetries     = 3
)

// Job is one unit of pipeline work, delivered at-least-once to external
// workers. Payload and Result are opaque to the queue; the orchestrator
// owns their schemas.
type Job struct {
	ID             string          `json:"id"`
	NotebookID     string          `json:"notebook_id"`
	Type           JobType         `json:"type"`
	Status         JobStatus       `json:"status"`
	Payload        json.RawMessage `json:"payload,omitempty"`
	Result         json.RawMessage `json:"result,omitempty"`
	Error          string          `json:"error,omitempty"`
	Created        time.Time       `json:"created"`
	ClaimedAt      *time.Time      `json:"claimed_at,omitempty"`
	ClaimedBy      string          `json:"claimed_by,omitempty"`
	CompletedAt    *time.Time      `json:"completed_at,omitempty"`
	TimeoutSeconds int             `json:"timeout_seconds"`
	RetryCount     int             `json:"retry_count"`
	MaxRetries     int             `json:"max_retries"`
	Priority       int             `json:"priority"`
}

// SetDefaults fills queue defaults for a new job: pending status, base
// priority for the type, and the standard timeout/retry budget.
func (j *Job) SetDefaults() {
	if j.Status == "" {
		j.Status = JobPending
	}
	if j.Priority == 0 {
		j.Priority = j.Type.BasePriority()
	}
	if j.TimeoutSeconds <= 0 {
		j.TimeoutSeconds = DefaultJobTimeoutSeconds
	}
	if j.MaxRetries <= 0 {
		j.MaxRetries = DefaultJobMaxRetries
	}
}

// Validate checks job fields prior to persistence.
func (j *Job) Validate() error {
	if j.NotebookID == "" {
		return fmt.Errorf("job notebook_id is required")
	}
	if !j.Type.IsValid() {
		return fmt.Errorf("invalid job type: %q", j.Type)
	}
	if j.Status != "" && !j.Status.IsValid() {
		return fmt.Errorf("invalid job status: %q", j.Status)
	}
	if j.TimeoutSeconds < 0 {
		return fmt.Errorf("timeout_seconds must be >= 0")
	}
	return nil
}

// Deadline returns the instant after which an in_progress job may be
// reclaimed, or zero time when the job is unclaimed.
func (j *Job) Deadline() time.Time {
	if j.ClaimedAt == nil {
		return time.Time{}
	}
	return j.ClaimedAt.Add(time.Duration(j.TimeoutSeconds) * time.Second)
}

// JobStats aggregates queue counts per (type, status) for one notebook.
type JobStats struct {
	NotebookID string                   `json:"notebook_id"`
	Counts     map[JobType]StatusCounts `json:"counts"`
}

// StatusCounts holds per-status totals for one job type.
type StatusCounts struct {
	Pending    int64 `json:"pending"`
	InProgress int64 `json:"in_progress"`
	Completed  int64 `json:"completed"`
	Failed     int64 `json:"failed"`
}

// Total sums all states.
func (c StatusCounts) Total() int64 {
	return c.Pending + c.InProgress + c.Completed + c.Failed
}

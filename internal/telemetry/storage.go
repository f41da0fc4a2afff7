package telemetry

import (
	"context"
	"encoding/json"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/thinktank-hq/notebook/internal/storage"
	"github.com/thinktank-hq/notebook/internal/types"
)

const storageScopeName = "github.com/thinktank-hq/notebook/storage"

// InstrumentedStorage wraps storage.Storage with OTel tracing and metrics.
// Every method gets a span and is counted in nb.storage.* metrics.
// Use WrapStorage to create one; it returns the original store unchanged when
// telemetry is disabled.
type InstrumentedStorage struct {
	inner    storage.Storage
	tracer   trace.Tracer
	ops      metric.Int64Counter
	dur      metric.Float64Histogram
	errs     metric.Int64Counter
	jobGauge metric.Int64Gauge
}

// WrapStorage returns s decorated with OTel instrumentation.
// When telemetry is disabled, s is returned as-is with zero overhead.
func WrapStorage(s storage.Storage) storage.Storage {
	if !Enabled() {
		return s
	}
	m := Meter(storageScopeName)
	ops, _ := m.Int64Counter("nb.storage.operations",
		metric.WithDescription("Total storage operations executed"),
	)
	dur, _ := m.Float64Histogram("nb.storage.operation.duration",
		metric.WithDescription("Storage operation duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	errs, _ := m.Int64Counter("nb.storage.errors",
		metric.WithDescription("Total storage operation errors"),
	)
	jobGauge, _ := m.Int64Gauge("nb.job.count",
		metric.WithDescription("Current number of pipeline jobs by type and status (snapshot from JobStats)"),
	)
	return &InstrumentedStorage{
		inner:    s,
		tracer:   Tracer(storageScopeName),
		ops:      ops,
		dur:      dur,
		errs:     errs,
		jobGauge: jobGauge,
	}
}

// op starts a span and records a metric for the named storage operation.
func (s *InstrumentedStorage) op(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span, time.Time) {
	all := append([]attribute.KeyValue{attribute.String("db.operation", name)}, attrs...)
	ctx, span := s.tracer.Start(ctx, "storage."+name,
		trace.WithAttributes(all...),
		trace.WithSpanKind(trace.SpanKindClient),
	)
	s.ops.Add(ctx, 1, metric.WithAttributes(all...))
	return ctx, span, time.Now()
}

// done ends the span, records duration and optional error.
func (s *InstrumentedStorage) done(ctx context.Context, span trace.Span, start time.Time, err error, attrs ...attribute.KeyValue) {
	ms := float64(time.Since(start).Milliseconds())
	s.dur.Record(ctx, ms, metric.WithAttributes(attrs...))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.errs.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
	span.End()
}

func notebookAttr(id string) attribute.KeyValue {
	return attribute.String("nb.notebook.id", id)
}

func entryAttr(id string) attribute.KeyValue {
	return attribute.String("nb.entry.id", id)
}

// ── Notebooks and authors ────────────────────────────────────────────────────

func (s *InstrumentedStorage) CreateNotebook(ctx context.Context, nb *types.Notebook) error {
	attrs := []attribute.KeyValue{notebookAttr(nb.ID)}
	ctx, span, t := s.op(ctx, "CreateNotebook", attrs...)
	err := s.inner.CreateNotebook(ctx, nb)
	s.done(ctx, span, t, err, attrs...)
	return err
}

func (s *InstrumentedStorage) GetNotebook(ctx context.Context, id string) (*types.Notebook, error) {
	attrs := []attribute.KeyValue{notebookAttr(id)}
	ctx, span, t := s.op(ctx, "GetNotebook", attrs...)
	v, err := s.inner.GetNotebook(ctx, id)
	s.done(ctx, span, t, err, attrs...)
	return v, err
}

func (s *InstrumentedStorage) ListNotebooks(ctx context.Context, viewer types.AuthorID) ([]*storage.NotebookInfo, error) {
	ctx, span, t := s.op(ctx, "ListNotebooks")
	v, err := s.inner.ListNotebooks(ctx, viewer)
	if err == nil {
		span.SetAttributes(attribute.Int("nb.result.count", len(v)))
	}
	s.done(ctx, span, t, err)
	return v, err
}

func (s *InstrumentedStorage) DeleteNotebook(ctx context.Context, id string) error {
	attrs := []attribute.KeyValue{notebookAttr(id)}
	ctx, span, t := s.op(ctx, "DeleteNotebook", attrs...)
	err := s.inner.DeleteNotebook(ctx, id)
	s.done(ctx, span, t, err, attrs...)
	return err
}

func (s *InstrumentedStorage) EnsureAuthor(ctx context.Context, author types.AuthorID, publicKey []byte) error {
	ctx, span, t := s.op(ctx, "EnsureAuthor")
	err := s.inner.EnsureAuthor(ctx, author, publicKey)
	s.done(ctx, span, t, err)
	return err
}

// ── Access grants ────────────────────────────────────────────────────────────

func (s *InstrumentedStorage) UpsertGrant(ctx context.Context, grant *types.AccessGrant) error {
	attrs := []attribute.KeyValue{
		notebookAttr(grant.NotebookID),
		attribute.String("nb.grant.tier", string(grant.Tier)),
	}
	ctx, span, t := s.op(ctx, "UpsertGrant", attrs...)
	err := s.inner.UpsertGrant(ctx, grant)
	s.done(ctx, span, t, err, attrs...)
	return err
}

func (s *InstrumentedStorage) RemoveGrant(ctx context.Context, notebookID string, author types.AuthorID) error {
	attrs := []attribute.KeyValue{notebookAttr(notebookID)}
	ctx, span, t := s.op(ctx, "RemoveGrant", attrs...)
	err := s.inner.RemoveGrant(ctx, notebookID, author)
	s.done(ctx, span, t, err, attrs...)
	return err
}

func (s *InstrumentedStorage) GetGrant(ctx context.Context, notebookID string, author types.AuthorID) (*types.AccessGrant, error) {
	attrs := []attribute.KeyValue{notebookAttr(notebookID)}
	ctx, span, t := s.op(ctx, "GetGrant", attrs...)
	v, err := s.inner.GetGrant(ctx, notebookID, author)
	s.done(ctx, span, t, err, attrs...)
	return v, err
}

func (s *InstrumentedStorage) ListGrants(ctx context.Context, notebookID string) ([]*types.AccessGrant, error) {
	attrs := []attribute.KeyValue{notebookAttr(notebookID)}
	ctx, span, t := s.op(ctx, "ListGrants", attrs...)
	v, err := s.inner.ListGrants(ctx, notebookID)
	s.done(ctx, span, t, err, attrs...)
	return v, err
}

// ── Entries ──────────────────────────────────────────────────────────────────

func (s *InstrumentedStorage) InsertEntries(ctx context.Context, notebookID string, entries []*types.Entry) error {
	attrs := []attribute.KeyValue{
		notebookAttr(notebookID),
		attribute.Int("nb.entry.count", len(entries)),
	}
	ctx, span, t := s.op(ctx, "InsertEntries", attrs...)
	err := s.inner.InsertEntries(ctx, notebookID, entries)
	s.done(ctx, span, t, err, attrs...)
	return err
}

func (s *InstrumentedStorage) GetEntry(ctx context.Context, notebookID, entryID string) (*types.Entry, error) {
	attrs := []attribute.KeyValue{notebookAttr(notebookID), entryAttr(entryID)}
	ctx, span, t := s.op(ctx, "GetEntry", attrs...)
	v, err := s.inner.GetEntry(ctx, notebookID, entryID)
	s.done(ctx, span, t, err, attrs...)
	return v, err
}

func (s *InstrumentedStorage) GetEntries(ctx context.Context, notebookID string, entryIDs []string) ([]*types.Entry, error) {
	attrs := []attribute.KeyValue{
		notebookAttr(notebookID),
		attribute.Int("nb.entry.count", len(entryIDs)),
	}
	ctx, span, t := s.op(ctx, "GetEntries", attrs...)
	v, err := s.inner.GetEntries(ctx, notebookID, entryIDs)
	s.done(ctx, span, t, err, attrs...)
	return v, err
}

func (s *InstrumentedStorage) GetRevisions(ctx context.Context, notebookID, entryID string) ([]*types.Entry, error) {
	attrs := []attribute.KeyValue{notebookAttr(notebookID), entryAttr(entryID)}
	ctx, span, t := s.op(ctx, "GetRevisions", attrs...)
	v, err := s.inner.GetRevisions(ctx, notebookID, entryID)
	s.done(ctx, span, t, err, attrs...)
	return v, err
}

func (s *InstrumentedStorage) GetFragments(ctx context.Context, notebookID, parentID string) ([]*types.Entry, error) {
	attrs := []attribute.KeyValue{notebookAttr(notebookID), entryAttr(parentID)}
	ctx, span, t := s.op(ctx, "GetFragments", attrs...)
	v, err := s.inner.GetFragments(ctx, notebookID, parentID)
	s.done(ctx, span, t, err, attrs...)
	return v, err
}

func (s *InstrumentedStorage) BrowseEntries(ctx context.Context, notebookID string, f storage.BrowseFilter) ([]*types.Entry, error) {
	attrs := []attribute.KeyValue{notebookAttr(notebookID)}
	ctx, span, t := s.op(ctx, "BrowseEntries", attrs...)
	v, err := s.inner.BrowseEntries(ctx, notebookID, f)
	if err == nil {
		span.SetAttributes(attribute.Int("nb.result.count", len(v)))
	}
	s.done(ctx, span, t, err, attrs...)
	return v, err
}

func (s *InstrumentedStorage) Observe(ctx context.Context, notebookID string, f storage.ObserveFilter) ([]*storage.Change, int64, error) {
	attrs := []attribute.KeyValue{
		notebookAttr(notebookID),
		attribute.Int64("nb.since", f.Since),
	}
	ctx, span, t := s.op(ctx, "Observe", attrs...)
	changes, seq, err := s.inner.Observe(ctx, notebookID, f)
	if err == nil {
		span.SetAttributes(attribute.Int("nb.result.count", len(changes)))
	}
	s.done(ctx, span, t, err, attrs...)
	return changes, seq, err
}

func (s *InstrumentedStorage) SearchLexical(ctx context.Context, notebookID string, q storage.LexicalQuery) ([]*storage.SearchHit, error) {
	attrs := []attribute.KeyValue{notebookAttr(notebookID)}
	ctx, span, t := s.op(ctx, "SearchLexical", attrs...)
	hits, err := s.inner.SearchLexical(ctx, notebookID, q)
	if err == nil {
		span.SetAttributes(attribute.Int("nb.result.count", len(hits)))
	}
	s.done(ctx, span, t, err, attrs...)
	return hits, err
}

func (s *InstrumentedStorage) SemanticNeighbors(ctx context.Context, notebookID string, q storage.SemanticQuery) ([]*storage.SemanticNeighbor, error) {
	attrs := []attribute.KeyValue{
		notebookAttr(notebookID),
		attribute.Int("nb.k", q.K),
	}
	ctx, span, t := s.op(ctx, "SemanticNeighbors", attrs...)
	neighbors, err := s.inner.SemanticNeighbors(ctx, notebookID, q)
	if err == nil {
		span.SetAttributes(attribute.Int("nb.result.count", len(neighbors)))
	}
	s.done(ctx, span, t, err, attrs...)
	return neighbors, err
}

// ── Entry column updates ─────────────────────────────────────────────────────

func (s *InstrumentedStorage) UpdateEntryClaims(ctx context.Context, notebookID, entryID string, claims []types.Claim, status types.ClaimsStatus) error {
	attrs := []attribute.KeyValue{
		notebookAttr(notebookID),
		entryAttr(entryID),
		attribute.String("nb.claims.status", string(status)),
	}
	ctx, span, t := s.op(ctx, "UpdateEntryClaims", attrs...)
	err := s.inner.UpdateEntryClaims(ctx, notebookID, entryID, claims, status)
	s.done(ctx, span, t, err, attrs...)
	return err
}

func (s *InstrumentedStorage) UpdateEntryEmbedding(ctx context.Context, notebookID, entryID string, embedding []float32) error {
	attrs := []attribute.KeyValue{notebookAttr(notebookID), entryAttr(entryID)}
	ctx, span, t := s.op(ctx, "UpdateEntryEmbedding", attrs...)
	err := s.inner.UpdateEntryEmbedding(ctx, notebookID, entryID, embedding)
	s.done(ctx, span, t, err, attrs...)
	return err
}

func (s *InstrumentedStorage) SetExpectedComparisons(ctx context.Context, notebookID, entryID string, expected int) error {
	attrs := []attribute.KeyValue{notebookAttr(notebookID), entryAttr(entryID)}
	ctx, span, t := s.op(ctx, "SetExpectedComparisons", attrs...)
	err := s.inner.SetExpectedComparisons(ctx, notebookID, entryID, expected)
	s.done(ctx, span, t, err, attrs...)
	return err
}

func (s *InstrumentedStorage) UpdateEntryTopic(ctx context.Context, notebookID, entryID, topic string) error {
	attrs := []attribute.KeyValue{notebookAttr(notebookID), entryAttr(entryID)}
	ctx, span, t := s.op(ctx, "UpdateEntryTopic", attrs...)
	err := s.inner.UpdateEntryTopic(ctx, notebookID, entryID, topic)
	s.done(ctx, span, t, err, attrs...)
	return err
}

func (s *InstrumentedStorage) SetReviewStatus(ctx context.Context, notebookID, entryID string, status types.ReviewStatus) error {
	attrs := []attribute.KeyValue{
		notebookAttr(notebookID),
		entryAttr(entryID),
		attribute.String("nb.review.status", string(status)),
	}
	ctx, span, t := s.op(ctx, "SetReviewStatus", attrs...)
	err := s.inner.SetReviewStatus(ctx, notebookID, entryID, status)
	s.done(ctx, span, t, err, attrs...)
	return err
}

func (s *InstrumentedStorage) ApplyComparison(ctx context.Context, notebookID, entryID string, cmp types.Comparison, th storage.GradeThresholds) (*types.Entry, error) {
	attrs := []attribute.KeyValue{notebookAttr(notebookID), entryAttr(entryID)}
	ctx, span, t := s.op(ctx, "ApplyComparison", attrs...)
	v, err := s.inner.ApplyComparison(ctx, notebookID, entryID, cmp, th)
	s.done(ctx, span, t, err, attrs...)
	return v, err
}

func (s *InstrumentedStorage) RecomputeMaxFriction(ctx context.Context, notebookID, entryID string) (float64, error) {
	attrs := []attribute.KeyValue{notebookAttr(notebookID), entryAttr(entryID)}
	ctx, span, t := s.op(ctx, "RecomputeMaxFriction", attrs...)
	v, err := s.inner.RecomputeMaxFriction(ctx, notebookID, entryID)
	s.done(ctx, span, t, err, attrs...)
	return v, err
}

// ── Jobs ─────────────────────────────────────────────────────────────────────

func (s *InstrumentedStorage) EnqueueJob(ctx context.Context, job *types.Job) error {
	attrs := []attribute.KeyValue{
		notebookAttr(job.NotebookID),
		attribute.String("nb.job.type", string(job.Type)),
	}
	ctx, span, t := s.op(ctx, "EnqueueJob", attrs...)
	err := s.inner.EnqueueJob(ctx, job)
	s.done(ctx, span, t, err, attrs...)
	return err
}

func (s *InstrumentedStorage) EnqueueJobs(ctx context.Context, jobs []*types.Job) error {
	attrs := []attribute.KeyValue{attribute.Int("nb.job.count", len(jobs))}
	ctx, span, t := s.op(ctx, "EnqueueJobs", attrs...)
	err := s.inner.EnqueueJobs(ctx, jobs)
	s.done(ctx, span, t, err, attrs...)
	return err
}

func (s *InstrumentedStorage) ClaimNextJob(ctx context.Context, notebookID, workerID string, typeFilter []types.JobType) (*types.Job, error) {
	attrs := []attribute.KeyValue{
		notebookAttr(notebookID),
		attribute.String("nb.worker.id", workerID),
	}
	ctx, span, t := s.op(ctx, "ClaimNextJob", attrs...)
	v, err := s.inner.ClaimNextJob(ctx, notebookID, workerID, typeFilter)
	if err == nil && v != nil {
		span.SetAttributes(attribute.String("nb.job.type", string(v.Type)))
	}
	s.done(ctx, span, t, err, attrs...)
	return v, err
}

func (s *InstrumentedStorage) CompleteJob(ctx context.Context, notebookID, jobID, workerID string, result json.RawMessage) (*types.Job, error) {
	attrs := []attribute.KeyValue{
		notebookAttr(notebookID),
		attribute.String("nb.job.id", jobID),
		attribute.String("nb.worker.id", workerID),
	}
	ctx, span, t := s.op(ctx, "CompleteJob", attrs...)
	v, err := s.inner.CompleteJob(ctx, notebookID, jobID, workerID, result)
	s.done(ctx, span, t, err, attrs...)
	return v, err
}

func (s *InstrumentedStorage) FailJob(ctx context.Context, notebookID, jobID, workerID, errMsg string) (*types.Job, error) {
	attrs := []attribute.KeyValue{
		notebookAttr(notebookID),
		attribute.String("nb.job.id", jobID),
		attribute.String("nb.worker.id", workerID),
	}
	ctx, span, t := s.op(ctx, "FailJob", attrs...)
	v, err := s.inner.FailJob(ctx, notebookID, jobID, workerID, errMsg)
	s.done(ctx, span, t, err, attrs...)
	return v, err
}

func (s *InstrumentedStorage) ReclaimTimedOutJobs(ctx context.Context, notebookID string, now time.Time) (int, error) {
	attrs := []attribute.KeyValue{notebookAttr(notebookID)}
	ctx, span, t := s.op(ctx, "ReclaimTimedOutJobs", attrs...)
	n, err := s.inner.ReclaimTimedOutJobs(ctx, notebookID, now)
	if err == nil {
		span.SetAttributes(attribute.Int("nb.reclaimed.count", n))
	}
	s.done(ctx, span, t, err, attrs...)
	return n, err
}

func (s *InstrumentedStorage) GetJob(ctx context.Context, notebookID, jobID string) (*types.Job, error) {
	attrs := []attribute.KeyValue{
		notebookAttr(notebookID),
		attribute.String("nb.job.id", jobID),
	}
	ctx, span, t := s.op(ctx, "GetJob", attrs...)
	v, err := s.inner.GetJob(ctx, notebookID, jobID)
	s.done(ctx, span, t, err, attrs...)
	return v, err
}

func (s *InstrumentedStorage) ListJobs(ctx context.Context, notebookID string, f storage.JobFilter) ([]*types.Job, error) {
	attrs := []attribute.KeyValue{notebookAttr(notebookID)}
	ctx, span, t := s.op(ctx, "ListJobs", attrs...)
	v, err := s.inner.ListJobs(ctx, notebookID, f)
	if err == nil {
		span.SetAttributes(attribute.Int("nb.result.count", len(v)))
	}
	s.done(ctx, span, t, err, attrs...)
	return v, err
}

func (s *InstrumentedStorage) JobStats(ctx context.Context, notebookID string) (*types.JobStats, error) {
	attrs := []attribute.KeyValue{notebookAttr(notebookID)}
	ctx, span, t := s.op(ctx, "JobStats", attrs...)
	v, err := s.inner.JobStats(ctx, notebookID)
	s.done(ctx, span, t, err, attrs...)
	if err == nil && v != nil {
		// Record queue depths as gauge snapshots per (type, status).
		for jobType, counts := range v.Counts {
			typeAttr := attribute.String("nb.job.type", string(jobType))
			record := func(status string, n int64) {
				s.jobGauge.Record(ctx, n, metric.WithAttributes(
					typeAttr, attribute.String("status", status),
				))
			}
			record("pending", counts.Pending)
			record("in_progress", counts.InProgress)
			record("completed", counts.Completed)
			record("failed", counts.Failed)
		}
	}
	return v, err
}

func (s *InstrumentedStorage) RetryFailedJobs(ctx context.Context, notebookID string) (int, error) {
	attrs := []attribute.KeyValue{notebookAttr(notebookID)}
	ctx, span, t := s.op(ctx, "RetryFailedJobs", attrs...)
	n, err := s.inner.RetryFailedJobs(ctx, notebookID)
	if err == nil {
		span.SetAttributes(attribute.Int("nb.retried.count", n))
	}
	s.done(ctx, span, t, err, attrs...)
	return n, err
}

// ── Subscriptions and mirrored claims ────────────────────────────────────────

func (s *InstrumentedStorage) CreateSubscription(ctx context.Context, sub *types.Subscription) error {
	attrs := []attribute.KeyValue{
		notebookAttr(sub.SubscriberNotebook),
		attribute.String("nb.subscription.source", sub.SourceNotebook),
		attribute.String("nb.subscription.scope", string(sub.Scope)),
	}
	ctx, span, t := s.op(ctx, "CreateSubscription", attrs...)
	err := s.inner.CreateSubscription(ctx, sub)
	s.done(ctx, span, t, err, attrs...)
	return err
}

func (s *InstrumentedStorage) GetSubscription(ctx context.Context, id string) (*types.Subscription, error) {
	attrs := []attribute.KeyValue{attribute.String("nb.subscription.id", id)}
	ctx, span, t := s.op(ctx, "GetSubscription", attrs...)
	v, err := s.inner.GetSubscription(ctx, id)
	s.done(ctx, span, t, err, attrs...)
	return v, err
}

func (s *InstrumentedStorage) ListSubscriptions(ctx context.Context, subscriberNotebook string) ([]*types.Subscription, error) {
	attrs := []attribute.KeyValue{notebookAttr(subscriberNotebook)}
	ctx, span, t := s.op(ctx, "ListSubscriptions", attrs...)
	v, err := s.inner.ListSubscriptions(ctx, subscriberNotebook)
	s.done(ctx, span, t, err, attrs...)
	return v, err
}

func (s *InstrumentedStorage) ListSubscriptionEdges(ctx context.Context) ([]storage.SubscriptionEdge, error) {
	ctx, span, t := s.op(ctx, "ListSubscriptionEdges")
	v, err := s.inner.ListSubscriptionEdges(ctx)
	s.done(ctx, span, t, err)
	return v, err
}

func (s *InstrumentedStorage) DueSubscriptions(ctx context.Context, now time.Time) ([]*types.Subscription, error) {
	ctx, span, t := s.op(ctx, "DueSubscriptions")
	v, err := s.inner.DueSubscriptions(ctx, now)
	if err == nil {
		span.SetAttributes(attribute.Int("nb.result.count", len(v)))
	}
	s.done(ctx, span, t, err)
	return v, err
}

func (s *InstrumentedStorage) SetSubscriptionStatus(ctx context.Context, id string, status types.SyncStatus, syncErr string) error {
	attrs := []attribute.KeyValue{
		attribute.String("nb.subscription.id", id),
		attribute.String("nb.subscription.status", string(status)),
	}
	ctx, span, t := s.op(ctx, "SetSubscriptionStatus", attrs...)
	err := s.inner.SetSubscriptionStatus(ctx, id, status, syncErr)
	s.done(ctx, span, t, err, attrs...)
	return err
}

func (s *InstrumentedStorage) DeleteSubscription(ctx context.Context, id string) error {
	attrs := []attribute.KeyValue{attribute.String("nb.subscription.id", id)}
	ctx, span, t := s.op(ctx, "DeleteSubscription", attrs...)
	err := s.inner.DeleteSubscription(ctx, id)
	s.done(ctx, span, t, err, attrs...)
	return err
}

func (s *InstrumentedStorage) ApplyMirrorBatch(ctx context.Context, batch *storage.MirrorBatch) error {
	attrs := []attribute.KeyValue{
		attribute.String("nb.subscription.id", batch.SubscriptionID),
		attribute.Int("nb.upsert.count", len(batch.Upserts)),
		attribute.Int("nb.tombstone.count", len(batch.Tombstones)),
	}
	ctx, span, t := s.op(ctx, "ApplyMirrorBatch", attrs...)
	err := s.inner.ApplyMirrorBatch(ctx, batch)
	s.done(ctx, span, t, err, attrs...)
	return err
}

func (s *InstrumentedStorage) GetMirroredClaim(ctx context.Context, id string) (*types.MirroredClaim, error) {
	ctx, span, t := s.op(ctx, "GetMirroredClaim")
	v, err := s.inner.GetMirroredClaim(ctx, id)
	s.done(ctx, span, t, err)
	return v, err
}

func (s *InstrumentedStorage) ListMirroredClaims(ctx context.Context, notebookID string) ([]*types.MirroredClaim, error) {
	attrs := []attribute.KeyValue{notebookAttr(notebookID)}
	ctx, span, t := s.op(ctx, "ListMirroredClaims", attrs...)
	v, err := s.inner.ListMirroredClaims(ctx, notebookID)
	s.done(ctx, span, t, err, attrs...)
	return v, err
}

func (s *InstrumentedStorage) UpdateMirroredEmbedding(ctx context.Context, id string, embedding []float32) error {
	ctx, span, t := s.op(ctx, "UpdateMirroredEmbedding")
	err := s.inner.UpdateMirroredEmbedding(ctx, id, embedding)
	s.done(ctx, span, t, err)
	return err
}

// ── Reviews ──────────────────────────────────────────────────────────────────

func (s *InstrumentedStorage) CreateReview(ctx context.Context, rec *types.ReviewRecord) error {
	attrs := []attribute.KeyValue{
		notebookAttr(rec.NotebookID),
		entryAttr(rec.EntryID),
	}
	ctx, span, t := s.op(ctx, "CreateReview", attrs...)
	err := s.inner.CreateReview(ctx, rec)
	s.done(ctx, span, t, err, attrs...)
	return err
}

func (s *InstrumentedStorage) DecideReview(ctx context.Context, notebookID, entryID string, decidedBy types.AuthorID, approve bool, reason string) (*types.ReviewRecord, error) {
	attrs := []attribute.KeyValue{
		notebookAttr(notebookID),
		entryAttr(entryID),
		attribute.Bool("nb.review.approve", approve),
	}
	ctx, span, t := s.op(ctx, "DecideReview", attrs...)
	v, err := s.inner.DecideReview(ctx, notebookID, entryID, decidedBy, approve, reason)
	s.done(ctx, span, t, err, attrs...)
	return v, err
}

func (s *InstrumentedStorage) ListPendingReviews(ctx context.Context, notebookID string) ([]*types.ReviewRecord, error) {
	attrs := []attribute.KeyValue{notebookAttr(notebookID)}
	ctx, span, t := s.op(ctx, "ListPendingReviews", attrs...)
	v, err := s.inner.ListPendingReviews(ctx, notebookID)
	s.done(ctx, span, t, err, attrs...)
	return v, err
}

// ── Audit ────────────────────────────────────────────────────────────────────

func (s *InstrumentedStorage) AppendAudit(ctx context.Context, rec *types.AuditRecord) error {
	attrs := []attribute.KeyValue{
		notebookAttr(rec.NotebookID),
		attribute.String("nb.audit.action", rec.Action),
	}
	ctx, span, t := s.op(ctx, "AppendAudit", attrs...)
	err := s.inner.AppendAudit(ctx, rec)
	s.done(ctx, span, t, err, attrs...)
	return err
}

func (s *InstrumentedStorage) QueryAudit(ctx context.Context, notebookID string, f storage.AuditFilter) ([]*types.AuditRecord, error) {
	attrs := []attribute.KeyValue{notebookAttr(notebookID)}
	ctx, span, t := s.op(ctx, "QueryAudit", attrs...)
	v, err := s.inner.QueryAudit(ctx, notebookID, f)
	s.done(ctx, span, t, err, attrs...)
	return v, err
}

// ── Quotas ───────────────────────────────────────────────────────────────────

func (s *InstrumentedStorage) GetQuota(ctx context.Context, author types.AuthorID) (*types.Quota, error) {
	ctx, span, t := s.op(ctx, "GetQuota")
	v, err := s.inner.GetQuota(ctx, author)
	s.done(ctx, span, t, err)
	return v, err
}

func (s *InstrumentedStorage) SetQuota(ctx context.Context, q *types.Quota) error {
	ctx, span, t := s.op(ctx, "SetQuota")
	err := s.inner.SetQuota(ctx, q)
	s.done(ctx, span, t, err)
	return err
}

func (s *InstrumentedStorage) CountAuthorEntries(ctx context.Context, notebookID string, author types.AuthorID) (int64, error) {
	attrs := []attribute.KeyValue{notebookAttr(notebookID)}
	ctx, span, t := s.op(ctx, "CountAuthorEntries", attrs...)
	v, err := s.inner.CountAuthorEntries(ctx, notebookID, author)
	s.done(ctx, span, t, err, attrs...)
	return v, err
}

// ── Catalog aggregates ───────────────────────────────────────────────────────

func (s *InstrumentedStorage) TopicSummaries(ctx context.Context, notebookID string) ([]*storage.TopicSummary, error) {
	attrs := []attribute.KeyValue{notebookAttr(notebookID)}
	ctx, span, t := s.op(ctx, "TopicSummaries", attrs...)
	v, err := s.inner.TopicSummaries(ctx, notebookID)
	if err == nil {
		span.SetAttributes(attribute.Int("nb.result.count", len(v)))
	}
	s.done(ctx, span, t, err, attrs...)
	return v, err
}

func (s *InstrumentedStorage) NotebookEntropy(ctx context.Context, notebookID string) (float64, error) {
	attrs := []attribute.KeyValue{notebookAttr(notebookID)}
	ctx, span, t := s.op(ctx, "NotebookEntropy", attrs...)
	v, err := s.inner.NotebookEntropy(ctx, notebookID)
	s.done(ctx, span, t, err, attrs...)
	return v, err
}

// ── Transactions ─────────────────────────────────────────────────────────────

func (s *InstrumentedStorage) RunInTransaction(ctx context.Context, fn func(tx storage.Transaction) error) error {
	ctx, span, t := s.op(ctx, "RunInTransaction")
	err := s.inner.RunInTransaction(ctx, fn)
	s.done(ctx, span, t, err)
	return err
}

// ── Lifecycle ────────────────────────────────────────────────────────────────

func (s *InstrumentedStorage) Ping(ctx context.Context) error {
	ctx, span, t := s.op(ctx, "Ping")
	err := s.inner.Ping(ctx)
	s.done(ctx, span, t, err)
	return err
}

func (s *InstrumentedStorage) Close() error {
	return s.inner.Close()
}

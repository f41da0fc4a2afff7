package subscriptions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/thinktank-hq/notebook/internal/pipeline"
	"github.com/thinktank-hq/notebook/internal/storage"
	"github.com/thinktank-hq/notebook/internal/types"
)

// DefaultPollTick is how often the poller scans for due subscriptions.
// Each subscription still honors its own poll_interval_seconds.
const DefaultPollTick = 10 * time.Second

// syncBatchLimit caps how much of the source feed one sync consumes.
// A backlog larger than this drains across consecutive polls.
const syncBatchLimit = storage.MaxBrowseLimit

// Poller keeps mirrors in step with their sources. Each sweep syncs
// every due subscription: read the source change feed past the
// watermark, project settled distill-units into mirrored rows, commit
// rows and watermark as one batch, then seed EMBED_MIRRORED jobs.
//
// The watermark is a consumer cursor: it only moves past an entry once
// that entry is settled (review decided and claims distilled). An
// entry still waiting holds the cursor, and the sync picks up from the
// same spot next poll. Claims never land on an entry twice, so a row
// slipped past unsettled would be stale forever.
type Poller struct {
	store storage.Storage
	log   *slog.Logger
	tick  time.Duration
}

// NewPoller returns a poller sweeping every tick. A zero tick uses
// DefaultPollTick.
func NewPoller(store storage.Storage, tick time.Duration, log *slog.Logger) *Poller {
	if tick <= 0 {
		tick = DefaultPollTick
	}
	if log == nil {
		log = slog.Default()
	}
	return &Poller{store: store, log: log, tick: tick}
}

// Run sweeps until the context is canceled.
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.tick)
	defer ticker.Stop()

	p.log.Info("subscription poller started", "tick", p.tick)
	for {
		select {
		case <-ctx.Done():
			p.log.Info("subscription poller stopped")
			return ctx.Err()
		case <-ticker.C:
			if _, err := p.Sweep(ctx, time.Now().UTC()); err != nil {
				p.log.Warn("subscription sweep failed", "error", err)
			}
		}
	}
}

// Sweep syncs every subscription due at now and returns how many
// synced cleanly. A vanished source marks the subscription errored;
// any other failure leaves it active so the next sweep retries.
func (p *Poller) Sweep(ctx context.Context, now time.Time) (int, error) {
	due, err := p.store.DueSubscriptions(ctx, now)
	if err != nil {
		return 0, err
	}

	synced := 0
	for _, sub := range due {
		if ctx.Err() != nil {
			return synced, ctx.Err()
		}
		res, err := p.syncOne(ctx, sub, now)
		if err != nil {
			p.log.Warn("subscription sync failed",
				"subscription", sub.ID, "source", sub.SourceNotebook, "error", err)
			if errors.Is(err, storage.ErrNotFound) {
				if serr := p.store.SetSubscriptionStatus(ctx, sub.ID, types.SyncError, err.Error()); serr != nil {
					p.log.Warn("mark subscription errored", "subscription", sub.ID, "error", serr)
				}
			}
			continue
		}
		synced++
		if res.moved(sub.Watermark) {
			p.log.Info("subscription synced",
				"subscription", sub.ID, "source", sub.SourceNotebook,
				"upserts", len(res.batch.Upserts), "tombstones", len(res.batch.Tombstones),
				"watermark", res.batch.Watermark, "enqueued", res.enqueued)
		}
		if res.held != "" {
			p.log.Debug("subscription cursor held",
				"subscription", sub.ID, "source", sub.SourceNotebook, "entry", res.held)
		}
	}
	return synced, nil
}

type syncResult struct {
	batch    *storage.MirrorBatch
	enqueued int
	held     string // entry the cursor is parked behind
}

func (r *syncResult) moved(old int64) bool {
	return r.batch.Watermark != old || len(r.batch.Upserts) > 0 || len(r.batch.Tombstones) > 0
}

// syncOne runs a single subscription sync at now.
func (p *Poller) syncOne(ctx context.Context, sub *types.Subscription, now time.Time) (*syncResult, error) {
	if _, err := p.store.GetNotebook(ctx, sub.SourceNotebook); err != nil {
		return nil, fmt.Errorf("source notebook %s: %w", sub.SourceNotebook, err)
	}

	batch := &storage.MirrorBatch{SubscriptionID: sub.ID, Watermark: sub.Watermark, SyncedAt: now}
	res := &syncResult{batch: batch}

	// Catalog-scope subscriptions mirror no rows; the catalog reads
	// source summaries live. The empty batch still stamps last_sync_at.
	if sub.Scope == types.ScopeCatalog {
		return res, p.store.ApplyMirrorBatch(ctx, batch)
	}

	// Admin viewer: review-pending entries must show up so they hold
	// the cursor instead of slipping past it unseen.
	changes, current, err := p.store.Observe(ctx, sub.SourceNotebook, storage.ObserveFilter{
		Since:  sub.Watermark,
		Limit:  syncBatchLimit,
		Viewer: storage.Viewer{Admin: true},
	})
	if err != nil {
		return nil, err
	}

	cursor := sub.Watermark
scan:
	for _, ch := range changes {
		entry, err := p.store.GetEntry(ctx, sub.SourceNotebook, ch.EntryID)
		if errors.Is(err, storage.ErrNotFound) {
			batch.Tombstones = append(batch.Tombstones, ch.EntryID)
			cursor = ch.Sequence
			continue
		}
		if err != nil {
			return nil, err
		}

		switch entry.ReviewStatus {
		case types.ReviewPending:
			res.held = entry.ID
			break scan
		case types.ReviewRejected:
			cursor = ch.Sequence
			continue
		}

		if !entry.IsFragment() {
			fragments, err := p.store.GetFragments(ctx, sub.SourceNotebook, entry.ID)
			if err != nil {
				return nil, err
			}
			if len(fragments) > 0 {
				// Container: its fragments carry the claims and arrive
				// in the feed under their own sequences.
				if sub.Scope == types.ScopeEntries && topicMatches(sub.TopicFilter, entry.Topic) {
					batch.EntryUpserts = append(batch.EntryUpserts, mirrorEntry(sub, entry, ch.Sequence))
				}
				cursor = ch.Sequence
				continue
			}
		}

		if entry.ClaimsStatus == types.ClaimsPending {
			res.held = entry.ID
			break scan
		}

		cursor = ch.Sequence
		if !topicMatches(sub.TopicFilter, entry.Topic) {
			continue
		}
		if len(entry.Claims) > 0 {
			batch.Upserts = append(batch.Upserts, mirrorClaim(sub, entry, ch.Sequence))
		}
		if sub.Scope == types.ScopeEntries && !entry.IsFragment() {
			batch.EntryUpserts = append(batch.EntryUpserts, mirrorEntry(sub, entry, ch.Sequence))
		}
	}

	// Feed exhausted with nothing held: jump to the notebook's current
	// sequence so quiet notebooks do not re-scan old ground.
	if res.held == "" && len(changes) < syncBatchLimit && current > cursor {
		cursor = current
	}
	batch.Watermark = cursor

	// Re-upserted rows keep their original id, so resolve ids before
	// the commit; the embed jobs below must name the real rows.
	existing, err := p.store.ListMirroredClaims(ctx, sub.SubscriberNotebook)
	if err != nil {
		return nil, err
	}
	byEntry := make(map[string]*types.MirroredClaim)
	for _, m := range existing {
		if m.SubscriptionID == sub.ID {
			byEntry[m.SourceEntryID] = m
		}
	}
	for _, m := range batch.Upserts {
		if prev, ok := byEntry[m.SourceEntryID]; ok {
			m.ID = prev.ID
		} else {
			m.ID = uuid.NewString()
		}
	}

	if err := p.store.ApplyMirrorBatch(ctx, batch); err != nil {
		return nil, err
	}

	jobs := make([]*types.Job, 0, len(batch.Upserts))
	for _, m := range batch.Upserts {
		jobs = append(jobs, pipeline.NewEmbedMirroredJob(sub.SubscriberNotebook, pipeline.EmbedMirroredPayload{
			MirroredClaimID: m.ID,
			Claims:          m.Claims,
		}))
	}
	jobs = append(jobs, healJobs(sub, existing, batch, now)...)
	if len(jobs) > 0 {
		if err := p.store.EnqueueJobs(ctx, jobs); err != nil {
			return nil, err
		}
	}
	res.enqueued = len(jobs)
	return res, nil
}

// healJobs re-seeds EMBED_MIRRORED for rows still missing a vector a
// full poll interval after their last touch. This covers a crash
// between batch commit and job enqueue; the embed write is idempotent,
// so the occasional duplicate job is harmless.
func healJobs(sub *types.Subscription, existing []*types.MirroredClaim, batch *storage.MirrorBatch, now time.Time) []*types.Job {
	inBatch := make(map[string]struct{}, len(batch.Upserts))
	for _, m := range batch.Upserts {
		inBatch[m.SourceEntryID] = struct{}{}
	}

	grace := time.Duration(sub.PollIntervalSeconds) * time.Second
	var jobs []*types.Job
	for _, m := range existing {
		if m.SubscriptionID != sub.ID || m.Tombstoned || len(m.Embedding) > 0 || len(m.Claims) == 0 {
			continue
		}
		if _, ok := inBatch[m.SourceEntryID]; ok {
			continue
		}
		touched := m.MirroredAt
		if m.UpdatedAt != nil {
			touched = *m.UpdatedAt
		}
		if now.Sub(touched) < grace {
			continue
		}
		jobs = append(jobs, pipeline.NewEmbedMirroredJob(sub.SubscriberNotebook, pipeline.EmbedMirroredPayload{
			MirroredClaimID: m.ID,
			Claims:          m.Claims,
		}))
	}
	return jobs
}

func mirrorClaim(sub *types.Subscription, e *types.Entry, seq int64) *types.MirroredClaim {
	return &types.MirroredClaim{
		SubscriptionID: sub.ID,
		SourceEntryID:  e.ID,
		SourceNotebook: sub.SourceNotebook,
		NotebookID:     sub.SubscriberNotebook,
		Claims:         e.Claims,
		Topic:          e.Topic,
		DiscountFactor: sub.DiscountFactor,
		SourceSequence: seq,
	}
}

func mirrorEntry(sub *types.Subscription, e *types.Entry, seq int64) *types.MirroredEntry {
	return &types.MirroredEntry{
		SubscriptionID: sub.ID,
		SourceEntryID:  e.ID,
		SourceNotebook: sub.SourceNotebook,
		NotebookID:     sub.SubscriberNotebook,
		Content:        e.Content,
		ContentType:    e.ContentType,
		Topic:          e.Topic,
		Author:         e.Author,
		SourceSequence: seq,
	}
}

func topicMatches(prefix, topic string) bool {
	return prefix == "" || strings.HasPrefix(topic, prefix)
}

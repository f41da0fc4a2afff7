// Package review settles the entry review queue. Writes by untrusted
// authors park at the gate: invisible to peers, excluded from the
// pipeline. An admin decision either admits the entry (seeding its
// distill jobs and announcing it to observers) or leaves it inert.
package review

import (
	"context"
	"fmt"

	"github.com/thinktank-hq/notebook/internal/access"
	"github.com/thinktank-hq/notebook/internal/debug"
	"github.com/thinktank-hq/notebook/internal/pipeline"
	"github.com/thinktank-hq/notebook/internal/storage"
	"github.com/thinktank-hq/notebook/internal/types"
	"github.com/thinktank-hq/notebook/internal/writer"
)

// Notifier receives the deferred announcements for approved entries.
type Notifier interface {
	Publish(notebookID string, ch storage.Change)
}

// Service decides reviews on behalf of notebook admins.
type Service struct {
	store     storage.Storage
	gate      *access.Gate
	notify    Notifier
	maxClaims int
}

// NewService builds the review service. maxClaims caps the distill
// jobs seeded on approval; zero takes the writer's default.
func NewService(store storage.Storage, gate *access.Gate, maxClaims int) *Service {
	if maxClaims <= 0 {
		maxClaims = writer.DefaultMaxClaims
	}
	return &Service{store: store, gate: gate, maxClaims: maxClaims}
}

// SetNotifier registers the post-approval change publisher.
func (s *Service) SetNotifier(n Notifier) { s.notify = n }

// Pending returns the open review queue, oldest first. Admins only.
func (s *Service) Pending(ctx context.Context, notebookID string, reviewer types.AuthorID) ([]*types.ReviewRecord, error) {
	if _, err := s.gate.Require(ctx, notebookID, reviewer, types.TierAdmin); err != nil {
		return nil, err
	}
	return s.store.ListPendingReviews(ctx, notebookID)
}

// Approve admits a pending entry. The decision, the entry's distill
// seeds and the audit record commit in one transaction; the entry (and
// any fragments) only then becomes visible and is announced. Deciding
// an already-decided review returns storage.ErrConflict.
func (s *Service) Approve(ctx context.Context, notebookID, entryID string, reviewer types.AuthorID, reason string) (*types.ReviewRecord, error) {
	if _, err := s.gate.Require(ctx, notebookID, reviewer, types.TierAdmin); err != nil {
		return nil, err
	}

	var (
		rec      *types.ReviewRecord
		entry    *types.Entry
		family   []*types.Entry
		enqueued int
	)
	err := s.store.RunInTransaction(ctx, func(tx storage.Transaction) error {
		r, err := tx.DecideReview(ctx, notebookID, entryID, reviewer, true, reason)
		if err != nil {
			return err
		}
		rec = r

		entry, err = tx.GetEntry(ctx, notebookID, entryID)
		if err != nil {
			return err
		}
		units, context, err := distillUnits(ctx, tx, entry)
		if err != nil {
			return err
		}
		for _, u := range units {
			job := pipeline.NewDistillJob(notebookID, pipeline.DistillPayload{
				EntryID:       u.ID,
				Content:       string(u.Content),
				MaxClaims:     s.maxClaims,
				ContextClaims: context,
			})
			if err := tx.EnqueueJob(ctx, job); err != nil {
				return err
			}
		}
		enqueued = len(units)

		family, err = tx.GetFragments(ctx, notebookID, entry.ID)
		if err != nil {
			return err
		}
		family = append([]*types.Entry{entry}, family...)

		return tx.AppendAudit(ctx, &types.AuditRecord{
			NotebookID: notebookID,
			Author:     reviewer,
			Action:     "review.approve",
			TargetType: "entry",
			TargetID:   entryID,
			Detail:     map[string]any{"reason": reason, "distill_jobs": enqueued},
		})
	})
	if err != nil {
		return nil, err
	}

	debug.Logf("review: %s approved %s in %s (%d distill jobs)",
		reviewer.Short(), entryID, notebookID, enqueued)
	s.announce(family)
	return rec, nil
}

// Reject settles a pending review without admitting the entry. The row
// stays in storage but never enters the pipeline.
func (s *Service) Reject(ctx context.Context, notebookID, entryID string, reviewer types.AuthorID, reason string) (*types.ReviewRecord, error) {
	if _, err := s.gate.Require(ctx, notebookID, reviewer, types.TierAdmin); err != nil {
		return nil, err
	}

	var rec *types.ReviewRecord
	err := s.store.RunInTransaction(ctx, func(tx storage.Transaction) error {
		r, err := tx.DecideReview(ctx, notebookID, entryID, reviewer, false, reason)
		if err != nil {
			return err
		}
		rec = r
		return tx.AppendAudit(ctx, &types.AuditRecord{
			NotebookID: notebookID,
			Author:     reviewer,
			Action:     "review.reject",
			TargetType: "entry",
			TargetID:   entryID,
			Detail:     map[string]any{"reason": reason},
		})
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// distillUnits resolves which rows distill on approval: the fragments
// when the entry was split, otherwise the entry itself. An approved
// explicit fragment carries its siblings' settled claims as context,
// the same contract the writer uses for trusted fragment appends.
func distillUnits(ctx context.Context, tx storage.Transaction, entry *types.Entry) ([]*types.Entry, []types.Claim, error) {
	if entry.IsFragment() {
		siblings, err := tx.GetFragments(ctx, entry.NotebookID, *entry.FragmentOf)
		if err != nil {
			return nil, nil, fmt.Errorf("load siblings: %w", err)
		}
		var context []types.Claim
		for _, sib := range siblings {
			if sib.ClaimsStatus == types.ClaimsDistilled || sib.ClaimsStatus == types.ClaimsVerified {
				context = append(context, sib.Claims...)
			}
		}
		return []*types.Entry{entry}, context, nil
	}

	fragments, err := tx.GetFragments(ctx, entry.NotebookID, entry.ID)
	if err != nil {
		return nil, nil, err
	}
	if len(fragments) > 0 {
		return fragments, nil, nil
	}
	return []*types.Entry{entry}, nil, nil
}

// announce publishes newly visible rows to observers, mirroring the
// writer's post-commit announcement for trusted writes.
func (s *Service) announce(family []*types.Entry) {
	if s.notify == nil {
		return
	}
	for _, e := range family {
		op := storage.OpWrite
		if e.RevisionOf != nil {
			op = storage.OpRevise
		}
		s.notify.Publish(e.NotebookID, storage.Change{
			EntryID:   e.ID,
			Operation: op,
			Author:    e.Author,
			Topic:     e.Topic,
			Sequence:  e.Sequence,
			Created:   e.Created,
		})
	}
}

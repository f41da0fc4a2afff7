// Package writer implements the entry write path: admission through the
// access gate, author quotas, media-type normalization, source cleanup,
// fragmentation, atomic persistence, and seeding of the claim pipeline.
package writer

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/thinktank-hq/notebook/internal/access"
	"github.com/thinktank-hq/notebook/internal/debug"
	"github.com/thinktank-hq/notebook/internal/idgen"
	"github.com/thinktank-hq/notebook/internal/pipeline"
	"github.com/thinktank-hq/notebook/internal/storage"
	"github.com/thinktank-hq/notebook/internal/types"
)

// ErrQuotaExceeded is returned when a write would push the author past a
// configured quota. The HTTP layer maps it to 429.
var ErrQuotaExceeded = errors.New("quota exceeded")

// DefaultMaxClaims caps how many claims one distill job may return.
const DefaultMaxClaims = 12

// Config tunes the write path. Zero values take the defaults.
type Config struct {
	TokenBudget int // fragment budget in approximate tokens
	MaxClaims   int // claim cap handed to distill workers
}

// Notifier receives committed changes for observer fan-out. Entries
// pending review are not announced until approved.
type Notifier interface {
	Publish(notebookID string, ch storage.Change)
}

// WriteRequest is one entry submission.
type WriteRequest struct {
	NotebookID  string
	Author      types.AuthorID
	Content     []byte
	ContentType string
	Topic       string
	References  []string
	RevisionOf  string
	// FragmentOf appends an explicit fragment to an existing parent.
	// FragmentIndex, when set, must equal the parent's current fragment
	// count; nil lets the writer assign the next index.
	FragmentOf    string
	FragmentIndex *int
	Signature     []byte
}

// WriteResult reports what one submission produced.
type WriteResult struct {
	Entry      *types.Entry        `json:"entry"`
	Fragments  []*types.Entry      `json:"fragments,omitempty"`
	Review     *types.ReviewRecord `json:"review,omitempty"`
	RulesFired []string            `json:"cleanup_rules,omitempty"`
}

// Writer is the entry write service.
type Writer struct {
	store   storage.Storage
	gate    *access.Gate
	cleaner *Cleaner
	notify  Notifier
	cfg     Config
}

// New builds a Writer with the built-in cleanup rules.
func New(store storage.Storage, gate *access.Gate, cfg Config) (*Writer, error) {
	cleaner, err := NewCleaner()
	if err != nil {
		return nil, err
	}
	if cfg.TokenBudget <= 0 {
		cfg.TokenBudget = DefaultTokenBudget
	}
	if cfg.MaxClaims <= 0 {
		cfg.MaxClaims = DefaultMaxClaims
	}
	return &Writer{store: store, gate: gate, cleaner: cleaner, cfg: cfg}, nil
}

// SetNotifier registers the post-commit change publisher.
func (w *Writer) SetNotifier(n Notifier) { w.notify = n }

// Write validates, normalizes and persists one entry. Oversized content
// is split into fragment children under the stored parent. Untrusted
// authors get a pending review record instead of pipeline jobs.
func (w *Writer) Write(ctx context.Context, req *WriteRequest) (*WriteResult, error) {
	d, err := w.gate.Require(ctx, req.NotebookID, req.Author, types.TierReadWrite)
	if err != nil {
		return nil, err
	}
	quota, err := w.store.GetQuota(ctx, req.Author)
	if err != nil {
		return nil, err
	}
	p, err := w.prepare(ctx, d, req, quota)
	if err != nil {
		return nil, err
	}
	if err := w.checkEntryCount(ctx, quota, req.NotebookID, req.Author, len(p.family())); err != nil {
		return nil, err
	}

	err = w.store.RunInTransaction(ctx, func(tx storage.Transaction) error {
		if err := tx.EnsureAuthor(ctx, req.Author, nil); err != nil {
			return err
		}
		return w.persist(ctx, tx, p)
	})
	if err != nil {
		return nil, err
	}

	debug.Logf("writer: %s wrote %s seq %d to %s (%d fragments)",
		req.Author.Short(), p.parent.ID, p.parent.Sequence, req.NotebookID, len(p.fragments))
	w.announce(p)
	return p.result(), nil
}

// Revise writes a new entry pointing back at entryID. The revision does
// not inherit the original's claims; it enters the pipeline afresh.
func (w *Writer) Revise(ctx context.Context, entryID string, req *WriteRequest) (*WriteResult, error) {
	r := *req
	r.RevisionOf = entryID
	return w.Write(ctx, &r)
}

// WriteBatch persists items atomically: every entry lands in one
// contiguous sequence block or none do. Items inherit the batch's
// notebook and author.
func (w *Writer) WriteBatch(ctx context.Context, notebookID string, author types.AuthorID, items []*WriteRequest) ([]*WriteResult, error) {
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: empty batch", storage.ErrInvalid)
	}
	d, err := w.gate.Require(ctx, notebookID, author, types.TierReadWrite)
	if err != nil {
		return nil, err
	}
	quota, err := w.store.GetQuota(ctx, author)
	if err != nil {
		return nil, err
	}

	preps := make([]*prepared, 0, len(items))
	rows := 0
	for i, item := range items {
		r := *item
		r.NotebookID = notebookID
		r.Author = author
		p, err := w.prepare(ctx, d, &r, quota)
		if err != nil {
			return nil, fmt.Errorf("batch item %d: %w", i, err)
		}
		preps = append(preps, p)
		rows += len(p.family())
	}
	if err := w.checkEntryCount(ctx, quota, notebookID, author, rows); err != nil {
		return nil, err
	}

	err = w.store.RunInTransaction(ctx, func(tx storage.Transaction) error {
		if err := tx.EnsureAuthor(ctx, author, nil); err != nil {
			return err
		}
		for i, p := range preps {
			if err := w.persist(ctx, tx, p); err != nil {
				return fmt.Errorf("batch item %d: %w", i, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	debug.Logf("writer: %s wrote batch of %d (%d rows) to %s",
		author.Short(), len(preps), rows, notebookID)
	results := make([]*WriteResult, 0, len(preps))
	for _, p := range preps {
		w.announce(p)
		results = append(results, p.result())
	}
	return results, nil
}

// prepared is one submission after validation, normalization, cleanup
// and splitting, ready to persist.
type prepared struct {
	req       *WriteRequest
	parent    *types.Entry
	fragments []*types.Entry
	review    *types.ReviewRecord // nil for trusted authors
	rules     []string
	context   []types.Claim // distilled sibling claims for explicit fragments
}

// family returns the rows to insert, parent first so the fragment
// foreign key resolves.
func (p *prepared) family() []*types.Entry {
	return append([]*types.Entry{p.parent}, p.fragments...)
}

func (p *prepared) result() *WriteResult {
	return &WriteResult{Entry: p.parent, Fragments: p.fragments, Review: p.review, RulesFired: p.rules}
}

func (w *Writer) prepare(ctx context.Context, d *access.Decision, req *WriteRequest, quota *types.Quota) (*prepared, error) {
	if len(bytes.TrimSpace(req.Content)) == 0 {
		return nil, fmt.Errorf("%w: content is required", storage.ErrInvalid)
	}
	if quota != nil && quota.MaxEntrySizeBytes > 0 && int64(len(req.Content)) > quota.MaxEntrySizeBytes {
		return nil, fmt.Errorf("entry of %d bytes exceeds the %d byte limit: %w",
			len(req.Content), quota.MaxEntrySizeBytes, ErrQuotaExceeded)
	}
	if req.FragmentIndex != nil && req.FragmentOf == "" {
		return nil, fmt.Errorf("%w: fragment_index without fragment_of", storage.ErrInvalid)
	}

	norm, err := normalize(req.Content, req.ContentType)
	if err != nil {
		return nil, err
	}
	content, rules := w.cleaner.Clean(string(norm.Content))
	if content == "" {
		return nil, fmt.Errorf("%w: no content left after cleanup", storage.ErrInvalid)
	}

	var pieces []string
	if req.FragmentOf == "" {
		pieces = splitContent(content, w.cfg.TokenBudget)
	} else if len(content) > w.cfg.TokenBudget*charsPerToken {
		// Fragments do not nest, so an explicit fragment must fit.
		return nil, fmt.Errorf("%w: fragment exceeds the %d token budget", storage.ErrInvalid, w.cfg.TokenBudget)
	}

	review := types.ReviewApproved
	if !d.Trusted {
		review = types.ReviewPending
	}

	p := &prepared{req: req, rules: rules}
	p.parent = &types.Entry{
		ID:                  idgen.NewID(),
		NotebookID:          req.NotebookID,
		Content:             []byte(content),
		ContentType:         norm.ContentType,
		OriginalContentType: norm.OriginalType,
		Topic:               req.Topic,
		Author:              req.Author,
		Signature:           req.Signature,
		References:          req.References,
		ReviewStatus:        review,
	}
	if req.RevisionOf != "" {
		rev := req.RevisionOf
		p.parent.RevisionOf = &rev
	}
	if req.FragmentOf != "" {
		parentID := req.FragmentOf
		p.parent.FragmentOf = &parentID
		p.parent.FragmentIndex = req.FragmentIndex // contiguity settled in the transaction
		p.context, err = w.siblingClaims(ctx, req.NotebookID, parentID)
		if err != nil {
			return nil, err
		}
	}

	for i, piece := range pieces {
		idx := i
		p.fragments = append(p.fragments, &types.Entry{
			ID:            idgen.NewID(),
			NotebookID:    req.NotebookID,
			Content:       []byte(piece),
			ContentType:   norm.ContentType,
			Topic:         req.Topic,
			Author:        req.Author,
			FragmentOf:    &p.parent.ID,
			FragmentIndex: &idx,
			ReviewStatus:  review,
		})
	}

	if review == types.ReviewPending {
		p.review = &types.ReviewRecord{
			EntryID:     p.parent.ID,
			NotebookID:  req.NotebookID,
			SubmittedBy: req.Author,
			Status:      types.ReviewPending,
		}
	}
	return p, nil
}

// persist runs the in-transaction half of a write: fragment contiguity,
// inserts, reference resolution, the review record or seed jobs, and
// the audit trail.
func (w *Writer) persist(ctx context.Context, tx storage.Transaction, p *prepared) error {
	req := p.req
	if req.FragmentOf != "" {
		parent, err := tx.GetEntry(ctx, req.NotebookID, req.FragmentOf)
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("%w: fragment_of %s not found", storage.ErrInvalid, req.FragmentOf)
		}
		if err != nil {
			return err
		}
		if parent.IsFragment() {
			return fmt.Errorf("%w: fragment_of targets a fragment", storage.ErrInvalid)
		}
		n, err := tx.CountFragments(ctx, req.NotebookID, req.FragmentOf)
		if err != nil {
			return err
		}
		if p.parent.FragmentIndex == nil {
			idx := n
			p.parent.FragmentIndex = &idx
		} else if *p.parent.FragmentIndex != n {
			return fmt.Errorf("%w: fragment_index must be %d, got %d", storage.ErrInvalid, n, *p.parent.FragmentIndex)
		}
	}

	if err := tx.InsertEntries(ctx, req.NotebookID, p.family()); err != nil {
		return err
	}

	for _, ref := range req.References {
		if _, err := tx.GetEntry(ctx, req.NotebookID, ref); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return fmt.Errorf("%w: reference %s not found", storage.ErrInvalid, ref)
			}
			return err
		}
	}
	if req.RevisionOf != "" {
		if _, err := tx.GetEntry(ctx, req.NotebookID, req.RevisionOf); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return fmt.Errorf("%w: revision_of %s not found", storage.ErrInvalid, req.RevisionOf)
			}
			return err
		}
	}

	if p.review != nil {
		if err := tx.CreateReview(ctx, p.review); err != nil {
			return err
		}
	} else {
		for _, job := range w.seedJobs(p) {
			if err := tx.EnqueueJob(ctx, job); err != nil {
				return err
			}
		}
	}

	return tx.AppendAudit(ctx, p.auditRecord())
}

// seedJobs builds the pipeline seeds: one distill per fragment when the
// content was split, otherwise one for the entry itself.
func (w *Writer) seedJobs(p *prepared) []*types.Job {
	units := p.fragments
	if len(units) == 0 {
		units = []*types.Entry{p.parent}
	}
	jobs := make([]*types.Job, 0, len(units))
	for _, e := range units {
		jobs = append(jobs, pipeline.NewDistillJob(e.NotebookID, pipeline.DistillPayload{
			EntryID:       e.ID,
			Content:       string(e.Content),
			MaxClaims:     w.cfg.MaxClaims,
			ContextClaims: p.context,
		}))
	}
	return jobs
}

// siblingClaims gathers already-distilled claims from a parent's other
// fragments so a new fragment's distill adds to the collection instead
// of restating it.
func (w *Writer) siblingClaims(ctx context.Context, notebookID, parentID string) ([]types.Claim, error) {
	sibs, err := w.store.GetFragments(ctx, notebookID, parentID)
	if err != nil {
		return nil, err
	}
	var claims []types.Claim
	for _, s := range sibs {
		if s.ClaimsStatus == types.ClaimsDistilled || s.ClaimsStatus == types.ClaimsVerified {
			claims = append(claims, s.Claims...)
		}
	}
	return claims, nil
}

func (w *Writer) checkEntryCount(ctx context.Context, quota *types.Quota, notebookID string, author types.AuthorID, rows int) error {
	if quota == nil || quota.MaxEntriesPerNotebook <= 0 {
		return nil
	}
	n, err := w.store.CountAuthorEntries(ctx, notebookID, author)
	if err != nil {
		return err
	}
	if n+int64(rows) > quota.MaxEntriesPerNotebook {
		return fmt.Errorf("author holds %d of %d entries in notebook: %w",
			n, quota.MaxEntriesPerNotebook, ErrQuotaExceeded)
	}
	return nil
}

func (p *prepared) auditRecord() *types.AuditRecord {
	detail := map[string]any{
		"sequence":     p.parent.Sequence,
		"content_type": p.parent.ContentType,
	}
	if len(p.fragments) > 0 {
		detail["fragments"] = len(p.fragments)
	}
	if len(p.rules) > 0 {
		detail["cleanup_rules"] = p.rules
	}
	if p.parent.RevisionOf != nil {
		detail["revision_of"] = *p.parent.RevisionOf
	}
	if p.review != nil {
		detail["review"] = "pending"
	}
	return &types.AuditRecord{
		NotebookID: p.parent.NotebookID,
		Author:     p.parent.Author,
		Action:     "entry.write",
		TargetType: "entry",
		TargetID:   p.parent.ID,
		Detail:     detail,
	}
}

// announce publishes the committed rows to observers. Pending entries
// stay silent until a review approves them.
func (w *Writer) announce(p *prepared) {
	if w.notify == nil || p.parent.ReviewStatus != types.ReviewApproved {
		return
	}
	for _, e := range p.family() {
		op := storage.OpWrite
		if e.RevisionOf != nil {
			op = storage.OpRevise
		}
		w.notify.Publish(e.NotebookID, storage.Change{
			EntryID:   e.ID,
			Operation: op,
			Author:    e.Author,
			Topic:     e.Topic,
			Sequence:  e.Sequence,
			Created:   e.Created,
		})
	}
}

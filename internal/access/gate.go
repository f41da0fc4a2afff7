// Package access is the single admission gate for notebook-scoped
// operations. Every read, write, job claim, and admin action resolves
// through it before touching storage.
//
// Two rules apply. Tier: the caller's grant (owner holds implicit
// ADMIN) must cover the operation's required tier. Dominance: when a
// clearance label is in play, it must dominate the notebook's
// classification label. A caller without even EXISTENCE is told the
// notebook does not exist; a caller with EXISTENCE but not enough tier
// or clearance is told forbidden. Every denial lands in the audit log.
package access

import (
	"context"
	"errors"
	"fmt"

	"github.com/thinktank-hq/notebook/internal/debug"
	"github.com/thinktank-hq/notebook/internal/storage"
	"github.com/thinktank-hq/notebook/internal/types"
)

// ErrForbidden is returned when the caller may know the notebook exists
// but holds insufficient tier or clearance for the operation.
var ErrForbidden = errors.New("forbidden")

// Decision is what the gate learned while admitting a caller. Handlers
// reuse it instead of re-fetching the notebook or grant.
type Decision struct {
	Notebook *types.Notebook
	Author   types.AuthorID
	Tier     types.Tier
	IsOwner  bool

	// Trusted authors skip the review gate on write. The owner is
	// always trusted in their own notebook.
	Trusted bool
}

// Viewer returns the visibility context storage queries filter by.
func (d *Decision) Viewer() storage.Viewer {
	return storage.Viewer{Author: d.Author, Admin: d.Tier.Covers(types.TierAdmin)}
}

// Gate resolves grants against one storage backend.
type Gate struct {
	store storage.Storage
}

// NewGate returns a gate backed by store.
func NewGate(store storage.Storage) *Gate {
	return &Gate{store: store}
}

// Require admits the caller when their effective tier covers required.
// A missing notebook and a caller without EXISTENCE both come back as
// storage.ErrNotFound so probing cannot distinguish them.
func (g *Gate) Require(ctx context.Context, notebookID string, author types.AuthorID, required types.Tier) (*Decision, error) {
	d, err := g.resolve(ctx, notebookID, author)
	if err != nil {
		return nil, err
	}
	if !d.Tier.Covers(required) {
		return nil, g.deny(ctx, d, required, "tier")
	}
	return d, nil
}

// RequireRead admits a reader. When the caller asserts a clearance
// label it must dominate the notebook's classification.
func (g *Gate) RequireRead(ctx context.Context, notebookID string, author types.AuthorID, clearance *types.Label) (*Decision, error) {
	d, err := g.Require(ctx, notebookID, author, types.TierRead)
	if err != nil {
		return nil, err
	}
	if clearance != nil && !clearance.Dominates(d.Notebook.Classification) {
		return nil, g.deny(ctx, d, types.TierRead, "clearance")
	}
	return d, nil
}

// RequireClaim admits a worker onto the job queue. Jobs carry their
// notebook's classification, so an agent label, when provided, must
// dominate it.
func (g *Gate) RequireClaim(ctx context.Context, notebookID string, author types.AuthorID, agentLabel *types.Label) (*Decision, error) {
	d, err := g.Require(ctx, notebookID, author, types.TierReadWrite)
	if err != nil {
		return nil, err
	}
	if agentLabel != nil && !agentLabel.Dominates(d.Notebook.Classification) {
		return nil, g.deny(ctx, d, types.TierReadWrite, "clearance")
	}
	return d, nil
}

// RequireOwner admits only the notebook's owner. Granted admins are
// forbidden; strangers see not-found.
func (g *Gate) RequireOwner(ctx context.Context, notebookID string, author types.AuthorID) (*Decision, error) {
	d, err := g.resolve(ctx, notebookID, author)
	if err != nil {
		return nil, err
	}
	if !d.IsOwner {
		return nil, g.deny(ctx, d, types.TierAdmin, "owner")
	}
	return d, nil
}

// resolve loads the notebook and the caller's effective tier. Callers
// holding no grant at all are cut off here with not-found.
func (g *Gate) resolve(ctx context.Context, notebookID string, author types.AuthorID) (*Decision, error) {
	nb, err := g.store.GetNotebook(ctx, notebookID)
	if err != nil {
		return nil, err
	}
	d := &Decision{Notebook: nb, Author: author}
	if nb.OwnerAuthor == author {
		d.Tier = types.TierAdmin
		d.IsOwner = true
		d.Trusted = true
		return d, nil
	}

	grant, err := g.store.GetGrant(ctx, notebookID, author)
	if errors.Is(err, storage.ErrNotFound) {
		g.audit(ctx, d, "", "no grant")
		return nil, fmt.Errorf("notebook %s: %w", notebookID, storage.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	d.Tier = grant.Tier
	d.Trusted = grant.Trusted
	return d, nil
}

// deny audits the refusal and returns ErrForbidden. The caller already
// holds EXISTENCE at this point, so revealing the notebook is fine.
func (g *Gate) deny(ctx context.Context, d *Decision, required types.Tier, reason string) error {
	g.audit(ctx, d, required, reason)
	return fmt.Errorf("%s on notebook %s requires %s: %w", reason, d.Notebook.ID, required, ErrForbidden)
}

func (g *Gate) audit(ctx context.Context, d *Decision, required types.Tier, reason string) {
	detail := map[string]any{"reason": reason}
	if required != "" {
		detail["required_tier"] = string(required)
	}
	if d.Tier != "" {
		detail["effective_tier"] = string(d.Tier)
	}
	rec := &types.AuditRecord{
		NotebookID: d.Notebook.ID,
		Author:     d.Author,
		Action:     "access.denied",
		TargetType: "notebook",
		TargetID:   d.Notebook.ID,
		Detail:     detail,
	}
	if err := g.store.AppendAudit(ctx, rec); err != nil {
		debug.Logf("access: audit denial for %s on %s: %v", d.Author.Short(), d.Notebook.ID, err)
	}
}

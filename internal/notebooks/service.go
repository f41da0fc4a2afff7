// Package notebooks manages notebook lifecycle and sharing: create,
// list, grant and revoke access, delete. Entry traffic lives in the
// writer and the read paths; this service only owns the containers.
package notebooks

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/thinktank-hq/notebook/internal/access"
	"github.com/thinktank-hq/notebook/internal/debug"
	"github.com/thinktank-hq/notebook/internal/storage"
	"github.com/thinktank-hq/notebook/internal/types"
)

// DefaultReviewThreshold flags an entry for review when its max
// comparison friction reaches this value. A var so the daemon can apply
// the configured default once at startup.
var DefaultReviewThreshold = 0.75

// Service owns notebook lifecycle operations.
type Service struct {
	store storage.Storage
	gate  *access.Gate
}

func NewService(store storage.Storage, gate *access.Gate) *Service {
	return &Service{store: store, gate: gate}
}

// CreateRequest describes a new notebook. Zero classification means
// PUBLIC with no compartments; nil ReviewThreshold takes the default.
type CreateRequest struct {
	Name            string
	Classification  types.Label
	ReviewThreshold *float64
}

// Create persists a new notebook owned by owner.
func (s *Service) Create(ctx context.Context, owner types.AuthorID, req *CreateRequest) (*types.Notebook, error) {
	label := req.Classification
	if label.Level == "" {
		label.Level = types.LevelPublic
	}
	label.Compartments = types.NormalizeCompartments(label.Compartments)

	threshold := DefaultReviewThreshold
	if req.ReviewThreshold != nil {
		threshold = *req.ReviewThreshold
	}
	nb := &types.Notebook{
		ID:              uuid.NewString(),
		Name:            strings.TrimSpace(req.Name),
		OwnerAuthor:     owner,
		Classification:  label,
		ReviewThreshold: threshold,
	}
	if err := nb.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", storage.ErrInvalid, err)
	}
	if err := s.store.CreateNotebook(ctx, nb); err != nil {
		return nil, err
	}
	s.audit(ctx, &types.AuditRecord{
		NotebookID: nb.ID,
		Author:     owner,
		Action:     "notebook.create",
		TargetType: "notebook",
		TargetID:   nb.ID,
		Detail:     map[string]any{"name": nb.Name, "classification": nb.Classification.String()},
	})
	return nb, nil
}

// List returns the notebooks the viewer owns or holds a grant on.
func (s *Service) List(ctx context.Context, viewer types.AuthorID) ([]*storage.NotebookInfo, error) {
	return s.store.ListNotebooks(ctx, viewer)
}

// Share grants author a tier on the notebook, replacing any prior
// grant. ADMIN required; the owner's own access is implicit and cannot
// be granted or revoked.
func (s *Service) Share(ctx context.Context, notebookID string, caller types.AuthorID, grant *types.AccessGrant) (*types.AccessGrant, error) {
	d, err := s.gate.Require(ctx, notebookID, caller, types.TierAdmin)
	if err != nil {
		return nil, err
	}
	if err := grant.Author.Validate(); err != nil {
		return nil, fmt.Errorf("%w: author: %v", storage.ErrInvalid, err)
	}
	if !grant.Tier.IsValid() {
		return nil, fmt.Errorf("%w: unknown tier %q", storage.ErrInvalid, grant.Tier)
	}
	if grant.Author == d.Notebook.OwnerAuthor {
		return nil, fmt.Errorf("%w: the owner's access is implicit", storage.ErrInvalid)
	}
	grant.NotebookID = notebookID
	grant.GrantedBy = caller
	if err := s.store.UpsertGrant(ctx, grant); err != nil {
		return nil, err
	}
	s.audit(ctx, &types.AuditRecord{
		NotebookID: notebookID,
		Author:     caller,
		Action:     "notebook.share",
		TargetType: "author",
		TargetID:   string(grant.Author),
		Detail:     map[string]any{"tier": string(grant.Tier), "trusted": grant.Trusted},
	})
	return grant, nil
}

// Unshare removes author's grant. Revoking an absent grant succeeds.
func (s *Service) Unshare(ctx context.Context, notebookID string, caller, author types.AuthorID) error {
	d, err := s.gate.Require(ctx, notebookID, caller, types.TierAdmin)
	if err != nil {
		return err
	}
	if author == d.Notebook.OwnerAuthor {
		return fmt.Errorf("%w: the owner's access is implicit", storage.ErrInvalid)
	}
	if err := s.store.RemoveGrant(ctx, notebookID, author); err != nil {
		return err
	}
	s.audit(ctx, &types.AuditRecord{
		NotebookID: notebookID,
		Author:     caller,
		Action:     "notebook.unshare",
		TargetType: "author",
		TargetID:   string(author),
	})
	return nil
}

// Grants lists the explicit grants on the notebook. ADMIN required.
func (s *Service) Grants(ctx context.Context, notebookID string, caller types.AuthorID) ([]*types.AccessGrant, error) {
	if _, err := s.gate.Require(ctx, notebookID, caller, types.TierAdmin); err != nil {
		return nil, err
	}
	return s.store.ListGrants(ctx, notebookID)
}

// Delete removes the notebook and everything scoped inside it. Owner
// only; granted admins are refused. Mirrors held by subscribers survive
// as tombstones.
func (s *Service) Delete(ctx context.Context, notebookID string, caller types.AuthorID) error {
	if _, err := s.gate.RequireOwner(ctx, notebookID, caller); err != nil {
		return err
	}
	if err := s.store.DeleteNotebook(ctx, notebookID); err != nil {
		return err
	}
	// The audit row outlives the notebook; the log has no FK on purpose.
	s.audit(ctx, &types.AuditRecord{
		NotebookID: notebookID,
		Author:     caller,
		Action:     "notebook.delete",
		TargetType: "notebook",
		TargetID:   notebookID,
	})
	return nil
}

func (s *Service) audit(ctx context.Context, rec *types.AuditRecord) {
	if err := s.store.AppendAudit(ctx, rec); err != nil {
		debug.Logf("notebooks: audit %s on %s: %v", rec.Action, rec.NotebookID, err)
	}
}

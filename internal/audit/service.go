// Package audit exposes a notebook's append-only action log to its
// administrators. Records are written by the services that act (gate
// denials, entry writes, review decisions, job reclaims, subscription
// changes); this package only reads them back.
package audit

import (
	"context"

	"github.com/thinktank-hq/notebook/internal/access"
	"github.com/thinktank-hq/notebook/internal/storage"
	"github.com/thinktank-hq/notebook/internal/types"
)

// Service answers audit queries for callers holding ADMIN.
type Service struct {
	store storage.Storage
	gate  *access.Gate
}

func NewService(store storage.Storage, gate *access.Gate) *Service {
	return &Service{store: store, gate: gate}
}

// Query returns matching records newest first. The storage layer clamps
// the limit; callers without ADMIN are refused before any rows are read.
func (s *Service) Query(ctx context.Context, notebookID string, viewer types.AuthorID, f storage.AuditFilter) ([]*types.AuditRecord, error) {
	if _, err := s.gate.Require(ctx, notebookID, viewer, types.TierAdmin); err != nil {
		return nil, err
	}
	return s.store.QueryAudit(ctx, notebookID, f)
}

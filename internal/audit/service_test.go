package audit

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/thinktank-hq/notebook/internal/access"
	"github.com/thinktank-hq/notebook/internal/storage"
	"github.com/thinktank-hq/notebook/internal/storage/sqlite"
	"github.com/thinktank-hq/notebook/internal/types"
)

func setupAudit(t *testing.T) (*Service, storage.Storage, func()) {
	t.Helper()
	store, err := sqlite.New(context.Background(), filepath.Join(t.TempDir(), "audit.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	return NewService(store, access.NewGate(store)), store, func() { _ = store.Close() }
}

func author(n byte) types.AuthorID {
	hex := "0123456789abcdef"
	return types.AuthorID(strings.Repeat(string(hex[n%16]), 64))
}

func TestQueryScopedToAdmins(t *testing.T) {
	ctx := context.Background()
	svc, store, cleanup := setupAudit(t)
	defer cleanup()
	owner, reader := author(1), author(2)
	nb := &types.Notebook{ID: "nb", Name: "audit", OwnerAuthor: owner,
		Classification: types.Label{Level: types.LevelPublic}, ReviewThreshold: 0.75}
	if err := store.CreateNotebook(ctx, nb); err != nil {
		t.Fatalf("CreateNotebook: %v", err)
	}
	err := store.UpsertGrant(ctx, &types.AccessGrant{NotebookID: "nb", Author: reader, Tier: types.TierRead})
	if err != nil {
		t.Fatalf("UpsertGrant: %v", err)
	}

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	seed := []struct {
		at     time.Time
		action string
	}{
		{base, "entry.write"},
		{base.Add(time.Minute), "entry.write"},
		{base.Add(2 * time.Minute), "review.approve"},
	}
	for _, s := range seed {
		rec := &types.AuditRecord{Time: s.at, NotebookID: "nb", Author: owner, Action: s.action}
		if err := store.AppendAudit(ctx, rec); err != nil {
			t.Fatalf("AppendAudit: %v", err)
		}
	}

	recs, err := svc.Query(ctx, "nb", owner, storage.AuditFilter{})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(recs) != 3 || recs[0].Action != "review.approve" {
		t.Errorf("query = %d records, first %q", len(recs), recs[0].Action)
	}

	recs, err = svc.Query(ctx, "nb", owner, storage.AuditFilter{Action: "entry.write", Since: base.Add(30 * time.Second)})
	if err != nil {
		t.Fatalf("Query filtered: %v", err)
	}
	if len(recs) != 1 || !recs[0].Time.Equal(base.Add(time.Minute)) {
		t.Errorf("filtered query = %d records", len(recs))
	}

	if _, err := svc.Query(ctx, "nb", reader, storage.AuditFilter{}); !errors.Is(err, access.ErrForbidden) {
		t.Fatalf("reader query: err = %v, want ErrForbidden", err)
	}
	if _, err := svc.Query(ctx, "nb", author(3), storage.AuditFilter{}); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("stranger query: err = %v, want ErrNotFound", err)
	}
}

func TestQueryRecordsOwnDenials(t *testing.T) {
	ctx := context.Background()
	svc, store, cleanup := setupAudit(t)
	defer cleanup()
	owner, reader := author(1), author(2)
	nb := &types.Notebook{ID: "nb", Name: "audit", OwnerAuthor: owner,
		Classification: types.Label{Level: types.LevelPublic}, ReviewThreshold: 0.75}
	if err := store.CreateNotebook(ctx, nb); err != nil {
		t.Fatalf("CreateNotebook: %v", err)
	}
	err := store.UpsertGrant(ctx, &types.AccessGrant{NotebookID: "nb", Author: reader, Tier: types.TierRead})
	if err != nil {
		t.Fatalf("UpsertGrant: %v", err)
	}

	// The refused query itself lands in the log.
	if _, err := svc.Query(ctx, "nb", reader, storage.AuditFilter{}); !errors.Is(err, access.ErrForbidden) {
		t.Fatalf("reader query: err = %v", err)
	}
	recs, err := svc.Query(ctx, "nb", owner, storage.AuditFilter{Action: "access.denied"})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(recs) != 1 || recs[0].Author != reader {
		t.Fatalf("denial records = %d", len(recs))
	}
}

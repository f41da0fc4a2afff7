package mysql

import (
	"context"
	"database/sql"
	"time"

	"github.com/thinktank-hq/notebook/internal/storage"
	"github.com/thinktank-hq/notebook/internal/types"
)

// CreateNotebook persists a new notebook, registering the owner author
// row if absent. The sequence counter starts at zero.
func (s *Store) CreateNotebook(ctx context.Context, nb *types.Notebook) error {
	if err := nb.Validate(); err != nil {
		return wrapDBError("validate notebook", storage.ErrInvalid)
	}
	if nb.Created.IsZero() {
		nb.Created = time.Now().UTC()
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := ensureAuthor(ctx, tx, nb.OwnerAuthor, nil); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO notebooks (id, name, owner_author, created, current_sequence, classification_level, compartments, review_threshold)
			VALUES (?, ?, ?, ?, 0, ?, ?, ?)
		`, nb.ID, nb.Name, nb.OwnerAuthor, nb.Created, nb.Classification.Level,
			marshalJSON(nb.Classification.Compartments, "[]"), nb.ReviewThreshold)
		return wrapDBError("insert notebook", err)
	})
}

func getNotebook(ctx context.Context, q querier, id string) (*types.Notebook, error) {
	var nb types.Notebook
	var compartments string
	err := q.QueryRowContext(ctx, `
		SELECT id, name, owner_author, created, current_sequence, classification_level, compartments, review_threshold
		FROM notebooks WHERE id = ?
	`, id).Scan(&nb.ID, &nb.Name, &nb.OwnerAuthor, &nb.Created, &nb.CurrentSequence,
		&nb.Classification.Level, &compartments, &nb.ReviewThreshold)
	if err != nil {
		return nil, wrapDBError("get notebook", err)
	}
	unmarshalJSON(compartments, &nb.Classification.Compartments)
	return &nb, nil
}

// GetNotebook loads one notebook by id.
func (s *Store) GetNotebook(ctx context.Context, id string) (*types.Notebook, error) {
	return getNotebook(ctx, s.db, id)
}

// ListNotebooks returns the notebooks visible to viewer (owned or
// granted, any tier) with per-viewer stats.
func (s *Store) ListNotebooks(ctx context.Context, viewer types.AuthorID) ([]*storage.NotebookInfo, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT n.id, n.name, n.owner_author, n.created, n.current_sequence,
		       n.classification_level, n.compartments, n.review_threshold,
		       COALESCE(g.tier, ''),
		       (SELECT COUNT(*) FROM entries e WHERE e.notebook_id = n.id),
		       (SELECT COUNT(DISTINCT a.author_id) FROM notebook_access a
		        WHERE a.notebook_id = n.id AND a.author_id <> n.owner_author)
		FROM notebooks n
		LEFT JOIN notebook_access g ON g.notebook_id = n.id AND g.author_id = ?
		WHERE n.owner_author = ? OR g.author_id IS NOT NULL
		ORDER BY n.created, n.id
	`, viewer, viewer)
	if err != nil {
		return nil, wrapDBError("list notebooks", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*storage.NotebookInfo
	for rows.Next() {
		var info storage.NotebookInfo
		var compartments, tier string
		var grantCount int
		if err := rows.Scan(&info.ID, &info.Name, &info.OwnerAuthor, &info.Created, &info.CurrentSequence,
			&info.Classification.Level, &compartments, &info.ReviewThreshold,
			&tier, &info.TotalEntries, &grantCount); err != nil {
			return nil, wrapDBError("scan notebook", err)
		}
		unmarshalJSON(compartments, &info.Classification.Compartments)
		info.IsOwner = info.OwnerAuthor == viewer
		if info.IsOwner {
			info.Permissions = types.TierAdmin
		} else {
			info.Permissions = types.Tier(tier)
		}
		info.LastActivitySequence = info.CurrentSequence
		info.ParticipantCount = grantCount + 1 // grants plus the owner
		out = append(out, &info)
	}
	return out, wrapDBError("list notebooks", rows.Err())
}

// DeleteNotebook removes a notebook and everything scoped inside it.
// Mirrors held by other notebooks survive as tombstones; subscriptions
// pointing at the deleted source flip to error.
func (s *Store) DeleteNotebook(ctx context.Context, id string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		now := time.Now().UTC()
		if _, err := tx.ExecContext(ctx,
			`UPDATE mirrored_claims SET tombstoned = 1, updated_at = ? WHERE source_notebook = ?`, now, id); err != nil {
			return wrapDBError("tombstone mirrored claims", err)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE mirrored_entries SET tombstoned = 1 WHERE source_notebook = ?`, id); err != nil {
			return wrapDBError("tombstone mirrored entries", err)
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE notebook_subscriptions SET sync_status = 'error', sync_error = 'source notebook deleted'
			WHERE source_notebook = ?
		`, id); err != nil {
			return wrapDBError("mark subscriptions errored", err)
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM notebooks WHERE id = ?`, id)
		if err != nil {
			return wrapDBError("delete notebook", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return storage.ErrNotFound
		}
		return nil
	})
}

func ensureAuthor(ctx context.Context, q querier, author types.AuthorID, publicKey []byte) error {
	if err := author.Validate(); err != nil {
		return storage.ErrInvalid
	}
	_, err := q.ExecContext(ctx, `
		INSERT INTO authors (id, public_key) VALUES (?, ?) AS new
		ON DUPLICATE KEY UPDATE public_key = COALESCE(new.public_key, authors.public_key)
	`, author, publicKey)
	return wrapDBError("ensure author", err)
}

// EnsureAuthor registers an author row, keeping any known public key.
func (s *Store) EnsureAuthor(ctx context.Context, author types.AuthorID, publicKey []byte) error {
	return ensureAuthor(ctx, s.db, author, publicKey)
}

// UpsertGrant creates or replaces the (notebook, author) access grant.
func (s *Store) UpsertGrant(ctx context.Context, grant *types.AccessGrant) error {
	if !grant.Tier.IsValid() {
		return storage.ErrInvalid
	}
	if grant.Granted.IsZero() {
		grant.Granted = time.Now().UTC()
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := ensureAuthor(ctx, tx, grant.Author, nil); err != nil {
			return err
		}
		trusted := 0
		if grant.Trusted {
			trusted = 1
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO notebook_access (notebook_id, author_id, tier, trusted, granted, granted_by)
			VALUES (?, ?, ?, ?, ?, ?) AS new
			ON DUPLICATE KEY UPDATE
				tier = new.tier, trusted = new.trusted,
				granted = new.granted, granted_by = new.granted_by
		`, grant.NotebookID, grant.Author, grant.Tier, trusted, grant.Granted, grant.GrantedBy)
		return wrapDBError("upsert grant", err)
	})
}

// RemoveGrant deletes the grant; missing rows are not an error.
func (s *Store) RemoveGrant(ctx context.Context, notebookID string, author types.AuthorID) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM notebook_access WHERE notebook_id = ? AND author_id = ?`, notebookID, author)
	return wrapDBError("remove grant", err)
}

func scanGrant(row *sql.Row) (*types.AccessGrant, error) {
	var g types.AccessGrant
	var trusted int
	err := row.Scan(&g.NotebookID, &g.Author, &g.Tier, &trusted, &g.Granted, &g.GrantedBy)
	if err != nil {
		return nil, wrapDBError("get grant", err)
	}
	g.Trusted = trusted != 0
	return &g, nil
}

// GetGrant loads the explicit grant for (notebook, author).
// The owner's implicit ADMIN is resolved by the access gate, not here.
func (s *Store) GetGrant(ctx context.Context, notebookID string, author types.AuthorID) (*types.AccessGrant, error) {
	return scanGrant(s.db.QueryRowContext(ctx, `
		SELECT notebook_id, author_id, tier, trusted, granted, granted_by
		FROM notebook_access WHERE notebook_id = ? AND author_id = ?
	`, notebookID, author))
}

// ListGrants returns all explicit grants on a notebook.
func (s *Store) ListGrants(ctx context.Context, notebookID string) ([]*types.AccessGrant, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT notebook_id, author_id, tier, trusted, granted, granted_by
		FROM notebook_access WHERE notebook_id = ? ORDER BY granted, author_id
	`, notebookID)
	if err != nil {
		return nil, wrapDBError("list grants", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*types.AccessGrant
	for rows.Next() {
		var g types.AccessGrant
		var trusted int
		if err := rows.Scan(&g.NotebookID, &g.Author, &g.Tier, &trusted, &g.Granted, &g.GrantedBy); err != nil {
			return nil, wrapDBError("scan grant", err)
		}
		g.Trusted = trusted != 0
		out = append(out, &g)
	}
	return out, wrapDBError("list grants", rows.Err())
}

package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/thinktank-hq/notebook/internal/storage"
	"github.com/thinktank-hq/notebook/internal/types"
)

const subscriptionColumns = `id, subscriber_notebook, source_notebook, scope, topic_filter,
	discount_factor, poll_interval_seconds, watermark, sync_status, sync_error,
	mirrored_count, approved_by, created, last_sync_at`

func scanSubscription(row rowScanner) (*types.Subscription, error) {
	var sub types.Subscription
	var lastSync sql.NullTime
	err := row.Scan(&sub.ID, &sub.SubscriberNotebook, &sub.SourceNotebook, &sub.Scope, &sub.TopicFilter,
		&sub.DiscountFactor, &sub.PollIntervalSeconds, &sub.Watermark, &sub.SyncStatus, &sub.SyncError,
		&sub.MirroredCount, &sub.ApprovedBy, &sub.Created, &lastSync)
	if err != nil {
		return nil, err
	}
	if lastSync.Valid {
		t := lastSync.Time
		sub.LastSyncAt = &t
	}
	return &sub, nil
}

// CreateSubscription persists a subscription. The (subscriber, source)
// pair is unique; duplicates surface as ErrConflict. Cycle checks run in
// the subscription manager before this is called.
func (s *Store) CreateSubscription(ctx context.Context, sub *types.Subscription) error {
	if sub.ID == "" {
		sub.ID = uuid.NewString()
	}
	sub.SetDefaults()
	if sub.Created.IsZero() {
		sub.Created = time.Now().UTC()
	}
	if err := sub.Validate(); err != nil {
		return fmt.Errorf("%w: %v", storage.ErrInvalid, err)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notebook_subscriptions (id, subscriber_notebook, source_notebook, scope, topic_filter,
			discount_factor, poll_interval_seconds, watermark, sync_status, sync_error,
			mirrored_count, approved_by, created)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, '', 0, ?, ?)
	`, sub.ID, sub.SubscriberNotebook, sub.SourceNotebook, sub.Scope, sub.TopicFilter,
		sub.DiscountFactor, sub.PollIntervalSeconds, sub.Watermark, sub.SyncStatus,
		sub.ApprovedBy, sub.Created)
	return wrapDBError("create subscription", err)
}

// GetSubscription loads one subscription by id.
func (s *Store) GetSubscription(ctx context.Context, id string) (*types.Subscription, error) {
	sub, err := scanSubscription(s.db.QueryRowContext(ctx,
		`SELECT `+subscriptionColumns+` FROM notebook_subscriptions WHERE id = ?`, id))
	if err != nil {
		return nil, wrapDBError("get subscription", err)
	}
	return sub, nil
}

// ListSubscriptions returns a notebook's subscriptions, or every
// subscription when subscriberNotebook is empty.
func (s *Store) ListSubscriptions(ctx context.Context, subscriberNotebook string) ([]*types.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM notebook_subscriptions`
	var args []any
	if subscriberNotebook != "" {
		query += ` WHERE subscriber_notebook = ?`
		args = append(args, subscriberNotebook)
	}
	query += ` ORDER BY created, id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapDBError("list subscriptions", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*types.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, wrapDBError("scan subscription", err)
		}
		out = append(out, sub)
	}
	return out, wrapDBError("list subscriptions", rows.Err())
}

// ListSubscriptionEdges returns the full subscription graph as
// (subscriber, source) arcs for the cycle check.
func (s *Store) ListSubscriptionEdges(ctx context.Context) ([]storage.SubscriptionEdge, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT subscriber_notebook, source_notebook FROM notebook_subscriptions`)
	if err != nil {
		return nil, wrapDBError("list subscription edges", err)
	}
	defer func() { _ = rows.Close() }()

	var edges []storage.SubscriptionEdge
	for rows.Next() {
		var e storage.SubscriptionEdge
		if err := rows.Scan(&e.Subscriber, &e.Source); err != nil {
			return nil, wrapDBError("scan subscription edge", err)
		}
		edges = append(edges, e)
	}
	return edges, wrapDBError("list subscription edges", rows.Err())
}

// DueSubscriptions returns active subscriptions whose poll interval has
// elapsed at now, never-synced ones first.
func (s *Store) DueSubscriptions(ctx context.Context, now time.Time) ([]*types.Subscription, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+subscriptionColumns+` FROM notebook_subscriptions
		WHERE sync_status = 'active'
		  AND (last_sync_at IS NULL
		       OR datetime(last_sync_at, '+' || poll_interval_seconds || ' seconds') <= datetime(?))
		ORDER BY last_sync_at IS NOT NULL, last_sync_at, id
	`, now)
	if err != nil {
		return nil, wrapDBError("due subscriptions", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*types.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, wrapDBError("scan subscription", err)
		}
		out = append(out, sub)
	}
	return out, wrapDBError("due subscriptions", rows.Err())
}

// SetSubscriptionStatus updates the poller health state.
func (s *Store) SetSubscriptionStatus(ctx context.Context, id string, status types.SyncStatus, syncErr string) error {
	if !status.IsValid() {
		return storage.ErrInvalid
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE notebook_subscriptions SET sync_status = ?, sync_error = ? WHERE id = ?`,
		status, syncErr, id)
	if err != nil {
		return wrapDBError("set subscription status", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// DeleteSubscription removes a subscription; its mirrored rows cascade.
func (s *Store) DeleteSubscription(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM notebook_subscriptions WHERE id = ?`, id)
	if err != nil {
		return wrapDBError("delete subscription", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// ApplyMirrorBatch lands one poller sync atomically. The watermark only
// advances when every upsert and tombstone in the batch has committed,
// so a crashed sync is retried from the old watermark. Re-upserting an
// already-mirrored source entry refreshes the claims and clears the
// stale embedding for re-embedding.
func (s *Store) ApplyMirrorBatch(ctx context.Context, batch *storage.MirrorBatch) error {
	if batch.SubscriptionID == "" {
		return storage.ErrInvalid
	}
	syncedAt := batch.SyncedAt
	if syncedAt.IsZero() {
		syncedAt = time.Now().UTC()
	}
	return s.withTx(ctx, func(conn *sql.Conn) error {
		for _, m := range batch.Upserts {
			if m.ID == "" {
				m.ID = uuid.NewString()
			}
			if m.MirroredAt.IsZero() {
				m.MirroredAt = syncedAt
			}
			_, err := conn.ExecContext(ctx, `
				INSERT INTO mirrored_claims (id, subscription_id, source_entry_id, source_notebook,
					notebook_id, claims, topic, embedding, discount_factor, source_sequence,
					tombstoned, mirrored_at, updated_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?)
				ON CONFLICT(subscription_id, source_entry_id) DO UPDATE SET
					claims = excluded.claims, topic = excluded.topic, embedding = NULL,
					discount_factor = excluded.discount_factor, source_sequence = excluded.source_sequence,
					tombstoned = 0, updated_at = excluded.updated_at
			`, m.ID, batch.SubscriptionID, m.SourceEntryID, m.SourceNotebook,
				m.NotebookID, marshalJSON(m.Claims, "[]"), m.Topic, encodeEmbedding(m.Embedding),
				m.DiscountFactor, m.SourceSequence, m.MirroredAt, syncedAt)
			if err != nil {
				return wrapDBError("upsert mirrored claim", err)
			}
		}

		for _, m := range batch.EntryUpserts {
			if m.ID == "" {
				m.ID = uuid.NewString()
			}
			if m.MirroredAt.IsZero() {
				m.MirroredAt = syncedAt
			}
			_, err := conn.ExecContext(ctx, `
				INSERT INTO mirrored_entries (id, subscription_id, source_entry_id, source_notebook,
					notebook_id, content, content_type, topic, author, source_sequence, tombstoned, mirrored_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?)
				ON CONFLICT(subscription_id, source_entry_id) DO UPDATE SET
					content = excluded.content, content_type = excluded.content_type,
					topic = excluded.topic, source_sequence = excluded.source_sequence, tombstoned = 0
			`, m.ID, batch.SubscriptionID, m.SourceEntryID, m.SourceNotebook,
				m.NotebookID, m.Content, m.ContentType, m.Topic, m.Author, m.SourceSequence, m.MirroredAt)
			if err != nil {
				return wrapDBError("upsert mirrored entry", err)
			}
		}

		if len(batch.Tombstones) > 0 {
			placeholders := make([]string, len(batch.Tombstones))
			args := []any{syncedAt, batch.SubscriptionID}
			for i, id := range batch.Tombstones {
				placeholders[i] = "?"
				args = append(args, id)
			}
			in := strings.Join(placeholders, ", ")
			if _, err := conn.ExecContext(ctx, `
				UPDATE mirrored_claims SET tombstoned = 1, updated_at = ?
				WHERE subscription_id = ? AND source_entry_id IN (`+in+`)`, args...); err != nil {
				return wrapDBError("tombstone mirrored claims", err)
			}
			args2 := append([]any{batch.SubscriptionID}, args[2:]...)
			if _, err := conn.ExecContext(ctx, `
				UPDATE mirrored_entries SET tombstoned = 1
				WHERE subscription_id = ? AND source_entry_id IN (`+in+`)`, args2...); err != nil {
				return wrapDBError("tombstone mirrored entries", err)
			}
		}

		res, err := conn.ExecContext(ctx, `
			UPDATE notebook_subscriptions SET watermark = ?, last_sync_at = ?,
				sync_status = 'active', sync_error = '',
				mirrored_count = (SELECT COUNT(*) FROM mirrored_claims
				                  WHERE subscription_id = ? AND tombstoned = 0)
			WHERE id = ?
		`, batch.Watermark, syncedAt, batch.SubscriptionID, batch.SubscriptionID)
		if err != nil {
			return wrapDBError("advance watermark", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return storage.ErrNotFound
		}
		return nil
	})
}

const mirroredClaimColumns = `id, subscription_id, source_entry_id, source_notebook, notebook_id,
	claims, topic, embedding, discount_factor, source_sequence, tombstoned, mirrored_at, updated_at`

func scanMirroredClaim(row rowScanner) (*types.MirroredClaim, error) {
	var m types.MirroredClaim
	var claims string
	var embedding []byte
	var tombstoned int
	var updatedAt sql.NullTime
	err := row.Scan(&m.ID, &m.SubscriptionID, &m.SourceEntryID, &m.SourceNotebook, &m.NotebookID,
		&claims, &m.Topic, &embedding, &m.DiscountFactor, &m.SourceSequence, &tombstoned,
		&m.MirroredAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	unmarshalJSON(claims, &m.Claims)
	m.Embedding = decodeEmbedding(embedding)
	m.Tombstoned = tombstoned != 0
	if updatedAt.Valid {
		t := updatedAt.Time
		m.UpdatedAt = &t
	}
	return &m, nil
}

// GetMirroredClaim loads one mirrored claim by id.
func (s *Store) GetMirroredClaim(ctx context.Context, id string) (*types.MirroredClaim, error) {
	m, err := scanMirroredClaim(s.db.QueryRowContext(ctx,
		`SELECT `+mirroredClaimColumns+` FROM mirrored_claims WHERE id = ?`, id))
	if err != nil {
		return nil, wrapDBError("get mirrored claim", err)
	}
	return m, nil
}

// ListMirroredClaims returns every mirror held by a notebook, tombstoned
// rows included; callers filter on the flag.
func (s *Store) ListMirroredClaims(ctx context.Context, notebookID string) ([]*types.MirroredClaim, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+mirroredClaimColumns+` FROM mirrored_claims
		WHERE notebook_id = ? ORDER BY mirrored_at, id
	`, notebookID)
	if err != nil {
		return nil, wrapDBError("list mirrored claims", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*types.MirroredClaim
	for rows.Next() {
		m, err := scanMirroredClaim(rows)
		if err != nil {
			return nil, wrapDBError("scan mirrored claim", err)
		}
		out = append(out, m)
	}
	return out, wrapDBError("list mirrored claims", rows.Err())
}

// UpdateMirroredEmbedding stores the discounted embedding for a mirror.
func (s *Store) UpdateMirroredEmbedding(ctx context.Context, id string, embedding []float32) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE mirrored_claims SET embedding = ?, updated_at = ? WHERE id = ?`,
		encodeEmbedding(embedding), time.Now().UTC(), id)
	if err != nil {
		return wrapDBError("update mirrored embedding", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

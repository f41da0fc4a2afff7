package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/thinktank-hq/notebook/internal/storage"
	"github.com/thinktank-hq/notebook/internal/types"
)

// Verify txStore implements storage.Transaction at compile time.
var _ storage.Transaction = (*txStore)(nil)

// querier is satisfied by *sql.DB and *sql.Conn, letting the data access
// helpers run both standalone and inside an explicit transaction.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	PrepareContext(ctx context.Context, query string) (*sql.Stmt, error)
}

// txStore implements storage.Transaction on a dedicated connection with
// an open BEGIN IMMEDIATE transaction.
type txStore struct {
	conn *sql.Conn
}

// beginImmediateWithRetry starts an IMMEDIATE transaction, retrying on
// SQLITE_BUSY with exponential backoff. IMMEDIATE takes the write lock
// up front, so lock contention surfaces here rather than mid-transaction.
func beginImmediateWithRetry(ctx context.Context, conn *sql.Conn, maxAttempts int, initial time.Duration) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = initial
	policy := backoff.WithContext(backoff.WithMaxRetries(bo, uint64(maxAttempts-1)), ctx)
	return backoff.Retry(func() error {
		_, err := conn.ExecContext(ctx, "BEGIN IMMEDIATE")
		if err == nil {
			return nil
		}
		if isBusy(err) {
			return err
		}
		return backoff.Permanent(err)
	}, policy)
}

// withTx runs fn on a dedicated connection inside BEGIN IMMEDIATE,
// committing on nil return and rolling back on error or panic.
func (s *Store) withTx(ctx context.Context, fn func(conn *sql.Conn) error) error {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer func() { _ = conn.Close() }()

	if err := beginImmediateWithRetry(ctx, conn, 5, 10*time.Millisecond); err != nil {
		return wrapDBError("begin transaction", err)
	}

	committed := false
	defer func() {
		if !committed {
			// Background context so rollback completes even when ctx is done.
			_, _ = conn.ExecContext(context.Background(), "ROLLBACK")
		}
	}()

	if err := fn(conn); err != nil {
		return err
	}

	if _, err := conn.ExecContext(ctx, "COMMIT"); err != nil {
		return wrapDBError("commit transaction", err)
	}
	committed = true
	return nil
}

// RunInTransaction executes fn within one database transaction. On error
// or panic the transaction is rolled back; on nil return it commits.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx storage.Transaction) error) error {
	return s.withTx(ctx, func(conn *sql.Conn) error {
		return fn(&txStore{conn: conn})
	})
}

func (t *txStore) InsertEntries(ctx context.Context, notebookID string, entries []*types.Entry) error {
	return insertEntries(ctx, t.conn, notebookID, entries)
}

func (t *txStore) GetEntry(ctx context.Context, notebookID, entryID string) (*types.Entry, error) {
	return getEntry(ctx, t.conn, notebookID, entryID)
}

func (t *txStore) GetFragments(ctx context.Context, notebookID, parentID string) ([]*types.Entry, error) {
	return getFragments(ctx, t.conn, notebookID, parentID)
}

func (t *txStore) CountFragments(ctx context.Context, notebookID, parentID string) (int, error) {
	return countFragments(ctx, t.conn, notebookID, parentID)
}

func (t *txStore) EnsureAuthor(ctx context.Context, author types.AuthorID, publicKey []byte) error {
	return ensureAuthor(ctx, t.conn, author, publicKey)
}

func (t *txStore) CreateReview(ctx context.Context, rec *types.ReviewRecord) error {
	return createReview(ctx, t.conn, rec)
}

func (t *txStore) DecideReview(ctx context.Context, notebookID, entryID string, decidedBy types.AuthorID, approve bool, reason string) (*types.ReviewRecord, error) {
	return decideReview(ctx, t.conn, notebookID, entryID, decidedBy, approve, reason)
}

func (t *txStore) EnqueueJob(ctx context.Context, job *types.Job) error {
	return enqueueJob(ctx, t.conn, job)
}

func (t *txStore) AppendAudit(ctx context.Context, rec *types.AuditRecord) error {
	return appendAudit(ctx, t.conn, rec)
}

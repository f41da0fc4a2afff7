package mysql

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/thinktank-hq/notebook/internal/storage"
	"github.com/thinktank-hq/notebook/internal/types"
)

// Verify txStore implements storage.Transaction at compile time.
var _ storage.Transaction = (*txStore)(nil)

// querier is satisfied by *sql.DB and *sql.Tx, letting the data access
// helpers run both standalone and inside an explicit transaction.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	PrepareContext(ctx context.Context, query string) (*sql.Stmt, error)
}

// txStore implements storage.Transaction on an open *sql.Tx.
type txStore struct {
	tx *sql.Tx
}

const txAttempts = 5

// withTx runs fn inside one transaction, committing on nil return and
// rolling back on error or panic. Deadlocked transactions are rolled
// back by InnoDB and retried whole with exponential backoff, so fn must
// tolerate re-execution; everything it changed ran inside the aborted
// transaction.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 10 * time.Millisecond
	policy := backoff.WithContext(backoff.WithMaxRetries(bo, uint64(txAttempts-1)), ctx)
	return backoff.Retry(func() error {
		err := s.runTx(ctx, fn)
		if err == nil {
			return nil
		}
		if errors.Is(err, storage.ErrTransient) {
			return err
		}
		return backoff.Permanent(err)
	}, policy)
}

func (s *Store) runTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapDBError("begin transaction", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return wrapDBError("commit transaction", err)
	}
	committed = true
	return nil
}

// RunInTransaction executes fn within one database transaction. On error
// or panic the transaction is rolled back; on nil return it commits.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx storage.Transaction) error) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return fn(&txStore{tx: tx})
	})
}

func (t *txStore) InsertEntries(ctx context.Context, notebookID string, entries []*types.Entry) error {
	return insertEntries(ctx, t.tx, notebookID, entries)
}

func (t *txStore) GetEntry(ctx context.Context, notebookID, entryID string) (*types.Entry, error) {
	return getEntry(ctx, t.tx, notebookID, entryID)
}

func (t *txStore) GetFragments(ctx context.Context, notebookID, parentID string) ([]*types.Entry, error) {
	return getFragments(ctx, t.tx, notebookID, parentID)
}

func (t *txStore) CountFragments(ctx context.Context, notebookID, parentID string) (int, error) {
	return countFragments(ctx, t.tx, notebookID, parentID)
}

func (t *txStore) EnsureAuthor(ctx context.Context, author types.AuthorID, publicKey []byte) error {
	return ensureAuthor(ctx, t.tx, author, publicKey)
}

func (t *txStore) CreateReview(ctx context.Context, rec *types.ReviewRecord) error {
	return createReview(ctx, t.tx, rec)
}

func (t *txStore) DecideReview(ctx context.Context, notebookID, entryID string, decidedBy types.AuthorID, approve bool, reason string) (*types.ReviewRecord, error) {
	return decideReview(ctx, t.tx, notebookID, entryID, decidedBy, approve, reason)
}

func (t *txStore) EnqueueJob(ctx context.Context, job *types.Job) error {
	return enqueueJob(ctx, t.tx, job)
}

func (t *txStore) AppendAudit(ctx context.Context, rec *types.AuditRecord) error {
	return appendAudit(ctx, t.tx, rec)
}

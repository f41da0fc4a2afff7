package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	sqlite3 "github.com/ncruces/go-sqlite3"

	"github.com/thinktank-hq/notebook/internal/storage"
)

// wrapDBError wraps a database error with operation context and maps
// driver conditions onto the storage sentinels: sql.ErrNoRows becomes
// ErrNotFound, unique violations become ErrConflict, busy/locked become
// ErrTransient.
func wrapDBError(op string, err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("%s: %w", op, storage.ErrNotFound)
	case isConstraintViolation(err):
		return fmt.Errorf("%s: %w: %v", op, storage.ErrConflict, err)
	case isBusy(err):
		return fmt.Errorf("%s: %w: %v", op, storage.ErrTransient, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func isConstraintViolation(err error) bool {
	var serr *sqlite3.Error
	if errors.As(err, &serr) {
		return serr.Code() == sqlite3.CONSTRAINT
	}
	return strings.Contains(err.Error(), "constraint failed")
}

func isBusy(err error) bool {
	var serr *sqlite3.Error
	if errors.As(err, &serr) {
		code := serr.Code()
		return code == sqlite3.BUSY || code == sqlite3.LOCKED
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "SQLITE_BUSY")
}

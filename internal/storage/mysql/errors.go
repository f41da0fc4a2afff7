package mysql

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/go-sql-driver/mysql"

	"github.com/thinktank-hq/notebook/internal/storage"
)

// Server error numbers recognized below, per the MySQL reference
// manual. The driver exports no constants for them.
const (
	errBadNull         = 1048 // ER_BAD_NULL_ERROR
	errDupEntry        = 1062 // ER_DUP_ENTRY
	errLockWait        = 1205 // ER_LOCK_WAIT_TIMEOUT
	errDeadlock        = 1213 // ER_LOCK_DEADLOCK
	errDataTooLong     = 1406 // ER_DATA_TOO_LONG
	errRowIsReferenced = 1451 // ER_ROW_IS_REFERENCED_2
	errNoReferencedRow = 1452 // ER_NO_REFERENCED_ROW_2
	errCheckViolated   = 3819 // ER_CHECK_CONSTRAINT_VIOLATED
)

// wrapDBError wraps a database error with operation context and maps
// driver conditions onto the storage sentinels: sql.ErrNoRows becomes
// ErrNotFound, duplicate keys and constraint violations become
// ErrConflict, deadlocks and lock waits become ErrTransient.
func wrapDBError(op string, err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("%s: %w", op, storage.ErrNotFound)
	case isConstraintViolation(err):
		return fmt.Errorf("%s: %w: %v", op, storage.ErrConflict, err)
	case isRetryable(err):
		return fmt.Errorf("%s: %w: %v", op, storage.ErrTransient, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func isConstraintViolation(err error) bool {
	var me *mysql.MySQLError
	if !errors.As(err, &me) {
		return false
	}
	switch me.Number {
	case errBadNull, errDupEntry, errDataTooLong, errRowIsReferenced, errNoReferencedRow, errCheckViolated:
		return true
	}
	return false
}

// isRetryable reports deadlocks and lock-wait timeouts. InnoDB aborts
// one of the deadlocked transactions; the loser runs again.
func isRetryable(err error) bool {
	var me *mysql.MySQLError
	if !errors.As(err, &me) {
		return false
	}
	return me.Number == errDeadlock || me.Number == errLockWait
}

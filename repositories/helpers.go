package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
)

// SQLExecutor is satisfied by both *sql.DB and *sql.Tx, so every repository
// can run inside or outside a transaction.
type SQLExecutor interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// ErrSerializationFailure is returned when postgres aborts a serializable
// transaction because of a concurrent writer. Callers may retry.
var ErrSerializationFailure = errors.New("concurrent update conflict")

const (
	pqUniqueViolation      = "23505"
	pqForeignKeyViolation  = "23503"
	pqSerializationFailure = "40001"
	pqDeadlockDetected     = "40P01"
)

func checkAffectedRows(result sql.Result, notFoundError error) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check affected rows: %w", err)
	}
	if rowsAffected == 0 {
		return notFoundError
	}
	return nil
}

// classifyPQError maps transaction-level postgres failures onto repository
// sentinels. Errors it does not recognise are returned unchanged.
func classifyPQError(err error) error {
	if err == nil {
		return nil
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case pqSerializationFailure, pqDeadlockDetected:
			return fmt.Errorf("%w: %s", ErrSerializationFailure, pqErr.Message)
		}
	}
	return err
}

func pqCode(err error) (code, constraint string) {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code), pqErr.Constraint
	}
	return "", ""
}

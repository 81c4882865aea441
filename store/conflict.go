package store

import (
	"errors"
	"fmt"

	"github.com/ammiranda/treestore/models"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
)

// Postgres SQLSTATE codes reported when concurrent writers collide
var conflictCodes = map[string]bool{
	"40001": true, // serialization_failure
	"40P01": true, // deadlock_detected
	"55P03": true, // lock_not_available
}

// IsConflict reports whether err is a database error caused by a concurrent writer
func IsConflict(err error) bool {
	if err == nil {
		return false
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return conflictCodes[string(pqErr.Code)]
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return conflictCodes[pgErr.Code]
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.Code == sqlite3.ErrBusy || liteErr.Code == sqlite3.ErrLocked
	}
	return false
}

// ClassifyError wraps conflict errors with models.ErrConcurrentStructuralConflict.
// Any other error is returned unchanged.
func ClassifyError(err error) error {
	if err == nil || errors.Is(err, models.ErrConcurrentStructuralConflict) || !IsConflict(err) {
		return err
	}
	return fmt.Errorf("%w: %w", models.ErrConcurrentStructuralConflict, err)
}

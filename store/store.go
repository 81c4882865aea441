package store

import (
	"context"
)

// Tx is one atomic unit of work. Every read and write of a tree operation goes through
// the same Tx; the enclosing Store commits or rolls back all of it.
type Tx interface {
	// Read runs a parameterized query and returns the matching rows.
	Read(ctx context.Context, q Query) ([]Row, error)

	// Write runs a parameterized insert, update or delete and returns the number of
	// affected rows.
	Write(ctx context.Context, s Statement) (int64, error)

	// Lock takes a write lock on the given tables that lasts until the transaction
	// ends. Structural writers call it before their first read so that two
	// concurrent writers can never interleave shift or rewrite steps.
	Lock(ctx context.Context, tables ...string) error
}

// Store hands out transactions.
type Store interface {
	// WithTransaction runs fn inside one transaction. The transaction commits when
	// fn returns nil and rolls back when it returns an error, which is passed
	// through unchanged (commit failures are classified, see ClassifyError).
	WithTransaction(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	// Close releases the underlying resources
	Close() error
}

// InTx runs fn in a transaction of s and returns its result.
func InTx[T any](ctx context.Context, s Store, fn func(ctx context.Context, tx Tx) (T, error)) (T, error) {
	var result T
	err := s.WithTransaction(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		result, err = fn(ctx, tx)
		return err
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return result, nil
}

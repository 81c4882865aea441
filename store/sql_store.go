package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sort"
)

// SQLStore implements Store on top of database/sql
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
	logger  *slog.Logger
}

// NewSQLStore wraps an open database. The store takes ownership of db.
func NewSQLStore(db *sql.DB, dialect Dialect, logger *slog.Logger) *SQLStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &SQLStore{db: db, dialect: dialect, logger: logger}
}

// DB exposes the underlying handle for maintenance tasks such as migrations
func (s *SQLStore) DB() *sql.DB {
	return s.db
}

// Dialect returns the SQL dialect of the store
func (s *SQLStore) Dialect() Dialect {
	return s.dialect
}

// WithTransaction runs fn inside a database transaction
func (s *SQLStore) WithTransaction(ctx context.Context, fn func(ctx context.Context, tx Tx) error) (err error) {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ClassifyError(fmt.Errorf("begin transaction: %w", err))
	}

	defer func() {
		if p := recover(); p != nil {
			_ = sqlTx.Rollback()
			panic(p)
		}
	}()

	if err := fn(ctx, &sqlTxAdapter{tx: sqlTx, dialect: s.dialect, logger: s.logger, locked: map[string]bool{}}); err != nil {
		if rbErr := sqlTx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			s.logger.Warn("rollback failed", "error", rbErr)
		}
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return ClassifyError(fmt.Errorf("commit transaction: %w", err))
	}
	return nil
}

// Close closes the database
func (s *SQLStore) Close() error {
	return s.db.Close()
}

type sqlTxAdapter struct {
	tx      *sql.Tx
	dialect Dialect
	logger  *slog.Logger
	locked  map[string]bool
}

func (t *sqlTxAdapter) Lock(ctx context.Context, tables ...string) error {
	pending := make([]string, 0, len(tables))
	for _, table := range tables {
		if !ValidIdentifier(table) {
			return fmt.Errorf("lock: invalid table name %q", table)
		}
		if !t.locked[table] {
			pending = append(pending, table)
		}
	}
	// a fixed order keeps two lockers from deadlocking on each other
	sort.Strings(pending)

	for _, table := range pending {
		if stmt := t.dialect.LockTable(table); stmt != "" {
			if _, err := t.tx.ExecContext(ctx, stmt); err != nil {
				return ClassifyError(fmt.Errorf("lock %s: %w", table, err))
			}
		}
		t.locked[table] = true
	}
	return nil
}

func (t *sqlTxAdapter) Read(ctx context.Context, q Query) ([]Row, error) {
	query, args, err := BuildQuery(t.dialect, q)
	if err != nil {
		return nil, err
	}

	rows, err := t.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, ClassifyError(fmt.Errorf("read %s: %w", q.Table, err))
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var result []Row
	for rows.Next() {
		values := make([]any, len(columns))
		targets := make([]any, len(columns))
		for i := range values {
			targets[i] = &values[i]
		}
		if err := rows.Scan(targets...); err != nil {
			return nil, fmt.Errorf("scan %s: %w", q.Table, err)
		}
		row := make(Row, len(columns))
		for i, c := range columns {
			if b, ok := values[i].([]byte); ok {
				row[c] = string(b)
				continue
			}
			row[c] = values[i]
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, ClassifyError(fmt.Errorf("read %s: %w", q.Table, err))
	}
	return result, nil
}

func (t *sqlTxAdapter) Write(ctx context.Context, s Statement) (int64, error) {
	stmt, args, err := BuildStatement(t.dialect, s)
	if err != nil {
		return 0, err
	}

	t.logger.Debug("write", "kind", s.Kind.String(), "table", s.Table, "args", len(args))
	res, err := t.tx.ExecContext(ctx, stmt, args...)
	if err != nil {
		return 0, ClassifyError(fmt.Errorf("%s %s: %w", s.Kind, s.Table, err))
	}
	return res.RowsAffected()
}

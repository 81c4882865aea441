package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/ammiranda/treestore/config"
	"github.com/ammiranda/treestore/migrations"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/lib/pq"
)

// Postgres drivers accepted by NewPostgresStore
const (
	DriverPQ  = "postgres"
	DriverPGX = "pgx"
)

// NewPostgresStore connects to PostgreSQL, applies the bundled schema and returns the store
func NewPostgresStore(ctx context.Context, cfg *config.DatabaseConfig, driver string, logger *slog.Logger) (*SQLStore, error) {
	return OpenPostgres(ctx, driver, cfg.ConnectionString(), logger)
}

// OpenPostgres is NewPostgresStore for a ready-made connection string
func OpenPostgres(ctx context.Context, driver, dsn string, logger *slog.Logger) (*SQLStore, error) {
	if driver == "" {
		driver = DriverPQ
	}
	if driver != DriverPQ && driver != DriverPGX {
		return nil, fmt.Errorf("unsupported postgres driver %q", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("error connecting to database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("error pinging database: %w", err)
	}

	if err := migrations.Up(db, migrations.Postgres); err != nil {
		db.Close()
		return nil, fmt.Errorf("error running migrations: %w", err)
	}

	return NewSQLStore(db, Postgres{}, logger), nil
}

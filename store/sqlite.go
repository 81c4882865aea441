package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/ammiranda/treestore/migrations"

	_ "github.com/mattn/go-sqlite3"
)

// MemoryDatabase opens a private in-memory SQLite database
const MemoryDatabase = ":memory:"

// DefaultSQLitePath is used when no path is configured
func DefaultSQLitePath() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = "."
	}
	return filepath.Join(homeDir, ".treestore", "treestore.db")
}

// NewSQLiteStore opens (creating if needed) the SQLite database at path and applies the schema
func NewSQLiteStore(ctx context.Context, path string, logger *slog.Logger) (*SQLStore, error) {
	if path == "" {
		path = DefaultSQLitePath()
	}
	if path != MemoryDatabase && !strings.HasPrefix(path, "file:") {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create data directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", sqliteDSN(path))
	if err != nil {
		return nil, err
	}
	// one connection serializes writers and keeps :memory: databases alive
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("error opening sqlite database: %w", err)
	}

	if err := migrations.Up(db, migrations.SQLite); err != nil {
		db.Close()
		return nil, fmt.Errorf("error running migrations: %w", err)
	}

	return NewSQLStore(db, SQLite{}, logger), nil
}

func sqliteDSN(path string) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + "_txlock=immediate&_busy_timeout=5000&_foreign_keys=off"
}

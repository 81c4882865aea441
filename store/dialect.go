package store

import (
	"fmt"
	"regexp"
	"strconv"
)

// Dialect captures the SQL differences between supported databases
type Dialect interface {
	// Name is the golang-migrate database name of the dialect
	Name() string
	// Placeholder returns the bind parameter for the n-th argument (1-based)
	Placeholder(n int) string
	// LockTable returns the statement taking a write lock on table, or "" when the
	// database serializes writers on its own
	LockTable(table string) string
	// TextParam wraps a placeholder used as a text operand of ||
	TextParam(placeholder string) string
}

// Postgres is the PostgreSQL dialect
type Postgres struct{}

func (Postgres) Name() string             { return "postgres" }
func (Postgres) Placeholder(n int) string { return "$" + strconv.Itoa(n) }

// LockTable blocks other writers (and other LOCK callers) but not plain readers
func (Postgres) LockTable(table string) string {
	return fmt.Sprintf("LOCK TABLE %s IN SHARE ROW EXCLUSIVE MODE", quoteIdent(table))
}

func (Postgres) TextParam(p string) string { return "CAST(" + p + " AS TEXT)" }

// SQLite is the SQLite dialect. Write transactions are opened with _txlock=immediate,
// which already takes the database write lock.
type SQLite struct{}

func (SQLite) Name() string              { return "sqlite3" }
func (SQLite) Placeholder(int) string    { return "?" }
func (SQLite) LockTable(string) string   { return "" }
func (SQLite) TextParam(p string) string { return p }

var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidIdentifier reports whether name can be used as a table or column name
func ValidIdentifier(name string) bool {
	return identPattern.MatchString(name)
}

func quoteIdent(name string) string {
	return `"` + name + `"`
}

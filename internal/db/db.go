// Package db owns the SQLite database behind the task store: opening,
// connection pragmas, and schema migrations.
package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

// DB is an open dispatch database.
type DB struct {
	sql  *sql.DB
	path string
}

// DefaultPath returns the default database location.
func DefaultPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".local", "share", "dispatch", "dispatch.db")
}

// Open creates or opens the database at path (empty means DefaultPath),
// applies pragmas, and brings the schema up to date.
func Open(path string) (*DB, error) {
	if path == "" {
		path = DefaultPath()
	}
	resolved := expandHome(path)

	if err := os.MkdirAll(filepath.Dir(resolved), 0755); err != nil {
		return nil, fmt.Errorf("creating db dir: %w", err)
	}

	sqlDB, err := sql.Open("sqlite", resolved)
	if err != nil {
		return nil, fmt.Errorf("opening db %s: %w", resolved, err)
	}

	// modernc sqlite serializes writers at the file level; a single
	// pooled connection queues them in-process instead of surfacing
	// SQLITE_BUSY to the loser.
	sqlDB.SetMaxOpenConns(1)

	for _, step := range []struct {
		name string
		run  func(*sql.DB) error
	}{
		{"ping", func(db *sql.DB) error { return db.Ping() }},
		{"pragmas", applyPragmas},
		{"migrate", Migrate},
	} {
		if err := step.run(sqlDB); err != nil {
			_ = sqlDB.Close()
			return nil, fmt.Errorf("%s: %w", step.name, err)
		}
	}

	return &DB{sql: sqlDB, path: resolved}, nil
}

// Close releases the underlying connection. Safe on nil.
func (d *DB) Close() error {
	if d == nil || d.sql == nil {
		return nil
	}
	return d.sql.Close()
}

// SQL exposes the raw handle for the stores.
func (d *DB) SQL() *sql.DB {
	if d == nil {
		return nil
	}
	return d.sql
}

// Path returns the resolved database file path.
func (d *DB) Path() string {
	if d == nil {
		return ""
	}
	return d.path
}

// WAL keeps the daemon and interactive commands from blocking each
// other; busy_timeout covers the writes that still collide.
func applyPragmas(db *sql.DB) error {
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA foreign_keys=ON;",
	} {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("setting pragma %q: %w", pragma, err)
		}
	}
	return nil
}

func expandHome(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	if path == "~" {
		return home
	}
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(home, path[2:])
	}
	return path
}

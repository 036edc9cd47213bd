package db

import (
	"database/sql"
	"errors"
	"fmt"
	"log"
)

// Migration represents a single schema change.
type Migration struct {
	Version     int
	Description string
	SQL         string
}

var migrations = []Migration{
	{
		Version:     1,
		Description: "initial schema: workers, tasks",
		SQL:         migration001SQL,
	},
	{
		Version:     2,
		Description: "add period dedup index for bulk generation",
		SQL:         migration002SQL,
	},
}

const migration001SQL = `
CREATE TABLE workers (
    id          TEXT PRIMARY KEY,
    name        TEXT NOT NULL,
    active      INTEGER NOT NULL DEFAULT 1,
    specialties TEXT NOT NULL DEFAULT '[]',
    capacity    INTEGER NOT NULL DEFAULT 5,
    created_at  DATETIME NOT NULL
);

CREATE TABLE tasks (
    id                 TEXT PRIMARY KEY,
    tenant_id          TEXT NOT NULL,
    kind               TEXT NOT NULL,
    title              TEXT NOT NULL,
    description        TEXT NOT NULL DEFAULT '',
    priority           TEXT NOT NULL DEFAULT 'medium',
    state              TEXT NOT NULL DEFAULT 'pending',
    assigned_worker_id TEXT REFERENCES workers(id),
    created_at         DATETIME NOT NULL,
    due_at             DATETIME NOT NULL,
    completed_at       DATETIME,
    estimated_hours    REAL NOT NULL DEFAULT 0,
    required_documents TEXT NOT NULL DEFAULT '[]',
    period             TEXT,
    version            INTEGER NOT NULL DEFAULT 1
);

CREATE INDEX idx_tasks_state ON tasks(state, assigned_worker_id);
CREATE INDEX idx_tasks_worker ON tasks(assigned_worker_id);
CREATE INDEX idx_tasks_tenant ON tasks(tenant_id);
`

const migration002SQL = `
CREATE UNIQUE INDEX idx_tasks_tenant_kind_period
    ON tasks(tenant_id, kind, period)
    WHERE period IS NOT NULL AND period != '';
`

// Migrate runs all pending migrations inside transactions.
func Migrate(db *sql.DB) error {
	if db == nil {
		return errors.New("db is nil")
	}

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (version INTEGER PRIMARY KEY, applied_at DATETIME)`); err != nil {
		return fmt.Errorf("create schema_version: %w", err)
	}

	currentVersion, err := CurrentVersion(db)
	if err != nil {
		return err
	}

	for _, migration := range migrations {
		if migration.Version <= currentVersion {
			continue
		}

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", migration.Version, err)
		}

		if _, err := tx.Exec(migration.SQL); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("apply migration %d: %w", migration.Version, err)
		}

		if _, err := tx.Exec(`INSERT INTO schema_version (version, applied_at) VALUES (?, CURRENT_TIMESTAMP)`, migration.Version); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record migration %d: %w", migration.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", migration.Version, err)
		}

		log.Printf("db: applied migration %d: %s", migration.Version, migration.Description)
		currentVersion = migration.Version
	}

	return nil
}

// CurrentVersion returns the current schema version (0 if no migrations applied).
func CurrentVersion(db *sql.DB) (int, error) {
	if db == nil {
		return 0, errors.New("db is nil")
	}

	row := db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_version`)
	var version int
	if err := row.Scan(&version); err != nil {
		return 0, fmt.Errorf("query schema_version: %w", err)
	}
	return version, nil
}

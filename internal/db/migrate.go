package db

import (
	"database/sql"
	"fmt"
	"time"
)

// Migration represents one database schema migration.
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// migrations are applied in order; each runs in its own transaction.
var migrations = []Migration{
	{
		Version:     1,
		Description: "record collections with sync ledger",
		SQL: `
CREATE TABLE IF NOT EXISTS tasks (
	id TEXT PRIMARY KEY,
	title TEXT NOT NULL,
	category TEXT NOT NULL DEFAULT '',
	duration_minutes INTEGER NOT NULL DEFAULT 0,
	due_date TEXT,
	due_time TEXT,
	status TEXT NOT NULL DEFAULT 'draft',
	timer_running INTEGER,
	timer_remaining INTEGER,
	timer_total INTEGER,
	updated_at TEXT NOT NULL,
	deleted_at TEXT,
	is_synced INTEGER NOT NULL DEFAULT 0,
	sync_version INTEGER NOT NULL DEFAULT 0,
	local_updated_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_tasks_unsynced ON tasks(is_synced);

CREATE TABLE IF NOT EXISTS gaps (
	id TEXT PRIMARY KEY,
	date TEXT NOT NULL,
	start_time TEXT NOT NULL,
	end_time TEXT NOT NULL,
	duration_minutes INTEGER NOT NULL DEFAULT 0,
	source TEXT NOT NULL DEFAULT 'default',
	updated_at TEXT NOT NULL,
	deleted_at TEXT,
	is_synced INTEGER NOT NULL DEFAULT 0,
	sync_version INTEGER NOT NULL DEFAULT 0,
	local_updated_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_gaps_date ON gaps(date);
CREATE INDEX IF NOT EXISTS idx_gaps_unsynced ON gaps(is_synced);

CREATE TABLE IF NOT EXISTS preferences (
	user_id TEXT PRIMARY KEY,
	payload TEXT NOT NULL,
	version INTEGER NOT NULL DEFAULT 0,
	updated_at TEXT NOT NULL,
	is_synced INTEGER NOT NULL DEFAULT 0,
	sync_version INTEGER NOT NULL DEFAULT 0,
	local_updated_at TEXT NOT NULL
);
`,
	},
	{
		Version:     2,
		Description: "sync queue and conflict log",
		SQL: `
CREATE TABLE IF NOT EXISTS sync_queue (
	seq INTEGER PRIMARY KEY AUTOINCREMENT,
	record_id TEXT NOT NULL,
	tbl TEXT NOT NULL,
	operation TEXT NOT NULL,
	payload TEXT NOT NULL,
	sync_version INTEGER NOT NULL DEFAULT 0,
	retry_count INTEGER NOT NULL DEFAULT 0,
	next_retry_at INTEGER NOT NULL DEFAULT 0,
	last_error TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_queue_record ON sync_queue(record_id);

CREATE TABLE IF NOT EXISTS conflict_log (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	collection TEXT NOT NULL,
	record_id TEXT NOT NULL,
	local_timestamp TEXT NOT NULL,
	remote_timestamp TEXT NOT NULL,
	resolution TEXT NOT NULL,
	detected_at TEXT NOT NULL
);
`,
	},
}

// Migrator applies schema migrations.
type Migrator struct {
	db *sql.DB
}

// NewMigrator creates a new Migrator.
func NewMigrator(db *DB) *Migrator {
	return &Migrator{db: db.DB}
}

// Initialize creates the schema_migrations table if it doesn't exist.
func (m *Migrator) Initialize() error {
	query := `
	CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY CHECK(version > 0),
		applied_at INTEGER NOT NULL,
		description TEXT NOT NULL
	);`
	_, err := m.db.Exec(query)
	return err
}

// CurrentVersion returns the current schema version.
func (m *Migrator) CurrentVersion() (int, error) {
	var version int
	err := m.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version)
	return version, err
}

// Up applies all pending migrations in version order.
func (m *Migrator) Up() error {
	if err := m.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize migrations: %w", err)
	}

	current, err := m.CurrentVersion()
	if err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}

	for _, mig := range migrations {
		if mig.Version <= current {
			continue
		}

		tx, err := m.db.Begin()
		if err != nil {
			return fmt.Errorf("failed to begin migration %d: %w", mig.Version, err)
		}

		if _, err := tx.Exec(mig.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d (%s) failed: %w", mig.Version, mig.Description, err)
		}

		if _, err := tx.Exec(
			"INSERT INTO schema_migrations (version, applied_at, description) VALUES (?, ?, ?)",
			mig.Version, time.Now().Unix(), mig.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", mig.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", mig.Version, err)
		}
	}

	return nil
}

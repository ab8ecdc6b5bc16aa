package journal

import (
	"database/sql"
	"fmt"
	"time"

	"jordanella.com/screen-locator/internal/logging"
)

// Migration represents a database schema migration
type Migration struct {
	Version     int
	Description string
	Up          func(*sql.Tx) error
	Down        func(*sql.Tx) error
}

// migrations is the ordered list of all journal migrations
var migrations = []Migration{
	{
		Version:     1,
		Description: "Create schema_version table",
		Up:          migration001Up,
		Down:        migration001Down,
	},
	{
		Version:     2,
		Description: "Create match_log table",
		Up:          migration002Up,
		Down:        migration002Down,
	},
	{
		Version:     3,
		Description: "Create template statistics view",
		Up:          migration003Up,
		Down:        migration003Down,
	},
}

// LatestVersion is the schema version after all migrations have run
func LatestVersion() int {
	return migrations[len(migrations)-1].Version
}

// RunMigrations runs all pending database migrations
func (db *DB) RunMigrations() error {
	migrationLog := logging.NewLogger("journal.migrations")
	currentVersion, err := db.getCurrentVersion()
	if err != nil {
		return fmt.Errorf("failed to get current version: %w", err)
	}

	for _, migration := range migrations {
		if migration.Version <= currentVersion {
			continue
		}

		migrationLog.DebugWithContext("running migration", map[string]interface{}{
			"version":     migration.Version,
			"description": migration.Description,
		})

		err := db.ExecTx(func(tx *sql.Tx) error {
			if err := migration.Up(tx); err != nil {
				return fmt.Errorf("migration %d failed: %w", migration.Version, err)
			}

			_, err := tx.Exec(`
				INSERT INTO schema_version (version, description, applied_at)
				VALUES (?, ?, ?)
			`, migration.Version, migration.Description, time.Now())

			return err
		})
		if err != nil {
			return err
		}
	}

	return nil
}

// RollbackTo reverts applied migrations newer than version, newest first
func (db *DB) RollbackTo(version int) error {
	migrationLog := logging.NewLogger("journal.migrations")
	currentVersion, err := db.getCurrentVersion()
	if err != nil {
		return fmt.Errorf("failed to get current version: %w", err)
	}

	for i := len(migrations) - 1; i >= 0; i-- {
		migration := migrations[i]
		if migration.Version <= version || migration.Version > currentVersion {
			continue
		}

		migrationLog.DebugWithContext("reverting migration", map[string]interface{}{
			"version":     migration.Version,
			"description": migration.Description,
		})

		err := db.ExecTx(func(tx *sql.Tx) error {
			if err := migration.Down(tx); err != nil {
				return fmt.Errorf("rollback of migration %d failed: %w", migration.Version, err)
			}
			if migration.Version == 1 {
				// schema_version itself is gone
				return nil
			}
			_, err := tx.Exec(`DELETE FROM schema_version WHERE version = ?`, migration.Version)
			return err
		})
		if err != nil {
			return err
		}
	}

	return nil
}

// getCurrentVersion returns the current schema version
func (db *DB) getCurrentVersion() (int, error) {
	var tableExists bool
	err := db.conn.QueryRow(`
		SELECT COUNT(*) > 0
		FROM sqlite_master
		WHERE type='table' AND name='schema_version'
	`).Scan(&tableExists)
	if err != nil {
		return 0, err
	}

	if !tableExists {
		return 0, nil
	}

	var version int
	err = db.conn.QueryRow(`
		SELECT COALESCE(MAX(version), 0)
		FROM schema_version
	`).Scan(&version)
	if err != nil {
		return 0, err
	}

	return version, nil
}

// Migration 001: Schema version tracking table
func migration001Up(tx *sql.Tx) error {
	_, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			version INTEGER NOT NULL UNIQUE,
			description TEXT NOT NULL,
			applied_at DATETIME NOT NULL
		)
	`)
	return err
}

func migration001Down(tx *sql.Tx) error {
	_, err := tx.Exec(`DROP TABLE IF EXISTS schema_version`)
	return err
}

// Migration 002: One row per Find / FindAll call
func migration002Up(tx *sql.Tx) error {
	_, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS match_log (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			template_id TEXT NOT NULL,
			operation TEXT NOT NULL,
			method TEXT NOT NULL,
			threshold REAL NOT NULL,
			matched INTEGER NOT NULL,
			score REAL,
			x INTEGER NOT NULL DEFAULT 0,
			y INTEGER NOT NULL DEFAULT 0,
			match_count INTEGER NOT NULL DEFAULT 0,
			duration_ms REAL NOT NULL DEFAULT 0,
			recorded_at DATETIME NOT NULL
		);

		CREATE INDEX idx_match_log_template ON match_log(template_id);
		CREATE INDEX idx_match_log_session ON match_log(session_id);
		CREATE INDEX idx_match_log_recorded ON match_log(recorded_at);
	`)
	return err
}

func migration002Down(tx *sql.Tx) error {
	_, err := tx.Exec(`
		DROP INDEX IF EXISTS idx_match_log_recorded;
		DROP INDEX IF EXISTS idx_match_log_session;
		DROP INDEX IF EXISTS idx_match_log_template;
		DROP TABLE IF EXISTS match_log;
	`)
	return err
}

// Migration 003: Per-template aggregate view
func migration003Up(tx *sql.Tx) error {
	_, err := tx.Exec(`
		CREATE VIEW v_template_stats AS
		SELECT
			template_id,
			COUNT(*) AS calls,
			SUM(CASE WHEN matched = 1 THEN 1 ELSE 0 END) AS hits,
			AVG(CASE WHEN operation = 'find' THEN score END) AS avg_score,
			MAX(CASE WHEN operation = 'find' THEN score END) AS best_score,
			AVG(duration_ms) AS avg_duration_ms,
			MAX(recorded_at) AS last_seen
		FROM match_log
		GROUP BY template_id;
	`)
	return err
}

func migration003Down(tx *sql.Tx) error {
	_, err := tx.Exec(`DROP VIEW IF EXISTS v_template_stats`)
	return err
}

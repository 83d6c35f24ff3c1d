package persistence

import (
	"database/sql"
	"errors"
	"fmt"
)

// CurrentSchemaVersion defines the current schema version for migration support.
const CurrentSchemaVersion = 3

// initializeSchemaWithMigrations ensures the database schema is at the current version.
func initializeSchemaWithMigrations(db *sql.DB) error {
	currentVersion, err := GetSchemaVersion(db)
	if err != nil {
		return fmt.Errorf("failed to get current schema version: %w", err)
	}

	// Empty database: create fresh schema at the current version.
	if currentVersion == 0 {
		return createSchema(db)
	}

	if currentVersion == CurrentSchemaVersion {
		return nil
	}

	return runMigrations(db, currentVersion, CurrentSchemaVersion)
}

// runMigrations applies database migrations from current version to target version.
func runMigrations(db *sql.DB, fromVersion, toVersion int) error {
	for version := fromVersion + 1; version <= toVersion; version++ {
		if err := runMigration(db, version); err != nil {
			return fmt.Errorf("migration to version %d failed: %w", version, err)
		}

		if err := setSchemaVersion(db, version); err != nil {
			return fmt.Errorf("failed to update schema version to %d: %w", version, err)
		}
	}
	return nil
}

// runMigration applies a specific version migration.
func runMigration(db *sql.DB, version int) error {
	switch version {
	case 1:
		return nil // baseline
	case 2:
		return migrateToVersion2(db)
	case 3:
		return migrateToVersion3(db)
	default:
		return fmt.Errorf("unknown migration version: %d", version)
	}
}

// migrateToVersion2 adds retry and error taxonomy columns to jobs.
func migrateToVersion2(db *sql.DB) error {
	migrations := []string{
		"ALTER TABLE jobs ADD COLUMN retry_count INTEGER NOT NULL DEFAULT 0",
		"ALTER TABLE jobs ADD COLUMN error_code TEXT",
		"ALTER TABLE jobs ADD COLUMN error_message TEXT",
	}

	for _, migration := range migrations {
		if _, err := db.Exec(migration); err != nil {
			return fmt.Errorf("failed to execute migration: %s: %w", migration, err)
		}
	}
	return nil
}

// migrateToVersion3 adds the documents table for prepared application material.
func migrateToVersion3(db *sql.DB) error {
	ddl := `CREATE TABLE IF NOT EXISTS documents (
		job_id TEXT PRIMARY KEY REFERENCES jobs(id) ON DELETE CASCADE,
		resume_path TEXT NOT NULL,
		cover_letter_path TEXT,
		created_at DATETIME DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
	)`
	if _, err := db.Exec(ddl); err != nil {
		return fmt.Errorf("failed to execute migration: %w", err)
	}
	return nil
}

// createSchema creates all required tables and indices.
func createSchema(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute pragma %s: %w", pragma, err)
		}
	}

	tables := []string{
		// Schema version tracking
		`CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
		)`,

		// Job listings: one row per discovered posting.
		`CREATE TABLE IF NOT EXISTS jobs (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			company TEXT NOT NULL,
			location TEXT,
			description TEXT,
			salary_range TEXT,
			source_url TEXT NOT NULL,
			platform TEXT NOT NULL CHECK (platform IN ('linkedin','indeed')),
			easy_apply INTEGER NOT NULL DEFAULT 0,
			fit_score REAL,
			fit_reasoning TEXT,
			stage TEXT NOT NULL DEFAULT 'discovered' CHECK (stage IN
				('discovered','scored','approved','docs_prepared','form_filled','submitted','failed','skipped')),
			retry_count INTEGER NOT NULL DEFAULT 0,
			error_code TEXT,
			error_message TEXT,
			created_at DATETIME DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now')),
			updated_at DATETIME DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
		)`,

		// Append-only stage history, one row per transition.
		`CREATE TABLE IF NOT EXISTS stage_history (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			job_id TEXT NOT NULL REFERENCES jobs(id) ON DELETE CASCADE,
			stage TEXT NOT NULL,
			entered_at DATETIME NOT NULL
		)`,

		// Prepared application documents, one set per job.
		`CREATE TABLE IF NOT EXISTS documents (
			job_id TEXT PRIMARY KEY REFERENCES jobs(id) ON DELETE CASCADE,
			resume_path TEXT NOT NULL,
			cover_letter_path TEXT,
			created_at DATETIME DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
		)`,
	}

	indices := []string{
		"CREATE INDEX IF NOT EXISTS idx_jobs_stage ON jobs(stage)",
		"CREATE INDEX IF NOT EXISTS idx_jobs_platform ON jobs(platform)",
		"CREATE UNIQUE INDEX IF NOT EXISTS idx_jobs_source_url ON jobs(source_url)",
		"CREATE INDEX IF NOT EXISTS idx_stage_history_job ON stage_history(job_id)",
	}

	for _, ddl := range tables {
		if _, err := db.Exec(ddl); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}

	for _, ddl := range indices {
		if _, err := db.Exec(ddl); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}

	if err := setSchemaVersion(db, CurrentSchemaVersion); err != nil {
		return fmt.Errorf("failed to set schema version: %w", err)
	}

	return nil
}

// setSchemaVersion records the current schema version.
func setSchemaVersion(db *sql.DB, version int) error {
	_, err := db.Exec(`
		INSERT OR REPLACE INTO schema_version (version) VALUES (?)
	`, version)
	if err != nil {
		return fmt.Errorf("database exec error: %w", err)
	}
	return nil
}

// GetSchemaVersion returns the current schema version from the database.
func GetSchemaVersion(db *sql.DB) (int, error) {
	// First ensure the schema_version table exists
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
	)`)
	if err != nil {
		return 0, fmt.Errorf("failed to create schema_version table: %w", err)
	}

	var version int
	err = db.QueryRow("SELECT version FROM schema_version ORDER BY version DESC LIMIT 1").Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil // No version set yet
	}
	if err != nil {
		return 0, fmt.Errorf("schema version scan error: %w", err)
	}
	return version, nil
}

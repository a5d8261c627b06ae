package store

import (
	"fmt"
)

// migrate runs all pending migrations
func (s *Store) migrate() error {
	// Create migrations table if it doesn't exist
	createMigrationsTableSQL := `
		CREATE TABLE IF NOT EXISTS migrations (
			id INTEGER PRIMARY KEY,
			version INTEGER NOT NULL UNIQUE,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);
	`

	if _, err := s.db.Exec(createMigrationsTableSQL); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	var currentVersion int
	err := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM migrations").Scan(&currentVersion)
	if err != nil {
		return fmt.Errorf("failed to get current migration version: %w", err)
	}

	s.logger.Debug("Current schema version", "version", currentVersion)

	migrations := []struct {
		version int
		sql     string
	}{
		{
			version: 1,
			sql: `
				CREATE TABLE datasources (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					name TEXT NOT NULL UNIQUE,
					kind TEXT NOT NULL DEFAULT 'database',
					database_type TEXT DEFAULT '',
					access TEXT DEFAULT '',
					host TEXT DEFAULT '',
					port TEXT DEFAULT '',
					database_name TEXT DEFAULT '',
					username TEXT DEFAULT '',
					password TEXT DEFAULT '',
					attributes_json TEXT DEFAULT '{}'
				);

				CREATE TABLE domain_files (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					domain_id TEXT NOT NULL,
					file_name TEXT NOT NULL,
					content BLOB,
					UNIQUE(domain_id, file_name)
				);

				CREATE TABLE jobs (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					job_id TEXT NOT NULL UNIQUE,
					name TEXT NOT NULL,
					user_name TEXT DEFAULT '',
					input_file TEXT DEFAULT '',
					output_file TEXT DEFAULT '',
					state TEXT DEFAULT 'NORMAL',
					params_json TEXT DEFAULT '{}',
					trigger_type TEXT DEFAULT '',
					cron_expr TEXT DEFAULT '',
					repeat_interval_ms INTEGER DEFAULT 0,
					repeat_count INTEGER DEFAULT 0,
					start_time DATETIME,
					end_time DATETIME,
					time_zone TEXT DEFAULT ''
				);

				CREATE TABLE users (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					tenant TEXT NOT NULL,
					username TEXT NOT NULL,
					enabled BOOLEAN DEFAULT 1,
					UNIQUE(tenant, username)
				);

				CREATE TABLE roles (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					name TEXT NOT NULL UNIQUE,
					description TEXT DEFAULT ''
				);

				CREATE TABLE user_roles (
					tenant TEXT NOT NULL,
					username TEXT NOT NULL,
					role_name TEXT NOT NULL,
					position INTEGER NOT NULL,
					PRIMARY KEY(tenant, username, role_name)
				);

				CREATE TABLE role_bindings (
					role_name TEXT NOT NULL,
					permission TEXT NOT NULL,
					position INTEGER NOT NULL,
					PRIMARY KEY(role_name, permission)
				);
			`,
		},
		{
			version: 2,
			sql: `
				CREATE TABLE export_runs (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					export_id TEXT NOT NULL,
					path TEXT NOT NULL,
					compression TEXT DEFAULT '',
					status TEXT NOT NULL,
					entries INTEGER DEFAULT 0,
					size INTEGER DEFAULT 0,
					sha256 TEXT DEFAULT '',
					phases_json TEXT DEFAULT '[]',
					error_message TEXT DEFAULT '',
					start_time DATETIME NOT NULL,
					end_time DATETIME
				);
			`,
		},
	}

	for _, mig := range migrations {
		if mig.version > currentVersion {
			s.logger.Info("Running migration", "version", mig.version)

			if err := s.runMigration(mig.version, mig.sql); err != nil {
				return fmt.Errorf("failed to run migration %d: %w", mig.version, err)
			}

			s.logger.Info("Migration completed", "version", mig.version)
		}
	}

	return nil
}

// runMigration executes a migration and records it
func (s *Store) runMigration(version int, sql string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(sql); err != nil {
		return fmt.Errorf("failed to execute migration SQL: %w", err)
	}

	insertSQL := "INSERT INTO migrations (version) VALUES (?)"
	if _, err := tx.Exec(insertSQL, version); err != nil {
		return fmt.Errorf("failed to record migration: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migration transaction: %w", err)
	}

	return nil
}

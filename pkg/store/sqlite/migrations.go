package sqlite

import (
	"database/sql"
	"fmt"
)

// migration is one schema step, applied inside its own transaction.
type migration struct {
	version int
	name    string
	up      string
}

var migrations = []migration{
	{
		version: 1,
		name:    "initial_schema",
		up: `
		CREATE TABLE bank_email_configs (
			seq                INTEGER PRIMARY KEY AUTOINCREMENT,
			id                 TEXT NOT NULL UNIQUE,
			user_id            TEXT NOT NULL,
			name               TEXT NOT NULL DEFAULT '',
			bank_name          TEXT NOT NULL,
			from_patterns      TEXT NOT NULL DEFAULT '[]',
			subject_patterns   TEXT NOT NULL DEFAULT '[]',
			body_keywords      TEXT NOT NULL DEFAULT '[]',
			amount_labels      TEXT NOT NULL DEFAULT '[]',
			description_labels TEXT NOT NULL DEFAULT '[]',
			is_active          INTEGER NOT NULL DEFAULT 1,
			created_at         INTEGER NOT NULL,
			updated_at         INTEGER NOT NULL
		);
		CREATE UNIQUE INDEX idx_bank_email_configs_user_name
			ON bank_email_configs (user_id, name) WHERE name <> '';

		CREATE TABLE expenses (
			id               TEXT PRIMARY KEY,
			user_id          TEXT NOT NULL,
			amount           TEXT NOT NULL,
			description      TEXT NOT NULL DEFAULT '',
			bank_name        TEXT NOT NULL DEFAULT '',
			transaction_type TEXT NOT NULL DEFAULT 'debit',
			category         TEXT NOT NULL DEFAULT 'other',
			date             INTEGER NOT NULL,
			source           TEXT NOT NULL DEFAULT 'email',
			message_id       TEXT NOT NULL DEFAULT '',
			config_id        TEXT NOT NULL DEFAULT '',
			created_at       INTEGER NOT NULL
		);
		CREATE INDEX idx_expenses_user_date ON expenses (user_id, date);`,
	},
	{
		version: 2,
		name:    "add_sync_state",
		up: `
		CREATE TABLE sync_state (
			user_id      TEXT PRIMARY KEY,
			last_sync_at INTEGER NOT NULL
		);`,
	},
}

func (s *Store) runMigrations() error {
	if _, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    INTEGER PRIMARY KEY,
			name       TEXT NOT NULL,
			applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`); err != nil {
		return fmt.Errorf("creating migrations table: %w", err)
	}

	applied, err := s.appliedMigrations()
	if err != nil {
		return err
	}

	for _, m := range migrations {
		if applied[m.version] {
			continue
		}
		s.logger.Info("running migration", "version", m.version, "name", m.name)
		if err := s.apply(m); err != nil {
			return fmt.Errorf("migration %d (%s): %w", m.version, m.name, err)
		}
	}
	return nil
}

func (s *Store) apply(m migration) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(m.up); err != nil {
		return err
	}
	if _, err := tx.Exec(`INSERT INTO schema_migrations (version, name) VALUES (?, ?)`, m.version, m.name); err != nil {
		return fmt.Errorf("recording migration: %w", err)
	}
	return tx.Commit()
}

func (s *Store) appliedMigrations() (map[int]bool, error) {
	rows, err := s.db.Query(`SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("querying applied migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[int]bool)
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scanning migration version: %w", err)
		}
		applied[v] = true
	}
	return applied, rows.Err()
}

// schemaVersion returns the highest applied migration.
func schemaVersion(db *sql.DB) (int, error) {
	var v sql.NullInt64
	if err := db.QueryRow(`SELECT MAX(version) FROM schema_migrations`).Scan(&v); err != nil {
		return 0, err
	}
	return int(v.Int64), nil
}

// Cartridge - Game Metadata Cache for the Request Portal
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartridge

package database

import (
	"context"
	"fmt"
	"time"

	"github.com/tomtom215/cartridge/internal/logging"
)

// Migration is one versioned schema change.
type Migration struct {
	Version     int
	Name        string
	Description string
	SQL         string
	AppliedAt   time.Time
}

const schemaMigrationsTable = `
CREATE TABLE IF NOT EXISTS schema_migrations (
	version INTEGER PRIMARY KEY,
	name TEXT NOT NULL,
	description TEXT,
	applied_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

// getMigrations returns all migrations in order. Migrations are append-only:
// never edit or remove one that has shipped.
//
// Array columns hold JSON text. Keep game_metadata free of secondary
// indexes: DuckDB turns ON CONFLICT updates of indexed rows into
// delete+insert.
func getMigrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Name:        "create_game_metadata",
			Description: "Cached upstream game metadata keyed by external id",
			SQL: `CREATE TABLE IF NOT EXISTS game_metadata (
	external_id VARCHAR PRIMARY KEY,
	title VARCHAR NOT NULL,
	summary VARCHAR,
	cover_image_ref VARCHAR,
	screenshot_refs VARCHAR NOT NULL DEFAULT '[]',
	video_refs VARCHAR NOT NULL DEFAULT '[]',
	platforms VARCHAR NOT NULL DEFAULT '[]',
	genres VARCHAR NOT NULL DEFAULT '[]',
	publisher_refs VARCHAR NOT NULL DEFAULT '[]',
	mode_tags VARCHAR NOT NULL DEFAULT '[]',
	rating DOUBLE,
	release_timestamp TIMESTAMP,
	popularity_score DOUBLE NOT NULL DEFAULT 0,
	last_refreshed_at TIMESTAMP NOT NULL,
	force_refresh BOOLEAN NOT NULL DEFAULT false
);`,
		},
	}
}

func (db *DB) getAppliedMigrations(ctx context.Context) (map[int]Migration, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT version, name, COALESCE(description, ''), applied_at FROM schema_migrations ORDER BY version`)
	if err != nil {
		return nil, fmt.Errorf("failed to query applied migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[int]Migration)
	for rows.Next() {
		var m Migration
		if err := rows.Scan(&m.Version, &m.Name, &m.Description, &m.AppliedAt); err != nil {
			return nil, fmt.Errorf("failed to scan migration row: %w", err)
		}
		applied[m.Version] = m
	}
	return applied, rows.Err()
}

// runVersionedMigrations applies every migration not yet recorded, each in
// its own transaction.
func (db *DB) runVersionedMigrations(ctx context.Context) error {
	if _, err := db.conn.ExecContext(ctx, schemaMigrationsTable); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	applied, err := db.getAppliedMigrations(ctx)
	if err != nil {
		return err
	}

	for _, m := range getMigrations() {
		if _, ok := applied[m.Version]; ok {
			continue
		}

		tx, err := db.conn.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("migration %d: begin: %w", m.Version, err)
		}
		if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %d (%s) failed: %w", m.Version, m.Name, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO schema_migrations (version, name, description) VALUES (?, ?, ?)`,
			m.Version, m.Name, m.Description); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %d: record: %w", m.Version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("migration %d: commit: %w", m.Version, err)
		}
		logging.Info().Int("version", m.Version).Str("name", m.Name).Msg("Applied schema migration")
	}
	return nil
}

// SchemaVersion returns the highest applied migration version.
func (db *DB) SchemaVersion(ctx context.Context) (int, error) {
	var v int64
	if err := db.conn.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&v); err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	return int(v), nil
}

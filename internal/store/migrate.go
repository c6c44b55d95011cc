// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ManuGH/aperio/internal/log"
)

// migrations are append-only. Never edit an applied entry; add a new one.
var migrations = []string{
	// 1: initial schema
	`CREATE TABLE IF NOT EXISTS jobs (
		id                      TEXT PRIMARY KEY,
		url                     TEXT NOT NULL,
		priority                INTEGER NOT NULL DEFAULT 2,
		status                  TEXT NOT NULL,
		created_at              TEXT NOT NULL,
		updated_at              TEXT NOT NULL,
		downloaded_path         TEXT,
		processed_path          TEXT,
		error_message           TEXT,
		processing_time_seconds INTEGER
	);
	CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);
	CREATE INDEX IF NOT EXISTS idx_jobs_created_at ON jobs(created_at);
	CREATE INDEX IF NOT EXISTS idx_jobs_url ON jobs(url);`,
	// 2: composite index for claim and list-by-status scans
	`CREATE INDEX IF NOT EXISTS idx_jobs_status_created_at ON jobs(status, created_at);`,
	// 3: retention sweeps filter on updated_at
	`CREATE INDEX IF NOT EXISTS idx_jobs_updated_at ON jobs(updated_at);`,
}

// Migrate applies pending migrations. It must run before the daemon accepts
// requests.
func Migrate(ctx context.Context, db *sql.DB) error {
	logger := log.WithComponent("store")

	if _, err := db.ExecContext(ctx,
		`CREATE TABLE IF NOT EXISTS schema_migrations (
			version    INTEGER PRIMARY KEY,
			applied_at TEXT NOT NULL DEFAULT (datetime('now'))
		)`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	var current int
	if err := db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&current); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	for i := current; i < len(migrations); i++ {
		version := i + 1
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", version, err)
		}
		if _, err := tx.ExecContext(ctx, migrations[i]); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("apply migration %d: %w", version, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO schema_migrations (version) VALUES (?)`, version); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record migration %d: %w", version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", version, err)
		}
		logger.Info().Int("version", version).Msg("applied migration")
	}
	return nil
}

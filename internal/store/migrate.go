package store

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// schema holds the record store DDL. Statements are idempotent so setup
// can run on every start.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS records (
		record_id       TEXT PRIMARY KEY,
		source          TEXT NOT NULL,
		content         JSONB NOT NULL,
		content_hash    TEXT NOT NULL,
		status          TEXT NOT NULL,
		first_seen      TIMESTAMPTZ NOT NULL,
		last_seen       TIMESTAMPTZ NOT NULL,
		last_harvest_id TEXT NOT NULL DEFAULT '',
		missing_since   TIMESTAMPTZ,
		events          JSONB NOT NULL DEFAULT '[]',
		sync_state      JSONB,
		created_at      TIMESTAMPTZ NOT NULL,
		updated_at      TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_records_source_status
		ON records (source, status, record_id)`,
	`CREATE TABLE IF NOT EXISTS harvests (
		harvest_id   TEXT PRIMARY KEY,
		source       TEXT NOT NULL,
		started_at   TIMESTAMPTZ NOT NULL,
		completed_at TIMESTAMPTZ,
		status       TEXT NOT NULL,
		statistics   JSONB NOT NULL DEFAULT '{}',
		config       JSONB NOT NULL DEFAULT '{}'
	)`,
	`CREATE INDEX IF NOT EXISTS idx_harvests_source
		ON harvests (source, started_at)`,
}

// EnsureSchema creates the record store tables if they do not exist.
func EnsureSchema(ctx context.Context, db *sqlx.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}

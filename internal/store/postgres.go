package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/fairdatahub/arc-harvester/internal/config"
	"github.com/fairdatahub/arc-harvester/internal/domain"
)

const pingTimeout = 5 * time.Second

// recordSelectColumns lists columns for SELECT queries on records.
const recordSelectColumns = `record_id, source, content, content_hash, status,
	first_seen, last_seen, last_harvest_id, missing_since, events, sync_state,
	created_at, updated_at`

// PostgresBackend persists records and harvests as JSONB documents in
// PostgreSQL.
type PostgresBackend struct {
	db *sqlx.DB
}

// NewPostgresBackend wraps an existing connection pool.
func NewPostgresBackend(db *sqlx.DB) *PostgresBackend {
	return &PostgresBackend{db: db}
}

// ConnectPostgres opens a connection pool to the record store database.
func ConnectPostgres(cfg config.DatabaseConfig) (*sqlx.DB, error) {
	db, err := sqlx.Connect("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to record store: %w", err)
	}

	db.SetMaxOpenConns(config.DefaultMaxOpenConns)
	db.SetMaxIdleConns(config.DefaultMaxIdleConns)
	db.SetConnMaxLifetime(config.DefaultConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()

	if pingErr := db.PingContext(ctx); pingErr != nil {
		return nil, fmt.Errorf("failed to ping record store: %w", pingErr)
	}

	return db, nil
}

// GetRecord returns one record by ID.
func (b *PostgresBackend) GetRecord(ctx context.Context, recordID string) (*domain.Record, error) {
	query := `
		SELECT ` + recordSelectColumns + `
		FROM records
		WHERE record_id = $1
	`

	var rec domain.Record
	err := b.db.GetContext(ctx, &rec, query, recordID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get record: %w", err)
	}

	return &rec, nil
}

// PutRecord upserts the full record document in one statement, so a
// failed write leaves the stored row untouched.
func (b *PostgresBackend) PutRecord(ctx context.Context, rec *domain.Record) error {
	query := `
		INSERT INTO records (record_id, source, content, content_hash, status,
			first_seen, last_seen, last_harvest_id, missing_since, events,
			sync_state, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (record_id) DO UPDATE SET
			content = EXCLUDED.content,
			content_hash = EXCLUDED.content_hash,
			status = EXCLUDED.status,
			last_seen = EXCLUDED.last_seen,
			last_harvest_id = EXCLUDED.last_harvest_id,
			missing_since = EXCLUDED.missing_since,
			events = EXCLUDED.events,
			sync_state = EXCLUDED.sync_state,
			updated_at = EXCLUDED.updated_at
	`

	_, err := b.db.ExecContext(
		ctx, query,
		rec.RecordID, rec.Source, rec.Content, rec.ContentHash, rec.Status,
		rec.FirstSeen, rec.LastSeen, rec.LastHarvestID, rec.MissingSince,
		rec.Events, rec.Sync, rec.CreatedAt, rec.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert record: %w", err)
	}

	return nil
}

// ListRecords returns a key-ranged batch of records for one source in the
// given statuses.
func (b *PostgresBackend) ListRecords(
	ctx context.Context,
	source string,
	statuses []domain.RecordStatus,
	afterID string,
	limit int,
) ([]domain.Record, error) {
	query := `
		SELECT ` + recordSelectColumns + `
		FROM records
		WHERE source = ? AND status IN (?) AND record_id > ?
		ORDER BY record_id
		LIMIT ?
	`

	expanded, args, err := sqlx.In(query, source, statuses, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to expand IN clause: %w", err)
	}

	var records []domain.Record
	if selectErr := b.db.SelectContext(ctx, &records, b.db.Rebind(expanded), args...); selectErr != nil {
		return nil, fmt.Errorf("failed to list records: %w", selectErr)
	}

	return records, nil
}

// GetHarvest returns one harvest by ID.
func (b *PostgresBackend) GetHarvest(ctx context.Context, harvestID string) (*domain.Harvest, error) {
	query := `
		SELECT harvest_id, source, started_at, completed_at, status,
			statistics, config
		FROM harvests
		WHERE harvest_id = $1
	`

	var h domain.Harvest
	err := b.db.GetContext(ctx, &h, query, harvestID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrHarvestNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get harvest: %w", err)
	}

	return &h, nil
}

// PutHarvest upserts the harvest document.
func (b *PostgresBackend) PutHarvest(ctx context.Context, h *domain.Harvest) error {
	query := `
		INSERT INTO harvests (harvest_id, source, started_at, completed_at,
			status, statistics, config)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (harvest_id) DO UPDATE SET
			completed_at = EXCLUDED.completed_at,
			status = EXCLUDED.status,
			statistics = EXCLUDED.statistics
	`

	_, err := b.db.ExecContext(
		ctx, query,
		h.HarvestID, h.Source, h.StartedAt, h.CompletedAt, h.Status,
		h.Statistics, h.Config,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert harvest: %w", err)
	}

	return nil
}

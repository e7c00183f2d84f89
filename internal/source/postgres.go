// Package source provides streaming extraction of investigation records
// from the relational source database.
package source

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/fairdatahub/arc-harvester/internal/config"
)

const pingTimeout = 5 * time.Second

// Connect opens a connection pool to the source database.
func Connect(cfg config.DatabaseConfig) (*sqlx.DB, error) {
	db, err := sqlx.Connect("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to source database: %w", err)
	}

	db.SetMaxOpenConns(config.DefaultMaxOpenConns)
	db.SetMaxIdleConns(config.DefaultMaxIdleConns)
	db.SetConnMaxLifetime(config.DefaultConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()

	if pingErr := db.PingContext(ctx); pingErr != nil {
		return nil, fmt.Errorf("failed to ping source database: %w", pingErr)
	}

	return db, nil
}

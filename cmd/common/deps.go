// Package common provides shared dependency wiring for command
// implementations.
package common

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/fairdatahub/arc-harvester/internal/config"
	"github.com/fairdatahub/arc-harvester/internal/coordination"
	"github.com/fairdatahub/arc-harvester/internal/logger"
	"github.com/fairdatahub/arc-harvester/internal/metrics"
	"github.com/fairdatahub/arc-harvester/internal/sink"
	"github.com/fairdatahub/arc-harvester/internal/store"
	"github.com/fairdatahub/arc-harvester/internal/syncqueue"
)

// Deps holds the wired dependencies shared by all commands. Use this
// instead of context.Value for type-safe dependency injection.
type Deps struct {
	Config  *config.Config
	Log     logger.Logger
	StoreDB *sqlx.DB
	Store   *store.Store
	Sink    sink.Sink
	Queue   *syncqueue.Queue
	Metrics *metrics.Metrics
}

// Build loads configuration and wires the record store, commit sink and
// sync queue. The queue is created but not started; commands that push
// start it themselves.
func Build(ctx context.Context, cfgFile string, debug bool) (*Deps, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if debug {
		cfg.Logging.Level = "debug"
		cfg.Logging.Development = true
	}

	if validateErr := cfg.Validate(); validateErr != nil {
		return nil, fmt.Errorf("invalid configuration: %w", validateErr)
	}

	log, err := logger.New(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	storeDB, err := store.ConnectPostgres(cfg.Store)
	if err != nil {
		return nil, err
	}

	if schemaErr := store.EnsureSchema(ctx, storeDB); schemaErr != nil {
		storeDB.Close()
		return nil, schemaErr
	}

	m := metrics.NewMetrics()
	recordStore := store.New(store.NewPostgresBackend(storeDB), cfg.Harvest.EventLogCap, log)

	commitSink := sink.NewClient(
		cfg.Sink.BaseURL,
		sink.WithToken(cfg.Sink.Token),
		sink.WithTimeout(cfg.Sink.Timeout),
	)

	queue := syncqueue.New(recordStore, commitSink, cfg.Sync, m, log)

	return &Deps{
		Config:  cfg,
		Log:     log,
		StoreDB: storeDB,
		Store:   recordStore,
		Sink:    commitSink,
		Queue:   queue,
		Metrics: m,
	}, nil
}

// NewHarvestLock returns the per-source harvest lock: Redis-backed when
// coordination is configured, otherwise a single-process no-op.
func (d *Deps) NewHarvestLock(ctx context.Context) (coordination.HarvestLock, error) {
	if !d.Config.Redis.Enabled() {
		return coordination.NewNoopLock(), nil
	}

	client, err := coordination.NewRedisClient(ctx, d.Config.Redis)
	if err != nil {
		return nil, err
	}

	return coordination.NewLock(
		client, d.Config.Harvest.SourceName, coordination.DefaultLockTTL, d.Log,
	), nil
}

// Close releases held resources.
func (d *Deps) Close() {
	if d.StoreDB != nil {
		d.StoreDB.Close()
	}
	if d.Log != nil {
		_ = d.Log.Sync()
	}
}

package config_test

import (
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairdatahub/arc-harvester/internal/config"
)

func validConfig() *config.Config {
	cfg := &config.Config{
		Source: config.DatabaseConfig{Host: "localhost", DBName: "middleware"},
		Store:  config.DatabaseConfig{Host: "localhost", DBName: "harvester"},
		Harvest: config.HarvestConfig{
			SourceName: "test-source",
		},
		Sink: config.SinkConfig{BaseURL: "https://sink.example.org"},
	}
	cfg.SetDefaults()
	return cfg
}

func TestSetDefaults(t *testing.T) {
	cfg := validConfig()

	assert.Equal(t, "5432", cfg.Source.Port)
	assert.Equal(t, "disable", cfg.Source.SSLMode)
	assert.Equal(t, config.DefaultBatchSize, cfg.Harvest.BatchSize)
	assert.Equal(t, config.DefaultMaxInFlight, cfg.Harvest.MaxInFlight)
	assert.Equal(t, runtime.NumCPU(), cfg.Harvest.ConvertWorkers)
	assert.Equal(t, config.DefaultGracePeriod, cfg.Harvest.GracePeriod)
	assert.Equal(t, config.DefaultEventLogCap, cfg.Harvest.EventLogCap)
	assert.Equal(t, config.DefaultSyncPushers, cfg.Sync.Pushers)
	assert.Equal(t, config.DefaultSinkTimeout, cfg.Sink.Timeout)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestDefaultsDoNotOverrideExplicitValues(t *testing.T) {
	cfg := &config.Config{
		Harvest: config.HarvestConfig{
			SourceName:  "src",
			BatchSize:   42,
			GracePeriod: 24 * time.Hour,
		},
	}
	cfg.SetDefaults()

	assert.Equal(t, 42, cfg.Harvest.BatchSize)
	assert.Equal(t, 24*time.Hour, cfg.Harvest.GracePeriod)
}

func TestValidate(t *testing.T) {
	require.NoError(t, validConfig().Validate())
}

func TestValidateRejectsMissingFields(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"missing source host", func(c *config.Config) { c.Source.Host = "" }},
		{"missing store dbname", func(c *config.Config) { c.Store.DBName = "" }},
		{"missing source name", func(c *config.Config) { c.Harvest.SourceName = "" }},
		{"missing sink base url", func(c *config.Config) { c.Sink.BaseURL = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestDatabaseDSN(t *testing.T) {
	db := config.DatabaseConfig{
		Host:     "db.internal",
		Port:     "5433",
		User:     "harvester",
		Password: "secret",
		DBName:   "records",
		SSLMode:  "require",
	}

	assert.Equal(t,
		"host=db.internal port=5433 user=harvester password=secret dbname=records sslmode=require",
		db.DSN(),
	)
}

func TestRedisEnabled(t *testing.T) {
	assert.False(t, config.RedisConfig{}.Enabled())
	assert.True(t, config.RedisConfig{Addr: "localhost:6379"}.Enabled())
}

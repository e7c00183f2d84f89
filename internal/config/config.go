// Package config provides configuration management for the harvester.
// It handles loading, validation, and access to configuration values from
// YAML files and environment variables via Viper.
package config

import (
	"errors"
	"fmt"
	"runtime"
	"time"

	"github.com/fairdatahub/arc-harvester/internal/logger"
)

// Harvest pipeline defaults.
const (
	// DefaultBatchSize is the number of parent rows fetched per source batch.
	DefaultBatchSize = 500
	// DefaultMaxInFlight bounds records admitted into the pipeline at once.
	DefaultMaxInFlight = 32
	// DefaultRecordTimeout bounds one record's convert+store+enqueue pipeline.
	DefaultRecordTimeout = 30 * time.Second
	// DefaultEventLogCap is the maximum event log length per record.
	DefaultEventLogCap = 50
	// DefaultGracePeriod is how long a record may stay MISSING before
	// deletion detection marks it DELETED.
	DefaultGracePeriod = 72 * time.Hour
	// DefaultBatchRetries is how many times a failed source batch is retried.
	DefaultBatchRetries = 3
)

// Sync queue defaults.
const (
	DefaultSyncPushers     = 4
	DefaultSyncMaxAttempts = 5
	DefaultSyncBackoff     = 2 * time.Second
	DefaultSyncMaxBackoff  = 2 * time.Minute
)

// Database connection defaults.
const (
	DefaultMaxOpenConns    = 25
	DefaultMaxIdleConns    = 5
	DefaultConnMaxLifetime = 5 * time.Minute
)

// DefaultSinkTimeout bounds one push to the commit sink.
const DefaultSinkTimeout = 60 * time.Second

// Config represents the application configuration.
type Config struct {
	// Source holds the relational source database configuration.
	Source DatabaseConfig `mapstructure:"source" yaml:"source"`
	// Store holds the record store database configuration.
	Store DatabaseConfig `mapstructure:"store" yaml:"store"`
	// Harvest holds the ingestion pipeline configuration.
	Harvest HarvestConfig `mapstructure:"harvest" yaml:"harvest"`
	// Sync holds the downstream sync queue configuration.
	Sync SyncConfig `mapstructure:"sync" yaml:"sync"`
	// Sink holds the commit sink client configuration.
	Sink SinkConfig `mapstructure:"sink" yaml:"sink"`
	// Redis holds the optional coordination backend configuration.
	Redis RedisConfig `mapstructure:"redis" yaml:"redis"`
	// Logging holds the logger configuration.
	Logging logger.Config `mapstructure:"logging" yaml:"logging"`
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	Host     string `mapstructure:"host"     yaml:"host"`
	Port     string `mapstructure:"port"     yaml:"port"`
	User     string `mapstructure:"user"     yaml:"user"`
	Password string `mapstructure:"password" yaml:"password"`
	DBName   string `mapstructure:"dbname"   yaml:"dbname"`
	SSLMode  string `mapstructure:"sslmode"  yaml:"sslmode"`
}

// DSN returns the PostgreSQL connection string.
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode,
	)
}

// Validate validates the database configuration.
func (c DatabaseConfig) Validate() error {
	if c.Host == "" {
		return errors.New("host is required")
	}
	if c.DBName == "" {
		return errors.New("dbname is required")
	}
	return nil
}

// HarvestConfig holds the ingestion pipeline settings.
type HarvestConfig struct {
	// SourceName identifies the source in record and harvest documents.
	SourceName string `mapstructure:"source_name" yaml:"source_name"`
	// BatchSize is the parent-row batch size for the streaming extractor.
	BatchSize int `mapstructure:"batch_size" yaml:"batch_size"`
	// MaxInFlight bounds concurrently admitted records.
	MaxInFlight int `mapstructure:"max_in_flight" yaml:"max_in_flight"`
	// ConvertWorkers is the CPU-bound conversion pool size. Zero means
	// one worker per core.
	ConvertWorkers int `mapstructure:"convert_workers" yaml:"convert_workers"`
	// RecordTimeout is the per-record pipeline deadline.
	RecordTimeout time.Duration `mapstructure:"record_timeout" yaml:"record_timeout"`
	// BatchRetries is how often a transient batch failure is retried.
	BatchRetries int `mapstructure:"batch_retries" yaml:"batch_retries"`
	// EventLogCap caps each record's event log length.
	EventLogCap int `mapstructure:"event_log_cap" yaml:"event_log_cap"`
	// GracePeriod is how long a record may stay MISSING before deletion.
	GracePeriod time.Duration `mapstructure:"grace_period" yaml:"grace_period"`
	// AutoDelete enables the MISSING -> DELETED transition.
	AutoDelete bool `mapstructure:"auto_delete" yaml:"auto_delete"`
}

// SetDefaults applies default values to the harvest configuration.
func (c *HarvestConfig) SetDefaults() {
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.MaxInFlight <= 0 {
		c.MaxInFlight = DefaultMaxInFlight
	}
	if c.ConvertWorkers <= 0 {
		c.ConvertWorkers = runtime.NumCPU()
	}
	if c.RecordTimeout <= 0 {
		c.RecordTimeout = DefaultRecordTimeout
	}
	if c.BatchRetries <= 0 {
		c.BatchRetries = DefaultBatchRetries
	}
	if c.EventLogCap <= 0 {
		c.EventLogCap = DefaultEventLogCap
	}
	if c.GracePeriod <= 0 {
		c.GracePeriod = DefaultGracePeriod
	}
}

// Validate validates the harvest configuration.
func (c HarvestConfig) Validate() error {
	if c.SourceName == "" {
		return errors.New("source_name is required")
	}
	return nil
}

// SyncConfig holds the downstream sync queue settings.
type SyncConfig struct {
	// Pushers is the number of concurrent push workers.
	Pushers int `mapstructure:"pushers" yaml:"pushers"`
	// MaxAttempts bounds push retries per enqueued record.
	MaxAttempts int `mapstructure:"max_attempts" yaml:"max_attempts"`
	// Backoff is the initial delay between push retries.
	Backoff time.Duration `mapstructure:"backoff" yaml:"backoff"`
	// MaxBackoff caps the delay between push retries.
	MaxBackoff time.Duration `mapstructure:"max_backoff" yaml:"max_backoff"`
}

// SetDefaults applies default values to the sync configuration.
func (c *SyncConfig) SetDefaults() {
	if c.Pushers <= 0 {
		c.Pushers = DefaultSyncPushers
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultSyncMaxAttempts
	}
	if c.Backoff <= 0 {
		c.Backoff = DefaultSyncBackoff
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = DefaultSyncMaxBackoff
	}
}

// SinkConfig holds the commit sink client settings.
type SinkConfig struct {
	// BaseURL is the sink endpoint, e.g. https://git.example.org/api.
	BaseURL string `mapstructure:"base_url" yaml:"base_url"`
	// Token authenticates against the sink.
	Token string `mapstructure:"token" yaml:"token"`
	// Timeout bounds one push request.
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// SetDefaults applies default values to the sink configuration.
func (c *SinkConfig) SetDefaults() {
	if c.Timeout <= 0 {
		c.Timeout = DefaultSinkTimeout
	}
}

// Validate validates the sink configuration.
func (c SinkConfig) Validate() error {
	if c.BaseURL == "" {
		return errors.New("base_url is required")
	}
	return nil
}

// RedisConfig holds the optional Redis coordination settings. An empty
// address disables the per-source harvest lock.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"     yaml:"addr"`
	Password string `mapstructure:"password" yaml:"password"`
	DB       int    `mapstructure:"db"       yaml:"db"`
}

// Enabled reports whether Redis coordination is configured.
func (c RedisConfig) Enabled() bool {
	return c.Addr != ""
}

// SetDefaults applies default values to the configuration.
func (c *Config) SetDefaults() {
	if c.Source.SSLMode == "" {
		c.Source.SSLMode = "disable"
	}
	if c.Source.Port == "" {
		c.Source.Port = "5432"
	}
	if c.Store.SSLMode == "" {
		c.Store.SSLMode = "disable"
	}
	if c.Store.Port == "" {
		c.Store.Port = "5432"
	}
	c.Harvest.SetDefaults()
	c.Sync.SetDefaults()
	c.Sink.SetDefaults()
	c.Logging.SetDefaults()
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.Source.Validate(); err != nil {
		return fmt.Errorf("source: %w", err)
	}
	if err := c.Store.Validate(); err != nil {
		return fmt.Errorf("store: %w", err)
	}
	if err := c.Harvest.Validate(); err != nil {
		return fmt.Errorf("harvest: %w", err)
	}
	if err := c.Sink.Validate(); err != nil {
		return fmt.Errorf("sink: %w", err)
	}
	return nil
}

package config

import (
	"fmt"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Load loads configuration from the given file path (optional), the
// environment, and defaults, in ascending precedence: defaults, config
// file, environment variables.
func Load(path string) (*Config, error) {
	// .env values become visible to AutomaticEnv; a missing file is fine.
	_ = godotenv.Load()

	v := viper.New()
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	if err := v.ReadInConfig(); err != nil {
		// A missing default config file is not an error; an explicit
		// path that fails to load is.
		if path != "" {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	if err := bindEnvironmentVariables(v); err != nil {
		return nil, fmt.Errorf("failed to bind environment variables: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.SetDefaults()

	return &cfg, nil
}

// envBindings maps config keys to their environment variable names.
var envBindings = map[string]string{
	"source.host":           "SOURCE_DB_HOST",
	"source.port":           "SOURCE_DB_PORT",
	"source.user":           "SOURCE_DB_USER",
	"source.password":       "SOURCE_DB_PASSWORD",
	"source.dbname":         "SOURCE_DB_NAME",
	"source.sslmode":        "SOURCE_DB_SSLMODE",
	"store.host":            "STORE_DB_HOST",
	"store.port":            "STORE_DB_PORT",
	"store.user":            "STORE_DB_USER",
	"store.password":        "STORE_DB_PASSWORD",
	"store.dbname":          "STORE_DB_NAME",
	"store.sslmode":         "STORE_DB_SSLMODE",
	"harvest.source_name":   "HARVEST_SOURCE_NAME",
	"harvest.batch_size":    "HARVEST_BATCH_SIZE",
	"harvest.max_in_flight": "HARVEST_MAX_IN_FLIGHT",
	"harvest.grace_period":  "HARVEST_GRACE_PERIOD",
	"harvest.auto_delete":   "HARVEST_AUTO_DELETE",
	"sink.base_url":         "SINK_BASE_URL",
	"sink.token":            "SINK_TOKEN",
	"redis.addr":            "REDIS_ADDR",
	"redis.password":        "REDIS_PASSWORD",
	"logging.level":         "LOG_LEVEL",
}

// bindEnvironmentVariables binds well-known environment variables to
// config keys.
func bindEnvironmentVariables(v *viper.Viper) error {
	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return fmt.Errorf("failed to bind %s: %w", env, err)
		}
	}
	return nil
}

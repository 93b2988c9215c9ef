package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Load configuration from environment variables and optionally a config file.
// Environment variables (prefix RECUR_, nested keys joined with underscores,
// e.g. RECUR_SERVER_PORT) take precedence over values from config files.
// Returns a populated Config struct or an error if loading/validation fails.
func Load() (*Config, error) {
	v := viper.New()

	// Defaults that make local development work out of the box.
	v.SetDefault("server.port", 8085)
	v.SetDefault("server.log_level", "info")
	v.SetDefault("bus.kind", "memory")
	v.SetDefault("bus.group_prefix", "recur")
	v.SetDefault("scheduler.worker_count", 4)
	v.SetDefault("scheduler.fired_queue_size", 256)
	v.SetDefault("scheduler.dedup_retention", 7*24*time.Hour)
	v.SetDefault("scheduler.retention_interval", time.Hour)
	v.SetDefault("task_api.timeout", 10*time.Second)

	// Keys without meaningful defaults still need to be registered so
	// AutomaticEnv values reach Unmarshal; validation rejects the zero values.
	v.SetDefault("database.url", "")
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("bus.brokers", []string{})
	v.SetDefault("task_api.base_url", "")
	v.SetDefault("task_api.service_token", "")

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		// A missing config file is fine; env vars carry the load.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvPrefix("RECUR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

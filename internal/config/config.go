package config

import "time"

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"    validate:"required"`
	Database  DatabaseConfig  `mapstructure:"database"  validate:"required"`
	Auth      AuthConfig      `mapstructure:"auth"      validate:"required"`
	Bus       BusConfig       `mapstructure:"bus"       validate:"required"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	TaskAPI   TaskAPIConfig   `mapstructure:"task_api"  validate:"required"`
}

// ServerConfig contains the admin/trigger HTTP server settings.
type ServerConfig struct {
	Port     int    `mapstructure:"port"      validate:"required,gt=0,lt=65536"`
	LogLevel string `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
}

// DatabaseConfig contains all database-related configuration settings.
type DatabaseConfig struct {
	URL string `mapstructure:"url" validate:"required,url"`
}

// AuthConfig contains admin API authentication settings. Tokens are issued by
// the external auth collaborator; this core only verifies them.
type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret" validate:"required,min=32"`
}

// BusConfig selects and configures the event bus implementation.
type BusConfig struct {
	// Kind is "kafka" or "memory".
	Kind string `mapstructure:"kind" validate:"required,oneof=kafka memory"`

	// Brokers lists Kafka bootstrap addresses. Required when Kind is kafka.
	Brokers []string `mapstructure:"brokers" validate:"required_if=Kind kafka"`

	// GroupPrefix namespaces this deployment's consumer groups.
	GroupPrefix string `mapstructure:"group_prefix"`
}

// SchedulerConfig tunes the job scheduler and retention loops.
type SchedulerConfig struct {
	WorkerCount       int           `mapstructure:"worker_count"       validate:"omitempty,gt=0"`
	FiredQueueSize    int           `mapstructure:"fired_queue_size"   validate:"omitempty,gt=0"`
	DedupRetention    time.Duration `mapstructure:"dedup_retention"`
	RetentionInterval time.Duration `mapstructure:"retention_interval"`
}

// TaskAPIConfig configures the external task service client.
type TaskAPIConfig struct {
	BaseURL      string        `mapstructure:"base_url"      validate:"required,url"`
	ServiceToken string        `mapstructure:"service_token" validate:"required"`
	Timeout      time.Duration `mapstructure:"timeout"`
}

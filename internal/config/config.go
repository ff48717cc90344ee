// Package config loads and validates the application configuration.
package config

import "time"

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Server   ServerConfig   `mapstructure:"server" validate:"required"`
	Database DatabaseConfig `mapstructure:"database" validate:"required"`
	Auth     AuthConfig     `mapstructure:"auth" validate:"required"`
	Queue    QueueConfig    `mapstructure:"queue" validate:"required"`
	Sweep    SweepConfig    `mapstructure:"sweep" validate:"required"`
}

// ServerConfig contains all server-related configuration settings.
type ServerConfig struct {
	Port     int    `mapstructure:"port" validate:"required,gt=0,lt=65536"`
	LogLevel string `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
}

// DatabaseConfig contains all database-related configuration settings.
type DatabaseConfig struct {
	URL string `mapstructure:"url" validate:"required,url"`
}

// AuthConfig contains authentication settings. JWTSecret verifies client
// bearer tokens minted by the main gallery service; WorkerToken is the
// shared secret presented by the worker event publisher.
type AuthConfig struct {
	JWTSecret   string `mapstructure:"jwt_secret" validate:"required,min=32"`
	WorkerToken string `mapstructure:"worker_token" validate:"required,min=16"`
}

// QueueConfig contains the queue coordinator policy settings.
type QueueConfig struct {
	MaxQueuedPerUser int           `mapstructure:"max_queued_per_user" validate:"required,gt=0"`
	MeanJobDuration  time.Duration `mapstructure:"mean_job_duration" validate:"required"`
}

// SweepConfig contains the timeout sweeper policy settings.
type SweepConfig struct {
	StartTimeout time.Duration `mapstructure:"start_timeout" validate:"required"`
	Interval     time.Duration `mapstructure:"interval" validate:"required"`
}

package config

import "time"

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Server    ServerConfig    `mapstructure:"server" validate:"required"`
	Storage   StorageConfig   `mapstructure:"storage" validate:"required"`
	Task      TaskConfig      `mapstructure:"task" validate:"required"`
	Engine    EngineConfig    `mapstructure:"engine" validate:"required"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// ServerConfig contains all server-related configuration settings.
type ServerConfig struct {
	Port            int           `mapstructure:"port" validate:"required,gt=0,lt=65536"`
	LogLevel        string        `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
	MaxUploadMB     int64         `mapstructure:"max_upload_mb" validate:"required,gt=0"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"required,gt=0"`
}

// StorageConfig locates the task records, the published outputs and the
// temporary upload area, and bounds the number of retained outputs.
type StorageConfig struct {
	TasksDir       string `mapstructure:"tasks_dir" validate:"required"`
	OutputDir      string `mapstructure:"output_dir" validate:"required"`
	TempDir        string `mapstructure:"temp_dir" validate:"required"`
	MaxOutputFiles int    `mapstructure:"max_output_files" validate:"required,min=1,max=100"`
}

// TaskConfig controls the background worker pool.
type TaskConfig struct {
	WorkerCount   int           `mapstructure:"worker_count" validate:"required,gt=0"`
	QueueSize     int           `mapstructure:"queue_size" validate:"required,gt=0"`
	EngineTimeout time.Duration `mapstructure:"engine_timeout" validate:"required,gt=0"`
}

// EngineConfig names the external media tools.
type EngineConfig struct {
	FFmpegPath  string `mapstructure:"ffmpeg_path" validate:"required"`
	FFprobePath string `mapstructure:"ffprobe_path" validate:"required"`
}

// DatabaseConfig selects PostgreSQL for task records when URL is set.
type DatabaseConfig struct {
	URL string `mapstructure:"url" validate:"omitempty,url"`
}

// CacheConfig enables a redis read-through cache for task lookups.
type CacheConfig struct {
	RedisAddr string        `mapstructure:"redis_addr" validate:"omitempty,hostname_port"`
	TTL       time.Duration `mapstructure:"ttl" validate:"gte=0"`
}

// TelemetryConfig toggles the stdout OpenTelemetry exporters.
type TelemetryConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

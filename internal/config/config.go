// Package config loads and validates the application configuration from
// environment variables and an optional config file.
package config

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"  validate:"required"`
	Auth    AuthConfig    `mapstructure:"auth"    validate:"required"`
	Pool    PoolConfig    `mapstructure:"pool"    validate:"required"`
	Engine  EngineConfig  `mapstructure:"engine"  validate:"required"`
	Storage StorageConfig `mapstructure:"storage" validate:"required"`
	Tasks   TasksConfig   `mapstructure:"tasks"   validate:"required"`
}

// ServerConfig contains all HTTP server related settings.
type ServerConfig struct {
	Port     int    `mapstructure:"port"      validate:"required,gt=0,lt=65536"`
	LogLevel string `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
	// BaseURL is the externally visible origin used when issuing
	// artifact URLs.
	BaseURL string `mapstructure:"base_url" validate:"required,url"`
}

// AuthConfig contains API authentication settings.
type AuthConfig struct {
	// APIKey is the static bearer key required on all endpoints except
	// health.
	APIKey string `mapstructure:"api_key" validate:"required,min=16"`
}

// PoolConfig contains account pool and admission settings.
type PoolConfig struct {
	// AccountsDir is scanned for per-account credential bundles.
	AccountsDir string `mapstructure:"accounts_dir" validate:"required"`
	// FallbackCredentialsFile is loaded as a single "default" account
	// when the accounts directory yields nothing.
	FallbackCredentialsFile string `mapstructure:"fallback_credentials_file"`
	GlobalLimit             int    `mapstructure:"global_limit"     validate:"required,gt=0"`
	PerAccountLimit         int    `mapstructure:"per_account_limit" validate:"required,gt=0"`
	CooldownSeconds         int    `mapstructure:"cooldown_seconds"  validate:"required,gt=0"`
}

// EngineConfig contains generation engine settings.
type EngineConfig struct {
	ImageModel          string `mapstructure:"image_model"           validate:"required"`
	VideoModel          string `mapstructure:"video_model"           validate:"required"`
	TimeoutSeconds      int    `mapstructure:"timeout_seconds"       validate:"required,gt=0"`
	VideoTimeoutSeconds int    `mapstructure:"video_timeout_seconds" validate:"required,gt=0"`
}

// StorageConfig contains artifact storage settings.
type StorageConfig struct {
	Dir          string `mapstructure:"dir"           validate:"required"`
	CleanupHours int    `mapstructure:"cleanup_hours" validate:"required,gt=0"`
}

// TasksConfig contains async task store and runner settings.
type TasksConfig struct {
	// FilePath is the durable task file. Exactly one process may own it
	// at a time.
	FilePath                   string `mapstructure:"file_path"    validate:"required"`
	QueueSize                  int    `mapstructure:"queue_size"   validate:"required,gt=0"`
	WorkerCount                int    `mapstructure:"worker_count" validate:"required,gt=0"`
	AdmissionRetryDelaySeconds int    `mapstructure:"admission_retry_delay_seconds" validate:"required,gt=0"`
}

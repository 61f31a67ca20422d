package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// envPrefix is the prefix for environment variable overrides, e.g.
// MIRAGE_SERVER_PORT overrides server.port.
const envPrefix = "MIRAGE"

// Load reads configuration from an optional config.yaml in the working
// directory and from environment variables. Environment variables take
// precedence over file values. Returns a validated Config or an error
// if loading or validation fails.
func Load() (*Config, error) {
	return LoadWithFile("")
}

// LoadWithFile is Load with an explicit config file path, used by tests
// to avoid depending on the working directory.
func LoadWithFile(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		// A missing config file is fine; env vars and defaults carry
		// the load. Anything else (bad YAML, unreadable file) is not.
		var notFound viper.ConfigFileNotFoundError
		if configPath != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8000)
	// Registered empty so AutomaticEnv can populate it during Unmarshal;
	// validation still rejects a missing key.
	v.SetDefault("auth.api_key", "")
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.base_url", "http://localhost:8000")

	v.SetDefault("pool.accounts_dir", "./data/accounts")
	v.SetDefault("pool.fallback_credentials_file", "./data/credentials.json")
	v.SetDefault("pool.global_limit", 5)
	v.SetDefault("pool.per_account_limit", 1)
	v.SetDefault("pool.cooldown_seconds", 600)

	v.SetDefault("engine.image_model", "imagen-3.0-generate-002")
	v.SetDefault("engine.video_model", "veo-2.0-generate-001")
	v.SetDefault("engine.timeout_seconds", 80)
	v.SetDefault("engine.video_timeout_seconds", 600)

	v.SetDefault("storage.dir", "./static/generated")
	v.SetDefault("storage.cleanup_hours", 24)

	v.SetDefault("tasks.file_path", "./data/tasks.json")
	v.SetDefault("tasks.queue_size", 100)
	v.SetDefault("tasks.worker_count", 2)
	v.SetDefault("tasks.admission_retry_delay_seconds", 2)
}

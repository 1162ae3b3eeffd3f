// Package config loads judge configuration from environment variables and
// an optional config file.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// Config holds every tunable of the judging core.
type Config struct {
	LogLevel string `mapstructure:"log_level"`

	// Sandbox driver.
	IsolatePath   string `mapstructure:"isolate_path"`
	DataDirectory string `mapstructure:"data_directory"`
	BoxIDMin      int    `mapstructure:"box_id_min"`
	BoxIDMax      int    `mapstructure:"box_id_max"`

	// Dispatcher.
	DispatcherBindAddress string `mapstructure:"dispatcher_bind_address"`
	ResultBroadcastBuffer int    `mapstructure:"result_broadcast_buffer"`
	JobQueueBuffer        int    `mapstructure:"job_queue_buffer"`

	// Worker.
	DispatcherURL      string        `mapstructure:"dispatcher_url"`
	ReconnectBackoff   time.Duration `mapstructure:"reconnect_backoff"`
	WorkerSupportedAll bool          `mapstructure:"worker_supports_all_languages"`

	// Compile-stage limits, fixed by spec.md §4.3.1-3.
	CompileTimeLimitMs     int   `mapstructure:"compile_time_limit_ms"`
	CompileMemoryLimitKiB  int64 `mapstructure:"compile_memory_limit_kib"`
	SandboxWallTimeSeconds int   `mapstructure:"sandbox_wall_time_seconds"`
}

// Load reads configuration from the environment (prefixed JUDGE_) and,
// optionally, a config file named judge.yaml in the working directory,
// /etc/judge/, or $HOME/.judge/.
func Load() (*Config, error) {
	viper.SetDefault("log_level", "info")
	viper.SetDefault("isolate_path", "/usr/local/bin/isolate")
	viper.SetDefault("data_directory", "./data")
	viper.SetDefault("box_id_min", 0)
	viper.SetDefault("box_id_max", 999)
	viper.SetDefault("dispatcher_bind_address", "0.0.0.0:8080")
	viper.SetDefault("result_broadcast_buffer", 256)
	viper.SetDefault("job_queue_buffer", 1024)
	viper.SetDefault("dispatcher_url", "ws://127.0.0.1:8080/rpc/worker")
	viper.SetDefault("reconnect_backoff", "3s")
	viper.SetDefault("worker_supports_all_languages", true)
	viper.SetDefault("compile_time_limit_ms", 25000)
	viper.SetDefault("compile_memory_limit_kib", 1048576)
	viper.SetDefault("sandbox_wall_time_seconds", 50)

	viper.SetEnvPrefix("JUDGE")
	viper.AutomaticEnv()

	viper.SetConfigName("judge")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("/etc/judge/")
	viper.AddConfigPath("$HOME/.judge/")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func validate(cfg *Config) error {
	if _, err := logrus.ParseLevel(cfg.LogLevel); err != nil {
		return fmt.Errorf("invalid log level: %s", cfg.LogLevel)
	}

	if cfg.BoxIDMin < 0 || cfg.BoxIDMax <= cfg.BoxIDMin {
		return fmt.Errorf("box_id_min must be non-negative and less than box_id_max")
	}

	if _, err := os.Stat(cfg.DataDirectory); os.IsNotExist(err) {
		if err := os.MkdirAll(cfg.DataDirectory, 0o755); err != nil {
			return fmt.Errorf("data directory does not exist and could not be created: %w", err)
		}
	}

	return nil
}

// GetLogLevel returns the parsed logrus level, defaulting to Info on error.
func (c *Config) GetLogLevel() logrus.Level {
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return logrus.InfoLevel
	}
	return level
}

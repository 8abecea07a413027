// Package config loads the spool configuration from file, environment,
// and defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// Config is the full spool configuration tree.
type Config struct {
	Adapter   AdapterConfig   `mapstructure:"adapter"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Server    ServerConfig    `mapstructure:"server"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// AdapterConfig selects and configures the storage backend.
type AdapterConfig struct {
	// Type is "dir" or "s3".
	Type string `mapstructure:"type"`

	Dir DirConfig `mapstructure:"dir"`
	S3  S3Config  `mapstructure:"s3"`
}

// DirConfig configures the local directory backend.
type DirConfig struct {
	BaseDir      string `mapstructure:"base_dir"`
	Pattern      string `mapstructure:"pattern"`
	OutputSuffix string `mapstructure:"output_suffix"`
}

// S3Config configures the S3 backend.
type S3Config struct {
	Bucket            string  `mapstructure:"bucket"`
	Prefix            string  `mapstructure:"prefix"`
	Region            string  `mapstructure:"region"`
	Endpoint          string  `mapstructure:"endpoint"`
	Profile           string  `mapstructure:"profile"`
	AccessKeyID       string  `mapstructure:"access_key_id"`
	SecretAccessKey   string  `mapstructure:"secret_access_key"`
	ForcePathStyle    bool    `mapstructure:"force_path_style"`
	Pattern           string  `mapstructure:"pattern"`
	OutputSuffix      string  `mapstructure:"output_suffix"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
}

// SchedulerConfig configures the run loop.
type SchedulerConfig struct {
	PollingInterval time.Duration `mapstructure:"polling_interval"`
	Timeout         time.Duration `mapstructure:"timeout"`
	Debug           bool          `mapstructure:"debug"`
	ResumeActive    bool          `mapstructure:"resume_active"`
}

// ServerConfig configures the status HTTP server.
type ServerConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// MetricsConfig configures Prometheus metrics.
type MetricsConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Namespace string `mapstructure:"namespace"`
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// SetDefaults installs all configuration defaults on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("adapter.type", "dir")
	v.SetDefault("adapter.dir.base_dir", ".")
	v.SetDefault("adapter.dir.pattern", "*.yaml")
	v.SetDefault("adapter.dir.output_suffix", ".out")
	v.SetDefault("adapter.s3.pattern", "*.yaml")
	v.SetDefault("adapter.s3.output_suffix", ".out")

	v.SetDefault("scheduler.polling_interval", "10s")
	v.SetDefault("scheduler.timeout", "0s")
	v.SetDefault("scheduler.debug", false)
	v.SetDefault("scheduler.resume_active", false)

	v.SetDefault("server.enabled", false)
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.namespace", "spool")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
}

// Load reads the configuration from the given file (optional), the
// environment (SPOOL_ prefix, dots become underscores), and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	SetDefaults(v)

	v.SetEnvPrefix("SPOOL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("spool")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.spool")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(
		mapstructure.StringToTimeDurationHookFunc(),
	)); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	switch c.Adapter.Type {
	case "dir":
		if c.Adapter.Dir.BaseDir == "" {
			return fmt.Errorf("adapter.dir.base_dir is required")
		}
	case "s3":
		if c.Adapter.S3.Bucket == "" {
			return fmt.Errorf("adapter.s3.bucket is required")
		}
	default:
		return fmt.Errorf("adapter.type must be dir or s3, got %q", c.Adapter.Type)
	}

	if c.Scheduler.PollingInterval < 0 {
		return fmt.Errorf("scheduler.polling_interval must be >= 0")
	}
	if c.Scheduler.Timeout < 0 {
		return fmt.Errorf("scheduler.timeout must be >= 0")
	}
	if c.Server.Enabled && (c.Server.Port < 0 || c.Server.Port > 65535) {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	return nil
}

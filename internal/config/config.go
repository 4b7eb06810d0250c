// Package config loads the service configuration from YAML with
// environment variable overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/siem-platform/detect-service/internal/consumer"
	"github.com/siem-platform/detect-service/internal/rules"
	"github.com/siem-platform/detect-service/internal/state"
	"github.com/siem-platform/detect-service/internal/storage"
)

// Config is the root configuration for the detection service.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	NATS      consumer.Config `yaml:"nats"`
	Storage   StorageConfig   `yaml:"storage"`
	State     StateConfig     `yaml:"state"`
	Detection DetectionConfig `yaml:"detection"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig holds the HTTP server configuration for the health and
// metrics endpoints.
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// StorageConfig holds the alert sink configuration.
type StorageConfig struct {
	ClickHouse storage.ClickHouseConfig `yaml:"clickhouse"`
}

// StateConfig selects and configures the rule state backend.
type StateConfig struct {
	// Backend is "memory" or "redis".
	Backend string            `yaml:"backend"`
	Redis   state.RedisConfig `yaml:"redis"`
}

// DetectionConfig holds per-rule tuning.
type DetectionConfig struct {
	FailedLogin rules.FailedLoginConfig `yaml:"failed_login"`
}

// LoggingConfig holds the logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8081,
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    10 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		NATS:    consumer.DefaultConfig(),
		Storage: StorageConfig{ClickHouse: storage.DefaultClickHouseConfig()},
		State: StateConfig{
			Backend: "memory",
			Redis:   state.DefaultRedisConfig(),
		},
		Detection: DetectionConfig{
			FailedLogin: rules.DefaultFailedLoginConfig(),
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads the configuration file and applies environment overrides.
// The path comes from DETECT_CONFIG_PATH, defaulting to
// configs/config.yaml. A missing file is not an error; defaults apply.
func Load() (*Config, error) {
	cfg := DefaultConfig()

	path := os.Getenv("DETECT_CONFIG_PATH")
	if path == "" {
		path = "configs/config.yaml"
	}

	data, err := os.ReadFile(path)
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("NATS_URL"); v != "" {
		c.NATS.URL = v
	}
	if v := os.Getenv("CLICKHOUSE_HOST"); v != "" {
		c.Storage.ClickHouse.Hosts = []string{v}
	}
	if v := os.Getenv("CLICKHOUSE_DATABASE"); v != "" {
		c.Storage.ClickHouse.Database = v
	}
	if v := os.Getenv("CLICKHOUSE_USER"); v != "" {
		c.Storage.ClickHouse.Username = v
	}
	if v := os.Getenv("CLICKHOUSE_PASSWORD"); v != "" {
		c.Storage.ClickHouse.Password = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.State.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		c.State.Redis.Password = v
	}
	if v := os.Getenv("STATE_BACKEND"); v != "" {
		c.State.Backend = v
	}
	if v := os.Getenv("DETECT_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("DETECT_HTTP_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.NATS.URL == "" {
		return fmt.Errorf("nats url is required")
	}
	if c.NATS.Stream == "" {
		return fmt.Errorf("nats stream is required")
	}
	if c.NATS.Durable == "" {
		return fmt.Errorf("nats durable consumer name is required")
	}
	if len(c.Storage.ClickHouse.Hosts) == 0 {
		return fmt.Errorf("clickhouse hosts are required")
	}
	if c.Storage.ClickHouse.Database == "" {
		return fmt.Errorf("clickhouse database is required")
	}
	switch c.State.Backend {
	case "memory":
	case "redis":
		if c.State.Redis.Addr == "" {
			return fmt.Errorf("redis addr is required for the redis state backend")
		}
	default:
		return fmt.Errorf("invalid state backend: %q (want memory or redis)", c.State.Backend)
	}
	if c.Detection.FailedLogin.Threshold < 1 {
		return fmt.Errorf("failed_login threshold must be at least 1")
	}
	if c.Detection.FailedLogin.Window <= 0 {
		return fmt.Errorf("failed_login window must be positive")
	}
	if c.Detection.FailedLogin.SuppressionTTL < 0 {
		return fmt.Errorf("failed_login suppression_ttl must not be negative")
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %q", c.Logging.Level)
	}
	return nil
}

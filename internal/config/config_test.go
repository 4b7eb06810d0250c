package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfigIsValid(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	t.Setenv("DETECT_CONFIG_PATH", filepath.Join(t.TempDir(), "nope.yaml"))

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 8081 {
		t.Errorf("port = %d, want default 8081", cfg.Server.Port)
	}
	if cfg.State.Backend != "memory" {
		t.Errorf("backend = %q, want memory", cfg.State.Backend)
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
server:
  port: 9090
nats:
  url: nats://events:4222
  durable: my-consumer
state:
  backend: redis
  redis:
    addr: redis:6379
detection:
  failed_login:
    threshold: 5
    window: 2m
logging:
  level: debug
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("DETECT_CONFIG_PATH", path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("port = %d", cfg.Server.Port)
	}
	if cfg.NATS.URL != "nats://events:4222" {
		t.Errorf("nats url = %q", cfg.NATS.URL)
	}
	if cfg.NATS.Stream != "EVENTS" {
		t.Errorf("unset stream should keep default, got %q", cfg.NATS.Stream)
	}
	if cfg.State.Backend != "redis" || cfg.State.Redis.Addr != "redis:6379" {
		t.Errorf("state = %+v", cfg.State)
	}
	if cfg.Detection.FailedLogin.Threshold != 5 {
		t.Errorf("threshold = %d", cfg.Detection.FailedLogin.Threshold)
	}
	if cfg.Detection.FailedLogin.Window != 2*time.Minute {
		t.Errorf("window = %v", cfg.Detection.FailedLogin.Window)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("log level = %q", cfg.Logging.Level)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("DETECT_CONFIG_PATH", filepath.Join(t.TempDir(), "nope.yaml"))
	t.Setenv("NATS_URL", "nats://override:4222")
	t.Setenv("CLICKHOUSE_HOST", "ch:9000")
	t.Setenv("CLICKHOUSE_DATABASE", "detect")
	t.Setenv("STATE_BACKEND", "redis")
	t.Setenv("REDIS_ADDR", "cache:6379")
	t.Setenv("DETECT_LOG_LEVEL", "warn")
	t.Setenv("DETECT_HTTP_PORT", "9191")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.NATS.URL != "nats://override:4222" {
		t.Errorf("nats url = %q", cfg.NATS.URL)
	}
	if len(cfg.Storage.ClickHouse.Hosts) != 1 || cfg.Storage.ClickHouse.Hosts[0] != "ch:9000" {
		t.Errorf("hosts = %v", cfg.Storage.ClickHouse.Hosts)
	}
	if cfg.Storage.ClickHouse.Database != "detect" {
		t.Errorf("database = %q", cfg.Storage.ClickHouse.Database)
	}
	if cfg.State.Backend != "redis" || cfg.State.Redis.Addr != "cache:6379" {
		t.Errorf("state = %+v", cfg.State)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("log level = %q", cfg.Logging.Level)
	}
	if cfg.Server.Port != 9191 {
		t.Errorf("port = %d", cfg.Server.Port)
	}
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad port", func(c *Config) { c.Server.Port = 0 }},
		{"empty nats url", func(c *Config) { c.NATS.URL = "" }},
		{"empty durable", func(c *Config) { c.NATS.Durable = "" }},
		{"no clickhouse hosts", func(c *Config) { c.Storage.ClickHouse.Hosts = nil }},
		{"unknown backend", func(c *Config) { c.State.Backend = "etcd" }},
		{"redis backend without addr", func(c *Config) {
			c.State.Backend = "redis"
			c.State.Redis.Addr = ""
		}},
		{"zero threshold", func(c *Config) { c.Detection.FailedLogin.Threshold = 0 }},
		{"zero window", func(c *Config) { c.Detection.FailedLogin.Window = 0 }},
		{"negative suppression ttl", func(c *Config) { c.Detection.FailedLogin.SuppressionTTL = -time.Second }},
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

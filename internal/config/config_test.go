// ABOUTME: Tests for configuration loading and parsing
// ABOUTME: Covers YAML and TOML loading, env var expansion, defaults, and validation

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	return path
}

func TestLoad_ValidYAML(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
server:
  transport: "http"
  http_addr: "0.0.0.0:9000"
  error_delivery: "protocol"
  exec_timeout: "45s"
  shutdown_grace: "2s"

api:
  base_url: "http://localhost:3000/api/v2"
  timeout: "5s"
  max_retries: 1

registry:
  allow_duplicate_names: true
  max_tools: 10

sessions:
  max_connections: 2
  session_timeout: "15m"

errors:
  development: true
  max_message_length: 200

logging:
  level: "debug"
  format: "json"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.Transport != TransportHTTP {
		t.Errorf("expected http transport, got %q", cfg.Server.Transport)
	}
	if cfg.Server.ExecTimeout != 45*time.Second {
		t.Errorf("expected exec_timeout 45s, got %v", cfg.Server.ExecTimeout)
	}
	if cfg.Server.ShutdownGrace != 2*time.Second {
		t.Errorf("expected shutdown_grace 2s, got %v", cfg.Server.ShutdownGrace)
	}
	if cfg.API.Timeout != 5*time.Second || cfg.API.MaxRetries != 1 {
		t.Errorf("unexpected api config %+v", cfg.API)
	}
	if !cfg.Registry.AllowDuplicateNames || cfg.Registry.MaxTools != 10 {
		t.Errorf("unexpected registry config %+v", cfg.Registry)
	}
	if cfg.Sessions.SessionTimeout != 15*time.Minute {
		t.Errorf("expected session_timeout 15m, got %v", cfg.Sessions.SessionTimeout)
	}
	if !cfg.Errors.Development || cfg.Errors.MaxMessageLength != 200 {
		t.Errorf("unexpected errors config %+v", cfg.Errors)
	}

	// Omitted keys keep defaults
	if !cfg.Registry.ValidateOnRegister {
		t.Error("expected validate_on_register to default to true")
	}
	if !cfg.Errors.LogErrors {
		t.Error("expected log_errors to default to true")
	}
	if cfg.Server.Name != "stampchain-mcp" {
		t.Errorf("expected default server name, got %q", cfg.Server.Name)
	}
}

func TestLoad_TOML(t *testing.T) {
	path := writeConfig(t, "config.toml", `
[server]
transport = "stdio"
exec_timeout = "10s"

[sessions]
max_connections = 7

[logging]
level = "warn"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.ExecTimeout != 10*time.Second {
		t.Errorf("expected exec_timeout 10s, got %v", cfg.Server.ExecTimeout)
	}
	if cfg.Sessions.MaxConnections != 7 {
		t.Errorf("expected max_connections 7, got %d", cfg.Sessions.MaxConnections)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("expected level warn, got %q", cfg.Logging.Level)
	}
	if cfg.Sessions.SessionTimeout != time.Hour {
		t.Errorf("expected default session timeout, got %v", cfg.Sessions.SessionTimeout)
	}
}

func TestLoad_CacheSettings(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
api:
  cache_ttl: "0s"
  cache_size: 25
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.API.CacheTTL != 0 {
		t.Errorf("expected caching disabled, got ttl %v", cfg.API.CacheTTL)
	}
	if cfg.API.CacheSize != 25 {
		t.Errorf("expected cache_size 25, got %d", cfg.API.CacheSize)
	}

	if d := Default(); d.API.CacheTTL != 5*time.Minute || d.API.CacheSize != 500 {
		t.Errorf("unexpected cache defaults: ttl=%v size=%d", d.API.CacheTTL, d.API.CacheSize)
	}
}

func TestLoad_EnvVarExpansion(t *testing.T) {
	t.Setenv("TEST_STAMPCHAIN_URL", "https://example.test/api/v2")

	path := writeConfig(t, "config.yaml", `
api:
  base_url: "${TEST_STAMPCHAIN_URL}"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.API.BaseURL != "https://example.test/api/v2" {
		t.Errorf("expected expanded base_url, got %q", cfg.API.BaseURL)
	}
}

func TestLoad_InvalidDuration(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
sessions:
  session_timeout: "forever"
`)

	_, err := Load(path)
	if err == nil {
		t.Fatal("expected error for invalid duration")
	}
	if !strings.Contains(err.Error(), "sessions.session_timeout") {
		t.Errorf("error should name the field, got: %v", err)
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults are valid", func(*Config) {}, ""},
		{"unknown transport", func(c *Config) { c.Server.Transport = "websocket" }, "server.transport"},
		{"http without addr", func(c *Config) {
			c.Server.Transport = TransportHTTP
			c.Server.HTTPAddr = ""
		}, "server.http_addr"},
		{"unknown delivery", func(c *Config) { c.Server.ErrorDelivery = "carrier pigeon" }, "server.error_delivery"},
		{"bad base url scheme", func(c *Config) { c.API.BaseURL = "ftp://stampchain.io" }, "api.base_url"},
		{"zero max tools", func(c *Config) { c.Registry.MaxTools = 0 }, "registry.max_tools"},
		{"zero connections", func(c *Config) { c.Sessions.MaxConnections = 0 }, "sessions.max_connections"},
		{"negative retries", func(c *Config) { c.API.MaxRetries = -1 }, "api.max_retries"},
		{"bad log level", func(c *Config) { c.Logging.Level = "loud" }, "logging.level"},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }, "logging.format"},
		{"zero message length", func(c *Config) { c.Errors.MaxMessageLength = 0 }, "errors.max_message_length"},
		{"negative cache ttl", func(c *Config) { c.API.CacheTTL = -time.Second }, "api.cache_ttl"},
		{"cache without size", func(c *Config) { c.API.CacheSize = 0 }, "api.cache_size"},
		{"disabled cache ignores size", func(c *Config) {
			c.API.CacheTTL = 0
			c.API.CacheSize = 0
		}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("expected error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestResolvePath(t *testing.T) {
	t.Run("flag wins", func(t *testing.T) {
		t.Setenv(EnvConfigPath, "/from/env.yaml")
		path, explicit := ResolvePath("/from/flag.yaml")
		if path != "/from/flag.yaml" || !explicit {
			t.Errorf("got %q explicit=%v", path, explicit)
		}
	})

	t.Run("env over default", func(t *testing.T) {
		t.Setenv(EnvConfigPath, "/from/env.yaml")
		path, explicit := ResolvePath("")
		if path != "/from/env.yaml" || !explicit {
			t.Errorf("got %q explicit=%v", path, explicit)
		}
	})

	t.Run("falls back to user config dir", func(t *testing.T) {
		t.Setenv(EnvConfigPath, "")
		t.Setenv("XDG_CONFIG_HOME", "/xdg")
		path, explicit := ResolvePath("")
		if explicit {
			t.Error("default path should not be explicit")
		}
		if !strings.HasSuffix(path, filepath.Join("stampchain-mcp", "config.yaml")) {
			t.Errorf("unexpected default path %q", path)
		}
	})
}

func TestLoadOrDefault(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "absent.yaml")

	cfg, err := LoadOrDefault(missing, false)
	if err != nil {
		t.Fatalf("implicit missing file should yield defaults: %v", err)
	}
	if cfg.Sessions.MaxConnections != 100 {
		t.Errorf("expected default max_connections, got %d", cfg.Sessions.MaxConnections)
	}

	if _, err := LoadOrDefault(missing, true); err == nil {
		t.Error("explicit missing file should be an error")
	}
}

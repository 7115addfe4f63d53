// ABOUTME: Configuration loading and parsing for stampchain-mcp
// ABOUTME: Supports YAML or TOML files with environment variable expansion and duration parsing

package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// EnvConfigPath names the environment variable that overrides the config location.
const EnvConfigPath = "STAMPCHAIN_MCP_CONFIG"

// Transport values for server.transport
const (
	TransportStdio = "stdio"
	TransportHTTP  = "http"
)

// Error delivery modes for server.error_delivery
const (
	DeliveryInBand   = "inband"
	DeliveryProtocol = "protocol"
)

// Config represents the complete stampchain-mcp configuration
type Config struct {
	Server    ServerConfig    `yaml:"server" toml:"server"`
	API       APIConfig       `yaml:"api" toml:"api"`
	Registry  RegistryConfig  `yaml:"registry" toml:"registry"`
	Sessions  SessionsConfig  `yaml:"sessions" toml:"sessions"`
	Errors    ErrorsConfig    `yaml:"errors" toml:"errors"`
	Logging   LoggingConfig   `yaml:"logging" toml:"logging"`
	Telemetry TelemetryConfig `yaml:"telemetry" toml:"telemetry"`
}

// ServerConfig holds transport and request handling configuration
type ServerConfig struct {
	Name          string        `yaml:"name" toml:"name"`
	Transport     string        `yaml:"transport" toml:"transport"`
	HTTPAddr      string        `yaml:"http_addr" toml:"http_addr"`
	ErrorDelivery string        `yaml:"error_delivery" toml:"error_delivery"`
	ExecTimeout   time.Duration `yaml:"-" toml:"-"`
	ShutdownGrace time.Duration `yaml:"-" toml:"-"`

	// Raw string values for unmarshaling
	ExecTimeoutRaw   string `yaml:"exec_timeout" toml:"exec_timeout"`
	ShutdownGraceRaw string `yaml:"shutdown_grace" toml:"shutdown_grace"`
}

// APIConfig holds Stampchain API client configuration
type APIConfig struct {
	BaseURL    string        `yaml:"base_url" toml:"base_url"`
	UserAgent  string        `yaml:"user_agent" toml:"user_agent"`
	MaxRetries int           `yaml:"max_retries" toml:"max_retries"`
	Timeout    time.Duration `yaml:"-" toml:"-"`
	// CacheTTL of zero disables response caching.
	CacheTTL   time.Duration `yaml:"-" toml:"-"`
	CacheSize  int           `yaml:"cache_size" toml:"cache_size"`

	TimeoutRaw  string `yaml:"timeout" toml:"timeout"`
	CacheTTLRaw string `yaml:"cache_ttl" toml:"cache_ttl"`
}

// RegistryConfig holds tool registry policy
type RegistryConfig struct {
	ValidateOnRegister  bool `yaml:"validate_on_register" toml:"validate_on_register"`
	AllowDuplicateNames bool `yaml:"allow_duplicate_names" toml:"allow_duplicate_names"`
	MaxTools            int  `yaml:"max_tools" toml:"max_tools"`
}

// SessionsConfig holds session limits
type SessionsConfig struct {
	MaxConnections int           `yaml:"max_connections" toml:"max_connections"`
	SessionTimeout time.Duration `yaml:"-" toml:"-"`

	SessionTimeoutRaw string `yaml:"session_timeout" toml:"session_timeout"`
}

// ErrorsConfig controls how much detail faults expose
type ErrorsConfig struct {
	Development      bool `yaml:"development" toml:"development"`
	IncludeStack     bool `yaml:"include_stack" toml:"include_stack"`
	MaxMessageLength int  `yaml:"max_message_length" toml:"max_message_length"`
	LogErrors        bool `yaml:"log_errors" toml:"log_errors"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// TelemetryConfig holds OpenTelemetry configuration
type TelemetryConfig struct {
	Enabled      bool   `yaml:"enabled" toml:"enabled"`
	ServiceName  string `yaml:"service_name" toml:"service_name"`
	OTLPEndpoint string `yaml:"otlp_endpoint" toml:"otlp_endpoint"`
	Insecure     bool   `yaml:"insecure" toml:"insecure"`
}

// Default returns the configuration used when no file is present.
// Load decodes files on top of it, so omitted keys keep these values.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Name:             "stampchain-mcp",
			Transport:        TransportStdio,
			HTTPAddr:         "127.0.0.1:8787",
			ErrorDelivery:    DeliveryInBand,
			ExecTimeout:      30 * time.Second,
			ShutdownGrace:    10 * time.Second,
			ExecTimeoutRaw:   "30s",
			ShutdownGraceRaw: "10s",
		},
		API: APIConfig{
			BaseURL:     "https://stampchain.io/api/v2",
			UserAgent:   "stampchain-mcp",
			MaxRetries:  3,
			Timeout:     30 * time.Second,
			CacheTTL:    5 * time.Minute,
			CacheSize:   500,
			TimeoutRaw:  "30s",
			CacheTTLRaw: "5m",
		},
		Registry: RegistryConfig{
			ValidateOnRegister: true,
			MaxTools:           1000,
		},
		Sessions: SessionsConfig{
			MaxConnections:    100,
			SessionTimeout:    time.Hour,
			SessionTimeoutRaw: "1h",
		},
		Errors: ErrorsConfig{
			MaxMessageLength: 1000,
			LogErrors:        true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Telemetry: TelemetryConfig{
			ServiceName: "stampchain-mcp",
		},
	}
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are decoded as TOML, everything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expanded := expandEnvVars(string(data))

	cfg := Default()
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(expanded, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else {
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := parseDurations(cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// ResolvePath picks the config file location: the explicit flag value, then
// $STAMPCHAIN_MCP_CONFIG, then the user config dir. The second result reports
// whether the caller asked for that path explicitly.
func ResolvePath(flagPath string) (string, bool) {
	if flagPath != "" {
		return flagPath, true
	}
	if p := os.Getenv(EnvConfigPath); p != "" {
		return p, true
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", false
	}
	return filepath.Join(dir, "stampchain-mcp", "config.yaml"), false
}

// LoadOrDefault loads path, falling back to Default when an implicit path
// does not exist. Explicit paths must exist.
func LoadOrDefault(path string, explicit bool) (*Config, error) {
	if path == "" {
		return Default(), nil
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) && !explicit {
			return Default(), nil
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Load(path)
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	switch c.Server.Transport {
	case TransportStdio:
	case TransportHTTP:
		if c.Server.HTTPAddr == "" {
			return fmt.Errorf("server.http_addr is required for the http transport")
		}
	default:
		return fmt.Errorf("server.transport must be %q or %q, got %q", TransportStdio, TransportHTTP, c.Server.Transport)
	}

	if c.Server.ErrorDelivery != DeliveryInBand && c.Server.ErrorDelivery != DeliveryProtocol {
		return fmt.Errorf("server.error_delivery must be %q or %q, got %q", DeliveryInBand, DeliveryProtocol, c.Server.ErrorDelivery)
	}
	if c.Server.ExecTimeout <= 0 {
		return fmt.Errorf("server.exec_timeout must be positive")
	}
	if c.Server.ShutdownGrace < 0 {
		return fmt.Errorf("server.shutdown_grace must not be negative")
	}

	u, err := url.Parse(c.API.BaseURL)
	if err != nil {
		return fmt.Errorf("api.base_url is not a valid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("api.base_url must use http or https scheme")
	}
	if c.API.MaxRetries < 0 {
		return fmt.Errorf("api.max_retries must not be negative")
	}
	if c.API.Timeout <= 0 {
		return fmt.Errorf("api.timeout must be positive")
	}
	if c.API.CacheTTL < 0 {
		return fmt.Errorf("api.cache_ttl must not be negative")
	}
	if c.API.CacheTTL > 0 && c.API.CacheSize <= 0 {
		return fmt.Errorf("api.cache_size must be positive when caching is enabled")
	}

	if c.Registry.MaxTools <= 0 {
		return fmt.Errorf("registry.max_tools must be positive")
	}
	if c.Sessions.MaxConnections <= 0 {
		return fmt.Errorf("sessions.max_connections must be positive")
	}
	if c.Sessions.SessionTimeout <= 0 {
		return fmt.Errorf("sessions.session_timeout must be positive")
	}
	if c.Errors.MaxMessageLength <= 0 {
		return fmt.Errorf("errors.max_message_length must be positive")
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of debug, info, warn, error; got %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"server.exec_timeout", cfg.Server.ExecTimeoutRaw, &cfg.Server.ExecTimeout},
		{"server.shutdown_grace", cfg.Server.ShutdownGraceRaw, &cfg.Server.ShutdownGrace},
		{"api.timeout", cfg.API.TimeoutRaw, &cfg.API.Timeout},
		{"api.cache_ttl", cfg.API.CacheTTLRaw, &cfg.API.CacheTTL},
		{"sessions.session_timeout", cfg.Sessions.SessionTimeoutRaw, &cfg.Sessions.SessionTimeout},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}
	return nil
}

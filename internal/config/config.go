// Package config loads the gateway configuration from YAML, with
// environment variable expansion and defaults for everything that can
// reasonably be defaulted.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/spigotdb/spigot/internal/model"
	"github.com/spigotdb/spigot/internal/storage"
)

// Config is the top-level spigot configuration file.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Auth      AuthConfig      `yaml:"auth"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Jobs      JobsConfig      `yaml:"jobs"`
	Services  []ServiceConfig `yaml:"services"`
	Storage   storage.Config  `yaml:"storage"`
	MCP       MCPConfig       `yaml:"mcp"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig controls the HTTP server behavior.
type ServerConfig struct {
	Host            string     `yaml:"host"`
	Port            int        `yaml:"port"`
	MaxBodySize     int64      `yaml:"max_body_size"`
	MaxBatchSize    int        `yaml:"max_batch_size"`
	ShutdownTimeout string     `yaml:"shutdown_timeout"`
	CORS            CORSConfig `yaml:"cors"`
}

// CORSConfig controls cross-origin resource sharing settings.
type CORSConfig struct {
	Origins []string `yaml:"origins"`
	Methods []string `yaml:"methods"`
}

// AuthConfig controls authentication settings.
type AuthConfig struct {
	// Mode is "strict" (default, unauthenticated requests are rejected)
	// or "permissive" (unauthenticated requests get a synthesized
	// full-permission context; development use only).
	Mode         string    `yaml:"mode"`
	JWTSecret    string    `yaml:"jwt_secret"`
	JWTExpiry    string    `yaml:"jwt_expiry"`
	APIKeyHeader string    `yaml:"api_key_header"`
	SeedKeys     []SeedKey `yaml:"seed_keys"`
}

// SeedKey declares an API key created at startup. Intended for development
// and testing; production keys are issued through the API or CLI.
type SeedKey struct {
	Key         string             `yaml:"key"`
	Name        string             `yaml:"name"`
	Permissions []model.Permission `yaml:"permissions"`
	Admin       bool               `yaml:"admin"`
}

// RateLimitConfig sets the process-wide default limits applied to clients
// whose key carries no policy of its own.
type RateLimitConfig struct {
	RequestsPerMinute int `yaml:"requests_per_minute"`
	RequestsPerHour   int `yaml:"requests_per_hour"`
	BurstSize         int `yaml:"burst_size"`
}

// JobsConfig sets the async worker pool geometry.
type JobsConfig struct {
	Workers   int `yaml:"workers"`
	QueueSize int `yaml:"queue_size"`
}

// ServiceConfig defines a database service.
type ServiceConfig struct {
	Name     string      `yaml:"name"`
	Driver   string      `yaml:"driver"`
	DSN      string      `yaml:"dsn"`
	ReadOnly bool        `yaml:"read_only"`
	Pool     *PoolConfig `yaml:"pool,omitempty"`
}

// PoolConfig controls the connection pool for a service.
type PoolConfig struct {
	MaxOpenConns    int    `yaml:"max_open_conns"`
	MaxIdleConns    int    `yaml:"max_idle_conns"`
	ConnMaxLifetime string `yaml:"conn_max_lifetime"`
}

// MCPConfig controls the MCP (Model Context Protocol) server.
type MCPConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Transport string `yaml:"transport"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads and parses a YAML configuration file. Environment variables
// referenced as ${VAR_NAME} in the file are expanded before parsing, and
// defaults are applied to anything left unset.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	content := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(content), cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a Config pre-filled with sensible defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			MaxBodySize:     10 << 20,
			MaxBatchSize:    1000,
			ShutdownTimeout: "30s",
			CORS: CORSConfig{
				Origins: []string{"*"},
				Methods: []string{"GET", "POST", "PUT", "PATCH", "DELETE"},
			},
		},
		Auth: AuthConfig{
			Mode:         "strict",
			JWTExpiry:    "1h",
			APIKeyHeader: "X-API-Key",
		},
		RateLimit: RateLimitConfig{
			RequestsPerMinute: 60,
			RequestsPerHour:   1000,
			BurstSize:         10,
		},
		Jobs: JobsConfig{
			Workers:   4,
			QueueSize: 64,
		},
		Storage: storage.Config{Backend: "local"},
		MCP: MCPConfig{
			Enabled:   false,
			Transport: "stdio",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Validate checks cross-field constraints the YAML schema cannot express.
func (c *Config) Validate() error {
	switch c.Auth.Mode {
	case "strict", "permissive":
	default:
		return fmt.Errorf("auth.mode must be strict or permissive, got %q", c.Auth.Mode)
	}
	if c.RateLimit.RequestsPerMinute <= 0 || c.RateLimit.BurstSize <= 0 {
		return fmt.Errorf("rate_limit values must be positive")
	}
	if c.Jobs.Workers <= 0 || c.Jobs.QueueSize <= 0 {
		return fmt.Errorf("jobs.workers and jobs.queue_size must be positive")
	}
	seen := make(map[string]bool, len(c.Services))
	for _, svc := range c.Services {
		if svc.Name == "" {
			return fmt.Errorf("service name is required")
		}
		if seen[svc.Name] {
			return fmt.Errorf("duplicate service name %q", svc.Name)
		}
		seen[svc.Name] = true
		if svc.Driver == "" || svc.DSN == "" {
			return fmt.Errorf("service %q requires driver and dsn", svc.Name)
		}
	}
	return nil
}

// DefaultPolicy converts the rate-limit section into the policy applied to
// clients without a key-level override.
func (c *Config) DefaultPolicy() model.RateLimitPolicy {
	return model.RateLimitPolicy{
		RequestsPerMinute: c.RateLimit.RequestsPerMinute,
		RequestsPerHour:   c.RateLimit.RequestsPerHour,
		BurstSize:         c.RateLimit.BurstSize,
	}
}

// ShutdownTimeout parses the server shutdown timeout, falling back to 30s.
func (c *Config) ShutdownTimeout() time.Duration {
	d, err := time.ParseDuration(c.Server.ShutdownTimeout)
	if err != nil || d <= 0 {
		return 30 * time.Second
	}
	return d
}

// JWTExpiry parses the session token lifetime, falling back to 1h.
func (c *Config) JWTExpiry() time.Duration {
	d, err := time.ParseDuration(c.Auth.JWTExpiry)
	if err != nil || d <= 0 {
		return time.Hour
	}
	return d
}

// WriteDefault writes the default configuration to a YAML file.
func WriteDefault(path string) error {
	data, err := yaml.Marshal(Default())
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

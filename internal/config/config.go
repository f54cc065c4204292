// Package config holds the gateway's runtime configuration.
//
// Precedence, lowest to highest: built-in defaults, optional YAML file,
// command-line flags. The YAML keys are the flag names with underscores in
// place of dashes (max_connections for --max-connections), so deployments
// can keep a checked-in config and override per-host on the command line.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the full runtime configuration.
type Config struct {
	// Bind is the host:port the WebSocket server listens on.
	Bind string `yaml:"bind"`

	// Redis is the bus URI for the default redis transport.
	Redis string `yaml:"redis"`

	// Nats, when set, selects the NATS bus transport instead of redis.
	Nats string `yaml:"nats"`

	// Mongo is the session store URI.
	Mongo string `yaml:"mongodb"`

	// MaxConnections caps simultaneous WebSocket connections.
	MaxConnections int `yaml:"max_connections"`

	// RateLimiterCredits is the per-IP inbound frame budget per 10s.
	RateLimiterCredits int `yaml:"rate_limiter_credits"`

	// LogLevel is a zerolog level name.
	LogLevel string `yaml:"log_level"`

	// LogPretty switches to console output for development.
	LogPretty bool `yaml:"log_pretty"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Bind:               "127.0.0.1:9664",
		Redis:              "redis://127.0.0.1/",
		Mongo:              "mongodb://127.0.0.1/",
		MaxConnections:     40000,
		RateLimiterCredits: 40,
		LogLevel:           "info",
		LogPretty:          false,
	}
}

// LoadFile overlays a YAML file onto the config.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}

// Validate rejects configurations the gateway cannot start with.
func (c *Config) Validate() error {
	if c.Bind == "" {
		return fmt.Errorf("config: bind address required")
	}
	if c.Redis == "" && c.Nats == "" {
		return fmt.Errorf("config: a bus URI is required")
	}
	if c.MaxConnections < 1 {
		return fmt.Errorf("config: max connections must be positive")
	}
	if c.RateLimiterCredits < 1 {
		return fmt.Errorf("config: rate limiter credits must be positive")
	}
	return nil
}

// Package config loads microkv configuration from defaults, an optional
// YAML file, and MICROKV_-prefixed environment variables, in that order.
package config

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix is the prefix recognized on environment variables, e.g.
// MICROKV_SERVER_PORT=31337 maps to server.port.
const EnvPrefix = "MICROKV_"

// Config holds the complete server configuration.
type Config struct {
	Server  ServerConfig  `koanf:"server"`
	Log     LogConfig     `koanf:"log"`
	Metrics MetricsConfig `koanf:"metrics"`
}

// ServerConfig holds the listener settings.
type ServerConfig struct {
	Host string `koanf:"host"`
	Port int    `koanf:"port"`
	// MaxClients bounds the number of concurrently served connections.
	MaxClients int `koanf:"maxclients"`
	// RateLimit is the maximum commands/sec per connection (0 = unlimited).
	RateLimit int `koanf:"ratelimit"`
}

// LogConfig holds the logging settings.
type LogConfig struct {
	Level string `koanf:"level"`
	// File, when set, routes logs to a rotated file instead of stdout.
	File string `koanf:"file"`
}

// MetricsConfig holds the metrics endpoint settings.
type MetricsConfig struct {
	// Addr is the listen address for /metrics; empty disables the endpoint.
	Addr string `koanf:"addr"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:       "127.0.0.1",
			Port:       31337,
			MaxClients: 64,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Addr returns the host:port the server binds to.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Server.Host, strconv.Itoa(c.Server.Port))
}

// Load builds a Config from defaults, then the YAML file at path (if
// non-empty), then environment variables.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("config: load file %s: %w", path, err)
		}
	}

	// MICROKV_SERVER_PORT -> server.port
	transform := func(s string) string {
		s = strings.TrimPrefix(s, EnvPrefix)
		s = strings.ToLower(s)
		return strings.ReplaceAll(s, "_", ".")
	}
	if err := k.Load(env.Provider(EnvPrefix, ".", transform), nil); err != nil {
		return nil, fmt.Errorf("config: load env: %w", err)
	}

	cfg := Default()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("config: invalid port %d", c.Server.Port)
	}
	if c.Server.MaxClients <= 0 {
		return fmt.Errorf("config: maxclients must be positive, got %d", c.Server.MaxClients)
	}
	if c.Server.RateLimit < 0 {
		return fmt.Errorf("config: ratelimit must not be negative, got %d", c.Server.RateLimit)
	}
	return nil
}

// Package config provides configuration handling for agentview.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tcmartin/agentview/pkg/layout"
)

// Config represents the application configuration
type Config struct {
	// Server configuration
	Server ServerConfig `json:"server" yaml:"server"`

	// Connection configuration
	Connection ConnectionConfig `json:"connection" yaml:"connection"`

	// Layout geometry
	Layout layout.Config `json:"layout" yaml:"layout"`
}

// ServerConfig locates the execution backend
type ServerConfig struct {
	// BaseURL of the backend, e.g. "http://localhost:8090"
	BaseURL string `json:"base_url" yaml:"base_url"`
}

// ConnectionConfig contains transport settings
type ConnectionConfig struct {
	// ReconnectDelaySeconds is the fixed wait before the scheduled
	// reconnect after an unclean close
	ReconnectDelaySeconds float64 `json:"reconnect_delay_seconds" yaml:"reconnect_delay_seconds"`
}

// ReconnectDelay returns the reconnect delay as a duration.
func (c ConnectionConfig) ReconnectDelay() time.Duration {
	return time.Duration(c.ReconnectDelaySeconds * float64(time.Second))
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			BaseURL: "http://localhost:8090",
		},
		Connection: ConnectionConfig{
			ReconnectDelaySeconds: 2,
		},
		Layout: layout.DefaultConfig(),
	}
}

// LoadConfig loads configuration from a file, falling back to defaults for
// anything unset. JSON and YAML files are supported, chosen by extension.
// Environment variables override file values.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config file: %w", err)
		}
		switch filepath.Ext(path) {
		case ".yaml", ".yml":
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("parse YAML config: %w", err)
			}
		default:
			if err := json.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("parse JSON config: %w", err)
			}
		}
	}

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("AGENTVIEW_SERVER_URL"); v != "" {
		cfg.Server.BaseURL = v
	}
	if v := os.Getenv("AGENTVIEW_RECONNECT_DELAY_SECONDS"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Connection.ReconnectDelaySeconds = f
		}
	}
}

// Validate checks the configuration for consistency
func (c Config) Validate() error {
	if c.Server.BaseURL == "" {
		return fmt.Errorf("server.base_url must be set")
	}
	if c.Connection.ReconnectDelaySeconds <= 0 {
		return fmt.Errorf("connection.reconnect_delay_seconds must be positive")
	}
	if c.Layout.ColumnSpacing <= 0 || c.Layout.RowSpacing <= 0 {
		return fmt.Errorf("layout spacing must be positive")
	}
	if c.Layout.NodeHeight <= 0 {
		return fmt.Errorf("layout.node_height must be positive")
	}
	return nil
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "http://localhost:8090", cfg.Server.BaseURL)
	assert.Equal(t, 2*time.Second, cfg.Connection.ReconnectDelay())
	assert.NoError(t, cfg.Validate())
}

func TestLoadConfig_JSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	content := `{
		"server": {"base_url": "http://example.com:9000"},
		"connection": {"reconnect_delay_seconds": 0.5},
		"layout": {
			"base_x": 10,
			"base_y": 10,
			"column_spacing": 100,
			"row_spacing": 50,
			"node_height": 40,
			"shift_increment": 10,
			"viewport_height": 500
		}
	}`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "http://example.com:9000", cfg.Server.BaseURL)
	assert.Equal(t, 500*time.Millisecond, cfg.Connection.ReconnectDelay())
	assert.Equal(t, float64(100), cfg.Layout.ColumnSpacing)
}

func TestLoadConfig_YAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
server:
  base_url: http://example.com:9000
connection:
  reconnect_delay_seconds: 1.5
layout:
  base_x: 10
  base_y: 10
  column_spacing: 100
  row_spacing: 50
  node_height: 40
  shift_increment: 10
  viewport_height: 500
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "http://example.com:9000", cfg.Server.BaseURL)
	assert.Equal(t, 1500*time.Millisecond, cfg.Connection.ReconnectDelay())
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.json"))
	assert.Error(t, err)
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	t.Setenv("AGENTVIEW_SERVER_URL", "http://override:1234")
	t.Setenv("AGENTVIEW_RECONNECT_DELAY_SECONDS", "7")

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, "http://override:1234", cfg.Server.BaseURL)
	assert.Equal(t, 7*time.Second, cfg.Connection.ReconnectDelay())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty base URL", func(c *Config) { c.Server.BaseURL = "" }},
		{"zero reconnect delay", func(c *Config) { c.Connection.ReconnectDelaySeconds = 0 }},
		{"zero column spacing", func(c *Config) { c.Layout.ColumnSpacing = 0 }},
		{"zero node height", func(c *Config) { c.Layout.NodeHeight = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

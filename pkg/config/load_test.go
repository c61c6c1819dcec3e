package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, DefaultDataDir, cfg.Store.Path)
	assert.Equal(t, DefaultWhich, cfg.Runner.Which)
	assert.Equal(t, DefaultSyncMode, cfg.Sync.Mode)
	assert.GreaterOrEqual(t, cfg.Runner.Workers, 1)
}

func TestLoad_YAMLThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tinyfeat.yaml")
	yamlDoc := `
store:
  path: /tmp/feat
runner:
  workers: 3
  cell_timeout: 2s
  which: both
sync:
  mode: nullerror
log:
  level: debug
  format: json
`
	require.NoError(t, os.WriteFile(path, []byte(yamlDoc), 0o600))

	t.Setenv("TINYFEAT_WORKERS", "7")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/tmp/feat", cfg.Store.Path)
	assert.Equal(t, 7, cfg.Runner.Workers, "env overrides file")
	assert.Equal(t, 2*time.Second, cfg.Runner.CellTimeout)
	assert.Equal(t, "both", cfg.Runner.Which)
	assert.Equal(t, "nullerror", cfg.Sync.Mode)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero workers", func(c *Config) { c.Runner.Workers = 0 }},
		{"negative timeout", func(c *Config) { c.Runner.CellTimeout = -time.Second }},
		{"bad which", func(c *Config) { c.Runner.Which = "pending" }},
		{"bad sync mode", func(c *Config) { c.Sync.Mode = "overwrite" }},
		{"bad log format", func(c *Config) { c.Log.Format = "xml" }},
		{"no store path", func(c *Config) { c.Store.Path = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoad_InvalidEnv(t *testing.T) {
	t.Setenv("TINYFEAT_CELL_TIMEOUT", "soon")
	_, err := Load("")
	assert.Error(t, err)
}

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/propedge/propedge/internal/domain"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefaultValidates(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, ProviderModeFake, cfg.Providers.Mode)
	assert.Equal(t, "memory", cfg.Cache.Backend)
	assert.Equal(t, domain.RiskBalanced, cfg.Backtest.RiskMode)
}

func TestLoadEmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadOverlaysFile(t *testing.T) {
	path := writeConfig(t, `
providers:
  mode: http
  base_url: https://data.example.com/v1
  api_key: secret
  rps: 2
cache:
  backend: redis
  redis_addr: localhost:6379
backtest:
  risk_mode: aggressive
  starting_bankroll: 2500
http:
  port: 9090
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ProviderModeHTTP, cfg.Providers.Mode)
	assert.Equal(t, "https://data.example.com/v1", cfg.Providers.BaseURL)
	assert.Equal(t, 2.0, cfg.Providers.RPS)
	assert.Equal(t, "redis", cfg.Cache.Backend)
	assert.Equal(t, domain.RiskAggressive, cfg.Backtest.RiskMode)
	assert.Equal(t, 2500.0, cfg.Backtest.StartingBankroll)
	assert.Equal(t, 9090, cfg.HTTP.Port)

	// unset fields keep their defaults
	assert.Equal(t, "./data/snapshots", cfg.Store.BasePath)
	assert.Equal(t, 8, cfg.Pipeline.MaxConcurrentFetches)
	assert.Equal(t, "127.0.0.1", cfg.HTTP.Host)
}

func TestLoadRejectsMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestLoadRejectsBadYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "providers: [not a map"))
	assert.Error(t, err)
}

func TestValidateRejections(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"http mode without base url", func(c *Config) { c.Providers.Mode = ProviderModeHTTP }},
		{"unknown provider mode", func(c *Config) { c.Providers.Mode = "csv" }},
		{"redis backend without addr", func(c *Config) { c.Cache.Backend = "redis" }},
		{"unknown cache backend", func(c *Config) { c.Cache.Backend = "disk" }},
		{"empty store path", func(c *Config) { c.Store.BasePath = "" }},
		{"unknown risk mode", func(c *Config) { c.Backtest.RiskMode = "yolo" }},
		{"port out of range", func(c *Config) { c.HTTP.Port = 70000 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

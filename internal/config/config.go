package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/propedge/propedge/internal/domain"
)

// ProviderMode selects the data-source implementation at startup
type ProviderMode string

const (
	ProviderModeFake ProviderMode = "fake"
	ProviderModeHTTP ProviderMode = "http"
)

// Config is the root configuration for the feature pipeline, store, and
// backtest engine
type Config struct {
	Providers ProvidersConfig `yaml:"providers"`
	Cache     CacheConfig     `yaml:"cache"`
	Store     StoreConfig     `yaml:"store"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Backtest  BacktestConfig  `yaml:"backtest"`
	HTTP      HTTPConfig      `yaml:"http"`
	Database  DatabaseConfig  `yaml:"database"`
}

// ProvidersConfig selects and tunes the external data sources
type ProvidersConfig struct {
	Mode           ProviderMode `yaml:"mode"`
	BaseURL        string       `yaml:"base_url"`
	APIKey         string       `yaml:"api_key"`
	RPS            float64      `yaml:"rps"`
	Burst          int          `yaml:"burst"`
	TimeoutSeconds int          `yaml:"timeout_seconds"`
}

// CacheConfig selects the shared cache backend
type CacheConfig struct {
	Backend       string `yaml:"backend"` // memory or redis
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
	KeyPrefix     string `yaml:"key_prefix"`
}

// StoreConfig locates the snapshot store on disk
type StoreConfig struct {
	BasePath string `yaml:"base_path"`
}

// PipelineConfig tunes the feature build
type PipelineConfig struct {
	MaxConcurrentFetches int `yaml:"max_concurrent_fetches"`
	RecentLinesCount     int `yaml:"recent_lines_count"`
}

// BacktestConfig holds defaults for backtest runs
type BacktestConfig struct {
	RiskMode          domain.RiskMode `yaml:"risk_mode"`
	StartingBankroll  float64         `yaml:"starting_bankroll"`
	CalibrationWindow int             `yaml:"calibration_window"`
	OutputDir         string          `yaml:"output_dir"`
	OutcomesFile      string          `yaml:"outcomes_file"`
}

// HTTPConfig configures the read-only API server
type HTTPConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// DatabaseConfig points at the optional experiment database
type DatabaseConfig struct {
	DSN string `yaml:"dsn"`
}

// Default returns a configuration that works with no external services
func Default() *Config {
	return &Config{
		Providers: ProvidersConfig{Mode: ProviderModeFake, RPS: 5, Burst: 10, TimeoutSeconds: 5},
		Cache:     CacheConfig{Backend: "memory", KeyPrefix: "propedge"},
		Store:     StoreConfig{BasePath: "./data/snapshots"},
		Pipeline:  PipelineConfig{MaxConcurrentFetches: 8, RecentLinesCount: 10},
		Backtest: BacktestConfig{
			RiskMode:          domain.RiskBalanced,
			StartingBankroll:  10000,
			CalibrationWindow: 100,
			OutputDir:         "./artifacts/backtest",
		},
		HTTP: HTTPConfig{Host: "127.0.0.1", Port: 8080},
	}
}

// Load reads a YAML config file over the defaults and validates it. An empty
// path returns the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config YAML: %w", err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field consistency
func (c *Config) Validate() error {
	switch c.Providers.Mode {
	case ProviderModeFake:
	case ProviderModeHTTP:
		if c.Providers.BaseURL == "" {
			return fmt.Errorf("providers.base_url is required in http mode")
		}
	default:
		return fmt.Errorf("unknown provider mode %q", c.Providers.Mode)
	}

	switch c.Cache.Backend {
	case "memory":
	case "redis":
		if c.Cache.RedisAddr == "" {
			return fmt.Errorf("cache.redis_addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("unknown cache backend %q", c.Cache.Backend)
	}

	if c.Store.BasePath == "" {
		return fmt.Errorf("store.base_path is required")
	}
	if _, err := domain.PresetFor(c.Backtest.RiskMode); err != nil {
		return err
	}
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port %d out of range", c.HTTP.Port)
	}
	return nil
}

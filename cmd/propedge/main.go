package main

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/propedge/propedge/internal/cache"
	"github.com/propedge/propedge/internal/config"
	"github.com/propedge/propedge/internal/metrics"
	"github.com/propedge/propedge/internal/providers"
	"github.com/propedge/propedge/internal/store"
)

const (
	appName = "propedge"
	version = "v0.4.0"
)

var (
	configPath string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:     appName,
	Short:   "Player-prop feature pipeline, snapshot store, and backtest engine",
	Version: version,
	Long: `propedge builds leakage-checked feature tables for player prop markets,
persists them as immutable columnar snapshots, and backtests prediction
models against settled outcomes with Kelly bet sizing.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if verbose {
			zerolog.SetGlobalLevel(zerolog.DebugLevel)
		} else {
			zerolog.SetGlobalLevel(zerolog.InfoLevel)
		}
	},
}

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	return config.Load(configPath)
}

// newProviders selects the data-source implementations once at startup
func newProviders(cfg *config.Config) providers.Set {
	if cfg.Providers.Mode == config.ProviderModeHTTP {
		guard := providers.DefaultGuardConfig()
		guard.APIKey = cfg.Providers.APIKey
		if cfg.Providers.RPS > 0 {
			guard.RPS = cfg.Providers.RPS
		}
		if cfg.Providers.Burst > 0 {
			guard.Burst = cfg.Providers.Burst
		}
		if cfg.Providers.TimeoutSeconds > 0 {
			guard.Timeout = time.Duration(cfg.Providers.TimeoutSeconds) * time.Second
		}
		return providers.Set{
			PlayerStats: providers.NewHTTPPlayerStats(cfg.Providers.BaseURL, guard),
			Injuries:    providers.NewHTTPInjuries(cfg.Providers.BaseURL, guard),
			Weather:     providers.NewHTTPWeather(cfg.Providers.BaseURL, guard),
			Odds:        providers.NewHTTPOdds(cfg.Providers.BaseURL, guard),
		}
	}
	return providers.FakeSet(time.Now().UTC())
}

func newSourceCache(cfg *config.Config) cache.Cache {
	if cfg.Cache.Backend == "redis" {
		return cache.NewRedis(cfg.Cache.RedisAddr, cfg.Cache.RedisPassword, cfg.Cache.RedisDB, cfg.Cache.KeyPrefix)
	}
	return cache.NewMemory(1024)
}

func newStore(cfg *config.Config, reg *metrics.Registry) (*store.Store, error) {
	return store.New(cfg.Store.BasePath, reg)
}

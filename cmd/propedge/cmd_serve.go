package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	httpapi "github.com/propedge/propedge/internal/interfaces/http"
	"github.com/propedge/propedge/internal/metrics"
)

// serveCmd runs the read-only snapshot API
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the read-only snapshot API and metrics",
	Long: `Start an HTTP server exposing snapshot metadata, schemas, statistics,
and Prometheus metrics. The server is read-only and binds locally by default.`,
	RunE: runServe,
}

var (
	serveHost string
	servePort int
)

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveHost, "host", "", "Listen host (overrides config)")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Listen port (overrides config)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	reg := metrics.NewRegistry()
	st, err := newStore(cfg, reg)
	if err != nil {
		return err
	}
	defer st.Close()

	srvCfg := httpapi.DefaultServerConfig()
	srvCfg.Host = cfg.HTTP.Host
	srvCfg.Port = cfg.HTTP.Port
	if serveHost != "" {
		srvCfg.Host = serveHost
	}
	if servePort > 0 {
		srvCfg.Port = servePort
	}

	server, err := httpapi.NewServer(srvCfg, st, reg)
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("Shutting down")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(ctx)
}

package main

import (
	"context"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/brojonat/aptostx/service/aptos"
	"github.com/brojonat/aptostx/service/config"
	"github.com/brojonat/aptostx/service/confirm"
	"github.com/brojonat/aptostx/service/db"
	"github.com/brojonat/aptostx/service/metrics"
	"github.com/brojonat/aptostx/service/pipeline"
	"github.com/brojonat/aptostx/service/server"
	"github.com/brojonat/aptostx/service/temporal"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

func main() {
	// Load and validate configuration from environment
	// This fails fast if any required config is missing or invalid
	cfg := config.MustLoad()

	logger := setupLogger(cfg.LogLevel)
	logger.Info("starting gateway",
		"addr", cfg.ServerAddr,
		"node_url", cfg.NodeURL,
		"log_level", cfg.LogLevel,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metricsCollector := metrics.NewMetrics(registry)

	chain := aptos.NewClient(
		aptos.NewRPCClient(cfg.NodeURL, aptos.NewHTTPClient(metricsCollector, 30*time.Second)),
		extractEndpointFromURL(cfg.NodeURL),
		metricsCollector,
		logger,
	)

	opts := server.Options{
		Metrics:      metricsCollector,
		Registry:     registry,
		WaitTimeout:  cfg.WaitTimeout,
		PollInterval: cfg.PollInterval,
	}
	pcfg := pipeline.Config{
		MaxGasAmount:  cfg.MaxGasAmount,
		GasUnitPrice:  cfg.GasUnitPrice,
		ExpirationTTL: cfg.ExpirationTTL,
		ChainID:       cfg.ChainID,
		Logger:        logger,
		Metrics:       metricsCollector,
	}

	if cfg.DatabaseURL != "" {
		pool, err := db.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer pool.Close()
		store := db.NewStore(pool, metricsCollector)
		if err := store.Migrate(ctx); err != nil {
			logger.Error("failed to migrate database", "error", err)
			os.Exit(1)
		}
		pcfg.Recorder = store
		opts.Store = store
		logger.Info("connected to database")
	}

	if cfg.NATSURL != "" {
		sse, err := server.NewSSEPublisher(cfg.NATSURL, metricsCollector, logger)
		if err != nil {
			logger.Error("failed to create SSE publisher", "error", err)
			os.Exit(1)
		}
		opts.SSE = sse
	}

	tc, err := temporal.NewClient(cfg.TemporalHost, cfg.TemporalNamespace, cfg.TemporalTaskQueue, logger)
	if err != nil {
		logger.Error("failed to create temporal client", "error", err)
		os.Exit(1)
	}
	defer tc.Close()
	opts.Confirmer = tc

	poller := confirm.NewPoller(chain,
		confirm.WithInterval(cfg.PollInterval),
		confirm.WithLogger(logger),
		confirm.WithMetrics(metricsCollector),
	)
	gateway := server.New(cfg.ServerAddr, pipeline.New(chain, poller, pcfg), opts, logger)

	logger.Info("gateway initialized, all dependencies ready",
		"database", cfg.DatabaseURL != "",
		"nats_url", cfg.NATSURL,
		"temporal_host", cfg.TemporalHost,
	)

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- gateway.Start()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		logger.Error("server error", "error", err)
		os.Exit(1)
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := gateway.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown server gracefully", "error", err)
			os.Exit(1)
		}

		logger.Info("server shutdown complete")
	}
}

// setupLogger creates a structured logger with the given log level.
func setupLogger(levelStr string) *slog.Logger {
	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// extractEndpointFromURL returns the network name in the fullnode host, or
// the host itself, for metrics labels.
func extractEndpointFromURL(nodeURL string) string {
	parsed, err := url.Parse(nodeURL)
	if err != nil || parsed.Hostname() == "" {
		return "unknown"
	}
	host := parsed.Hostname()
	for _, network := range []string{"mainnet", "testnet", "devnet"} {
		if strings.Contains(host, network) {
			return network
		}
	}
	return host
}

package main

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/brojonat/aptostx/service/aptos"
	"github.com/brojonat/aptostx/service/config"
	"github.com/brojonat/aptostx/service/db"
	"github.com/brojonat/aptostx/service/metrics"
	natspkg "github.com/brojonat/aptostx/service/nats"
	"github.com/brojonat/aptostx/service/pipeline"
	"github.com/brojonat/aptostx/service/temporal"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	// Load and validate configuration from environment
	cfg := config.MustLoad()

	logger := setupLogger(cfg.LogLevel)
	logger.Info("starting confirmation worker",
		"node_url", cfg.NodeURL,
		"temporal_host", cfg.TemporalHost,
		"namespace", cfg.TemporalNamespace,
		"task_queue", cfg.TemporalTaskQueue,
		"log_level", cfg.LogLevel,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metricsCollector := metrics.NewMetrics(nil) // nil uses default registry

	metricsServer := &http.Server{
		Addr:    cfg.MetricsAddr,
		Handler: promhttp.Handler(),
	}
	go func() {
		logger.Info("starting metrics HTTP server", "addr", cfg.MetricsAddr)
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server error", "error", err)
		}
	}()
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown metrics server", "error", err)
		}
	}()

	httpClient := aptos.NewHTTPClient(metricsCollector, 30*time.Second)
	chain := aptos.NewClient(
		aptos.NewRPCClient(cfg.NodeURL, httpClient),
		extractEndpointFromURL(cfg.NodeURL),
		metricsCollector,
		logger,
	)

	var (
		store     *db.Store
		recorder  pipeline.Recorder
		publisher pipeline.Publisher
	)
	if cfg.DatabaseURL != "" {
		pool, err := db.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer pool.Close()
		store = db.NewStore(pool, metricsCollector)
		if err := store.Migrate(ctx); err != nil {
			logger.Error("failed to migrate database", "error", err)
			os.Exit(1)
		}
		recorder = store
		logger.Info("connected to database")
	}
	if cfg.NATSURL != "" {
		natsPublisher, err := natspkg.NewPublisher(cfg.NATSURL, metricsCollector, logger)
		if err != nil {
			logger.Error("failed to create NATS publisher", "error", err)
			os.Exit(1)
		}
		defer natsPublisher.Close()
		publisher = natsPublisher
		logger.Info("connected to NATS", "url", cfg.NATSURL)
	}

	worker, err := temporal.NewWorker(temporal.WorkerConfig{
		TemporalHost:      cfg.TemporalHost,
		TemporalNamespace: cfg.TemporalNamespace,
		TaskQueue:         cfg.TemporalTaskQueue,
		Fetcher:           chain,
		Recorder:          recorder,
		Publisher:         publisher,
		Metrics:           metricsCollector,
		Logger:            logger,
	})
	if err != nil {
		logger.Error("failed to create temporal worker", "error", err)
		os.Exit(1)
	}

	workerErrors := make(chan error, 1)
	go func() {
		workerErrors <- worker.Start()
	}()

	if store != nil {
		go resumePending(ctx, cfg, store, logger)
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-workerErrors:
		logger.Error("temporal worker error", "error", err)
		os.Exit(1)
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())
		worker.Stop()
		logger.Info("shutdown complete")
	}
}

// resumePending starts a confirmation for every recorded submission that has
// no committed outcome. Expired submissions get a single lookup.
func resumePending(ctx context.Context, cfg *config.Config, store *db.Store, logger *slog.Logger) {
	pending, err := store.ListPending(ctx, 500)
	if err != nil {
		logger.Error("failed to list pending submissions", "error", err)
		return
	}
	if len(pending) == 0 {
		return
	}

	tc, err := temporal.NewClient(cfg.TemporalHost, cfg.TemporalNamespace, cfg.TemporalTaskQueue, logger)
	if err != nil {
		logger.Error("failed to create temporal client", "error", err)
		return
	}
	defer tc.Close()

	now := time.Now()
	started := 0
	for _, rec := range pending {
		// An expired transaction can still have committed before expiry,
		// so give it one lookup instead of the full budget.
		maxWait := cfg.WaitTimeout
		if rec.ExpiresAt.Before(now) {
			maxWait = 0
		}
		_, err := tc.StartConfirmation(ctx, temporal.ConfirmTransactionInput{
			Hash:     rec.Hash,
			Sender:   rec.Sender.String(),
			MaxWait:  maxWait,
			Interval: cfg.PollInterval,
		})
		if err != nil {
			logger.Warn("failed to resume confirmation", "hash", rec.Hash, "error", err)
			continue
		}
		started++
	}
	logger.Info("resumed pending confirmations", "count", started, "pending", len(pending))
}

// setupLogger creates a structured logger with the given log level.
func setupLogger(levelStr string) *slog.Logger {
	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// extractEndpointFromURL extracts a short identifier from the fullnode URL
// for metrics labeling.
//   - "https://fullnode.mainnet.aptoslabs.com/v1" -> "mainnet"
//   - "https://api.testnet.aptoslabs.com/v1" -> "testnet"
//   - "http://127.0.0.1:8080/v1" -> "127.0.0.1"
func extractEndpointFromURL(nodeURL string) string {
	parsed, err := url.Parse(nodeURL)
	if err != nil {
		return "unknown"
	}
	host := parsed.Hostname()
	for _, network := range []string{"mainnet", "testnet", "devnet"} {
		if strings.Contains(host, network) {
			return network
		}
	}
	if host == "" {
		return "unknown"
	}
	return host
}

package temporal

import (
	"fmt"
	"log/slog"

	"github.com/brojonat/aptostx/service/confirm"
	"github.com/brojonat/aptostx/service/metrics"
	"github.com/brojonat/aptostx/service/pipeline"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
)

// WorkerConfig contains configuration for the Temporal worker.
type WorkerConfig struct {
	// Temporal connection settings
	TemporalHost      string
	TemporalNamespace string
	TaskQueue         string

	// Dependencies
	Fetcher   confirm.StatusFetcher
	Recorder  pipeline.Recorder  // Optional
	Publisher pipeline.Publisher // Optional
	Metrics   *metrics.Metrics   // Optional: if nil, no metrics will be recorded
	Logger    *slog.Logger
}

// Worker wraps a Temporal worker and provides lifecycle management.
type Worker struct {
	client client.Client
	worker worker.Worker
	logger *slog.Logger
}

// NewWorker creates and configures a new Temporal worker.
// The worker will process workflows and activities on the configured task queue.
func NewWorker(config WorkerConfig) (*Worker, error) {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Fetcher == nil {
		return nil, fmt.Errorf("worker requires a status fetcher")
	}

	logger := config.Logger.With("component", "temporal_worker")

	logger.Info("creating temporal worker",
		"host", config.TemporalHost,
		"namespace", config.TemporalNamespace,
		"task_queue", config.TaskQueue,
	)

	c, err := client.Dial(client.Options{
		HostPort:  config.TemporalHost,
		Namespace: config.TemporalNamespace,
		Logger:    newTemporalLogger(logger),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to temporal: %w", err)
	}

	w := worker.New(c, config.TaskQueue, worker.Options{
		MaxConcurrentActivityExecutionSize:     20,
		MaxConcurrentWorkflowTaskExecutionSize: 10,
	})

	register(w, NewActivities(config.Fetcher, config.Recorder, config.Publisher, config.Metrics, logger))
	logger.Info("registered workflow and activities",
		"workflow", "ConfirmTransactionWorkflow",
		"activities", []string{"FetchStatus", "RecordOutcome", "PublishOutcome"},
	)

	return &Worker{
		client: c,
		worker: w,
		logger: logger,
	}, nil
}

func register(r worker.Registry, a *Activities) {
	r.RegisterWorkflow(ConfirmTransactionWorkflow)
	r.RegisterActivity(a.FetchStatus)
	r.RegisterActivity(a.RecordOutcome)
	r.RegisterActivity(a.PublishOutcome)
}

// Start begins processing workflows and activities.
// This method blocks until an interrupt signal or Stop.
func (w *Worker) Start() error {
	w.logger.Info("starting temporal worker")
	err := w.worker.Run(worker.InterruptCh())
	if err != nil {
		w.logger.Error("worker stopped with error", "error", err)
		return fmt.Errorf("worker stopped with error: %w", err)
	}
	w.logger.Info("worker stopped gracefully")
	return nil
}

// Stop gracefully stops the worker.
func (w *Worker) Stop() {
	w.logger.Info("stopping temporal worker")
	w.worker.Stop()
	w.client.Close()
	w.logger.Info("temporal worker stopped")
}

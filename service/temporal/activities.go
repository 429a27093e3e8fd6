package temporal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/brojonat/aptostx/service/confirm"
	"github.com/brojonat/aptostx/service/metrics"
	"github.com/brojonat/aptostx/service/pipeline"
	"github.com/brojonat/aptostx/service/txn"
)

// FetchStatusInput contains parameters for the FetchStatus activity.
type FetchStatusInput struct {
	Hash    string `json:"hash"`
	Attempt int    `json:"attempt"`
}

// FetchStatusResult contains the result of one status lookup.
type FetchStatusResult struct {
	Status confirm.Status `json:"status"`
}

// RecordOutcomeInput contains parameters for the RecordOutcome and
// PublishOutcome activities.
type RecordOutcomeInput struct {
	Sender string                    `json:"sender"`
	Result *ConfirmTransactionResult `json:"result"`
}

// Activities holds the dependencies needed by Temporal activities.
// Recorder and Publisher are optional.
type Activities struct {
	fetcher   confirm.StatusFetcher
	recorder  pipeline.Recorder
	publisher pipeline.Publisher
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// NewActivities creates a new Activities instance with explicit dependencies.
// If metrics is nil, no metrics will be recorded.
func NewActivities(
	fetcher confirm.StatusFetcher,
	recorder pipeline.Recorder,
	publisher pipeline.Publisher,
	m *metrics.Metrics,
	logger *slog.Logger,
) *Activities {
	if logger == nil {
		logger = slog.Default()
	}
	return &Activities{
		fetcher:   fetcher,
		recorder:  recorder,
		publisher: publisher,
		metrics:   m,
		logger:    logger,
	}
}

func (a *Activities) observe(activity string, start time.Time, err error) {
	if a.metrics == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	a.metrics.RecordActivityDuration(activity, status, time.Since(start).Seconds())
}

// FetchStatus performs one status lookup. Transport errors are returned as
// activity errors; "not found" and "pending" are ordinary results.
func (a *Activities) FetchStatus(ctx context.Context, input FetchStatusInput) (result *FetchStatusResult, err error) {
	start := time.Now()
	defer func() { a.observe("FetchStatus", start, err) }()

	status, err := a.fetcher.FetchStatus(ctx, input.Hash)
	if a.metrics != nil {
		a.metrics.RecordPollAttempt(pollResult(status, err))
	}
	if err != nil {
		a.logger.WarnContext(ctx, "status lookup failed",
			"hash", input.Hash,
			"attempt", input.Attempt,
			"error", err,
		)
		return nil, fmt.Errorf("fetch status %s: %w", input.Hash, err)
	}

	a.logger.DebugContext(ctx, "status lookup",
		"hash", input.Hash,
		"attempt", input.Attempt,
		"status", status.Kind.String(),
	)
	return &FetchStatusResult{Status: status}, nil
}

func pollResult(status confirm.Status, err error) string {
	if err != nil {
		return "error"
	}
	return status.Kind.String()
}

// RecordOutcome persists the outcome of a confirmation workflow.
func (a *Activities) RecordOutcome(ctx context.Context, input RecordOutcomeInput) (err error) {
	start := time.Now()
	defer func() { a.observe("RecordOutcome", start, err) }()

	if input.Result == nil {
		return errors.New("record outcome: missing result")
	}
	if a.metrics != nil {
		elapsed := input.Result.FinishedAt.Sub(input.Result.StartedAt).Seconds()
		a.metrics.RecordOutcome(input.Result.Outcome.String(), elapsed)
		a.metrics.RecordWorkflowDuration(input.Result.Outcome.String(), elapsed)
	}
	if a.recorder == nil {
		return nil
	}
	if err := a.recorder.RecordOutcome(ctx, input.Result.ToOutcome()); err != nil {
		a.logger.ErrorContext(ctx, "failed to record outcome", "hash", input.Result.Hash, "error", err)
		return fmt.Errorf("record outcome: %w", err)
	}
	return nil
}

// PublishOutcome announces the outcome of a confirmation workflow.
func (a *Activities) PublishOutcome(ctx context.Context, input RecordOutcomeInput) (err error) {
	start := time.Now()
	defer func() { a.observe("PublishOutcome", start, err) }()

	if input.Result == nil {
		return errors.New("publish outcome: missing result")
	}
	if a.publisher == nil {
		return nil
	}
	sender, err := txn.ParseAddress(input.Sender)
	if err != nil {
		return fmt.Errorf("publish outcome: %w", err)
	}
	if err := a.publisher.PublishOutcome(ctx, sender, input.Result.ToOutcome()); err != nil {
		a.logger.ErrorContext(ctx, "failed to publish outcome", "hash", input.Result.Hash, "error", err)
		return fmt.Errorf("publish outcome: %w", err)
	}
	return nil
}

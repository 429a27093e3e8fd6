package temporal

import (
	"errors"
	"fmt"
	"time"

	"github.com/brojonat/aptostx/service/confirm"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

// ConfirmTransactionInput contains the input for confirming a submitted
// transaction.
type ConfirmTransactionInput struct {
	Hash     string        `json:"hash"`
	Sender   string        `json:"sender"`
	MaxWait  time.Duration `json:"max_wait"`
	Interval time.Duration `json:"interval"`
}

// ConfirmTransactionResult is the workflow's final verdict.
type ConfirmTransactionResult struct {
	Hash       string              `json:"hash"`
	Sender     string              `json:"sender"`
	Outcome    confirm.OutcomeKind `json:"outcome"`
	Success    bool                `json:"success"`
	VMStatus   string              `json:"vm_status,omitempty"`
	Version    uint64              `json:"version,omitempty"`
	Attempts   int                 `json:"attempts"`
	Error      *string             `json:"error,omitempty"`
	StartedAt  time.Time           `json:"started_at"`
	FinishedAt time.Time           `json:"finished_at"`
}

// ToOutcome converts r into the outcome shape the recorder and publisher take.
func (r *ConfirmTransactionResult) ToOutcome() confirm.Outcome {
	o := confirm.Outcome{
		Kind:     r.Outcome,
		Hash:     r.Hash,
		Success:  r.Success,
		VMStatus: r.VMStatus,
		Version:  r.Version,
		Attempts: r.Attempts,
		Elapsed:  r.FinishedAt.Sub(r.StartedAt),
	}
	if r.Error != nil {
		o.Err = errors.New(*r.Error)
	}
	return o
}

// ConfirmTransactionWorkflow polls the status of a submitted transaction
// until it commits, a lookup fails, or the budget of
// ceil(MaxWait/Interval) lookups is spent. Between lookups it sleeps on a
// durable timer; there is no sleep after the last one.
//
// The verdict is recorded and published before the workflow returns.
// Failures of those steps are logged and don't change the verdict.
func ConfirmTransactionWorkflow(ctx workflow.Context, input ConfirmTransactionInput) (*ConfirmTransactionResult, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("ConfirmTransactionWorkflow started",
		"hash", input.Hash,
		"sender", input.Sender,
		"max_wait", input.MaxWait,
	)

	if input.Hash == "" {
		return nil, temporal.NewNonRetryableApplicationError("hash is required", "InvalidInput", nil)
	}
	interval := input.Interval
	if interval <= 0 {
		interval = confirm.DefaultInterval
	}
	maxAttempts := confirm.MaxAttempts(input.MaxWait, interval)

	result := &ConfirmTransactionResult{
		Hash:      input.Hash,
		Sender:    input.Sender,
		Outcome:   confirm.OutcomePending,
		StartedAt: workflow.Now(ctx),
	}

	// A failed lookup ends the poll, so lookups are not retried.
	fetchCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Second,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts: 1,
		},
	})

	a := &Activities{}
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		result.Attempts = attempt

		var fetched FetchStatusResult
		err := workflow.ExecuteActivity(fetchCtx, a.FetchStatus, FetchStatusInput{
			Hash:    input.Hash,
			Attempt: attempt,
		}).Get(ctx, &fetched)

		if err != nil && temporal.IsCanceledError(err) {
			result.Outcome = confirm.OutcomeCancelled
			msg := err.Error()
			result.Error = &msg
			break
		}
		kind := confirm.Next(fetched.Status, err)
		if kind == confirm.OutcomeTransportError {
			logger.Warn("status lookup failed", "hash", input.Hash, "attempt", attempt, "error", err)
			msg := err.Error()
			result.Error = &msg
			result.Outcome = kind
			break
		}
		if kind == confirm.OutcomeCommitted {
			result.Outcome = kind
			result.Success = fetched.Status.Success
			result.VMStatus = fetched.Status.VMStatus
			result.Version = fetched.Status.Version
			break
		}

		if attempt < maxAttempts {
			if err := workflow.Sleep(ctx, interval); err != nil {
				result.Outcome = confirm.OutcomeCancelled
				msg := err.Error()
				result.Error = &msg
				break
			}
		}
	}
	if result.Outcome == confirm.OutcomePending {
		result.Outcome = confirm.OutcomeTimedOut
	}
	result.FinishedAt = workflow.Now(ctx)

	logger.Info("transaction confirmation finished",
		"hash", input.Hash,
		"outcome", result.Outcome.String(),
		"attempts", result.Attempts,
		"success", result.Success,
	)

	hookCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Second,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    30 * time.Second,
			MaximumAttempts:    3,
		},
	})
	if result.Outcome == confirm.OutcomeCancelled {
		hookCtx, _ = workflow.NewDisconnectedContext(hookCtx)
	}
	hookInput := RecordOutcomeInput{Sender: input.Sender, Result: result}
	if err := workflow.ExecuteActivity(hookCtx, a.RecordOutcome, hookInput).Get(hookCtx, nil); err != nil {
		logger.Error("failed to record outcome", "hash", input.Hash, "error", err)
	}
	if err := workflow.ExecuteActivity(hookCtx, a.PublishOutcome, hookInput).Get(hookCtx, nil); err != nil {
		logger.Error("failed to publish outcome", "hash", input.Hash, "error", err)
	}

	return result, nil
}

// WorkflowID is the id a confirmation of hash runs under. While one runs,
// StartConfirmation for the same hash returns the running workflow's id.
func WorkflowID(hash string) string {
	return fmt.Sprintf("confirm-txn-%s", hash)
}

package temporal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/client"
)

// Client starts and awaits confirmation workflows.
type Client struct {
	client    client.Client
	taskQueue string
	logger    *slog.Logger
}

// NewClient creates a new Temporal client.
func NewClient(host, namespace, taskQueue string, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}

	logger.Info("connecting to temporal",
		"host", host,
		"namespace", namespace,
		"task_queue", taskQueue,
	)

	c, err := client.Dial(client.Options{
		HostPort:  host,
		Namespace: namespace,
		Logger:    newTemporalLogger(logger),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Temporal: %w", err)
	}

	logger.Info("connected to temporal successfully")

	return &Client{
		client:    c,
		taskQueue: taskQueue,
		logger:    logger,
	}, nil
}

// StartConfirmation starts a ConfirmTransactionWorkflow for input.Hash and
// returns its workflow id. If a confirmation for the hash is already
// running, its id is returned instead of starting another.
func (c *Client) StartConfirmation(ctx context.Context, input ConfirmTransactionInput) (string, error) {
	id := WorkflowID(input.Hash)

	c.logger.DebugContext(ctx, "starting confirmation workflow",
		"hash", input.Hash,
		"sender", input.Sender,
		"workflow_id", id,
	)

	run, err := c.client.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:        id,
		TaskQueue: c.taskQueue,
		Memo: map[string]interface{}{
			"sender":     input.Sender,
			"created_by": "aptostx",
		},
	}, ConfirmTransactionWorkflow, input)
	if err != nil {
		var started *serviceerror.WorkflowExecutionAlreadyStarted
		if errors.As(err, &started) {
			c.logger.InfoContext(ctx, "confirmation already running", "workflow_id", id)
			return id, nil
		}
		return "", fmt.Errorf("failed to start confirmation %q: %w", id, err)
	}

	c.logger.InfoContext(ctx, "confirmation workflow started",
		"hash", input.Hash,
		"workflow_id", run.GetID(),
		"run_id", run.GetRunID(),
	)
	return run.GetID(), nil
}

// AwaitConfirmation blocks until the workflow with id finishes.
func (c *Client) AwaitConfirmation(ctx context.Context, workflowID string) (*ConfirmTransactionResult, error) {
	var result ConfirmTransactionResult
	if err := c.client.GetWorkflow(ctx, workflowID, "").Get(ctx, &result); err != nil {
		return nil, fmt.Errorf("failed waiting for %q: %w", workflowID, err)
	}
	return &result, nil
}

// ConfirmationStatus is a point-in-time view of a confirmation workflow.
// Result is set once the workflow has completed.
type ConfirmationStatus struct {
	WorkflowID string
	Status     string
	Result     *ConfirmTransactionResult
}

// ErrConfirmationNotFound is returned when no workflow has the given id.
var ErrConfirmationNotFound = errors.New("confirmation workflow not found")

// DescribeConfirmation reports the state of a confirmation workflow
// without waiting for it.
func (c *Client) DescribeConfirmation(ctx context.Context, workflowID string) (*ConfirmationStatus, error) {
	desc, err := c.client.DescribeWorkflowExecution(ctx, workflowID, "")
	if err != nil {
		var notFound *serviceerror.NotFound
		if errors.As(err, &notFound) {
			return nil, fmt.Errorf("%w: %s", ErrConfirmationNotFound, workflowID)
		}
		return nil, fmt.Errorf("failed to describe %q: %w", workflowID, err)
	}

	status := desc.GetWorkflowExecutionInfo().GetStatus()
	out := &ConfirmationStatus{
		WorkflowID: workflowID,
		Status:     workflowStatusName(status),
	}
	if status == enumspb.WORKFLOW_EXECUTION_STATUS_COMPLETED {
		if out.Result, err = c.AwaitConfirmation(ctx, workflowID); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func workflowStatusName(s enumspb.WorkflowExecutionStatus) string {
	switch s {
	case enumspb.WORKFLOW_EXECUTION_STATUS_RUNNING:
		return "running"
	case enumspb.WORKFLOW_EXECUTION_STATUS_COMPLETED:
		return "completed"
	case enumspb.WORKFLOW_EXECUTION_STATUS_FAILED:
		return "failed"
	case enumspb.WORKFLOW_EXECUTION_STATUS_CANCELED:
		return "canceled"
	case enumspb.WORKFLOW_EXECUTION_STATUS_TERMINATED:
		return "terminated"
	case enumspb.WORKFLOW_EXECUTION_STATUS_TIMED_OUT:
		return "timed_out"
	case enumspb.WORKFLOW_EXECUTION_STATUS_CONTINUED_AS_NEW:
		return "continued_as_new"
	default:
		return "unknown"
	}
}

// Close closes the underlying Temporal client.
func (c *Client) Close() {
	c.logger.Info("closing temporal client")
	c.client.Close()
}

// temporalLogger adapts slog.Logger to Temporal's logger interface.
type temporalLogger struct {
	logger *slog.Logger
}

func newTemporalLogger(logger *slog.Logger) *temporalLogger {
	return &temporalLogger{logger: logger}
}

func (l *temporalLogger) Debug(msg string, keyvals ...interface{}) {
	l.logger.Debug(msg, keyvals...)
}

func (l *temporalLogger) Info(msg string, keyvals ...interface{}) {
	l.logger.Info(msg, keyvals...)
}

func (l *temporalLogger) Warn(msg string, keyvals ...interface{}) {
	l.logger.Warn(msg, keyvals...)
}

func (l *temporalLogger) Error(msg string, keyvals ...interface{}) {
	l.logger.Error(msg, keyvals...)
}

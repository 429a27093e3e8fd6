package temporal

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/brojonat/aptostx/service/confirm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/api/serviceerror"
	workflowpb "go.temporal.io/api/workflow/v1"
	"go.temporal.io/api/workflowservice/v1"
	"go.temporal.io/sdk/mocks"
)

func newMockClient() (*Client, *mocks.Client) {
	mc := &mocks.Client{}
	return &Client{
		client:    mc,
		taskQueue: "aptostx-confirm",
		logger:    slog.New(slog.NewJSONHandler(io.Discard, nil)),
	}, mc
}

func describeResponse(status enumspb.WorkflowExecutionStatus) *workflowservice.DescribeWorkflowExecutionResponse {
	return &workflowservice.DescribeWorkflowExecutionResponse{
		WorkflowExecutionInfo: &workflowpb.WorkflowExecutionInfo{Status: status},
	}
}

func TestDescribeConfirmation_Running(t *testing.T) {
	c, mc := newMockClient()
	id := WorkflowID(testHash)
	mc.On("DescribeWorkflowExecution", mock.Anything, id, "").
		Return(describeResponse(enumspb.WORKFLOW_EXECUTION_STATUS_RUNNING), nil)

	st, err := c.DescribeConfirmation(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, id, st.WorkflowID)
	assert.Equal(t, "running", st.Status)
	assert.Nil(t, st.Result)
	mc.AssertNotCalled(t, "GetWorkflow", mock.Anything, mock.Anything, mock.Anything)
}

func TestDescribeConfirmation_CompletedFetchesResult(t *testing.T) {
	c, mc := newMockClient()
	id := WorkflowID(testHash)
	mc.On("DescribeWorkflowExecution", mock.Anything, id, "").
		Return(describeResponse(enumspb.WORKFLOW_EXECUTION_STATUS_COMPLETED), nil)

	run := &mocks.WorkflowRun{}
	run.On("Get", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		out := args.Get(1).(*ConfirmTransactionResult)
		*out = ConfirmTransactionResult{Hash: testHash, Outcome: confirm.OutcomeCommitted, Success: true, Version: 9}
	}).Return(nil)
	mc.On("GetWorkflow", mock.Anything, id, "").Return(run)

	st, err := c.DescribeConfirmation(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "completed", st.Status)
	require.NotNil(t, st.Result)
	assert.Equal(t, confirm.OutcomeCommitted, st.Result.Outcome)
	assert.Equal(t, uint64(9), st.Result.Version)
}

func TestDescribeConfirmation_NotFound(t *testing.T) {
	c, mc := newMockClient()
	mc.On("DescribeWorkflowExecution", mock.Anything, "missing", "").
		Return(nil, serviceerror.NewNotFound("workflow not found"))

	_, err := c.DescribeConfirmation(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrConfirmationNotFound)
}

func TestDescribeConfirmation_OtherErrors(t *testing.T) {
	c, mc := newMockClient()
	mc.On("DescribeWorkflowExecution", mock.Anything, "wf", "").
		Return(nil, errors.New("connection refused"))

	_, err := c.DescribeConfirmation(context.Background(), "wf")
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrConfirmationNotFound))
}

func TestWorkflowStatusName(t *testing.T) {
	tests := map[enumspb.WorkflowExecutionStatus]string{
		enumspb.WORKFLOW_EXECUTION_STATUS_RUNNING:          "running",
		enumspb.WORKFLOW_EXECUTION_STATUS_COMPLETED:        "completed",
		enumspb.WORKFLOW_EXECUTION_STATUS_FAILED:           "failed",
		enumspb.WORKFLOW_EXECUTION_STATUS_CANCELED:         "canceled",
		enumspb.WORKFLOW_EXECUTION_STATUS_TERMINATED:       "terminated",
		enumspb.WORKFLOW_EXECUTION_STATUS_TIMED_OUT:        "timed_out",
		enumspb.WORKFLOW_EXECUTION_STATUS_CONTINUED_AS_NEW: "continued_as_new",
		enumspb.WORKFLOW_EXECUTION_STATUS_UNSPECIFIED:      "unknown",
	}
	for status, want := range tests {
		assert.Equal(t, want, workflowStatusName(status))
	}
}

package gcp

import (
	"context"
	"encoding/json"
	"fmt"

	executions "cloud.google.com/go/workflows/executions/apiv1"
	"cloud.google.com/go/workflows/executions/apiv1/executionspb"
	"github.com/googleapis/gax-go/v2"
	"github.com/rs/zerolog"
)

// executionCreator is the part of the Workflows Executions client used here.
type executionCreator interface {
	CreateExecution(ctx context.Context, req *executionspb.CreateExecutionRequest, opts ...gax.CallOption) (*executionspb.Execution, error)
}

// WorkflowHandoff starts a Cloud Workflows execution that drives provider
// polling for a recording through the transcription-poller function.
type WorkflowHandoff struct {
	client     executionCreator
	projectID  string
	location   string
	workflowID string
	log        zerolog.Logger
}

// NewWorkflowHandoff creates a WorkflowHandoff on an executions client.
func NewWorkflowHandoff(client *executions.Client, projectID, location, workflowID string, log zerolog.Logger) *WorkflowHandoff {
	return newWorkflowHandoff(client, projectID, location, workflowID, log)
}

func newWorkflowHandoff(client executionCreator, projectID, location, workflowID string, log zerolog.Logger) *WorkflowHandoff {
	return &WorkflowHandoff{
		client:     client,
		projectID:  projectID,
		location:   location,
		workflowID: workflowID,
		log:        log.With().Str("component", "workflow-handoff").Logger(),
	}
}

// Parent is the workflow resource executions are created under.
func (w *WorkflowHandoff) Parent() string {
	return fmt.Sprintf("projects/%s/locations/%s/workflows/%s", w.projectID, w.location, w.workflowID)
}

// StartPolling creates an execution whose argument names the recording and
// returns the execution name.
func (w *WorkflowHandoff) StartPolling(ctx context.Context, recordingID string) (string, error) {
	payloadBytes, err := json.Marshal(map[string]string{"recordingId": recordingID})
	if err != nil {
		return "", fmt.Errorf("failed to marshal workflow payload: %w", err)
	}
	req := &executionspb.CreateExecutionRequest{
		Parent: w.Parent(),
		Execution: &executionspb.Execution{
			Argument: string(payloadBytes),
		},
	}
	exec, err := w.client.CreateExecution(ctx, req)
	if err != nil {
		return "", fmt.Errorf("failed to trigger workflow execution: %w", err)
	}

	w.log.Info().
		Str("recordingId", recordingID).
		Str("execution", exec.GetName()).
		Msg("Workflow execution started.")
	return exec.GetName(), nil
}

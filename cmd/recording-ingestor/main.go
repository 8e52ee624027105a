package main

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"
	"github.com/Lllllllleong/meetingrecordingflow/internal/config"
	"github.com/Lllllllleong/meetingrecordingflow/internal/logging"
	"github.com/Lllllllleong/meetingrecordingflow/internal/observability"
	"github.com/Lllllllleong/meetingrecordingflow/internal/services"
	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/rs/zerolog"
)

var (
	ingestorInstance *services.IngestorFunction
	once             sync.Once
	initErr          error
	log              zerolog.Logger
)

func init() {
	log = logging.New(logging.Config{
		Level:   config.Default().LogLevel,
		Service: "recording-ingestor",
		JSON:    true,
	})

	// Fires on google.cloud.storage.object.v1.finalized for the upload bucket.
	functions.CloudEvent("IngestRecording", ingestRecording)
}

// main is required by the Go Functions Framework.
func main() {}

func setup(ctx context.Context) (*services.IngestorFunction, error) {
	cfg, err := config.LoadFor(config.RoleIngestor)
	if err != nil {
		return nil, err
	}
	log = log.Level(logging.ParseLevel(cfg.LogLevel))

	rt, err := services.NewRuntime(ctx, cfg, config.RoleIngestor, log, observability.DefaultPipelineMetrics())
	if err != nil {
		return nil, err
	}
	return services.NewIngestor(rt.Orchestrator, rt.Storage, log), nil
}

func ingestRecording(ctx context.Context, e cloudevents.Event) error {
	once.Do(func() {
		ingestorInstance, initErr = setup(context.Background())
	})
	if initErr != nil {
		log.Error().Err(initErr).Msg("Critical error during function initialization")
		return initErr
	}

	var gcsEvent services.GCSEvent
	if err := json.Unmarshal(e.Data(), &gcsEvent); err != nil {
		log.Error().Err(err).Str("data", string(e.Data())).Msg("Failed to unmarshal event data")
		return fmt.Errorf("json.Unmarshal: %w", err)
	}

	_, err := ingestorInstance.Process(ctx, gcsEvent)
	return err
}

package main

import (
	"context"
	"net/http"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"
	"github.com/Lllllllleong/meetingrecordingflow/internal/config"
	"github.com/Lllllllleong/meetingrecordingflow/internal/logging"
	"github.com/Lllllllleong/meetingrecordingflow/internal/observability"
	"github.com/Lllllllleong/meetingrecordingflow/internal/services"
	"github.com/rs/zerolog"
)

var (
	pollerInstance *services.PollerFunction
	once           sync.Once
	initErr        error
	log            zerolog.Logger
)

func init() {
	log = logging.New(logging.Config{
		Level:   config.Default().LogLevel,
		Service: "transcription-poller",
		JSON:    true,
	})

	// Called by the transcription-poll workflow once per loop iteration.
	functions.HTTP("PollTranscription", pollTranscription)
}

// main is required by the Go Functions Framework.
func main() {}

func setup(ctx context.Context) (*services.PollerFunction, error) {
	cfg, err := config.LoadFor(config.RolePoller)
	if err != nil {
		return nil, err
	}
	log = log.Level(logging.ParseLevel(cfg.LogLevel))

	rt, err := services.NewRuntime(ctx, cfg, config.RolePoller, log, observability.DefaultPipelineMetrics())
	if err != nil {
		return nil, err
	}
	return services.NewPoller(rt.Orchestrator, log), nil
}

func pollTranscription(w http.ResponseWriter, r *http.Request) {
	once.Do(func() {
		pollerInstance, initErr = setup(context.Background())
	})
	if initErr != nil {
		log.Error().Err(initErr).Msg("Poller initialization failed")
		http.Error(w, "Internal Server Error: failed to initialize service", http.StatusInternalServerError)
		return
	}
	pollerInstance.ServeHTTP(w, r)
}

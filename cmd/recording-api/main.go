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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

var (
	router  http.Handler
	once    sync.Once
	initErr error
	log     zerolog.Logger
)

func init() {
	log = logging.New(logging.Config{
		Level:   config.Default().LogLevel,
		Service: "recording-api",
		JSON:    true,
	})

	functions.HTTP("RecordingAPI", handleRecordingAPI)
}

// main is required by the Go Functions Framework.
func main() {}

func setup(ctx context.Context) (http.Handler, error) {
	cfg, err := config.LoadFor(config.RoleAPI)
	if err != nil {
		return nil, err
	}
	log = log.Level(logging.ParseLevel(cfg.LogLevel))

	rt, err := services.NewRuntime(ctx, cfg, config.RoleAPI, log, observability.DefaultPipelineMetrics())
	if err != nil {
		return nil, err
	}
	return services.NewAPI(rt.Orchestrator, log, prometheus.DefaultGatherer).Router(), nil
}

func handleRecordingAPI(w http.ResponseWriter, r *http.Request) {
	once.Do(func() {
		router, initErr = setup(context.Background())
	})
	if initErr != nil {
		log.Error().Err(initErr).Msg("API initialization failed")
		http.Error(w, "Internal Server Error: failed to initialize service", http.StatusInternalServerError)
		return
	}
	router.ServeHTTP(w, r)
}

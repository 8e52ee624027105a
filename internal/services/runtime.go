// Package services wires the recording pipeline from configuration and
// exposes it to the deployed functions and the operator CLI.
package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/Lllllllleong/meetingrecordingflow/internal/config"
	"github.com/Lllllllleong/meetingrecordingflow/internal/gcp"
	"github.com/Lllllllleong/meetingrecordingflow/internal/lock"
	"github.com/Lllllllleong/meetingrecordingflow/internal/media"
	"github.com/Lllllllleong/meetingrecordingflow/internal/meet"
	"github.com/Lllllllleong/meetingrecordingflow/internal/observability"
	"github.com/Lllllllleong/meetingrecordingflow/internal/pipeline"
	"github.com/Lllllllleong/meetingrecordingflow/internal/recording"
	"github.com/Lllllllleong/meetingrecordingflow/internal/summary"
	"github.com/Lllllllleong/meetingrecordingflow/internal/transcription"
	"github.com/rs/zerolog"
)

// Runtime is a fully wired pipeline plus the clients it owns.
type Runtime struct {
	Config       *config.Config
	Orchestrator *pipeline.Orchestrator
	Storage      *gcp.AudioStorage
	Log          zerolog.Logger

	closers []func() error
}

// NewRuntime creates every client named by cfg and builds the orchestrator.
// metrics may be nil.
func NewRuntime(ctx context.Context, cfg *config.Config, role config.Role, log zerolog.Logger, metrics *observability.PipelineMetrics) (*Runtime, error) {
	rt := &Runtime{Config: cfg, Log: log}
	ok := false
	defer func() {
		if !ok {
			_ = rt.closeClients()
		}
	}()

	firestoreClient, err := gcp.NewFirestoreClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, err
	}
	rt.closers = append(rt.closers, firestoreClient.Close)

	storageClient, err := gcp.NewStorageClient(ctx)
	if err != nil {
		return nil, err
	}
	rt.closers = append(rt.closers, storageClient.Close)
	rt.Storage = gcp.NewAudioStorage(storageClient, cfg.AudioBucket, cfg.SignedURLTTL, cfg.UploadRetries, log)

	providers, err := rt.providers(ctx)
	if err != nil {
		return nil, err
	}

	vertex, err := gcp.NewVertexClient(ctx, cfg.ProjectID, cfg.VertexRegion, cfg.SummaryModel)
	if err != nil {
		return nil, fmt.Errorf("failed to create Vertex AI client: %w", err)
	}
	rt.closers = append(rt.closers, vertex.Close)

	machine := recording.NewMachine(recording.NewFirestoreStore(firestoreClient, cfg.RecordingsCollection))

	deps := pipeline.Deps{
		Machine:    machine,
		Providers:  providers,
		Normalizer: media.NewNormalizer(cfg.FFmpegPath, cfg.TempDir, log),
		Audio:      rt.Storage,
		Summarizer: summary.NewGenerator(vertex, log, metrics),
		Log:        log,
		Metrics:    metrics,
	}

	if cfg.MeetEnabled() {
		tokens := meet.NewFirestoreTokenStore(firestoreClient, cfg.AccountsCollection)
		connector := meet.NewGoogleConnector(cfg.GoogleClientID, cfg.GoogleClientSecret, tokens, log)
		deps.Reconciler = meet.NewReconciler(machine, connector, log, metrics)
	} else {
		log.Info().Msg("Google OAuth client not configured; meeting data reconciliation disabled.")
	}

	if cfg.RedisAddr != "" {
		redisClient, err := lock.Connect(ctx, cfg.RedisAddr, cfg.RedisPassword)
		if err != nil {
			return nil, err
		}
		rt.closers = append(rt.closers, redisClient.Close)
		deps.Locker = lock.NewRedis(redisClient, cfg.LockTTL, log)
	}

	// The poller is itself the target of the workflow and never hands off.
	if cfg.PollMode == config.PollWorkflow && role != config.RolePoller {
		executionsClient, err := gcp.NewExecutionsClient(ctx)
		if err != nil {
			return nil, err
		}
		rt.closers = append(rt.closers, executionsClient.Close)
		deps.Handoff = gcp.NewWorkflowHandoff(executionsClient, cfg.ProjectID, cfg.WorkflowLocation, cfg.WorkflowID, log)
	}

	orch, err := pipeline.New(deps, pipeline.Options{
		TempDir:         cfg.TempDir,
		MaxPollDuration: cfg.MaxPollDuration,
	})
	if err != nil {
		return nil, err
	}
	rt.Orchestrator = orch

	log.Info().
		Str("role", string(role)).
		Strs("providers", providers.Names()).
		Str("defaultProvider", providers.Default()).
		Str("pollMode", string(cfg.PollMode)).
		Bool("meet", deps.Reconciler != nil).
		Bool("redisLock", cfg.RedisAddr != "").
		Msg("Recording pipeline initialized.")

	ok = true
	return rt, nil
}

func (rt *Runtime) providers(ctx context.Context) (*transcription.Registry, error) {
	cfg := rt.Config

	speechClient, err := gcp.NewSpeechClient(ctx)
	if err != nil {
		return nil, err
	}
	rt.closers = append(rt.closers, speechClient.Close)

	all := []transcription.Provider{
		transcription.NewGoogleSpeech(speechClient, transcription.GoogleSpeechOptions{
			LanguageCode:         cfg.SpeechLanguage,
			AlternativeLanguages: cfg.SpeechAltLanguages,
			PollInterval:         cfg.SpeechPollInterval,
		}),
	}
	if cfg.AssemblyAIKey != "" {
		all = append(all, transcription.NewAssemblyAI(cfg.AssemblyAIKey, cfg.AssemblyPollInterval))
	}
	return transcription.NewRegistry(cfg.DefaultProvider, all...)
}

// Close drains background pipeline runs, then closes the clients.
func (rt *Runtime) Close(ctx context.Context) error {
	var drainErr error
	if rt.Orchestrator != nil {
		drainErr = rt.Orchestrator.Close(ctx)
	}
	return errors.Join(drainErr, rt.closeClients())
}

func (rt *Runtime) closeClients() error {
	var errs []error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	rt.closers = nil
	return errors.Join(errs...)
}

// Package pipeline drives recordings through normalization, transcription,
// summarization and meeting-data reconciliation.
//
// Every status change goes through recording.Machine. Long-running work runs
// in background goroutines owned by the Orchestrator, one per recording, each
// holding the recording's lock for its lifetime.
package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	rferrors "github.com/Lllllllleong/meetingrecordingflow/internal/errors"
	"github.com/Lllllllleong/meetingrecordingflow/internal/lock"
	"github.com/Lllllllleong/meetingrecordingflow/internal/logging"
	"github.com/Lllllllleong/meetingrecordingflow/internal/meet"
	"github.com/Lllllllleong/meetingrecordingflow/internal/models"
	"github.com/Lllllllleong/meetingrecordingflow/internal/observability"
	"github.com/Lllllllleong/meetingrecordingflow/internal/recording"
	"github.com/Lllllllleong/meetingrecordingflow/internal/transcription"
	"github.com/rs/zerolog"
)

const defaultMaxPollDuration = 2 * time.Hour

// AudioStore moves media between object storage and local disk.
type AudioStore interface {
	// Fetch copies mediaURL into destDir and returns the local path.
	Fetch(ctx context.Context, mediaURL, destDir string) (string, error)
	// PutNormalized uploads normalized audio and returns its gs:// URI.
	PutNormalized(ctx context.Context, recordingID, localPath string) (string, error)
	// SignedURL returns a time-limited HTTPS URL for a gs:// URI.
	SignedURL(ctx context.Context, gcsURI string) (string, error)
}

type Normalizer interface {
	Normalize(ctx context.Context, sourcePath string) (string, error)
}

type Summarizer interface {
	Summarize(ctx context.Context, transcript string) (models.Summary, error)
}

type Reconciler interface {
	Reconcile(ctx context.Context, recordingID string) (meet.Outcome, error)
}

// Handoff starts an external poller (a Workflows execution) for a
// recording whose provider job was submitted.
type Handoff interface {
	StartPolling(ctx context.Context, recordingID string) (string, error)
}

// Deps are the Orchestrator's collaborators. Reconciler, Handoff, Locker and
// Metrics are optional.
type Deps struct {
	Machine    *recording.Machine
	Providers  *transcription.Registry
	Normalizer Normalizer
	Audio      AudioStore
	Summarizer Summarizer
	Reconciler Reconciler
	Locker     lock.Locker
	Handoff    Handoff
	Log        zerolog.Logger
	Metrics    *observability.PipelineMetrics
}

type Options struct {
	// TempDir holds per-recording work directories. Empty uses os.TempDir.
	TempDir string
	// MaxPollDuration bounds how long a provider job may run after submission.
	MaxPollDuration time.Duration
}

// SubmitRequest describes a newly uploaded recording.
type SubmitRequest struct {
	UserID          string
	MediaURL        string
	SourceObject    string
	MeetingPlatform models.MeetingPlatform
	MeetingID       string
	Provider        string
}

// ResumeReport counts what Resume did.
type ResumeReport struct {
	Resumed   int
	Failed    int
	Summaries int
}

type run struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Orchestrator is the public API of the pipeline.
type Orchestrator struct {
	machine    *recording.Machine
	providers  *transcription.Registry
	normalizer Normalizer
	audio      AudioStore
	summarizer Summarizer
	reconciler Reconciler
	locker     lock.Locker
	handoff    Handoff
	log        zerolog.Logger
	metrics    *observability.PipelineMetrics

	tempDir        string
	maxPoll        time.Duration
	persistBackoff time.Duration

	base context.Context
	stop context.CancelFunc
	mu   sync.Mutex
	runs map[string]*run
	wg   sync.WaitGroup
}

// New creates an Orchestrator.
func New(d Deps, opts Options) (*Orchestrator, error) {
	switch {
	case d.Machine == nil:
		return nil, fmt.Errorf("pipeline: state machine is required")
	case d.Providers == nil:
		return nil, fmt.Errorf("pipeline: provider registry is required")
	case d.Normalizer == nil:
		return nil, fmt.Errorf("pipeline: normalizer is required")
	case d.Audio == nil:
		return nil, fmt.Errorf("pipeline: audio store is required")
	case d.Summarizer == nil:
		return nil, fmt.Errorf("pipeline: summarizer is required")
	}
	if d.Locker == nil {
		d.Locker = lock.NewMemory()
	}
	if opts.MaxPollDuration <= 0 {
		opts.MaxPollDuration = defaultMaxPollDuration
	}

	base, stop := context.WithCancel(context.Background())
	return &Orchestrator{
		machine:        d.Machine,
		providers:      d.Providers,
		normalizer:     d.Normalizer,
		audio:          d.Audio,
		summarizer:     d.Summarizer,
		reconciler:     d.Reconciler,
		locker:         d.Locker,
		handoff:        d.Handoff,
		log:            d.Log.With().Str("component", "orchestrator").Logger(),
		metrics:        d.Metrics,
		tempDir:        opts.TempDir,
		maxPoll:        opts.MaxPollDuration,
		persistBackoff: 500 * time.Millisecond,
		base:           base,
		stop:           stop,
		runs:           make(map[string]*run),
	}, nil
}

// SubmitRecording creates the recording row and starts its pipeline in the
// background. A source object that was already ingested returns the
// existing recording id.
func (o *Orchestrator) SubmitRecording(ctx context.Context, req SubmitRequest) (string, error) {
	provider, err := o.providers.Get(req.Provider)
	if err != nil {
		return "", err
	}
	if req.MeetingPlatform != "" && req.MeetingPlatform != models.PlatformGoogleMeet {
		return "", fmt.Errorf("%w: unsupported meeting platform %q", rferrors.ErrValidation, req.MeetingPlatform)
	}

	if req.SourceObject != "" {
		existing, err := o.machine.Store().FindBySource(ctx, req.SourceObject)
		switch {
		case err == nil:
			o.log.Info().Str(logging.FieldRecordingID, existing.ID).Str("source", req.SourceObject).Msg("Source already ingested, skipping.")
			return existing.ID, nil
		case !rferrors.IsNotFound(err):
			return "", fmt.Errorf("checking for duplicate ingestion: %w", err)
		}
	}

	rec, err := o.machine.Create(ctx, &models.Recording{
		UserID:          req.UserID,
		MediaURL:        req.MediaURL,
		SourceObject:    req.SourceObject,
		MeetingPlatform: req.MeetingPlatform,
		MeetingID:       req.MeetingID,
		Provider:        provider.Name(),
	})
	if err != nil {
		return "", err
	}
	logCtx := logging.ForRecording(o.log, rec.ID)
	logCtx.Info().Str(logging.FieldUserID, rec.UserID).Str(logging.FieldProvider, provider.Name()).Bool("meet", rec.IsMeet()).Msg("Recording created.")

	release, ok, err := o.locker.TryLock(ctx, rec.ID)
	if err != nil || !ok {
		logCtx.Warn().Err(err).Msg("Could not lock new recording, running unlocked.")
		release = func() {}
	}

	id, reconcile := rec.ID, rec.IsMeet()
	o.launch(id, release, func(ctx context.Context) {
		o.runPipeline(ctx, id, provider.Name(), reconcile)
	})
	return id, nil
}

// GetStatus reads the current state without waiting on any provider.
func (o *Orchestrator) GetStatus(ctx context.Context, id string) (models.StatusResponse, error) {
	rec, err := o.machine.Get(ctx, id)
	if err != nil {
		return models.StatusResponse{}, err
	}
	return models.StatusResponse{
		RecordingID:         rec.ID,
		UserID:              rec.UserID,
		TranscriptionStatus: rec.TranscriptionStatus,
		SummaryStatus:       rec.SummaryStatus,
		Provider:            rec.Provider,
		Job:                 rec.Job,
		TranscriptionError:  rec.TranscriptionError,
		SummaryError:        rec.SummaryError,
		Transcript:          rec.Transcript,
		Summary:             rec.Summary,
	}, nil
}

// RegenerateTranscript re-runs transcription with providerName (empty keeps
// the recording's provider) and then the summary. It returns ErrBusy when
// the recording is locked or still processing.
func (o *Orchestrator) RegenerateTranscript(ctx context.Context, id, providerName string) error {
	rec, err := o.machine.Get(ctx, id)
	if err != nil {
		return err
	}
	if providerName == "" {
		providerName = rec.Provider
	}
	provider, err := o.providers.Get(providerName)
	if err != nil {
		return err
	}

	release, err := o.acquire(ctx, id)
	if err != nil {
		return err
	}
	if err := o.prepareRegeneration(ctx, id); err != nil {
		release()
		return err
	}

	logCtx := logging.ForRecording(o.log, id)
	logCtx.Info().Str(logging.FieldProvider, provider.Name()).Msg("Regenerating transcript.")
	reconcile := rec.IsMeet()
	o.launch(id, release, func(ctx context.Context) {
		if reconcile {
			o.reconcileBestEffort(ctx, id)
		}
		o.runPipeline(ctx, id, provider.Name(), false)
	})
	return nil
}

func (o *Orchestrator) prepareRegeneration(ctx context.Context, id string) error {
	rec, err := o.machine.Get(ctx, id)
	if err != nil {
		return err
	}
	if rec.TranscriptionStatus == models.StatusProcessing || rec.SummaryStatus == models.StatusProcessing {
		return fmt.Errorf("%w: recording %s is still processing", rferrors.ErrBusy, id)
	}
	if _, err := o.machine.ResetTranscription(ctx, id); err != nil {
		return err
	}
	if _, err := o.machine.ResetSummary(ctx, id); err != nil {
		return err
	}
	return nil
}

// RegenerateSummary re-runs the summary synchronously. It requires a
// completed transcription.
func (o *Orchestrator) RegenerateSummary(ctx context.Context, id string) error {
	rec, err := o.machine.Get(ctx, id)
	if err != nil {
		return err
	}
	release, err := o.acquire(ctx, id)
	if err != nil {
		return err
	}
	defer release()

	if rec.IsMeet() {
		o.reconcileBestEffort(ctx, id)
		if rec, err = o.machine.Get(ctx, id); err != nil {
			return err
		}
	}
	if rec.SummaryStatus == models.StatusProcessing {
		return fmt.Errorf("%w: summary of %s is being generated", rferrors.ErrBusy, id)
	}
	if rec.TranscriptionStatus != models.StatusCompleted {
		return fmt.Errorf("%w: transcription of %s is %s", rferrors.ErrInvalidState, id, rec.TranscriptionStatus)
	}
	if _, err := o.machine.ResetSummary(ctx, id); err != nil {
		return err
	}
	return o.runSummary(ctx, id)
}

// ReconcileMeetingData fetches and merges meeting-platform data now.
func (o *Orchestrator) ReconcileMeetingData(ctx context.Context, id string) (meet.Outcome, error) {
	if o.reconciler == nil {
		return meet.Outcome{}, fmt.Errorf("%w: meeting platform integration is not configured", rferrors.ErrValidation)
	}
	return o.reconciler.Reconcile(ctx, id)
}

// Delete cancels the recording's in-flight work and removes it with its
// child rows. The provider job itself is abandoned, not cancelled.
func (o *Orchestrator) Delete(ctx context.Context, id string) error {
	if err := o.cancelRun(ctx, id); err != nil {
		return err
	}
	if err := o.machine.Delete(ctx, id); err != nil {
		return err
	}
	logCtx := logging.ForRecording(o.log, id)
	logCtx.Info().Msg("Recording deleted.")
	return nil
}

// Resume restarts work left behind by a previous process: pollers for jobs
// with a live handle, failure for processing rows without one, and summaries
// that never started.
func (o *Orchestrator) Resume(ctx context.Context) (ResumeReport, error) {
	var report ResumeReport
	store := o.machine.Store()

	processing, err := store.ListByStatus(ctx, recording.DimensionTranscription, models.StatusProcessing)
	if err != nil {
		return report, err
	}
	for _, rec := range processing {
		if o.running(rec.ID) {
			continue
		}
		logCtx := logging.ForRecording(o.log, rec.ID)
		if rec.Job == nil {
			if _, err := o.machine.FailTranscription(ctx, rec.ID, nil, "interrupted before the provider job was submitted"); err != nil {
				logCtx.Warn().Err(err).Msg("Could not fail orphaned transcription.")
				continue
			}
			report.Failed++
			continue
		}
		if o.resumePolling(ctx, rec.ID, *rec.Job) {
			report.Resumed++
		}
	}

	stuck, err := store.ListByStatus(ctx, recording.DimensionSummary, models.StatusProcessing)
	if err != nil {
		return report, err
	}
	for _, rec := range stuck {
		if o.running(rec.ID) {
			continue
		}
		if _, err := o.machine.FailSummary(ctx, rec.ID, "interrupted during summary generation"); err == nil {
			report.Failed++
		}
	}

	pending, err := store.ListByStatus(ctx, recording.DimensionSummary, models.StatusPending)
	if err != nil {
		return report, err
	}
	for _, rec := range pending {
		if rec.TranscriptionStatus != models.StatusCompleted || o.running(rec.ID) {
			continue
		}
		release, ok, err := o.locker.TryLock(ctx, rec.ID)
		if err != nil || !ok {
			continue
		}
		id := rec.ID
		o.launch(id, release, func(ctx context.Context) {
			if err := o.runSummary(ctx, id); err != nil {
				logCtx := logging.ForRecording(o.log, id)
				logCtx.Warn().Err(err).Msg("Resumed summary failed.")
			}
		})
		report.Summaries++
	}

	o.log.Info().Int("resumed", report.Resumed).Int("failed", report.Failed).Int("summaries", report.Summaries).Msg("Resume complete.")
	return report, nil
}

func (o *Orchestrator) resumePolling(ctx context.Context, id string, job models.JobHandle) bool {
	logCtx := logging.ForRecording(o.log, id)
	if o.handoff != nil {
		_, err := o.handoff.StartPolling(ctx, id)
		if err == nil {
			return true
		}
		logCtx.Warn().Err(err).Msg("Hand-off failed, polling in-process.")
	}
	release, ok, err := o.locker.TryLock(ctx, id)
	if err != nil || !ok {
		return false
	}
	o.launch(id, release, func(ctx context.Context) {
		if err := o.pollUntilDone(ctx, id, job); err == nil {
			o.summarizeIfReady(ctx, id)
		}
	})
	return true
}

// Wait blocks until the background run for id, if any, finishes.
func (o *Orchestrator) Wait(ctx context.Context, id string) error {
	o.mu.Lock()
	r := o.runs[id]
	o.mu.Unlock()
	if r == nil {
		return nil
	}
	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Drain waits for all background runs to finish on their own.
func (o *Orchestrator) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close cancels all background runs and waits for them to exit.
func (o *Orchestrator) Close(ctx context.Context) error {
	o.stop()
	return o.Drain(ctx)
}

func (o *Orchestrator) acquire(ctx context.Context, id string) (lock.Release, error) {
	release, ok, err := o.locker.TryLock(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: recording %s is already being processed", rferrors.ErrBusy, id)
	}
	return release, nil
}

func (o *Orchestrator) launch(id string, release lock.Release, fn func(ctx context.Context)) {
	ctx, cancel := context.WithCancel(o.base)
	r := &run{cancel: cancel, done: make(chan struct{})}

	o.mu.Lock()
	o.runs[id] = r
	o.mu.Unlock()

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer close(r.done)
		defer cancel()
		defer release()
		defer func() {
			o.mu.Lock()
			if o.runs[id] == r {
				delete(o.runs, id)
			}
			o.mu.Unlock()
		}()

		o.metrics.PipelineStarted()
		defer o.metrics.PipelineFinished()
		fn(ctx)
	}()
}

func (o *Orchestrator) running(id string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.runs[id]
	return ok
}

func (o *Orchestrator) cancelRun(ctx context.Context, id string) error {
	o.mu.Lock()
	r := o.runs[id]
	o.mu.Unlock()
	if r == nil {
		return nil
	}
	r.cancel()
	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	rferrors "github.com/Lllllllleong/meetingrecordingflow/internal/errors"
	"github.com/Lllllllleong/meetingrecordingflow/internal/logging"
	"github.com/Lllllllleong/meetingrecordingflow/internal/models"
	"github.com/Lllllllleong/meetingrecordingflow/internal/observability"
	"github.com/Lllllllleong/meetingrecordingflow/internal/recording"
	"github.com/Lllllllleong/meetingrecordingflow/internal/transcription"
	"golang.org/x/sync/errgroup"
)

const defaultIntervalSeconds = 10

// persistAttempts bounds the writes of a submitted job's handle.
const persistAttempts = 3

var errPollTimeout = errors.New("transcription poll timed out")

// runPipeline submits the transcription job, concurrently reconciles
// meeting data when asked, then hands off or polls and finally summarizes.
func (o *Orchestrator) runPipeline(ctx context.Context, id, providerName string, reconcile bool) {
	logCtx := logging.ForRecording(o.log, id)

	var job models.JobHandle
	var g errgroup.Group
	g.Go(func() error {
		var err error
		job, err = o.submitTranscription(ctx, id, providerName)
		return err
	})
	if reconcile {
		g.Go(func() error {
			o.reconcileBestEffort(ctx, id)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		logCtx.Warn().Err(err).Msg("Transcription was not submitted.")
		return
	}

	if o.handoff != nil {
		execution, err := o.handoff.StartPolling(ctx, id)
		if err == nil {
			logCtx.Info().Str("execution", execution).Msg("Hand-off to workflow complete.")
			return
		}
		logCtx.Warn().Err(err).Msg("Hand-off failed, polling in-process.")
	}

	if err := o.pollUntilDone(ctx, id, job); err != nil {
		logCtx.Warn().Err(err).Msg("Polling ended without a result.")
		return
	}
	o.summarizeIfReady(ctx, id)
}

// submitTranscription moves transcription to processing, then downloads,
// normalizes, uploads and submits the audio. Failures are persisted on the
// recording before being returned.
func (o *Orchestrator) submitTranscription(ctx context.Context, id, providerName string) (models.JobHandle, error) {
	provider, err := o.providers.Get(providerName)
	if err != nil {
		return models.JobHandle{}, err
	}
	rec, err := o.machine.StartTranscription(ctx, id, provider.Name())
	if err != nil {
		return models.JobHandle{}, err
	}

	workDir, err := os.MkdirTemp(o.tempDir, "recording-*")
	if err != nil {
		return o.failSubmission(ctx, id, observability.StageNormalize, provider.Name(), "failed to create work dir", err)
	}
	defer os.RemoveAll(workDir)

	// --- 1. Download and normalize ---
	start := time.Now()
	local, err := o.audio.Fetch(ctx, rec.MediaURL, workDir)
	if err != nil {
		return o.failSubmission(ctx, id, observability.StageNormalize, provider.Name(), "failed to download media", err)
	}
	normalized, err := o.normalizer.Normalize(ctx, local)
	if err != nil {
		return o.failSubmission(ctx, id, observability.StageNormalize, provider.Name(), "failed to normalize media", err)
	}
	if normalized != local {
		defer os.Remove(normalized)
	}
	o.metrics.RecordStage(observability.StageNormalize, provider.Name(), observability.OutcomeSuccess, time.Since(start).Seconds())

	// --- 2. Upload ---
	start = time.Now()
	audioURI, err := o.audio.PutNormalized(ctx, id, normalized)
	if err != nil {
		return o.failSubmission(ctx, id, observability.StageUpload, provider.Name(), "failed to upload normalized audio", err)
	}
	if _, err := o.machine.SetAudio(ctx, id, audioURI); err != nil {
		if rferrors.IsNotFound(err) {
			return models.JobHandle{}, err
		}
		return o.failSubmission(ctx, id, observability.StageUpload, provider.Name(), "failed to record audio location", err)
	}
	ref := transcription.AudioRef{GCSURI: audioURI}
	if transcription.RequiresHTTPURL(provider) {
		if ref.HTTPURL, err = o.audio.SignedURL(ctx, audioURI); err != nil {
			return o.failSubmission(ctx, id, observability.StageUpload, provider.Name(), "failed to sign audio URL", err)
		}
	}
	o.metrics.RecordStage(observability.StageUpload, provider.Name(), observability.OutcomeSuccess, time.Since(start).Seconds())

	// --- 3. Submit ---
	start = time.Now()
	job, err := provider.Submit(ctx, ref)
	if err != nil {
		return o.failSubmission(ctx, id, observability.StageSubmit, provider.Name(), "failed to submit transcription job", err)
	}
	if err := o.attachJob(ctx, id, job); err != nil {
		logCtx := logging.ForRecording(o.log, id)
		logCtx.Error().Err(err).
			Str(logging.FieldProvider, job.Provider).
			Str(logging.FieldJobID, job.ID).
			Msg("Provider job submitted but its handle could not be stored; the job is orphaned.")
		if rferrors.IsNotFound(err) || rferrors.IsInvalidState(err) {
			return models.JobHandle{}, fmt.Errorf("attaching job %s: %w", job.ID, err)
		}
		return o.failSubmission(ctx, id, observability.StageSubmit, provider.Name(), "failed to store transcription job "+job.ID, err)
	}
	o.metrics.RecordStage(observability.StageSubmit, provider.Name(), observability.OutcomeSuccess, time.Since(start).Seconds())

	logCtx := logging.ForRecording(o.log, id)
	logCtx.Info().
		Str(logging.FieldProvider, job.Provider).
		Str(logging.FieldJobID, job.ID).
		Str("audioUri", audioURI).
		Msg("Transcription job submitted.")
	return job, nil
}

// attachJob persists the provider handle, retrying transient store errors.
// A rejected transition or a deleted recording is not retried.
func (o *Orchestrator) attachJob(ctx context.Context, id string, job models.JobHandle) error {
	backoff := o.persistBackoff
	var err error
	for attempt := 1; attempt <= persistAttempts; attempt++ {
		if _, err = o.machine.AttachJob(context.WithoutCancel(ctx), id, job); err == nil {
			return nil
		}
		if rferrors.IsNotFound(err) || rferrors.IsInvalidState(err) || attempt == persistAttempts {
			break
		}
		o.log.Warn().Err(err).
			Str(logging.FieldRecordingID, id).
			Str(logging.FieldJobID, job.ID).
			Int("attempt", attempt).
			Msg("Storing job handle failed, will retry.")
		select {
		case <-ctx.Done():
			return err
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return err
}

func (o *Orchestrator) failSubmission(ctx context.Context, id, stage, provider, message string, cause error) (models.JobHandle, error) {
	o.metrics.RecordStage(stage, provider, observability.OutcomeFailure, 0)
	return models.JobHandle{}, o.failTranscription(ctx, id, nil, message, cause)
}

// failTranscription logs and persists a failed transcription. The persisted
// reason and the returned error carry the same text.
func (o *Orchestrator) failTranscription(ctx context.Context, id string, job *models.JobHandle, message string, cause error) error {
	fullError := fmt.Sprintf("%s: %v", message, cause)
	logCtx := logging.ForRecording(o.log, id)
	logCtx.Error().Err(cause).Msg(message)

	if _, err := o.machine.FailTranscription(context.WithoutCancel(ctx), id, job, fullError); err != nil {
		logCtx.Warn().Err(err).Msg("Could not persist transcription failure.")
	}
	return fmt.Errorf("%s: %w", message, cause)
}

// pollUntilDone polls job at the provider's interval until the transcription
// leaves processing, the job is superseded, or the poll deadline passes.
func (o *Orchestrator) pollUntilDone(ctx context.Context, id string, job models.JobHandle) error {
	provider, err := o.providers.Get(job.Provider)
	if err != nil {
		return o.failTranscription(ctx, id, &job, "provider no longer configured", err)
	}

	deadline := job.SubmittedAt.Add(o.maxPoll)
	if job.SubmittedAt.IsZero() {
		deadline = time.Now().Add(o.maxPoll)
	}
	pollCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	ticker := time.NewTicker(provider.PollInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
		case <-pollCtx.Done():
			if ctx.Err() != nil {
				return ctx.Err()
			}
			o.metrics.RecordStage(observability.StageTranscription, job.Provider, observability.OutcomeFailure, o.maxPoll.Seconds())
			return o.failTranscription(ctx, id, &job, "transcription timed out", fmt.Errorf("%w after %s", errPollTimeout, o.maxPoll))
		}

		done, err := o.pollOnce(pollCtx, id, &job)
		if err != nil {
			if pollCtx.Err() != nil && ctx.Err() == nil {
				continue
			}
			return err
		}
		if done {
			return nil
		}
	}
}

// pollOnce checks the recording's job once. done reports that there is
// nothing left to poll. When expected is set, a different current job means
// this poller was superseded.
func (o *Orchestrator) pollOnce(ctx context.Context, id string, expected *models.JobHandle) (bool, error) {
	rec, err := o.machine.Get(ctx, id)
	if err != nil {
		return false, err
	}
	if rec.TranscriptionStatus != models.StatusProcessing {
		return true, nil
	}
	if rec.Job == nil {
		return expected != nil, nil
	}
	job := *rec.Job
	if expected != nil && (job.ID != expected.ID || job.Provider != expected.Provider) {
		return true, nil
	}

	logCtx := logging.ForRecording(o.log, id).With().Str(logging.FieldProvider, job.Provider).Str(logging.FieldJobID, job.ID).Logger()
	provider, err := o.providers.Get(job.Provider)
	if err != nil {
		_ = o.failTranscription(ctx, id, &job, "provider no longer configured", err)
		return true, nil
	}

	res, err := provider.Poll(ctx, job)
	if err != nil {
		if rferrors.Retryable(err) {
			o.metrics.RecordPoll(job.Provider, "transient")
			logCtx.Warn().Err(err).Msg("Transient poll failure, will retry.")
			return false, nil
		}
		o.metrics.RecordPoll(job.Provider, "error")
		_ = o.failTranscription(ctx, id, &job, "failed to poll provider", err)
		return true, nil
	}

	switch res.Status {
	case transcription.PollPending:
		o.metrics.RecordPoll(job.Provider, "pending")
		return false, nil
	case transcription.PollError:
		o.metrics.RecordPoll(job.Provider, "error")
		o.metrics.RecordStage(observability.StageTranscription, job.Provider, observability.OutcomeFailure, time.Since(job.SubmittedAt).Seconds())
		_ = o.failTranscription(ctx, id, &job, "provider reported failure", errors.New(res.ErrorDetail))
		return true, nil
	}

	o.metrics.RecordPoll(job.Provider, "done")
	updated, err := o.machine.CompleteTranscription(ctx, id, job, res.Text)
	switch {
	case errors.Is(err, recording.ErrSupersededJob), rferrors.IsInvalidState(err):
		logCtx.Info().Err(err).Msg("Job result discarded.")
		return true, nil
	case err != nil:
		return false, err
	}
	o.metrics.RecordStage(observability.StageTranscription, job.Provider, observability.OutcomeSuccess, time.Since(job.SubmittedAt).Seconds())
	logCtx.Info().Int("transcriptLength", len(updated.Transcript)).Str("source", string(updated.TranscriptSource)).Msg("Transcription completed.")
	return true, nil
}

// Advance runs one non-blocking pipeline step: a single poll while
// transcription is processing, then the summary once it completed.
func (o *Orchestrator) Advance(ctx context.Context, id string) (models.PollResponse, error) {
	rec, err := o.machine.Get(ctx, id)
	if err != nil {
		return models.PollResponse{}, err
	}

	if rec.TranscriptionStatus == models.StatusProcessing {
		if rec.Job != nil && !rec.Job.SubmittedAt.IsZero() && time.Since(rec.Job.SubmittedAt) > o.maxPoll {
			job := *rec.Job
			_ = o.failTranscription(ctx, id, &job, "transcription timed out", fmt.Errorf("%w after %s", errPollTimeout, o.maxPoll))
		} else if _, err := o.pollOnce(ctx, id, nil); err != nil {
			return models.PollResponse{}, err
		}
		if rec, err = o.machine.Get(ctx, id); err != nil {
			return models.PollResponse{}, err
		}
	}

	if rec.TranscriptionStatus == models.StatusCompleted && rec.SummaryStatus == models.StatusPending {
		if err := o.runSummary(ctx, id); err != nil && !rferrors.IsInvalidState(err) {
			logCtx := logging.ForRecording(o.log, id)
			logCtx.Warn().Err(err).Msg("Summary step failed.")
		}
		if rec, err = o.machine.Get(ctx, id); err != nil {
			return models.PollResponse{}, err
		}
	}
	return o.pollResponse(rec), nil
}

func (o *Orchestrator) pollResponse(rec *models.Recording) models.PollResponse {
	interval := defaultIntervalSeconds
	if p, err := o.providers.Get(rec.Provider); err == nil {
		if secs := int(p.PollInterval().Seconds()); secs > 0 {
			interval = secs
		}
	}
	done := rec.TranscriptionStatus == models.StatusFailed ||
		(rec.TranscriptionStatus == models.StatusCompleted && rec.SummaryStatus.Terminal())

	return models.PollResponse{
		Done:                done,
		TranscriptionStatus: rec.TranscriptionStatus,
		SummaryStatus:       rec.SummaryStatus,
		IntervalSeconds:     interval,
	}
}

func (o *Orchestrator) summarizeIfReady(ctx context.Context, id string) {
	rec, err := o.machine.Get(ctx, id)
	if err != nil || rec.TranscriptionStatus != models.StatusCompleted || rec.SummaryStatus != models.StatusPending {
		return
	}
	if err := o.runSummary(ctx, id); err != nil {
		logCtx := logging.ForRecording(o.log, id)
		logCtx.Warn().Err(err).Msg("Summary generation failed.")
	}
}

// runSummary generates and stores the summary. Only backend errors fail it;
// unparseable answers are stored as fallback summaries by the generator.
func (o *Orchestrator) runSummary(ctx context.Context, id string) error {
	rec, err := o.machine.StartSummary(ctx, id)
	if err != nil {
		return err
	}
	logCtx := logging.ForStage(o.log, id, observability.StageSummary)

	summary, err := o.summarizer.Summarize(ctx, rec.Transcript)
	if err != nil {
		reason := fmt.Sprintf("failed to generate summary: %v", err)
		if _, ferr := o.machine.FailSummary(context.WithoutCancel(ctx), id, reason); ferr != nil {
			logCtx.Warn().Err(ferr).Msg("Could not persist summary failure.")
		}
		return err
	}
	if _, err := o.machine.CompleteSummary(ctx, id, summary); err != nil {
		return err
	}
	logCtx.Info().Str("title", summary.Title).Int("actionItems", len(summary.ActionItems)).Msg("Summary stored.")
	return nil
}

// reconcileBestEffort merges meeting data and only logs failures.
func (o *Orchestrator) reconcileBestEffort(ctx context.Context, id string) {
	if o.reconciler == nil {
		return
	}
	logCtx := logging.ForStage(o.log, id, observability.StageReconcile)
	start := time.Now()

	out, err := o.reconciler.Reconcile(ctx, id)
	if err != nil {
		o.metrics.RecordStage(observability.StageReconcile, "", observability.OutcomeFailure, time.Since(start).Seconds())
		logCtx.Warn().Err(err).Bool("credentialExpired", rferrors.IsCredentialExpired(err)).Msg("Meeting data reconciliation failed, continuing.")
		return
	}
	o.metrics.RecordStage(observability.StageReconcile, "", observability.OutcomeSuccess, time.Since(start).Seconds())
	logCtx.Info().Str("outcome", string(out.Kind)).Bool("alreadyExists", out.AlreadyExists).Msg(out.Message)
}

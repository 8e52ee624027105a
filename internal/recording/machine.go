package recording

import (
	"context"
	"fmt"
	"strings"
	"time"

	rferrors "github.com/Lllllllleong/meetingrecordingflow/internal/errors"
	"github.com/Lllllllleong/meetingrecordingflow/internal/models"
)

// ErrSupersededJob rejects a completion for a job handle that is no longer
// the recording's current handle.
var ErrSupersededJob = fmt.Errorf("%w: superseded job", rferrors.ErrInvalidState)

// CanTransition reports whether one processing dimension may move from -> to.
func CanTransition(from, to models.Status) bool {
	switch from {
	case models.StatusPending:
		return to == models.StatusProcessing
	case models.StatusProcessing:
		return to == models.StatusCompleted || to == models.StatusFailed
	case models.StatusCompleted, models.StatusFailed:
		return to == models.StatusPending
	}
	return false
}

// CanStartSummary reports whether the summary dimension may enter processing.
func CanStartSummary(rec *models.Recording) bool {
	return rec.TranscriptionStatus == models.StatusCompleted &&
		strings.TrimSpace(rec.Transcript) != "" &&
		CanTransition(rec.SummaryStatus, models.StatusProcessing)
}

// AttachResult reports what AttachMeetingData changed.
type AttachResult struct {
	AlreadyExists    bool
	TranscriptFilled bool
}

// Machine applies status transitions to stored recordings.
type Machine struct {
	store Store
	now   func() time.Time
}

// NewMachine creates a Machine over store.
func NewMachine(store Store) *Machine {
	return &Machine{store: store, now: func() time.Time { return time.Now().UTC() }}
}

// Store exposes the underlying store for read paths.
func (m *Machine) Store() Store {
	return m.store
}

func (m *Machine) Get(ctx context.Context, id string) (*models.Recording, error) {
	return m.store.Get(ctx, id)
}

// Create persists a new recording with both dimensions pending.
func (m *Machine) Create(ctx context.Context, rec *models.Recording) (*models.Recording, error) {
	if rec.UserID == "" {
		return nil, fmt.Errorf("%w: recording has no owner", rferrors.ErrValidation)
	}
	if rec.MediaURL == "" {
		return nil, fmt.Errorf("%w: recording has no media reference", rferrors.ErrValidation)
	}
	now := m.now()
	rec.TranscriptionStatus = models.StatusPending
	rec.SummaryStatus = models.StatusPending
	rec.Job = nil
	rec.CreatedAt = now
	rec.UpdatedAt = now

	id, err := m.store.Create(ctx, rec)
	if err != nil {
		return nil, err
	}
	rec.ID = id
	return rec, nil
}

// StartTranscription moves transcription to processing before any
// normalization or provider call happens.
func (m *Machine) StartTranscription(ctx context.Context, id, provider string) (*models.Recording, error) {
	return m.store.Update(ctx, id, func(rec *models.Recording) error {
		if err := transition(DimensionTranscription, rec.TranscriptionStatus, models.StatusProcessing); err != nil {
			return err
		}
		rec.TranscriptionStatus = models.StatusProcessing
		rec.Provider = provider
		rec.TranscriptionError = ""
		rec.Job = nil
		return nil
	})
}

// SetAudio records where the normalized audio was stored.
func (m *Machine) SetAudio(ctx context.Context, id, audioURI string) (*models.Recording, error) {
	return m.store.Update(ctx, id, func(rec *models.Recording) error {
		rec.AudioURI = audioURI
		return nil
	})
}

// AttachJob stores the provider handle. A recording holds at most one handle.
func (m *Machine) AttachJob(ctx context.Context, id string, job models.JobHandle) (*models.Recording, error) {
	return m.store.Update(ctx, id, func(rec *models.Recording) error {
		if rec.TranscriptionStatus != models.StatusProcessing {
			return fmt.Errorf("%w: cannot attach job while transcription is %s", rferrors.ErrInvalidState, rec.TranscriptionStatus)
		}
		if rec.Job != nil {
			return fmt.Errorf("%w: recording already holds %s job %s", rferrors.ErrInvalidState, rec.Job.Provider, rec.Job.ID)
		}
		if job.Provider != rec.Provider {
			return fmt.Errorf("%w: job from %s but recording uses %s", rferrors.ErrInvalidState, job.Provider, rec.Provider)
		}
		j := job
		rec.Job = &j
		return nil
	})
}

// CompleteTranscription stores provider text for the current job. Empty text
// is stored as models.NoSpeechTranscript unless the recording already holds
// a transcript from the meeting platform.
func (m *Machine) CompleteTranscription(ctx context.Context, id string, job models.JobHandle, text string) (*models.Recording, error) {
	return m.store.Update(ctx, id, func(rec *models.Recording) error {
		if !sameJob(rec.Job, job) {
			return ErrSupersededJob
		}
		if err := transition(DimensionTranscription, rec.TranscriptionStatus, models.StatusCompleted); err != nil {
			return err
		}

		text = strings.TrimSpace(text)
		switch {
		case text != "":
			rec.Transcript = text
			rec.TranscriptSource = models.TranscriptFromProvider
		case rec.TranscriptSource == models.TranscriptFromMeet && rec.Transcript != "":
			// keep the platform transcript
		default:
			rec.Transcript = models.NoSpeechTranscript
			rec.TranscriptSource = models.TranscriptFromProvider
		}
		rec.TranscriptionStatus = models.StatusCompleted
		rec.TranscriptionError = ""
		rec.Job = nil
		return nil
	})
}

// FailTranscription marks transcription failed with reason. When job is
// non-nil it must be the current handle.
func (m *Machine) FailTranscription(ctx context.Context, id string, job *models.JobHandle, reason string) (*models.Recording, error) {
	return m.store.Update(ctx, id, func(rec *models.Recording) error {
		if job != nil && !sameJob(rec.Job, *job) {
			return ErrSupersededJob
		}
		if err := transition(DimensionTranscription, rec.TranscriptionStatus, models.StatusFailed); err != nil {
			return err
		}
		rec.TranscriptionStatus = models.StatusFailed
		rec.TranscriptionError = reason
		rec.Job = nil
		return nil
	})
}

// StartSummary moves summary to processing. Requires a completed,
// non-empty transcript.
func (m *Machine) StartSummary(ctx context.Context, id string) (*models.Recording, error) {
	return m.store.Update(ctx, id, func(rec *models.Recording) error {
		if rec.TranscriptionStatus != models.StatusCompleted {
			return fmt.Errorf("%w: summary requires a completed transcription, got %s", rferrors.ErrInvalidState, rec.TranscriptionStatus)
		}
		if strings.TrimSpace(rec.Transcript) == "" {
			return fmt.Errorf("%w: summary requires a transcript", rferrors.ErrInvalidState)
		}
		if err := transition(DimensionSummary, rec.SummaryStatus, models.StatusProcessing); err != nil {
			return err
		}
		rec.SummaryStatus = models.StatusProcessing
		rec.SummaryError = ""
		return nil
	})
}

func (m *Machine) CompleteSummary(ctx context.Context, id string, summary models.Summary) (*models.Recording, error) {
	return m.store.Update(ctx, id, func(rec *models.Recording) error {
		if err := transition(DimensionSummary, rec.SummaryStatus, models.StatusCompleted); err != nil {
			return err
		}
		s := summary
		rec.Summary = &s
		rec.SummaryStatus = models.StatusCompleted
		rec.SummaryError = ""
		return nil
	})
}

func (m *Machine) FailSummary(ctx context.Context, id, reason string) (*models.Recording, error) {
	return m.store.Update(ctx, id, func(rec *models.Recording) error {
		if err := transition(DimensionSummary, rec.SummaryStatus, models.StatusFailed); err != nil {
			return err
		}
		rec.SummaryStatus = models.StatusFailed
		rec.SummaryError = reason
		return nil
	})
}

// ResetTranscription prepares a regeneration: transcription returns to
// pending and the job handle is cleared. A pending recording is left as is.
func (m *Machine) ResetTranscription(ctx context.Context, id string) (*models.Recording, error) {
	return m.store.Update(ctx, id, func(rec *models.Recording) error {
		if rec.SummaryStatus == models.StatusProcessing {
			return fmt.Errorf("%w: summary is being generated", rferrors.ErrInvalidState)
		}
		if rec.TranscriptionStatus != models.StatusPending {
			if err := transition(DimensionTranscription, rec.TranscriptionStatus, models.StatusPending); err != nil {
				return err
			}
		}
		rec.TranscriptionStatus = models.StatusPending
		rec.TranscriptionError = ""
		rec.Job = nil
		return nil
	})
}

// ResetSummary returns summary to pending. A pending summary is left as is.
func (m *Machine) ResetSummary(ctx context.Context, id string) (*models.Recording, error) {
	return m.store.Update(ctx, id, func(rec *models.Recording) error {
		if rec.SummaryStatus != models.StatusPending {
			if err := transition(DimensionSummary, rec.SummaryStatus, models.StatusPending); err != nil {
				return err
			}
		}
		rec.SummaryStatus = models.StatusPending
		rec.SummaryError = ""
		return nil
	})
}

// RecordMeetingLocation stores the platform space and conference record
// located by the reconciler, even when no rows follow.
func (m *Machine) RecordMeetingLocation(ctx context.Context, id, space, conferenceRecord string) (*models.Recording, error) {
	return m.store.Update(ctx, id, func(rec *models.Recording) error {
		if space != "" {
			rec.MeetSpace = space
		}
		if conferenceRecord != "" {
			rec.ConferenceRecord = conferenceRecord
		}
		return nil
	})
}

// AttachMeetingData writes participant and entry rows once. The transcript is
// filled from transcript only when the recording has none.
func (m *Machine) AttachMeetingData(ctx context.Context, id string, data MeetingData, transcript, space, conferenceRecord string) (*models.Recording, AttachResult, error) {
	var result AttachResult
	rec, err := m.store.AttachMeetingData(ctx, id, data, func(rec *models.Recording, hasRows bool) (bool, error) {
		result = AttachResult{}
		if hasRows {
			result.AlreadyExists = true
			return false, nil
		}
		if space != "" {
			rec.MeetSpace = space
		}
		if conferenceRecord != "" {
			rec.ConferenceRecord = conferenceRecord
		}
		transcript = strings.TrimSpace(transcript)
		if transcript != "" && rec.Transcript == "" {
			rec.Transcript = transcript
			rec.TranscriptSource = models.TranscriptFromMeet
			result.TranscriptFilled = true
		}
		return len(data.Participants) > 0 || len(data.Entries) > 0, nil
	})
	if err != nil {
		return nil, AttachResult{}, err
	}
	return rec, result, nil
}

// Delete removes the recording and its child rows.
func (m *Machine) Delete(ctx context.Context, id string) error {
	return m.store.Delete(ctx, id)
}

func transition(dim Dimension, from, to models.Status) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s cannot move from %s to %s", rferrors.ErrInvalidState, dim, from, to)
	}
	return nil
}

func sameJob(current *models.JobHandle, job models.JobHandle) bool {
	return current != nil && current.Provider == job.Provider && current.ID == job.ID
}

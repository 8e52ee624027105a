package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	rferrors "github.com/Lllllllleong/meetingrecordingflow/internal/errors"
	"github.com/Lllllllleong/meetingrecordingflow/internal/meet"
	"github.com/Lllllllleong/meetingrecordingflow/internal/models"
	"github.com/Lllllllleong/meetingrecordingflow/internal/transcription"
)

type fakeProvider struct {
	name     string
	httpOnly bool

	mu        sync.Mutex
	submitted []transcription.AudioRef
	polls     int
	submitErr error
	// poll overrides the default "done" answer; n is the 1-based poll count.
	poll func(job models.JobHandle, n int) (transcription.PollResult, error)
}

func (p *fakeProvider) Name() string                    { return p.name }
func (p *fakeProvider) SupportsLanguageDetection() bool { return false }
func (p *fakeProvider) DefaultLanguageHints() []string  { return nil }
func (p *fakeProvider) PollInterval() time.Duration     { return 5 * time.Millisecond }
func (p *fakeProvider) RequiresHTTPURL() bool           { return p.httpOnly }

func (p *fakeProvider) Submit(_ context.Context, audio transcription.AudioRef) (models.JobHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.submitErr != nil {
		return models.JobHandle{}, &rferrors.ProviderSubmissionError{Provider: p.name, Cause: p.submitErr}
	}
	p.submitted = append(p.submitted, audio)
	return models.JobHandle{
		Provider:    p.name,
		ID:          fmt.Sprintf("%s-job-%d", p.name, len(p.submitted)),
		SubmittedAt: time.Now().UTC(),
	}, nil
}

func (p *fakeProvider) Poll(_ context.Context, job models.JobHandle) (transcription.PollResult, error) {
	p.mu.Lock()
	p.polls++
	n, poll := p.polls, p.poll
	p.mu.Unlock()

	if poll != nil {
		return poll(job, n)
	}
	return transcription.PollResult{Status: transcription.PollDone, Text: "hello from " + p.name}, nil
}

func (p *fakeProvider) submissions() []transcription.AudioRef {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]transcription.AudioRef(nil), p.submitted...)
}

type fakeAudio struct {
	fetchErr error
}

func (a *fakeAudio) Fetch(_ context.Context, mediaURL, destDir string) (string, error) {
	if a.fetchErr != nil {
		return "", a.fetchErr
	}
	path := filepath.Join(destDir, "source"+filepath.Ext(mediaURL))
	if err := os.WriteFile(path, []byte("media"), 0o600); err != nil {
		return "", err
	}
	return path, nil
}

func (a *fakeAudio) PutNormalized(_ context.Context, recordingID, _ string) (string, error) {
	return "gs://audio/normalized/" + recordingID + ".wav", nil
}

func (a *fakeAudio) SignedURL(_ context.Context, gcsURI string) (string, error) {
	return "https://storage.example.com/" + filepath.Base(gcsURI) + "?sig=1", nil
}

type fakeNormalizer struct {
	err error
}

func (n *fakeNormalizer) Normalize(_ context.Context, src string) (string, error) {
	if n.err != nil {
		return "", &rferrors.MediaConversionError{Source: src, Detail: "ffmpeg exited with status 1", Cause: n.err}
	}
	return src, nil
}

type fakeSummarizer struct {
	mu    sync.Mutex
	calls int
	err   error
	// gate, when set, blocks Summarize until closed.
	gate chan struct{}
}

func (s *fakeSummarizer) Summarize(ctx context.Context, transcript string) (models.Summary, error) {
	s.mu.Lock()
	s.calls++
	gate, err := s.gate, s.err
	s.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return models.Summary{}, ctx.Err()
		}
	}
	if err != nil {
		return models.Summary{}, err
	}
	return models.Summary{Title: "Summary of: " + transcript, ActionItems: []models.ActionItem{}}, nil
}

func (s *fakeSummarizer) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type fakeReconciler struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (r *fakeReconciler) Reconcile(_ context.Context, _ string) (meet.Outcome, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.err != nil {
		return meet.Outcome{}, r.err
	}
	return meet.Outcome{Kind: meet.OutcomeNoData, Message: "nothing"}, nil
}

func (r *fakeReconciler) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

type fakeHandoff struct {
	mu      sync.Mutex
	started []string
	err     error
}

func (h *fakeHandoff) StartPolling(_ context.Context, recordingID string) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.err != nil {
		return "", h.err
	}
	h.started = append(h.started, recordingID)
	return "executions/" + recordingID, nil
}

var errBoom = errors.New("boom")

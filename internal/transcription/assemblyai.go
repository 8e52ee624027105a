package transcription

import (
	"context"
	"fmt"
	"strings"
	"time"

	aai "github.com/AssemblyAI/assemblyai-go-sdk"
	rferrors "github.com/Lllllllleong/meetingrecordingflow/internal/errors"
	"github.com/Lllllllleong/meetingrecordingflow/internal/models"
)

// assemblyTranscripts is the slice of *aai.TranscriptService the adapter uses.
type assemblyTranscripts interface {
	SubmitFromURL(ctx context.Context, audioURL string, params *aai.TranscriptOptionalParams) (aai.Transcript, error)
	Get(ctx context.Context, transcriptID string) (aai.Transcript, error)
}

// AssemblyAI transcribes through the AssemblyAI async transcript API with
// automatic language detection.
type AssemblyAI struct {
	transcripts  assemblyTranscripts
	pollInterval time.Duration
}

// NewAssemblyAI creates the provider from an API key.
func NewAssemblyAI(apiKey string, pollInterval time.Duration) *AssemblyAI {
	return newAssemblyAI(aai.NewClient(apiKey).Transcripts, pollInterval)
}

func newAssemblyAI(transcripts assemblyTranscripts, pollInterval time.Duration) *AssemblyAI {
	if pollInterval <= 0 {
		pollInterval = 3 * time.Second
	}
	return &AssemblyAI{transcripts: transcripts, pollInterval: pollInterval}
}

func (a *AssemblyAI) Name() string                    { return ProviderAssemblyAI }
func (a *AssemblyAI) SupportsLanguageDetection() bool { return true }
func (a *AssemblyAI) DefaultLanguageHints() []string  { return nil }
func (a *AssemblyAI) PollInterval() time.Duration     { return a.pollInterval }
func (a *AssemblyAI) RequiresHTTPURL() bool           { return true }

func (a *AssemblyAI) Submit(ctx context.Context, audio AudioRef) (models.JobHandle, error) {
	if !strings.HasPrefix(audio.HTTPURL, "https://") && !strings.HasPrefix(audio.HTTPURL, "http://") {
		return models.JobHandle{}, &rferrors.ProviderSubmissionError{
			Provider: ProviderAssemblyAI,
			Cause:    fmt.Errorf("%w: an http(s) audio URL is required", rferrors.ErrValidation),
		}
	}

	params := &aai.TranscriptOptionalParams{
		LanguageDetection: aai.Bool(true),
		Punctuate:         aai.Bool(true),
		FormatText:        aai.Bool(true),
	}
	transcript, err := a.transcripts.SubmitFromURL(ctx, audio.HTTPURL, params)
	if err != nil {
		return models.JobHandle{}, &rferrors.ProviderSubmissionError{Provider: ProviderAssemblyAI, Cause: err}
	}

	id := aai.ToString(transcript.ID)
	if id == "" {
		return models.JobHandle{}, &rferrors.ProviderSubmissionError{
			Provider: ProviderAssemblyAI,
			Cause:    fmt.Errorf("no transcript id returned"),
		}
	}
	if transcript.Status == aai.TranscriptStatusError {
		return models.JobHandle{}, &rferrors.ProviderSubmissionError{
			Provider: ProviderAssemblyAI,
			Cause:    fmt.Errorf("transcript %s rejected: %s", id, aai.ToString(transcript.Error)),
		}
	}
	return models.JobHandle{Provider: ProviderAssemblyAI, ID: id, SubmittedAt: time.Now().UTC()}, nil
}

func (a *AssemblyAI) Poll(ctx context.Context, job models.JobHandle) (PollResult, error) {
	transcript, err := a.transcripts.Get(ctx, job.ID)
	if err != nil {
		return PollResult{}, &rferrors.ProviderPollError{Provider: ProviderAssemblyAI, Handle: job.ID, Cause: err}
	}

	switch transcript.Status {
	case aai.TranscriptStatusCompleted:
		return PollResult{Status: PollDone, Text: strings.TrimSpace(aai.ToString(transcript.Text))}, nil
	case aai.TranscriptStatusError:
		detail := aai.ToString(transcript.Error)
		if isNoSpeech(detail) {
			return PollResult{Status: PollDone}, nil
		}
		if detail == "" {
			detail = "transcription failed"
		}
		return PollResult{Status: PollError, ErrorDetail: detail}, nil
	default:
		return PollResult{Status: PollPending}, nil
	}
}

// isNoSpeech matches AssemblyAI's errors for audio without speech, which are
// a valid empty result rather than a failure.
func isNoSpeech(detail string) bool {
	d := strings.ToLower(detail)
	return strings.Contains(d, "no spoken audio") || strings.Contains(d, "no speech")
}

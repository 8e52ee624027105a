package transcription

import (
	"context"
	"fmt"
	"strings"
	"time"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	rferrors "github.com/Lllllllleong/meetingrecordingflow/internal/errors"
	"github.com/Lllllllleong/meetingrecordingflow/internal/models"
)

// speechOperations is the slice of the Speech-to-Text client the adapter uses.
type speechOperations interface {
	Start(ctx context.Context, req *speechpb.LongRunningRecognizeRequest) (string, error)
	Poll(ctx context.Context, name string) (resp *speechpb.LongRunningRecognizeResponse, done bool, err error)
}

// speechClientOps wraps *speech.Client long-running operations.
type speechClientOps struct {
	client *speech.Client
}

func (s speechClientOps) Start(ctx context.Context, req *speechpb.LongRunningRecognizeRequest) (string, error) {
	op, err := s.client.LongRunningRecognize(ctx, req)
	if err != nil {
		return "", err
	}
	return op.Name(), nil
}

func (s speechClientOps) Poll(ctx context.Context, name string) (*speechpb.LongRunningRecognizeResponse, bool, error) {
	op := s.client.LongRunningRecognizeOperation(name)
	resp, err := op.Poll(ctx)
	return resp, op.Done(), err
}

// GoogleSpeechOptions configures the Google Speech-to-Text provider.
type GoogleSpeechOptions struct {
	LanguageCode         string
	AlternativeLanguages []string
	PollInterval         time.Duration
}

// GoogleSpeech transcribes through Cloud Speech-to-Text long-running
// recognition. It does not detect language; callers pass hints instead.
type GoogleSpeech struct {
	ops  speechOperations
	opts GoogleSpeechOptions
}

// NewGoogleSpeech creates the provider on an existing Speech client.
func NewGoogleSpeech(client *speech.Client, opts GoogleSpeechOptions) *GoogleSpeech {
	return newGoogleSpeech(speechClientOps{client: client}, opts)
}

func newGoogleSpeech(ops speechOperations, opts GoogleSpeechOptions) *GoogleSpeech {
	if opts.LanguageCode == "" {
		opts.LanguageCode = "en-US"
	}
	if opts.AlternativeLanguages == nil {
		opts.AlternativeLanguages = []string{"st-ZA"}
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 5 * time.Second
	}
	return &GoogleSpeech{ops: ops, opts: opts}
}

func (g *GoogleSpeech) Name() string                    { return ProviderGoogleSpeech }
func (g *GoogleSpeech) SupportsLanguageDetection() bool { return false }
func (g *GoogleSpeech) PollInterval() time.Duration     { return g.opts.PollInterval }

func (g *GoogleSpeech) DefaultLanguageHints() []string {
	return append([]string(nil), g.opts.AlternativeLanguages...)
}

func (g *GoogleSpeech) Submit(ctx context.Context, audio AudioRef) (models.JobHandle, error) {
	if !strings.HasPrefix(audio.GCSURI, "gs://") {
		return models.JobHandle{}, &rferrors.ProviderSubmissionError{
			Provider: ProviderGoogleSpeech,
			Cause:    fmt.Errorf("%w: a gs:// audio URI is required, got %q", rferrors.ErrValidation, audio.GCSURI),
		}
	}

	hints := audio.LanguageHints
	if len(hints) == 0 {
		hints = g.opts.AlternativeLanguages
	}

	req := &speechpb.LongRunningRecognizeRequest{
		Config: &speechpb.RecognitionConfig{
			Encoding:                   speechpb.RecognitionConfig_LINEAR16,
			SampleRateHertz:            16000,
			AudioChannelCount:          1,
			LanguageCode:               g.opts.LanguageCode,
			AlternativeLanguageCodes:   hints,
			EnableAutomaticPunctuation: true,
		},
		Audio: &speechpb.RecognitionAudio{
			AudioSource: &speechpb.RecognitionAudio_Uri{Uri: audio.GCSURI},
		},
	}

	name, err := g.ops.Start(ctx, req)
	if err != nil {
		return models.JobHandle{}, &rferrors.ProviderSubmissionError{Provider: ProviderGoogleSpeech, Cause: err}
	}
	if name == "" {
		return models.JobHandle{}, &rferrors.ProviderSubmissionError{
			Provider: ProviderGoogleSpeech,
			Cause:    fmt.Errorf("no operation name returned"),
		}
	}
	return models.JobHandle{Provider: ProviderGoogleSpeech, ID: name, SubmittedAt: time.Now().UTC()}, nil
}

func (g *GoogleSpeech) Poll(ctx context.Context, job models.JobHandle) (PollResult, error) {
	resp, done, err := g.ops.Poll(ctx, job.ID)
	if err != nil {
		if done {
			// The operation itself finished with an error.
			return PollResult{Status: PollError, ErrorDetail: err.Error()}, nil
		}
		return PollResult{}, &rferrors.ProviderPollError{Provider: ProviderGoogleSpeech, Handle: job.ID, Cause: err}
	}
	if !done || resp == nil {
		return PollResult{Status: PollPending}, nil
	}
	return PollResult{Status: PollDone, Text: joinSpeechResults(resp)}, nil
}

// joinSpeechResults concatenates the top alternative of every result.
func joinSpeechResults(resp *speechpb.LongRunningRecognizeResponse) string {
	var parts []string
	for _, result := range resp.GetResults() {
		alts := result.GetAlternatives()
		if len(alts) == 0 {
			continue
		}
		if text := strings.TrimSpace(alts[0].GetTranscript()); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " ")
}

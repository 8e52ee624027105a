package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSentinelHelpers(t *testing.T) {
	wrapped := fmt.Errorf("loading recording abc: %w", ErrNotFound)

	assert.True(t, IsNotFound(wrapped))
	assert.False(t, IsInvalidState(wrapped))
	assert.True(t, IsInvalidState(fmt.Errorf("x: %w", ErrInvalidState)))
	assert.True(t, IsBusy(fmt.Errorf("x: %w", ErrBusy)))
	assert.True(t, IsValidation(fmt.Errorf("x: %w", ErrValidation)))
	assert.True(t, IsAlreadyExists(fmt.Errorf("x: %w", ErrAlreadyExists)))
}

func TestTypedErrors_AsThroughWrapping(t *testing.T) {
	cause := errors.New("connection reset")

	tests := []struct {
		name  string
		err   error
		check func(error) bool
	}{
		{"media conversion", &MediaConversionError{Source: "in.mp4", Cause: cause}, IsMediaConversion},
		{"provider submission", &ProviderSubmissionError{Provider: "assemblyai", Cause: cause}, IsProviderSubmission},
		{"provider poll", &ProviderPollError{Provider: "google-speech", Handle: "op-1", Cause: cause}, IsProviderPoll},
		{"summary parse", &SummaryParseError{Raw: "nope", Cause: cause}, IsSummaryParse},
		{"meeting data", &MeetingDataNotFound{MeetingID: "abc-defg-hij"}, IsMeetingDataNotFound},
		{"credential", &CredentialExpiredError{UserID: "u1", Cause: cause}, IsCredentialExpired},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wrapped := fmt.Errorf("stage: %w", tt.err)
			assert.True(t, tt.check(wrapped))
			assert.NotEmpty(t, wrapped.Error())
		})
	}
}

func TestTypedErrors_UnwrapCause(t *testing.T) {
	cause := errors.New("boom")
	err := fmt.Errorf("submit: %w", &ProviderSubmissionError{Provider: "assemblyai", Cause: cause})

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "assemblyai")
}

func TestMediaConversionError_DetailPreferredOverCause(t *testing.T) {
	err := &MediaConversionError{Source: "clip.mov", Detail: "unsupported codec", Cause: errors.New("exit status 1")}

	assert.Equal(t, "media conversion failed for clip.mov: unsupported codec", err.Error())
}

func TestRetryable(t *testing.T) {
	assert.True(t, Retryable(fmt.Errorf("x: %w", &ProviderPollError{Provider: "p", Handle: "h", Cause: errors.New("503")})))
	assert.False(t, Retryable(&ProviderSubmissionError{Provider: "p", Cause: errors.New("400")}))
	assert.False(t, Retryable(&MediaConversionError{Source: "s"}))
	assert.False(t, Retryable(nil))
}

// Package errors defines the error taxonomy of the recording pipeline.
//
// Sentinel errors describe domain conditions (a recording that no longer
// exists, a transition the state machine refuses). Typed errors carry the
// pipeline stage that failed and decide how the failure propagates: media
// conversion and provider submission failures mark a recording failed,
// provider poll failures are retried on the next tick, summary parse and
// meeting data failures degrade into valid-but-partial results.
//
// Usage:
//
//	import rferrors "github.com/Lllllllleong/meetingrecordingflow/internal/errors"
//
//	if rferrors.IsCredentialExpired(err) {
//	    // ask the user to re-authenticate instead of retrying
//	}
package errors

import (
	"errors"
	"fmt"
)

// Domain errors.
var (
	// ErrNotFound indicates the recording (or a child row) does not exist.
	// Pipelines treat it as a cancellation: the recording was deleted.
	ErrNotFound = errors.New("not found")

	// ErrInvalidState indicates a transition the state machine does not allow.
	ErrInvalidState = errors.New("invalid state")

	// ErrBusy indicates another operation holds the recording's lock.
	ErrBusy = errors.New("recording is busy")

	// ErrValidation indicates invalid input.
	ErrValidation = errors.New("validation error")

	// ErrAlreadyExists indicates data that may be written once already exists.
	ErrAlreadyExists = errors.New("already exists")
)

// MediaConversionError reports that an uploaded file could not be converted
// to the canonical audio format. It is fatal for the submission.
type MediaConversionError struct {
	Source string
	Detail string
	Cause  error
}

func (e *MediaConversionError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("media conversion failed for %s: %s", e.Source, e.Detail)
	}
	return fmt.Sprintf("media conversion failed for %s: %v", e.Source, e.Cause)
}

func (e *MediaConversionError) Unwrap() error { return e.Cause }

// ProviderSubmissionError reports that a transcription provider rejected or
// failed to accept a job. Fatal for that attempt; regeneration may retry.
type ProviderSubmissionError struct {
	Provider string
	Cause    error
}

func (e *ProviderSubmissionError) Error() string {
	return fmt.Sprintf("%s: submission failed: %v", e.Provider, e.Cause)
}

func (e *ProviderSubmissionError) Unwrap() error { return e.Cause }

// ProviderPollError reports a transient failure talking to a provider while
// checking a job. Status is left unchanged and the next tick retries.
type ProviderPollError struct {
	Provider string
	Handle   string
	Cause    error
}

func (e *ProviderPollError) Error() string {
	return fmt.Sprintf("%s: polling %s failed: %v", e.Provider, e.Handle, e.Cause)
}

func (e *ProviderPollError) Unwrap() error { return e.Cause }

// SummaryParseError reports that the generative backend's answer did not
// contain a usable JSON summary. Callers fall back to a plain-text summary.
type SummaryParseError struct {
	Raw   string
	Cause error
}

func (e *SummaryParseError) Error() string {
	return fmt.Sprintf("summary response is not valid JSON: %v", e.Cause)
}

func (e *SummaryParseError) Unwrap() error { return e.Cause }

// MeetingDataNotFound reports that no conference record on the meeting
// platform could be confirmed for a meeting id.
type MeetingDataNotFound struct {
	MeetingID string
	Detail    string
}

func (e *MeetingDataNotFound) Error() string {
	return fmt.Sprintf("no meeting data found for %s: %s", e.MeetingID, e.Detail)
}

// CredentialExpiredError reports that the user's platform credential is
// missing, expired without a refresh token, or was rejected. The caller
// should prompt re-authentication rather than retry.
type CredentialExpiredError struct {
	UserID string
	Cause  error
}

func (e *CredentialExpiredError) Error() string {
	return fmt.Sprintf("credential for user %s expired or invalid: %v", e.UserID, e.Cause)
}

func (e *CredentialExpiredError) Unwrap() error { return e.Cause }

// IsNotFound reports whether any error in err's chain is ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsInvalidState reports whether any error in err's chain is ErrInvalidState.
func IsInvalidState(err error) bool {
	return errors.Is(err, ErrInvalidState)
}

// IsBusy reports whether any error in err's chain is ErrBusy.
func IsBusy(err error) bool {
	return errors.Is(err, ErrBusy)
}

// IsValidation reports whether any error in err's chain is ErrValidation.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}

// IsAlreadyExists reports whether any error in err's chain is ErrAlreadyExists.
func IsAlreadyExists(err error) bool {
	return errors.Is(err, ErrAlreadyExists)
}

// IsMediaConversion reports whether err is a MediaConversionError.
func IsMediaConversion(err error) bool {
	var target *MediaConversionError
	return errors.As(err, &target)
}

// IsProviderSubmission reports whether err is a ProviderSubmissionError.
func IsProviderSubmission(err error) bool {
	var target *ProviderSubmissionError
	return errors.As(err, &target)
}

// IsProviderPoll reports whether err is a ProviderPollError.
func IsProviderPoll(err error) bool {
	var target *ProviderPollError
	return errors.As(err, &target)
}

// IsSummaryParse reports whether err is a SummaryParseError.
func IsSummaryParse(err error) bool {
	var target *SummaryParseError
	return errors.As(err, &target)
}

// IsMeetingDataNotFound reports whether err is a MeetingDataNotFound.
func IsMeetingDataNotFound(err error) bool {
	var target *MeetingDataNotFound
	return errors.As(err, &target)
}

// IsCredentialExpired reports whether err is a CredentialExpiredError.
func IsCredentialExpired(err error) bool {
	var target *CredentialExpiredError
	return errors.As(err, &target)
}

// Retryable reports whether the pipeline retries err by itself.
// Only provider poll failures are retried automatically; everything else is
// either terminal for the attempt or absorbed into a degraded result.
func Retryable(err error) bool {
	return IsProviderPoll(err)
}

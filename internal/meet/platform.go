// Package meet reconciles recordings with data from the Google Meet
// conference API: the conference record of the meeting, its participant
// roster and its speaker-attributed transcript entries.
package meet

import (
	"context"
	"time"

	"github.com/Lllllllleong/meetingrecordingflow/internal/models"
)

// Space is a meeting space, addressable by its meeting code.
type Space struct {
	Name        string
	MeetingCode string
	MeetingURI  string
}

// ConferenceRecord is one occurrence of a meeting in a space.
type ConferenceRecord struct {
	Name      string
	Space     string
	StartTime time.Time
	EndTime   time.Time
}

// Transcript is a platform transcript attached to a conference record.
type Transcript struct {
	Name      string
	State     string
	StartTime time.Time
}

// Platform is the conference API, authenticated as one user.
type Platform interface {
	// GetSpace returns errors.ErrNotFound when no space has the code.
	GetSpace(ctx context.Context, meetingCode string) (*Space, error)
	// ListConferenceRecords lists records visible to the user, optionally
	// restricted by a platform filter expression.
	ListConferenceRecords(ctx context.Context, filter string) ([]ConferenceRecord, error)
	ListParticipants(ctx context.Context, conferenceRecord string) ([]models.Participant, error)
	ListTranscripts(ctx context.Context, conferenceRecord string) ([]Transcript, error)
	ListTranscriptEntries(ctx context.Context, transcript string) ([]models.TranscriptEntry, error)
}

// Connector opens a Platform with a user's stored credential. It returns
// *errors.CredentialExpiredError when the credential cannot be used.
type Connector interface {
	Connect(ctx context.Context, userID string) (Platform, error)
}

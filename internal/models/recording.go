package models

import "time"

// Status is the lifecycle state of one processing dimension of a recording.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether s is completed or failed.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// MeetingPlatform identifies the video-conferencing platform a recording came from.
type MeetingPlatform string

const PlatformGoogleMeet MeetingPlatform = "google-meet"

// TranscriptSource records who produced the stored transcript text.
type TranscriptSource string

const (
	TranscriptFromProvider TranscriptSource = "provider"
	TranscriptFromMeet     TranscriptSource = "meet"
)

// NoSpeechTranscript is stored when a provider finishes without any speech.
// The summary generator recognizes it and skips the backend call.
const NoSpeechTranscript = "No speech detected"

// JobHandle identifies an in-flight transcription job at one provider.
type JobHandle struct {
	Provider    string    `firestore:"provider" json:"provider"`
	ID          string    `firestore:"id" json:"id"`
	SubmittedAt time.Time `firestore:"submittedAt" json:"submittedAt"`
}

// Recording is the master document for one uploaded meeting recording.
// Status fields are written only through the recording state machine.
type Recording struct {
	ID           string `firestore:"-" json:"id"`
	UserID       string `firestore:"userId" json:"userId"`
	MediaURL     string `firestore:"mediaUrl" json:"mediaUrl"`
	SourceObject string `firestore:"sourceObject,omitempty" json:"sourceObject,omitempty"`
	AudioURI     string `firestore:"audioUri,omitempty" json:"audioUri,omitempty"`

	MeetingPlatform MeetingPlatform `firestore:"meetingPlatform,omitempty" json:"meetingPlatform,omitempty"`
	MeetingID       string          `firestore:"meetingId,omitempty" json:"meetingId,omitempty"`

	Provider            string     `firestore:"provider" json:"provider"`
	TranscriptionStatus Status     `firestore:"transcriptionStatus" json:"transcriptionStatus"`
	SummaryStatus       Status     `firestore:"summaryStatus" json:"summaryStatus"`
	Job                 *JobHandle `firestore:"job" json:"job,omitempty"`
	TranscriptionError  string     `firestore:"transcriptionError,omitempty" json:"transcriptionError,omitempty"`
	SummaryError        string     `firestore:"summaryError,omitempty" json:"summaryError,omitempty"`

	Transcript       string           `firestore:"transcript,omitempty" json:"transcript,omitempty"`
	TranscriptSource TranscriptSource `firestore:"transcriptSource,omitempty" json:"transcriptSource,omitempty"`
	Summary          *Summary         `firestore:"summary,omitempty" json:"summary,omitempty"`

	// Platform resource names located by the reconciler.
	MeetSpace        string `firestore:"meetSpace,omitempty" json:"meetSpace,omitempty"`
	ConferenceRecord string `firestore:"conferenceRecord,omitempty" json:"conferenceRecord,omitempty"`

	CreatedAt time.Time `firestore:"createdAt" json:"createdAt"`
	UpdatedAt time.Time `firestore:"updatedAt" json:"updatedAt"`
}

// IsMeet reports whether the recording can be reconciled against Google Meet.
func (r *Recording) IsMeet() bool {
	return r.MeetingPlatform == PlatformGoogleMeet && r.MeetingID != ""
}

// HasTranscript reports whether the recording holds transcript text.
func (r *Recording) HasTranscript() bool {
	return r.Transcript != ""
}

// Summary is the structured meeting summary.
type Summary struct {
	Title       string       `firestore:"title" json:"title"`
	Minutes     string       `firestore:"minutes" json:"minutes"`
	ActionItems []ActionItem `firestore:"actionItems" json:"actionItems"`
	NextMeeting *NextMeeting `firestore:"nextMeeting" json:"nextMeeting"`
}

// Priority of an action item.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

type ActionItem struct {
	Task     string   `firestore:"task" json:"task"`
	Assignee string   `firestore:"assignee" json:"assignee"`
	Deadline *string  `firestore:"deadline" json:"deadline"`
	Priority Priority `firestore:"priority" json:"priority"`
}

type NextMeeting struct {
	Date     *string `firestore:"date" json:"date"`
	Location *string `firestore:"location" json:"location"`
	Notes    *string `firestore:"notes" json:"notes"`
}

// ParticipantKind distinguishes how a participant joined the meeting.
type ParticipantKind string

const (
	ParticipantSignedIn  ParticipantKind = "signed-in"
	ParticipantAnonymous ParticipantKind = "anonymous"
	ParticipantPhone     ParticipantKind = "phone"
)

// Participant is one attendee reported by the meeting platform. ID is the
// platform participant resource name; it is unique within a recording.
type Participant struct {
	ID          string          `firestore:"participantId" json:"id"`
	UserRef     string          `firestore:"userRef,omitempty" json:"userRef,omitempty"`
	DisplayName string          `firestore:"displayName" json:"displayName"`
	Kind        ParticipantKind `firestore:"kind" json:"kind"`
	JoinedAt    *time.Time      `firestore:"joinedAt,omitempty" json:"joinedAt,omitempty"`
	LeftAt      *time.Time      `firestore:"leftAt,omitempty" json:"leftAt,omitempty"`
}

// TranscriptEntry is one speaker-attributed transcript segment. ParticipantID
// refers to a Participant by platform id and may be empty.
type TranscriptEntry struct {
	ID            string    `firestore:"entryId" json:"id"`
	ParticipantID string    `firestore:"participantId" json:"participantId"`
	Text          string    `firestore:"text" json:"text"`
	LanguageCode  string    `firestore:"languageCode,omitempty" json:"languageCode,omitempty"`
	StartTime     time.Time `firestore:"startTime" json:"startTime"`
	EndTime       time.Time `firestore:"endTime" json:"endTime"`
}

package models

// These structs define the JSON payloads exchanged with the Cloud Workflow,
// the recording API function and the operator CLI.

// PollRequest is the input for the transcription-poller function.
type PollRequest struct {
	RecordingID string `json:"recordingId"`
	ExecutionID string `json:"executionId"`
}

// PollResponse is the output of the transcription-poller function. The
// workflow loops while Done is false, sleeping IntervalSeconds between calls.
type PollResponse struct {
	Done                bool   `json:"done"`
	TranscriptionStatus Status `json:"transcriptionStatus"`
	SummaryStatus       Status `json:"summaryStatus"`
	IntervalSeconds     int    `json:"intervalSeconds"`
}

// SubmitRecordingRequest is the body of POST /recordings.
type SubmitRecordingRequest struct {
	MediaURL        string          `json:"mediaUrl"`
	MeetingPlatform MeetingPlatform `json:"meetingPlatform,omitempty"`
	MeetingID       string          `json:"meetingId,omitempty"`
	Provider        string          `json:"provider,omitempty"`
}

// SubmitRecordingResponse is returned once the recording row exists.
type SubmitRecordingResponse struct {
	RecordingID string `json:"recordingId"`
}

// RegenerateTranscriptRequest is the body of POST /recordings/{id}/transcript.
type RegenerateTranscriptRequest struct {
	Provider string `json:"provider,omitempty"`
}

// StatusResponse is the polling view of a recording.
type StatusResponse struct {
	RecordingID         string     `json:"recordingId"`
	UserID              string     `json:"userId"`
	TranscriptionStatus Status     `json:"transcriptionStatus"`
	SummaryStatus       Status     `json:"summaryStatus"`
	Provider            string     `json:"provider"`
	Job                 *JobHandle `json:"job,omitempty"`
	TranscriptionError  string     `json:"transcriptionError,omitempty"`
	SummaryError        string     `json:"summaryError,omitempty"`
	Transcript          string     `json:"transcript,omitempty"`
	Summary             *Summary   `json:"summary,omitempty"`
}

// ReconcileResponse reports the outcome of fetching meeting platform data.
type ReconcileResponse struct {
	Outcome           string `json:"outcome"`
	Message           string `json:"message"`
	AlreadyExists     bool   `json:"alreadyExists"`
	Participants      int    `json:"participants"`
	TranscriptEntries int    `json:"transcriptEntries"`
	TranscriptFilled  bool   `json:"transcriptFilled"`
}

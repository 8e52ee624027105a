package meet

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	rferrors "github.com/Lllllllleong/meetingrecordingflow/internal/errors"
	"github.com/Lllllllleong/meetingrecordingflow/internal/models"
	"github.com/Lllllllleong/meetingrecordingflow/internal/recording"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePlatform struct {
	spaces        map[string]*Space
	records       []ConferenceRecord
	participants  map[string][]models.Participant
	transcripts   map[string][]Transcript
	entries       map[string][]models.TranscriptEntry
	transcriptErr error

	filters          []string
	participantCalls int
}

func (f *fakePlatform) GetSpace(_ context.Context, code string) (*Space, error) {
	if s, ok := f.spaces[code]; ok {
		return s, nil
	}
	return nil, fmt.Errorf("%w: space %s", rferrors.ErrNotFound, code)
}

func (f *fakePlatform) ListConferenceRecords(_ context.Context, filter string) ([]ConferenceRecord, error) {
	f.filters = append(f.filters, filter)
	if filter == "" {
		return f.records, nil
	}
	var out []ConferenceRecord
	for _, r := range f.records {
		if filter == fmt.Sprintf("space.name = %q", r.Space) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakePlatform) ListParticipants(_ context.Context, record string) ([]models.Participant, error) {
	f.participantCalls++
	return f.participants[record], nil
}

func (f *fakePlatform) ListTranscripts(_ context.Context, record string) ([]Transcript, error) {
	if f.transcriptErr != nil {
		return nil, f.transcriptErr
	}
	return f.transcripts[record], nil
}

func (f *fakePlatform) ListTranscriptEntries(_ context.Context, transcript string) ([]models.TranscriptEntry, error) {
	return f.entries[transcript], nil
}

type fakeConnector struct {
	platform Platform
	err      error
	calls    int
}

func (c *fakeConnector) Connect(_ context.Context, _ string) (Platform, error) {
	c.calls++
	return c.platform, c.err
}

func at(hms string) time.Time {
	t, _ := time.Parse(time.RFC3339, "2024-05-01T"+hms+"Z")
	return t
}

// standupPlatform has one conference for abc-defg-hij with two participants
// and entries returned out of order.
func standupPlatform() *fakePlatform {
	const space = "spaces/AAAA1111"
	const record = "conferenceRecords/rec-1"
	return &fakePlatform{
		spaces: map[string]*Space{"abc-defg-hij": {Name: space, MeetingCode: "abc-defg-hij"}},
		records: []ConferenceRecord{
			{Name: "conferenceRecords/other", Space: "spaces/ZZZZ", StartTime: at("09:00:00")},
			{Name: record, Space: space, StartTime: at("10:00:00")},
		},
		participants: map[string][]models.Participant{record: {
			{ID: record + "/participants/p1", DisplayName: "Ana", Kind: models.ParticipantSignedIn},
			{ID: record + "/participants/p2", DisplayName: "Unknown", Kind: models.ParticipantAnonymous},
		}},
		transcripts: map[string][]Transcript{record: {{Name: record + "/transcripts/t1"}}},
		entries: map[string][]models.TranscriptEntry{record + "/transcripts/t1": {
			{ID: "e2", ParticipantID: record + "/participants/p2", Text: "world", StartTime: at("10:00:03")},
			{ID: "e1", ParticipantID: record + "/participants/p1", Text: "hello", StartTime: at("10:00:01")},
		}},
	}
}

func newMeetRecording(t *testing.T, m *recording.Machine, meetingID string) *models.Recording {
	t.Helper()
	rec, err := m.Create(context.Background(), &models.Recording{
		UserID:          "user-1",
		MediaURL:        "gs://uploads/standup.webm",
		MeetingPlatform: models.PlatformGoogleMeet,
		MeetingID:       meetingID,
	})
	require.NoError(t, err)
	return rec
}

func newTestReconciler(p Platform) (*Reconciler, *recording.Machine) {
	m := recording.NewMachine(recording.NewMemoryStore())
	return NewReconciler(m, &fakeConnector{platform: p}, zerolog.Nop(), nil), m
}

func TestReconcile_MergesEntriesInStartOrder(t *testing.T) {
	ctx := context.Background()
	r, m := newTestReconciler(standupPlatform())
	rec := newMeetRecording(t, m, "abc-defg-hij")

	out, err := r.Reconcile(ctx, rec.ID)
	require.NoError(t, err)

	assert.Equal(t, OutcomeComplete, out.Kind)
	assert.False(t, out.AlreadyExists)
	assert.True(t, out.TranscriptFilled)
	assert.Equal(t, "conferenceRecords/rec-1", out.ConferenceRecord)
	require.Len(t, out.Entries, 2)
	assert.Equal(t, "e1", out.Entries[0].ID)

	got, err := m.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "hello world", got.Transcript)
	assert.Equal(t, models.TranscriptFromMeet, got.TranscriptSource)
	assert.Equal(t, "spaces/AAAA1111", got.MeetSpace)
	assert.Equal(t, models.StatusPending, got.TranscriptionStatus)

	entries, err := m.Store().TranscriptEntries(ctx, rec.ID)
	require.NoError(t, err)
	for i := 1; i < len(entries); i++ {
		assert.False(t, entries[i].StartTime.Before(entries[i-1].StartTime))
	}
}

func TestReconcile_SecondRunReportsAlreadyExists(t *testing.T) {
	ctx := context.Background()
	platform := standupPlatform()
	r, m := newTestReconciler(platform)
	rec := newMeetRecording(t, m, "abc-defg-hij")

	_, err := r.Reconcile(ctx, rec.ID)
	require.NoError(t, err)

	out, err := r.Reconcile(ctx, rec.ID)
	require.NoError(t, err)
	assert.True(t, out.AlreadyExists)
	assert.Len(t, out.Participants, 2)
	assert.Equal(t, 1, platform.participantCalls)

	participants, err := m.Store().Participants(ctx, rec.ID)
	require.NoError(t, err)
	assert.Len(t, participants, 2)
}

func TestReconcile_NotFoundKeepsProviderTranscript(t *testing.T) {
	ctx := context.Background()
	platform := &fakePlatform{
		records: []ConferenceRecord{{Name: "conferenceRecords/x", Space: "spaces/OTHER", StartTime: at("10:00:00")}},
	}
	r, m := newTestReconciler(platform)
	rec := newMeetRecording(t, m, "abc-defg-hij")

	job := models.JobHandle{Provider: "assemblyai", ID: "tx"}
	_, err := m.StartTranscription(ctx, rec.ID, "assemblyai")
	require.NoError(t, err)
	_, err = m.AttachJob(ctx, rec.ID, job)
	require.NoError(t, err)
	_, err = m.CompleteTranscription(ctx, rec.ID, job, "provider text")
	require.NoError(t, err)

	out, err := r.Reconcile(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeNoData, out.Kind)

	got, err := m.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "provider text", got.Transcript)
	assert.Equal(t, models.StatusCompleted, got.TranscriptionStatus)

	participants, err := m.Store().Participants(ctx, rec.ID)
	require.NoError(t, err)
	assert.Empty(t, participants)
}

func TestReconcile_SpaceWithoutConference(t *testing.T) {
	ctx := context.Background()
	platform := &fakePlatform{
		spaces: map[string]*Space{"abc-defg-hij": {Name: "spaces/AAAA1111"}},
	}
	r, m := newTestReconciler(platform)
	rec := newMeetRecording(t, m, "abc-defg-hij")

	out, err := r.Reconcile(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSpaceOnly, out.Kind)
	assert.Equal(t, []string{"", `space.name = "spaces/AAAA1111"`}, platform.filters)

	got, err := m.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "spaces/AAAA1111", got.MeetSpace)
	assert.Empty(t, got.Transcript)
}

func TestReconcile_TranscriptFailureYieldsParticipantsOnly(t *testing.T) {
	platform := standupPlatform()
	platform.transcriptErr = errors.New("permission denied")
	r, m := newTestReconciler(platform)
	rec := newMeetRecording(t, m, "abc-defg-hij")

	out, err := r.Reconcile(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeParticipantsOnly, out.Kind)
	assert.False(t, out.TranscriptFilled)
}

func TestReconcile_DoesNotOverwriteExistingTranscript(t *testing.T) {
	ctx := context.Background()
	r, m := newTestReconciler(standupPlatform())
	rec := newMeetRecording(t, m, "abc-defg-hij")

	job := models.JobHandle{Provider: "assemblyai", ID: "tx"}
	_, err := m.StartTranscription(ctx, rec.ID, "assemblyai")
	require.NoError(t, err)
	_, err = m.AttachJob(ctx, rec.ID, job)
	require.NoError(t, err)
	_, err = m.CompleteTranscription(ctx, rec.ID, job, "provider text")
	require.NoError(t, err)

	out, err := r.Reconcile(ctx, rec.ID)
	require.NoError(t, err)
	assert.False(t, out.TranscriptFilled)

	got, err := m.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "provider text", got.Transcript)
}

func TestReconcile_RejectsNonMeetRecording(t *testing.T) {
	r, m := newTestReconciler(&fakePlatform{})
	rec, err := m.Create(context.Background(), &models.Recording{UserID: "u", MediaURL: "gs://b/o.wav"})
	require.NoError(t, err)

	_, err = r.Reconcile(context.Background(), rec.ID)
	assert.True(t, rferrors.IsValidation(err))
}

func TestReconcile_PropagatesCredentialExpiry(t *testing.T) {
	m := recording.NewMachine(recording.NewMemoryStore())
	expired := &rferrors.CredentialExpiredError{UserID: "user-1", Cause: errors.New("invalid_grant")}
	r := NewReconciler(m, &fakeConnector{err: expired}, zerolog.Nop(), nil)
	rec := newMeetRecording(t, m, "abc-defg-hij")

	_, err := r.Reconcile(context.Background(), rec.ID)
	assert.True(t, rferrors.IsCredentialExpired(err))
}

func TestFindConference_PartialMatch(t *testing.T) {
	platform := &fakePlatform{
		records: []ConferenceRecord{
			{Name: "conferenceRecords/x", Space: "spaces/unrelated"},
			{Name: "conferenceRecords/abcdefghij-1", Space: "spaces/zz", StartTime: at("10:00:00")},
		},
	}

	_, rec, err := findConference(context.Background(), platform, "ABC-DEFG-HIJ", time.Time{})
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "conferenceRecords/abcdefghij-1", rec.Name)
}

func TestFindConference_PicksRecordStartedBeforeRecording(t *testing.T) {
	space := &Space{Name: "spaces/S"}
	platform := &fakePlatform{
		spaces: map[string]*Space{"abc-defg-hij": space},
		records: []ConferenceRecord{
			{Name: "conferenceRecords/monday", Space: "spaces/S", StartTime: at("09:00:00")},
			{Name: "conferenceRecords/later", Space: "spaces/S", StartTime: at("15:00:00")},
			{Name: "conferenceRecords/morning", Space: "spaces/S", StartTime: at("11:00:00")},
		},
	}

	_, rec, err := findConference(context.Background(), platform, "abc-defg-hij", at("12:30:00"))
	require.NoError(t, err)
	assert.Equal(t, "conferenceRecords/morning", rec.Name)
}

func TestMergeTranscript(t *testing.T) {
	got := MergeTranscript([]models.TranscriptEntry{
		{Text: " world ", StartTime: at("10:00:03")},
		{Text: "", StartTime: at("10:00:02")},
		{Text: "hello", StartTime: at("10:00:01")},
	})
	assert.Equal(t, "hello world", got)
	assert.Empty(t, MergeTranscript(nil))
}

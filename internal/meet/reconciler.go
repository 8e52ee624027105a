package meet

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	rferrors "github.com/Lllllllleong/meetingrecordingflow/internal/errors"
	"github.com/Lllllllleong/meetingrecordingflow/internal/logging"
	"github.com/Lllllllleong/meetingrecordingflow/internal/models"
	"github.com/Lllllllleong/meetingrecordingflow/internal/observability"
	"github.com/Lllllllleong/meetingrecordingflow/internal/recording"
	"github.com/rs/zerolog"
)

// OutcomeKind classifies what a reconciliation found.
type OutcomeKind string

const (
	// OutcomeNoData means neither a conference record nor a space was found.
	OutcomeNoData OutcomeKind = "no_data"
	// OutcomeSpaceOnly means the meeting was located but has no participant
	// or transcript data.
	OutcomeSpaceOnly        OutcomeKind = "space_only"
	OutcomeParticipantsOnly OutcomeKind = "participants_only"
	OutcomeComplete         OutcomeKind = "complete"
)

// Outcome is the result of one reconciliation.
type Outcome struct {
	Kind             OutcomeKind
	AlreadyExists    bool
	Message          string
	Space            string
	ConferenceRecord string
	Participants     []models.Participant
	Entries          []models.TranscriptEntry
	TranscriptFilled bool
}

// Reconciler merges conference data into recordings.
type Reconciler struct {
	machine   *recording.Machine
	connector Connector
	log       zerolog.Logger
	metrics   *observability.PipelineMetrics
}

// NewReconciler creates a Reconciler. metrics may be nil.
func NewReconciler(machine *recording.Machine, connector Connector, log zerolog.Logger, metrics *observability.PipelineMetrics) *Reconciler {
	return &Reconciler{
		machine:   machine,
		connector: connector,
		log:       log.With().Str("component", "meet-reconciler").Logger(),
		metrics:   metrics,
	}
}

// Reconcile fetches conference data for recordingID and merges it. Rows are
// written once; a recording that already has participant rows returns its
// existing data with AlreadyExists set.
func (r *Reconciler) Reconcile(ctx context.Context, recordingID string) (Outcome, error) {
	logCtx := logging.ForStage(r.log, recordingID, observability.StageReconcile)

	rec, err := r.machine.Get(ctx, recordingID)
	if err != nil {
		return Outcome{}, err
	}
	if !rec.IsMeet() {
		return Outcome{}, fmt.Errorf("%w: recording %s is not a Google Meet recording", rferrors.ErrValidation, recordingID)
	}
	logCtx = logCtx.With().Str("meetingId", rec.MeetingID).Logger()

	// --- 1. Short-circuit when rows already exist ---
	if existing, ok, err := r.existing(ctx, rec); err != nil {
		return Outcome{}, err
	} else if ok {
		logCtx.Info().Int("participants", len(existing.Participants)).Msg("Meeting data already exists.")
		r.metrics.RecordReconcile("already_exists")
		return existing, nil
	}

	platform, err := r.connector.Connect(ctx, rec.UserID)
	if err != nil {
		return Outcome{}, err
	}

	// --- 2. Locate the conference record ---
	space, conference, err := findConference(ctx, platform, rec.MeetingID, rec.CreatedAt)
	if err != nil && !rferrors.IsMeetingDataNotFound(err) {
		return Outcome{}, err
	}
	if conference == nil {
		if space == nil {
			logCtx.Info().Err(err).Msg("No conference record or space found.")
			r.metrics.RecordReconcile(string(OutcomeNoData))
			return Outcome{Kind: OutcomeNoData, Message: messageFor(OutcomeNoData, 0, 0)}, nil
		}
		if _, err := r.machine.RecordMeetingLocation(ctx, recordingID, space.Name, ""); err != nil {
			return Outcome{}, err
		}
		logCtx.Info().Str("space", space.Name).Msg("Space found without a conference record.")
		r.metrics.RecordReconcile(string(OutcomeSpaceOnly))
		return Outcome{Kind: OutcomeSpaceOnly, Space: space.Name, Message: messageFor(OutcomeSpaceOnly, 0, 0)}, nil
	}
	logCtx = logCtx.With().Str("conferenceRecord", conference.Name).Logger()

	// --- 3. Fetch participants, then transcripts best-effort ---
	participants, err := platform.ListParticipants(ctx, conference.Name)
	if err != nil {
		return Outcome{}, fmt.Errorf("listing participants of %s: %w", conference.Name, err)
	}
	participants = dedupeParticipants(participants)
	entries := r.fetchEntries(ctx, logCtx, platform, conference.Name)
	recording.SortEntries(entries)

	// --- 4. Merge ---
	data := recording.MeetingData{Participants: participants, Entries: entries}
	_, res, err := r.machine.AttachMeetingData(ctx, recordingID, data, MergeTranscript(entries), conference.Space, conference.Name)
	if err != nil {
		return Outcome{}, err
	}
	if res.AlreadyExists {
		// Another reconciliation won the race.
		existing, _, err := r.existing(ctx, rec)
		if err != nil {
			return Outcome{}, err
		}
		r.metrics.RecordReconcile("already_exists")
		return existing, nil
	}

	kind := classify(len(participants), len(entries))
	logCtx.Info().
		Str("outcome", string(kind)).
		Int("participants", len(participants)).
		Int("entries", len(entries)).
		Bool("transcriptFilled", res.TranscriptFilled).
		Msg("Meeting data reconciled.")
	r.metrics.RecordReconcile(string(kind))

	return Outcome{
		Kind:             kind,
		Message:          messageFor(kind, len(participants), len(entries)),
		Space:            conference.Space,
		ConferenceRecord: conference.Name,
		Participants:     participants,
		Entries:          entries,
		TranscriptFilled: res.TranscriptFilled,
	}, nil
}

func (r *Reconciler) existing(ctx context.Context, rec *models.Recording) (Outcome, bool, error) {
	store := r.machine.Store()
	participants, err := store.Participants(ctx, rec.ID)
	if err != nil {
		return Outcome{}, false, err
	}
	if len(participants) == 0 {
		return Outcome{}, false, nil
	}
	entries, err := store.TranscriptEntries(ctx, rec.ID)
	if err != nil {
		return Outcome{}, false, err
	}
	kind := classify(len(participants), len(entries))
	return Outcome{
		Kind:             kind,
		AlreadyExists:    true,
		Message:          "Google Meet data already exists for this recording",
		Space:            rec.MeetSpace,
		ConferenceRecord: rec.ConferenceRecord,
		Participants:     participants,
		Entries:          entries,
	}, true, nil
}

// fetchEntries collects entries of every transcript of the conference.
// Failures are logged and yield fewer entries, never an error.
func (r *Reconciler) fetchEntries(ctx context.Context, logCtx zerolog.Logger, platform Platform, conference string) []models.TranscriptEntry {
	transcripts, err := platform.ListTranscripts(ctx, conference)
	if err != nil {
		logCtx.Warn().Err(err).Msg("Could not list transcripts.")
		return nil
	}
	if len(transcripts) == 0 {
		logCtx.Info().Msg("No transcripts available; transcription was likely not enabled.")
		return nil
	}

	var entries []models.TranscriptEntry
	seen := make(map[string]bool)
	for _, t := range transcripts {
		got, err := platform.ListTranscriptEntries(ctx, t.Name)
		if err != nil {
			logCtx.Warn().Err(err).Str("transcript", t.Name).Msg("Could not list transcript entries.")
			continue
		}
		for _, e := range got {
			if e.ID != "" && seen[e.ID] {
				continue
			}
			seen[e.ID] = true
			entries = append(entries, e)
		}
	}
	return entries
}

// findConference locates the conference record for meetingCode. The space is
// returned whenever the direct lookup succeeded, even without a record.
func findConference(ctx context.Context, platform Platform, meetingCode string, recordedAt time.Time) (*Space, *ConferenceRecord, error) {
	// Tier 1: direct space lookup by meeting code.
	space, err := platform.GetSpace(ctx, meetingCode)
	if err != nil {
		if rferrors.IsCredentialExpired(err) {
			return nil, nil, err
		}
		space = nil
	}

	records, err := platform.ListConferenceRecords(ctx, "")
	if err != nil {
		return space, nil, fmt.Errorf("listing conference records: %w", err)
	}
	if len(records) == 0 && space != nil {
		records, err = platform.ListConferenceRecords(ctx, fmt.Sprintf("space.name = %q", space.Name))
		if err != nil {
			return space, nil, fmt.Errorf("listing conference records of %s: %w", space.Name, err)
		}
	}

	// Tier 2: exact space match.
	if space != nil {
		var exact []ConferenceRecord
		for _, rec := range records {
			if rec.Space == space.Name {
				exact = append(exact, rec)
			}
		}
		if match := closestBefore(exact, recordedAt); match != nil {
			return space, match, nil
		}
	}

	// Tier 3: partial, case-insensitive match of the code in space or name.
	var partial []ConferenceRecord
	for _, rec := range records {
		if partialMatch(rec, meetingCode) {
			partial = append(partial, rec)
		}
	}
	if match := closestBefore(partial, recordedAt); match != nil {
		return space, match, nil
	}

	// Tier 4: not found. Never fall back to the most recent record.
	return space, nil, &rferrors.MeetingDataNotFound{
		MeetingID: meetingCode,
		Detail:    fmt.Sprintf("none of %d conference records match", len(records)),
	}
}

func partialMatch(rec ConferenceRecord, code string) bool {
	code = strings.ToLower(strings.TrimSpace(code))
	if code == "" {
		return false
	}
	stripped := strings.NewReplacer("-", "", " ", "").Replace(code)
	space := strings.ToLower(rec.Space)
	name := strings.ToLower(rec.Name)

	return strings.Contains(space, code) ||
		strings.Contains(name, code) ||
		(stripped != code && (strings.Contains(space, stripped) || strings.Contains(name, stripped)))
}

// closestBefore picks the latest record that started no later than
// recordedAt; without a usable time it picks the latest record.
func closestBefore(records []ConferenceRecord, recordedAt time.Time) *ConferenceRecord {
	if len(records) == 0 {
		return nil
	}
	sorted := append([]ConferenceRecord(nil), records...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].StartTime.After(sorted[j].StartTime) })

	if !recordedAt.IsZero() {
		for i := range sorted {
			if !sorted[i].StartTime.After(recordedAt) {
				return &sorted[i]
			}
		}
	}
	return &sorted[0]
}

// MergeTranscript joins entry texts in start-time order with single spaces.
func MergeTranscript(entries []models.TranscriptEntry) string {
	ordered := append([]models.TranscriptEntry(nil), entries...)
	recording.SortEntries(ordered)

	parts := make([]string, 0, len(ordered))
	for _, e := range ordered {
		if text := strings.TrimSpace(e.Text); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " ")
}

func dedupeParticipants(in []models.Participant) []models.Participant {
	seen := make(map[string]bool, len(in))
	out := make([]models.Participant, 0, len(in))
	for _, p := range in {
		if seen[p.ID] {
			continue
		}
		seen[p.ID] = true
		out = append(out, p)
	}
	return out
}

func classify(participants, entries int) OutcomeKind {
	switch {
	case entries > 0:
		return OutcomeComplete
	case participants > 0:
		return OutcomeParticipantsOnly
	default:
		return OutcomeSpaceOnly
	}
}

func messageFor(kind OutcomeKind, participants, entries int) string {
	switch kind {
	case OutcomeNoData:
		return "No Google Meet data found. The meeting may not have had transcription enabled, may be too old, or may not be visible to this account."
	case OutcomeSpaceOnly:
		return "Google Meet space found but no participant/transcript data available"
	case OutcomeParticipantsOnly:
		return fmt.Sprintf("Found %d participants, but no transcript entries (transcription may not have been enabled during the meeting)", participants)
	default:
		return fmt.Sprintf("Found %d participants and %d transcript entries with speaker attribution", participants, entries)
	}
}

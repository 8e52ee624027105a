package meet

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	rferrors "github.com/Lllllllleong/meetingrecordingflow/internal/errors"
	"github.com/Lllllllleong/meetingrecordingflow/internal/models"
	"golang.org/x/oauth2"
	"google.golang.org/api/googleapi"
	meetapi "google.golang.org/api/meet/v2"
)

// GooglePlatform implements Platform on the Google Meet REST API.
type GooglePlatform struct {
	svc    *meetapi.Service
	userID string
}

// NewGooglePlatform wraps an authenticated Meet service for userID.
func NewGooglePlatform(svc *meetapi.Service, userID string) *GooglePlatform {
	return &GooglePlatform{svc: svc, userID: userID}
}

func (p *GooglePlatform) GetSpace(ctx context.Context, meetingCode string) (*Space, error) {
	name := meetingCode
	if !strings.HasPrefix(name, "spaces/") {
		name = "spaces/" + meetingCode
	}
	s, err := p.svc.Spaces.Get(name).Context(ctx).Do()
	if err != nil {
		return nil, p.mapError(err, "space "+name)
	}
	return &Space{Name: s.Name, MeetingCode: s.MeetingCode, MeetingURI: s.MeetingUri}, nil
}

func (p *GooglePlatform) ListConferenceRecords(ctx context.Context, filter string) ([]ConferenceRecord, error) {
	call := p.svc.ConferenceRecords.List()
	if filter != "" {
		call = call.Filter(filter)
	}
	var out []ConferenceRecord
	err := call.Pages(ctx, func(page *meetapi.ListConferenceRecordsResponse) error {
		for _, r := range page.ConferenceRecords {
			out = append(out, ConferenceRecord{
				Name:      r.Name,
				Space:     r.Space,
				StartTime: parseTime(r.StartTime),
				EndTime:   parseTime(r.EndTime),
			})
		}
		return nil
	})
	if err != nil {
		return nil, p.mapError(err, "conference records")
	}
	return out, nil
}

func (p *GooglePlatform) ListParticipants(ctx context.Context, conferenceRecord string) ([]models.Participant, error) {
	var out []models.Participant
	err := p.svc.ConferenceRecords.Participants.List(conferenceRecord).Pages(ctx, func(page *meetapi.ListParticipantsResponse) error {
		for _, mp := range page.Participants {
			out = append(out, toParticipant(mp))
		}
		return nil
	})
	if err != nil {
		return nil, p.mapError(err, "participants of "+conferenceRecord)
	}
	return out, nil
}

func (p *GooglePlatform) ListTranscripts(ctx context.Context, conferenceRecord string) ([]Transcript, error) {
	var out []Transcript
	err := p.svc.ConferenceRecords.Transcripts.List(conferenceRecord).Pages(ctx, func(page *meetapi.ListTranscriptsResponse) error {
		for _, t := range page.Transcripts {
			out = append(out, Transcript{Name: t.Name, State: t.State, StartTime: parseTime(t.StartTime)})
		}
		return nil
	})
	if err != nil {
		return nil, p.mapError(err, "transcripts of "+conferenceRecord)
	}
	return out, nil
}

func (p *GooglePlatform) ListTranscriptEntries(ctx context.Context, transcript string) ([]models.TranscriptEntry, error) {
	var out []models.TranscriptEntry
	err := p.svc.ConferenceRecords.Transcripts.Entries.List(transcript).Pages(ctx, func(page *meetapi.ListTranscriptEntriesResponse) error {
		for _, e := range page.TranscriptEntries {
			out = append(out, models.TranscriptEntry{
				ID:            e.Name,
				ParticipantID: e.Participant,
				Text:          e.Text,
				LanguageCode:  e.LanguageCode,
				StartTime:     parseTime(e.StartTime),
				EndTime:       parseTime(e.EndTime),
			})
		}
		return nil
	})
	if err != nil {
		return nil, p.mapError(err, "entries of "+transcript)
	}
	return out, nil
}

func toParticipant(mp *meetapi.Participant) models.Participant {
	out := models.Participant{ID: mp.Name, DisplayName: "Unknown"}
	switch {
	case mp.SignedinUser != nil:
		out.Kind = models.ParticipantSignedIn
		out.UserRef = mp.SignedinUser.User
		if mp.SignedinUser.DisplayName != "" {
			out.DisplayName = mp.SignedinUser.DisplayName
		}
	case mp.AnonymousUser != nil:
		out.Kind = models.ParticipantAnonymous
		if mp.AnonymousUser.DisplayName != "" {
			out.DisplayName = mp.AnonymousUser.DisplayName
		}
	case mp.PhoneUser != nil:
		out.Kind = models.ParticipantPhone
		if mp.PhoneUser.DisplayName != "" {
			out.DisplayName = mp.PhoneUser.DisplayName
		}
	default:
		out.Kind = models.ParticipantAnonymous
	}
	if t := parseTime(mp.EarliestStartTime); !t.IsZero() {
		out.JoinedAt = &t
	}
	if t := parseTime(mp.LatestEndTime); !t.IsZero() {
		out.LeftAt = &t
	}
	return out
}

func (p *GooglePlatform) mapError(err error, what string) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case http.StatusUnauthorized:
			return &rferrors.CredentialExpiredError{UserID: p.userID, Cause: err}
		case http.StatusNotFound:
			return fmt.Errorf("%w: %s", rferrors.ErrNotFound, what)
		}
	}
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		return &rferrors.CredentialExpiredError{UserID: p.userID, Cause: err}
	}
	return fmt.Errorf("meet api %s: %w", what, err)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

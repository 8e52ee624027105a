// Package recording owns persistence and status transitions of recordings.
//
// The Machine is the only writer of status fields. Every transition is a
// read-modify-write inside a store transaction that first checks the
// recording still exists, so a deleted recording stops its pipeline at the
// next step instead of being resurrected.
package recording

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	rferrors "github.com/Lllllllleong/meetingrecordingflow/internal/errors"
	"github.com/Lllllllleong/meetingrecordingflow/internal/models"
	"github.com/google/uuid"
)

// Dimension names one of the two independently tracked processing states.
type Dimension string

const (
	DimensionTranscription Dimension = "transcriptionStatus"
	DimensionSummary       Dimension = "summaryStatus"
)

// MeetingData is the platform data written by the reconciler.
type MeetingData struct {
	Participants []models.Participant
	Entries      []models.TranscriptEntry
}

// MutateFunc changes a recording inside a transaction. Returning an error
// aborts the transaction and the error is returned unchanged.
type MutateFunc func(rec *models.Recording) error

// MeetingMutateFunc decides inside a transaction whether meeting rows are
// written. hasRows reports whether the recording already owns participant rows.
type MeetingMutateFunc func(rec *models.Recording, hasRows bool) (writeRows bool, err error)

// Store persists recordings and their child rows.
type Store interface {
	Create(ctx context.Context, rec *models.Recording) (string, error)
	// Get returns errors.ErrNotFound when the recording does not exist.
	Get(ctx context.Context, id string) (*models.Recording, error)
	Update(ctx context.Context, id string, fn MutateFunc) (*models.Recording, error)
	FindBySource(ctx context.Context, sourceObject string) (*models.Recording, error)
	ListByStatus(ctx context.Context, dim Dimension, status models.Status) ([]*models.Recording, error)
	AttachMeetingData(ctx context.Context, id string, data MeetingData, fn MeetingMutateFunc) (*models.Recording, error)
	Participants(ctx context.Context, id string) ([]models.Participant, error)
	// TranscriptEntries returns entries ordered by start time.
	TranscriptEntries(ctx context.Context, id string) ([]models.TranscriptEntry, error)
	// Delete removes the recording and all child rows.
	Delete(ctx context.Context, id string) error
}

// MemoryStore is an in-process Store used by the CLI's local mode and tests.
type MemoryStore struct {
	mu           sync.Mutex
	recordings   map[string]models.Recording
	participants map[string]map[string]models.Participant
	entries      map[string]map[string]models.TranscriptEntry
	now          func() time.Time
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		recordings:   make(map[string]models.Recording),
		participants: make(map[string]map[string]models.Participant),
		entries:      make(map[string]map[string]models.TranscriptEntry),
		now:          func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemoryStore) Create(_ context.Context, rec *models.Recording) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := rec.ID
	if id == "" {
		id = uuid.NewString()
	}
	if _, exists := s.recordings[id]; exists {
		return "", fmt.Errorf("recording %s: %w", id, rferrors.ErrAlreadyExists)
	}
	stored := cloneRecording(*rec)
	stored.ID = id
	s.recordings[id] = stored
	return id, nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*models.Recording, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.recordings[id]
	if !ok {
		return nil, fmt.Errorf("recording %s: %w", id, rferrors.ErrNotFound)
	}
	out := cloneRecording(rec)
	return &out, nil
}

func (s *MemoryStore) Update(_ context.Context, id string, fn MutateFunc) (*models.Recording, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.recordings[id]
	if !ok {
		return nil, fmt.Errorf("recording %s: %w", id, rferrors.ErrNotFound)
	}
	working := cloneRecording(rec)
	if err := fn(&working); err != nil {
		return nil, err
	}
	working.ID = id
	working.UpdatedAt = s.now()
	s.recordings[id] = cloneRecording(working)
	return &working, nil
}

func (s *MemoryStore) FindBySource(_ context.Context, sourceObject string) (*models.Recording, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, rec := range s.recordings {
		if sourceObject != "" && rec.SourceObject == sourceObject {
			out := cloneRecording(rec)
			return &out, nil
		}
	}
	return nil, fmt.Errorf("recording for %s: %w", sourceObject, rferrors.ErrNotFound)
}

func (s *MemoryStore) ListByStatus(_ context.Context, dim Dimension, status models.Status) ([]*models.Recording, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*models.Recording
	for _, rec := range s.recordings {
		current := rec.TranscriptionStatus
		if dim == DimensionSummary {
			current = rec.SummaryStatus
		}
		if current == status {
			clone := cloneRecording(rec)
			out = append(out, &clone)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) AttachMeetingData(_ context.Context, id string, data MeetingData, fn MeetingMutateFunc) (*models.Recording, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.recordings[id]
	if !ok {
		return nil, fmt.Errorf("recording %s: %w", id, rferrors.ErrNotFound)
	}
	working := cloneRecording(rec)
	writeRows, err := fn(&working, len(s.participants[id]) > 0)
	if err != nil {
		return nil, err
	}
	if writeRows {
		if s.participants[id] == nil {
			s.participants[id] = make(map[string]models.Participant)
		}
		for _, p := range data.Participants {
			s.participants[id][p.ID] = p
		}
		if s.entries[id] == nil {
			s.entries[id] = make(map[string]models.TranscriptEntry)
		}
		for _, e := range data.Entries {
			s.entries[id][e.ID] = e
		}
	}
	working.ID = id
	working.UpdatedAt = s.now()
	s.recordings[id] = cloneRecording(working)
	return &working, nil
}

func (s *MemoryStore) Participants(_ context.Context, id string) ([]models.Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.recordings[id]; !ok {
		return nil, fmt.Errorf("recording %s: %w", id, rferrors.ErrNotFound)
	}
	out := make([]models.Participant, 0, len(s.participants[id]))
	for _, p := range s.participants[id] {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) TranscriptEntries(_ context.Context, id string) ([]models.TranscriptEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.recordings[id]; !ok {
		return nil, fmt.Errorf("recording %s: %w", id, rferrors.ErrNotFound)
	}
	out := make([]models.TranscriptEntry, 0, len(s.entries[id]))
	for _, e := range s.entries[id] {
		out = append(out, e)
	}
	SortEntries(out)
	return out, nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.recordings[id]; !ok {
		return fmt.Errorf("recording %s: %w", id, rferrors.ErrNotFound)
	}
	delete(s.recordings, id)
	delete(s.participants, id)
	delete(s.entries, id)
	return nil
}

// SortEntries orders entries by start time, keeping platform order for ties.
func SortEntries(entries []models.TranscriptEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].StartTime.Before(entries[j].StartTime)
	})
}

func cloneRecording(rec models.Recording) models.Recording {
	if rec.Job != nil {
		job := *rec.Job
		rec.Job = &job
	}
	if rec.Summary != nil {
		summary := *rec.Summary
		summary.ActionItems = append([]models.ActionItem(nil), rec.Summary.ActionItems...)
		if rec.Summary.NextMeeting != nil {
			next := *rec.Summary.NextMeeting
			summary.NextMeeting = &next
		}
		rec.Summary = &summary
	}
	return rec
}

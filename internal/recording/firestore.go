package recording

import (
	"context"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	rferrors "github.com/Lllllllleong/meetingrecordingflow/internal/errors"
	"github.com/Lllllllleong/meetingrecordingflow/internal/models"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	participantsCollection = "participants"
	entriesCollection      = "transcriptEntries"
)

// FirestoreStore keeps recordings in a Firestore collection. Participants and
// transcript entries live in subcollections of the recording document.
type FirestoreStore struct {
	client     *firestore.Client
	collection string
}

// NewFirestoreStore creates a store on the named collection.
func NewFirestoreStore(client *firestore.Client, collection string) *FirestoreStore {
	return &FirestoreStore{client: client, collection: collection}
}

func (s *FirestoreStore) doc(id string) *firestore.DocumentRef {
	return s.client.Collection(s.collection).Doc(id)
}

func (s *FirestoreStore) Create(ctx context.Context, rec *models.Recording) (string, error) {
	if rec.ID != "" {
		if _, err := s.doc(rec.ID).Create(ctx, rec); err != nil {
			if status.Code(err) == codes.AlreadyExists {
				return "", fmt.Errorf("recording %s: %w", rec.ID, rferrors.ErrAlreadyExists)
			}
			return "", fmt.Errorf("failed to create recording document: %w", err)
		}
		return rec.ID, nil
	}

	docRef, _, err := s.client.Collection(s.collection).Add(ctx, rec)
	if err != nil {
		return "", fmt.Errorf("failed to create recording document: %w", err)
	}
	return docRef.ID, nil
}

func (s *FirestoreStore) Get(ctx context.Context, id string) (*models.Recording, error) {
	snap, err := s.doc(id).Get(ctx)
	if err != nil {
		return nil, mapNotFound(id, err)
	}
	return decode(snap)
}

func (s *FirestoreStore) Update(ctx context.Context, id string, fn MutateFunc) (*models.Recording, error) {
	var result *models.Recording
	ref := s.doc(id)

	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil {
			return mapNotFound(id, err)
		}
		rec, err := decode(snap)
		if err != nil {
			return err
		}
		if err := fn(rec); err != nil {
			return err
		}
		rec.UpdatedAt = time.Now().UTC()
		if err := tx.Set(ref, rec); err != nil {
			return err
		}
		result = rec
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *FirestoreStore) FindBySource(ctx context.Context, sourceObject string) (*models.Recording, error) {
	docs, err := s.client.Collection(s.collection).Where("sourceObject", "==", sourceObject).Limit(1).Documents(ctx).GetAll()
	if err != nil {
		return nil, fmt.Errorf("failed to query for existing recording: %w", err)
	}
	if len(docs) == 0 {
		return nil, fmt.Errorf("recording for %s: %w", sourceObject, rferrors.ErrNotFound)
	}
	return decode(docs[0])
}

func (s *FirestoreStore) ListByStatus(ctx context.Context, dim Dimension, st models.Status) ([]*models.Recording, error) {
	docs, err := s.client.Collection(s.collection).Where(string(dim), "==", string(st)).Documents(ctx).GetAll()
	if err != nil {
		return nil, fmt.Errorf("failed to list recordings by %s: %w", dim, err)
	}
	out := make([]*models.Recording, 0, len(docs))
	for _, snap := range docs {
		rec, err := decode(snap)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func (s *FirestoreStore) AttachMeetingData(ctx context.Context, id string, data MeetingData, fn MeetingMutateFunc) (*models.Recording, error) {
	var result *models.Recording
	ref := s.doc(id)

	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil {
			return mapNotFound(id, err)
		}
		existing, err := tx.Documents(ref.Collection(participantsCollection).Limit(1)).GetAll()
		if err != nil {
			return fmt.Errorf("failed to check participant rows: %w", err)
		}
		rec, err := decode(snap)
		if err != nil {
			return err
		}

		writeRows, err := fn(rec, len(existing) > 0)
		if err != nil {
			return err
		}
		if writeRows {
			for _, p := range data.Participants {
				if err := tx.Set(ref.Collection(participantsCollection).Doc(docID(p.ID)), p); err != nil {
					return err
				}
			}
			for _, e := range data.Entries {
				if err := tx.Set(ref.Collection(entriesCollection).Doc(docID(e.ID)), e); err != nil {
					return err
				}
			}
		}

		rec.UpdatedAt = time.Now().UTC()
		if err := tx.Set(ref, rec); err != nil {
			return err
		}
		result = rec
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Participants lists the meeting participants of an existing recording.
func (s *FirestoreStore) Participants(ctx context.Context, id string) ([]models.Participant, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	docs, err := s.doc(id).Collection(participantsCollection).Documents(ctx).GetAll()
	if err != nil {
		return nil, fmt.Errorf("failed to list participants: %w", err)
	}
	out := make([]models.Participant, 0, len(docs))
	for _, snap := range docs {
		var p models.Participant
		if err := snap.DataTo(&p); err != nil {
			return nil, fmt.Errorf("failed to decode participant %s: %w", snap.Ref.ID, err)
		}
		out = append(out, p)
	}
	return out, nil
}

func (s *FirestoreStore) TranscriptEntries(ctx context.Context, id string) ([]models.TranscriptEntry, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	docs, err := s.doc(id).Collection(entriesCollection).OrderBy("startTime", firestore.Asc).Documents(ctx).GetAll()
	if err != nil {
		return nil, fmt.Errorf("failed to list transcript entries: %w", err)
	}
	out := make([]models.TranscriptEntry, 0, len(docs))
	for _, snap := range docs {
		var e models.TranscriptEntry
		if err := snap.DataTo(&e); err != nil {
			return nil, fmt.Errorf("failed to decode transcript entry %s: %w", snap.Ref.ID, err)
		}
		out = append(out, e)
	}
	SortEntries(out)
	return out, nil
}

// Delete removes child rows first and the recording document last, so a
// failed cascade leaves a recording that can be deleted again.
func (s *FirestoreStore) Delete(ctx context.Context, id string) error {
	ref := s.doc(id)
	if _, err := ref.Get(ctx); err != nil {
		return mapNotFound(id, err)
	}

	bw := s.client.BulkWriter(ctx)
	var jobs []*firestore.BulkWriterJob
	for _, coll := range []string{participantsCollection, entriesCollection} {
		refs, err := ref.Collection(coll).DocumentRefs(ctx).GetAll()
		if err != nil {
			bw.End()
			return fmt.Errorf("failed to list %s for deletion: %w", coll, err)
		}
		for _, child := range refs {
			job, err := bw.Delete(child)
			if err != nil {
				bw.End()
				return fmt.Errorf("failed to enqueue delete of %s: %w", child.Path, err)
			}
			jobs = append(jobs, job)
		}
	}
	bw.End()

	for _, job := range jobs {
		if _, err := job.Results(); err != nil {
			return fmt.Errorf("failed to delete child rows of %s: %w", id, err)
		}
	}

	if _, err := ref.Delete(ctx); err != nil {
		return fmt.Errorf("failed to delete recording %s: %w", id, err)
	}
	return nil
}

func decode(snap *firestore.DocumentSnapshot) (*models.Recording, error) {
	var rec models.Recording
	if err := snap.DataTo(&rec); err != nil {
		return nil, fmt.Errorf("failed to decode recording %s: %w", snap.Ref.ID, err)
	}
	rec.ID = snap.Ref.ID
	return &rec, nil
}

func mapNotFound(id string, err error) error {
	if status.Code(err) == codes.NotFound {
		return fmt.Errorf("recording %s: %w", id, rferrors.ErrNotFound)
	}
	return fmt.Errorf("failed to read recording %s: %w", id, err)
}

// docID turns a platform resource name into a valid document id.
func docID(name string) string {
	return strings.ReplaceAll(name, "/", "_")
}

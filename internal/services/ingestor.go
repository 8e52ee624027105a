package services

import (
	"context"
	"fmt"
	"strings"

	rferrors "github.com/Lllllllleong/meetingrecordingflow/internal/errors"
	"github.com/Lllllllleong/meetingrecordingflow/internal/logging"
	"github.com/Lllllllleong/meetingrecordingflow/internal/models"
	"github.com/Lllllllleong/meetingrecordingflow/internal/pipeline"
	"github.com/rs/zerolog"
)

// Object metadata keys set by the upload layer.
const (
	MetaUserID          = "userId"
	MetaMeetingID       = "meetingId"
	MetaMeetingPlatform = "meetingPlatform"
	MetaProvider        = "provider"
)

// normalizedPrefix holds pipeline output that must not be re-ingested.
const normalizedPrefix = "normalized/"

// GCSEvent is the data of a Cloud Storage object-finalized CloudEvent.
type GCSEvent struct {
	Bucket      string            `json:"bucket"`
	Name        string            `json:"name"`
	ContentType string            `json:"contentType"`
	Metadata    map[string]string `json:"metadata"`
}

type recordingSubmitter interface {
	SubmitRecording(ctx context.Context, req pipeline.SubmitRequest) (string, error)
	Wait(ctx context.Context, id string) error
}

type objectMetadataReader interface {
	ObjectMetadata(ctx context.Context, bucket, object string) (map[string]string, error)
}

// IngestorFunction turns uploaded recordings into pipeline submissions.
type IngestorFunction struct {
	orch recordingSubmitter
	meta objectMetadataReader
	log  zerolog.Logger
}

// NewIngestor creates the ingestor. meta is consulted when the event
// carries no object metadata.
func NewIngestor(orch recordingSubmitter, meta objectMetadataReader, log zerolog.Logger) *IngestorFunction {
	return &IngestorFunction{
		orch: orch,
		meta: meta,
		log:  log.With().Str("component", "ingestor").Logger(),
	}
}

// Process submits the uploaded object and waits for the submission phase.
// Uploads that can never be processed are logged and acknowledged so the
// event is not redelivered.
func (f *IngestorFunction) Process(ctx context.Context, e GCSEvent) (string, error) {
	logCtx := f.log.With().Str("gcsBucket", e.Bucket).Str("gcsObject", e.Name).Logger()
	logCtx.Info().Msg("Processing new GCS object.")

	if strings.HasPrefix(e.Name, normalizedPrefix) || strings.HasSuffix(e.Name, "/") {
		logCtx.Debug().Msg("Not a recording upload. Skipping.")
		return "", nil
	}

	meta := e.Metadata
	if len(meta) == 0 && f.meta != nil {
		var err error
		meta, err = f.meta.ObjectMetadata(ctx, e.Bucket, e.Name)
		if err != nil {
			logCtx.Error().Err(err).Msg("Failed to read object metadata")
			return "", err
		}
	}

	req := pipeline.SubmitRequest{
		UserID:          meta[MetaUserID],
		MediaURL:        fmt.Sprintf("gs://%s/%s", e.Bucket, e.Name),
		SourceObject:    fmt.Sprintf("%s/%s", e.Bucket, e.Name),
		MeetingPlatform: models.MeetingPlatform(meta[MetaMeetingPlatform]),
		MeetingID:       meta[MetaMeetingID],
		Provider:        meta[MetaProvider],
	}
	if req.UserID == "" {
		logCtx.Error().Msg("Upload has no userId metadata. Skipping.")
		return "", nil
	}

	id, err := f.orch.SubmitRecording(ctx, req)
	if err != nil {
		if rferrors.IsValidation(err) {
			logCtx.Error().Err(err).Msg("Upload rejected. Skipping.")
			return "", nil
		}
		logCtx.Error().Err(err).Msg("Failed to submit recording")
		return "", err
	}
	logCtx = logCtx.With().Str(logging.FieldRecordingID, id).Logger()
	logCtx.Info().Msg("Recording submitted.")

	if err := f.orch.Wait(ctx, id); err != nil {
		logCtx.Warn().Err(err).Msg("Function context ended before the pipeline finished.")
	}
	return id, nil
}

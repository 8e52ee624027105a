package gcp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	rferrors "github.com/Lllllllleong/meetingrecordingflow/internal/errors"
	"github.com/rs/zerolog"
	"google.golang.org/api/googleapi"
)

// GetEnv is a helper to read an environment variable or return a default value.
func GetEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

// ParseGCSURI splits gs://bucket/object.
func ParseGCSURI(uri string) (bucket, object string, err error) {
	rest, ok := strings.CutPrefix(uri, "gs://")
	if !ok {
		return "", "", fmt.Errorf("%w: %q is not a gs:// URI", rferrors.ErrValidation, uri)
	}
	bucket, object, ok = strings.Cut(rest, "/")
	if !ok || bucket == "" || object == "" {
		return "", "", fmt.Errorf("%w: %q has no object name", rferrors.ErrValidation, uri)
	}
	return bucket, object, nil
}

// AudioStorage moves recordings between Cloud Storage, HTTP sources and
// local disk. Normalized audio goes to one bucket under normalized/.
type AudioStorage struct {
	client     *storage.Client
	httpClient *http.Client
	bucket     string
	signedTTL  time.Duration
	retries    int
	log        zerolog.Logger
}

// NewAudioStorage creates an AudioStorage writing to bucket.
func NewAudioStorage(client *storage.Client, bucket string, signedTTL time.Duration, retries int, log zerolog.Logger) *AudioStorage {
	if signedTTL <= 0 {
		signedTTL = 2 * time.Hour
	}
	if retries <= 0 {
		retries = 4
	}
	return &AudioStorage{
		client:     client,
		httpClient: &http.Client{Timeout: 30 * time.Minute},
		bucket:     bucket,
		signedTTL:  signedTTL,
		retries:    retries,
		log:        log.With().Str("component", "audio-storage").Logger(),
	}
}

// Fetch copies a gs:// object or an http(s) URL into destDir.
func (s *AudioStorage) Fetch(ctx context.Context, mediaURL, destDir string) (string, error) {
	destPath := filepath.Join(destDir, "source"+mediaExt(mediaURL))

	switch {
	case strings.HasPrefix(mediaURL, "gs://"):
		bucket, object, err := ParseGCSURI(mediaURL)
		if err != nil {
			return "", err
		}
		if err := s.streamGCSObject(ctx, bucket, object, destPath); err != nil {
			return "", err
		}
	case strings.HasPrefix(mediaURL, "https://"), strings.HasPrefix(mediaURL, "http://"):
		if err := s.downloadHTTP(ctx, mediaURL, destPath); err != nil {
			return "", err
		}
	default:
		return "", fmt.Errorf("%w: unsupported media reference %q", rferrors.ErrValidation, mediaURL)
	}
	return destPath, nil
}

func (s *AudioStorage) streamGCSObject(ctx context.Context, bucket, object, destPath string) error {
	gcsReader, err := s.client.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return fmt.Errorf("%w: gs://%s/%s", rferrors.ErrNotFound, bucket, object)
		}
		return fmt.Errorf("failed to get GCS object reader for gs://%s/%s: %w", bucket, object, err)
	}
	defer gcsReader.Close()

	return writeLocal(destPath, gcsReader)
}

func (s *AudioStorage) downloadHTTP(ctx context.Context, rawURL, destPath string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("building media request: %w", err)
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("downloading media: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("downloading media: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return writeLocal(destPath, resp.Body)
}

func writeLocal(destPath string, r io.Reader) error {
	localFile, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("failed to create temp file at %s: %w", destPath, err)
	}
	if _, err := io.Copy(localFile, r); err != nil {
		_ = localFile.Close()
		return fmt.Errorf("failed to copy media to local file: %w", err)
	}
	return localFile.Close()
}

// PutNormalized uploads normalized audio as normalized/<recordingID>.wav,
// retrying with exponential backoff.
func (s *AudioStorage) PutNormalized(ctx context.Context, recordingID, localPath string) (string, error) {
	object := path.Join("normalized", recordingID+".wav")
	if err := s.uploadFile(ctx, localPath, object); err != nil {
		return "", err
	}
	return fmt.Sprintf("gs://%s/%s", s.bucket, object), nil
}

func (s *AudioStorage) uploadFile(ctx context.Context, localPath, destObject string) error {
	backoff := 1 * time.Second
	var lastErr error

	for i := 0; i < s.retries; i++ {
		err := func() error {
			localFileReader, err := os.Open(localPath)
			if err != nil {
				return fmt.Errorf("could not open local file %s: %w", localPath, err)
			}
			defer localFileReader.Close()

			writeCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
			defer cancel()

			gcsWriter := s.client.Bucket(s.bucket).Object(destObject).NewWriter(writeCtx)
			gcsWriter.ContentType = "audio/wav"

			if _, err := io.Copy(gcsWriter, localFileReader); err != nil {
				_ = gcsWriter.Close()
				return fmt.Errorf("io.Copy to GCS failed: %w", err)
			}
			if err := gcsWriter.Close(); err != nil {
				return fmt.Errorf("failed to close GCS writer (finalize upload): %w", err)
			}
			return nil
		}()
		if err == nil {
			return nil
		}
		if !retryableUpload(err) {
			return err
		}

		lastErr = err
		s.log.Warn().
			Err(err).
			Str("gcsObject", destObject).
			Int("attempt", i+1).
			Int("maxRetries", s.retries).
			Str("backoff", backoff.String()).
			Msg("Upload failed, will retry.")

		select {
		case <-time.After(backoff):
			backoff *= 2
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fmt.Errorf("upload failed after %d attempts: %w", s.retries, lastErr)
}

// retryableUpload is false for local errors and client-side API errors.
func retryableUpload(err error) bool {
	if errors.Is(err, os.ErrNotExist) || errors.Is(err, os.ErrPermission) {
		return false
	}
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code == http.StatusTooManyRequests || apiErr.Code >= 500
	}
	return true
}

// SignedURL returns a V4 signed GET URL for a gs:// URI.
func (s *AudioStorage) SignedURL(_ context.Context, gcsURI string) (string, error) {
	bucket, object, err := ParseGCSURI(gcsURI)
	if err != nil {
		return "", err
	}
	signed, err := s.client.Bucket(bucket).SignedURL(object, &storage.SignedURLOptions{
		Scheme:  storage.SigningSchemeV4,
		Method:  http.MethodGet,
		Expires: time.Now().Add(s.signedTTL),
	})
	if err != nil {
		return "", fmt.Errorf("signing %s: %w", gcsURI, err)
	}
	return signed, nil
}

// ObjectMetadata reads custom metadata of an uploaded object.
func (s *AudioStorage) ObjectMetadata(ctx context.Context, bucket, object string) (map[string]string, error) {
	attrs, err := s.client.Bucket(bucket).Object(object).Attrs(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, fmt.Errorf("%w: gs://%s/%s", rferrors.ErrNotFound, bucket, object)
		}
		return nil, fmt.Errorf("reading attributes of gs://%s/%s: %w", bucket, object, err)
	}
	return attrs.Metadata, nil
}

func mediaExt(mediaURL string) string {
	p := mediaURL
	if u, err := url.Parse(mediaURL); err == nil && u.Path != "" {
		p = u.Path
	}
	ext := strings.ToLower(path.Ext(p))
	if ext == "" || len(ext) > 6 {
		return ".bin"
	}
	return ext
}

package gcp

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"cloud.google.com/go/workflows/executions/apiv1/executionspb"
	rferrors "github.com/Lllllllleong/meetingrecordingflow/internal/errors"
	"github.com/googleapis/gax-go/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/googleapi"
)

func TestGetEnv(t *testing.T) {
	t.Setenv("RECORDINGFLOW_TEST_VALUE", "set")
	assert.Equal(t, "set", GetEnv("RECORDINGFLOW_TEST_VALUE", "fallback"))
	assert.Equal(t, "fallback", GetEnv("RECORDINGFLOW_TEST_UNSET", "fallback"))
}

func TestParseGCSURI(t *testing.T) {
	bucket, object, err := ParseGCSURI("gs://audio/normalized/rec-1.wav")
	require.NoError(t, err)
	assert.Equal(t, "audio", bucket)
	assert.Equal(t, "normalized/rec-1.wav", object)

	for _, bad := range []string{"https://example.com/a.wav", "gs://bucket-only", "gs:///object"} {
		_, _, err := ParseGCSURI(bad)
		assert.ErrorIs(t, err, rferrors.ErrValidation, bad)
	}
}

func TestMediaExt(t *testing.T) {
	assert.Equal(t, ".mp4", mediaExt("gs://b/uploads/standup.MP4"))
	assert.Equal(t, ".webm", mediaExt("https://cdn.example.com/r/abc.webm?token=x"))
	assert.Equal(t, ".bin", mediaExt("https://cdn.example.com/r/abc"))
}

func TestFetch_HTTP(t *testing.T) {
	srv := newMediaServer(t)
	s := NewAudioStorage(nil, "audio", 0, 0, zerolog.Nop())

	path, err := s.Fetch(context.Background(), srv.URL+"/meeting.m4a", t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, ".m4a", filepath.Ext(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "fake media bytes", string(data))

	_, err = s.Fetch(context.Background(), srv.URL+"/missing.m4a", t.TempDir())
	assert.ErrorContains(t, err, "status 404")
}

func TestFetch_RejectsUnknownScheme(t *testing.T) {
	s := NewAudioStorage(nil, "audio", 0, 0, zerolog.Nop())
	_, err := s.Fetch(context.Background(), "ftp://example.com/a.wav", t.TempDir())
	assert.ErrorIs(t, err, rferrors.ErrValidation)
}

func TestRetryableUpload(t *testing.T) {
	assert.False(t, retryableUpload(os.ErrNotExist))
	assert.False(t, retryableUpload(&googleapi.Error{Code: http.StatusForbidden}))
	assert.True(t, retryableUpload(&googleapi.Error{Code: http.StatusServiceUnavailable}))
	assert.True(t, retryableUpload(&googleapi.Error{Code: http.StatusTooManyRequests}))
	assert.True(t, retryableUpload(errors.New("connection reset by peer")))
}

func TestIsRefusal(t *testing.T) {
	assert.True(t, IsRefusal("I am unable to summarize this content."))
	assert.True(t, IsRefusal("I'm sorry, but I can't help with that."))
	assert.False(t, IsRefusal(`{"title":"Weekly sync","minutes":"Budget approved."}`))
}

func newMediaServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/meeting.m4a" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte("fake media bytes"))
	}))
	t.Cleanup(srv.Close)
	return srv
}

type fakeExecutions struct {
	req *executionspb.CreateExecutionRequest
	err error
}

func (f *fakeExecutions) CreateExecution(_ context.Context, req *executionspb.CreateExecutionRequest, _ ...gax.CallOption) (*executionspb.Execution, error) {
	f.req = req
	if f.err != nil {
		return nil, f.err
	}
	return &executionspb.Execution{Name: req.Parent + "/executions/exec-1"}, nil
}

func TestWorkflowHandoff_StartPolling(t *testing.T) {
	fake := &fakeExecutions{}
	h := newWorkflowHandoff(fake, "proj", "us-central1", "transcription-poll", zerolog.Nop())

	name, err := h.StartPolling(context.Background(), "rec-42")
	require.NoError(t, err)
	assert.Equal(t, "projects/proj/locations/us-central1/workflows/transcription-poll/executions/exec-1", name)

	var arg map[string]string
	require.NoError(t, json.Unmarshal([]byte(fake.req.GetExecution().GetArgument()), &arg))
	assert.Equal(t, "rec-42", arg["recordingId"])
}

func TestWorkflowHandoff_Error(t *testing.T) {
	h := newWorkflowHandoff(&fakeExecutions{err: errors.New("permission denied")}, "proj", "us-central1", "wf", zerolog.Nop())
	_, err := h.StartPolling(context.Background(), "rec-1")
	assert.ErrorContains(t, err, "failed to trigger workflow execution")
}

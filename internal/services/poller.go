package services

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	rferrors "github.com/Lllllllleong/meetingrecordingflow/internal/errors"
	"github.com/Lllllllleong/meetingrecordingflow/internal/logging"
	"github.com/Lllllllleong/meetingrecordingflow/internal/models"
	"github.com/rs/zerolog"
)

type stepAdvancer interface {
	Advance(ctx context.Context, id string) (models.PollResponse, error)
}

// PollerFunction runs one pipeline step per workflow call.
type PollerFunction struct {
	orch stepAdvancer
	log  zerolog.Logger
}

func NewPoller(orch stepAdvancer, log zerolog.Logger) *PollerFunction {
	return &PollerFunction{orch: orch, log: log.With().Str("component", "poller").Logger()}
}

// Process advances the recording named by req.
func (f *PollerFunction) Process(ctx context.Context, req *models.PollRequest) (*models.PollResponse, error) {
	if req.RecordingID == "" {
		return nil, fmt.Errorf("%w: recordingId is required", rferrors.ErrValidation)
	}
	logCtx := logging.ForRecording(f.log, req.RecordingID).With().Str("execution", req.ExecutionID).Logger()

	res, err := f.orch.Advance(ctx, req.RecordingID)
	if err != nil {
		logCtx.Error().Err(err).Msg("Poll step failed")
		return nil, err
	}
	logCtx.Info().
		Bool("done", res.Done).
		Str("transcriptionStatus", string(res.TranscriptionStatus)).
		Str("summaryStatus", string(res.SummaryStatus)).
		Msg("Poll step complete.")
	return &res, nil
}

// ServeHTTP decodes a PollRequest and writes the PollResponse.
func (f *PollerFunction) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	var req models.PollRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		f.log.Error().Err(err).Msg("Could not decode request body")
		http.Error(w, "Bad Request: could not parse JSON", http.StatusBadRequest)
		return
	}

	res, err := f.Process(r.Context(), &req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

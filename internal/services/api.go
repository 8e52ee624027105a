package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	rferrors "github.com/Lllllllleong/meetingrecordingflow/internal/errors"
	"github.com/Lllllllleong/meetingrecordingflow/internal/logging"
	"github.com/Lllllllleong/meetingrecordingflow/internal/meet"
	"github.com/Lllllllleong/meetingrecordingflow/internal/models"
	"github.com/Lllllllleong/meetingrecordingflow/internal/pipeline"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// UserHeader carries the caller identity established by the auth layer.
const UserHeader = "X-User-ID"

// RecordingService is the orchestrator surface the API exposes.
type RecordingService interface {
	SubmitRecording(ctx context.Context, req pipeline.SubmitRequest) (string, error)
	GetStatus(ctx context.Context, id string) (models.StatusResponse, error)
	RegenerateTranscript(ctx context.Context, id, provider string) error
	RegenerateSummary(ctx context.Context, id string) error
	ReconcileMeetingData(ctx context.Context, id string) (meet.Outcome, error)
	Delete(ctx context.Context, id string) error
}

// API serves the recording endpoints.
type API struct {
	svc      RecordingService
	log      zerolog.Logger
	gatherer prometheus.Gatherer
}

// NewAPI creates the API. gatherer, when non-nil, is served on /metrics.
func NewAPI(svc RecordingService, log zerolog.Logger, gatherer prometheus.Gatherer) *API {
	return &API{svc: svc, log: log.With().Str("component", "api").Logger(), gatherer: gatherer}
}

// Router returns the HTTP handler for all routes.
func (a *API) Router() http.Handler {
	r := mux.NewRouter()
	if a.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(a.gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}

	rec := r.PathPrefix("/recordings").Subrouter()
	rec.Use(a.requireUser)
	rec.HandleFunc("", a.submit).Methods(http.MethodPost)
	rec.HandleFunc("/{id}", a.status).Methods(http.MethodGet)
	rec.HandleFunc("/{id}", a.delete).Methods(http.MethodDelete)
	rec.HandleFunc("/{id}/transcript", a.regenerateTranscript).Methods(http.MethodPost)
	rec.HandleFunc("/{id}/summary", a.regenerateSummary).Methods(http.MethodPost)
	rec.HandleFunc("/{id}/meet", a.reconcile).Methods(http.MethodPost)
	return r
}

func (a *API) requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(UserHeader) == "" {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (a *API) submit(w http.ResponseWriter, r *http.Request) {
	var body models.SubmitRecordingRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "Bad Request: could not parse JSON", http.StatusBadRequest)
		return
	}
	if body.MediaURL == "" {
		writeError(w, fmt.Errorf("%w: mediaUrl is required", rferrors.ErrValidation))
		return
	}

	id, err := a.svc.SubmitRecording(r.Context(), pipeline.SubmitRequest{
		UserID:          r.Header.Get(UserHeader),
		MediaURL:        body.MediaURL,
		MeetingPlatform: body.MeetingPlatform,
		MeetingID:       body.MeetingID,
		Provider:        body.Provider,
	})
	if err != nil {
		a.fail(w, r, "", err)
		return
	}
	writeJSON(w, http.StatusAccepted, models.SubmitRecordingResponse{RecordingID: id})
}

func (a *API) status(w http.ResponseWriter, r *http.Request) {
	st, ok := a.owned(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (a *API) regenerateTranscript(w http.ResponseWriter, r *http.Request) {
	st, ok := a.owned(w, r)
	if !ok {
		return
	}
	var body models.RegenerateTranscriptRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		http.Error(w, "Bad Request: could not parse JSON", http.StatusBadRequest)
		return
	}
	if err := a.svc.RegenerateTranscript(r.Context(), st.RecordingID, body.Provider); err != nil {
		a.fail(w, r, st.RecordingID, err)
		return
	}
	a.writeStatus(w, r, st.RecordingID, http.StatusAccepted)
}

func (a *API) regenerateSummary(w http.ResponseWriter, r *http.Request) {
	st, ok := a.owned(w, r)
	if !ok {
		return
	}
	if err := a.svc.RegenerateSummary(r.Context(), st.RecordingID); err != nil {
		a.fail(w, r, st.RecordingID, err)
		return
	}
	a.writeStatus(w, r, st.RecordingID, http.StatusOK)
}

func (a *API) reconcile(w http.ResponseWriter, r *http.Request) {
	st, ok := a.owned(w, r)
	if !ok {
		return
	}
	out, err := a.svc.ReconcileMeetingData(r.Context(), st.RecordingID)
	if err != nil {
		a.fail(w, r, st.RecordingID, err)
		return
	}
	writeJSON(w, http.StatusOK, models.ReconcileResponse{
		Outcome:           string(out.Kind),
		Message:           out.Message,
		AlreadyExists:     out.AlreadyExists,
		Participants:      len(out.Participants),
		TranscriptEntries: len(out.Entries),
		TranscriptFilled:  out.TranscriptFilled,
	})
}

func (a *API) delete(w http.ResponseWriter, r *http.Request) {
	st, ok := a.owned(w, r)
	if !ok {
		return
	}
	if err := a.svc.Delete(r.Context(), st.RecordingID); err != nil {
		a.fail(w, r, st.RecordingID, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// owned loads the recording and checks it belongs to the caller. Another
// user's recording is reported as not found.
func (a *API) owned(w http.ResponseWriter, r *http.Request) (models.StatusResponse, bool) {
	id := mux.Vars(r)["id"]
	st, err := a.svc.GetStatus(r.Context(), id)
	if err != nil {
		a.fail(w, r, id, err)
		return models.StatusResponse{}, false
	}
	if st.UserID != r.Header.Get(UserHeader) {
		http.Error(w, "Not Found", http.StatusNotFound)
		return models.StatusResponse{}, false
	}
	return st, true
}

func (a *API) writeStatus(w http.ResponseWriter, r *http.Request, id string, code int) {
	st, err := a.svc.GetStatus(r.Context(), id)
	if err != nil {
		a.fail(w, r, id, err)
		return
	}
	writeJSON(w, code, st)
}

func (a *API) fail(w http.ResponseWriter, r *http.Request, id string, err error) {
	code := statusFor(err)
	ev := a.log.Warn()
	if code >= http.StatusInternalServerError {
		ev = a.log.Error()
	}
	ev.Err(err).
		Str(logging.FieldRecordingID, id).
		Str("method", r.Method).
		Str("path", r.URL.Path).
		Int("status", code).
		Msg("Request failed")
	writeError(w, err)
}

// statusFor maps the error taxonomy to HTTP status codes.
func statusFor(err error) int {
	switch {
	case rferrors.IsValidation(err):
		return http.StatusBadRequest
	case rferrors.IsNotFound(err), rferrors.IsMeetingDataNotFound(err):
		return http.StatusNotFound
	case rferrors.IsBusy(err), rferrors.IsInvalidState(err), rferrors.IsAlreadyExists(err):
		return http.StatusConflict
	case rferrors.IsCredentialExpired(err):
		return http.StatusUnauthorized
	case rferrors.IsMediaConversion(err):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

type errorBody struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, err error) {
	code := statusFor(err)
	msg := err.Error()
	if code == http.StatusInternalServerError {
		msg = "Internal Server Error: processing failed"
	}
	writeJSON(w, code, errorBody{Error: msg})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

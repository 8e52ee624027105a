// Package summary turns a meeting transcript into a structured summary.
//
// The generative backend is asked for JSON, but its answer is treated as
// untrusted text: the first balanced JSON object is parsed and anything
// unparseable is kept verbatim as the minutes of a fallback summary. Only a
// failure to reach the backend is returned as an error.
package summary

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Lllllllleong/meetingrecordingflow/internal/models"
	"github.com/Lllllllleong/meetingrecordingflow/internal/observability"
	"github.com/rs/zerolog"
)

const (
	// NoSummaryTitle is the title of the fixed result for degenerate input.
	NoSummaryTitle   = "No summary available"
	noSummaryMinutes = "The recording did not contain any transcribed speech to summarize."

	// FallbackTitle is used when the backend's answer is not usable JSON.
	FallbackTitle = "Meeting Summary"

	DefaultAssignee = "Unassigned"
)

// Placeholder transcripts written by upstream stages instead of real speech.
var degenerateTranscripts = []string{
	models.NoSpeechTranscript,
	"No transcript available",
	"Transcription failed",
}

// Backend generates the raw summary text for a transcript.
type Backend interface {
	GenerateSummary(ctx context.Context, transcript string) (string, error)
}

// Generator produces structured summaries.
type Generator struct {
	backend Backend
	log     zerolog.Logger
	metrics *observability.PipelineMetrics
}

// NewGenerator creates a Generator. metrics may be nil.
func NewGenerator(backend Backend, log zerolog.Logger, metrics *observability.PipelineMetrics) *Generator {
	return &Generator{
		backend: backend,
		log:     log.With().Str("component", "summary").Logger(),
		metrics: metrics,
	}
}

// IsDegenerate reports whether transcript carries no summarizable content.
func IsDegenerate(transcript string) bool {
	t := strings.TrimSpace(transcript)
	if t == "" {
		return true
	}
	for _, sentinel := range degenerateTranscripts {
		if strings.EqualFold(t, sentinel) {
			return true
		}
	}
	return false
}

// NoSummary is the fixed result for degenerate transcripts.
func NoSummary() models.Summary {
	return models.Summary{
		Title:       NoSummaryTitle,
		Minutes:     noSummaryMinutes,
		ActionItems: []models.ActionItem{},
	}
}

// Fallback wraps an unparseable backend answer, keeping it verbatim.
func Fallback(raw string) models.Summary {
	return models.Summary{
		Title:       FallbackTitle,
		Minutes:     raw,
		ActionItems: []models.ActionItem{},
	}
}

// Summarize returns the summary of transcript. Degenerate input never
// reaches the backend.
func (g *Generator) Summarize(ctx context.Context, transcript string) (models.Summary, error) {
	if IsDegenerate(transcript) {
		g.log.Info().Msg("Transcript has no content, returning fixed summary.")
		return NoSummary(), nil
	}

	start := time.Now()
	raw, err := g.backend.GenerateSummary(ctx, transcript)
	if err != nil {
		g.metrics.RecordStage(observability.StageSummary, "", observability.OutcomeFailure, time.Since(start).Seconds())
		return models.Summary{}, fmt.Errorf("summary backend: %w", err)
	}
	g.metrics.RecordStage(observability.StageSummary, "", observability.OutcomeSuccess, time.Since(start).Seconds())

	summary, err := Parse(raw)
	if err != nil {
		g.log.Warn().Err(err).Int("responseLength", len(raw)).Msg("Summary response was not valid JSON, storing plain-text fallback.")
		g.metrics.RecordSummaryFallback()
		return Fallback(raw), nil
	}
	return summary, nil
}

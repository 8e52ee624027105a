// Package observability holds the Prometheus metrics of the recording pipeline.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Stage names used as metric labels.
const (
	StageNormalize     = "normalize"
	StageUpload        = "upload"
	StageSubmit        = "submit"
	StageTranscription = "transcription"
	StageSummary       = "summary"
	StageReconcile     = "reconcile"
)

// Outcome labels.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeSkipped = "skipped"
)

// PipelineMetrics holds all Prometheus metrics for recording processing.
// A nil *PipelineMetrics is valid and records nothing.
type PipelineMetrics struct {
	StageOutcomesTotal   *prometheus.CounterVec
	StageSeconds         *prometheus.HistogramVec
	ProviderPollsTotal   *prometheus.CounterVec
	SummaryFallbackTotal prometheus.Counter
	ReconcileTotal       *prometheus.CounterVec
	ActivePipelines      prometheus.Gauge
}

// DefaultPipelineMetrics registers metrics on the default registerer.
func DefaultPipelineMetrics() *PipelineMetrics {
	return NewPipelineMetrics(prometheus.DefaultRegisterer)
}

// NewPipelineMetrics creates the metric set on reg.
func NewPipelineMetrics(reg prometheus.Registerer) *PipelineMetrics {
	factory := promauto.With(reg)

	return &PipelineMetrics{
		StageOutcomesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "recordingflow_stage_outcomes_total",
				Help: "Pipeline stage completions by outcome",
			},
			[]string{"stage", "provider", "outcome"},
		),
		StageSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "recordingflow_stage_seconds",
				Help:    "Pipeline stage latency",
				Buckets: []float64{0.5, 1, 5, 15, 30, 60, 120, 300, 900, 1800, 3600},
			},
			[]string{"stage", "provider"},
		),
		ProviderPollsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "recordingflow_provider_polls_total",
				Help: "Transcription provider polls by result",
			},
			[]string{"provider", "result"},
		),
		SummaryFallbackTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "recordingflow_summary_fallback_total",
				Help: "Summaries stored as plain-text fallback after a parse failure",
			},
		),
		ReconcileTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "recordingflow_reconcile_total",
				Help: "Meeting data reconciliations by outcome",
			},
			[]string{"outcome"},
		),
		ActivePipelines: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "recordingflow_active_pipelines",
				Help: "Recording pipelines currently running in this process",
			},
		),
	}
}

// RecordStage records one stage completion and its latency.
func (m *PipelineMetrics) RecordStage(stage, provider, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.StageOutcomesTotal.WithLabelValues(stage, provider, outcome).Inc()
	m.StageSeconds.WithLabelValues(stage, provider).Observe(seconds)
}

// RecordPoll records one provider poll result (pending, done, error, transient).
func (m *PipelineMetrics) RecordPoll(provider, result string) {
	if m == nil {
		return
	}
	m.ProviderPollsTotal.WithLabelValues(provider, result).Inc()
}

// RecordSummaryFallback counts a summary stored through the parse fallback.
func (m *PipelineMetrics) RecordSummaryFallback() {
	if m == nil {
		return
	}
	m.SummaryFallbackTotal.Inc()
}

// RecordReconcile records a reconciliation outcome.
func (m *PipelineMetrics) RecordReconcile(outcome string) {
	if m == nil {
		return
	}
	m.ReconcileTotal.WithLabelValues(outcome).Inc()
}

// PipelineStarted and PipelineFinished track in-process pipelines.
func (m *PipelineMetrics) PipelineStarted() {
	if m == nil {
		return
	}
	m.ActivePipelines.Inc()
}

func (m *PipelineMetrics) PipelineFinished() {
	if m == nil {
		return
	}
	m.ActivePipelines.Dec()
}

package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPipelineMetrics_Record(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewPipelineMetrics(reg)

	m.RecordStage(StageTranscription, "assemblyai", OutcomeSuccess, 12.5)
	m.RecordStage(StageTranscription, "assemblyai", OutcomeSuccess, 3)
	m.RecordPoll("google-speech", "pending")
	m.RecordSummaryFallback()
	m.RecordReconcile("participants_only")
	m.PipelineStarted()
	m.PipelineStarted()
	m.PipelineFinished()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.StageOutcomesTotal.WithLabelValues(StageTranscription, "assemblyai", OutcomeSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ProviderPollsTotal.WithLabelValues("google-speech", "pending")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SummaryFallbackTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ReconcileTotal.WithLabelValues("participants_only")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ActivePipelines))
	assert.Equal(t, 1, testutil.CollectAndCount(m.StageSeconds))
}

func TestPipelineMetrics_Lint(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewPipelineMetrics(reg)
	m.RecordStage(StageSummary, "", OutcomeFailure, 1)

	problems, err := testutil.GatherAndLint(reg)
	require.NoError(t, err)
	assert.Empty(t, problems)
}

func TestPipelineMetrics_NilSafe(t *testing.T) {
	var m *PipelineMetrics

	assert.NotPanics(t, func() {
		m.RecordStage(StageNormalize, "", OutcomeFailure, 1)
		m.RecordPoll("assemblyai", "done")
		m.RecordSummaryFallback()
		m.RecordReconcile("no_data")
		m.PipelineStarted()
		m.PipelineFinished()
	})
}

package summary

import (
	"context"
	"errors"
	"testing"

	rferrors "github.com/Lllllllleong/meetingrecordingflow/internal/errors"
	"github.com/Lllllllleong/meetingrecordingflow/internal/models"
	"github.com/Lllllllleong/meetingrecordingflow/internal/observability"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBackend struct {
	response string
	err      error
	calls    int
}

func (f *fakeBackend) GenerateSummary(_ context.Context, _ string) (string, error) {
	f.calls++
	return f.response, f.err
}

func TestSummarize_DegenerateNeverCallsBackend(t *testing.T) {
	inputs := []string{"", "   ", "No speech detected", "no transcript available", " Transcription failed "}

	for _, in := range inputs {
		backend := &fakeBackend{response: `{"title":"should not be used"}`}
		g := NewGenerator(backend, zerolog.Nop(), nil)

		got, err := g.Summarize(context.Background(), in)
		require.NoError(t, err)
		assert.Equal(t, NoSummaryTitle, got.Title, "input %q", in)
		assert.Empty(t, got.ActionItems)
		assert.Nil(t, got.NextMeeting)
		assert.Zero(t, backend.calls, "input %q", in)
	}
}

func TestSummarize_ProsePrefixedJSON(t *testing.T) {
	backend := &fakeBackend{response: "Sure! Here is the summary you asked for:\n```json\n" +
		`{"title":"Q3 planning","minutes":"Discussed {scope} and budget.","actionItems":[` +
		`{"task":"Draft roadmap","assignee":"Ana","deadline":"2024-07-01","priority":"High"},` +
		`{"task":"Book venue","assignee":"","deadline":null,"priority":"urgent"},` +
		`{"task":"  ","assignee":"Nobody"}],` +
		`"nextMeeting":{"date":"2024-07-08","location":"Room 4","notes":null}}` +
		"\n```\nLet me know if you need anything else."}
	g := NewGenerator(backend, zerolog.Nop(), nil)

	got, err := g.Summarize(context.Background(), "we planned Q3")
	require.NoError(t, err)

	assert.Equal(t, "Q3 planning", got.Title)
	assert.Equal(t, "Discussed {scope} and budget.", got.Minutes)
	require.Len(t, got.ActionItems, 2)

	assert.Equal(t, "Draft roadmap", got.ActionItems[0].Task)
	assert.Equal(t, "Ana", got.ActionItems[0].Assignee)
	require.NotNil(t, got.ActionItems[0].Deadline)
	assert.Equal(t, "2024-07-01", *got.ActionItems[0].Deadline)
	assert.Equal(t, models.PriorityHigh, got.ActionItems[0].Priority)

	assert.Equal(t, DefaultAssignee, got.ActionItems[1].Assignee)
	assert.Nil(t, got.ActionItems[1].Deadline)
	assert.Equal(t, models.PriorityMedium, got.ActionItems[1].Priority)

	require.NotNil(t, got.NextMeeting)
	assert.Equal(t, "2024-07-08", *got.NextMeeting.Date)
	assert.Equal(t, "Room 4", *got.NextMeeting.Location)
	assert.Nil(t, got.NextMeeting.Notes)
}

func TestSummarize_FallbackOnUnparseableResponse(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := observability.NewPipelineMetrics(reg)
	backend := &fakeBackend{response: "  The team met and agreed on priorities. {not json  "}
	g := NewGenerator(backend, zerolog.Nop(), metrics)

	got, err := g.Summarize(context.Background(), "some transcript")
	require.NoError(t, err)

	assert.Equal(t, FallbackTitle, got.Title)
	assert.Equal(t, backend.response, got.Minutes)
	assert.Empty(t, got.ActionItems)
	assert.NotNil(t, got.ActionItems)
	assert.Nil(t, got.NextMeeting)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.SummaryFallbackTotal))
}

func TestSummarize_BackendErrorIsReturned(t *testing.T) {
	boom := errors.New("vertex unavailable")
	g := NewGenerator(&fakeBackend{err: boom}, zerolog.Nop(), nil)

	_, err := g.Summarize(context.Background(), "a real transcript")
	assert.ErrorIs(t, err, boom)
}

func TestParse(t *testing.T) {
	tests := []struct {
		name      string
		raw       string
		wantTitle string
		wantErr   bool
	}{
		{"plain object", `{"title":"A","minutes":"B"}`, "A", false},
		{"minutes as list", `{"title":"A","minutes":["one","two"]}`, "A", false},
		{"snake case keys", `{"title":"A","action_items":[{"task":"t"}]}`, "A", false},
		{"missing title", `{"minutes":"only minutes"}`, FallbackTitle, false},
		{"skips non-summary braces", `Use {curly} braces: {"title":"Real"}`, "Real", false},
		{"escaped quote in string", `{"title":"He said \"}\" loudly","minutes":"x"}`, `He said "}" loudly`, false},
		{"empty object", `{}`, "", true},
		{"no json", `just prose`, "", true},
		{"unbalanced", `{"title":"A"`, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.raw)
			if tt.wantErr {
				assert.True(t, rferrors.IsSummaryParse(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantTitle, got.Title)
		})
	}
}

func TestParse_MinutesListJoined(t *testing.T) {
	got, err := Parse(`{"title":"A","minutes":["one","two"]}`)
	require.NoError(t, err)
	assert.Equal(t, "one\ntwo", got.Minutes)
}

func TestParse_EmptyNextMeetingIsNil(t *testing.T) {
	got, err := Parse(`{"title":"A","nextMeeting":{"date":"","location":null,"notes":"N/A"}}`)
	require.NoError(t, err)
	assert.Nil(t, got.NextMeeting)
}

func TestBalancedObject(t *testing.T) {
	obj, ok := balancedObject(`{"a":{"b":"}"}} trailing`)
	require.True(t, ok)
	assert.Equal(t, `{"a":{"b":"}"}}`, obj)

	_, ok = balancedObject(`{"a":1`)
	assert.False(t, ok)
}

func TestIsDegenerate(t *testing.T) {
	assert.True(t, IsDegenerate("NO SPEECH DETECTED"))
	assert.False(t, IsDegenerate("No speech detected, but then Bob arrived"))
	assert.False(t, IsDegenerate("hello"))
}

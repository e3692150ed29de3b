package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tabsync/internal/coordinator"
)

func countTrace(trace []TraceEvent, direction, typ string) int {
	n := 0
	for _, te := range trace {
		if te.Direction == direction && te.Type == typ {
			n++
		}
	}
	return n
}

func TestRun_ForeignDispatch(t *testing.T) {
	s, err := LoadScenario("testdata/scenarios/foreign-dispatch.yaml")
	require.NoError(t, err)

	result, err := Run(s)
	require.NoError(t, err)

	assert.True(t, result.Pass(), "errors: %v", result.Errors)
	assert.Equal(t, 1, countTrace(result.Trace, coordinator.DirectionDispatched, "tab_visible"))
	assert.Equal(t, 1, countTrace(result.Trace, coordinator.DirectionPublished, "tab_opened"))
	assert.Equal(t, 1, countTrace(result.Trace, coordinator.DirectionPublished, "tab_closing"))
}

func TestRun_OwnBroadcastNeverDispatched(t *testing.T) {
	s, err := LoadScenario("testdata/scenarios/own-broadcast.yaml")
	require.NoError(t, err)

	result, err := Run(s)
	require.NoError(t, err)

	assert.True(t, result.Pass(), "errors: %v", result.Errors)
	assert.Equal(t, 0, countTrace(result.Trace, coordinator.DirectionDispatched, "cache_invalidate"))
	assert.Equal(t, 1, countTrace(result.Trace, coordinator.DirectionDiscarded, "cache_invalidate"))
}

func TestRun_DebounceCoalesce(t *testing.T) {
	s, err := LoadScenario("testdata/scenarios/debounce-coalesce.yaml")
	require.NoError(t, err)

	result, err := Run(s)
	require.NoError(t, err)

	require.True(t, result.Pass(), "errors: %v", result.Errors)
	require.Equal(t, 1, countTrace(result.Trace, coordinator.DirectionDispatched, "note_changed"))

	// The surviving dispatch carries the later revision.
	for _, te := range result.Trace {
		if te.Direction == coordinator.DirectionDispatched && te.Type == "note_changed" {
			data, ok := te.Data.(map[string]any)
			require.True(t, ok)
			assert.EqualValues(t, 2, data["rev"])
		}
	}
}

func TestRun_FailedExpectationReported(t *testing.T) {
	s := &Scenario{
		Name:        "unmet-expectation",
		Description: "expects a dispatch that never happens",
		Coordinator: CoordinatorSpec{DebounceMs: 100, HeartbeatMs: 60000},
		Steps: []Step{
			{Advance: "200ms"},
		},
		Expect: []Expectation{
			{Type: "never_sent", Count: 1},
		},
	}

	result, err := Run(s)
	require.NoError(t, err)
	assert.False(t, result.Pass())
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "never_sent")
}

func TestRun_TraceTimestampsAreOffsets(t *testing.T) {
	s, err := LoadScenario("testdata/scenarios/foreign-dispatch.yaml")
	require.NoError(t, err)

	result, err := Run(s)
	require.NoError(t, err)

	require.NotEmpty(t, result.Trace)
	assert.Equal(t, int64(0), result.Trace[0].AtMs, "first publish lands at the epoch")
	for _, te := range result.Trace {
		assert.GreaterOrEqual(t, te.AtMs, int64(0))
		assert.LessOrEqual(t, te.AtMs, int64(250))
	}
}

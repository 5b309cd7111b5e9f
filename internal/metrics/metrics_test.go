package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sweeney/filter-control/internal/logic"
	"github.com/sweeney/filter-control/internal/status"
)

func snapshotFunc(s status.Snapshot) func() status.Snapshot {
	return func() status.Snapshot { return s }
}

func TestSnapshotMetrics(t *testing.T) {
	c := NewCollector(snapshotFunc(status.Snapshot{
		State:          logic.StateError,
		Error:          logic.MaxAttenuationError,
		Attenuation:    15,
		MaxAttenuation: 15,
		Sources: []status.SourceInfo{
			{Source: "det-a", Alive: true, LastCount: 900, Events: 12, Regressions: 2},
		},
		Counters: status.Counters{Moves: 4, Emergencies: 1, Overflow: 3, Stale: 5},
	}))

	expected := `
# HELP filter_control_attenuation_level Confirmed attenuation level.
# TYPE filter_control_attenuation_level gauge
filter_control_attenuation_level 15
# HELP filter_control_error 1 for the latched error code.
# TYPE filter_control_error gauge
filter_control_error{code="MAX_ATTENUATION_ERROR"} 1
# HELP filter_control_source_regressions_total Out-of-order events dropped from the source.
# TYPE filter_control_source_regressions_total counter
filter_control_source_regressions_total{source="det-a"} 2
# HELP filter_control_state 1 for the current supervisory state.
# TYPE filter_control_state gauge
filter_control_state{state="ACTIVE"} 0
filter_control_state{state="ERROR"} 1
filter_control_state{state="SINGLESHOT_COMPLETE"} 0
filter_control_state{state="SINGLESHOT_WAITING"} 0
filter_control_state{state="STARTING"} 0
filter_control_state{state="WAITING"} 0
`
	err := testutil.GatherAndCompare(c.Registry(), strings.NewReader(expected),
		"filter_control_attenuation_level",
		"filter_control_error",
		"filter_control_source_regressions_total",
		"filter_control_state",
	)
	assert.NoError(t, err)

	stale, err := testutil.GatherAndCount(c.Registry(), "filter_control_events_dropped_total")
	require.NoError(t, err)
	assert.Equal(t, 5, stale, "one series per drop reason")
}

func TestObservations(t *testing.T) {
	c := NewCollector(snapshotFunc(status.Snapshot{State: logic.StateWaiting, Error: logic.NoError}))

	c.ObserveMove(300*time.Millisecond, nil)
	c.ObserveMove(2*time.Second, errors.New("timeout"))
	c.ObserveMove(time.Second, nil)
	c.ObserveCycle(20 * time.Microsecond)
	c.ObserveCommand("status", "ok")
	c.ObserveCommand("status", "ok")
	c.ObserveCommand("configure", "error")

	assert.Equal(t, 2, testutil.CollectAndCount(c.moveDuration), "one series per result")
	assert.Equal(t, float64(2), testutil.ToFloat64(c.commands.WithLabelValues("status", "ok")))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.commands.WithLabelValues("configure", "error")))

	n, err := testutil.GatherAndCount(c.Registry(), "filter_control_error")
	require.NoError(t, err)
	assert.Zero(t, n, "no error series without a latched error")
}

func TestHandler(t *testing.T) {
	c := NewCollector(snapshotFunc(status.Snapshot{Attenuation: 3, MaxAttenuation: 15}))
	srv := httptest.NewServer(c.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	assert.Equal(t, 200, resp.StatusCode)
	assert.Contains(t, string(body), "filter_control_attenuation_level 3")
	assert.Contains(t, string(body), "filter_control_attenuation_max_level 15")
}

package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/reelpool/internal/playback"
	"github.com/jmylchreest/reelpool/internal/preload"
	"github.com/jmylchreest/reelpool/internal/pressure"
	"github.com/jmylchreest/reelpool/internal/session"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	return string(body)
}

func TestMetrics_PoolObserver(t *testing.T) {
	m := New()

	m.HandleEvicted("v1", playback.EvictCapacity)
	m.HandleEvicted("v2", playback.EvictCapacity)
	m.HandleEvicted("v3", playback.EvictPressure)
	m.ConstructionFinished("v4", playback.OutcomeReady, 300*time.Millisecond)
	m.ConstructionFinished("v5", playback.OutcomeRefused, 0)
	m.CapacityChanged(2, 1)

	body := scrape(t, m)
	assert.Contains(t, body, `reelpool_pool_evictions_total{reason="capacity"} 2`)
	assert.Contains(t, body, `reelpool_pool_evictions_total{reason="pressure"} 1`)
	assert.Contains(t, body, `reelpool_pool_constructions_total{outcome="ready"} 1`)
	assert.Contains(t, body, `reelpool_pool_constructions_total{outcome="refused"} 1`)
	assert.Contains(t, body, `reelpool_pool_construction_duration_seconds_count{outcome="ready"} 1`)
	assert.NotContains(t, body, `reelpool_pool_construction_duration_seconds_count{outcome="refused"}`)
	assert.Contains(t, body, "reelpool_pool_capacity 2")
	assert.Contains(t, body, "reelpool_pool_resident_handles 1")
	assert.Contains(t, body, "go_goroutines")
}

type fakeSource struct {
	status session.Status
	level  pressure.Level
}

func (f fakeSource) Status() session.Status { return f.status }
func (f fakeSource) Level() pressure.Level  { return f.level }

func TestSessionCollector(t *testing.T) {
	m := New()
	src := fakeSource{
		level: pressure.LevelCritical,
		status: session.Status{
			Background: true,
			Pool: playback.Status{
				Resident: []playback.HandleStatus{{ID: "v1"}, {ID: "v2"}},
				InFlight: []playback.FlightStatus{{ID: "v3"}},
				Gate:     playback.GateStats{Active: 1, Queued: []string{"v4", "v5"}},
			},
			Pressure: pressure.MonitorStats{RecentSignals: 2, Escalations: 3, Recoveries: 1},
			Preload:  preload.SchedulerStats{Submitted: 7, Deferred: 2, Ready: 4, Skipped: 1, Failed: 1},
			Events:   session.EventStats{Posted: 9, Handled: 8, Dropped: 1},
		},
	}
	require.NoError(t, m.Register(NewSessionCollector(src)))

	body := scrape(t, m)
	for _, want := range []string{
		"reelpool_pressure_level 2",
		"reelpool_pressure_recent_signals 2",
		"reelpool_pressure_escalations_total 3",
		"reelpool_pressure_recoveries_total 1",
		"reelpool_pool_resident 2",
		"reelpool_pool_in_flight 1",
		"reelpool_gate_active 1",
		"reelpool_gate_queued 2",
		`reelpool_preload_requests_total{result="submitted"} 7`,
		`reelpool_preload_requests_total{result="deferred"} 2`,
		`reelpool_session_events_total{disposition="dropped"} 1`,
		"reelpool_session_background 1",
	} {
		assert.Contains(t, body, want)
	}

	// Registering the same collector twice is refused
	assert.Error(t, m.Register(NewSessionCollector(src)))
}

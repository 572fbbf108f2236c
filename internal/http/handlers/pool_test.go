package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/danielgtaylor/huma/v2/humatest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/reelpool/internal/playback"
	"github.com/jmylchreest/reelpool/internal/player/playertest"
	"github.com/jmylchreest/reelpool/internal/preload"
	"github.com/jmylchreest/reelpool/internal/pressure"
	"github.com/jmylchreest/reelpool/internal/session"
)

type testSession struct {
	coordinator *session.Coordinator
	pool        *playback.Pool
	scheduler   *preload.Scheduler
	opener      *playertest.Opener
}

func newTestSession(t *testing.T) *testSession {
	t.Helper()

	opener := playertest.NewOpener()
	resolver := playback.ResolverFunc(func(_ context.Context, id string) (string, error) {
		return "mem://" + id, nil
	})
	pool := playback.NewPool(playback.Config{
		Capacity:       4,
		MaxConcurrent:  2,
		FailureBackoff: time.Minute,
		Probe: playback.ProbeConfig{
			Interval:           time.Millisecond,
			MaxAttempts:        5,
			MinBufferedSeconds: 1.0,
		},
	}, opener, resolver)
	monitor := pressure.NewMonitor(pressure.MonitorConfig{QuietPeriod: time.Hour}, pool)
	pool.WithLevelSource(monitor)
	scheduler := preload.NewScheduler(pool, monitor)
	scheduler.SetFeed(preload.Feed{Threads: []preload.Thread{
		{ID: "a", Items: []string{"v1", "v2", "v3"}},
		{ID: "b", Items: []string{"w1"}},
	}})

	c := session.New(session.Config{EventBuffer: 4}, pool, monitor, scheduler)
	t.Cleanup(func() { _ = c.Shutdown(context.Background()) })

	return &testSession{coordinator: c, pool: pool, scheduler: scheduler, opener: opener}
}

func decode[T any](t *testing.T, body []byte) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(body, &v))
	return v
}

func TestPoolHandler_GetPool(t *testing.T) {
	s := newTestSession(t)
	_, err := s.pool.Ensure(context.Background(), "v1", playback.PriorityHigh)
	require.NoError(t, err)

	_, api := humatest.New(t)
	NewPoolHandler(s.coordinator).Register(api)

	resp := api.Get("/api/v1/pool")
	require.Equal(t, http.StatusOK, resp.Code)

	st := decode[playback.Status](t, resp.Body.Bytes())
	assert.Equal(t, 4, st.Capacity)
	assert.Equal(t, 4, st.DefaultCapacity)
	require.Len(t, st.Resident, 1)
	assert.Equal(t, "v1", st.Resident[0].ID)
	assert.Equal(t, "ready", st.Resident[0].State)
}

func TestPoolHandler_GetStatus(t *testing.T) {
	s := newTestSession(t)

	_, api := humatest.New(t)
	NewPoolHandler(s.coordinator).Register(api)

	resp := api.Get("/api/v1/status")
	require.Equal(t, http.StatusOK, resp.Code)

	st := decode[session.Status](t, resp.Body.Bytes())
	assert.Equal(t, 2, st.Feed.Threads)
	assert.Equal(t, 4, st.Feed.Items)
	assert.Equal(t, "normal", st.Pressure.Level)
}

func TestPoolHandler_GetItem(t *testing.T) {
	s := newTestSession(t)
	_, err := s.pool.Ensure(context.Background(), "v1", playback.PriorityHigh)
	require.NoError(t, err)
	s.coordinator.MarkCurrentlyPlaying("v1")

	_, api := humatest.New(t)
	NewPoolHandler(s.coordinator).Register(api)

	resp := api.Get("/api/v1/pool/items/v1")
	require.Equal(t, http.StatusOK, resp.Code)

	h := decode[HandleResponse](t, resp.Body.Bytes())
	assert.Equal(t, "v1", h.ID)
	assert.True(t, h.Ready)
	assert.InDelta(t, 2.0, h.BufferedSeconds, 0.001)
	assert.True(t, h.Current)
	assert.True(t, h.Protected)

	resp = api.Get("/api/v1/pool/items/nope")
	assert.Equal(t, http.StatusNotFound, resp.Code)
}

func TestPoolHandler_EvictItem(t *testing.T) {
	s := newTestSession(t)
	_, err := s.pool.Ensure(context.Background(), "v1", playback.PriorityHigh)
	require.NoError(t, err)

	_, api := humatest.New(t)
	NewPoolHandler(s.coordinator).Register(api)

	resp := api.Delete("/api/v1/pool/items/v1")
	require.Equal(t, http.StatusOK, resp.Code)
	assert.False(t, s.pool.Contains("v1"))
	assert.True(t, s.opener.Last("v1").Closed())

	resp = api.Delete("/api/v1/pool/items/v1")
	assert.Equal(t, http.StatusNotFound, resp.Code)
}

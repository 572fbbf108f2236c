package handlers

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/danielgtaylor/huma/v2/humatest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/reelpool/internal/preload"
)

func TestControlHandler_Navigate(t *testing.T) {
	s := newTestSession(t)

	_, api := humatest.New(t)
	NewControlHandler(s.coordinator).Register(api)

	resp := api.Post("/api/v1/navigation", map[string]any{"thread": 0, "item": 1, "axis": "vertical"})
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())

	plan := decode[PlanResponse](t, resp.Body.Bytes())
	assert.Equal(t, "v2", plan.Current)
	assert.Equal(t, "vertical", plan.Axis)
	assert.ElementsMatch(t, []string{"v1", "v2", "v3"}, plan.Protected)
	require.NotEmpty(t, plan.Requests)
	assert.Equal(t, PlanRequestResponse{ID: "v2", Priority: "high"}, plan.Requests[0])

	s.scheduler.Wait()
	assert.True(t, s.pool.Contains("v2"))
}

func TestControlHandler_NavigateDefaultsToVertical(t *testing.T) {
	s := newTestSession(t)

	_, api := humatest.New(t)
	NewControlHandler(s.coordinator).Register(api)

	resp := api.Post("/api/v1/navigation", map[string]any{"thread": 1, "item": 0})
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	assert.Equal(t, "vertical", decode[PlanResponse](t, resp.Body.Bytes()).Axis)
	s.scheduler.Wait()
}

func TestControlHandler_NavigateOutOfRange(t *testing.T) {
	s := newTestSession(t)

	_, api := humatest.New(t)
	NewControlHandler(s.coordinator).Register(api)

	resp := api.Post("/api/v1/navigation", map[string]any{"thread": 5, "item": 0, "axis": "horizontal"})
	assert.Equal(t, http.StatusBadRequest, resp.Code)

	resp = api.Post("/api/v1/navigation", map[string]any{"thread": 0, "item": 0, "axis": "diagonal"})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.Code)
}

func TestControlHandler_Playing(t *testing.T) {
	s := newTestSession(t)

	_, api := humatest.New(t)
	NewControlHandler(s.coordinator).Register(api)

	resp := api.Put("/api/v1/playing", map[string]any{"item_id": "v2"})
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	assert.Equal(t, "v2", s.pool.CurrentlyPlaying())

	resp = api.Delete("/api/v1/playing")
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Empty(t, s.pool.CurrentlyPlaying())
}

func TestControlHandler_PostSignal(t *testing.T) {
	s := newTestSession(t)

	_, api := humatest.New(t)
	NewControlHandler(s.coordinator).Register(api)

	resp := api.Post("/api/v1/signals", map[string]any{"kind": "warning"})
	require.Equal(t, http.StatusAccepted, resp.Code, resp.Body.String())

	ack := decode[SignalResponse](t, resp.Body.Bytes())
	assert.Equal(t, "warning", ack.Kind)
	assert.Len(t, ack.EventID, 26)
	assert.Equal(t, 1, s.coordinator.Status().Events.Queued)

	resp = api.Post("/api/v1/signals", map[string]any{"kind": "reboot"})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.Code)

	// The queue holds four events and nothing drains it
	for range 3 {
		resp = api.Post("/api/v1/signals", map[string]any{"kind": "finished", "item_id": "v1"})
		require.Equal(t, http.StatusAccepted, resp.Code)
	}
	resp = api.Post("/api/v1/signals", map[string]any{"kind": "critical"})
	assert.Equal(t, http.StatusServiceUnavailable, resp.Code)
}

func TestControlHandler_GetPressure(t *testing.T) {
	s := newTestSession(t)

	_, api := humatest.New(t)
	NewControlHandler(s.coordinator).Register(api)

	resp := api.Get("/api/v1/pressure")
	require.Equal(t, http.StatusOK, resp.Code)
	p := decode[PressureResponse](t, resp.Body.Bytes())
	assert.Equal(t, "normal", p.Level)
	assert.Equal(t, 4, p.Capacity)
	assert.False(t, p.Reduced)
	assert.Nil(t, p.Sampler)
}

type stubFeeds struct {
	feed preload.Feed
	err  error
}

func (s stubFeeds) Feed(context.Context) (preload.Feed, error) { return s.feed, s.err }

func TestControlHandler_ReloadFeed(t *testing.T) {
	s := newTestSession(t)

	_, api := humatest.New(t)
	NewControlHandler(s.coordinator).Register(api)

	resp := api.Post("/api/v1/feed/reload")
	assert.Equal(t, http.StatusServiceUnavailable, resp.Code)

	s.coordinator.WithFeedSource(stubFeeds{feed: preload.Feed{Threads: []preload.Thread{
		{ID: "x", Items: []string{"x1", "x2"}},
	}}})
	resp = api.Post("/api/v1/feed/reload")
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	assert.Equal(t, FeedResponse{Threads: 1, Items: 2}, decode[FeedResponse](t, resp.Body.Bytes()))

	s.coordinator.WithFeedSource(stubFeeds{err: errors.New("catalog down")})
	resp = api.Post("/api/v1/feed/reload")
	assert.Equal(t, http.StatusInternalServerError, resp.Code)
}

func TestControlHandler_AfterShutdown(t *testing.T) {
	s := newTestSession(t)
	require.NoError(t, s.coordinator.Shutdown(context.Background()))

	_, api := humatest.New(t)
	NewControlHandler(s.coordinator).Register(api)

	resp := api.Post("/api/v1/navigation", map[string]any{"thread": 0, "item": 0})
	assert.Equal(t, http.StatusServiceUnavailable, resp.Code)

	resp = api.Post("/api/v1/signals", map[string]any{"kind": "background"})
	assert.Equal(t, http.StatusServiceUnavailable, resp.Code)
}

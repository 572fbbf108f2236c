package handlers

import (
	"context"
	"errors"
	"fmt"

	"github.com/danielgtaylor/huma/v2"

	"github.com/jmylchreest/reelpool/internal/preload"
	"github.com/jmylchreest/reelpool/internal/session"
)

// ControlHandler handles the endpoints that stand in for the UI layer and
// the operating system: navigation, playback marks, signals and feed reloads.
type ControlHandler struct {
	session *session.Coordinator
}

// NewControlHandler creates a new control handler.
func NewControlHandler(s *session.Coordinator) *ControlHandler {
	return &ControlHandler{session: s}
}

// NavigateInput is the input for the navigation endpoint.
type NavigateInput struct {
	Body struct {
		Thread int    `json:"thread" minimum:"0" doc:"Thread index in the feed"`
		Item   int    `json:"item" minimum:"0" doc:"Item index within the thread"`
		Axis   string `json:"axis,omitempty" enum:"vertical,horizontal" default:"vertical" doc:"Axis the user moved along"`
	}
}

// NavigateOutput is the output for the navigation endpoint.
type NavigateOutput struct {
	Body PlanResponse
}

// MarkPlayingInput is the input for marking the current item.
type MarkPlayingInput struct {
	Body struct {
		ItemID string `json:"item_id" minLength:"1" doc:"Item now on screen"`
	}
}

// PlayingOutput is the output for the playing endpoints.
type PlayingOutput struct {
	Body MessageResponse
}

// ClearPlayingInput is the input for clearing the current item.
type ClearPlayingInput struct{}

// PostSignalInput is the input for the signals endpoint.
type PostSignalInput struct {
	Body struct {
		Kind   string `json:"kind" enum:"low_memory,warning,critical,background,foreground,finished" doc:"Event kind"`
		ItemID string `json:"item_id,omitempty" doc:"Item that finished playing; defaults to the current item"`
	}
}

// PostSignalOutput is the output for the signals endpoint.
type PostSignalOutput struct {
	Body SignalResponse
}

// GetPressureInput is the input for the pressure endpoint.
type GetPressureInput struct{}

// GetPressureOutput is the output for the pressure endpoint.
type GetPressureOutput struct {
	Body PressureResponse
}

// ReloadFeedInput is the input for the feed reload endpoint.
type ReloadFeedInput struct{}

// ReloadFeedOutput is the output for the feed reload endpoint.
type ReloadFeedOutput struct {
	Body FeedResponse
}

// Register registers the control routes with the API.
func (h *ControlHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "navigate",
		Method:      "POST",
		Path:        "/api/v1/navigation",
		Summary:     "Report navigation",
		Description: "Computes the protect and preload lists for a feed position and submits them to the pool",
		Tags:        []string{"Control"},
	}, h.Navigate)

	huma.Register(api, huma.Operation{
		OperationID: "markPlaying",
		Method:      "PUT",
		Path:        "/api/v1/playing",
		Summary:     "Mark currently playing",
		Tags:        []string{"Control"},
	}, h.MarkPlaying)

	huma.Register(api, huma.Operation{
		OperationID: "clearPlaying",
		Method:      "DELETE",
		Path:        "/api/v1/playing",
		Summary:     "Clear currently playing",
		Tags:        []string{"Control"},
	}, h.ClearPlaying)

	huma.Register(api, huma.Operation{
		OperationID:   "postSignal",
		Method:        "POST",
		Path:          "/api/v1/signals",
		Summary:       "Post lifecycle signal",
		Description:   "Queues a memory, lifecycle or playback event for the session",
		Tags:          []string{"Control"},
		DefaultStatus: 202,
	}, h.PostSignal)

	huma.Register(api, huma.Operation{
		OperationID: "getPressure",
		Method:      "GET",
		Path:        "/api/v1/pressure",
		Summary:     "Memory pressure status",
		Tags:        []string{"Control"},
	}, h.GetPressure)

	huma.Register(api, huma.Operation{
		OperationID: "reloadFeed",
		Method:      "POST",
		Path:        "/api/v1/feed/reload",
		Summary:     "Reload feed",
		Description: "Reads the feed from the catalog and re-plans the last navigation",
		Tags:        []string{"Control"},
	}, h.ReloadFeed)
}

// Navigate submits a navigation.
func (h *ControlHandler) Navigate(ctx context.Context, input *NavigateInput) (*NavigateOutput, error) {
	axis := preload.AxisVertical
	var err error
	if input.Body.Axis != "" {
		axis, err = preload.ParseAxis(input.Body.Axis)
	}
	if err != nil {
		return nil, huma.Error400BadRequest("invalid axis", err)
	}

	pos := preload.Position{Thread: input.Body.Thread, Item: input.Body.Item}
	plan, err := h.session.NotifyNavigation(ctx, pos, axis)
	switch {
	case errors.Is(err, preload.ErrPositionOutOfRange):
		return nil, huma.Error400BadRequest(fmt.Sprintf("position %s is not in the feed", pos), err)
	case errors.Is(err, session.ErrClosed), errors.Is(err, preload.ErrSchedulerClosed):
		return nil, huma.Error503ServiceUnavailable("session is shutting down", err)
	case err != nil:
		return nil, huma.Error500InternalServerError("navigation failed", err)
	}

	return &NavigateOutput{Body: PlanFromPreload(plan)}, nil
}

// MarkPlaying marks the item on screen.
func (h *ControlHandler) MarkPlaying(_ context.Context, input *MarkPlayingInput) (*PlayingOutput, error) {
	h.session.MarkCurrentlyPlaying(input.Body.ItemID)
	return &PlayingOutput{Body: MessageResponse{Message: fmt.Sprintf("%s marked as playing", input.Body.ItemID)}}, nil
}

// ClearPlaying removes the currently playing mark.
func (h *ControlHandler) ClearPlaying(_ context.Context, _ *ClearPlayingInput) (*PlayingOutput, error) {
	h.session.ClearCurrentlyPlaying()
	return &PlayingOutput{Body: MessageResponse{Message: "currently playing cleared"}}, nil
}

// PostSignal queues an event.
func (h *ControlHandler) PostSignal(_ context.Context, input *PostSignalInput) (*PostSignalOutput, error) {
	kind, err := session.ParseEventKind(input.Body.Kind)
	if err != nil {
		return nil, huma.Error400BadRequest("invalid signal kind", err)
	}

	ev := session.NewEvent(kind, input.Body.ItemID)
	if !h.session.Post(ev) {
		return nil, huma.Error503ServiceUnavailable("event queue is full or closed")
	}
	return &PostSignalOutput{Body: SignalResponse{EventID: ev.ID.String(), Kind: kind.String()}}, nil
}

// GetPressure returns the memory pressure status.
func (h *ControlHandler) GetPressure(_ context.Context, _ *GetPressureInput) (*GetPressureOutput, error) {
	st := h.session.Status()
	return &GetPressureOutput{
		Body: PressureResponse{
			Level:      h.session.Level().String(),
			Monitor:    st.Pressure,
			Sampler:    st.Sampler,
			Background: st.Background,
			Capacity:   st.Pool.Capacity,
			Reduced:    st.Pool.Reduced,
		},
	}, nil
}

// ReloadFeed reloads the feed from the catalog.
func (h *ControlHandler) ReloadFeed(ctx context.Context, _ *ReloadFeedInput) (*ReloadFeedOutput, error) {
	feed, err := h.session.ReloadFeed(ctx)
	switch {
	case errors.Is(err, session.ErrNoFeedSource), errors.Is(err, session.ErrClosed):
		return nil, huma.Error503ServiceUnavailable("feed reload unavailable", err)
	case err != nil:
		return nil, huma.Error500InternalServerError("feed reload failed", err)
	}
	return &ReloadFeedOutput{Body: FeedResponse{Threads: len(feed.Threads), Items: feed.Len()}}, nil
}

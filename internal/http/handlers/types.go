package handlers

import (
	"github.com/jmylchreest/reelpool/internal/playback"
	"github.com/jmylchreest/reelpool/internal/preload"
	"github.com/jmylchreest/reelpool/internal/pressure"
)

// Common response types

// MessageResponse carries a human-readable result.
type MessageResponse struct {
	Message string `json:"message"`
}

// LivezResponse is the liveness probe response.
type LivezResponse struct {
	Status string `json:"status"`
}

// ReadyzResponse is the readiness probe response.
type ReadyzResponse struct {
	Status     string            `json:"status"`
	Components map[string]string `json:"components"`
}

// HealthResponse is the health check response.
type HealthResponse struct {
	Status        string     `json:"status"`
	Timestamp     string     `json:"timestamp"`
	Version       string     `json:"version"`
	Uptime        string     `json:"uptime"`
	UptimeSeconds float64    `json:"uptime_seconds"`
	Goroutines    int        `json:"goroutines"`
	Memory        MemoryInfo `json:"memory"`
}

// MemoryInfo holds system and process memory figures.
type MemoryInfo struct {
	TotalMemoryMB     float64 `json:"total_memory_mb"`
	AvailableMemoryMB float64 `json:"available_memory_mb"`
	UsedPercent       float64 `json:"used_percent"`
	ProcessRSSMB      float64 `json:"process_rss_mb"`
}

// Pool types

// HandleResponse describes a playable handle.
type HandleResponse struct {
	ID              string  `json:"id" doc:"Item ID"`
	Ready           bool    `json:"ready" doc:"Native player reports ready"`
	BufferedSeconds float64 `json:"buffered_seconds" doc:"Seconds buffered ahead"`
	WeakReady       bool    `json:"weak_ready" doc:"Admitted ready with a thin buffer"`
	Protected       bool    `json:"protected" doc:"Exempt from routine eviction"`
	Current         bool    `json:"current" doc:"Currently playing"`
}

// Navigation types

// PlanRequestResponse is one preload request of a plan.
type PlanRequestResponse struct {
	ID       string `json:"id"`
	Priority string `json:"priority"`
}

// PlanResponse describes the plan computed for a navigation.
type PlanResponse struct {
	Position  preload.Position      `json:"position"`
	Axis      string                `json:"axis"`
	Current   string                `json:"current"`
	Protected []string              `json:"protected"`
	Requests  []PlanRequestResponse `json:"requests"`
}

// PlanFromPreload converts a plan to a response.
func PlanFromPreload(p preload.Plan) PlanResponse {
	resp := PlanResponse{
		Position:  p.Position,
		Axis:      p.Axis.String(),
		Current:   p.Current,
		Protected: p.Protected,
		Requests:  make([]PlanRequestResponse, 0, len(p.Requests)),
	}
	if resp.Protected == nil {
		resp.Protected = []string{}
	}
	for _, r := range p.Requests {
		resp.Requests = append(resp.Requests, PlanRequestResponse{ID: r.ID, Priority: r.Priority.String()})
	}
	return resp
}

// Pressure types

// PressureResponse describes memory pressure state.
type PressureResponse struct {
	Level      string                 `json:"level" enum:"normal,elevated,critical,emergency"`
	Monitor    pressure.MonitorStats  `json:"monitor"`
	Sampler    *pressure.SamplerStats `json:"sampler,omitempty"`
	Background bool                   `json:"background"`
	Capacity   int                    `json:"capacity"`
	Reduced    bool                   `json:"reduced"`
}

// SignalResponse acknowledges a queued event.
type SignalResponse struct {
	EventID string `json:"event_id"`
	Kind    string `json:"kind"`
}

// FeedResponse summarises a loaded feed.
type FeedResponse struct {
	Threads int `json:"threads"`
	Items   int `json:"items"`
}

// handleFromStatus finds id in a pool snapshot.
func handleFromStatus(st playback.Status, id string) (playback.HandleStatus, bool) {
	for _, h := range st.Resident {
		if h.ID == id {
			return h, true
		}
	}
	return playback.HandleStatus{}, false
}

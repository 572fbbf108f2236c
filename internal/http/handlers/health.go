// Package handlers provides HTTP API handlers for reelpool.
package handlers

import (
	"context"
	"os"
	"runtime"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/process"
)

// Pinger checks a dependency is reachable. The catalog store implements it.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	version   string
	startTime time.Time
	catalog   Pinger
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(version string) *HealthHandler {
	return &HealthHandler{
		version:   version,
		startTime: time.Now(),
	}
}

// WithCatalog sets the catalog checked by the readiness probe.
func (h *HealthHandler) WithCatalog(catalog Pinger) *HealthHandler {
	h.catalog = catalog
	return h
}

// LivezInput is the input for the liveness endpoint.
type LivezInput struct{}

// LivezOutput is the output for the liveness endpoint.
type LivezOutput struct {
	Body LivezResponse
}

// ReadyzInput is the input for the readiness endpoint.
type ReadyzInput struct{}

// ReadyzOutput is the output for the readiness endpoint.
type ReadyzOutput struct {
	Body ReadyzResponse
}

// HealthInput is the input for the health endpoint.
type HealthInput struct{}

// HealthOutput is the output for the health endpoint.
type HealthOutput struct {
	Body HealthResponse
}

// Register registers the health routes with the API.
func (h *HealthHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "getLivez",
		Method:      "GET",
		Path:        "/livez",
		Summary:     "Liveness probe",
		Tags:        []string{"System"},
	}, h.GetLivez)

	huma.Register(api, huma.Operation{
		OperationID: "getReadyz",
		Method:      "GET",
		Path:        "/readyz",
		Summary:     "Readiness probe",
		Description: "Reports whether the catalog is reachable",
		Tags:        []string{"System"},
	}, h.GetReadyz)

	huma.Register(api, huma.Operation{
		OperationID: "getHealth",
		Method:      "GET",
		Path:        "/health",
		Summary:     "Health check",
		Description: "Returns the health status of the service including memory figures",
		Tags:        []string{"System"},
	}, h.GetHealth)
}

// GetLivez reports that the process is serving requests.
func (h *HealthHandler) GetLivez(_ context.Context, _ *LivezInput) (*LivezOutput, error) {
	return &LivezOutput{Body: LivezResponse{Status: "ok"}}, nil
}

// GetReadyz reports whether dependencies are reachable.
func (h *HealthHandler) GetReadyz(ctx context.Context, _ *ReadyzInput) (*ReadyzOutput, error) {
	components := map[string]string{"session": "ok"}
	status := "ready"

	switch {
	case h.catalog == nil:
		components["catalog"] = "not_configured"
		status = "not_ready"
	default:
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := h.catalog.Ping(pingCtx); err != nil {
			components["catalog"] = "error"
			status = "not_ready"
		} else {
			components["catalog"] = "ok"
		}
	}

	return &ReadyzOutput{Body: ReadyzResponse{Status: status, Components: components}}, nil
}

// GetHealth returns the health status of the service.
func (h *HealthHandler) GetHealth(_ context.Context, _ *HealthInput) (*HealthOutput, error) {
	now := time.Now()
	uptime := now.Sub(h.startTime)

	return &HealthOutput{
		Body: HealthResponse{
			Status:        "healthy",
			Timestamp:     now.UTC().Format(time.RFC3339),
			Version:       h.version,
			Uptime:        uptime.Round(time.Second).String(),
			UptimeSeconds: uptime.Seconds(),
			Goroutines:    runtime.NumGoroutine(),
			Memory:        h.getMemoryInfo(),
		},
	}, nil
}

// getMemoryInfo returns system and process memory figures.
func (h *HealthHandler) getMemoryInfo() MemoryInfo {
	info := MemoryInfo{}

	if vm, err := mem.VirtualMemory(); err == nil && vm != nil {
		info.TotalMemoryMB = float64(vm.Total) / 1024 / 1024
		info.AvailableMemoryMB = float64(vm.Available) / 1024 / 1024
		info.UsedPercent = vm.UsedPercent
	}

	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return info
	}
	if mi, err := proc.MemoryInfo(); err == nil && mi != nil {
		info.ProcessRSSMB = float64(mi.RSS) / 1024 / 1024
	}
	return info
}

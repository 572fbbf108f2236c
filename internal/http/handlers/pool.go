package handlers

import (
	"context"
	"fmt"

	"github.com/danielgtaylor/huma/v2"

	"github.com/jmylchreest/reelpool/internal/playback"
	"github.com/jmylchreest/reelpool/internal/session"
)

// PoolHandler handles pool status and handle endpoints.
type PoolHandler struct {
	session *session.Coordinator
}

// NewPoolHandler creates a new pool handler.
func NewPoolHandler(s *session.Coordinator) *PoolHandler {
	return &PoolHandler{session: s}
}

// GetPoolInput is the input for the pool status endpoint.
type GetPoolInput struct{}

// GetPoolOutput is the output for the pool status endpoint.
type GetPoolOutput struct {
	Body playback.Status
}

// GetStatusInput is the input for the session status endpoint.
type GetStatusInput struct{}

// GetStatusOutput is the output for the session status endpoint.
type GetStatusOutput struct {
	Body session.Status
}

// PoolItemInput addresses one pool item.
type PoolItemInput struct {
	ID string `path:"id" doc:"Item ID"`
}

// GetPoolItemOutput is the output for the handle endpoint.
type GetPoolItemOutput struct {
	Body HandleResponse
}

// EvictPoolItemOutput is the output for the evict endpoint.
type EvictPoolItemOutput struct {
	Body MessageResponse
}

// Register registers the pool routes with the API.
func (h *PoolHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "getPool",
		Method:      "GET",
		Path:        "/api/v1/pool",
		Summary:     "Pool status",
		Description: "Returns capacity, resident handles in least recently used order, constructions in flight and the gate queue",
		Tags:        []string{"Pool"},
	}, h.GetPool)

	huma.Register(api, huma.Operation{
		OperationID: "getStatus",
		Method:      "GET",
		Path:        "/api/v1/status",
		Summary:     "Session status",
		Description: "Returns pool, pressure, preload and event queue state in one snapshot",
		Tags:        []string{"Pool"},
	}, h.GetStatus)

	huma.Register(api, huma.Operation{
		OperationID: "getPoolItem",
		Method:      "GET",
		Path:        "/api/v1/pool/items/{id}",
		Summary:     "Get playable handle",
		Description: "Returns the handle for an item when it is resident and ready, and marks it most recently used",
		Tags:        []string{"Pool"},
	}, h.GetItem)

	huma.Register(api, huma.Operation{
		OperationID: "evictPoolItem",
		Method:      "DELETE",
		Path:        "/api/v1/pool/items/{id}",
		Summary:     "Evict handle",
		Description: "Releases a resident handle",
		Tags:        []string{"Pool"},
	}, h.EvictItem)
}

// GetPool returns the pool status.
func (h *PoolHandler) GetPool(_ context.Context, _ *GetPoolInput) (*GetPoolOutput, error) {
	return &GetPoolOutput{Body: h.session.Status().Pool}, nil
}

// GetStatus returns the session status.
func (h *PoolHandler) GetStatus(_ context.Context, _ *GetStatusInput) (*GetStatusOutput, error) {
	return &GetStatusOutput{Body: h.session.Status()}, nil
}

// GetItem returns a playable handle.
func (h *PoolHandler) GetItem(_ context.Context, input *PoolItemInput) (*GetPoolItemOutput, error) {
	p, ok := h.session.GetPlayableHandle(input.ID)
	if !ok {
		return nil, huma.Error404NotFound(fmt.Sprintf("item %s is not ready in the pool", input.ID))
	}

	resp := HandleResponse{
		ID:              input.ID,
		Ready:           p.IsReady(),
		BufferedSeconds: p.BufferedSeconds(),
	}
	if hs, ok := handleFromStatus(h.session.Status().Pool, input.ID); ok {
		resp.WeakReady = hs.WeakReady
		resp.Protected = hs.Protected
		resp.Current = hs.Current
	}
	return &GetPoolItemOutput{Body: resp}, nil
}

// EvictItem releases a resident handle.
func (h *PoolHandler) EvictItem(_ context.Context, input *PoolItemInput) (*EvictPoolItemOutput, error) {
	if !h.session.Evict(input.ID) {
		return nil, huma.Error404NotFound(fmt.Sprintf("item %s is not resident", input.ID))
	}
	return &EvictPoolItemOutput{Body: MessageResponse{Message: fmt.Sprintf("item %s evicted", input.ID)}}, nil
}

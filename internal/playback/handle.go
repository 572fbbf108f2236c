// Package playback implements the bounded pool of native playback handles:
// least-recently-used eviction that respects protected ids, a concurrency
// gate for construction, and a readiness probe for freshly built objects.
package playback

import (
	"sync/atomic"
	"time"

	"github.com/jmylchreest/reelpool/internal/player"
)

// State is the lifecycle state of a handle.
type State int32

const (
	// StateConstructing means the native object exists but has not passed the probe.
	StateConstructing State = iota
	// StateReady means the handle is resident and playable.
	StateReady
	// StateFailed means construction or readiness failed; the handle is never resident.
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateConstructing:
		return "constructing"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Priority orders preload requests.
type Priority int

const (
	// PriorityLow is used for items one hop beyond the immediate neighbours.
	PriorityLow Priority = iota
	// PriorityNormal is used for immediate neighbours on the active axis.
	PriorityNormal
	// PriorityHigh is used for the current item. It is never refused or treated as stale.
	PriorityHigh
)

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	default:
		return "unknown"
	}
}

// Handle is one playable unit owned by the pool.
//
// The native player is exclusively owned by the pool entry. Consumers must not
// hold on to it across navigation changes; they re-request it via Get or Ensure.
type Handle struct {
	id        string
	native    player.Player
	state     atomic.Int32
	weak      bool
	createdAt time.Time
}

func newHandle(id string, native player.Player) *Handle {
	h := &Handle{
		id:        id,
		native:    native,
		createdAt: time.Now(),
	}
	h.state.Store(int32(StateConstructing))
	return h
}

// ID returns the media item identity.
func (h *Handle) ID() string { return h.id }

// Player returns the native playback object.
func (h *Handle) Player() player.Player { return h.native }

// State returns the current lifecycle state.
func (h *Handle) State() State { return State(h.state.Load()) }

// BufferedSeconds returns the native object's buffered duration.
func (h *Handle) BufferedSeconds() float64 {
	if h.native == nil {
		return 0
	}
	return h.native.BufferedSeconds()
}

// WeakReady reports whether the handle passed the probe without reaching the
// minimum buffer.
func (h *Handle) WeakReady() bool { return h.weak }

// CreatedAt returns when construction started.
func (h *Handle) CreatedAt() time.Time { return h.createdAt }

func (h *Handle) setState(s State) { h.state.Store(int32(s)) }

// release stops the native object before dropping it.
func (h *Handle) release() error {
	if h.native == nil {
		return nil
	}
	h.native.Pause()
	return h.native.Close()
}

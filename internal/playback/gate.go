package playback

import (
	"context"
	"sync"
)

// GateConfig holds configuration for the construction concurrency gate.
type GateConfig struct {
	// MaxConcurrent is the number of constructions allowed to run at once.
	MaxConcurrent int
	// Stale is consulted when a queued request reaches the front of the queue.
	// Requests it reports as stale are dropped with ErrStale instead of started.
	Stale func(id string, priority Priority) bool
	// OnQueued is called when a request has to wait for a slot.
	OnQueued func(id string, active, max int)
}

// DefaultGateConfig returns sensible defaults.
func DefaultGateConfig() GateConfig {
	return GateConfig{MaxConcurrent: 3}
}

// gateWaiter is a queued acquisition. ready receives nil when a slot was
// handed over, or the reason the request was dropped.
type gateWaiter struct {
	id       string
	priority Priority
	ready    chan error
}

// Gate admits at most MaxConcurrent constructions. Excess requests wait in a
// FIFO queue keyed by id; a given id is queued at most once.
type Gate struct {
	config GateConfig

	mu     sync.Mutex
	closed bool
	active int
	queue  []*gateWaiter
	byID   map[string]*gateWaiter
}

// NewGate creates a new gate.
func NewGate(config GateConfig) *Gate {
	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = DefaultGateConfig().MaxConcurrent
	}
	return &Gate{
		config: config,
		byID:   make(map[string]*gateWaiter),
	}
}

// Acquire waits for a construction slot for id.
// It returns a release function that must be called exactly once when the
// construction finishes, successfully or not.
func (g *Gate) Acquire(ctx context.Context, id string, priority Priority) (func(), error) {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return nil, ErrGateClosed
	}

	if _, queued := g.byID[id]; queued {
		g.mu.Unlock()
		return nil, ErrAlreadyInFlight
	}

	// Take a slot immediately if one is free and nobody is ahead of us
	if g.active < g.config.MaxConcurrent && len(g.queue) == 0 {
		g.active++
		g.mu.Unlock()
		return g.releaseFunc(), nil
	}

	w := &gateWaiter{id: id, priority: priority, ready: make(chan error, 1)}
	g.queue = append(g.queue, w)
	g.byID[id] = w
	active := g.active
	g.mu.Unlock()

	if g.config.OnQueued != nil {
		g.config.OnQueued(id, active, g.config.MaxConcurrent)
	}

	select {
	case err := <-w.ready:
		if err != nil {
			return nil, err
		}
		return g.releaseFunc(), nil

	case <-ctx.Done():
		g.mu.Lock()
		removed := g.removeWaiter(w)
		g.mu.Unlock()
		if !removed {
			// A slot (or a drop) was delivered concurrently; give the slot back.
			if err := <-w.ready; err == nil {
				g.release()
			}
		}
		return nil, ctx.Err()
	}
}

// releaseFunc returns a function that frees a slot once.
func (g *Gate) releaseFunc() func() {
	var once sync.Once
	return func() {
		once.Do(g.release)
	}
}

func (g *Gate) release() {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.active > 0 {
		g.active--
	}
	g.dispatch()
}

// dispatch hands free slots to queued waiters in FIFO order, dropping stale
// ones (must hold lock).
func (g *Gate) dispatch() {
	for g.active < g.config.MaxConcurrent && len(g.queue) > 0 {
		w := g.queue[0]
		g.queue = g.queue[1:]
		delete(g.byID, w.id)

		if g.config.Stale != nil && g.config.Stale(w.id, w.priority) {
			w.ready <- ErrStale
			continue
		}

		g.active++
		w.ready <- nil
	}
}

// removeWaiter removes a waiter from the queue (must hold lock).
// It reports false if the waiter was already dispatched.
func (g *Gate) removeWaiter(w *gateWaiter) bool {
	for i, q := range g.queue {
		if q == w {
			g.queue = append(g.queue[:i], g.queue[i+1:]...)
			delete(g.byID, w.id)
			return true
		}
	}
	return false
}

// CancelQueued drops queued requests for which keep returns false.
// A nil keep drops everything. It returns the number of dropped requests.
func (g *Gate) CancelQueued(keep func(id string, priority Priority) bool) int {
	g.mu.Lock()
	defer g.mu.Unlock()

	kept := g.queue[:0]
	dropped := 0
	for _, w := range g.queue {
		if keep != nil && keep(w.id, w.priority) {
			kept = append(kept, w)
			continue
		}
		delete(g.byID, w.id)
		w.ready <- ErrCancelled
		dropped++
	}
	// Clear the tail so dropped waiters can be collected
	for i := len(kept); i < len(g.queue); i++ {
		g.queue[i] = nil
	}
	g.queue = kept
	return dropped
}

// IsQueued reports whether id is waiting for a slot.
func (g *Gate) IsQueued(id string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.byID[id]
	return ok
}

// Close closes the gate and releases all waiters with ErrGateClosed.
func (g *Gate) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return
	}
	g.closed = true

	for _, w := range g.queue {
		w.ready <- ErrGateClosed
	}
	g.queue = nil
	g.byID = make(map[string]*gateWaiter)
}

// Stats returns gate statistics.
func (g *Gate) Stats() GateStats {
	g.mu.Lock()
	defer g.mu.Unlock()

	queued := make([]string, 0, len(g.queue))
	for _, w := range g.queue {
		queued = append(queued, w.id)
	}

	return GateStats{
		Active:        g.active,
		MaxConcurrent: g.config.MaxConcurrent,
		Queued:        queued,
	}
}

// GateStats holds gate statistics.
type GateStats struct {
	Active        int      `json:"active"`
	MaxConcurrent int      `json:"max_concurrent"`
	Queued        []string `json:"queued"`
}

package playback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jmylchreest/reelpool/internal/player"
	"github.com/jmylchreest/reelpool/internal/pressure"
)

// Resolver turns a media identity into a location a player can open.
type Resolver interface {
	Resolve(ctx context.Context, id string) (string, error)
}

// ResolverFunc adapts a function to the Resolver interface.
type ResolverFunc func(ctx context.Context, id string) (string, error)

// Resolve calls f.
func (f ResolverFunc) Resolve(ctx context.Context, id string) (string, error) {
	return f(ctx, id)
}

// LevelSource reports the current memory pressure level.
type LevelSource interface {
	Level() pressure.Level
}

// EvictReason describes why a handle left the pool.
type EvictReason string

const (
	EvictCapacity EvictReason = "capacity"
	EvictPressure EvictReason = "pressure"
	EvictExplicit EvictReason = "explicit"
	EvictClear    EvictReason = "clear"
	EvictShutdown EvictReason = "shutdown"
)

// Outcome describes how a construction ended.
type Outcome string

const (
	OutcomeReady     Outcome = "ready"
	OutcomeWeak      Outcome = "weak"
	OutcomeFailed    Outcome = "failed"
	OutcomeTimeout   Outcome = "timeout"
	OutcomeStale     Outcome = "stale"
	OutcomeCancelled Outcome = "cancelled"
	OutcomeRefused   Outcome = "refused"
)

// Observer receives pool lifecycle notifications. Calls are made with the
// pool lock held and must not call back into the pool.
type Observer interface {
	HandleEvicted(id string, reason EvictReason)
	ConstructionFinished(id string, outcome Outcome, elapsed time.Duration)
	CapacityChanged(capacity, resident int)
}

type noopObserver struct{}

func (noopObserver) HandleEvicted(string, EvictReason)                 {}
func (noopObserver) ConstructionFinished(string, Outcome, time.Duration) {}
func (noopObserver) CapacityChanged(int, int)                          {}

// Config holds configuration for the pool.
type Config struct {
	// Capacity is the default maximum number of resident handles.
	Capacity int
	// MaxConcurrent bounds simultaneous constructions.
	MaxConcurrent int
	// FailureBackoff suppresses non-high-priority retries of a failed id.
	FailureBackoff time.Duration
	// StrictInvariants panics on ownership violations instead of logging them.
	StrictInvariants bool
	// Probe configures the readiness probe.
	Probe ProbeConfig
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Capacity:       5,
		MaxConcurrent:  3,
		FailureBackoff: 30 * time.Second,
		Probe:          DefaultProbeConfig(),
	}
}

// flight is one construction in progress. Every Ensure for the same id while
// it runs waits on done.
type flight struct {
	id       string
	token    string
	priority Priority
	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}

	handle *Handle
	err    error
}

// Pool owns a bounded set of playback handles.
//
// All mutations of the resident set, the access order and the protection set
// happen under a single mutex. Construction and readiness polling run in
// their own goroutines, bounded by the gate, and only take the lock to commit
// or discard their result.
type Pool struct {
	config   Config
	opener   player.Opener
	resolver Resolver
	levels   LevelSource
	observer Observer
	logger   *slog.Logger
	gate     *Gate

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu         sync.Mutex
	closed     bool
	capacity   int
	handles    map[string]*Handle
	tracker    *AccessTracker
	protection *ProtectionSet
	inflight   map[string]*flight
	progress   map[string]float64
	failures   map[string]time.Time

	// wanted is the current preload window; it is read by the gate's
	// staleness check and therefore kept outside mu.
	wantMu      sync.RWMutex
	wanted      map[string]struct{}
	wantCurrent string
}

// NewPool creates a new pool.
func NewPool(config Config, opener player.Opener, resolver Resolver) *Pool {
	defaults := DefaultConfig()
	if config.Capacity <= 0 {
		config.Capacity = defaults.Capacity
	}
	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = defaults.MaxConcurrent
	}
	if config.Probe.Interval <= 0 {
		config.Probe.Interval = defaults.Probe.Interval
	}
	if config.Probe.MaxAttempts <= 0 {
		config.Probe.MaxAttempts = defaults.Probe.MaxAttempts
	}

	ctx, cancel := context.WithCancel(context.Background())

	p := &Pool{
		config:     config,
		opener:     opener,
		resolver:   resolver,
		observer:   noopObserver{},
		logger:     slog.Default(),
		ctx:        ctx,
		cancel:     cancel,
		capacity:   config.Capacity,
		handles:    make(map[string]*Handle),
		tracker:    NewAccessTracker(),
		protection: NewProtectionSet(),
		inflight:   make(map[string]*flight),
		progress:   make(map[string]float64),
		failures:   make(map[string]time.Time),
	}
	p.gate = NewGate(GateConfig{
		MaxConcurrent: config.MaxConcurrent,
		Stale:         p.isStale,
		OnQueued: func(id string, active, max int) {
			p.logger.Debug("construction queued",
				slog.String("item_id", id),
				slog.Int("active", active),
				slog.Int("max", max))
		},
	})
	return p
}

// WithLogger sets a custom logger.
func (p *Pool) WithLogger(logger *slog.Logger) *Pool {
	if logger != nil {
		p.logger = logger
	}
	return p
}

// WithLevelSource sets the memory pressure source consulted by Ensure.
func (p *Pool) WithLevelSource(levels LevelSource) *Pool {
	p.levels = levels
	return p
}

// WithObserver sets the lifecycle observer.
func (p *Pool) WithObserver(observer Observer) *Pool {
	if observer != nil {
		p.observer = observer
	}
	return p
}

// Get returns a ready resident handle and marks it most recently used.
// It never blocks on construction.
func (p *Pool) Get(id string) (*Handle, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	h, ok := p.handles[id]
	if !ok || h.State() != StateReady {
		return nil, false
	}
	p.tracker.Touch(id)
	return h, true
}

// Ensure makes id resident.
//
// It returns immediately if id is resident, joins the running construction if
// one is in flight, and otherwise makes room, then constructs through the
// gate and the readiness probe. Non-high-priority requests are refused with
// ErrCapacityRefused while pressure is critical or worse. On failure nothing
// for id remains resident and the native object has been released.
func (p *Pool) Ensure(ctx context.Context, id string, priority Priority) (*Handle, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPoolClosed
	}

	h, resident := p.handles[id]
	fl, inFlight := p.inflight[id]
	if resident && inFlight {
		p.mu.Unlock()
		p.violation("handle resident while construction in flight", id)
		return h, nil
	}
	if resident {
		p.mu.Unlock()
		return h, nil
	}
	if inFlight {
		p.mu.Unlock()
		return p.wait(ctx, fl)
	}

	if priority < PriorityHigh {
		if level := p.level(); level >= pressure.LevelCritical {
			p.mu.Unlock()
			p.observer.ConstructionFinished(id, OutcomeRefused, 0)
			return nil, fmt.Errorf("%w: memory pressure %s", ErrCapacityRefused, level)
		}
		if failedAt, ok := p.failures[id]; ok && time.Since(failedAt) < p.config.FailureBackoff {
			p.mu.Unlock()
			return nil, fmt.Errorf("%w: %s failed recently", ErrConstructionFailed, id)
		}
	}

	// Make room before admitting the construction
	for len(p.handles) >= p.capacity {
		if !p.evictOneLocked(id, EvictCapacity) {
			p.mu.Unlock()
			p.observer.ConstructionFinished(id, OutcomeRefused, 0)
			return nil, fmt.Errorf("%w: no evictable handle at capacity %d", ErrCapacityRefused, p.capacity)
		}
	}

	fl = p.startFlightLocked(id, priority)
	p.mu.Unlock()

	go p.construct(fl)

	return p.wait(ctx, fl)
}

// startFlightLocked registers a construction (must hold lock).
func (p *Pool) startFlightLocked(id string, priority Priority) *flight {
	ctx, cancel := context.WithCancel(p.ctx)
	fl := &flight{
		id:       id,
		token:    uuid.NewString(),
		priority: priority,
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	p.inflight[id] = fl
	p.progress[id] = 0
	p.wg.Add(1)
	return fl
}

func (p *Pool) wait(ctx context.Context, fl *flight) (*Handle, error) {
	select {
	case <-fl.done:
		return fl.handle, fl.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// construct runs one construction to completion.
func (p *Pool) construct(fl *flight) {
	defer p.wg.Done()
	defer fl.cancel()

	start := time.Now()
	logger := p.logger.With(slog.String("item_id", fl.id), slog.String("flight", fl.token))

	release, err := p.gate.Acquire(fl.ctx, fl.id, fl.priority)
	if err != nil {
		p.finish(fl, nil, p.classify(fl, err), start)
		return
	}
	defer release()

	location, err := p.resolver.Resolve(fl.ctx, fl.id)
	if err != nil {
		p.finish(fl, nil, p.classify(fl, fmt.Errorf("%w: resolving location: %w", ErrConstructionFailed, err)), start)
		return
	}

	native, err := p.opener.Open(fl.ctx, fl.id, location)
	if err != nil {
		p.finish(fl, nil, p.classify(fl, fmt.Errorf("%w: opening player: %w", ErrConstructionFailed, err)), start)
		return
	}

	h := newHandle(fl.id, native)
	result, err := Probe(fl.ctx, native, p.config.Probe, func(f float64) {
		p.setProgress(fl.id, f)
	})
	if err != nil {
		h.setState(StateFailed)
		if relErr := h.release(); relErr != nil {
			logger.Warn("failed to release player after probe failure", slog.String("error", relErr.Error()))
		}
		p.finish(fl, nil, p.classify(fl, err), start)
		return
	}
	h.weak = result.Weak

	logger.Debug("handle ready",
		slog.Int("attempts", result.Attempts),
		slog.Float64("buffered_seconds", result.BufferedSeconds),
		slog.Bool("weak", result.Weak),
		slog.Duration("elapsed", time.Since(start)))

	p.commit(fl, h, start)
}

// classify maps cancellation of the flight context to ErrCancelled.
func (p *Pool) classify(fl *flight, err error) error {
	if errors.Is(err, ErrStale) || errors.Is(err, ErrCancelled) || errors.Is(err, ErrGateClosed) {
		return err
	}
	if fl.ctx.Err() != nil && errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %w", ErrCancelled, err)
	}
	return err
}

// finish resolves a flight that produced no handle.
func (p *Pool) finish(fl *flight, h *Handle, err error, start time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()

	delete(p.inflight, fl.id)
	delete(p.progress, fl.id)

	if !errors.Is(err, ErrCancelled) && (errors.Is(err, ErrConstructionFailed) || errors.Is(err, ErrReadinessTimeout)) {
		p.failures[fl.id] = time.Now()
	}

	fl.handle = h
	fl.err = err
	close(fl.done)

	p.observer.ConstructionFinished(fl.id, outcomeOf(err, false), time.Since(start))
	p.logger.Debug("construction finished without handle",
		slog.String("item_id", fl.id),
		slog.String("flight", fl.token),
		slog.String("error", err.Error()))
}

// commit inserts a probed handle, evicting if needed.
func (p *Pool) commit(fl *flight, h *Handle, start time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	defer close(fl.done)

	delete(p.inflight, fl.id)
	delete(p.progress, fl.id)

	discard := func(err error) {
		h.setState(StateFailed)
		if relErr := h.release(); relErr != nil {
			p.logger.Warn("failed to release discarded player",
				slog.String("item_id", fl.id),
				slog.String("error", relErr.Error()))
		}
		fl.err = err
		p.observer.ConstructionFinished(fl.id, outcomeOf(err, false), time.Since(start))
	}

	if p.closed {
		discard(ErrPoolClosed)
		return
	}
	if fl.ctx.Err() != nil {
		discard(fmt.Errorf("%w: %w", ErrCancelled, fl.ctx.Err()))
		return
	}
	if existing, ok := p.handles[fl.id]; ok {
		p.violation("handle became resident during its own construction", fl.id)
		discard(nil)
		fl.handle = existing
		return
	}

	for len(p.handles) >= p.capacity {
		if !p.evictOneLocked(fl.id, EvictCapacity) {
			discard(fmt.Errorf("%w: no evictable handle at capacity %d", ErrCapacityRefused, p.capacity))
			return
		}
	}

	h.setState(StateReady)
	p.handles[fl.id] = h
	p.tracker.Touch(fl.id)
	delete(p.failures, fl.id)
	fl.handle = h

	p.observer.ConstructionFinished(fl.id, outcomeOf(nil, h.weak), time.Since(start))
	p.observer.CapacityChanged(p.capacity, len(p.handles))
}

func outcomeOf(err error, weak bool) Outcome {
	switch {
	case err == nil && weak:
		return OutcomeWeak
	case err == nil:
		return OutcomeReady
	case errors.Is(err, ErrStale):
		return OutcomeStale
	case errors.Is(err, ErrCancelled), errors.Is(err, ErrGateClosed), errors.Is(err, ErrPoolClosed):
		return OutcomeCancelled
	case errors.Is(err, ErrCapacityRefused):
		return OutcomeRefused
	case errors.Is(err, ErrReadinessTimeout):
		return OutcomeTimeout
	default:
		return OutcomeFailed
	}
}

// evictOneLocked evicts the least recently used handle that is neither
// protected nor exclude. If every resident handle is protected it falls back
// to the least recently used one that is not currently playing: protection
// prevents routine churn, not a capacity violation. Must hold lock.
func (p *Pool) evictOneLocked(exclude string, reason EvictReason) bool {
	order := p.tracker.Oldest()

	for _, id := range order {
		if id == exclude || p.protection.Has(id) {
			continue
		}
		return p.evictLocked(id, reason)
	}

	current := p.protection.Current()
	for _, id := range order {
		if id == exclude || id == current {
			continue
		}
		p.logger.Debug("evicting protected handle as last resort",
			slog.String("item_id", id),
			slog.Int("capacity", p.capacity))
		return p.evictLocked(id, reason)
	}

	return false
}

// evictLocked stops and removes one handle (must hold lock).
func (p *Pool) evictLocked(id string, reason EvictReason) bool {
	h, ok := p.handles[id]
	if !ok {
		return false
	}

	if err := h.release(); err != nil {
		p.logger.Warn("failed to release evicted player",
			slog.String("item_id", id),
			slog.String("error", err.Error()))
	}

	delete(p.handles, id)
	delete(p.progress, id)
	p.tracker.Remove(id)

	p.logger.Debug("evicted handle",
		slog.String("item_id", id),
		slog.String("reason", string(reason)))
	p.observer.HandleEvicted(id, reason)
	p.observer.CapacityChanged(p.capacity, len(p.handles))
	return true
}

// Evict releases id if resident.
func (p *Pool) Evict(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.evictLocked(id, EvictExplicit)
}

// ClearAll evicts every resident handle.
func (p *Pool) ClearAll() int {
	return p.clearWhere(EvictClear, func(string) bool { return false })
}

// ClearExceptCurrent evicts every handle except the currently playing one.
func (p *Pool) ClearExceptCurrent() int {
	return p.clearWhere(EvictPressure, func(id string) bool {
		return id == p.protection.Current()
	})
}

// ClearExceptProtected evicts every handle that is not protected.
func (p *Pool) ClearExceptProtected() int {
	return p.clearWhere(EvictClear, p.protection.Has)
}

func (p *Pool) clearWhere(reason EvictReason, keep func(id string) bool) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	evicted := 0
	for _, id := range p.tracker.Oldest() {
		if keep(id) {
			continue
		}
		if p.evictLocked(id, reason) {
			evicted++
		}
	}
	return evicted
}

// ShrinkCapacity lowers capacity to n (never above the default, never below
// one) and evicts down to it.
func (p *Pool) ShrinkCapacity(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if n < 1 {
		n = 1
	}
	if n > p.config.Capacity {
		n = p.config.Capacity
	}
	p.capacity = n

	for len(p.handles) > p.capacity {
		if !p.evictOneLocked("", EvictPressure) {
			break
		}
	}

	p.logger.Debug("capacity reduced",
		slog.Int("capacity", p.capacity),
		slog.Int("resident", len(p.handles)))
	p.observer.CapacityChanged(p.capacity, len(p.handles))
}

// RestoreCapacity resets capacity to the configured default.
func (p *Pool) RestoreCapacity() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.capacity = p.config.Capacity
	p.observer.CapacityChanged(p.capacity, len(p.handles))
}

// DropPassiveCaches forgets recent construction failures.
func (p *Pool) DropPassiveCaches() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failures = make(map[string]time.Time)
}

// CancelPreloads sheds queued and in-flight constructions, except for the
// currently playing id.
func (p *Pool) CancelPreloads() int {
	p.mu.Lock()
	current := p.protection.Current()
	cancelled := 0
	for id, fl := range p.inflight {
		if id == current {
			continue
		}
		fl.cancel()
		cancelled++
	}
	p.mu.Unlock()

	p.gate.CancelQueued(func(id string, _ Priority) bool {
		return id == current
	})
	return cancelled
}

// PauseCurrent pauses the currently playing handle without evicting it.
func (p *Pool) PauseCurrent() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	h, ok := p.handles[p.protection.Current()]
	if !ok {
		return false
	}
	h.native.Pause()
	return true
}

// SeekToStart rewinds a resident handle.
func (p *Pool) SeekToStart(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	h, ok := p.handles[id]
	if !ok {
		return false
	}
	h.native.SeekToStart()
	return true
}

// SetProtected replaces the protected neighbour ids.
func (p *Pool) SetProtected(ids []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.protection.Replace(ids)
}

// MarkCurrentlyPlaying marks id as the item on screen.
func (p *Pool) MarkCurrentlyPlaying(id string) {
	p.mu.Lock()
	p.protection.SetCurrent(id)
	p.mu.Unlock()

	p.wantMu.Lock()
	p.wantCurrent = id
	p.wantMu.Unlock()
}

// ClearCurrentlyPlaying removes the currently playing mark.
func (p *Pool) ClearCurrentlyPlaying() {
	p.MarkCurrentlyPlaying("")
}

// CurrentlyPlaying returns the currently playing id.
func (p *Pool) CurrentlyPlaying() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.protection.Current()
}

// SetWanted publishes the preload window. Queued constructions for ids outside
// it are dropped when they reach the front of the gate queue. A nil slice
// disables the staleness check.
func (p *Pool) SetWanted(ids []string) {
	p.wantMu.Lock()
	defer p.wantMu.Unlock()

	if ids == nil {
		p.wanted = nil
		return
	}
	p.wanted = make(map[string]struct{}, len(ids))
	for _, id := range ids {
		p.wanted[id] = struct{}{}
	}
}

// isStale is the gate's staleness check. It must not take mu.
func (p *Pool) isStale(id string, priority Priority) bool {
	if priority == PriorityHigh {
		return false
	}

	p.wantMu.RLock()
	defer p.wantMu.RUnlock()

	if p.wanted == nil || id == p.wantCurrent {
		return false
	}
	_, ok := p.wanted[id]
	return !ok
}

func (p *Pool) setProgress(id string, fraction float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.inflight[id]; ok {
		p.progress[id] = fraction
	}
}

// Progress returns the load progress of an in-flight construction.
func (p *Pool) Progress(id string) (float64, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	f, ok := p.progress[id]
	return f, ok
}

// Len returns the number of resident handles.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.handles)
}

// Capacity returns the current effective capacity.
func (p *Pool) Capacity() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.capacity
}

// Contains reports whether id is resident.
func (p *Pool) Contains(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.handles[id]
	return ok
}

// InFlight reports whether a construction for id is running or queued.
func (p *Pool) InFlight(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.inflight[id]
	return ok
}

func (p *Pool) level() pressure.Level {
	if p.levels == nil {
		return pressure.LevelNormal
	}
	return p.levels.Level()
}

// violation reports a lost-exclusivity bug.
func (p *Pool) violation(msg, id string) {
	p.logger.Error("playback pool invariant violated",
		slog.String("violation", msg),
		slog.String("item_id", id))
	if p.config.StrictInvariants {
		panic(fmt.Sprintf("playback: %s (id=%s)", msg, id))
	}
}

// Shutdown cancels all constructions, waits for them to unwind and releases
// every resident handle. The pool cannot be used afterwards.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	p.cancel()
	p.gate.Close()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = fmt.Errorf("waiting for constructions: %w", ctx.Err())
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	for _, id := range p.tracker.Oldest() {
		p.evictLocked(id, EvictShutdown)
	}
	p.protection.Clear()
	return err
}

package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/jmylchreest/reelpool/internal/playback"
	"github.com/jmylchreest/reelpool/internal/player"
	"github.com/jmylchreest/reelpool/internal/preload"
	"github.com/jmylchreest/reelpool/internal/pressure"
)

var (
	// ErrClosed is returned after Shutdown.
	ErrClosed = errors.New("session closed")
	// ErrNoFeedSource is returned by ReloadFeed when no feed source is set.
	ErrNoFeedSource = errors.New("no feed source configured")
)

// FeedSource supplies feed snapshots. The catalog store implements it.
type FeedSource interface {
	Feed(ctx context.Context) (preload.Feed, error)
}

// Config holds configuration for the coordinator.
type Config struct {
	// EventBuffer is the capacity of the event queue. Posts to a full queue
	// are dropped.
	EventBuffer int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{EventBuffer: 64}
}

// Coordinator connects the pool, the pressure monitor and the preload
// scheduler. Events are posted to a bounded queue and handled one at a time
// by Run; the UI-facing calls go straight to the components they address.
type Coordinator struct {
	pool      *playback.Pool
	monitor   *pressure.Monitor
	scheduler *preload.Scheduler
	sampler   *pressure.Sampler
	feeds     FeedSource
	logger    *slog.Logger

	events chan Event
	done   chan struct{}

	mu         sync.Mutex
	running    bool
	closed     bool
	background bool
	stats      EventStats
}

// New creates a coordinator over already constructed components.
func New(config Config, pool *playback.Pool, monitor *pressure.Monitor, scheduler *preload.Scheduler) *Coordinator {
	if config.EventBuffer <= 0 {
		config.EventBuffer = DefaultConfig().EventBuffer
	}
	return &Coordinator{
		pool:      pool,
		monitor:   monitor,
		scheduler: scheduler,
		logger:    slog.Default(),
		events:    make(chan Event, config.EventBuffer),
		done:      make(chan struct{}),
	}
}

// WithLogger sets a custom logger.
func (c *Coordinator) WithLogger(logger *slog.Logger) *Coordinator {
	if logger != nil {
		c.logger = logger
	}
	return c
}

// WithSampler attaches a memory sampler that Run starts and Shutdown stops.
func (c *Coordinator) WithSampler(sampler *pressure.Sampler) *Coordinator {
	c.sampler = sampler
	return c
}

// WithFeedSource sets the source ReloadFeed reads from.
func (c *Coordinator) WithFeedSource(feeds FeedSource) *Coordinator {
	c.feeds = feeds
	return c
}

// Post queues an event without blocking. It reports false when the queue is
// full or the coordinator is closed.
func (c *Coordinator) Post(ev Event) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}
	select {
	case c.events <- ev:
		c.stats.Posted++
		return true
	default:
		c.stats.Dropped++
		c.logger.Warn("event queue full, dropping event",
			slog.String("event_id", ev.ID.String()),
			slog.String("kind", ev.Kind.String()))
		return false
	}
}

// Run handles queued events until ctx is cancelled or Shutdown is called.
// It starts the memory sampler when one is attached.
func (c *Coordinator) Run(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.running {
		c.mu.Unlock()
		return fmt.Errorf("coordinator already running")
	}
	c.running = true
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.running = false
		c.mu.Unlock()
	}()

	if c.sampler != nil {
		if err := c.sampler.Start(ctx); err != nil {
			return fmt.Errorf("starting memory sampler: %w", err)
		}
	}

	c.logger.Info("session started", slog.Int("event_buffer", cap(c.events)))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.done:
			return nil
		case ev := <-c.events:
			c.Handle(ctx, ev)
		}
	}
}

// Handle applies one event synchronously.
func (c *Coordinator) Handle(ctx context.Context, ev Event) {
	c.logger.Debug("handling event",
		slog.String("event_id", ev.ID.String()),
		slog.String("kind", ev.Kind.String()),
		slog.String("item_id", ev.ItemID))

	switch ev.Kind {
	case EventLowMemory:
		c.monitor.Signal(pressure.SignalLowMemory)
	case EventPressureWarning:
		c.monitor.Signal(pressure.SignalWarning)
	case EventPressureCritical:
		c.monitor.Signal(pressure.SignalCritical)
	case EventBackground:
		c.enterBackground()
	case EventForeground:
		c.enterForeground(ctx)
	case EventPlaybackFinished:
		id := ev.ItemID
		if id == "" {
			id = c.pool.CurrentlyPlaying()
		}
		if id != "" && !c.pool.SeekToStart(id) {
			c.logger.Debug("finished item not resident", slog.String("item_id", id))
		}
	default:
		c.logger.Warn("unknown event kind", slog.String("kind", ev.Kind.String()))
	}

	c.mu.Lock()
	c.stats.Handled++
	c.mu.Unlock()
}

// enterBackground pauses the current item and sheds everything that is not
// protected. The current handle stays resident.
func (c *Coordinator) enterBackground() {
	c.mu.Lock()
	if c.background {
		c.mu.Unlock()
		return
	}
	c.background = true
	c.mu.Unlock()

	paused := c.pool.PauseCurrent()
	c.scheduler.Cancel()
	cancelled := c.pool.CancelPreloads()
	evicted := c.pool.ClearExceptProtected()

	c.logger.Info("entered background",
		slog.Bool("paused_current", paused),
		slog.Int("cancelled", cancelled),
		slog.Int("evicted", evicted))
}

// enterForeground re-issues the last navigation so the window warms again.
func (c *Coordinator) enterForeground(ctx context.Context) {
	c.mu.Lock()
	if !c.background {
		c.mu.Unlock()
		return
	}
	c.background = false
	c.mu.Unlock()

	plan, err := c.scheduler.Replay(ctx)
	switch {
	case errors.Is(err, preload.ErrNoNavigation):
		c.logger.Info("entered foreground")
	case err != nil:
		c.logger.Warn("replaying navigation failed", slog.String("error", err.Error()))
	default:
		c.logger.Info("entered foreground",
			slog.String("current", plan.Current),
			slog.Int("requests", len(plan.Requests)))
	}
}

// GetPlayableHandle returns the native player for id when it is resident and
// ready. The player must not be retained across a navigation change.
func (c *Coordinator) GetPlayableHandle(id string) (player.Player, bool) {
	h, ok := c.pool.Get(id)
	if !ok {
		return nil, false
	}
	return h.Player(), true
}

// NotifyNavigation reports a new position and the axis the user moved along.
func (c *Coordinator) NotifyNavigation(ctx context.Context, pos preload.Position, axis preload.Axis) (preload.Plan, error) {
	if c.isClosed() {
		return preload.Plan{}, ErrClosed
	}
	return c.scheduler.Navigate(ctx, pos, axis)
}

// MarkCurrentlyPlaying marks id as the item on screen.
func (c *Coordinator) MarkCurrentlyPlaying(id string) {
	c.pool.MarkCurrentlyPlaying(id)
}

// ClearCurrentlyPlaying removes the currently playing mark.
func (c *Coordinator) ClearCurrentlyPlaying() {
	c.pool.ClearCurrentlyPlaying()
}

// ReloadFeed fetches a new feed snapshot and re-plans the last navigation
// against it.
func (c *Coordinator) ReloadFeed(ctx context.Context) (preload.Feed, error) {
	if c.isClosed() {
		return preload.Feed{}, ErrClosed
	}
	if c.feeds == nil {
		return preload.Feed{}, ErrNoFeedSource
	}

	feed, err := c.feeds.Feed(ctx)
	if err != nil {
		return preload.Feed{}, fmt.Errorf("loading feed: %w", err)
	}
	c.scheduler.SetFeed(feed)

	// Backgrounded sessions re-plan on foreground
	if !c.Background() {
		if _, err := c.scheduler.Replay(ctx); err != nil && !errors.Is(err, preload.ErrNoNavigation) {
			c.logger.Warn("re-planning after feed reload failed", slog.String("error", err.Error()))
		}
	}

	c.logger.Info("feed reloaded",
		slog.Int("threads", len(feed.Threads)),
		slog.Int("items", feed.Len()))
	return feed, nil
}

// Background reports whether the app is backgrounded.
func (c *Coordinator) Background() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.background
}

// Level returns the current memory pressure level.
func (c *Coordinator) Level() pressure.Level {
	return c.monitor.Level()
}

// Pressure returns the pressure monitor statistics.
func (c *Coordinator) Pressure() pressure.MonitorStats {
	return c.monitor.Stats()
}

// Evict releases id if resident.
func (c *Coordinator) Evict(id string) bool {
	return c.pool.Evict(id)
}

// Status returns a diagnostics snapshot of every component.
func (c *Coordinator) Status() Status {
	feed := c.scheduler.Feed()

	st := Status{
		Pool:     c.pool.Status(),
		Pressure: c.monitor.Stats(),
		Preload:  c.scheduler.Stats(),
		Feed: FeedStatus{
			Threads: len(feed.Threads),
			Items:   feed.Len(),
		},
	}
	if plan, ok := c.scheduler.Last(); ok {
		pos := plan.Position
		st.Feed.Position = &pos
		st.Feed.Axis = plan.Axis.String()
	}
	if c.sampler != nil {
		sampler := c.sampler.Stats()
		st.Sampler = &sampler
	}

	c.mu.Lock()
	st.Background = c.background
	st.Events = c.stats
	st.Events.Queued = len(c.events)
	c.mu.Unlock()

	return st
}

// Shutdown stops the sampler, the scheduler, the monitor and the pool, in
// that order. It is safe to call more than once.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.done)
	c.mu.Unlock()

	if c.sampler != nil {
		c.sampler.Stop()
	}
	c.scheduler.Close()
	c.monitor.Close()

	if err := c.pool.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down pool: %w", err)
	}
	c.logger.Info("session stopped")
	return nil
}

func (c *Coordinator) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// EventStats holds event queue counters.
type EventStats struct {
	Posted  int `json:"posted"`
	Handled int `json:"handled"`
	Dropped int `json:"dropped"`
	Queued  int `json:"queued"`
}

// FeedStatus describes the feed snapshot in use.
type FeedStatus struct {
	Threads  int               `json:"threads"`
	Items    int               `json:"items"`
	Position *preload.Position `json:"position,omitempty"`
	Axis     string            `json:"axis,omitempty"`
}

// Status is a point-in-time snapshot of the session.
type Status struct {
	Background bool                   `json:"background"`
	Pool       playback.Status        `json:"pool"`
	Pressure   pressure.MonitorStats  `json:"pressure"`
	Preload    preload.SchedulerStats `json:"preload"`
	Sampler    *pressure.SamplerStats `json:"sampler,omitempty"`
	Feed       FeedStatus             `json:"feed"`
	Events     EventStats             `json:"events"`
}

package preload

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/jmylchreest/reelpool/internal/playback"
	"github.com/jmylchreest/reelpool/internal/pressure"
)

// ErrSchedulerClosed is returned after Close.
var ErrSchedulerClosed = errors.New("preload scheduler closed")

// ErrNoNavigation is returned by Replay before the first navigation.
var ErrNoNavigation = errors.New("no navigation to replay")

// Pool is the subset of the playback pool the scheduler drives.
type Pool interface {
	Ensure(ctx context.Context, id string, priority playback.Priority) (*playback.Handle, error)
	SetProtected(ids []string)
	SetWanted(ids []string)
}

// Scheduler submits preload plans to the pool. Each navigation supersedes
// the previous one: its protect list and wanted set replace the old ones, and
// callers still waiting on the previous generation are released.
type Scheduler struct {
	pool   Pool
	levels playback.LevelSource
	logger *slog.Logger

	mu      sync.Mutex
	closed  bool
	feed    Feed
	last    *Plan
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	counter SchedulerStats
}

// NewScheduler creates a new scheduler.
func NewScheduler(pool Pool, levels playback.LevelSource) *Scheduler {
	return &Scheduler{
		pool:   pool,
		levels: levels,
		logger: slog.Default(),
	}
}

// WithLogger sets a custom logger.
func (s *Scheduler) WithLogger(logger *slog.Logger) *Scheduler {
	if logger != nil {
		s.logger = logger
	}
	return s
}

// SetFeed replaces the feed snapshot used for subsequent navigations.
func (s *Scheduler) SetFeed(feed Feed) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.feed = feed
}

// Feed returns the current feed snapshot.
func (s *Scheduler) Feed() Feed {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.feed
}

// Navigate computes the plan for pos and submits it. It returns once the
// requests are submitted; constructions continue in the background.
func (s *Scheduler) Navigate(ctx context.Context, pos Position, axis Axis) (Plan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return Plan{}, ErrSchedulerClosed
	}

	plan, err := ComputePlan(s.feed, pos, axis)
	if err != nil {
		return Plan{}, err
	}

	s.submitLocked(ctx, plan)
	return plan, nil
}

// Replay resubmits the most recent navigation, recomputed against the
// current feed.
func (s *Scheduler) Replay(ctx context.Context) (Plan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return Plan{}, ErrSchedulerClosed
	}
	if s.last == nil {
		return Plan{}, ErrNoNavigation
	}

	plan, err := ComputePlan(s.feed, s.last.Position, s.last.Axis)
	if err != nil {
		return Plan{}, err
	}

	s.submitLocked(ctx, plan)
	return plan, nil
}

// submitLocked publishes the plan and starts its requests (must hold lock).
func (s *Scheduler) submitLocked(ctx context.Context, plan Plan) {
	if s.cancel != nil {
		s.cancel()
	}
	genCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel
	s.last = &plan

	s.pool.SetProtected(plan.Protected)
	s.pool.SetWanted(plan.Wanted())

	level := pressure.LevelNormal
	if s.levels != nil {
		level = s.levels.Level()
	}

	submitted := 0
	for _, req := range plan.Requests {
		if req.Priority == playback.PriorityLow && level != pressure.LevelNormal {
			s.counter.Deferred++
			continue
		}
		submitted++
		s.counter.Submitted++
		s.wg.Add(1)
		go s.run(genCtx, req)
	}

	s.logger.Debug("preload plan submitted",
		slog.String("position", plan.Position.String()),
		slog.String("axis", plan.Axis.String()),
		slog.String("current", plan.Current),
		slog.Int("submitted", submitted),
		slog.Int("protected", len(plan.Protected)),
		slog.String("pressure", level.String()))
}

func (s *Scheduler) run(ctx context.Context, req Request) {
	defer s.wg.Done()

	_, err := s.pool.Ensure(ctx, req.ID, req.Priority)

	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case err == nil:
		s.counter.Ready++
	case playback.IsSkip(err) || errors.Is(err, context.Canceled) || errors.Is(err, playback.ErrPoolClosed):
		s.counter.Skipped++
	default:
		s.counter.Failed++
		s.logger.Debug("preload failed",
			slog.String("item_id", req.ID),
			slog.String("priority", req.Priority.String()),
			slog.String("error", err.Error()))
	}
}

// Cancel releases callers waiting on the current generation. Constructions
// already running in the pool are not interrupted.
func (s *Scheduler) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}

// Wait blocks until every submitted request has resolved.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

// Last returns the most recent plan.
func (s *Scheduler) Last() (Plan, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return Plan{}, false
	}
	return *s.last, true
}

// Close cancels outstanding requests and waits for them to resolve.
func (s *Scheduler) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.mu.Unlock()

	s.wg.Wait()
}

// Stats returns scheduler counters.
func (s *Scheduler) Stats() SchedulerStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counter
}

// SchedulerStats holds scheduler counters.
type SchedulerStats struct {
	Submitted int `json:"submitted"`
	Deferred  int `json:"deferred"`
	Ready     int `json:"ready"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
}

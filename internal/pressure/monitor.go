package pressure

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Target is the set of capacity controls the monitor drives. The playback
// pool implements it.
type Target interface {
	ShrinkCapacity(n int)
	RestoreCapacity()
	DropPassiveCaches()
	ClearExceptCurrent() int
	CancelPreloads() int
}

// MonitorConfig holds configuration for the memory pressure monitor.
type MonitorConfig struct {
	// ElevatedCapacity is the pool capacity while Elevated.
	ElevatedCapacity int
	// CriticalCapacity is the pool capacity while Critical.
	CriticalCapacity int
	// EmergencyCapacity is the pool capacity while Emergency. It leaves room
	// for the currently playing handle and one on-demand load beside it.
	EmergencyCapacity int
	// BurstThreshold signals within BurstWindow escalate straight to Emergency.
	BurstThreshold int
	// BurstWindow is the sliding window for counting signals.
	BurstWindow time.Duration
	// QuietPeriod is how long without signals before the level resets to Normal.
	QuietPeriod time.Duration
	// OnLevelChange is called when the level changes.
	OnLevelChange func(from, to Level)
}

// DefaultMonitorConfig returns sensible defaults.
func DefaultMonitorConfig() MonitorConfig {
	return MonitorConfig{
		ElevatedCapacity:  4,
		CriticalCapacity:  2,
		EmergencyCapacity: 2,
		BurstThreshold:    3,
		BurstWindow:       10 * time.Second,
		QuietPeriod:       25 * time.Second,
	}
}

// Monitor is the four-level memory pressure state machine.
//
// Escalation is monotonic: a signal or Escalate call never lowers the level.
// The only way down is the quiet-period timer (or Reset), which returns
// straight to Normal and restores the pool's default capacity.
type Monitor struct {
	config MonitorConfig
	target Target
	logger *slog.Logger

	level atomic.Int32
	// transition counts level changes; an action runs only for the latest.
	transition atomic.Uint64

	mu             sync.Mutex
	closed         bool
	signals        []time.Time
	timer          *time.Timer
	generation     uint64
	lastSignal     time.Time
	lastTransition time.Time
	escalations    int
	recoveries     int

	// actionMu serialises capacity actions so that an action computed for an
	// older level never runs after a newer one.
	actionMu sync.Mutex

	now func() time.Time
}

// NewMonitor creates a new monitor driving target.
func NewMonitor(config MonitorConfig, target Target) *Monitor {
	defaults := DefaultMonitorConfig()
	if config.ElevatedCapacity <= 0 {
		config.ElevatedCapacity = defaults.ElevatedCapacity
	}
	if config.CriticalCapacity <= 0 {
		config.CriticalCapacity = defaults.CriticalCapacity
	}
	if config.EmergencyCapacity <= 0 {
		config.EmergencyCapacity = defaults.EmergencyCapacity
	}
	if config.BurstThreshold <= 0 {
		config.BurstThreshold = defaults.BurstThreshold
	}
	if config.BurstWindow <= 0 {
		config.BurstWindow = defaults.BurstWindow
	}
	if config.QuietPeriod <= 0 {
		config.QuietPeriod = defaults.QuietPeriod
	}

	return &Monitor{
		config:         config,
		target:         target,
		logger:         slog.Default(),
		lastTransition: time.Now(),
		now:            time.Now,
	}
}

// WithLogger sets a custom logger.
func (m *Monitor) WithLogger(logger *slog.Logger) *Monitor {
	if logger != nil {
		m.logger = logger
	}
	return m
}

// Level returns the current pressure level. It never blocks.
func (m *Monitor) Level() Level {
	return Level(m.level.Load())
}

// Signal records an operating system memory notification and escalates.
func (m *Monitor) Signal(sig Signal) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}

	now := m.now()
	m.lastSignal = now
	m.signals = append(m.signals, now)
	m.pruneLocked(now)

	to := sig.level()
	if len(m.signals) >= m.config.BurstThreshold {
		to = LevelEmergency
	}

	from, changed := m.raiseLocked(to)
	m.armQuietTimerLocked()
	recent := len(m.signals)
	seq := m.transition.Load()
	m.mu.Unlock()

	m.logger.Debug("memory pressure signal",
		slog.String("signal", sig.String()),
		slog.Int("recent_signals", recent),
		slog.String("level", m.Level().String()))

	if changed {
		m.applyEscalation(from, to, seq)
	}
}

// Escalate raises the level to at least to. A level at or below the current
// one is a no-op.
func (m *Monitor) Escalate(to Level) bool {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return false
	}
	from, changed := m.raiseLocked(to)
	if changed {
		m.armQuietTimerLocked()
	}
	seq := m.transition.Load()
	m.mu.Unlock()

	if changed {
		m.applyEscalation(from, to, seq)
	}
	return changed
}

// Reset returns to Normal immediately and restores capacity.
func (m *Monitor) Reset() {
	m.mu.Lock()
	m.generation++
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	m.signals = nil
	changed := m.lowerLocked()
	m.mu.Unlock()

	if changed {
		m.applyRecovery()
	}
}

// pruneLocked drops signals that fell out of the burst window (must hold lock).
func (m *Monitor) pruneLocked(now time.Time) {
	cutoff := now.Add(-m.config.BurstWindow)
	keep := m.signals[:0]
	for _, t := range m.signals {
		if t.After(cutoff) {
			keep = append(keep, t)
		}
	}
	m.signals = keep
}

// raiseLocked moves the level up to to (must hold lock).
func (m *Monitor) raiseLocked(to Level) (Level, bool) {
	from := m.Level()
	if to <= from {
		return from, false
	}
	m.level.Store(int32(to))
	m.transition.Add(1)
	m.lastTransition = m.now()
	m.escalations++
	m.notify(from, to)
	return from, true
}

// lowerLocked resets the level to Normal (must hold lock).
func (m *Monitor) lowerLocked() bool {
	from := m.Level()
	if from == LevelNormal {
		return false
	}
	m.level.Store(int32(LevelNormal))
	m.transition.Add(1)
	m.lastTransition = m.now()
	m.recoveries++
	m.notify(from, LevelNormal)
	return true
}

func (m *Monitor) notify(from, to Level) {
	if m.config.OnLevelChange != nil {
		go m.config.OnLevelChange(from, to)
	}
}

// armQuietTimerLocked (re)starts the de-escalation timer (must hold lock).
func (m *Monitor) armQuietTimerLocked() {
	m.generation++
	gen := m.generation
	if m.timer != nil {
		m.timer.Stop()
	}
	m.timer = time.AfterFunc(m.config.QuietPeriod, func() {
		m.quiet(gen)
	})
}

// quiet fires after QuietPeriod without new signals.
func (m *Monitor) quiet(gen uint64) {
	m.mu.Lock()
	if m.closed || gen != m.generation {
		m.mu.Unlock()
		return
	}
	m.timer = nil
	m.signals = nil
	changed := m.lowerLocked()
	m.mu.Unlock()

	if changed {
		m.applyRecovery()
	}
}

// applyEscalation runs the action for transition seq (from -> to) once. A
// transition already superseded by a later one is skipped; the later one
// runs its own action, and actions are cumulative.
func (m *Monitor) applyEscalation(from, to Level, seq uint64) {
	m.actionMu.Lock()
	defer m.actionMu.Unlock()

	if m.target == nil {
		return
	}
	if m.transition.Load() != seq {
		m.logger.Debug("skipping superseded pressure action",
			slog.String("to", to.String()),
			slog.String("level", m.Level().String()))
		return
	}

	m.logger.Warn("memory pressure escalated",
		slog.String("from", from.String()),
		slog.String("to", to.String()))

	switch to {
	case LevelElevated:
		m.target.ShrinkCapacity(m.config.ElevatedCapacity)
		m.target.DropPassiveCaches()

	case LevelCritical:
		m.target.ShrinkCapacity(m.config.CriticalCapacity)
		m.target.DropPassiveCaches()
		evicted := m.target.ClearExceptCurrent()
		m.logger.Debug("discarded non-current handles", slog.Int("evicted", evicted))

	case LevelEmergency:
		cancelled := m.target.CancelPreloads()
		m.target.ShrinkCapacity(m.config.EmergencyCapacity)
		m.target.DropPassiveCaches()
		evicted := m.target.ClearExceptCurrent()
		m.logger.Debug("shed preloads and non-current handles",
			slog.Int("cancelled", cancelled),
			slog.Int("evicted", evicted))
	}
}

func (m *Monitor) applyRecovery() {
	m.actionMu.Lock()
	defer m.actionMu.Unlock()

	if m.Level() != LevelNormal || m.target == nil {
		return
	}
	m.target.RestoreCapacity()
	m.logger.Info("memory pressure cleared, capacity restored")
}

// Stats returns current monitor statistics.
func (m *Monitor) Stats() MonitorStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.pruneLocked(m.now())
	return MonitorStats{
		Level:          m.Level().String(),
		RecentSignals:  len(m.signals),
		LastSignal:     m.lastSignal,
		LastTransition: m.lastTransition,
		Escalations:    m.escalations,
		Recoveries:     m.recoveries,
		QuietPending:   m.timer != nil,
	}
}

// Close stops the quiet-period timer. Signals after Close are ignored.
func (m *Monitor) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	m.generation++
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

// MonitorStats holds monitor statistics.
type MonitorStats struct {
	Level          string    `json:"level"`
	RecentSignals  int       `json:"recent_signals"`
	LastSignal     time.Time `json:"last_signal,omitempty"`
	LastTransition time.Time `json:"last_transition"`
	Escalations    int       `json:"escalations"`
	Recoveries     int       `json:"recoveries"`
	QuietPending   bool      `json:"quiet_pending"`
}

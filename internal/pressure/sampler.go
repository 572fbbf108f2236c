package pressure

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/shirou/gopsutil/v4/mem"
)

// SignalSink receives memory signals. Monitor implements it.
type SignalSink interface {
	Signal(sig Signal)
}

// MemoryReader returns available and total system memory in bytes.
type MemoryReader func(ctx context.Context) (available, total uint64, err error)

// VirtualMemory reads system memory with gopsutil.
func VirtualMemory(ctx context.Context) (uint64, uint64, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("reading virtual memory: %w", err)
	}
	return vm.Available, vm.Total, nil
}

// SamplerConfig holds configuration for the memory sampler.
type SamplerConfig struct {
	// Schedule is a cron expression or descriptor such as "@every 5s".
	Schedule string
	// WarningAvailable emits a warning signal when available memory drops below it.
	WarningAvailable uint64
	// CriticalAvailable emits a critical signal when available memory drops below it.
	CriticalAvailable uint64
	// Timeout bounds a single read.
	Timeout time.Duration
}

// DefaultSamplerConfig returns sensible defaults.
func DefaultSamplerConfig() SamplerConfig {
	return SamplerConfig{
		Schedule:          "@every 5s",
		WarningAvailable:  512 << 20,
		CriticalAvailable: 256 << 20,
		Timeout:           2 * time.Second,
	}
}

// Sampler polls system memory on a cron schedule and turns low readings into
// signals, standing in for the platform's low-memory notifications.
type Sampler struct {
	config SamplerConfig
	sink   SignalSink
	read   MemoryReader
	logger *slog.Logger
	parser cron.Parser

	mu            sync.Mutex
	cron          *cron.Cron
	stop          chan struct{}
	watcher       chan struct{}
	lastAvailable uint64
	lastTotal     uint64
	lastSample    time.Time
}

// NewSampler creates a sampler that signals sink.
func NewSampler(config SamplerConfig, sink SignalSink) *Sampler {
	defaults := DefaultSamplerConfig()
	if config.Schedule == "" {
		config.Schedule = defaults.Schedule
	}
	if config.Timeout <= 0 {
		config.Timeout = defaults.Timeout
	}
	return &Sampler{
		config: config,
		sink:   sink,
		read:   VirtualMemory,
		logger: slog.Default(),
		parser: cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
	}
}

// WithLogger sets a custom logger.
func (s *Sampler) WithLogger(logger *slog.Logger) *Sampler {
	if logger != nil {
		s.logger = logger
	}
	return s
}

// WithReader replaces the memory reader.
func (s *Sampler) WithReader(read MemoryReader) *Sampler {
	if read != nil {
		s.read = read
	}
	return s
}

// ValidateSchedule checks a schedule expression.
func (s *Sampler) ValidateSchedule(schedule string) error {
	if _, err := s.parser.Parse(schedule); err != nil {
		return fmt.Errorf("invalid sampler schedule %q: %w", schedule, err)
	}
	return nil
}

// Sample reads memory once and emits a signal if a threshold is crossed.
func (s *Sampler) Sample(ctx context.Context) (Signal, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.config.Timeout)
	defer cancel()

	available, total, err := s.read(ctx)
	if err != nil {
		return 0, false, err
	}

	s.mu.Lock()
	s.lastAvailable = available
	s.lastTotal = total
	s.lastSample = time.Now()
	s.mu.Unlock()

	var sig Signal
	switch {
	case s.config.CriticalAvailable > 0 && available < s.config.CriticalAvailable:
		sig = SignalCritical
	case s.config.WarningAvailable > 0 && available < s.config.WarningAvailable:
		sig = SignalWarning
	default:
		return 0, false, nil
	}

	s.logger.Debug("low memory sampled",
		slog.Uint64("available_bytes", available),
		slog.Uint64("total_bytes", total),
		slog.String("signal", sig.String()))

	if s.sink != nil {
		s.sink.Signal(sig)
	}
	return sig, true, nil
}

// Start schedules sampling until ctx is cancelled or Stop is called.
func (s *Sampler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron != nil {
		return fmt.Errorf("sampler already started")
	}
	if err := s.ValidateSchedule(s.config.Schedule); err != nil {
		return err
	}

	c := cron.New(cron.WithParser(s.parser))
	if _, err := c.AddFunc(s.config.Schedule, func() {
		if _, _, err := s.Sample(ctx); err != nil {
			s.logger.Warn("memory sample failed", slog.String("error", err.Error()))
		}
	}); err != nil {
		return fmt.Errorf("scheduling memory sampler: %w", err)
	}
	c.Start()
	s.cron = c

	stop := make(chan struct{})
	watcher := make(chan struct{})
	s.stop = stop
	s.watcher = watcher
	go func() {
		defer close(watcher)
		select {
		case <-ctx.Done():
			s.Stop()
		case <-stop:
		}
	}()

	s.logger.Info("memory sampler started",
		slog.String("schedule", s.config.Schedule),
		slog.Uint64("warning_available_bytes", s.config.WarningAvailable),
		slog.Uint64("critical_available_bytes", s.config.CriticalAvailable))
	return nil
}

// Stop halts sampling and waits for a running sample to finish.
func (s *Sampler) Stop() {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	if s.stop != nil {
		close(s.stop)
		s.stop = nil
	}
	s.mu.Unlock()

	if c == nil {
		return
	}
	<-c.Stop().Done()
	s.logger.Info("memory sampler stopped")
}

// Stats returns the most recent reading.
func (s *Sampler) Stats() SamplerStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SamplerStats{
		Running:        s.cron != nil,
		AvailableBytes: s.lastAvailable,
		TotalBytes:     s.lastTotal,
		LastSample:     s.lastSample,
	}
}

// SamplerStats holds sampler statistics.
type SamplerStats struct {
	Running        bool      `json:"running"`
	AvailableBytes uint64    `json:"available_bytes"`
	TotalBytes     uint64    `json:"total_bytes"`
	LastSample     time.Time `json:"last_sample,omitempty"`
}

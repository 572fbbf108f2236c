package pressure

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	mu      sync.Mutex
	signals []Signal
}

func (r *recordingSink) Signal(sig Signal) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.signals = append(r.signals, sig)
}

func (r *recordingSink) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.signals)
}

func fixedReader(available uint64) MemoryReader {
	return func(context.Context) (uint64, uint64, error) {
		return available, 8 << 30, nil
	}
}

func TestSampler_Thresholds(t *testing.T) {
	tests := []struct {
		name      string
		available uint64
		want      Signal
		signalled bool
	}{
		{name: "plenty", available: 4 << 30},
		{name: "warning", available: 400 << 20, want: SignalWarning, signalled: true},
		{name: "critical", available: 100 << 20, want: SignalCritical, signalled: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sink := &recordingSink{}
			s := NewSampler(DefaultSamplerConfig(), sink).WithReader(fixedReader(tt.available))

			sig, ok, err := s.Sample(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tt.signalled, ok)
			if tt.signalled {
				assert.Equal(t, tt.want, sig)
				assert.Equal(t, 1, sink.count())
			} else {
				assert.Equal(t, 0, sink.count())
			}
			assert.Equal(t, tt.available, s.Stats().AvailableBytes)
		})
	}
}

func TestSampler_ReadError(t *testing.T) {
	sink := &recordingSink{}
	boom := errors.New("no /proc")
	s := NewSampler(DefaultSamplerConfig(), sink).WithReader(func(context.Context) (uint64, uint64, error) {
		return 0, 0, boom
	})

	_, ok, err := s.Sample(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.False(t, ok)
	assert.Equal(t, 0, sink.count())
}

func TestSampler_ScheduleValidation(t *testing.T) {
	s := NewSampler(DefaultSamplerConfig(), nil)
	assert.NoError(t, s.ValidateSchedule("@every 5s"))
	assert.NoError(t, s.ValidateSchedule("*/10 * * * * *"))
	assert.NoError(t, s.ValidateSchedule("*/2 * * * *"))
	assert.Error(t, s.ValidateSchedule("every now and then"))

	cfg := DefaultSamplerConfig()
	cfg.Schedule = "bogus"
	assert.Error(t, NewSampler(cfg, nil).Start(context.Background()))
}

func TestSampler_StartFeedsMonitor(t *testing.T) {
	target := newFakeTarget()
	m := NewMonitor(testMonitorConfig(), target)
	defer m.Close()

	cfg := DefaultSamplerConfig()
	cfg.Schedule = "@every 1s"
	s := NewSampler(cfg, m).WithReader(fixedReader(100 << 20))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, s.Start(ctx))
	assert.Error(t, s.Start(ctx), "second start is rejected")

	require.Eventually(t, func() bool { return m.Level() >= LevelCritical }, 3*time.Second, 10*time.Millisecond)

	s.Stop()
	assert.False(t, s.Stats().Running)
}

func TestSampler_StopReleasesContextWatcher(t *testing.T) {
	s := NewSampler(DefaultSamplerConfig(), nil).WithReader(fixedReader(8 << 30))
	require.NoError(t, s.Start(context.Background()))

	s.mu.Lock()
	watcher := s.watcher
	s.mu.Unlock()

	s.Stop()
	select {
	case <-watcher:
	case <-time.After(time.Second):
		t.Fatal("context watcher still running after Stop")
	}

	s.Stop()
	require.NoError(t, s.Start(context.Background()), "restart after stop")
	s.Stop()
}

func TestSampler_ContextCancelStops(t *testing.T) {
	s := NewSampler(DefaultSamplerConfig(), nil).WithReader(fixedReader(8 << 30))
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, s.Start(ctx))

	cancel()
	require.Eventually(t, func() bool { return !s.Stats().Running }, time.Second, 5*time.Millisecond)
}

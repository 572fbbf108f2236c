package playback

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/reelpool/internal/player/playertest"
)

func fastProbe() ProbeConfig {
	return ProbeConfig{Interval: time.Millisecond, MaxAttempts: 5, MinBufferedSeconds: 1.0}
}

func TestProbe_PassesWhenBuffered(t *testing.T) {
	p := playertest.ReadyPlayer(1.5)

	var progress []float64
	res, err := Probe(context.Background(), p, fastProbe(), func(f float64) {
		progress = append(progress, f)
	})
	require.NoError(t, err)
	assert.False(t, res.Weak)
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, []float64{1}, progress)
}

func TestProbe_WeakPassWhenReadyButThin(t *testing.T) {
	p := playertest.ReadyPlayer(0.25)

	var last float64
	res, err := Probe(context.Background(), p, fastProbe(), func(f float64) { last = f })
	require.NoError(t, err)
	assert.True(t, res.Weak)
	assert.Equal(t, 5, res.Attempts)
	assert.InDelta(t, 0.25, last, 0.0001)
}

func TestProbe_TimesOutWithoutReadiness(t *testing.T) {
	p := playertest.NewPlayer()
	p.SetBuffered(3)

	_, err := Probe(context.Background(), p, fastProbe(), nil)
	assert.ErrorIs(t, err, ErrReadinessTimeout)
}

func TestProbe_FailsOnPlayerError(t *testing.T) {
	boom := errors.New("decoder exploded")
	p := playertest.FailingPlayer(boom)

	_, err := Probe(context.Background(), p, fastProbe(), nil)
	assert.ErrorIs(t, err, ErrConstructionFailed)
	assert.ErrorIs(t, err, boom)
}

func TestProbe_BecomesReadyLater(t *testing.T) {
	p := playertest.NewPlayer()
	go func() {
		time.Sleep(5 * time.Millisecond)
		p.SetBuffered(2)
		p.SetReady(true)
	}()

	cfg := ProbeConfig{Interval: time.Millisecond, MaxAttempts: 2000, MinBufferedSeconds: 1.0}
	res, err := Probe(context.Background(), p, cfg, nil)
	require.NoError(t, err)
	assert.False(t, res.Weak)
	assert.Greater(t, res.Attempts, 1)
}

func TestProbe_ContextCancel(t *testing.T) {
	p := playertest.NewPlayer()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	cfg := ProbeConfig{Interval: 10 * time.Millisecond, MaxAttempts: 100, MinBufferedSeconds: 1.0}
	_, err := Probe(ctx, p, cfg, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestProgressFraction(t *testing.T) {
	assert.Equal(t, 0.0, progressFraction(0, 1))
	assert.Equal(t, 0.5, progressFraction(0.5, 1))
	assert.Equal(t, 1.0, progressFraction(4, 1))
	assert.Equal(t, 1.0, progressFraction(0, 0))
	assert.Equal(t, 0.0, progressFraction(-1, 1))
}

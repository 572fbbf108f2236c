package playback

import (
	"context"
	"fmt"
	"time"

	"github.com/jmylchreest/reelpool/internal/player"
)

// ProbeConfig holds configuration for the readiness probe.
type ProbeConfig struct {
	// Interval is the polling interval.
	Interval time.Duration
	// MaxAttempts bounds the number of polls.
	MaxAttempts int
	// MinBufferedSeconds is the buffer required for a full pass.
	MinBufferedSeconds float64
}

// DefaultProbeConfig returns sensible defaults (7 seconds total budget).
func DefaultProbeConfig() ProbeConfig {
	return ProbeConfig{
		Interval:           100 * time.Millisecond,
		MaxAttempts:        70,
		MinBufferedSeconds: 1.0,
	}
}

// ProbeResult describes a successful probe.
type ProbeResult struct {
	// Weak is true when the object was ready but never reached the minimum buffer.
	Weak bool
	// Attempts is the number of polls performed.
	Attempts int
	// BufferedSeconds is the buffer observed on the final poll.
	BufferedSeconds float64
}

// Probe polls a freshly constructed player until it is playable.
//
// A pass requires the player to be ready with at least MinBufferedSeconds
// buffered. If the budget runs out while the player is ready but thinly
// buffered, the probe still passes (weakly). It fails when the player reports
// an error, or when the budget runs out without readiness ever being
// observed. The caller owns the player and must close it on failure.
func Probe(ctx context.Context, p player.Player, cfg ProbeConfig, onProgress func(float64)) (ProbeResult, error) {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultProbeConfig().Interval
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}

	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()

	var (
		sawReady bool
		buffered float64
	)

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if err := p.Err(); err != nil {
			return ProbeResult{Attempts: attempt}, fmt.Errorf("%w: %w", ErrConstructionFailed, err)
		}

		buffered = p.BufferedSeconds()
		if onProgress != nil {
			onProgress(progressFraction(buffered, cfg.MinBufferedSeconds))
		}

		if p.IsReady() {
			sawReady = true
			if buffered >= cfg.MinBufferedSeconds {
				return ProbeResult{Attempts: attempt, BufferedSeconds: buffered}, nil
			}
		}

		if attempt == cfg.MaxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return ProbeResult{Attempts: attempt}, ctx.Err()
		case <-ticker.C:
		}
	}

	if err := p.Err(); err != nil {
		return ProbeResult{Attempts: cfg.MaxAttempts}, fmt.Errorf("%w: %w", ErrConstructionFailed, err)
	}
	if sawReady || p.IsReady() {
		return ProbeResult{Weak: true, Attempts: cfg.MaxAttempts, BufferedSeconds: buffered}, nil
	}

	return ProbeResult{Attempts: cfg.MaxAttempts}, fmt.Errorf("%w after %d attempts", ErrReadinessTimeout, cfg.MaxAttempts)
}

func progressFraction(buffered, minimum float64) float64 {
	if minimum <= 0 {
		return 1
	}
	f := buffered / minimum
	if f > 1 {
		return 1
	}
	if f < 0 {
		return 0
	}
	return f
}

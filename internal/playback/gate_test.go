package playback

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGate_AcquireWithinLimit(t *testing.T) {
	g := NewGate(GateConfig{MaxConcurrent: 2})
	ctx := context.Background()

	r1, err := g.Acquire(ctx, "a", PriorityNormal)
	require.NoError(t, err)
	r2, err := g.Acquire(ctx, "b", PriorityNormal)
	require.NoError(t, err)

	assert.Equal(t, 2, g.Stats().Active)

	r1()
	r1() // second call is a no-op
	assert.Equal(t, 1, g.Stats().Active)
	r2()
	assert.Equal(t, 0, g.Stats().Active)
}

func TestGate_QueuesInFIFOOrder(t *testing.T) {
	g := NewGate(GateConfig{MaxConcurrent: 1})
	ctx := context.Background()

	release, err := g.Acquire(ctx, "first", PriorityHigh)
	require.NoError(t, err)

	var (
		mu    sync.Mutex
		order []string
		wg    sync.WaitGroup
	)
	for _, id := range []string{"b", "c", "d"} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			r, err := g.Acquire(ctx, id, PriorityNormal)
			if err != nil {
				return
			}
			mu.Lock()
			order = append(order, id)
			mu.Unlock()
			r()
		}(id)
		// Enqueue deterministically
		require.Eventually(t, func() bool { return g.IsQueued(id) }, time.Second, time.Millisecond)
	}

	assert.Equal(t, []string{"b", "c", "d"}, g.Stats().Queued)

	release()
	wg.Wait()

	assert.Equal(t, []string{"b", "c", "d"}, order)
}

func TestGate_DuplicateQueuedID(t *testing.T) {
	g := NewGate(GateConfig{MaxConcurrent: 1})
	ctx := context.Background()

	release, err := g.Acquire(ctx, "busy", PriorityNormal)
	require.NoError(t, err)
	defer release()

	go func() {
		_, _ = g.Acquire(ctx, "x", PriorityNormal)
	}()
	require.Eventually(t, func() bool { return g.IsQueued("x") }, time.Second, time.Millisecond)

	_, err = g.Acquire(ctx, "x", PriorityNormal)
	assert.ErrorIs(t, err, ErrAlreadyInFlight)
	g.Close()
}

func TestGate_StaleRequestsDroppedAtDispatch(t *testing.T) {
	wanted := map[string]bool{"keep": true}
	var mu sync.Mutex
	g := NewGate(GateConfig{
		MaxConcurrent: 1,
		Stale: func(id string, _ Priority) bool {
			mu.Lock()
			defer mu.Unlock()
			return !wanted[id]
		},
	})
	ctx := context.Background()

	release, err := g.Acquire(ctx, "running", PriorityNormal)
	require.NoError(t, err)

	results := make(chan error, 2)
	for _, id := range []string{"gone", "keep"} {
		go func(id string) {
			r, err := g.Acquire(ctx, id, PriorityNormal)
			if err == nil {
				r()
			}
			results <- err
		}(id)
		require.Eventually(t, func() bool { return g.IsQueued(id) }, time.Second, time.Millisecond)
	}

	release()

	var errs []error
	for i := 0; i < 2; i++ {
		errs = append(errs, <-results)
	}
	stale := 0
	for _, err := range errs {
		if errors.Is(err, ErrStale) {
			stale++
		} else {
			assert.NoError(t, err)
		}
	}
	assert.Equal(t, 1, stale)
	assert.Equal(t, 0, g.Stats().Active)
}

func TestGate_ContextCancelRemovesWaiter(t *testing.T) {
	g := NewGate(GateConfig{MaxConcurrent: 1})

	release, err := g.Acquire(context.Background(), "busy", PriorityNormal)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = g.Acquire(ctx, "late", PriorityNormal)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, g.IsQueued("late"))

	release()
	assert.Equal(t, 0, g.Stats().Active)
}

func TestGate_CancelQueuedKeepsSelected(t *testing.T) {
	g := NewGate(GateConfig{MaxConcurrent: 1})
	ctx := context.Background()

	release, err := g.Acquire(ctx, "busy", PriorityNormal)
	require.NoError(t, err)

	results := make(map[string]chan error)
	for _, id := range []string{"a", "current", "b"} {
		ch := make(chan error, 1)
		results[id] = ch
		go func(id string) {
			r, err := g.Acquire(ctx, id, PriorityNormal)
			if err == nil {
				r()
			}
			ch <- err
		}(id)
		require.Eventually(t, func() bool { return g.IsQueued(id) }, time.Second, time.Millisecond)
	}

	dropped := g.CancelQueued(func(id string, _ Priority) bool { return id == "current" })
	assert.Equal(t, 2, dropped)
	assert.ErrorIs(t, <-results["a"], ErrCancelled)
	assert.ErrorIs(t, <-results["b"], ErrCancelled)

	release()
	assert.NoError(t, <-results["current"])
}

func TestGate_CloseReleasesWaiters(t *testing.T) {
	g := NewGate(GateConfig{MaxConcurrent: 1})
	ctx := context.Background()

	_, err := g.Acquire(ctx, "busy", PriorityNormal)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := g.Acquire(ctx, "waiting", PriorityNormal)
		done <- err
	}()
	require.Eventually(t, func() bool { return g.IsQueued("waiting") }, time.Second, time.Millisecond)

	g.Close()
	assert.ErrorIs(t, <-done, ErrGateClosed)

	_, err = g.Acquire(ctx, "after", PriorityNormal)
	assert.ErrorIs(t, err, ErrGateClosed)
}

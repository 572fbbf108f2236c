// Package playertest provides scriptable in-memory players for tests.
package playertest

import (
	"context"
	"sync"

	"github.com/jmylchreest/reelpool/internal/player"
)

// Player is a fake player whose readiness and buffer are set by the test.
type Player struct {
	mu       sync.Mutex
	ready    bool
	buffered float64
	err      error
	paused   bool
	closed   bool
	closes   int
	seeks    int
}

// NewPlayer returns a player that is not yet ready.
func NewPlayer() *Player {
	return &Player{}
}

// ReadyPlayer returns a player that is ready with the given buffer.
func ReadyPlayer(buffered float64) *Player {
	return &Player{ready: true, buffered: buffered}
}

// FailingPlayer returns a player that reports err.
func FailingPlayer(err error) *Player {
	return &Player{err: err}
}

// SetReady sets readiness.
func (p *Player) SetReady(ready bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ready = ready
}

// SetBuffered sets the buffered duration.
func (p *Player) SetBuffered(seconds float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.buffered = seconds
}

// Fail makes the player report err.
func (p *Player) Fail(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

func (p *Player) IsReady() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ready && !p.closed
}

func (p *Player) BufferedSeconds() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.buffered
}

func (p *Player) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

func (p *Player) Pause() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.paused = true
}

func (p *Player) SeekToStart() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seeks++
	p.paused = false
}

func (p *Player) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	p.closes++
	return nil
}

// Paused reports whether Pause was called since the last seek.
func (p *Player) Paused() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.paused
}

// Closed reports whether Close was called.
func (p *Player) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// Seeks returns the number of SeekToStart calls.
func (p *Player) Seeks() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.seeks
}

// Opener is a fake opener that records calls and can hold constructions open.
type Opener struct {
	// Build creates the player for id. The default builds a ready player with
	// two seconds buffered.
	Build func(id string) (*Player, error)

	mu        sync.Mutex
	calls     map[string]int
	players   map[string][]*Player
	holds     map[string]chan struct{}
	active    int
	maxActive int
}

var _ player.Opener = (*Opener)(nil)

// NewOpener creates a fake opener.
func NewOpener() *Opener {
	return &Opener{
		calls:   make(map[string]int),
		players: make(map[string][]*Player),
		holds:   make(map[string]chan struct{}),
	}
}

// Hold makes Open for id block until Release(id) or context cancellation.
func (o *Opener) Hold(ids ...string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, id := range ids {
		if _, ok := o.holds[id]; !ok {
			o.holds[id] = make(chan struct{})
		}
	}
}

// Release unblocks Open for id.
func (o *Opener) Release(id string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if ch, ok := o.holds[id]; ok {
		close(ch)
		delete(o.holds, id)
	}
}

// Open implements player.Opener.
func (o *Opener) Open(ctx context.Context, id, _ string) (player.Player, error) {
	o.mu.Lock()
	o.calls[id]++
	o.active++
	if o.active > o.maxActive {
		o.maxActive = o.active
	}
	hold := o.holds[id]
	o.mu.Unlock()

	defer func() {
		o.mu.Lock()
		o.active--
		o.mu.Unlock()
	}()

	if hold != nil {
		select {
		case <-hold:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	build := o.Build
	if build == nil {
		build = func(string) (*Player, error) { return ReadyPlayer(2), nil }
	}
	p, err := build(id)
	if err != nil {
		return nil, err
	}

	o.mu.Lock()
	o.players[id] = append(o.players[id], p)
	o.mu.Unlock()
	return p, nil
}

// Calls returns the number of Open calls for id.
func (o *Opener) Calls(id string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.calls[id]
}

// TotalCalls returns the number of Open calls for every id.
func (o *Opener) TotalCalls() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	n := 0
	for _, c := range o.calls {
		n += c
	}
	return n
}

// Last returns the most recent player built for id.
func (o *Opener) Last(id string) *Player {
	o.mu.Lock()
	defer o.mu.Unlock()
	ps := o.players[id]
	if len(ps) == 0 {
		return nil
	}
	return ps[len(ps)-1]
}

// Active returns the number of Open calls in progress.
func (o *Opener) Active() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.active
}

// MaxActive returns the peak number of concurrent Open calls.
func (o *Opener) MaxActive() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.maxActive
}

// Package player defines the capability interface the playback pool uses to
// drive native playback objects, along with the stream backends that
// implement it.
package player

import (
	"context"
	"errors"
)

// ErrUnsupportedLocation is returned when no backend can open a location.
var ErrUnsupportedLocation = errors.New("unsupported media location")

// ErrClosed is reported by a player that has been closed.
var ErrClosed = errors.New("player closed")

// Player is a single native playback object.
//
// Implementations must be safe for concurrent use: the readiness probe polls
// IsReady/BufferedSeconds/Err from its own goroutine while the pool may call
// Pause or Close.
type Player interface {
	// IsReady reports whether the object can start presenting media.
	IsReady() bool

	// BufferedSeconds returns how much media is buffered ahead of the playhead.
	BufferedSeconds() float64

	// Err returns a terminal failure, or nil while the object is healthy.
	Err() error

	// Pause halts playback and any further buffering.
	Pause()

	// SeekToStart moves the playhead back to the beginning of the media.
	SeekToStart()

	// Close releases every resource held by the object. It is idempotent.
	Close() error
}

// Opener constructs players from resolved media locations.
type Opener interface {
	Open(ctx context.Context, id, location string) (Player, error)
}

// OpenerFunc adapts a function to the Opener interface.
type OpenerFunc func(ctx context.Context, id, location string) (Player, error)

// Open calls f.
func (f OpenerFunc) Open(ctx context.Context, id, location string) (Player, error) {
	return f(ctx, id, location)
}

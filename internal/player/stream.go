package player

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h265"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/mpegts"
)

// ErrNoPlayableTrack is reported when a stream carries no supported track.
var ErrNoPlayableTrack = errors.New("no playable track in stream")

// ErrNoRandomAccess is reported when a stream ends before its first keyframe.
var ErrNoRandomAccess = errors.New("stream ended before first random access unit")

// errStopped unwinds the demux loop on close or rewind.
var errStopped = errors.New("stream stopped")

// mpegtsClockRate is the PTS clock rate of MPEG-TS streams.
const mpegtsClockRate = 90000

// sourceFunc opens the byte stream behind a player. It is called again on
// every rewind.
type sourceFunc func(ctx context.Context) (io.ReadCloser, error)

// streamPlayer buffers an MPEG-TS stream ahead of a virtual playhead.
//
// It becomes ready once the program tables have been parsed and the first
// random access unit has arrived. Buffered duration is the PTS span demuxed
// since that unit. Demuxing stops when MaxBufferSeconds are buffered or the
// player is paused, and resumes after a rewind.
type streamPlayer struct {
	id        string
	open      sourceFunc
	maxBuffer float64
	logger    *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu       sync.Mutex
	cond     *sync.Cond
	src      io.ReadCloser
	ready    bool
	complete bool
	hasVideo bool
	firstPTS int64
	lastPTS  int64
	err      error
	paused   bool
	closed   bool
	rewind   bool
	tracks   []string
}

func newStreamPlayer(id string, open sourceFunc, maxBuffer float64, logger *slog.Logger) *streamPlayer {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &streamPlayer{
		id:        id,
		open:      open,
		maxBuffer: maxBuffer,
		logger:    logger.With(slog.String("item_id", id)),
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// start launches the demux loop.
func (p *streamPlayer) start() {
	go p.run()
}

func (p *streamPlayer) run() {
	defer close(p.done)

	for {
		src, err := p.open(p.ctx)
		if err != nil {
			if p.ctx.Err() == nil {
				p.fail(fmt.Errorf("opening source: %w", err))
			}
			return
		}

		if !p.setSource(src) {
			src.Close()
			return
		}

		err = p.demux(src)
		src.Close()

		if p.ctx.Err() != nil {
			return
		}
		if p.consumeRewind() {
			continue
		}

		if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, errStopped) {
			p.fail(err)
			return
		}
		p.finish()
		return
	}
}

func (p *streamPlayer) demux(src io.Reader) error {
	r := &mpegts.Reader{R: src}
	if err := r.Initialize(); err != nil {
		return fmt.Errorf("initializing mpegts reader: %w", err)
	}

	var names []string
	hasVideo := false
	for _, track := range r.Tracks() {
		switch track.Codec.(type) {
		case *mpegts.CodecH264:
			hasVideo = true
			names = append(names, "h264")
			r.OnDataH264(track, func(pts, _ int64, au [][]byte) error {
				return p.onUnit(pts, h264.IsRandomAccess(au))
			})

		case *mpegts.CodecH265:
			hasVideo = true
			names = append(names, "h265")
			r.OnDataH265(track, func(pts, _ int64, au [][]byte) error {
				return p.onUnit(pts, h265.IsRandomAccess(au))
			})

		case *mpegts.CodecMPEG4Audio:
			names = append(names, "aac")
			r.OnDataMPEG4Audio(track, func(pts int64, _ [][]byte) error {
				return p.onAudio(pts)
			})
		}
	}
	if len(names) == 0 {
		return ErrNoPlayableTrack
	}

	p.mu.Lock()
	p.hasVideo = hasVideo
	p.tracks = names
	p.mu.Unlock()

	r.OnDecodeError(func(err error) {
		p.logger.Debug("MPEG-TS decode error", slog.String("error", err.Error()))
	})

	for {
		if err := r.Read(); err != nil {
			return err
		}
	}
}

func (p *streamPlayer) onAudio(pts int64) error {
	p.mu.Lock()
	video := p.hasVideo
	p.mu.Unlock()
	if video {
		// Video drives readiness and buffer accounting
		return nil
	}
	return p.onUnit(pts, true)
}

// onUnit accounts one access unit and applies backpressure.
func (p *streamPlayer) onUnit(pts int64, randomAccess bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.ready {
		if !randomAccess {
			return nil
		}
		p.ready = true
		p.firstPTS = pts
		p.lastPTS = pts
	}
	if pts > p.lastPTS {
		p.lastPTS = pts
	}

	for (p.paused || (p.maxBuffer > 0 && p.bufferedLocked() >= p.maxBuffer)) && !p.closed && !p.rewind {
		p.cond.Wait()
	}
	if p.closed || p.rewind {
		return errStopped
	}
	return nil
}

func (p *streamPlayer) bufferedLocked() float64 {
	if !p.ready {
		return 0
	}
	return float64(p.lastPTS-p.firstPTS) / mpegtsClockRate
}

func (p *streamPlayer) setSource(src io.ReadCloser) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false
	}
	p.src = src
	return true
}

func (p *streamPlayer) consumeRewind() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.rewind || p.closed {
		return false
	}
	p.rewind = false
	p.ready = false
	p.complete = false
	p.firstPTS, p.lastPTS = 0, 0
	return true
}

func (p *streamPlayer) fail(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err == nil && !p.closed {
		p.err = err
		p.logger.Debug("player failed", slog.String("error", err.Error()))
	}
}

func (p *streamPlayer) finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.ready {
		if p.err == nil {
			p.err = ErrNoRandomAccess
		}
		return
	}
	p.complete = true
}

func (p *streamPlayer) IsReady() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ready && !p.closed && p.err == nil
}

func (p *streamPlayer) BufferedSeconds() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.bufferedLocked()
}

func (p *streamPlayer) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed && p.err == nil {
		return ErrClosed
	}
	return p.err
}

func (p *streamPlayer) Pause() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.paused = true
}

// SeekToStart restarts demuxing from the beginning of the source and resumes.
func (p *streamPlayer) SeekToStart() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || p.err != nil {
		return
	}
	p.paused = false
	p.cond.Broadcast()

	select {
	case <-p.done:
		// The loop finished after buffering everything; restart it
		p.ready = false
		p.complete = false
		p.firstPTS, p.lastPTS = 0, 0
		p.done = make(chan struct{})
		go p.run()
	default:
		p.rewind = true
		if p.src != nil {
			p.src.Close()
		}
	}
}

func (p *streamPlayer) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	src := p.src
	done := p.done
	p.cond.Broadcast()
	p.mu.Unlock()

	p.cancel()
	if src != nil {
		src.Close()
	}
	<-done
	return nil
}

// Tracks returns the codecs found in the stream.
func (p *streamPlayer) Tracks() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.tracks...)
}

// Complete reports whether the whole stream has been buffered.
func (p *streamPlayer) Complete() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.complete
}

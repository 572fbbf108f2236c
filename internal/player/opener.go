package player

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"
)

// OpenerConfig holds configuration for the stream opener.
type OpenerConfig struct {
	// HTTPTimeout bounds playlist fetches and the connection setup of media requests.
	HTTPTimeout time.Duration
	// MaxBufferSeconds caps how far ahead a player demuxes.
	MaxBufferSeconds float64
	// MaxPlaylistSize caps playlist downloads.
	MaxPlaylistSize int64
	// UserAgent is sent with HTTP requests.
	UserAgent string
	// Client overrides the HTTP client.
	Client *http.Client
}

// DefaultOpenerConfig returns sensible defaults.
func DefaultOpenerConfig() OpenerConfig {
	return OpenerConfig{
		HTTPTimeout:      15 * time.Second,
		MaxBufferSeconds: 8,
		MaxPlaylistSize:  1 << 20,
	}
}

// StreamOpener opens MPEG-TS files and streams, and HLS playlists with TS
// segments.
type StreamOpener struct {
	config OpenerConfig
	fetch  *fetcher
	logger *slog.Logger
}

var _ Opener = (*StreamOpener)(nil)

// NewStreamOpener creates a new opener.
func NewStreamOpener(config OpenerConfig) *StreamOpener {
	defaults := DefaultOpenerConfig()
	if config.HTTPTimeout <= 0 {
		config.HTTPTimeout = defaults.HTTPTimeout
	}
	if config.MaxBufferSeconds <= 0 {
		config.MaxBufferSeconds = defaults.MaxBufferSeconds
	}
	if config.MaxPlaylistSize <= 0 {
		config.MaxPlaylistSize = defaults.MaxPlaylistSize
	}

	client := config.Client
	if client == nil {
		client = &http.Client{
			Transport: &http.Transport{
				Proxy:                 http.ProxyFromEnvironment,
				ResponseHeaderTimeout: config.HTTPTimeout,
				TLSHandshakeTimeout:   config.HTTPTimeout,
				IdleConnTimeout:       90 * time.Second,
				MaxIdleConnsPerHost:   4,
			},
		}
	}

	o := &StreamOpener{
		config: config,
		logger: slog.Default(),
	}
	o.fetch = &fetcher{
		client:    client,
		timeout:   config.HTTPTimeout,
		userAgent: config.UserAgent,
		logger:    o.logger,
	}
	return o
}

// WithLogger sets a custom logger.
func (o *StreamOpener) WithLogger(logger *slog.Logger) *StreamOpener {
	if logger != nil {
		o.logger = logger
		o.fetch.logger = logger
	}
	return o
}

// Open builds a player for location. ctx bounds construction only: playlist
// resolution and the initial existence check. The returned player buffers in
// the background until it is closed.
func (o *StreamOpener) Open(ctx context.Context, id, location string) (Player, error) {
	kind, path := classifyLocation(location)
	if kind == kindUnsupported {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedLocation, location)
	}

	var src sourceFunc
	switch {
	case isPlaylist(location):
		media, err := resolveHLS(ctx, o.fetch, location, o.config.MaxPlaylistSize)
		if err != nil {
			return nil, err
		}
		o.logger.Debug("resolved HLS media playlist",
			slog.String("item_id", id),
			slog.String("playlist", media.location),
			slog.Int("bandwidth", media.bandwidth),
			slog.Int("segments", len(media.segments)),
			slog.Float64("duration_seconds", media.duration))
		src = media.source(o.fetch)

	case kind == kindFile:
		if _, err := os.Stat(path); err != nil {
			return nil, err
		}
		src = func(ctx context.Context) (io.ReadCloser, error) {
			return o.fetch.open(ctx, location, false)
		}

	default:
		src = func(ctx context.Context) (io.ReadCloser, error) {
			return o.fetch.open(ctx, location, false)
		}
	}

	p := newStreamPlayer(id, src, o.config.MaxBufferSeconds, o.logger)
	p.start()
	return p, nil
}

package player

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/bluenviron/gohlslib/v2/pkg/playlist"
)

// ErrUnsupportedPlaylist is returned for playlists the TS backend cannot play.
var ErrUnsupportedPlaylist = errors.New("unsupported HLS playlist")

// hlsMedia is a resolved media playlist: absolute segment locations in
// playback order.
type hlsMedia struct {
	location  string
	bandwidth int
	segments  []string
	duration  float64
}

// resolveHLS fetches a playlist and, for multivariant playlists, the
// lowest-bandwidth variant. Short-form feeds start faster on the smallest
// rendition.
func resolveHLS(ctx context.Context, f *fetcher, location string, maxSize int64) (*hlsMedia, error) {
	data, err := f.readAll(ctx, location, maxSize)
	if err != nil {
		return nil, fmt.Errorf("fetching playlist: %w", err)
	}

	pl, err := playlist.Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("parsing playlist: %w", err)
	}

	bandwidth := 0
	switch v := pl.(type) {
	case *playlist.Media:
		return mediaSegments(location, v, bandwidth)

	case *playlist.Multivariant:
		variant := lowestBandwidth(v)
		if variant == nil {
			return nil, fmt.Errorf("%w: no variants", ErrUnsupportedPlaylist)
		}
		variantURL := resolveReference(location, variant.URI)

		data, err := f.readAll(ctx, variantURL, maxSize)
		if err != nil {
			return nil, fmt.Errorf("fetching variant playlist: %w", err)
		}
		pl, err := playlist.Unmarshal(data)
		if err != nil {
			return nil, fmt.Errorf("parsing variant playlist: %w", err)
		}
		media, ok := pl.(*playlist.Media)
		if !ok {
			return nil, fmt.Errorf("%w: variant is not a media playlist", ErrUnsupportedPlaylist)
		}
		return mediaSegments(variantURL, media, variant.Bandwidth)

	default:
		return nil, fmt.Errorf("%w: unknown playlist type", ErrUnsupportedPlaylist)
	}
}

func lowestBandwidth(mv *playlist.Multivariant) *playlist.MultivariantVariant {
	var best *playlist.MultivariantVariant
	for _, v := range mv.Variants {
		if v == nil {
			continue
		}
		if best == nil || v.Bandwidth < best.Bandwidth {
			best = v
		}
	}
	return best
}

func mediaSegments(location string, media *playlist.Media, bandwidth int) (*hlsMedia, error) {
	if media.Map != nil {
		return nil, fmt.Errorf("%w: fMP4 segments", ErrUnsupportedPlaylist)
	}

	m := &hlsMedia{location: location, bandwidth: bandwidth}
	for _, seg := range media.Segments {
		if seg == nil {
			continue
		}
		if seg.Key != nil {
			return nil, fmt.Errorf("%w: encrypted segments", ErrUnsupportedPlaylist)
		}
		uri := seg.URI
		if idx := strings.Index(uri, "?"); idx >= 0 {
			uri = uri[:idx]
		}
		if !strings.HasSuffix(strings.ToLower(uri), ".ts") {
			return nil, fmt.Errorf("%w: non-TS segment %q", ErrUnsupportedPlaylist, seg.URI)
		}
		m.segments = append(m.segments, resolveReference(location, seg.URI))
		m.duration += seg.Duration.Seconds()
	}
	if len(m.segments) == 0 {
		return nil, fmt.Errorf("%w: no segments", ErrUnsupportedPlaylist)
	}
	return m, nil
}

// source returns a sourceFunc that concatenates the segments into one
// transport stream.
func (m *hlsMedia) source(f *fetcher) sourceFunc {
	return func(ctx context.Context) (io.ReadCloser, error) {
		pr, pw := io.Pipe()
		go func() {
			for _, seg := range m.segments {
				rc, err := f.open(ctx, seg, false)
				if err != nil {
					pw.CloseWithError(fmt.Errorf("fetching segment %s: %w", seg, err))
					return
				}
				_, err = io.Copy(pw, rc)
				rc.Close()
				if err != nil {
					pw.CloseWithError(err)
					return
				}
			}
			pw.Close()
		}()
		return pr, nil
	}
}

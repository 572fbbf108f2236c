package player

import (
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/andybalholm/brotli"
)

const (
	headerAcceptEncoding  = "Accept-Encoding"
	headerContentEncoding = "Content-Encoding"
	headerUserAgent       = "User-Agent"
)

// locationKind classifies a media location.
type locationKind int

const (
	kindUnsupported locationKind = iota
	kindFile
	kindHTTP
)

// classifyLocation returns the kind of location and, for files, the path.
func classifyLocation(location string) (locationKind, string) {
	if location == "" {
		return kindUnsupported, ""
	}
	u, err := url.Parse(location)
	if err != nil || u.Scheme == "" {
		return kindFile, location
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		return kindHTTP, location
	case "file":
		return kindFile, u.Path
	default:
		// Windows drive letters parse as a scheme
		if len(u.Scheme) == 1 {
			return kindFile, location
		}
		return kindUnsupported, ""
	}
}

// isPlaylist reports whether location names an HLS playlist.
func isPlaylist(location string) bool {
	p := location
	if u, err := url.Parse(location); err == nil && u.Path != "" {
		p = u.Path
	}
	return strings.EqualFold(filepath.Ext(p), ".m3u8")
}

// resolveReference resolves ref against the location of the playlist that
// referenced it.
func resolveReference(base, ref string) string {
	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		return ref
	}

	kind, path := classifyLocation(base)
	if kind == kindFile {
		if filepath.IsAbs(ref) {
			return ref
		}
		return filepath.Join(filepath.Dir(path), filepath.FromSlash(ref))
	}

	b, err := url.Parse(base)
	if err != nil {
		if idx := strings.LastIndex(base, "/"); idx >= 0 {
			return base[:idx+1] + ref
		}
		return ref
	}
	r, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return b.ResolveReference(r).String()
}

// fetcher opens local files and HTTP resources.
type fetcher struct {
	client    *http.Client
	timeout   time.Duration
	userAgent string
	logger    *slog.Logger
}

// open streams a resource. ctx bounds the whole read.
func (f *fetcher) open(ctx context.Context, location string, compressed bool) (io.ReadCloser, error) {
	kind, path := classifyLocation(location)
	switch kind {
	case kindFile:
		file, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		return file, nil

	case kindHTTP:
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, location, nil)
		if err != nil {
			return nil, err
		}
		if f.userAgent != "" {
			req.Header.Set(headerUserAgent, f.userAgent)
		}
		if compressed {
			req.Header.Set(headerAcceptEncoding, "gzip, br")
		}

		resp, err := f.client.Do(req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return nil, fmt.Errorf("HTTP %d", resp.StatusCode)
		}
		if compressed {
			return f.wrapDecompression(resp), nil
		}
		return resp.Body, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedLocation, location)
	}
}

// readAll fetches a small resource with a timeout and size limit.
func (f *fetcher) readAll(ctx context.Context, location string, limit int64) ([]byte, error) {
	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	rc, err := f.open(ctx, location, true)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	data, err := io.ReadAll(io.LimitReader(rc, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("%s exceeds %d bytes", location, limit)
	}
	return data, nil
}

// wrapDecompression wraps the response body with appropriate decompression.
func (f *fetcher) wrapDecompression(resp *http.Response) io.ReadCloser {
	switch strings.ToLower(resp.Header.Get(headerContentEncoding)) {
	case "":
		return resp.Body

	case "gzip":
		reader, err := gzip.NewReader(resp.Body)
		if err != nil {
			f.logger.Warn("failed to create gzip reader, returning raw body",
				slog.String("error", err.Error()))
			return resp.Body
		}
		return &decompressReader{reader: reader, closer: resp.Body}

	case "br":
		return &decompressReader{reader: brotli.NewReader(resp.Body), closer: resp.Body}

	default:
		return resp.Body
	}
}

// decompressReader pairs a decompression reader with the original body closer.
type decompressReader struct {
	reader io.Reader
	closer io.Closer
}

func (d *decompressReader) Read(p []byte) (int, error) {
	return d.reader.Read(p)
}

func (d *decompressReader) Close() error {
	if closer, ok := d.reader.(io.Closer); ok {
		closer.Close()
	}
	return d.closer.Close()
}

package catalog

import (
	"bufio"
	"compress/bzip2"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/ulikunitz/xz"
	"gopkg.in/yaml.v3"
)

// ErrInvalidManifest is returned for manifests that fail validation.
var ErrInvalidManifest = errors.New("invalid manifest")

// Manifest is the import format of the catalog.
//
//	threads:
//	  - slug: morning
//	    title: Morning picks
//	    items:
//	      - id: v1
//	        location: https://cdn.example.com/v1/index.m3u8
//	        cached_path: v1.ts
type Manifest struct {
	Threads []ManifestThread `yaml:"threads"`
}

// ManifestThread is one thread of a manifest, in feed order.
type ManifestThread struct {
	Slug  string         `yaml:"slug"`
	Title string         `yaml:"title,omitempty"`
	Items []ManifestItem `yaml:"items"`
}

// ManifestItem is one item of a manifest thread, in thread order.
type ManifestItem struct {
	ID         string `yaml:"id"`
	Location   string `yaml:"location"`
	CachedPath string `yaml:"cached_path,omitempty"`
}

// ParseManifest reads a YAML manifest, decompressing gzip, bzip2 and xz by
// magic bytes, and brotli when name ends in ".br".
func ParseManifest(r io.Reader, name string) (*Manifest, error) {
	reader, closeFn, err := decompress(r, name)
	if err != nil {
		return nil, err
	}
	defer closeFn()

	dec := yaml.NewDecoder(reader)
	dec.KnownFields(true)

	var m Manifest
	if err := dec.Decode(&m); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: empty document", ErrInvalidManifest)
		}
		return nil, fmt.Errorf("decoding manifest: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// decompress wraps r in the decompressor its header or name calls for.
func decompress(r io.Reader, name string) (io.Reader, func(), error) {
	noop := func() {}
	br := bufio.NewReader(r)

	if strings.HasSuffix(strings.ToLower(name), ".br") {
		return brotli.NewReader(br), noop, nil
	}

	header, err := br.Peek(6)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, noop, fmt.Errorf("peeking header: %w", err)
	}

	switch {
	case len(header) >= 2 && header[0] == 0x1f && header[1] == 0x8b:
		gzr, err := gzip.NewReader(br)
		if err != nil {
			return nil, noop, fmt.Errorf("creating gzip reader: %w", err)
		}
		return gzr, func() { gzr.Close() }, nil

	case len(header) >= 3 && header[0] == 'B' && header[1] == 'Z' && header[2] == 'h':
		return bzip2.NewReader(br), noop, nil

	case len(header) >= 6 && header[0] == 0xfd && header[1] == '7' && header[2] == 'z' && header[3] == 'X' && header[4] == 'Z' && header[5] == 0x00:
		xzr, err := xz.NewReader(br)
		if err != nil {
			return nil, noop, fmt.Errorf("creating xz reader: %w", err)
		}
		return xzr, noop, nil
	}

	return br, noop, nil
}

// Validate checks slugs and item ids are present and unique.
func (m *Manifest) Validate() error {
	if len(m.Threads) == 0 {
		return fmt.Errorf("%w: no threads", ErrInvalidManifest)
	}
	slugs := make(map[string]bool, len(m.Threads))
	ids := make(map[string]string)
	for i, t := range m.Threads {
		if t.Slug == "" {
			return fmt.Errorf("%w: thread %d has no slug", ErrInvalidManifest, i)
		}
		if slugs[t.Slug] {
			return fmt.Errorf("%w: duplicate thread slug %q", ErrInvalidManifest, t.Slug)
		}
		slugs[t.Slug] = true

		if len(t.Items) == 0 {
			return fmt.Errorf("%w: thread %q has no items", ErrInvalidManifest, t.Slug)
		}
		for j, item := range t.Items {
			if item.ID == "" {
				return fmt.Errorf("%w: thread %q item %d has no id", ErrInvalidManifest, t.Slug, j)
			}
			if item.Location == "" {
				return fmt.Errorf("%w: item %q has no location", ErrInvalidManifest, item.ID)
			}
			if prev, ok := ids[item.ID]; ok {
				return fmt.Errorf("%w: item %q appears in %q and %q", ErrInvalidManifest, item.ID, prev, t.Slug)
			}
			ids[item.ID] = t.Slug
		}
	}
	return nil
}

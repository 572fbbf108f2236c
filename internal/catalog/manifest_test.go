package catalog

import (
	"bytes"
	"compress/gzip"
	"strings"
	"testing"

	"github.com/andybalholm/brotli"
	"github.com/dsnet/compress/bzip2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ulikunitz/xz"
)

const sampleManifest = `
threads:
  - slug: morning
    title: Morning picks
    items:
      - id: v1
        location: https://cdn.example.com/v1/index.m3u8
        cached_path: v1.ts
      - id: v2
        location: https://cdn.example.com/v2/index.m3u8
  - slug: evening
    items:
      - id: v3
        location: /srv/media/v3.ts
`

func assertSampleManifest(t *testing.T, m *Manifest) {
	t.Helper()
	require.Len(t, m.Threads, 2)
	assert.Equal(t, "morning", m.Threads[0].Slug)
	assert.Equal(t, "Morning picks", m.Threads[0].Title)
	require.Len(t, m.Threads[0].Items, 2)
	assert.Equal(t, "v1.ts", m.Threads[0].Items[0].CachedPath)
	assert.Equal(t, "/srv/media/v3.ts", m.Threads[1].Items[0].Location)
}

func TestParseManifest_Plain(t *testing.T) {
	m, err := ParseManifest(strings.NewReader(sampleManifest), "feed.yaml")
	require.NoError(t, err)
	assertSampleManifest(t, m)
}

func TestParseManifest_Gzip(t *testing.T) {
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	_, err := gw.Write([]byte(sampleManifest))
	require.NoError(t, err)
	require.NoError(t, gw.Close())

	m, err := ParseManifest(&buf, "feed.yaml.gz")
	require.NoError(t, err)
	assertSampleManifest(t, m)
}

func TestParseManifest_Bzip2(t *testing.T) {
	var buf bytes.Buffer
	bw, err := bzip2.NewWriter(&buf, nil)
	require.NoError(t, err)
	_, err = bw.Write([]byte(sampleManifest))
	require.NoError(t, err)
	require.NoError(t, bw.Close())

	m, err := ParseManifest(&buf, "feed.yaml.bz2")
	require.NoError(t, err)
	assertSampleManifest(t, m)
}

func TestParseManifest_XZ(t *testing.T) {
	var buf bytes.Buffer
	xw, err := xz.NewWriter(&buf)
	require.NoError(t, err)
	_, err = xw.Write([]byte(sampleManifest))
	require.NoError(t, err)
	require.NoError(t, xw.Close())

	// Detection is by content, not name
	m, err := ParseManifest(&buf, "feed.yaml")
	require.NoError(t, err)
	assertSampleManifest(t, m)
}

func TestParseManifest_Brotli(t *testing.T) {
	var buf bytes.Buffer
	bw := brotli.NewWriter(&buf)
	_, err := bw.Write([]byte(sampleManifest))
	require.NoError(t, err)
	require.NoError(t, bw.Close())

	m, err := ParseManifest(&buf, "feed.yaml.br")
	require.NoError(t, err)
	assertSampleManifest(t, m)
}

func TestParseManifest_UnknownField(t *testing.T) {
	_, err := ParseManifest(strings.NewReader("threads:\n  - slug: a\n    colour: red\n"), "feed.yaml")
	assert.Error(t, err)
}

func TestParseManifest_Empty(t *testing.T) {
	_, err := ParseManifest(strings.NewReader(""), "feed.yaml")
	assert.ErrorIs(t, err, ErrInvalidManifest)
}

func TestManifest_Validate(t *testing.T) {
	item := func(id string) ManifestItem { return ManifestItem{ID: id, Location: "/m/" + id + ".ts"} }

	tests := []struct {
		name     string
		manifest Manifest
		want     string
	}{
		{"no threads", Manifest{}, "no threads"},
		{"missing slug", Manifest{Threads: []ManifestThread{{Items: []ManifestItem{item("a")}}}}, "no slug"},
		{"duplicate slug", Manifest{Threads: []ManifestThread{
			{Slug: "x", Items: []ManifestItem{item("a")}},
			{Slug: "x", Items: []ManifestItem{item("b")}},
		}}, "duplicate thread slug"},
		{"empty thread", Manifest{Threads: []ManifestThread{{Slug: "x"}}}, "has no items"},
		{"missing id", Manifest{Threads: []ManifestThread{{Slug: "x", Items: []ManifestItem{{Location: "/m"}}}}}, "has no id"},
		{"missing location", Manifest{Threads: []ManifestThread{{Slug: "x", Items: []ManifestItem{{ID: "a"}}}}}, "has no location"},
		{"duplicate item", Manifest{Threads: []ManifestThread{
			{Slug: "x", Items: []ManifestItem{item("a")}},
			{Slug: "y", Items: []ManifestItem{item("a")}},
		}}, `appears in "x" and "y"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.manifest.Validate()
			require.ErrorIs(t, err, ErrInvalidManifest)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

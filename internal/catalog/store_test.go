package catalog

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jmylchreest/reelpool/internal/config"
	"github.com/jmylchreest/reelpool/internal/preload"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestStore creates an in-memory SQLite catalog for testing.
func setupTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	cacheDir := t.TempDir()
	store, err := Open(context.Background(), config.DatabaseConfig{
		Driver:   "sqlite",
		DSN:      ":memory:",
		LogLevel: "silent",
	}, cacheDir, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store, cacheDir
}

func mustImport(t *testing.T, s *Store, manifest string, opts ImportOptions) ImportResult {
	t.Helper()
	m, err := ParseManifest(strings.NewReader(manifest), "feed.yaml")
	require.NoError(t, err)
	result, err := s.Import(context.Background(), m, opts)
	require.NoError(t, err)
	return result
}

func TestOpen_UnsupportedDriver(t *testing.T) {
	_, err := Open(context.Background(), config.DatabaseConfig{Driver: "oracle", DSN: "x"}, "", nil)
	assert.ErrorContains(t, err, "unsupported database driver")
}

func TestOpen_MigrationsAreRecorded(t *testing.T) {
	store, _ := setupTestStore(t)

	var records []MigrationRecord
	require.NoError(t, store.db.Order("version").Find(&records).Error)
	require.Len(t, records, len(migrations()))
	assert.Equal(t, "001", records[0].Version)

	applied, err := migrate(context.Background(), store.db, store.logger)
	require.NoError(t, err)
	assert.Zero(t, applied)
}

func TestStore_PingAndCounts(t *testing.T) {
	store, _ := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Ping(ctx))

	threads, items, err := store.Counts(ctx)
	require.NoError(t, err)
	assert.Zero(t, threads)
	assert.Zero(t, items)

	mustImport(t, store, sampleManifest, ImportOptions{})
	threads, items, err = store.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), threads)
	assert.Equal(t, int64(3), items)
}

func TestStore_Feed(t *testing.T) {
	store, _ := setupTestStore(t)
	result := mustImport(t, store, sampleManifest, ImportOptions{})

	assert.Equal(t, 2, result.ThreadsCreated)
	assert.Equal(t, 3, result.Items)

	feed, err := store.Feed(context.Background())
	require.NoError(t, err)
	assert.Equal(t, preload.Feed{Threads: []preload.Thread{
		{ID: "morning", Items: []string{"v1", "v2"}},
		{ID: "evening", Items: []string{"v3"}},
	}}, feed)
}

func TestStore_ReimportReordersAndRemoves(t *testing.T) {
	store, _ := setupTestStore(t)
	mustImport(t, store, sampleManifest, ImportOptions{})

	result := mustImport(t, store, `
threads:
  - slug: evening
    items:
      - id: v3
        location: /srv/media/v3.ts
      - id: v1
        location: https://cdn.example.com/v1/index.m3u8
  - slug: morning
    items:
      - id: v2
        location: https://cdn.example.com/v2/index.m3u8
`, ImportOptions{})

	assert.Zero(t, result.ThreadsCreated)
	assert.Equal(t, 2, result.ThreadsUpdated)

	feed, err := store.Feed(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []preload.Thread{
		{ID: "evening", Items: []string{"v3", "v1"}},
		{ID: "morning", Items: []string{"v2"}},
	}, feed.Threads)
}

func TestStore_ImportPrune(t *testing.T) {
	store, _ := setupTestStore(t)
	mustImport(t, store, sampleManifest, ImportOptions{})

	only := `
threads:
  - slug: evening
    items:
      - id: v3
        location: /srv/media/v3.ts
`
	kept := mustImport(t, store, only, ImportOptions{})
	assert.Zero(t, kept.ThreadsPruned)
	_, items, err := store.Counts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), items)

	pruned := mustImport(t, store, only, ImportOptions{Prune: true})
	assert.Equal(t, 1, pruned.ThreadsPruned)
	assert.Equal(t, int64(2), pruned.ItemsRemoved)

	threads, items, err := store.Counts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), threads)
	assert.Equal(t, int64(1), items)

	_, err = store.Item(context.Background(), "v1")
	assert.ErrorIs(t, err, ErrItemNotFound)
}

func TestStore_Resolve(t *testing.T) {
	store, cacheDir := setupTestStore(t)
	ctx := context.Background()
	mustImport(t, store, sampleManifest, ImportOptions{})

	// Cached copy absent: remote location
	loc, err := store.Resolve(ctx, "v1")
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/v1/index.m3u8", loc)

	// Cached copy present: local path under the cache dir
	cached := filepath.Join(cacheDir, "v1.ts")
	require.NoError(t, os.WriteFile(cached, []byte{0x47}, 0o644))
	loc, err = store.Resolve(ctx, "v1")
	require.NoError(t, err)
	assert.Equal(t, cached, loc)

	loc, err = store.Resolve(ctx, "v3")
	require.NoError(t, err)
	assert.Equal(t, "/srv/media/v3.ts", loc)

	_, err = store.Resolve(ctx, "nope")
	assert.ErrorIs(t, err, ErrItemNotFound)
}

func TestULID_RoundTrip(t *testing.T) {
	id := NewULID()
	assert.False(t, id.IsZero())

	parsed, err := ParseULID(id.String())
	require.NoError(t, err)
	assert.Equal(t, id, parsed)

	var scanned ULID
	require.NoError(t, scanned.Scan([]byte(id.String())))
	assert.Equal(t, id, scanned)
	require.NoError(t, scanned.Scan(nil))
	assert.True(t, scanned.IsZero())

	_, err = ParseULID("not-a-ulid")
	assert.Error(t, err)
}

package cache

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/traylinx/autoheal/internal/types"
	"github.com/traylinx/autoheal/internal/util"
)

func newFileCache(t *testing.T, dir string, clock *testClock) *FileCache {
	t.Helper()
	t.Setenv(util.EnvReadOnly, "")
	cfg := testConfig(100)
	cfg.Type = TypeFile
	cfg.Directory = dir
	c, err := NewFileCache(cfg)
	require.NoError(t, err)
	c.WithClock(clock.Now)
	return c
}

func TestFileCache_PersistsAcrossRestart(t *testing.T) {
	dir := t.TempDir()
	clock := &testClock{now: time.Now()}

	c := newFileCache(t, dir, clock)
	fp := &types.ElementFingerprint{TagName: "button", TextContent: "Login"}
	c.Put("#login-btn|Login button", types.NewCachedSelector("#login-button", fp, clock.Now()))
	c.UpdateSuccess("#login-btn|Login button", true)
	c.UpdateSuccess("#login-btn|Login button", false)
	require.NoError(t, c.Close())

	reopened, err := NewFileCache(&Config{Type: TypeFile, MaximumSize: 100, Directory: dir})
	require.NoError(t, err)
	defer reopened.Close()

	got, ok := reopened.mem.Peek("#login-btn|Login button")
	require.True(t, ok)
	assert.Equal(t, "#login-button", got.Selector)
	assert.Equal(t, 3, got.Attempts)
	assert.Equal(t, 2, got.Successes)
	require.NotNil(t, got.Fingerprint)
	assert.Equal(t, "Login", got.Fingerprint.TextContent)
}

func TestFileCache_SnapshotFormat(t *testing.T) {
	dir := t.TempDir()
	clock := newTestClock()
	c := newFileCache(t, dir, clock)
	c.Put("k", types.NewCachedSelector("#a", nil, clock.Now()))
	c.UpdateSuccess("k", false)

	raw, err := os.ReadFile(filepath.Join(dir, EntriesFile))
	require.NoError(t, err)
	var entries map[string]map[string]any
	require.NoError(t, json.Unmarshal(raw, &entries))
	entry := entries["k"]
	assert.Equal(t, "#a", entry["selector"])
	assert.Equal(t, 0.5, entry["success_rate"])
	assert.Equal(t, float64(2), entry["usage_count"])
	assert.Equal(t, float64(clock.Now().UnixMilli()), entry["last_access_time"])
	_, err = time.Parse(time.RFC3339, entry["created_at"].(string))
	assert.NoError(t, err)

	raw, err = os.ReadFile(filepath.Join(dir, MetricsFile))
	require.NoError(t, err)
	var metrics map[string]map[string]any
	require.NoError(t, json.Unmarshal(raw, &metrics))
	assert.Equal(t, float64(2), metrics["k"]["attempts"])
	assert.Equal(t, float64(1), metrics["k"]["successes"])
}

func TestFileCache_SkipsExpiredOnLoad(t *testing.T) {
	dir := t.TempDir()
	old := time.Now().Add(-48 * time.Hour)
	fresh := time.Now().Add(-time.Minute)

	entries := map[string]fileEntry{
		"old":   {Selector: "#old", SuccessRate: 1, UsageCount: 1, CreatedAt: old, LastUsed: old, LastAccessTime: old.UnixMilli()},
		"fresh": {Selector: "#fresh", SuccessRate: 0.75, UsageCount: 4, CreatedAt: fresh, LastUsed: fresh, LastAccessTime: fresh.UnixMilli()},
	}
	require.NoError(t, util.SecureWriteJSON(nil, filepath.Join(dir, EntriesFile), entries, 0))

	c, err := NewFileCache(&Config{Type: TypeFile, MaximumSize: 10, ExpireAfterWrite: 24 * time.Hour, ExpireAfterAccess: 2 * time.Hour, Directory: dir})
	require.NoError(t, err)
	defer c.Close()

	assert.Equal(t, 1, c.Size())
	got, ok := c.Get("fresh")
	require.True(t, ok)
	assert.Equal(t, 4, got.Attempts, "counters rebuilt from usage count without a metrics file")
	assert.Equal(t, 3, got.Successes)
}

func TestFileCache_CorruptedSnapshotStartsEmpty(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, EntriesFile), []byte("{not json"), 0600))

	c, err := NewFileCache(&Config{Type: TypeFile, MaximumSize: 10, Directory: dir})
	require.NoError(t, err)
	defer c.Close()

	assert.Equal(t, 0, c.Size())
	assert.Equal(t, int64(1), c.Metrics().PersistenceErrors)

	c.Put("k", types.NewCachedSelector("#a", nil, time.Now()))
	_, ok := c.Get("k")
	assert.True(t, ok)
}

func TestFileCache_WriteFailuresKeepMemoryView(t *testing.T) {
	dir := t.TempDir()
	clock := newTestClock()
	c := newFileCache(t, dir, clock)
	c.sb = nil
	c.entriesPath = filepath.Join(dir, "missing-parent-is-a-file", EntriesFile)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "missing-parent-is-a-file"), []byte("x"), 0600))

	c.Put("k", types.NewCachedSelector("#a", nil, clock.Now()))

	_, ok := c.Get("k")
	assert.True(t, ok)
	assert.Equal(t, "file", c.Metrics().PersistenceBackend)
	assert.GreaterOrEqual(t, c.Metrics().PersistenceErrors, int64(1))
}

func TestFileCache_RemoveAndClearRewriteSnapshot(t *testing.T) {
	dir := t.TempDir()
	clock := newTestClock()
	c := newFileCache(t, dir, clock)
	c.Put("a", types.NewCachedSelector("#a", nil, clock.Now()))
	c.Put("b", types.NewCachedSelector("#b", nil, clock.Now()))

	assert.True(t, c.Remove("a"))
	keys, _, err := decodeSnapshotFromDir(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, keys)

	c.ClearAll()
	keys, _, err = decodeSnapshotFromDir(dir)
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestFileCache_ReloadsExternalChanges(t *testing.T) {
	dir := t.TempDir()
	clock := &testClock{now: time.Now()}
	c := newFileCache(t, dir, clock)
	c.Put("mine", types.NewCachedSelector("#mine", nil, clock.Now()))

	// Our own snapshot is recognized and not reloaded.
	c.reloadIfChanged()
	assert.Equal(t, 1, c.Size())

	other, err := NewFileCache(&Config{Type: TypeFile, MaximumSize: 10, ExpireAfterWrite: time.Hour, ExpireAfterAccess: time.Hour, Directory: dir})
	require.NoError(t, err)
	defer other.Close()
	other.Put("theirs", types.NewCachedSelector("#theirs", nil, time.Now()))

	c.reloadIfChanged()
	assert.Equal(t, 2, c.Size())
	_, ok := c.mem.Peek("theirs")
	assert.True(t, ok)
}

func decodeSnapshotFromDir(dir string) ([]string, map[string]*types.CachedSelector, error) {
	entries, err := os.ReadFile(filepath.Join(dir, EntriesFile))
	if err != nil {
		return nil, nil, err
	}
	metrics, _ := os.ReadFile(filepath.Join(dir, MetricsFile))
	return decodeSnapshot(entries, metrics)
}

// Copyright 2026 The autoheal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package cache

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/goccy/go-json"
	"github.com/gofrs/flock"
	log "github.com/sirupsen/logrus"
	"github.com/zeebo/blake3"

	"github.com/traylinx/autoheal/internal/types"
	"github.com/traylinx/autoheal/internal/util"
)

const (
	// EntriesFile is the snapshot of cached selectors.
	EntriesFile = "selector-cache.json"

	// MetricsFile is the sibling snapshot of per-key usage counters.
	MetricsFile = "cache-metrics.json"

	lockFile = ".selector-cache.lock"
)

// fileEntry is the on-disk form of one cached selector.
type fileEntry struct {
	Selector       string                    `json:"selector"`
	SuccessRate    float64                   `json:"success_rate"`
	UsageCount     int                       `json:"usage_count"`
	LastUsed       time.Time                 `json:"last_used"`
	CreatedAt      time.Time                 `json:"created_at"`
	LastAccessTime int64                     `json:"last_access_time"`
	Fingerprint    *types.ElementFingerprint `json:"fingerprint,omitempty"`
}

// fileMetrics is the on-disk form of one key's usage counters.
type fileMetrics struct {
	Attempts       int       `json:"attempts"`
	Successes      int       `json:"successes"`
	LastUsed       time.Time `json:"last_used"`
	LastAccessTime int64     `json:"last_access_time"`
}

// FileCache is a MemoryCache whose contents survive restarts. Every mutating
// call rewrites two JSON snapshots in the cache directory under a
// cross-process file lock.
type FileCache struct {
	mem *MemoryCache

	sb          *util.StateBox
	dir         string
	entriesPath string
	metricsPath string
	lock        *flock.Flock

	// saveMu serializes snapshot reads and writes within the process
	saveMu     sync.Mutex
	lastDigest string

	persistErrors atomic.Int64

	watchMu     sync.Mutex
	watcher     *fsnotify.Watcher
	stopWatcher chan struct{}
	closed      atomic.Bool
}

// NewFileCache creates the cache directory if needed and loads any existing
// snapshot. A corrupted snapshot yields an empty cache.
func NewFileCache(cfg *Config) (*FileCache, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	sb, err := util.NewStateBox()
	if err != nil {
		return nil, &types.CacheError{Op: "init", Cause: err}
	}
	dir := cfg.Directory
	if dir == "" {
		dir = sb.CacheDir()
	} else {
		dir = sb.ResolvePath(dir)
	}
	if err := sb.EnsureDir(dir); err != nil {
		return nil, &types.CacheError{Op: "init", Cause: err}
	}

	c := &FileCache{
		mem:         NewMemoryCache(cfg),
		sb:          sb,
		dir:         dir,
		entriesPath: filepath.Join(dir, EntriesFile),
		metricsPath: filepath.Join(dir, MetricsFile),
		lock:        flock.New(filepath.Join(dir, lockFile)),
	}
	c.mem.metrics.PersistenceBackend = string(TypeFile)

	loaded := c.reload()
	log.Infof("file selector cache initialized (dir: %s, entries: %d)", dir, loaded)

	if cfg.Watch {
		if err := c.StartWatcher(); err != nil {
			log.Warnf("selector cache watcher disabled: %v", err)
		}
	}
	return c, nil
}

// WithClock replaces the cache's time source.
func (c *FileCache) WithClock(now func() time.Time) *FileCache {
	c.mem.WithClock(now)
	return c
}

// Dir returns the snapshot directory.
func (c *FileCache) Dir() string { return c.dir }

// Get returns a copy of the entry. Access time is persisted with the next
// write rather than on every read.
func (c *FileCache) Get(key string) (*types.CachedSelector, bool) {
	return c.mem.Get(key)
}

func (c *FileCache) Peek(key string) (*types.CachedSelector, bool) {
	return c.mem.Peek(key)
}

func (c *FileCache) Put(key string, entry *types.CachedSelector) {
	c.mem.Put(key, entry)
	c.save()
}

func (c *FileCache) UpdateSuccess(key string, success bool) {
	c.mem.UpdateSuccess(key, success)
	c.save()
}

func (c *FileCache) Remove(key string) bool {
	if !c.mem.Remove(key) {
		return false
	}
	c.save()
	return true
}

func (c *FileCache) Size() int { return c.mem.Size() }

func (c *FileCache) EvictExpired() {
	if evicted := c.mem.evictExpired(); len(evicted) > 0 {
		c.save()
	}
}

func (c *FileCache) ClearAll() {
	c.mem.ClearAll()
	c.save()
}

func (c *FileCache) Metrics() Metrics {
	m := c.mem.Metrics()
	m.PersistenceErrors = c.persistErrors.Load()
	return m
}

// Close stops the watcher and writes a final snapshot.
func (c *FileCache) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.StopWatcher()
	c.save()
	return nil
}

// save writes both snapshots. Failures are logged and counted; the in-memory
// view is left untouched.
func (c *FileCache) save() {
	c.saveMu.Lock()
	defer c.saveMu.Unlock()

	keys, snap := c.mem.snapshot()
	entries := make(map[string]fileEntry, len(snap))
	metrics := make(map[string]fileMetrics, len(snap))
	for _, key := range keys {
		sel := snap[key]
		accessMs := sel.LastAccess.UnixMilli()
		entries[key] = fileEntry{
			Selector:       sel.Selector,
			SuccessRate:    sel.SuccessRate(),
			UsageCount:     sel.UsageCount(),
			LastUsed:       sel.LastUsed,
			CreatedAt:      sel.CreatedAt,
			LastAccessTime: accessMs,
			Fingerprint:    sel.Fingerprint,
		}
		metrics[key] = fileMetrics{
			Attempts:       sel.Attempts,
			Successes:      sel.Successes,
			LastUsed:       sel.LastUsed,
			LastAccessTime: accessMs,
		}
	}

	entriesData, err := util.MarshalIndentJSON(entries)
	if err != nil {
		c.persistFailed("encode", err)
		return
	}
	metricsData, err := util.MarshalIndentJSON(metrics)
	if err != nil {
		c.persistFailed("encode", err)
		return
	}

	if err := c.lock.Lock(); err != nil {
		c.persistFailed("lock", err)
		return
	}
	defer func() {
		if err := c.lock.Unlock(); err != nil {
			log.Warnf("failed to release selector cache lock: %v", err)
		}
	}()

	if err := util.SecureWrite(c.sb, c.entriesPath, entriesData, 0600); err != nil {
		c.persistFailed("save", err)
		return
	}
	if err := util.SecureWrite(c.sb, c.metricsPath, metricsData, 0600); err != nil {
		c.persistFailed("save", err)
		return
	}
	c.lastDigest = digest(entriesData, metricsData)
}

func (c *FileCache) persistFailed(op string, err error) {
	c.persistErrors.Add(1)
	if errors.Is(err, util.ErrReadOnlyMode) {
		log.Debugf("selector cache not persisted: %v", err)
		return
	}
	log.Warn((&types.CacheError{Op: op, Cause: err}).Error())
}

// reload replaces the in-memory view with the on-disk snapshot and returns
// the number of live entries loaded.
func (c *FileCache) reload() int {
	entriesData, metricsData, err := c.readSnapshot()
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			c.persistFailed("load", err)
		}
		return c.mem.load(nil, nil)
	}

	c.saveMu.Lock()
	c.lastDigest = digest(entriesData, metricsData)
	c.saveMu.Unlock()

	keys, selectors, err := decodeSnapshot(entriesData, metricsData)
	if err != nil {
		log.Warnf("selector cache snapshot is corrupted, starting empty: %v", err)
		c.persistErrors.Add(1)
		return c.mem.load(nil, nil)
	}
	return c.mem.load(keys, selectors)
}

// readSnapshot reads both files under the shared file lock. saveMu is held so
// that the lock is never taken twice from this process.
func (c *FileCache) readSnapshot() ([]byte, []byte, error) {
	c.saveMu.Lock()
	defer c.saveMu.Unlock()

	if err := c.lock.RLock(); err != nil {
		return nil, nil, err
	}
	defer func() { _ = c.lock.Unlock() }()

	entriesData, err := os.ReadFile(c.entriesPath)
	if err != nil {
		return nil, nil, err
	}
	metricsData, err := os.ReadFile(c.metricsPath)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, nil, err
	}
	return entriesData, metricsData, nil
}

// decodeSnapshot turns the two snapshot files into cached selectors ordered
// from most to least recently accessed. Counters come from the metrics file
// when present and are otherwise rebuilt from usage count and success rate.
func decodeSnapshot(entriesData, metricsData []byte) ([]string, map[string]*types.CachedSelector, error) {
	var entries map[string]fileEntry
	if len(bytes.TrimSpace(entriesData)) > 0 {
		if err := json.Unmarshal(entriesData, &entries); err != nil {
			return nil, nil, fmt.Errorf("decode %s: %w", EntriesFile, err)
		}
	}
	var metrics map[string]fileMetrics
	if len(bytes.TrimSpace(metricsData)) > 0 {
		if err := json.Unmarshal(metricsData, &metrics); err != nil {
			log.Warnf("ignoring corrupted %s: %v", MetricsFile, err)
			metrics = nil
		}
	}

	out := make(map[string]*types.CachedSelector, len(entries))
	keys := make([]string, 0, len(entries))
	for key, e := range entries {
		if e.Selector == "" {
			continue
		}
		sel := &types.CachedSelector{
			Selector:    e.Selector,
			Fingerprint: e.Fingerprint,
			LastUsed:    e.LastUsed,
			CreatedAt:   e.CreatedAt,
			LastAccess:  time.UnixMilli(e.LastAccessTime),
		}
		if m, ok := metrics[key]; ok && m.Attempts > 0 {
			sel.Attempts = m.Attempts
			sel.Successes = m.Successes
			if m.LastAccessTime > e.LastAccessTime {
				sel.LastAccess = time.UnixMilli(m.LastAccessTime)
			}
		} else {
			sel.Attempts = e.UsageCount
			sel.Successes = int(math.Round(float64(e.UsageCount) * e.SuccessRate))
		}
		if sel.Successes > sel.Attempts {
			sel.Successes = sel.Attempts
		}
		out[key] = sel
		keys = append(keys, key)
	}
	sort.SliceStable(keys, func(i, j int) bool {
		return out[keys[i]].LastAccess.After(out[keys[j]].LastAccess)
	})
	return keys, out, nil
}

func digest(parts ...[]byte) string {
	h := blake3.New()
	for _, p := range parts {
		_, _ = h.Write(p)
		_, _ = h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// StartWatcher reloads the cache whenever another process rewrites the
// snapshot. Writes made by this cache are recognized by digest and skipped.
func (c *FileCache) StartWatcher() error {
	c.watchMu.Lock()
	defer c.watchMu.Unlock()
	if c.watcher != nil {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(c.dir); err != nil {
		watcher.Close()
		return err
	}
	c.watcher = watcher
	c.stopWatcher = make(chan struct{})
	stop := c.stopWatcher

	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Base(event.Name) != EntriesFile {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				c.reloadIfChanged()
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Errorf("selector cache watcher error: %v", err)
			case <-stop:
				return
			}
		}
	}()
	return nil
}

// StopWatcher stops the snapshot watcher, if running.
func (c *FileCache) StopWatcher() {
	c.watchMu.Lock()
	defer c.watchMu.Unlock()
	if c.watcher == nil {
		return
	}
	close(c.stopWatcher)
	_ = c.watcher.Close()
	c.watcher = nil
}

// Watch runs the watcher until ctx is cancelled.
func (c *FileCache) Watch(ctx context.Context) error {
	if err := c.StartWatcher(); err != nil {
		return err
	}
	<-ctx.Done()
	c.StopWatcher()
	return ctx.Err()
}

func (c *FileCache) reloadIfChanged() {
	entriesData, metricsData, err := c.readSnapshot()
	if err != nil {
		return
	}
	c.saveMu.Lock()
	same := digest(entriesData, metricsData) == c.lastDigest
	c.saveMu.Unlock()
	if same {
		return
	}
	n := c.reload()
	log.Infof("selector cache reloaded after external change (entries: %d)", n)
}

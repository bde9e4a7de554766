// Copyright 2026 The autoheal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package cache

import (
	"container/list"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/traylinx/autoheal/internal/types"
)

// memoryEntry is one cached selector plus its LRU position.
type memoryEntry struct {
	key      string
	selector *types.CachedSelector

	// element is the LRU list element (for eviction)
	element *list.Element
}

// MemoryCache keeps selectors for the lifetime of the process. It is also the
// in-memory view the persistent backends write through.
type MemoryCache struct {
	// maxSize is the maximum number of entries
	maxSize int

	expireAfterWrite  time.Duration
	expireAfterAccess time.Duration

	// entries maps cache key to entry
	entries map[string]*memoryEntry

	// lruList maintains LRU order for eviction, most recent at the front
	lruList *list.List

	// mu protects concurrent access; reads reorder the LRU list so every
	// operation takes the write lock
	mu sync.Mutex

	metrics Metrics

	now func() time.Time
}

// NewMemoryCache creates an empty in-memory cache.
func NewMemoryCache(cfg *Config) *MemoryCache {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	maxSize := cfg.MaximumSize
	if maxSize <= 0 {
		maxSize = 10000
	}
	return &MemoryCache{
		maxSize:           maxSize,
		expireAfterWrite:  cfg.ExpireAfterWrite,
		expireAfterAccess: cfg.ExpireAfterAccess,
		entries:           make(map[string]*memoryEntry),
		lruList:           list.New(),
		metrics:           Metrics{PersistenceBackend: string(TypeMemory)},
		now:               time.Now,
	}
}

// WithClock replaces the cache's time source.
func (c *MemoryCache) WithClock(now func() time.Time) *MemoryCache {
	c.mu.Lock()
	c.now = now
	c.mu.Unlock()
	return c
}

// Get returns a copy of the entry and marks it accessed. Expired entries are
// dropped and reported as a miss.
func (c *MemoryCache) Get(key string) (*types.CachedSelector, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		c.metrics.Misses++
		log.Debugf("cache miss: %s", key)
		return nil, false
	}
	now := c.now()
	if e.selector.Expired(now, c.expireAfterWrite, c.expireAfterAccess) {
		c.removeLocked(e)
		c.metrics.ExpiredEvictions++
		c.metrics.Misses++
		log.Debugf("cache entry expired: %s", key)
		return nil, false
	}
	e.selector.LastAccess = now
	c.lruList.MoveToFront(e.element)
	c.metrics.Hits++
	log.Debugf("cache hit: %s", key)
	return e.selector.Clone(), true
}

// Put stores a copy of entry under key, replacing any previous entry. When
// the cache is full the least recently used entry is evicted first.
func (c *MemoryCache) Put(key string, entry *types.CachedSelector) {
	c.put(key, entry)
}

// put stores the entry and returns the keys evicted to make room.
func (c *MemoryCache) put(key string, entry *types.CachedSelector) []string {
	if entry == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	stored := entry.Clone()
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	if stored.LastUsed.IsZero() {
		stored.LastUsed = now
	}
	stored.LastAccess = now
	c.metrics.Puts++

	if e, ok := c.entries[key]; ok {
		e.selector = stored
		c.lruList.MoveToFront(e.element)
		return nil
	}
	var evicted []string
	for len(c.entries) >= c.maxSize {
		if k, ok := c.evictLRULocked(); ok {
			evicted = append(evicted, k)
		} else {
			break
		}
	}
	e := &memoryEntry{key: key, selector: stored}
	e.element = c.lruList.PushFront(e)
	c.entries[key] = e
	return evicted
}

// UpdateSuccess records one use of the entry. Unknown or expired keys are ignored.
func (c *MemoryCache) UpdateSuccess(key string, success bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return
	}
	now := c.now()
	if e.selector.Expired(now, c.expireAfterWrite, c.expireAfterAccess) {
		c.removeLocked(e)
		c.metrics.ExpiredEvictions++
		return
	}
	e.selector.RecordUsage(success, now)
	c.lruList.MoveToFront(e.element)
	c.metrics.Updates++
	log.Debugf("cache usage recorded: %s success=%t rate=%.2f", key, success, e.selector.SuccessRate())
}

// Remove deletes the entry and reports whether it existed.
func (c *MemoryCache) Remove(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return false
	}
	c.removeLocked(e)
	c.metrics.Removals++
	return true
}

// Size returns the number of stored entries, expired ones not yet evicted included.
func (c *MemoryCache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// EvictExpired drops every expired entry.
func (c *MemoryCache) EvictExpired() {
	c.evictExpired()
}

func (c *MemoryCache) evictExpired() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	var evicted []string
	for key, e := range c.entries {
		if e.selector.Expired(now, c.expireAfterWrite, c.expireAfterAccess) {
			c.removeLocked(e)
			evicted = append(evicted, key)
		}
	}
	c.metrics.ExpiredEvictions += int64(len(evicted))
	if len(evicted) > 0 {
		log.Debugf("evicted %d expired cache entries", len(evicted))
	}
	return evicted
}

// ClearAll removes every entry.
func (c *MemoryCache) ClearAll() {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := len(c.entries)
	c.entries = make(map[string]*memoryEntry)
	c.lruList = list.New()
	c.metrics.Removals += int64(n)
	log.Infof("cache cleared: %d entries removed", n)
}

// Metrics returns a snapshot of cache activity.
func (c *MemoryCache) Metrics() Metrics {
	c.mu.Lock()
	defer c.mu.Unlock()

	m := c.metrics
	m.Size = len(c.entries)
	if total := m.Hits + m.Misses; total > 0 {
		m.HitRate = float64(m.Hits) / float64(total)
	}
	return m
}

// Close is a no-op for the in-memory backend.
func (c *MemoryCache) Close() error { return nil }

// snapshot returns copies of every live entry, most recently used first.
func (c *MemoryCache) snapshot() ([]string, map[string]*types.CachedSelector) {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := make([]string, 0, len(c.entries))
	out := make(map[string]*types.CachedSelector, len(c.entries))
	for el := c.lruList.Front(); el != nil; el = el.Next() {
		e := el.Value.(*memoryEntry)
		keys = append(keys, e.key)
		out[e.key] = e.selector.Clone()
	}
	return keys, out
}

// Peek returns a copy of the entry without touching access time or metrics.
func (c *MemoryCache) Peek(key string) (*types.CachedSelector, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	return e.selector.Clone(), true
}

// load replaces the contents with entries read from persistent storage,
// preserving their timestamps. Expired entries are skipped. keys orders the
// entries from most to least recently used. It returns the number kept.
func (c *MemoryCache) load(keys []string, entries map[string]*types.CachedSelector) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]*memoryEntry, len(entries))
	c.lruList = list.New()
	now := c.now()
	for _, key := range keys {
		sel, ok := entries[key]
		if !ok || sel == nil {
			continue
		}
		if sel.Expired(now, c.expireAfterWrite, c.expireAfterAccess) {
			continue
		}
		if len(c.entries) >= c.maxSize {
			break
		}
		e := &memoryEntry{key: key, selector: sel.Clone()}
		e.element = c.lruList.PushBack(e)
		c.entries[key] = e
	}
	return len(c.entries)
}

// evictLRULocked removes the least recently used entry.
// Must be called with lock held.
func (c *MemoryCache) evictLRULocked() (string, bool) {
	oldest := c.lruList.Back()
	if oldest == nil {
		return "", false
	}
	e := oldest.Value.(*memoryEntry)
	c.removeLocked(e)
	c.metrics.CapacityEvictions++
	log.Debugf("cache capacity reached, evicted %s", e.key)
	return e.key, true
}

func (c *MemoryCache) removeLocked(e *memoryEntry) {
	delete(c.entries, e.key)
	c.lruList.Remove(e.element)
}

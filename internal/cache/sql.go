// Copyright 2026 The autoheal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package cache

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	_ "github.com/jackc/pgx/v5/stdlib" // PostgreSQL driver
	_ "github.com/mattn/go-sqlite3"    // SQLite driver
	log "github.com/sirupsen/logrus"

	"github.com/traylinx/autoheal/internal/types"
)

// Dialect is the SQL flavour of the backing database.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

const (
	sqlOpTimeout = 5 * time.Second

	sqlSchema = `CREATE TABLE IF NOT EXISTS autoheal_selector_cache (
		cache_key TEXT PRIMARY KEY,
		selector TEXT NOT NULL,
		attempts INTEGER NOT NULL,
		successes INTEGER NOT NULL,
		fingerprint TEXT,
		last_used_ms BIGINT NOT NULL,
		created_at_ms BIGINT NOT NULL,
		last_access_ms BIGINT NOT NULL
	)`

	sqlSelectAll = `SELECT cache_key, selector, attempts, successes, fingerprint, last_used_ms, created_at_ms, last_access_ms FROM autoheal_selector_cache ORDER BY last_access_ms DESC`

	sqlUpsert = `INSERT INTO autoheal_selector_cache (cache_key, selector, attempts, successes, fingerprint, last_used_ms, created_at_ms, last_access_ms) VALUES (?, ?, ?, ?, ?, ?, ?, ?) ON CONFLICT (cache_key) DO UPDATE SET selector = excluded.selector, attempts = excluded.attempts, successes = excluded.successes, fingerprint = excluded.fingerprint, last_used_ms = excluded.last_used_ms, created_at_ms = excluded.created_at_ms, last_access_ms = excluded.last_access_ms`

	sqlDelete = `DELETE FROM autoheal_selector_cache WHERE cache_key = ?`

	sqlDeleteAll = `DELETE FROM autoheal_selector_cache`
)

// SQLCache is a MemoryCache backed by a SQL table. Reads are served from
// memory; every mutation is written through to the table. Database errors are
// logged and counted, and the in-memory view stays authoritative.
type SQLCache struct {
	mem     *MemoryCache
	db      *sql.DB
	dialect Dialect
	ownsDB  bool

	// writeMu orders each memory mutation with its database write.
	writeMu sync.Mutex

	persistErrors atomic.Int64
}

// NewSQLCache opens cfg.SQLDSN with the sqlite3 or pgx driver.
func NewSQLCache(cfg *Config) (*SQLCache, error) {
	driver, dialect, err := resolveDriver(cfg.SQLDriver)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open(driver, cfg.SQLDSN)
	if err != nil {
		return nil, &types.CacheError{Op: "open", Cause: err}
	}
	if dialect == DialectSQLite {
		db.SetMaxOpenConns(1) // SQLite works best with a single connection
		db.SetMaxIdleConns(1)
	}
	c, err := NewSQLCacheFromDB(db, dialect, cfg)
	if err != nil {
		db.Close()
		return nil, err
	}
	c.ownsDB = true
	return c, nil
}

// NewSQLCacheFromDB uses an already opened database. The caller keeps
// ownership of db.
func NewSQLCacheFromDB(db *sql.DB, dialect Dialect, cfg *Config) (*SQLCache, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	c := &SQLCache{
		mem:     NewMemoryCache(cfg),
		db:      db,
		dialect: dialect,
	}
	c.mem.metrics.PersistenceBackend = string(TypeSQL)

	ctx, cancel := context.WithTimeout(context.Background(), sqlOpTimeout)
	defer cancel()
	if _, err := db.ExecContext(ctx, sqlSchema); err != nil {
		return nil, &types.CacheError{Op: "create schema", Cause: err}
	}
	n, err := c.load(ctx)
	if err != nil {
		log.Warnf("selector cache table unreadable, starting empty: %v", err)
		c.persistErrors.Add(1)
	}
	log.Infof("sql selector cache initialized (dialect: %s, entries: %d)", dialect, n)
	return c, nil
}

// WithClock replaces the cache's time source.
func (c *SQLCache) WithClock(now func() time.Time) *SQLCache {
	c.mem.WithClock(now)
	return c
}

func resolveDriver(name string) (string, Dialect, error) {
	switch strings.ToLower(name) {
	case "", "sqlite", "sqlite3":
		return "sqlite3", DialectSQLite, nil
	case "pgx", "postgres", "postgresql":
		return "pgx", DialectPostgres, nil
	}
	return "", "", types.NewConfigurationError("cache.sql-driver", fmt.Sprintf("unsupported driver %q", name))
}

func (c *SQLCache) load(ctx context.Context) (int, error) {
	rows, err := c.db.QueryContext(ctx, c.rebind(sqlSelectAll))
	if err != nil {
		return c.mem.load(nil, nil), err
	}
	defer rows.Close()

	var keys []string
	entries := make(map[string]*types.CachedSelector)
	for rows.Next() {
		var (
			key, selector                     string
			attempts, successes               int
			fingerprint                       sql.NullString
			lastUsedMs, createdMs, accessedMs int64
		)
		if err := rows.Scan(&key, &selector, &attempts, &successes, &fingerprint, &lastUsedMs, &createdMs, &accessedMs); err != nil {
			return c.mem.load(nil, nil), err
		}
		sel := &types.CachedSelector{
			Selector:   selector,
			Attempts:   attempts,
			Successes:  successes,
			LastUsed:   time.UnixMilli(lastUsedMs),
			CreatedAt:  time.UnixMilli(createdMs),
			LastAccess: time.UnixMilli(accessedMs),
		}
		if fingerprint.Valid && fingerprint.String != "" {
			var fp types.ElementFingerprint
			if err := json.Unmarshal([]byte(fingerprint.String), &fp); err == nil {
				sel.Fingerprint = &fp
			}
		}
		keys = append(keys, key)
		entries[key] = sel
	}
	if err := rows.Err(); err != nil {
		return c.mem.load(nil, nil), err
	}
	return c.mem.load(keys, entries), nil
}

func (c *SQLCache) Get(key string) (*types.CachedSelector, bool) {
	return c.mem.Get(key)
}

func (c *SQLCache) Peek(key string) (*types.CachedSelector, bool) {
	return c.mem.Peek(key)
}

func (c *SQLCache) Put(key string, entry *types.CachedSelector) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	evicted := c.mem.put(key, entry)
	for _, k := range evicted {
		c.exec("evict", sqlDelete, k)
	}
	c.upsertLocked(key)
}

func (c *SQLCache) UpdateSuccess(key string, success bool) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.mem.UpdateSuccess(key, success)
	c.upsertLocked(key)
}

func (c *SQLCache) Remove(key string) bool {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if !c.mem.Remove(key) {
		return false
	}
	c.exec("remove", sqlDelete, key)
	return true
}

func (c *SQLCache) Size() int { return c.mem.Size() }

func (c *SQLCache) EvictExpired() {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	for _, k := range c.mem.evictExpired() {
		c.exec("evict", sqlDelete, k)
	}
}

func (c *SQLCache) ClearAll() {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.mem.ClearAll()
	c.exec("clear", sqlDeleteAll)
}

func (c *SQLCache) Metrics() Metrics {
	m := c.mem.Metrics()
	m.PersistenceErrors = c.persistErrors.Load()
	return m
}

// Close closes the database when the cache opened it.
func (c *SQLCache) Close() error {
	if !c.ownsDB {
		return nil
	}
	return c.db.Close()
}

// upsertLocked writes the current in-memory state of key. Keys no longer in
// memory are left alone. The caller holds writeMu.
func (c *SQLCache) upsertLocked(key string) {
	sel, ok := c.mem.Peek(key)
	if !ok {
		return
	}
	var fingerprint any
	if sel.Fingerprint != nil {
		data, err := json.Marshal(sel.Fingerprint)
		if err == nil {
			fingerprint = string(data)
		}
	}
	c.exec("save", sqlUpsert,
		key, sel.Selector, sel.Attempts, sel.Successes, fingerprint,
		sel.LastUsed.UnixMilli(), sel.CreatedAt.UnixMilli(), sel.LastAccess.UnixMilli())
}

func (c *SQLCache) exec(op, query string, args ...any) {
	ctx, cancel := context.WithTimeout(context.Background(), sqlOpTimeout)
	defer cancel()
	if _, err := c.db.ExecContext(ctx, c.rebind(query), args...); err != nil {
		c.persistErrors.Add(1)
		log.Warn((&types.CacheError{Op: op, Cause: err}).Error())
	}
}

// rebind rewrites ? placeholders as $1, $2, ... for PostgreSQL.
func (c *SQLCache) rebind(query string) string {
	if c.dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

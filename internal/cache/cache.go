// Copyright 2026 The autoheal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package cache stores healed selectors keyed by original selector and
// description. Entries expire at the earlier of their write and access
// deadlines and the cache is bounded by size with LRU eviction.
//
// Backends share one contract: an in-memory store, a JSON file snapshot, a SQL
// table, or nothing at all. Persistence failures are logged and counted but
// never surface to callers and never disturb the in-memory view.
package cache

import (
	"fmt"
	"strings"
	"time"

	"github.com/traylinx/autoheal/internal/types"
)

// SelectorCache is the contract every backend implements. Returned entries
// are copies; mutating them does not affect the cache.
type SelectorCache interface {
	Get(key string) (*types.CachedSelector, bool)
	// Peek is Get without touching access time or hit metrics.
	Peek(key string) (*types.CachedSelector, bool)
	Put(key string, entry *types.CachedSelector)
	UpdateSuccess(key string, success bool)
	Remove(key string) bool
	Size() int
	EvictExpired()
	ClearAll()
	Metrics() Metrics
	Close() error
}

// Type selects a backend.
type Type string

const (
	TypeMemory Type = "memory"
	TypeFile   Type = "file"
	TypeSQL    Type = "sql"
	TypeNone   Type = "none"
)

// Config holds cache settings.
type Config struct {
	Type              Type
	MaximumSize       int
	ExpireAfterWrite  time.Duration
	ExpireAfterAccess time.Duration

	// Directory holds the file backend's snapshot files.
	Directory string

	// Watch reloads the file backend when another process rewrites it.
	Watch bool

	// SQLDriver is "sqlite3" or "pgx".
	SQLDriver string
	SQLDSN    string
}

// DefaultConfig returns the default cache configuration.
func DefaultConfig() *Config {
	return &Config{
		Type:              TypeMemory,
		MaximumSize:       10000,
		ExpireAfterWrite:  24 * time.Hour,
		ExpireAfterAccess: 2 * time.Hour,
		SQLDriver:         "sqlite3",
	}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch c.Type {
	case TypeMemory, TypeFile, TypeSQL, TypeNone:
	default:
		return types.NewConfigurationError("cache.type", fmt.Sprintf("unknown cache type %q", c.Type))
	}
	if c.MaximumSize < 1 && c.Type != TypeNone {
		return types.NewConfigurationError("cache.maximum-size", "must be positive")
	}
	if c.ExpireAfterWrite < 0 || c.ExpireAfterAccess < 0 {
		return types.NewConfigurationError("cache.expire-after", "must not be negative")
	}
	if c.Type == TypeSQL {
		switch strings.ToLower(c.SQLDriver) {
		case "sqlite3", "sqlite", "pgx", "postgres":
		default:
			return types.NewConfigurationError("cache.sql-driver", fmt.Sprintf("unsupported driver %q", c.SQLDriver))
		}
		if c.SQLDSN == "" {
			return types.NewConfigurationError("cache.sql-dsn", "required for the sql backend")
		}
	}
	return nil
}

// New builds the backend named by cfg.Type.
func New(cfg *Config) (SelectorCache, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch cfg.Type {
	case TypeFile:
		return NewFileCache(cfg)
	case TypeSQL:
		return NewSQLCache(cfg)
	case TypeNone:
		return NoopCache{}, nil
	default:
		return NewMemoryCache(cfg), nil
	}
}

// Metrics is a snapshot of cache activity.
type Metrics struct {
	Hits               int64   `json:"hits"`
	Misses             int64   `json:"misses"`
	Puts               int64   `json:"puts"`
	Updates            int64   `json:"updates"`
	Removals           int64   `json:"removals"`
	ExpiredEvictions   int64   `json:"expired_evictions"`
	CapacityEvictions  int64   `json:"capacity_evictions"`
	Size               int     `json:"size"`
	HitRate            float64 `json:"hit_rate"`
	PersistenceErrors  int64   `json:"persistence_errors"`
	PersistenceBackend string  `json:"persistence_backend"`
}

// Evictions is the total number of entries dropped by expiry or capacity.
func (m Metrics) Evictions() int64 {
	return m.ExpiredEvictions + m.CapacityEvictions
}

// NoopCache stores nothing. It backs the "none" cache type.
type NoopCache struct{}

func (NoopCache) Get(string) (*types.CachedSelector, bool)  { return nil, false }
func (NoopCache) Peek(string) (*types.CachedSelector, bool) { return nil, false }
func (NoopCache) Put(string, *types.CachedSelector)         {}
func (NoopCache) UpdateSuccess(string, bool)                {}
func (NoopCache) Remove(string) bool                        { return false }
func (NoopCache) Size() int                                 { return 0 }
func (NoopCache) EvictExpired()                             {}
func (NoopCache) ClearAll()                                 {}
func (NoopCache) Metrics() Metrics                          { return Metrics{PersistenceBackend: string(TypeNone)} }
func (NoopCache) Close() error                              { return nil }

// Copyright 2026 The autoheal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package config

import (
	"errors"
	"time"

	"github.com/traylinx/autoheal/internal/cache"
	"github.com/traylinx/autoheal/internal/resilience"
	"github.com/traylinx/autoheal/internal/types"
	"github.com/traylinx/autoheal/internal/util"
)

// QuickCheckTimeout returns the quick-check bound as a time.Duration.
func (cfg *Config) QuickCheckTimeout() time.Duration {
	if cfg == nil {
		return 500 * time.Millisecond
	}
	return parseDuration(cfg.Performance.QuickCheckTimeout, 500*time.Millisecond)
}

// ElementTimeout returns the bound on loading the page before resolving.
func (cfg *Config) ElementTimeout() time.Duration {
	if cfg == nil {
		return 10 * time.Second
	}
	return parseDuration(cfg.Performance.ElementTimeout, 10*time.Second)
}

// AIRequestTimeout returns the per-call bound for the AI provider.
func (cfg *Config) AIRequestTimeout() time.Duration {
	if cfg == nil {
		return 30 * time.Second
	}
	return parseDuration(cfg.AI.RequestTimeout, 30*time.Second)
}

// ExecutionStrategy parses performance.execution-strategy.
func (cfg *Config) ExecutionStrategy() (types.ExecutionStrategy, error) {
	s, err := types.ParseExecutionStrategy(cfg.Performance.ExecutionStrategy)
	var cfgErr *types.ConfigurationError
	if errors.As(err, &cfgErr) {
		return "", types.NewConfigurationError("performance.execution-strategy", cfgErr.Message)
	}
	return s, err
}

// StateBox returns the state directory manager for cfg.StateDir.
func (cfg *Config) StateBox() (*util.StateBox, error) {
	if cfg == nil {
		return util.NewStateBox()
	}
	return util.NewStateBoxAt(cfg.StateDir)
}

// ResolvedLogDir returns log-dir, or the logs directory under the state root.
func (cfg *Config) ResolvedLogDir() (string, error) {
	sb, err := cfg.StateBox()
	if err != nil {
		return "", err
	}
	if cfg.LogDir != "" {
		return sb.ResolvePath(cfg.LogDir), nil
	}
	return sb.LogsDir(), nil
}

// CacheSettings converts the cache section into a cache.Config.
func (cfg *Config) CacheSettings() *cache.Config {
	def := cache.DefaultConfig()
	c := &cache.Config{
		Type:              cache.Type(cfg.Cache.Type),
		MaximumSize:       cfg.Cache.MaximumSize,
		ExpireAfterWrite:  parseDuration(cfg.Cache.ExpireAfterWrite, def.ExpireAfterWrite),
		ExpireAfterAccess: parseDuration(cfg.Cache.ExpireAfterAccess, def.ExpireAfterAccess),
		Directory:         cfg.Cache.Directory,
		Watch:             cfg.Cache.Watch,
		SQLDriver:         cfg.Cache.SQLDriver,
		SQLDSN:            cfg.Cache.SQLDSN,
	}
	// Relative directories resolve against the configured state root.
	if cfg.StateDir != "" {
		if sb, err := cfg.StateBox(); err == nil {
			if c.Directory == "" {
				c.Directory = sb.CacheDir()
			} else {
				c.Directory = sb.ResolvePath(c.Directory)
			}
		}
	}
	return c
}

// BreakerSettings converts the resilience section into a breaker configuration.
func (cfg *Config) BreakerSettings() *resilience.BreakerConfig {
	def := resilience.DefaultBreakerConfig()
	return &resilience.BreakerConfig{
		FailureThreshold: cfg.Resilience.CircuitBreakerFailureThreshold,
		Timeout:          parseDuration(cfg.Resilience.CircuitBreakerTimeout, def.Timeout),
	}
}

// RetrySettings converts the resilience section into a retry configuration.
func (cfg *Config) RetrySettings() *resilience.RetryConfig {
	def := resilience.DefaultRetryConfig()
	return &resilience.RetryConfig{
		MaxAttempts: cfg.Resilience.RetryMaxAttempts,
		BaseDelay:   parseDuration(cfg.Resilience.RetryDelay, def.BaseDelay),
		MaxDelay:    parseDuration(cfg.Resilience.RetryMaxDelay, def.MaxDelay),
	}
}

// LocatorOptions returns the per-request defaults.
func (cfg *Config) LocatorOptions() types.Options {
	return types.Options{
		Timeout:              parseDuration(cfg.Locator.Timeout, 10*time.Second),
		EnableCaching:        cfg.Locator.EnableCaching,
		EnableVisualAnalysis: cfg.Locator.EnableVisualAnalysis,
		ConfidenceThreshold:  cfg.Locator.ConfidenceThreshold,
		MaxCandidates:        cfg.Locator.MaxCandidates,
	}
}

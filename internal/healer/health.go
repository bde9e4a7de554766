// Copyright 2026 The autoheal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package healer

import (
	"time"

	"github.com/traylinx/autoheal/internal/cache"
	"github.com/traylinx/autoheal/internal/metrics"
	"github.com/traylinx/autoheal/internal/resilience"
	"github.com/traylinx/autoheal/internal/types"
)

// Health is a point-in-time report of the orchestrator and the AI path.
type Health struct {
	Healthy        bool                     `json:"is_healthy"`
	Provider       string                   `json:"provider,omitempty"`
	Locator        *metrics.LocatorSnapshot `json:"locator"`
	AI             *metrics.AISnapshot      `json:"ai,omitempty"`
	CircuitBreaker *resilience.Snapshot     `json:"circuit_breaker,omitempty"`
	Cache          cache.Metrics            `json:"cache"`
	Timestamp      time.Time                `json:"timestamp"`
}

// Health reports metrics and whether the AI path is usable. Without an AI
// path the healer is always healthy.
func (h *Healer) Health() *Health {
	out := &Health{
		Healthy:   true,
		Locator:   h.metrics.Snapshot(),
		Cache:     h.cache.Metrics(),
		Timestamp: h.now(),
	}
	if h.ai != nil {
		snap := h.ai.Breaker().Snapshot()
		out.Healthy = h.ai.IsHealthy()
		out.Provider = h.ai.ProviderName()
		out.AI = h.ai.Metrics()
		out.CircuitBreaker = &snap
	}
	return out
}

// Metrics returns the resolution counters.
func (h *Healer) Metrics() *metrics.LocatorSnapshot { return h.metrics.Snapshot() }

// ResetMetrics clears the resolution counters.
func (h *Healer) ResetMetrics() { h.metrics.Reset() }

// ClearCache drops every cached selector.
func (h *Healer) ClearCache() { h.cache.ClearAll() }

// RemoveCached drops the entry for a selector and description.
func (h *Healer) RemoveCached(sel, description string) bool {
	return h.cache.Remove(types.CacheKey(sel, description))
}

// CacheSize is the number of cached selectors.
func (h *Healer) CacheSize() int { return h.cache.Size() }

// CacheMetrics returns the cache counters.
func (h *Healer) CacheMetrics() cache.Metrics { return h.cache.Metrics() }

// EvictExpired drops cache entries past either TTL.
func (h *Healer) EvictExpired() { h.cache.EvictExpired() }

// Close releases the cache. Later resolutions fail with ErrClosed.
func (h *Healer) Close() error {
	if h.closed.Swap(true) {
		return nil
	}
	return h.cache.Close()
}

// Copyright 2026 The autoheal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package metrics provides observability counters for autoheal.
// Locator tracks resolutions end to end and AI tracks calls made through the
// resilient AI service. Both are safe for concurrent use and expose
// point-in-time snapshots that can be serialized by the management API.
package metrics

import (
	"sync"
	"sync/atomic"
	"time"
)

const defaultMaxSamples = 1000

// Locator tracks element resolution requests.
type Locator struct {
	requests  atomic.Int64
	successes atomic.Int64
	failures  atomic.Int64
	cacheHits atomic.Int64

	// Successes by strategy tag
	byStrategyMu sync.RWMutex
	byStrategy   map[string]int64

	latency *latencyWindow

	startTime time.Time
}

// NewLocator creates a Locator keeping at most maxSamples latency measurements.
func NewLocator(maxSamples int) *Locator {
	return &Locator{
		byStrategy: make(map[string]int64),
		latency:    newLatencyWindow(maxSamples),
		startTime:  time.Now(),
	}
}

// RecordSuccess counts a resolved request.
func (m *Locator) RecordSuccess(strategy string, fromCache bool, elapsed time.Duration) {
	m.requests.Add(1)
	m.successes.Add(1)
	if fromCache {
		m.cacheHits.Add(1)
	}
	m.byStrategyMu.Lock()
	m.byStrategy[strategy]++
	m.byStrategyMu.Unlock()
	m.latency.record(elapsed)
}

// RecordFailure counts a request that exhausted every strategy.
func (m *Locator) RecordFailure(elapsed time.Duration) {
	m.requests.Add(1)
	m.failures.Add(1)
	m.latency.record(elapsed)
}

// Snapshot returns a point-in-time view of the locator metrics.
func (m *Locator) Snapshot() *LocatorSnapshot {
	m.byStrategyMu.RLock()
	byStrategy := make(map[string]int64, len(m.byStrategy))
	for k, v := range m.byStrategy {
		byStrategy[k] = v
	}
	m.byStrategyMu.RUnlock()

	s := &LocatorSnapshot{
		Requests:      m.requests.Load(),
		Successes:     m.successes.Load(),
		Failures:      m.failures.Load(),
		CacheHits:     m.cacheHits.Load(),
		ByStrategy:    byStrategy,
		LatencyStats:  m.latency.stats(),
		UptimeSeconds: int64(time.Since(m.startTime).Seconds()),
		Timestamp:     time.Now(),
	}
	s.SuccessRate = ratio(s.Successes, s.Requests)
	s.CacheHitRate = ratio(s.CacheHits, s.Requests)
	return s
}

// Reset clears all counters.
func (m *Locator) Reset() {
	m.requests.Store(0)
	m.successes.Store(0)
	m.failures.Store(0)
	m.cacheHits.Store(0)
	m.byStrategyMu.Lock()
	m.byStrategy = make(map[string]int64)
	m.byStrategyMu.Unlock()
	m.latency.reset()
	m.startTime = time.Now()
}

// LocatorSnapshot is safe to serialize and expose via API endpoints.
type LocatorSnapshot struct {
	Requests     int64            `json:"total_requests"`
	Successes    int64            `json:"successful_requests"`
	Failures     int64            `json:"failed_requests"`
	CacheHits    int64            `json:"cache_hits"`
	SuccessRate  float64          `json:"success_rate"`
	CacheHitRate float64          `json:"cache_hit_rate"`
	ByStrategy   map[string]int64 `json:"by_strategy"`
	LatencyStats LatencyStats     `json:"latency_stats"`

	UptimeSeconds int64     `json:"uptime_seconds"`
	Timestamp     time.Time `json:"timestamp"`
}

// LatencyStats summarizes the retained latency samples.
type LatencyStats struct {
	AverageMs int64 `json:"average_ms"`
	MinMs     int64 `json:"min_ms"`
	MaxMs     int64 `json:"max_ms"`
	Samples   int64 `json:"samples"`
}

// latencyWindow keeps the most recent samples in milliseconds.
type latencyWindow struct {
	mu         sync.RWMutex
	samples    []int64
	maxSamples int
}

func newLatencyWindow(maxSamples int) *latencyWindow {
	if maxSamples <= 0 {
		maxSamples = defaultMaxSamples
	}
	return &latencyWindow{samples: make([]int64, 0, maxSamples), maxSamples: maxSamples}
}

func (w *latencyWindow) record(d time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.samples = append(w.samples, d.Milliseconds())
	if len(w.samples) > w.maxSamples {
		w.samples = w.samples[len(w.samples)-w.maxSamples:]
	}
}

func (w *latencyWindow) stats() LatencyStats {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if len(w.samples) == 0 {
		return LatencyStats{}
	}
	var sum int64
	lo, hi := w.samples[0], w.samples[0]
	for _, s := range w.samples {
		sum += s
		lo = min(lo, s)
		hi = max(hi, s)
	}
	return LatencyStats{
		AverageMs: sum / int64(len(w.samples)),
		MinMs:     lo,
		MaxMs:     hi,
		Samples:   int64(len(w.samples)),
	}
}

func (w *latencyWindow) reset() {
	w.mu.Lock()
	w.samples = make([]int64, 0, w.maxSamples)
	w.mu.Unlock()
}

func ratio(n, d int64) float64 {
	if d == 0 {
		return 0
	}
	return float64(n) / float64(d)
}

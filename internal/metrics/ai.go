// Copyright 2026 The autoheal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package metrics

import (
	"sync/atomic"
	"time"
)

// Request kinds recorded by AI.
const (
	KindDOM          = "dom"
	KindVisual       = "visual"
	KindDisambiguate = "disambiguate"
)

// AI tracks calls made through the resilient AI service. One call is one
// logical request, however many retries it took.
type AI struct {
	requests      atomic.Int64
	successes     atomic.Int64
	failures      atomic.Int64
	circuitOpen   atomic.Int64
	tokens        atomic.Int64
	domCalls      atomic.Int64
	visualCalls   atomic.Int64
	disambiguates atomic.Int64

	latency *latencyWindow
}

// NewAI creates an AI metrics recorder.
func NewAI(maxSamples int) *AI {
	return &AI{latency: newLatencyWindow(maxSamples)}
}

// RecordRequest counts one logical call of the given kind.
func (m *AI) RecordRequest(kind string, success bool, tokens int, elapsed time.Duration) {
	m.requests.Add(1)
	if success {
		m.successes.Add(1)
	} else {
		m.failures.Add(1)
	}
	m.tokens.Add(int64(tokens))
	switch kind {
	case KindDOM:
		m.domCalls.Add(1)
	case KindVisual:
		m.visualCalls.Add(1)
	case KindDisambiguate:
		m.disambiguates.Add(1)
	}
	m.latency.record(elapsed)
}

// RecordCircuitOpen counts a call rejected without reaching the provider.
func (m *AI) RecordCircuitOpen() {
	m.circuitOpen.Add(1)
}

// SuccessRate is successes over requests. With no requests yet it is 1.
func (m *AI) SuccessRate() float64 {
	requests := m.requests.Load()
	if requests == 0 {
		return 1
	}
	return float64(m.successes.Load()) / float64(requests)
}

// Snapshot returns a point-in-time view of the AI metrics.
func (m *AI) Snapshot() *AISnapshot {
	return &AISnapshot{
		Requests:              m.requests.Load(),
		Successes:             m.successes.Load(),
		Failures:              m.failures.Load(),
		CircuitOpenRejections: m.circuitOpen.Load(),
		TokensUsed:            m.tokens.Load(),
		DOMRequests:           m.domCalls.Load(),
		VisualRequests:        m.visualCalls.Load(),
		DisambiguateRequests:  m.disambiguates.Load(),
		SuccessRate:           m.SuccessRate(),
		LatencyStats:          m.latency.stats(),
	}
}

// AISnapshot is safe to serialize and expose via API endpoints.
type AISnapshot struct {
	Requests              int64        `json:"total_requests"`
	Successes             int64        `json:"successful_requests"`
	Failures              int64        `json:"failed_requests"`
	CircuitOpenRejections int64        `json:"circuit_open_rejections"`
	TokensUsed            int64        `json:"tokens_used"`
	DOMRequests           int64        `json:"dom_requests"`
	VisualRequests        int64        `json:"visual_requests"`
	DisambiguateRequests  int64        `json:"disambiguate_requests"`
	SuccessRate           float64      `json:"success_rate"`
	LatencyStats          LatencyStats `json:"latency_stats"`
}

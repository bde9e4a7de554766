// Copyright 2026 The autoheal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package resilience provides the circuit breaker and retry policy that guard
// the AI calling path.
package resilience

import (
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// State is a circuit breaker state.
type State string

const (
	// StateClosed admits every call.
	StateClosed State = "CLOSED"

	// StateOpen rejects calls until the timeout window has passed.
	StateOpen State = "OPEN"

	// StateHalfOpen admits probe calls; the next outcome decides the state.
	StateHalfOpen State = "HALF_OPEN"
)

// BreakerConfig holds circuit breaker settings.
type BreakerConfig struct {
	// FailureThreshold is the cumulative failure count that opens the breaker.
	FailureThreshold int

	// Timeout is how long the breaker stays open after the last failure.
	Timeout time.Duration
}

// DefaultBreakerConfig returns the default circuit breaker configuration.
func DefaultBreakerConfig() *BreakerConfig {
	return &BreakerConfig{
		FailureThreshold: 5,
		Timeout:          5 * time.Minute,
	}
}

// CircuitBreaker fails fast after repeated failures and lets a probe through
// once the timeout window has elapsed. The failure counter is cumulative: only
// a success resets it.
type CircuitBreaker struct {
	mu sync.Mutex

	threshold int
	timeout   time.Duration

	state           State
	failureCount    int
	lastFailureTime time.Time

	now func() time.Time
}

// NewCircuitBreaker creates a closed circuit breaker.
func NewCircuitBreaker(cfg *BreakerConfig) *CircuitBreaker {
	if cfg == nil {
		cfg = DefaultBreakerConfig()
	}
	threshold := cfg.FailureThreshold
	if threshold < 1 {
		threshold = 1
	}
	return &CircuitBreaker{
		threshold: threshold,
		timeout:   cfg.Timeout,
		state:     StateClosed,
		now:       time.Now,
	}
}

// WithClock replaces the breaker's time source.
func (b *CircuitBreaker) WithClock(now func() time.Time) *CircuitBreaker {
	b.mu.Lock()
	b.now = now
	b.mu.Unlock()
	return b
}

// CanExecute reports whether a call may proceed. An open breaker whose
// timeout has elapsed moves to half-open and admits the call.
func (b *CircuitBreaker) CanExecute() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed, StateHalfOpen:
		return true
	}
	if b.now().Sub(b.lastFailureTime) >= b.timeout {
		b.state = StateHalfOpen
		log.Info("circuit breaker half-open, admitting probe call")
		return true
	}
	return false
}

// RecordSuccess resets the failure count and closes the breaker.
func (b *CircuitBreaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != StateClosed {
		log.Info("circuit breaker closed")
	}
	b.failureCount = 0
	b.state = StateClosed
}

// RecordFailure counts a failure and opens the breaker once the threshold is
// reached. A failure while half-open reopens it immediately.
func (b *CircuitBreaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failureCount++
	b.lastFailureTime = b.now()
	if b.state == StateHalfOpen || b.failureCount >= b.threshold {
		if b.state != StateOpen {
			log.WithFields(log.Fields{
				"failures":  b.failureCount,
				"threshold": b.threshold,
				"timeout":   b.timeout,
			}).Warn("circuit breaker opened")
		}
		b.state = StateOpen
	}
}

// State returns the current state without triggering a transition.
func (b *CircuitBreaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// FailureCount returns the cumulative failure count.
func (b *CircuitBreaker) FailureCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failureCount
}

// RetryAfter returns how long until an open breaker admits a probe, or 0.
func (b *CircuitBreaker) RetryAfter() time.Duration {
	return b.Snapshot().RetryAfter
}

// Reset forces the breaker closed and clears its history.
func (b *CircuitBreaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateClosed
	b.failureCount = 0
	b.lastFailureTime = time.Time{}
}

// Snapshot is a point-in-time view of the breaker.
type Snapshot struct {
	State           State         `json:"state"`
	FailureCount    int           `json:"failure_count"`
	LastFailureTime time.Time     `json:"last_failure_time,omitempty"`
	RetryAfter      time.Duration `json:"retry_after"`
}

// Snapshot returns the breaker's state for health reporting.
func (b *CircuitBreaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := Snapshot{State: b.state, FailureCount: b.failureCount, LastFailureTime: b.lastFailureTime}
	if b.state == StateOpen {
		if remaining := b.timeout - b.now().Sub(b.lastFailureTime); remaining > 0 {
			s.RetryAfter = remaining
		}
	}
	return s
}

func (b *CircuitBreaker) String() string {
	s := b.Snapshot()
	return fmt.Sprintf("CircuitBreaker{state=%s, failures=%d/%d}", s.State, s.FailureCount, b.threshold)
}

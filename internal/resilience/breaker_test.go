package resilience

import (
	"sync"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestCircuitBreaker_Lifecycle(t *testing.T) {
	clock := newFakeClock()
	b := NewCircuitBreaker(&BreakerConfig{FailureThreshold: 3, Timeout: time.Minute}).WithClock(clock.Now)

	assert.Equal(t, StateClosed, b.State())
	assert.True(t, b.CanExecute())

	b.RecordFailure()
	b.RecordFailure()
	assert.Equal(t, StateClosed, b.State())
	assert.True(t, b.CanExecute())

	b.RecordFailure()
	assert.Equal(t, StateOpen, b.State())
	assert.False(t, b.CanExecute())
	assert.Equal(t, time.Minute, b.RetryAfter())

	clock.Advance(30 * time.Second)
	assert.False(t, b.CanExecute())
	assert.Equal(t, 30*time.Second, b.RetryAfter())

	clock.Advance(30 * time.Second)
	assert.True(t, b.CanExecute())
	assert.Equal(t, StateHalfOpen, b.State())

	// A failed probe reopens the breaker.
	b.RecordFailure()
	assert.Equal(t, StateOpen, b.State())
	assert.False(t, b.CanExecute())

	clock.Advance(time.Minute)
	assert.True(t, b.CanExecute())
	b.RecordSuccess()
	assert.Equal(t, StateClosed, b.State())
	assert.Equal(t, 0, b.FailureCount())
}

func TestCircuitBreaker_CountIsCumulative(t *testing.T) {
	clock := newFakeClock()
	b := NewCircuitBreaker(&BreakerConfig{FailureThreshold: 2, Timeout: time.Minute}).WithClock(clock.Now)

	b.RecordFailure()
	clock.Advance(24 * time.Hour)
	b.RecordFailure()
	assert.Equal(t, StateOpen, b.State(), "time alone never resets the counter")
}

func TestCircuitBreaker_Reset(t *testing.T) {
	b := NewCircuitBreaker(&BreakerConfig{FailureThreshold: 1, Timeout: time.Hour})
	b.RecordFailure()
	assert.False(t, b.CanExecute())

	b.Reset()
	assert.True(t, b.CanExecute())
	assert.Equal(t, StateClosed, b.State())
	assert.Contains(t, b.String(), "CLOSED")
}

func TestCircuitBreaker_Concurrent(t *testing.T) {
	b := NewCircuitBreaker(&BreakerConfig{FailureThreshold: 1000, Timeout: time.Hour})
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				b.CanExecute()
				b.RecordFailure()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 500, b.FailureCount())
	assert.Equal(t, StateClosed, b.State())
}

func TestProperty_BreakerOpensAtThresholdAndProbesAfterTimeout(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("threshold failures block until timeout, then success closes", prop.ForAll(
		func(threshold int, timeoutSec int) bool {
			clock := newFakeClock()
			timeout := time.Duration(timeoutSec) * time.Second
			b := NewCircuitBreaker(&BreakerConfig{FailureThreshold: threshold, Timeout: timeout}).WithClock(clock.Now)

			for i := 0; i < threshold; i++ {
				if !b.CanExecute() {
					return false
				}
				b.RecordFailure()
			}
			if b.CanExecute() {
				return false
			}
			clock.Advance(timeout - time.Millisecond)
			if b.CanExecute() {
				return false
			}
			clock.Advance(time.Millisecond)
			if !b.CanExecute() || b.State() != StateHalfOpen {
				return false
			}
			b.RecordSuccess()
			return b.State() == StateClosed && b.FailureCount() == 0
		},
		gen.IntRange(1, 20),
		gen.IntRange(1, 600),
	))

	properties.TestingRun(t, gopter.ConsoleReporter(false))
}

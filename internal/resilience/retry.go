// Copyright 2026 The autoheal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package resilience

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
)

// RetryConfig holds retry policy settings.
type RetryConfig struct {
	// MaxAttempts is the total number of attempts, the first one included.
	MaxAttempts int

	// BaseDelay is the wait before the second attempt; it doubles afterwards.
	BaseDelay time.Duration

	// MaxDelay caps a single wait. Zero means no cap.
	MaxDelay time.Duration
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		MaxDelay:    30 * time.Second,
	}
}

// RetryPolicy retries transient failures with exponential backoff.
type RetryPolicy struct {
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration

	sleep func(ctx context.Context, d time.Duration) error
}

// NewRetryPolicy creates a retry policy.
func NewRetryPolicy(cfg *RetryConfig) *RetryPolicy {
	if cfg == nil {
		cfg = DefaultRetryConfig()
	}
	attempts := cfg.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	return &RetryPolicy{
		maxAttempts: attempts,
		baseDelay:   cfg.BaseDelay,
		maxDelay:    cfg.MaxDelay,
		sleep:       sleepContext,
	}
}

// WithSleep replaces the function used to wait between attempts.
func (p *RetryPolicy) WithSleep(sleep func(ctx context.Context, d time.Duration) error) *RetryPolicy {
	p.sleep = sleep
	return p
}

// MaxAttempts returns the total attempt budget.
func (p *RetryPolicy) MaxAttempts() int { return p.maxAttempts }

// Backoff returns the wait after the given 1-based failed attempt.
func (p *RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := p.baseDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if p.maxDelay > 0 && d >= p.maxDelay {
			return p.maxDelay
		}
	}
	if p.maxDelay > 0 && d > p.maxDelay {
		return p.maxDelay
	}
	return d
}

// ExhaustedError is returned once every attempt failed with a retryable error.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

// Do runs op until it succeeds, fails permanently, or the attempt budget is
// spent. Permanent errors are returned unchanged and consume no further
// attempts. Cancellation of ctx stops retrying and returns ctx's error.
func Do[T any](ctx context.Context, p *RetryPolicy, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error
	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		result, err := op(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return zero, fmt.Errorf("retry aborted: %w", errors.Join(ctx.Err(), err))
		}
		if !IsRetryable(err) {
			return zero, err
		}
		if attempt == p.maxAttempts {
			break
		}
		wait := p.Backoff(attempt)
		log.WithFields(log.Fields{
			"attempt": attempt,
			"max":     p.maxAttempts,
			"wait":    wait,
		}).Debugf("retrying after transient error: %v", err)
		if errSleep := p.sleep(ctx, wait); errSleep != nil {
			return zero, fmt.Errorf("retry aborted: %w", errors.Join(errSleep, err))
		}
	}
	return zero, &ExhaustedError{Attempts: p.maxAttempts, Err: lastErr}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

type permanentError struct{ err error }

func (e *permanentError) Error() string   { return e.err.Error() }
func (e *permanentError) Unwrap() error   { return e.err }
func (e *permanentError) Retryable() bool { return false }

type transientError struct{ err error }

func (e *transientError) Error() string   { return e.err.Error() }
func (e *transientError) Unwrap() error   { return e.err }
func (e *transientError) Retryable() bool { return true }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Transient marks err as worth retrying.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

// IsRetryable classifies an error. Explicit markers win; otherwise network,
// timeout and truncated-stream errors are transient and everything else
// (malformed payloads, validation failures, client errors) is permanent.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var marked interface{ Retryable() bool }
	if errors.As(err, &marked) {
		return marked.Retryable()
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) || errors.Is(err, syscall.EPIPE) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

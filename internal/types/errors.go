// Copyright 2026 The autoheal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package types

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrorCode classifies autoheal failures.
type ErrorCode string

const (
	CodeConfigurationInvalid ErrorCode = "configuration_invalid"
	CodeElementNotFound      ErrorCode = "element_not_found"
	CodeAIServiceUnavailable ErrorCode = "ai_service_unavailable"
	CodeTimeoutExceeded      ErrorCode = "timeout_exceeded"
	CodeCacheError           ErrorCode = "cache_error"
	CodeAdapterError         ErrorCode = "adapter_error"
	CodeCircuitBreakerOpen   ErrorCode = "circuit_breaker_open"
	CodeInvalidLocator       ErrorCode = "invalid_locator"
)

// Sentinels for errors.Is. Every typed error below matches exactly one of them.
var (
	ErrConfigurationInvalid = errors.New("configuration invalid")
	ErrElementNotFound      = errors.New("element not found")
	ErrAIServiceUnavailable = errors.New("ai service unavailable")
	ErrCircuitOpen          = errors.New("circuit breaker open")
	ErrCache                = errors.New("cache error")
	ErrAdapter              = errors.New("adapter error")
)

// ElementNotFoundError is returned when every strategy failed to locate an element.
type ElementNotFoundError struct {
	Selector    string
	Description string
	Cause       error
}

func (e *ElementNotFoundError) Error() string {
	msg := fmt.Sprintf("element not found: selector=%q description=%q", e.Selector, e.Description)
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *ElementNotFoundError) Unwrap() error { return e.Cause }

func (e *ElementNotFoundError) Is(target error) bool { return target == ErrElementNotFound }

// Code implements Coded.
func (e *ElementNotFoundError) Code() ErrorCode { return CodeElementNotFound }

// NewElementNotFoundError builds an ElementNotFoundError.
func NewElementNotFoundError(selector, description string, cause error) *ElementNotFoundError {
	return &ElementNotFoundError{Selector: selector, Description: description, Cause: cause}
}

// AIServiceUnavailableError reports that the AI could not produce an answer.
type AIServiceUnavailableError struct {
	Provider string
	Message  string
	Attempts int
	Cause    error
}

func (e *AIServiceUnavailableError) Error() string {
	msg := "ai service unavailable"
	if e.Provider != "" {
		msg += " (" + e.Provider + ")"
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *AIServiceUnavailableError) Unwrap() error { return e.Cause }

func (e *AIServiceUnavailableError) Is(target error) bool { return target == ErrAIServiceUnavailable }

func (e *AIServiceUnavailableError) Code() ErrorCode { return CodeAIServiceUnavailable }

// CircuitBreakerOpenError is returned without calling the provider while the
// breaker is open.
type CircuitBreakerOpenError struct {
	// RetryAfter is how long until the breaker admits a probe call.
	RetryAfter time.Duration
}

func (e *CircuitBreakerOpenError) Error() string {
	return fmt.Sprintf("circuit breaker is open, retry after %s", e.RetryAfter.Round(time.Millisecond))
}

// Is matches both ErrCircuitOpen and ErrAIServiceUnavailable: an open breaker
// means the AI is unavailable to the caller.
func (e *CircuitBreakerOpenError) Is(target error) bool {
	return target == ErrCircuitOpen || target == ErrAIServiceUnavailable
}

func (e *CircuitBreakerOpenError) Code() ErrorCode { return CodeCircuitBreakerOpen }

// ConfigurationError reports an invalid configuration value.
type ConfigurationError struct {
	Field   string
	Message string
}

func (e *ConfigurationError) Error() string {
	if e.Field == "" {
		return "invalid configuration: " + e.Message
	}
	return fmt.Sprintf("invalid configuration %s: %s", e.Field, e.Message)
}

func (e *ConfigurationError) Is(target error) bool { return target == ErrConfigurationInvalid }

func (e *ConfigurationError) Code() ErrorCode { return CodeConfigurationInvalid }

// NewConfigurationError builds a ConfigurationError.
func NewConfigurationError(field, message string) *ConfigurationError {
	return &ConfigurationError{Field: field, Message: message}
}

// CacheError wraps a cache backend failure.
type CacheError struct {
	Op    string
	Cause error
}

func (e *CacheError) Error() string {
	if e.Cause == nil {
		return "cache " + e.Op + " failed"
	}
	return fmt.Sprintf("cache %s failed: %v", e.Op, e.Cause)
}

func (e *CacheError) Unwrap() error { return e.Cause }

func (e *CacheError) Is(target error) bool { return target == ErrCache }

func (e *CacheError) Code() ErrorCode { return CodeCacheError }

// AdapterError wraps a failure of the web automation adapter.
type AdapterError struct {
	Op    string
	Cause error
}

func (e *AdapterError) Error() string {
	return fmt.Sprintf("adapter %s failed: %v", e.Op, e.Cause)
}

func (e *AdapterError) Unwrap() error { return e.Cause }

func (e *AdapterError) Is(target error) bool { return target == ErrAdapter }

func (e *AdapterError) Code() ErrorCode { return CodeAdapterError }

// Coded is implemented by every autoheal error.
type Coded interface {
	error
	Code() ErrorCode
}

// CodeOf returns the code of the first Coded error in err's chain. Context
// deadline errors map to CodeTimeoutExceeded.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ""
	}
	var coded Coded
	if errors.As(err, &coded) {
		return coded.Code()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return CodeTimeoutExceeded
	}
	return ""
}

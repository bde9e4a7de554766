// Copyright 2026 The autoheal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package ai is the resilient path between autoheal and an AI provider.
//
// Service renders prompts, calls a types.Provider under a circuit breaker and
// a retry policy, bounds each attempt with a timeout and parses the answers.
// One logical call counts once against the breaker and the metrics, however
// many attempts the retry policy spent on it.
package ai

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/traylinx/autoheal/internal/metrics"
	"github.com/traylinx/autoheal/internal/resilience"
	"github.com/traylinx/autoheal/internal/types"
)

// healthySuccessRate is the AI success rate above which the service reports healthy.
const healthySuccessRate = 0.7

// Config holds service settings.
type Config struct {
	// RequestTimeout bounds a single provider attempt.
	RequestTimeout time.Duration

	// VisualAnalysisEnabled allows screenshot analysis.
	VisualAnalysisEnabled bool

	// MaxHTMLTokens truncates the reduced page source. Zero disables truncation.
	MaxHTMLTokens int
}

// DefaultConfig returns the default service configuration.
func DefaultConfig() Config {
	return Config{
		RequestTimeout:        30 * time.Second,
		VisualAnalysisEnabled: true,
		MaxHTMLTokens:         12000,
	}
}

// Service calls a provider with a circuit breaker and retries.
type Service struct {
	provider types.Provider
	breaker  *resilience.CircuitBreaker
	retry    *resilience.RetryPolicy
	metrics  *metrics.AI
	cfg      Config
	now      func() time.Time
}

// NewService wires a provider to its breaker and retry policy. A nil breaker
// or policy gets the defaults.
func NewService(provider types.Provider, breaker *resilience.CircuitBreaker, retry *resilience.RetryPolicy, cfg Config) *Service {
	if breaker == nil {
		breaker = resilience.NewCircuitBreaker(nil)
	}
	if retry == nil {
		retry = resilience.NewRetryPolicy(nil)
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultConfig().RequestTimeout
	}
	return &Service{
		provider: provider,
		breaker:  breaker,
		retry:    retry,
		metrics:  metrics.NewAI(0),
		cfg:      cfg,
		now:      time.Now,
	}
}

// ProviderName returns the wrapped provider's name.
func (s *Service) ProviderName() string { return s.provider.Name() }

// SupportsVisual reports whether screenshot analysis is both enabled and supported.
func (s *Service) SupportsVisual() bool {
	return s.cfg.VisualAnalysisEnabled && s.provider.SupportsVisual()
}

// Breaker exposes the circuit breaker for health reporting.
func (s *Service) Breaker() *resilience.CircuitBreaker { return s.breaker }

// Metrics returns a snapshot of the service counters.
func (s *Service) Metrics() *metrics.AISnapshot { return s.metrics.Snapshot() }

// IsHealthy reports a closed or probing breaker and a success rate above 0.7.
func (s *Service) IsHealthy() bool {
	return s.breaker.State() != resilience.StateOpen && s.metrics.SuccessRate() > healthySuccessRate
}

// AnalyzeDOM asks the provider for a selector matching p.Description in p.HTML.
// The page source is reduced and truncated before the prompt is rendered.
func (s *Service) AnalyzeDOM(ctx context.Context, p types.DOMPrompt) (*types.AnalysisResult, error) {
	html := SanitizeHTML(p.HTML)
	if truncated, cut := TruncateTokens(html, s.cfg.MaxHTMLTokens); cut {
		log.Debugf("page source truncated to %d tokens for DOM analysis", s.cfg.MaxHTMLTokens)
		html = truncated
	}
	prompt := BuildDOMPrompt(p, html)

	return invoke(ctx, s, metrics.KindDOM, func(ctx context.Context) (*types.AnalysisResult, int, error) {
		completion, err := s.provider.AnalyzeDOM(ctx, prompt)
		if err != nil {
			return nil, 0, err
		}
		result, err := ParseAnalysis(completion.Text)
		if err != nil {
			return nil, completion.TokensUsed, resilience.Permanent(err)
		}
		result.TokensUsed = completion.TokensUsed
		return result, completion.TokensUsed, nil
	})
}

// AnalyzeVisual asks the provider for a selector based on a screenshot.
func (s *Service) AnalyzeVisual(ctx context.Context, p types.VisualPrompt) (*types.AnalysisResult, error) {
	if !s.cfg.VisualAnalysisEnabled {
		return nil, &types.AIServiceUnavailableError{Provider: s.provider.Name(), Message: "visual analysis is disabled"}
	}
	if !s.provider.SupportsVisual() {
		return nil, &types.AIServiceUnavailableError{Provider: s.provider.Name(), Message: "provider does not support visual analysis"}
	}
	if len(p.Screenshot) == 0 {
		return nil, &types.AIServiceUnavailableError{Provider: s.provider.Name(), Message: "empty screenshot"}
	}
	prompt := BuildVisualPrompt(p)

	return invoke(ctx, s, metrics.KindVisual, func(ctx context.Context) (*types.AnalysisResult, int, error) {
		completion, err := s.provider.AnalyzeVisual(ctx, prompt, p.Screenshot)
		if err != nil {
			return nil, 0, err
		}
		result, err := ParseAnalysis(completion.Text)
		if err != nil {
			return nil, completion.TokensUsed, resilience.Permanent(err)
		}
		result.TokensUsed = completion.TokensUsed
		return result, completion.TokensUsed, nil
	})
}

// Disambiguate sends a rendered disambiguation prompt and parses the index.
// Range checking is left to the caller.
func (s *Service) Disambiguate(ctx context.Context, prompt string, maxTokens int) (*types.DisambiguationResult, error) {
	if maxTokens <= 0 {
		maxTokens = DisambiguationMaxTokens
	}
	return invoke(ctx, s, metrics.KindDisambiguate, func(ctx context.Context) (*types.DisambiguationResult, int, error) {
		completion, err := s.provider.Complete(ctx, prompt, maxTokens)
		if err != nil {
			return nil, 0, err
		}
		return &types.DisambiguationResult{
			SelectedIndex: ParseIndex(completion.Text),
			Raw:           completion.Text,
			TokensUsed:    completion.TokensUsed,
		}, completion.TokensUsed, nil
	})
}

// invoke runs one logical call: breaker gate, retried attempts each bounded
// by RequestTimeout, then one breaker and metrics update.
func invoke[T any](ctx context.Context, s *Service, kind string, call func(ctx context.Context) (T, int, error)) (T, error) {
	var zero T
	if !s.breaker.CanExecute() {
		s.metrics.RecordCircuitOpen()
		return zero, &types.CircuitBreakerOpenError{RetryAfter: s.breaker.RetryAfter()}
	}

	start := s.now()
	tokens := 0
	result, err := resilience.Do(ctx, s.retry, func(ctx context.Context) (T, error) {
		attemptCtx, cancel := context.WithTimeout(ctx, s.cfg.RequestTimeout)
		defer cancel()
		r, used, errCall := call(attemptCtx)
		tokens += used
		return r, errCall
	})
	elapsed := s.now().Sub(start)

	if err == nil {
		s.breaker.RecordSuccess()
		s.metrics.RecordRequest(kind, true, tokens, elapsed)
		return result, nil
	}

	s.metrics.RecordRequest(kind, false, tokens, elapsed)
	// A cancelled caller says nothing about the provider; a deadline spent
	// waiting on it does.
	if !errors.Is(ctx.Err(), context.Canceled) {
		s.breaker.RecordFailure()
	}

	attempts := 1
	var exhausted *resilience.ExhaustedError
	if errors.As(err, &exhausted) {
		attempts = exhausted.Attempts
	}
	log.WithFields(log.Fields{
		"provider": s.provider.Name(),
		"kind":     kind,
		"attempts": attempts,
		"elapsed":  elapsed.Round(time.Millisecond),
	}).Warnf("ai request failed: %v", err)

	return zero, &types.AIServiceUnavailableError{
		Provider: s.provider.Name(),
		Message:  fmt.Sprintf("%s request failed", kind),
		Attempts: attempts,
		Cause:    err,
	}
}

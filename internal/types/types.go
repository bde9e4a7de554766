// Copyright 2026 The autoheal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package types defines the data model shared by every autoheal component:
// locator requests and results, cached selectors, the external adapter and
// AI provider contracts, and the error taxonomy.
package types

import (
	"fmt"
	"strings"
	"time"
)

// Strategy tags how a LocatorResult was obtained.
type Strategy string

const (
	// StrategyOriginal means the caller's selector worked as-is.
	StrategyOriginal Strategy = "original_selector"
	// StrategyCached means a previously healed selector was reused.
	StrategyCached Strategy = "cached"
	// StrategyDOMAnalysis means the AI analysed the page source.
	StrategyDOMAnalysis Strategy = "dom_analysis"
	// StrategyVisualAnalysis means the AI analysed a screenshot.
	StrategyVisualAnalysis Strategy = "visual_analysis"
	// StrategyHybrid is the composite tag applied by the execution strategy selector.
	StrategyHybrid Strategy = "hybrid"
)

// ExecutionStrategy controls which locate strategies are attempted and in what order.
type ExecutionStrategy string

const (
	// ExecutionSequential tries each strategy in list order and stops at the first success.
	ExecutionSequential ExecutionStrategy = "sequential"
	// ExecutionParallel runs every strategy concurrently and keeps the most confident result.
	ExecutionParallel ExecutionStrategy = "parallel"
	// ExecutionSmartSequential tries DOM first and only falls back to the rest on failure.
	ExecutionSmartSequential ExecutionStrategy = "smart_sequential"
	// ExecutionDOMOnly runs the DOM strategy only.
	ExecutionDOMOnly ExecutionStrategy = "dom_only"
	// ExecutionVisualFirst tries visual first and falls back to the rest on failure.
	ExecutionVisualFirst ExecutionStrategy = "visual_first"
)

// ParseExecutionStrategy converts a configuration value into an ExecutionStrategy.
// Matching is case-insensitive and accepts '-' in place of '_'.
func ParseExecutionStrategy(s string) (ExecutionStrategy, error) {
	normalized := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_")
	switch ExecutionStrategy(normalized) {
	case ExecutionSequential, ExecutionParallel, ExecutionSmartSequential, ExecutionDOMOnly, ExecutionVisualFirst:
		return ExecutionStrategy(normalized), nil
	case "":
		return ExecutionSmartSequential, nil
	}
	return "", NewConfigurationError("execution-strategy", fmt.Sprintf("unknown execution strategy %q", s))
}

// LocatorKind is the detected syntax of a selector string.
type LocatorKind string

const (
	KindCSS       LocatorKind = "css"
	KindXPath     LocatorKind = "xpath"
	KindID        LocatorKind = "id"
	KindName      LocatorKind = "name"
	KindClassName LocatorKind = "class_name"
	KindTagName   LocatorKind = "tag_name"
	KindLinkText  LocatorKind = "link_text"
)

// Framework identifies the automation framework behind an adapter. Prompts
// are phrased differently for each.
type Framework string

const (
	FrameworkSelenium   Framework = "selenium"
	FrameworkPlaywright Framework = "playwright"
	FrameworkCDP        Framework = "cdp"
)

// Options tunes a single resolution.
type Options struct {
	// Timeout bounds each page lookup made while resolving. AI calls have
	// their own request timeout.
	Timeout time.Duration `json:"timeout"`

	// EnableCaching toggles both cache reads and cache writes.
	EnableCaching bool `json:"enable_caching"`

	// EnableVisualAnalysis allows the screenshot-based strategy.
	EnableVisualAnalysis bool `json:"enable_visual_analysis"`

	// ConfidenceThreshold is the minimum AI confidence accepted by the locate strategies.
	ConfidenceThreshold float64 `json:"confidence_threshold"`

	// MaxCandidates caps how many AI-suggested selectors are validated per strategy.
	MaxCandidates int `json:"max_candidates"`
}

// DefaultOptions returns the options used when a caller passes none.
func DefaultOptions() Options {
	return Options{
		Timeout:              10 * time.Second,
		EnableCaching:        true,
		EnableVisualAnalysis: true,
		ConfidenceThreshold:  0.7,
		MaxCandidates:        5,
	}
}

// Validate reports the first out-of-range field.
func (o Options) Validate() error {
	if o.Timeout < 0 {
		return NewConfigurationError("timeout", "must not be negative")
	}
	if o.ConfidenceThreshold < 0 || o.ConfidenceThreshold > 1 {
		return NewConfigurationError("confidence-threshold", "must be within [0,1]")
	}
	if o.MaxCandidates < 1 || o.MaxCandidates > 100 {
		return NewConfigurationError("max-candidates", "must be within [1,100]")
	}
	return nil
}

// LocatorRequest is one resolution request. It is built once with named
// fields and never mutated afterwards.
type LocatorRequest struct {
	OriginalSelector string
	Description      string
	Options          Options
	Adapter          WebAdapter
	Kind             LocatorKind
}

// CacheKey returns the composite key a request is cached under.
func (r *LocatorRequest) CacheKey() string {
	return CacheKey(r.OriginalSelector, r.Description)
}

// CacheKey joins a selector and a description into a cache key.
func CacheKey(selector, description string) string {
	return selector + "|" + description
}

// LocatorResult describes one successful resolution.
type LocatorResult struct {
	// Element is owned by the adapter and never touched by autoheal.
	Element ElementHandle `json:"-"`

	ActualSelector string        `json:"actual_selector"`
	Strategy       Strategy      `json:"strategy"`
	Elapsed        time.Duration `json:"elapsed"`
	FromCache      bool          `json:"from_cache"`
	Confidence     float64       `json:"confidence"`
	Reasoning      string        `json:"reasoning"`
	TokensUsed     int           `json:"tokens_used"`
}

// String implements fmt.Stringer.
func (r *LocatorResult) String() string {
	return fmt.Sprintf("LocatorResult{selector=%q, strategy=%s, from_cache=%t, confidence=%.2f, elapsed=%s}",
		r.ActualSelector, r.Strategy, r.FromCache, r.Confidence, r.Elapsed)
}

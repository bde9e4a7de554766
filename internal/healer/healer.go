// Copyright 2026 The autoheal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package healer resolves element references, healing broken selectors.
//
// A resolution walks fixed stages: the caller's selector is tried under a
// short deadline, then a trusted cache entry, then AI healing through the
// configured strategy. Whenever a lookup matches several elements the
// disambiguator narrows it to one. Only successful resolutions write to the
// cache.
package healer

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/traylinx/autoheal/internal/cache"
	"github.com/traylinx/autoheal/internal/disambiguate"
	"github.com/traylinx/autoheal/internal/logging"
	"github.com/traylinx/autoheal/internal/metrics"
	"github.com/traylinx/autoheal/internal/resilience"
	"github.com/traylinx/autoheal/internal/selector"
	"github.com/traylinx/autoheal/internal/strategy"
	"github.com/traylinx/autoheal/internal/types"
)

// trustedSuccessRate is the rate a cache entry must exceed to be tried.
const trustedSuccessRate = 0.7

// ErrClosed is returned by Resolve after Close.
var ErrClosed = errors.New("healer is closed")

// AIHealth is the view of the AI path used for health reporting.
// *ai.Service implements it.
type AIHealth interface {
	ProviderName() string
	IsHealthy() bool
	Metrics() *metrics.AISnapshot
	Breaker() *resilience.CircuitBreaker
}

// Config holds orchestrator settings.
type Config struct {
	// QuickCheckTimeout bounds the first lookup of the caller's selector.
	QuickCheckTimeout time.Duration

	// Options applies to requests that carry none.
	Options types.Options

	// MaxConcurrent bounds simultaneous resolutions. Zero means unbounded.
	MaxConcurrent int
}

// DefaultConfig returns the default orchestrator settings.
func DefaultConfig() Config {
	return Config{
		QuickCheckTimeout: 500 * time.Millisecond,
		Options:           types.DefaultOptions(),
	}
}

// Components are the collaborators a Healer composes.
type Components struct {
	// Cache defaults to a no-op cache.
	Cache cache.SelectorCache

	// Locator performs AI healing, normally a *strategy.Selector.
	Locator strategy.Locator

	// Disambiguator narrows multi-element matches. Nil skips narrowing.
	Disambiguator *disambiguate.Disambiguator

	// AI is reported by Health. Optional.
	AI AIHealth
}

// Healer is the healing orchestrator. It is safe for concurrent use.
type Healer struct {
	cfg     Config
	cache   cache.SelectorCache
	locator strategy.Locator
	narrow  *disambiguate.Disambiguator
	ai      AIHealth
	metrics *metrics.Locator
	sem     chan struct{}
	closed  atomic.Bool
	now     func() time.Time
}

// New builds a Healer.
func New(cfg Config, c Components) (*Healer, error) {
	if c.Locator == nil {
		return nil, types.NewConfigurationError("locator", "a healing locator is required")
	}
	if cfg.QuickCheckTimeout <= 0 {
		cfg.QuickCheckTimeout = DefaultConfig().QuickCheckTimeout
	}
	if cfg.Options == (types.Options{}) {
		cfg.Options = types.DefaultOptions()
	}
	if err := cfg.Options.Validate(); err != nil {
		return nil, err
	}
	if c.Cache == nil {
		c.Cache = cache.NoopCache{}
	}
	h := &Healer{
		cfg:     cfg,
		cache:   c.Cache,
		locator: c.Locator,
		narrow:  c.Disambiguator,
		ai:      c.AI,
		metrics: metrics.NewLocator(0),
		now:     time.Now,
	}
	if cfg.MaxConcurrent > 0 {
		h.sem = make(chan struct{}, cfg.MaxConcurrent)
	}
	return h, nil
}

// Resolve finds the element req describes, healing the selector if needed.
// Every failure is reported as an ElementNotFoundError unless the request
// itself is invalid. Options.Timeout bounds each page lookup; AI calls run
// under the AI service's own request timeout and ctx.
func (h *Healer) Resolve(ctx context.Context, req *types.LocatorRequest) (*types.LocatorResult, error) {
	if h.closed.Load() {
		return nil, ErrClosed
	}
	r, err := h.prepare(req)
	if err != nil {
		return nil, err
	}

	ctx = logging.WithRequestID(ctx, logging.NewRequestID())
	entry := logging.FromContext(ctx).WithFields(log.Fields{
		"selector":    r.OriginalSelector,
		"description": r.Description,
	})

	if h.sem != nil {
		select {
		case h.sem <- struct{}{}:
			defer func() { <-h.sem }()
		case <-ctx.Done():
			return nil, types.NewElementNotFoundError(r.OriginalSelector, r.Description, ctx.Err())
		}
	}

	start := h.now()
	result, err := h.resolve(ctx, entry, r)
	elapsed := h.now().Sub(start)
	if err != nil {
		h.metrics.RecordFailure(elapsed)
		entry.Warnf("resolution failed after %s: %v", elapsed.Round(time.Millisecond), err)
		return nil, err
	}
	result.Elapsed = elapsed
	h.metrics.RecordSuccess(string(result.Strategy), result.FromCache, elapsed)
	entry.Infof("resolved via %s: %s", result.Strategy, result.ActualSelector)
	return result, nil
}

// prepare copies req and fills in defaults.
func (h *Healer) prepare(req *types.LocatorRequest) (*types.LocatorRequest, error) {
	if req == nil {
		return nil, types.NewConfigurationError("request", "must not be nil")
	}
	if req.Adapter == nil {
		return nil, types.NewConfigurationError("adapter", "must not be nil")
	}
	if req.OriginalSelector == "" && req.Description == "" {
		return nil, types.NewConfigurationError("selector", "a selector or a description is required")
	}
	r := *req
	if r.Options == (types.Options{}) {
		r.Options = h.cfg.Options
	}
	if err := r.Options.Validate(); err != nil {
		return nil, err
	}
	if r.Kind == "" && r.OriginalSelector != "" {
		r.Kind = selector.Detect(r.OriginalSelector)
	}
	return &r, nil
}

func (h *Healer) resolve(ctx context.Context, entry *log.Entry, req *types.LocatorRequest) (*types.LocatorResult, error) {
	key := req.CacheKey()

	var ambiguous []types.ElementHandle
	if req.OriginalSelector != "" {
		elements := h.quickCheck(ctx, entry, req)
		switch {
		case len(elements) == 1:
			entry.Debug("original selector worked")
			h.confirm(ctx, req, key, req.OriginalSelector, elements[0])
			return &types.LocatorResult{
				Element:        elements[0],
				ActualSelector: req.OriginalSelector,
				Strategy:       types.StrategyOriginal,
				Confidence:     1.0,
				Reasoning:      "original selector worked",
			}, nil
		case len(elements) > 1:
			entry.Infof("original selector matched %d elements, checking cache before disambiguation", len(elements))
			ambiguous = elements
		}
	}

	if req.Options.EnableCaching {
		if result, ok := h.fromCache(ctx, entry, req, key); ok {
			return result, nil
		}
	}

	if len(ambiguous) > 0 {
		if result, ok := h.disambiguate(ctx, req, key, req.OriginalSelector, ambiguous); ok {
			return result, nil
		}
		entry.Debug("disambiguation did not settle, falling through to AI healing")
	}

	return h.heal(ctx, entry, req, key)
}

// quickCheck looks the original selector up under QuickCheckTimeout. A late
// answer is dropped; errors and timeouts yield no elements.
func (h *Healer) quickCheck(ctx context.Context, entry *log.Entry, req *types.LocatorRequest) []types.ElementHandle {
	qctx, cancel := context.WithTimeout(ctx, h.cfg.QuickCheckTimeout)
	defer cancel()

	type answer struct {
		elements []types.ElementHandle
		err      error
	}
	done := make(chan answer, 1)
	go func() {
		els, err := selector.Find(qctx, req.Adapter, req.OriginalSelector)
		done <- answer{els, err}
	}()

	select {
	case a := <-done:
		if a.err != nil {
			entry.Debugf("quick check failed: %v", a.err)
			return nil
		}
		return a.elements
	case <-qctx.Done():
		entry.Debugf("quick check timed out after %s", h.cfg.QuickCheckTimeout)
		return nil
	}
}

// fromCache tries a trusted cache entry. A failed validation demotes the
// entry without removing it.
func (h *Healer) fromCache(ctx context.Context, entry *log.Entry, req *types.LocatorRequest, key string) (*types.LocatorResult, bool) {
	cached, ok := h.cache.Get(key)
	if !ok {
		return nil, false
	}
	rate := cached.SuccessRate()
	if rate <= trustedSuccessRate {
		entry.Debugf("cache entry %q not trusted (success rate %.2f)", cached.Selector, rate)
		return nil, false
	}

	elements, err := selector.FindWithin(ctx, req.Adapter, cached.Selector, req.Options.Timeout)
	switch {
	case err != nil:
		entry.Debugf("cached selector %q failed: %v", cached.Selector, err)
		h.cache.UpdateSuccess(key, false)
		return nil, false
	case len(elements) == 1:
		h.cache.UpdateSuccess(key, true)
		entry.Infof("cache hit: %s", cached.Selector)
		return &types.LocatorResult{
			Element:        elements[0],
			ActualSelector: cached.Selector,
			Strategy:       types.StrategyCached,
			FromCache:      true,
			Confidence:     rate,
			Reasoning:      "retrieved from cache",
		}, true
	case len(elements) > 1:
		entry.Infof("cached selector %q matched %d elements", cached.Selector, len(elements))
		h.cache.UpdateSuccess(key, false)
		return h.disambiguate(ctx, req, key, cached.Selector, elements)
	default:
		entry.Warnf("cached selector no longer works: %s", cached.Selector)
		h.cache.UpdateSuccess(key, false)
		return nil, false
	}
}

// disambiguate narrows elements, which sel matched, and caches the
// index-qualified selector when it resolves to exactly one element.
func (h *Healer) disambiguate(ctx context.Context, req *types.LocatorRequest, key, sel string, elements []types.ElementHandle) (*types.LocatorResult, bool) {
	if h.narrow == nil {
		return nil, false
	}
	n, ok := h.narrow.Narrow(ctx, req.Adapter, sel, elements, req.Description)
	if !ok {
		return nil, false
	}
	h.store(ctx, req, key, n.Selector, n.Element)
	return &types.LocatorResult{
		Element:        n.Element,
		ActualSelector: n.Selector,
		Strategy:       types.StrategyDOMAnalysis,
		Confidence:     disambiguationConfidence(n),
		Reasoning:      fmt.Sprintf("AI disambiguation selected element %d of %d", n.Index, n.Candidates),
		TokensUsed:     n.TokensUsed,
	}, true
}

func disambiguationConfidence(n *disambiguate.Narrowed) float64 {
	if n.Fallback {
		return 0.5
	}
	return 0.9
}

func (h *Healer) heal(ctx context.Context, entry *log.Entry, req *types.LocatorRequest, key string) (*types.LocatorResult, error) {
	entry.Info("performing AI healing")
	result, err := h.locator.Locate(ctx, req)
	if err != nil {
		var notFound *types.ElementNotFoundError
		if errors.As(err, &notFound) && notFound.Selector == req.OriginalSelector && notFound.Description == req.Description {
			return nil, err
		}
		return nil, types.NewElementNotFoundError(req.OriginalSelector, req.Description, err)
	}
	if result == nil || result.Element == nil {
		return nil, types.NewElementNotFoundError(req.OriginalSelector, req.Description, errors.New("healing returned no element"))
	}
	h.store(ctx, req, key, result.ActualSelector, result.Element)
	out := *result
	out.FromCache = false
	return &out, nil
}

// store caches sel under key when caching is enabled. The element's
// fingerprint is recorded when the adapter can describe it.
func (h *Healer) store(ctx context.Context, req *types.LocatorRequest, key, sel string, el types.ElementHandle) {
	if !req.Options.EnableCaching {
		return
	}
	var fp *types.ElementFingerprint
	if ec, err := req.Adapter.ElementContext(ctx, el); err == nil && ec != nil {
		fp = ec.Fingerprint
	}
	h.cache.Put(key, types.NewCachedSelector(sel, fp, h.now()))
}

// confirm records a working selector. An entry already holding sel only has
// its success counted.
func (h *Healer) confirm(ctx context.Context, req *types.LocatorRequest, key, sel string, el types.ElementHandle) {
	if !req.Options.EnableCaching {
		return
	}
	if cached, ok := h.cache.Peek(key); ok && cached.Selector == sel {
		h.cache.UpdateSuccess(key, true)
		return
	}
	h.store(ctx, req, key, sel, el)
}

// Present reports whether sel currently matches at least one element. It
// never heals.
func (h *Healer) Present(ctx context.Context, adapter types.WebAdapter, sel string) (bool, error) {
	elements, err := selector.Find(ctx, adapter, sel)
	if err != nil {
		return false, err
	}
	return len(elements) > 0, nil
}

// FindAll resolves req once and returns every element the winning selector
// matches, without its index qualifier.
func (h *Healer) FindAll(ctx context.Context, req *types.LocatorRequest) ([]types.ElementHandle, *types.LocatorResult, error) {
	if req != nil && req.Adapter != nil && req.OriginalSelector != "" {
		elements, err := selector.Find(ctx, req.Adapter, req.OriginalSelector)
		if err == nil && len(elements) > 1 {
			return elements, &types.LocatorResult{
				Element:        elements[0],
				ActualSelector: req.OriginalSelector,
				Strategy:       types.StrategyOriginal,
				Confidence:     1.0,
				Reasoning:      fmt.Sprintf("original selector matched %d elements", len(elements)),
			}, nil
		}
	}

	result, err := h.Resolve(ctx, req)
	if err != nil {
		return nil, nil, err
	}
	elements, err := selector.FindWithin(ctx, req.Adapter, selector.Base(result.ActualSelector), h.cfg.Options.Timeout)
	if err != nil || len(elements) == 0 {
		return []types.ElementHandle{result.Element}, result, nil
	}
	return elements, result, nil
}

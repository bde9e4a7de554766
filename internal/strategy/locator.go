// Copyright 2026 The autoheal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package strategy holds the AI-backed locate strategies and the execution
// strategy selector that decides which of them run, and in what order.
package strategy

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/traylinx/autoheal/internal/disambiguate"
	"github.com/traylinx/autoheal/internal/logging"
	"github.com/traylinx/autoheal/internal/selector"
	"github.com/traylinx/autoheal/internal/types"
)

// ErrVisualDisabled is returned by VisualLocator when the request disallows
// screenshot analysis.
var ErrVisualDisabled = errors.New("visual analysis is disabled for this request")

// Locator is one way of finding an element the caller's selector missed.
type Locator interface {
	// Strategy tags the results this locator produces.
	Strategy() types.Strategy

	Locate(ctx context.Context, req *types.LocatorRequest) (*types.LocatorResult, error)
}

// Analyzer is the AI path the locators call. *ai.Service implements it.
type Analyzer interface {
	AnalyzeDOM(ctx context.Context, p types.DOMPrompt) (*types.AnalysisResult, error)
	AnalyzeVisual(ctx context.Context, p types.VisualPrompt) (*types.AnalysisResult, error)
}

// DOMLocator asks the AI to read the page source.
type DOMLocator struct {
	ai     Analyzer
	narrow *disambiguate.Disambiguator
}

// NewDOMLocator returns a DOM analysis locator. narrow settles selectors
// matching more than one element; nil skips such selectors.
func NewDOMLocator(a Analyzer, narrow *disambiguate.Disambiguator) *DOMLocator {
	return &DOMLocator{ai: a, narrow: narrow}
}

func (l *DOMLocator) Strategy() types.Strategy { return types.StrategyDOMAnalysis }

func (l *DOMLocator) Locate(ctx context.Context, req *types.LocatorRequest) (*types.LocatorResult, error) {
	html, err := req.Adapter.PageSource(ctx)
	if err != nil {
		return nil, &types.AdapterError{Op: "page source", Cause: err}
	}
	logging.FromContext(ctx).Debugf("DOM analysis of %d bytes for %q", len(html), req.Description)

	analysis, err := l.ai.AnalyzeDOM(ctx, types.DOMPrompt{
		Description:      req.Description,
		PreviousSelector: req.OriginalSelector,
		HTML:             html,
		Framework:        req.Adapter.Framework(),
	})
	if err != nil {
		return nil, err
	}
	return validate(ctx, req, analysis, l.Strategy(), "DOM analysis", l.narrow)
}

// VisualLocator asks the AI to read a screenshot.
type VisualLocator struct {
	ai     Analyzer
	narrow *disambiguate.Disambiguator
}

// NewVisualLocator returns a screenshot analysis locator.
func NewVisualLocator(a Analyzer, narrow *disambiguate.Disambiguator) *VisualLocator {
	return &VisualLocator{ai: a, narrow: narrow}
}

func (l *VisualLocator) Strategy() types.Strategy { return types.StrategyVisualAnalysis }

func (l *VisualLocator) Locate(ctx context.Context, req *types.LocatorRequest) (*types.LocatorResult, error) {
	if !req.Options.EnableVisualAnalysis {
		return nil, ErrVisualDisabled
	}
	shot, err := req.Adapter.Screenshot(ctx)
	if err != nil {
		return nil, &types.AdapterError{Op: "screenshot", Cause: err}
	}

	analysis, err := l.ai.AnalyzeVisual(ctx, types.VisualPrompt{
		Description:      req.Description,
		PreviousSelector: req.OriginalSelector,
		Screenshot:       shot,
		Framework:        req.Adapter.Framework(),
	})
	if err != nil {
		return nil, err
	}
	return validate(ctx, req, analysis, l.Strategy(), "Visual analysis", l.narrow)
}

// validate tries the AI's candidates in order, recommended selector first,
// and returns the first that resolves to one element on the live page.
func validate(ctx context.Context, req *types.LocatorRequest, analysis *types.AnalysisResult, strategy types.Strategy, label string, narrow *disambiguate.Disambiguator) (*types.LocatorResult, error) {
	entry := logging.FromContext(ctx)

	limit := req.Options.MaxCandidates
	if limit <= 0 {
		limit = types.DefaultOptions().MaxCandidates
	}
	candidates := analysis.Candidates()
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}
	if len(candidates) == 0 {
		return nil, types.NewElementNotFoundError(req.OriginalSelector, req.Description, fmt.Errorf("%s returned no selector", label))
	}

	var tried []string
	for i, c := range candidates {
		if c.Confidence < req.Options.ConfidenceThreshold {
			entry.Debugf("skipping %q: confidence %.2f below %.2f", c.Selector, c.Confidence, req.Options.ConfidenceThreshold)
			tried = append(tried, c.Selector+" (low confidence)")
			continue
		}

		elements, err := selector.FindWithin(ctx, req.Adapter, c.Selector, req.Options.Timeout)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			entry.Debugf("candidate %q failed: %v", c.Selector, err)
			tried = append(tried, c.Selector)
			continue
		}

		result := &types.LocatorResult{
			ActualSelector: c.Selector,
			Strategy:       strategy,
			Confidence:     c.Confidence,
			Reasoning:      reasoning(label, i, analysis.Reasoning),
			TokensUsed:     analysis.TokensUsed,
		}
		switch {
		case len(elements) == 0:
			tried = append(tried, c.Selector)
			continue
		case len(elements) == 1:
			result.Element = elements[0]
		default:
			if narrow == nil {
				tried = append(tried, fmt.Sprintf("%s (%d matches)", c.Selector, len(elements)))
				continue
			}
			n, ok := narrow.Narrow(ctx, req.Adapter, c.Selector, elements, req.Description)
			if !ok {
				tried = append(tried, fmt.Sprintf("%s (%d matches)", c.Selector, len(elements)))
				continue
			}
			result.Element = n.Element
			result.ActualSelector = n.Selector
			result.TokensUsed += n.TokensUsed
			result.Reasoning += fmt.Sprintf(" (element %d of %d)", n.Index, n.Candidates)
		}
		entry.Debugf("%s candidate %q validated (confidence %.2f)", label, result.ActualSelector, c.Confidence)
		return result, nil
	}

	return nil, types.NewElementNotFoundError(req.OriginalSelector, req.Description,
		fmt.Errorf("%s suggested %d selectors, none matched: %s", label, len(candidates), strings.Join(tried, ", ")))
}

func reasoning(label string, index int, why string) string {
	if index == 0 {
		return fmt.Sprintf("%s: %s", label, why)
	}
	return fmt.Sprintf("%s (alternative %d): %s", label, index, why)
}

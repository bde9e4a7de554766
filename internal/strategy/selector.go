// Copyright 2026 The autoheal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package strategy

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/traylinx/autoheal/internal/logging"
	"github.com/traylinx/autoheal/internal/types"
)

// Selector runs locators according to an execution strategy. Every success
// comes back tagged HYBRID.
type Selector struct {
	mode     types.ExecutionStrategy
	locators []Locator
	now      func() time.Time
}

// NewSelector validates mode against the available locators.
func NewSelector(mode types.ExecutionStrategy, locators ...Locator) (*Selector, error) {
	mode, err := types.ParseExecutionStrategy(string(mode))
	if err != nil {
		return nil, err
	}
	var ls []Locator
	for _, l := range locators {
		if l != nil {
			ls = append(ls, l)
		}
	}
	if len(ls) == 0 {
		return nil, types.NewConfigurationError("locators", "at least one locator is required")
	}
	s := &Selector{mode: mode, locators: ls, now: time.Now}
	if mode == types.ExecutionDOMOnly && len(s.byStrategy(types.StrategyDOMAnalysis)) == 0 {
		return nil, types.NewConfigurationError("execution-strategy", "dom_only requires a DOM locator")
	}
	return s, nil
}

// Mode returns the configured execution strategy.
func (s *Selector) Mode() types.ExecutionStrategy { return s.mode }

// Strategy implements Locator.
func (s *Selector) Strategy() types.Strategy { return types.StrategyHybrid }

// Locate implements Locator.
func (s *Selector) Locate(ctx context.Context, req *types.LocatorRequest) (*types.LocatorResult, error) {
	start := s.now()
	logging.FromContext(ctx).Debugf("executing %s strategy with %d locators", s.mode, len(s.locators))

	switch s.mode {
	case types.ExecutionParallel:
		return s.parallel(ctx, req, start)
	case types.ExecutionSmartSequential:
		return s.sequential(ctx, req, start, s.firstOf(types.StrategyDOMAnalysis))
	case types.ExecutionDOMOnly:
		return s.sequential(ctx, req, start, s.byStrategy(types.StrategyDOMAnalysis))
	case types.ExecutionVisualFirst:
		return s.sequential(ctx, req, start, s.firstOf(types.StrategyVisualAnalysis))
	default:
		return s.sequential(ctx, req, start, s.locators)
	}
}

func (s *Selector) sequential(ctx context.Context, req *types.LocatorRequest, start time.Time, order []Locator) (*types.LocatorResult, error) {
	entry := logging.FromContext(ctx)
	var (
		tried []string
		errs  []error
	)
	for i, l := range order {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		tried = append(tried, string(l.Strategy()))
		entry.Debugf("trying locator %d of %d: %s", i+1, len(order), l.Strategy())

		result, err := l.Locate(ctx, req)
		if err == nil && result != nil && result.Element != nil {
			entry.Infof("%s strategy succeeded with %s: confidence=%.2f", s.mode, l.Strategy(), result.Confidence)
			return s.hybrid(result, l.Strategy(), start), nil
		}
		if err == nil {
			err = fmt.Errorf("%s returned no element", l.Strategy())
		}
		entry.Debugf("locator %s failed: %v", l.Strategy(), err)
		errs = append(errs, err)
	}
	return nil, s.exhausted(req, tried, errs)
}

type branch struct {
	locator Locator
	result  *types.LocatorResult
	err     error
}

func (s *Selector) parallel(ctx context.Context, req *types.LocatorRequest, start time.Time) (*types.LocatorResult, error) {
	entry := logging.FromContext(ctx)
	branches := make([]branch, len(s.locators))

	var wg sync.WaitGroup
	for i, l := range s.locators {
		wg.Add(1)
		go func(i int, l Locator) {
			defer wg.Done()
			r, err := l.Locate(ctx, req)
			branches[i] = branch{locator: l, result: r, err: err}
		}(i, l)
	}
	wg.Wait()

	var (
		best   *branch
		tokens int
		tried  []string
		errs   []error
	)
	for i := range branches {
		b := &branches[i]
		tried = append(tried, string(b.locator.Strategy()))
		if b.err != nil || b.result == nil || b.result.Element == nil {
			err := b.err
			if err == nil {
				err = fmt.Errorf("%s returned no element", b.locator.Strategy())
			}
			entry.Warnf("parallel locator %s failed: %v", b.locator.Strategy(), err)
			errs = append(errs, err)
			continue
		}
		tokens += b.result.TokensUsed
		if best == nil || b.result.Confidence > best.result.Confidence {
			best = b
		}
	}
	if best == nil {
		return nil, s.exhausted(req, tried, errs)
	}

	entry.Infof("parallel strategy selected %s: confidence=%.2f", best.locator.Strategy(), best.result.Confidence)
	out := s.hybrid(best.result, best.locator.Strategy(), start)
	out.TokensUsed = tokens
	return out, nil
}

func (s *Selector) hybrid(r *types.LocatorResult, winner types.Strategy, start time.Time) *types.LocatorResult {
	out := *r
	out.Strategy = types.StrategyHybrid
	out.FromCache = false
	out.Elapsed = s.now().Sub(start)
	out.Reasoning = fmt.Sprintf("%s execution, won by %s: %s", s.mode, winner, r.Reasoning)
	return &out
}

func (s *Selector) exhausted(req *types.LocatorRequest, tried []string, errs []error) error {
	cause := fmt.Errorf("%s: all strategies failed (tried %s)", s.mode, strings.Join(tried, ", "))
	if len(errs) > 0 {
		cause = fmt.Errorf("%w: %w", cause, errors.Join(errs...))
	}
	return types.NewElementNotFoundError(req.OriginalSelector, req.Description, cause)
}

func (s *Selector) byStrategy(tag types.Strategy) []Locator {
	var out []Locator
	for _, l := range s.locators {
		if l.Strategy() == tag {
			out = append(out, l)
		}
	}
	return out
}

// firstOf orders locators tagged tag ahead of the rest, keeping list order otherwise.
func (s *Selector) firstOf(tag types.Strategy) []Locator {
	out := s.byStrategy(tag)
	for _, l := range s.locators {
		if l.Strategy() != tag {
			out = append(out, l)
		}
	}
	return out
}

// Copyright 2026 The autoheal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package disambiguate picks one element out of several matches.
//
// The AI is asked for a 1-based index. Whatever goes wrong, the answer falls
// back to the first element: disambiguation never blocks a resolution.
package disambiguate

import (
	"context"

	"github.com/traylinx/autoheal/internal/ai"
	"github.com/traylinx/autoheal/internal/logging"
	"github.com/traylinx/autoheal/internal/selector"
	"github.com/traylinx/autoheal/internal/types"
)

// AI answers rendered disambiguation prompts. *ai.Service implements it.
type AI interface {
	Disambiguate(ctx context.Context, prompt string, maxTokens int) (*types.DisambiguationResult, error)
}

// Choice is the outcome of Choose.
type Choice struct {
	// Index is 1-based and always within [1, N] for N > 0 candidates.
	Index int

	TokensUsed int

	// Fallback is set when Index is the default rather than the AI's answer.
	Fallback bool

	// Reason explains a fallback.
	Reason string
}

// Disambiguator chooses among multiple matching elements.
type Disambiguator struct {
	ai AI
}

// New returns a Disambiguator backed by svc. A nil svc always falls back.
func New(svc AI) *Disambiguator {
	return &Disambiguator{ai: svc}
}

// Choose returns the 1-based index of the candidate best matching description.
func (d *Disambiguator) Choose(ctx context.Context, candidates []*types.ElementContext, description string) Choice {
	n := len(candidates)
	if n <= 1 {
		return Choice{Index: 1}
	}
	if d == nil || d.ai == nil {
		return Choice{Index: 1, Fallback: true, Reason: "no AI service"}
	}

	entry := logging.FromContext(ctx)
	prompt := ai.BuildDisambiguationPrompt(description, candidates)
	res, err := d.ai.Disambiguate(ctx, prompt, ai.DisambiguationMaxTokens)
	if err != nil {
		entry.Warnf("disambiguation of %d elements failed, using element 1: %v", n, err)
		return Choice{Index: 1, Fallback: true, Reason: err.Error()}
	}
	if res.SelectedIndex < 1 || res.SelectedIndex > n {
		entry.Warnf("AI returned element index %d (expected 1-%d), using element 1", res.SelectedIndex, n)
		return Choice{Index: 1, TokensUsed: res.TokensUsed, Fallback: true, Reason: "index out of range"}
	}
	entry.Debugf("AI selected element %d of %d", res.SelectedIndex, n)
	return Choice{Index: res.SelectedIndex, TokensUsed: res.TokensUsed}
}

// Narrowed is a selector qualified down to a single element.
type Narrowed struct {
	Element    types.ElementHandle
	Selector   string
	Index      int
	Candidates int
	TokensUsed int
	Fallback   bool
}

// Narrow chooses among elements, which sel matched, and re-queries the
// index-qualified selector. ok is false when the qualified selector does not
// resolve to exactly one element.
func (d *Disambiguator) Narrow(ctx context.Context, adapter types.WebAdapter, sel string, elements []types.ElementHandle, description string) (*Narrowed, bool) {
	entry := logging.FromContext(ctx)

	contexts := make([]*types.ElementContext, len(elements))
	for i, el := range elements {
		ec, err := adapter.ElementContext(ctx, el)
		if err != nil || ec == nil {
			entry.Debugf("no context for element %d of %q: %v", i+1, sel, err)
			ec = &types.ElementContext{}
		}
		contexts[i] = ec
	}

	choice := d.Choose(ctx, contexts, description)
	base := selector.Base(sel)
	qualified := selector.WithIndex(base, choice.Index-1)

	found, err := selector.Find(ctx, adapter, qualified)
	if err != nil {
		entry.Warnf("re-query of %q failed: %v", qualified, err)
		return nil, false
	}
	if len(found) != 1 {
		entry.Warnf("disambiguated selector %q matched %d elements, expected 1", qualified, len(found))
		return nil, false
	}

	entry.Infof("disambiguation selected element %d of %d: %s", choice.Index, len(elements), qualified)
	return &Narrowed{
		Element:    found[0],
		Selector:   qualified,
		Index:      choice.Index,
		Candidates: len(elements),
		TokensUsed: choice.TokensUsed,
		Fallback:   choice.Fallback,
	}, true
}

// Copyright 2026 The autoheal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package types

import (
	"context"
	"sort"
)

// DOMPrompt asks a provider to find an element in page HTML.
type DOMPrompt struct {
	Description      string
	PreviousSelector string
	HTML             string
	Framework        Framework
}

// VisualPrompt asks a provider to find an element in a screenshot.
type VisualPrompt struct {
	Description      string
	PreviousSelector string
	Screenshot       []byte
	Framework        Framework
}

// ElementCandidate is one alternative selector suggested by the AI.
type ElementCandidate struct {
	Selector   string  `json:"selector"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning,omitempty"`
}

// AnalysisResult is the parsed answer of a DOM or visual analysis.
type AnalysisResult struct {
	RecommendedSelector string             `json:"recommended_selector"`
	Confidence          float64            `json:"confidence"`
	Reasoning           string             `json:"reasoning"`
	Alternatives        []ElementCandidate `json:"alternatives"`
	TokensUsed          int                `json:"tokens_used"`
}

// Candidates returns the recommended selector followed by the alternatives,
// ordered by descending confidence and with duplicates removed.
func (r *AnalysisResult) Candidates() []ElementCandidate {
	if r == nil {
		return nil
	}
	seen := make(map[string]struct{}, len(r.Alternatives)+1)
	out := make([]ElementCandidate, 0, len(r.Alternatives)+1)
	add := func(c ElementCandidate) {
		if c.Selector == "" {
			return
		}
		if _, ok := seen[c.Selector]; ok {
			return
		}
		seen[c.Selector] = struct{}{}
		out = append(out, c)
	}
	add(ElementCandidate{Selector: r.RecommendedSelector, Confidence: r.Confidence, Reasoning: r.Reasoning})
	alts := append([]ElementCandidate(nil), r.Alternatives...)
	sortCandidates(alts)
	for _, c := range alts {
		add(c)
	}
	return out
}

func sortCandidates(c []ElementCandidate) {
	sort.SliceStable(c, func(i, j int) bool { return c[i].Confidence > c[j].Confidence })
}

// Completion is a raw text answer from a provider.
type Completion struct {
	Text       string
	TokensUsed int
}

// Provider is a concrete AI backend. The AI service wraps it with retries and
// a circuit breaker; providers themselves make exactly one call per method.
type Provider interface {
	Name() string

	// AnalyzeDOM returns the model's raw answer to a DOM prompt.
	AnalyzeDOM(ctx context.Context, prompt string) (*Completion, error)

	// AnalyzeVisual returns the model's raw answer to a screenshot prompt.
	AnalyzeVisual(ctx context.Context, prompt string, screenshot []byte) (*Completion, error)

	// Complete answers a free-form prompt bounded by maxTokens.
	Complete(ctx context.Context, prompt string, maxTokens int) (*Completion, error)

	SupportsVisual() bool
}

// DisambiguationResult is the parsed answer of a disambiguation request.
// SelectedIndex is 1-based; 0 means the answer held no integer.
type DisambiguationResult struct {
	SelectedIndex int
	Raw           string
	TokensUsed    int
}

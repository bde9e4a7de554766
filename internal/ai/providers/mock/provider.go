// Copyright 2026 The autoheal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package mock is a deterministic types.Provider for local runs and demos.
// It never makes network calls.
package mock

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/traylinx/autoheal/internal/types"
)

// ProviderName identifies the mock provider.
const ProviderName = "mock"

// Default answers when no response is registered for a description.
const (
	DefaultSelector   = "button[data-testid='mock-element']"
	defaultConfidence = 0.85
)

var quotedDescription = regexp.MustCompile(`(?:for|element): "((?:[^"\\]|\\.)*)"`)

// Provider answers from a table of description → selector responses.
type Provider struct {
	mu        sync.RWMutex
	responses map[string]response
}

type response struct {
	selector   string
	confidence float64
}

// New returns an empty mock provider.
func New() *Provider {
	return &Provider{responses: make(map[string]response)}
}

// AddResponse registers the selector returned for description.
func (p *Provider) AddResponse(description, selector string, confidence float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.responses[description] = response{selector: selector, confidence: confidence}
}

func (p *Provider) Name() string { return ProviderName }

func (p *Provider) SupportsVisual() bool { return true }

func (p *Provider) AnalyzeDOM(ctx context.Context, prompt string) (*types.Completion, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return p.answer(prompt, "#mock-button", "button.mock-class"), nil
}

func (p *Provider) AnalyzeVisual(ctx context.Context, prompt string, _ []byte) (*types.Completion, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return p.answer(prompt, "input[type='text']"), nil
}

// Complete always picks the first candidate.
func (p *Provider) Complete(ctx context.Context, _ string, _ int) (*types.Completion, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &types.Completion{Text: "1", TokensUsed: 1}, nil
}

func (p *Provider) answer(prompt string, alternatives ...string) *types.Completion {
	description := descriptionOf(prompt)

	p.mu.RLock()
	r, ok := p.responses[description]
	p.mu.RUnlock()
	if !ok {
		r = response{selector: DefaultSelector, confidence: defaultConfidence}
	}

	quoted := make([]string, 0, len(alternatives))
	for _, a := range alternatives {
		if a != r.selector {
			quoted = append(quoted, fmt.Sprintf("%q", a))
		}
	}
	text := fmt.Sprintf(`{"selector": %q, "confidence": %.2f, "reasoning": %q, "alternatives": [%s]}`,
		r.selector, r.confidence, "Mock analysis for: "+description, strings.Join(quoted, ", "))
	return &types.Completion{Text: text, TokensUsed: len(prompt) / 4}
}

// descriptionOf recovers the quoted description the prompt builders embed.
func descriptionOf(prompt string) string {
	m := quotedDescription.FindStringSubmatch(prompt)
	if m == nil {
		return ""
	}
	return strings.ReplaceAll(m[1], `\"`, `"`)
}

// Copyright 2026 The autoheal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package testutil provides in-memory fakes of the browser adapter and AI
// provider for tests.
package testutil

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/traylinx/autoheal/internal/types"
)

// Element is the handle type returned by Adapter.
type Element struct {
	Name    string
	Context *types.ElementContext
}

// NewElement builds an element with the given tag and attributes.
func NewElement(name, tag, text string, attrs map[string]string) *Element {
	return &Element{
		Name: name,
		Context: &types.ElementContext{
			TagName:    tag,
			Text:       text,
			Attributes: attrs,
		},
	}
}

// Adapter is a scripted types.WebAdapter. Selectors resolve through the
// Elements map; unknown selectors match nothing.
type Adapter struct {
	mu sync.Mutex

	Elements map[string][]types.ElementHandle
	HTML     string
	PNG      []byte
	Kind     types.Framework

	// FindErr, when set, is returned by FindElements for the keyed selector.
	FindErr map[string]error

	// Delay is applied to every FindElements call, honouring ctx.
	Delay time.Duration

	finds    map[string]int
	contexts int
}

// NewAdapter returns an empty selenium-flavoured adapter.
func NewAdapter() *Adapter {
	return &Adapter{
		Elements: make(map[string][]types.ElementHandle),
		FindErr:  make(map[string]error),
		Kind:     types.FrameworkSelenium,
		HTML:     "<html><body></body></html>",
		PNG:      []byte{0x89, 'P', 'N', 'G'},
		finds:    make(map[string]int),
	}
}

// Set makes selector match els.
func (a *Adapter) Set(selector string, els ...*Element) {
	a.mu.Lock()
	defer a.mu.Unlock()
	handles := make([]types.ElementHandle, len(els))
	for i, el := range els {
		handles[i] = el
	}
	a.Elements[selector] = handles
}

// Clear makes selector match nothing.
func (a *Adapter) Clear(selector string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.Elements, selector)
}

// Finds reports how often selector was looked up.
func (a *Adapter) Finds(selector string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.finds[selector]
}

func (a *Adapter) FindElements(ctx context.Context, selector string) ([]types.ElementHandle, error) {
	a.mu.Lock()
	a.finds[selector]++
	delay := a.Delay
	err := a.FindErr[selector]
	els := append([]types.ElementHandle(nil), a.Elements[selector]...)
	a.mu.Unlock()

	if delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
	if err != nil {
		return nil, err
	}
	return els, nil
}

func (a *Adapter) PageSource(context.Context) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.HTML, nil
}

func (a *Adapter) Screenshot(context.Context) ([]byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.PNG, nil
}

// ContextCalls reports how often ElementContext was called.
func (a *Adapter) ContextCalls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.contexts
}

func (a *Adapter) ElementContext(_ context.Context, el types.ElementHandle) (*types.ElementContext, error) {
	a.mu.Lock()
	a.contexts++
	a.mu.Unlock()
	e, ok := el.(*Element)
	if !ok {
		return nil, fmt.Errorf("unexpected element handle %T", el)
	}
	return e.Context, nil
}

func (a *Adapter) Framework() types.Framework { return a.Kind }

// Provider is a scripted types.Provider counting its calls.
type Provider struct {
	mu sync.Mutex

	NameValue string
	Visual    bool

	// DOM, VisualFn and CompleteFn produce answers; nil means an error.
	DOM        func(ctx context.Context, prompt string) (*types.Completion, error)
	VisualFn   func(ctx context.Context, prompt string, screenshot []byte) (*types.Completion, error)
	CompleteFn func(ctx context.Context, prompt string, maxTokens int) (*types.Completion, error)

	domCalls      int
	visualCalls   int
	completeCalls int
	lastPrompt    string
}

// Reply returns a function answering every call with text and tokens.
func Reply(text string, tokens int) func(context.Context, string) (*types.Completion, error) {
	return func(context.Context, string) (*types.Completion, error) {
		return &types.Completion{Text: text, TokensUsed: tokens}, nil
	}
}

// SelectorReply renders a DOM/visual JSON answer.
func SelectorReply(selector string, confidence float64, alternatives ...string) string {
	alts := "["
	for i, a := range alternatives {
		if i > 0 {
			alts += ","
		}
		alts += fmt.Sprintf("%q", a)
	}
	alts += "]"
	return fmt.Sprintf(`{"selector": %q, "confidence": %.2f, "reasoning": "test", "alternatives": %s}`, selector, confidence, alts)
}

func (p *Provider) Name() string {
	if p.NameValue == "" {
		return "fake"
	}
	return p.NameValue
}

func (p *Provider) SupportsVisual() bool { return p.Visual }

func (p *Provider) AnalyzeDOM(ctx context.Context, prompt string) (*types.Completion, error) {
	p.mu.Lock()
	p.domCalls++
	p.lastPrompt = prompt
	fn := p.DOM
	p.mu.Unlock()
	if fn == nil {
		return nil, fmt.Errorf("no DOM answer scripted")
	}
	return fn(ctx, prompt)
}

func (p *Provider) AnalyzeVisual(ctx context.Context, prompt string, screenshot []byte) (*types.Completion, error) {
	p.mu.Lock()
	p.visualCalls++
	p.lastPrompt = prompt
	fn := p.VisualFn
	p.mu.Unlock()
	if fn == nil {
		return nil, fmt.Errorf("no visual answer scripted")
	}
	return fn(ctx, prompt, screenshot)
}

func (p *Provider) Complete(ctx context.Context, prompt string, maxTokens int) (*types.Completion, error) {
	p.mu.Lock()
	p.completeCalls++
	p.lastPrompt = prompt
	fn := p.CompleteFn
	p.mu.Unlock()
	if fn == nil {
		return nil, fmt.Errorf("no completion scripted")
	}
	return fn(ctx, prompt, maxTokens)
}

// DOMCalls reports how many DOM analyses were requested.
func (p *Provider) DOMCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.domCalls
}

// VisualCalls reports how many visual analyses were requested.
func (p *Provider) VisualCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.visualCalls
}

// CompleteCalls reports how many completions were requested.
func (p *Provider) CompleteCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.completeCalls
}

// TotalCalls is the number of provider calls of any kind.
func (p *Provider) TotalCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.domCalls + p.visualCalls + p.completeCalls
}

// LastPrompt returns the most recent prompt received.
func (p *Provider) LastPrompt() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastPrompt
}

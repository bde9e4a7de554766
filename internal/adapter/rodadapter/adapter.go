// Copyright 2026 The autoheal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package rodadapter drives a Chrome page through go-rod and exposes it as
// a types.WebAdapter.
package rodadapter

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/tidwall/gjson"
	"github.com/traylinx/autoheal/internal/selector"
	"github.com/traylinx/autoheal/internal/types"
)

// contextScript describes the element bound to this as a JSON string.
const contextScript = `function() {
	const el = this;
	const attrs = {};
	for (const a of el.attributes) attrs[a.name] = a.value;
	const r = el.getBoundingClientRect();
	const parents = [];
	for (let p = el.parentElement; p && parents.length < 5; p = p.parentElement) {
		parents.push(p.tagName.toLowerCase() + (p.id ? '#' + p.id : ''));
	}
	const siblings = [];
	if (el.parentElement) {
		for (const s of el.parentElement.children) {
			if (s !== el && siblings.length < 5) siblings.push(s.tagName.toLowerCase());
		}
	}
	const cs = getComputedStyle(el);
	return JSON.stringify({
		tag: el.tagName.toLowerCase(),
		text: (el.innerText || el.textContent || '').trim().slice(0, 500),
		attributes: attrs,
		parents: parents,
		siblings: siblings,
		position: {x: r.x, y: r.y, width: r.width, height: r.height},
		styles: {display: cs.display, color: cs.color, 'font-size': cs.fontSize, 'background-color': cs.backgroundColor}
	});
}`

// ErrForeignHandle is returned for element handles not produced by this adapter.
var ErrForeignHandle = errors.New("element handle was not produced by the rod adapter")

// Adapter implements types.WebAdapter over a single rod page.
type Adapter struct {
	page *rod.Page
}

// New wraps page.
func New(page *rod.Page) *Adapter {
	return &Adapter{page: page}
}

// Page returns the wrapped page.
func (a *Adapter) Page() *rod.Page { return a.page }

func (a *Adapter) Framework() types.Framework { return types.FrameworkCDP }

// FindElements queries without waiting; no match is an empty slice.
func (a *Adapter) FindElements(ctx context.Context, sel string) ([]types.ElementHandle, error) {
	query, xpath := toQuery(sel)
	page := a.page.Context(ctx)

	var (
		els rod.Elements
		err error
	)
	if xpath {
		els, err = page.ElementsX(query)
	} else {
		els, err = page.Elements(query)
	}
	if err != nil {
		return nil, fmt.Errorf("query %q: %w", query, err)
	}
	out := make([]types.ElementHandle, len(els))
	for i, el := range els {
		out[i] = el
	}
	return out, nil
}

func (a *Adapter) PageSource(ctx context.Context) (string, error) {
	html, err := a.page.Context(ctx).HTML()
	if err != nil {
		return "", fmt.Errorf("page source: %w", err)
	}
	return html, nil
}

func (a *Adapter) Screenshot(ctx context.Context) ([]byte, error) {
	png, err := a.page.Context(ctx).Screenshot(false, &proto.PageCaptureScreenshot{
		Format: proto.PageCaptureScreenshotFormatPng,
	})
	if err != nil {
		return nil, fmt.Errorf("screenshot: %w", err)
	}
	return png, nil
}

func (a *Adapter) ElementContext(ctx context.Context, handle types.ElementHandle) (*types.ElementContext, error) {
	el, ok := handle.(*rod.Element)
	if !ok {
		return nil, ErrForeignHandle
	}
	res, err := el.Context(ctx).Eval(contextScript)
	if err != nil {
		return nil, fmt.Errorf("element context: %w", err)
	}
	return parseContext(res.Value.Str())
}

// toQuery turns a locator of any detected kind into a CSS selector or an
// XPath expression.
func toQuery(sel string) (query string, xpath bool) {
	s := strings.TrimSpace(sel)
	switch selector.Detect(s) {
	case types.KindXPath:
		return s, true
	case types.KindID:
		return fmt.Sprintf(`[id=%q]`, s), false
	case types.KindName:
		return fmt.Sprintf(`[name=%q]`, s), false
	case types.KindLinkText:
		return fmt.Sprintf(`//a[normalize-space(.)=%s]`, xpathLiteral(s)), true
	default:
		return s, false
	}
}

// xpathLiteral quotes s for XPath 1.0, which has no escape sequences.
func xpathLiteral(s string) string {
	if !strings.Contains(s, `"`) {
		return `"` + s + `"`
	}
	if !strings.Contains(s, "'") {
		return "'" + s + "'"
	}
	parts := strings.Split(s, `"`)
	quoted := make([]string, 0, 2*len(parts))
	for i, p := range parts {
		if i > 0 {
			quoted = append(quoted, `'"'`)
		}
		quoted = append(quoted, `"`+p+`"`)
	}
	return "concat(" + strings.Join(quoted, ",") + ")"
}

func parseContext(raw string) (*types.ElementContext, error) {
	if !gjson.Valid(raw) {
		return nil, fmt.Errorf("element context: invalid JSON")
	}
	doc := gjson.Parse(raw)

	ec := &types.ElementContext{
		TagName:    doc.Get("tag").String(),
		Text:       doc.Get("text").String(),
		Attributes: make(map[string]string),
	}
	doc.Get("attributes").ForEach(func(k, v gjson.Result) bool {
		ec.Attributes[k.String()] = v.String()
		return true
	})

	var parents []string
	for _, p := range doc.Get("parents").Array() {
		parents = append(parents, p.String())
	}
	ec.ParentContainer = strings.Join(parents, " < ")
	for _, s := range doc.Get("siblings").Array() {
		ec.Siblings = append(ec.Siblings, s.String())
	}
	if pos := doc.Get("position"); pos.Exists() {
		ec.Position = &types.Position{
			X:      pos.Get("x").Float(),
			Y:      pos.Get("y").Float(),
			Width:  pos.Get("width").Float(),
			Height: pos.Get("height").Float(),
		}
	}

	styles := make(map[string]string)
	doc.Get("styles").ForEach(func(k, v gjson.Result) bool {
		styles[k.String()] = v.String()
		return true
	})
	ec.Fingerprint = &types.ElementFingerprint{
		TagName:        ec.TagName,
		ParentChain:    ec.ParentContainer,
		ScreenPosition: ec.Position,
		ComputedStyles: styles,
		TextContent:    ec.Text,
		NearbyElements: ec.Siblings,
	}
	return ec, nil
}

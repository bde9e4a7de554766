// Copyright 2026 The autoheal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package ai

import (
	"fmt"
	"strings"

	"github.com/traylinx/autoheal/internal/types"
)

// DisambiguationMaxTokens is the completion budget for picking one element.
const DisambiguationMaxTokens = 10

const responseFormat = `Respond with valid JSON only:
{
    "selector": "css-selector-here",
    "confidence": 0.95,
    "reasoning": "brief explanation",
    "alternatives": ["alt1", "alt2"]
}`

// BuildDOMPrompt renders the DOM analysis prompt for an already reduced page source.
func BuildDOMPrompt(p types.DOMPrompt, html string) string {
	if p.Framework == types.FrameworkPlaywright {
		return buildUniqueLocatorPrompt(p, html)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "You are a web automation expert. Find the best CSS selector for: %q\n\n", p.Description)
	if p.PreviousSelector != "" {
		fmt.Fprintf(&b, "The selector %q is broken. ", p.PreviousSelector)
	}
	b.WriteString("Analyze the HTML and find the correct element.\n\n")
	b.WriteString("HTML:\n")
	b.WriteString(html)
	b.WriteString(`

REQUIREMENTS:
- Look for elements with matching id, name, class, or text content
- Prefer ID selectors (#id) when available
- Ensure the selector matches exactly one element
- The selector must be valid CSS syntax
- Do NOT include any prefixes like "selector:" or "css:"

`)
	b.WriteString(responseFormat)
	return b.String()
}

// buildUniqueLocatorPrompt stresses uniqueness. Playwright locators fail on
// ambiguous matches, so ranking by identifier stability matters more there.
func buildUniqueLocatorPrompt(p types.DOMPrompt, html string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are a Playwright automation expert. Find the best UNIQUE selector for: %q\n\n", p.Description)
	if p.PreviousSelector != "" {
		fmt.Fprintf(&b, "The previous locator %q is broken. ", p.PreviousSelector)
	}
	b.WriteString("Analyze the HTML and find the correct element.\n\n")
	b.WriteString("HTML:\n")
	b.WriteString(html)
	b.WriteString(`

CRITICAL REQUIREMENT:
The selector MUST match EXACTLY ONE element. If multiple elements have the same text or role, use a unique identifier like id or data-testid.

PRIORITY ORDER:
1. [data-testid='...'] or [data-test='...']
2. #id
3. Attribute selectors on name, aria-label or placeholder
4. Class or structural CSS selectors
5. XPath, only when no CSS selector can be unique

`)
	b.WriteString(responseFormat)
	return b.String()
}

// BuildVisualPrompt renders the screenshot analysis prompt.
func BuildVisualPrompt(p types.VisualPrompt) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Analyze the screenshot to locate the element: %q\n\n", p.Description)
	if p.PreviousSelector != "" {
		fmt.Fprintf(&b, "The selector %q no longer matches it.\n\n", p.PreviousSelector)
	}
	b.WriteString("Identify the best CSS selector for this element based on its visual characteristics and position.\n\n")
	b.WriteString(`Respond with valid JSON only:
{
    "selector": "css-selector-here",
    "confidence": 0.95,
    "reasoning": "brief explanation based on visual analysis",
    "alternatives": ["alt1", "alt2"]
}`)
	return b.String()
}

// BuildDisambiguationPrompt lists every candidate as a numbered block and
// asks for the 1-based number of the best match.
func BuildDisambiguationPrompt(description string, candidates []*types.ElementContext) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Multiple elements match the selector. Select the best match for: %q\n\n", description)
	for i, c := range candidates {
		fmt.Fprintf(&b, "Element %d:\n", i+1)
		var tag, text string
		if c != nil {
			tag, text = c.TagName, c.Text
		}
		fmt.Fprintf(&b, "  Tag: %s\n", tag)
		fmt.Fprintf(&b, "  Text: %s\n", truncateRunes(strings.TrimSpace(text), 200))
		fmt.Fprintf(&b, "  ID: %s\n", c.Attr("id"))
		fmt.Fprintf(&b, "  Class: %s\n", c.Attr("class"))
		fmt.Fprintf(&b, "  Name: %s\n", c.Attr("name"))
		fmt.Fprintf(&b, "  Value: %s\n", c.Attr("value"))
		fmt.Fprintf(&b, "  Aria-label: %s\n", c.Attr("aria-label"))
		fmt.Fprintf(&b, "  Data-testid: %s\n", c.Attr("data-testid"))
		b.WriteString("\n")
	}
	b.WriteString("Respond with only the number (1, 2, 3, etc.) of the element that best matches the description.")
	return b.String()
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

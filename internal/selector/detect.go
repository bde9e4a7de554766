// Copyright 2026 The autoheal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package selector inspects locator strings: it detects their syntax, scores
// their stability and resolves index-qualified composite selectors.
package selector

import (
	"regexp"
	"strings"

	"github.com/traylinx/autoheal/internal/types"
)

var (
	xpathPattern       = regexp.MustCompile(`^(//|/|\.//|\.\./)`)
	cssIDPattern       = regexp.MustCompile(`^#[a-zA-Z][a-zA-Z0-9_-]*$`)
	cssClassPattern    = regexp.MustCompile(`^\.[a-zA-Z][a-zA-Z0-9_-]*$`)
	cssAttrPattern     = regexp.MustCompile(`\[.*=.*\]`)
	cssSpecialPattern  = regexp.MustCompile(`[:>+~#.\[]`)
	simpleIDPattern    = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_-]*$`)
	linkTextCharacters = regexp.MustCompile(`^[\p{L}\p{N} '!?,&-]+$`)
)

var htmlTags = map[string]struct{}{}

func init() {
	for _, tag := range strings.Fields(`a abbr address area article aside audio b base bdi bdo big
		blockquote body br button canvas caption cite code col colgroup data datalist dd del details
		dfn dialog div dl dt em embed fieldset figcaption figure footer form h1 h2 h3 h4 h5 h6 head
		header hr html i iframe img input ins kbd label legend li link main map mark meta meter nav
		noscript object ol optgroup option output p param picture pre progress q rp rt ruby s samp
		script section select small source span strong style sub summary sup svg table tbody td
		textarea tfoot th thead time title tr track u ul var video wbr`) {
		htmlTags[tag] = struct{}{}
	}
}

// Detect returns the most likely syntax of a locator string. Empty input is
// reported as CSS, the adapters' default.
func Detect(locator string) types.LocatorKind {
	s := strings.TrimSpace(Base(locator))
	switch {
	case s == "":
		return types.KindCSS
	case xpathPattern.MatchString(s):
		return types.KindXPath
	case cssIDPattern.MatchString(s), cssClassPattern.MatchString(s):
		return types.KindCSS
	case cssAttrPattern.MatchString(s), cssSpecialPattern.MatchString(s):
		return types.KindCSS
	}
	if _, ok := htmlTags[strings.ToLower(s)]; ok {
		return types.KindTagName
	}
	if isLikelyLinkText(s) {
		return types.KindLinkText
	}
	if simpleIDPattern.MatchString(s) {
		return types.KindID
	}
	return types.KindName
}

// Link text is prose: words separated by spaces, or punctuation that never
// appears in an identifier, e.g. "Sign in" or "Help!".
func isLikelyLinkText(s string) bool {
	if !linkTextCharacters.MatchString(s) {
		return false
	}
	if strings.Contains(s, " ") {
		return true
	}
	return strings.ContainsAny(s, "!?,&'")
}

// ComplexityScore grows with every combinator, attribute, pseudo-class and
// class in the selector. A bare tag scores 1.
func ComplexityScore(sel string) int {
	if sel == "" {
		return 0
	}
	score := 1
	score += strings.Count(sel, ">") + strings.Count(sel, "+") + strings.Count(sel, "~")
	score += strings.Count(sel, " ") / 2
	score += strings.Count(sel, "[")
	score += strings.Count(sel, ":")
	score += strings.Count(sel, ".")
	return score
}

var (
	stableMarkers   = []string{"id=", "data-testid=", "data-test-id=", "aria-label=", "name=", "role="}
	unstableMarkers = []string{":nth-child", ":nth-of-type", ":first-child", ":last-child", "class*=", indexQualifier}
)

// IsStable reports whether the selector relies on semantic attributes
// rather than document position or styling.
func IsStable(sel string) bool {
	if sel == "" {
		return false
	}
	lower := strings.ToLower(sel)
	for _, m := range stableMarkers {
		if strings.Contains(lower, m) {
			return !strings.Contains(lower, indexQualifier)
		}
	}
	for _, m := range unstableMarkers {
		if strings.Contains(lower, m) {
			return false
		}
	}
	if cssIDPattern.MatchString(sel) {
		return true
	}
	return ComplexityScore(sel) <= 2
}

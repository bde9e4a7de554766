// Copyright 2026 The autoheal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package ai

import (
	"regexp"
	"strings"
	"sync"

	"github.com/microcosm-cc/bluemonday"
)

var (
	pagePolicyOnce sync.Once
	pagePolicy     *bluemonday.Policy
)

// pageSourcePolicy keeps element structure and the attributes a selector can
// target. Scripts, styles, comments and presentation attributes are dropped.
func pageSourcePolicy() *bluemonday.Policy {
	pagePolicyOnce.Do(func() {
		p := bluemonday.NewPolicy()
		p.AllowElementsMatching(regexp.MustCompile(`^[a-z][a-z0-9-]*$`))
		p.AllowAttrs(
			"id", "class", "name", "type", "value", "placeholder", "title", "alt",
			"role", "for", "aria-label", "aria-labelledby", "aria-describedby",
			"data-test", "data-qa", "data-cy",
		).Globally()
		p.AllowDataAttributes()
		p.AllowAttrs("href").OnElements("a")
		p.AllowAttrs("src").OnElements("img")
		p.RequireParseableURLs(true)
		p.AllowRelativeURLs(true)
		p.AllowURLSchemes("http", "https", "mailto")
		pagePolicy = p
	})
	return pagePolicy
}

var blankRun = regexp.MustCompile(`\s{2,}`)

// SanitizeHTML reduces page source to what DOM analysis needs and collapses
// whitespace runs.
func SanitizeHTML(html string) string {
	if strings.TrimSpace(html) == "" {
		return ""
	}
	cleaned := pageSourcePolicy().Sanitize(html)
	return strings.TrimSpace(blankRun.ReplaceAllString(cleaned, " "))
}

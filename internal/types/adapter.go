// Copyright 2026 The autoheal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package types

import "context"

// ElementHandle is an opaque element reference owned by a WebAdapter.
type ElementHandle = any

// ElementContext is what an adapter knows about one element. It feeds
// disambiguation prompts and fingerprints.
type ElementContext struct {
	TagName         string              `json:"tag_name"`
	ParentContainer string              `json:"parent_container,omitempty"`
	Position        *Position           `json:"position,omitempty"`
	Siblings        []string            `json:"siblings,omitempty"`
	Attributes      map[string]string   `json:"attributes,omitempty"`
	Text            string              `json:"text,omitempty"`
	Fingerprint     *ElementFingerprint `json:"fingerprint,omitempty"`
}

// Attr returns the named attribute or "".
func (c *ElementContext) Attr(name string) string {
	if c == nil || c.Attributes == nil {
		return ""
	}
	return c.Attributes[name]
}

// WebAdapter is the browser automation surface autoheal drives. Implementations
// wrap a concrete framework. Selectors passed to FindElements are always plain
// selectors; composite index qualifiers are resolved by autoheal itself.
type WebAdapter interface {
	// FindElements returns every element matching selector, in document order.
	// No match is an empty slice, not an error.
	FindElements(ctx context.Context, selector string) ([]ElementHandle, error)

	// PageSource returns the current page HTML.
	PageSource(ctx context.Context) (string, error)

	// Screenshot returns a PNG of the current viewport.
	Screenshot(ctx context.Context) ([]byte, error)

	// ElementContext describes one element previously returned by FindElements.
	ElementContext(ctx context.Context, el ElementHandle) (*ElementContext, error)

	// Framework names the automation framework.
	Framework() Framework
}

// Copyright 2026 The autoheal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package selector

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/traylinx/autoheal/internal/types"
)

const indexQualifier = " >> nth="

// WithIndex qualifies base so that it targets the element at the 0-based
// index among base's matches.
func WithIndex(base string, index int) string {
	return base + indexQualifier + strconv.Itoa(index)
}

// Split separates an index-qualified selector into its base and index.
// ok is false for plain selectors.
func Split(sel string) (base string, index int, ok bool) {
	i := strings.LastIndex(sel, indexQualifier)
	if i < 0 {
		return sel, 0, false
	}
	n, err := strconv.Atoi(strings.TrimSpace(sel[i+len(indexQualifier):]))
	if err != nil || n < 0 {
		return sel, 0, false
	}
	return sel[:i], n, true
}

// Base strips an index qualifier, if any.
func Base(sel string) string {
	base, _, _ := Split(sel)
	return base
}

// Find resolves sel through the adapter. Index-qualified selectors query
// their base and pick one element, so adapters only ever see plain selectors.
// An out-of-range index yields no elements. Adapter failures are wrapped in
// an AdapterError.
func Find(ctx context.Context, adapter types.WebAdapter, sel string) ([]types.ElementHandle, error) {
	base, index, qualified := Split(sel)
	elements, err := adapter.FindElements(ctx, base)
	if err != nil {
		return nil, &types.AdapterError{Op: fmt.Sprintf("find %q", base), Cause: err}
	}
	if !qualified {
		return elements, nil
	}
	if index >= len(elements) {
		return nil, nil
	}
	return []types.ElementHandle{elements[index]}, nil
}

// FindWithin is Find bounded by timeout. A non-positive timeout leaves ctx's
// own deadline in charge.
func FindWithin(ctx context.Context, adapter types.WebAdapter, sel string, timeout time.Duration) ([]types.ElementHandle, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return Find(ctx, adapter, sel)
}

// Copyright 2026 The autoheal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package util

import "strings"

// HideAPIKey keeps only the ends of a credential for logging.
func HideAPIKey(apiKey string) string {
	switch n := len(apiKey); {
	case n > 8:
		return apiKey[:4] + "..." + apiKey[n-4:]
	case n > 4:
		return apiKey[:2] + "..." + apiKey[n-2:]
	case n > 2:
		return apiKey[:1] + "..." + apiKey[n-1:]
	}
	return apiKey
}

// MaskAuthorizationHeader hides the credential of an Authorization value
// and keeps its scheme, e.g. "Bearer sk-1...cdef".
func MaskAuthorizationHeader(value string) string {
	scheme, cred, ok := strings.Cut(strings.TrimSpace(value), " ")
	if !ok {
		return HideAPIKey(value)
	}
	return scheme + " " + HideAPIKey(cred)
}

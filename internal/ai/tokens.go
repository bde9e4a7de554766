// Copyright 2026 The autoheal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package ai

import (
	"sync"

	log "github.com/sirupsen/logrus"
	"github.com/tiktoken-go/tokenizer"
)

const (
	truncationMarker = "\n<!-- truncated -->"

	// approxCharsPerToken is used when no encoder is available.
	approxCharsPerToken = 4
)

var (
	codecOnce sync.Once
	codec     tokenizer.Codec
)

func defaultCodec() tokenizer.Codec {
	codecOnce.Do(func() {
		c, err := tokenizer.Get(tokenizer.Cl100kBase)
		if err != nil {
			log.Warnf("token encoder unavailable, falling back to character estimate: %v", err)
			return
		}
		codec = c
	})
	return codec
}

// CountTokens estimates how many prompt tokens text costs.
func CountTokens(text string) int {
	if text == "" {
		return 0
	}
	if c := defaultCodec(); c != nil {
		if ids, _, err := c.Encode(text); err == nil {
			return len(ids)
		}
	}
	return (len(text) + approxCharsPerToken - 1) / approxCharsPerToken
}

// TruncateTokens cuts text to at most maxTokens tokens. It reports whether
// anything was cut. A non-positive maxTokens disables truncation.
func TruncateTokens(text string, maxTokens int) (string, bool) {
	if maxTokens <= 0 || text == "" {
		return text, false
	}
	if c := defaultCodec(); c != nil {
		ids, _, err := c.Encode(text)
		if err == nil {
			if len(ids) <= maxTokens {
				return text, false
			}
			head, errDecode := c.Decode(ids[:maxTokens])
			if errDecode == nil {
				return head + truncationMarker, true
			}
		}
	}
	limit := maxTokens * approxCharsPerToken
	if len(text) <= limit {
		return text, false
	}
	return truncateUTF8(text, limit) + truncationMarker, true
}

func truncateUTF8(s string, n int) string {
	for n > 0 && n < len(s) && s[n]&0xC0 == 0x80 {
		n--
	}
	return s[:n]
}

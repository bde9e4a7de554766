// Copyright 2026 The autoheal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package types

import (
	"fmt"
	"time"
)

// CachedSelector is a healed selector together with its usage history.
//
// The success rate is never stored: it is always computed from Successes and
// Attempts so the two counters cannot drift from the rate.
type CachedSelector struct {
	Selector    string              `json:"selector"`
	Fingerprint *ElementFingerprint `json:"fingerprint,omitempty"`
	Attempts    int                 `json:"attempts"`
	Successes   int                 `json:"successes"`
	LastUsed    time.Time           `json:"last_used"`
	CreatedAt   time.Time           `json:"created_at"`

	// LastAccess drives expire-after-access. It is bumped on every read and update.
	LastAccess time.Time `json:"last_access"`
}

// NewCachedSelector creates an entry for a selector that just worked. A fresh
// entry counts that first success, so it starts at one attempt and one success.
func NewCachedSelector(selector string, fingerprint *ElementFingerprint, now time.Time) *CachedSelector {
	return &CachedSelector{
		Selector:    selector,
		Fingerprint: fingerprint,
		Attempts:    1,
		Successes:   1,
		LastUsed:    now,
		CreatedAt:   now,
		LastAccess:  now,
	}
}

// RecordUsage counts one use of the selector.
func (c *CachedSelector) RecordUsage(success bool, now time.Time) {
	c.Attempts++
	if success {
		c.Successes++
	}
	c.LastUsed = now
	c.LastAccess = now
}

// SuccessRate returns Successes/Attempts, or 0 when nothing was recorded.
func (c *CachedSelector) SuccessRate() float64 {
	if c.Attempts <= 0 {
		return 0
	}
	return float64(c.Successes) / float64(c.Attempts)
}

// UsageCount is the number of recorded attempts.
func (c *CachedSelector) UsageCount() int {
	return c.Attempts
}

// Expired reports whether the entry is past either of its two deadlines.
// A zero duration disables that deadline.
func (c *CachedSelector) Expired(now time.Time, expireAfterWrite, expireAfterAccess time.Duration) bool {
	if expireAfterWrite > 0 && !now.Before(c.CreatedAt.Add(expireAfterWrite)) {
		return true
	}
	if expireAfterAccess > 0 && !now.Before(c.LastAccess.Add(expireAfterAccess)) {
		return true
	}
	return false
}

// Clone returns a deep copy.
func (c *CachedSelector) Clone() *CachedSelector {
	if c == nil {
		return nil
	}
	out := *c
	if c.Fingerprint != nil {
		out.Fingerprint = c.Fingerprint.Clone()
	}
	return &out
}

func (c *CachedSelector) String() string {
	return fmt.Sprintf("CachedSelector(selector=%q, success_rate=%.2f, usage_count=%d)",
		c.Selector, c.SuccessRate(), c.UsageCount())
}

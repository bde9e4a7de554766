// Copyright 2026 The autoheal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package types

import (
	"encoding/hex"
	"math"
	"sort"
	"strings"

	"github.com/zeebo/blake3"
)

// Position is an element's bounding box in page pixels.
type Position struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// ElementFingerprint captures the characteristics that identify an element
// across page changes.
type ElementFingerprint struct {
	TagName        string            `json:"tag_name,omitempty"`
	ParentChain    string            `json:"parent_chain,omitempty"`
	ScreenPosition *Position         `json:"screen_position,omitempty"`
	ComputedStyles map[string]string `json:"computed_styles,omitempty"`
	TextContent    string            `json:"text_content,omitempty"`
	NearbyElements []string          `json:"nearby_elements,omitempty"`
	VisualHash     string            `json:"visual_hash,omitempty"`
}

// Similarity scores two fingerprints in [0,1]. Parent chain and text weigh
// 0.3 each, position and computed styles 0.2 each.
func (f *ElementFingerprint) Similarity(other *ElementFingerprint) float64 {
	if f == nil || other == nil {
		return 0
	}
	parent := stringSimilarity(f.ParentChain, other.ParentChain)
	position := positionSimilarity(f.ScreenPosition, other.ScreenPosition)
	text := stringSimilarity(f.TextContent, other.TextContent)
	style := styleSimilarity(f.ComputedStyles, other.ComputedStyles)
	return parent*0.3 + position*0.2 + text*0.3 + style*0.2
}

// Signature returns a stable blake3 digest of the fingerprint fields. Two
// fingerprints with the same signature describe the same element shape.
func (f *ElementFingerprint) Signature() string {
	if f == nil {
		return ""
	}
	h := blake3.New()
	var b strings.Builder
	b.WriteString(f.TagName)
	b.WriteByte(0)
	b.WriteString(f.ParentChain)
	b.WriteByte(0)
	b.WriteString(f.TextContent)
	b.WriteByte(0)
	keys := make([]string, 0, len(f.ComputedStyles))
	for k := range f.ComputedStyles {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(f.ComputedStyles[k])
		b.WriteByte(';')
	}
	b.WriteByte(0)
	b.WriteString(strings.Join(f.NearbyElements, ","))
	_, _ = h.Write([]byte(b.String()))
	return hex.EncodeToString(h.Sum(nil)[:16])
}

// Clone returns a deep copy.
func (f *ElementFingerprint) Clone() *ElementFingerprint {
	if f == nil {
		return nil
	}
	out := *f
	if f.ScreenPosition != nil {
		p := *f.ScreenPosition
		out.ScreenPosition = &p
	}
	if f.ComputedStyles != nil {
		out.ComputedStyles = make(map[string]string, len(f.ComputedStyles))
		for k, v := range f.ComputedStyles {
			out.ComputedStyles[k] = v
		}
	}
	if f.NearbyElements != nil {
		out.NearbyElements = append([]string(nil), f.NearbyElements...)
	}
	return &out
}

func stringSimilarity(a, b string) float64 {
	if a == b {
		return 1
	}
	longest := math.Max(float64(len(a)), float64(len(b)))
	return 1 - math.Abs(float64(len(a)-len(b)))/longest
}

func positionSimilarity(a, b *Position) float64 {
	if a == nil || b == nil {
		return 0
	}
	distance := math.Hypot(a.X-b.X, a.Y-b.Y)
	return math.Max(0, 1-distance/1000)
}

func styleSimilarity(a, b map[string]string) float64 {
	keys := make(map[string]struct{}, len(a)+len(b))
	for k := range a {
		keys[k] = struct{}{}
	}
	for k := range b {
		keys[k] = struct{}{}
	}
	if len(keys) == 0 {
		return 1
	}
	matches := 0
	for k := range keys {
		va, okA := a[k]
		vb, okB := b[k]
		if okA == okB && va == vb {
			matches++
		}
	}
	return float64(matches) / float64(len(keys))
}

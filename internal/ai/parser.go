// Copyright 2026 The autoheal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package ai

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/goccy/go-json"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/tidwall/gjson"
	"github.com/traylinx/autoheal/internal/types"
)

// ErrMalformedResponse is returned when a model answer cannot be used.
var ErrMalformedResponse = errors.New("malformed ai response")

const (
	defaultConfidence     = 0.8
	alternativeConfidence = 0.8
)

const analysisSchema = `{
  "type": "object",
  "required": ["selector"],
  "properties": {
    "selector": {"type": "string", "minLength": 1},
    "confidence": {"type": "number"},
    "reasoning": {"type": "string"},
    "alternatives": {
      "type": "array",
      "items": {
        "anyOf": [
          {"type": "string"},
          {
            "type": "object",
            "required": ["selector"],
            "properties": {
              "selector": {"type": "string"},
              "confidence": {"type": "number"},
              "reasoning": {"type": "string"}
            }
          }
        ]
      }
    }
  }
}`

var (
	schemaOnce     sync.Once
	compiledSchema *jsonschema.Schema
	errSchema      error
)

func analysisResponseSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		c := jsonschema.NewCompiler()
		if err := c.AddResource("analysis.json", strings.NewReader(analysisSchema)); err != nil {
			errSchema = err
			return
		}
		compiledSchema, errSchema = c.Compile("analysis.json")
	})
	return compiledSchema, errSchema
}

// ParseAnalysis turns a model answer into an AnalysisResult. Markdown code
// fences and prose around the JSON object are tolerated. Every error wraps
// ErrMalformedResponse.
func ParseAnalysis(text string) (*types.AnalysisResult, error) {
	raw := extractJSONObject(text)
	if raw == "" || !gjson.Valid(raw) {
		return nil, fmt.Errorf("%w: no JSON object in %q", ErrMalformedResponse, truncateRunes(text, 120))
	}

	var doc any
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	schema, err := analysisResponseSchema()
	if err != nil {
		return nil, fmt.Errorf("compile analysis schema: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	parsed := gjson.Parse(raw)
	selector := cleanSelector(parsed.Get("selector").String())
	if selector == "" {
		return nil, fmt.Errorf("%w: empty selector", ErrMalformedResponse)
	}

	confidence := defaultConfidence
	if c := parsed.Get("confidence"); c.Exists() {
		confidence = clamp01(c.Float())
	}
	reasoning := parsed.Get("reasoning").String()
	if reasoning == "" {
		reasoning = "AI-generated selector"
	}

	result := &types.AnalysisResult{
		RecommendedSelector: selector,
		Confidence:          confidence,
		Reasoning:           reasoning,
	}
	parsed.Get("alternatives").ForEach(func(_, alt gjson.Result) bool {
		candidate := types.ElementCandidate{Confidence: confidence * alternativeConfidence}
		if alt.Type == gjson.String {
			candidate.Selector = cleanSelector(alt.String())
		} else {
			candidate.Selector = cleanSelector(alt.Get("selector").String())
			candidate.Reasoning = alt.Get("reasoning").String()
			if c := alt.Get("confidence"); c.Exists() {
				candidate.Confidence = clamp01(c.Float())
			}
		}
		if candidate.Selector != "" && candidate.Selector != selector {
			result.Alternatives = append(result.Alternatives, candidate)
		}
		return true
	})
	return result, nil
}

var firstInteger = regexp.MustCompile(`-?\d+`)

// ParseIndex extracts the answer of a disambiguation request: the whole text
// as an integer, or else the first integer in it. It returns 0 when the text
// holds no integer.
func ParseIndex(text string) int {
	trimmed := strings.TrimSpace(text)
	if n, err := strconv.Atoi(strings.TrimSuffix(trimmed, ".")); err == nil {
		return n
	}
	if m := firstInteger.FindString(trimmed); m != "" {
		if n, err := strconv.Atoi(m); err == nil {
			return n
		}
	}
	return 0
}

// extractJSONObject strips code fences and returns the outermost {...} span.
func extractJSONObject(text string) string {
	s := strings.TrimSpace(text)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
		s = strings.TrimSpace(s)
	}
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return ""
	}
	return s[start : end+1]
}

var selectorPrefix = regexp.MustCompile(`(?i)^(selector|css|xpath)\s*[:=]\s*`)

func cleanSelector(s string) string {
	s = strings.TrimSpace(s)
	s = selectorPrefix.ReplaceAllString(s, "")
	s = strings.Trim(s, "`")
	return strings.TrimSpace(s)
}

func clamp01(f float64) float64 {
	switch {
	case f < 0:
		return 0
	case f > 1:
		return 1
	}
	return f
}

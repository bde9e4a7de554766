package types

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCachedSelector_NewStartsWithOneSuccess(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewCachedSelector("#login", nil, now)

	assert.Equal(t, 1, c.Attempts)
	assert.Equal(t, 1, c.Successes)
	assert.Equal(t, 1.0, c.SuccessRate())
	assert.Equal(t, now, c.CreatedAt)
	assert.Equal(t, now, c.LastAccess)
}

func TestCachedSelector_RecordUsage(t *testing.T) {
	now := time.Now()
	c := NewCachedSelector("#login", nil, now)

	c.RecordUsage(false, now.Add(time.Second))
	c.RecordUsage(false, now.Add(2*time.Second))
	c.RecordUsage(true, now.Add(3*time.Second))

	assert.Equal(t, 4, c.Attempts)
	assert.Equal(t, 2, c.Successes)
	assert.InDelta(t, 0.5, c.SuccessRate(), 1e-12)
	assert.Equal(t, now.Add(3*time.Second), c.LastUsed)
	assert.Equal(t, now, c.CreatedAt)
}

func TestCachedSelector_ZeroAttempts(t *testing.T) {
	c := &CachedSelector{Selector: "x"}
	assert.Equal(t, 0.0, c.SuccessRate())
}

func TestCachedSelector_Expired(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	c := NewCachedSelector("#a", nil, t0)

	assert.False(t, c.Expired(t0.Add(time.Hour), 24*time.Hour, 2*time.Hour))
	assert.True(t, c.Expired(t0.Add(2*time.Hour), 24*time.Hour, 2*time.Hour), "access ttl")

	c.RecordUsage(true, t0.Add(23*time.Hour))
	assert.False(t, c.Expired(t0.Add(23*time.Hour+time.Minute), 24*time.Hour, 2*time.Hour))
	assert.True(t, c.Expired(t0.Add(24*time.Hour), 24*time.Hour, 2*time.Hour), "write ttl wins over fresh access")

	assert.False(t, c.Expired(t0.Add(1000*time.Hour), 0, 0), "zero durations disable expiry")
}

func TestCachedSelector_CloneIsDeep(t *testing.T) {
	c := NewCachedSelector("#a", &ElementFingerprint{ComputedStyles: map[string]string{"color": "red"}}, time.Now())
	cp := c.Clone()
	cp.Fingerprint.ComputedStyles["color"] = "blue"
	cp.RecordUsage(false, time.Now())

	assert.Equal(t, "red", c.Fingerprint.ComputedStyles["color"])
	assert.Equal(t, 1, c.Attempts)
}

func TestElementFingerprint_Similarity(t *testing.T) {
	a := &ElementFingerprint{
		ParentChain:    "html>body>form",
		TextContent:    "Submit",
		ScreenPosition: &Position{X: 10, Y: 10},
		ComputedStyles: map[string]string{"color": "blue"},
	}
	assert.InDelta(t, 1.0, a.Similarity(a.Clone()), 1e-9)

	b := a.Clone()
	b.ScreenPosition = &Position{X: 10, Y: 510}
	assert.InDelta(t, 0.9, a.Similarity(b), 1e-9)

	assert.Equal(t, 0.0, a.Similarity(nil))
}

func TestElementFingerprint_Signature(t *testing.T) {
	a := &ElementFingerprint{TagName: "button", TextContent: "Go", ComputedStyles: map[string]string{"a": "1", "b": "2"}}
	b := &ElementFingerprint{TagName: "button", TextContent: "Go", ComputedStyles: map[string]string{"b": "2", "a": "1"}}
	c := &ElementFingerprint{TagName: "button", TextContent: "Stop"}

	assert.Len(t, a.Signature(), 32)
	assert.Equal(t, a.Signature(), b.Signature())
	assert.NotEqual(t, a.Signature(), c.Signature())
	assert.Empty(t, (*ElementFingerprint)(nil).Signature())
}

func TestAnalysisResult_Candidates(t *testing.T) {
	r := &AnalysisResult{
		RecommendedSelector: "#a",
		Confidence:          0.9,
		Alternatives: []ElementCandidate{
			{Selector: ".low", Confidence: 0.2},
			{Selector: "#a", Confidence: 0.5},
			{Selector: ".high", Confidence: 0.8},
			{Selector: "", Confidence: 1},
		},
	}
	got := r.Candidates()
	require.Len(t, got, 3)
	assert.Equal(t, "#a", got[0].Selector)
	assert.Equal(t, ".high", got[1].Selector)
	assert.Equal(t, ".low", got[2].Selector)
}

func TestParseExecutionStrategy(t *testing.T) {
	tests := []struct {
		in   string
		want ExecutionStrategy
	}{
		{"", ExecutionSmartSequential},
		{"SEQUENTIAL", ExecutionSequential},
		{"smart-sequential", ExecutionSmartSequential},
		{" dom_only ", ExecutionDOMOnly},
		{"visual_first", ExecutionVisualFirst},
		{"parallel", ExecutionParallel},
	}
	for _, tt := range tests {
		got, err := ParseExecutionStrategy(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	_, err := ParseExecutionStrategy("random")
	assert.ErrorIs(t, err, ErrConfigurationInvalid)
}

func TestOptions_Validate(t *testing.T) {
	assert.NoError(t, DefaultOptions().Validate())

	o := DefaultOptions()
	o.ConfidenceThreshold = 1.5
	assert.ErrorIs(t, o.Validate(), ErrConfigurationInvalid)

	o = DefaultOptions()
	o.MaxCandidates = 0
	assert.ErrorIs(t, o.Validate(), ErrConfigurationInvalid)
}

func TestErrors_Taxonomy(t *testing.T) {
	cause := errors.New("boom")

	notFound := fmt.Errorf("resolve: %w", NewElementNotFoundError("#a", "button", cause))
	assert.ErrorIs(t, notFound, ErrElementNotFound)
	assert.ErrorIs(t, notFound, cause)
	assert.Equal(t, CodeElementNotFound, CodeOf(notFound))

	open := &CircuitBreakerOpenError{RetryAfter: time.Minute}
	assert.ErrorIs(t, open, ErrCircuitOpen)
	assert.ErrorIs(t, open, ErrAIServiceUnavailable)
	assert.NotErrorIs(t, open, ErrElementNotFound)
	assert.Contains(t, open.Error(), "1m0s")

	unavailable := &AIServiceUnavailableError{Provider: "mock", Attempts: 3, Cause: cause}
	assert.ErrorIs(t, unavailable, ErrAIServiceUnavailable)
	assert.NotErrorIs(t, unavailable, ErrCircuitOpen)

	assert.ErrorIs(t, &CacheError{Op: "save", Cause: cause}, ErrCache)
	assert.ErrorIs(t, &AdapterError{Op: "find", Cause: cause}, ErrAdapter)
	assert.Equal(t, CodeTimeoutExceeded, CodeOf(fmt.Errorf("x: %w", context.DeadlineExceeded)))
	assert.Equal(t, ErrorCode(""), CodeOf(cause))
}

func TestLocatorRequest_CacheKey(t *testing.T) {
	r := &LocatorRequest{OriginalSelector: "#login-btn", Description: "Login button"}
	assert.Equal(t, "#login-btn|Login button", r.CacheKey())
}

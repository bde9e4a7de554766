package ai

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/traylinx/autoheal/internal/resilience"
	"github.com/traylinx/autoheal/internal/testutil"
	"github.com/traylinx/autoheal/internal/types"
)

func noSleep(context.Context, time.Duration) error { return nil }

func newTestService(p types.Provider, threshold, attempts int) *Service {
	breaker := resilience.NewCircuitBreaker(&resilience.BreakerConfig{FailureThreshold: threshold, Timeout: time.Minute})
	retry := resilience.NewRetryPolicy(&resilience.RetryConfig{MaxAttempts: attempts, BaseDelay: time.Millisecond}).WithSleep(noSleep)
	return NewService(p, breaker, retry, Config{RequestTimeout: time.Second, VisualAnalysisEnabled: true, MaxHTMLTokens: 1000})
}

func TestAnalyzeDOM_Success(t *testing.T) {
	p := &testutil.Provider{DOM: testutil.Reply(testutil.SelectorReply("#signin", 0.9, "button.primary"), 321)}
	s := newTestService(p, 5, 3)

	result, err := s.AnalyzeDOM(context.Background(), types.DOMPrompt{
		Description:      "Login button",
		PreviousSelector: "#login-btn",
		HTML:             `<html><script>x()</script><button id="signin">Sign in</button></html>`,
	})
	require.NoError(t, err)
	assert.Equal(t, "#signin", result.RecommendedSelector)
	assert.Equal(t, 321, result.TokensUsed)
	require.Len(t, result.Alternatives, 1)

	prompt := p.LastPrompt()
	assert.Contains(t, prompt, `<button id="signin">Sign in</button>`)
	assert.NotContains(t, prompt, "x()")

	snap := s.Metrics()
	assert.EqualValues(t, 1, snap.Requests)
	assert.EqualValues(t, 1, snap.DOMRequests)
	assert.EqualValues(t, 321, snap.TokensUsed)
	assert.True(t, s.IsHealthy())
}

func TestAnalyzeDOM_RetriesTransientErrors(t *testing.T) {
	var calls atomic.Int32
	p := &testutil.Provider{DOM: func(context.Context, string) (*types.Completion, error) {
		if calls.Add(1) < 3 {
			return nil, io.ErrUnexpectedEOF
		}
		return &types.Completion{Text: testutil.SelectorReply("#ok", 0.8), TokensUsed: 10}, nil
	}}
	s := newTestService(p, 5, 3)

	result, err := s.AnalyzeDOM(context.Background(), types.DOMPrompt{Description: "ok"})
	require.NoError(t, err)
	assert.Equal(t, "#ok", result.RecommendedSelector)
	assert.Equal(t, 3, p.DOMCalls())
	assert.Equal(t, 0, s.Breaker().FailureCount())
}

func TestAnalyzeDOM_MalformedAnswerIsNotRetried(t *testing.T) {
	p := &testutil.Provider{DOM: testutil.Reply("no idea", 5)}
	s := newTestService(p, 5, 3)

	_, err := s.AnalyzeDOM(context.Background(), types.DOMPrompt{Description: "x"})
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrAIServiceUnavailable)
	assert.ErrorIs(t, err, ErrMalformedResponse)
	assert.Equal(t, 1, p.DOMCalls())
	assert.Equal(t, 1, s.Breaker().FailureCount(), "one logical failure per call")
}

func TestAnalyzeDOM_ExhaustedRetriesCountOnce(t *testing.T) {
	p := &testutil.Provider{DOM: func(context.Context, string) (*types.Completion, error) {
		return nil, resilience.Transient(errors.New("HTTP 503"))
	}}
	s := newTestService(p, 5, 3)

	_, err := s.AnalyzeDOM(context.Background(), types.DOMPrompt{Description: "x"})
	require.Error(t, err)

	var unavailable *types.AIServiceUnavailableError
	require.ErrorAs(t, err, &unavailable)
	assert.Equal(t, 3, unavailable.Attempts)
	assert.Equal(t, "fake", unavailable.Provider)
	assert.Equal(t, 3, p.DOMCalls())
	assert.Equal(t, 1, s.Breaker().FailureCount())
}

func TestService_CircuitOpensAndFailsFast(t *testing.T) {
	p := &testutil.Provider{DOM: func(context.Context, string) (*types.Completion, error) {
		return nil, errors.New("HTTP 400")
	}}
	s := newTestService(p, 2, 1)

	for i := 0; i < 2; i++ {
		_, err := s.AnalyzeDOM(context.Background(), types.DOMPrompt{Description: "x"})
		require.Error(t, err)
	}
	require.Equal(t, resilience.StateOpen, s.Breaker().State())
	assert.False(t, s.IsHealthy())

	_, err := s.AnalyzeDOM(context.Background(), types.DOMPrompt{Description: "x"})
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrCircuitOpen)
	assert.ErrorIs(t, err, types.ErrAIServiceUnavailable)
	assert.Equal(t, 2, p.DOMCalls(), "open breaker does not reach the provider")
	assert.EqualValues(t, 1, s.Metrics().CircuitOpenRejections)
}

func TestService_PerAttemptTimeout(t *testing.T) {
	p := &testutil.Provider{DOM: func(ctx context.Context, _ string) (*types.Completion, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	breaker := resilience.NewCircuitBreaker(nil)
	retry := resilience.NewRetryPolicy(&resilience.RetryConfig{MaxAttempts: 2}).WithSleep(noSleep)
	s := NewService(p, breaker, retry, Config{RequestTimeout: 20 * time.Millisecond})

	start := time.Now()
	_, err := s.AnalyzeDOM(context.Background(), types.DOMPrompt{Description: "x"})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 2, p.DOMCalls(), "timeouts are retryable")
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestService_CallerCancellationDoesNotTripBreaker(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := &testutil.Provider{DOM: func(context.Context, string) (*types.Completion, error) {
		cancel()
		return nil, io.ErrUnexpectedEOF
	}}
	s := newTestService(p, 1, 3)

	_, err := s.AnalyzeDOM(ctx, types.DOMPrompt{Description: "x"})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, resilience.StateClosed, s.Breaker().State())
}

func TestService_CallerDeadlineTripsBreaker(t *testing.T) {
	p := &testutil.Provider{DOM: func(ctx context.Context, _ string) (*types.Completion, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	s := newTestService(p, 1, 1)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := s.AnalyzeDOM(ctx, types.DOMPrompt{Description: "x"})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, s.Breaker().FailureCount())
	assert.Equal(t, resilience.StateOpen, s.Breaker().State())
}

func TestAnalyzeVisual(t *testing.T) {
	p := &testutil.Provider{
		Visual: true,
		VisualFn: func(_ context.Context, prompt string, shot []byte) (*types.Completion, error) {
			if len(shot) == 0 || !strings.Contains(prompt, "Search box") {
				return nil, errors.New("unexpected request")
			}
			return &types.Completion{Text: testutil.SelectorReply("input[name='q']", 0.75)}, nil
		},
	}
	s := newTestService(p, 5, 1)

	result, err := s.AnalyzeVisual(context.Background(), types.VisualPrompt{Description: "Search box", Screenshot: []byte{1, 2, 3}})
	require.NoError(t, err)
	assert.Equal(t, "input[name='q']", result.RecommendedSelector)
	assert.True(t, s.SupportsVisual())
	assert.EqualValues(t, 1, s.Metrics().VisualRequests)
}

func TestAnalyzeVisual_Refusals(t *testing.T) {
	p := &testutil.Provider{Visual: false}
	s := newTestService(p, 1, 1)

	_, err := s.AnalyzeVisual(context.Background(), types.VisualPrompt{Description: "x", Screenshot: []byte{1}})
	assert.ErrorIs(t, err, types.ErrAIServiceUnavailable)

	p.Visual = true
	s.cfg.VisualAnalysisEnabled = false
	_, err = s.AnalyzeVisual(context.Background(), types.VisualPrompt{Description: "x", Screenshot: []byte{1}})
	assert.ErrorIs(t, err, types.ErrAIServiceUnavailable)
	assert.False(t, s.SupportsVisual())

	s.cfg.VisualAnalysisEnabled = true
	_, err = s.AnalyzeVisual(context.Background(), types.VisualPrompt{Description: "x"})
	assert.ErrorIs(t, err, types.ErrAIServiceUnavailable)

	assert.Zero(t, p.VisualCalls())
	assert.Equal(t, resilience.StateClosed, s.Breaker().State(), "refusals never reach the breaker")
}

func TestDisambiguate(t *testing.T) {
	var gotMax int
	p := &testutil.Provider{CompleteFn: func(_ context.Context, _ string, maxTokens int) (*types.Completion, error) {
		gotMax = maxTokens
		return &types.Completion{Text: "Element 2", TokensUsed: 7}, nil
	}}
	s := newTestService(p, 5, 1)

	res, err := s.Disambiguate(context.Background(), "pick one", 0)
	require.NoError(t, err)
	assert.Equal(t, 2, res.SelectedIndex)
	assert.Equal(t, 7, res.TokensUsed)
	assert.Equal(t, "Element 2", res.Raw)
	assert.Equal(t, DisambiguationMaxTokens, gotMax)
	assert.EqualValues(t, 1, s.Metrics().DisambiguateRequests)
}

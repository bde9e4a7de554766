package strategy

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/traylinx/autoheal/internal/types"
)

type fakeLocator struct {
	tag    types.Strategy
	result *types.LocatorResult
	err    error
	delay  time.Duration
	calls  atomic.Int32
}

func (f *fakeLocator) Strategy() types.Strategy { return f.tag }

func (f *fakeLocator) Locate(ctx context.Context, _ *types.LocatorRequest) (*types.LocatorResult, error) {
	f.calls.Add(1)
	if f.delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(f.delay):
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	r := *f.result
	return &r, nil
}

func winning(tag types.Strategy, sel string, confidence float64, tokens int) *fakeLocator {
	return &fakeLocator{tag: tag, result: &types.LocatorResult{
		Element:        sel,
		ActualSelector: sel,
		Strategy:       tag,
		Confidence:     confidence,
		Reasoning:      "found it",
		TokensUsed:     tokens,
	}}
}

func failing(tag types.Strategy) *fakeLocator {
	return &fakeLocator{tag: tag, err: errors.New(string(tag) + " failed")}
}

func request() *types.LocatorRequest {
	return &types.LocatorRequest{OriginalSelector: "#login-btn", Description: "Login button", Options: types.DefaultOptions()}
}

func TestNewSelector_Validation(t *testing.T) {
	_, err := NewSelector("round_robin", winning(types.StrategyDOMAnalysis, "#a", 1, 0))
	assert.ErrorIs(t, err, types.ErrConfigurationInvalid)

	_, err = NewSelector(types.ExecutionSequential)
	assert.ErrorIs(t, err, types.ErrConfigurationInvalid)

	_, err = NewSelector(types.ExecutionDOMOnly, winning(types.StrategyVisualAnalysis, "#a", 1, 0))
	var cfgErr *types.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "execution-strategy", cfgErr.Field)

	s, err := NewSelector("", winning(types.StrategyDOMAnalysis, "#a", 1, 0))
	require.NoError(t, err)
	assert.Equal(t, types.ExecutionSmartSequential, s.Mode())
}

func TestSmartSequential_DOMSuccessSkipsVisual(t *testing.T) {
	visual := winning(types.StrategyVisualAnalysis, "#v", 0.99, 50)
	dom := winning(types.StrategyDOMAnalysis, "#login-button", 0.92, 20)
	s, err := NewSelector(types.ExecutionSmartSequential, visual, dom)
	require.NoError(t, err)

	result, err := s.Locate(context.Background(), request())
	require.NoError(t, err)
	assert.Equal(t, "#login-button", result.ActualSelector)
	assert.Equal(t, types.StrategyHybrid, result.Strategy)
	assert.Contains(t, result.Reasoning, string(types.StrategyDOMAnalysis))
	assert.Equal(t, 20, result.TokensUsed)
	assert.EqualValues(t, 1, dom.calls.Load())
	assert.EqualValues(t, 0, visual.calls.Load())
}

func TestSmartSequential_FallsBackToVisual(t *testing.T) {
	dom := failing(types.StrategyDOMAnalysis)
	visual := winning(types.StrategyVisualAnalysis, "#v", 0.8, 30)
	s, err := NewSelector(types.ExecutionSmartSequential, dom, visual)
	require.NoError(t, err)

	result, err := s.Locate(context.Background(), request())
	require.NoError(t, err)
	assert.Equal(t, "#v", result.ActualSelector)
	assert.Contains(t, result.Reasoning, string(types.StrategyVisualAnalysis))
	assert.EqualValues(t, 1, dom.calls.Load())
	assert.EqualValues(t, 1, visual.calls.Load())
}

func TestVisualFirst(t *testing.T) {
	dom := winning(types.StrategyDOMAnalysis, "#d", 0.9, 1)
	visual := winning(types.StrategyVisualAnalysis, "#v", 0.8, 1)
	s, err := NewSelector(types.ExecutionVisualFirst, dom, visual)
	require.NoError(t, err)

	result, err := s.Locate(context.Background(), request())
	require.NoError(t, err)
	assert.Equal(t, "#v", result.ActualSelector)
	assert.EqualValues(t, 0, dom.calls.Load())
}

func TestDOMOnly_NeverCallsVisual(t *testing.T) {
	dom := failing(types.StrategyDOMAnalysis)
	visual := winning(types.StrategyVisualAnalysis, "#v", 0.8, 1)
	s, err := NewSelector(types.ExecutionDOMOnly, dom, visual)
	require.NoError(t, err)

	_, err = s.Locate(context.Background(), request())
	assert.ErrorIs(t, err, types.ErrElementNotFound)
	assert.EqualValues(t, 0, visual.calls.Load())
}

func TestSequential_ListOrder(t *testing.T) {
	visual := failing(types.StrategyVisualAnalysis)
	dom := winning(types.StrategyDOMAnalysis, "#d", 0.9, 1)
	s, err := NewSelector(types.ExecutionSequential, visual, dom)
	require.NoError(t, err)

	result, err := s.Locate(context.Background(), request())
	require.NoError(t, err)
	assert.Equal(t, "#d", result.ActualSelector)
	assert.EqualValues(t, 1, visual.calls.Load())
}

func TestSequential_ExhaustedListsStrategies(t *testing.T) {
	s, err := NewSelector(types.ExecutionSequential, failing(types.StrategyDOMAnalysis), failing(types.StrategyVisualAnalysis))
	require.NoError(t, err)

	_, err = s.Locate(context.Background(), request())
	require.ErrorIs(t, err, types.ErrElementNotFound)
	assert.Contains(t, err.Error(), "dom_analysis, visual_analysis")
	assert.Contains(t, err.Error(), "visual_analysis failed")
}

func TestSequential_CircuitOpenIsWrapped(t *testing.T) {
	dom := &fakeLocator{tag: types.StrategyDOMAnalysis, err: &types.CircuitBreakerOpenError{RetryAfter: time.Minute}}
	s, err := NewSelector(types.ExecutionDOMOnly, dom)
	require.NoError(t, err)

	_, err = s.Locate(context.Background(), request())
	assert.ErrorIs(t, err, types.ErrElementNotFound)
	assert.ErrorIs(t, err, types.ErrCircuitOpen)
}

func TestParallel_HighestConfidenceWins(t *testing.T) {
	dom := winning(types.StrategyDOMAnalysis, "#d", 0.75, 100)
	dom.delay = 20 * time.Millisecond
	visual := winning(types.StrategyVisualAnalysis, "#v", 0.95, 300)
	visual.delay = 60 * time.Millisecond
	s, err := NewSelector(types.ExecutionParallel, dom, visual)
	require.NoError(t, err)

	result, err := s.Locate(context.Background(), request())
	require.NoError(t, err)
	assert.Equal(t, "#v", result.ActualSelector)
	assert.Equal(t, 400, result.TokensUsed)
	assert.GreaterOrEqual(t, result.Elapsed, 60*time.Millisecond)
	assert.Less(t, result.Elapsed, 500*time.Millisecond)
	assert.EqualValues(t, 1, dom.calls.Load())
	assert.EqualValues(t, 1, visual.calls.Load())
}

func TestParallel_FailureDoesNotAbortJoin(t *testing.T) {
	dom := failing(types.StrategyDOMAnalysis)
	visual := winning(types.StrategyVisualAnalysis, "#v", 0.8, 5)
	visual.delay = 10 * time.Millisecond
	s, err := NewSelector(types.ExecutionParallel, dom, visual)
	require.NoError(t, err)

	result, err := s.Locate(context.Background(), request())
	require.NoError(t, err)
	assert.Equal(t, "#v", result.ActualSelector)
	assert.Equal(t, types.StrategyHybrid, result.Strategy)
}

func TestParallel_AllFail(t *testing.T) {
	s, err := NewSelector(types.ExecutionParallel, failing(types.StrategyDOMAnalysis), failing(types.StrategyVisualAnalysis))
	require.NoError(t, err)

	_, err = s.Locate(context.Background(), request())
	assert.ErrorIs(t, err, types.ErrElementNotFound)
}

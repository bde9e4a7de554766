package main

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/traylinx/autoheal/internal/ai/providers/mock"
	"github.com/traylinx/autoheal/internal/cache"
	"github.com/traylinx/autoheal/internal/config"
	"github.com/traylinx/autoheal/internal/testutil"
	"github.com/traylinx/autoheal/internal/types"
)

func mockConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.StateDir = t.TempDir()
	cfg.AI.Provider = config.ProviderMock
	cfg.Resilience.RetryMaxAttempts = 1
	return cfg
}

func TestNewEngine_ResolvesWithMockProvider(t *testing.T) {
	eng, err := newEngine(mockConfig(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = eng.Close() })

	adapter := testutil.NewAdapter()
	adapter.Set(mock.DefaultSelector, testutil.NewElement("submit", "button", "Submit", nil))

	req := &types.LocatorRequest{
		OriginalSelector: "#renamed-submit",
		Description:      "submit button",
		Adapter:          adapter,
	}
	res, err := eng.healer.Resolve(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, mock.DefaultSelector, res.ActualSelector)
	assert.False(t, res.FromCache)

	res, err = eng.healer.Resolve(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, res.FromCache)
	assert.Equal(t, types.StrategyCached, res.Strategy)

	h := eng.healer.Health()
	assert.Equal(t, mock.ProviderName, h.Provider)
	assert.True(t, h.Healthy)
}

func TestNewEngine_FileCacheUsesStateDir(t *testing.T) {
	cfg := mockConfig(t)
	cfg.Cache.Type = string(cache.TypeFile)

	eng, err := newEngine(cfg)
	require.NoError(t, err)
	assert.Equal(t, string(cache.TypeFile), eng.healer.CacheMetrics().PersistenceBackend)
	require.NoError(t, eng.Close())

	assert.FileExists(t, filepath.Join(cfg.StateDir, "cache", cache.EntriesFile))
}

func TestNewEngine_VisualDisabled(t *testing.T) {
	cfg := mockConfig(t)
	cfg.AI.VisualAnalysisEnabled = false
	cfg.Performance.ExecutionStrategy = string(types.ExecutionVisualFirst)

	eng, err := newEngine(cfg)
	require.NoError(t, err)
	assert.NoError(t, eng.Close())
	assert.NoError(t, eng.Close())
}

func TestNewProvider_Unknown(t *testing.T) {
	cfg := mockConfig(t)
	cfg.AI.Provider = "carrier-pigeon"
	_, err := newProvider(cfg)

	var cfgErr *types.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "ai.provider", cfgErr.Field)
}

func TestNewProvider_OpenAICompatible(t *testing.T) {
	cfg := mockConfig(t)
	cfg.AI.Provider = config.ProviderOpenAICompatible
	p, err := newProvider(cfg)
	require.NoError(t, err)
	assert.True(t, p.SupportsVisual())
}

func TestRunResolve_RequiresFlags(t *testing.T) {
	var out bytes.Buffer
	err := runResolve([]string{"-url", "http://example.test"}, &out)
	assert.Error(t, err)
	assert.Zero(t, out.Len())
}

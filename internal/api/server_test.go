package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/traylinx/autoheal/internal/ai"
	"github.com/traylinx/autoheal/internal/cache"
	"github.com/traylinx/autoheal/internal/healer"
	"github.com/traylinx/autoheal/internal/resilience"
	"github.com/traylinx/autoheal/internal/strategy"
	"github.com/traylinx/autoheal/internal/testutil"
	"github.com/traylinx/autoheal/internal/types"
)

type apiFixture struct {
	adapter *testutil.Adapter
	service *ai.Service
	healer  *healer.Healer
	server  *Server
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	f := &apiFixture{adapter: testutil.NewAdapter()}
	breaker := resilience.NewCircuitBreaker(&resilience.BreakerConfig{FailureThreshold: 1, Timeout: time.Minute})
	f.service = ai.NewService(&testutil.Provider{}, breaker, nil, ai.DefaultConfig())
	sel, err := strategy.NewSelector(types.ExecutionDOMOnly, strategy.NewDOMLocator(f.service, nil))
	require.NoError(t, err)

	f.healer, err = healer.New(healer.DefaultConfig(), healer.Components{
		Cache:   cache.NewMemoryCache(cache.DefaultConfig()),
		Locator: sel,
		AI:      f.service,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.healer.Close() })

	f.server = NewServer(f.healer, nil)
	return f
}

func (f *apiFixture) do(t *testing.T, method, path string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	w := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(w, req)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body), w.Body.String())
	return w, body
}

func (f *apiFixture) resolve(t *testing.T, sel string) {
	t.Helper()
	f.adapter.Set(sel, testutil.NewElement(sel, "button", "", nil))
	_, err := f.healer.Resolve(context.Background(), &types.LocatorRequest{
		OriginalSelector: sel,
		Description:      "button",
		Options:          types.DefaultOptions(),
		Adapter:          f.adapter,
	})
	require.NoError(t, err)
}

func TestHealth(t *testing.T) {
	f := newAPIFixture(t)

	w, body := f.do(t, http.MethodGet, "/health")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, body["is_healthy"])
	assert.Equal(t, "fake", body["provider"])
	assert.NotEmpty(t, w.Header().Get(requestIDHeader))

	f.service.Breaker().RecordFailure()
	w, body = f.do(t, http.MethodGet, "/health")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, false, body["is_healthy"])
	cb := body["circuit_breaker"].(map[string]any)
	assert.Equal(t, string(resilience.StateOpen), cb["state"])
}

func TestRequestIDIsEchoed(t *testing.T) {
	f := newAPIFixture(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(requestIDHeader, "abc123")
	w := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(w, req)
	assert.Equal(t, "abc123", w.Header().Get(requestIDHeader))
}

func TestMetricsAndReset(t *testing.T) {
	f := newAPIFixture(t)
	f.resolve(t, "#a")
	f.resolve(t, "#b")

	w, body := f.do(t, http.MethodGet, "/v0/management/metrics")
	require.Equal(t, http.StatusOK, w.Code)
	locator := body["locator"].(map[string]any)
	assert.EqualValues(t, 2, locator["total_requests"])
	assert.Contains(t, body, "ai")
	assert.Contains(t, body, "circuit_breaker")

	w, _ = f.do(t, http.MethodPost, "/v0/management/metrics/reset")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Zero(t, f.healer.Metrics().Requests)
}

func TestCacheEndpoints(t *testing.T) {
	f := newAPIFixture(t)
	f.resolve(t, "#a")
	f.resolve(t, "#b")

	w, body := f.do(t, http.MethodGet, "/v0/management/cache/metrics")
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 2, body["size"])

	w, body = f.do(t, http.MethodDelete, "/v0/management/cache/entry?selector=%23a&description=button")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, 1, f.healer.CacheSize())

	w, _ = f.do(t, http.MethodDelete, "/v0/management/cache/entry?selector=%23a&description=button")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, _ = f.do(t, http.MethodDelete, "/v0/management/cache/entry")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, body = f.do(t, http.MethodPost, "/v0/management/cache/evict")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 0, body["evicted"])

	w, body = f.do(t, http.MethodPost, "/v0/management/cache/clear")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, body["cleared"])
	assert.Zero(t, f.healer.CacheSize())
}

func TestStartAndShutdown(t *testing.T) {
	f := newAPIFixture(t)
	require.NoError(t, f.server.Start("127.0.0.1:0"))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	assert.NoError(t, f.server.Shutdown(ctx))
}

func TestLocalManagementOnly(t *testing.T) {
	f := newAPIFixture(t)
	f.server = NewServer(f.healer, nil, WithLocalManagementOnly())

	w, _ := f.do(t, http.MethodGet, "/v0/management/metrics")
	assert.Equal(t, http.StatusForbidden, w.Code)

	req := httptest.NewRequest(http.MethodGet, "/v0/management/metrics", nil)
	req.RemoteAddr = "127.0.0.1:40000"
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	w, _ = f.do(t, http.MethodGet, "/health")
	assert.Equal(t, http.StatusOK, w.Code)
}

package openaicompat

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
	"github.com/traylinx/autoheal/internal/resilience"
	"github.com/traylinx/autoheal/internal/types"
)

type captured struct {
	path   string
	auth   string
	body   []byte
	status int
	reply  string
}

func newServer(t *testing.T, c *captured) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c.path = r.URL.Path
		c.auth = r.Header.Get("Authorization")
		c.body, _ = io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		if c.status != 0 {
			w.WriteHeader(c.status)
		}
		_, _ = io.WriteString(w, c.reply)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newProvider(t *testing.T, url string, visual bool) *Provider {
	t.Helper()
	p, err := New(Config{BaseURL: url + "/v1/", APIKey: "sk-test", Model: "gpt-test", MaxTokens: 256, Temperature: 0.1, Visual: visual})
	require.NoError(t, err)
	return p
}

const okReply = `{"choices":[{"message":{"role":"assistant","content":"  {\"selector\": \"#ok\"}  "}}],"usage":{"prompt_tokens":90,"completion_tokens":10,"total_tokens":100}}`

func TestAnalyzeDOM_RequestShape(t *testing.T) {
	c := &captured{reply: okReply}
	srv := newServer(t, c)
	p := newProvider(t, srv.URL, false)

	completion, err := p.AnalyzeDOM(context.Background(), "find it")
	require.NoError(t, err)
	assert.Equal(t, `{"selector": "#ok"}`, completion.Text)
	assert.Equal(t, 100, completion.TokensUsed)

	assert.Equal(t, "/v1/chat/completions", c.path)
	assert.Equal(t, "Bearer sk-test", c.auth)
	body := gjson.ParseBytes(c.body)
	assert.Equal(t, "gpt-test", body.Get("model").String())
	assert.EqualValues(t, 256, body.Get("max_tokens").Int())
	assert.InDelta(t, 0.1, body.Get("temperature").Float(), 1e-9)
	require.EqualValues(t, 2, body.Get("messages.#").Int())
	assert.Equal(t, "system", body.Get("messages.0.role").String())
	assert.Equal(t, "user", body.Get("messages.1.role").String())
	assert.Equal(t, "find it", body.Get("messages.1.content").String())
}

func TestAnalyzeVisual_InlinesScreenshot(t *testing.T) {
	c := &captured{reply: okReply}
	srv := newServer(t, c)
	p := newProvider(t, srv.URL, true)

	_, err := p.AnalyzeVisual(context.Background(), "look", []byte("png"))
	require.NoError(t, err)

	body := gjson.ParseBytes(c.body)
	assert.Equal(t, "text", body.Get("messages.0.content.0.type").String())
	assert.Equal(t, "look", body.Get("messages.0.content.0.text").String())
	assert.Equal(t, "image_url", body.Get("messages.0.content.1.type").String())
	assert.Equal(t, "data:image/png;base64,cG5n", body.Get("messages.0.content.1.image_url.url").String())
}

func TestAnalyzeVisual_Unsupported(t *testing.T) {
	p := newProvider(t, "http://127.0.0.1:1", false)
	_, err := p.AnalyzeVisual(context.Background(), "look", []byte("png"))
	require.Error(t, err)
	assert.False(t, resilience.IsRetryable(err))
	assert.False(t, p.SupportsVisual())
}

func TestComplete_UsesTokenBudget(t *testing.T) {
	c := &captured{reply: `{"choices":[{"message":{"content":"2"}}],"usage":{"prompt_tokens":40,"completion_tokens":1}}`}
	srv := newServer(t, c)
	p := newProvider(t, srv.URL, false)

	completion, err := p.Complete(context.Background(), "pick", 10)
	require.NoError(t, err)
	assert.Equal(t, "2", completion.Text)
	assert.Equal(t, 41, completion.TokensUsed)
	assert.EqualValues(t, 10, gjson.GetBytes(c.body, "max_tokens").Int())
}

func TestStatusErrors(t *testing.T) {
	cases := []struct {
		status    int
		retryable bool
	}{
		{http.StatusBadRequest, false},
		{http.StatusUnauthorized, false},
		{http.StatusRequestTimeout, true},
		{http.StatusTooManyRequests, true},
		{http.StatusInternalServerError, true},
		{http.StatusBadGateway, true},
	}
	for _, tc := range cases {
		c := &captured{status: tc.status, reply: `{"error":{"message":"nope"}}`}
		srv := newServer(t, c)
		p := newProvider(t, srv.URL, false)

		_, err := p.AnalyzeDOM(context.Background(), "x")
		require.Error(t, err)
		var statusErr *StatusError
		require.ErrorAs(t, err, &statusErr)
		assert.Equal(t, tc.status, statusErr.StatusCode())
		assert.Contains(t, err.Error(), "nope")
		assert.Equal(t, tc.retryable, resilience.IsRetryable(err), "status %d", tc.status)
	}
}

func TestMalformedResponsesArePermanent(t *testing.T) {
	for _, reply := range []string{`not json`, `{"choices":[]}`} {
		c := &captured{reply: reply}
		srv := newServer(t, c)
		p := newProvider(t, srv.URL, false)

		_, err := p.AnalyzeDOM(context.Background(), "x")
		require.Error(t, err, reply)
		assert.False(t, resilience.IsRetryable(err), reply)
	}
}

func TestConnectionRefusedIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	p := newProvider(t, url, false)
	_, err := p.AnalyzeDOM(context.Background(), "x")
	require.Error(t, err)
	assert.True(t, resilience.IsRetryable(err))
	assert.True(t, strings.HasPrefix(err.Error(), ProviderName))
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{Model: "m"})
	assert.ErrorIs(t, err, types.ErrConfigurationInvalid)
	_, err = New(Config{BaseURL: "http://x"})
	assert.ErrorIs(t, err, types.ErrConfigurationInvalid)

	p, err := New(Config{BaseURL: "http://x/", Model: "m"})
	require.NoError(t, err)
	assert.Equal(t, "http://x/chat/completions", p.url)
	assert.Equal(t, 2000, p.cfg.MaxTokens)
	assert.Equal(t, ProviderName, p.Name())
}

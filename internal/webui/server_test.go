package webui

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"chatwidget/internal/config"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("net/http.(*persistConn).readLoop"),
		goleak.IgnoreTopFunction("net/http.(*persistConn).writeLoop"),
	)
}

func testConfig(endpoint string) *config.Config {
	cfg := config.DefaultConfig()
	cfg.Backend.Endpoint = endpoint
	cfg.Web.Title = "Test Widget"
	cfg.Web.Listen = "127.0.0.1:0"
	return cfg
}

func get(t *testing.T, url string) (*http.Response, string) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(body)
}

func TestIndexAndAssets(t *testing.T) {
	s, err := New(testConfig("http://127.0.0.1:1/ask"))
	require.NoError(t, err)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	resp, body := get(t, ts.URL+"/")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "<title>Test Widget</title>")
	assert.Contains(t, body, "/static/widget.js")

	resp, body = get(t, ts.URL+"/static/widget.js")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "sendQuestion")

	resp, _ = get(t, ts.URL+"/static/widget.css")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/css")

	resp, _ = get(t, ts.URL+"/static/missing.js")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHealthz(t *testing.T) {
	s, err := New(testConfig("http://127.0.0.1:1/ask"))
	require.NoError(t, err)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	resp, body := get(t, ts.URL+"/healthz")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body)
}

func TestWidgetConfig(t *testing.T) {
	cfg := testConfig("http://backend.test:8000/api/query")
	cfg.Backend.QuestionField = "query"
	cfg.Backend.Extra = map[string]any{"use_openai": true}

	s, err := New(cfg)
	require.NoError(t, err)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	resp, body := get(t, ts.URL+"/widget-config.json")
	assert.Equal(t, "no-store", resp.Header.Get("Cache-Control"))

	var wc WidgetConfig
	require.NoError(t, json.Unmarshal([]byte(body), &wc))
	assert.Equal(t, "/api/query", wc.Endpoint, "proxied endpoint is same-origin")
	assert.Equal(t, "query", wc.QuestionField)
	assert.Equal(t, "answer", wc.AnswerField)
	assert.Equal(t, true, wc.Extra["use_openai"])
	assert.Equal(t, cfg.Widget.ServerErrorText, wc.ServerErrorText)
}

func TestWidgetConfig_NoProxyUsesFullEndpoint(t *testing.T) {
	cfg := testConfig("http://backend.test:8000/ask")
	cfg.Web.Proxy = false
	s, err := New(cfg)
	require.NoError(t, err)

	assert.Equal(t, "http://backend.test:8000/ask", s.CurrentWidgetConfig().Endpoint)

	ts := httptest.NewServer(s.Handler())
	defer ts.Close()
	resp, err := http.Post(ts.URL+"/ask", "application/json", strings.NewReader(`{}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.NotEqual(t, http.StatusOK, resp.StatusCode)
}

func TestProxyPassesThrough(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/ask", r.URL.Path)
		assert.Equal(t, "secret", r.Header.Get("X-Api-Key"))
		assert.NotEmpty(t, r.Header.Get("X-Forwarded-For"))
		body, _ := io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"answer":"echo ` + strings.ReplaceAll(string(body), `"`, `'`) + `"}`))
	}))
	defer backend.Close()

	cfg := testConfig(backend.URL + "/ask")
	cfg.Backend.Headers = map[string]string{"X-Api-Key": "secret"}
	s, err := New(cfg)
	require.NoError(t, err)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/ask", "application/json", strings.NewReader(`{"question":"hi"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "echo {'question':'hi'}")
}

func TestProxyBackendDown(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	endpoint := backend.URL + "/ask"
	backend.Close()

	s, err := New(testConfig(endpoint))
	require.NoError(t, err)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/ask", "application/json", strings.NewReader(`{"question":"hi"}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
}

func TestApplyConfig(t *testing.T) {
	s, err := New(testConfig("http://127.0.0.1:1/ask"))
	require.NoError(t, err)

	next := testConfig("http://127.0.0.1:2/ask")
	next.Widget.Greeting = "new greeting"
	next.Web.Title = "Renamed"
	s.ApplyConfig(next)

	assert.Equal(t, "new greeting", s.CurrentWidgetConfig().Greeting)

	ts := httptest.NewServer(s.Handler())
	defer ts.Close()
	_, body := get(t, ts.URL+"/")
	assert.Contains(t, body, "<title>Renamed</title>")
}

func post(t *testing.T, url string) int {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(`{"question":"hi"}`))
	require.NoError(t, err)
	resp.Body.Close()
	return resp.StatusCode
}

func TestApplyConfig_ProxyFollowsReload(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"answer":"via ` + r.URL.Path + `"}`))
	}))
	defer backend.Close()

	cfg := testConfig(backend.URL + "/ask")
	cfg.Web.Proxy = false
	s, err := New(cfg)
	require.NoError(t, err)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()
	assert.Equal(t, http.StatusNotFound, post(t, ts.URL+"/ask"))

	on := testConfig(backend.URL + "/ask")
	on.Web.Proxy = true
	s.ApplyConfig(on)
	wc := s.CurrentWidgetConfig()
	assert.Equal(t, "/ask", wc.Endpoint)
	assert.Equal(t, http.StatusOK, post(t, ts.URL+wc.Endpoint), "page path must be served once proxying is on")

	moved := testConfig(backend.URL + "/v2/query")
	s.ApplyConfig(moved)
	wc = s.CurrentWidgetConfig()
	assert.Equal(t, "/v2/query", wc.Endpoint)
	assert.Equal(t, http.StatusOK, post(t, ts.URL+wc.Endpoint))
	assert.Equal(t, http.StatusNotFound, post(t, ts.URL+"/ask"), "old path is no longer proxied")

	off := testConfig(backend.URL + "/v2/query")
	off.Web.Proxy = false
	s.ApplyConfig(off)
	assert.Equal(t, backend.URL+"/v2/query", s.CurrentWidgetConfig().Endpoint)
	assert.Equal(t, http.StatusNotFound, post(t, ts.URL+"/v2/query"))
}

func TestApplyConfig_UnusableEndpointKeepsPrevious(t *testing.T) {
	s, err := New(testConfig("http://127.0.0.1:1/ask"))
	require.NoError(t, err)

	bad := testConfig("http://[::1/ask")
	bad.Widget.Greeting = "should not apply"
	s.ApplyConfig(bad)

	wc := s.CurrentWidgetConfig()
	assert.Equal(t, "/ask", wc.Endpoint)
	assert.NotEqual(t, "should not apply", wc.Greeting)
}

func TestStartAndShutdown(t *testing.T) {
	s, err := New(testConfig("http://127.0.0.1:1/ask"))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()

	select {
	case <-s.Ready():
	case <-time.After(2 * time.Second):
		t.Fatal("server did not start")
	}
	require.NotNil(t, s.Addr())

	resp, body := get(t, "http://"+s.Addr().String()+"/healthz")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
	http.DefaultClient.CloseIdleConnections()
}

func TestStartListenError(t *testing.T) {
	cfg := testConfig("http://127.0.0.1:1/ask")
	cfg.Web.Listen = "not-an-address"
	s, err := New(cfg)
	require.NoError(t, err)
	assert.Error(t, s.Start(context.Background()))
}

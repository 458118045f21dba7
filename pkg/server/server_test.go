package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/conclave/pkg/a2a"
	"github.com/kadirpekel/conclave/pkg/chat"
	"github.com/kadirpekel/conclave/pkg/config"
	"github.com/kadirpekel/conclave/pkg/crawler"
)

type fakeChat struct {
	last chat.Request
	err  error
	fail bool
}

func (f *fakeChat) HandleChat(_ context.Context, req chat.Request) (*chat.Response, error) {
	if f.fail {
		panic("boom")
	}
	f.last = req
	if f.err != nil {
		return &chat.Response{Response: "failed", Error: f.err.Error(), SessionID: "s1"}, f.err
	}
	return &chat.Response{Success: true, Response: "echo: " + req.Message, SessionID: "s1"}, nil
}

type fakeCrawler struct{}

func (fakeCrawler) Crawl(_ context.Context, url string) (*crawler.Result, error) {
	if url == "" {
		return &crawler.Result{Status: crawler.StatusError, Error: "No URL provided"}, nil
	}
	return &crawler.Result{URL: url, Title: "Example Domain", ChunksCreated: 1, Status: crawler.StatusSuccess}, nil
}

func (f fakeCrawler) CrawlMany(ctx context.Context, urls []string, _ int) ([]*crawler.Result, error) {
	out := make([]*crawler.Result, len(urls))
	for i, u := range urls {
		out[i], _ = f.Crawl(ctx, u)
	}
	return out, nil
}

type echoAgent struct{}

func (echoAgent) AgentID() string { return "echo" }

func (echoAgent) Handle(_ context.Context, req *a2a.Message) (any, error) {
	return map[string]any{"said": req.StringParam("text")}, nil
}

func newTestServer(t *testing.T, ch *fakeChat) *httptest.Server {
	t.Helper()
	bus := a2a.NewBus(0)
	require.NoError(t, bus.Register(echoAgent{}))

	s := New(config.ServerConfig{}, Options{
		Chat:    ch,
		Crawler: fakeCrawler{},
		Bus:     bus,
		Metrics: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprintln(w, "conclave_chat_requests_total 1")
		}),
	})
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func post(t *testing.T, url string, body any) (*http.Response, map[string]any) {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(raw))
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(data) > 0 {
		require.NoError(t, json.Unmarshal(data, &out), string(data))
	}
	return resp, out
}

func TestChatRoute(t *testing.T) {
	ch := &fakeChat{}
	ts := newTestServer(t, ch)

	resp, body := post(t, ts.URL+"/api/chat", map[string]any{
		"message":     "hello",
		"session_id":  "s1",
		"pageContext": map[string]any{"title": "Home", "url": "/", "content": "Welcome"},
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "echo: hello", body["response"])
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "s1", ch.last.SessionID)
	require.NotNil(t, ch.last.PageContext)
	assert.Equal(t, "Welcome", ch.last.PageContext.Content)
}

func TestChatRoute_Errors(t *testing.T) {
	ch := &fakeChat{}
	ts := newTestServer(t, ch)

	resp, err := http.Post(ts.URL+"/api/chat", "application/json", bytes.NewBufferString("{not json"))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	ch.err = chat.ErrEmptyMessage
	resp, _ = post(t, ts.URL+"/api/chat", map[string]any{"message": ""})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	ch.err = context.DeadlineExceeded
	resp, body := post(t, ts.URL+"/api/chat", map[string]any{"message": "slow"})
	assert.Equal(t, http.StatusGatewayTimeout, resp.StatusCode)
	assert.NotContains(t, body, "error", "raw errors are not exposed")

	ch.err = nil
	ch.fail = true
	resp, _ = post(t, ts.URL+"/api/chat", map[string]any{"message": "panic"})
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}

func TestCrawlRoute(t *testing.T) {
	ts := newTestServer(t, &fakeChat{})

	resp, body := post(t, ts.URL+"/api/crawl", map[string]any{"url": "https://example.com"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "success", body["status"])
	assert.Equal(t, "Example Domain", body["title"])

	resp, body = post(t, ts.URL+"/api/crawl", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "No URL provided", body["error"])

	resp, body = post(t, ts.URL+"/api/crawl", map[string]any{"urls": []string{"https://a.test", "https://b.test"}})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	results := body["results"].([]any)
	require.Len(t, results, 2)
	assert.Equal(t, "https://b.test", results[1].(map[string]any)["url"])
}

func TestA2ARoutes(t *testing.T) {
	ts := newTestServer(t, &fakeChat{})

	resp, body := post(t, ts.URL+"/a2a", map[string]any{
		"sender": "client", "recipient": "echo", "action": "say", "params": map[string]any{"text": "hi"},
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, a2a.ActionResponse, body["action"])
	params := body["params"].(map[string]any)
	assert.Equal(t, true, params["success"])
	assert.Equal(t, "hi", params["result"].(map[string]any)["said"])

	resp, _ = post(t, ts.URL+"/a2a", map[string]any{"recipient": "nobody", "action": "say"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	get, err := http.Get(ts.URL + "/api/a2a/stats")
	require.NoError(t, err)
	defer get.Body.Close()
	var stats a2a.Stats
	require.NoError(t, json.NewDecoder(get.Body).Decode(&stats))
	assert.EqualValues(t, 2, stats.Sent)
	assert.Equal(t, []string{"echo"}, stats.Agents)
}

func TestHealthAndMetrics(t *testing.T) {
	ts := newTestServer(t, &fakeChat{})

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	data, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Contains(t, string(data), "conclave_chat_requests_total")

	resp, err = http.Get(ts.URL + "/api/chat")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestRoutesDisabledWithoutServices(t *testing.T) {
	ts := httptest.NewServer(New(config.ServerConfig{}, Options{}).Handler())
	defer ts.Close()

	for _, path := range []string{"/api/chat", "/api/crawl", "/a2a"} {
		resp, err := http.Post(ts.URL+path, "application/json", bytes.NewBufferString("{}"))
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusNotFound, resp.StatusCode, path)
	}
}

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/conclave/pkg/chat"
	"github.com/kadirpekel/conclave/pkg/config"
	"github.com/kadirpekel/conclave/pkg/crawler"
	"github.com/kadirpekel/conclave/pkg/expert"
)

func writeConfig(t *testing.T, extra string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "conclave.yaml")
	data := fmt.Sprintf(`llm:
  provider: ollama
embedder:
  provider: hash
database:
  driver: sqlite
  database: %s
vector:
  type: none
observability:
  metrics:
    enabled: true
%s`, filepath.Join(dir, "conclave.db"), extra)
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))
	return path
}

func TestLoadConfig(t *testing.T) {
	cli := &CLI{Config: writeConfig(t, ""), ConfigProvider: "file"}
	cfg, loader, err := loadConfig(context.Background(), cli)
	require.NoError(t, err)
	require.NotNil(t, loader)
	defer loader.Close()
	assert.Equal(t, config.LLMProviderOllama, cfg.LLM.Provider)
	assert.Equal(t, "sqlite", cfg.Database.Driver)

	_, _, err = loadConfig(context.Background(), &CLI{Config: cli.Config, ConfigProvider: "carrier-pigeon"})
	assert.Error(t, err)

	_, _, err = loadConfig(context.Background(), &CLI{Config: filepath.Join(t.TempDir(), "missing.yaml")})
	assert.Error(t, err)
}

func TestBuildApp(t *testing.T) {
	ctx := context.Background()
	cfg, loader, err := loadConfig(ctx, &CLI{Config: writeConfig(t, `a2a:
  remote:
    - id: Calendar Agent
      url: http://127.0.0.1:1/a2a
`)})
	require.NoError(t, err)
	defer loader.Close()

	app, err := buildApp(ctx, cfg, nil)
	require.NoError(t, err)
	defer app.Close()

	agents := app.Bus.Agents()
	for _, id := range []string{crawler.AgentID, expert.DatabaseRead, expert.DatabaseWrite, expert.Content, "Calendar Agent"} {
		assert.Contains(t, agents, id)
	}
	assert.Len(t, app.Experts, len(expert.Catalog(nil)))
	assert.Nil(t, app.Index)

	ts := httptest.NewServer(app.Server().Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// Empty messages never reach the model.
	resp, err = http.Post(ts.URL+"/api/chat", "application/json", strings.NewReader(`{"message":"  "}`))
	require.NoError(t, err)
	var body chat.Response
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "No message provided", body.Response)
}

func TestBuildApp_CrawlsIntoStore(t *testing.T) {
	site := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><head><title>About</title></head><body><p>Jane builds distributed systems in Go.</p></body></html>`)
	}))
	defer site.Close()

	ctx := context.Background()
	cfg, loader, err := loadConfig(ctx, &CLI{Config: writeConfig(t, "")})
	require.NoError(t, err)
	defer loader.Close()

	app, err := buildApp(ctx, cfg, nil)
	require.NoError(t, err)
	defer app.Close()

	res, err := app.Crawler.Crawl(ctx, site.URL)
	require.NoError(t, err)
	assert.Equal(t, crawler.StatusSuccess, res.Status, res.Error)
	assert.Equal(t, "About", res.Title)

	chunks, err := app.Store.Chunks(ctx, site.URL)
	require.NoError(t, err)
	require.NotEmpty(t, chunks)
	assert.Contains(t, chunks[0].Text, "distributed systems")
}

func TestBuildApp_ClosesOnFailure(t *testing.T) {
	cfg, err := config.Default()
	require.NoError(t, err)
	cfg.Database.Driver = "oracle"

	app, err := buildApp(context.Background(), cfg, nil)
	assert.Error(t, err)
	assert.Nil(t, app)
}

type scriptedChat struct {
	requests []chat.Request
}

func (s *scriptedChat) HandleChat(_ context.Context, req chat.Request) (*chat.Response, error) {
	s.requests = append(s.requests, req)
	id := req.SessionID
	if id == "" {
		id = fmt.Sprintf("s%d", len(s.requests))
	}
	if strings.HasPrefix(req.Message, "delete") {
		return &chat.Response{Success: true, SessionID: id, Response: "Do you want to proceed? (yes/no)", RequiresConfirmation: true}, nil
	}
	return &chat.Response{Success: true, SessionID: id, Response: "answer: " + req.Message}, nil
}

func TestRunChat(t *testing.T) {
	svc := &scriptedChat{}
	in := strings.NewReader("what are my skills?\n\ndelete my skills\nyes\n/reset\nhello\n/exit\nignored\n")
	var out bytes.Buffer

	require.NoError(t, runChat(context.Background(), svc, in, &out, "", false))

	require.Len(t, svc.requests, 4)
	assert.Equal(t, "", svc.requests[0].SessionID)
	assert.Equal(t, "s1", svc.requests[1].SessionID)
	assert.Equal(t, "s1", svc.requests[2].SessionID, "confirmation stays in the session")
	assert.Equal(t, "", svc.requests[3].SessionID, "reset starts over")

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	assert.Equal(t, []string{
		"answer: what are my skills?",
		"Do you want to proceed? (yes/no)",
		"answer: yes",
		"Started a new session.",
		"answer: hello",
	}, lines)
}

func TestRunChat_InteractivePrompt(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, runChat(context.Background(), &scriptedChat{}, strings.NewReader("hi\n"), &out, "abc", true))
	assert.Contains(t, out.String(), "> answer: hi")
	assert.True(t, strings.HasSuffix(out.String(), "> "))
}

func TestInitLogger(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conclave.log")
	cleanup, err := initLogger("", "", "json", config.LoggingConfig{Level: "debug", File: path})
	require.NoError(t, err)
	cleanup()

	_, err = os.Stat(path)
	assert.NoError(t, err)

	_, err = initLogger("info", filepath.Join(t.TempDir(), "missing", "x.log"), "", config.LoggingConfig{})
	assert.Error(t, err)

	restore, err := initLogger("info", "", "simple", config.LoggingConfig{})
	require.NoError(t, err)
	restore()
}

func TestDisplayAddress(t *testing.T) {
	assert.Equal(t, "localhost:8080", displayAddress(":8080"))
	assert.Equal(t, "0.0.0.0:9000", displayAddress("0.0.0.0:9000"))
}

func TestWriteSchema(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, writeSchema(&out, true))

	var schema map[string]any
	require.NoError(t, json.Unmarshal(out.Bytes(), &schema))
	props, ok := schema["properties"].(map[string]any)
	require.True(t, ok)
	for _, section := range []string{"llm", "embedder", "database", "risk", "experts"} {
		assert.Contains(t, props, section)
	}
	assert.NotContains(t, out.String(), "\n  ")
}

// Package testutils provides fakes and fixtures shared by package tests.
package testutils

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/kadirpekel/conclave/pkg/config"
	"github.com/kadirpekel/conclave/pkg/embedder"
	"github.com/kadirpekel/conclave/pkg/model"
	"github.com/kadirpekel/conclave/pkg/store"
)

// ErrScriptExhausted is returned once a ScriptedLLM runs out of replies and
// has no fallback.
var ErrScriptExhausted = errors.New("scripted llm: no more replies")

// Reply is one scripted completion.
type Reply struct {
	Text string
	Err  error
}

// ScriptedLLM replays canned completions in order and records every
// request it receives.
type ScriptedLLM struct {
	mu       sync.Mutex
	replies  []Reply
	requests []*model.Request

	// Respond, when set, answers every request instead of the script.
	Respond func(req *model.Request) (string, error)
	// Fallback answers once the script is exhausted. Empty means error.
	Fallback string
}

func NewScriptedLLM(replies ...string) *ScriptedLLM {
	s := &ScriptedLLM{}
	for _, r := range replies {
		s.replies = append(s.replies, Reply{Text: r})
	}
	return s
}

// Then appends a successful reply.
func (s *ScriptedLLM) Then(text string) *ScriptedLLM {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replies = append(s.replies, Reply{Text: text})
	return s
}

// ThenError appends a failing reply.
func (s *ScriptedLLM) ThenError(err error) *ScriptedLLM {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replies = append(s.replies, Reply{Err: err})
	return s
}

func (s *ScriptedLLM) Name() string             { return "scripted" }
func (s *ScriptedLLM) Provider() model.Provider { return "scripted" }
func (s *ScriptedLLM) Close() error             { return nil }

func (s *ScriptedLLM) Generate(ctx context.Context, req *model.Request) (*model.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.requests = append(s.requests, req)
	respond := s.Respond
	var next *Reply
	if respond == nil && len(s.replies) > 0 {
		r := s.replies[0]
		s.replies = s.replies[1:]
		next = &r
	}
	fallback := s.Fallback
	s.mu.Unlock()

	switch {
	case respond != nil:
		text, err := respond(req)
		if err != nil {
			return nil, err
		}
		return &model.Response{Text: text}, nil
	case next != nil:
		if next.Err != nil {
			return nil, next.Err
		}
		return &model.Response{Text: next.Text}, nil
	case fallback != "":
		return &model.Response{Text: fallback}, nil
	}
	return nil, ErrScriptExhausted
}

// Calls returns the number of Generate calls so far.
func (s *ScriptedLLM) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

// Requests returns a copy of the received requests.
func (s *ScriptedLLM) Requests() []*model.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*model.Request(nil), s.requests...)
}

// Prompts returns the prompt of every received request.
func (s *ScriptedLLM) Prompts() []string {
	reqs := s.Requests()
	out := make([]string, len(reqs))
	for i, r := range reqs {
		out[i] = r.Prompt
	}
	return out
}

var _ model.LLM = (*ScriptedLLM)(nil)

// FailingEmbedder wraps an embedder and fails the texts FailWhen selects.
// A nil FailWhen fails every call.
type FailingEmbedder struct {
	Inner    embedder.Embedder
	FailWhen func(text string) bool
	Err      error

	mu    sync.Mutex
	calls int
}

func NewFailingEmbedder(failWhen func(text string) bool) *FailingEmbedder {
	return &FailingEmbedder{
		Inner:    HashEmbedder(),
		FailWhen: failWhen,
		Err:      embedder.NewEmbeddingGenerationError("test", "embed", "quota exceeded", nil),
	}
}

func (e *FailingEmbedder) fail(text string) bool {
	e.mu.Lock()
	e.calls++
	e.mu.Unlock()
	return e.FailWhen == nil || e.FailWhen(text)
}

func (e *FailingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if e.fail(text) {
		return nil, e.Err
	}
	return e.Inner.Embed(ctx, text)
}

func (e *FailingEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if e.fail(text) {
		return nil, e.Err
	}
	return e.Inner.EmbedQuery(ctx, text)
}

// Calls returns the number of embed calls so far.
func (e *FailingEmbedder) Calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

func (e *FailingEmbedder) Dimension() int { return e.Inner.Dimension() }
func (e *FailingEmbedder) Model() string  { return "failing-" + e.Inner.Model() }
func (e *FailingEmbedder) Close() error   { return nil }

var _ embedder.Embedder = (*FailingEmbedder)(nil)

// HashEmbedder returns the offline embedder at the fixed width.
func HashEmbedder() *embedder.HashEmbedder {
	return embedder.NewHashEmbedder(config.EmbeddingDimension)
}

// Store opens a SQLite-backed store in a temp directory, closed with t.
func Store(t testing.TB) *store.Store {
	t.Helper()

	pool := config.NewDBPool()
	t.Cleanup(func() { _ = pool.Close() })

	cfg := DatabaseConfig(t)
	s, err := store.Open(context.Background(), pool, cfg)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	return s
}

// DatabaseConfig returns a SQLite configuration in a temp directory.
func DatabaseConfig(t testing.TB) *config.DatabaseConfig {
	t.Helper()
	return &config.DatabaseConfig{
		Driver:   "sqlite",
		Database: filepath.Join(t.TempDir(), "conclave.db"),
	}
}

// Config returns a defaulted configuration that needs no network: SQLite,
// the hash embedder and an ollama LLM that tests replace with a fake.
func Config(t testing.TB) *config.Config {
	t.Helper()

	cfg := &config.Config{
		Database: *DatabaseConfig(t),
		LLM:      config.LLMConfig{Provider: config.LLMProviderOllama},
		Embedder: config.EmbedderConfig{Provider: config.EmbedderHash},
	}
	cfg.SetDefaults()
	cfg.Resilience.MaxTries = 1
	cfg.Resilience.InitialBackoff = 0
	return cfg
}

// Resilience returns single-attempt resilience settings for fast tests.
func Resilience() config.ResilienceConfig {
	var c config.ResilienceConfig
	c.SetDefaults()
	c.MaxTries = 1
	return c
}

package embedder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/kadirpekel/conclave/pkg/config"
	"github.com/kadirpekel/conclave/pkg/httpclient"
	"github.com/kadirpekel/conclave/pkg/resilience"
)

// Ollama's runner crashes on concurrent embedding requests.
var ollamaEmbedMu sync.Mutex

type OllamaEmbedder struct {
	baseURL   string
	model     string
	dimension int
	client    *httpclient.Client
}

type ollamaEmbedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaEmbedResponse struct {
	Embedding []float32 `json:"embedding"`
}

func NewOllamaEmbedder(cfg config.EmbedderConfig) *OllamaEmbedder {
	return &OllamaEmbedder{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		model:     cfg.Model,
		dimension: cfg.Dimension,
		client:    httpclient.New(httpclient.WithMaxRetries(0), httpclient.WithTimeout(cfg.Timeout)),
	}
}

// nomic-embed-text expects task prefixes on its input.
func (e *OllamaEmbedder) prefixed(task, text string) string {
	if strings.HasPrefix(e.model, "nomic-embed-text") {
		return task + ": " + text
	}
	return text
}

func (e *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return e.embed(ctx, e.prefixed("search_document", text))
}

func (e *OllamaEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return e.embed(ctx, e.prefixed("search_query", text))
}

func (e *OllamaEmbedder) embed(ctx context.Context, text string) ([]float32, error) {
	ollamaEmbedMu.Lock()
	defer ollamaEmbedMu.Unlock()

	slog.Debug("Ollama embedding request", "model", e.model, "text_length", len(text))

	var resp ollamaEmbedResponse
	err := e.client.DoJSON(ctx, http.MethodPost, e.baseURL+"/api/embeddings", nil,
		ollamaEmbedRequest{Model: e.model, Prompt: text}, &resp)
	if err != nil {
		var statusErr *httpclient.StatusError
		if errors.As(err, &statusErr) && !statusErr.IsRetryable() {
			return nil, resilience.Permanent(err)
		}
		return nil, fmt.Errorf("ollama embedding request failed: %w", err)
	}
	if len(resp.Embedding) == 0 {
		return nil, fmt.Errorf("received empty embedding from Ollama")
	}
	return resp.Embedding, nil
}

func (e *OllamaEmbedder) Dimension() int { return e.dimension }
func (e *OllamaEmbedder) Model() string  { return e.model }
func (e *OllamaEmbedder) Close() error   { return nil }

// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package crawler fetches web pages, reduces them to their main text and
// stores the text as embedded chunks.
//
// A crawl runs fetch, strip, extract, optional LLM clean, chunk, embed and
// persist in that order. Embedding failures are tolerated: the chunk is
// stored with a NULL embedding and the crawl still succeeds. A fetch
// failure persists nothing.
package crawler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/kadirpekel/conclave/pkg/config"
	"github.com/kadirpekel/conclave/pkg/httpclient"
	"github.com/kadirpekel/conclave/pkg/model"
	"github.com/kadirpekel/conclave/pkg/observability"
	"github.com/kadirpekel/conclave/pkg/resilience"
	"github.com/kadirpekel/conclave/pkg/store"
)

// Result statuses.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

const cleanPrompt = "Clean this web content, removing navigation, ads, and irrelevant text. Return only the main content.\n\n"

// Result is the outcome of crawling one URL.
type Result struct {
	URL           string `json:"url,omitempty"`
	Title         string `json:"title,omitempty"`
	ChunksCreated int    `json:"chunks_created"`
	Embedded      int    `json:"embedded"`
	Status        string `json:"status"`
	Error         string `json:"error,omitempty"`
}

// ChunkStore persists the chunks of a page.
type ChunkStore interface {
	ReplaceChunks(ctx context.Context, url, title string, chunks []store.ChunkInput) ([]store.DocumentChunk, error)
}

// Mirror copies stored chunks into a vector index.
type Mirror interface {
	Mirror(ctx context.Context, row store.Row) error
	Unmirror(ctx context.Context, table string, filter map[string]any) error
}

// Crawler runs the crawl pipeline.
type Crawler struct {
	cfg      config.CrawlerConfig
	store    ChunkStore
	embedder store.Embedder
	llm      model.LLM
	mirror   Mirror
	client   *httpclient.Client
	executor *resilience.Executor
}

// Option configures a Crawler.
type Option func(*Crawler)

// WithLLM enables LLM cleaning when cfg.LLMClean is set.
func WithLLM(llm model.LLM) Option {
	return func(c *Crawler) { c.llm = llm }
}

// WithMirror mirrors stored chunks into a vector index.
func WithMirror(m Mirror) Option {
	return func(c *Crawler) { c.mirror = m }
}

// WithHTTPClient replaces the fetch client.
func WithHTTPClient(client *httpclient.Client) Option {
	return func(c *Crawler) { c.client = client }
}

func New(cfg config.CrawlerConfig, res config.ResilienceConfig, st ChunkStore, emb store.Embedder, opts ...Option) *Crawler {
	cfg.SetDefaults()
	c := &Crawler{
		cfg:      cfg,
		store:    st,
		embedder: emb,
		// Retries are owned by the executor, so the client gives up at once.
		client: httpclient.New(
			httpclient.WithTimeout(cfg.Timeout),
			httpclient.WithMaxRetries(0),
			httpclient.WithUserAgent(cfg.UserAgent),
		),
		executor: resilience.NewExecutor("crawler:fetch", cfg.Timeout, res),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Crawl runs the pipeline for url. Failures are reported in the Result;
// the returned error is non-nil only when ctx is done.
func (c *Crawler) Crawl(ctx context.Context, url string) (*Result, error) {
	ctx, span := observability.Tracer("conclave/crawler").Start(ctx, observability.SpanCrawl,
		trace.WithAttributes(attribute.String(observability.AttrURL, url)))

	res, err := c.crawl(ctx, url)
	if err == nil && res.Status == StatusError {
		span.SetAttributes(attribute.String(observability.AttrErrorType, "crawl"))
	}
	observability.EndSpan(span, err)
	if err == nil {
		observability.GetGlobalMetrics().RecordCrawl(ctx, res.Status, res.ChunksCreated)
	}
	return res, err
}

func (c *Crawler) crawl(ctx context.Context, url string) (*Result, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return &Result{Status: StatusError, Error: "No URL provided"}, nil
	}

	body, err := c.fetch(ctx, url)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		slog.Warn("Fetch failed", "url", url, "error", err)
		return &Result{URL: url, Status: StatusError, Error: fetchMessage(err)}, nil
	}

	page, err := Extract(strings.NewReader(body))
	if err != nil {
		return &Result{URL: url, Status: StatusError, Error: fmt.Sprintf("failed to parse page: %v", err)}, nil
	}

	text := c.clean(ctx, page.Text)
	chunks := Chunk(text, c.cfg.ChunkWords)
	if len(chunks) == 0 {
		// Chunks stored by an earlier crawl of url stay in place.
		slog.Warn("No content extracted", "url", url, "title", page.Title)
		return &Result{URL: url, Title: page.Title, Status: StatusError, Error: "No content extracted"}, nil
	}

	inputs, embedded, err := c.embedChunks(ctx, page.Title, chunks)
	if err != nil {
		return nil, err
	}

	stored, err := c.store.ReplaceChunks(ctx, url, page.Title, inputs)
	if err != nil {
		return &Result{URL: url, Title: page.Title, Status: StatusError, Error: err.Error()}, nil
	}
	c.mirrorChunks(ctx, url, stored)

	slog.Info("Crawled page", "url", url, "title", page.Title, "chunks", len(stored), "embedded", embedded)
	return &Result{
		URL:           url,
		Title:         page.Title,
		ChunksCreated: len(stored),
		Embedded:      embedded,
		Status:        StatusSuccess,
	}, nil
}

func (c *Crawler) fetch(ctx context.Context, url string) (string, error) {
	return resilience.Call(ctx, c.executor, func(ctx context.Context) (string, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return "", resilience.Permanent(NewFetchError(url, "invalid url", 0, err))
		}
		req.Header.Set("Accept", "text/html,application/xhtml+xml;q=0.9,*/*;q=0.8")

		resp, err := c.client.Do(req)
		if err != nil {
			var retryErr *httpclient.RetryableError
			if errors.As(err, &retryErr) {
				return "", NewFetchError(url, "request failed", retryErr.StatusCode, err)
			}
			return "", NewFetchError(url, "request failed", 0, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return "", NewFetchError(url, "unexpected status", resp.StatusCode, fmt.Errorf("HTTP %d", resp.StatusCode))
		}

		data, err := io.ReadAll(io.LimitReader(resp.Body, c.cfg.MaxBodyBytes))
		if err != nil {
			return "", NewFetchError(url, "failed to read body", 0, err)
		}
		return string(data), nil
	})
}

func fetchMessage(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "Request timeout"
	}
	var fe *FetchError
	if errors.As(err, &fe) && fe.Err != nil {
		return fe.Err.Error()
	}
	return err.Error()
}

// clean asks the LLM for the main content. Any failure keeps text as is.
func (c *Crawler) clean(ctx context.Context, text string) string {
	if !c.cfg.LLMClean || c.llm == nil || text == "" {
		return text
	}

	sample := text
	if len(sample) > c.cfg.CleanInputLimit {
		sample = TruncateRunes(sample, c.cfg.CleanInputLimit)
	}

	resp, err := c.llm.Generate(ctx, &model.Request{Prompt: cleanPrompt + sample})
	if err != nil {
		slog.Warn("LLM cleaning failed, using extracted text", "error", err)
		return text
	}
	cleaned := NormalizeSpace(resp.Text)
	if cleaned == "" {
		return text
	}
	return cleaned
}

// embedChunks embeds every chunk concurrently. A failed embedding leaves
// the chunk's vector nil.
func (c *Crawler) embedChunks(ctx context.Context, title string, chunks []string) ([]store.ChunkInput, int, error) {
	inputs := make([]store.ChunkInput, len(chunks))
	documents, _ := store.LookupTable(store.DocumentsTable)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.EmbedWorkers)
	for i, chunk := range chunks {
		inputs[i].Text = chunk
		if c.embedder == nil {
			continue
		}
		g.Go(func() error {
			text := documents.Text(map[string]any{"title": title, "chunk_text": chunk})
			vec, err := c.embedder.Embed(gctx, text)
			if err != nil {
				slog.Warn("Chunk embedding failed, storing NULL", "chunk", i, "error", err)
				return nil
			}
			inputs[i].Embedding = vec
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}

	embedded := 0
	for _, in := range inputs {
		if in.Embedding != nil {
			embedded++
		}
	}
	return inputs, embedded, nil
}

func (c *Crawler) mirrorChunks(ctx context.Context, url string, stored []store.DocumentChunk) {
	if c.mirror == nil {
		return
	}
	if err := c.mirror.Unmirror(ctx, store.DocumentsTable, map[string]any{"url": url}); err != nil {
		slog.Warn("Failed to clear mirrored chunks", "url", url, "error", err)
	}
	for _, ch := range stored {
		if ch.Embedding == nil {
			continue
		}
		row := store.Row{
			Table:     store.DocumentsTable,
			Key:       fmt.Sprint(ch.DocumentID),
			Text:      ch.Text,
			Fields:    map[string]any{"url": ch.URL, "title": ch.Title, "chunk_index": ch.Index},
			Embedding: ch.Embedding,
		}
		if err := c.mirror.Mirror(ctx, row); err != nil {
			slog.Warn("Failed to mirror chunk", "url", url, "chunk", ch.Index, "error", err)
		}
	}
}

// CrawlMany crawls urls with bounded concurrency. Results keep input order.
func (c *Crawler) CrawlMany(ctx context.Context, urls []string, concurrency int) ([]*Result, error) {
	if concurrency <= 0 {
		concurrency = c.cfg.EmbedWorkers
	}
	results := make([]*Result, len(urls))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i, u := range urls {
		g.Go(func() error {
			res, err := c.Crawl(gctx, u)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// TruncateRunes returns at most the first n runes of s.
func TruncateRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}

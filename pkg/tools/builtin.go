package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kadirpekel/conclave/pkg/a2a"
	"github.com/kadirpekel/conclave/pkg/crawler"
	"github.com/kadirpekel/conclave/pkg/retrieval"
	"github.com/kadirpekel/conclave/pkg/store"
)

// SQLStore runs statements for structured_query.
type SQLStore interface {
	Query(ctx context.Context, statement string, args ...any) ([]map[string]any, error)
	Exec(ctx context.Context, statement string, args ...any) (int64, error)
}

// QueryEmbedder embeds search queries.
type QueryEmbedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Searcher ranks catalog rows by similarity.
type Searcher interface {
	Search(ctx context.Context, table string, query []float32, limit int, threshold float64) ([]retrieval.Match, error)
}

// Requester sends A2A requests.
type Requester interface {
	Request(ctx context.Context, sender, recipient, action string, params map[string]any) (*a2a.Message, error)
}

// Reembedder fills missing embeddings of a catalogued table.
type Reembedder interface {
	Reembed(ctx context.Context, table string, embedder store.Embedder, opts store.ReembedOptions) (store.ReembedStats, error)
}

// EmbeddingRefresh re-derives the embeddings a write left NULL. Mirror, when
// set, receives every re-embedded row.
type EmbeddingRefresh struct {
	Store    Reembedder
	Embedder store.Embedder
	Mirror   func(ctx context.Context, row store.Row) error
}

// StructuredQueryOption configures the structured_query tool.
type StructuredQueryOption func(*structuredQuery)

type structuredQuery struct {
	refresh *EmbeddingRefresh
}

// WithEmbeddingRefresh re-embeds the target table after every successful
// write. Rows whose embedding fails stay NULL.
func WithEmbeddingRefresh(r *EmbeddingRefresh) StructuredQueryOption {
	return func(q *structuredQuery) {
		if r != nil && r.Store != nil && r.Embedder != nil {
			q.refresh = r
		}
	}
}

type StructuredQueryArgs struct {
	SQL    string `json:"sql" jsonschema:"required,description=One SQL statement. Use ? placeholders for values."`
	Params []any  `json:"params,omitempty" jsonschema:"description=Positional values bound to the ? placeholders in order"`
}

// NewStructuredQueryTool runs SQL against the store. Reads return rows as
// JSON; writes run in one transaction and are refused unless allowWrite.
func NewStructuredQueryTool(db SQLStore, allowWrite bool, opts ...StructuredQueryOption) Tool {
	q := &structuredQuery{}
	for _, opt := range opts {
		opt(q)
	}

	desc := "Run a read-only SQL query against the profile database (tables: " + strings.Join(store.TableNames(), ", ") + ")."
	if allowWrite {
		desc = "Run a SQL statement against the profile database (tables: " + strings.Join(store.TableNames(), ", ") +
			"). Reads return rows; INSERT, UPDATE and DELETE run in a transaction."
	}

	return mustFunctionTool(StructuredQueryName, desc, func(ctx context.Context, args StructuredQueryArgs) (ToolResult, error) {
		if store.IsWrite(args.SQL) {
			if !allowWrite {
				return ToolResult{}, NewToolExecutionError(StructuredQueryName, "refused", ErrWriteNotAllowed)
			}
			n, err := db.Exec(ctx, args.SQL, args.Params...)
			if err != nil {
				return ToolResult{}, NewToolExecutionError(StructuredQueryName, "statement failed", err)
			}
			out := map[string]any{"rows_affected": n}
			if refreshed, ok := q.refreshEmbeddings(ctx, args.SQL); ok {
				out["embeddings_refreshed"] = refreshed
			}
			return ToolResult{Content: marshal(out), Output: out}, nil
		}

		rows, err := db.Query(ctx, args.SQL, args.Params...)
		if err != nil {
			return ToolResult{}, NewToolExecutionError(StructuredQueryName, "query failed", err)
		}
		out := map[string]any{"rows": rows, "count": len(rows)}
		return ToolResult{Content: marshal(out), Output: out}, nil
	})
}

// refreshEmbeddings runs a NULL-only Reembed pass over the table statement
// wrote to. The write is already committed, so failures are only logged.
func (q *structuredQuery) refreshEmbeddings(ctx context.Context, statement string) (int, bool) {
	if q.refresh == nil {
		return 0, false
	}
	t, ok := store.WriteTarget(statement)
	if !ok {
		return 0, false
	}

	stats, err := q.refresh.Store.Reembed(ctx, t.Name, q.refresh.Embedder, store.ReembedOptions{OnEmbedded: q.refresh.Mirror})
	if err != nil {
		slog.Warn("Failed to refresh embeddings after write", "table", t.Name, "error", err)
		return 0, false
	}
	return stats.Updated, true
}

type SemanticSearchArgs struct {
	Table string `json:"table" jsonschema:"required,description=Table to search,enum=documents,enum=experiences,enum=institutions,enum=positions,enum=skills"`
	Query string `json:"query" jsonschema:"required,description=Natural language description of what to find"`
}

// SearchHit is one semantic_search result.
type SearchHit struct {
	Key        string         `json:"key"`
	Similarity float64        `json:"similarity"`
	Content    string         `json:"content"`
	Fields     map[string]any `json:"fields,omitempty"`
}

// NewSemanticSearchTool embeds the query and ranks table rows by cosine
// similarity at threshold, returning at most limit hits.
func NewSemanticSearchTool(emb QueryEmbedder, searcher Searcher, threshold float64, limit int) Tool {
	return mustFunctionTool(SemanticSearchName,
		"Find rows whose meaning is similar to a natural language query. Use it when exact SQL filters would miss paraphrases.",
		func(ctx context.Context, args SemanticSearchArgs) (ToolResult, error) {
			vec, err := emb.EmbedQuery(ctx, args.Query)
			if err != nil {
				return ToolResult{}, NewToolExecutionError(SemanticSearchName, "failed to embed query", err)
			}
			matches, err := searcher.Search(ctx, args.Table, vec, limit, threshold)
			if err != nil {
				return ToolResult{}, NewToolExecutionError(SemanticSearchName, "search failed", err)
			}

			hits := make([]SearchHit, len(matches))
			for i, m := range matches {
				fields := make(map[string]any, len(m.Fields))
				for k, v := range m.Fields {
					if k != "embedding" {
						fields[k] = v
					}
				}
				hits[i] = SearchHit{Key: m.Key, Similarity: m.Similarity, Content: m.Content, Fields: fields}
			}
			if len(hits) == 0 {
				return ToolResult{Content: fmt.Sprintf("No %s rows matched %q.", args.Table, args.Query), Output: hits}, nil
			}
			return ToolResult{Content: marshal(hits), Output: hits}, nil
		})
}

type CrawlURLArgs struct {
	URL string `json:"url" jsonschema:"required,description=Absolute http(s) URL of the page to crawl"`
}

// NewCrawlURLTool asks the crawler agent, over the bus, to crawl one page.
func NewCrawlURLTool(bus Requester, sender, crawlerID string) Tool {
	return mustFunctionTool(CrawlURLName,
		"Fetch a web page, store its text as searchable document chunks and report the result.",
		func(ctx context.Context, args CrawlURLArgs) (ToolResult, error) {
			resp, err := bus.Request(ctx, sender, crawlerID, crawler.ActionCrawl, map[string]any{"url": args.URL})
			if err != nil {
				return ToolResult{}, NewToolExecutionError(CrawlURLName, "crawler unavailable", err)
			}
			content := marshal(resp.Result())
			if !resp.Succeeded() {
				return ToolResult{Content: content, Output: resp.Result()},
					NewToolExecutionError(CrawlURLName, "crawl failed", errors.New(resp.ErrorMessage()))
			}
			return ToolResult{Content: content, Output: resp.Result()}, nil
		})
}

func marshal(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}

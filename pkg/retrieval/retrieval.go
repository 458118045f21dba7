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

// Package retrieval ranks catalogued rows by cosine similarity to a query
// vector.
//
// Two backends are available. The sql backend scans the embedded rows of a
// table in the relational store and ranks them in process. The index
// backend asks the configured vector provider for nearest neighbours and
// applies the same threshold and ordering rules to its answer.
package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/kadirpekel/conclave/pkg/config"
	"github.com/kadirpekel/conclave/pkg/resilience"
	"github.com/kadirpekel/conclave/pkg/store"
	"github.com/kadirpekel/conclave/pkg/vector"
)

// Match is one ranked row.
type Match struct {
	Table      string         `json:"table"`
	Key        string         `json:"key"`
	Content    string         `json:"content"`
	Fields     map[string]any `json:"fields,omitempty"`
	Similarity float64        `json:"similarity"`
}

// RowSource lists the embedded rows of a catalogued table.
type RowSource interface {
	ListEmbedded(ctx context.Context, table string) ([]store.Row, error)
}

// Backend selects where ranking runs.
type Backend string

const (
	BackendSQL   Backend = "sql"
	BackendIndex Backend = "index"
)

// Retriever answers similarity queries over the catalog.
type Retriever struct {
	rows     RowSource
	index    vector.Provider
	backend  Backend
	executor *resilience.Executor
}

// New builds a retriever. index may be nil, in which case the sql backend
// is used regardless of cfg.Backend.
func New(rows RowSource, index vector.Provider, cfg config.RetrievalConfig, res config.ResilienceConfig) *Retriever {
	backend := Backend(cfg.Backend)
	if backend == BackendIndex && index == nil {
		slog.Warn("Index retrieval requested without a vector provider, using sql backend")
		backend = BackendSQL
	}
	if backend == "" {
		backend = BackendSQL
	}

	r := &Retriever{rows: rows, index: index, backend: backend}
	if index != nil {
		r.executor = resilience.NewExecutor("vector:"+index.Name(), 10*time.Second, res)
	}
	return r
}

func (r *Retriever) Backend() Backend {
	return r.backend
}

// Search returns rows of table whose cosine similarity to query is at least
// threshold, sorted by descending similarity and truncated to limit.
func (r *Retriever) Search(ctx context.Context, table string, query []float32, limit int, threshold float64) ([]Match, error) {
	if len(query) != config.EmbeddingDimension {
		return nil, fmt.Errorf("query vector has %d dimensions, expected %d", len(query), config.EmbeddingDimension)
	}
	if limit <= 0 {
		return nil, nil
	}
	t, err := store.LookupTable(table)
	if err != nil {
		return nil, err
	}

	if r.backend == BackendIndex {
		return r.searchIndex(ctx, t, query, limit, threshold)
	}

	rows, err := r.rows.ListEmbedded(ctx, t.Name)
	if err != nil {
		return nil, err
	}
	return Rank(query, rows, limit, threshold)
}

func (r *Retriever) searchIndex(ctx context.Context, t store.Table, query []float32, limit int, threshold float64) ([]Match, error) {
	hits, err := resilience.Call(ctx, r.executor, func(ctx context.Context) ([]vector.Result, error) {
		return r.index.Search(ctx, t.Name, query, limit, nil)
	})
	if err != nil {
		return nil, fmt.Errorf("vector index search failed: %w", err)
	}

	matches := make([]Match, 0, len(hits))
	for _, h := range hits {
		score := float64(h.Score)
		if score < threshold {
			continue
		}
		key := h.ID
		if k, ok := h.Metadata["key"]; ok {
			key = fmt.Sprint(k)
		}
		matches = append(matches, Match{
			Table:      t.Name,
			Key:        key,
			Content:    h.Content,
			Fields:     h.Metadata,
			Similarity: score,
		})
	}
	sortMatches(matches)
	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

// Rank scores candidates against query. Rows without an embedding are
// skipped; a row whose width differs from query is an error.
func Rank(query []float32, candidates []store.Row, limit int, threshold float64) ([]Match, error) {
	matches := make([]Match, 0, len(candidates))
	for _, row := range candidates {
		if row.Embedding == nil {
			continue
		}
		sim, err := Cosine(query, row.Embedding)
		if err != nil {
			return nil, fmt.Errorf("%s %s: %w", row.Table, row.Key, err)
		}
		if sim < threshold {
			continue
		}
		matches = append(matches, Match{
			Table:      row.Table,
			Key:        row.Key,
			Content:    row.Text,
			Fields:     row.Fields,
			Similarity: sim,
		})
	}

	sortMatches(matches)
	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

func sortMatches(matches []Match) {
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Similarity > matches[j].Similarity
	})
}

// Cosine returns the cosine similarity of a and b. A zero vector has
// similarity 0 with everything.
func Cosine(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("dimension mismatch: %d vs %d", len(a), len(b))
	}

	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0, nil
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb)), nil
}

// Mirror copies an embedded row into the vector index. It is a no-op when
// no index is configured or the row has no embedding.
func (r *Retriever) Mirror(ctx context.Context, row store.Row) error {
	if r.index == nil || row.Embedding == nil {
		return nil
	}

	metadata := map[string]any{
		"key":     row.Key,
		"content": row.Text,
	}
	if url, ok := row.Fields["url"]; ok {
		metadata["url"] = url
	}
	if title, ok := row.Fields["title"]; ok && title != nil {
		metadata["title"] = title
	}

	return r.executor.Do(ctx, func(ctx context.Context) error {
		return r.index.Upsert(ctx, row.Table, row.Key, row.Embedding, metadata)
	})
}

// Unmirror removes every index entry of table whose metadata matches filter.
func (r *Retriever) Unmirror(ctx context.Context, table string, filter map[string]any) error {
	if r.index == nil {
		return nil
	}
	return r.executor.Do(ctx, func(ctx context.Context) error {
		return r.index.DeleteByFilter(ctx, table, filter)
	})
}

package retrieval

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/conclave/pkg/config"
	"github.com/kadirpekel/conclave/pkg/store"
	"github.com/kadirpekel/conclave/pkg/vector"
)

// axis returns a unit-ish vector pointing mostly along dimension i, tilted
// toward dimension 0 by tilt.
func axis(i int, tilt float32) []float32 {
	v := make([]float32, config.EmbeddingDimension)
	v[i] = 1
	v[0] += tilt
	return v
}

type fakeRows map[string][]store.Row

func (f fakeRows) ListEmbedded(_ context.Context, table string) ([]store.Row, error) {
	return f[table], nil
}

func testResilience() config.ResilienceConfig {
	var c config.ResilienceConfig
	c.SetDefaults()
	c.MaxTries = 1
	return c
}

func TestCosine(t *testing.T) {
	a := axis(1, 0)
	sim, err := Cosine(a, a)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, sim, 1e-9)

	sim, err = Cosine(axis(1, 0), axis(2, 0))
	require.NoError(t, err)
	assert.InDelta(t, 0.0, sim, 1e-9)

	neg := axis(1, 0)
	neg[1] = -1
	sim, err = Cosine(axis(1, 0), neg)
	require.NoError(t, err)
	assert.InDelta(t, -1.0, sim, 1e-9)

	sim, err = Cosine(make([]float32, 4), []float32{1, 2, 3, 4})
	require.NoError(t, err)
	assert.Zero(t, sim)

	_, err = Cosine([]float32{1}, []float32{1, 2})
	assert.ErrorContains(t, err, "dimension mismatch")
}

func TestRank_ThresholdOrderingLimit(t *testing.T) {
	query := axis(0, 0)
	rows := []store.Row{
		{Table: "skills", Key: "low", Embedding: axis(3, 0.2)},
		{Table: "skills", Key: "high", Embedding: axis(1, 5)},
		{Table: "skills", Key: "absent"},
		{Table: "skills", Key: "mid", Embedding: axis(2, 1)},
		{Table: "skills", Key: "exact", Embedding: axis(0, 0)},
	}

	matches, err := Rank(query, rows, 10, 0.5)
	require.NoError(t, err)

	keys := make([]string, len(matches))
	for i, m := range matches {
		keys[i] = m.Key
		assert.GreaterOrEqual(t, m.Similarity, 0.5)
		if i > 0 {
			assert.GreaterOrEqual(t, matches[i-1].Similarity, m.Similarity)
		}
	}
	assert.Equal(t, []string{"exact", "high", "mid"}, keys)

	limited, err := Rank(query, rows, 2, 0.5)
	require.NoError(t, err)
	assert.Len(t, limited, 2)
	assert.Equal(t, "exact", limited[0].Key)

	none, err := Rank(query, rows, 5, 1.01)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestRank_RejectsWidthMismatch(t *testing.T) {
	rows := []store.Row{{Table: "skills", Key: "1", Embedding: []float32{1, 0, 0}}}
	_, err := Rank(axis(0, 0), rows, 5, 0)
	assert.ErrorContains(t, err, "dimension mismatch")
}

func TestRetriever_SQLBackend(t *testing.T) {
	rows := fakeRows{
		"institutions": {
			{Table: "institutions", Key: "1", Text: "Michigan State University", Embedding: axis(1, 2)},
			{Table: "institutions", Key: "2", Text: "Somewhere Else", Embedding: axis(2, 0)},
		},
	}
	r := New(rows, nil, config.RetrievalConfig{Backend: "index"}, testResilience())
	assert.Equal(t, BackendSQL, r.Backend())

	matches, err := r.Search(context.Background(), "institutions", axis(0, 0), 5, 0.3)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "Michigan State University", matches[0].Content)
	assert.InDelta(t, 2/math.Sqrt(5), matches[0].Similarity, 1e-6)
}

func TestRetriever_RejectsBadInput(t *testing.T) {
	r := New(fakeRows{}, nil, config.RetrievalConfig{}, testResilience())

	_, err := r.Search(context.Background(), "skills", []float32{1, 2, 3}, 5, 0.3)
	assert.ErrorContains(t, err, "expected 768")

	_, err = r.Search(context.Background(), "users", axis(0, 0), 5, 0.3)
	assert.ErrorContains(t, err, "unknown table")
}

func TestRetriever_IndexBackend(t *testing.T) {
	idx, err := vector.NewChromemProvider(vector.ChromemConfig{})
	require.NoError(t, err)

	r := New(fakeRows{}, idx, config.RetrievalConfig{Backend: "index"}, testResilience())
	require.Equal(t, BackendIndex, r.Backend())

	ctx := context.Background()
	require.NoError(t, r.Mirror(ctx, store.Row{
		Table: "documents", Key: "10", Text: "Example Domain",
		Fields:    map[string]any{"url": "https://example.com", "title": "Example"},
		Embedding: axis(1, 3),
	}))
	require.NoError(t, r.Mirror(ctx, store.Row{
		Table: "documents", Key: "11", Text: "Unrelated",
		Fields:    map[string]any{"url": "https://other.example"},
		Embedding: axis(2, 0),
	}))
	// Rows without embeddings never reach the index.
	require.NoError(t, r.Mirror(ctx, store.Row{Table: "documents", Key: "12"}))

	matches, err := r.Search(ctx, "documents", axis(0, 0), 5, 0.5)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "10", matches[0].Key)
	assert.Equal(t, "Example Domain", matches[0].Content)

	require.NoError(t, r.Unmirror(ctx, "documents", map[string]any{"url": "https://example.com"}))
	matches, err = r.Search(ctx, "documents", axis(0, 0), 5, 0.5)
	require.NoError(t, err)
	assert.Empty(t, matches)
}

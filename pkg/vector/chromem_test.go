package vector

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChromemProvider_UpsertSearchDelete(t *testing.T) {
	ctx := context.Background()
	p, err := NewChromemProvider(ChromemConfig{})
	require.NoError(t, err)
	defer p.Close()

	require.NoError(t, p.Upsert(ctx, "documents", "doc-1#0", []float32{1, 0, 0}, map[string]any{
		"url":     "https://example.com/a",
		"content": "alpha",
	}))
	require.NoError(t, p.Upsert(ctx, "documents", "doc-2#0", []float32{0, 1, 0}, map[string]any{
		"url":     "https://example.com/b",
		"content": "beta",
	}))

	results, err := p.Search(ctx, "documents", []float32{0.9, 0.1, 0}, 10, nil)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "doc-1#0", results[0].ID)
	assert.Equal(t, "alpha", results[0].Content)
	assert.Greater(t, results[0].Score, results[1].Score)

	filtered, err := p.Search(ctx, "documents", []float32{0.9, 0.1, 0}, 10, map[string]any{"url": "https://example.com/b"})
	require.NoError(t, err)
	require.Len(t, filtered, 1)
	assert.Equal(t, "doc-2#0", filtered[0].ID)

	require.NoError(t, p.DeleteByFilter(ctx, "documents", map[string]any{"url": "https://example.com/a"}))
	results, err = p.Search(ctx, "documents", []float32{1, 0, 0}, 10, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "doc-2#0", results[0].ID)
}

func TestChromemProvider_EmptyCollection(t *testing.T) {
	p, err := NewChromemProvider(ChromemConfig{})
	require.NoError(t, err)

	results, err := p.Search(context.Background(), "empty", []float32{1, 0}, 5, nil)
	require.NoError(t, err)
	assert.Empty(t, results)

	assert.Error(t, p.DeleteByFilter(context.Background(), "empty", nil))
}

func TestProviderConfig(t *testing.T) {
	var cfg ProviderConfig
	cfg.SetDefaults()
	assert.Equal(t, ProviderChromem, cfg.Type)
	require.NoError(t, cfg.Validate())

	p, err := NewProvider(&ProviderConfig{Type: ProviderNone})
	require.NoError(t, err)
	assert.Nil(t, p)

	assert.Error(t, (&ProviderConfig{Type: ProviderQdrant}).Validate())
	assert.Error(t, (&ProviderConfig{Type: ProviderPinecone}).Validate())
	assert.Error(t, (&ProviderConfig{Type: "faiss"}).Validate())
}

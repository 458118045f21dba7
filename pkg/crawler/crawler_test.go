package crawler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/conclave/pkg/a2a"
	"github.com/kadirpekel/conclave/pkg/config"
	"github.com/kadirpekel/conclave/pkg/retrieval"
	"github.com/kadirpekel/conclave/pkg/store"
	"github.com/kadirpekel/conclave/pkg/testutils"
	"github.com/kadirpekel/conclave/pkg/vector"
)

const examplePage = `<!doctype html>
<html>
<head>
  <title>Example Domain</title>
  <style>body { color: red; }</style>
  <script>var tracking = "should not appear";</script>
</head>
<body>
  <header>Site header</header>
  <nav>Home | About</nav>
  <div>
    <h1>Example Domain</h1>
    <p>This domain is for use in illustrative examples in documents.</p>
  </div>
  <footer>Copyright footer</footer>
</body>
</html>`

// site serves examplePage at / and the given status code at /status/<code>.
func site(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, examplePage)
	})
	mux.HandleFunc("/long", func(w http.ResponseWriter, r *http.Request) {
		words := make([]string, 25)
		for i := range words {
			words[i] = fmt.Sprintf("word%d", i)
		}
		fmt.Fprintf(w, "<html><body><p>%s</p></body></html>", strings.Join(words, " "))
	})
	mux.HandleFunc("/missing", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})
	mux.HandleFunc("/broken", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newCrawler(t *testing.T, cfg config.CrawlerConfig, emb store.Embedder, opts ...Option) (*Crawler, *store.Store) {
	t.Helper()
	st := testutils.Store(t)
	return New(cfg, testutils.Resilience(), st, emb, opts...), st
}

func TestChunk(t *testing.T) {
	text := strings.Repeat("alpha beta gamma ", 4) // 12 words
	chunks := Chunk(text, 5)
	require.Len(t, chunks, 3)
	assert.Len(t, strings.Fields(chunks[0]), 5)
	assert.Len(t, strings.Fields(chunks[1]), 5)
	assert.Len(t, strings.Fields(chunks[2]), 2)
	assert.Equal(t, strings.Join(strings.Fields(text), " "), strings.Join(chunks, " "))

	assert.Nil(t, Chunk("   \n\t ", 5))
	assert.Len(t, Chunk(strings.Repeat("w ", DefaultChunkWords+1), 0), 2)
}

func TestExtract(t *testing.T) {
	page, err := ExtractString(examplePage)
	require.NoError(t, err)
	assert.Equal(t, "Example Domain", page.Title)
	assert.Equal(t, "Example Domain This domain is for use in illustrative examples in documents.", page.Text)
	for _, gone := range []string{"tracking", "color", "Site header", "Home", "Copyright"} {
		assert.NotContains(t, page.Text, gone)
	}

	page, err = ExtractString("<p>no  head   here</p>")
	require.NoError(t, err)
	assert.Equal(t, NoTitle, page.Title)
	assert.Equal(t, "no head here", page.Text)

	page, err = ExtractString("<aside>side</aside><p>main</p>", append(DefaultStripTags, "aside")...)
	require.NoError(t, err)
	assert.Equal(t, "main", page.Text)
}

func TestLooksLikeHTML(t *testing.T) {
	assert.True(t, LooksLikeHTML("<html><body>x</body></html>"))
	assert.True(t, LooksLikeHTML("  <div>x</div>"))
	assert.False(t, LooksLikeHTML("plain text about <3 things"))
}

func TestCrawl_Success(t *testing.T) {
	srv := site(t)
	c, st := newCrawler(t, config.CrawlerConfig{}, testutils.HashEmbedder())

	res, err := c.Crawl(context.Background(), srv.URL+"/")
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, res.Status)
	assert.Equal(t, "Example Domain", res.Title)
	assert.Equal(t, 1, res.ChunksCreated)
	assert.Equal(t, 1, res.Embedded)

	chunks, err := st.Chunks(context.Background(), srv.URL+"/")
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, 0, chunks[0].Index)
	assert.Len(t, chunks[0].Embedding, config.EmbeddingDimension)
}

func TestCrawl_ChunkIndexesAreContiguous(t *testing.T) {
	srv := site(t)
	c, st := newCrawler(t, config.CrawlerConfig{ChunkWords: 4}, testutils.HashEmbedder())
	url := srv.URL + "/long"

	res, err := c.Crawl(context.Background(), url)
	require.NoError(t, err)
	require.Equal(t, StatusSuccess, res.Status)
	assert.Equal(t, 7, res.ChunksCreated)

	// A second crawl replaces rather than appends.
	_, err = c.Crawl(context.Background(), url)
	require.NoError(t, err)

	chunks, err := st.Chunks(context.Background(), url)
	require.NoError(t, err)
	require.Len(t, chunks, 7)
	for i, ch := range chunks {
		assert.Equal(t, i, ch.Index)
		assert.NotEmpty(t, ch.Text)
	}
	assert.Equal(t, "word24", chunks[6].Text)
}

func TestCrawl_EmbeddingFailureStoresNull(t *testing.T) {
	srv := site(t)
	emb := testutils.NewFailingEmbedder(nil)
	c, st := newCrawler(t, config.CrawlerConfig{}, emb)

	res, err := c.Crawl(context.Background(), srv.URL+"/")
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, res.Status)
	assert.Equal(t, 1, res.ChunksCreated)
	assert.Equal(t, 0, res.Embedded)
	assert.Equal(t, 1, emb.Calls())

	chunks, err := st.Chunks(context.Background(), srv.URL+"/")
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Nil(t, chunks[0].Embedding)
}

func TestCrawl_FetchFailurePersistsNothing(t *testing.T) {
	srv := site(t)
	c, st := newCrawler(t, config.CrawlerConfig{}, testutils.HashEmbedder())

	tests := []struct {
		path string
		want string
	}{
		{"/missing", "HTTP 404"},
		{"/broken", "HTTP 500"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			url := srv.URL + tt.path
			res, err := c.Crawl(context.Background(), url)
			require.NoError(t, err)
			assert.Equal(t, StatusError, res.Status)
			assert.Equal(t, url, res.URL)
			assert.Contains(t, res.Error, tt.want)

			chunks, err := st.Chunks(context.Background(), url)
			require.NoError(t, err)
			assert.Empty(t, chunks)
		})
	}
}

func TestCrawl_EmptyPageKeepsEarlierChunks(t *testing.T) {
	var emptied atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if emptied.Load() {
			fmt.Fprint(w, `<html><head><title>T</title><script>var x = 1;</script></head><body><nav>menu</nav></body></html>`)
			return
		}
		fmt.Fprint(w, examplePage)
	}))
	t.Cleanup(srv.Close)
	c, st := newCrawler(t, config.CrawlerConfig{}, testutils.HashEmbedder())
	ctx := context.Background()

	res, err := c.Crawl(ctx, srv.URL)
	require.NoError(t, err)
	require.Equal(t, StatusSuccess, res.Status)
	require.Equal(t, 1, res.ChunksCreated)

	emptied.Store(true)
	res, err = c.Crawl(ctx, srv.URL)
	require.NoError(t, err)
	assert.Equal(t, StatusError, res.Status)
	assert.Equal(t, "No content extracted", res.Error)
	assert.Equal(t, srv.URL, res.URL)
	assert.Zero(t, res.ChunksCreated)

	chunks, err := st.Chunks(ctx, srv.URL)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Contains(t, chunks[0].Text, "illustrative examples")
}

func TestTruncateRunes(t *testing.T) {
	assert.Equal(t, "", TruncateRunes("héllo", 0))
	assert.Equal(t, "hé", TruncateRunes("héllo", 2))
	assert.Equal(t, "héllo", TruncateRunes("héllo", 10))
}

func TestCrawl_MissingURL(t *testing.T) {
	c, _ := newCrawler(t, config.CrawlerConfig{}, nil)
	res, err := c.Crawl(context.Background(), "  ")
	require.NoError(t, err)
	assert.Equal(t, StatusError, res.Status)
	assert.Equal(t, "No URL provided", res.Error)
}

func TestCrawl_CancelledContext(t *testing.T) {
	srv := site(t)
	c, _ := newCrawler(t, config.CrawlerConfig{}, testutils.HashEmbedder())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.Crawl(ctx, srv.URL+"/")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCrawl_LLMClean(t *testing.T) {
	srv := site(t)

	t.Run("cleaned text is chunked", func(t *testing.T) {
		llm := testutils.NewScriptedLLM("Illustrative examples only.")
		c, st := newCrawler(t, config.CrawlerConfig{LLMClean: true, CleanInputLimit: 10}, testutils.HashEmbedder(), WithLLM(llm))

		res, err := c.Crawl(context.Background(), srv.URL+"/")
		require.NoError(t, err)
		require.Equal(t, StatusSuccess, res.Status)

		chunks, err := st.Chunks(context.Background(), srv.URL+"/")
		require.NoError(t, err)
		require.Len(t, chunks, 1)
		assert.Equal(t, "Illustrative examples only.", chunks[0].Text)

		prompts := llm.Prompts()
		require.Len(t, prompts, 1)
		assert.Equal(t, cleanPrompt+"Example Do", prompts[0])
	})

	t.Run("failure keeps extracted text", func(t *testing.T) {
		llm := testutils.NewScriptedLLM().ThenError(errors.New("rate limited"))
		c, st := newCrawler(t, config.CrawlerConfig{LLMClean: true}, testutils.HashEmbedder(), WithLLM(llm))

		res, err := c.Crawl(context.Background(), srv.URL+"/")
		require.NoError(t, err)
		require.Equal(t, StatusSuccess, res.Status)

		chunks, err := st.Chunks(context.Background(), srv.URL+"/")
		require.NoError(t, err)
		require.Len(t, chunks, 1)
		assert.Contains(t, chunks[0].Text, "illustrative examples")
	})
}

func TestCrawlThenSearch(t *testing.T) {
	srv := site(t)
	emb := testutils.HashEmbedder()
	ctx := context.Background()

	t.Run("sql backend", func(t *testing.T) {
		c, st := newCrawler(t, config.CrawlerConfig{}, emb)
		res, err := c.Crawl(ctx, srv.URL+"/")
		require.NoError(t, err)
		require.Equal(t, StatusSuccess, res.Status)

		r := retrieval.New(st, nil, config.RetrievalConfig{}, testutils.Resilience())
		q, err := emb.EmbedQuery(ctx, "example domain")
		require.NoError(t, err)

		matches, err := r.Search(ctx, store.DocumentsTable, q, 5, 0.2)
		require.NoError(t, err)
		require.NotEmpty(t, matches)
		assert.Contains(t, matches[0].Content, "Example Domain")
		assert.Equal(t, srv.URL+"/", matches[0].Fields["url"])
		assert.GreaterOrEqual(t, matches[0].Similarity, 0.2)
	})

	t.Run("mirrored index backend", func(t *testing.T) {
		idx, err := vector.NewChromemProvider(vector.ChromemConfig{})
		require.NoError(t, err)
		st := testutils.Store(t)
		r := retrieval.New(st, idx, config.RetrievalConfig{Backend: "index"}, testutils.Resilience())
		c := New(config.CrawlerConfig{}, testutils.Resilience(), st, emb, WithMirror(r))

		_, err = c.Crawl(ctx, srv.URL+"/")
		require.NoError(t, err)
		_, err = c.Crawl(ctx, srv.URL+"/")
		require.NoError(t, err)

		q, err := emb.EmbedQuery(ctx, "example domain")
		require.NoError(t, err)
		matches, err := r.Search(ctx, store.DocumentsTable, q, 5, 0.2)
		require.NoError(t, err)
		require.Len(t, matches, 1, "recrawl must not leave stale index entries")
		assert.Contains(t, matches[0].Content, "illustrative examples")
	})
}

func TestCrawlMany_KeepsOrder(t *testing.T) {
	srv := site(t)
	c, _ := newCrawler(t, config.CrawlerConfig{}, testutils.HashEmbedder())

	urls := []string{srv.URL + "/missing", srv.URL + "/", srv.URL + "/long"}
	results, err := c.CrawlMany(context.Background(), urls, 2)
	require.NoError(t, err)
	require.Len(t, results, 3)
	for i, u := range urls {
		assert.Equal(t, u, results[i].URL)
	}
	assert.Equal(t, StatusError, results[0].Status)
	assert.Equal(t, StatusSuccess, results[1].Status)
	assert.Equal(t, StatusSuccess, results[2].Status)
}

func TestAgent(t *testing.T) {
	srv := site(t)
	c, _ := newCrawler(t, config.CrawlerConfig{}, testutils.HashEmbedder())

	bus := a2a.NewBus(10)
	require.NoError(t, bus.Register(NewAgent(c)))
	ctx := context.Background()

	t.Run("missing url", func(t *testing.T) {
		resp, err := bus.Request(ctx, "tester", AgentID, ActionCrawl, nil)
		require.NoError(t, err)
		assert.False(t, resp.Succeeded())
		assert.Equal(t, "No URL provided", resp.ErrorMessage())
	})

	t.Run("unknown action", func(t *testing.T) {
		resp, err := bus.Request(ctx, "tester", AgentID, "dance", nil)
		require.NoError(t, err)
		assert.False(t, resp.Succeeded())
		assert.Equal(t, "Unknown action: dance", resp.ErrorMessage())

		var res Result
		require.NoError(t, resp.DecodeResult(&res))
		assert.Equal(t, StatusError, res.Status)
	})

	for _, action := range []string{ActionCrawl, ActionCrawlURL} {
		t.Run(action, func(t *testing.T) {
			resp, err := bus.Request(ctx, "tester", AgentID, action, map[string]any{"url": srv.URL + "/"})
			require.NoError(t, err)
			require.True(t, resp.Succeeded(), resp.ErrorMessage())

			var res Result
			require.NoError(t, resp.DecodeResult(&res))
			assert.Equal(t, "Example Domain", res.Title)
			assert.Equal(t, 1, res.ChunksCreated)
		})
	}

	t.Run("fetch failure is unsuccessful with payload", func(t *testing.T) {
		resp, err := bus.Request(ctx, "tester", AgentID, ActionCrawl, map[string]any{"url": srv.URL + "/missing"})
		require.NoError(t, err)
		assert.False(t, resp.Succeeded())

		var res Result
		require.NoError(t, resp.DecodeResult(&res))
		assert.Equal(t, StatusError, res.Status)
		assert.Equal(t, srv.URL+"/missing", res.URL)
	})

	t.Run("crawl_many", func(t *testing.T) {
		resp, err := bus.Request(ctx, "tester", AgentID, ActionCrawlMany, map[string]any{
			"urls":        []any{srv.URL + "/", srv.URL + "/long"},
			"concurrency": float64(2),
		})
		require.NoError(t, err)
		require.True(t, resp.Succeeded())

		var out struct {
			Results []Result `json:"results"`
			Count   int      `json:"count"`
		}
		require.NoError(t, resp.DecodeResult(&out))
		assert.Equal(t, 2, out.Count)
		assert.Equal(t, srv.URL+"/long", out.Results[1].URL)
	})
}

func TestFetchError_IsRetryable(t *testing.T) {
	cause := errors.New("boom")
	assert.True(t, NewFetchError("u", "m", 503, cause).IsRetryable())
	assert.True(t, NewFetchError("u", "m", 429, cause).IsRetryable())
	assert.True(t, NewFetchError("u", "m", 0, cause).IsRetryable())
	assert.False(t, NewFetchError("u", "m", 404, cause).IsRetryable())
	assert.ErrorIs(t, NewFetchError("u", "m", 404, cause), cause)
}

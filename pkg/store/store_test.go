package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/conclave/pkg/config"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	pool := config.NewDBPool()
	t.Cleanup(func() { _ = pool.Close() })

	cfg := &config.DatabaseConfig{
		Driver:   "sqlite",
		Database: filepath.Join(t.TempDir(), "conclave.db"),
	}
	s, err := Open(context.Background(), pool, cfg)
	require.NoError(t, err)
	return s
}

func vec(seed float32) []float32 {
	v := make([]float32, config.EmbeddingDimension)
	for i := range v {
		v[i] = seed
	}
	return v
}

type stubEmbedder struct {
	fail  map[string]bool
	calls int
}

func (e *stubEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	e.calls++
	if e.fail[text] {
		return nil, errors.New("quota exceeded")
	}
	return vec(float32(len(text))), nil
}

func TestIsWrite(t *testing.T) {
	tests := []struct {
		sql  string
		want bool
	}{
		{"SELECT * FROM skills", false},
		{"  select name from institutions", false},
		{"WITH x AS (SELECT 1) SELECT * FROM x", false},
		{"WITH gone AS (DELETE FROM skills RETURNING *) SELECT * FROM gone", true},
		{"INSERT INTO skills (name) VALUES ('Go')", true},
		{"delete from experiences", true},
		{"DROP TABLE skills", true},
		{"PRAGMA table_info(skills)", false},
	}

	for _, tt := range tests {
		t.Run(tt.sql, func(t *testing.T) {
			assert.Equal(t, tt.want, IsWrite(tt.sql))
		})
	}
}

func TestRebind(t *testing.T) {
	pg := &Store{dialect: "postgres"}
	assert.Equal(t, "SELECT * FROM t WHERE a = $1 AND b = '?' AND c = $2",
		pg.Rebind("SELECT * FROM t WHERE a = ? AND b = '?' AND c = ?"))

	lite := &Store{dialect: "sqlite"}
	assert.Equal(t, "SELECT ?", lite.Rebind("SELECT ?"))
}

func TestQueryAndExec(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	n, err := s.Exec(ctx, "INSERT INTO institutions (name, type, city) VALUES (?, ?, ?)", "Michigan State University", "Academic", "East Lansing")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	rows, err := s.Query(ctx, "SELECT inst_id, name, city, embedding FROM institutions WHERE name LIKE ?", "%State%")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "Michigan State University", rows[0]["name"])
	assert.Equal(t, "East Lansing", rows[0]["city"])
	assert.NotContains(t, rows[0], "embedding")
}

func TestExec_UpdateClearsEmbedding(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	vec := make([]float32, 768)
	vec[0] = 1
	_, err := s.InsertRow(ctx, "skills", map[string]any{"name": "Go", "type": "Technical", "level": "Expert"}, vec)
	require.NoError(t, err)
	_, err = s.InsertRow(ctx, "skills", map[string]any{"name": "SQL", "type": "Technical", "level": "Advanced"}, vec)
	require.NoError(t, err)

	n, err := s.Exec(ctx, "update skills set level = ? where name = ?", "Novice", "Go")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	embedded, err := s.ListEmbedded(ctx, "skills")
	require.NoError(t, err)
	require.Len(t, embedded, 1, "only the updated row loses its embedding")
	assert.Equal(t, "SQL | Technical | Advanced", embedded[0].Text)
}

func TestInvalidateEmbeddings(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"UPDATE skills SET level = ? WHERE name = ?", "UPDATE skills SET embedding = NULL, level = ? WHERE name = ?"},
		{"  update Positions\n  set title = 'x'", "  update Positions\n  set embedding = NULL, title = 'x'"},
		{"UPDATE skills SET embedding = NULL", "UPDATE skills SET embedding = NULL"},
		{"UPDATE sessions SET x = 1", "UPDATE sessions SET x = 1"},
		{"DELETE FROM skills", "DELETE FROM skills"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, invalidateEmbeddings(tt.in), tt.in)
	}
}

func TestWriteTarget(t *testing.T) {
	tests := []struct {
		statement string
		table     string
		ok        bool
	}{
		{"INSERT INTO skills (name) VALUES (?)", "skills", true},
		{"insert or replace into Experiences (name) values (?)", "experiences", true},
		{"UPDATE positions SET title = ?", "positions", true},
		{"DELETE FROM institutions WHERE inst_id = 3", "institutions", true},
		{"DELETE FROM sessions", "", false},
		{"DROP TABLE skills", "", false},
	}
	for _, tt := range tests {
		got, ok := WriteTarget(tt.statement)
		assert.Equal(t, tt.ok, ok, tt.statement)
		assert.Equal(t, tt.table, got.Name, tt.statement)
	}
}

func TestExec_RollsBackOnError(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Exec(ctx, "INSERT INTO no_such_table (x) VALUES (1)")
	require.Error(t, err)

	var dbErr *DatabaseError
	require.True(t, errors.As(err, &dbErr))
	assert.Equal(t, "exec", dbErr.Operation)
	assert.Contains(t, err.Error(), "[store:exec]")

	// NOT NULL violation inside the transaction leaves nothing behind.
	_, err = s.Exec(ctx, "INSERT INTO institutions (name) VALUES (NULL)")
	require.Error(t, err)
	rows, err := s.Query(ctx, "SELECT COUNT(*) AS n FROM institutions")
	require.NoError(t, err)
	assert.EqualValues(t, 0, rows[0]["n"])
}

func TestReplaceChunks_ContiguousAndReplacing(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	url := "https://example.com/project"

	first, err := s.ReplaceChunks(ctx, url, "Project", []ChunkInput{
		{Text: "one", Embedding: vec(1)},
		{Text: "two"},
		{Text: "three", Embedding: vec(3)},
	})
	require.NoError(t, err)
	require.Len(t, first, 3)

	second, err := s.ReplaceChunks(ctx, url, "Project v2", []ChunkInput{
		{Text: "alpha", Embedding: vec(1)},
		{Text: "beta"},
	})
	require.NoError(t, err)
	require.Len(t, second, 2)

	stored, err := s.Chunks(ctx, url)
	require.NoError(t, err)
	require.Len(t, stored, 2)
	for i, c := range stored {
		assert.Equal(t, i, c.Index)
		assert.Equal(t, "Project v2", c.Title)
		assert.NotZero(t, c.DocumentID)
		assert.False(t, c.CreatedAt.IsZero())
	}
	assert.Len(t, stored[0].Embedding, config.EmbeddingDimension)
	assert.Nil(t, stored[1].Embedding)
}

func TestReplaceChunks_Validation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.ReplaceChunks(ctx, "", "t", []ChunkInput{{Text: "x"}})
	assert.Error(t, err)

	_, err = s.ReplaceChunks(ctx, "https://a", "t", []ChunkInput{{Text: "  "}})
	assert.ErrorContains(t, err, "chunk 0 is empty")

	_, err = s.ReplaceChunks(ctx, "https://a", "t", []ChunkInput{{Text: "x", Embedding: []float32{1, 2, 3}}})
	assert.ErrorContains(t, err, "expected 768")

	stored, err := s.Chunks(ctx, "https://a")
	require.NoError(t, err)
	assert.Empty(t, stored)
}

func TestListEmbeddedAndReembed(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.InsertRow(ctx, "skills", map[string]any{"name": "Go", "type": "Technical", "level": "Expert"}, nil)
	require.NoError(t, err)
	_, err = s.InsertRow(ctx, "skills", map[string]any{"name": "Rust", "type": "Technical"}, nil)
	require.NoError(t, err)
	_, err = s.InsertRow(ctx, "skills", map[string]any{"name": "Public Speaking"}, vec(0.5))
	require.NoError(t, err)

	rows, err := s.ListEmbedded(ctx, "skills")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "Public Speaking", rows[0].Text)
	assert.Equal(t, "skills", rows[0].Table)

	emb := &stubEmbedder{fail: map[string]bool{"Rust | Technical": true}}
	var mirrored []string
	stats, err := s.Reembed(ctx, "skills", emb, ReembedOptions{
		OnEmbedded: func(_ context.Context, r Row) error {
			mirrored = append(mirrored, r.Key)
			return nil
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Updated)
	assert.Equal(t, 1, stats.Failed)
	assert.Equal(t, 2, emb.calls)
	assert.Len(t, mirrored, 1)

	rows, err = s.ListEmbedded(ctx, "skills")
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	stats, err = s.Reembed(ctx, "skills", &stubEmbedder{}, ReembedOptions{All: true})
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Updated)
}

func TestLookupTable(t *testing.T) {
	tbl, err := LookupTable(" Skills ")
	require.NoError(t, err)
	assert.Equal(t, "skill_id", tbl.Key)

	_, err = LookupTable("users; DROP TABLE skills")
	assert.ErrorContains(t, err, "unknown table")

	assert.Equal(t, []string{"documents", "experiences", "institutions", "positions", "skills"}, TableNames())
}

func TestInsertRow_RejectsBadColumns(t *testing.T) {
	s := newTestStore(t)
	_, err := s.InsertRow(context.Background(), "skills", map[string]any{"name; --": "x"}, nil)
	assert.ErrorContains(t, err, "invalid column")
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/conclave/pkg/vector"
)

func clearProviderEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{"GEMINI_API_KEY", "GOOGLE_API_KEY", "GROQ_API_KEY", "OPENAI_API_KEY", "GROQ_MODEL", "DATABASE_HOST"} {
		t.Setenv(key, "")
	}
}

func TestDefault(t *testing.T) {
	clearProviderEnv(t)

	cfg, err := Default()
	require.NoError(t, err)

	assert.Equal(t, LLMProviderOllama, cfg.LLM.Provider)
	assert.Equal(t, EmbedderHash, cfg.Embedder.Provider)
	assert.Equal(t, EmbeddingDimension, cfg.Embedder.Dimension)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, 0.3, cfg.Retrieval.ReActThreshold)
	assert.Equal(t, 0.5, cfg.Retrieval.LookupThreshold)
	assert.Equal(t, 5, cfg.Retrieval.Limit)
	assert.Equal(t, 8, cfg.ReAct.MaxIterations)
	assert.Equal(t, 800, cfg.Crawler.ChunkWords)
	assert.Equal(t, 10*time.Second, cfg.Crawler.Timeout)
	assert.Equal(t, vector.ProviderChromem, cfg.Vector.Type)
	assert.Equal(t, 3, cfg.Resilience.MaxTries)
}

func TestParse_EnvExpansionAndDurations(t *testing.T) {
	clearProviderEnv(t)
	t.Setenv("CONCLAVE_DB", filepath.Join(t.TempDir(), "app.db"))
	t.Setenv("GEMINI_API_KEY", "test-key")

	cfg, err := Parse([]byte(`
database:
  driver: sqlite
  database: ${CONCLAVE_DB}
llm:
  provider: gemini
  api_key: ${GEMINI_API_KEY}
  timeout: 45s
crawler:
  timeout: 3s
  chunk_words: 100
retrieval:
  backend: ${RETRIEVAL_BACKEND:-index}
risk:
  extra_keywords: [nuke, obliterate]
experts:
  - name: Database Read Expert
    background_context: extra schema notes
`))
	require.NoError(t, err)

	assert.Contains(t, cfg.Database.Database, "app.db")
	assert.Equal(t, "test-key", cfg.LLM.APIKey)
	assert.Equal(t, 45*time.Second, cfg.LLM.Timeout)
	assert.Equal(t, "gemini-2.0-flash", cfg.LLM.Model)
	assert.Equal(t, 3*time.Second, cfg.Crawler.Timeout)
	assert.Equal(t, 100, cfg.Crawler.ChunkWords)
	assert.Equal(t, "index", cfg.Retrieval.Backend)
	assert.Equal(t, []string{"nuke", "obliterate"}, cfg.Risk.ExtraKeywords)
	require.Len(t, cfg.Experts, 1)
	assert.Equal(t, "extra schema notes", cfg.Experts[0].BackgroundContext)
	assert.Empty(t, cfg.Experts[0].Mode)
	assert.Equal(t, EmbedderGemini, cfg.Embedder.Provider)
}

func TestParse_JSON(t *testing.T) {
	clearProviderEnv(t)

	cfg, err := Parse([]byte(`{"react": {"max_iterations": 4}, "vector": {"type": "none"}}`))
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.ReAct.MaxIterations)
	assert.Equal(t, vector.ProviderNone, cfg.Vector.Type)
}

func TestParse_ValidationErrors(t *testing.T) {
	clearProviderEnv(t)

	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{"iteration cap too high", "react:\n  max_iterations: 12\n", "max_iterations"},
		{"bad backend", "retrieval:\n  backend: faiss\n", "backend"},
		{"bad dimension", "embedder:\n  dimension: 1536\n", "dimension must be 768"},
		{"gemini without key", "llm:\n  provider: gemini\n", "api_key is required"},
		{"duplicate experts", "experts:\n  - name: A\n  - name: A\n", "duplicate expert name"},
		{"bad expert mode", "experts:\n  - name: A\n    mode: swarm\n", "invalid mode"},
		{"postgres without host", "database:\n  driver: postgres\n  database: app\n", "host is required"},
		{"unknown vector type", "vector:\n  type: faiss\n", "unknown provider type"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLLMConfig_GroqDetection(t *testing.T) {
	clearProviderEnv(t)
	t.Setenv("GROQ_API_KEY", "gsk-test")

	var cfg LLMConfig
	cfg.SetDefaults()

	assert.Equal(t, LLMProviderOpenAI, cfg.Provider)
	assert.Equal(t, groqBaseURL, cfg.BaseURL)
	assert.Equal(t, "llama-3.3-70b-versatile", cfg.Model)
	assert.Equal(t, "gsk-test", cfg.APIKey)
	require.NoError(t, cfg.Validate())
}

func TestExpandEnvString(t *testing.T) {
	t.Setenv("CONCLAVE_HOST", "db.internal")
	t.Setenv("CONCLAVE_EMPTY", "")

	assert.Equal(t, "db.internal:5432", expandEnvString("${CONCLAVE_HOST}:5432"))
	assert.Equal(t, "db.internal", expandEnvString("$CONCLAVE_HOST"))
	assert.Equal(t, "fallback", expandEnvString("${CONCLAVE_EMPTY:-fallback}"))
	assert.Equal(t, "plain", expandEnvString("plain"))
}

func TestDatabaseConfig_DSN(t *testing.T) {
	clearProviderEnv(t)

	mysql := DatabaseConfig{Driver: "mysql", Host: "h", Database: "d", Username: "u", Password: "p"}
	mysql.SetDefaults()
	assert.Equal(t, "u:p@tcp(h:3306)/d?parseTime=true", mysql.DSN())

	pg := DatabaseConfig{Driver: "postgres", Host: "h", Database: "d"}
	pg.SetDefaults()
	assert.Equal(t, "host=h port=5432 dbname=d sslmode=disable", pg.DSN())
	assert.Equal(t, "postgres", pg.Dialect())

	lite := DatabaseConfig{Driver: "sqlite3", Database: "x.db"}
	assert.Equal(t, "sqlite", lite.Dialect())
	assert.Equal(t, "sqlite3", lite.DriverName())
	assert.Equal(t, "x.db?_foreign_keys=on", lite.DSN())
}

func TestParse_ExampleConfig(t *testing.T) {
	clearProviderEnv(t)
	t.Setenv("GEMINI_API_KEY", "test-key")

	data, err := os.ReadFile(filepath.Join("..", "..", "conclave.example.yaml"))
	require.NoError(t, err)

	cfg, err := Parse(data)
	require.NoError(t, err)
	assert.Equal(t, "localhost", cfg.Database.Host)
	assert.Equal(t, "test-key", cfg.LLM.APIKey)
	assert.Equal(t, 30*time.Minute, cfg.Session.TTL)
	assert.Equal(t, []string{"reset"}, cfg.Risk.ExtraKeywords)
	assert.True(t, cfg.Crawler.LLMClean)
	require.Len(t, cfg.Experts, 1)
	assert.Equal(t, "react", cfg.Experts[0].Mode)
}

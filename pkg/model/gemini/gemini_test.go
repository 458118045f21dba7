package gemini

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"github.com/kadirpekel/conclave/pkg/config"
	"github.com/kadirpekel/conclave/pkg/model"
	"github.com/kadirpekel/conclave/pkg/resilience"
)

func TestGenerate(t *testing.T) {
	var body map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "models/gemini-2.0-flash:generateContent"), r.URL.Path)
		_ = json.NewDecoder(r.Body).Decode(&body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"candidates": [{"content": {"role": "model", "parts": [{"text": "[]"}]}}],
			"usageMetadata": {"promptTokenCount": 9, "candidatesTokenCount": 1}
		}`))
	}))
	defer server.Close()

	m, err := New(context.Background(), config.LLMConfig{
		APIKey:    "test",
		BaseURL:   server.URL,
		Model:     "gemini-2.0-flash",
		MaxTokens: 128,
	})
	require.NoError(t, err)

	resp, err := m.Generate(context.Background(), &model.Request{
		SystemInstruction: "decompose",
		Prompt:            "hello",
		JSON:              true,
	})
	require.NoError(t, err)
	assert.Equal(t, "[]", resp.Text)
	assert.Equal(t, 9, resp.InputTokens)
	assert.Equal(t, 1, resp.OutputTokens)

	genCfg, _ := body["generationConfig"].(map[string]any)
	assert.Equal(t, "application/json", genCfg["responseMimeType"])
	assert.NotNil(t, body["systemInstruction"])
}

func TestClassify(t *testing.T) {
	assert.False(t, resilience.IsRetryable(classify(genai.APIError{Code: http.StatusForbidden})))
	assert.True(t, resilience.IsRetryable(classify(genai.APIError{Code: http.StatusServiceUnavailable})))
}

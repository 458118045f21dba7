package ollama

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/conclave/pkg/config"
	"github.com/kadirpekel/conclave/pkg/model"
)

func TestGenerate(t *testing.T) {
	var got generateRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/generate", r.URL.Path)
		_ = json.NewDecoder(r.Body).Decode(&got)
		_ = json.NewEncoder(w).Encode(generateResponse{Response: "hello", PromptEvalCount: 5, EvalCount: 2})
	}))
	defer server.Close()

	temp := 0.1
	m := New(config.LLMConfig{BaseURL: server.URL, Model: "llama3.2", Temperature: &temp, MaxTokens: 64})
	resp, err := m.Generate(context.Background(), &model.Request{SystemInstruction: "sys", Prompt: "hi", JSON: true})
	require.NoError(t, err)

	assert.Equal(t, "hello", resp.Text)
	assert.Equal(t, 5, resp.InputTokens)
	assert.Equal(t, "json", got.Format)
	assert.Equal(t, "sys", got.System)
	assert.False(t, got.Stream)
	assert.Equal(t, 0.1, got.Options["temperature"])
	assert.EqualValues(t, 64, got.Options["num_predict"])
}

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

// Package ollama implements model.LLM on a local Ollama server.
package ollama

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/kadirpekel/conclave/pkg/config"
	"github.com/kadirpekel/conclave/pkg/httpclient"
	"github.com/kadirpekel/conclave/pkg/model"
	"github.com/kadirpekel/conclave/pkg/resilience"
)

const defaultBaseURL = "http://localhost:11434"

type Model struct {
	baseURL     string
	name        string
	temperature *float64
	maxTokens   int
	client      *httpclient.Client
}

type generateRequest struct {
	Model   string         `json:"model"`
	System  string         `json:"system,omitempty"`
	Prompt  string         `json:"prompt"`
	Stream  bool           `json:"stream"`
	Format  string         `json:"format,omitempty"`
	Options map[string]any `json:"options,omitempty"`
}

type generateResponse struct {
	Response        string `json:"response"`
	PromptEvalCount int    `json:"prompt_eval_count"`
	EvalCount       int    `json:"eval_count"`
}

func New(cfg config.LLMConfig) *Model {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Model{
		baseURL:     strings.TrimRight(baseURL, "/"),
		name:        cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		client:      httpclient.New(httpclient.WithMaxRetries(1)),
	}
}

func (m *Model) Name() string             { return m.name }
func (m *Model) Provider() model.Provider { return model.ProviderOllama }
func (m *Model) Close() error             { return nil }

func (m *Model) Generate(ctx context.Context, req *model.Request) (*model.Response, error) {
	options := map[string]any{"num_predict": req.MaxTokens(m.maxTokens)}
	if t := req.Temperature(m.temperature); t != nil {
		options["temperature"] = *t
	}

	body := generateRequest{
		Model:   m.name,
		System:  req.SystemInstruction,
		Prompt:  req.Prompt,
		Options: options,
	}
	if req.JSON {
		body.Format = "json"
	}

	var resp generateResponse
	if err := m.client.DoJSON(ctx, http.MethodPost, m.baseURL+"/api/generate", nil, body, &resp); err != nil {
		var statusErr *httpclient.StatusError
		if errors.As(err, &statusErr) && !statusErr.IsRetryable() {
			return nil, resilience.Permanent(fmt.Errorf("ollama rejected request: %w", err))
		}
		return nil, fmt.Errorf("ollama request failed: %w", err)
	}

	return &model.Response{
		Text:         resp.Response,
		InputTokens:  resp.PromptEvalCount,
		OutputTokens: resp.EvalCount,
	}, nil
}

var _ model.LLM = (*Model)(nil)

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

package config

import (
	"fmt"
	"os"
	"time"
)

// LLMProvider identifies the chat model backend.
type LLMProvider string

const (
	LLMProviderGemini LLMProvider = "gemini"
	// LLMProviderOpenAI covers any OpenAI-compatible chat completions API,
	// Groq included.
	LLMProviderOpenAI LLMProvider = "openai"
	LLMProviderOllama LLMProvider = "ollama"
)

const groqBaseURL = "https://api.groq.com/openai/v1"

// LLMConfig configures the chat model used by experts and the orchestrator.
type LLMConfig struct {
	Provider    LLMProvider   `yaml:"provider,omitempty" json:"provider,omitempty" jsonschema:"enum=gemini,enum=openai,enum=ollama"`
	Model       string        `yaml:"model,omitempty" json:"model,omitempty"`
	APIKey      string        `yaml:"api_key,omitempty" json:"api_key,omitempty"`
	BaseURL     string        `yaml:"base_url,omitempty" json:"base_url,omitempty"`
	Temperature *float64      `yaml:"temperature,omitempty" json:"temperature,omitempty" jsonschema:"minimum=0,maximum=2"`
	MaxTokens   int           `yaml:"max_tokens,omitempty" json:"max_tokens,omitempty"`
	Timeout     time.Duration `yaml:"timeout,omitempty" json:"timeout,omitempty"`
}

// SetDefaults detects the provider from the environment when unset.
// GROQ_API_KEY selects the OpenAI-compatible provider pointed at Groq.
func (c *LLMConfig) SetDefaults() {
	if c.Provider == "" {
		c.Provider = detectLLMProviderFromEnv()
	}

	if c.APIKey == "" {
		c.APIKey = llmAPIKeyFromEnv(c.Provider)
	}

	if c.Provider == LLMProviderOpenAI && c.BaseURL == "" && os.Getenv("GROQ_API_KEY") != "" && os.Getenv("OPENAI_API_KEY") == "" {
		c.BaseURL = groqBaseURL
	}

	if c.Model == "" {
		switch c.Provider {
		case LLMProviderGemini:
			c.Model = "gemini-2.0-flash"
		case LLMProviderOpenAI:
			if c.BaseURL == groqBaseURL {
				c.Model = envOr("GROQ_MODEL", "llama-3.3-70b-versatile")
			} else {
				c.Model = "gpt-4o-mini"
			}
		case LLMProviderOllama:
			c.Model = "llama3.2"
		}
	}

	if c.Temperature == nil {
		temp := 0.2
		c.Temperature = &temp
	}
	if c.MaxTokens == 0 {
		c.MaxTokens = 2048
	}
	if c.Timeout == 0 {
		c.Timeout = 60 * time.Second
	}
}

func (c *LLMConfig) Validate() error {
	switch c.Provider {
	case LLMProviderGemini, LLMProviderOpenAI, LLMProviderOllama:
	default:
		return fmt.Errorf("invalid provider %q (valid: gemini, openai, ollama)", c.Provider)
	}

	if c.Provider != LLMProviderOllama && c.APIKey == "" {
		return fmt.Errorf("api_key is required for provider %q", c.Provider)
	}

	if c.Temperature != nil && (*c.Temperature < 0 || *c.Temperature > 2) {
		return fmt.Errorf("temperature must be between 0 and 2")
	}

	return nil
}

func detectLLMProviderFromEnv() LLMProvider {
	if os.Getenv("GEMINI_API_KEY") != "" || os.Getenv("GOOGLE_API_KEY") != "" {
		return LLMProviderGemini
	}
	if os.Getenv("GROQ_API_KEY") != "" || os.Getenv("OPENAI_API_KEY") != "" {
		return LLMProviderOpenAI
	}
	return LLMProviderOllama
}

func llmAPIKeyFromEnv(provider LLMProvider) string {
	switch provider {
	case LLMProviderGemini:
		return envOr("GEMINI_API_KEY", os.Getenv("GOOGLE_API_KEY"))
	case LLMProviderOpenAI:
		return envOr("OPENAI_API_KEY", os.Getenv("GROQ_API_KEY"))
	default:
		return ""
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

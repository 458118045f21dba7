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

// Package model defines the LLM interface used by experts, the
// orchestrator and the crawler's text cleaner.
//
// Calls are single-shot: one system instruction plus one prompt in, one
// text out. Multi-turn state lives in the prompt the caller builds.
package model

import (
	"context"
	"fmt"
)

// LLM is a text generation backend.
type LLM interface {
	// Name returns the model identifier.
	Name() string

	Provider() Provider

	// Generate produces one completion for req.
	Generate(ctx context.Context, req *Request) (*Response, error)

	Close() error
}

// Provider identifies the LLM provider.
type Provider string

const (
	ProviderGemini Provider = "gemini"
	// ProviderOpenAI covers every OpenAI-compatible endpoint, Groq included.
	ProviderOpenAI Provider = "openai"
	ProviderOllama Provider = "ollama"
)

// Request contains the input for an LLM call.
type Request struct {
	SystemInstruction string
	Prompt            string

	// JSON asks the provider for a JSON object response where supported.
	// Callers still validate the output.
	JSON bool

	Config *GenerateConfig
}

// GenerateConfig overrides provider defaults for one call.
type GenerateConfig struct {
	Temperature *float64
	MaxTokens   int
}

// Response is a completed generation.
type Response struct {
	Text         string
	InputTokens  int
	OutputTokens int
}

// Temperature returns the request override, or fallback.
func (r *Request) Temperature(fallback *float64) *float64 {
	if r.Config != nil && r.Config.Temperature != nil {
		return r.Config.Temperature
	}
	return fallback
}

// MaxTokens returns the request override, or fallback.
func (r *Request) MaxTokens(fallback int) int {
	if r.Config != nil && r.Config.MaxTokens > 0 {
		return r.Config.MaxTokens
	}
	return fallback
}

// GenerationError is a failed or empty LLM call.
type GenerationError struct {
	Model   string
	Message string
	Err     error
}

func (e *GenerationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[llm:%s] %s: %v", e.Model, e.Message, e.Err)
	}
	return fmt.Sprintf("[llm:%s] %s", e.Model, e.Message)
}

func (e *GenerationError) Unwrap() error {
	return e.Err
}

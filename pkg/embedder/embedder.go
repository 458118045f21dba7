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

// Package embedder turns text into fixed-width vectors for semantic search.
//
// Vectors from different providers or model versions are not comparable;
// re-embed stored rows after switching models.
package embedder

import (
	"context"
	"fmt"

	"github.com/kadirpekel/conclave/pkg/config"
)

// Embedder produces vector embeddings from text.
type Embedder interface {
	// Embed vectorizes stored content such as a document chunk or a row.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedQuery vectorizes a search query. Providers without asymmetric
	// task types treat it like Embed.
	EmbedQuery(ctx context.Context, text string) ([]float32, error)

	Dimension() int
	Model() string
	Close() error
}

// EmbeddingGenerationError reports that no vector could be produced. Callers
// persist the owning entity with an absent embedding.
type EmbeddingGenerationError struct {
	Component string
	Operation string
	Message   string
	Err       error
}

func (e *EmbeddingGenerationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Component, e.Operation, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Component, e.Operation, e.Message)
}

func (e *EmbeddingGenerationError) Unwrap() error {
	return e.Err
}

func NewEmbeddingGenerationError(component, operation, message string, err error) *EmbeddingGenerationError {
	return &EmbeddingGenerationError{
		Component: component,
		Operation: operation,
		Message:   message,
		Err:       err,
	}
}

// New builds the configured provider wrapped with timeout, retry, circuit
// breaking and the dimension check.
func New(ctx context.Context, cfg config.EmbedderConfig, res config.ResilienceConfig) (Embedder, error) {
	var (
		base Embedder
		err  error
	)

	switch cfg.Provider {
	case config.EmbedderGemini:
		base, err = NewGeminiEmbedder(ctx, cfg)
	case config.EmbedderOllama:
		base = NewOllamaEmbedder(cfg)
	case config.EmbedderHash:
		base = NewHashEmbedder(cfg.Dimension)
	default:
		return nil, fmt.Errorf("unknown embedder provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}

	if cfg.MaxRetries > 0 {
		res.MaxTries = cfg.MaxRetries
	}
	return NewResilient(base, cfg.Timeout, res), nil
}

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

// Package vector provides approximate nearest-neighbour indexes that mirror
// embedded rows from the relational store.
//
// The relational store stays the source of truth; an index only holds the
// row key, a few display fields and the vector. Providers report cosine
// similarity in Result.Score.
package vector

import (
	"context"
	"fmt"
)

// Provider is a vector index backend.
type Provider interface {
	Name() string

	// Upsert adds or replaces a vector under id in collection.
	Upsert(ctx context.Context, collection, id string, vector []float32, metadata map[string]any) error

	// Search returns up to topK nearest vectors. filter restricts results to
	// exact metadata matches and may be nil.
	Search(ctx context.Context, collection string, vector []float32, topK int, filter map[string]any) ([]Result, error)

	// DeleteByFilter removes every vector whose metadata matches filter.
	DeleteByFilter(ctx context.Context, collection string, filter map[string]any) error

	Close() error
}

// Result is one index hit.
type Result struct {
	ID       string
	Score    float32
	Content  string
	Metadata map[string]any
}

// ProviderType identifies a vector provider implementation.
type ProviderType string

const (
	// ProviderNone disables the index mirror.
	ProviderNone ProviderType = "none"

	// ProviderChromem keeps vectors in process with optional gob persistence.
	ProviderChromem ProviderType = "chromem"

	ProviderQdrant   ProviderType = "qdrant"
	ProviderPinecone ProviderType = "pinecone"
)

// ProviderConfig selects and configures the index.
type ProviderConfig struct {
	Type     ProviderType    `yaml:"type"`
	Chromem  *ChromemConfig  `yaml:"chromem,omitempty"`
	Qdrant   *QdrantConfig   `yaml:"qdrant,omitempty"`
	Pinecone *PineconeConfig `yaml:"pinecone,omitempty"`
}

func (c *ProviderConfig) SetDefaults() {
	if c.Type == "" {
		c.Type = ProviderChromem
	}
	if c.Type == ProviderChromem && c.Chromem == nil {
		c.Chromem = &ChromemConfig{}
	}
}

func (c *ProviderConfig) Validate() error {
	switch c.Type {
	case ProviderNone, ProviderChromem:
		return nil
	case ProviderQdrant:
		if c.Qdrant == nil || c.Qdrant.Host == "" {
			return fmt.Errorf("qdrant host is required")
		}
		return nil
	case ProviderPinecone:
		if c.Pinecone == nil || c.Pinecone.APIKey == "" {
			return fmt.Errorf("pinecone api_key is required")
		}
		return nil
	case "":
		return fmt.Errorf("provider type is required")
	default:
		return fmt.Errorf("unknown provider type: %q", c.Type)
	}
}

// NewProvider creates the configured index. It returns nil, nil for
// ProviderNone.
func NewProvider(cfg *ProviderConfig) (Provider, error) {
	if cfg == nil {
		return nil, nil
	}

	switch cfg.Type {
	case ProviderNone:
		return nil, nil
	case ProviderChromem, "":
		var chromemCfg ChromemConfig
		if cfg.Chromem != nil {
			chromemCfg = *cfg.Chromem
		}
		return NewChromemProvider(chromemCfg)
	case ProviderQdrant:
		if cfg.Qdrant == nil {
			return nil, fmt.Errorf("qdrant configuration is required")
		}
		return NewQdrantProvider(*cfg.Qdrant)
	case ProviderPinecone:
		if cfg.Pinecone == nil {
			return nil, fmt.Errorf("pinecone configuration is required")
		}
		return NewPineconeProvider(*cfg.Pinecone)
	default:
		return nil, fmt.Errorf("unknown provider type: %q", cfg.Type)
	}
}

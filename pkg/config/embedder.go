package config

import (
	"fmt"
	"time"
)

// EmbedderProvider identifies the embedding backend.
type EmbedderProvider string

const (
	EmbedderGemini EmbedderProvider = "gemini"
	EmbedderOllama EmbedderProvider = "ollama"
	// EmbedderHash is a local feature-hashing embedder. It needs no network
	// and is meant for offline runs and tests.
	EmbedderHash EmbedderProvider = "hash"
)

// EmbedderConfig configures text embedding.
type EmbedderConfig struct {
	Provider   EmbedderProvider `yaml:"provider,omitempty"`
	Model      string           `yaml:"model,omitempty"`
	APIKey     string           `yaml:"api_key,omitempty"`
	BaseURL    string           `yaml:"base_url,omitempty"`
	Dimension  int              `yaml:"dimension,omitempty"`
	MaxRetries int              `yaml:"max_retries,omitempty"`
	Timeout    time.Duration    `yaml:"timeout,omitempty"`
}

func (c *EmbedderConfig) SetDefaults() {
	if c.Provider == "" {
		if envOr("GEMINI_API_KEY", envOr("GOOGLE_API_KEY", "")) != "" {
			c.Provider = EmbedderGemini
		} else {
			c.Provider = EmbedderHash
		}
	}
	if c.Provider == EmbedderGemini && c.APIKey == "" {
		c.APIKey = llmAPIKeyFromEnv(LLMProviderGemini)
	}
	if c.Model == "" {
		switch c.Provider {
		case EmbedderGemini:
			c.Model = "text-embedding-004"
		case EmbedderOllama:
			c.Model = "nomic-embed-text"
		}
	}
	if c.Provider == EmbedderOllama && c.BaseURL == "" {
		c.BaseURL = "http://localhost:11434"
	}
	if c.Dimension == 0 {
		c.Dimension = EmbeddingDimension
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.Timeout == 0 {
		c.Timeout = 30 * time.Second
	}
}

func (c *EmbedderConfig) Validate() error {
	switch c.Provider {
	case EmbedderGemini:
		if c.APIKey == "" {
			return fmt.Errorf("api_key is required for the gemini embedder")
		}
	case EmbedderOllama, EmbedderHash:
	default:
		return fmt.Errorf("invalid provider %q (valid: gemini, ollama, hash)", c.Provider)
	}
	if c.Dimension != EmbeddingDimension {
		return fmt.Errorf("dimension must be %d, got %d", EmbeddingDimension, c.Dimension)
	}
	if c.MaxRetries < 1 {
		return fmt.Errorf("max_retries must be positive")
	}
	return nil
}

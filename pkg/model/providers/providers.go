// Package providers builds the configured model.LLM.
package providers

import (
	"context"
	"fmt"

	"github.com/kadirpekel/conclave/pkg/config"
	"github.com/kadirpekel/conclave/pkg/model"
	"github.com/kadirpekel/conclave/pkg/model/gemini"
	"github.com/kadirpekel/conclave/pkg/model/ollama"
	"github.com/kadirpekel/conclave/pkg/model/openai"
)

// New returns the provider for cfg wrapped in model.Resilient.
func New(ctx context.Context, cfg config.LLMConfig, res config.ResilienceConfig) (model.LLM, error) {
	var llm model.LLM

	switch cfg.Provider {
	case config.LLMProviderGemini:
		m, err := gemini.New(ctx, cfg)
		if err != nil {
			return nil, err
		}
		llm = m
	case config.LLMProviderOpenAI:
		llm = openai.New(cfg)
	case config.LLMProviderOllama:
		llm = ollama.New(cfg)
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}

	return model.NewResilient(llm, cfg.Timeout, res), nil
}

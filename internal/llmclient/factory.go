package llmclient

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/keybridge/api/schemas"
	"github.com/xkilldash9x/keybridge/internal/config"
)

// NewClient creates an LLMClient for the configured provider. When a
// distinct FastModel is configured the result routes by tier.
func NewClient(ctx context.Context, cfg config.AgentConfig, apiKey string, logger *zap.Logger) (schemas.LLMClient, error) {
	powerful, err := newProviderClient(ctx, cfg, cfg.Model, apiKey, logger)
	if err != nil {
		return nil, err
	}
	if cfg.FastModel == "" || cfg.FastModel == cfg.Model {
		return powerful, nil
	}

	fast, err := newProviderClient(ctx, cfg, cfg.FastModel, apiKey, logger)
	if err != nil {
		_ = powerful.Close()
		return nil, err
	}
	return NewLLMRouter(logger, fast, powerful)
}

func newProviderClient(ctx context.Context, cfg config.AgentConfig, model, apiKey string, logger *zap.Logger) (schemas.LLMClient, error) {
	switch cfg.Provider {
	case config.ProviderGemini:
		return NewGeminiClient(ctx, cfg, model, apiKey, logger)
	case config.ProviderAnthropic:
		return NewAnthropicClient(cfg, model, apiKey, logger)
	default:
		return nil, fmt.Errorf("unknown or unsupported LLM provider configured: '%s'. Supported: [%s, %s]",
			cfg.Provider, config.ProviderGemini, config.ProviderAnthropic)
	}
}

package cmd

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/spigell/biz-matcher/internal/ai"
	"github.com/spigell/biz-matcher/internal/ai/gemini"
	"github.com/spigell/biz-matcher/internal/ai/openai"
	"github.com/spigell/biz-matcher/internal/secrets"
)

// models bundles the generators and the embedder of one provider.
type models struct {
	provider string
	refine   ai.Generator
	evaluate ai.Generator
	embedder ai.Embedder
}

func newModels(ctx context.Context, cfg *AIConfig, maxLogLength int, logger *zap.Logger) (*models, error) {
	var (
		m   *models
		err error
	)
	switch cfg.Provider {
	case providerGemini:
		m, err = newGeminiModels(ctx, cfg.Gemini, logger)
	default:
		m, err = newOpenAIModels(cfg.OpenAI, logger)
	}
	if err != nil {
		return nil, err
	}

	m.refine = ai.NewInstrumentedGenerator(m.refine, m.provider, ai.OpRefine, maxLogLength, logger)
	m.evaluate = ai.NewInstrumentedGenerator(m.evaluate, m.provider, ai.OpEvaluate, maxLogLength, logger)
	m.embedder = ai.NewInstrumentedEmbedder(m.embedder, m.provider, logger)
	return m, nil
}

func newOpenAIModels(cfg *ProviderConfig, logger *zap.Logger) (*models, error) {
	apiKey, err := secrets.Load(secrets.Source{
		Name:  "openai api key",
		Value: cfg.APIKey,
		File:  cfg.APIKeyFile,
		Env:   "OPENAI_API_KEY",
	})
	if err != nil {
		return nil, &ConfigurationError{
			Key: "ai.openai.api-key",
			Err: fmt.Errorf("%w (set ai.openai.api-key-file, OPENAI_API_KEY_FILE or OPENAI_API_KEY)", err),
		}
	}

	client, err := openai.NewClient(openai.Config{APIKey: apiKey, BaseURL: cfg.BaseURL})
	if err != nil {
		return nil, &ConfigurationError{Key: "ai.openai", Err: err}
	}

	genLogger := logger.With(zap.String("provider", openai.Provider), zap.Int("ai_retry_attempts", cfg.MaxRetries))

	refine, err := openai.NewGenerator(client, openai.Options{
		Model:      firstNonEmpty(cfg.RefineModel, cfg.ChatModel),
		MaxRetries: cfg.MaxRetries,
		MaxTokens:  cfg.RefineMaxTokens,
	}, genLogger)
	if err != nil {
		return nil, err
	}

	evaluate, err := openai.NewGenerator(client, openai.Options{
		Model:      cfg.ChatModel,
		MaxRetries: cfg.MaxRetries,
		MaxTokens:  cfg.MaxTokens,
	}, genLogger)
	if err != nil {
		return nil, err
	}

	embedder, err := openai.NewEmbedder(client, cfg.EmbeddingModel, cfg.MaxRetries, genLogger)
	if err != nil {
		return nil, err
	}

	return &models{provider: openai.Provider, refine: refine, evaluate: evaluate, embedder: embedder}, nil
}

func newGeminiModels(ctx context.Context, cfg *ProviderConfig, logger *zap.Logger) (*models, error) {
	apiKey, err := secrets.Load(secrets.Source{
		Name:  "gemini api key",
		Value: cfg.APIKey,
		File:  cfg.APIKeyFile,
		Env:   "GEMINI_API_KEY",
	})
	if err != nil {
		return nil, &ConfigurationError{
			Key: "ai.gemini.api-key",
			Err: fmt.Errorf("%w (set ai.gemini.api-key-file or GEMINI_API_KEY_FILE)", err),
		}
	}

	client, err := gemini.NewClient(ctx, apiKey)
	if err != nil {
		return nil, &ConfigurationError{Key: "ai.gemini", Err: err}
	}

	genLogger := logger.With(zap.String("provider", gemini.Provider), zap.Int("ai_retry_attempts", cfg.MaxRetries))

	refine, err := gemini.NewGenerator(client, gemini.Options{
		Model:      firstNonEmpty(cfg.RefineModel, cfg.ChatModel),
		MaxRetries: cfg.MaxRetries,
		MaxTokens:  cfg.RefineMaxTokens,
	}, genLogger)
	if err != nil {
		return nil, err
	}

	evaluate, err := gemini.NewGenerator(client, gemini.Options{
		Model:      cfg.ChatModel,
		MaxRetries: cfg.MaxRetries,
		MaxTokens:  cfg.MaxTokens,
	}, genLogger)
	if err != nil {
		return nil, err
	}

	embedder, err := gemini.NewEmbedder(client, cfg.EmbeddingModel, cfg.MaxRetries, genLogger)
	if err != nil {
		return nil, err
	}

	return &models{provider: gemini.Provider, refine: refine, evaluate: evaluate, embedder: embedder}, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

package openai

import (
	"context"
	"errors"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/spigell/biz-matcher/internal/ai"
)

// Embedder embeds queries with an OpenAI embedding model. It must match the model the index was built with.
type Embedder struct {
	gen   *Generator
	model openai.EmbeddingModel
}

// NewEmbedder creates an Embedder. maxRetries follows Options.MaxRetries semantics.
func NewEmbedder(client *openai.Client, model string, maxRetries int, logger *zap.Logger) (*Embedder, error) {
	if client == nil {
		return nil, errors.New("openai client is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if model = strings.TrimSpace(model); model == "" {
		model = defaultEmbeddingModel
	}

	return &Embedder{
		gen:   &Generator{client: client, model: model, maxRetries: maxRetries, logger: logger},
		model: openai.EmbeddingModel(model),
	}, nil
}

func (e *Embedder) Model() string { return string(e.model) }

func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	req := openai.EmbeddingRequest{
		Input:          []string{text},
		Model:          e.model,
		EncodingFormat: openai.EmbeddingEncodingFormatFloat,
	}

	var resp openai.EmbeddingResponse
	err := e.gen.withRetry(ctx, "embeddings", func() error {
		var err error
		resp, err = e.gen.client.CreateEmbeddings(ctx, req)
		return err
	})
	if err != nil {
		return nil, err
	}

	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		return nil, &ai.UpstreamError{Provider: Provider, Op: "embeddings", Err: errors.New("empty embedding response")}
	}

	return resp.Data[0].Embedding, nil
}

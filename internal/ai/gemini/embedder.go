package gemini

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/spigell/biz-matcher/internal/ai"
)

type contentEmbedder interface {
	EmbedContent(ctx context.Context, model string, contents []*genai.Content, config *genai.EmbedContentConfig) (*genai.EmbedContentResponse, error)
}

// Embedder produces query embeddings through the Gemini embedding endpoint.
type Embedder struct {
	models     contentEmbedder
	model      string
	maxRetries int
	logger     *zap.Logger
}

// NewEmbedder creates an Embedder backed by the provided client. maxRetries follows Options.MaxRetries semantics.
func NewEmbedder(client *genai.Client, model string, maxRetries int, logger *zap.Logger) (*Embedder, error) {
	if client == nil {
		return nil, errors.New("gemini client is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if model = strings.TrimSpace(model); model == "" {
		model = defaultEmbeddingModel
	}
	return &Embedder{models: client.Models, model: model, maxRetries: maxRetries, logger: logger}, nil
}

func (e *Embedder) Model() string { return e.model }

func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	logger := e.logger
	if logger == nil {
		logger = zap.NewNop()
	}

	var resp *genai.EmbedContentResponse
	err := withRetry(ctx, logger, "embed content", e.maxRetries, func() error {
		var err error
		resp, err = e.models.EmbedContent(ctx, e.model, genai.Text(text), &genai.EmbedContentConfig{
			TaskType: "RETRIEVAL_QUERY",
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	if resp == nil || len(resp.Embeddings) == 0 || resp.Embeddings[0] == nil || len(resp.Embeddings[0].Values) == 0 {
		return nil, &ai.UpstreamError{Provider: Provider, Op: "embed content", Err: errors.New("empty embedding response")}
	}

	return resp.Embeddings[0].Values, nil
}

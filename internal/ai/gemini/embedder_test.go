package gemini

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"google.golang.org/genai"

	"github.com/spigell/biz-matcher/internal/ai"
)

type fakeModels struct {
	model  string
	config *genai.EmbedContentConfig
	resp   *genai.EmbedContentResponse
	err    error
	// failures are returned, in order, before resp and err.
	failures []error
	calls    int
}

func (f *fakeModels) EmbedContent(_ context.Context, model string, _ []*genai.Content, config *genai.EmbedContentConfig) (*genai.EmbedContentResponse, error) {
	f.calls++
	f.model = model
	f.config = config
	if len(f.failures) > 0 {
		err := f.failures[0]
		f.failures = f.failures[1:]
		return nil, err
	}
	return f.resp, f.err
}

func TestEmbedderEmbed(t *testing.T) {
	models := &fakeModels{resp: &genai.EmbedContentResponse{
		Embeddings: []*genai.ContentEmbedding{{Values: []float32{0.5, 0.25}}},
	}}
	emb := &Embedder{models: models, model: "text-embedding-004"}

	vec, err := emb.Embed(context.Background(), "AI-driven financial analytics")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(vec) != 2 || vec[0] != 0.5 {
		t.Fatalf("unexpected vector: %v", vec)
	}
	if models.model != "text-embedding-004" {
		t.Fatalf("unexpected model: %s", models.model)
	}
	if models.config == nil || models.config.TaskType != "RETRIEVAL_QUERY" {
		t.Fatalf("expected retrieval query task type, got %+v", models.config)
	}
}

func TestEmbedderErrors(t *testing.T) {
	failing := &Embedder{models: &fakeModels{err: genai.APIError{Code: http.StatusUnauthorized}}, model: "m"}
	_, err := failing.Embed(context.Background(), "q")

	var upstream *ai.UpstreamError
	if !errors.As(err, &upstream) {
		t.Fatalf("expected upstream error, got %v", err)
	}
	if upstream.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", upstream.StatusCode)
	}

	empty := &Embedder{models: &fakeModels{resp: &genai.EmbedContentResponse{}}, model: "m"}
	if _, err := empty.Embed(context.Background(), "q"); !ai.IsUpstream(err) {
		t.Fatalf("expected upstream error for empty response, got %v", err)
	}
}

func TestEmbedderRetriesTemporaryErrors(t *testing.T) {
	originalWait := wait
	var waited []time.Duration
	wait = func(_ context.Context, d time.Duration) error {
		waited = append(waited, d)
		return nil
	}
	defer func() { wait = originalWait }()

	models := &fakeModels{
		failures: []error{genai.APIError{Code: http.StatusTooManyRequests, Status: "RESOURCE_EXHAUSTED"}},
		resp: &genai.EmbedContentResponse{
			Embeddings: []*genai.ContentEmbedding{{Values: []float32{1}}},
		},
	}
	emb := &Embedder{models: models, model: "m", maxRetries: 3}

	vec, err := emb.Embed(context.Background(), "q")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(vec) != 1 || models.calls != 2 || len(waited) != 1 {
		t.Fatalf("expected one retry, got vec=%v calls=%d waits=%v", vec, models.calls, waited)
	}

	exhausted := &fakeModels{failures: []error{
		genai.APIError{Code: http.StatusInternalServerError},
		genai.APIError{Code: http.StatusInternalServerError},
	}}
	emb = &Embedder{models: exhausted, model: "m", maxRetries: 2}

	_, err = emb.Embed(context.Background(), "q")
	var upstream *ai.UpstreamError
	if !errors.As(err, &upstream) || upstream.StatusCode != http.StatusInternalServerError {
		t.Fatalf("expected upstream 500 after retries, got %v", err)
	}
	if exhausted.calls != 2 {
		t.Fatalf("expected 2 attempts, got %d", exhausted.calls)
	}
}

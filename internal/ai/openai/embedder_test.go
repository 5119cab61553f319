package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"
)

func TestEmbedderEmbed(t *testing.T) {
	expected := []float32{0.1, 0.2, 0.3}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/embeddings" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		var body struct {
			Model string   `json:"model"`
			Input []string `json:"input"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if body.Model != "text-embedding-ada-002" {
			t.Errorf("unexpected model: %s", body.Model)
		}
		if len(body.Input) != 1 || body.Input[0] != "solar panel technology" {
			t.Errorf("unexpected input: %v", body.Input)
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"object": "list",
			"model":  body.Model,
			"data":   []map[string]any{{"object": "embedding", "index": 0, "embedding": expected}},
			"usage":  map[string]any{"prompt_tokens": 3, "total_tokens": 3},
		})
	}))
	defer server.Close()

	client, err := NewClient(Config{APIKey: "test-key", BaseURL: server.URL})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	emb, err := NewEmbedder(client, "", 1, zap.NewNop())
	if err != nil {
		t.Fatalf("new embedder: %v", err)
	}

	vec, err := emb.Embed(context.Background(), "solar panel technology")
	if err != nil {
		t.Fatalf("Embed failed: %v", err)
	}
	if len(vec) != len(expected) {
		t.Fatalf("expected %d dimensions, got %d", len(expected), len(vec))
	}
	for i, v := range vec {
		if v != expected[i] {
			t.Errorf("vec[%d] = %f, expected %f", i, v, expected[i])
		}
	}
	if emb.Model() != "text-embedding-ada-002" {
		t.Fatalf("unexpected model: %s", emb.Model())
	}
}

func TestEmbedderEmptyResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"object": "list", "data": []any{}})
	}))
	defer server.Close()

	client, _ := NewClient(Config{APIKey: "test-key", BaseURL: server.URL})
	emb, _ := NewEmbedder(client, "text-embedding-3-small", 1, zap.NewNop())

	if _, err := emb.Embed(context.Background(), "q"); err == nil {
		t.Fatal("expected error for empty response")
	}
}

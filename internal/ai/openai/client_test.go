package openai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	goopenai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/spigell/biz-matcher/internal/ai"
)

func init() {
	RetryBaseDelay = time.Millisecond
}

type chatRequest struct {
	Model       string  `json:"model"`
	Temperature float32 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens"`
	Messages    []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
}

func chatReply(content string) map[string]any {
	return map[string]any{
		"id":     "chatcmpl-1",
		"object": "chat.completion",
		"model":  "gpt-4o",
		"choices": []map[string]any{{
			"index":         0,
			"finish_reason": "stop",
			"message":       map[string]any{"role": "assistant", "content": content},
		}},
	}
}

func newTestGenerator(t *testing.T, url string, opts Options) *Generator {
	t.Helper()

	client, err := NewClient(Config{APIKey: "test-key", BaseURL: url})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	gen, err := NewGenerator(client, opts, zap.NewNop())
	if err != nil {
		t.Fatalf("new generator: %v", err)
	}
	return gen
}

func TestGeneratorGenerateContent(t *testing.T) {
	var got chatRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Errorf("unexpected auth header: %s", r.Header.Get("Authorization"))
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(chatReply("  A company focusing on 3D printer development.  "))
	}))
	defer server.Close()

	gen := newTestGenerator(t, server.URL, Options{Model: "gpt-4o", MaxTokens: 1000})

	out, err := gen.GenerateContent(context.Background(), "You are a helpful assistant.", "Refine the following input: 3D printers")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "A company focusing on 3D printer development." {
		t.Fatalf("unexpected output: %q", out)
	}

	if got.Model != "gpt-4o" || got.MaxTokens != 1000 {
		t.Fatalf("unexpected request: %+v", got)
	}
	if got.Temperature > 1e-6 {
		t.Fatalf("expected near-zero temperature, got %v", got.Temperature)
	}
	if len(got.Messages) != 2 || got.Messages[0].Role != "system" || got.Messages[1].Role != "user" {
		t.Fatalf("unexpected messages: %+v", got.Messages)
	}
}

func TestGeneratorRetriesServerErrors(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			json.NewEncoder(w).Encode(map[string]any{"error": map[string]any{"message": "overloaded", "type": "server_error"}})
			return
		}
		json.NewEncoder(w).Encode(chatReply("ok"))
	}))
	defer server.Close()

	gen := newTestGenerator(t, server.URL, Options{MaxRetries: 3})

	out, err := gen.GenerateContent(context.Background(), "", "question")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "ok" {
		t.Fatalf("unexpected output: %q", out)
	}
	if n := atomic.LoadInt32(&calls); n != 2 {
		t.Fatalf("expected 2 calls, got %d", n)
	}
}

func TestGeneratorSingleAttemptByDefault(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(map[string]any{"error": map[string]any{"message": "slow down", "type": "requests"}})
	}))
	defer server.Close()

	gen := newTestGenerator(t, server.URL, Options{})

	_, err := gen.GenerateContent(context.Background(), "", "question")
	if !ai.IsUpstream(err) {
		t.Fatalf("expected upstream error, got %v", err)
	}
	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Fatalf("expected a single call, got %d", n)
	}
}

func TestGeneratorDoesNotRetryAuthErrors(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		json.NewEncoder(w).Encode(map[string]any{"error": map[string]any{"message": "invalid api key", "type": "invalid_request_error"}})
	}))
	defer server.Close()

	gen := newTestGenerator(t, server.URL, Options{MaxRetries: 5})

	_, err := gen.GenerateContent(context.Background(), "", "question")

	var upstream *ai.UpstreamError
	if !errors.As(err, &upstream) {
		t.Fatalf("expected upstream error, got %v", err)
	}
	if upstream.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", upstream.StatusCode)
	}
	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Fatalf("expected a single call, got %d", n)
	}
}

func TestRetryableClassification(t *testing.T) {
	quota := &goopenai.APIError{HTTPStatusCode: http.StatusTooManyRequests, Code: "insufficient_quota"}
	if retryable(quota) {
		t.Fatal("insufficient quota must not be retried")
	}
	limited := &goopenai.APIError{HTTPStatusCode: http.StatusTooManyRequests, Type: "requests"}
	if !retryable(limited) {
		t.Fatal("rate limit should be retried")
	}
	if retryable(context.DeadlineExceeded) {
		t.Fatal("deadline must not be retried")
	}
}

func TestNewClientRequiresKey(t *testing.T) {
	if _, err := NewClient(Config{APIKey: "  "}); err == nil {
		t.Fatal("expected error for empty key")
	}
}

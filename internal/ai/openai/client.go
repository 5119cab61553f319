package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/spigell/biz-matcher/internal/ai"
	"github.com/spigell/biz-matcher/internal/metrics"
	"github.com/spigell/biz-matcher/internal/utils"
)

const (
	Provider = "openai"

	defaultChatModel      = "gpt-4o"
	defaultEmbeddingModel = string(openai.AdaEmbeddingV2)

	retryBaseDelay = 2 * time.Second
	maxRetryDelay  = 30 * time.Second
)

// RetryBaseDelay is the first backoff step; tests shrink it.
var RetryBaseDelay = retryBaseDelay

// Config holds the OpenAI-compatible endpoint settings.
type Config struct {
	APIKey  string
	BaseURL string
}

// NewClient creates an OpenAI-compatible API client.
func NewClient(cfg Config) (*openai.Client, error) {
	key := strings.TrimSpace(cfg.APIKey)
	if key == "" {
		return nil, errors.New("openai api key is required")
	}

	clientCfg := openai.DefaultConfig(key)
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		clientCfg.BaseURL = base
	}

	return openai.NewClientWithConfig(clientCfg), nil
}

// Options tune a Generator.
type Options struct {
	Model string
	// MaxRetries is the total number of attempts for transient failures. Values below 1 mean one attempt.
	MaxRetries int
	MaxTokens  int
}

// Generator sends chat completions with deterministic sampling.
type Generator struct {
	client     *openai.Client
	model      string
	maxRetries int
	maxTokens  int
	logger     *zap.Logger
}

// NewGenerator creates a chat completion Generator.
func NewGenerator(client *openai.Client, opts Options, logger *zap.Logger) (*Generator, error) {
	if client == nil {
		return nil, errors.New("openai client is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = defaultChatModel
	}

	return &Generator{
		client:     client,
		model:      model,
		maxRetries: opts.MaxRetries,
		maxTokens:  opts.MaxTokens,
		logger:     logger,
	}, nil
}

func (g *Generator) Model() string { return g.model }

// GenerateContent sends the system and user messages and returns the first choice's content.
func (g *Generator) GenerateContent(ctx context.Context, system, message string) (string, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return "", errors.New("prompt must not be empty")
	}

	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if system = strings.TrimSpace(system); system != "" {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: system})
	}
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: message})

	req := openai.ChatCompletionRequest{
		Model:    g.model,
		Messages: messages,
		// The field is omitempty, so a literal zero would fall back to the server default of 1.
		Temperature: math.SmallestNonzeroFloat32,
		N:           1,
	}
	if g.maxTokens > 0 {
		req.MaxTokens = g.maxTokens
	}

	var resp openai.ChatCompletionResponse
	err := g.withRetry(ctx, "chat completion", func() error {
		var err error
		resp, err = g.client.CreateChatCompletion(ctx, req)
		return err
	})
	if err != nil {
		return "", err
	}

	if len(resp.Choices) == 0 {
		return "", &ai.UpstreamError{Provider: Provider, Op: "chat completion", Err: errors.New("no choices returned")}
	}

	output := strings.TrimSpace(resp.Choices[0].Message.Content)
	if output == "" {
		return "", &ai.UpstreamError{Provider: Provider, Op: "chat completion", Err: errors.New("empty completion")}
	}

	return output, nil
}

func (g *Generator) withRetry(ctx context.Context, op string, call func() error) error {
	attempts := g.maxRetries
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		err := call()
		if err == nil {
			return nil
		}
		lastErr = err

		if !retryable(err) || attempt == attempts-1 {
			break
		}

		delay := utils.Backoff(attempt, RetryBaseDelay, maxRetryDelay)
		g.logger.Warn("openai request failed, retrying",
			zap.String("op", op),
			zap.Int("attempt", attempt+1),
			zap.Int("max_attempts", attempts),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
		metrics.LLMRetriesTotal.WithLabelValues(Provider).Inc()

		if err := utils.WaitFor(ctx, delay); err != nil {
			return &ai.UpstreamError{Provider: Provider, Op: op, Err: err}
		}
	}

	return parseAPIError(op, lastErr)
}

func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	code := statusCode(err)
	switch {
	case code == 0:
		return true
	case code == http.StatusTooManyRequests:
		return !quotaExhausted(err)
	case code >= http.StatusInternalServerError:
		return true
	default:
		return false
	}
}

// quotaExhausted tells a billing quota error apart from a transient rate limit; both use 429.
func quotaExhausted(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		if code, ok := apiErr.Code.(string); ok && code == "insufficient_quota" {
			return true
		}
		return apiErr.Type == "insufficient_quota"
	}
	return false
}

func statusCode(err error) int {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode
	}
	return 0
}

// parseAPIError converts a go-openai error into an UpstreamError with a readable message.
func parseAPIError(op string, err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &ai.UpstreamError{
			Provider:   Provider,
			Op:         op,
			StatusCode: apiErr.HTTPStatusCode,
			Err:        fmt.Errorf("%s: %w", apiErr.Message, err),
		}
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		detail := extractDetail(reqErr.Body)
		if detail == "" {
			detail = strings.TrimSpace(string(reqErr.Body))
		}
		return &ai.UpstreamError{
			Provider:   Provider,
			Op:         op,
			StatusCode: reqErr.HTTPStatusCode,
			Err:        fmt.Errorf("%s: %w", detail, err),
		}
	}

	return &ai.UpstreamError{Provider: Provider, Op: op, Err: err}
}

// extractDetail reads the "detail" field that some OpenAI-compatible gateways return.
func extractDetail(body []byte) string {
	var parsed struct {
		Detail string `json:"detail"`
	}
	if json.Unmarshal(body, &parsed) == nil {
		return parsed.Detail
	}
	return ""
}

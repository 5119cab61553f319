package gemini

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/spigell/biz-matcher/internal/ai"
	"github.com/spigell/biz-matcher/internal/metrics"
	"github.com/spigell/biz-matcher/internal/utils"
)

const (
	Provider = "gemini"

	defaultModel          = "gemini-2.5-pro"
	defaultEmbeddingModel = "text-embedding-004"

	retryBaseDelay = 2 * time.Second
	maxRetryDelay  = 30 * time.Second
)

var (
	wait = utils.WaitFor

	retryAfterPattern = regexp.MustCompile(`(?i)retry (?:after|in) ([0-9.]+)\s*s`)
)

type chatSession interface {
	SendMessage(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error)
}

type chatCreator interface {
	Create(ctx context.Context, model string, config *genai.GenerateContentConfig, history []*genai.Content) (chatSession, error)
}

type genaiChats struct {
	chats *genai.Chats
}

func (c genaiChats) Create(ctx context.Context, model string, config *genai.GenerateContentConfig, history []*genai.Content) (chatSession, error) {
	return c.chats.Create(ctx, model, config, history)
}

// NewClient creates a Google GenAI client for the Gemini API backend.
func NewClient(ctx context.Context, apiKey string) (*genai.Client, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, errors.New("gemini api key is required")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}

	return client, nil
}

// Options tune a Generator.
type Options struct {
	Model string
	// MaxRetries is the total number of attempts for transient failures. Values below 1 mean one attempt.
	MaxRetries int
	MaxTokens  int
}

// Generator sends system+user prompts to Gemini with deterministic sampling.
type Generator struct {
	chats      chatCreator
	model      string
	maxRetries int
	maxTokens  int32
	logger     *zap.Logger
}

// NewGenerator creates a Generator backed by the provided client.
func NewGenerator(client *genai.Client, opts Options, logger *zap.Logger) (*Generator, error) {
	if client == nil {
		return nil, errors.New("gemini client is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = defaultModel
	}

	return &Generator{
		chats:      genaiChats{chats: client.Chats},
		model:      model,
		maxRetries: opts.MaxRetries,
		maxTokens:  int32(opts.MaxTokens),
		logger:     logger,
	}, nil
}

func (g *Generator) Model() string {
	if g == nil {
		return ""
	}
	return g.model
}

// GenerateContent sends message (and system as the system instruction when set) and returns
// the textual reply. Transient failures are retried up to the configured attempt count.
func (g *Generator) GenerateContent(ctx context.Context, system, message string) (string, error) {
	if g == nil || g.chats == nil {
		return "", errors.New("gemini generator is not initialized")
	}

	message = strings.TrimSpace(message)
	if message == "" {
		return "", errors.New("prompt must not be empty")
	}

	var out string
	err := withRetry(ctx, g.logger, "generate content", g.maxRetries, func() error {
		var err error
		out, err = g.send(ctx, system, message)
		return err
	})
	return out, err
}

// withRetry runs call up to maxRetries times, waiting between retryable failures.
// The wait ends early when ctx is done.
func withRetry(ctx context.Context, logger *zap.Logger, op string, maxRetries int, call func() error) error {
	attempts := max(maxRetries, 1)

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		err := call()
		if err == nil {
			return nil
		}
		lastErr = err

		delay, retry := retryDelay(err, attempt)
		if !retry || attempt == attempts-1 {
			break
		}

		logger.Warn("gemini request failed, retrying",
			zap.String("op", op),
			zap.Int("attempt", attempt+1),
			zap.Int("max_attempts", attempts),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
		metrics.LLMRetriesTotal.WithLabelValues(Provider).Inc()

		if err := wait(ctx, delay); err != nil {
			return &ai.UpstreamError{Provider: Provider, Op: op, Err: err}
		}
	}

	return &ai.UpstreamError{Provider: Provider, Op: op, StatusCode: statusCode(lastErr), Err: lastErr}
}

func (g *Generator) send(ctx context.Context, system, message string) (string, error) {
	cfg := &genai.GenerateContentConfig{
		Temperature: genai.Ptr[float32](0),
	}
	if g.maxTokens > 0 {
		cfg.MaxOutputTokens = g.maxTokens
	}
	if system = strings.TrimSpace(system); system != "" {
		cfg.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: system}}}
	}

	chat, err := g.chats.Create(ctx, g.model, cfg, nil)
	if err != nil {
		return "", fmt.Errorf("create chat: %w", err)
	}

	resp, err := chat.SendMessage(ctx, genai.Part{Text: message})
	if err != nil {
		return "", err
	}

	return responseText(resp)
}

func responseText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil {
		return "", errors.New("gemini api returned empty response")
	}

	var builder strings.Builder
	for _, candidate := range resp.Candidates {
		if candidate == nil || candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if part == nil {
				continue
			}
			text := strings.TrimSpace(part.Text)
			if text == "" {
				continue
			}
			if builder.Len() > 0 {
				builder.WriteString("\n")
			}
			builder.WriteString(text)
		}
	}

	output := strings.TrimSpace(builder.String())
	if output == "" {
		return "", errors.New("gemini api returned empty response")
	}

	return output, nil
}

// retryDelay decides whether err is transient and how long to wait before the next attempt.
func retryDelay(err error, attempt int) (time.Duration, bool) {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return 0, false
	}

	backoff := utils.Backoff(attempt, retryBaseDelay, maxRetryDelay)

	var apiErr genai.APIError
	if !errors.As(err, &apiErr) {
		// Transport failures carry no status code.
		return backoff, true
	}

	switch {
	case apiErr.Code == http.StatusTooManyRequests:
		if requested, ok := requestedDelay(apiErr); ok {
			if requested > maxRetryDelay {
				return 0, false
			}
			return max(requested, backoff), true
		}
		return backoff, true
	case apiErr.Code >= http.StatusInternalServerError:
		return backoff, true
	default:
		return 0, false
	}
}

func requestedDelay(apiErr genai.APIError) (time.Duration, bool) {
	for _, detail := range apiErr.Details {
		raw, ok := detail["retryDelay"].(string)
		if !ok {
			continue
		}
		if d, err := time.ParseDuration(raw); err == nil {
			return d, true
		}
	}

	if m := retryAfterPattern.FindStringSubmatch(apiErr.Message); len(m) == 2 {
		if secs, err := strconv.ParseFloat(m[1], 64); err == nil {
			return time.Duration(secs * float64(time.Second)), true
		}
	}

	return 0, false
}

func statusCode(err error) int {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	return 0
}

package ai

import (
	"context"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/spigell/biz-matcher/internal/logger"
	"github.com/spigell/biz-matcher/internal/metrics"
	"github.com/spigell/biz-matcher/internal/utils"
)

const defaultMaxLogLength = 200

// InstrumentedGenerator decorates a Generator with debug logging and request metrics
// for one pipeline operation.
type InstrumentedGenerator struct {
	inner     Generator
	provider  string
	operation string
	maxLogLen int
	logger    *zap.Logger
}

// NewInstrumentedGenerator wraps inner. maxLogLength bounds prompt/response previews.
func NewInstrumentedGenerator(inner Generator, provider, operation string, maxLogLength int, log *zap.Logger) *InstrumentedGenerator {
	if maxLogLength <= 0 {
		maxLogLength = defaultMaxLogLength
	}

	return &InstrumentedGenerator{
		inner:     inner,
		provider:  provider,
		operation: operation,
		maxLogLen: maxLogLength,
		logger:    logger.WithCommonFields(log, provider, inner.Model(), operation),
	}
}

func (g *InstrumentedGenerator) Model() string { return g.inner.Model() }

func (g *InstrumentedGenerator) GenerateContent(ctx context.Context, system, message string) (string, error) {
	g.logger.Debug("generate content request",
		zap.Int("prompt_length", utf8.RuneCountInString(system)+utf8.RuneCountInString(message)),
		zap.String("prompt_preview", utils.TruncateForLog(message, g.maxLogLen)),
	)

	start := time.Now()
	out, err := g.inner.GenerateContent(ctx, system, message)
	duration := time.Since(start)

	model := g.inner.Model()
	metrics.LLMRequestDuration.WithLabelValues(g.provider, model, g.operation).Observe(duration.Seconds())

	if err != nil {
		metrics.LLMRequestsTotal.WithLabelValues(g.provider, model, g.operation, "error").Inc()
		g.logger.Warn("generate content failed", zap.Duration("duration", duration), zap.Error(err))
		return "", err
	}

	metrics.LLMRequestsTotal.WithLabelValues(g.provider, model, g.operation, "success").Inc()
	g.logger.Debug("generate content response",
		zap.Duration("duration", duration),
		zap.Int("response_length", utf8.RuneCountInString(out)),
		zap.String("response_preview", utils.TruncateForLog(out, g.maxLogLen)),
	)

	return out, nil
}

// InstrumentedEmbedder decorates an Embedder with debug logging and request metrics.
type InstrumentedEmbedder struct {
	inner    Embedder
	provider string
	logger   *zap.Logger
}

// NewInstrumentedEmbedder wraps inner.
func NewInstrumentedEmbedder(inner Embedder, provider string, log *zap.Logger) *InstrumentedEmbedder {
	return &InstrumentedEmbedder{
		inner:    inner,
		provider: provider,
		logger:   logger.WithCommonFields(log, provider, inner.Model(), OpEmbed),
	}
}

func (e *InstrumentedEmbedder) Model() string { return e.inner.Model() }

func (e *InstrumentedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	start := time.Now()
	vec, err := e.inner.Embed(ctx, text)
	duration := time.Since(start)

	model := e.inner.Model()
	metrics.LLMRequestDuration.WithLabelValues(e.provider, model, OpEmbed).Observe(duration.Seconds())

	if err != nil {
		metrics.LLMRequestsTotal.WithLabelValues(e.provider, model, OpEmbed, "error").Inc()
		e.logger.Warn("embedding request failed", zap.Duration("duration", duration), zap.Error(err))
		return nil, err
	}

	metrics.LLMRequestsTotal.WithLabelValues(e.provider, model, OpEmbed, "success").Inc()
	e.logger.Debug("embedding request completed",
		zap.Duration("duration", duration),
		zap.Int("dimensions", len(vec)),
	)

	return vec, nil
}

// Package refine rewrites a free-text need into a query suited for similarity search.
package refine

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/spigell/biz-matcher/internal/ai"
	"github.com/spigell/biz-matcher/internal/catalog"
)

//go:embed refine_prompt.md
var systemPrompt string

// ErrEmptyInput is returned without calling the model when there is nothing to refine.
var ErrEmptyInput = errors.New("nothing to refine: input is empty")

// SystemPrompt returns the fixed instruction sent with every refinement.
func SystemPrompt() string { return systemPrompt }

// Refiner asks a generator to restate a need as entity type, offerings and technologies.
type Refiner struct {
	generator ai.Generator
	logger    *zap.Logger
}

// New creates a Refiner. The generator should be configured for deterministic output.
func New(generator ai.Generator, logger *zap.Logger) (*Refiner, error) {
	if generator == nil {
		return nil, errors.New("generator is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Refiner{generator: generator, logger: logger}, nil
}

// Refine returns the refined text for raw under the given category.
func (r *Refiner) Refine(ctx context.Context, category catalog.Category, raw string) (string, error) {
	if _, err := catalog.ParseCategory(category.String()); err != nil {
		return "", err
	}

	raw = catalog.NormalizeText(raw)
	if raw == "" {
		return "", ErrEmptyInput
	}

	message := fmt.Sprintf("Refine the following input: %s %s", category, raw)
	out, err := r.generator.GenerateContent(ctx, systemPrompt, message)
	if err != nil {
		r.logger.Error("refinement failed", zap.String("matching_category", category.String()), zap.Error(err))
		return "", fmt.Errorf("refine input: %w", err)
	}

	refined := strings.TrimSpace(out)
	r.logger.Debug("refined input", zap.Int("raw_length", len(raw)), zap.Int("refined_length", len(refined)))
	return refined, nil
}

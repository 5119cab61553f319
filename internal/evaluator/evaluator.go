// Package evaluator asks a language model whether one dataset record fits a business need.
package evaluator

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/spigell/biz-matcher/internal/ai"
	"github.com/spigell/biz-matcher/internal/catalog"
	"github.com/spigell/biz-matcher/internal/utils"
)

//go:embed prompt.md
var promptTemplate string

//go:embed format.md
var formatInstructions string

const (
	backgroundPlaceholder = "{{BACKGROUND}}"
	needPlaceholder       = "{{NEED}}"

	preamble = "answer the user's question as best as possible."

	defaultMaxLogLength = 200
)

// Evaluator produces a Verdict per record. It is safe for concurrent use when its generator is.
type Evaluator struct {
	generator ai.Generator
	logger    *zap.Logger
	maxLogLen int
}

func New(generator ai.Generator, logger *zap.Logger, maxLogLength int) (*Evaluator, error) {
	if generator == nil {
		return nil, errors.New("generator is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxLogLength <= 0 {
		maxLogLength = defaultMaxLogLength
	}
	return &Evaluator{generator: generator, logger: logger, maxLogLen: maxLogLength}, nil
}

// DefaultTemplate is the expert-persona prompt with {{BACKGROUND}} and {{NEED}} placeholders.
func DefaultTemplate() string { return promptTemplate }

// FormatInstructions describes the fenced JSON object the model must answer with.
func FormatInstructions() string { return formatInstructions }

// BuildPrompt fills the placeholders of template, or of the default template when template is blank.
func BuildPrompt(template, background, need string) string {
	if strings.TrimSpace(template) == "" {
		template = promptTemplate
	}
	prompt := strings.ReplaceAll(template, backgroundPlaceholder, background)
	return strings.ReplaceAll(prompt, needPlaceholder, need)
}

// BuildMessage assembles the single user message sent for record.
func BuildMessage(record *catalog.Record, background, need, template string) string {
	return preamble + "\n" + formatInstructions + "\n" + BuildPrompt(template, background, need) + "\n" + record.Text()
}

// Evaluate judges record against the background and need. Upstream failures are
// returned as *ai.UpstreamError and unparseable output as *ai.MalformedResponseError.
func (e *Evaluator) Evaluate(ctx context.Context, record *catalog.Record, background, need, template string) (*ai.Verdict, error) {
	if record == nil {
		return nil, errors.New("record is required")
	}

	message := BuildMessage(record, background, need, template)

	e.logger.Debug("evaluate candidate",
		zap.Int("row", record.Row),
		zap.Int("prompt_length", utf8.RuneCountInString(message)),
	)

	raw, err := e.generator.GenerateContent(ctx, "", message)
	if err != nil {
		return nil, fmt.Errorf("evaluate row %d: %w", record.Row, err)
	}

	verdict, err := ParseVerdict(raw)
	if err != nil {
		e.logger.Warn("unparseable verdict",
			zap.Int("row", record.Row),
			zap.String("response_preview", utils.TruncateForLog(raw, e.maxLogLen)),
			zap.Error(err),
		)
		return nil, err
	}

	e.logger.Debug("candidate evaluated",
		zap.Int("row", record.Row),
		zap.String("match", verdict.Match),
	)
	return verdict, nil
}

package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Operation names used for logging and metrics.
const (
	OpRefine   = "refine"
	OpEvaluate = "evaluate"
	OpEmbed    = "embed"
)

// Generator sends a system instruction plus a user message to a hosted model
// and returns the textual reply. An empty system instruction sends the message alone.
type Generator interface {
	GenerateContent(ctx context.Context, system, message string) (string, error)
	Model() string
}

// Embedder turns text into the vector space used by the retrieval index.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Model() string
}

// Verdict is the structured outcome of evaluating one candidate.
type Verdict struct {
	Answer string `json:"answer" yaml:"answer" mapstructure:"answer"`
	// Match holds the "Yes/No" field verbatim; models sometimes deviate from the two values.
	Match  string `json:"match" yaml:"match" mapstructure:"Yes/No"`
	Reason string `json:"reason" yaml:"reason" mapstructure:"Reason"`
	Raw    string `json:"-" yaml:"-" mapstructure:"-"`
}

// IsMatch reports whether the match flag reads as an affirmative answer.
func (v *Verdict) IsMatch() bool {
	if v == nil {
		return false
	}
	flag := strings.TrimRight(strings.ToLower(strings.TrimSpace(v.Match)), ".!")
	switch flag {
	case "yes", "true", "y":
		return true
	default:
		return false
	}
}

// UpstreamError reports a failed call to the hosted model endpoint: unreachable,
// rate-limited or rejected.
type UpstreamError struct {
	Provider   string
	Op         string
	StatusCode int
	Err        error
}

func (e *UpstreamError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s %s: upstream status %d: %v", e.Provider, e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s %s: upstream: %v", e.Provider, e.Op, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// MalformedResponseError reports model output that does not follow the requested structure.
type MalformedResponseError struct {
	Raw string
	Err error
}

func (e *MalformedResponseError) Error() string {
	return fmt.Sprintf("malformed model response: %v", e.Err)
}

func (e *MalformedResponseError) Unwrap() error { return e.Err }

// IsUpstream reports whether err carries an UpstreamError.
func IsUpstream(err error) bool {
	var target *UpstreamError
	return errors.As(err, &target)
}

// IsMalformed reports whether err carries a MalformedResponseError.
func IsMalformed(err error) bool {
	var target *MalformedResponseError
	return errors.As(err, &target)
}

package ai

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/spigell/biz-matcher/internal/metrics"
)

type stubGenerator struct {
	reply string
	err   error
}

func (s *stubGenerator) GenerateContent(context.Context, string, string) (string, error) {
	return s.reply, s.err
}

func (s *stubGenerator) Model() string { return "stub-model" }

type stubEmbedder struct {
	vec []float32
	err error
}

func (s *stubEmbedder) Embed(context.Context, string) ([]float32, error) { return s.vec, s.err }

func (s *stubEmbedder) Model() string { return "stub-embed" }

func TestInstrumentedGeneratorRecordsMetrics(t *testing.T) {
	core, observed := observer.New(zapcore.DebugLevel)
	gen := NewInstrumentedGenerator(&stubGenerator{reply: "refined"}, "test-ok", OpRefine, 0, zap.New(core))

	out, err := gen.GenerateContent(context.Background(), "system", "3D printer manufacturer")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "refined" {
		t.Fatalf("unexpected output: %q", out)
	}

	counter := metrics.LLMRequestsTotal.WithLabelValues("test-ok", "stub-model", OpRefine, "success")
	if got := testutil.ToFloat64(counter); got != 1 {
		t.Fatalf("expected 1 successful request, got %v", got)
	}

	entries := observed.FilterMessage("generate content response").All()
	if len(entries) != 1 {
		t.Fatalf("expected response log entry, got %d", len(entries))
	}
	if entries[0].ContextMap()["ai_operation"] != OpRefine {
		t.Fatalf("expected operation field on log entry: %v", entries[0].ContextMap())
	}
}

func TestInstrumentedGeneratorPassesErrors(t *testing.T) {
	upstream := &UpstreamError{Provider: "test-err", Op: OpEvaluate, Err: errors.New("boom")}
	gen := NewInstrumentedGenerator(&stubGenerator{err: upstream}, "test-err", OpEvaluate, 10, zap.NewNop())

	_, err := gen.GenerateContent(context.Background(), "", "prompt")
	if !errors.Is(err, upstream) {
		t.Fatalf("expected upstream error to pass through, got %v", err)
	}

	counter := metrics.LLMRequestsTotal.WithLabelValues("test-err", "stub-model", OpEvaluate, "error")
	if got := testutil.ToFloat64(counter); got != 1 {
		t.Fatalf("expected 1 failed request, got %v", got)
	}
}

func TestInstrumentedEmbedder(t *testing.T) {
	emb := NewInstrumentedEmbedder(&stubEmbedder{vec: []float32{0.1, 0.2}}, "test-embed", zap.NewNop())

	vec, err := emb.Embed(context.Background(), "query")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(vec) != 2 {
		t.Fatalf("expected 2 dimensions, got %d", len(vec))
	}
	if emb.Model() != "stub-embed" {
		t.Fatalf("unexpected model: %s", emb.Model())
	}

	failing := NewInstrumentedEmbedder(&stubEmbedder{err: errors.New("down")}, "test-embed", zap.NewNop())
	if _, err := failing.Embed(context.Background(), "query"); err == nil {
		t.Fatal("expected error")
	}
	counter := metrics.LLMRequestsTotal.WithLabelValues("test-embed", "stub-embed", OpEmbed, "error")
	if got := testutil.ToFloat64(counter); got != 1 {
		t.Fatalf("expected 1 failed embedding, got %v", got)
	}
}

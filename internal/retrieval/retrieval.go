// Package retrieval finds the dataset rows nearest to a query in embedding space.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/spigell/biz-matcher/internal/ai"
	"github.com/spigell/biz-matcher/internal/catalog"
	"github.com/spigell/biz-matcher/internal/index"
	"github.com/spigell/biz-matcher/internal/metrics"
)

// RowRef points at one retrieved dataset row. Rank starts at 1.
type RowRef struct {
	Row      int
	Rank     int
	Distance float32
}

// Retriever embeds queries and looks them up in a vector index built over a dataset.
type Retriever struct {
	embedder ai.Embedder
	index    index.Index
	dataset  *catalog.Dataset
	category catalog.Category
	logger   *zap.Logger
}

// New creates a Retriever. The embedder must use the model the index was built with.
func New(embedder ai.Embedder, idx index.Index, dataset *catalog.Dataset, category catalog.Category, logger *zap.Logger) (*Retriever, error) {
	if embedder == nil {
		return nil, errors.New("embedder is required")
	}
	if idx == nil {
		return nil, errors.New("index is required")
	}
	if dataset == nil {
		return nil, errors.New("dataset is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Retriever{
		embedder: embedder,
		index:    idx,
		dataset:  dataset,
		category: category,
		logger:   logger.With(zap.String("matching_category", category.String())),
	}, nil
}

// Dataset returns the dataset rows are resolved against.
func (r *Retriever) Dataset() *catalog.Dataset { return r.dataset }

// Retrieve returns up to k rows ordered by ascending distance to query.
// An empty query or an empty index yields an empty result.
func (r *Retriever) Retrieve(ctx context.Context, query string, k int) ([]RowRef, error) {
	if k < 1 {
		return nil, fmt.Errorf("top-k must be at least 1, got %d", k)
	}

	refs := []RowRef{}
	query = strings.TrimSpace(query)
	if query == "" {
		return refs, nil
	}
	if sized, ok := r.index.(interface{ Len() int }); ok && sized.Len() == 0 {
		r.observe(0)
		return refs, nil
	}

	vector, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	hits, err := r.index.Search(ctx, vector, k)
	if err != nil {
		return nil, fmt.Errorf("search index: %w", err)
	}

	for _, hit := range hits {
		if hit.Row < 0 || hit.Row >= r.dataset.Len() {
			r.logger.Warn("index row not present in dataset; dropping",
				zap.Int("row", hit.Row),
				zap.Int("dataset_rows", r.dataset.Len()),
			)
			continue
		}
		refs = append(refs, RowRef{Row: hit.Row, Rank: len(refs) + 1, Distance: hit.Distance})
		if len(refs) == k {
			break
		}
	}

	r.observe(len(refs))
	r.logger.Debug("retrieved candidates", zap.Int("k", k), zap.Int("found", len(refs)))
	return refs, nil
}

func (r *Retriever) observe(n int) {
	metrics.RetrievedCandidates.WithLabelValues(r.category.String()).Observe(float64(n))
}

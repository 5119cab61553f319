// Package matching runs the retrieval-then-verdict pipeline and tracks an
// analyst's session through it.
package matching

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/spigell/biz-matcher/internal/ai"
	"github.com/spigell/biz-matcher/internal/catalog"
	"github.com/spigell/biz-matcher/internal/filtering"
	"github.com/spigell/biz-matcher/internal/metrics"
	"github.com/spigell/biz-matcher/internal/retrieval"
)

// Retriever looks up the rows nearest to a query.
type Retriever interface {
	Retrieve(ctx context.Context, query string, k int) ([]retrieval.RowRef, error)
	Dataset() *catalog.Dataset
}

// Evaluator judges one record.
type Evaluator interface {
	Evaluate(ctx context.Context, record *catalog.Record, background, need, template string) (*ai.Verdict, error)
}

// ProgressFunc observes each row as soon as its evaluation finishes. Calls are serialised.
type ProgressFunc func(done, total int, row Row)

// Step summarises one pipeline stage.
type Step struct {
	Initial int
	Matched int
	Failed  int
}

// Pipeline binds one category's retriever to an evaluator.
type Pipeline struct {
	category    catalog.Category
	retriever   Retriever
	evaluator   Evaluator
	filters     *filtering.Filtering
	concurrency int
	logger      *zap.Logger
}

// PipelineConfig configures NewPipeline. Concurrency below 1 means sequential evaluation.
// Filters, when set, drop retrieved candidates before they reach the table.
type PipelineConfig struct {
	Category    catalog.Category
	Retriever   Retriever
	Evaluator   Evaluator
	Filters     *filtering.Filtering
	Concurrency int
	Logger      *zap.Logger
}

func NewPipeline(cfg PipelineConfig) (*Pipeline, error) {
	if cfg.Retriever == nil {
		return nil, errors.New("retriever is required")
	}
	if cfg.Evaluator == nil {
		return nil, errors.New("evaluator is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}

	return &Pipeline{
		category:    cfg.Category,
		retriever:   cfg.Retriever,
		evaluator:   cfg.Evaluator,
		filters:     cfg.Filters,
		concurrency: cfg.Concurrency,
		logger:      cfg.Logger.With(zap.String("matching_category", cfg.Category.String())),
	}, nil
}

// Category is the category the pipeline serves.
func (p *Pipeline) Category() catalog.Category { return p.category }

// Dataset is the dataset behind the retriever.
func (p *Pipeline) Dataset() *catalog.Dataset { return p.retriever.Dataset() }

// DefaultColumns is the default display selection for this pipeline's dataset.
func (p *Pipeline) DefaultColumns(configured []string) []string {
	if len(configured) == 0 {
		configured = p.category.DefaultColumns()
	}
	return p.Dataset().DefaultSelection(configured)
}

// RunMatching retrieves up to k records for need and joins them with the dataset.
// An empty result is returned together with ErrNoResults.
func (p *Pipeline) RunMatching(ctx context.Context, need string, k int, columns []string) (*ResultTable, error) {
	dataset := p.Dataset()
	if len(columns) == 0 {
		columns = p.DefaultColumns(nil)
	}
	if err := dataset.ValidateColumns(columns); err != nil {
		return nil, err
	}

	refs, err := p.retriever.Retrieve(ctx, need, k)
	if err != nil {
		return nil, fmt.Errorf("retrieve: %w", err)
	}

	table := &ResultTable{
		Category: p.category,
		Columns:  append([]string(nil), columns...),
		Rows:     make([]Row, 0, len(refs)),
	}
	for _, ref := range refs {
		record, ok := dataset.Record(ref.Row)
		if !ok {
			p.logger.Warn("retrieved row is missing from dataset", zap.Int("row", ref.Row))
			continue
		}
		table.Rows = append(table.Rows, Row{Ref: ref, Record: record})
	}
	found := table.Len()

	if err := p.filter(ctx, table); err != nil {
		return nil, fmt.Errorf("filter: %w", err)
	}

	p.logger.Info("matching step", zap.Int("k", k), zap.Int("found", found), zap.Int("left", table.Len()))

	if table.Len() == 0 {
		return table, ErrNoResults
	}
	return table, nil
}

// filter drops the rows the filters exclude, keeping rank order.
func (p *Pipeline) filter(ctx context.Context, table *ResultTable) error {
	if p.filters.Len() == 0 || table.Len() == 0 {
		return nil
	}

	c := &filtering.Candidates{Category: p.category, Items: make([]*catalog.Record, 0, table.Len())}
	for i := range table.Rows {
		c.Items = append(c.Items, table.Rows[i].Record)
	}

	c, err := p.filters.RunFilters(ctx, c)
	if err != nil {
		return err
	}

	keep := make(map[int]struct{}, c.Len())
	for _, row := range c.Rows() {
		keep[row] = struct{}{}
	}
	rows := table.Rows[:0]
	for _, r := range table.Rows {
		if _, ok := keep[r.Record.Row]; ok {
			rows = append(rows, r)
		}
	}
	table.Rows = rows
	return nil
}

// RunAnalysis evaluates every row of table and returns a new table with verdicts;
// table itself is not modified. Row failures are recorded on the row and do not stop the batch.
// When ctx is cancelled, rows not yet dispatched carry the context error and the
// partial table is returned with that error.
func (p *Pipeline) RunAnalysis(ctx context.Context, table *ResultTable, background, need, template string, progress ProgressFunc) (*ResultTable, error) {
	if table == nil {
		return nil, errors.New("result table is required")
	}

	out := table.clone()
	out.Analyzed = true
	total := out.Len()

	var (
		mu   sync.Mutex
		done int
	)
	report := func(i int) {
		mu.Lock()
		defer mu.Unlock()
		done++
		if progress != nil {
			progress(done, total, out.Rows[i])
		}
	}

	g := new(errgroup.Group)
	g.SetLimit(p.concurrency)

	for i := range out.Rows {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			row := &out.Rows[i]
			if err := ctx.Err(); err != nil {
				row.Err = err
				p.observe(row)
				return nil
			}

			row.Verdict, row.Err = p.evaluator.Evaluate(ctx, row.Record, background, need, template)
			if row.Err != nil {
				p.logger.Warn("candidate evaluation failed",
					zap.Int("row", row.Ref.Row),
					zap.Int("rank", row.Ref.Rank),
					zap.Error(row.Err),
				)
			}
			p.observe(row)
			report(i)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		for i := range out.Rows {
			if !out.Rows[i].Evaluated() {
				out.Rows[i].Err = err
				p.observe(&out.Rows[i])
			}
		}
		p.logger.Warn("analysis cancelled", zap.Int("evaluated", done), zap.Int("total", total))
		return out, err
	}

	step := Step{Initial: total, Matched: out.Matches(), Failed: out.Failed()}
	p.logger.Info("analysis step",
		zap.Int("initial", step.Initial),
		zap.Int("matched", step.Matched),
		zap.Int("failed", step.Failed),
	)
	return out, nil
}

func (p *Pipeline) observe(row *Row) {
	metrics.VerdictsTotal.WithLabelValues(p.category.String(), outcome(row)).Inc()
}

func outcome(row *Row) string {
	switch {
	case row.Err == nil && row.Verdict.IsMatch():
		return "match"
	case row.Err == nil:
		return "no_match"
	case errors.Is(row.Err, context.Canceled), errors.Is(row.Err, context.DeadlineExceeded):
		return "cancelled"
	case ai.IsMalformed(row.Err):
		return "malformed"
	case ai.IsUpstream(row.Err):
		return "upstream"
	default:
		return "failed"
	}
}

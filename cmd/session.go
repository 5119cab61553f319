package cmd

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/spigell/biz-matcher/internal/catalog"
	"github.com/spigell/biz-matcher/internal/evaluator"
	"github.com/spigell/biz-matcher/internal/filtering"
	"github.com/spigell/biz-matcher/internal/index"
	"github.com/spigell/biz-matcher/internal/index/redis"
	"github.com/spigell/biz-matcher/internal/index/sqlite"
	"github.com/spigell/biz-matcher/internal/matching"
	"github.com/spigell/biz-matcher/internal/refine"
	"github.com/spigell/biz-matcher/internal/retrieval"
)

const (
	filterExcludeValues = "exclude_values"
	filterExcludeFile   = "exclude_file"
)

// application wires the configured categories into a session.
type application struct {
	config  *Config
	session *matching.Session
	indexes []index.Index
	// keyColumns identify candidates in the exclude file, per category.
	keyColumns map[catalog.Category]string
	logger     *zap.Logger
}

func newApplication(ctx context.Context, config *Config, logger *zap.Logger) (*application, error) {
	m, err := newModels(ctx, config.AI, config.Analysis.MaxLogLength, logger)
	if err != nil {
		return nil, err
	}

	refiner, err := refine.New(m.refine, logger)
	if err != nil {
		return nil, err
	}

	eval, err := evaluator.New(m.evaluate, logger, config.Analysis.MaxLogLength)
	if err != nil {
		return nil, err
	}

	a := &application{config: config, keyColumns: map[catalog.Category]string{}, logger: logger}

	var pipelines []*matching.Pipeline
	for _, cat := range config.configuredCategories() {
		catCfg, _ := config.category(cat)

		dataset, err := catalog.LoadCSV(catCfg.Dataset)
		if err != nil {
			a.Close()
			return nil, &ConfigurationError{Key: "categories." + cat.Key() + ".dataset", Err: err}
		}

		idx, err := a.openIndex(ctx, cat, catCfg, m.embedder.Model())
		if err != nil {
			a.Close()
			return nil, err
		}

		retriever, err := retrieval.New(m.embedder, idx, dataset, cat, logger)
		if err != nil {
			a.Close()
			return nil, err
		}

		filters, err := a.prepareFilters(cat, catCfg, dataset)
		if err != nil {
			a.Close()
			return nil, err
		}

		p, err := matching.NewPipeline(matching.PipelineConfig{
			Category:    cat,
			Retriever:   retriever,
			Evaluator:   eval,
			Filters:     filters,
			Concurrency: config.Analysis.Concurrency,
			Logger:      logger,
		})
		if err != nil {
			a.Close()
			return nil, err
		}
		pipelines = append(pipelines, p)

		logger.Info("category loaded",
			zap.String("matching_category", cat.String()),
			zap.Int("records", dataset.Len()),
			zap.String("index", catCfg.Index),
		)
	}

	a.session, err = matching.NewSession(refiner, pipelines, logger)
	if err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *application) openIndex(ctx context.Context, cat catalog.Category, cfg *CategoryConfig, embeddingModel string) (index.Index, error) {
	key := "categories." + cat.Key() + ".index"

	switch a.config.Index.Backend {
	case backendRedis:
		r := a.config.Index.Redis
		idx, err := redis.New(redis.Config{
			Addrs:       r.Addrs,
			Username:    r.Username,
			Password:    r.Password,
			DB:          r.DB,
			Index:       cfg.Index,
			VectorField: r.VectorField,
			RowField:    r.RowField,
		})
		if err != nil {
			return nil, &ConfigurationError{Key: key, Err: err}
		}
		a.indexes = append(a.indexes, idx)
		if err := idx.Ping(ctx); err != nil {
			return nil, &ConfigurationError{Key: "index.redis", Err: err}
		}
		return idx, nil
	default:
		idx, err := sqlite.Open(ctx, cfg.Index)
		if err != nil {
			return nil, &ConfigurationError{Key: key, Err: err}
		}
		a.indexes = append(a.indexes, idx)
		if model := idx.Model(); model != "" && model != embeddingModel {
			a.logger.Warn("index was built with a different embedding model; distances will be meaningless",
				zap.String("matching_category", cat.String()),
				zap.String("index_model", model),
				zap.String("embedding_model", embeddingModel),
			)
		}
		return idx, nil
	}
}

func (a *application) prepareFilters(cat catalog.Category, cfg *CategoryConfig, dataset *catalog.Dataset) (*filtering.Filtering, error) {
	key := "categories." + cat.Key() + ".exclude.column"

	column := keyColumn(cat, dataset)
	if cfg.Exclude != nil && cfg.Exclude.Column != "" {
		column = cfg.Exclude.Column
	}
	if err := dataset.ValidateColumns([]string{column}); err != nil {
		return nil, &ConfigurationError{Key: key, Err: err}
	}
	a.keyColumns[cat] = column

	var values []string
	if cfg.Exclude != nil {
		values = cfg.Exclude.Values
	}

	log := a.logger.With(zap.String("matching_category", cat.String()))
	filters := filtering.New([]filtering.Filter{
		filtering.NewExcludeValues(column, values),
		filtering.NewExcludeFile(a.config.ExcludeFile, cat, column),
	}, log)
	if a.config.NoExclude {
		filters.DisableByName(filterExcludeValues, "disabled by --no-exclude")
		filters.DisableByName(filterExcludeFile, "disabled by --no-exclude")
	}

	for _, status := range filters.Describe() {
		log.Info("filter prepared",
			zap.String("name", status.Name),
			zap.Bool("enabled", status.Enabled),
			zap.String("reason", status.Reason),
			zap.Any("details", status.Details),
		)
	}
	return filters, nil
}

// keyColumn is the first default column present in the dataset, or its first column.
func keyColumn(cat catalog.Category, dataset *catalog.Dataset) string {
	for _, c := range cat.DefaultColumns() {
		if dataset.HasColumn(c) {
			return c
		}
	}
	return dataset.Columns()[0]
}

// excludeMatched appends the current candidates to the exclude file.
func (a *application) excludeMatched() (int, error) {
	path := a.config.ExcludeFile
	if path == "" {
		return 0, errors.New("exclude-file is not configured")
	}

	need, ok := a.session.Need()
	table := a.session.Matched()
	if !ok || table == nil || table.Len() == 0 {
		return 0, matching.ErrNotReady
	}

	records := make([]*catalog.Record, 0, table.Len())
	for _, r := range table.Rows {
		records = append(records, r.Record)
	}

	excluded, err := filtering.GetExcludedFromFile(path)
	if err != nil {
		return 0, err
	}
	before := excluded.Len()
	excluded.Append(filtering.ToExcluded(need.Category, a.keyColumns[need.Category], records))
	if err := excluded.ToFile(path); err != nil {
		return 0, err
	}
	return excluded.Len() - before, nil
}

func (a *application) Close() error {
	var errs []error
	for _, idx := range a.indexes {
		errs = append(errs, idx.Close())
	}
	return errors.Join(errs...)
}

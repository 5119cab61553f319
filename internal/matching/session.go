package matching

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/spigell/biz-matcher/internal/catalog"
	"github.com/spigell/biz-matcher/internal/export"
)

// Refiner rewrites a raw need into a retrieval query.
type Refiner interface {
	Refine(ctx context.Context, category catalog.Category, raw string) (string, error)
}

// NeedStatement is the analyst's submitted need. It does not change once submitted.
type NeedStatement struct {
	Category catalog.Category
	Text     string
}

// Session holds the state of one analyst's work. Its methods are safe for concurrent
// use; a stage already in flight makes other stage calls return ErrNotReady.
type Session struct {
	refiner   Refiner
	pipelines map[catalog.Category]*Pipeline
	logger    *zap.Logger

	mu         sync.Mutex
	state      State
	need       *NeedStatement
	refined    string
	refineErr  error
	matched    *ResultTable
	analyzed   *ResultTable
	exportPath string
}

// NewSession creates an idle session. Categories without a pipeline cannot be matched.
func NewSession(refiner Refiner, pipelines []*Pipeline, logger *zap.Logger) (*Session, error) {
	if refiner == nil {
		return nil, errors.New("refiner is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	byCategory := make(map[catalog.Category]*Pipeline, len(pipelines))
	for _, p := range pipelines {
		if p == nil {
			continue
		}
		byCategory[p.Category()] = p
	}

	return &Session{refiner: refiner, pipelines: byCategory, logger: logger}, nil
}

// Pipeline returns the pipeline serving category.
func (s *Session) Pipeline(category catalog.Category) (*Pipeline, bool) {
	p, ok := s.pipelines[category]
	return p, ok
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Need returns the submitted need statement.
func (s *Session) Need() (NeedStatement, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.need == nil {
		return NeedStatement{}, false
	}
	return *s.need, true
}

// Refined returns the current refined text, possibly edited.
func (s *Session) Refined() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refined
}

// RefineError is the error of the last refinement, if it failed.
func (s *Session) RefineError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refineErr
}

// EffectiveQuery is the refined text, or the raw need when refinement failed or never ran.
func (s *Session) EffectiveQuery() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.effectiveQuery()
}

func (s *Session) effectiveQuery() string {
	if strings.TrimSpace(s.refined) != "" {
		return s.refined
	}
	if s.need != nil {
		return s.need.Text
	}
	return ""
}

// Matched is the latest matching result.
func (s *Session) Matched() *ResultTable {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.matched
}

// Analyzed is the latest analysis result. After a cancelled analysis it holds the partial verdicts.
func (s *Session) Analyzed() *ResultTable {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.analyzed
}

// ExportPath is where the last successful export was written.
func (s *Session) ExportPath() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exportPath
}

// Submit starts over with a new need statement.
func (s *Session) Submit(need NeedStatement) error {
	if _, err := catalog.ParseCategory(need.Category.String()); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.busy() {
		return ErrNotReady
	}
	s.reset()
	s.need = &need
	return nil
}

// Reset discards the need statement and every result.
func (s *Session) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.busy() {
		return ErrNotReady
	}
	s.reset()
	return nil
}

func (s *Session) reset() {
	s.state = Idle
	s.need = nil
	s.refined = ""
	s.refineErr = nil
	s.matched = nil
	s.analyzed = nil
	s.exportPath = ""
}

// transition moves to next when the current state is one of from.
func (s *Session) transition(next State, from ...State) (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.need == nil || !s.state.in(from...) {
		return s.state, ErrNotReady
	}
	prev := s.state
	s.state = next
	return prev, nil
}

// Refine runs the query refiner on the need. On failure the session moves to RefineFailed
// and the effective query falls back to the raw text.
func (s *Session) Refine(ctx context.Context) (string, error) {
	if _, err := s.transition(Refining, Idle, Refined, RefineFailed); err != nil {
		return "", err
	}
	need, _ := s.Need()

	refined, err := s.refiner.Refine(ctx, need.Category, need.Text)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.state = RefineFailed
		s.refined = ""
		s.refineErr = err
		return "", err
	}
	s.state = Refined
	s.refined = refined
	s.refineErr = nil
	return refined, nil
}

// EditRefined replaces the refined text with the analyst's edit.
func (s *Session) EditRefined(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.need == nil || s.state.busy() {
		return ErrNotReady
	}
	s.refined = text
	return nil
}

// Match retrieves candidates for the effective query. An empty result moves the
// session to NoResults and returns ErrNoResults. Any other failure drops the previous
// results and returns the session to where it was before matching.
func (s *Session) Match(ctx context.Context, k int, columns []string) (*ResultTable, error) {
	prev, err := s.transition(Retrieving, Idle, Refined, RefineFailed, Matched, NoResults, Evaluated, Exported)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	category, query := s.need.Category, s.effectiveQuery()
	s.mu.Unlock()

	table, err := s.match(ctx, category, query, k, columns)

	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case errors.Is(err, ErrNoResults):
		s.state = NoResults
		s.matched, s.analyzed, s.exportPath = table, nil, ""
	case err != nil:
		s.state = s.unmatchedState(prev)
		s.matched, s.analyzed, s.exportPath = nil, nil, ""
	default:
		s.state = Matched
		s.matched, s.analyzed, s.exportPath = table, nil, ""
	}
	return table, err
}

func (s *Session) unmatchedState(prev State) State {
	switch {
	case s.refineErr != nil:
		return RefineFailed
	case prev.in(Idle, Refined):
		return prev
	case s.refined != "":
		return Refined
	default:
		return Idle
	}
}

func (s *Session) match(ctx context.Context, category catalog.Category, query string, k int, columns []string) (*ResultTable, error) {
	p, ok := s.pipelines[category]
	if !ok {
		return nil, fmt.Errorf("%s is not configured", category)
	}
	return p.RunMatching(ctx, query, k, columns)
}

// Analyze evaluates the matched rows. A blank need defaults to the effective query.
// On cancellation the session returns to Matched and keeps the partial table.
func (s *Session) Analyze(ctx context.Context, background, need, template string, progress ProgressFunc) (*ResultTable, error) {
	if _, err := s.transition(Evaluating, Matched, Evaluated, Exported); err != nil {
		return nil, err
	}

	s.mu.Lock()
	table := s.matched
	p := s.pipelines[s.need.Category]
	if strings.TrimSpace(need) == "" {
		need = s.effectiveQuery()
	}
	s.mu.Unlock()

	analyzed, err := p.RunAnalysis(ctx, table, background, need, template, progress)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.analyzed = analyzed
	s.exportPath = ""
	if err != nil {
		s.state = Matched
		return analyzed, err
	}
	s.state = Evaluated
	return analyzed, nil
}

// Export writes the analysed table to an xlsx file at path. On failure the session stays Evaluated.
func (s *Session) Export(path string) error {
	if _, err := s.transition(Evaluated, Evaluated, Exported); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := export.WriteXLSX(path, s.analyzed.Export()); err != nil {
		s.logger.Error("export failed", zap.String("path", path), zap.Error(err))
		return fmt.Errorf("export: %w", err)
	}
	s.state = Exported
	s.exportPath = path
	return nil
}

// Dump writes the most recent table, analysed or matched, to a temporary file.
func (s *Session) Dump(format export.Format) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	table := s.analyzed
	if table == nil {
		table = s.matched
	}
	if table == nil || table.Len() == 0 || s.state.busy() {
		return "", ErrNotReady
	}
	return export.DumpToTmpFile(table.Export(), format)
}

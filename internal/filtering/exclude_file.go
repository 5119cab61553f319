package filtering

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"time"

	"github.com/spigell/biz-matcher/internal/catalog"
)

// ExcludedCandidates is the content of an exclude file.
type ExcludedCandidates struct {
	Items []*ExcludedCandidate
}

// ExcludedCandidate names a record that should not be offered again.
type ExcludedCandidate struct {
	Category   catalog.Category
	Column     string
	Value      string
	ExcludedAt time.Time
}

// ToExcluded turns records into exclude entries keyed by column.
func ToExcluded(category catalog.Category, column string, records []*catalog.Record) *ExcludedCandidates {
	excluded := &ExcludedCandidates{}
	now := time.Now().UTC()
	for _, r := range records {
		v, ok := r.Value(column)
		if !ok || foldValue(v) == "" {
			continue
		}
		excluded.Items = append(excluded.Items, &ExcludedCandidate{
			Category:   category,
			Column:     column,
			Value:      v,
			ExcludedAt: now,
		})
	}
	return excluded
}

// GetExcludedFromFile reads an exclude file. A missing or empty file is an empty list.
func GetExcludedFromFile(path string) (*ExcludedCandidates, error) {
	file, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return &ExcludedCandidates{}, nil
	}
	if err != nil {
		return nil, err
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		return nil, err
	}

	if stat.Size() == 0 {
		return &ExcludedCandidates{}, nil
	}

	var excluded ExcludedCandidates
	if err := json.NewDecoder(file).Decode(&excluded); err != nil {
		return nil, err
	}
	return &excluded, nil
}

func (e *ExcludedCandidates) Len() int { return len(e.Items) }

// Append adds entries that are not listed yet.
func (e *ExcludedCandidates) Append(s *ExcludedCandidates) {
	seen := make(map[string]struct{}, len(e.Items))
	key := func(c *ExcludedCandidate) string {
		return string(c.Category) + "\x00" + c.Column + "\x00" + foldValue(c.Value)
	}
	for _, c := range e.Items {
		seen[key(c)] = struct{}{}
	}
	for _, c := range s.Items {
		if _, ok := seen[key(c)]; ok {
			continue
		}
		seen[key(c)] = struct{}{}
		e.Items = append(e.Items, c)
	}
}

// Values lists the excluded values of one category and column.
func (e *ExcludedCandidates) Values(category catalog.Category, column string) []string {
	values := make([]string, 0)
	for _, c := range e.Items {
		if c.Category == category && c.Column == column {
			values = append(values, c.Value)
		}
	}
	return values
}

func (e *ExcludedCandidates) ToFile(path string) error {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer file.Close()

	enc := json.NewEncoder(file)
	enc.SetIndent("", "  ")
	return enc.Encode(e)
}

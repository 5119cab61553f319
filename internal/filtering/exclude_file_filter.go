package filtering

import (
	"context"
	"fmt"

	"github.com/spigell/biz-matcher/internal/catalog"
)

type excludeFileFilter struct {
	enabled  bool
	reason   string
	path     string
	category catalog.Category
	column   string
}

// NewExcludeFile creates a filter that removes candidates listed in the exclude file
// under the given category and column.
func NewExcludeFile(path string, category catalog.Category, column string) Filter {
	return &excludeFileFilter{
		enabled:  true,
		path:     path,
		category: category,
		column:   column,
	}
}

func (f *excludeFileFilter) Name() string { return "exclude_file" }

func (f *excludeFileFilter) Disable(reason string) {
	f.enabled = false
	f.reason = reason
}

func (f *excludeFileFilter) IsEnabled() bool { return f.enabled }

func (f *excludeFileFilter) Validate() error {
	if f.path != "" && f.column == "" {
		return fmt.Errorf("key column is required")
	}
	return nil
}

func (f *excludeFileFilter) Apply(_ context.Context, c *Candidates) (*Candidates, Step, error) {
	initial := c.Len()
	if f.path == "" {
		return c, Step{Initial: initial, Dropped: 0, Left: c.Len()}, nil
	}

	excluded, err := GetExcludedFromFile(f.path)
	if err != nil {
		return c, Step{}, fmt.Errorf("getting excluded candidates from file: %w", err)
	}

	removed := c.Exclude(f.column, excluded.Values(f.category, f.column))

	return c, Step{Initial: initial, Dropped: len(removed), Left: c.Len()}, nil
}

func (f *excludeFileFilter) Status() Status {
	details := map[string]string{}
	if f.path != "" {
		details["path"] = f.path
		details["column"] = f.column
	}
	return Status{Name: f.Name(), Enabled: f.enabled, Reason: f.reason, Details: details}
}

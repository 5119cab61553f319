package filtering

import (
	"context"
	"strings"
)

type excludeValuesFilter struct {
	enabled bool
	reason  string
	column  string
	values  []string
}

// NewExcludeValues creates a filter that removes candidates whose column holds one of the configured values.
func NewExcludeValues(column string, values []string) Filter {
	return &excludeValuesFilter{
		enabled: true,
		column:  column,
		values:  append([]string(nil), values...),
	}
}

func (f *excludeValuesFilter) Name() string { return "exclude_values" }

func (f *excludeValuesFilter) Disable(reason string) {
	f.enabled = false
	f.reason = reason
}

func (f *excludeValuesFilter) IsEnabled() bool { return f.enabled }

func (f *excludeValuesFilter) Validate() error { return nil }

func (f *excludeValuesFilter) Apply(_ context.Context, c *Candidates) (*Candidates, Step, error) {
	initial := c.Len()
	if len(f.values) == 0 || f.column == "" {
		return c, Step{Initial: initial, Dropped: 0, Left: c.Len()}, nil
	}

	excluded := c.Exclude(f.column, f.values)

	return c, Step{Initial: initial, Dropped: len(excluded), Left: c.Len()}, nil
}

func (f *excludeValuesFilter) Status() Status {
	details := map[string]string{}
	if len(f.values) > 0 {
		details["column"] = f.column
		details["values"] = strings.Join(f.values, ",")
	}
	return Status{Name: f.Name(), Enabled: f.enabled, Reason: f.reason, Details: details}
}

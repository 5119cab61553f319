package filtering

import (
	"strings"

	"github.com/spigell/biz-matcher/internal/catalog"
)

// Candidates are the retrieved records of one category, in rank order.
type Candidates struct {
	Category catalog.Category
	Items    []*catalog.Record
}

func (c *Candidates) Len() int {
	if c == nil {
		return 0
	}
	return len(c.Items)
}

// Rows lists the dataset rows of the remaining candidates.
func (c *Candidates) Rows() []int {
	rows := make([]int, 0, c.Len())
	for _, r := range c.Items {
		rows = append(rows, r.Row)
	}
	return rows
}

// Exclude drops candidates whose column value is one of values and returns the
// dropped values. Comparison ignores case and surrounding whitespace.
func (c *Candidates) Exclude(column string, values []string) []string {
	if c.Len() == 0 || len(values) == 0 {
		return nil
	}

	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		if key := foldValue(v); key != "" {
			set[key] = struct{}{}
		}
	}

	kept := c.Items[:0]
	var excluded []string
	for _, r := range c.Items {
		v, ok := r.Value(column)
		if ok {
			if _, drop := set[foldValue(v)]; drop {
				excluded = append(excluded, v)
				continue
			}
		}
		kept = append(kept, r)
	}
	c.Items = kept
	return excluded
}

func foldValue(v string) string {
	return strings.ToLower(catalog.NormalizeText(v))
}

package catalog

import (
	"fmt"
	"strings"
)

// Category selects which dataset and index a need statement is matched against.
type Category string

const (
	CompanyMatching  Category = "Company Matching"
	FundsMatching    Category = "Funds Matching"
	SolutionMatching Category = "Solution Matching"
)

var defaultColumns = map[Category][]string{
	CompanyMatching:  {"name_EN", "introduction_EN", "product_EN", "website"},
	SolutionMatching: {"Title", "web_content", "Link", "Institute"},
}

// Categories lists every category in menu order.
func Categories() []Category {
	return []Category{CompanyMatching, FundsMatching, SolutionMatching}
}

// ParseCategory maps a label to a Category. Matching ignores case and surrounding spaces.
func ParseCategory(label string) (Category, error) {
	label = strings.TrimSpace(label)
	for _, c := range Categories() {
		if strings.EqualFold(label, string(c)) {
			return c, nil
		}
	}
	return "", fmt.Errorf("unknown matching category %q", label)
}

func (c Category) String() string { return string(c) }

// Key is the configuration key of the category, e.g. "company".
func (c Category) Key() string {
	name, _, _ := strings.Cut(string(c), " ")
	return strings.ToLower(name)
}

// DefaultColumns returns the built-in display columns. Funds Matching has none.
func (c Category) DefaultColumns() []string {
	cols := defaultColumns[c]
	out := make([]string, len(cols))
	copy(out, cols)
	return out
}

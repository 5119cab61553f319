package catalog

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// NormalizeText applies NFKC, trims the ends and drops control characters other than newlines and tabs.
func NormalizeText(text string) string {
	text = strings.TrimSpace(norm.NFKC.String(text))
	return strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, text)
}

func cleanCell(v string) string {
	return strings.TrimSpace(strings.TrimPrefix(v, "\ufeff"))
}

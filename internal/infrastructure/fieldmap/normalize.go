package fieldmap

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
	"golang.org/x/text/width"
)

// FoldHeader prepares a header for comparison: full-width forms become ASCII,
// compatibility characters are NFKC-normalised, then the result is trimmed
// and lower-cased. "ＯＲＤＥＲ　ＩＤ" and "order id" fold to the same string
func FoldHeader(s string) string {
	s = width.Fold.String(s)
	s = norm.NFKC.String(s)
	return strings.ToLower(strings.TrimSpace(s))
}

var (
	identifierPrefixes = []string{"col_", "field_", "column_", "列_", "字段_"}
	identifierSuffixes = []string{"_col", "_field", "_column", "_列", "_字段"}
)

// NormalizeIdentifier reduces a column or field name to its word characters
// and drops at most one known prefix and one known suffix
func NormalizeIdentifier(s string) string {
	if s == "" {
		return ""
	}
	folded := FoldHeader(s)

	var b strings.Builder
	b.Grow(len(folded))
	for _, r := range folded {
		if r == '_' || unicode.IsLetter(r) || unicode.IsNumber(r) {
			b.WriteRune(r)
		}
	}
	out := b.String()

	for _, p := range identifierPrefixes {
		if strings.HasPrefix(out, p) {
			out = out[len(p):]
			break
		}
	}
	for _, suf := range identifierSuffixes {
		if strings.HasSuffix(out, suf) {
			out = out[:len(out)-len(suf)]
			break
		}
	}
	return out
}

// containsEither reports whether a contains b or b contains a
func containsEither(a, b string) bool {
	return strings.Contains(a, b) || strings.Contains(b, a)
}

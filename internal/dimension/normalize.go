package dimension

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const consolidatedSuffix = "(consolidated)"

// Normalize folds a dimension label for lookup: accents stripped, case
// folded, punctuation replaced by spaces, whitespace collapsed. A trailing
// "(Consolidated)" marker is dropped because consolidation is always applied.
func Normalize(raw string) string {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ""
	}
	stripped, _, err := transform.String(transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC), s)
	if err == nil {
		s = stripped
	}
	s = cases.Fold().String(s)
	s = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), consolidatedSuffix))

	var sb strings.Builder
	sb.Grow(len(s))
	for _, r := range s {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			sb.WriteRune(r)
		case r == ':' || r == '&':
			// hierarchy separators and ampersands carry meaning in names
			sb.WriteRune(r)
		default:
			sb.WriteByte(' ')
		}
	}
	return strings.Join(strings.Fields(sb.String()), " ")
}

// LeafName returns the last segment of a "Parent : Child" full name.
func LeafName(full string) string {
	if i := strings.LastIndex(full, ":"); i >= 0 {
		return strings.TrimSpace(full[i+1:])
	}
	return strings.TrimSpace(full)
}

package textutil

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

var whitespaceRegex = regexp.MustCompile(`\s+`)

func stripDiacritics(s string) string {
	decomposed := norm.NFD.String(s)
	out := strings.Builder{}
	out.Grow(len(decomposed))
	for _, r := range decomposed {
		if unicode.Is(unicode.Mn, r) {
			continue
		}
		out.WriteRune(r)
	}
	return out.String()
}

// Normalize lowercases, strips diacritics and punctuation and
// collapses whitespace runs into single spaces. All matching against
// portal text goes through here so "¿Cuál?" and "cual" compare equal.
func Normalize(s string) string {
	s = strings.ToLower(s)
	s = stripDiacritics(s)

	stripped := strings.Builder{}
	stripped.Grow(len(s))
	for _, r := range s {
		if unicode.IsPunct(r) || unicode.IsSymbol(r) {
			stripped.WriteRune(' ')
			continue
		}
		stripped.WriteRune(r)
	}

	s = whitespaceRegex.ReplaceAllString(stripped.String(), " ")
	return strings.Trim(s, " ")
}

// Normalize but with the remaining spaces removed as well, for
// matching markup ids and control names where word boundaries are
// unreliable.
func NormalizeCompact(s string) string {
	return strings.ReplaceAll(Normalize(s), " ", "")
}

func Tokenize(s string) []string {
	s = Normalize(s)
	if s == "" {
		return nil
	}
	return strings.Split(s, " ")
}

func ContainsAny(s string, keywords []string) bool {
	s = NormalizeCompact(s)
	for _, k := range keywords {
		if strings.Contains(s, NormalizeCompact(k)) {
			return true
		}
	}
	return false
}

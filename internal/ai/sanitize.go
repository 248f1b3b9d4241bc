package ai

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

var (
	fencePattern      = regexp.MustCompile("(?i)```(?:sql)?")
	whitespacePattern = regexp.MustCompile(`\s+`)
)

// StripFences removes markdown code fences around a model reply and
// collapses whitespace.
func StripFences(reply string) string {
	s := fencePattern.ReplaceAllString(strings.TrimSpace(reply), " ")
	return strings.Join(strings.Fields(s), " ")
}

// Sanitize normalizes a SQL candidate: NFKD decomposition, removal of
// non-ASCII and control characters, whitespace collapsed to single spaces.
// Accented letters lose their marks instead of the whole letter.
func Sanitize(sql string) string {
	decomposed := norm.NFKD.String(sql)

	var b strings.Builder
	b.Grow(len(decomposed))
	for _, r := range decomposed {
		switch {
		case r > unicode.MaxASCII:
			continue
		case unicode.IsSpace(r):
			b.WriteByte(' ')
		case r < 32 || r == unicode.MaxASCII:
			continue
		default:
			b.WriteRune(r)
		}
	}
	return strings.TrimSpace(whitespacePattern.ReplaceAllString(b.String(), " "))
}

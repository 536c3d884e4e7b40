package clip

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Untitled replaces a label that sanitizes to nothing.
const Untitled = "untitled"

// MaxLabelLength bounds the label part of a clip filename.
const MaxLabelLength = 80

// Sanitize turns an arbitrary window title into a filename-safe label.
// Accented letters fold to their ASCII base, whitespace runs collapse before
// anything outside letters, digits, '.', '-' and '_' is dropped, and the
// remaining spaces become underscores. Sanitize(Sanitize(s)) == Sanitize(s).
func Sanitize(s string) string {
	fold := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)))
	if folded, _, err := transform.String(fold, s); err == nil {
		s = folded
	}

	s = strings.Join(strings.Fields(s), " ")

	var b strings.Builder
	for _, r := range s {
		if allowed(r) {
			b.WriteRune(r)
		}
	}
	s = strings.ReplaceAll(b.String(), " ", "_")

	if len(s) > MaxLabelLength {
		s = s[:MaxLabelLength]
	}
	s = strings.Trim(s, "_")
	if s == "" {
		return Untitled
	}
	return s
}

func allowed(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	case r == '.', r == '-', r == '_', r == ' ':
		return true
	}
	return false
}

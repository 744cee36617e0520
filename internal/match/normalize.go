package match

import (
	"strings"
	"unicode"

	"golang.org/x/text/width"
)

// Normalize produces the canonical comparison form of a title or filename:
// width-folded, lowercased, decorative brackets and punctuation replaced by
// spaces, whitespace collapsed.
func Normalize(s string) string {
	folded := width.Fold.String(s)
	lowered := strings.ToLower(folded)

	var b strings.Builder
	b.Grow(len(lowered))
	for _, r := range lowered {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		default:
			b.WriteByte(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// StripExtension removes a trailing file extension of up to five characters.
// Download event names carry extensions that task labels never do.
func StripExtension(name string) string {
	idx := strings.LastIndexByte(name, '.')
	if idx <= 0 {
		return name
	}
	ext := name[idx+1:]
	if len(ext) == 0 || len(ext) > 5 {
		return name
	}
	for _, r := range ext {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			return name
		}
	}
	return name[:idx]
}

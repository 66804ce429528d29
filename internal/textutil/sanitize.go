package textutil

import (
	"strings"
	"unicode"
)

// SanitizeToken reduces value to a lowercase token usable in file and
// directory names. ASCII letters, digits, '-' and '_' survive; every other
// rune becomes '_'. Blank input, or input with nothing left after trimming
// separators, yields "unknown".
func SanitizeToken(value string) string {
	out := strings.Map(func(r rune) rune {
		r = unicode.ToLower(r)
		if r == '-' || r == '_' || (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			return r
		}
		return '_'
	}, strings.TrimSpace(value))
	if out = strings.Trim(out, "_-"); out == "" {
		return "unknown"
	}
	return out
}

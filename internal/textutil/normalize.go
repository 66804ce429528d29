package textutil

import (
	"strings"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

// NormalizeText trims s and converts it to Unicode NFC so that visually equal
// comments compare equal. ok is false when the result exceeds maxRunes.
func NormalizeText(s string, maxRunes int) (string, bool) {
	out := strings.TrimSpace(norm.NFC.String(s))
	if maxRunes > 0 && utf8.RuneCountInString(out) > maxRunes {
		return out, false
	}
	return out, true
}

// Title converts an identifier such as "loan_agreement" into a display label.
func Title(value string) string {
	value = strings.TrimSpace(strings.NewReplacer("_", " ", "-", " ").Replace(value))
	if value == "" {
		return ""
	}
	return cases.Title(language.Und).String(value)
}

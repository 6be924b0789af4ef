package matcher

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var nationAliases = map[string]string{
	"UK":  "GBR",
	"GB":  "GBR",
	"US":  "USA",
	"DEU": "GER",
	"DE":  "GER",
	"FR":  "FRA",
}

// Normalize lowercases s, strips diacritics and collapses punctuation and
// whitespace so "Müller-Lüdenscheidt " and "muller ludenscheidt" compare equal.
func Normalize(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	stripped, _, err := transform.String(t, s)
	if err != nil {
		stripped = s
	}

	var b strings.Builder
	space := false
	for _, r := range strings.ToLower(stripped) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			if space && b.Len() > 0 {
				b.WriteByte(' ')
			}
			space = false
			b.WriteRune(r)
		default:
			space = true
		}
	}
	return b.String()
}

// NormalizeNation maps common two-letter and legacy codes onto the registry's
// three-letter codes.
func NormalizeNation(code string) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	if alias, ok := nationAliases[code]; ok {
		return alias
	}
	return code
}

package normalize

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// asciiFolder strips combining marks so "Pérez" folds to "Perez".
var asciiFolder = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// FoldASCII returns the ASCII-folded, lowercased form of s used for
// matching. The diacritics-preserving original stays the display form.
func FoldASCII(s string) string {
	folded, _, err := transform.String(asciiFolder, s)
	if err != nil {
		folded = s
	}
	return strings.ToLower(strings.TrimSpace(folded))
}

// CollapseSpaces trims s and collapses runs of whitespace to one space.
func CollapseSpaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// TitleName title-cases a name while preserving short all-caps tokens
// such as "GP" and "F1".
func TitleName(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		if w == strings.ToUpper(w) && len(w) <= 3 {
			continue
		}
		r := []rune(strings.ToLower(w))
		r[0] = unicode.ToUpper(r[0])
		words[i] = string(r)
	}
	return strings.Join(words, " ")
}

// circuitSubstitutions maps verbose circuit-name forms to the canonical
// short forms used across sources.
var circuitSubstitutions = []struct{ from, to string }{
	{"Grand Prix", "GP"},
	{"International Circuit", "Circuit"},
	{"Racing Circuit", "Circuit"},
}

// CircuitName normalizes a circuit name for display.
func CircuitName(s string) string {
	name := TitleName(CollapseSpaces(s))
	for _, sub := range circuitSubstitutions {
		name = strings.ReplaceAll(name, sub.from, sub.to)
	}
	return strings.TrimSpace(name)
}

// Ref normalizes a reference identifier (driver_ref, circuit_ref):
// trimmed, lowercased, spaces to underscores, diacritics folded.
func Ref(s string) string {
	folded := FoldASCII(CollapseSpaces(s))
	return strings.ReplaceAll(folded, " ", "_")
}

// DriverCode normalizes a 3-letter driver code. Longer codes are
// truncated to three letters; shorter or non-alphabetic input is invalid.
func DriverCode(code string) (string, bool) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if len(code) > 3 {
		code = code[:3]
	}
	if len(code) != 3 {
		return "", false
	}
	for _, r := range code {
		if r < 'A' || r > 'Z' {
			return "", false
		}
	}
	return code, true
}

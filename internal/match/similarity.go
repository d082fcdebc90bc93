package match

import (
	"regexp"
	"strings"

	"github.com/agext/levenshtein"

	"github.com/apexgrid/f1data/internal/normalize"
)

// Similarity scores how alike two entity names are, in [0, 1]. It is a
// pluggable strategy so phonetic or token-set algorithms can replace the
// default without touching the matcher's control flow.
type Similarity interface {
	Score(a, b string) float64
}

var nameSuffix = regexp.MustCompile(`\s+(jr|sr|ii|iii|iv)$`)

// prepName folds a name to its matching form: ASCII-folded, lowercased,
// whitespace collapsed, generational suffixes stripped.
func prepName(s string) string {
	n := normalize.FoldASCII(normalize.CollapseSpaces(s))
	return strings.TrimSpace(nameSuffix.ReplaceAllString(n, ""))
}

// LevenshteinSimilarity is the default strategy: edit-distance ratio with
// a containment boost for nickname/abbreviation forms ("Max" within
// "Max Verstappen" scores at least 0.9).
type LevenshteinSimilarity struct{}

// NewLevenshtein returns the default similarity strategy.
func NewLevenshtein() LevenshteinSimilarity { return LevenshteinSimilarity{} }

// Score implements Similarity.
func (LevenshteinSimilarity) Score(a, b string) float64 {
	na, nb := prepName(a), prepName(b)
	if na == "" || nb == "" {
		return 0
	}
	if na == nb {
		return 1
	}
	score := levenshtein.Match(na, nb, nil)
	if strings.Contains(na, nb) || strings.Contains(nb, na) {
		if score < 0.9 {
			score = 0.9
		}
	}
	return score
}

package core

import (
	"math"
	"strings"
)

// DefaultMappingThreshold is the minimum similarity for a suggestion.
const DefaultMappingThreshold = 0.6

// StandardFields are the wide-format identity columns that uploaded headers
// are matched against.
var StandardFields = []string{
	"Country",
	"Unique ID",
	"Specimen number",
	"Institution",
	"Age in years",
	"Gender",
	"Specimen type",
	"Specimen date",
	"Location type",
	"Department",
	"Organism",
}

// MappingSuggestion pairs a standard field with the closest source header.
type MappingSuggestion struct {
	Target     string  `json:"target"`
	Source     string  `json:"source"`
	Confidence float64 `json:"confidence"`
}

// SuggestMappings proposes, for each target, the header most similar to it.
// Targets with no header reaching threshold are omitted. Ties keep the
// earlier header. Confidence is rounded to three decimals. A nil targets
// slice uses StandardFields and a non-positive threshold uses
// DefaultMappingThreshold.
func SuggestMappings(headers, targets []string, threshold float64) []MappingSuggestion {
	if targets == nil {
		targets = StandardFields
	}
	if threshold <= 0 {
		threshold = DefaultMappingThreshold
	}

	var out []MappingSuggestion
	for _, target := range targets {
		best, bestScore := "", 0.0
		for _, h := range headers {
			if score := Similarity(h, target); score > bestScore {
				best, bestScore = h, score
			}
		}
		if best != "" && bestScore >= threshold {
			out = append(out, MappingSuggestion{
				Target:     target,
				Source:     best,
				Confidence: math.Round(bestScore*1000) / 1000,
			})
		}
	}
	return out
}

// Similarity returns 2*LCS/(len(a)+len(b)) over the lower-cased runes of a
// and b, where LCS is the longest common subsequence. Identical strings
// score 1 and strings with no common rune score 0.
func Similarity(a, b string) float64 {
	ra := []rune(strings.ToLower(a))
	rb := []rune(strings.ToLower(b))
	total := len(ra) + len(rb)
	if total == 0 {
		return 1
	}
	return 2 * float64(lcsLength(ra, rb)) / float64(total)
}

func lcsLength(a, b []rune) int {
	if len(a) < len(b) {
		a, b = b, a
	}
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for i := 1; i <= len(a); i++ {
		for j := 1; j <= len(b); j++ {
			switch {
			case a[i-1] == b[j-1]:
				curr[j] = prev[j-1] + 1
			case prev[j] >= curr[j-1]:
				curr[j] = prev[j]
			default:
				curr[j] = curr[j-1]
			}
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}

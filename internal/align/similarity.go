package align

import (
	"strings"
	"unicode"

	"github.com/pmezard/go-difflib/difflib"
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// Similarity scores how alike two words are, in [0, 1]. The fuzzy strategy's
// acceptance threshold is defined against the scorer in use, so a replacement
// must document its normalization.
type Similarity interface {
	Score(a, b string) float64
}

// SimilarityFunc adapts a plain function to Similarity.
type SimilarityFunc func(a, b string) float64

func (f SimilarityFunc) Score(a, b string) float64 { return f(a, b) }

// SequenceRatio is the default Similarity.
//
// Both inputs are NFC-normalized, stripped of leading/trailing characters that
// are not letters, marks or digits (Whisper words arrive as " Hello," for
// example) and case-folded. The rune sequences are then compared with the
// Ratcliff/Obershelp ratio 2*M/T, where M is the number of runes in matching
// blocks and T the combined length. Two empty strings score 1.
type SequenceRatio struct{}

func (SequenceRatio) Score(a, b string) float64 {
	m := difflib.NewMatcher(runeStrings(NormalizeWord(a)), runeStrings(NormalizeWord(b)))
	return m.Ratio()
}

// NormalizeWord applies the normalization SequenceRatio uses before scoring.
func NormalizeWord(s string) string {
	s = norm.NFC.String(s)
	s = strings.TrimFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsMark(r) && !unicode.IsDigit(r)
	})
	// Casers carry state, so one per call keeps Score safe for concurrent use.
	return cases.Fold().String(s)
}

func runeStrings(s string) []string {
	out := make([]string, 0, len(s))
	for _, r := range s {
		out = append(out, string(r))
	}
	return out
}

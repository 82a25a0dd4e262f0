package align

import (
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// tokenRe matches a run of word characters with at most one interior
// apostrophe group. Both the ASCII apostrophe and U+2019 are accepted so
// typographic scripts tokenize like plain ones.
var tokenRe = regexp.MustCompile(`[\p{L}\p{M}\p{N}_]+(?:['\x{2019}][\p{L}\p{M}\p{N}_]+)?`)

var hyphenReplacer = strings.NewReplacer("-", " ", "‐", " ", "‑", " ")

// Tokenize splits a script line into word tokens.
//
// Hyphens become spaces first, so "well-known" yields two tokens, while
// "don't" stays one. Input is NFC-normalized so composed and decomposed
// spellings of the same text produce identical tokens. Token case is kept.
func Tokenize(line string) []string {
	line = norm.NFC.String(line)
	line = hyphenReplacer.Replace(line)
	return tokenRe.FindAllString(line, -1)
}

// CountTokens returns the total token count across lines.
func CountTokens(lines []ScriptLine) int {
	n := 0
	for _, l := range lines {
		n += len(l.Tokens)
	}
	return n
}

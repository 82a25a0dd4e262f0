package align

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTokenize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{"plain", "Hello world", []string{"Hello", "world"}},
		{"punctuation dropped", "Hello, world!", []string{"Hello", "world"}},
		{"hyphen splits", "a well-known fact", []string{"a", "well", "known", "fact"}},
		{"unicode hyphen splits", "state‐of‑the-art", []string{"state", "of", "the", "art"}},
		{"apostrophe kept", "don't stop", []string{"don't", "stop"}},
		{"typographic apostrophe kept", "don’t stop", []string{"don’t", "stop"}},
		{"single apostrophe group", "rock'n'roll", []string{"rock'n", "roll"}},
		{"leading apostrophe dropped", "'tis the season", []string{"tis", "the", "season"}},
		{"digits", "It's 2024.", []string{"It's", "2024"}},
		{"underscore is a word char", "snake_case here", []string{"snake_case", "here"}},
		{"accented", "café au lait", []string{"café", "au", "lait"}},
		{"only punctuation", "... -- !!", nil},
		{"empty", "", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Tokenize(tt.in)
			if tt.want == nil {
				assert.Empty(t, got)
				return
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTokenize_NFCEquivalence(t *testing.T) {
	composed := "café"
	decomposed := "cafe\u0301"
	assert.Equal(t, Tokenize(composed), Tokenize(decomposed))
	assert.Equal(t, []string{composed}, Tokenize(decomposed))
}

func TestNewScriptLines_KeepsRaw(t *testing.T) {
	lines := NewScriptLines([]string{"  Hi -- there  ", "x"})
	assert.Equal(t, "  Hi -- there  ", lines[0].Raw)
	assert.Equal(t, []string{"Hi", "there"}, lines[0].Tokens)
	assert.Equal(t, 3, CountTokens(lines))
}

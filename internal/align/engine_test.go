package align

import (
	"math"
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func w(text string, start, end float64) TimedWord {
	return TimedWord{Text: text, Start: start, End: end}
}

// ── Exact strategy ───────────────────────────────────────────────────

func TestAlign_ExactCountMatch(t *testing.T) {
	lines := NewScriptLines([]string{"Hello world", "this is a test"})
	words := []TimedWord{
		w("Hello", 0.5, 0.8), w("world", 0.9, 1.2),
		w("this", 1.3, 1.5), w("is", 1.6, 1.7), w("a", 1.8, 1.9), w("test", 2.0, 2.3),
	}

	res, err := Align(lines, words)
	require.NoError(t, err)
	require.Len(t, res.Segments, 2)

	assert.Equal(t, "Hello world", res.Segments[0].ScriptLine)
	assert.Equal(t, 0.5, res.Segments[0].Start)
	assert.Equal(t, 1.2, res.Segments[0].End)
	assert.Equal(t, "this is a test", res.Segments[1].ScriptLine)
	assert.Equal(t, 1.3, res.Segments[1].Start)
	assert.Equal(t, 2.3, res.Segments[1].End)

	assert.Equal(t, StrategyExact, res.Report.Strategy)
	assert.Nil(t, res.Report.Mismatch)
	assert.True(t, res.Report.Clean())
}

func TestAlign_ExactSubstitutesScriptText(t *testing.T) {
	lines := NewScriptLines([]string{"Hello world", "this is a test"})
	// Same count, but recognition got two words wrong.
	words := []TimedWord{
		w(" hullo", 0.5, 0.8), w(" word", 0.9, 1.2),
		w(" this", 1.3, 1.5), w(" id", 1.6, 1.7), w(" a", 1.8, 1.9), w(" test.", 2.0, 2.3),
	}

	res, err := Align(lines, words)
	require.NoError(t, err)
	require.Len(t, res.Segments, 2)

	var got []string
	for _, s := range res.Segments {
		for _, word := range s.Words {
			got = append(got, word.Text)
		}
	}
	assert.Equal(t, []string{"Hello", "world", "this", "is", "a", "test"}, got)
	assert.Equal(t, 1.6, res.Segments[1].Words[1].Start, "timestamps are kept as transcribed")
}

func TestAlign_ExactDropsTokenlessLines(t *testing.T) {
	lines := NewScriptLines([]string{"one two", "...", "three"})
	words := []TimedWord{w("one", 0, 1), w("two", 1, 2), w("three", 2, 3)}

	res, err := Align(lines, words)
	require.NoError(t, err)
	require.Len(t, res.Segments, 2)
	assert.Equal(t, "three", res.Segments[1].ScriptLine)
	assert.Equal(t, []int{1}, res.Report.DroppedLines)
}

func TestAlign_ExactDeterministic(t *testing.T) {
	lines := NewScriptLines([]string{"a quick brown fox", "jumps over", "the lazy dog"})
	words := make([]TimedWord, 0, 9)
	for i, tok := range []string{"a", "quick", "brown", "fox", "jumps", "over", "the", "lazy", "dog"} {
		words = append(words, w(tok, float64(i), float64(i)+0.5))
	}

	first, err := Align(lines, words)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := Align(lines, words)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

// ── Fuzzy strategy ───────────────────────────────────────────────────

func TestAlign_FuzzySkipsFillerWord(t *testing.T) {
	lines := NewScriptLines([]string{"hello world"})
	words := []TimedWord{w("hello", 0, 0.3), w("uh", 0.3, 0.4), w("world", 0.4, 0.7)}

	res, err := Align(lines, words)
	require.NoError(t, err)
	require.Len(t, res.Segments, 1)

	seg := res.Segments[0]
	assert.Equal(t, 0.0, seg.Start)
	assert.Equal(t, 0.7, seg.End)
	require.Len(t, seg.Words, 2)
	assert.Equal(t, "hello", seg.Words[0].Text)
	assert.Equal(t, "world", seg.Words[1].Text)

	require.NotNil(t, res.Report.Mismatch)
	assert.Equal(t, StrategyFuzzy, res.Report.Strategy)
	assert.Equal(t, 3, res.Report.Mismatch.TranscriptWords)
	assert.Equal(t, 2, res.Report.Mismatch.ScriptTokens)
	assert.Equal(t, 1, res.Report.Mismatch.Delta())
	assert.Equal(t, []string{"uh"}, res.Report.Mismatch.UnusedWords)
	assert.Empty(t, res.Report.Skipped)
}

func TestAlign_FuzzyDropsLineWithoutMatches(t *testing.T) {
	lines := NewScriptLines([]string{"aaa", "hello"})
	words := []TimedWord{w("hello", 1.0, 1.2)}

	res, err := Align(lines, words)
	require.NoError(t, err)
	require.Len(t, res.Segments, 1)
	assert.Equal(t, "hello", res.Segments[0].ScriptLine)
	assert.Equal(t, 1.0, res.Segments[0].Start)
	assert.Equal(t, 1.2, res.Segments[0].End)

	assert.Equal(t, []int{0}, res.Report.DroppedLines)
	require.Len(t, res.Report.Skipped, 1)
	assert.Equal(t, "aaa", res.Report.Skipped[0].Token)
	assert.False(t, res.Report.Skipped[0].Exhausted)
	assert.Equal(t, []string{"aaa"}, res.Report.Mismatch.SkippedTokens)
}

func TestAlign_FuzzyKeepsTranscriptText(t *testing.T) {
	lines := NewScriptLines([]string{"Hello there, friend"})
	words := []TimedWord{w(" hello", 0, 0.2), w(" um", 0.2, 0.3), w(" there,", 0.3, 0.5), w(" friend.", 0.5, 0.9)}

	res, err := Align(lines, words)
	require.NoError(t, err)
	require.Len(t, res.Segments, 1)

	var got []string
	for _, word := range res.Segments[0].Words {
		got = append(got, word.Text)
	}
	assert.Equal(t, []string{"hello", "there,", "friend."}, got)
	assert.Equal(t, "Hello there, friend", res.Segments[0].ScriptLine)
}

func TestAlign_FuzzyExhaustedTranscript(t *testing.T) {
	lines := NewScriptLines([]string{"one two three"})
	words := []TimedWord{w("one", 0, 0.4)}

	res, err := Align(lines, words)
	require.NoError(t, err)
	require.Len(t, res.Segments, 1)
	assert.Len(t, res.Segments[0].Words, 1)

	require.Len(t, res.Report.Skipped, 2)
	for _, s := range res.Report.Skipped {
		assert.True(t, s.Exhausted, "token %q should be skipped without search", s.Token)
	}
}

func TestAlign_FuzzyWindowIsBounded(t *testing.T) {
	lines := NewScriptLines([]string{"target"})
	words := []TimedWord{
		w("xx", 0, 1), w("yy", 1, 2), w("zz", 2, 3), w("qq", 3, 4), w("vv", 4, 5),
		w("target", 5, 6),
	}

	res, err := Align(lines, words)
	require.NoError(t, err)
	assert.Empty(t, res.Segments, "match sits one past the window")

	wide, err := New(Options{Window: 6}).Align(lines, words)
	require.NoError(t, err)
	require.Len(t, wide.Segments, 1)
	assert.Equal(t, 5.0, wide.Segments[0].Start)
}

func TestAlign_FuzzyHugeWindow(t *testing.T) {
	lines := NewScriptLines([]string{"alpha beta gamma"})
	words := []TimedWord{w("alpha", 0, 1), w("zz", 1, 2), w("beta", 2, 3), w("gamma", 3, 4)}

	res, err := New(Options{Window: math.MaxInt}).Align(lines, words)
	require.NoError(t, err)
	require.Len(t, res.Segments, 1)
	assert.Len(t, res.Segments[0].Words, 3)
	assert.Empty(t, res.Report.Skipped)
	assert.Equal(t, []string{"zz"}, res.Report.Mismatch.UnusedWords)
}

func TestAlign_FuzzyTiesPreferEarliest(t *testing.T) {
	lines := NewScriptLines([]string{"go"})
	words := []TimedWord{w("go", 0, 1), w("go", 1, 2)}

	res, err := Align(lines, words)
	require.NoError(t, err)
	require.Len(t, res.Report.Matches, 1)
	assert.Equal(t, 0, res.Report.Matches[0].TranscriptIndex)
}

func TestAlign_FuzzyThresholdIsStrict(t *testing.T) {
	fixed := SimilarityFunc(func(a, b string) float64 { return 0.6 })
	lines := NewScriptLines([]string{"alpha beta"})
	words := []TimedWord{w("alpha", 0, 1)}

	res, err := New(Options{Similarity: fixed}).Align(lines, words)
	require.NoError(t, err)
	assert.Empty(t, res.Segments)
	assert.Len(t, res.Report.Skipped, 2)
}

func TestAlign_FuzzySkipDoesNotAdvanceCursor(t *testing.T) {
	lines := NewScriptLines([]string{"zzz alpha"})
	words := []TimedWord{w("alpha", 0, 1)}

	res, err := Align(lines, words)
	require.NoError(t, err)
	require.Len(t, res.Segments, 1)
	assert.Equal(t, "alpha", res.Segments[0].Words[0].Text)
}

// ── Failure semantics ────────────────────────────────────────────────

func TestAlign_EmptyTranscript(t *testing.T) {
	lines := NewScriptLines([]string{"hello", "world"})

	res, err := Align(lines, nil)
	require.NoError(t, err)
	assert.NotNil(t, res.Segments)
	assert.Empty(t, res.Segments)
	assert.Equal(t, StrategyNone, res.Report.Strategy)
	require.NotNil(t, res.Report.EmptyTranscript)
	assert.Equal(t, 2, res.Report.EmptyTranscript.ScriptTokens)
	assert.Equal(t, []int{0, 1}, res.Report.DroppedLines)
}

func TestAlign_EmptyScript(t *testing.T) {
	_, err := Align(nil, []TimedWord{w("hello", 0, 1)})
	assert.ErrorIs(t, err, ErrEmptyScript)
}

// ── Invariants over noisy transcripts ────────────────────────────────

func TestAlign_FuzzyInvariants(t *testing.T) {
	vocab := strings.Fields("the quick brown fox jumps over lazy dog while seven bright owls watch quietly from above")
	rng := rand.New(rand.NewSource(42))

	for run := 0; run < 200; run++ {
		var raw []string
		var tokens []string
		for l := 0; l < 1+rng.Intn(5); l++ {
			var lw []string
			for i := 0; i < 1+rng.Intn(6); i++ {
				tok := vocab[rng.Intn(len(vocab))]
				lw = append(lw, tok)
				tokens = append(tokens, tok)
			}
			raw = append(raw, strings.Join(lw, " "))
		}

		var words []TimedWord
		clock := 0.0
		for _, tok := range tokens {
			switch rng.Intn(6) {
			case 0: // dropped by the recognizer
				continue
			case 1: // filler inserted before the word
				words = append(words, w("um", clock, clock+0.1))
				clock += 0.1
			case 2: // misheard
				tok = tok[:len(tok)-1] + "x"
			}
			words = append(words, w(tok, clock, clock+0.3))
			clock += 0.3
		}

		lines := NewScriptLines(raw)
		res, err := Align(lines, words)
		require.NoError(t, err)

		assert.LessOrEqual(t, len(res.Segments), len(lines))
		assert.Equal(t, len(lines), len(res.Segments)+len(res.Report.DroppedLines))

		seen := map[int]bool{}
		prev := -1
		for _, m := range res.Report.Matches {
			assert.False(t, seen[m.TranscriptIndex], "transcript index %d reused", m.TranscriptIndex)
			seen[m.TranscriptIndex] = true
			if res.Report.Strategy == StrategyFuzzy {
				assert.Greater(t, m.TranscriptIndex, prev)
			}
			prev = m.TranscriptIndex
		}

		for _, seg := range res.Segments {
			require.NotEmpty(t, seg.Words)
			assert.Equal(t, seg.Words[0].Start, seg.Start)
			assert.Equal(t, seg.Words[len(seg.Words)-1].End, seg.End)
		}
	}
}

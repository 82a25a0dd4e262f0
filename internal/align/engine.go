package align

import "strings"

const (
	// DefaultWindow is how many transcript words, starting at the cursor, the
	// fuzzy strategy considers for each script token.
	DefaultWindow = 5

	// DefaultThreshold is the similarity a candidate must exceed (strictly)
	// to be accepted.
	DefaultThreshold = 0.6
)

// Options configures an Aligner. Zero values select the defaults.
type Options struct {
	Window     int
	Threshold  float64
	Similarity Similarity
}

// Aligner matches transcript words onto script lines. It holds configuration
// only; every Align call owns its own cursor, so one Aligner may be shared by
// any number of goroutines.
type Aligner struct {
	window     int
	threshold  float64
	similarity Similarity
}

// New creates an Aligner from opts.
func New(opts Options) *Aligner {
	a := &Aligner{
		window:     opts.Window,
		threshold:  opts.Threshold,
		similarity: opts.Similarity,
	}
	if a.window <= 0 {
		a.window = DefaultWindow
	}
	if a.threshold <= 0 {
		a.threshold = DefaultThreshold
	}
	if a.similarity == nil {
		a.similarity = SequenceRatio{}
	}
	return a
}

// Window returns the configured look-ahead width.
func (a *Aligner) Window() int { return a.window }

// Threshold returns the configured acceptance threshold.
func (a *Aligner) Threshold() float64 { return a.threshold }

// Align runs one alignment with a default Aligner.
func Align(lines []ScriptLine, words []TimedWord) (Result, error) {
	return New(Options{}).Align(lines, words)
}

// Align binds transcript words to script lines.
//
// When the transcript word count equals the script token count, words are
// assigned positionally and take the script's token text. Otherwise each token
// is searched for in a forward-only window of the transcript and accepted only
// above the similarity threshold. Lines that end up with no words are left out
// of the result. A count mismatch is never an error; only an empty script is.
func (a *Aligner) Align(lines []ScriptLine, words []TimedWord) (Result, error) {
	if len(lines) == 0 {
		return Result{}, ErrEmptyScript
	}

	rep := Report{
		ScriptLines:     len(lines),
		ScriptTokens:    CountTokens(lines),
		TranscriptWords: len(words),
	}

	if len(words) == 0 {
		rep.Strategy = StrategyNone
		rep.EmptyTranscript = &EmptyTranscriptWarning{
			ScriptLines:  rep.ScriptLines,
			ScriptTokens: rep.ScriptTokens,
		}
		for i := range lines {
			rep.DroppedLines = append(rep.DroppedLines, i)
		}
		return Result{Segments: []AlignedSegment{}, Report: rep}, nil
	}

	var segs []AlignedSegment
	if rep.TranscriptWords == rep.ScriptTokens {
		rep.Strategy = StrategyExact
		segs = a.alignExact(lines, words, &rep)
	} else {
		rep.Strategy = StrategyFuzzy
		rep.Mismatch = &WordCountMismatch{
			TranscriptWords: rep.TranscriptWords,
			ScriptTokens:    rep.ScriptTokens,
		}
		segs = a.alignFuzzy(lines, words, &rep)
	}
	if segs == nil {
		segs = []AlignedSegment{}
	}
	return Result{Segments: segs, Report: rep}, nil
}

// alignExact walks tokens and words in lockstep. Segments are only produced
// for existing script lines, so a desynced transcript can never add lines.
func (a *Aligner) alignExact(lines []ScriptLine, words []TimedWord, rep *Report) []AlignedSegment {
	segs := make([]AlignedSegment, 0, len(lines))
	pos := 0
	for li, line := range lines {
		matched := make([]TimedWord, 0, len(line.Tokens))
		for ti, tok := range line.Tokens {
			if pos >= len(words) {
				break
			}
			w := words[pos]
			w.Text = tok
			matched = append(matched, w)
			rep.Matches = append(rep.Matches, Match{Line: li, TokenIndex: ti, TranscriptIndex: pos, Score: 1})
			pos++
		}
		if seg, ok := BuildSegment(line, matched); ok {
			segs = append(segs, seg)
		} else {
			rep.DroppedLines = append(rep.DroppedLines, li)
		}
	}
	return segs
}

// alignFuzzy searches a bounded window ahead of a forward-only cursor for each
// token. An accepted word moves the cursor past it, so no word is used twice
// and matched indices strictly increase.
func (a *Aligner) alignFuzzy(lines []ScriptLine, words []TimedWord, rep *Report) []AlignedSegment {
	used := make([]bool, len(words))
	segs := make([]AlignedSegment, 0, len(lines))
	cursor := 0

	for li, line := range lines {
		var matched []TimedWord
		for ti, tok := range line.Tokens {
			if cursor >= len(words) {
				rep.Skipped = append(rep.Skipped, NoMatchForToken{Line: li, TokenIndex: ti, Token: tok, Exhausted: true})
				continue
			}

			best, score := a.search(tok, words, cursor)
			if score > a.threshold {
				w := words[best]
				w.Text = strings.TrimSpace(w.Text)
				matched = append(matched, w)
				used[best] = true
				rep.Matches = append(rep.Matches, Match{Line: li, TokenIndex: ti, TranscriptIndex: best, Score: score})
				cursor = best + 1
				continue
			}
			rep.Skipped = append(rep.Skipped, NoMatchForToken{Line: li, TokenIndex: ti, Token: tok, BestScore: score})
		}

		if seg, ok := BuildSegment(line, matched); ok {
			segs = append(segs, seg)
		} else {
			rep.DroppedLines = append(rep.DroppedLines, li)
		}
	}

	for i, u := range used {
		if !u {
			rep.Mismatch.UnusedWords = append(rep.Mismatch.UnusedWords, strings.TrimSpace(words[i].Text))
		}
	}
	for _, s := range rep.Skipped {
		rep.Mismatch.SkippedTokens = append(rep.Mismatch.SkippedTokens, s.Token)
	}
	return segs
}

// search returns the best-scoring index in [cursor, cursor+window). The
// earliest index wins ties.
func (a *Aligner) search(token string, words []TimedWord, cursor int) (int, float64) {
	end := len(words)
	if a.window < end-cursor {
		end = cursor + a.window
	}
	best := cursor
	bestScore := a.similarity.Score(token, words[cursor].Text)
	for i := cursor + 1; i < end; i++ {
		if s := a.similarity.Score(token, words[i].Text); s > bestScore {
			best, bestScore = i, s
		}
	}
	return best, bestScore
}

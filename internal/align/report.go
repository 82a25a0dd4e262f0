package align

import (
	"errors"
	"math"
)

var (
	// ErrEmptyScript is the only condition that stops an alignment run.
	ErrEmptyScript = errors.New("align: script has no lines")

	// ErrEmptyTranscript is returned by Flatten when no words were produced.
	ErrEmptyTranscript = errors.New("align: transcript has no words")
)

// Strategy identifies how a run matched words to tokens.
type Strategy string

const (
	StrategyExact Strategy = "exact" // word count == token count, positional 1:1
	StrategyFuzzy Strategy = "fuzzy" // counts differ, windowed similarity search
	StrategyNone  Strategy = "none"  // nothing to match (empty transcript)
)

// Match records one accepted token → transcript word pairing.
type Match struct {
	Line            int     `json:"line"`
	TokenIndex      int     `json:"token_index"`
	TranscriptIndex int     `json:"transcript_index"`
	Score           float64 `json:"score"`
}

// NoMatchForToken records a script token that received no word. Exhausted is
// set when the transcript ran out before the token was searched.
type NoMatchForToken struct {
	Line       int     `json:"line"`
	TokenIndex int     `json:"token_index"`
	Token      string  `json:"token"`
	BestScore  float64 `json:"best_score"`
	Exhausted  bool    `json:"exhausted,omitempty"`
}

// WordCountMismatch is raised (as data, not as an error) when the transcript
// word count differs from the script token count, which forces the fuzzy
// strategy. UnusedWords lists transcript words no token consumed;
// SkippedTokens lists script tokens that got no word.
type WordCountMismatch struct {
	TranscriptWords int      `json:"transcript_words"`
	ScriptTokens    int      `json:"script_tokens"`
	UnusedWords     []string `json:"unused_words,omitempty"`
	SkippedTokens   []string `json:"skipped_tokens,omitempty"`
}

// Delta returns transcript words minus script tokens.
func (m WordCountMismatch) Delta() int { return m.TranscriptWords - m.ScriptTokens }

// Ratio returns |delta| relative to the script token count.
func (m WordCountMismatch) Ratio() float64 {
	if m.ScriptTokens == 0 {
		return math.Inf(1)
	}
	return math.Abs(float64(m.Delta())) / float64(m.ScriptTokens)
}

// EmptyTranscriptWarning means the script was fine but no speech was
// recognized; the result is empty.
type EmptyTranscriptWarning struct {
	ScriptLines  int `json:"script_lines"`
	ScriptTokens int `json:"script_tokens"`
}

// Report carries the structured diagnostics of one alignment run.
type Report struct {
	Strategy        Strategy                `json:"strategy"`
	ScriptLines     int                     `json:"script_lines"`
	ScriptTokens    int                     `json:"script_tokens"`
	TranscriptWords int                     `json:"transcript_words"`
	Matches         []Match                 `json:"matches,omitempty"`
	Skipped         []NoMatchForToken       `json:"skipped,omitempty"`
	DroppedLines    []int                   `json:"dropped_lines,omitempty"`
	Mismatch        *WordCountMismatch      `json:"mismatch,omitempty"`
	EmptyTranscript *EmptyTranscriptWarning `json:"empty_transcript,omitempty"`
}

// MatchedWords returns the number of transcript words bound to a script line.
func (r Report) MatchedWords() int { return len(r.Matches) }

// Clean reports whether the run needed no recovery of any kind.
func (r Report) Clean() bool {
	return r.Mismatch == nil && r.EmptyTranscript == nil && len(r.Skipped) == 0 && len(r.DroppedLines) == 0
}

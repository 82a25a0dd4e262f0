// Package align maps machine-transcribed, time-stamped words back onto an
// authoritative script. It is pure computation: no I/O, no logging, no
// shared state between calls.
package align

import "encoding/json"

// TimedWord is a single transcribed word with its start/end offsets in seconds.
type TimedWord struct {
	Text  string  `json:"text"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// UnmarshalJSON accepts the Whisper word shape {"word", "start", "end"} as
// well as the "text" key TimedWord marshals to. "word" wins when both are set.
func (w *TimedWord) UnmarshalJSON(data []byte) error {
	var raw struct {
		Text  string  `json:"text"`
		Word  string  `json:"word"`
		Start float64 `json:"start"`
		End   float64 `json:"end"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	w.Text = raw.Word
	if w.Text == "" {
		w.Text = raw.Text
	}
	w.Start, w.End = raw.Start, raw.End
	return nil
}

// Segment is one chunk of transcription output as emitted by a speech-to-text
// provider. Only the words matter for alignment.
type Segment struct {
	Text  string      `json:"text,omitempty"`
	Start float64     `json:"start"`
	End   float64     `json:"end"`
	Words []TimedWord `json:"words"`
}

// ScriptLine is one line of the authoritative script. Raw is kept verbatim for
// display; Tokens drive matching.
type ScriptLine struct {
	Raw    string   `json:"raw"`
	Tokens []string `json:"tokens"`
}

// NewScriptLine tokenizes raw into a ScriptLine.
func NewScriptLine(raw string) ScriptLine {
	return ScriptLine{Raw: raw, Tokens: Tokenize(raw)}
}

// NewScriptLines tokenizes each raw line in order.
func NewScriptLines(raw []string) []ScriptLine {
	lines := make([]ScriptLine, len(raw))
	for i, r := range raw {
		lines[i] = NewScriptLine(r)
	}
	return lines
}

// AlignedSegment is a script line bound to the transcript words that were
// matched to it. Start and End always equal the first word's start and the
// last word's end. With the exact strategy each word's Text is the script
// token; with the fuzzy strategy it is the transcript word with surrounding
// whitespace trimmed (Whisper emits " hello").
type AlignedSegment struct {
	ScriptLine string      `json:"script_line"`
	Words      []TimedWord `json:"words"`
	Start      float64     `json:"start"`
	End        float64     `json:"end"`
}

// Duration returns End - Start.
func (s AlignedSegment) Duration() float64 { return s.End - s.Start }

// Result is the output of one alignment run.
type Result struct {
	Segments []AlignedSegment `json:"segments"`
	Report   Report           `json:"report"`
}

package transcribe

import (
	"context"
	"errors"
	"strings"

	"github.com/snarg/scriptsync/internal/align"
)

// ErrNoProvider is returned by NewProvider when transcription is disabled.
var ErrNoProvider = errors.New("transcription provider not configured")

// Provider is the interface for speech-to-text backends.
type Provider interface {
	Transcribe(ctx context.Context, audioPath string, opts Options) (*Response, error)
	Name() string  // "whisper", "deepinfra", "elevenlabs", "aws"
	Model() string // model identifier for DB/logs
}

// Options are per-request transcription options. Zero-value fields are
// omitted from provider requests.
type Options struct {
	Language    string
	Temperature float64
	Prompt      string // initial prompt / domain vocabulary
	Hotwords    string // comma-separated boost terms
	BeamSize    int
	VadFilter   bool
}

// Response is the common transcription result from any provider.
type Response struct {
	Provider string          `json:"provider"`
	Model    string          `json:"model"`
	Text     string          `json:"text"`
	Language string          `json:"language"`
	Duration float64         `json:"duration"` // audio duration in seconds
	Segments []align.Segment `json:"segments"`
}

// Words flattens the response into the word sequence the aligner consumes.
func (r *Response) Words() ([]align.TimedWord, error) {
	if r == nil {
		return align.Flatten(nil)
	}
	return align.Flatten(r.Segments)
}

// WordCount returns the number of timed words across all segments.
func (r *Response) WordCount() int {
	n := 0
	for _, s := range r.Segments {
		n += len(s.Words)
	}
	return n
}

// newWord trims provider padding from text and clamps an inverted range so
// Start <= End always holds.
func newWord(text string, start, end float64) align.TimedWord {
	if end < start {
		end = start
	}
	return align.TimedWord{Text: strings.TrimSpace(text), Start: start, End: end}
}

// segmentsFromText synthesizes word-level entries from segment-level
// timestamps. Each segment's text is split into words and timestamps are
// interpolated evenly across the segment's time range.
func segmentsFromText(segments []align.Segment) []align.Segment {
	out := make([]align.Segment, 0, len(segments))
	for _, seg := range segments {
		text := strings.TrimSpace(seg.Text)
		if text == "" {
			continue
		}
		tokens := strings.Fields(text)
		wordDur := (seg.End - seg.Start) / float64(len(tokens))
		words := make([]align.TimedWord, len(tokens))
		for i, tok := range tokens {
			words[i] = newWord(tok, seg.Start+float64(i)*wordDur, seg.Start+float64(i+1)*wordDur)
		}
		out = append(out, align.Segment{Text: text, Start: seg.Start, End: seg.End, Words: words})
	}
	return out
}

func languageOrDefault(lang string) string {
	if lang == "" {
		return "en"
	}
	return lang
}

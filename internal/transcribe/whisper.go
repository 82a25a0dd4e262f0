package transcribe

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/snarg/scriptsync/internal/align"
)

// WhisperClient calls an OpenAI-compatible /v1/audio/transcriptions endpoint.
type WhisperClient struct {
	url    string
	model  string
	client *http.Client
}

// whisperResponse is the verbose_json reply. OpenAI returns word timestamps
// at the top level; faster-whisper based servers nest them in segments.
type whisperResponse struct {
	Text     string           `json:"text"`
	Language string           `json:"language"`
	Duration float64          `json:"duration"`
	Segments []whisperSegment `json:"segments"`
	Words    []whisperWord    `json:"words"`
}

type whisperSegment struct {
	Text  string        `json:"text"`
	Start float64       `json:"start"`
	End   float64       `json:"end"`
	Words []whisperWord `json:"words"`
}

type whisperWord struct {
	Word  string  `json:"word"`
	Text  string  `json:"text"` // saved Response files
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// NewWhisperClient creates a new Whisper HTTP client.
func NewWhisperClient(url, model string, timeout time.Duration) *WhisperClient {
	return &WhisperClient{
		url:    url,
		model:  model,
		client: &http.Client{Timeout: timeout},
	}
}

func (wc *WhisperClient) Name() string  { return "whisper" }
func (wc *WhisperClient) Model() string { return wc.model }

// Transcribe sends an audio file to the Whisper API with word-level
// timestamps requested. Only non-default parameters are sent, so this works
// with speaches, whisper.cpp server or the OpenAI endpoint itself.
func (wc *WhisperClient) Transcribe(ctx context.Context, audioPath string, opts Options) (*Response, error) {
	fields := []formField{
		{"language", languageOrDefault(opts.Language)},
		{"temperature", fmt.Sprintf("%.2f", opts.Temperature)},
		{"response_format", "verbose_json"},
		{"timestamp_granularities[]", "word"},
		{"timestamp_granularities[]", "segment"},
	}
	if wc.model != "" {
		fields = append(fields, formField{"model", wc.model})
	}
	if opts.Prompt != "" {
		fields = append(fields, formField{"prompt", opts.Prompt})
	}
	if opts.Hotwords != "" {
		fields = append(fields, formField{"hotwords", opts.Hotwords})
	}
	if opts.BeamSize > 0 {
		fields = append(fields, formField{"beam_size", strconv.Itoa(opts.BeamSize)})
	}
	if opts.VadFilter {
		fields = append(fields, formField{"vad_filter", "true"})
	}

	body, err := postAudio(ctx, wc.client, wc.url, "file", audioPath, fields, nil)
	if err != nil {
		return nil, fmt.Errorf("whisper request: %w", err)
	}

	var result whisperResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	return &Response{
		Provider: wc.Name(),
		Model:    wc.model,
		Text:     result.Text,
		Language: result.Language,
		Duration: result.Duration,
		Segments: result.segments(),
	}, nil
}

// segments converts either response layout into align segments. Nested
// words win; a flat word list becomes one segment; segments without any words
// get interpolated word timings.
func (r whisperResponse) segments() []align.Segment {
	nested := false
	for _, s := range r.Segments {
		if len(s.Words) > 0 {
			nested = true
			break
		}
	}

	switch {
	case nested:
		out := make([]align.Segment, 0, len(r.Segments))
		for _, s := range r.Segments {
			out = append(out, align.Segment{Text: s.Text, Start: s.Start, End: s.End, Words: convertWhisperWords(s.Words)})
		}
		return out
	case len(r.Words) > 0:
		words := convertWhisperWords(r.Words)
		return []align.Segment{{
			Text:  r.Text,
			Start: words[0].Start,
			End:   words[len(words)-1].End,
			Words: words,
		}}
	default:
		segs := make([]align.Segment, len(r.Segments))
		for i, s := range r.Segments {
			segs[i] = align.Segment{Text: s.Text, Start: s.Start, End: s.End}
		}
		return segmentsFromText(segs)
	}
}

func convertWhisperWords(in []whisperWord) []align.TimedWord {
	out := make([]align.TimedWord, len(in))
	for i, w := range in {
		text := w.Word
		if text == "" {
			text = w.Text
		}
		out[i] = newWord(text, w.Start, w.End)
	}
	return out
}

package transcribe

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/snarg/scriptsync/internal/align"
)

// LoadFile reads an offline transcription result from disk. See Decode.
func LoadFile(path string) (*Response, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	resp, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return resp, nil
}

// Decode parses Whisper verbose_json or WhisperX output: segments with
// nested words, a flat top-level "words" array, or both. A saved Response
// (as written by the transcript cache) decodes the same way.
func Decode(r io.Reader) (*Response, error) {
	var raw struct {
		Provider string           `json:"provider"`
		Model    string           `json:"model"`
		Text     string           `json:"text"`
		Language string           `json:"language"`
		Duration float64          `json:"duration"`
		Segments []whisperSegment `json:"segments"`
		Words    []whisperWord    `json:"words"`
	}
	dec := json.NewDecoder(r)
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("parse transcript json: %w", err)
	}

	segs := whisperResponse{
		Text:     raw.Text,
		Segments: raw.Segments,
		Words:    raw.Words,
	}.segments()

	resp := &Response{
		Provider: raw.Provider,
		Model:    raw.Model,
		Text:     raw.Text,
		Language: raw.Language,
		Duration: raw.Duration,
		Segments: segs,
	}
	if resp.Duration == 0 {
		resp.Duration = lastEnd(segs)
	}
	return resp, nil
}

func lastEnd(segs []align.Segment) float64 {
	end := 0.0
	for _, s := range segs {
		for _, w := range s.Words {
			if w.End > end {
				end = w.End
			}
		}
	}
	return end
}

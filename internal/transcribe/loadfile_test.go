package transcribe

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/snarg/scriptsync/internal/align"
)

func TestDecode_WhisperX(t *testing.T) {
	in := `{
		"language": "en",
		"segments": [
			{"text": " One two.", "start": 0.0, "end": 1.0, "words": [
				{"word": "One", "start": 0.0, "end": 0.4},
				{"word": "two.", "start": 0.5, "end": 1.0}
			]},
			{"text": " Three.", "start": 1.5, "end": 2.5, "words": [
				{"word": "Three.", "start": 1.6, "end": 2.4}
			]}
		]
	}`
	resp, err := Decode(strings.NewReader(in))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(resp.Segments) != 2 {
		t.Fatalf("len(Segments) = %d, want 2", len(resp.Segments))
	}
	if resp.Language != "en" {
		t.Errorf("Language = %q", resp.Language)
	}
	if resp.Duration != 2.4 {
		t.Errorf("Duration = %v, want last word end 2.4", resp.Duration)
	}
}

func TestDecode_FlatWords(t *testing.T) {
	resp, err := Decode(strings.NewReader(`{"text":"a b","duration":9,"words":[{"word":"a","start":1,"end":2},{"word":"b","start":3,"end":4}]}`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if resp.Duration != 9 {
		t.Errorf("explicit duration should win, got %v", resp.Duration)
	}
	words, _ := resp.Words()
	if len(words) != 2 || words[0].Start != 1 || words[1].End != 4 {
		t.Errorf("words = %+v", words)
	}
}

func TestDecode_ClampsInvertedRange(t *testing.T) {
	resp, err := Decode(strings.NewReader(`{"words":[{"word":"x","start":5,"end":4}]}`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	words, _ := resp.Words()
	if words[0].End != 5 {
		t.Errorf("End = %v, want clamped to 5", words[0].End)
	}
}

func TestDecode_Invalid(t *testing.T) {
	if _, err := Decode(strings.NewReader("not json")); err == nil {
		t.Error("expected error")
	}
}

func TestLoadFile_SavedResponse(t *testing.T) {
	orig := &Response{
		Provider: "whisper",
		Model:    "large-v3",
		Text:     "hello there",
		Language: "en",
		Duration: 1.5,
		Segments: []align.Segment{{
			Text:  "hello there",
			Start: 0,
			End:   1.5,
			Words: []align.TimedWord{
				{Text: "hello", Start: 0, End: 0.6},
				{Text: "there", Start: 0.7, End: 1.5},
			},
		}},
	}
	data, err := json.Marshal(orig)
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "cached.json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}

	got, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if got.Provider != "whisper" || got.Model != "large-v3" {
		t.Errorf("provider/model = %s/%s", got.Provider, got.Model)
	}
	words, _ := got.Words()
	if len(words) != 2 || words[1].Text != "there" || words[1].Start != 0.7 {
		t.Errorf("words = %+v", words)
	}
}

func TestLoadFile_Missing(t *testing.T) {
	if _, err := LoadFile(filepath.Join(t.TempDir(), "nope.json")); !os.IsNotExist(err) {
		t.Errorf("error = %v, want not-exist", err)
	}
}

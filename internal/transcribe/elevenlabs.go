package transcribe

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/snarg/scriptsync/internal/align"
)

const elevenLabsSTTEndpoint = "https://api.elevenlabs.io/v1/speech-to-text"

// ElevenLabsClient calls the ElevenLabs Speech-to-Text API.
type ElevenLabsClient struct {
	apiKey   string
	model    string // "scribe_v1" or "scribe_v2"
	keyterms string // comma-separated boost terms
	endpoint string
	client   *http.Client
}

type elevenlabsResponse struct {
	LanguageCode string           `json:"language_code"`
	Text         string           `json:"text"`
	Words        []elevenlabsWord `json:"words"`
}

// elevenlabsWord is a word, spacing or audio_event entry. Times are seconds.
type elevenlabsWord struct {
	Text  string  `json:"text"`
	Type  string  `json:"type"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// NewElevenLabsClient creates a new ElevenLabs STT client.
func NewElevenLabsClient(apiKey, model, keyterms string, timeout time.Duration) *ElevenLabsClient {
	return &ElevenLabsClient{
		apiKey:   apiKey,
		model:    model,
		keyterms: keyterms,
		endpoint: elevenLabsSTTEndpoint,
		client:   &http.Client{Timeout: timeout},
	}
}

func (el *ElevenLabsClient) Name() string  { return "elevenlabs" }
func (el *ElevenLabsClient) Model() string { return el.model }

// Transcribe sends an audio file to the ElevenLabs STT API. Spacing and
// audio-event entries are dropped; only "word" entries become timed words.
func (el *ElevenLabsClient) Transcribe(ctx context.Context, audioPath string, opts Options) (*Response, error) {
	fields := []formField{
		{"model_id", el.model},
		{"language_code", languageOrDefault(opts.Language)},
		{"timestamps_granularity", "word"},
		{"tag_audio_events", "false"},
	}
	if kt := el.buildKeyterms(opts.Hotwords); kt != "" {
		fields = append(fields, formField{"keyterms", kt})
	}
	header := http.Header{}
	header.Set("xi-api-key", el.apiKey)

	body, err := postAudio(ctx, el.client, el.endpoint, "file", audioPath, fields, header)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs request: %w", err)
	}

	var result elevenlabsResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	var words []align.TimedWord
	for _, ew := range result.Words {
		if ew.Type != "word" {
			continue
		}
		words = append(words, newWord(ew.Text, ew.Start, ew.End))
	}

	resp := &Response{
		Provider: el.Name(),
		Model:    el.model,
		Text:     result.Text,
		Language: result.LanguageCode,
	}
	if len(words) > 0 {
		resp.Duration = words[len(words)-1].End
		resp.Segments = []align.Segment{{Text: result.Text, Start: words[0].Start, End: words[len(words)-1].End, Words: words}}
	}
	return resp, nil
}

// buildKeyterms merges config-level keyterms with per-request hotwords into a
// JSON array of {"text": "term"} objects.
func (el *ElevenLabsClient) buildKeyterms(hotwords string) string {
	type keyterm struct {
		Text string `json:"text"`
	}
	var terms []keyterm
	for _, src := range []string{el.keyterms, hotwords} {
		for _, t := range strings.Split(src, ",") {
			if t = strings.TrimSpace(t); t != "" {
				terms = append(terms, keyterm{Text: t})
			}
		}
	}
	if len(terms) == 0 {
		return ""
	}
	b, _ := json.Marshal(terms)
	return string(b)
}

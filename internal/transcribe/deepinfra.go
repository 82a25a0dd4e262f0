package transcribe

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/snarg/scriptsync/internal/align"
)

const deepInfraBaseURL = "https://api.deepinfra.com/v1/inference/"

// DeepInfraClient calls DeepInfra's native inference API for Whisper models.
type DeepInfraClient struct {
	apiKey  string
	model   string // e.g. "openai/whisper-large-v3-turbo"
	baseURL string
	client  *http.Client
}

// deepInfraResponse is the JSON response from the DeepInfra inference API.
// DeepInfra uses "text" for the word field, not "word" like OpenAI.
type deepInfraResponse struct {
	Text     string          `json:"text"`
	Language string          `json:"language"`
	Duration float64         `json:"duration"`
	Words    []deepInfraSpan `json:"words"`
	Segments []deepInfraSpan `json:"segments"`
}

// deepInfraSpan is either a word or a segment; both carry text and times.
type deepInfraSpan struct {
	Text  string  `json:"text"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// NewDeepInfraClient creates a new DeepInfra inference client.
func NewDeepInfraClient(apiKey, model string, timeout time.Duration) *DeepInfraClient {
	return &DeepInfraClient{
		apiKey:  apiKey,
		model:   model,
		baseURL: deepInfraBaseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

func (di *DeepInfraClient) Name() string  { return "deepinfra" }
func (di *DeepInfraClient) Model() string { return di.model }

// Transcribe posts the audio under the "audio" field to
// {baseURL}{model}. Word timestamps are used when present; otherwise they
// are interpolated from segment timestamps.
func (di *DeepInfraClient) Transcribe(ctx context.Context, audioPath string, opts Options) (*Response, error) {
	var fields []formField
	if opts.Language != "" {
		fields = append(fields, formField{"language", opts.Language})
	}
	if opts.Prompt != "" {
		fields = append(fields, formField{"initial_prompt", opts.Prompt})
	}
	header := http.Header{}
	header.Set("Authorization", "Bearer "+di.apiKey)

	body, err := postAudio(ctx, di.client, di.baseURL+di.model, "audio", audioPath, fields, header)
	if err != nil {
		return nil, fmt.Errorf("deepinfra request: %w", err)
	}

	var result deepInfraResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	var segs []align.Segment
	if len(result.Words) > 0 {
		words := make([]align.TimedWord, len(result.Words))
		for i, dw := range result.Words {
			words[i] = newWord(dw.Text, dw.Start, dw.End)
		}
		segs = []align.Segment{{Text: result.Text, Start: words[0].Start, End: words[len(words)-1].End, Words: words}}
	} else {
		raw := make([]align.Segment, len(result.Segments))
		for i, s := range result.Segments {
			raw[i] = align.Segment{Text: s.Text, Start: s.Start, End: s.End}
		}
		segs = segmentsFromText(raw)
	}

	return &Response{
		Provider: di.Name(),
		Model:    di.model,
		Text:     result.Text,
		Language: result.Language,
		Duration: result.Duration,
		Segments: segs,
	}, nil
}

package transcribe

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/snarg/scriptsync/internal/config"
)

// NewProvider builds the provider selected by TRANSCRIBE_PROVIDER. It returns
// ErrNoProvider for "none", in which case callers must supply transcripts.
func NewProvider(ctx context.Context, cfg config.TranscribeConfig, log zerolog.Logger) (Provider, error) {
	var p Provider
	switch strings.ToLower(cfg.Provider) {
	case "", "whisper":
		if cfg.WhisperURL == "" {
			return nil, errors.New("WHISPER_URL is required for the whisper provider")
		}
		p = NewWhisperClient(cfg.WhisperURL, cfg.WhisperModel, cfg.Timeout)
	case "deepinfra":
		if cfg.DeepInfraAPIKey == "" {
			return nil, errors.New("DEEPINFRA_API_KEY is required for the deepinfra provider")
		}
		p = NewDeepInfraClient(cfg.DeepInfraAPIKey, cfg.DeepInfraModel, cfg.Timeout)
	case "elevenlabs":
		if cfg.ElevenLabsAPIKey == "" {
			return nil, errors.New("ELEVENLABS_API_KEY is required for the elevenlabs provider")
		}
		p = NewElevenLabsClient(cfg.ElevenLabsAPIKey, cfg.ElevenLabsModel, cfg.ElevenLabsKeyterms, cfg.Timeout)
	case "aws":
		c, err := NewAWSClient(ctx, AWSOptions{
			Region:      cfg.AWSRegion,
			Bucket:      cfg.AWSBucket,
			PollEvery:   cfg.AWSPollEvery,
			KeepObjects: cfg.AWSKeepObjects,
			Log:         log,
		})
		if err != nil {
			return nil, err
		}
		p = c
	case "none":
		return nil, ErrNoProvider
	default:
		return nil, fmt.Errorf("unknown transcription provider %q", cfg.Provider)
	}

	if cfg.PreprocessAudio {
		if !CheckSox() {
			log.Warn().Msg("PREPROCESS_AUDIO=true but sox not found in PATH; preprocessing disabled")
			return p, nil
		}
		log.Info().Msg("audio preprocessing enabled (sox found)")
		return Preprocessing{
			Provider: p,
			OnError: func(err error) {
				log.Warn().Err(err).Msg("preprocessing failed, using original audio")
			},
		}, nil
	}
	return p, nil
}

// DefaultOptions returns the request options implied by cfg.
func DefaultOptions(cfg config.TranscribeConfig) Options {
	return Options{
		Language:    cfg.Language,
		Temperature: cfg.WhisperTemperature,
		Prompt:      cfg.WhisperPrompt,
	}
}

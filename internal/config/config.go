package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	DatabaseURL string `env:"DATABASE_URL"`

	MQTTBrokerURL   string `env:"MQTT_BROKER_URL"`
	MQTTClientID    string `env:"MQTT_CLIENT_ID" envDefault:"scriptsync"`
	MQTTTopicPrefix string `env:"MQTT_TOPIC_PREFIX" envDefault:"scriptsync"`
	MQTTUsername    string `env:"MQTT_USERNAME"`
	MQTTPassword    string `env:"MQTT_PASSWORD"`

	DataDir  string `env:"DATA_DIR" envDefault:"./data"`
	InboxDir string `env:"INBOX_DIR"`

	HTTPAddr     string        `env:"HTTP_ADDR" envDefault:":8080"`
	ReadTimeout  time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"30s"`
	WriteTimeout time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"5m"`
	IdleTimeout  time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"120s"`
	MaxUploadMB  int           `env:"MAX_UPLOAD_MB" envDefault:"200"`

	AuthToken   string   `env:"AUTH_TOKEN"`
	CORSOrigins []string `env:"CORS_ORIGINS" envSeparator:","`
	LogLevel    string   `env:"LOG_LEVEL" envDefault:"info"`

	Workers    int           `env:"ALIGN_WORKERS" envDefault:"2"`
	QueueSize  int           `env:"ALIGN_QUEUE_SIZE" envDefault:"100"`
	JobTimeout time.Duration `env:"JOB_TIMEOUT" envDefault:"10m"`

	SubtitlePresets string  `env:"SUBTITLE_PRESETS"`
	MaxAudioSeconds float64 `env:"MAX_AUDIO_SECONDS" envDefault:"40"`

	S3         S3Config `envPrefix:"S3_"`
	Transcribe TranscribeConfig
	Align      AlignConfig
}

// S3Config configures the optional S3-compatible object store.
type S3Config struct {
	Bucket         string        `env:"BUCKET"`
	Endpoint       string        `env:"ENDPOINT"`
	Region         string        `env:"REGION" envDefault:"us-east-1"`
	AccessKey      string        `env:"ACCESS_KEY"`
	SecretKey      string        `env:"SECRET_KEY"`
	Prefix         string        `env:"PREFIX"`
	PresignExpiry  time.Duration `env:"PRESIGN_EXPIRY" envDefault:"1h"`
	LocalCache     bool          `env:"LOCAL_CACHE" envDefault:"true"`
	CacheRetention time.Duration `env:"CACHE_RETENTION" envDefault:"720h"`
	CacheMaxGB     int           `env:"CACHE_MAX_GB" envDefault:"0"`
}

// Enabled reports whether an S3 bucket is configured.
func (c S3Config) Enabled() bool { return c.Bucket != "" }

// TranscribeConfig selects and configures the speech-to-text provider.
type TranscribeConfig struct {
	Provider        string        `env:"TRANSCRIBE_PROVIDER" envDefault:"whisper"`
	Language        string        `env:"TRANSCRIBE_LANGUAGE" envDefault:"en"`
	Timeout         time.Duration `env:"TRANSCRIBE_TIMEOUT" envDefault:"5m"`
	PreprocessAudio bool          `env:"PREPROCESS_AUDIO" envDefault:"false"`

	WhisperURL         string  `env:"WHISPER_URL" envDefault:"http://localhost:8000/v1/audio/transcriptions"`
	WhisperModel       string  `env:"WHISPER_MODEL" envDefault:"whisper-1"`
	WhisperTemperature float64 `env:"WHISPER_TEMPERATURE" envDefault:"0"`
	WhisperPrompt      string  `env:"WHISPER_PROMPT"`

	DeepInfraAPIKey string `env:"DEEPINFRA_API_KEY"`
	DeepInfraModel  string `env:"DEEPINFRA_MODEL" envDefault:"openai/whisper-large-v3-turbo"`

	ElevenLabsAPIKey   string `env:"ELEVENLABS_API_KEY"`
	ElevenLabsModel    string `env:"ELEVENLABS_MODEL" envDefault:"scribe_v1"`
	ElevenLabsKeyterms string `env:"ELEVENLABS_KEYTERMS"`

	AWSRegion      string        `env:"AWS_TRANSCRIBE_REGION" envDefault:"us-east-1"`
	AWSBucket      string        `env:"AWS_TRANSCRIBE_BUCKET"`
	AWSPollEvery   time.Duration `env:"AWS_TRANSCRIBE_POLL" envDefault:"5s"`
	AWSKeepObjects bool          `env:"AWS_TRANSCRIBE_KEEP_OBJECTS" envDefault:"false"`
}

// AlignConfig tunes the alignment engine and the review policy around it.
type AlignConfig struct {
	Window              int     `env:"ALIGN_WINDOW" envDefault:"5"`
	Threshold           float64 `env:"ALIGN_THRESHOLD" envDefault:"0.6"`
	MismatchReviewRatio float64 `env:"MISMATCH_REVIEW_RATIO" envDefault:"0.25"`
}

// Overrides holds CLI flag values that take priority over env vars.
type Overrides struct {
	EnvFile     string
	HTTPAddr    string
	LogLevel    string
	DatabaseURL string
	InboxDir    string
	DataDir     string
}

// Load reads configuration from .env file, environment variables, and CLI overrides.
// Priority: CLI flags > environment variables > .env file > struct defaults.
func Load(overrides Overrides) (*Config, error) {
	envFile := overrides.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	if _, err := os.Stat(envFile); err == nil {
		_ = godotenv.Load(envFile)
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	if overrides.HTTPAddr != "" {
		cfg.HTTPAddr = overrides.HTTPAddr
	}
	if overrides.LogLevel != "" {
		cfg.LogLevel = overrides.LogLevel
	}
	if overrides.DatabaseURL != "" {
		cfg.DatabaseURL = overrides.DatabaseURL
	}
	if overrides.InboxDir != "" {
		cfg.InboxDir = overrides.InboxDir
	}
	if overrides.DataDir != "" {
		cfg.DataDir = overrides.DataDir
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints that struct tags cannot express.
func (c *Config) Validate() error {
	if c.Workers < 1 {
		return fmt.Errorf("ALIGN_WORKERS must be >= 1, got %d", c.Workers)
	}
	if c.QueueSize < 1 {
		return fmt.Errorf("ALIGN_QUEUE_SIZE must be >= 1, got %d", c.QueueSize)
	}
	if c.Align.Window < 1 {
		return fmt.Errorf("ALIGN_WINDOW must be >= 1, got %d", c.Align.Window)
	}
	if c.Align.Threshold <= 0 || c.Align.Threshold >= 1 {
		return fmt.Errorf("ALIGN_THRESHOLD must be in (0, 1), got %g", c.Align.Threshold)
	}
	switch strings.ToLower(c.Transcribe.Provider) {
	case "whisper", "deepinfra", "elevenlabs", "aws", "none":
	default:
		return fmt.Errorf("unknown TRANSCRIBE_PROVIDER %q", c.Transcribe.Provider)
	}
	return nil
}

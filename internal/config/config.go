package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/snarg/studynotes/internal/keyrotation"
)

type Config struct {
	DatabaseURL string `env:"DATABASE_URL,required"`

	HTTPAddr     string        `env:"HTTP_ADDR" envDefault:":8080"`
	ReadTimeout  time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"5s"`
	WriteTimeout time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"0s"` // 0: generation streams are long-lived
	IdleTimeout  time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"120s"`

	AuthToken   string   `env:"AUTH_TOKEN"`
	LogLevel    string   `env:"LOG_LEVEL" envDefault:"info"`
	CORSOrigins []string `env:"CORS_ORIGINS" envSeparator:","`

	YouTubeAPIKeys   []string `env:"YOUTUBE_API_KEYS" envSeparator:","`
	YouTubeAPIBase   string   `env:"YOUTUBE_API_BASE"`
	CaptionLanguages []string `env:"CAPTION_LANGUAGES" envSeparator:"," envDefault:"en"`

	LLM     LLMConfig     `envPrefix:"LLM_"`
	Whisper WhisperConfig `envPrefix:"WHISPER_"`

	YTDLPPath        string        `env:"YTDLP_PATH" envDefault:"yt-dlp"`
	TempDir          string        `env:"TEMP_DIR"`
	DownloadTimeout  time.Duration `env:"DOWNLOAD_TIMEOUT" envDefault:"10m"`
	ScratchRetention time.Duration `env:"SCRATCH_RETENTION" envDefault:"1h"`

	RedisURL        string        `env:"REDIS_URL"`
	CacheTTL        time.Duration `env:"CACHE_TTL" envDefault:"6h"`
	CacheMaxEntries int           `env:"CACHE_MAX_ENTRIES" envDefault:"1000"`

	TranscriptDir string   `env:"TRANSCRIPT_DIR" envDefault:"./transcripts"`
	S3            S3Config `envPrefix:"S3_"`

	MQTTBrokerURL   string `env:"MQTT_BROKER_URL"`
	MQTTClientID    string `env:"MQTT_CLIENT_ID" envDefault:"studynotes"`
	MQTTTopicPrefix string `env:"MQTT_TOPIC_PREFIX" envDefault:"studynotes"`
	MQTTUsername    string `env:"MQTT_USERNAME"`
	MQTTPassword    string `env:"MQTT_PASSWORD"`

	PromptsDir string `env:"PROMPTS_DIR"`

	RateLimitRPS   float64 `env:"RATE_LIMIT_RPS" envDefault:"1"`
	RateLimitBurst int     `env:"RATE_LIMIT_BURST" envDefault:"5"`
}

// LLMConfig configures the OpenAI-compatible chat completions client.
type LLMConfig struct {
	APIKeys     []string      `env:"API_KEYS" envSeparator:","`
	BaseURL     string        `env:"BASE_URL" envDefault:"https://api.openai.com/v1"`
	Model       string        `env:"MODEL" envDefault:"gpt-4o-mini"`
	Temperature float64       `env:"TEMPERATURE" envDefault:"0.4"`
	MaxTokens   int           `env:"MAX_TOKENS" envDefault:"4096"`
	Timeout     time.Duration `env:"TIMEOUT" envDefault:"120s"`
}

// WhisperConfig configures the speech-to-text endpoint.
type WhisperConfig struct {
	URL      string        `env:"URL" envDefault:"https://api.openai.com/v1/audio/transcriptions"`
	APIKey   string        `env:"API_KEY"`
	Model    string        `env:"MODEL" envDefault:"whisper-1"`
	Language string        `env:"LANGUAGE"`
	Timeout  time.Duration `env:"TIMEOUT" envDefault:"300s"`
}

// S3Config configures the transcript archive's object store.
type S3Config struct {
	Bucket     string `env:"BUCKET"`
	Endpoint   string `env:"ENDPOINT"`
	Region     string `env:"REGION" envDefault:"us-east-1"`
	AccessKey  string `env:"ACCESS_KEY"`
	SecretKey  string `env:"SECRET_KEY"`
	Prefix     string `env:"PREFIX"`
	LocalCache bool   `env:"LOCAL_CACHE" envDefault:"true"`
}

// Enabled reports whether an S3 bucket is configured.
func (c S3Config) Enabled() bool { return c.Bucket != "" }

// Overrides holds CLI flag values that take priority over env vars.
type Overrides struct {
	EnvFile     string
	HTTPAddr    string
	LogLevel    string
	DatabaseURL string
	TempDir     string
}

// Load reads configuration from .env file, environment variables, and CLI overrides.
// Priority: CLI flags > environment variables > .env file > struct defaults.
// Missing API keys for YouTube or the LLM are a *keyrotation.ConfigurationError.
func Load(overrides Overrides) (*Config, error) {
	// Load .env file (silent if missing)
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

	// Apply CLI overrides (non-empty values win)
	if overrides.HTTPAddr != "" {
		cfg.HTTPAddr = overrides.HTTPAddr
	}
	if overrides.LogLevel != "" {
		cfg.LogLevel = overrides.LogLevel
	}
	if overrides.DatabaseURL != "" {
		cfg.DatabaseURL = overrides.DatabaseURL
	}
	if overrides.TempDir != "" {
		cfg.TempDir = overrides.TempDir
	}

	if cfg.TempDir == "" {
		cfg.TempDir = filepath.Join(os.TempDir(), "studynotes")
	}
	cfg.YouTubeAPIKeys = cleanList(cfg.YouTubeAPIKeys)
	cfg.LLM.APIKeys = cleanList(cfg.LLM.APIKeys)
	cfg.CORSOrigins = cleanList(cfg.CORSOrigins)
	cfg.CaptionLanguages = cleanList(cfg.CaptionLanguages)

	if len(cfg.YouTubeAPIKeys) == 0 {
		return nil, &keyrotation.ConfigurationError{Pool: "youtube (YOUTUBE_API_KEYS)"}
	}
	if len(cfg.LLM.APIKeys) == 0 {
		return nil, &keyrotation.ConfigurationError{Pool: "llm (LLM_API_KEYS)"}
	}
	return cfg, nil
}

func cleanList(in []string) []string {
	out := in[:0]
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

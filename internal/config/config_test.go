package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/snarg/studynotes/internal/keyrotation"
)

func TestLoad(t *testing.T) {
	// Set required env vars for all subtests
	cleanup := setEnvs(t, map[string]string{
		"DATABASE_URL":     "postgres://localhost/test",
		"YOUTUBE_API_KEYS": "yt-1, yt-2,,",
		"LLM_API_KEYS":     "sk-1",
	})
	defer cleanup()

	t.Run("defaults", func(t *testing.T) {
		cfg, err := Load(Overrides{EnvFile: "nonexistent.env"})
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if cfg.HTTPAddr != ":8080" {
			t.Errorf("HTTPAddr = %q, want :8080", cfg.HTTPAddr)
		}
		if cfg.LogLevel != "info" {
			t.Errorf("LogLevel = %q, want info", cfg.LogLevel)
		}
		if cfg.WriteTimeout != 0 {
			t.Errorf("WriteTimeout = %v, want 0 for streaming", cfg.WriteTimeout)
		}
		if cfg.TempDir != filepath.Join(os.TempDir(), "studynotes") {
			t.Errorf("TempDir = %q, want default under os.TempDir()", cfg.TempDir)
		}
		if cfg.YTDLPPath != "yt-dlp" {
			t.Errorf("YTDLPPath = %q, want yt-dlp", cfg.YTDLPPath)
		}
		if cfg.DownloadTimeout != 10*time.Minute {
			t.Errorf("DownloadTimeout = %v, want 10m", cfg.DownloadTimeout)
		}
		if cfg.LLM.Model != "gpt-4o-mini" {
			t.Errorf("LLM.Model = %q, want gpt-4o-mini", cfg.LLM.Model)
		}
		if cfg.LLM.BaseURL != "https://api.openai.com/v1" {
			t.Errorf("LLM.BaseURL = %q", cfg.LLM.BaseURL)
		}
		if cfg.Whisper.Model != "whisper-1" {
			t.Errorf("Whisper.Model = %q, want whisper-1", cfg.Whisper.Model)
		}
		if cfg.MQTTClientID != "studynotes" {
			t.Errorf("MQTTClientID = %q, want studynotes", cfg.MQTTClientID)
		}
		if len(cfg.CaptionLanguages) != 1 || cfg.CaptionLanguages[0] != "en" {
			t.Errorf("CaptionLanguages = %v, want [en]", cfg.CaptionLanguages)
		}
		if cfg.S3.Enabled() {
			t.Error("S3.Enabled() = true without a bucket")
		}
		if cfg.S3.Region != "us-east-1" {
			t.Errorf("S3.Region = %q, want us-east-1", cfg.S3.Region)
		}
	})

	t.Run("key_lists_are_cleaned", func(t *testing.T) {
		cfg, err := Load(Overrides{EnvFile: "nonexistent.env"})
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		want := []string{"yt-1", "yt-2"}
		if len(cfg.YouTubeAPIKeys) != len(want) {
			t.Fatalf("YouTubeAPIKeys = %v, want %v", cfg.YouTubeAPIKeys, want)
		}
		for i := range want {
			if cfg.YouTubeAPIKeys[i] != want[i] {
				t.Errorf("YouTubeAPIKeys[%d] = %q, want %q", i, cfg.YouTubeAPIKeys[i], want[i])
			}
		}
	})

	t.Run("cli_overrides_take_priority", func(t *testing.T) {
		cfg, err := Load(Overrides{
			EnvFile:     "nonexistent.env",
			HTTPAddr:    ":9090",
			LogLevel:    "debug",
			DatabaseURL: "postgres://override/db",
			TempDir:     "/tmp/scratch",
		})
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if cfg.HTTPAddr != ":9090" {
			t.Errorf("HTTPAddr = %q, want :9090", cfg.HTTPAddr)
		}
		if cfg.LogLevel != "debug" {
			t.Errorf("LogLevel = %q, want debug", cfg.LogLevel)
		}
		if cfg.DatabaseURL != "postgres://override/db" {
			t.Errorf("DatabaseURL = %q, want override", cfg.DatabaseURL)
		}
		if cfg.TempDir != "/tmp/scratch" {
			t.Errorf("TempDir = %q, want /tmp/scratch", cfg.TempDir)
		}
	})

	t.Run("nested_prefixes", func(t *testing.T) {
		restore := setEnvs(t, map[string]string{
			"S3_BUCKET":       "notes",
			"WHISPER_TIMEOUT": "45s",
			"LLM_TEMPERATURE": "0.1",
		})
		defer restore()

		cfg, err := Load(Overrides{EnvFile: "nonexistent.env"})
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if !cfg.S3.Enabled() || cfg.S3.Bucket != "notes" {
			t.Errorf("S3.Bucket = %q, want notes", cfg.S3.Bucket)
		}
		if cfg.Whisper.Timeout != 45*time.Second {
			t.Errorf("Whisper.Timeout = %v, want 45s", cfg.Whisper.Timeout)
		}
		if cfg.LLM.Temperature != 0.1 {
			t.Errorf("LLM.Temperature = %v, want 0.1", cfg.LLM.Temperature)
		}
	})
}

func TestLoadMissingRequired(t *testing.T) {
	cleanup := setEnvs(t, map[string]string{
		"DATABASE_URL":     "",
		"YOUTUBE_API_KEYS": "",
		"LLM_API_KEYS":     "",
	})
	defer cleanup()
	os.Unsetenv("DATABASE_URL")

	_, err := Load(Overrides{EnvFile: "nonexistent.env"})
	if err == nil {
		t.Error("expected error when required env vars are missing")
	}
}

func TestLoadMissingKeysIsConfigurationError(t *testing.T) {
	tests := []struct {
		name string
		envs map[string]string
	}{
		{"no_youtube_keys", map[string]string{"YOUTUBE_API_KEYS": " , ", "LLM_API_KEYS": "sk-1"}},
		{"no_llm_keys", map[string]string{"YOUTUBE_API_KEYS": "yt-1", "LLM_API_KEYS": ""}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			envs := map[string]string{"DATABASE_URL": "postgres://localhost/test"}
			for k, v := range tt.envs {
				envs[k] = v
			}
			cleanup := setEnvs(t, envs)
			defer cleanup()

			_, err := Load(Overrides{EnvFile: "nonexistent.env"})
			var cfgErr *keyrotation.ConfigurationError
			if !errors.As(err, &cfgErr) {
				t.Errorf("err = %v, want *keyrotation.ConfigurationError", err)
			}
		})
	}
}

// setEnvs sets environment variables and returns a cleanup function.
func setEnvs(t *testing.T, envs map[string]string) func() {
	t.Helper()
	originals := make(map[string]string)
	unset := make([]string, 0)

	for k, v := range envs {
		if orig, ok := os.LookupEnv(k); ok {
			originals[k] = orig
		} else {
			unset = append(unset, k)
		}
		os.Setenv(k, v)
	}

	return func() {
		for k, v := range originals {
			os.Setenv(k, v)
		}
		for _, k := range unset {
			os.Unsetenv(k)
		}
	}
}

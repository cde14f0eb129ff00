package transcribe

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/snarg/studynotes/internal/audio"
)

// WhisperClient calls an OpenAI-compatible /v1/audio/transcriptions endpoint.
type WhisperClient struct {
	url     string
	apiKey  string
	model   string
	opts    Options
	timeout time.Duration
	client  *http.Client
	log     zerolog.Logger
}

// Options are optional request fields. Zero values are omitted so the
// client also works with servers that reject unknown form fields.
type Options struct {
	Language    string
	Prompt      string // domain vocabulary
	Temperature float64
}

// NewWhisperClient creates a new Whisper HTTP client.
func NewWhisperClient(url, apiKey, model string, timeout time.Duration, opts Options, log zerolog.Logger) *WhisperClient {
	return &WhisperClient{
		url:     url,
		apiKey:  apiKey,
		model:   model,
		opts:    opts,
		timeout: timeout,
		client:  &http.Client{Timeout: timeout},
		log:     log.With().Str("component", "whisper").Logger(),
	}
}

func (wc *WhisperClient) Name() string  { return "whisper" }
func (wc *WhisperClient) Model() string { return wc.model }

// Transcribe uploads the artifact as multipart/form-data and returns the
// plain-text transcript. The artifact is removed on every return path.
// There is no retry; any failure is a *TranscriptionError.
func (wc *WhisperClient) Transcribe(ctx context.Context, art *audio.Artifact) (string, error) {
	defer func() {
		if err := art.Remove(); err != nil {
			wc.log.Warn().Err(err).Str("path", art.Path).Msg("failed to remove audio artifact")
		}
	}()

	body, contentType, err := wc.buildForm(art.Path)
	if err != nil {
		return "", &TranscriptionError{Provider: wc.Name(), Message: "build request", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, wc.url, body)
	if err != nil {
		return "", &TranscriptionError{Provider: wc.Name(), Message: "create request", Err: err}
	}
	req.Header.Set("Content-Type", contentType)
	if wc.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+wc.apiKey)
	}

	start := time.Now()
	resp, err := wc.client.Do(req)
	if err != nil {
		return "", &TranscriptionError{Provider: wc.Name(), Message: "request", Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &TranscriptionError{Provider: wc.Name(), Message: "read response", Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		return "", &TranscriptionError{Provider: wc.Name(), StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(data))}
	}

	text := strings.TrimSpace(string(data))
	if text == "" {
		return "", &TranscriptionError{Provider: wc.Name(), Message: "empty transcript"}
	}

	wc.log.Info().
		Str("video_id", art.VideoID).
		Int("chars", len(text)).
		Dur("elapsed", time.Since(start)).
		Msg("audio transcribed")
	return text, nil
}

func (wc *WhisperClient) buildForm(audioPath string) (io.Reader, string, error) {
	f, err := os.Open(audioPath)
	if err != nil {
		return nil, "", fmt.Errorf("open audio file: %w", err)
	}
	defer f.Close()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	part, err := w.CreateFormFile("file", filepath.Base(audioPath))
	if err != nil {
		return nil, "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, "", fmt.Errorf("copy audio data: %w", err)
	}

	if wc.model != "" {
		w.WriteField("model", wc.model)
	}
	w.WriteField("response_format", "text")

	if wc.opts.Language != "" {
		w.WriteField("language", wc.opts.Language)
	}
	if wc.opts.Prompt != "" {
		w.WriteField("prompt", wc.opts.Prompt)
	}
	if wc.opts.Temperature > 0 {
		w.WriteField("temperature", fmt.Sprintf("%.2f", wc.opts.Temperature))
	}

	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}

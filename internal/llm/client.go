package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"
	"github.com/snarg/studynotes/internal/keyrotation"
	"github.com/snarg/studynotes/internal/metrics"
)

// maxErrorBytes bounds provider error text carried into APIError.
const maxErrorBytes = 500

// Message is one chat turn.
type Message struct {
	Role    string `json:"role"` // "system", "user", "assistant"
	Content string `json:"content"`
}

// Options configures a Client.
type Options struct {
	BaseURL     string
	Model       string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
}

// Client calls an OpenAI-compatible chat completions API, rotating
// through its key pool on quota and auth failures.
type Client struct {
	http        *http.Client
	baseURL     string
	model       string
	temperature float32
	maxTokens   int
	keys        *keyrotation.Pool
	log         zerolog.Logger

	mu      sync.Mutex
	clients map[string]*openai.Client // by API key
}

func NewClient(keys *keyrotation.Pool, opts Options, log zerolog.Logger) *Client {
	return &Client{
		http:        &http.Client{Timeout: opts.Timeout},
		baseURL:     strings.TrimRight(opts.BaseURL, "/"),
		model:       opts.Model,
		temperature: float32(opts.Temperature),
		maxTokens:   opts.MaxTokens,
		keys:        keys,
		log:         log.With().Str("component", "llm").Logger(),
		clients:     make(map[string]*openai.Client),
	}
}

// CallOption overrides per-call sampling settings.
type CallOption func(*openai.ChatCompletionRequest)

func WithTemperature(t float64) CallOption {
	return func(r *openai.ChatCompletionRequest) { r.Temperature = float32(t) }
}

func WithMaxTokens(n int) CallOption {
	return func(r *openai.ChatCompletionRequest) { r.MaxTokens = n }
}

// WithJSON asks the model for a JSON object response.
func WithJSON() CallOption {
	return func(r *openai.ChatCompletionRequest) {
		r.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}
}

// Complete sends system plus messages and returns the assistant's reply.
// feature labels the request in metrics and logs.
func (c *Client) Complete(ctx context.Context, feature, system string, messages []Message, opts ...CallOption) (string, error) {
	req := openai.ChatCompletionRequest{
		Model:       c.model,
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
	}
	if system != "" {
		req.Messages = append(req.Messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: system})
	}
	for _, m := range messages {
		req.Messages = append(req.Messages, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}
	for _, o := range opts {
		o(&req)
	}

	metrics.LLMRequestsTotal.WithLabelValues(feature).Inc()
	start := time.Now()
	out, err := keyrotation.Call(ctx, c.keys, "chat.completions", func(ctx context.Context, key string) (string, error) {
		return c.create(ctx, key, req)
	})
	if err != nil {
		return "", err
	}

	c.log.Debug().
		Str("feature", feature).
		Int("chars", len(out)).
		Dur("elapsed", time.Since(start)).
		Msg("completion received")
	return out, nil
}

func (c *Client) create(ctx context.Context, key string, req openai.ChatCompletionRequest) (string, error) {
	resp, err := c.clientFor(key).CreateChatCompletion(ctx, req)
	if err != nil {
		return "", classify(err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat response has no choices")
	}
	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		return "", fmt.Errorf("chat response is empty (finish_reason=%s)", resp.Choices[0].FinishReason)
	}
	return content, nil
}

func (c *Client) clientFor(key string) *openai.Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cl, ok := c.clients[key]; ok {
		return cl
	}
	cfg := openai.DefaultConfig(key)
	if c.baseURL != "" {
		cfg.BaseURL = c.baseURL
	}
	cfg.HTTPClient = c.http
	cl := openai.NewClientWithConfig(cfg)
	c.clients[key] = cl
	return cl
}

// classify maps provider errors to APIError so the key pool can decide
// between rotating, retrying and giving up. OpenAI reports exhausted
// credit as 429 with type "insufficient_quota"; the type is kept in the
// message so the pool rotates instead of retrying. Transport errors pass
// through unchanged.
func classify(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		msg := apiErr.Message
		if apiErr.Type != "" {
			msg += " (" + apiErr.Type + ")"
		}
		return &keyrotation.APIError{StatusCode: apiErr.HTTPStatusCode, Message: truncate(msg, maxErrorBytes)}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode != 0 {
		return &keyrotation.APIError{StatusCode: reqErr.HTTPStatusCode, Message: truncate(reqErr.Error(), maxErrorBytes)}
	}
	return err
}

// truncate cuts s to at most n bytes without splitting a UTF-8 sequence.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

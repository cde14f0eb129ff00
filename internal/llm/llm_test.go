package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"
	"github.com/snarg/studynotes/internal/keyrotation"
	"github.com/snarg/studynotes/internal/prompts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeOpenAI struct {
	mu       sync.Mutex
	keys     []string
	requests []openai.ChatCompletionRequest
	handler  func(w http.ResponseWriter, key string, req openai.ChatCompletionRequest)
}

func (f *fakeOpenAI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/chat/completions" {
		http.NotFound(w, r)
		return
	}
	var req openai.ChatCompletionRequest
	json.NewDecoder(r.Body).Decode(&req)
	key := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")

	f.mu.Lock()
	f.keys = append(f.keys, key)
	f.requests = append(f.requests, req)
	f.mu.Unlock()

	f.handler(w, key, req)
}

func reply(w http.ResponseWriter, content string) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"choices": []map[string]any{{
			"message":       map[string]string{"role": "assistant", "content": content},
			"finish_reason": "stop",
		}},
	})
}

func fail(w http.ResponseWriter, status int, msg, typ string) {
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]string{"message": msg, "type": typ},
	})
}

func newTestStudio(t *testing.T, f *fakeOpenAI, keys ...string) (*Studio, *keyrotation.Pool) {
	t.Helper()
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)

	pool := keyrotation.NewPool("llm", keys, zerolog.Nop(), keyrotation.WithRetryPolicy(keyrotation.RetryPolicy{
		MaxTries: 2, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond,
	}))
	client := NewClient(pool, Options{BaseURL: srv.URL + "/", Model: "gpt-test", Temperature: 0.3, Timeout: 5 * time.Second}, zerolog.Nop())
	store, err := prompts.New("", zerolog.Nop())
	require.NoError(t, err)
	return NewStudio(client, store), pool
}

func TestGenerateNotes(t *testing.T) {
	f := &fakeOpenAI{handler: func(w http.ResponseWriter, _ string, _ openai.ChatCompletionRequest) {
		reply(w, "  # Notes\n\n- point  ")
	}}
	s, _ := newTestStudio(t, f, "k1")

	got, err := s.GenerateNotes(context.Background(), "Intro to Go", "Gophers", "hello world transcript", Style{Tone: "casual"})
	require.NoError(t, err)
	assert.Equal(t, "# Notes\n\n- point", got)

	require.Len(t, f.requests, 1)
	req := f.requests[0]
	assert.Equal(t, "gpt-test", req.Model)
	require.Len(t, req.Messages, 2)
	assert.Equal(t, "system", req.Messages[0].Role)
	assert.Contains(t, req.Messages[0].Content, "casual")
	assert.Contains(t, req.Messages[0].Content, "English", "missing language falls back to default")
	assert.NotContains(t, req.Messages[0].Content, "{{")
	assert.Contains(t, req.Messages[1].Content, "Title: Intro to Go")
	assert.Contains(t, req.Messages[1].Content, "Channel: Gophers")
	assert.Contains(t, req.Messages[1].Content, "hello world transcript")
}

func TestGenerateNotesTruncatesTranscript(t *testing.T) {
	f := &fakeOpenAI{handler: func(w http.ResponseWriter, _ string, _ openai.ChatCompletionRequest) { reply(w, "ok") }}
	s, _ := newTestStudio(t, f, "k1")

	long := strings.Repeat("a", maxTranscriptBytes+5000)
	_, err := s.GenerateNotes(context.Background(), "t", "", long, DefaultStyle)
	require.NoError(t, err)
	assert.Less(t, len(f.requests[0].Messages[1].Content), maxTranscriptBytes+100)
}

func TestGenerateNotesTruncatesOnRuneBoundary(t *testing.T) {
	f := &fakeOpenAI{handler: func(w http.ResponseWriter, _ string, _ openai.ChatCompletionRequest) { reply(w, "ok") }}
	s, _ := newTestStudio(t, f, "k1")

	// "a" shifts every 3-byte rune so the byte limit lands mid-sequence.
	long := "a" + strings.Repeat("漢", maxTranscriptBytes/3+10)
	_, err := s.GenerateNotes(context.Background(), "t", "", long, DefaultStyle)
	require.NoError(t, err)

	body := f.requests[0].Messages[1].Content
	assert.True(t, utf8.ValidString(body), "transcript was cut inside a rune")
	assert.True(t, strings.HasSuffix(body, "漢"))
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"short", 10, "short"},
		{"abcdef", 3, "abc"},
		{"héllo", 2, "h"},
		{"héllo", 3, "hé"},
		{"日本語", 4, "日"},
		{"日本語", 2, ""},
	}
	for _, tt := range tests {
		got := truncate(tt.in, tt.n)
		assert.Equal(t, tt.want, got, "truncate(%q, %d)", tt.in, tt.n)
		assert.True(t, utf8.ValidString(got))
	}
}

func TestCompleteLongErrorMessageStaysValidUTF8(t *testing.T) {
	f := &fakeOpenAI{handler: func(w http.ResponseWriter, _ string, _ openai.ChatCompletionRequest) {
		fail(w, http.StatusNotFound, "x"+strings.Repeat("é", maxErrorBytes), "invalid_request_error")
	}}
	s, _ := newTestStudio(t, f, "k1")

	_, err := s.Chat(context.Background(), Source{}, []Message{{Role: "user", Content: "hi"}})
	var apiErr *keyrotation.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.LessOrEqual(t, len(apiErr.Message), maxErrorBytes)
	assert.True(t, utf8.ValidString(apiErr.Message))
}

func TestCompleteRotatesOnQuota(t *testing.T) {
	f := &fakeOpenAI{handler: func(w http.ResponseWriter, key string, _ openai.ChatCompletionRequest) {
		if key == "k1" {
			fail(w, http.StatusTooManyRequests, "You exceeded your current quota", "insufficient_quota")
			return
		}
		reply(w, "from k2")
	}}
	s, pool := newTestStudio(t, f, "k1", "k2")

	got, err := s.Chat(context.Background(), Source{Title: "t", Notes: "n"}, []Message{{Role: "user", Content: "why?"}})
	require.NoError(t, err)
	assert.Equal(t, "from k2", got)
	assert.Equal(t, []string{"k1", "k2"}, f.keys)
	assert.Equal(t, 1, pool.Current())
}

func TestCompleteAllKeysExhausted(t *testing.T) {
	f := &fakeOpenAI{handler: func(w http.ResponseWriter, _ string, _ openai.ChatCompletionRequest) {
		fail(w, http.StatusUnauthorized, "Incorrect API key provided", "invalid_request_error")
	}}
	s, _ := newTestStudio(t, f, "k1", "k2", "k3")

	_, err := s.Synthesize(context.Background(), "guide", []Source{{Title: "a", Notes: "x"}})
	var exhausted *keyrotation.AllKeysExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 3, exhausted.Attempts)
	assert.Len(t, f.keys, 3)
}

func TestCompleteBadRequestIsFinalWithoutQuota(t *testing.T) {
	// 400 counts as a key problem; a 404 model-not-found does not.
	f := &fakeOpenAI{handler: func(w http.ResponseWriter, _ string, _ openai.ChatCompletionRequest) {
		fail(w, http.StatusNotFound, "The model does not exist", "invalid_request_error")
	}}
	s, _ := newTestStudio(t, f, "k1", "k2")

	_, err := s.Chat(context.Background(), Source{}, []Message{{Role: "user", Content: "hi"}})
	var apiErr *keyrotation.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	assert.Contains(t, apiErr.Message, "does not exist")
	assert.Len(t, f.keys, 1)
}

func TestFlashcards(t *testing.T) {
	f := &fakeOpenAI{handler: func(w http.ResponseWriter, _ string, req openai.ChatCompletionRequest) {
		reply(w, "```json\n{\"flashcards\":[{\"front\":\"Q1\",\"back\":\"A1\"},{\"front\":\"Q2\",\"back\":\"A2\"}]}\n```")
	}}
	s, _ := newTestStudio(t, f, "k1")

	cards, err := s.Flashcards(context.Background(), Source{Title: "Go", Notes: "goroutines"}, 2)
	require.NoError(t, err)
	assert.Equal(t, []Flashcard{{"Q1", "A1"}, {"Q2", "A2"}}, cards)

	req := f.requests[0]
	require.NotNil(t, req.ResponseFormat)
	assert.Equal(t, openai.ChatCompletionResponseFormatTypeJSONObject, req.ResponseFormat.Type)
	assert.Contains(t, req.Messages[0].Content, "goroutines")
}

func TestFlashcardsMalformed(t *testing.T) {
	f := &fakeOpenAI{handler: func(w http.ResponseWriter, _ string, _ openai.ChatCompletionRequest) { reply(w, "sorry, I can't") }}
	s, _ := newTestStudio(t, f, "k1")

	_, err := s.Flashcards(context.Background(), Source{}, 5)
	assert.True(t, errors.Is(err, ErrMalformedOutput))
}

func TestQuizDropsInvalidQuestions(t *testing.T) {
	f := &fakeOpenAI{handler: func(w http.ResponseWriter, _ string, _ openai.ChatCompletionRequest) {
		reply(w, `{"questions":[
			{"question":"ok","options":["a","b","c"],"answer_index":2,"explanation":"c"},
			{"question":"bad index","options":["a","b"],"answer_index":5},
			{"question":"one option","options":["a"],"answer_index":0}
		]}`)
	}}
	s, _ := newTestStudio(t, f, "k1")

	qs, err := s.Quiz(context.Background(), Source{}, 3)
	require.NoError(t, err)
	require.Len(t, qs, 1)
	assert.Equal(t, "ok", qs[0].Question)
	assert.Equal(t, 2, qs[0].AnswerIndex)
}

func TestQuizAllInvalid(t *testing.T) {
	f := &fakeOpenAI{handler: func(w http.ResponseWriter, _ string, _ openai.ChatCompletionRequest) {
		reply(w, `{"questions":[{"question":"x","options":["a","b"],"answer_index":-1}]}`)
	}}
	s, _ := newTestStudio(t, f, "k1")

	_, err := s.Quiz(context.Background(), Source{}, 1)
	assert.ErrorIs(t, err, ErrMalformedOutput)
}

func TestEmptyChoiceIsError(t *testing.T) {
	f := &fakeOpenAI{handler: func(w http.ResponseWriter, _ string, _ openai.ChatCompletionRequest) { reply(w, "   ") }}
	s, _ := newTestStudio(t, f, "k1")

	_, err := s.Chat(context.Background(), Source{}, []Message{{Role: "user", Content: "hi"}})
	assert.Error(t, err)
}

func TestStripFences(t *testing.T) {
	tests := []struct{ in, want string }{
		{`{"a":1}`, `{"a":1}`},
		{"```json\n{\"a\":1}\n```", `{"a":1}`},
		{"```\n[1]\n```", `[1]`},
		{"  plain  ", "plain"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, stripFences(tt.in))
	}
}

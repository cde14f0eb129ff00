package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/snarg/studynotes/internal/prompts"
)

// ErrMalformedOutput means the model did not return the requested JSON.
var ErrMalformedOutput = errors.New("model returned malformed output")

// maxTranscriptBytes bounds the transcript sent for note generation.
const maxTranscriptBytes = 120_000

// Style controls tone, depth and language of generated notes.
type Style struct {
	Tone        string
	DetailLevel string
	Language    string
}

// DefaultStyle applies when a user has no stored preferences.
var DefaultStyle = Style{Tone: "neutral", DetailLevel: "standard", Language: "English"}

// Source is a note given to the model as context.
type Source struct {
	Title string
	Notes string
}

type Flashcard struct {
	Front string `json:"front"`
	Back  string `json:"back"`
}

type QuizQuestion struct {
	Question    string   `json:"question"`
	Options     []string `json:"options"`
	AnswerIndex int      `json:"answer_index"`
	Explanation string   `json:"explanation"`
}

// Studio produces notes and study aids from prompts in a prompt store.
type Studio struct {
	client  *Client
	prompts *prompts.Store
}

func NewStudio(client *Client, store *prompts.Store) *Studio {
	return &Studio{client: client, prompts: store}
}

// GenerateNotes turns a transcript into Markdown study notes.
func (s *Studio) GenerateNotes(ctx context.Context, title, channel, transcript string, style Style) (string, error) {
	style = fillStyle(style)
	system := s.prompts.Render(prompts.Notes, map[string]string{
		"tone":     style.Tone,
		"detail":   style.DetailLevel,
		"language": style.Language,
	})

	transcript = truncate(transcript, maxTranscriptBytes)
	var user strings.Builder
	fmt.Fprintf(&user, "Title: %s\n", title)
	if channel != "" {
		fmt.Fprintf(&user, "Channel: %s\n", channel)
	}
	user.WriteString("\nTranscript:\n")
	user.WriteString(transcript)

	return s.client.Complete(ctx, "notes", system, []Message{{Role: "user", Content: user.String()}})
}

// Chat answers the latest user turn in history about one note.
func (s *Studio) Chat(ctx context.Context, src Source, history []Message) (string, error) {
	system := s.prompts.Render(prompts.Chat, map[string]string{"title": src.Title, "notes": src.Notes})
	return s.client.Complete(ctx, "chat", system, history)
}

// Flashcards generates count cards for one note.
func (s *Studio) Flashcards(ctx context.Context, src Source, count int) ([]Flashcard, error) {
	system := s.prompts.Render(prompts.Flashcards, map[string]string{
		"count": strconv.Itoa(count), "title": src.Title, "notes": src.Notes,
	})
	raw, err := s.client.Complete(ctx, "flashcards", system,
		[]Message{{Role: "user", Content: "Create the flashcards now."}}, WithJSON())
	if err != nil {
		return nil, err
	}

	var out struct {
		Flashcards []Flashcard `json:"flashcards"`
	}
	if err := json.Unmarshal([]byte(stripFences(raw)), &out); err != nil || len(out.Flashcards) == 0 {
		return nil, fmt.Errorf("%w: flashcards", ErrMalformedOutput)
	}
	return out.Flashcards, nil
}

// Quiz generates count multiple-choice questions for one note.
func (s *Studio) Quiz(ctx context.Context, src Source, count int) ([]QuizQuestion, error) {
	system := s.prompts.Render(prompts.Quiz, map[string]string{
		"count": strconv.Itoa(count), "title": src.Title, "notes": src.Notes,
	})
	raw, err := s.client.Complete(ctx, "quiz", system,
		[]Message{{Role: "user", Content: "Create the quiz now."}}, WithJSON())
	if err != nil {
		return nil, err
	}

	var out struct {
		Questions []QuizQuestion `json:"questions"`
	}
	if err := json.Unmarshal([]byte(stripFences(raw)), &out); err != nil || len(out.Questions) == 0 {
		return nil, fmt.Errorf("%w: quiz", ErrMalformedOutput)
	}
	valid := out.Questions[:0]
	for _, q := range out.Questions {
		if len(q.Options) >= 2 && q.AnswerIndex >= 0 && q.AnswerIndex < len(q.Options) {
			valid = append(valid, q)
		}
	}
	if len(valid) == 0 {
		return nil, fmt.Errorf("%w: quiz answers out of range", ErrMalformedOutput)
	}
	return valid, nil
}

// Synthesize merges several notes into one study guide.
func (s *Studio) Synthesize(ctx context.Context, title string, sources []Source) (string, error) {
	system := s.prompts.Render(prompts.Synthesis, map[string]string{"title": title})

	var user strings.Builder
	for i, src := range sources {
		fmt.Fprintf(&user, "## Source %d: %s\n\n%s\n\n", i+1, src.Title, src.Notes)
	}
	return s.client.Complete(ctx, "synthesis", system, []Message{{Role: "user", Content: user.String()}})
}

func fillStyle(s Style) Style {
	if s.Tone == "" {
		s.Tone = DefaultStyle.Tone
	}
	if s.DetailLevel == "" {
		s.DetailLevel = DefaultStyle.DetailLevel
	}
	if s.Language == "" {
		s.Language = DefaultStyle.Language
	}
	return s
}

// stripFences removes markdown code fences from model output.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

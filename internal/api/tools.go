package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/hlog"
	"github.com/snarg/studynotes/internal/database"
	"github.com/snarg/studynotes/internal/keyrotation"
	"github.com/snarg/studynotes/internal/llm"
)

const (
	maxChatMessages  = 40
	maxChatChars     = 8000
	defaultCards     = 10
	maxCards         = 50
	defaultQuestions = 5
	maxQuestions     = 20
	minSynthesis     = 2
	maxSynthesis     = 10
)

// Studio runs the LLM study tools.
type Studio interface {
	Chat(ctx context.Context, src llm.Source, history []llm.Message) (string, error)
	Flashcards(ctx context.Context, src llm.Source, count int) ([]llm.Flashcard, error)
	Quiz(ctx context.Context, src llm.Source, count int) ([]llm.QuizQuestion, error)
	Synthesize(ctx context.Context, title string, sources []llm.Source) (string, error)
}

// ToolsHandler serves chat, flashcards, quiz and synthesis on stored notes.
type ToolsHandler struct {
	notes  *NotesHandler
	store  NoteStore
	studio Studio
}

func NewToolsHandler(store NoteStore, studio Studio) *ToolsHandler {
	return &ToolsHandler{notes: NewNotesHandler(store), store: store, studio: studio}
}

type chatRequest struct {
	Messages []llm.Message `json:"messages"`
}

func (req chatRequest) validate() error {
	if len(req.Messages) == 0 {
		return fmt.Errorf("messages must not be empty")
	}
	if len(req.Messages) > maxChatMessages {
		return fmt.Errorf("at most %d messages allowed", maxChatMessages)
	}
	for i, m := range req.Messages {
		if m.Role != "user" && m.Role != "assistant" {
			return fmt.Errorf("messages[%d]: role must be user or assistant", i)
		}
		if strings.TrimSpace(m.Content) == "" {
			return fmt.Errorf("messages[%d]: content must not be empty", i)
		}
		if len(m.Content) > maxChatChars {
			return fmt.Errorf("messages[%d]: content exceeds %d characters", i, maxChatChars)
		}
	}
	if req.Messages[len(req.Messages)-1].Role != "user" {
		return fmt.Errorf("last message must be from the user")
	}
	return nil
}

func (h *ToolsHandler) Chat(w http.ResponseWriter, r *http.Request) {
	var body chatRequest
	if err := DecodeJSON(r, &body); err != nil {
		WriteErrorDetail(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if err := body.validate(); err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	note, ok := h.notes.loadNote(w, r)
	if !ok {
		return
	}

	reply, err := h.studio.Chat(r.Context(), sourceOf(note), body.Messages)
	if err != nil {
		writeLLMError(w, r, "chat", err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"reply": reply})
}

type countRequest struct {
	Count int `json:"count"`
}

// decodeCount reads an optional {count} body, applying def and checking
// the upper bound.
func decodeCount(r *http.Request, def, limit int) (int, error) {
	var body countRequest
	if r.ContentLength != 0 && r.Body != nil && r.Body != http.NoBody {
		if err := DecodeJSON(r, &body); err != nil {
			return 0, err
		}
	}
	switch {
	case body.Count == 0:
		return def, nil
	case body.Count < 0 || body.Count > limit:
		return 0, fmt.Errorf("count must be between 1 and %d", limit)
	}
	return body.Count, nil
}

func (h *ToolsHandler) Flashcards(w http.ResponseWriter, r *http.Request) {
	count, err := decodeCount(r, defaultCards, maxCards)
	if err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	note, ok := h.notes.loadNote(w, r)
	if !ok {
		return
	}

	cards, err := h.studio.Flashcards(r.Context(), sourceOf(note), count)
	if err != nil {
		writeLLMError(w, r, "flashcards", err)
		return
	}
	resp := map[string]any{"flashcards": cards}
	if id := h.saveAid(r, note.ID, database.AidFlashcards, resp); id != 0 {
		resp["aid_id"] = id
	}
	WriteJSON(w, http.StatusOK, resp)
}

func (h *ToolsHandler) Quiz(w http.ResponseWriter, r *http.Request) {
	count, err := decodeCount(r, defaultQuestions, maxQuestions)
	if err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	note, ok := h.notes.loadNote(w, r)
	if !ok {
		return
	}

	questions, err := h.studio.Quiz(r.Context(), sourceOf(note), count)
	if err != nil {
		writeLLMError(w, r, "quiz", err)
		return
	}
	resp := map[string]any{"questions": questions}
	if id := h.saveAid(r, note.ID, database.AidQuiz, resp); id != 0 {
		resp["aid_id"] = id
	}
	WriteJSON(w, http.StatusOK, resp)
}

// saveAid persists a generated study aid. Failures are logged and the aid
// is still returned to the caller.
func (h *ToolsHandler) saveAid(r *http.Request, noteID int64, kind string, payload map[string]any) int64 {
	id, err := h.store.InsertStudyAid(r.Context(), noteID, kind, payload)
	if err != nil {
		hlog.FromRequest(r).Warn().Err(err).Int64("note_id", noteID).Str("kind", kind).Msg("failed to save study aid")
		return 0
	}
	return id
}

type synthesizeRequest struct {
	NoteIDs []int64 `json:"note_ids"`
	Title   string  `json:"title"`
}

func (req *synthesizeRequest) validate() error {
	seen := make(map[int64]bool, len(req.NoteIDs))
	for _, id := range req.NoteIDs {
		if seen[id] {
			return fmt.Errorf("note_ids must be unique")
		}
		seen[id] = true
	}
	if n := len(req.NoteIDs); n < minSynthesis || n > maxSynthesis {
		return fmt.Errorf("note_ids must contain between %d and %d notes", minSynthesis, maxSynthesis)
	}
	req.Title = strings.TrimSpace(req.Title)
	if req.Title == "" {
		req.Title = "Study guide"
	}
	if len(req.Title) > 200 {
		return fmt.Errorf("title is too long")
	}
	return nil
}

// Synthesize merges several notes into a new stored note.
func (h *ToolsHandler) Synthesize(w http.ResponseWriter, r *http.Request) {
	var body synthesizeRequest
	if err := DecodeJSON(r, &body); err != nil {
		WriteErrorDetail(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if err := body.validate(); err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	userID := UserIDFrom(r.Context())
	sources, err := h.store.GetNotes(r.Context(), userID, body.NoteIDs)
	if errors.Is(err, database.ErrNotFound) {
		WriteError(w, http.StatusNotFound, "note not found")
		return
	}
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("load notes for synthesis failed")
		WriteError(w, http.StatusInternalServerError, "failed to load notes")
		return
	}

	srcs := make([]llm.Source, len(sources))
	for i := range sources {
		srcs[i] = sourceOf(&sources[i])
	}
	text, err := h.studio.Synthesize(r.Context(), body.Title, srcs)
	if err != nil {
		writeLLMError(w, r, "synthesis", err)
		return
	}

	row := &database.NoteRow{
		UserID:        userID,
		Title:         body.Title,
		Notes:         text,
		Kind:          database.KindSynthesis,
		SourceNoteIDs: body.NoteIDs,
	}
	id, err := h.store.InsertNote(r.Context(), row)
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("save synthesis failed")
		WriteError(w, http.StatusInternalServerError, "failed to save study guide")
		return
	}
	note, err := h.store.GetNote(r.Context(), userID, id)
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Int64("note_id", id).Msg("reload synthesis failed")
		WriteError(w, http.StatusInternalServerError, "failed to load study guide")
		return
	}
	WriteJSON(w, http.StatusCreated, note)
}

func sourceOf(n *database.Note) llm.Source {
	return llm.Source{Title: n.Title, Notes: n.Notes}
}

// writeLLMError maps study tool failures to HTTP responses.
func writeLLMError(w http.ResponseWriter, r *http.Request, feature string, err error) {
	hlog.FromRequest(r).Error().Err(err).Str("feature", feature).Msg("llm request failed")

	var exhausted *keyrotation.AllKeysExhaustedError
	var cfgErr *keyrotation.ConfigurationError
	switch {
	case errors.Is(err, llm.ErrMalformedOutput):
		WriteError(w, http.StatusBadGateway, "model returned malformed output")
	case errors.As(err, &exhausted):
		WriteError(w, http.StatusServiceUnavailable, "all LLM API keys exhausted")
	case errors.As(err, &cfgErr):
		WriteError(w, http.StatusServiceUnavailable, "LLM is not configured")
	default:
		WriteError(w, http.StatusBadGateway, "llm request failed")
	}
}

// Routes registers study tool routes on the given router.
func (h *ToolsHandler) Routes(r chi.Router) {
	r.Post("/notes/{id:[0-9]+}/chat", h.Chat)
	r.Post("/notes/{id:[0-9]+}/flashcards", h.Flashcards)
	r.Post("/notes/{id:[0-9]+}/quiz", h.Quiz)
	r.Post("/notes/synthesize", h.Synthesize)
}

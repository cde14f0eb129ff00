package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/hlog"
	"github.com/snarg/studynotes/internal/database"
)

// NoteStore is the persistence the note, preference and study-tool
// handlers need.
type NoteStore interface {
	InsertNote(ctx context.Context, row *database.NoteRow) (int64, error)
	GetNote(ctx context.Context, userID string, id int64) (*database.Note, error)
	GetNotes(ctx context.Context, userID string, ids []int64) ([]database.Note, error)
	ListNotes(ctx context.Context, filter database.NoteFilter) ([]database.NoteSummary, int, error)
	DeleteNote(ctx context.Context, userID string, id int64) error

	GetPreferences(ctx context.Context, userID string) (database.Preferences, error)
	UpsertPreferences(ctx context.Context, userID string, p database.Preferences) (database.Preferences, error)

	InsertStudyAid(ctx context.Context, noteID int64, kind string, payload any) (int64, error)
	ListStudyAids(ctx context.Context, userID string, noteID int64) ([]database.StudyAid, error)
}

type NotesHandler struct {
	store NoteStore
}

func NewNotesHandler(store NoteStore) *NotesHandler {
	return &NotesHandler{store: store}
}

type noteListResponse struct {
	Notes  []database.NoteSummary `json:"notes"`
	Total  int                    `json:"total"`
	Limit  int                    `json:"limit"`
	Offset int                    `json:"offset"`
}

// ListNotes returns the caller's note history, newest first.
func (h *NotesHandler) ListNotes(w http.ResponseWriter, r *http.Request) {
	p, err := ParsePagination(r)
	if err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	list, total, err := h.store.ListNotes(r.Context(), database.NoteFilter{
		UserID: UserIDFrom(r.Context()),
		Limit:  p.Limit,
		Offset: p.Offset,
	})
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("list notes failed")
		WriteError(w, http.StatusInternalServerError, "failed to list notes")
		return
	}
	WriteJSON(w, http.StatusOK, noteListResponse{Notes: list, Total: total, Limit: p.Limit, Offset: p.Offset})
}

func (h *NotesHandler) GetNote(w http.ResponseWriter, r *http.Request) {
	note, ok := h.loadNote(w, r)
	if !ok {
		return
	}
	WriteJSON(w, http.StatusOK, note)
}

func (h *NotesHandler) DeleteNote(w http.ResponseWriter, r *http.Request) {
	id, err := PathInt64(r, "id")
	if err != nil {
		WriteError(w, http.StatusBadRequest, "invalid note id")
		return
	}
	err = h.store.DeleteNote(r.Context(), UserIDFrom(r.Context()), id)
	if errors.Is(err, database.ErrNotFound) {
		WriteError(w, http.StatusNotFound, "note not found")
		return
	}
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Int64("note_id", id).Msg("delete note failed")
		WriteError(w, http.StatusInternalServerError, "failed to delete note")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListStudyAids returns the flashcard decks and quizzes made for a note.
func (h *NotesHandler) ListStudyAids(w http.ResponseWriter, r *http.Request) {
	note, ok := h.loadNote(w, r)
	if !ok {
		return
	}
	aids, err := h.store.ListStudyAids(r.Context(), note.UserID, note.ID)
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Int64("note_id", note.ID).Msg("list study aids failed")
		WriteError(w, http.StatusInternalServerError, "failed to list study aids")
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"aids": aids})
}

// loadNote fetches the {id} note owned by the caller, writing the error
// response itself when it returns false.
func (h *NotesHandler) loadNote(w http.ResponseWriter, r *http.Request) (*database.Note, bool) {
	id, err := PathInt64(r, "id")
	if err != nil {
		WriteError(w, http.StatusBadRequest, "invalid note id")
		return nil, false
	}
	note, err := h.store.GetNote(r.Context(), UserIDFrom(r.Context()), id)
	if errors.Is(err, database.ErrNotFound) {
		WriteError(w, http.StatusNotFound, "note not found")
		return nil, false
	}
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Int64("note_id", id).Msg("get note failed")
		WriteError(w, http.StatusInternalServerError, "failed to load note")
		return nil, false
	}
	return note, true
}

func (h *NotesHandler) GetPreferences(w http.ResponseWriter, r *http.Request) {
	prefs, err := h.store.GetPreferences(r.Context(), UserIDFrom(r.Context()))
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("get preferences failed")
		WriteError(w, http.StatusInternalServerError, "failed to load preferences")
		return
	}
	WriteJSON(w, http.StatusOK, prefs)
}

func (h *NotesHandler) PutPreferences(w http.ResponseWriter, r *http.Request) {
	var prefs database.Preferences
	if err := DecodeJSON(r, &prefs); err != nil {
		WriteErrorDetail(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	prefs.UpdatedAt = nil
	if err := prefs.Validate(); err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	saved, err := h.store.UpsertPreferences(r.Context(), UserIDFrom(r.Context()), prefs)
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("save preferences failed")
		WriteError(w, http.StatusInternalServerError, "failed to save preferences")
		return
	}
	WriteJSON(w, http.StatusOK, saved)
}

// Routes registers note history and preference routes on the given router.
func (h *NotesHandler) Routes(r chi.Router) {
	r.Get("/notes", h.ListNotes)
	r.Get("/notes/{id:[0-9]+}", h.GetNote)
	r.Delete("/notes/{id:[0-9]+}", h.DeleteNote)
	r.Get("/notes/{id:[0-9]+}/aids", h.ListStudyAids)
	r.Get("/preferences", h.GetPreferences)
	r.Put("/preferences", h.PutPreferences)
}

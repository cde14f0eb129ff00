package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// Note kinds.
const (
	KindVideo     = "video"
	KindSynthesis = "synthesis"
)

// NoteRow is the input for inserting a note.
type NoteRow struct {
	UserID           string
	VideoID          string
	Title            string
	Channel          string
	ThumbnailURL     string
	Notes            string
	TranscriptSource string
	Kind             string  // KindVideo when empty
	SourceNoteIDs    []int64 // synthesis inputs
}

// Note is the note representation for API responses.
type Note struct {
	ID               int64     `json:"id"`
	UserID           string    `json:"user_id"`
	VideoID          string    `json:"video_id,omitempty"`
	Title            string    `json:"title"`
	Channel          string    `json:"channel,omitempty"`
	ThumbnailURL     string    `json:"thumbnail_url,omitempty"`
	Notes            string    `json:"notes"`
	TranscriptSource string    `json:"transcript_source,omitempty"`
	Kind             string    `json:"kind"`
	SourceNoteIDs    []int64   `json:"source_note_ids,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}

// NoteSummary is a list entry; it omits the note body.
type NoteSummary struct {
	ID           int64     `json:"id"`
	VideoID      string    `json:"video_id,omitempty"`
	Title        string    `json:"title"`
	Channel      string    `json:"channel,omitempty"`
	ThumbnailURL string    `json:"thumbnail_url,omitempty"`
	Kind         string    `json:"kind"`
	CreatedAt    time.Time `json:"created_at"`
}

// NoteFilter scopes a note listing to one user.
type NoteFilter struct {
	UserID string
	Limit  int
	Offset int
}

func (db *DB) InsertNote(ctx context.Context, row *NoteRow) (int64, error) {
	kind := row.Kind
	if kind == "" {
		kind = KindVideo
	}
	var id int64
	err := db.Pool.QueryRow(ctx, `
		INSERT INTO notes (
			user_id, video_id, title, channel, thumbnail_url,
			notes, transcript_source, kind, source_note_ids
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id
	`,
		row.UserID, row.VideoID, row.Title, row.Channel, row.ThumbnailURL,
		row.Notes, row.TranscriptSource, kind, row.SourceNoteIDs,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert note: %w", err)
	}
	return id, nil
}

// GetNote returns one note owned by userID.
func (db *DB) GetNote(ctx context.Context, userID string, id int64) (*Note, error) {
	var n Note
	err := db.Pool.QueryRow(ctx, `
		SELECT id, user_id, video_id, title, channel, thumbnail_url,
			notes, transcript_source, kind, source_note_ids, created_at
		FROM notes
		WHERE id = $1 AND user_id = $2
	`, id, userID).Scan(
		&n.ID, &n.UserID, &n.VideoID, &n.Title, &n.Channel, &n.ThumbnailURL,
		&n.Notes, &n.TranscriptSource, &n.Kind, &n.SourceNoteIDs, &n.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get note: %w", err)
	}
	return &n, nil
}

// ListNotes returns a page of the user's notes, newest first, plus the total count.
func (db *DB) ListNotes(ctx context.Context, filter NoteFilter) ([]NoteSummary, int, error) {
	var total int
	if err := db.Pool.QueryRow(ctx,
		`SELECT count(*) FROM notes WHERE user_id = $1`, filter.UserID,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count notes: %w", err)
	}

	rows, err := db.Pool.Query(ctx, `
		SELECT id, video_id, title, channel, thumbnail_url, kind, created_at
		FROM notes
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3
	`, filter.UserID, filter.Limit, filter.Offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list notes: %w", err)
	}
	defer rows.Close()

	notes := []NoteSummary{}
	for rows.Next() {
		var n NoteSummary
		if err := rows.Scan(&n.ID, &n.VideoID, &n.Title, &n.Channel, &n.ThumbnailURL, &n.Kind, &n.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("scan note: %w", err)
		}
		notes = append(notes, n)
	}
	return notes, total, rows.Err()
}

// GetNotes returns the user's notes with the given ids, in the order requested.
// Missing or foreign ids yield ErrNotFound.
func (db *DB) GetNotes(ctx context.Context, userID string, ids []int64) ([]Note, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT id, user_id, video_id, title, channel, thumbnail_url,
			notes, transcript_source, kind, source_note_ids, created_at
		FROM notes
		WHERE user_id = $1 AND id = ANY($2)
	`, userID, ids)
	if err != nil {
		return nil, fmt.Errorf("get notes: %w", err)
	}
	defer rows.Close()

	byID := make(map[int64]Note, len(ids))
	for rows.Next() {
		var n Note
		if err := rows.Scan(
			&n.ID, &n.UserID, &n.VideoID, &n.Title, &n.Channel, &n.ThumbnailURL,
			&n.Notes, &n.TranscriptSource, &n.Kind, &n.SourceNoteIDs, &n.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan note: %w", err)
		}
		byID[n.ID] = n
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]Note, 0, len(ids))
	for _, id := range ids {
		n, ok := byID[id]
		if !ok {
			return nil, ErrNotFound
		}
		out = append(out, n)
	}
	return out, nil
}

// DeleteNote removes a note and its study aids.
func (db *DB) DeleteNote(ctx context.Context, userID string, id int64) error {
	tag, err := db.Pool.Exec(ctx, `DELETE FROM notes WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return fmt.Errorf("delete note: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

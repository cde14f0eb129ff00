package database

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Study aid kinds.
const (
	AidFlashcards = "flashcards"
	AidQuiz       = "quiz"
)

type StudyAid struct {
	ID        int64           `json:"id"`
	NoteID    int64           `json:"note_id"`
	Kind      string          `json:"kind"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

// InsertStudyAid stores generated flashcards or quiz questions for a note.
func (db *DB) InsertStudyAid(ctx context.Context, noteID int64, kind string, payload any) (int64, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("encode study aid: %w", err)
	}
	var id int64
	err = db.Pool.QueryRow(ctx, `
		INSERT INTO study_aids (note_id, kind, payload)
		VALUES ($1, $2, $3)
		RETURNING id
	`, noteID, kind, data).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert study aid: %w", err)
	}
	return id, nil
}

// ListStudyAids returns a note's aids, newest first. Ownership of the note
// is checked through the join.
func (db *DB) ListStudyAids(ctx context.Context, userID string, noteID int64) ([]StudyAid, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT a.id, a.note_id, a.kind, a.payload, a.created_at
		FROM study_aids a
		JOIN notes n ON n.id = a.note_id
		WHERE a.note_id = $1 AND n.user_id = $2
		ORDER BY a.created_at DESC, a.id DESC
	`, noteID, userID)
	if err != nil {
		return nil, fmt.Errorf("list study aids: %w", err)
	}
	defer rows.Close()

	aids := []StudyAid{}
	for rows.Next() {
		var a StudyAid
		if err := rows.Scan(&a.ID, &a.NoteID, &a.Kind, &a.Payload, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan study aid: %w", err)
		}
		aids = append(aids, a)
	}
	return aids, rows.Err()
}

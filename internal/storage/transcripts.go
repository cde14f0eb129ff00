package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"
)

// TranscriptRecord is an archived transcript.
type TranscriptRecord struct {
	VideoID string    `json:"video_id"`
	Text    string    `json:"text"`
	Source  string    `json:"source"`
	SavedAt time.Time `json:"saved_at"`
}

// TranscriptArchive keeps fetched transcripts by video id so repeat
// requests skip captions, downloads and speech-to-text.
type TranscriptArchive struct {
	store ObjectStore
}

func NewTranscriptArchive(store ObjectStore) *TranscriptArchive {
	return &TranscriptArchive{store: store}
}

func transcriptKey(videoID string) string {
	return "transcripts/" + videoID + ".json"
}

// Save archives rec under rec.VideoID.
func (a *TranscriptArchive) Save(ctx context.Context, rec TranscriptRecord) error {
	if rec.SavedAt.IsZero() {
		rec.SavedAt = time.Now().UTC()
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return a.store.Save(ctx, transcriptKey(rec.VideoID), data, "application/json")
}

// Load returns the archived transcript, or ErrNotFound.
func (a *TranscriptArchive) Load(ctx context.Context, videoID string) (*TranscriptRecord, error) {
	r, err := a.store.Open(ctx, transcriptKey(videoID))
	if err != nil {
		return nil, err
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	var rec TranscriptRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode archived transcript %s: %w", videoID, err)
	}
	return &rec, nil
}

// Type reports the backing store type.
func (a *TranscriptArchive) Type() string { return a.store.Type() }

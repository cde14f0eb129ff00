package database

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/jackc/pgx/v5"
)

var (
	Tones        = []string{"neutral", "casual", "academic"}
	DetailLevels = []string{"brief", "standard", "detailed"}
)

// DefaultPreferences apply to users who never saved any.
var DefaultPreferences = Preferences{Tone: "neutral", DetailLevel: "standard", Language: "English"}

type Preferences struct {
	Tone        string     `json:"tone"`
	DetailLevel string     `json:"detail_level"`
	Language    string     `json:"language"`
	UpdatedAt   *time.Time `json:"updated_at,omitempty"`
}

// Validate checks tone and detail against the allowed sets. An empty
// language is replaced by the default.
func (p *Preferences) Validate() error {
	if !slices.Contains(Tones, p.Tone) {
		return fmt.Errorf("tone must be one of %v", Tones)
	}
	if !slices.Contains(DetailLevels, p.DetailLevel) {
		return fmt.Errorf("detail_level must be one of %v", DetailLevels)
	}
	if p.Language == "" {
		p.Language = DefaultPreferences.Language
	}
	if len(p.Language) > 64 {
		return fmt.Errorf("language is too long")
	}
	return nil
}

// GetPreferences returns the user's preferences, or DefaultPreferences
// when none are stored.
func (db *DB) GetPreferences(ctx context.Context, userID string) (Preferences, error) {
	var p Preferences
	var updated time.Time
	err := db.Pool.QueryRow(ctx, `
		SELECT tone, detail_level, language, updated_at
		FROM user_preferences WHERE user_id = $1
	`, userID).Scan(&p.Tone, &p.DetailLevel, &p.Language, &updated)
	if errors.Is(err, pgx.ErrNoRows) {
		return DefaultPreferences, nil
	}
	if err != nil {
		return DefaultPreferences, fmt.Errorf("get preferences: %w", err)
	}
	p.UpdatedAt = &updated
	return p, nil
}

func (db *DB) UpsertPreferences(ctx context.Context, userID string, p Preferences) (Preferences, error) {
	var updated time.Time
	err := db.Pool.QueryRow(ctx, `
		INSERT INTO user_preferences (user_id, tone, detail_level, language, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (user_id) DO UPDATE SET
			tone = EXCLUDED.tone,
			detail_level = EXCLUDED.detail_level,
			language = EXCLUDED.language,
			updated_at = now()
		RETURNING updated_at
	`, userID, p.Tone, p.DetailLevel, p.Language).Scan(&updated)
	if err != nil {
		return p, fmt.Errorf("upsert preferences: %w", err)
	}
	p.UpdatedAt = &updated
	return p, nil
}

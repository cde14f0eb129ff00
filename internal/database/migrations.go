package database

import (
	"context"
	"fmt"
	"strings"
)

// migration defines a single idempotent schema migration.
type migration struct {
	name  string
	sql   string
	check string // query that returns true if the migration is already applied
}

// migrations is the ordered list of schema migrations to apply.
// Each must be idempotent (use IF NOT EXISTS, IF EXISTS, etc.).
var migrations = []migration{
	{
		name: "create notes",
		sql: `CREATE TABLE IF NOT EXISTS notes (
	id                bigserial PRIMARY KEY,
	user_id           text NOT NULL,
	video_id          text NOT NULL DEFAULT '',
	title             text NOT NULL,
	channel           text NOT NULL DEFAULT '',
	thumbnail_url     text NOT NULL DEFAULT '',
	notes             text NOT NULL,
	transcript_source text NOT NULL DEFAULT '',
	kind              text NOT NULL DEFAULT 'video',
	source_note_ids   bigint[],
	created_at        timestamptz NOT NULL DEFAULT now()
)`,
		check: `SELECT EXISTS (SELECT FROM pg_tables WHERE schemaname = 'public' AND tablename = 'notes')`,
	},
	{
		name:  "add notes user index",
		sql:   `CREATE INDEX IF NOT EXISTS idx_notes_user_created ON notes (user_id, created_at DESC)`,
		check: `SELECT EXISTS (SELECT 1 FROM pg_indexes WHERE indexname = 'idx_notes_user_created')`,
	},
	{
		name: "create user_preferences",
		sql: `CREATE TABLE IF NOT EXISTS user_preferences (
	user_id      text PRIMARY KEY,
	tone         text NOT NULL,
	detail_level text NOT NULL,
	language     text NOT NULL,
	updated_at   timestamptz NOT NULL DEFAULT now()
)`,
		check: `SELECT EXISTS (SELECT FROM pg_tables WHERE schemaname = 'public' AND tablename = 'user_preferences')`,
	},
	{
		name: "create study_aids",
		sql: `CREATE TABLE IF NOT EXISTS study_aids (
	id         bigserial PRIMARY KEY,
	note_id    bigint NOT NULL REFERENCES notes (id) ON DELETE CASCADE,
	kind       text NOT NULL,
	payload    jsonb NOT NULL,
	created_at timestamptz NOT NULL DEFAULT now()
)`,
		check: `SELECT EXISTS (SELECT FROM pg_tables WHERE schemaname = 'public' AND tablename = 'study_aids')`,
	},
	{
		name:  "add study_aids note index",
		sql:   `CREATE INDEX IF NOT EXISTS idx_study_aids_note ON study_aids (note_id, created_at DESC)`,
		check: `SELECT EXISTS (SELECT 1 FROM pg_indexes WHERE indexname = 'idx_study_aids_note')`,
	},
}

// Migrate runs all pending schema migrations.
// For each migration, it first checks whether the change is already present.
// If not, it attempts to apply it. A failed apply (e.g. insufficient
// privileges) is returned and the caller should treat it as fatal, since
// every query depends on these tables.
func (db *DB) Migrate(ctx context.Context) error {
	pending := db.pending(ctx)
	if len(pending) == 0 {
		db.log.Debug().Msg("schema up to date")
		return nil
	}

	applied := 0
	for _, m := range pending {
		if _, err := db.Pool.Exec(ctx, m.sql); err != nil {
			return &MigrationError{
				failed:  m,
				pending: pending[applied:],
				err:     err,
			}
		}
		db.log.Info().Str("migration", m.name).Msg("schema migration applied")
		applied++
	}
	db.log.Info().Int("applied", applied).Msg("schema migrations complete")
	return nil
}

func (db *DB) pending(ctx context.Context) []migration {
	var pending []migration
	for _, m := range migrations {
		if m.check != "" {
			var exists bool
			if err := db.Pool.QueryRow(ctx, m.check).Scan(&exists); err == nil && exists {
				continue
			}
		}
		pending = append(pending, m)
	}
	return pending
}

// MigrationError is returned when a migration fails.
// It includes the SQL needed to apply all remaining migrations manually.
type MigrationError struct {
	failed  migration
	pending []migration
	err     error
}

func (e *MigrationError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "migration %q failed: %v\n\n", e.failed.name, e.err)
	b.WriteString("Run the following SQL as a database superuser to fix this:\n\n")
	for _, m := range e.pending {
		fmt.Fprintf(&b, "  %s;\n", m.sql)
	}
	b.WriteString("\nThen restart studynotes.")
	return b.String()
}

func (e *MigrationError) Unwrap() error {
	return e.err
}

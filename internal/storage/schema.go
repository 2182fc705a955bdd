package storage

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// migrations are applied in order; PRAGMA user_version records how many have
// run. Only append to this list: snapshots written by older versions are
// upgraded on load by running the missing tail.
var migrations = []string{
	// 1: initial schema
	`
-- Documents that own cards. uid survives renames, path is re-resolved.
CREATE TABLE IF NOT EXISTS source_notes (
    uid TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    path TEXT NOT NULL,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_source_notes_path ON source_notes(path);

CREATE TABLE IF NOT EXISTS projects (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT NOT NULL UNIQUE,
    created_at INTEGER NOT NULL
);

-- source_uid is not a foreign key: memberships may be synced before the note is registered.
CREATE TABLE IF NOT EXISTS note_projects (
    source_uid TEXT NOT NULL,
    project_id INTEGER NOT NULL,
    PRIMARY KEY (source_uid, project_id),
    FOREIGN KEY(project_id) REFERENCES projects(id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_note_projects_project ON note_projects(project_id);

-- The 'cards' table stores the scheduling state of each flashcard.
-- source_uid may dangle; that is how orphans are detected.
CREATE TABLE IF NOT EXISTS cards (
    id TEXT PRIMARY KEY,
    source_uid TEXT,
    question TEXT,
    answer TEXT,
    due INTEGER NOT NULL,
    stability REAL NOT NULL DEFAULT 0,
    difficulty REAL NOT NULL DEFAULT 0,
    reps INTEGER NOT NULL DEFAULT 0,
    lapses INTEGER NOT NULL DEFAULT 0,
    state INTEGER NOT NULL DEFAULT 0, -- 0: New, 1: Learning, 2: Review, 3: Relearning
    last_review INTEGER,
    scheduled_days INTEGER NOT NULL DEFAULT 0,
    learning_step INTEGER NOT NULL DEFAULT 0,
    suspended INTEGER NOT NULL DEFAULT 0,
    buried_until INTEGER,
    history TEXT NOT NULL DEFAULT '[]',
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL,
    deleted_at INTEGER
);
CREATE INDEX IF NOT EXISTS idx_cards_source ON cards(source_uid) WHERE deleted_at IS NULL;

CREATE TABLE IF NOT EXISTS review_log (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    card_id TEXT NOT NULL,
    rating INTEGER NOT NULL,
    scheduled_days INTEGER NOT NULL DEFAULT 0,
    elapsed_days INTEGER NOT NULL DEFAULT 0,
    state INTEGER NOT NULL DEFAULT 0,
    time_spent_ms INTEGER NOT NULL DEFAULT 0,
    reviewed_at INTEGER NOT NULL,
    deleted_at INTEGER
);
CREATE INDEX IF NOT EXISTS idx_review_log_card ON review_log(card_id);

CREATE TABLE IF NOT EXISTS daily_stats (
    date TEXT PRIMARY KEY, -- YYYY-MM-DD of the logical day
    reviews INTEGER NOT NULL DEFAULT 0,
    again INTEGER NOT NULL DEFAULT 0,
    hard INTEGER NOT NULL DEFAULT 0,
    good INTEGER NOT NULL DEFAULT 0,
    easy INTEGER NOT NULL DEFAULT 0,
    new_cards INTEGER NOT NULL DEFAULT 0,
    time_spent_ms INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS daily_reviewed_cards (
    date TEXT NOT NULL,
    card_id TEXT NOT NULL,
    PRIMARY KEY (date, card_id),
    FOREIGN KEY(date) REFERENCES daily_stats(date) ON DELETE CASCADE
);
`,
	// 2: card tags and due index
	`
ALTER TABLE cards ADD COLUMN tags TEXT NOT NULL DEFAULT '[]';
CREATE INDEX IF NOT EXISTS idx_cards_due ON cards(due) WHERE deleted_at IS NULL;
`,
}

// SchemaVersion is the version a fully migrated database reports.
var SchemaVersion = len(migrations)

// tables lists every table, parents before children.
var tables = []string{
	"source_notes",
	"projects",
	"note_projects",
	"cards",
	"review_log",
	"daily_stats",
	"daily_reviewed_cards",
}

func schemaVersion(ctx context.Context, db sqlx.QueryerContext) (int, error) {
	var v int
	if err := sqlx.GetContext(ctx, db, &v, "PRAGMA user_version"); err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	return v, nil
}

// migrate brings db to SchemaVersion.
func migrate(ctx context.Context, db *sqlx.DB) error {
	current, err := schemaVersion(ctx, db)
	if err != nil {
		return err
	}
	if current > SchemaVersion {
		return fmt.Errorf("%w: version %d, supported %d", ErrSnapshotTooNew, current, SchemaVersion)
	}

	for v := current; v < SchemaVersion; v++ {
		err := runInTx(ctx, db, func(tx *sqlx.Tx) error {
			if _, err := tx.ExecContext(ctx, migrations[v]); err != nil {
				return err
			}
			// PRAGMA does not take bound parameters.
			_, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", v+1))
			return err
		})
		if err != nil {
			return fmt.Errorf("failed to apply migration %d: %w", v+1, err)
		}
	}
	return nil
}

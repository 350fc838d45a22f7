package storage

import (
	"context"
	"database/sql"
	"fmt"
)

// InitSchema creates all necessary tables and indexes.
func InitSchema(ctx context.Context, db *sql.DB) error {
	steps := []struct {
		name  string
		query string
	}{
		{"special_cases", `
	CREATE TABLE IF NOT EXISTS special_cases (
		case_id TEXT PRIMARY KEY,
		position INTEGER NOT NULL,
		reference_utterances TEXT NOT NULL, -- JSON array, main utterance first
		inferred_slots TEXT NOT NULL,       -- JSON object
		response TEXT,                      -- opaque JSON
		usage_count INTEGER NOT NULL DEFAULT 0,
		last_used INTEGER,                  -- unix millis
		created_at INTEGER
	);
	CREATE INDEX IF NOT EXISTS idx_special_cases_position ON special_cases(position);
	`},
		{"kb_stats", `
	CREATE TABLE IF NOT EXISTS kb_stats (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		total_cases INTEGER NOT NULL,
		total_successful_matches INTEGER NOT NULL,
		average_success_rate REAL NOT NULL,
		last_statistics_update INTEGER NOT NULL
	);
	`},
		{"session_loops", `
	CREATE TABLE IF NOT EXISTS session_loops (
		session_id TEXT PRIMARY KEY,
		record TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_session_loops_updated_at ON session_loops(updated_at);
	`},
		{"session_states", `
	CREATE TABLE IF NOT EXISTS session_states (
		session_id TEXT PRIMARY KEY,
		state TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_session_states_updated_at ON session_states(updated_at);
	`},
	}

	for _, s := range steps {
		if _, err := db.ExecContext(ctx, s.query); err != nil {
			return fmt.Errorf("failed to create %s table: %w", s.name, err)
		}
	}
	return nil
}

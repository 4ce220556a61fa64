// Package db provides the SQLite connection and schema for cuesyncd.
package db

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// DB wraps the SQLite database connection
type DB struct {
	*sql.DB
}

// Open opens the database and initializes the schema
func Open(dbPath string) (*DB, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := initSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &DB{db}, nil
}

// initSchema creates all required tables
func initSchema(db *sql.DB) error {
	// Programs - cue lists bound to an audio track. Cues are stored as one
	// JSON document; they have no lifecycle outside their program.
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS programs (
			id TEXT PRIMARY KEY,
			song_name TEXT NOT NULL,
			track TEXT NOT NULL DEFAULT '',
			bpm REAL NOT NULL DEFAULT 0,
			downbeat_offset REAL NOT NULL DEFAULT 0,
			audio_file TEXT NOT NULL DEFAULT '',
			cues TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			display_order INTEGER NOT NULL DEFAULT 0
		);
		CREATE INDEX IF NOT EXISTS idx_programs_order ON programs(display_order, created_at);
	`)
	if err != nil {
		return fmt.Errorf("failed to create programs table: %w", err)
	}

	// Preset catalog - name to device slot, plus the stored light state so
	// presets can be re-synced to boards.
	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS presets (
			name TEXT PRIMARY KEY,
			slot INTEGER NOT NULL,
			state TEXT NOT NULL DEFAULT '{}'
		);
		CREATE UNIQUE INDEX IF NOT EXISTS idx_presets_slot ON presets(slot);
	`)
	if err != nil {
		return fmt.Errorf("failed to create presets table: %w", err)
	}

	// Playback history - one row per finished playback session with the
	// timing counters it accrued.
	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS playback_history (
			id TEXT PRIMARY KEY,
			program_id TEXT NOT NULL,
			program_name TEXT NOT NULL,
			started_at INTEGER NOT NULL,
			ended_at INTEGER NOT NULL,
			duration_ms INTEGER NOT NULL,
			cue_count INTEGER NOT NULL DEFAULT 0,
			cues_drifted INTEGER NOT NULL DEFAULT 0,
			cue_drift_avg_ms REAL NOT NULL DEFAULT 0,
			cue_drift_max_ms REAL NOT NULL DEFAULT 0,
			packets_ok INTEGER NOT NULL DEFAULT 0,
			packets_wouldblock INTEGER NOT NULL DEFAULT 0,
			packets_err INTEGER NOT NULL DEFAULT 0,
			completed INTEGER NOT NULL DEFAULT 0
		);
		CREATE INDEX IF NOT EXISTS idx_history_started ON playback_history(started_at DESC);
	`)
	if err != nil {
		return fmt.Errorf("failed to create playback_history table: %w", err)
	}

	return nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.DB.Close()
}

// Package programs persists Program documents and the preset catalog.
// Persistence errors are returned to the caller: a failed save or delete
// is never silent, unlike the transient command failures elsewhere.
package programs

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/cuesync/cuesyncd/internal/model"
)

// ErrNotFound is returned when a program id does not exist.
var ErrNotFound = errors.New("program not found")

// Store is backed by the shared SQLite connection.
type Store struct {
	db       *sql.DB
	audioDir string
}

func NewStore(db *sql.DB, audioDir string) *Store {
	return &Store{db: db, audioDir: audioDir}
}

// Save inserts or updates a program. A program without an id gets a fresh
// one. The returned warnings flag cues that will fire as no-ops (no
// targets, or a preset-action cue with neither preset nor color); they are
// advisory, the save still goes through - user intent wins.
func (s *Store) Save(p *model.Program) ([]string, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}

	warnings := Validate(p)

	cues, err := json.Marshal(p.Cues)
	if err != nil {
		return warnings, fmt.Errorf("marshal cues: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO programs (id, song_name, track, bpm, downbeat_offset, audio_file, cues, created_at, display_order)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			song_name = excluded.song_name,
			track = excluded.track,
			bpm = excluded.bpm,
			downbeat_offset = excluded.downbeat_offset,
			audio_file = excluded.audio_file,
			cues = excluded.cues,
			display_order = excluded.display_order
	`, p.ID, p.SongName, p.Track, p.BPM, p.DownbeatOffset, p.AudioFile, string(cues), p.CreatedAt.Unix(), p.DisplayOrder)
	if err != nil {
		return warnings, fmt.Errorf("save program %s: %w", p.ID, err)
	}

	log.Info().Str("program", p.ID).Str("song", p.SongName).Int("cues", len(p.Cues)).Msg("Program saved")
	return warnings, nil
}

// Get loads one program by id.
func (s *Store) Get(id string) (*model.Program, error) {
	row := s.db.QueryRow(`
		SELECT id, song_name, track, bpm, downbeat_offset, audio_file, cues, created_at, display_order
		FROM programs WHERE id = ?
	`, id)

	p, err := scanProgram(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load program %s: %w", id, err)
	}
	return p, nil
}

// List returns all programs in display order.
func (s *Store) List() ([]*model.Program, error) {
	rows, err := s.db.Query(`
		SELECT id, song_name, track, bpm, downbeat_offset, audio_file, cues, created_at, display_order
		FROM programs ORDER BY display_order, created_at
	`)
	if err != nil {
		return nil, fmt.Errorf("list programs: %w", err)
	}
	defer rows.Close()

	var out []*model.Program
	for rows.Next() {
		p, err := scanProgram(rows)
		if err != nil {
			return nil, fmt.Errorf("list programs: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Delete removes a program and its linked audio file, if any.
func (s *Store) Delete(id string) error {
	p, err := s.Get(id)
	if err != nil {
		return err
	}

	if _, err := s.db.Exec(`DELETE FROM programs WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete program %s: %w", id, err)
	}

	if p.AudioFile != "" && s.audioDir != "" {
		path := filepath.Join(s.audioDir, filepath.Base(p.AudioFile))
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			log.Warn().Err(err).Str("file", path).Msg("Failed to remove audio file")
		}
	}

	log.Info().Str("program", id).Msg("Program deleted")
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProgram(row rowScanner) (*model.Program, error) {
	var (
		p         model.Program
		cuesJSON  string
		createdAt int64
	)
	err := row.Scan(&p.ID, &p.SongName, &p.Track, &p.BPM, &p.DownbeatOffset, &p.AudioFile, &cuesJSON, &createdAt, &p.DisplayOrder)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(cuesJSON), &p.Cues); err != nil {
		return nil, fmt.Errorf("decode cues: %w", err)
	}
	p.CreatedAt = time.Unix(createdAt, 0)
	return &p, nil
}

// Validate returns advisory warnings for cues that will fire as no-ops.
func Validate(p *model.Program) []string {
	var warnings []string
	for i, cue := range p.Cues {
		if len(cue.Targets) == 0 {
			warnings = append(warnings, fmt.Sprintf("cue %d (%.2fs) has no targets", i, cue.Time))
		}
		if cue.Action == model.CueActionPreset && cue.PresetName == "" && cue.Preset == 0 && cue.Color == "" {
			warnings = append(warnings, fmt.Sprintf("cue %d (%.2fs) has neither preset nor color", i, cue.Time))
		}
	}
	return warnings
}

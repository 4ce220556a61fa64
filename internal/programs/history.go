package programs

import (
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/cuesync/cuesyncd/internal/model"
)

// SaveSession persists one finished playback session.
func (s *Store) SaveSession(sess model.PlaybackSession) error {
	_, err := s.db.Exec(`
		INSERT INTO playback_history (
			id, program_id, program_name, started_at, ended_at, duration_ms,
			cue_count, cues_drifted, cue_drift_avg_ms, cue_drift_max_ms,
			packets_ok, packets_wouldblock, packets_err, completed
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, sess.ID, sess.ProgramID, sess.ProgramName, sess.StartedAt, sess.EndedAt, sess.DurationMS,
		sess.CueCount, sess.CuesDrifted, sess.CueDriftAvgMS, sess.CueDriftMaxMS,
		sess.PacketsOK, sess.PacketsWouldBlock, sess.PacketsErr, sess.Completed)
	if err != nil {
		return fmt.Errorf("save session %s: %w", sess.ID, err)
	}

	log.Info().
		Str("session", sess.ID).
		Str("program", sess.ProgramID).
		Uint64("cues", sess.CueCount).
		Bool("completed", sess.Completed).
		Msg("Playback session recorded")
	return nil
}

// ListSessions returns up to limit sessions, newest first. limit <= 0
// returns all of them.
func (s *Store) ListSessions(limit int) ([]model.PlaybackSession, error) {
	query := `
		SELECT id, program_id, program_name, started_at, ended_at, duration_ms,
			cue_count, cues_drifted, cue_drift_avg_ms, cue_drift_max_ms,
			packets_ok, packets_wouldblock, packets_err, completed
		FROM playback_history ORDER BY started_at DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []model.PlaybackSession
	for rows.Next() {
		var sess model.PlaybackSession
		err := rows.Scan(&sess.ID, &sess.ProgramID, &sess.ProgramName, &sess.StartedAt, &sess.EndedAt, &sess.DurationMS,
			&sess.CueCount, &sess.CuesDrifted, &sess.CueDriftAvgMS, &sess.CueDriftMaxMS,
			&sess.PacketsOK, &sess.PacketsWouldBlock, &sess.PacketsErr, &sess.Completed)
		if err != nil {
			return nil, fmt.Errorf("list sessions: %w", err)
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

// ClearSessions deletes the whole history, returning how many rows went.
func (s *Store) ClearSessions() (int64, error) {
	res, err := s.db.Exec(`DELETE FROM playback_history`)
	if err != nil {
		return 0, fmt.Errorf("clear sessions: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

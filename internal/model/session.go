package model

// PlaybackSession is one persisted playback run: who played what, when,
// and how well the cue timing held up. Counters are the deltas accrued
// between session start and end. Timestamps are unix milliseconds.
type PlaybackSession struct {
	ID                string  `json:"id"`
	ProgramID         string  `json:"program_id"`
	ProgramName       string  `json:"program_name"`
	StartedAt         int64   `json:"started_at"`
	EndedAt           int64   `json:"ended_at"`
	DurationMS        int64   `json:"duration_ms"`
	CueCount          uint64  `json:"cue_count"`
	CuesDrifted       uint64  `json:"cues_drifted"`
	CueDriftAvgMS     float64 `json:"cue_drift_avg_ms"`
	CueDriftMaxMS     float64 `json:"cue_drift_max_ms"`
	PacketsOK         uint64  `json:"packets_ok"`
	PacketsWouldBlock uint64  `json:"packets_wouldblock"`
	PacketsErr        uint64  `json:"packets_err"`
	Completed         bool    `json:"completed"`
}

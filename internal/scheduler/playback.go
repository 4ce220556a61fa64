// Package scheduler arms one timer per remaining cue against a wall-clock
// anchor and fires device commands through the gateway client. Exactly one
// playback session is active at a time; cancellation is a generation bump,
// so a stale timer that already left the runtime's heap checks and no-ops
// instead of firing into the new session.
package scheduler

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/cuesync/cuesyncd/internal/gateway"
	"github.com/cuesync/cuesyncd/internal/model"
	"github.com/cuesync/cuesyncd/internal/store"
	"github.com/cuesync/cuesyncd/internal/timing"
)

// Seek handling constants. Reported positions closer than seekThreshold to
// the last processed one are dropped; qualifying seeks are debounced by
// seekDebounce of quiescence so drag-scrubbing collapses into one
// reschedule at the latest position.
const (
	seekThreshold = 0.5 // seconds
	seekDebounce  = 150 * time.Millisecond
)

// Commander is the command surface the scheduler fires cues through.
type Commander interface {
	SetPower(ctx context.Context, id string, on bool, transition uint8) error
	SetColor(ctx context.Context, id string, col model.Color, transition uint8) error
	SetBrightness(ctx context.Context, id string, brightness, transition uint8) error
	SetEffect(ctx context.Context, id string, effect, transition uint8) error
	SetPreset(ctx context.Context, id string, req gateway.PresetRequest) error
}

// PresetResolver maps a preset name to its device slot.
type PresetResolver interface {
	ResolvePreset(name string) (uint8, bool)
}

// TrackTrigger starts and stops the external audio track.
type TrackTrigger interface {
	PlayTrack(track string) error
	StopTrack(track string) error
}

// HistoryRecorder persists finished playback sessions.
type HistoryRecorder interface {
	SaveSession(sess model.PlaybackSession) error
}

// Scheduler is safe for concurrent use. Play, Stop, Pause and Seek
// serialize on one mutex, and timer armament is atomic with respect to
// cancellation: no timer from a cancelled session survives into the next.
type Scheduler struct {
	commander Commander
	presets   PresetResolver // may be nil
	track     TrackTrigger   // may be nil
	metrics   *timing.Metrics
	store     *store.Store

	mu       sync.Mutex
	gen      uint64
	timers   []*time.Timer
	current  *model.Program
	anchor   time.Time
	offset   float64
	duration float64

	lastSeek  float64
	seekTimer *time.Timer
	seekPos   float64

	history     HistoryRecorder // may be nil
	sessionID   string
	sessionProg string
	sessionName string
	sessionAt   time.Time
	sessionBase timing.Snapshot
}

func New(commander Commander, presets PresetResolver, track TrackTrigger, metrics *timing.Metrics, st *store.Store) *Scheduler {
	return &Scheduler{
		commander: commander,
		presets:   presets,
		track:     track,
		metrics:   metrics,
		store:     st,
	}
}

// SetHistory installs the session recorder. Call before the first Play.
func (s *Scheduler) SetHistory(h HistoryRecorder) {
	s.mu.Lock()
	s.history = h
	s.mu.Unlock()
}

// Play cancels any active session and schedules every cue of p at or after
// offset seconds. anchor is the wall-clock instant the audio actually
// started; a zero anchor means "now". durationSec > 0 additionally arms an
// auto-stop timer at end of track. The cancellation step is synchronous
// and performs no network I/O.
func (s *Scheduler) Play(p *model.Program, offset float64, anchor time.Time, durationSec float64) {
	if p == nil || offset < 0 {
		return
	}
	if anchor.IsZero() {
		anchor = time.Now()
	}

	s.mu.Lock()
	prev := s.current
	s.cancelLocked()

	// A re-Play of the same program is a seek or restart within the same
	// session; anything else closes the old session and opens a fresh one.
	if s.sessionID == "" || prev == nil || prev.ID != p.ID {
		s.finishSessionLocked(false)
		s.sessionID = uuid.NewString()
		s.sessionProg = p.ID
		s.sessionName = p.SongName
		s.sessionAt = time.Now()
		if s.metrics != nil {
			s.sessionBase = s.metrics.Snapshot()
		}
	}

	s.current = p
	s.anchor = anchor
	s.offset = offset
	s.duration = durationSec
	s.lastSeek = offset
	gen := s.gen

	scheduled := 0
	for _, cue := range selectCues(p.Cues, offset) {
		cue := cue
		delay := cueDelay(cue.Time, offset, anchor, time.Now())
		intended := time.Now().Add(delay)
		t := time.AfterFunc(delay, func() {
			s.fire(gen, p, cue, intended)
		})
		s.timers = append(s.timers, t)
		scheduled++
	}

	if durationSec > offset {
		remaining := time.Duration((durationSec - offset) * float64(time.Second))
		t := time.AfterFunc(remaining, func() {
			s.autoStop(gen)
		})
		s.timers = append(s.timers, t)
	}
	s.mu.Unlock()

	if s.store != nil {
		s.store.SetPlaying(p.ID)
	}

	log.Info().
		Str("program", p.ID).
		Float64("offset", offset).
		Int("cues", scheduled).
		Dur("anchor_age", time.Since(anchor)).
		Msg("Playback started")

	// Best effort, never blocks cue timing. A failed track start does not
	// prevent light cues from firing.
	if s.track != nil && p.Track != "" {
		go func() {
			if err := s.track.PlayTrack(p.Track); err != nil {
				log.Warn().Err(err).Str("track", p.Track).Msg("External track start failed")
			}
		}()
	}
}

// Stop cancels the session synchronously, then dims every target the
// stopped program's cues referenced to zero, in parallel, collecting but
// not failing on individual errors.
func (s *Scheduler) Stop() {
	s.stop(false)
}

func (s *Scheduler) stop(completed bool) {
	s.mu.Lock()
	prog := s.current
	s.cancelLocked()
	s.finishSessionLocked(completed)
	s.mu.Unlock()

	if s.store != nil {
		s.store.SetPlaying("")
	}
	if prog == nil {
		return
	}

	log.Info().Str("program", prog.ID).Msg("Playback stopped")

	if s.track != nil && prog.Track != "" {
		go func() {
			if err := s.track.StopTrack(prog.Track); err != nil {
				log.Warn().Err(err).Str("track", prog.Track).Msg("External track stop failed")
			}
		}()
	}

	for _, id := range prog.TargetIDs() {
		id := id
		go func() {
			if err := s.commander.SetBrightness(context.Background(), id, 0, 0); err != nil {
				log.Warn().Err(err).Str("target", id).Msg("Dim-to-zero failed")
			}
		}()
	}
}

// Pause clears the timers and the playing flag but leaves the lights in
// whatever state they were last commanded to.
func (s *Scheduler) Pause() {
	s.mu.Lock()
	prog := s.current
	s.cancelLocked()
	s.mu.Unlock()

	if s.store != nil {
		s.store.SetPlaying("")
	}
	if prog != nil {
		log.Info().Str("program", prog.ID).Msg("Playback paused")
	}
}

// Seek handles an externally-reported position change. Positions within
// seekThreshold of the last processed one are dropped; otherwise the
// reschedule is debounced, always using the latest reported position.
func (s *Scheduler) Seek(position float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current == nil {
		return
	}
	if diff := position - s.lastSeek; diff < seekThreshold && diff > -seekThreshold {
		return
	}
	s.lastSeek = position
	s.seekPos = position

	if s.seekTimer != nil {
		s.seekTimer.Stop()
	}
	s.seekTimer = time.AfterFunc(seekDebounce, s.reschedule)
}

// reschedule runs after the seek debounce window closes.
func (s *Scheduler) reschedule() {
	s.mu.Lock()
	prog := s.current
	pos := s.seekPos
	dur := s.duration
	s.mu.Unlock()

	if prog == nil {
		return
	}
	log.Debug().Float64("position", pos).Msg("Rescheduling after seek")
	s.Play(prog, pos, time.Now(), dur)
}

// Current returns the playing program, nil when stopped.
func (s *Scheduler) Current() *model.Program {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Generation returns the session generation counter.
func (s *Scheduler) Generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen
}

// cancelLocked tears down the active session: every armed timer handle is
// stopped and the generation is bumped so in-flight fires no-op. Callers
// hold s.mu. No network I/O happens here.
func (s *Scheduler) cancelLocked() {
	for _, t := range s.timers {
		t.Stop()
	}
	s.timers = nil
	if s.seekTimer != nil {
		s.seekTimer.Stop()
		s.seekTimer = nil
	}
	s.gen++
	s.current = nil
	s.anchor = time.Time{}
	s.offset = 0
	s.duration = 0
	s.lastSeek = 0
}

// autoStop fires at end of track.
func (s *Scheduler) autoStop(gen uint64) {
	s.mu.Lock()
	stale := gen != s.gen
	s.mu.Unlock()
	if stale {
		return
	}
	log.Info().Msg("End of track, stopping playback")
	s.stop(true)
}

// finishSessionLocked closes the open history session, if any, computing
// the counter deltas accrued since it started. The save happens off the
// lock; a failed save only logs. Callers hold s.mu.
func (s *Scheduler) finishSessionLocked(completed bool) {
	if s.history == nil || s.sessionID == "" {
		return
	}

	now := time.Now()
	sess := model.PlaybackSession{
		ID:          s.sessionID,
		ProgramID:   s.sessionProg,
		ProgramName: s.sessionName,
		StartedAt:   s.sessionAt.UnixMilli(),
		EndedAt:     now.UnixMilli(),
		DurationMS:  now.Sub(s.sessionAt).Milliseconds(),
		Completed:   completed,
	}
	if s.metrics != nil {
		end := s.metrics.Snapshot()
		base := s.sessionBase
		sess.CueCount = end.CueCount - base.CueCount
		sess.CuesDrifted = end.CuesDrifted - base.CuesDrifted
		sess.CueDriftMaxMS = end.CueDriftMaxMS
		if sess.CueCount > 0 {
			sess.CueDriftAvgMS = (end.CueDriftTotalMS - base.CueDriftTotalMS) / float64(sess.CueCount)
		}
		sess.PacketsOK = end.PacketsOK - base.PacketsOK
		sess.PacketsWouldBlock = end.PacketsWouldBlock - base.PacketsWouldBlock
		sess.PacketsErr = end.PacketsErr - base.PacketsErr
	}
	s.sessionID = ""

	h := s.history
	go func() {
		if err := h.SaveSession(sess); err != nil {
			log.Warn().Err(err).Str("session", sess.ID).Msg("Failed to record playback session")
		}
	}()
}

// selectCues returns the cues with time >= offset, ascending.
func selectCues(cues []model.Cue, offset float64) []model.Cue {
	out := make([]model.Cue, 0, len(cues))
	for _, c := range cues {
		if c.Time >= offset {
			out = append(out, c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Time < out[j].Time })
	return out
}

// cueDelay computes the timer delay for a cue: its position relative to
// the start offset, minus the wall-clock time already spent since the
// anchor (Play may run slightly after the audio truly started), clamped
// at zero.
func cueDelay(cueTime, offset float64, anchor, now time.Time) time.Duration {
	d := time.Duration((cueTime-offset)*float64(time.Second)) - now.Sub(anchor)
	if d < 0 {
		return 0
	}
	return d
}

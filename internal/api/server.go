// Package api is the daemon's own small HTTP surface: a health endpoint
// and the playback controls. Everything heavier (program editing, device
// provisioning) lives on the gateway.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/cuesync/cuesyncd/internal/model"
	"github.com/cuesync/cuesyncd/internal/programs"
	"github.com/cuesync/cuesyncd/internal/scheduler"
	"github.com/cuesync/cuesyncd/internal/store"
	"github.com/cuesync/cuesyncd/internal/timing"
)

// historyLimit caps the sessions returned by the history endpoint.
const historyLimit = 50

// AudioClock is the optional local audio player; nil when the anchor is
// supplied by an external player.
type AudioClock interface {
	Load(path string) (time.Duration, error)
	Play(offset float64) error
	Stop()
	Position() float64
}

// Server serves the control endpoints.
type Server struct {
	addr       string
	store      *store.Store
	programs   *programs.Store
	scheduler  *scheduler.Scheduler
	audio      AudioClock      // may be nil
	monitor    *timing.Monitor // may be nil
	metrics    *timing.Metrics // may be nil
	audioDir   string
	httpServer *http.Server
	baseCtx    context.Context
}

func NewServer(host string, port int, st *store.Store, ps *programs.Store, sched *scheduler.Scheduler, audio AudioClock, mon *timing.Monitor, metrics *timing.Metrics, audioDir string) *Server {
	return &Server{
		addr:      fmt.Sprintf("%s:%d", host, port),
		store:     st,
		programs:  ps,
		scheduler: sched,
		audio:     audio,
		monitor:   mon,
		metrics:   metrics,
		audioDir:  audioDir,
	}
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleStatus)
	mux.HandleFunc("POST /playback/play", s.handlePlay)
	mux.HandleFunc("POST /playback/stop", s.handleStop)
	mux.HandleFunc("POST /playback/pause", s.handlePause)
	mux.HandleFunc("POST /playback/seek", s.handleSeek)
	mux.HandleFunc("GET /playback/history", s.handleHistory)
	mux.HandleFunc("DELETE /playback/history", s.handleClearHistory)
	mux.HandleFunc("POST /timing/monitor", s.handleMonitorVisibility)
	mux.HandleFunc("GET /timing/snapshot", s.handleTimingSnapshot)
	mux.HandleFunc("GET /timing/events", s.handleTimingEvents)
	mux.HandleFunc("DELETE /timing/events", s.handleTimingClearEvents)
	mux.HandleFunc("POST /timing/reset", s.handleTimingReset)
	mux.HandleFunc("PUT /timing/threshold", s.handleTimingThreshold)
	return mux
}

// Run starts the server. It blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context, shutdownTimeout time.Duration) error {
	s.baseCtx = ctx
	s.httpServer = &http.Server{
		Addr:    s.addr,
		Handler: s.routes(),
	}

	log.Info().Str("addr", s.addr).Msg("Starting API server")

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("API server shutdown error")
		}
	}()

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"loaded":  s.store.Loaded(),
		"boards":  s.store.Len(),
		"playing": s.store.Playing(),
		"error":   s.store.LastError(),
	})
}

func (s *Server) handlePlay(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ProgramID string  `json:"program_id"`
		Offset    float64 `json:"offset"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Offset < 0 {
		http.Error(w, "offset must be >= 0", http.StatusBadRequest)
		return
	}

	prog, err := s.programs.Get(req.ProgramID)
	if err != nil {
		if errors.Is(err, programs.ErrNotFound) {
			http.Error(w, "program not found", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	duration := s.startAudio(prog, req.Offset)
	s.scheduler.Play(prog, req.Offset, time.Now(), duration)

	writeJSON(w, http.StatusOK, map[string]any{"playing": prog.ID, "offset": req.Offset})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	s.scheduler.Stop()
	if s.audio != nil {
		s.audio.Stop()
	}
	writeJSON(w, http.StatusOK, map[string]any{"playing": ""})
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	s.scheduler.Pause()
	if s.audio != nil {
		s.audio.Stop()
	}
	writeJSON(w, http.StatusOK, map[string]any{"playing": ""})
}

func (s *Server) handleSeek(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Position float64 `json:"position"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	s.scheduler.Seek(req.Position)
	if s.audio != nil {
		if err := s.audio.Play(req.Position); err != nil {
			log.Warn().Err(err).Msg("Audio seek failed")
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"position": req.Position})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.programs.ListSessions(historyLimit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if sessions == nil {
		sessions = []model.PlaybackSession{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

func (s *Server) handleClearHistory(w http.ResponseWriter, r *http.Request) {
	n, err := s.programs.ClearSessions()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted_count": n})
}

// handleMonitorVisibility starts or stops the gateway timing poller. The
// poller runs only while a monitor view reports itself visible; polling an
// idle gateway forever is wasted traffic.
func (s *Server) handleMonitorVisibility(w http.ResponseWriter, r *http.Request) {
	if s.monitor == nil {
		http.Error(w, "timing monitor unavailable", http.StatusServiceUnavailable)
		return
	}
	var req struct {
		Running bool `json:"running"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if req.Running {
		ctx := s.baseCtx
		if ctx == nil {
			ctx = context.Background()
		}
		s.monitor.Start(ctx)
	} else {
		s.monitor.Stop()
	}
	writeJSON(w, http.StatusOK, map[string]any{"running": s.monitor.Running()})
}

func (s *Server) handleTimingSnapshot(w http.ResponseWriter, r *http.Request) {
	if s.monitor == nil {
		http.Error(w, "timing monitor unavailable", http.StatusServiceUnavailable)
		return
	}
	snap := s.monitor.Latest()
	if snap == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleTimingEvents(w http.ResponseWriter, r *http.Request) {
	if s.monitor == nil {
		http.Error(w, "timing monitor unavailable", http.StatusServiceUnavailable)
		return
	}
	events, err := s.monitor.Events(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	if events == nil {
		events = []timing.DriftEvent{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

func (s *Server) handleTimingClearEvents(w http.ResponseWriter, r *http.Request) {
	if s.monitor == nil {
		http.Error(w, "timing monitor unavailable", http.StatusServiceUnavailable)
		return
	}
	if err := s.monitor.ClearEvents(r.Context()); err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	if s.metrics != nil {
		s.metrics.ClearEvents()
	}
	writeJSON(w, http.StatusOK, map[string]any{"cleared": true})
}

func (s *Server) handleTimingReset(w http.ResponseWriter, r *http.Request) {
	if s.monitor == nil {
		http.Error(w, "timing monitor unavailable", http.StatusServiceUnavailable)
		return
	}
	if err := s.monitor.Reset(r.Context()); err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	if s.metrics != nil {
		s.metrics.Reset()
	}
	writeJSON(w, http.StatusOK, map[string]any{"reset": true})
}

// handleTimingThreshold pushes the new drift threshold to the gateway and
// mirrors it into the local recorder so both classify drifts the same way.
func (s *Server) handleTimingThreshold(w http.ResponseWriter, r *http.Request) {
	if s.monitor == nil {
		http.Error(w, "timing monitor unavailable", http.StatusServiceUnavailable)
		return
	}
	var req struct {
		DriftThresholdMS float64 `json:"drift_threshold_ms"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.DriftThresholdMS <= 0 {
		http.Error(w, "drift_threshold_ms must be > 0", http.StatusBadRequest)
		return
	}

	if err := s.monitor.SetThreshold(r.Context(), req.DriftThresholdMS); err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	if s.metrics != nil {
		s.metrics.SetDriftThreshold(req.DriftThresholdMS)
	}
	writeJSON(w, http.StatusOK, map[string]any{"drift_threshold_ms": req.DriftThresholdMS})
}

// startAudio loads and starts the local audio clock when enabled and the
// program carries an audio file. Returns the track duration in seconds,
// 0 when unknown (no auto-stop is armed then).
func (s *Server) startAudio(prog *model.Program, offset float64) float64 {
	if s.audio == nil || prog.AudioFile == "" {
		return 0
	}
	dur, err := s.audio.Load(s.audioDir + "/" + prog.AudioFile)
	if err != nil {
		log.Warn().Err(err).Str("file", prog.AudioFile).Msg("Audio load failed, playing lights only")
		return 0
	}
	if err := s.audio.Play(offset); err != nil {
		log.Warn().Err(err).Msg("Audio start failed, playing lights only")
	}
	return dur.Seconds()
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Warn().Err(err).Msg("Failed to write response")
	}
}

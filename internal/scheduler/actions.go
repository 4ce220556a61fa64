package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/cuesync/cuesyncd/internal/gateway"
	"github.com/cuesync/cuesyncd/internal/model"
	"github.com/cuesync/cuesyncd/internal/timing"
)

// fire runs when a cue timer pops. It no-ops if the session was cancelled
// or replaced, records the measured drift, then dispatches commands to
// every target concurrently: targets are independent and a failure on one
// must not delay or abort the others.
func (s *Scheduler) fire(gen uint64, p *model.Program, cue model.Cue, intended time.Time) {
	s.mu.Lock()
	stale := gen != s.gen
	s.mu.Unlock()
	if stale {
		return
	}

	driftMS := float64(time.Since(intended).Microseconds()) / 1000
	if s.metrics != nil {
		s.metrics.RecordCueDrift(driftMS, cue.Label)
	}
	log.Debug().
		Str("label", cue.Label).
		Float64("time", cue.Time).
		Str("severity", string(timing.Classify(driftMS))).
		Float64("drift_ms", driftMS).
		Msg("Cue fired")

	for _, target := range cue.Targets {
		target := target
		go s.runCueTarget(target, cue, p.BPM)
	}
}

// runCueTarget issues one cue's commands to one target. Within a target
// the sub-steps go out in fixed order (color before effect, both before
// brightness) and are awaited sequentially, since device firmware
// processes them in arrival order. Errors are logged, never retried.
func (s *Scheduler) runCueTarget(target string, cue model.Cue, bpm float64) {
	ctx := context.Background()

	switch cue.Action {
	case model.CueActionOn:
		// Coarse fast path: power only, no color or effect traffic.
		s.command(target, cue.Label, "power", func() error {
			return s.commander.SetPower(ctx, target, true, cue.Transition)
		})
		return

	case model.CueActionOff:
		s.command(target, cue.Label, "power", func() error {
			return s.commander.SetPower(ctx, target, false, cue.Transition)
		})
		return
	}

	// Default "preset" action: preset beats explicit color+effect, and
	// every branch finishes with brightness.
	if slot, name, ok := s.resolveCuePreset(cue); ok {
		s.command(target, cue.Label, "preset", func() error {
			return s.commander.SetPreset(ctx, target, gateway.PresetRequest{
				Preset:     slot,
				PresetName: name,
				BPM:        bpm,
				SyncRate:   cue.SyncRate,
				Transition: cue.Transition,
			})
		})
	} else {
		if col, err := model.ParseHexColor(cue.Color); err == nil {
			s.command(target, cue.Label, "color", func() error {
				return s.commander.SetColor(ctx, target, col, cue.Transition)
			})
		} else if cue.Color != "" {
			log.Warn().Str("label", cue.Label).Str("color", cue.Color).Msg("Cue color unparsable, skipping")
		}
		s.command(target, cue.Label, "effect", func() error {
			return s.commander.SetEffect(ctx, target, cue.Effect, cue.Transition)
		})
	}

	s.command(target, cue.Label, "brightness", func() error {
		return s.commander.SetBrightness(ctx, target, cue.Brightness, cue.Transition)
	})
}

// resolveCuePreset resolves the cue's preset name to a device slot,
// falling back to the legacy numeric id. ok is false when the cue carries
// no usable preset at all.
func (s *Scheduler) resolveCuePreset(cue model.Cue) (uint8, string, bool) {
	if cue.PresetName != "" && s.presets != nil {
		if slot, ok := s.presets.ResolvePreset(cue.PresetName); ok {
			return slot, cue.PresetName, true
		}
		log.Warn().Str("preset", cue.PresetName).Str("label", cue.Label).Msg("Preset name unknown, trying legacy id")
	}
	if cue.Preset != 0 {
		return cue.Preset, cue.PresetName, true
	}
	return 0, "", false
}

// command runs one outbound command, feeding the packet counters and the
// log. Failures never propagate: the show keeps running.
func (s *Scheduler) command(target, label, op string, send func() error) {
	if err := send(); err != nil {
		if s.metrics != nil {
			s.metrics.RecordPacketErr()
		}
		log.Warn().Err(err).Str("target", target).Str("cue", label).Str("op", op).Msg("Cue command failed")
		return
	}
	if s.metrics != nil {
		s.metrics.RecordPacketOK()
	}
}

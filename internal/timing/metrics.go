// Package timing records cue-fire drift locally and polls the gateway's
// timing snapshot for display.
package timing

import (
	"sync"
	"sync/atomic"
	"time"
)

// Bounds for the recent-event ring.
const maxEvents = 100

// DriftEvent is one threshold-exceeding drift observation.
type DriftEvent struct {
	Timestamp uint64  `json:"timestamp"` // unix millis
	Source    string  `json:"source"`    // "cue" or "frame"
	DriftMS   float64 `json:"drift_ms"`
	Label     string  `json:"label"`
}

// Snapshot is the counters-and-events view served by the gateway and
// produced by the local recorder. Frame fields are only populated by the
// gateway, which owns the output frame loop.
type Snapshot struct {
	CueCount          uint64       `json:"cue_count"`
	CuesDrifted       uint64       `json:"cues_drifted"`
	CueDriftTotalMS   float64      `json:"cue_drift_total_ms"`
	CueDriftMaxMS     float64      `json:"cue_drift_max_ms"`
	FrameCount        uint64       `json:"frame_count"`
	FrameAvgMS        float64      `json:"frame_avg_ms"`
	FrameMaxMS        float64      `json:"frame_max_ms"`
	PacketsOK         uint64       `json:"packets_ok"`
	PacketsWouldBlock uint64       `json:"packets_wouldblock"`
	PacketsErr        uint64       `json:"packets_err"`
	RecentEvents      []DriftEvent `json:"recent_events"`
	DriftThresholdMS  float64      `json:"drift_threshold_ms"`
}

// Severity classifies a drift magnitude for display.
type Severity string

const (
	SeverityGood Severity = "good"
	SeverityWarn Severity = "warn"
	SeverityBad  Severity = "bad"
)

// Classify maps a drift magnitude in milliseconds onto the three display
// tiers: under 5 ms good, under 15 ms warn, otherwise bad.
func Classify(driftMS float64) Severity {
	if driftMS < 0 {
		driftMS = -driftMS
	}
	switch {
	case driftMS < 5:
		return SeverityGood
	case driftMS < 15:
		return SeverityWarn
	default:
		return SeverityBad
	}
}

// Metrics is the local drift recorder. Counters are microsecond-resolution
// atomics; only drifts at or above the threshold enter the event ring.
type Metrics struct {
	cueCount          atomic.Uint64
	cuesDrifted       atomic.Uint64
	cueDriftTotalUS   atomic.Uint64
	cueDriftMaxUS     atomic.Uint64
	packetsOK         atomic.Uint64
	packetsWouldBlock atomic.Uint64
	packetsErr        atomic.Uint64
	thresholdUS       atomic.Uint64

	mu     sync.Mutex
	events []DriftEvent
	sink   func(label string, driftMS float64)
}

// NewMetrics returns a recorder with a 10 ms default drift threshold.
func NewMetrics() *Metrics {
	m := &Metrics{}
	m.thresholdUS.Store(10_000)
	return m
}

// SetDriftSink installs a callback invoked for every recorded cue drift,
// threshold or not. The sink must not block; set it before recording starts.
func (m *Metrics) SetDriftSink(fn func(label string, driftMS float64)) {
	m.mu.Lock()
	m.sink = fn
	m.mu.Unlock()
}

// SetDriftThreshold sets the alert threshold in milliseconds.
func (m *Metrics) SetDriftThreshold(ms float64) {
	m.thresholdUS.Store(uint64(ms * 1000))
}

// DriftThresholdMS returns the alert threshold in milliseconds.
func (m *Metrics) DriftThresholdMS() float64 {
	return float64(m.thresholdUS.Load()) / 1000
}

// RecordCueDrift records one cue fire. Drift is stored by magnitude.
func (m *Metrics) RecordCueDrift(driftMS float64, label string) {
	if driftMS < 0 {
		driftMS = -driftMS
	}
	driftUS := uint64(driftMS * 1000)

	m.cueCount.Add(1)
	m.cueDriftTotalUS.Add(driftUS)

	for {
		cur := m.cueDriftMaxUS.Load()
		if driftUS <= cur || m.cueDriftMaxUS.CompareAndSwap(cur, driftUS) {
			break
		}
	}

	m.mu.Lock()
	sink := m.sink
	m.mu.Unlock()
	if sink != nil {
		sink(label, driftMS)
	}

	if driftUS >= m.thresholdUS.Load() {
		m.cuesDrifted.Add(1)
		m.addEvent(DriftEvent{
			Timestamp: uint64(time.Now().UnixMilli()),
			Source:    "cue",
			DriftMS:   driftMS,
			Label:     label,
		})
	}
}

func (m *Metrics) RecordPacketOK()  { m.packetsOK.Add(1) }
func (m *Metrics) RecordPacketErr() { m.packetsErr.Add(1) }

func (m *Metrics) addEvent(ev DriftEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.events) >= maxEvents {
		m.events = m.events[1:]
	}
	m.events = append(m.events, ev)
}

// RecentEvents returns a copy of the event ring, oldest first.
func (m *Metrics) RecentEvents() []DriftEvent {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]DriftEvent, len(m.events))
	copy(out, m.events)
	return out
}

// ClearEvents empties the event ring, keeping the counters.
func (m *Metrics) ClearEvents() {
	m.mu.Lock()
	m.events = nil
	m.mu.Unlock()
}

// Reset zeroes every counter and clears the events. The threshold stays.
func (m *Metrics) Reset() {
	m.cueCount.Store(0)
	m.cuesDrifted.Store(0)
	m.cueDriftTotalUS.Store(0)
	m.cueDriftMaxUS.Store(0)
	m.packetsOK.Store(0)
	m.packetsWouldBlock.Store(0)
	m.packetsErr.Store(0)
	m.ClearEvents()
}

// Snapshot returns the current counters and events.
func (m *Metrics) Snapshot() Snapshot {
	return Snapshot{
		CueCount:          m.cueCount.Load(),
		CuesDrifted:       m.cuesDrifted.Load(),
		CueDriftTotalMS:   float64(m.cueDriftTotalUS.Load()) / 1000,
		CueDriftMaxMS:     float64(m.cueDriftMaxUS.Load()) / 1000,
		PacketsOK:         m.packetsOK.Load(),
		PacketsWouldBlock: m.packetsWouldBlock.Load(),
		PacketsErr:        m.packetsErr.Load(),
		RecentEvents:      m.RecentEvents(),
		DriftThresholdMS:  m.DriftThresholdMS(),
	}
}

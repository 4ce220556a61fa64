package timing

import (
	"sync"
	"testing"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		drift float64
		want  Severity
	}{
		{0, SeverityGood},
		{4.9, SeverityGood},
		{-3, SeverityGood},
		{5, SeverityWarn},
		{14.9, SeverityWarn},
		{-10, SeverityWarn},
		{15, SeverityBad},
		{120, SeverityBad},
	}
	for _, tt := range tests {
		if got := Classify(tt.drift); got != tt.want {
			t.Errorf("Classify(%v) = %v, want %v", tt.drift, got, tt.want)
		}
	}
}

func TestMetrics_CountersAndMax(t *testing.T) {
	m := NewMetrics()
	m.RecordCueDrift(2, "a")
	m.RecordCueDrift(8, "b")
	m.RecordCueDrift(-4, "c") // magnitude

	snap := m.Snapshot()
	if snap.CueCount != 3 {
		t.Errorf("CueCount = %d, want 3", snap.CueCount)
	}
	if snap.CueDriftTotalMS != 14 {
		t.Errorf("CueDriftTotalMS = %v, want 14", snap.CueDriftTotalMS)
	}
	if snap.CueDriftMaxMS != 8 {
		t.Errorf("CueDriftMaxMS = %v, want 8", snap.CueDriftMaxMS)
	}
}

func TestMetrics_ThresholdGatesEventRing(t *testing.T) {
	m := NewMetrics() // 10ms default threshold
	m.RecordCueDrift(5, "under")
	m.RecordCueDrift(12, "over")

	snap := m.Snapshot()
	if snap.CuesDrifted != 1 {
		t.Errorf("CuesDrifted = %d, want 1", snap.CuesDrifted)
	}
	events := m.RecentEvents()
	if len(events) != 1 || events[0].Label != "over" {
		t.Errorf("events = %v, want single 'over' entry", events)
	}
	if events[0].Source != "cue" {
		t.Errorf("Source = %q, want cue", events[0].Source)
	}
}

func TestMetrics_EventRingBounded(t *testing.T) {
	m := NewMetrics()
	m.SetDriftThreshold(0.001)
	for i := 0; i < 150; i++ {
		m.RecordCueDrift(20, "x")
	}
	if got := len(m.RecentEvents()); got != maxEvents {
		t.Errorf("ring len = %d, want %d", got, maxEvents)
	}
}

func TestMetrics_ResetKeepsThreshold(t *testing.T) {
	m := NewMetrics()
	m.SetDriftThreshold(25)
	m.RecordCueDrift(30, "a")
	m.RecordPacketOK()
	m.RecordPacketErr()

	m.Reset()
	snap := m.Snapshot()
	if snap.CueCount != 0 || snap.PacketsOK != 0 || snap.PacketsErr != 0 {
		t.Errorf("counters not zeroed: %+v", snap)
	}
	if len(snap.RecentEvents) != 0 {
		t.Error("events not cleared")
	}
	if snap.DriftThresholdMS != 25 {
		t.Errorf("threshold = %v, want 25 after reset", snap.DriftThresholdMS)
	}
}

func TestMetrics_ClearEventsKeepsCounters(t *testing.T) {
	m := NewMetrics()
	m.RecordCueDrift(30, "a")

	m.ClearEvents()
	snap := m.Snapshot()
	if snap.CueCount != 1 || snap.CuesDrifted != 1 {
		t.Errorf("counters must survive ClearEvents: %+v", snap)
	}
	if len(snap.RecentEvents) != 0 {
		t.Error("events not cleared")
	}
}

func TestMetrics_DriftSinkSeesEveryRecord(t *testing.T) {
	m := NewMetrics()
	var mu sync.Mutex
	var seen []float64
	m.SetDriftSink(func(label string, driftMS float64) {
		mu.Lock()
		seen = append(seen, driftMS)
		mu.Unlock()
	})

	m.RecordCueDrift(1, "under-threshold")
	m.RecordCueDrift(50, "over")

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 2 {
		t.Errorf("sink saw %d records, want 2 (threshold must not gate the sink)", len(seen))
	}
}

func TestMetrics_ConcurrentRecording(t *testing.T) {
	m := NewMetrics()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				m.RecordCueDrift(20, "x")
				m.RecordPacketOK()
			}
		}()
	}
	wg.Wait()

	snap := m.Snapshot()
	if snap.CueCount != 800 || snap.PacketsOK != 800 {
		t.Errorf("counts = %d/%d, want 800/800", snap.CueCount, snap.PacketsOK)
	}
}

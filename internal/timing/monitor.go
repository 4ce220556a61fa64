package timing

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Monitor polls the gateway timing endpoints on a fixed interval while a
// monitor view is visible and stops the instant it is hidden. Reset and
// ClearEvents trigger an immediate re-poll so the view reflects the
// gateway's post-reset state without waiting for the next tick.
type Monitor struct {
	baseURL    string
	httpClient *http.Client
	interval   time.Duration

	mu       sync.Mutex
	cancel   context.CancelFunc
	latest   *Snapshot
	pollNow  chan struct{}
	onUpdate func(Snapshot)
}

// NewMonitor creates a poller against the gateway base URL.
func NewMonitor(baseURL string, interval time.Duration, timeout time.Duration) *Monitor {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	return &Monitor{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		interval:   interval,
		pollNow:    make(chan struct{}, 1),
	}
}

// OnUpdate sets a callback invoked after every successful poll.
func (m *Monitor) OnUpdate(fn func(Snapshot)) {
	m.mu.Lock()
	m.onUpdate = fn
	m.mu.Unlock()
}

// Start begins polling. Safe to call while already running (no-op).
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cancel != nil {
		return
	}
	pollCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	go m.loop(pollCtx)
}

// Stop halts polling immediately. Safe to call while stopped.
func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
}

// Running reports whether the poll loop is active.
func (m *Monitor) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cancel != nil
}

// Latest returns the last fetched snapshot, nil before the first poll.
func (m *Monitor) Latest() *Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.latest
}

func (m *Monitor) loop(ctx context.Context) {
	m.pollOnce(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.pollOnce(ctx)
		case <-m.pollNow:
			m.pollOnce(ctx)
		}
	}
}

func (m *Monitor) pollOnce(ctx context.Context) {
	snap, err := m.fetchSnapshot(ctx)
	if err != nil {
		if ctx.Err() == nil {
			log.Warn().Err(err).Msg("Timing snapshot poll failed")
		}
		return
	}

	m.mu.Lock()
	m.latest = snap
	cb := m.onUpdate
	m.mu.Unlock()

	if cb != nil {
		cb(*snap)
	}
}

// requestRepoll queues an immediate poll if the loop is running.
func (m *Monitor) requestRepoll() {
	select {
	case m.pollNow <- struct{}{}:
	default:
	}
}

func (m *Monitor) fetchSnapshot(ctx context.Context) (*Snapshot, error) {
	body, err := m.do(ctx, http.MethodGet, "/timing/snapshot", nil)
	if err != nil {
		return nil, err
	}
	var snap Snapshot
	if err := json.Unmarshal(body, &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return &snap, nil
}

// Events fetches the gateway's recent drift events.
func (m *Monitor) Events(ctx context.Context) ([]DriftEvent, error) {
	body, err := m.do(ctx, http.MethodGet, "/timing/events", nil)
	if err != nil {
		return nil, err
	}
	var resp struct {
		Events []DriftEvent `json:"events"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode events: %w", err)
	}
	return resp.Events, nil
}

// Reset zeroes the gateway counters and re-polls immediately.
func (m *Monitor) Reset(ctx context.Context) error {
	if _, err := m.do(ctx, http.MethodPost, "/timing/reset", nil); err != nil {
		return err
	}
	m.requestRepoll()
	return nil
}

// ClearEvents drops the gateway's recent events and re-polls immediately.
func (m *Monitor) ClearEvents(ctx context.Context) error {
	if _, err := m.do(ctx, http.MethodDelete, "/timing/events", nil); err != nil {
		return err
	}
	m.requestRepoll()
	return nil
}

// SetThreshold updates the gateway's drift alert threshold.
func (m *Monitor) SetThreshold(ctx context.Context, thresholdMS float64) error {
	payload := map[string]float64{"drift_threshold_ms": thresholdMS}
	if _, err := m.do(ctx, http.MethodPut, "/timing/threshold", payload); err != nil {
		return err
	}
	m.requestRepoll()
	return nil
}

func (m *Monitor) do(ctx context.Context, method, path string, payload any) ([]byte, error) {
	var reqBody io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, m.baseURL+path, reqBody)
	if err != nil {
		return nil, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s %s: unexpected status %d", method, path, resp.StatusCode)
	}
	return body, nil
}

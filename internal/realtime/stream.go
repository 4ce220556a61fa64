// Package realtime consumes the gateway's SSE stream and publishes the
// decoded events to the bus. Pure transport: no reconciliation happens
// here.
package realtime

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/cuesync/cuesyncd/internal/eventbus"
	"github.com/cuesync/cuesyncd/internal/model"
)

// ErrMaxReconnectsExceeded is returned when the maximum number of
// reconnect attempts is exceeded.
var ErrMaxReconnectsExceeded = errors.New("max reconnects exceeded")

// Config contains reconnection settings for the stream.
type Config struct {
	MinBackoff    time.Duration // Minimum backoff between reconnects
	MaxBackoff    time.Duration // Maximum backoff between reconnects
	Multiplier    float64       // Backoff multiplier
	MaxReconnects int           // Max reconnect attempts, 0 = infinite
}

// DefaultConfig returns sensible reconnect defaults.
func DefaultConfig() Config {
	return Config{
		MinBackoff:    1 * time.Second,
		MaxBackoff:    2 * time.Minute,
		Multiplier:    2.0,
		MaxReconnects: 0,
	}
}

// Stream is the long-lived SSE connection to the gateway.
type Stream struct {
	baseURL    string
	httpClient *http.Client
	config     Config
}

// NewStream creates a stream listener for baseURL + "/events".
func NewStream(baseURL string, config Config) *Stream {
	return &Stream{
		baseURL: baseURL,
		// No timeout: SSE is a long-lived connection.
		httpClient: &http.Client{},
		config:     config,
	}
}

// Run listens with automatic reconnection until ctx is cancelled. During
// shutdown transport errors are expected teardown noise and are not
// logged. Returns ErrMaxReconnectsExceeded when the retry limit is hit.
func (s *Stream) Run(ctx context.Context, bus *eventbus.Bus) error {
	retryCount := 0
	currentBackoff := s.config.MinBackoff

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		err := s.connect(ctx, bus)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}

			retryCount++
			if s.config.MaxReconnects > 0 && retryCount > s.config.MaxReconnects {
				log.Warn().
					Int("max_reconnects", s.config.MaxReconnects).
					Msg("Realtime channel: max reconnects exceeded, terminating")
				return ErrMaxReconnectsExceeded
			}

			log.Info().
				Err(err).
				Dur("backoff", currentBackoff).
				Int("retry", retryCount).
				Msg("Realtime channel disconnected, reconnecting")

			select {
			case <-ctx.Done():
				return nil
			case <-time.After(currentBackoff):
			}

			nextBackoff := time.Duration(float64(currentBackoff) * s.config.Multiplier)
			if nextBackoff > s.config.MaxBackoff {
				nextBackoff = s.config.MaxBackoff
			}
			currentBackoff = nextBackoff
			continue
		}

		retryCount = 0
		currentBackoff = s.config.MinBackoff
	}
}

func (s *Stream) connect(ctx context.Context, bus *eventbus.Bus) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/events", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	log.Info().Msg("Connected to gateway event stream")

	scanner := bufio.NewScanner(resp.Body)
	var dataBuffer strings.Builder

	for scanner.Scan() {
		line := scanner.Text()

		// Empty line marks end of event
		if line == "" {
			if dataBuffer.Len() > 0 {
				if ev, ok := ParseEvent(dataBuffer.String()); ok {
					bus.Publish(ev)
				}
				dataBuffer.Reset()
			}
			continue
		}

		if strings.HasPrefix(line, "data: ") {
			dataBuffer.WriteString(strings.TrimPrefix(line, "data: "))
		}
	}

	if err := scanner.Err(); err != nil {
		return err
	}
	return nil
}

// envelope is the discriminated wire shape of one SSE event.
type envelope struct {
	Type      string       `json:"type"`
	BoardID   string       `json:"board_id"`
	State     *model.Board `json:"state"`
	Connected *bool        `json:"connected"`
	Message   string       `json:"message"`
}

// ParseEvent decodes one SSE data payload. Malformed payloads are logged
// and dropped; they never crash the consumer.
func ParseEvent(data string) (eventbus.Event, bool) {
	var env envelope
	if err := json.Unmarshal([]byte(data), &env); err != nil {
		log.Warn().Err(err).Str("data", data).Msg("Failed to parse realtime event")
		return eventbus.Event{}, false
	}

	switch env.Type {
	case "state_update":
		if env.BoardID == "" || env.State == nil {
			log.Warn().Str("data", data).Msg("state_update missing board id or state")
			return eventbus.Event{}, false
		}
		return eventbus.Event{
			Kind:    eventbus.KindStateUpdate,
			BoardID: env.BoardID,
			State:   env.State,
		}, true

	case "connection_status":
		if env.BoardID == "" || env.Connected == nil {
			log.Warn().Str("data", data).Msg("connection_status missing board id or flag")
			return eventbus.Event{}, false
		}
		return eventbus.Event{
			Kind:      eventbus.KindConnectionStatus,
			BoardID:   env.BoardID,
			Connected: *env.Connected,
		}, true

	case "connected":
		// Informational greeting only.
		log.Debug().Str("message", env.Message).Msg("Realtime channel greeting")
		return eventbus.Event{Kind: eventbus.KindConnected, Message: env.Message}, true

	default:
		log.Warn().Str("type", env.Type).Msg("Unknown realtime event type, dropping")
		return eventbus.Event{}, false
	}
}

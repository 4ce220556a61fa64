// Package track fires the external audio track over OSC. Fire and forget:
// one UDP datagram per trigger, no reply expected.
package track

import (
	"fmt"

	"github.com/hypebeast/go-osc/osc"
	"github.com/rs/zerolog/log"
)

// Trigger sends /track/NN/play and /track/NN/stop messages to the track
// host (a looper app listening for OSC).
type Trigger struct {
	client *osc.Client
	host   string
	port   int
}

func NewTrigger(host string, port int) *Trigger {
	return &Trigger{
		client: osc.NewClient(host, port),
		host:   host,
		port:   port,
	}
}

// PlayTrack starts external track playback.
func (t *Trigger) PlayTrack(track string) error {
	return t.send(fmt.Sprintf("/track/%s/play", NormalizeTrackID(track)))
}

// StopTrack stops external track playback.
func (t *Trigger) StopTrack(track string) error {
	return t.send(fmt.Sprintf("/track/%s/stop", NormalizeTrackID(track)))
}

func (t *Trigger) send(address string) error {
	if err := t.client.Send(osc.NewMessage(address)); err != nil {
		return fmt.Errorf("osc send %s to %s:%d: %w", address, t.host, t.port, err)
	}
	log.Debug().Str("address", address).Str("host", t.host).Int("port", t.port).Msg("OSC sent")
	return nil
}

// NormalizeTrackID pads a track identifier to the two-digit form the
// receiver expects ("7" -> "07").
func NormalizeTrackID(track string) string {
	if len(track) == 1 {
		return "0" + track
	}
	return track
}

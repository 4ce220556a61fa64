// Package mqttpub mirrors board state changes onto an MQTT broker so
// external dashboards and automations can follow the show without talking
// to the gateway. Publishing is best effort; a broker outage never touches
// the control path.
package mqttpub

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"

	"github.com/cuesync/cuesyncd/internal/eventbus"
	"github.com/cuesync/cuesyncd/internal/model"
)

// Publisher holds the broker connection.
type Publisher struct {
	client mqtt.Client
	prefix string
}

// Connect dials the broker. The paho client reconnects on its own after
// that; Publish calls while disconnected are dropped with a warning.
func Connect(ctx context.Context, broker, clientID, username, password, topicPrefix string) (*Publisher, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetUsername(username).
		SetPassword(password).
		SetOrderMatters(false).
		SetAutoReconnect(true).
		SetMaxReconnectInterval(30 * time.Second).
		SetKeepAlive(30 * time.Second).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			log.Warn().Err(err).Msg("MQTT connection lost, reconnecting")
		}).
		SetOnConnectHandler(func(_ mqtt.Client) {
			log.Info().Str("broker", broker).Msg("MQTT connected")
		})

	client := mqtt.NewClient(opts)

	token := client.Connect()
	select {
	case <-token.Done():
		if token.Error() != nil {
			return nil, fmt.Errorf("mqtt connect: %w", token.Error())
		}
	case <-ctx.Done():
		client.Disconnect(0)
		return nil, ctx.Err()
	}

	if topicPrefix == "" {
		topicPrefix = "cuesync"
	}
	return &Publisher{client: client, prefix: topicPrefix}, nil
}

// Subscribe wires the publisher to the realtime bus.
func (p *Publisher) Subscribe(bus *eventbus.Bus) {
	bus.Subscribe(eventbus.KindStateUpdate, func(ev eventbus.Event) {
		if ev.State != nil {
			p.PublishState(*ev.State)
		}
	})
	bus.Subscribe(eventbus.KindConnectionStatus, func(ev eventbus.Event) {
		p.PublishConnectivity(ev.BoardID, ev.Connected)
	})
}

// PublishState publishes the full board state, retained, so late joiners
// see the last known state immediately.
func (p *Publisher) PublishState(b model.Board) {
	payload, err := json.Marshal(b)
	if err != nil {
		log.Warn().Err(err).Str("board_id", b.ID).Msg("MQTT state marshal failed")
		return
	}
	p.publish(fmt.Sprintf("%s/boards/%s/state", p.prefix, b.ID), payload)
}

// PublishConnectivity publishes a board's connectivity flag.
func (p *Publisher) PublishConnectivity(boardID string, connected bool) {
	payload := []byte(`{"connected":false}`)
	if connected {
		payload = []byte(`{"connected":true}`)
	}
	p.publish(fmt.Sprintf("%s/boards/%s/connectivity", p.prefix, boardID), payload)
}

func (p *Publisher) publish(topic string, payload []byte) {
	if !p.client.IsConnected() {
		log.Warn().Str("topic", topic).Msg("MQTT not connected, dropping publish")
		return
	}
	token := p.client.Publish(topic, 0, true, payload)
	go func() {
		token.Wait()
		if token.Error() != nil {
			log.Warn().Err(token.Error()).Str("topic", topic).Msg("MQTT publish failed")
		}
	}()
}

// Close disconnects from the broker.
func (p *Publisher) Close() {
	p.client.Disconnect(500)
}

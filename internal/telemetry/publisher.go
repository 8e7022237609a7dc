// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package telemetry

import (
	"encoding/json"
	"fmt"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

// Publisher sends a JSON-encodable value to a topic.
type Publisher interface {
	Publish(topic string, v any) error
}

// Nop drops everything. Used when MQTT is disabled.
type Nop struct{}

func (Nop) Publish(string, any) error { return nil }

// MQTTPublisher publishes JSON payloads to an MQTT broker.
type MQTTPublisher struct {
	client mqtt.Client
	log    *zap.Logger
	retain bool
}

// NewMQTTPublisher connects to broker and returns a publisher. Progress and
// event topics are retained so a late dashboard sees the last state.
func NewMQTTPublisher(broker, clientID string, log *zap.Logger) (*MQTTPublisher, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("connect %s: %w", broker, token.Error())
	}
	log.Info("connected to MQTT broker", zap.String("broker", broker), zap.String("client_id", clientID))

	return &MQTTPublisher{client: client, log: log, retain: true}, nil
}

func (p *MQTTPublisher) Publish(topic string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", topic, err)
	}
	if token := p.client.Publish(topic, 0, p.retain, payload); token.Wait() && token.Error() != nil {
		return fmt.Errorf("publish %s: %w", topic, token.Error())
	}
	return nil
}

// Close disconnects, giving in-flight messages 250ms to drain.
func (p *MQTTPublisher) Close() {
	p.client.Disconnect(250)
	p.log.Info("disconnected from MQTT broker")
}

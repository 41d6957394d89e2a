// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"fmt"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	log "github.com/sirupsen/logrus"

	"github.com/relabs-tech/mocap_pipeline/internal/config"
)

// MQTT topics for the optional telemetry mirror.
const (
	topicFrames = "mocap/frames"
	topicStatus = "mocap/status"
)

// mirror republishes stream frames and status lines to an MQTT broker
// so tooling on the LAN can watch a capture session without touching
// the serial link. Entirely optional; a missing broker config disables
// it.
type mirror struct {
	client mqtt.Client
}

// newMirror connects to the configured broker, or returns (nil, nil)
// when no broker is configured.
func newMirror(cfg *config.Config) (*mirror, error) {
	if cfg.MQTTBroker == "" {
		return nil, nil
	}

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.MQTTBroker).
		SetClientID(cfg.MQTTClientID).
		SetAutoReconnect(true)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("MQTT connect to %s: %w", cfg.MQTTBroker, token.Error())
	}
	log.Infof("Telemetry mirror connected to MQTT broker at %s", cfg.MQTTBroker)
	return &mirror{client: client}, nil
}

// PublishFrame mirrors one stream frame. QoS 0 and no waiting: the
// mirror must never apply backpressure to the capture path.
func (m *mirror) PublishFrame(frame string) {
	m.client.Publish(topicFrames, 0, false, frame)
}

// PublishStatus mirrors one status line, retained so late subscribers
// see the latest state.
func (m *mirror) PublishStatus(status string) {
	m.client.Publish(topicStatus, 0, true, status)
}

func (m *mirror) Close() {
	m.client.Disconnect(250)
}

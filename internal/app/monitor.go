// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/relabs-tech/mocap_pipeline/internal/config"
	"github.com/relabs-tech/mocap_pipeline/internal/protocol"
)

// RunMonitor subscribes to the receiver's MQTT mirror and prints capture
// traffic to stdout. It lets anyone on the LAN watch a session without
// touching the serial host link.
func RunMonitor() error {
	cfg := config.Get()
	broker := cfg.MQTTBroker
	if broker == "" {
		broker = "tcp://localhost:1883"
	}

	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID("mocap-monitor")

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return token.Error()
	}
	log.Printf("monitor: connected to MQTT broker at %s", broker)

	frameToken := client.Subscribe(topicFrames, 0, func(_ mqtt.Client, msg mqtt.Message) {
		f, err := protocol.ParseStreamFrame(string(msg.Payload()))
		if err != nil {
			log.Printf("monitor: frame parse error: %v", err)
			return
		}

		fmt.Printf("[FRAME] seq=%5d", f.Seq)
		for i, q := range f.Quats {
			if q.IsZero() {
				continue
			}
			fmt.Printf("  S%d=[%7.4f %7.4f %7.4f %7.4f]", i, q[0], q[1], q[2], q[3])
		}
		fmt.Println()
	})
	frameToken.Wait()
	if frameToken.Error() != nil {
		return frameToken.Error()
	}
	log.Printf("monitor: subscribed to %s", topicFrames)

	statusToken := client.Subscribe(topicStatus, 0, func(_ mqtt.Client, msg mqtt.Message) {
		fmt.Printf("[STAT ] %s\n", msg.Payload())
	})
	statusToken.Wait()
	if statusToken.Error() != nil {
		return statusToken.Error()
	}
	log.Printf("monitor: subscribed to %s", topicStatus)

	// Wait for Ctrl+C
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Println("monitor: shutting down")
	client.Disconnect(250)
	return nil
}

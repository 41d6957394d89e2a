// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"fmt"
	"net"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/relabs-tech/mocap_pipeline/internal/config"
	"github.com/relabs-tech/mocap_pipeline/internal/protocol"
	"github.com/relabs-tech/mocap_pipeline/internal/sensors"
	"github.com/relabs-tech/mocap_pipeline/internal/state"
	"github.com/relabs-tech/mocap_pipeline/internal/watchdog"
)

const (
	streamWriteTimeout = 100 * time.Millisecond
	statsInterval      = 10 * time.Second
)

// streamer owns the sensor read loop: sample all 8 slots every tick,
// wrap them in a sequence-numbered frame and fire it at the receiver
// over UDP. Send failures are logged and the frame dropped; the loop
// never blocks on the network.
type streamer struct {
	array *sensors.Array
	core  *state.Core
	wd    watchdog.Watchdog

	dest        string
	interval    time.Duration
	healthEvery time.Duration
	seqSpace    int

	mu      sync.Mutex
	running bool
	stop    chan struct{}
	done    chan struct{}
}

func newStreamer(cfg *config.Config, array *sensors.Array, core *state.Core, wd watchdog.Watchdog) *streamer {
	return &streamer{
		array:       array,
		core:        core,
		wd:          wd,
		dest:        fmt.Sprintf("%s:%d", cfg.ReceiverIP, cfg.StreamPort),
		interval:    time.Duration(cfg.ReadIntervalMS) * time.Millisecond,
		healthEvery: time.Duration(cfg.HealthCheckIntervalS) * time.Second,
		seqSpace:    cfg.SeqSpace,
	}
}

func (s *streamer) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Start launches the read loop. The bool reports whether a new loop was
// started; false with nil error means it was already running.
func (s *streamer) Start() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return false, nil
	}

	conn, err := net.Dial("udp", s.dest)
	if err != nil {
		return false, fmt.Errorf("opening stream socket to %s: %w", s.dest, err)
	}

	s.running = true
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	log.Info("Starting sensor reading thread")
	go s.loop(conn, s.stop, s.done)
	return true, nil
}

// Stop ends the read loop and waits for it to drain. Reports whether a
// loop was actually running.
func (s *streamer) Stop() bool {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return false
	}
	s.running = false
	stop, done := s.stop, s.done
	s.mu.Unlock()

	close(stop)
	<-done
	log.Info("Stopping sensor reading")
	return true
}

func (s *streamer) loop(conn net.Conn, stop, done chan struct{}) {
	defer close(done)
	defer conn.Close()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	health := time.NewTicker(s.healthEvery)
	defer health.Stop()
	stats := time.NewTicker(statsInterval)
	defer stats.Stop()

	seq := 0
	sent := 0
	for {
		select {
		case <-stop:
			return

		case <-health.C:
			s.array.HealthCheck()

		case <-stats.C:
			log.Debugf("Streaming stats: %.1f packets/sec", float64(sent)/statsInterval.Seconds())
			sent = 0

		case <-ticker.C:
			if s.core.Stopped() {
				log.Warn("Emergency stop detected, ending sensor thread")
				return
			}
			seq = (seq + 1) % s.seqSpace
			frame := protocol.StreamFrame{Seq: seq, Quats: s.array.ReadAll()}

			conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
			if _, err := conn.Write([]byte(frame.Encode())); err != nil {
				log.Warnf("Error sending sensor data: %v", err)
			} else {
				sent++
			}
			s.wd.Feed()
		}
	}
}

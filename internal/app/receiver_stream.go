// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/relabs-tech/mocap_pipeline/internal/config"
	"github.com/relabs-tech/mocap_pipeline/internal/netx"
	"github.com/relabs-tech/mocap_pipeline/internal/protocol"
	"github.com/relabs-tech/mocap_pipeline/internal/state"
	"github.com/relabs-tech/mocap_pipeline/internal/watchdog"
)

const (
	consumerPollTimeout = 100 * time.Millisecond
	consumerBufferSize  = 4200 // a shade above the largest frame
	consumerErrorBudget = 10   // consecutive hard errors before giving up
)

// consumer receives the node's UDP stream, watches the sequence numbers
// for loss and relays every frame to the host as a DATA: line, plus the
// optional MQTT and websocket taps.
type consumer struct {
	core    *state.Core
	hl      *hostLink
	wd      watchdog.Watchdog
	mirror  *mirror
	web     *webServer
	tracker *protocol.SeqTracker

	listenAddr string

	mu      sync.Mutex
	running bool
	packets uint64
	stop    chan struct{}
	done    chan struct{}
}

func newConsumer(cfg *config.Config, core *state.Core, hl *hostLink, wd watchdog.Watchdog, m *mirror, web *webServer) *consumer {
	return &consumer{
		core:       core,
		hl:         hl,
		wd:         wd,
		mirror:     m,
		web:        web,
		tracker:    protocol.NewSeqTracker(cfg.SeqSpace, cfg.LossSanity),
		listenAddr: fmt.Sprintf("%s:%d", cfg.ReceiverIP, cfg.StreamPort),
	}
}

func (c *consumer) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// Packets returns the lifetime received-frame count.
func (c *consumer) Packets() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.packets
}

// Start binds the stream port and launches the receive loop. The bind
// happens before the node is told to stream so no frames race the
// socket. Starting twice is not an error.
func (c *consumer) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		log.Info("UDP server is already running.")
		return nil
	}

	pc, err := net.ListenPacket("udp", c.listenAddr)
	if err != nil {
		return fmt.Errorf("binding stream socket %s: %w", c.listenAddr, err)
	}

	c.running = true
	c.tracker.Reset()
	c.stop = make(chan struct{})
	c.done = make(chan struct{})
	go c.loop(pc, c.stop, c.done)
	log.Info("UDP server started for sensor data.")
	return nil
}

// Stop ends the receive loop; reports whether one was running.
func (c *consumer) Stop() bool {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		log.Info("UDP server was not running.")
		return false
	}
	c.running = false
	stop, done := c.stop, c.done
	c.mu.Unlock()

	close(stop)
	<-done
	log.Info("UDP server stopped.")
	return true
}

func (c *consumer) loop(pc net.PacketConn, stop, done chan struct{}) {
	defer close(done)
	defer pc.Close()
	log.Info("UDP data streaming started")

	buf := make([]byte, consumerBufferSize)
	hardErrors := 0
	received := 0
	lastStats := time.Now()

	for {
		select {
		case <-stop:
			return
		default:
		}
		if c.core.Stopped() {
			return
		}
		c.wd.Feed()

		pc.SetReadDeadline(time.Now().Add(consumerPollTimeout))
		n, _, err := pc.ReadFrom(buf)
		if err != nil {
			if netx.IsTransient(err) {
				continue
			}
			hardErrors++
			if hardErrors > consumerErrorBudget {
				log.Errorf("Too many UDP errors (%d), stopping: %v", hardErrors, err)
				c.mu.Lock()
				c.running = false
				c.mu.Unlock()
				return
			}
			log.Warnf("UDP error (%d/%d): %v", hardErrors, consumerErrorBudget, err)
			time.Sleep(100 * time.Millisecond)
			continue
		}
		hardErrors = 0
		received++
		c.mu.Lock()
		c.packets++
		c.mu.Unlock()

		frame := strings.TrimRight(string(buf[:n]), "\r\n")
		c.observeSequence(frame)
		if err := c.hl.WriteData(frame); err != nil {
			log.Errorf("Error writing UDP data to host: %v", err)
		}
		if c.mirror != nil {
			c.mirror.PublishFrame(frame)
		}
		if c.web != nil {
			c.web.Broadcast(frame)
		}

		if time.Since(lastStats) >= statsInterval {
			rate := float64(received) / time.Since(lastStats).Seconds()
			log.Infof("UDP stats: %d packets received, %.1f packets/sec", received, rate)
			lastStats = time.Now()
			received = 0
		}
	}
}

// observeSequence feeds the tracker and reports loss. Unparseable
// frames are relayed anyway; the host may know more than we do.
func (c *consumer) observeSequence(frame string) {
	seq, err := protocol.ParseSeq(frame)
	if err != nil {
		log.Debugf("Error parsing sensor data: %v", err)
		return
	}
	loss, reset := c.tracker.Observe(seq)
	if reset {
		log.Debugf("Sequence reset at %d", seq)
		return
	}
	if loss > 0 {
		log.Warnf("Packet loss detected: %d packets missing", loss)
	}
}

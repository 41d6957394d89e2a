// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"fmt"
	"net"
	"runtime"
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
	controlDialTimeout  = 5 * time.Second
	controlSendTimeout  = 2 * time.Second
	reconnectCheckSlice = 100 * time.Millisecond
)

// controlClient maintains the node's TCP link to the receiver: one
// hello frame per connection, heartbeats on a fixed interval, and a
// fixed-delay reconnect when anything fails. It doubles as the logging
// sink so every log line reaches the receiver as a LOG: frame.
type controlClient struct {
	core  *state.Core
	array *sensors.Array
	wd    watchdog.Watchdog

	addr           string
	heartbeatEvery time.Duration
	reconnectWait  time.Duration

	mu   sync.Mutex
	conn net.Conn

	stopped chan struct{}
	done    chan struct{}
}

func newControlClient(cfg *config.Config, core *state.Core, array *sensors.Array, wd watchdog.Watchdog) *controlClient {
	return &controlClient{
		core:           core,
		array:          array,
		wd:             wd,
		addr:           fmt.Sprintf("%s:%d", cfg.ReceiverIP, cfg.ControlPort),
		heartbeatEvery: time.Duration(cfg.HeartbeatIntervalS) * time.Second,
		reconnectWait:  time.Duration(cfg.ReconnectIntervalS) * time.Second,
	}
}

// run loops until emergency stop or Shutdown, owning exactly one
// connection at a time.
func (c *controlClient) run() {
	defer close(c.done)
	for !c.stopping() && !c.core.Stopped() {
		conn, err := net.DialTimeout("tcp", c.addr, controlDialTimeout)
		if err != nil {
			log.Warnf("Receiver connection error: %v", err)
			c.pause()
			continue
		}
		log.Infof("Connected to receiver at %s", c.addr)
		c.setConn(conn)

		if err := c.send(protocol.Hello{Version: protocol.Version}.Encode()); err != nil {
			log.Warnf("Error sending connection announcement: %v", err)
			c.teardown(conn)
			c.pause()
			continue
		}

		c.heartbeatLoop(conn)
		c.teardown(conn)
		c.pause()
	}
}

// heartbeatLoop sends HEARTBEAT frames until the connection dies.
func (c *controlClient) heartbeatLoop(conn net.Conn) {
	last := time.Now()
	for !c.stopping() && !c.core.Stopped() {
		c.wd.Feed()
		if time.Since(last) >= c.heartbeatEvery {
			hb := protocol.Heartbeat{
				Active:  c.array.ActiveCount(),
				Total:   sensors.SlotCount,
				FreeMem: freeMemory(),
			}
			if err := c.send(hb.Encode()); err != nil {
				log.Errorf("Error sending heartbeat: %v", err)
				return
			}
			last = time.Now()
			log.Debugf("Sent heartbeat: %s", hb.Encode())
		}
		time.Sleep(reconnectCheckSlice)
	}
}

// Start launches the connection loop.
func (c *controlClient) Start() {
	c.stopped = make(chan struct{})
	c.done = make(chan struct{})
	go c.run()
}

// Shutdown ends the loop and closes any live connection.
func (c *controlClient) Shutdown() {
	close(c.stopped)
	c.mu.Lock()
	if c.conn != nil {
		c.conn.Close()
	}
	c.mu.Unlock()
	<-c.done
}

// ForwardLog implements logging.Sink: best-effort delivery of one log
// line as a LOG: frame. Must never log, directly or indirectly.
func (c *controlClient) ForwardLog(line string) {
	c.send(protocol.LogLine{Text: line}.Encode())
}

func (c *controlClient) send(frame string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return fmt.Errorf("not connected")
	}
	c.conn.SetWriteDeadline(time.Now().Add(controlSendTimeout))
	_, err := c.conn.Write([]byte(frame + "\n"))
	return err
}

// setConn installs a new connection, closing any previous one.
func (c *controlClient) setConn(conn net.Conn) {
	c.mu.Lock()
	if c.conn != nil {
		c.conn.Close()
	}
	c.conn = conn
	c.mu.Unlock()
}

// teardown clears the connection if it is still the current one.
func (c *controlClient) teardown(conn net.Conn) {
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	c.mu.Unlock()
	conn.Close()
}

// pause waits out the reconnect interval in short slices so emergency
// stop stays responsive and the watchdog stays fed.
func (c *controlClient) pause() {
	deadline := time.Now().Add(c.reconnectWait)
	for time.Now().Before(deadline) {
		if c.stopping() || c.core.Stopped() {
			return
		}
		c.wd.Feed()
		time.Sleep(reconnectCheckSlice)
	}
}

func (c *controlClient) stopping() bool {
	select {
	case <-c.stopped:
		return true
	default:
		return false
	}
}

// freeMemory estimates reclaimable heap, the closest analogue to the
// free-memory figure the heartbeat has always carried.
func freeMemory() uint64 {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return ms.HeapSys - ms.HeapAlloc
}

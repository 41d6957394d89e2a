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
	"github.com/relabs-tech/mocap_pipeline/internal/netx"
	"github.com/relabs-tech/mocap_pipeline/internal/protocol"
	"github.com/relabs-tech/mocap_pipeline/internal/state"
	"github.com/relabs-tech/mocap_pipeline/internal/watchdog"
)

// nodeInactivityTimeout closes the node connection when nothing, not
// even a heartbeat, has arrived for this long.
const nodeInactivityTimeout = 60 * time.Second

// controlServer accepts the node's control connection and consumes its
// frames: heartbeats update liveness, LOG: lines go to the host
// verbatim, anything else is wrapped as a command response. One node at
// a time; a new connection replaces the old one.
type controlServer struct {
	core *state.Core
	hl   *hostLink
	wd   watchdog.Watchdog

	listenAddr string

	mu            sync.Mutex
	node          net.Conn
	lastHeartbeat time.Time
	lastBeat      protocol.Heartbeat
}

func newControlServer(cfg *config.Config, core *state.Core, hl *hostLink, wd watchdog.Watchdog) *controlServer {
	return &controlServer{
		core:       core,
		hl:         hl,
		wd:         wd,
		listenAddr: fmt.Sprintf("%s:%d", cfg.ReceiverIP, cfg.ControlPort),
	}
}

// Listen binds the control port. Split from serve so the caller can
// treat a bind failure as a socket-stage failure.
func (s *controlServer) Listen() (*net.TCPListener, error) {
	ln, err := net.Listen("tcp", s.listenAddr)
	if err != nil {
		return nil, fmt.Errorf("control listener on %s: %w", s.listenAddr, err)
	}
	log.Infof("Control server listening on %s", s.listenAddr)
	return ln.(*net.TCPListener), nil
}

func (s *controlServer) serve(ln *net.TCPListener) {
	defer ln.Close()
	for !s.core.Stopped() {
		s.wd.Feed()
		ln.SetDeadline(time.Now().Add(acceptTimeout))
		conn, err := ln.Accept()
		if err != nil {
			if netx.IsTransient(err) {
				continue
			}
			if !netx.IsClosed(err) {
				log.Warnf("Error accepting node connection: %v", err)
				time.Sleep(time.Second)
			}
			continue
		}
		log.Infof("TCP connection established from %s", conn.RemoteAddr())
		s.handleNode(conn)
	}
}

func (s *controlServer) handleNode(conn net.Conn) {
	s.mu.Lock()
	if s.node != nil {
		s.node.Close()
	}
	s.node = conn
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		if s.node == conn {
			s.node = nil
		}
		s.mu.Unlock()
		conn.Close()
		log.Info("TCP connection closed.")
	}()

	var dec protocol.LineDecoder
	buf := make([]byte, 1024)
	lastActivity := time.Now()

	for !s.core.Stopped() {
		s.wd.Feed()
		conn.SetReadDeadline(time.Now().Add(clientReadTimeout))
		n, err := conn.Read(buf)
		if err != nil {
			if netx.IsTransient(err) {
				if time.Since(lastActivity) > nodeInactivityTimeout {
					log.Warnf("Connection timeout - no activity for %v", nodeInactivityTimeout)
					return
				}
				continue
			}
			if !netx.IsClosed(err) {
				log.Warnf("Error reading from node: %v", err)
			}
			log.Info("Node connection closed")
			return
		}
		lastActivity = time.Now()

		for _, line := range dec.Feed(buf[:n]) {
			s.consume(protocol.Classify(line), line)
		}
	}
}

// consume handles one classified frame from the node.
func (s *controlServer) consume(frame protocol.Frame, raw string) {
	switch f := frame.(type) {
	case protocol.Heartbeat:
		s.mu.Lock()
		s.lastHeartbeat = time.Now()
		s.lastBeat = f
		s.mu.Unlock()
		log.Debugf("Node heartbeat - Sensors: %d/%d, Mem: %d", f.Active, f.Total, f.FreeMem)

	case protocol.LogLine:
		// node log lines pass through to the host untouched
		s.hl.WriteLog(f.Text)

	case protocol.Hello:
		log.Info("Node connected and ready")
		log.Infof("Node protocol version: %s", f.Version)

	case protocol.Reply, protocol.Response:
		log.Infof("Response from node: %s", clip(raw, 50))
		s.hl.WriteLog("[NODE] Command response: " + raw)
	}
}

// NodeConnected reports whether a node control connection is live.
func (s *controlServer) NodeConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.node != nil
}

// LastHeartbeat returns the latest heartbeat and when it arrived; the
// zero time means none has arrived yet.
func (s *controlServer) LastHeartbeat() (protocol.Heartbeat, time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastBeat, s.lastHeartbeat
}

// Shutdown closes any live node connection.
func (s *controlServer) Shutdown() {
	s.mu.Lock()
	if s.node != nil {
		s.node.Close()
		s.node = nil
	}
	s.mu.Unlock()
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

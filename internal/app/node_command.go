// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/relabs-tech/mocap_pipeline/internal/config"
	"github.com/relabs-tech/mocap_pipeline/internal/logging"
	"github.com/relabs-tech/mocap_pipeline/internal/netx"
	"github.com/relabs-tech/mocap_pipeline/internal/protocol"
	"github.com/relabs-tech/mocap_pipeline/internal/state"
	"github.com/relabs-tech/mocap_pipeline/internal/watchdog"
)

const (
	acceptTimeout     = 3 * time.Second
	clientReadTimeout = time.Second
	restartGrace      = 500 * time.Millisecond
	serverRetryWait   = 5 * time.Second
)

// streamControl is the slice of the streamer the dispatcher needs.
type streamControl interface {
	Running() bool
	Start() (bool, error)
	Stop() bool
}

// sensorBank is the slice of the sensor array the dispatcher needs.
type sensorBank interface {
	Statuses() []string
	InitAll() (int, error)
}

// commandServer accepts the receiver's relay connections on the control
// port and executes single-letter commands. One client at a time, short
// read deadlines so emergency stop is never blocked behind a socket.
type commandServer struct {
	core    *state.Core
	stream  streamControl
	sensors sensorBank
	wd      watchdog.Watchdog

	listenAddr string
	restart    func()
}

func newCommandServer(cfg *config.Config, core *state.Core, stream streamControl, bank sensorBank, wd watchdog.Watchdog) *commandServer {
	return &commandServer{
		core:       core,
		stream:     stream,
		sensors:    bank,
		wd:         wd,
		listenAddr: fmt.Sprintf("%s:%d", cfg.NodeIP, cfg.ControlPort),
		restart:    watchdog.HardReset,
	}
}

// serve runs the accept loop, recreating the listener after fatal
// errors the way the rest of the pipeline treats its sockets: log,
// wait, rebuild.
func (s *commandServer) serve() {
	for !s.core.Stopped() {
		ln, err := net.Listen("tcp", s.listenAddr)
		if err != nil {
			log.Errorf("TCP server error: %v", err)
			time.Sleep(serverRetryWait)
			continue
		}
		log.Infof("TCP command server listening on %s", s.listenAddr)
		s.acceptLoop(ln.(*net.TCPListener))
		ln.Close()

		if !s.core.Stopped() {
			log.Warnf("TCP server restarting in %v...", serverRetryWait)
			time.Sleep(serverRetryWait)
		}
	}
}

func (s *commandServer) acceptLoop(ln *net.TCPListener) {
	for !s.core.Stopped() {
		s.wd.Feed()
		ln.SetDeadline(time.Now().Add(acceptTimeout))
		conn, err := ln.Accept()
		if err != nil {
			if netx.IsTransient(err) {
				continue
			}
			log.Warnf("Accept error: %v", err)
			return
		}
		log.Infof("New command connection from %s", conn.RemoteAddr())
		s.handleClient(conn)
	}
}

func (s *commandServer) handleClient(conn net.Conn) {
	defer conn.Close()

	var dec protocol.LineDecoder
	buf := make([]byte, 1024)
	for !s.core.Stopped() {
		conn.SetReadDeadline(time.Now().Add(clientReadTimeout))
		n, err := conn.Read(buf)
		if err != nil {
			if netx.IsTransient(err) {
				continue
			}
			if !netx.IsClosed(err) {
				log.Warnf("Error handling command: %v", err)
			}
			log.Infof("Command connection closed from %s", conn.RemoteAddr())
			return
		}
		s.wd.Feed()

		for _, line := range dec.Feed(buf[:n]) {
			reply, restart := s.execute(line)
			conn.SetWriteDeadline(time.Now().Add(controlSendTimeout))
			if _, err := conn.Write([]byte(reply.Encode() + "\n")); err != nil {
				log.Errorf("Error sending response: %v", err)
			}
			if restart {
				log.Info("Executing restart after command")
				time.Sleep(restartGrace)
				s.restart()
				return
			}
		}
	}
}

// execute parses and dispatches one command line.
func (s *commandServer) execute(line string) (protocol.Reply, bool) {
	cmd, err := protocol.ParseCommand(line)
	if err != nil {
		log.Warnf("Received unknown command: %q", line)
		return protocol.Reply{OK: false, Message: fmt.Sprintf("Unknown command: %s", line)}, false
	}
	log.Infof("RECEIVED COMMAND: '%s'", cmd.Code)
	return s.dispatch(cmd)
}

// dispatch runs one decoded command against the node. The bool asks the
// caller to hard-restart after the reply is flushed.
func (s *commandServer) dispatch(cmd protocol.Command) (protocol.Reply, bool) {
	if s.core.Process() == state.SafeMode && cmd.Code != protocol.CmdRestartNode {
		return protocol.Reply{OK: false, Message: "Node is in safe mode. Only restart (N) is accepted."}, false
	}

	// While streaming, only the stop, emergency and ping commands may run.
	if s.stream.Running() {
		switch cmd.Code {
		case protocol.CmdStopStream, protocol.CmdEmergencyStop, protocol.CmdPing:
		default:
			log.Warnf("Rejecting command %s due to active streaming", cmd.Code)
			return protocol.Reply{
				OK: false,
				Message: fmt.Sprintf("Cannot execute '%s' while streaming. Stop streaming first (X command).",
					cmd.Code),
			}, false
		}
	}

	switch cmd.Code {
	case protocol.CmdRestartNode:
		log.Info("Received restart command, executing...")
		return protocol.Reply{OK: true, Message: "Restarting node..."}, true

	case protocol.CmdCheckSensors:
		log.Info("Checking sensor status...")
		statuses := s.sensors.Statuses()
		log.Infof("Sending status response: %d items", len(statuses))
		return protocol.Reply{OK: true, Message: strings.Join(statuses, " | ")}, false

	case protocol.CmdReinitSensors:
		log.Info("Reinitializing sensors...")
		wasStreaming := s.stream.Stop()
		_, err := s.sensors.InitAll()
		ok := err == nil
		if wasStreaming && ok {
			if _, serr := s.stream.Start(); serr != nil {
				log.Errorf("Error restarting sensor reading: %v", serr)
			}
		}
		log.Infof("Sensor reinitialization complete: %v", ok)
		return protocol.Reply{OK: ok, Message: fmt.Sprintf("Sensors reinitialized. Success: %v", ok)}, false

	case protocol.CmdStartStream:
		started, err := s.stream.Start()
		if err != nil {
			log.Errorf("ERROR starting sensor reading: %v", err)
			return protocol.Reply{OK: false, Message: fmt.Sprintf("ERROR starting sensor reading: %v", err)}, false
		}
		if !started {
			log.Info("Sensor reading already active")
			return protocol.Reply{OK: true, Message: "Sensor reading already running."}, false
		}
		return protocol.Reply{OK: true, Message: "Sensor reading started."}, false

	case protocol.CmdStopStream:
		if s.stream.Stop() {
			return protocol.Reply{OK: true, Message: "Sensor reading stopped."}, false
		}
		log.Info("Sensor reading already stopped")
		return protocol.Reply{OK: true, Message: "Sensor reading not running."}, false

	case protocol.CmdEmergencyStop:
		log.Warn("Emergency stop activated. Stopping all threads.")
		s.core.EmergencyStop()
		s.stream.Stop()
		return protocol.Reply{OK: true, Message: "Emergency stop activated. Stopping all threads."}, false

	case protocol.CmdLogLevel:
		return setLogLevel(cmd.Param), false

	case protocol.CmdPing:
		return protocol.Reply{OK: true, Message: "PONG"}, false
	}

	log.Warnf("Received unknown command: %s", cmd.Code)
	return protocol.Reply{OK: false, Message: fmt.Sprintf("Unknown command: %s", cmd.Code)}, false
}

// setLogLevel implements the D command: bare D reports the threshold,
// D:<0-3> changes it.
func setLogLevel(param string) protocol.Reply {
	if param == "" {
		return protocol.Reply{OK: true, Message: "Current log level: " + logging.ThresholdName()}
	}
	level, err := strconv.Atoi(strings.TrimSpace(param))
	if err != nil {
		return protocol.Reply{OK: false, Message: fmt.Sprintf("Error setting debug mode: %v", err)}
	}
	if err := logging.SetThreshold(level); err != nil {
		return protocol.Reply{OK: false, Message: fmt.Sprintf("Invalid log level: %d. Must be 0-3.", level)}
	}
	name, _ := logging.LevelName(level)
	msg := "Log level set to " + name
	log.Info(msg)
	return protocol.Reply{OK: true, Message: msg}
}

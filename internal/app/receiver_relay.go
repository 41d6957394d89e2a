// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"fmt"
	"net"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/relabs-tech/mocap_pipeline/internal/config"
	"github.com/relabs-tech/mocap_pipeline/internal/protocol"
)

// Relay command timeouts. Sensor reinitialization and status checks
// poke every slot on the bus and can legitimately take many seconds.
const (
	relayDefaultTimeout = 5 * time.Second
	relayReinitTimeout  = 20 * time.Second
	relayCheckTimeout   = 10 * time.Second
)

// relay forwards single commands to the node's command server. Every
// command rides a fresh connection that is always closed afterwards;
// there is no session state to get wedged.
type relay struct {
	addr string
	hl   *hostLink
}

func newRelay(cfg *config.Config, hl *hostLink) *relay {
	return &relay{
		addr: fmt.Sprintf("%s:%d", cfg.NodeIP, cfg.ControlPort),
		hl:   hl,
	}
}

func relayTimeout(code protocol.Code) time.Duration {
	switch code {
	case protocol.CmdReinitSensors:
		return relayReinitTimeout
	case protocol.CmdCheckSensors:
		return relayCheckTimeout
	}
	return relayDefaultTimeout
}

// Send delivers the command and waits for the node's single reply,
// forwarding the outcome to the host.
func (r *relay) Send(cmd protocol.Command) (protocol.Reply, error) {
	timeout := relayTimeout(cmd.Code)
	conn, err := r.dialAndWrite(cmd, timeout)
	if err != nil {
		return protocol.Reply{}, err
	}
	defer conn.Close()

	line, err := readReplyLine(conn)
	if err != nil {
		log.Warnf("Response error from node after command %s: %v", cmd.Code, err)
		return protocol.Reply{}, fmt.Errorf("reading reply to %s: %w", cmd.Code, err)
	}

	reply := protocol.ParseReply(line)
	if reply.OK {
		log.Infof("Success response from node: %s", clip(reply.Message, 50))
		r.hl.WriteLog("[NODE] Command successful: " + reply.Message)
	} else {
		log.Warnf("Error response from node: %s", reply.Message)
		r.hl.WriteLog("[NODE] Command failed: " + reply.Message)
	}
	return reply, nil
}

// Fire delivers the command without waiting for a reply, for commands
// that end with the node resetting itself.
func (r *relay) Fire(cmd protocol.Command) error {
	conn, err := r.dialAndWrite(cmd, relayDefaultTimeout)
	if err != nil {
		return err
	}
	return conn.Close()
}

func (r *relay) dialAndWrite(cmd protocol.Command, timeout time.Duration) (net.Conn, error) {
	log.Infof("Connecting to node command server at %s...", r.addr)
	conn, err := net.DialTimeout("tcp", r.addr, timeout)
	if err != nil {
		log.Errorf("Error sending command to node: %v", err)
		return nil, fmt.Errorf("dialing node: %w", err)
	}

	log.Infof("Sending command '%s' to node...", cmd.Code)
	conn.SetDeadline(time.Now().Add(timeout))
	if _, err := conn.Write([]byte(cmd.Encode() + "\n")); err != nil {
		conn.Close()
		log.Errorf("Error sending command to node: %v", err)
		return nil, fmt.Errorf("writing command %s: %w", cmd.Code, err)
	}
	return conn, nil
}

// readReplyLine blocks until one full newline-terminated reply arrives.
// The connection deadline set by the caller bounds the wait; a timeout
// here means the command went unanswered.
func readReplyLine(conn net.Conn) (string, error) {
	var dec protocol.LineDecoder
	buf := make([]byte, 4096)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			if lines := dec.Feed(buf[:n]); len(lines) > 0 {
				return lines[0], nil
			}
		}
		if err != nil {
			return "", err
		}
	}
}

// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"bufio"
	"fmt"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/relabs-tech/mocap_pipeline/internal/config"
	"github.com/relabs-tech/mocap_pipeline/internal/logging"
	"github.com/relabs-tech/mocap_pipeline/internal/protocol"
	"github.com/relabs-tech/mocap_pipeline/internal/state"
	"github.com/relabs-tech/mocap_pipeline/internal/watchdog"
	"github.com/relabs-tech/mocap_pipeline/internal/wifi"
)

// RunReceiver runs the base station: announce the access point, accept
// the node's control link, relay host commands to the node and stream
// its frames back over the serial link.
func RunReceiver() error {
	cfg := config.Get()
	logging.Setup("RECEIVER", cfg.LogLevel)

	wd := openWatchdog(cfg, watchdog.DefaultDevice)
	defer wd.Disarm()

	core := state.NewCore()

	// The serial link comes up first: once it is the logging sink,
	// every line below reaches the host.
	hl, err := openHostLink(cfg)
	if err != nil {
		return err
	}
	defer hl.Close()
	logging.SetSink(hl)
	defer logging.SetSink(nil)

	ap := wifi.NewAccessPoint(wifi.NewShellAP(cfg.WiFiInterface, "/etc/hostapd/mocap.conf"), wifi.APParams{
		SSID:     cfg.SSID,
		Password: cfg.Password,
		Channel:  cfg.APChannel,
		IP:       cfg.ReceiverIP,
		Mask:     cfg.SubnetMask,
	}, wd.Feed)

	m, err := newMirror(cfg)
	if err != nil {
		log.Warnf("Telemetry mirror disabled: %v", err)
		m = nil
	}
	if m != nil {
		defer m.Close()
	}

	ctl := newControlServer(cfg, core, hl, wd)
	cons := newConsumer(cfg, core, hl, wd, m, nil)
	cons.web = newWebServer(cfg.WebListen, func() statusSnapshot {
		hb, at := ctl.LastHeartbeat()
		return statusSnapshot{
			NodeConnected: ctl.NodeConnected(),
			ActiveSensors: hb.Active,
			TotalSensors:  hb.Total,
			LastHeartbeat: at,
			Streaming:     cons.Running(),
			Packets:       cons.Packets(),
		}
	})

	// Bring-up with per-stage failure budgets, safe mode after three
	// consecutive failures at either stage.
	for {
		wd.Feed()

		if err := ap.Start(); err != nil {
			log.Warnf("Failed to start Access Point, retrying...")
			if _, exhausted := core.StageFailed(state.StageAPStart); exhausted {
				return receiverSafeMode(core, hl, wd)
			}
			time.Sleep(stageRetryWait)
			continue
		}
		core.StageSucceeded(state.StageAPStart)

		ln, err := ctl.Listen()
		if err != nil {
			log.Warnf("Failed to create TCP socket, retrying...")
			if _, exhausted := core.StageFailed(state.StageSocketCreate); exhausted {
				return receiverSafeMode(core, hl, wd)
			}
			time.Sleep(stageRetryWait)
			continue
		}
		core.StageSucceeded(state.StageSocketCreate)
		go ctl.serve(ln)
		break
	}

	go receiverStatusReporter(cfg, core, ctl, cons, ap, m, wd)

	core.SetRunning()
	log.Info("Receiver is running. Awaiting short code commands from the Controller...")

	reader := &commandReader{
		core:    core,
		hl:      hl,
		relay:   newRelay(cfg, hl),
		cons:    cons,
		wd:      wd,
		restart: watchdog.HardReset,
	}
	runErr := reader.run()

	log.Info("Shutting down receiver (clean exit)...")
	cons.Stop()
	ctl.Shutdown()
	core.Halt()
	return runErr
}

// commandReader consumes the host's single-letter commands from the
// serial link and routes them: some act on the receiver itself, the
// rest are relayed to the node.
type commandReader struct {
	core    *state.Core
	hl      *hostLink
	relay   *relay
	cons    *consumer
	wd      watchdog.Watchdog
	restart func()
}

// run blocks reading commands until Q, emergency stop, or the serial
// link dies.
func (r *commandReader) run() error {
	scanner := bufio.NewScanner(r.hl.Reader())
	for scanner.Scan() {
		if r.core.Stopped() {
			return nil
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		log.Infof("Received command from controller: %s", line)

		cmd, err := protocol.ParseCommand(line)
		if err != nil {
			log.Warnf("Unknown command received: %s", line)
			continue
		}
		if quit := r.handle(cmd); quit {
			return nil
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("host link read: %w", err)
	}
	return nil
}

// handle executes one command; true means clean exit was requested.
func (r *commandReader) handle(cmd protocol.Command) bool {
	switch cmd.Code {
	case protocol.CmdStartStream:
		// bind our socket before the node starts firing frames
		if err := r.cons.Start(); err != nil {
			log.Errorf("Failed to create UDP server: %v", err)
			return false
		}
		reply, err := r.relay.Send(cmd)
		if err != nil || !reply.OK {
			log.Error("Failed to send start command to node, stopping UDP server")
			r.cons.Stop()
		}

	case protocol.CmdStopStream:
		r.relay.Send(cmd)
		r.cons.Stop()

	case protocol.CmdRestartNode:
		log.Info("Sending restart command to node...")
		if err := r.relay.Fire(cmd); err != nil {
			log.Errorf("Failed to send restart command to node: %v", err)
			return false
		}
		log.Info("Restart command sent to node.")
		r.cons.Stop()

	case protocol.CmdRestartReceiver:
		log.Info("Restarting receiver...")
		r.cons.Stop()
		time.Sleep(preRestartDelay)
		r.restart()

	case protocol.CmdEmergencyStop:
		// relay the stop, then exit cleanly ourselves
		r.relay.Send(cmd)
		r.cons.Stop()
		r.core.EmergencyStop()
		return true

	case protocol.CmdLogLevel:
		r.setLogLevel(cmd)

	case protocol.CmdCheckSensors, protocol.CmdReinitSensors:
		if _, err := r.relay.Send(cmd); err != nil {
			log.Errorf("Failed to send %s command to node: %v", cmd.Code, err)
		}

	case protocol.CmdPing:
		log.Info("Pinging node...")
		reply, err := r.relay.Send(cmd)
		if err != nil || !reply.OK {
			log.Warn("Node ping failed")
			return false
		}
		log.Infof("Node is responsive: %s", reply.Message)
	}
	return false
}

// setLogLevel applies the D command locally and forwards it to the node.
func (r *commandReader) setLogLevel(cmd protocol.Command) {
	if cmd.Param == "" {
		log.Infof("Current log level: %s", logging.ThresholdName())
		return
	}
	level, err := strconv.Atoi(strings.TrimSpace(cmd.Param))
	if err != nil {
		log.Errorf("Error setting debug mode: %v", err)
		return
	}
	if err := logging.SetThreshold(level); err != nil {
		log.Errorf("Invalid log level: %d. Must be 0-3.", level)
		return
	}
	name, _ := logging.LevelName(level)
	log.Infof("Log level set to %s", name)
	r.relay.Fire(cmd)
}

// receiverSafeMode mirrors the node's degraded state: verbose logging
// and a loop that only honors R (restart) and Q (exit) from the host.
func receiverSafeMode(core *state.Core, hl *hostLink, wd watchdog.Watchdog) error {
	core.EnterSafeMode()
	log.Error("ENTERING SAFE MODE - Limited functionality available")
	logging.SetThreshold(logging.LevelDebug)
	log.Infof("Free memory: %d bytes", freeMemory())
	log.Info("Safe mode active. Send 'R' to restart or 'Q' to exit.")

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(hl.Reader())
		for scanner.Scan() {
			lines <- strings.TrimSpace(scanner.Text())
		}
		close(lines)
	}()

	for {
		select {
		case line, ok := <-lines:
			if !ok {
				return fmt.Errorf("host link closed in safe mode")
			}
			switch strings.ToUpper(line) {
			case "R":
				log.Info("Restarting receiver...")
				time.Sleep(preRestartDelay)
				watchdog.HardReset()
			case "Q":
				log.Info("Shutting down receiver (clean exit)...")
				return nil
			case "":
			default:
				log.Warnf("Command unavailable in safe mode: %s", line)
			}
		case <-time.After(healthLoopTick):
			wd.Feed()
		}
	}
}

// receiverStatusReporter logs a periodic summary and mirrors it to MQTT.
func receiverStatusReporter(cfg *config.Config, core *state.Core, ctl *controlServer, cons *consumer, ap *wifi.AccessPoint, m *mirror, wd watchdog.Watchdog) {
	start := time.Now()
	ticker := time.NewTicker(time.Duration(cfg.StatusIntervalS) * time.Second)
	defer ticker.Stop()

	for range ticker.C {
		if core.Stopped() {
			return
		}
		wd.Feed()

		apStatus := "Inactive"
		if ap.Active() {
			apStatus = "Active"
		}
		nodeStatus := "Disconnected"
		if ctl.NodeConnected() {
			nodeStatus = "Connected"
		}
		hb, at := ctl.LastHeartbeat()
		heartbeatAge := "never"
		if !at.IsZero() {
			heartbeatAge = time.Since(at).Round(time.Second).String()
		}
		streaming := "No"
		if cons.Running() {
			streaming = "Yes"
		}

		status := fmt.Sprintf("Status: uptime %s, AP: %s, Node: %s, Sensors: %d/%d, Last heartbeat: %s, Streaming: %s, Packets: %d, Free memory: %d",
			time.Since(start).Round(time.Second), apStatus, nodeStatus,
			hb.Active, hb.Total, heartbeatAge, streaming, cons.Packets(), freeMemory())
		log.Info(status)
		if m != nil {
			m.PublishStatus(status)
		}
	}
}

// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package app wires the node and receiver processes: hardware bring-up,
// the supervision loops and the goroutines that carry the pipeline.
package app

import (
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/relabs-tech/mocap_pipeline/internal/bus"
	"github.com/relabs-tech/mocap_pipeline/internal/config"
	"github.com/relabs-tech/mocap_pipeline/internal/logging"
	"github.com/relabs-tech/mocap_pipeline/internal/sensors"
	"github.com/relabs-tech/mocap_pipeline/internal/state"
	"github.com/relabs-tech/mocap_pipeline/internal/watchdog"
	"github.com/relabs-tech/mocap_pipeline/internal/wifi"
)

const (
	stageRetryWait  = 5 * time.Second
	healthLoopTick  = time.Second
	preRestartDelay = time.Second
)

// RunNode runs the wearable node until emergency stop: join the
// receiver's network, bring up the sensors, then serve commands and
// stream orientation frames.
func RunNode() error {
	cfg := config.Get()
	logging.Setup("NODE", cfg.LogLevel)

	wd := openWatchdog(cfg, watchdog.DefaultDevice)
	defer wd.Disarm()

	core := state.NewCore()

	if err := bus.Init(); err != nil {
		return err
	}
	mux, err := bus.NewMux(
		bus.SystemOpener(cfg.I2CBus),
		cfg.MuxAddr,
		time.Duration(cfg.MuxSettleMS)*time.Millisecond,
		cfg.SCLPin, cfg.SDAPin,
	)
	if err != nil {
		return fmt.Errorf("multiplexer bring-up: %w", err)
	}
	defer mux.Close()

	store, err := sensors.NewCalibrationStore(cfg.CalibrationDir)
	if err != nil {
		log.Warnf("Calibration persistence disabled: %v", err)
		store = nil
	}
	array := sensors.NewArray(mux, func(addr uint16) (sensors.Device, error) {
		return sensors.NewBNO055(mux.Bus(), addr)
	}, store, wd.Feed)

	station := wifi.NewStation(wifi.NewShellStation(cfg.WiFiInterface), wifi.StationParams{
		SSID:     cfg.SSID,
		Password: cfg.Password,
		IP:       cfg.NodeIP,
		Mask:     cfg.SubnetMask,
		Gateway:  cfg.Gateway,
	}, wd.Feed)

	str := newStreamer(cfg, array, core, wd)
	srv := newCommandServer(cfg, core, str, array, wd)

	// Initialization with per-stage failure budgets. Three consecutive
	// failures at one stage end in safe mode instead of a crash loop.
	for {
		wd.Feed()

		if err := station.Connect(); err != nil {
			log.Warnf("Failed to connect to WiFi, retrying...")
			if _, exhausted := core.StageFailed(state.StageWiFiConnect); exhausted {
				return nodeSafeMode(core, mux, srv, wd)
			}
			time.Sleep(stageRetryWait)
			continue
		}
		core.StageSucceeded(state.StageWiFiConnect)

		if _, err := array.InitAll(); err != nil {
			log.Warnf("Sensor initialization failed, retrying...")
			if _, exhausted := core.StageFailed(state.StageSensorInit); exhausted {
				return nodeSafeMode(core, mux, srv, wd)
			}
			time.Sleep(stageRetryWait)
			continue
		}
		core.StageSucceeded(state.StageSensorInit)
		break
	}

	ctl := newControlClient(cfg, core, array, wd)
	ctl.Start()
	logging.SetSink(ctl)
	defer logging.SetSink(nil)

	go srv.serve()
	go statusReporter(cfg, core, station, array, str, wd)

	core.SetRunning()
	log.Info("Node is running. Awaiting commands...")
	log.Info("Send 'Q' command for emergency stop")

	// Main health loop: feed the watchdog and keep the uplink alive.
	for !core.Stopped() {
		wd.Feed()
		if !station.Connected() {
			log.Warn("WiFi connection lost. Attempting to reconnect...")
			if err := station.Reconnect(); err != nil {
				log.Error("WiFi reconnection failed, restarting...")
				time.Sleep(preRestartDelay)
				watchdog.HardReset()
			}
		}
		time.Sleep(healthLoopTick)
	}

	log.Warn("Emergency stop detected, shutting down")
	str.Stop()
	ctl.Shutdown()
	core.Halt()
	return nil
}

// nodeSafeMode drops into the degraded diagnostic state: verbose
// logging, a bus scan for the operator, and a command server that only
// accepts the restart command. Never returns on its own.
func nodeSafeMode(core *state.Core, mux *bus.Mux, srv *commandServer, wd watchdog.Watchdog) error {
	core.EnterSafeMode()
	log.Error("ENTERING SAFE MODE - Limited functionality available")
	logging.SetThreshold(logging.LevelDebug)

	found := mux.Scan()
	if len(found) == 0 {
		log.Error("I2C scan: no devices respond")
	} else {
		devs := make([]string, 0, len(found))
		for _, addr := range found {
			devs = append(devs, fmt.Sprintf("0x%02x", addr))
		}
		log.Infof("I2C scan: %v", devs)
	}
	log.Infof("Free memory: %d bytes", freeMemory())

	go srv.serve()
	log.Info("Safe mode active. Send 'N' command or reset device.")
	for {
		wd.Feed()
		time.Sleep(healthLoopTick)
	}
}

// statusReporter logs a one-line system summary on a fixed interval.
func statusReporter(cfg *config.Config, core *state.Core, station *wifi.Station, array *sensors.Array, str *streamer, wd watchdog.Watchdog) {
	start := time.Now()
	interval := time.Duration(cfg.StatusIntervalS) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for range ticker.C {
		if core.Stopped() {
			return
		}
		wd.Feed()

		wifiStatus := "Disconnected"
		if station.Connected() {
			wifiStatus = "Connected"
		}
		streaming := "No"
		if str.Running() {
			streaming = "Yes"
		}
		uptime := time.Since(start).Round(time.Second)
		log.Infof("Status: uptime %s, WiFi: %s, Sensors: %d/%d, Streaming: %s, Free memory: %d",
			uptime, wifiStatus, array.ActiveCount(), sensors.SlotCount, streaming, freeMemory())
	}
}

// openWatchdog arms the hardware watchdog, degrading to a software
// timer with the configured timeout on hosts without the device.
func openWatchdog(cfg *config.Config, device string) watchdog.Watchdog {
	wd, err := watchdog.Open(device)
	if err != nil {
		log.Warnf("Hardware watchdog unavailable, using software timer: %v", err)
		return watchdog.NewSoft(time.Duration(cfg.WatchdogTimeoutS)*time.Second, func() {
			log.Error("Software watchdog expired, forcing reset")
			watchdog.HardReset()
		})
	}
	return wd
}

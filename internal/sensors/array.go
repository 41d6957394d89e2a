// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensors

import (
	"errors"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/relabs-tech/mocap_pipeline/internal/quat"
)

// SlotCount is the number of sensor positions on the suit.
const SlotCount = 8

// SlotNames maps slot index to body position, for logs and status reports.
var SlotNames = [SlotCount]string{
	"Right Lower Leg",
	"Right Upper Leg",
	"Left Lower Leg",
	"Left Upper Leg",
	"Left Lower Arm",
	"Left Upper Arm",
	"Right Lower Arm",
	"Right Upper Arm",
}

// ChannelFor returns the multiplexer channel for a slot. Two sensors
// share each channel.
func ChannelFor(slot int) int { return slot / 2 }

// AddrFor returns the I2C address for a slot. Even slots sit at the
// default address, odd slots at the alternate one.
func AddrFor(slot int) uint16 {
	if slot%2 == 0 {
		return 0x28
	}
	return 0x29
}

// Device is the per-sensor surface the array drives. *BNO055 implements
// it; tests substitute fakes.
type Device interface {
	Quaternion() (quat.Quaternion, error)
	CalibrationStatus() (int, error)
	CalibrationProfile() ([]byte, error)
	SetCalibrationProfile([]byte) error
}

// Selector routes the shared bus to a sensor channel. *bus.Mux
// implements it.
type Selector interface {
	Select(channel int) error
	Reset() error
	Recover() error
}

// Factory constructs a device at addr on the currently routed channel.
type Factory func(addr uint16) (Device, error)

const (
	initRetries   = 5
	maxBackoff    = time.Second
	saveThreshold = 50 // calibration percentage worth persisting
)

// sleep is stubbed out in tests to skip the retry backoffs.
var sleep = time.Sleep

// Array manages the 8 sensor slots behind the multiplexer. A slot holds
// nil when its sensor failed initialization or was marked disconnected.
// All methods are safe for concurrent use; bus access is serialized.
type Array struct {
	mu      sync.Mutex
	sel     Selector
	factory Factory
	store   *CalibrationStore // nil disables persistence
	feed    func()
	slots   [SlotCount]Device
	saved   [SlotCount]bool
	probe   int // next slot for the round-robin health check
}

// NewArray wires the array. feed is called during slow operations to
// keep the watchdog alive; it may be nil.
func NewArray(sel Selector, factory Factory, store *CalibrationStore, feed func()) *Array {
	if feed == nil {
		feed = func() {}
	}
	return &Array{sel: sel, factory: factory, store: store, feed: feed}
}

// InitAll brings up every reachable sensor: multiplexer reset first, then
// per slot up to 5 attempts with exponential backoff, a multiplexer reset
// before the third attempt, and a stored calibration profile restored on
// success. Returns the number of live sensors; zero triggers the
// aggressive bus recovery and is reported as an error.
func (a *Array) InitAll() (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.slots = [SlotCount]Device{}
	a.saved = [SlotCount]bool{}

	if err := a.sel.Reset(); err != nil {
		log.Warnf("Multiplexer reset before init failed: %v", err)
	}

	count := 0
	for slot := 0; slot < SlotCount; slot++ {
		channel := ChannelFor(slot)
		addr := AddrFor(slot)

		if err := a.sel.Select(channel); err != nil {
			log.Warnf("Could not select channel %d for sensor %d (%s): %v",
				channel, slot, SlotNames[slot], err)
			continue
		}

		for retry := 0; retry < initRetries; retry++ {
			a.feed()
			dev, err := a.factory(addr)
			if err == nil {
				a.restoreCalibration(dev, slot)
				log.Infof("Sensor %d (%s, ch %d, addr 0x%02x) initialized",
					slot, SlotNames[slot], channel, addr)
				a.slots[slot] = dev
				count++
				break
			}

			backoff := min(time.Duration(1<<retry)*100*time.Millisecond, maxBackoff)
			log.Warnf("Error initializing sensor %d (%s), attempt %d: %v",
				slot, SlotNames[slot], retry+1, err)
			sleep(backoff)

			if retry == 1 {
				if rerr := a.sel.Reset(); rerr != nil {
					log.Warnf("Multiplexer reset during retries failed: %v", rerr)
				}
				a.sel.Select(channel)
			}
		}
		if a.slots[slot] == nil {
			log.Errorf("Failed to initialize sensor %d (%s)", slot, SlotNames[slot])
		}
	}

	log.Infof("Sensors initialization complete: %d/%d sensors initialized", count, SlotCount)

	if count == 0 {
		log.Error("No sensors initialized. Attempting emergency recovery...")
		if err := a.sel.Recover(); err != nil {
			log.Errorf("Emergency recovery failed: %v", err)
		}
		return 0, errors.New("no sensors initialized")
	}
	return count, nil
}

// ReadAll samples every slot, substituting the zero quaternion for
// missing or failing sensors. A read failure marks the slot disconnected
// so the health check can report it; the frame is still produced.
func (a *Array) ReadAll() [SlotCount]quat.Quaternion {
	a.mu.Lock()
	defer a.mu.Unlock()

	var out [SlotCount]quat.Quaternion
	for slot := 0; slot < SlotCount; slot++ {
		dev := a.slots[slot]
		if dev == nil {
			continue
		}
		if err := a.sel.Select(ChannelFor(slot)); err != nil {
			continue
		}
		q, err := dev.Quaternion()
		if err != nil {
			log.Warnf("Sensor %d (%s) read failed, marking disconnected: %v",
				slot, SlotNames[slot], err)
			a.slots[slot] = nil
			continue
		}
		out[slot] = q
	}
	return out
}

// HealthCheck probes one slot in round-robin order: a failing probe marks
// the sensor disconnected, a well-calibrated one gets its profile
// persisted once per session.
func (a *Array) HealthCheck() {
	a.mu.Lock()
	defer a.mu.Unlock()

	slot := a.probe
	a.probe = (a.probe + 1) % SlotCount

	dev := a.slots[slot]
	if dev == nil {
		return
	}
	if err := a.sel.Select(ChannelFor(slot)); err != nil {
		return
	}
	status, err := dev.CalibrationStatus()
	if err != nil {
		log.Warnf("Sensor %d (%s) appears to be disconnected: %v",
			slot, SlotNames[slot], err)
		a.slots[slot] = nil
		return
	}
	if status > saveThreshold && !a.saved[slot] && a.store != nil {
		a.persistCalibration(dev, slot)
	}
}

// ActiveCount returns the number of live sensors.
func (a *Array) ActiveCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()

	n := 0
	for _, dev := range a.slots {
		if dev != nil {
			n++
		}
	}
	return n
}

// Statuses reports one human-readable line per slot, probing each live
// sensor and marking unreachable ones disconnected as a side effect.
func (a *Array) Statuses() []string {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]string, 0, SlotCount)
	for slot := 0; slot < SlotCount; slot++ {
		dev := a.slots[slot]
		if dev == nil {
			out = append(out, fmt.Sprintf("Sensor %d (%s): Not Initialized", slot, SlotNames[slot]))
			continue
		}
		if err := a.sel.Select(ChannelFor(slot)); err != nil {
			out = append(out, fmt.Sprintf("Sensor %d (%s): Channel selection failed", slot, SlotNames[slot]))
			continue
		}
		status, err := dev.CalibrationStatus()
		if err != nil {
			out = append(out, fmt.Sprintf("Sensor %d (%s): Error checking status - %v", slot, SlotNames[slot], err))
			a.slots[slot] = nil
			continue
		}
		out = append(out, fmt.Sprintf("Sensor %d (%s): Connected, Calibration: %d", slot, SlotNames[slot], status))
	}
	return out
}

// restoreCalibration loads a persisted profile into a fresh device.
// Callers hold a.mu.
func (a *Array) restoreCalibration(dev Device, slot int) {
	if a.store == nil {
		return
	}
	profile, err := a.store.Load(slot)
	if err != nil {
		log.Debugf("Error loading calibration for sensor %d: %v", slot, err)
		return
	}
	if profile == nil {
		return
	}
	if err := dev.SetCalibrationProfile(profile); err != nil {
		log.Debugf("Error restoring calibration for sensor %d: %v", slot, err)
		return
	}
	log.Debugf("Loaded calibration for sensor %d", slot)
}

// persistCalibration saves the current profile. Callers hold a.mu.
func (a *Array) persistCalibration(dev Device, slot int) {
	profile, err := dev.CalibrationProfile()
	if err != nil {
		log.Debugf("Error reading calibration for sensor %d: %v", slot, err)
		return
	}
	if err := a.store.Save(slot, profile); err != nil {
		log.Debugf("Error saving calibration for sensor %d: %v", slot, err)
		return
	}
	a.saved[slot] = true
	log.Debugf("Saved calibration for sensor %d", slot)
}

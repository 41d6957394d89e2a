// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package bus drives the I2C channel multiplexer (TCA9548 family) that
// fans one bus out to the 8 orientation sensors, and owns recovery of
// the bus itself when it wedges.
package bus

import (
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/host/v3"
)

// Channels is the number of multiplexer channels in use (two sensor
// addresses per channel).
const Channels = 4

// workingFrequency is the bus speed restored after a recovery.
const workingFrequency = 400 * physic.KiloHertz

// Opener (re)opens the underlying I2C bus. Injectable so tests run
// against a fake bus and recovery can recreate the real one.
type Opener func() (i2c.BusCloser, error)

// Init brings up the periph host drivers. Call once at process start.
func Init() error {
	if _, err := host.Init(); err != nil {
		return fmt.Errorf("periph host init: %w", err)
	}
	return nil
}

// SystemOpener opens the named system bus ("1" for /dev/i2c-1).
func SystemOpener(name string) Opener {
	return func() (i2c.BusCloser, error) {
		b, err := i2creg.Open(name)
		if err != nil {
			return nil, fmt.Errorf("open i2c bus %q: %w", name, err)
		}
		return b, nil
	}
}

// Mux is the multiplexer handle. All methods are safe for concurrent use.
type Mux struct {
	mu     sync.Mutex
	bus    i2c.BusCloser
	open   Opener
	addr   uint16
	settle time.Duration
	sclPin string
	sdaPin string
}

// NewMux opens the bus and returns a handle to the multiplexer at addr.
// sclPin/sdaPin name the GPIO lines used for bus recovery bit-banging.
func NewMux(open Opener, addr uint16, settle time.Duration, sclPin, sdaPin string) (*Mux, error) {
	b, err := open()
	if err != nil {
		return nil, err
	}
	return &Mux{
		bus:    b,
		open:   open,
		addr:   addr,
		settle: settle,
		sclPin: sclPin,
		sdaPin: sdaPin,
	}, nil
}

// Bus returns the current underlying bus for device construction. The
// handle changes after a recovery, so callers must not cache it across
// reinitialization.
func (m *Mux) Bus() i2c.Bus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.bus
}

// Select routes the bus to one multiplexer channel by writing the
// single byte 1<<channel, then waits the settle delay. A failed write
// is retried once immediately before being reported.
func (m *Mux) Select(channel int) error {
	if channel < 0 || channel >= Channels {
		return fmt.Errorf("multiplexer channel %d out of range", channel)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	payload := []byte{1 << channel}
	if err := m.bus.Tx(m.addr, payload, nil); err != nil {
		time.Sleep(10 * time.Millisecond)
		if err2 := m.bus.Tx(m.addr, payload, nil); err2 != nil {
			return fmt.Errorf("switching multiplexer to channel %d: %w", channel, err)
		}
	}
	time.Sleep(m.settle)
	return nil
}

// Reset disables all channels and confirms the multiplexer responds.
// If the read-back probe fails the bus itself is recreated.
func (m *Mux) Reset() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	log.Debug("Attempting to reset the I2C multiplexer...")
	if err := m.bus.Tx(m.addr, []byte{0}, nil); err != nil {
		return fmt.Errorf("multiplexer reset write: %w", err)
	}
	time.Sleep(50 * time.Millisecond)

	var probe [1]byte
	if err := m.bus.Tx(m.addr, nil, probe[:]); err == nil {
		log.Debug("Multiplexer reset successful")
		return nil
	}

	log.Warn("Multiplexer not responding after reset, restarting I2C bus...")
	if err := m.reopen(); err != nil {
		return fmt.Errorf("multiplexer reset: %w", err)
	}
	time.Sleep(100 * time.Millisecond)
	return nil
}

// Recover runs the aggressive bus-recovery sequence used when every
// sensor failed initialization: drive the lines to idle, clock several
// cycles to unstick slave devices, emit a stop condition, recreate the
// bus at working frequency, and confirm the multiplexer is visible.
func (m *Mux) Recover() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	log.Warn("Emergency I2C recovery initiated")
	m.bus.Close()

	m.unstickLines()

	if err := m.reopen(); err != nil {
		return fmt.Errorf("emergency recovery: %w", err)
	}
	time.Sleep(200 * time.Millisecond)

	var probe [1]byte
	if err := m.bus.Tx(m.addr, nil, probe[:]); err != nil {
		return fmt.Errorf("multiplexer 0x%02x not found after recovery: %w", m.addr, err)
	}
	log.Info("Multiplexer found after recovery")
	return nil
}

// unstickLines bit-bangs the bus lines: both high (idle), ten clock
// pulses, then a stop condition. Skipped with a warning when the pins
// are not available by name.
func (m *Mux) unstickLines() {
	scl := gpioreg.ByName(m.sclPin)
	sda := gpioreg.ByName(m.sdaPin)
	if scl == nil || sda == nil {
		log.Warnf("Recovery pins %s/%s not available, skipping line unstick", m.sclPin, m.sdaPin)
		return
	}

	scl.Out(gpio.High)
	sda.Out(gpio.High)
	time.Sleep(10 * time.Millisecond)

	for i := 0; i < 10; i++ {
		scl.Out(gpio.Low)
		time.Sleep(2 * time.Millisecond)
		scl.Out(gpio.High)
		time.Sleep(2 * time.Millisecond)
	}

	// stop condition: SDA low->high while SCL is high
	sda.Out(gpio.Low)
	time.Sleep(2 * time.Millisecond)
	sda.Out(gpio.High)
	time.Sleep(5 * time.Millisecond)
}

// Scan probes the 7-bit address range and returns responding addresses.
// Used by safe mode diagnostics.
func (m *Mux) Scan() []uint16 {
	m.mu.Lock()
	defer m.mu.Unlock()

	var found []uint16
	var probe [1]byte
	for addr := uint16(0x08); addr <= 0x77; addr++ {
		if err := m.bus.Tx(addr, nil, probe[:]); err == nil {
			found = append(found, addr)
		}
	}
	return found
}

// Close releases the underlying bus.
func (m *Mux) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.bus.Close()
}

// reopen recreates the underlying bus at the working frequency.
// Callers hold m.mu.
func (m *Mux) reopen() error {
	b, err := m.open()
	if err != nil {
		return err
	}
	if err := b.SetSpeed(workingFrequency); err != nil {
		log.Warnf("Could not set bus speed: %v", err)
	}
	m.bus = b
	return nil
}

// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package sensors drives the BNO055 absolute-orientation sensors and the
// 8-slot array they form behind the I2C multiplexer.
package sensors

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/relabs-tech/mocap_pipeline/internal/quat"
	"periph.io/x/conn/v3/i2c"
)

// BNO055 is one orientation sensor in NDOF fusion mode. The caller owns
// channel selection; the driver assumes the multiplexer is already routed
// to this device for the duration of each call.
type BNO055 struct {
	dev i2c.Dev
}

// NewBNO055 probes the chip at addr on the currently routed bus, verifies
// its identity and switches it into NDOF fusion mode.
func NewBNO055(b i2c.Bus, addr uint16) (*BNO055, error) {
	s := &BNO055{dev: i2c.Dev{Bus: b, Addr: addr}}

	id, err := s.readReg(regChipID)
	if err != nil {
		return nil, fmt.Errorf("reading chip id at 0x%02x: %w", addr, err)
	}
	if id != chipID {
		return nil, fmt.Errorf("unexpected chip id 0x%02x at address 0x%02x", id, addr)
	}

	if err := s.setMode(modeConfig); err != nil {
		return nil, fmt.Errorf("entering config mode: %w", err)
	}
	if err := s.writeReg(regPwrMode, pwrNormal); err != nil {
		return nil, fmt.Errorf("setting power mode: %w", err)
	}
	if err := s.setMode(modeNDOF); err != nil {
		return nil, fmt.Errorf("entering NDOF mode: %w", err)
	}
	return s, nil
}

// Quaternion reads the fused orientation as [w, x, y, z].
func (s *BNO055) Quaternion() (quat.Quaternion, error) {
	var raw [8]byte
	if err := s.dev.Tx([]byte{regQuatData}, raw[:]); err != nil {
		return quat.Zero, fmt.Errorf("quaternion read: %w", err)
	}
	var q quat.Quaternion
	for i := 0; i < 4; i++ {
		v := int16(binary.LittleEndian.Uint16(raw[2*i:]))
		q[i] = float32(v) * quatScale
	}
	return q, nil
}

// CalibrationStatus returns overall calibration confidence as a 0-100
// percentage across the system, gyro, accel and mag fields.
func (s *BNO055) CalibrationStatus() (int, error) {
	v, err := s.readReg(regCalibStat)
	if err != nil {
		return 0, fmt.Errorf("calibration status read: %w", err)
	}
	sum := int(v>>6&3) + int(v>>4&3) + int(v>>2&3) + int(v&3)
	return sum * 100 / 12, nil
}

// CalibrationProfile reads the 22-byte offset/radius profile. The chip
// only exposes it in config mode, so fusion is briefly suspended.
func (s *BNO055) CalibrationProfile() ([]byte, error) {
	if err := s.setMode(modeConfig); err != nil {
		return nil, fmt.Errorf("calibration profile: %w", err)
	}
	buf := make([]byte, calibProfileLen)
	err := s.dev.Tx([]byte{regCalibData}, buf)
	if merr := s.setMode(modeNDOF); err == nil {
		err = merr
	}
	if err != nil {
		return nil, fmt.Errorf("calibration profile: %w", err)
	}
	return buf, nil
}

// SetCalibrationProfile restores a previously saved 22-byte profile.
func (s *BNO055) SetCalibrationProfile(profile []byte) error {
	if len(profile) != calibProfileLen {
		return fmt.Errorf("calibration profile is %d bytes, want %d", len(profile), calibProfileLen)
	}
	if err := s.setMode(modeConfig); err != nil {
		return fmt.Errorf("calibration profile: %w", err)
	}
	err := s.dev.Tx(append([]byte{regCalibData}, profile...), nil)
	if merr := s.setMode(modeNDOF); err == nil {
		err = merr
	}
	if err != nil {
		return fmt.Errorf("calibration profile write: %w", err)
	}
	return nil
}

// setMode writes OPR_MODE and waits out the datasheet switching time
// (19ms into config mode, 7ms out of it).
func (s *BNO055) setMode(mode byte) error {
	if err := s.writeReg(regOprMode, mode); err != nil {
		return err
	}
	if mode == modeConfig {
		time.Sleep(20 * time.Millisecond)
	} else {
		time.Sleep(10 * time.Millisecond)
	}
	return nil
}

func (s *BNO055) readReg(reg byte) (byte, error) {
	var v [1]byte
	if err := s.dev.Tx([]byte{reg}, v[:]); err != nil {
		return 0, err
	}
	return v[0], nil
}

func (s *BNO055) writeReg(reg, val byte) error {
	return s.dev.Tx([]byte{reg, val}, nil)
}

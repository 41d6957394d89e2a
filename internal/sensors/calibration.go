// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensors

import (
	"fmt"
	"os"
	"path/filepath"
)

// CalibrationStore persists per-slot calibration profiles so sensors come
// up pre-calibrated after a restart.
type CalibrationStore struct {
	dir string
}

// NewCalibrationStore creates the directory if needed.
func NewCalibrationStore(dir string) (*CalibrationStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("calibration dir %s: %w", dir, err)
	}
	return &CalibrationStore{dir: dir}, nil
}

func (cs *CalibrationStore) path(slot int) string {
	return filepath.Join(cs.dir, fmt.Sprintf("sensor%d.cal", slot))
}

// Save writes the profile for a slot. The write goes through a temp file
// so a crash cannot leave a truncated profile behind.
func (cs *CalibrationStore) Save(slot int, profile []byte) error {
	tmp := cs.path(slot) + ".tmp"
	if err := os.WriteFile(tmp, profile, 0o644); err != nil {
		return fmt.Errorf("saving calibration for sensor %d: %w", slot, err)
	}
	if err := os.Rename(tmp, cs.path(slot)); err != nil {
		return fmt.Errorf("saving calibration for sensor %d: %w", slot, err)
	}
	return nil
}

// Clear removes the stored profile for a slot. Clearing a slot that
// never saved one is not an error.
func (cs *CalibrationStore) Clear(slot int) error {
	err := os.Remove(cs.path(slot))
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("clearing calibration for sensor %d: %w", slot, err)
	}
	return nil
}

// Load returns the stored profile, or (nil, nil) when none was saved yet.
func (cs *CalibrationStore) Load(slot int) ([]byte, error) {
	data, err := os.ReadFile(cs.path(slot))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading calibration for sensor %d: %w", slot, err)
	}
	return data, nil
}

// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package main

import (
	"errors"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/relabs-tech/mocap_pipeline/internal/config"
	"github.com/relabs-tech/mocap_pipeline/internal/sensors"
)

// calibctl inspects and clears the calibration profiles the node saves
// once each sensor reaches a good calibration. Run it on the node while
// the capture services are stopped.
func main() {
	configPath := flag.String("config", "./mocap_config.txt", "path to configuration file")
	clearSlot := flag.Int("clear", -1, "delete the stored profile for one sensor slot")
	clearAll := flag.Bool("clear-all", false, "delete all stored profiles")
	flag.Parse()

	if err := config.InitGlobal(*configPath); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			log.Fatalf("failed to load config: %v", err)
		}
		log.Printf("no config file at %s, using built-in defaults", *configPath)
		config.InitDefaults()
	}
	cfg := config.Get()

	store, err := sensors.NewCalibrationStore(cfg.CalibrationDir)
	if err != nil {
		log.Fatalf("fatal: %v", err)
	}

	switch {
	case *clearAll:
		for slot := 0; slot < sensors.SlotCount; slot++ {
			if err := store.Clear(slot); err != nil {
				log.Fatalf("fatal: %v", err)
			}
		}
		fmt.Println("All stored calibration profiles cleared.")

	case *clearSlot >= 0:
		if *clearSlot >= sensors.SlotCount {
			log.Fatalf("invalid slot %d: must be 0-%d", *clearSlot, sensors.SlotCount-1)
		}
		if err := store.Clear(*clearSlot); err != nil {
			log.Fatalf("fatal: %v", err)
		}
		fmt.Printf("Calibration profile for sensor %d cleared.\n", *clearSlot)

	default:
		fmt.Printf("Calibration profiles in %s:\n", cfg.CalibrationDir)
		for slot := 0; slot < sensors.SlotCount; slot++ {
			profile, err := store.Load(slot)
			switch {
			case err != nil:
				fmt.Printf("  Sensor %d (%s): unreadable: %v\n", slot, sensors.SlotNames[slot], err)
			case profile == nil:
				fmt.Printf("  Sensor %d (%s): no stored profile\n", slot, sensors.SlotNames[slot])
			default:
				fmt.Printf("  Sensor %d (%s): %d bytes\n", slot, sensors.SlotNames[slot], len(profile))
			}
		}
	}
}

// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package main

import (
	"errors"
	"flag"
	"log"
	"os"

	"github.com/relabs-tech/mocap_pipeline/internal/app"
	"github.com/relabs-tech/mocap_pipeline/internal/config"
)

func main() {
	configPath := flag.String("config", "./mocap_config.txt", "path to configuration file")
	flag.Parse()

	log.Println("starting motion-capture node (sensors → WiFi)")

	// Load configuration
	if err := config.InitGlobal(*configPath); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			log.Fatalf("failed to load config: %v", err)
		}
		log.Printf("no config file at %s, using built-in defaults", *configPath)
		config.InitDefaults()
	}

	if err := app.RunNode(); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}

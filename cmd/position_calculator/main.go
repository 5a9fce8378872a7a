// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package main

import (
	"flag"
	"log"

	"github.com/relabs-tech/anchor_guide/internal/app"
	"github.com/relabs-tech/anchor_guide/internal/config"
)

func main() {
	configPath := flag.String("config", "./anchor_guide_config.txt", "path to configuration file")
	flag.Parse()

	log.Println("starting anchor-guide position calculator (MQTT ranging → SQLite)")

	// Load configuration
	if err := config.InitGlobal(*configPath); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	if err := app.RunPositionCalculator(); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}

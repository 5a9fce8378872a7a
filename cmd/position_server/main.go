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
	seedPath := flag.String("seed", "", "CSV file of mac,positionx,positiony rows to load before serving")
	flag.Parse()

	log.Println("starting anchor-guide position server (SQLite → HTTP)")

	// Load configuration
	if err := config.InitGlobal(*configPath); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	if err := app.RunPositionServer(*seedPath); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}

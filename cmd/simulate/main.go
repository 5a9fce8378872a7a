// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/relabs-tech/anchor_guide/internal/app"
)

func main() {
	headingDeg := flag.Float64("heading", 90, "fixed compass heading in degrees")
	record := flag.Duration("record", 2*time.Second, "time spent walking from anchor 1 to anchor 2")
	guide := flag.Duration("guide", time.Second, "time spent following the indicator")
	target := flag.String("target", "tag1", "node to guide to after calibration")
	flag.Parse()

	log.Println("starting anchor-guide simulation (mock compass, in-memory position server)")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	snap, err := app.RunSimulation(ctx, app.SimulationOptions{
		Heading: *headingDeg,
		Record:  *record,
		Guide:   *guide,
		Target:  *target,
	})
	if err != nil {
		log.Fatalf("fatal: %v", err)
	}
	log.Printf("simulation finished in %s, system orientation %.1f°, positions %v",
		snap.Phase, snap.SystemOrientation, snap.Positions)
}

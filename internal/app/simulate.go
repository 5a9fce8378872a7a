// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/relabs-tech/anchor_guide/internal/calibration"
	"github.com/relabs-tech/anchor_guide/internal/heading"
	"github.com/relabs-tech/anchor_guide/internal/orchestrator"
	"github.com/relabs-tech/anchor_guide/internal/positiondb"
	"github.com/relabs-tech/anchor_guide/internal/positions"
	"github.com/relabs-tech/anchor_guide/internal/sensors"
	"github.com/relabs-tech/anchor_guide/internal/ui"
)

const simPhaseTimeout = 10 * time.Second

// simDevices is the surveyed layout the simulation serves.
var simDevices = []positiondb.Device{
	{MAC: "02:00:00:00:00:01", PositionX: 0, PositionY: 0},
	{MAC: "02:00:00:00:00:02", PositionX: 10, PositionY: 0},
	{MAC: "02:00:00:00:00:03", PositionX: 10, PositionY: 10},
	{MAC: "02:00:00:00:00:04", PositionX: 5, PositionY: 5},
	{MAC: "02:00:00:00:00:05", PositionX: 0, PositionY: 10},
}

// SimulationOptions tunes RunSimulation.
type SimulationOptions struct {
	Heading  float64       // fixed compass heading, degrees
	Record   time.Duration // how long to walk from anchor 1 to anchor 2
	Guide    time.Duration // how long to follow the indicator
	Target   string
	Sink     ui.Sink
	Interval time.Duration
}

// RunSimulation walks a full calibration against an in-memory position
// server and a mock compass, then guides the operator to opts.Target.
func RunSimulation(ctx context.Context, opts SimulationOptions) (orchestrator.Snapshot, error) {
	if opts.Target == "" {
		opts.Target = calibration.NodeTag1
	}
	if opts.Sink == nil {
		opts.Sink = ui.LogSink{}
	}
	if opts.Interval <= 0 {
		opts.Interval = heading.DefaultInterval
	}

	db, err := positiondb.Open(":memory:")
	if err != nil {
		return orchestrator.Snapshot{}, err
	}
	defer db.Close()

	dir := positions.Directory{}
	for i, dev := range simDevices {
		if err := db.Upsert(ctx, dev); err != nil {
			return orchestrator.Snapshot{}, err
		}
		dir[calibration.Nodes[i]] = dev.MAC
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return orchestrator.Snapshot{}, fmt.Errorf("listen: %w", err)
	}
	srv := &http.Server{Handler: positiondb.Handler(db)}
	go srv.Serve(ln)
	defer srv.Close()
	baseURL := "http://" + ln.Addr().String()
	log.Printf("simulate: position server on %s", baseURL)

	clk := clock.New()
	compass := sensors.NewMockCompass(clk, opts.Heading, 0)
	compass.SetHeading(opts.Heading)
	recorder := heading.NewRecorder(compass, clk, opts.Interval)

	orch := orchestrator.New(orchestrator.Options{
		Nodes:            dir,
		Fetcher:          positions.NewHTTPFetcher(baseURL, nil),
		Recorder:         recorder,
		Sink:             opts.Sink,
		Clock:            clk,
		GuidanceInterval: opts.Interval,
		FetchTimeout:     orchestrator.DefaultFetchTimeout,
	})

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	runErr := make(chan error, 1)
	go func() { runErr <- orch.Run(runCtx) }()

	steps := []struct {
		do   func()
		wait calibration.Phase
		hold time.Duration
	}{
		{do: func() { orch.QRDetected(calibration.NodeAnchor1) }, wait: calibration.WaitingButtonAnchor1},
		{do: func() { orch.ButtonPressed(calibration.NodeAnchor1) }, wait: calibration.WaitingQRAnchor2, hold: opts.Record},
		{do: func() { orch.QRDetected(calibration.NodeAnchor2) }, wait: calibration.WaitingButtonAnchor2},
		{do: func() { orch.ButtonPressed(calibration.NodeAnchor2) }, wait: calibration.WaitingSomeButton},
		{do: func() { orch.ButtonPressed(opts.Target) }, wait: calibration.OrientationoftheUser, hold: opts.Guide},
		{do: func() { orch.QRDetected(opts.Target) }, wait: calibration.WaitingSomeButton},
	}

	// The first Snapshot is published once Run has started the session.
	if err := waitPhase(ctx, clk, orch, calibration.WaitingQRAnchor1); err != nil {
		return orch.Snapshot(), err
	}
	for _, st := range steps {
		st.do()
		if err := waitPhase(ctx, clk, orch, st.wait); err != nil {
			return orch.Snapshot(), err
		}
		if st.hold > 0 {
			select {
			case <-ctx.Done():
				return orch.Snapshot(), ctx.Err()
			case <-clk.After(st.hold):
			}
		}
	}

	snap := orch.Snapshot()
	cancel()
	if err := <-runErr; err != nil && !errors.Is(err, context.Canceled) {
		return snap, err
	}
	return snap, nil
}

func waitPhase(ctx context.Context, clk clock.Clock, orch *orchestrator.Orchestrator, want calibration.Phase) error {
	deadline := clk.After(simPhaseTimeout)
	ticker := clk.Ticker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		snap := orch.Snapshot()
		if snap.Phase == want.String() {
			return nil
		}
		if snap.Phase == calibration.ErrorServer.String() {
			return fmt.Errorf("simulation failed in %s: %s", snap.Phase, snap.Status)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline:
			return fmt.Errorf("timed out waiting for %s (in %s)", want, snap.Phase)
		case <-ticker.C:
		}
	}
}

// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package orchestrator

import (
	"errors"
	"log"

	"github.com/relabs-tech/anchor_guide/internal/calibration"
	"github.com/relabs-tech/anchor_guide/internal/guidance"
)

// startGuidance replaces any running guidance loop with a new one. Each loop
// carries a generation number; ticks from an older generation are ignored.
func (o *Orchestrator) startGuidance(current, target string) {
	o.stopGuidance()

	o.guideGen++
	gen := o.guideGen
	stop := make(chan struct{})
	o.guideStop = stop

	ticker := o.clock.Ticker(o.guidanceInterval)
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				if !o.post(guideTick{gen: gen}) {
					return
				}
			}
		}
	}()

	log.Printf("orchestrator: guidance %d started from %s to %s", gen, current, target)
	o.guideStep(gen)
}

// stopGuidance ends the running loop, if any. Ticks already queued are
// dropped by guideStep because the generation no longer matches.
func (o *Orchestrator) stopGuidance() {
	if o.guideStop == nil {
		return
	}
	close(o.guideStop)
	o.guideStop = nil
	o.guideGen++
}

func (o *Orchestrator) guideStep(gen uint64) {
	if gen != o.guideGen || o.guideStop == nil {
		return
	}
	if o.machine.Current() != calibration.OrientationoftheUser {
		log.Println("orchestrator: orientation phase complete")
		o.stopGuidance()
		return
	}

	current, target := o.cal.Current, o.cal.Target
	sol, err := guidance.SolveNodes(o.store, current, target, o.systemOrientation, o.recorder.CurrentHeading())
	if err != nil {
		if errors.Is(err, guidance.ErrMissingPosition) {
			log.Printf("orchestrator: %v", err)
			o.status("Missing position data for " + current + " or " + target + ". Guidance stopped.")
		}
		o.stopGuidance()
		return
	}

	o.lastSolution = &sol
	o.sink.IndicatorRotation(sol.RotationNeeded)
	o.status(sol.Status(current, target))
}

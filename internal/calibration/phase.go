// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package calibration

import "log"

// Phase is the current step of an anchor calibration session.
type Phase int

const (
	WaitingQRAnchor1 Phase = iota
	WaitingButtonAnchor1
	WaitingServerResponseAnchor1
	WaitingQRAnchor2
	WaitingButtonAnchor2
	WaitingServerResponseAnchor2
	ErrorServer
	CalibrationComplete
	WaitingSomeButton
	OrientationoftheUser
)

var phaseNames = [...]string{
	WaitingQRAnchor1:             "WaitingQRAnchor1",
	WaitingButtonAnchor1:         "WaitingButtonAnchor1",
	WaitingServerResponseAnchor1: "WaitingServerResponseAnchor1",
	WaitingQRAnchor2:             "WaitingQRAnchor2",
	WaitingButtonAnchor2:         "WaitingButtonAnchor2",
	WaitingServerResponseAnchor2: "WaitingServerResponseAnchor2",
	ErrorServer:                  "ErrorServer",
	CalibrationComplete:          "CalibrationComplete",
	WaitingSomeButton:            "WaitingSomeButton",
	OrientationoftheUser:         "OrientationoftheUser",
}

// Phases lists every phase in declaration order.
func Phases() []Phase {
	out := make([]Phase, len(phaseNames))
	for i := range phaseNames {
		out[i] = Phase(i)
	}
	return out
}

func (p Phase) String() string {
	if p < 0 || int(p) >= len(phaseNames) {
		return "Phase(unknown)"
	}
	return phaseNames[p]
}

// Observer is notified synchronously every time the phase is set.
type Observer func(newPhase Phase)

// Machine holds the active phase of one calibration session. It does not
// validate transitions; callers check Transition first.
type Machine struct {
	current  Phase
	observer Observer
}

// NewMachine returns a machine already set to initial. The observer is not
// called for the initial phase.
func NewMachine(initial Phase, observer Observer) *Machine {
	return &Machine{current: initial, observer: observer}
}

// Current returns the active phase.
func (m *Machine) Current() Phase {
	return m.current
}

// Set overwrites the phase and notifies the observer before returning.
func (m *Machine) Set(next Phase) {
	m.current = next
	log.Printf("calibration: phase updated to %s", next)
	if m.observer != nil {
		m.observer(next)
	}
}

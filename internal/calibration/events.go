// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package calibration

import (
	"fmt"

	"github.com/relabs-tech/anchor_guide/internal/positions"
)

// Node identifiers. They double as QR payloads and button keys.
const (
	NodeAnchor1 = "anchor1"
	NodeAnchor2 = "anchor2"
	NodeAnchor3 = "anchor3"
	NodeTag1    = "tag1"
	NodeTag2    = "tag2"
)

// Nodes lists every node the operator can select, in button order.
var Nodes = []string{NodeAnchor1, NodeAnchor2, NodeAnchor3, NodeTag1, NodeTag2}

// chainedLookups are fetched one after another once both anchors are done.
var chainedLookups = []string{NodeAnchor3, NodeTag1, NodeTag2}

// Event is an input the orchestrator feeds into Transition.
type Event interface {
	fmt.Stringer
	event()
}

// QRDetected is raised when the scanner decodes a new payload.
type QRDetected struct{ Node string }

// ButtonPressed is raised when the operator activates a node control.
type ButtonPressed struct{ Node string }

// PositionFetched carries a successful position lookup.
type PositionFetched struct {
	Node     string
	Position positions.Position
}

// PositionFailed carries a failed position lookup.
type PositionFailed struct {
	Node string
	Err  error
}

func (QRDetected) event()      {}
func (ButtonPressed) event()   {}
func (PositionFetched) event() {}
func (PositionFailed) event()  {}

func (e QRDetected) String() string    { return "QR(" + e.Node + ")" }
func (e ButtonPressed) String() string { return "Button(" + e.Node + ")" }
func (e PositionFetched) String() string {
	return "ServerOK(" + e.Node + ")"
}
func (e PositionFailed) String() string {
	return "ServerError(" + e.Node + ")"
}

// Effect is a side-effect command produced by Transition.
type Effect interface {
	effect()
}

type (
	// StartLookup asks for the position of Node.
	StartLookup struct{ Node string }
	// RecordPosition stores a fetched position.
	RecordPosition struct {
		Node     string
		Position positions.Position
	}
	StartRecording     struct{}
	StopRecording      struct{}
	CaptureOrientation struct{}
	// StartGuidance begins a guidance loop from Current toward Target.
	StartGuidance struct{ Current, Target string }
	StopGuidance  struct{}
	SetStatus     struct{ Text string }
	// SetServerResponse shows the raw outcome of the last lookup.
	SetServerResponse struct{ Text string }
	EnableNode        struct {
		Node    string
		Enabled bool
	}
	EnableAll     struct{ Enabled bool }
	ShowIndicator struct{ Visible bool }
)

func (StartLookup) effect()        {}
func (RecordPosition) effect()     {}
func (StartRecording) effect()     {}
func (StopRecording) effect()      {}
func (CaptureOrientation) effect() {}
func (StartGuidance) effect()      {}
func (StopGuidance) effect()       {}
func (SetStatus) effect()          {}
func (SetServerResponse) effect()  {}
func (EnableNode) effect()         {}
func (EnableAll) effect()          {}
func (ShowIndicator) effect()      {}

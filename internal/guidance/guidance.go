// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package guidance turns two calibrated node positions and the device
// heading into a rotation instruction for the operator.
//
// Angles are in degrees. Bearings in the calibration plane are measured
// counter-clockwise from +X; compass headings are clockwise from magnetic
// north, hence the sign flip when reprojecting.
package guidance

import (
	"errors"
	"fmt"
	"math"

	"github.com/relabs-tech/anchor_guide/internal/positions"
)

// ErrMissingPosition is returned when a node has no calibrated position.
var ErrMissingPosition = errors.New("missing position data")

// Solution holds every intermediate value of one guidance step.
type Solution struct {
	TargetBearing     float64 `json:"target_bearing"`
	SystemOrientation float64 `json:"system_orientation"`
	RealTargetAngle   float64 `json:"real_target_angle"`
	LiveHeading       float64 `json:"live_heading"`
	RotationNeeded    float64 `json:"rotation_needed"`
}

// Bearing returns atan2(dy, dx) from one position to another, in degrees.
func Bearing(from, to positions.Position) float64 {
	return math.Atan2(to.Y-from.Y, to.X-from.X) * 180.0 / math.Pi
}

// DeltaAngle returns the signed shortest rotation from a to b, in (-180, 180].
// Positive is clockwise.
func DeltaAngle(a, b float64) float64 {
	d := math.Mod(b-a, 360)
	if d <= -180 {
		d += 360
	} else if d > 180 {
		d -= 360
	}
	return d
}

// Solve computes the rotation needed to face target from current.
func Solve(current, target positions.Position, systemOrientation, liveHeading float64) Solution {
	bearing := Bearing(current, target)
	realAngle := -bearing + systemOrientation
	return Solution{
		TargetBearing:     bearing,
		SystemOrientation: systemOrientation,
		RealTargetAngle:   realAngle,
		LiveHeading:       liveHeading,
		RotationNeeded:    DeltaAngle(liveHeading, realAngle),
	}
}

// Lookup resolves a node's position.
type Lookup interface {
	Position(node string) (positions.Position, bool)
}

// SolveNodes resolves both nodes in store and calls Solve.
func SolveNodes(store Lookup, currentNode, targetNode string, systemOrientation, liveHeading float64) (Solution, error) {
	cur, ok := store.Position(currentNode)
	if !ok {
		return Solution{}, fmt.Errorf("%w for current node %q", ErrMissingPosition, currentNode)
	}
	tgt, ok := store.Position(targetNode)
	if !ok {
		return Solution{}, fmt.Errorf("%w for target node %q", ErrMissingPosition, targetNode)
	}
	return Solve(cur, tgt, systemOrientation, liveHeading), nil
}

// Status renders the operator debugging line for s.
func (s Solution) Status(currentNode, targetNode string) string {
	return fmt.Sprintf("Aligning to Target:\nTarget Bearing: %.1f°\nReal target Angle: %.1f°\nSystem Orientation: %.1f°\n"+
		"User Heading: %.1f°\nRotation Needed: %.1f°\nCurrent: %s, Target: %s",
		s.TargetBearing, s.RealTargetAngle, s.SystemOrientation, s.LiveHeading, s.RotationNeeded, currentNode, targetNode)
}

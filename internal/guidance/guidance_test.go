// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package guidance

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/anchor_guide/internal/positions"
)

func TestDeltaAngleShortestPath(t *testing.T) {
	assert.Equal(t, 20.0, DeltaAngle(170, -170))
	assert.Equal(t, -20.0, DeltaAngle(-170, 170))
	assert.Equal(t, 10.0, DeltaAngle(350, 0))
	assert.Equal(t, 0.0, DeltaAngle(720, 0))
	assert.Equal(t, 180.0, DeltaAngle(0, 180))
	assert.Equal(t, 180.0, DeltaAngle(0, -180))
}

func TestDeltaAngleRangeAndAntisymmetry(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 10000; i++ {
		a := rng.Float64()*2000 - 1000
		b := rng.Float64()*2000 - 1000

		d := DeltaAngle(a, b)
		require.Greater(t, d, -180.0, "DeltaAngle(%g, %g)", a, b)
		require.LessOrEqual(t, d, 180.0, "DeltaAngle(%g, %g)", a, b)

		back := DeltaAngle(b, a)
		if math.Abs(d) != 180 {
			assert.InDelta(t, -d, back, 1e-9, "DeltaAngle(%g, %g)", a, b)
		}

		// a rotated by d lands on b modulo 360
		assert.InDelta(t, 0, DeltaAngle(b, a+d), 1e-6, "DeltaAngle(%g, %g)", a, b)
	}
}

func TestBearing(t *testing.T) {
	origin := positions.Position{}
	assert.InDelta(t, 0, Bearing(origin, positions.Position{X: 10}), 1e-9)
	assert.InDelta(t, 90, Bearing(origin, positions.Position{Y: 5}), 1e-9)
	assert.InDelta(t, 180, Bearing(origin, positions.Position{X: -3}), 1e-9)
	assert.InDelta(t, -45, Bearing(origin, positions.Position{X: 1, Y: -1}), 1e-9)
}

func TestSolve(t *testing.T) {
	cur := positions.Position{X: 0, Y: 0}

	s := Solve(cur, positions.Position{X: 10, Y: 0}, 90, 80)
	assert.InDelta(t, 0, s.TargetBearing, 1e-9)
	assert.InDelta(t, 90, s.RealTargetAngle, 1e-9)
	assert.InDelta(t, 10, s.RotationNeeded, 1e-9)
	assert.Equal(t, 80.0, s.LiveHeading)
	assert.Equal(t, 90.0, s.SystemOrientation)

	s = Solve(cur, positions.Position{X: 0, Y: 10}, 90, 350)
	assert.InDelta(t, 90, s.TargetBearing, 1e-9)
	assert.InDelta(t, 0, s.RealTargetAngle, 1e-9)
	assert.InDelta(t, 10, s.RotationNeeded, 1e-9)

	// facing the target already
	s = Solve(cur, positions.Position{X: 5, Y: 5}, 45, 0)
	assert.InDelta(t, 0, s.RotationNeeded, 1e-9)
}

func TestSolveNodes(t *testing.T) {
	store := positions.NewStore()
	store.Record("anchor2", positions.Position{X: 10, Y: 0})
	store.Record("tag1", positions.Position{X: 10, Y: 10})

	s, err := SolveNodes(store, "anchor2", "tag1", 0, 0)
	require.NoError(t, err)
	assert.InDelta(t, 90, s.TargetBearing, 1e-9)
	assert.InDelta(t, -90, s.RotationNeeded, 1e-9)

	_, err = SolveNodes(store, "anchor2", "tag2", 0, 0)
	assert.ErrorIs(t, err, ErrMissingPosition)
	_, err = SolveNodes(store, "anchor1", "tag1", 0, 0)
	assert.ErrorIs(t, err, ErrMissingPosition)
}

func TestSolutionStatus(t *testing.T) {
	s := Solution{TargetBearing: 90, RealTargetAngle: 0, SystemOrientation: 90, LiveHeading: 350, RotationNeeded: 10}
	want := "Aligning to Target:\nTarget Bearing: 90.0°\nReal target Angle: 0.0°\nSystem Orientation: 90.0°\n" +
		"User Heading: 350.0°\nRotation Needed: 10.0°\nCurrent: anchor2, Target: tag1"
	assert.Equal(t, want, s.Status("anchor2", "tag1"))
}

// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package orientation

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestComputePoseFromAccel(t *testing.T) {
	tests := []struct {
		name        string
		ax, ay, az  float64
		roll, pitch float64
	}{
		{"flat", 0, 0, 1, 0, 0},
		{"rolled right", 0, 1, 1, 45, 0},
		{"nose down", 1, 0, 1, 0, -45},
		{"upside down", 0, 0, -1, 180, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := ComputePoseFromAccel(tt.ax, tt.ay, tt.az)
			assert.InDelta(t, tt.roll, p.Roll, 1e-9)
			assert.InDelta(t, tt.pitch, p.Pitch, 1e-9)
			assert.Zero(t, p.Yaw)
		})
	}
}

func TestPoseLevel(t *testing.T) {
	p := ComputePoseFromAccel(0.1, -0.1, 1).WithYaw(270)
	assert.Equal(t, 270.0, p.Yaw)
	assert.True(t, p.Level(DefaultLevelTolerance))
	assert.False(t, p.Level(1))

	assert.True(t, Pose{Roll: 15, Pitch: -15}.Level(DefaultLevelTolerance))
	assert.False(t, Pose{Roll: 0, Pitch: 15.1}.Level(DefaultLevelTolerance))
}

// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package orientation derives device tilt from accelerometer readings so
// the operator can be told to hold the device level while the compass is
// sampled.
package orientation

import (
	"math"
)

// DefaultLevelTolerance is the largest roll or pitch, in degrees, at which
// compass readings are still trusted.
const DefaultLevelTolerance = 15.0

// Pose is roll/pitch/yaw in degrees.
type Pose struct {
	Roll  float64 `json:"roll"`
	Pitch float64 `json:"pitch"`
	Yaw   float64 `json:"yaw"`
}

// ComputePoseFromAccel computes roll and pitch from accelerometer data only.
// Yaw is left at 0; the compass heading is reported separately.
//
// Uses simple tilt formulas:
//
//	roll  = atan2(ay, az)
//	pitch = atan2(-ax, sqrt(ay² + az²))
func ComputePoseFromAccel(ax, ay, az float64) Pose {
	rollRad := math.Atan2(ay, az)
	pitchRad := math.Atan2(-ax, math.Sqrt(ay*ay+az*az))

	return Pose{
		Roll:  rollRad * 180.0 / math.Pi,
		Pitch: pitchRad * 180.0 / math.Pi,
	}
}

// WithYaw returns p with the given heading as yaw.
func (p Pose) WithYaw(heading float64) Pose {
	p.Yaw = heading
	return p
}

// Level reports whether both roll and pitch are within tolerance degrees.
func (p Pose) Level(tolerance float64) bool {
	return math.Abs(p.Roll) <= tolerance && math.Abs(p.Pitch) <= tolerance
}

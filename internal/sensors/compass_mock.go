// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensors

import (
	"errors"
	"math"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// ErrNoAccelerometer is returned by compasses without an accelerometer.
var ErrNoAccelerometer = errors.New("sensor has no accelerometer")

// MockCompass generates a heading that turns at a constant rate, or a
// fixed heading once SetHeading is called.
type MockCompass struct {
	clock clock.Clock
	start time.Time
	base  float64
	rate  float64 // degrees per second

	mu        sync.Mutex
	fixed     *float64
	available bool
	enabled   bool
}

// NewMockCompass creates a mock compass starting at base degrees and
// turning rate degrees per second.
func NewMockCompass(clk clock.Clock, base, rate float64) *MockCompass {
	if clk == nil {
		clk = clock.New()
	}
	return &MockCompass{clock: clk, start: clk.Now(), base: base, rate: rate, available: true}
}

// SetAvailable simulates a device with or without a compass.
func (m *MockCompass) SetAvailable(ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.available = ok
}

// SetHeading pins the heading to h.
func (m *MockCompass) SetHeading(h float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fixed = &h
}

func (m *MockCompass) Available() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.available
}

func (m *MockCompass) Enable() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enabled = true
	return nil
}

func (m *MockCompass) Heading() (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fixed != nil {
		return *m.fixed, nil
	}
	elapsed := m.clock.Since(m.start).Seconds()
	return NormalizeHeading(m.base + m.rate*elapsed), nil
}

// Acceleration reports gravity along +Z with a slow wobble.
func (m *MockCompass) Acceleration() ([3]float64, error) {
	elapsed := m.clock.Since(m.start).Seconds()
	return [3]float64{
		0.05 * math.Sin(elapsed),
		0.05 * math.Cos(elapsed*0.7),
		1.0,
	}, nil
}

// NormalizeHeading maps h into [0, 360).
func NormalizeHeading(h float64) float64 {
	h = math.Mod(h, 360)
	if h < 0 {
		h += 360
	}
	return h
}

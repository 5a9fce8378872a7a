// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensors

import (
	"encoding/binary"
	"fmt"
	"log"
	"math"
	"sync"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"
)

// HMC5883L-class register map.
const (
	DefaultCompassAddr = 0x1E

	regConfigA = 0x00
	regConfigB = 0x01
	regMode    = 0x02
	regDataX   = 0x03

	configA8Avg15Hz = 0x70
	configBGain1090 = 0x20
	modeContinuous  = 0x00
)

// I2CCompass reads a 3-axis magnetometer over I2C and derives a flat
// heading from X/Y.
type I2CCompass struct {
	dev         *i2c.Dev
	closer      func() error
	declination float64

	mu      sync.Mutex
	enabled bool
}

// OpenI2CCompass initializes periph and opens busName. An empty busName
// selects the first bus.
func OpenI2CCompass(busName string, addr uint16, declination float64) (*I2CCompass, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("periph host init: %w", err)
	}
	bus, err := i2creg.Open(busName)
	if err != nil {
		return nil, fmt.Errorf("i2c open %q: %w", busName, err)
	}
	c := NewI2CCompass(bus, addr, declination)
	c.closer = bus.Close
	return c, nil
}

// NewI2CCompass uses an already open bus.
func NewI2CCompass(bus i2c.Bus, addr uint16, declination float64) *I2CCompass {
	if addr == 0 {
		addr = DefaultCompassAddr
	}
	return &I2CCompass{dev: &i2c.Dev{Bus: bus, Addr: addr}, declination: declination}
}

func (c *I2CCompass) Available() bool {
	return c.dev != nil && c.dev.Bus != nil
}

// Enable writes the averaging, gain and continuous-mode registers.
func (c *I2CCompass) Enable() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.enabled {
		return nil
	}
	writes := [][]byte{
		{regConfigA, configA8Avg15Hz},
		{regConfigB, configBGain1090},
		{regMode, modeContinuous},
	}
	for _, w := range writes {
		if err := c.dev.Tx(w, nil); err != nil {
			return fmt.Errorf("compass register 0x%02X: %w", w[0], err)
		}
	}
	c.enabled = true
	log.Printf("compass: i2c magnetometer enabled at 0x%02X", c.dev.Addr)
	return nil
}

// ReadRaw returns the X, Y, Z field counts.
func (c *I2CCompass) ReadRaw() (x, y, z int16, err error) {
	buf := make([]byte, 6)
	if err := c.dev.Tx([]byte{regDataX}, buf); err != nil {
		return 0, 0, 0, fmt.Errorf("compass read: %w", err)
	}
	// register order is X, Z, Y
	x = int16(binary.BigEndian.Uint16(buf[0:2]))
	z = int16(binary.BigEndian.Uint16(buf[2:4]))
	y = int16(binary.BigEndian.Uint16(buf[4:6]))
	return x, y, z, nil
}

func (c *I2CCompass) Heading() (float64, error) {
	x, y, _, err := c.ReadRaw()
	if err != nil {
		return 0, err
	}
	return HeadingFromField(float64(x), float64(y), c.declination), nil
}

func (c *I2CCompass) Acceleration() ([3]float64, error) {
	return [3]float64{}, ErrNoAccelerometer
}

// Close releases the bus when it was opened by OpenI2CCompass.
func (c *I2CCompass) Close() error {
	if c.closer == nil {
		return nil
	}
	return c.closer()
}

// HeadingFromField converts a level magnetometer reading into a heading in
// [0, 360), corrected by declination degrees.
func HeadingFromField(x, y, declination float64) float64 {
	h := math.Atan2(y, x) * 180.0 / math.Pi
	return NormalizeHeading(h + declination)
}

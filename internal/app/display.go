// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"fmt"
	"image"
	"image/draw"
	"log"
	"math"
	"time"

	"github.com/benbjohnson/clock"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/devices/v3/ssd1306"
	"periph.io/x/devices/v3/ssd1306/image1bit"
	"periph.io/x/host/v3"

	"github.com/relabs-tech/anchor_guide/internal/ui"
)

const (
	displayW = 128
	displayH = 64
)

// Drawer is the part of *ssd1306.Dev the display loop uses.
type Drawer interface {
	Draw(r image.Rectangle, src image.Image, sp image.Point) error
	Bounds() image.Rectangle
}

// DisplaySink mirrors the session on a 128x64 OLED: phase and status text
// while calibrating, and an arrow pointing at the target while aligning.
type DisplaySink struct {
	*ui.StateSink

	dev      Drawer
	clock    clock.Clock
	interval time.Duration
}

func NewDisplaySink(dev Drawer, clk clock.Clock, interval time.Duration) *DisplaySink {
	if clk == nil {
		clk = clock.New()
	}
	return &DisplaySink{StateSink: ui.NewStateSink(), dev: dev, clock: clk, interval: interval}
}

// OpenDisplay initializes periph and the SSD1306 on the given I2C bus.
// The returned closer releases the bus.
func OpenDisplay(busName string) (*ssd1306.Dev, func() error, error) {
	if _, err := host.Init(); err != nil {
		return nil, nil, fmt.Errorf("failed to initialize periph: %w", err)
	}
	bus, err := i2creg.Open(busName)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open I2C bus: %w", err)
	}
	dev, err := ssd1306.NewI2C(bus, &ssd1306.DefaultOpts)
	if err != nil {
		bus.Close()
		return nil, nil, fmt.Errorf("failed to initialize display: %w", err)
	}
	log.Printf("display: initialized on bus %q", busName)
	return dev, bus.Close, nil
}

// Run redraws the display every interval until ctx is cancelled.
func (d *DisplaySink) Run(ctx context.Context) error {
	if err := d.dev.Draw(d.dev.Bounds(), renderSplash(), image.Point{}); err != nil {
		log.Printf("display: error showing splash: %v", err)
	}

	ticker := d.clock.Ticker(d.interval)
	defer ticker.Stop()

	log.Println("display: starting update loop")
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := d.dev.Draw(d.dev.Bounds(), renderState(d.State()), image.Point{}); err != nil {
				log.Printf("display: error updating display: %v", err)
			}
		}
	}
}

func newFrame() (*image1bit.VerticalLSB, *font.Drawer) {
	img := image1bit.NewVerticalLSB(image.Rect(0, 0, displayW, displayH))
	drawer := &font.Drawer{
		Dst:  img,
		Src:  &image.Uniform{image1bit.On},
		Face: basicfont.Face7x13,
	}
	return img, drawer
}

func drawLine(d *font.Drawer, x, y int, s string) {
	d.Dot = fixed.P(x, y)
	d.DrawString(s)
}

func renderSplash() *image1bit.VerticalLSB {
	img, d := newFrame()
	drawLine(d, 10, 26, "Anchor Guide")
	drawLine(d, 5, 43, "Scan anchor 1")
	return img
}

// renderState picks the guidance arrow while the indicator is shown and
// the phase/status text otherwise.
func renderState(st ui.State) *image1bit.VerticalLSB {
	if st.IndicatorVisible {
		return renderGuidance(st.Rotation)
	}
	img, d := newFrame()
	drawLine(d, 0, 13, truncate(st.Phase, 18))
	lines := wrap(st.Status, 18)
	for i := 0; i < len(lines) && i < 3; i++ {
		drawLine(d, 0, 26+13*i, lines[i])
	}
	return img
}

// renderGuidance draws an arrow rotated by degrees (0 = straight up,
// clockwise positive) with the angle printed underneath.
func renderGuidance(degrees float64) *image1bit.VerticalLSB {
	img, d := newFrame()

	const cx, cy, length = displayW / 2, 26, 22
	rad := degrees * math.Pi / 180
	tipX := float64(cx) + length*math.Sin(rad)
	tipY := float64(cy) - length*math.Cos(rad)
	tailX := float64(cx) - length*math.Sin(rad)
	tailY := float64(cy) + length*math.Cos(rad)
	drawSegment(img, tailX, tailY, tipX, tipY)

	// arrow head
	for _, off := range []float64{150, -150} {
		hr := (degrees + off) * math.Pi / 180
		drawSegment(img, tipX, tipY, tipX+8*math.Sin(hr), tipY-8*math.Cos(hr))
	}

	drawLine(d, 0, displayH-2, fmt.Sprintf("Turn %+.1f", degrees))
	return img
}

func drawSegment(img draw.Image, x0, y0, x1, y1 float64) {
	steps := int(math.Max(math.Abs(x1-x0), math.Abs(y1-y0))) + 1
	for i := 0; i <= steps; i++ {
		t := float64(i) / float64(steps)
		x := int(math.Round(x0 + (x1-x0)*t))
		y := int(math.Round(y0 + (y1-y0)*t))
		if image.Pt(x, y).In(img.Bounds()) {
			img.Set(x, y, image1bit.On)
		}
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// wrap splits s into lines of at most width bytes, breaking on spaces
// where possible.
func wrap(s string, width int) []string {
	var lines []string
	for len(s) > width {
		cut := width
		for i := width; i > 0; i-- {
			if s[i] == ' ' {
				cut = i
				break
			}
		}
		lines = append(lines, s[:cut])
		s = s[cut:]
		for len(s) > 0 && s[0] == ' ' {
			s = s[1:]
		}
	}
	if s != "" {
		lines = append(lines, s)
	}
	return lines
}

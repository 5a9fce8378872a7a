// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensors

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"

	nmea "github.com/adrianmo/go-nmea"
	serial "github.com/jacobsa/go-serial/serial"
)

var errNoHeading = errors.New("no heading received yet")

// NMEACompass reads heading sentences (HDG, HDM, HDT) from a serial
// electronic compass.
type NMEACompass struct {
	portName string
	baudRate uint

	mu      sync.Mutex
	port    io.ReadCloser
	heading float64
	have    bool
	started bool
	lost    bool // reader ended on a read error
}

// NewNMEACompass opens the serial port. A compass that cannot be opened is
// reported as unavailable rather than failing construction.
func NewNMEACompass(portName string, baudRate uint) *NMEACompass {
	c := &NMEACompass{portName: portName, baudRate: baudRate}

	serialOpts := serial.OpenOptions{
		PortName:              portName,
		BaudRate:              baudRate,
		DataBits:              8,
		StopBits:              1,
		MinimumReadSize:       1,
		ParityMode:            serial.PARITY_NONE,
		InterCharacterTimeout: 0,
	}
	port, err := serial.Open(serialOpts)
	if err != nil {
		log.Printf("compass: serial open %s failed: %v", portName, err)
		return c
	}
	c.port = port
	log.Printf("compass: serial port opened on %s at %d baud", portName, baudRate)
	return c
}

// NewNMEACompassFromReader wraps an already open stream of NMEA lines.
func NewNMEACompassFromReader(r io.ReadCloser) *NMEACompass {
	return &NMEACompass{portName: "reader", port: r}
}

func (c *NMEACompass) Available() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.port != nil && !c.lost
}

// Enable starts the background sentence reader.
func (c *NMEACompass) Enable() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.port == nil {
		return fmt.Errorf("compass port %s not open", c.portName)
	}
	if c.lost {
		return fmt.Errorf("compass port %s lost", c.portName)
	}
	if c.started {
		return nil
	}
	c.started = true
	go c.readLoop(c.port)
	return nil
}

func (c *NMEACompass) readLoop(port io.Reader) {
	reader := bufio.NewReader(port)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			log.Printf("compass: read error: %v", err)
			c.mu.Lock()
			c.have = false
			c.lost = true
			c.mu.Unlock()
			return
		}
		h, ok, err := ParseHeadingSentence(line)
		if err != nil || !ok {
			// noisy lines and other talkers are expected
			continue
		}
		c.mu.Lock()
		c.heading = h
		c.have = true
		c.mu.Unlock()
	}
}

// Close closes the underlying port, which ends the reader.
func (c *NMEACompass) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.port == nil {
		return nil
	}
	return c.port.Close()
}

func (c *NMEACompass) Heading() (float64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.have {
		return 0, errNoHeading
	}
	return c.heading, nil
}

func (c *NMEACompass) Acceleration() ([3]float64, error) {
	return [3]float64{}, ErrNoAccelerometer
}

// ParseHeadingSentence extracts a heading from an NMEA line. ok is false for
// valid sentences that carry no heading.
func ParseHeadingSentence(line string) (heading float64, ok bool, err error) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "$") {
		return 0, false, nil
	}
	sentence, err := nmea.Parse(line)
	if err != nil {
		return 0, false, err
	}
	switch sentence.DataType() {
	case nmea.TypeHDG:
		return NormalizeHeading(sentence.(nmea.HDG).Heading), true, nil
	case nmea.TypeHDM:
		return NormalizeHeading(sentence.(nmea.HDM).Heading), true, nil
	case nmea.TypeHDT:
		return NormalizeHeading(sentence.(nmea.HDT).Heading), true, nil
	default:
		return 0, false, nil
	}
}

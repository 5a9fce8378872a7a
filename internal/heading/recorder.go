// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package heading

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// DefaultInterval is the sampling period while recording.
const DefaultInterval = 100 * time.Millisecond

// ErrSensorUnavailable is returned by Enable when the device has no compass.
var ErrSensorUnavailable = errors.New("heading sensor unavailable")

// Sensor exposes the instantaneous compass heading and accelerometer vector.
type Sensor interface {
	Available() bool
	Enable() error
	// Heading returns degrees clockwise from magnetic north.
	Heading() (float64, error)
	Acceleration() ([3]float64, error)
}

// Recorder samples the compass heading while armed and reduces the samples
// to a trimmed-mean heading.
type Recorder struct {
	sensor   Sensor
	clock    clock.Clock
	interval time.Duration

	mu          sync.Mutex
	enabled     bool
	recording   bool
	samples     []float64
	lastHeading float64
	stop        chan struct{}
	done        chan struct{}
}

// NewRecorder returns a recorder that samples sensor every interval.
func NewRecorder(sensor Sensor, clk clock.Clock, interval time.Duration) *Recorder {
	if clk == nil {
		clk = clock.New()
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Recorder{sensor: sensor, clock: clk, interval: interval}
}

// Enable turns the sensor on. It is a no-op once enabled.
func (r *Recorder) Enable() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.enabled {
		return nil
	}
	if r.sensor == nil || !r.sensor.Available() {
		log.Println("heading: device does not support compass")
		return ErrSensorUnavailable
	}
	if err := r.sensor.Enable(); err != nil {
		return fmt.Errorf("%w: %v", ErrSensorUnavailable, err)
	}
	r.enabled = true
	log.Println("heading: compass enabled")
	return nil
}

// StartRecording clears the samples and arms periodic sampling.
func (r *Recorder) StartRecording() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.recording {
		log.Println("heading: recording already in progress")
		return
	}
	r.recording = true
	r.samples = r.samples[:0]
	r.stop = make(chan struct{})
	r.done = make(chan struct{})

	ticker := r.clock.Ticker(r.interval)
	go r.sampleLoop(ticker, r.stop, r.done)
	log.Printf("heading: started recording every %s", r.interval)
}

// StopRecording disarms sampling and waits for the sampler to exit, so no
// sample lands after it returns.
func (r *Recorder) StopRecording() {
	r.mu.Lock()
	if !r.recording {
		r.mu.Unlock()
		log.Println("heading: stop requested but no recording is in progress")
		return
	}
	r.recording = false
	stop, done := r.stop, r.done
	r.mu.Unlock()

	close(stop)
	<-done
	log.Printf("heading: stopped recording (%d samples)", r.SampleCount())
}

// Recording reports whether sampling is armed.
func (r *Recorder) Recording() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.recording
}

func (r *Recorder) sampleLoop(ticker *clock.Ticker, stop, done chan struct{}) {
	defer close(done)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			h, err := r.sensor.Heading()
			if err != nil {
				log.Printf("heading: sample error: %v", err)
				continue
			}
			r.mu.Lock()
			// stop may have been requested while the sensor was read
			select {
			case <-stop:
				r.mu.Unlock()
				return
			default:
			}
			r.samples = append(r.samples, h)
			r.lastHeading = h
			r.mu.Unlock()
		}
	}
}

// Samples returns a copy of the recorded samples.
func (r *Recorder) Samples() []float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]float64(nil), r.samples...)
}

// SampleCount returns how many samples the current window holds.
func (r *Recorder) SampleCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.samples)
}

// AverageHeading returns the trimmed mean of the recorded samples, or 0
// when there is not enough data.
func (r *Recorder) AverageHeading() float64 {
	samples := r.Samples()
	if len(samples) == 0 {
		log.Println("heading: no heading data recorded")
		return 0
	}
	avg, ok := TrimmedMean(samples)
	if !ok {
		log.Println("heading: not enough data to calculate average after filtering")
		return 0
	}
	return avg
}

// CurrentHeading returns the instantaneous heading. On a sensor error the
// last good reading is returned.
func (r *Recorder) CurrentHeading() float64 {
	h, err := r.sensor.Heading()
	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil {
		log.Printf("heading: current heading error: %v", err)
		return r.lastHeading
	}
	r.lastHeading = h
	return h
}

// Acceleration passes through the sensor's accelerometer vector.
func (r *Recorder) Acceleration() ([3]float64, error) {
	return r.sensor.Acceleration()
}

// TrimmedMean averages samples[floor(0.2N) : ceil(0.8N)]. The first and last
// samples of a window are taken while the operator is still starting or
// stopping, so they are dropped. ok is false when the window is empty.
func TrimmedMean(samples []float64) (mean float64, ok bool) {
	n := len(samples)
	// floor(0.2n) and ceil(0.8n) in integer arithmetic
	start := n / 5
	end := (4*n + 4) / 5
	if end <= start {
		return 0, false
	}
	var sum float64
	for _, s := range samples[start:end] {
		sum += s
	}
	return sum / float64(end-start), true
}

// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package heading

import (
	"errors"
	"math"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type fakeSensor struct {
	mu        sync.Mutex
	available bool
	enableErr error
	enables   int
	readings  []float64
	next      int
	err       error
}

func (f *fakeSensor) Available() bool { return f.available }

func (f *fakeSensor) Enable() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enables++
	return f.enableErr
}

func (f *fakeSensor) Heading() (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return 0, f.err
	}
	if len(f.readings) == 0 {
		return 0, nil
	}
	h := f.readings[f.next%len(f.readings)]
	f.next++
	return h, nil
}

func (f *fakeSensor) Acceleration() ([3]float64, error) {
	return [3]float64{0, 0, 1}, nil
}

func TestTrimmedMeanExample(t *testing.T) {
	samples := []float64{0, 10, 20, 30, 40, 50, 60, 70, 80, 90}
	mean, ok := TrimmedMean(samples)
	require.True(t, ok)
	assert.Equal(t, 45.0, mean)
}

func TestTrimmedMeanMatchesDefinition(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for n := 1; n <= 200; n++ {
		samples := make([]float64, n)
		for i := range samples {
			samples[i] = rng.Float64() * 360
		}

		start := int(math.Floor(0.2 * float64(n)))
		end := int(math.Ceil(0.8 * float64(n)))
		mean, ok := TrimmedMean(samples)
		if end <= start {
			assert.False(t, ok, "n=%d", n)
			continue
		}
		var sum float64
		for _, s := range samples[start:end] {
			sum += s
		}
		require.True(t, ok, "n=%d", n)
		assert.InDelta(t, sum/float64(end-start), mean, 1e-9, "n=%d", n)
	}
}

func TestTrimmedMeanEmpty(t *testing.T) {
	_, ok := TrimmedMean(nil)
	assert.False(t, ok)

	mean, ok := TrimmedMean([]float64{123})
	assert.True(t, ok)
	assert.Equal(t, 123.0, mean)
}

func TestEnable(t *testing.T) {
	s := &fakeSensor{available: true}
	r := NewRecorder(s, clock.NewMock(), 0)
	require.NoError(t, r.Enable())
	require.NoError(t, r.Enable())
	assert.Equal(t, 1, s.enables)

	r = NewRecorder(&fakeSensor{available: false}, clock.NewMock(), 0)
	assert.ErrorIs(t, r.Enable(), ErrSensorUnavailable)

	r = NewRecorder(nil, clock.NewMock(), 0)
	assert.ErrorIs(t, r.Enable(), ErrSensorUnavailable)

	r = NewRecorder(&fakeSensor{available: true, enableErr: errors.New("i2c nack")}, clock.NewMock(), 0)
	err := r.Enable()
	assert.ErrorIs(t, err, ErrSensorUnavailable)
	assert.Contains(t, err.Error(), "i2c nack")
}

// tick advances the mock clock one interval and waits for the sample.
func tick(t *testing.T, mock *clock.Mock, r *Recorder, want int) {
	t.Helper()
	mock.Add(DefaultInterval)
	require.Eventually(t, func() bool { return r.SampleCount() == want },
		time.Second, time.Millisecond, "waiting for sample %d", want)
}

func TestRecordingSamplesOnEveryTick(t *testing.T) {
	defer goleak.VerifyNone(t)

	mock := clock.NewMock()
	s := &fakeSensor{available: true, readings: []float64{0, 10, 20, 30, 40, 50, 60, 70, 80, 90}}
	r := NewRecorder(s, mock, DefaultInterval)
	require.NoError(t, r.Enable())

	r.StartRecording()
	assert.True(t, r.Recording())
	for i := 1; i <= 10; i++ {
		tick(t, mock, r, i)
	}
	r.StopRecording()
	assert.False(t, r.Recording())

	// no sample lands after StopRecording returns
	mock.Add(5 * DefaultInterval)
	assert.Equal(t, 10, r.SampleCount())
	assert.Equal(t, 45.0, r.AverageHeading())
}

func TestStartRecordingTwiceKeepsSamples(t *testing.T) {
	defer goleak.VerifyNone(t)

	mock := clock.NewMock()
	r := NewRecorder(&fakeSensor{available: true, readings: []float64{42}}, mock, DefaultInterval)
	r.StartRecording()
	tick(t, mock, r, 1)
	tick(t, mock, r, 2)

	r.StartRecording()
	assert.Equal(t, 2, r.SampleCount())
	tick(t, mock, r, 3)

	r.StopRecording()
	r.StopRecording()
	assert.Equal(t, []float64{42, 42, 42}, r.Samples())
}

func TestStartRecordingClearsPreviousWindow(t *testing.T) {
	defer goleak.VerifyNone(t)

	mock := clock.NewMock()
	r := NewRecorder(&fakeSensor{available: true, readings: []float64{1, 2, 3}}, mock, DefaultInterval)
	r.StartRecording()
	tick(t, mock, r, 1)
	r.StopRecording()

	r.StartRecording()
	assert.Equal(t, 0, r.SampleCount())
	tick(t, mock, r, 1)
	r.StopRecording()
	assert.Equal(t, []float64{2}, r.Samples())
}

func TestAverageHeadingWithoutSamples(t *testing.T) {
	r := NewRecorder(&fakeSensor{available: true}, clock.NewMock(), 0)
	assert.Equal(t, 0.0, r.AverageHeading())
}

func TestSensorErrorsAreSkipped(t *testing.T) {
	defer goleak.VerifyNone(t)

	mock := clock.NewMock()
	s := &fakeSensor{available: true, err: errors.New("read timeout")}
	r := NewRecorder(s, mock, DefaultInterval)
	r.StartRecording()
	mock.Add(3 * DefaultInterval)
	r.StopRecording()
	assert.Equal(t, 0, r.SampleCount())
}

func TestCurrentHeading(t *testing.T) {
	s := &fakeSensor{available: true, readings: []float64{271.5}}
	r := NewRecorder(s, clock.NewMock(), 0)
	assert.Equal(t, 271.5, r.CurrentHeading())

	s.mu.Lock()
	s.err = errors.New("gone")
	s.mu.Unlock()
	assert.Equal(t, 271.5, r.CurrentHeading(), "falls back to last good reading")

	acc, err := r.Acceleration()
	require.NoError(t, err)
	assert.Equal(t, [3]float64{0, 0, 1}, acc)
}

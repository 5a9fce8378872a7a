// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/relabs-tech/anchor_guide/internal/calibration"
	"github.com/relabs-tech/anchor_guide/internal/positions"
	"github.com/relabs-tech/anchor_guide/internal/ui"
)

var testNodes = positions.Directory{
	calibration.NodeAnchor1: "mac-a1",
	calibration.NodeAnchor2: "mac-a2",
	calibration.NodeAnchor3: "mac-a3",
	calibration.NodeTag1:    "mac-t1",
	calibration.NodeTag2:    "mac-t2",
}

var testPositions = map[string]positions.Position{
	"mac-a1": {X: 0, Y: 0},
	"mac-a2": {X: 10, Y: 0},
	"mac-a3": {X: 10, Y: 10},
	"mac-t1": {X: 5, Y: 5},
	"mac-t2": {X: 0, Y: 10},
}

type fakeRecorder struct {
	mu        sync.Mutex
	enableErr error
	heading   float64
	average   float64
	starts    int
	stops     int
}

func (r *fakeRecorder) Enable() error { return r.enableErr }

func (r *fakeRecorder) StartRecording() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.starts++
}

func (r *fakeRecorder) StopRecording() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stops++
}

func (r *fakeRecorder) AverageHeading() float64 { return r.average }

func (r *fakeRecorder) CurrentHeading() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.heading
}

func (r *fakeRecorder) setHeading(h float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.heading = h
}

func (r *fakeRecorder) counts() (starts, stops int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.starts, r.stops
}

// fakeFetcher answers from testPositions after a per-MAC delay, or blocks
// on a gate until the test releases it.
type fakeFetcher struct {
	mu          sync.Mutex
	delays      map[string]time.Duration
	gates       map[string]chan struct{}
	fail        map[string]error
	calls       []string
	inFlight    int
	maxInFlight int
}

func (f *fakeFetcher) FetchPosition(ctx context.Context, mac string) (positions.Position, error) {
	f.mu.Lock()
	f.calls = append(f.calls, mac)
	f.inFlight++
	if f.inFlight > f.maxInFlight {
		f.maxInFlight = f.inFlight
	}
	delay := f.delays[mac]
	gate := f.gates[mac]
	failErr := f.fail[mac]
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.inFlight--
		f.mu.Unlock()
	}()

	if delay > 0 {
		time.Sleep(delay)
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return positions.Position{}, ctx.Err()
		}
	}
	if failErr != nil {
		return positions.Position{}, failErr
	}
	pos, ok := testPositions[mac]
	if !ok {
		return positions.Position{}, errors.New("device not found")
	}
	return pos, nil
}

func (f *fakeFetcher) stats() (calls []string, maxInFlight int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...), f.maxInFlight
}

// captureSink records phases in order on top of the latest-state sink.
type captureSink struct {
	*ui.StateSink
	mu     sync.Mutex
	phases []string
}

func newCaptureSink() *captureSink {
	return &captureSink{StateSink: ui.NewStateSink()}
}

func (s *captureSink) Phase(phase string) {
	s.StateSink.Phase(phase)
	s.mu.Lock()
	s.phases = append(s.phases, phase)
	s.mu.Unlock()
}

func (s *captureSink) phaseLog() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.phases...)
}

type harness struct {
	t        *testing.T
	o        *Orchestrator
	clock    *clock.Mock
	recorder *fakeRecorder
	fetcher  *fakeFetcher
	sink     *captureSink
	cancel   context.CancelFunc
	done     chan error
}

func newHarness(t *testing.T, configure func(*Options)) *harness {
	t.Helper()
	h := &harness{
		t:        t,
		clock:    clock.NewMock(),
		recorder: &fakeRecorder{average: 90, heading: 80},
		fetcher:  &fakeFetcher{},
		sink:     newCaptureSink(),
		done:     make(chan error, 1),
	}
	opts := Options{
		Nodes:            testNodes,
		Fetcher:          h.fetcher,
		Recorder:         h.recorder,
		Sink:             h.sink,
		Clock:            h.clock,
		GuidanceInterval: 100 * time.Millisecond,
	}
	if configure != nil {
		configure(&opts)
	}
	h.o = New(opts)

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() { h.done <- h.o.Run(ctx) }()
	h.waitPhase(calibration.WaitingQRAnchor1)
	return h
}

// stop ends Run and waits for every goroutine it started.
func (h *harness) stop() {
	h.cancel()
	select {
	case err := <-h.done:
		assert.ErrorIs(h.t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		h.t.Fatal("Run did not return")
	}
}

func (h *harness) waitPhase(want calibration.Phase) {
	h.t.Helper()
	require.Eventually(h.t, func() bool { return h.o.Snapshot().Phase == want.String() },
		2*time.Second, time.Millisecond, "waiting for %s, in %s", want, h.o.Snapshot().Phase)
}

// calibrate walks the session up to WaitingSomeButton.
func (h *harness) calibrate() {
	h.t.Helper()
	h.o.QRDetected(calibration.NodeAnchor1)
	h.o.ButtonPressed(calibration.NodeAnchor1)
	h.waitPhase(calibration.WaitingQRAnchor2)
	h.o.QRDetected(calibration.NodeAnchor2)
	h.o.ButtonPressed(calibration.NodeAnchor2)
	h.waitPhase(calibration.WaitingSomeButton)
}

func TestFullSession(t *testing.T) {
	defer goleak.VerifyNone(t)
	h := newHarness(t, nil)
	defer h.stop()

	snap := h.o.Snapshot()
	assert.NotEmpty(t, snap.SessionID)
	assert.True(t, snap.SensorReady)
	assert.Equal(t, "Starting calibration. Go to Anchor 1.", h.sink.State().Status)

	h.calibrate()

	snap = h.o.Snapshot()
	assert.Equal(t, 90.0, snap.SystemOrientation)
	assert.Equal(t, calibration.NodeAnchor2, snap.Current)
	assert.Len(t, snap.Positions, 5)
	assert.Equal(t, positions.Position{X: 10, Y: 10}, snap.Positions[calibration.NodeAnchor3])

	starts, stops := h.recorder.counts()
	assert.Equal(t, 1, starts)
	assert.Equal(t, 1, stops)

	st := h.sink.State()
	assert.Equal(t, "Please press any button.", st.Status)
	for _, n := range calibration.Nodes {
		assert.True(t, st.Nodes[n], n)
	}

	assert.Equal(t, []string{
		"WaitingQRAnchor1",
		"WaitingButtonAnchor1",
		"WaitingServerResponseAnchor1",
		"WaitingQRAnchor2",
		"WaitingButtonAnchor2",
		"WaitingServerResponseAnchor2",
		"CalibrationComplete",
		"CalibrationComplete",
		"CalibrationComplete",
		"WaitingSomeButton",
	}, h.sink.phaseLog())

	// guide from anchor2 (10,0) to tag1 (5,5): bearing 135, real angle -45
	h.o.ButtonPressed(calibration.NodeTag1)
	h.waitPhase(calibration.OrientationoftheUser)
	h.o.flush()

	st = h.sink.State()
	assert.True(t, st.IndicatorVisible)
	assert.InDelta(t, -125, st.Rotation, 1e-9)
	assert.Contains(t, st.Status, "Aligning to Target:")

	h.recorder.setHeading(-45)
	h.clock.Add(100 * time.Millisecond)
	require.Eventually(t, func() bool {
		g := h.o.Snapshot().Guidance
		return g != nil && g.LiveHeading == -45
	}, time.Second, time.Millisecond)
	assert.InDelta(t, 0, h.sink.State().Rotation, 1e-9)

	h.o.QRDetected(calibration.NodeTag1)
	h.waitPhase(calibration.WaitingSomeButton)
	st = h.sink.State()
	assert.False(t, st.IndicatorVisible)
	assert.Equal(t, "Target tag1 reached. Please press any button.", st.Status)
	assert.Equal(t, calibration.NodeTag1, h.o.Snapshot().Current)
}

func TestChainedLookupsKeepOrder(t *testing.T) {
	defer goleak.VerifyNone(t)
	h := newHarness(t, nil)
	defer h.stop()

	// slowest first: a concurrent chain would finish tag1 before anchor3
	h.fetcher.mu.Lock()
	h.fetcher.delays = map[string]time.Duration{
		"mac-a3": 40 * time.Millisecond,
		"mac-t1": 0,
		"mac-t2": 20 * time.Millisecond,
	}
	h.fetcher.mu.Unlock()

	h.calibrate()

	assert.Equal(t, []string{
		calibration.NodeAnchor1,
		calibration.NodeAnchor2,
		calibration.NodeAnchor3,
		calibration.NodeTag1,
		calibration.NodeTag2,
	}, h.o.store.WriteOrder())

	calls, maxInFlight := h.fetcher.stats()
	assert.Equal(t, []string{"mac-a1", "mac-a2", "mac-a3", "mac-t1", "mac-t2"}, calls)
	assert.Equal(t, 1, maxInFlight)
}

func TestNoRotationAfterLeavingOrientation(t *testing.T) {
	defer goleak.VerifyNone(t)
	h := newHarness(t, nil)
	defer h.stop()

	h.calibrate()
	h.o.ButtonPressed(calibration.NodeTag2)
	h.waitPhase(calibration.OrientationoftheUser)
	h.clock.Add(100 * time.Millisecond)
	h.o.flush()
	require.Positive(t, h.sink.State().RotationUpdates)

	h.o.QRDetected(calibration.NodeTag2)
	h.waitPhase(calibration.WaitingSomeButton)
	h.o.flush()
	updates := h.sink.State().RotationUpdates

	// ticks queued before the stop, or posted late, carry a dead generation
	for gen := uint64(0); gen < 10; gen++ {
		h.o.post(guideTick{gen: gen})
	}
	for i := 0; i < 5; i++ {
		h.clock.Add(100 * time.Millisecond)
	}
	h.o.flush()
	assert.Equal(t, updates, h.sink.State().RotationUpdates)
}

func TestNewTargetReplacesGuidance(t *testing.T) {
	defer goleak.VerifyNone(t)
	h := newHarness(t, nil)
	defer h.stop()

	h.calibrate()
	h.o.ButtonPressed(calibration.NodeTag1)
	h.waitPhase(calibration.OrientationoftheUser)
	h.o.QRDetected(calibration.NodeTag1)
	h.waitPhase(calibration.WaitingSomeButton)

	h.o.ButtonPressed(calibration.NodeAnchor1)
	h.waitPhase(calibration.OrientationoftheUser)
	h.o.flush()

	snap := h.o.Snapshot()
	assert.Equal(t, calibration.NodeTag1, snap.Current)
	assert.Equal(t, calibration.NodeAnchor1, snap.Target)
	require.NotNil(t, snap.Guidance)
	// tag1 (5,5) to anchor1 (0,0): bearing -135
	assert.InDelta(t, -135, snap.Guidance.TargetBearing, 1e-9)
}

func TestRejectedEventsLeavePhase(t *testing.T) {
	defer goleak.VerifyNone(t)
	h := newHarness(t, nil)
	defer h.stop()

	h.o.QRDetected(calibration.NodeAnchor2)
	h.o.ButtonPressed(calibration.NodeAnchor1)
	h.o.flush()
	assert.Equal(t, calibration.WaitingQRAnchor1.String(), h.o.Snapshot().Phase)
	assert.Equal(t, "Invalid Button(anchor1) in phase WaitingQRAnchor1.", h.sink.State().Status)

	h.o.QRDetected("door")
	h.o.flush()
	assert.Equal(t, `Unrecognized node "door".`, h.sink.State().Status)
	assert.Equal(t, []string{"WaitingQRAnchor1"}, h.sink.phaseLog())
}

func TestServerErrorStopsCalibration(t *testing.T) {
	defer goleak.VerifyNone(t)
	h := newHarness(t, nil)
	defer h.stop()

	h.fetcher.mu.Lock()
	h.fetcher.fail = map[string]error{"mac-a2": errors.New("connection refused")}
	h.fetcher.mu.Unlock()

	h.o.QRDetected(calibration.NodeAnchor1)
	h.o.ButtonPressed(calibration.NodeAnchor1)
	h.waitPhase(calibration.WaitingQRAnchor2)
	h.o.QRDetected(calibration.NodeAnchor2)
	h.o.ButtonPressed(calibration.NodeAnchor2)
	h.waitPhase(calibration.ErrorServer)

	st := h.sink.State()
	assert.Equal(t, "Error connecting to the server.", st.Status)
	assert.Equal(t, "Error connecting to the server: connection refused", st.ServerResponse)
	starts, stops := h.recorder.counts()
	assert.Equal(t, 1, starts)
	assert.Equal(t, 1, stops)

	// ErrorServer is terminal until Restart
	h.o.QRDetected(calibration.NodeAnchor1)
	h.o.flush()
	assert.Equal(t, calibration.ErrorServer.String(), h.o.Snapshot().Phase)

	old := h.o.Snapshot().SessionID
	h.o.Restart()
	h.waitPhase(calibration.WaitingQRAnchor1)
	h.o.flush()
	snap := h.o.Snapshot()
	assert.NotEqual(t, old, snap.SessionID)
	assert.Empty(t, snap.Positions)
}

func TestFetchTimeout(t *testing.T) {
	defer goleak.VerifyNone(t)
	gate := make(chan struct{})
	defer close(gate)
	h := newHarness(t, func(o *Options) { o.FetchTimeout = time.Second })
	defer h.stop()

	h.fetcher.mu.Lock()
	h.fetcher.gates = map[string]chan struct{}{"mac-a1": gate}
	h.fetcher.mu.Unlock()

	h.o.QRDetected(calibration.NodeAnchor1)
	h.o.ButtonPressed(calibration.NodeAnchor1)
	h.waitPhase(calibration.WaitingServerResponseAnchor1)
	require.Eventually(t, func() bool {
		calls, _ := h.fetcher.stats()
		return len(calls) == 1
	}, time.Second, time.Millisecond)

	h.clock.Add(time.Second)
	h.waitPhase(calibration.ErrorServer)
	assert.Contains(t, h.sink.State().ServerResponse, context.DeadlineExceeded.Error())
}

func TestRestartDropsStaleLookup(t *testing.T) {
	defer goleak.VerifyNone(t)
	gate := make(chan struct{})
	h := newHarness(t, nil)
	defer h.stop()

	h.fetcher.mu.Lock()
	h.fetcher.gates = map[string]chan struct{}{"mac-a1": gate}
	h.fetcher.mu.Unlock()

	h.o.QRDetected(calibration.NodeAnchor1)
	h.o.ButtonPressed(calibration.NodeAnchor1)
	h.waitPhase(calibration.WaitingServerResponseAnchor1)

	h.o.Restart()
	h.o.flush()
	close(gate)

	// the late answer for the old session must not advance the new one
	require.Eventually(t, func() bool {
		h.fetcher.mu.Lock()
		defer h.fetcher.mu.Unlock()
		return len(h.fetcher.calls) == 1 && h.fetcher.inFlight == 0
	}, time.Second, time.Millisecond)
	h.o.flush()
	assert.Equal(t, calibration.WaitingQRAnchor1.String(), h.o.Snapshot().Phase)
	assert.Empty(t, h.o.Snapshot().Positions)
}

func TestSensorUnavailableBlocksCalibration(t *testing.T) {
	defer goleak.VerifyNone(t)
	h := newHarness(t, func(o *Options) {
		o.Recorder = &fakeRecorder{enableErr: errors.New("no compass")}
	})
	defer h.stop()

	assert.False(t, h.o.Snapshot().SensorReady)
	h.o.QRDetected(calibration.NodeAnchor1)
	h.o.ButtonPressed(calibration.NodeAnchor1)
	h.o.flush()

	assert.Equal(t, calibration.WaitingButtonAnchor1.String(), h.o.Snapshot().Phase)
	assert.Equal(t, "Compass not available. Calibration cannot continue on this device.", h.sink.State().Status)
	calls, _ := h.fetcher.stats()
	assert.Empty(t, calls)
}

func TestMissingPositionStopsGuidance(t *testing.T) {
	defer goleak.VerifyNone(t)
	h := newHarness(t, func(o *Options) {
		nodes := positions.Directory{"spare": "mac-spare"}
		for k, v := range testNodes {
			nodes[k] = v
		}
		o.Nodes = nodes
	})
	defer h.stop()

	// spare is a known device that the session never looked up
	h.calibrate()
	h.o.ButtonPressed("spare")
	h.waitPhase(calibration.OrientationoftheUser)
	h.o.flush()

	assert.Equal(t, "Missing position data for anchor2 or spare. Guidance stopped.", h.sink.State().Status)
	assert.Zero(t, h.sink.State().RotationUpdates)

	h.clock.Add(time.Second)
	h.o.flush()
	assert.Zero(t, h.sink.State().RotationUpdates)
}

// sessionSink remembers which session id the snapshot carried whenever a
// phase is announced.
type sessionSink struct {
	*ui.StateSink
	o   *Orchestrator
	mu  sync.Mutex
	ids []string
}

func (s *sessionSink) Phase(phase string) {
	s.StateSink.Phase(phase)
	id := s.o.Snapshot().SessionID
	s.mu.Lock()
	s.ids = append(s.ids, id)
	s.mu.Unlock()
}

func (s *sessionSink) seen() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.ids...)
}

func TestRestartAnnouncesNewSession(t *testing.T) {
	defer goleak.VerifyNone(t)
	sink := &sessionSink{StateSink: ui.NewStateSink()}
	o := New(Options{
		Nodes:            testNodes,
		Fetcher:          &fakeFetcher{},
		Recorder:         &fakeRecorder{average: 90},
		Sink:             sink,
		Clock:            clock.NewMock(),
		GuidanceInterval: 100 * time.Millisecond,
	})
	sink.o = o

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- o.Run(ctx) }()
	defer func() {
		cancel()
		assert.ErrorIs(t, <-done, context.Canceled)
	}()

	require.Eventually(t, func() bool { return len(sink.seen()) == 1 }, 2*time.Second, time.Millisecond)
	first := o.Snapshot().SessionID
	require.NotEmpty(t, first)
	assert.Equal(t, []string{first}, sink.seen())

	o.Restart()
	o.flush()
	second := o.Snapshot().SessionID
	require.NotEqual(t, first, second)
	assert.Equal(t, []string{first, second}, sink.seen())
}

// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package orchestrator drives a calibration session. A single goroutine
// (Run) owns the phase, the session context and the position store; scanner
// events, button presses, lookup results and guidance ticks are all
// delivered to it over one channel and handled in arrival order.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"github.com/relabs-tech/anchor_guide/internal/calibration"
	"github.com/relabs-tech/anchor_guide/internal/guidance"
	"github.com/relabs-tech/anchor_guide/internal/positions"
	"github.com/relabs-tech/anchor_guide/internal/ui"
)

const (
	DefaultGuidanceInterval = 100 * time.Millisecond
	DefaultFetchTimeout     = 5 * time.Second

	eventBuffer = 64
)

// HeadingRecorder is the part of heading.Recorder the orchestrator uses.
type HeadingRecorder interface {
	Enable() error
	StartRecording()
	StopRecording()
	AverageHeading() float64
	CurrentHeading() float64
}

// Options configures an Orchestrator.
type Options struct {
	Nodes    positions.Directory
	Fetcher  positions.Fetcher
	Recorder HeadingRecorder
	Sink     ui.Sink
	Clock    clock.Clock

	GuidanceInterval time.Duration
	// FetchTimeout bounds each lookup. Zero disables the local deadline.
	FetchTimeout time.Duration
}

// Snapshot is a read-only view of the session for other goroutines.
type Snapshot struct {
	SessionID         string                        `json:"session_id"`
	Phase             string                        `json:"phase"`
	Current           string                        `json:"current,omitempty"`
	Target            string                        `json:"target,omitempty"`
	Pending           []string                      `json:"pending,omitempty"`
	SensorReady       bool                          `json:"sensor_ready"`
	SystemOrientation float64                       `json:"system_orientation"`
	Positions         map[string]positions.Position `json:"positions"`
	Guidance          *guidance.Solution            `json:"guidance,omitempty"`
	Status            string                        `json:"status,omitempty"`
}

// internal loop messages
type (
	inputEvent struct{ ev calibration.Event }
	fetchDone  struct {
		seq  uint64
		node string
		pos  positions.Position
		err  error
	}
	guideTick  struct{ gen uint64 }
	restartReq struct{}
	flushReq   struct{ done chan struct{} }
)

// Orchestrator reacts to operator and network events and drives the
// calibration phases.
type Orchestrator struct {
	nodes            positions.Directory
	fetcher          positions.Fetcher
	recorder         HeadingRecorder
	sink             ui.Sink
	clock            clock.Clock
	guidanceInterval time.Duration
	fetchTimeout     time.Duration

	events chan any
	quit   chan struct{}
	wg     sync.WaitGroup
	runCtx context.Context

	// owned by the loop goroutine
	sessionID         string
	machine           *calibration.Machine
	cal               calibration.Context
	store             *positions.Store
	systemOrientation float64
	recording         bool
	lookupSeq         uint64
	guideGen          uint64
	guideStop         chan struct{}
	lastSolution      *guidance.Solution
	lastStatus        string

	snapMu sync.RWMutex
	snap   Snapshot
}

// New returns an orchestrator. Call Run to start processing events.
func New(opts Options) *Orchestrator {
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Sink == nil {
		opts.Sink = ui.LogSink{}
	}
	if opts.GuidanceInterval <= 0 {
		opts.GuidanceInterval = DefaultGuidanceInterval
	}
	if opts.FetchTimeout < 0 {
		opts.FetchTimeout = 0
	}
	return &Orchestrator{
		nodes:            opts.Nodes,
		fetcher:          opts.Fetcher,
		recorder:         opts.Recorder,
		sink:             opts.Sink,
		clock:            opts.Clock,
		guidanceInterval: opts.GuidanceInterval,
		fetchTimeout:     opts.FetchTimeout,
		events:           make(chan any, eventBuffer),
		quit:             make(chan struct{}),
		runCtx:           context.Background(),
	}
}

// Run starts a session and processes events until ctx is cancelled.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.runCtx = ctx
	o.startSession()

	defer func() {
		o.stopGuidance()
		o.stopRecordingIfActive()
		close(o.quit)
		o.wg.Wait()
		log.Println("orchestrator: stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg := <-o.events:
			o.handle(msg)
		}
	}
}

// QRDetected feeds a decoded QR payload into the session.
func (o *Orchestrator) QRDetected(node string) {
	o.post(inputEvent{ev: calibration.QRDetected{Node: node}})
}

// ButtonPressed feeds an operator button press into the session.
func (o *Orchestrator) ButtonPressed(node string) {
	o.post(inputEvent{ev: calibration.ButtonPressed{Node: node}})
}

// Restart discards the current session and starts a new one.
func (o *Orchestrator) Restart() {
	o.post(restartReq{})
}

// Snapshot returns the latest published session state.
func (o *Orchestrator) Snapshot() Snapshot {
	o.snapMu.RLock()
	defer o.snapMu.RUnlock()
	return o.snap
}

// post delivers msg to the loop. It reports false once the loop has exited.
func (o *Orchestrator) post(msg any) bool {
	select {
	case o.events <- msg:
		return true
	case <-o.quit:
		return false
	}
}

// flush blocks until every message posted before it has been handled.
func (o *Orchestrator) flush() {
	done := make(chan struct{})
	if !o.post(flushReq{done: done}) {
		return
	}
	select {
	case <-done:
	case <-o.quit:
	}
}

func (o *Orchestrator) handle(msg any) {
	switch m := msg.(type) {
	case inputEvent:
		if node := eventNode(m.ev); len(o.nodes) > 0 && !o.nodes.Known(node) {
			log.Printf("orchestrator: unrecognized node %q in %s", node, m.ev)
			o.status(fmt.Sprintf("Unrecognized node %q.", node))
			break
		}
		o.dispatch(m.ev)
	case fetchDone:
		o.handleFetch(m)
	case guideTick:
		o.guideStep(m.gen)
	case restartReq:
		log.Printf("orchestrator: restarting session %s", o.sessionID)
		o.stopGuidance()
		o.stopRecordingIfActive()
		o.startSession()
	case flushReq:
		close(m.done)
		return
	default:
		log.Printf("orchestrator: unexpected message %T", msg)
	}
	o.publishSnapshot()
}

func eventNode(ev calibration.Event) string {
	switch e := ev.(type) {
	case calibration.QRDetected:
		return e.Node
	case calibration.ButtonPressed:
		return e.Node
	}
	return ""
}

func (o *Orchestrator) startSession() {
	o.sessionID = uuid.NewString()
	o.store = positions.NewStore()
	o.systemOrientation = 0
	o.lastSolution = nil
	o.lookupSeq++ // drop answers to lookups from an earlier session

	sensorReady := true
	if err := o.recorder.Enable(); err != nil {
		log.Printf("orchestrator: heading sensor: %v", err)
		sensorReady = false
	}

	res := calibration.Initial(sensorReady)
	o.cal = res.Context
	o.machine = calibration.NewMachine(res.Next, o.onPhaseChanged)
	log.Printf("orchestrator: session %s started in %s", o.sessionID, res.Next)
	// sinks read the session id from the snapshot
	o.publishSnapshot()
	o.sink.Phase(res.Next.String())
	o.apply(res.Effects)
	o.publishSnapshot()
}

func (o *Orchestrator) onPhaseChanged(p calibration.Phase) {
	log.Printf("orchestrator: transitioning to phase %s", p)
	o.sink.Phase(p.String())
}

// dispatch evaluates ev against the guard table and applies the result.
func (o *Orchestrator) dispatch(ev calibration.Event) {
	phase := o.machine.Current()
	res, err := calibration.Transition(phase, o.cal, ev)
	if err != nil {
		log.Printf("orchestrator: rejected: %v", err)
		if errors.Is(err, calibration.ErrSensorUnavailable) {
			o.status("Compass not available. Calibration cannot continue on this device.")
		} else {
			o.status(fmt.Sprintf("Invalid %s in phase %s.", ev, phase))
		}
		return
	}
	o.cal = res.Context
	o.machine.Set(res.Next)
	o.apply(res.Effects)
}

func (o *Orchestrator) apply(effects []calibration.Effect) {
	for _, eff := range effects {
		switch e := eff.(type) {
		case calibration.StartLookup:
			o.startLookup(e.Node)
		case calibration.RecordPosition:
			o.store.Record(e.Node, e.Position)
			log.Printf("orchestrator: position for %s: X=%g, Y=%g", e.Node, e.Position.X, e.Position.Y)
		case calibration.StartRecording:
			o.recorder.StartRecording()
			o.recording = true
		case calibration.StopRecording:
			o.recorder.StopRecording()
			o.recording = false
		case calibration.CaptureOrientation:
			o.systemOrientation = o.recorder.AverageHeading()
			o.status(fmt.Sprintf("Calibration complete. Average heading: %.1f°", o.systemOrientation))
		case calibration.StartGuidance:
			o.startGuidance(e.Current, e.Target)
		case calibration.StopGuidance:
			o.stopGuidance()
		case calibration.SetStatus:
			o.status(e.Text)
		case calibration.SetServerResponse:
			o.sink.ServerResponse(e.Text)
		case calibration.EnableNode:
			o.sink.NodeEnabled(e.Node, e.Enabled)
		case calibration.EnableAll:
			o.sink.AllNodesEnabled(e.Enabled)
		case calibration.ShowIndicator:
			o.sink.IndicatorVisible(e.Visible)
		default:
			log.Printf("orchestrator: unhandled effect %T", eff)
		}
	}
}

func (o *Orchestrator) stopRecordingIfActive() {
	if o.recording {
		o.recorder.StopRecording()
		o.recording = false
	}
}

func (o *Orchestrator) status(text string) {
	o.lastStatus = text
	o.sink.Status(text)
}

func (o *Orchestrator) publishSnapshot() {
	s := Snapshot{
		SessionID:         o.sessionID,
		Phase:             o.machine.Current().String(),
		Current:           o.cal.Current,
		Target:            o.cal.Target,
		Pending:           append([]string(nil), o.cal.Pending...),
		SensorReady:       o.cal.SensorReady,
		SystemOrientation: o.systemOrientation,
		Positions:         o.store.Snapshot(),
		Status:            o.lastStatus,
	}
	if o.lastSolution != nil {
		sol := *o.lastSolution
		s.Guidance = &sol
	}
	o.snapMu.Lock()
	o.snap = s
	o.snapMu.Unlock()
}

// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package calibration

import (
	"errors"
	"fmt"

	"github.com/relabs-tech/anchor_guide/internal/heading"
)

var (
	// ErrInvalidEvent is returned when an event does not match the active phase.
	ErrInvalidEvent = errors.New("invalid event for current phase")
	// ErrSensorUnavailable is returned when a heading-dependent step is
	// requested on a device without a usable compass. It is the recorder's
	// sentinel so one errors.Is check covers both packages.
	ErrSensorUnavailable = heading.ErrSensorUnavailable
)

// Context is the session data the guard table reads and updates besides the
// phase itself.
type Context struct {
	// Current is the node the operator stands at during guidance.
	Current string
	// Target is the node the operator wants to face.
	Target string
	// Pending holds the chained lookups still to complete, head first.
	Pending []string
	// SensorReady is false when the heading sensor could not be enabled.
	SensorReady bool
}

// Result is the outcome of an accepted event.
type Result struct {
	Next    Phase
	Effects []Effect
	Context Context
}

// Initial returns the effects that prepare a fresh session.
func Initial(sensorReady bool) Result {
	res := Result{
		Next:    WaitingQRAnchor1,
		Context: Context{SensorReady: sensorReady},
		Effects: []Effect{
			EnableAll{Enabled: false},
			ShowIndicator{Visible: false},
		},
	}
	if sensorReady {
		res.Effects = append(res.Effects, SetStatus{Text: "Starting calibration. Go to Anchor 1."})
	} else {
		res.Effects = append(res.Effects, SetStatus{Text: "Compass not available on this device. Calibration cannot continue."})
	}
	return res
}

// Transition applies the guard table. It never mutates its inputs. A
// rejected event returns an error wrapping ErrInvalidEvent (or
// ErrSensorUnavailable) and a zero Result.
func Transition(phase Phase, ctx Context, ev Event) (Result, error) {
	ctx.Pending = append([]string(nil), ctx.Pending...)

	switch e := ev.(type) {
	case QRDetected:
		switch {
		case e.Node == NodeAnchor1 && phase == WaitingQRAnchor1:
			return Result{
				Next:    WaitingButtonAnchor1,
				Context: ctx,
				Effects: []Effect{
					SetStatus{Text: "Anchor 1 QR detected. Please press the button."},
					EnableNode{Node: NodeAnchor1, Enabled: true},
				},
			}, nil
		case e.Node == NodeAnchor2 && phase == WaitingQRAnchor2:
			return Result{
				Next:    WaitingButtonAnchor2,
				Context: ctx,
				Effects: []Effect{
					SetStatus{Text: "Anchor 2 QR detected. Please press the button."},
					EnableNode{Node: NodeAnchor2, Enabled: true},
				},
			}, nil
		case e.Node != "" && e.Node == ctx.Target && phase == OrientationoftheUser:
			ctx.Current = e.Node
			return Result{
				Next:    WaitingSomeButton,
				Context: ctx,
				Effects: []Effect{
					StopGuidance{},
					ShowIndicator{Visible: false},
					EnableAll{Enabled: true},
					SetStatus{Text: fmt.Sprintf("Target %s reached. Please press any button.", e.Node)},
				},
			}, nil
		}

	case ButtonPressed:
		switch {
		case e.Node == NodeAnchor1 && phase == WaitingButtonAnchor1:
			if !ctx.SensorReady {
				return Result{}, fmt.Errorf("%s in %s: %w", ev, phase, ErrSensorUnavailable)
			}
			return Result{
				Next:    WaitingServerResponseAnchor1,
				Context: ctx,
				Effects: []Effect{
					SetStatus{Text: "Button for anchor1 pressed."},
					EnableNode{Node: NodeAnchor1, Enabled: false},
					StartLookup{Node: NodeAnchor1},
				},
			}, nil
		case e.Node == NodeAnchor2 && phase == WaitingButtonAnchor2:
			return Result{
				Next:    WaitingServerResponseAnchor2,
				Context: ctx,
				Effects: []Effect{
					SetStatus{Text: "Button for anchor2 pressed."},
					EnableNode{Node: NodeAnchor2, Enabled: false},
					StartLookup{Node: NodeAnchor2},
				},
			}, nil
		case e.Node != "" && phase == WaitingSomeButton:
			ctx.Target = e.Node
			return Result{
				Next:    OrientationoftheUser,
				Context: ctx,
				Effects: []Effect{
					SetStatus{Text: "Align yourself with the target using the compass."},
					ShowIndicator{Visible: true},
					StartGuidance{Current: ctx.Current, Target: ctx.Target},
				},
			}, nil
		}

	case PositionFetched:
		switch {
		case e.Node == NodeAnchor1 && phase == WaitingServerResponseAnchor1:
			return Result{
				Next:    WaitingQRAnchor2,
				Context: ctx,
				Effects: []Effect{
					RecordPosition{Node: e.Node, Position: e.Position},
					SetServerResponse{Text: describePosition(e)},
					SetStatus{Text: "Successful connection to Anchor 1. Go to Anchor 2."},
					StartRecording{},
				},
			}, nil
		case e.Node == NodeAnchor2 && phase == WaitingServerResponseAnchor2:
			ctx.Current = NodeAnchor2
			ctx.Pending = append([]string(nil), chainedLookups...)
			return Result{
				Next:    CalibrationComplete,
				Context: ctx,
				Effects: []Effect{
					RecordPosition{Node: e.Node, Position: e.Position},
					SetServerResponse{Text: describePosition(e)},
					StopRecording{},
					CaptureOrientation{},
					StartLookup{Node: ctx.Pending[0]},
				},
			}, nil
		case phase == CalibrationComplete && len(ctx.Pending) > 0 && e.Node == ctx.Pending[0]:
			ctx.Pending = ctx.Pending[1:]
			effects := []Effect{
				RecordPosition{Node: e.Node, Position: e.Position},
				SetServerResponse{Text: describePosition(e)},
			}
			if len(ctx.Pending) > 0 {
				return Result{
					Next:    CalibrationComplete,
					Context: ctx,
					Effects: append(effects, StartLookup{Node: ctx.Pending[0]}),
				}, nil
			}
			return Result{
				Next:    WaitingSomeButton,
				Context: ctx,
				Effects: append(effects,
					EnableAll{Enabled: true},
					SetStatus{Text: "Please press any button."},
				),
			}, nil
		}

	case PositionFailed:
		waiting := phase == WaitingServerResponseAnchor1 ||
			phase == WaitingServerResponseAnchor2 ||
			(phase == CalibrationComplete && len(ctx.Pending) > 0 && e.Node == ctx.Pending[0])
		if waiting {
			ctx.Pending = nil
			msg := "unknown error"
			if e.Err != nil {
				msg = e.Err.Error()
			}
			effects := []Effect{
				SetServerResponse{Text: "Error connecting to the server: " + msg},
				SetStatus{Text: "Error connecting to the server."},
			}
			if phase == WaitingServerResponseAnchor2 {
				effects = append(effects, StopRecording{})
			}
			return Result{Next: ErrorServer, Context: ctx, Effects: effects}, nil
		}
	}

	return Result{}, fmt.Errorf("%s in %s: %w", ev, phase, ErrInvalidEvent)
}

func describePosition(e PositionFetched) string {
	return fmt.Sprintf("%s: positionx=%g positiony=%g", e.Node, e.Position.X, e.Position.Y)
}

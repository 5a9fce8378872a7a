// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package ui defines the notifications the orchestrator sends to whatever
// is rendering the operator interface.
package ui

import "log"

// Sink receives operator-facing notifications. Implementations must not
// block for long; they are called from the orchestrator loop.
type Sink interface {
	Status(text string)
	ServerResponse(text string)
	Phase(phase string)
	NodeEnabled(node string, enabled bool)
	AllNodesEnabled(enabled bool)
	// IndicatorRotation is degrees, positive clockwise.
	IndicatorRotation(degrees float64)
	IndicatorVisible(visible bool)
}

// LogSink writes every notification to the standard logger.
type LogSink struct{}

func (LogSink) Status(text string)         { log.Printf("ui: status: %s", text) }
func (LogSink) ServerResponse(text string) { log.Printf("ui: server response: %s", text) }
func (LogSink) Phase(phase string)         { log.Printf("ui: current phase: %s", phase) }
func (LogSink) NodeEnabled(node string, enabled bool) {
	log.Printf("ui: button %s enabled=%t", node, enabled)
}
func (LogSink) AllNodesEnabled(enabled bool) { log.Printf("ui: all buttons enabled=%t", enabled) }
func (LogSink) IndicatorRotation(degrees float64) {
	log.Printf("ui: indicator rotation %.1f°", degrees)
}
func (LogSink) IndicatorVisible(visible bool) { log.Printf("ui: indicator visible=%t", visible) }

// Multi fans every notification out to several sinks in order.
type Multi []Sink

func (m Multi) Status(text string) {
	for _, s := range m {
		s.Status(text)
	}
}

func (m Multi) ServerResponse(text string) {
	for _, s := range m {
		s.ServerResponse(text)
	}
}

func (m Multi) Phase(phase string) {
	for _, s := range m {
		s.Phase(phase)
	}
}

func (m Multi) NodeEnabled(node string, enabled bool) {
	for _, s := range m {
		s.NodeEnabled(node, enabled)
	}
}

func (m Multi) AllNodesEnabled(enabled bool) {
	for _, s := range m {
		s.AllNodesEnabled(enabled)
	}
}

func (m Multi) IndicatorRotation(degrees float64) {
	for _, s := range m {
		s.IndicatorRotation(degrees)
	}
}

func (m Multi) IndicatorVisible(visible bool) {
	for _, s := range m {
		s.IndicatorVisible(visible)
	}
}

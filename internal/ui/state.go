// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package ui

import (
	"sync"

	"github.com/relabs-tech/anchor_guide/internal/calibration"
)

// State is the latest value of every notification, as a UI would show it.
type State struct {
	Phase            string          `json:"phase"`
	Status           string          `json:"status"`
	ServerResponse   string          `json:"server_response"`
	Nodes            map[string]bool `json:"nodes"`
	Rotation         float64         `json:"rotation"`
	IndicatorVisible bool            `json:"indicator_visible"`
	RotationUpdates  int             `json:"rotation_updates"`
}

// StateSink keeps the latest State. It is safe for concurrent use.
type StateSink struct {
	mu sync.RWMutex
	st State
}

func NewStateSink() *StateSink {
	s := &StateSink{}
	s.st.Nodes = make(map[string]bool, len(calibration.Nodes))
	for _, n := range calibration.Nodes {
		s.st.Nodes[n] = false
	}
	return s
}

// State returns a copy of the current state.
func (s *StateSink) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := s.st
	st.Nodes = make(map[string]bool, len(s.st.Nodes))
	for k, v := range s.st.Nodes {
		st.Nodes[k] = v
	}
	return st
}

func (s *StateSink) Status(text string) {
	s.mu.Lock()
	s.st.Status = text
	s.mu.Unlock()
}

func (s *StateSink) ServerResponse(text string) {
	s.mu.Lock()
	s.st.ServerResponse = text
	s.mu.Unlock()
}

func (s *StateSink) Phase(phase string) {
	s.mu.Lock()
	s.st.Phase = phase
	s.mu.Unlock()
}

func (s *StateSink) NodeEnabled(node string, enabled bool) {
	s.mu.Lock()
	if s.st.Nodes == nil {
		s.st.Nodes = make(map[string]bool)
	}
	s.st.Nodes[node] = enabled
	s.mu.Unlock()
}

func (s *StateSink) AllNodesEnabled(enabled bool) {
	s.mu.Lock()
	if s.st.Nodes == nil {
		s.st.Nodes = make(map[string]bool)
	}
	for _, n := range calibration.Nodes {
		s.st.Nodes[n] = enabled
	}
	s.mu.Unlock()
}

func (s *StateSink) IndicatorRotation(degrees float64) {
	s.mu.Lock()
	s.st.Rotation = degrees
	s.st.RotationUpdates++
	s.mu.Unlock()
}

func (s *StateSink) IndicatorVisible(visible bool) {
	s.mu.Lock()
	s.st.IndicatorVisible = visible
	s.mu.Unlock()
}

// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package positions

import (
	"context"
	"errors"
	"sort"
	"sync"
)

var (
	// ErrMalformedResponse is returned when a lookup succeeds at the
	// transport level but the body is not a coordinate pair.
	ErrMalformedResponse = errors.New("malformed position response")
	// ErrUnknownNode is returned when a node has no MAC address configured.
	ErrUnknownNode = errors.New("unknown node")
)

// Position is a calibrated planar coordinate of a node.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Fetcher looks up the position of a device by its hardware address.
type Fetcher interface {
	FetchPosition(ctx context.Context, mac string) (Position, error)
}

// Store maps node identifiers to calibrated positions. Writes come from a
// single owner; the mutex only guards snapshot reads from other goroutines.
type Store struct {
	mu    sync.RWMutex
	nodes map[string]Position
	order []string
}

func NewStore() *Store {
	return &Store{nodes: make(map[string]Position)}
}

// Record stores pos under node, replacing any earlier value.
func (s *Store) Record(node string, pos Position) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nodes[node] = pos
	s.order = append(s.order, node)
}

// Position returns the stored position of node, if any.
func (s *Store) Position(node string) (Position, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.nodes[node]
	return p, ok
}

// WriteOrder returns node identifiers in the order they were recorded,
// including repeated writes.
func (s *Store) WriteOrder() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.order...)
}

// Snapshot returns a copy of all stored positions.
func (s *Store) Snapshot() map[string]Position {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]Position, len(s.nodes))
	for k, v := range s.nodes {
		out[k] = v
	}
	return out
}

// Directory maps node identifiers to device MAC addresses.
type Directory map[string]string

// MAC returns the address configured for node.
func (d Directory) MAC(node string) (string, bool) {
	mac, ok := d[node]
	return mac, ok && mac != ""
}

// Known reports whether node has an address configured.
func (d Directory) Known(node string) bool {
	_, ok := d.MAC(node)
	return ok
}

// Nodes returns the configured node identifiers sorted by name.
func (d Directory) Nodes() []string {
	out := make([]string, 0, len(d))
	for k := range d {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

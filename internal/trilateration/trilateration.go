// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package trilateration locates a tag in the plane from its distances to
// anchors of known position.
package trilateration

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

var (
	// ErrTooFewAnchors is returned when fewer than three ranges are given.
	ErrTooFewAnchors = errors.New("trilateration needs at least three anchors")
	// ErrDegenerate is returned when the anchors are collinear or coincide.
	ErrDegenerate = errors.New("anchor geometry is degenerate")
)

// Range is the measured distance from the tag to one anchor, all in metres.
type Range struct {
	X, Y     float64
	Distance float64
}

// Point is a solved tag position.
type Point struct {
	X, Y float64
}

// Solve linearises the circle equations against the first range and solves
// the resulting system. Three ranges give an exact 2x2 solve; more are
// combined in a least squares fit.
func Solve(ranges []Range) (Point, error) {
	if len(ranges) < 3 {
		return Point{}, ErrTooFewAnchors
	}
	for _, r := range ranges {
		if math.IsNaN(r.Distance) || math.IsInf(r.Distance, 0) || r.Distance < 0 {
			return Point{}, fmt.Errorf("invalid distance %g", r.Distance)
		}
	}

	r1 := ranges[0]
	rows := len(ranges) - 1
	a := mat.NewDense(rows, 2, nil)
	b := mat.NewVecDense(rows, nil)
	for i, ri := range ranges[1:] {
		a.Set(i, 0, -2*(r1.X-ri.X))
		a.Set(i, 1, -2*(r1.Y-ri.Y))
		b.SetVec(i, sq(r1.Distance)-sq(ri.Distance)-sq(r1.X)+sq(ri.X)-sq(r1.Y)+sq(ri.Y))
	}

	var x mat.VecDense
	if err := x.SolveVec(a, b); err != nil {
		var cond mat.Condition
		if errors.As(err, &cond) {
			return Point{}, fmt.Errorf("%w: %v", ErrDegenerate, err)
		}
		return Point{}, err
	}
	return Point{X: x.AtVec(0), Y: x.AtVec(1)}, nil
}

// Round2 rounds to centimetres, the precision positions are stored with.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func sq(v float64) float64 { return v * v }

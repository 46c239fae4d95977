// Package coordsys implements the quantisation between global (f64) point
// coordinates and the fixed-width integer local coordinates the index is
// built over.
package coordsys

import (
	"math"

	"github.com/lidarserv/lidarserv/internal/errs"
)

// Local is a point's position in fixed-width integer local coordinates.
type Local struct {
	X, Y, Z int32
}

// Global is a point's position in double-precision global coordinates.
type Global struct {
	X, Y, Z float64
}

// System holds the scale+offset parameters of a coordinate system. Global
// to local mapping is local_i = round((global_i - offset_i) / scale_i).
type System struct {
	Scale  [3]float64
	Offset [3]float64
}

// New builds a System, matching the wire protocol's
// PointCloudInfo.coordinate_system.I32CoordinateSystem layout.
func New(scale, offset [3]float64) System {
	return System{Scale: scale, Offset: offset}
}

// Quantise converts a global position to local coordinates, returning
// errs.ErrOutOfRange (tagged errs.KindOutOfRange) if any axis would
// saturate past the 32-bit signed range. Rounding is round-half-away-from-zero.
func (s System) Quantise(g Global) (Local, error) {
	lx, okx := quantiseAxis(g.X, s.Offset[0], s.Scale[0])
	ly, oky := quantiseAxis(g.Y, s.Offset[1], s.Scale[1])
	lz, okz := quantiseAxis(g.Z, s.Offset[2], s.Scale[2])
	if !okx || !oky || !okz {
		return Local{}, errs.Wrap(errs.KindOutOfRange, errs.ErrOutOfRange)
	}
	return Local{X: lx, Y: ly, Z: lz}, nil
}

func quantiseAxis(global, offset, scale float64) (int32, bool) {
	v := roundHalfAwayFromZero((global - offset) / scale)
	if v > float64(math.MaxInt32) || v < float64(math.MinInt32) {
		return 0, false
	}
	return int32(v), true
}

func roundHalfAwayFromZero(v float64) float64 {
	if v >= 0 {
		return math.Floor(v + 0.5)
	}
	return math.Ceil(v - 0.5)
}

// Dequantise converts local coordinates back to global coordinates. This is
// exact on the grid: Quantise(Dequantise(l)) == l for every l.
func (s System) Dequantise(l Local) Global {
	return Global{
		X: float64(l.X)*s.Scale[0] + s.Offset[0],
		Y: float64(l.Y)*s.Scale[1] + s.Offset[1],
		Z: float64(l.Z)*s.Scale[2] + s.Offset[2],
	}
}

// Contains reports whether local lies within region [min, max) on every axis.
func Contains(min, max, local Local) bool {
	return local.X >= min.X && local.X < max.X &&
		local.Y >= min.Y && local.Y < max.Y &&
		local.Z >= min.Z && local.Z < max.Z
}

// MaxHalfScale returns the largest of the three half-scale values, the
// bound within which quantise-then-dequantise round trips (spec §8
// invariant 4).
func (s System) MaxHalfScale() float64 {
	m := s.Scale[0]
	if s.Scale[1] > m {
		m = s.Scale[1]
	}
	if s.Scale[2] > m {
		m = s.Scale[2]
	}
	return m / 2
}

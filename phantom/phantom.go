// Package phantom generates synthetic test objects for reconstruction.
package phantom

import (
	"math"

	"github.com/caden-cardell/mbirjax/gonumExtensions"
	"github.com/caden-cardell/mbirjax/volume"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Ellipsoid describes one component of a Shepp-Logan phantom on the
// [-1, 1]^3 cube.
type Ellipsoid struct {
	// Centre
	X0, Y0, Z0 float64
	// Semi-axes along x, y, z
	A, B, C float64
	// Rotation in the xy plane, in degrees
	Angle float64
	// Value added inside the ellipsoid
	Intensity float64
}

// referenceEllipsoids is the 3D Shepp-Logan phantom of Kak and Slaney,
// Principles of Computerized Tomographic Imaging, p. 102.
var referenceEllipsoids = []Ellipsoid{
	{0, 0, 0, 0.69, 0.92, 0.9, 0, 2.0},
	{0, 0, 0, 0.6624, 0.874, 0.88, 0, -0.98},
	{-0.22, 0, -0.25, 0.41, 0.16, 0.21, 108, -0.02},
	{0.22, 0, -0.25, 0.31, 0.11, 0.22, 72, -0.02},
	{0, 0.35, -0.25, 0.21, 0.25, 0.5, 0, 0.02},
	{0, 0.1, -0.25, 0.046, 0.046, 0.046, 0, 0.02},
	{-0.08, -0.65, -0.25, 0.046, 0.023, 0.02, 0, 0.01},
	{0.06, -0.65, -0.25, 0.046, 0.023, 0.02, 90, 0.01},
	{0.06, -0.105, 0.625, 0.056, 0.04, 0.1, 90, 0.02},
	{0, 0.1, 0.625, 0.056, 0.056, 0.1, 0, -0.02},
}

// lowDynamicRangeEllipsoids keeps all structures within [0, 1].
var lowDynamicRangeEllipsoids = []Ellipsoid{
	{0, 0, 0, 0.69, 0.92, 0.9, 0, 1},
	{0, 0.0184, 0, 0.6624, 0.874, 0.88, 0, -0.8},
	{0.22, 0, 0, 0.41, 0.16, 0.21, 108, -0.2},
	{-0.22, 0, 0, 0.31, 0.11, 0.22, 72, -0.2},
	{0, 0.35, 0, 0.21, 0.25, 0.5, 0, 0.1},
	{0, 0.1, 0, 0.046, 0.046, 0.046, 0, 0.1},
	{0, -0.1, 0, 0.046, 0.046, 0.046, 0, 0.1},
	{-0.08, -0.605, 0, 0.046, 0.023, 0.02, 0, 0.1},
	{0, -0.605, 0, 0.023, 0.023, 0.02, 0, 0.1},
}

// linspace returns n evenly spaced points from start to stop inclusive.
func linspace(start, stop float64, n int) []float64 {
	if n == 1 {
		return []float64{start}
	}
	return floats.Span(make([]float64, n), start, stop)
}

// Cube returns a block of value 1/max(h, w) of size rows/4 x cols/4 that
// drifts along the columns as the slice index grows.
func Cube(rows, cols, slices int) *volume.Volume {
	v := volume.New(rows, cols, slices)
	phantomRows, phantomCols := rows/4, cols/4
	value := 1. / float64(max(phantomRows, phantomCols, 1))

	startRows, stopRows := (rows-phantomRows)/2, (rows+phantomRows)/2
	startCols, stopCols := (cols-phantomCols)/2, (cols+phantomCols)/2
	for k := 0; k < slices; k++ {
		shift := k * phantomCols / slices
		for row := startRows; row < stopRows; row++ {
			for col := shift + startCols; col < shift+stopCols && col < cols; col++ {
				v.Set(row, col, k, value)
			}
		}
	}
	return v
}

// SheppLoganReference returns the 10 ellipsoid 3D Shepp-Logan phantom.
// The first axis runs along x and the second along y.
func SheppLoganReference(rows, cols, slices int) *volume.Volume {
	v := volume.New(rows, cols, slices)
	axisX := linspace(-1, 1, rows)
	axisY := linspace(1, -1, cols)
	axisZ := linspace(-1, 1, slices)

	for _, e := range referenceEllipsoids {
		r := gonumExtensions.Rotation(0, 0, -e.Angle*math.Pi/180)
		var cor, rotated mat.VecDense
		cor.ReuseAsVec(3)
		for row, x := range axisX {
			for col, y := range axisY {
				for k, z := range axisZ {
					cor.SetVec(0, x-e.X0)
					cor.SetVec(1, y-e.Y0)
					cor.SetVec(2, z-e.Z0)
					// rotated = R cor
					rotated.MulVec(r, &cor)
					u, w, s := rotated.AtVec(0)/e.A, rotated.AtVec(1)/e.B, rotated.AtVec(2)/e.C
					if u*u+w*w+s*s <= 1 {
						v.Data[(row*cols+col)*slices+k] += e.Intensity
					}
				}
			}
		}
	}
	return v
}

// AddEllipsoid adds e to v, where the axes of v span [-1, 1] in x (rows),
// y (cols) and z (slices).
func AddEllipsoid(v *volume.Volume, e Ellipsoid) {
	axisX := linspace(-1, 1, v.Rows)
	axisY := linspace(-1, 1, v.Cols)
	axisZ := linspace(-1, 1, v.Slices)
	cosine := math.Cos(e.Angle * math.Pi / 180)
	sine := math.Sin(e.Angle * math.Pi / 180)

	for row, x := range axisX {
		for col, y := range axisY {
			xr := cosine*(x-e.X0) + sine*(y-e.Y0)
			yr := -sine*(x-e.X0) + cosine*(y-e.Y0)
			xyNorm := xr*xr/(e.A*e.A) + yr*yr/(e.B*e.B)
			if xyNorm > 1 {
				continue
			}
			cyl := v.Cylinder(row*v.Cols + col)
			for k, z := range axisZ {
				if xyNorm+(z-e.Z0)*(z-e.Z0)/(e.C*e.C) <= 1 {
					cyl[k] += e.Intensity
				}
			}
		}
	}
}

// SheppLoganLowDynamicRange returns the modified 3D Shepp-Logan phantom
// whose values lie in [0, 1].
func SheppLoganLowDynamicRange(rows, cols, slices int) *volume.Volume {
	v := volume.New(rows, cols, slices)
	for _, e := range lowDynamicRangeEllipsoids {
		AddEllipsoid(v, e)
	}
	return v
}

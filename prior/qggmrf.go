package prior

import (
	"math"

	"github.com/caden-cardell/mbirjax/volume"
	"gonum.org/v1/gonum/mat"
)

// QGGMRF is the q-generalized Gaussian Markov random field on the six
// nearest neighbours of every voxel, with potential
//
// rho(d) = |d|^p / (p sigma^p) * r / (1 + r),  r = |d / (T sigma)|^(q-p)
//
// which behaves like |d|^p near zero and like |d|^q for large differences.
type QGGMRF struct {
	P     float64
	Q     float64
	T     float64
	Sigma float64
	// Neighbour weights along rows, columns and slices
	B [3]float64
}

// NewQGGMRF returns a QGGMRF prior with equal weights on all six neighbours.
func NewQGGMRF(p, q, t, sigma float64) *QGGMRF {
	return &QGGMRF{p, q, t, sigma, [3]float64{1. / 6., 1. / 6., 1. / 6.}}
}

// Rho returns the potential at difference d.
func (pr *QGGMRF) Rho(d float64) float64 {
	u := math.Abs(d)
	if u == 0 {
		return 0
	}
	r := math.Pow(u/(pr.T*pr.Sigma), pr.Q-pr.P)
	return math.Pow(u, pr.P) / (pr.P * math.Pow(pr.Sigma, pr.P)) * r / (1 + r)
}

// RhoTilde returns rho'(d) / (2 d), the coefficient of the quadratic
// surrogate of rho at d.
func (pr *QGGMRF) RhoTilde(d float64) float64 {
	// Below this the limit value is used
	floor := 1e-12 * pr.T * pr.Sigma
	u := math.Max(math.Abs(d), floor)
	ratio := u / (pr.T * pr.Sigma)
	var shape float64
	if pr.Q == pr.P {
		// r = 1
		shape = (pr.Q/pr.P + 1) / 4
	} else {
		// r (q/p + r) / (1 + r)^2 written with s = 1/r to stay finite as r grows
		s := math.Pow(ratio, pr.P-pr.Q)
		shape = (pr.Q/pr.P*s + 1) / ((s + 1) * (s + 1))
	}
	return math.Pow(u, pr.P-2) / (2 * math.Pow(pr.Sigma, pr.P)) * shape
}

// neighbour offsets (row, col, slice) and the direction of their weight
var offsets = [6][4]int{
	{-1, 0, 0, 0},
	{1, 0, 0, 0},
	{0, -1, 0, 1},
	{0, 1, 0, 1},
	{0, 0, -1, 2},
	{0, 0, 1, 2},
}

// forNeighbours calls fn with the pixel, slice and weight of every
// neighbour of voxel (p, k) that lies inside x.
func (pr *QGGMRF) forNeighbours(x *volume.Volume, p, k int, fn func(q, l int, b float64)) {
	row, col := p/x.Cols, p%x.Cols
	for _, o := range offsets {
		nr, nc, nk := row+o[0], col+o[1], k+o[2]
		if nr < 0 || nr >= x.Rows || nc < 0 || nc >= x.Cols || nk < 0 || nk >= x.Slices {
			continue
		}
		fn(nr*x.Cols+nc, nk, pr.B[o[3]])
	}
}

// Loss sums the potential over every unordered neighbour pair.
func (pr *QGGMRF) Loss(x *volume.Volume) float64 {
	var loss float64
	for p := 0; p < x.NumPixels(); p++ {
		row, col := p/x.Cols, p%x.Cols
		cyl := x.Cylinder(p)
		for k, value := range cyl {
			if row+1 < x.Rows {
				loss += pr.B[0] * pr.Rho(value-x.Data[(p+x.Cols)*x.Slices+k])
			}
			if col+1 < x.Cols {
				loss += pr.B[1] * pr.Rho(value-x.Data[(p+1)*x.Slices+k])
			}
			if k+1 < x.Slices {
				loss += pr.B[2] * pr.Rho(value-cyl[k+1])
			}
		}
	}
	return loss
}

// GradientAndHessian returns sum_r 2 b rhoTilde(d) d and sum_r 2 b rhoTilde(d)
// for every voxel of pixels, with d the difference to neighbour r.
func (pr *QGGMRF) GradientAndHessian(x *volume.Volume, pixels []int) (*mat.Dense, *mat.Dense) {
	gradient := mat.NewDense(len(pixels), x.Slices, nil)
	hessian := mat.NewDense(len(pixels), x.Slices, nil)
	for i, p := range pixels {
		g, h := gradient.RawRowView(i), hessian.RawRowView(i)
		cyl := x.Cylinder(p)
		for k, value := range cyl {
			pr.forNeighbours(x, p, k, func(q, l int, b float64) {
				d := value - x.Data[q*x.Slices+l]
				c := 2 * b * pr.RhoTilde(d)
				g[k] += c * d
				h[k] += c
			})
		}
	}
	return gradient, hessian
}

// LineSearchTerms sums over every neighbour pair with at least one voxel in
// pixels. Pairs inside the batch are visited from the lower voxel index only.
func (pr *QGGMRF) LineSearchTerms(x *volume.Volume, pixels []int, delta *mat.Dense) (float64, float64) {
	row := make(map[int]int, len(pixels))
	for i, p := range pixels {
		row[p] = i
	}
	var linear, quadratic float64
	for i, p := range pixels {
		cyl := x.Cylinder(p)
		step := delta.RawRowView(i)
		for k, value := range cyl {
			s := p*x.Slices + k
			pr.forNeighbours(x, p, k, func(q, l int, b float64) {
				r := q*x.Slices + l
				var stepR float64
				if j, ok := row[q]; ok {
					if r < s {
						return
					}
					stepR = delta.At(j, l)
				}
				d := value - x.Data[r]
				dd := step[k] - stepR
				c := 2 * b * pr.RhoTilde(d)
				linear += c * d * dd
				quadratic += c * dd * dd
			})
		}
	}
	return linear, quadratic
}

package prior

import (
	"github.com/caden-cardell/mbirjax/volume"
	"gonum.org/v1/gonum/mat"
)

// ProxMap is the quadratic proximal term |x - Target|^2 / (2 Sigma^2) used
// when the reconstruction acts as the proximal map of a plug and play loop.
type ProxMap struct {
	Sigma  float64
	Target *volume.Volume
}

func (pr *ProxMap) Loss(x *volume.Volume) float64 {
	var loss float64
	for i, value := range x.Data {
		d := value - pr.Target.Data[i]
		loss += d * d
	}
	return loss / (2 * pr.Sigma * pr.Sigma)
}

func (pr *ProxMap) GradientAndHessian(x *volume.Volume, pixels []int) (*mat.Dense, *mat.Dense) {
	gradient := mat.NewDense(len(pixels), x.Slices, nil)
	hessian := mat.NewDense(len(pixels), x.Slices, nil)
	c := 1 / (pr.Sigma * pr.Sigma)
	for i, p := range pixels {
		g, h := gradient.RawRowView(i), hessian.RawRowView(i)
		target := pr.Target.Cylinder(p)
		for k, value := range x.Cylinder(p) {
			g[k] = c * (value - target[k])
			h[k] = c
		}
	}
	return gradient, hessian
}

func (pr *ProxMap) LineSearchTerms(x *volume.Volume, pixels []int, delta *mat.Dense) (float64, float64) {
	var linear, quadratic float64
	for i, p := range pixels {
		target := pr.Target.Cylinder(p)
		step := delta.RawRowView(i)
		for k, value := range x.Cylinder(p) {
			linear += (value - target[k]) * step[k]
			quadratic += step[k] * step[k]
		}
	}
	c := 1 / (pr.Sigma * pr.Sigma)
	return c * linear, c * quadratic
}

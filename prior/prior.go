// Package prior implements the regularization terms of the MBIR cost
// function together with the quadratic surrogates that vectorized
// coordinate descent needs to update a subset of pixels at once.
package prior

import (
	"github.com/caden-cardell/mbirjax/volume"
	"gonum.org/v1/gonum/mat"
)

// Prior is a regularizer on the reconstruction.
type Prior interface {
	// Loss returns the prior cost of x
	Loss(x *volume.Volume) float64
	// GradientAndHessian returns the gradient and the diagonal of a
	// majorizing Hessian at the voxel cylinders of pixels, both
	// (len(pixels) by slices).
	GradientAndHessian(x *volume.Volume, pixels []int) (gradient, hessian *mat.Dense)
	// LineSearchTerms returns the first and second derivative at alpha = 0
	// of the surrogate of alpha -> Loss(x + alpha delta), where delta
	// holds the step of the voxel cylinders at pixels.
	LineSearchTerms(x *volume.Volume, pixels []int, delta *mat.Dense) (linear, quadratic float64)
}

// Package reconstruct solves the MBIR problem
//
// x* = argmin_x  |y - Ax|^2_Lambda / (2 sigma_y^2) + prior(x)
//
// by vectorized coordinate descent over pixel partitions.
package reconstruct

import (
	"context"

	"github.com/caden-cardell/mbirjax/params"
	"github.com/caden-cardell/mbirjax/projector"
	"github.com/caden-cardell/mbirjax/prior"
	"github.com/caden-cardell/mbirjax/volume"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

type Reconstruction interface {
	// Runs the reconstruction and returns the result with its statistics
	Reconstruct(ctx context.Context) (*volume.Volume, *Info, error)
}

// Model is a projector that can also provide the diagonal of A^T W A.
type Model interface {
	projector.Projector
	HessianDiagonal(ctx context.Context, weights *projector.Sinogram) (*volume.Volume, error)
}

// Info describes a finished reconstruction. The slices hold one entry per
// completed iteration.
type Info struct {
	RunID         uuid.UUID
	NumIterations int
	Converged     bool
	SigmaY        float64
	SigmaX        float64
	FMRMSE        []float64
	// Empty unless the prior loss was requested
	PriorLoss   []float64
	Alpha       []float64
	PctChange   []float64
	Granularity []int
	Params      params.Params
}

// Option configures a VCD solver.
type Option func(*VCD)

// WithWeights sets the sinogram weights Lambda. The default is all ones.
func WithWeights(weights *projector.Sinogram) Option {
	return func(v *VCD) { v.weights = weights }
}

// WithInitialRecon sets the starting point. The default is zero.
func WithInitialRecon(init *volume.Volume) Option {
	return func(v *VCD) { v.init = init }
}

// WithPrior replaces the qGGMRF prior built from the parameters.
func WithPrior(pr prior.Prior) Option {
	return func(v *VCD) { v.prior = pr }
}

// WithPriorLoss makes every iteration evaluate the prior loss.
func WithPriorLoss() Option {
	return func(v *VCD) { v.priorLoss = true }
}

// WithLogger sends the progress reports to logger instead of the standard
// logrus logger.
func WithLogger(logger *log.Logger) Option {
	return func(v *VCD) { v.logger = logger }
}
